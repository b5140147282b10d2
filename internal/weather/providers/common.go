// Package providers implements the remote data source clients: a
// long-history point archive, a short-range hourly forecast, and a batch
// multi-location forecast. Each client is cache-first and recovers transport
// failures as an empty series plus a warning.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/agroclim/matopiba-eto/internal/eto"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// maxResponseBytes caps upstream payloads; a batch of several hundred
// locations stays well below this.
const maxResponseBytes = 32 << 20

// fetchWithResilience executes the HTTP request with retries, exponential
// backoff, and a circuit breaker, returning the response body on success.
func fetchWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				return nil, errServerError
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}

			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			if readErr != nil {
				return nil, readErr
			}
			return body, nil
		})

		if err == nil {
			body, ok := result.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return body, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

// newBreaker builds the per-provider circuit breaker with the settings shared
// by every client.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// defaultHTTPConfig wraps the shared http.Client with the standard backoff.
func defaultHTTPConfig(client *http.Client) HTTPClientConfig {
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

// radiationQualityWarning returns a warning when the mean solar radiation of
// a series is implausibly low against the clear-sky extraterrestrial
// radiation for its latitude and dates. The data is kept; preprocessing
// applies the hard physical bounds.
func radiationQualityWarning(name string, s *weather.Series, loc weather.Location) string {
	col := s.Column(weather.VarRadiation)
	if col == nil || s.Len() == 0 {
		return ""
	}

	var sumRs, sumRa float64
	n := 0
	for i, t := range s.Times {
		if math.IsNaN(col[i]) {
			continue
		}
		sumRs += col[i]
		if s.Resolution == weather.ResolutionHourly {
			sumRa += eto.RaHourly(loc.Latitude, loc.Longitude, t)
		} else {
			sumRa += eto.RaDaily(loc.Latitude, t)
		}
		n++
	}
	if n == 0 || sumRa == 0 {
		return ""
	}
	if sumRs/sumRa < 0.1 {
		return fmt.Sprintf("%s: mean solar radiation is below 10%% of extraterrestrial radiation, data may be degraded", name)
	}
	return ""
}
