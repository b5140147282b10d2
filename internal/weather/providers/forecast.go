package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/observability"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

const (
	forecastTTL = 6 * time.Hour

	// Provider limits: the forecast endpoint only accepts relative windows.
	maxPastDays     = 92
	maxForecastDays = 16
)

// hourlyFields maps the provider's hourly variable names onto canonical
// variables, in request order.
var hourlyFields = []struct {
	name string
	v    weather.Variable
}{
	{"temperature_2m", weather.VarTMean},
	{"relative_humidity_2m", weather.VarRH},
	{"dew_point_2m", weather.VarDewPoint},
	{"wind_speed_10m", weather.VarWind2m},
	{"shortwave_radiation", weather.VarRadiation},
	{"precipitation", weather.VarPrecip},
}

// ForecastClient fetches short-range hourly forecasts for a single point
// (Open-Meteo style API). The upstream supports only relative day windows, so
// absolute ranges are translated to past_days/forecast_days and clamped
// silently with a warning.
type ForecastClient struct {
	clientBase

	// now is injectable for window-translation tests.
	now func() time.Time
}

// NewForecastClient creates the short-range forecast client.
func NewForecastClient(client *http.Client, c cache.Cache, m *observability.Metrics) *ForecastClient {
	return &ForecastClient{
		clientBase: clientBase{
			name:    "openmeteo-forecast",
			baseURL: "https://api.open-meteo.com/v1/forecast",
			res:     weather.ResolutionHourly,
			ttl:     forecastTTL,
			cache:   c,
			metrics: m,
			httpCfg: defaultHTTPConfig(client),
			circuit: newBreaker("openmeteo-forecast"),
		},
		now: time.Now,
	}
}

// SetBaseURL overrides the upstream endpoint, for tests against mock servers.
func (p *ForecastClient) SetBaseURL(u string) {
	p.baseURL = u
}

// GetWeather returns the normalized hourly series for one location,
// cache-first.
func (p *ForecastClient) GetWeather(ctx context.Context, loc weather.Location, rng weather.DateRange) (*weather.Series, []string, error) {
	if rng == (weather.DateRange{}) {
		return nil, nil, fmt.Errorf("forecast: empty date range")
	}

	if s, ok := p.cached(ctx, loc, rng); ok {
		return s, nil, nil
	}

	pastDays, forecastDays, warnings := p.translateWindow(rng)

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
		values.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
		names := make([]string, len(hourlyFields))
		for i, f := range hourlyFields {
			names[i] = f.name
		}
		values.Set("hourly", strings.Join(names, ","))
		values.Set("windspeed_unit", "ms")
		values.Set("timezone", "UTC")
		values.Set("past_days", strconv.Itoa(pastDays))
		values.Set("forecast_days", strconv.Itoa(forecastDays))
		return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	body, err := fetchWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		p.countFetch("error")
		return p.emptySeries(), append(warnings, fmt.Sprintf("%s: fetch failed: %v", p.name, err)), nil
	}

	s, w := p.normalize(body, rng)
	warnings = append(warnings, w...)
	if s.Len() == 0 {
		p.countFetch("empty")
		return s, warnings, nil
	}
	p.countFetch("success")

	if qw := radiationQualityWarning(p.name, s, loc); qw != "" {
		warnings = append(warnings, qw)
	}

	p.store(ctx, loc, rng, s)
	return s, warnings, nil
}

// translateWindow maps an absolute date range onto the provider's relative
// past_days/forecast_days parameters, clamping to the supported maxima.
func (p *ForecastClient) translateWindow(rng weather.DateRange) (pastDays, forecastDays int, warnings []string) {
	today := p.now().UTC().Truncate(24 * time.Hour)

	if rng.Start.Before(today) {
		pastDays = int(today.Sub(rng.Start).Hours() / 24)
		if pastDays > maxPastDays {
			warnings = append(warnings, fmt.Sprintf("%s: requested %d past days, clamped to provider maximum of %d", p.name, pastDays, maxPastDays))
			pastDays = maxPastDays
		}
	}
	if !rng.End.Before(today) {
		forecastDays = int(rng.End.Sub(today).Hours()/24) + 1
		if forecastDays > maxForecastDays {
			warnings = append(warnings, fmt.Sprintf("%s: requested %d forecast days, clamped to provider maximum of %d", p.name, forecastDays, maxForecastDays))
			forecastDays = maxForecastDays
		}
	}
	return pastDays, forecastDays, warnings
}

// normalize parses the hourly block, converts units (wind 10 m → 2 m via the
// log profile, radiation W/m² → MJ/m²/h), and slices the result to the
// requested range. Nulls and missing variable arrays become NaN.
func (p *ForecastClient) normalize(body []byte, rng weather.DateRange) (*weather.Series, []string) {
	var payload struct {
		Hourly map[string]json.RawMessage `json:"hourly"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Hourly == nil {
		return p.emptySeries(), []string{fmt.Sprintf("%s: structurally invalid response body", p.name)}
	}

	var rawTimes []string
	if err := json.Unmarshal(payload.Hourly["time"], &rawTimes); err != nil || len(rawTimes) == 0 {
		return p.emptySeries(), []string{fmt.Sprintf("%s: response has no hourly time index", p.name)}
	}

	endExclusive := rng.End.AddDate(0, 0, 1)
	var times []time.Time
	keep := make([]int, 0, len(rawTimes))
	for i, raw := range rawTimes {
		t, err := time.Parse("2006-01-02T15:04", raw)
		if err != nil {
			continue
		}
		t = t.UTC()
		if t.Before(rng.Start) || !t.Before(endExclusive) {
			continue
		}
		times = append(times, t)
		keep = append(keep, i)
	}

	s := weather.NewSeries(weather.ResolutionHourly, times)
	s.Sources = []string{p.name}

	var warnings []string
	for _, f := range hourlyFields {
		col := make([]float64, len(times))

		raw, ok := payload.Hourly[f.name]
		var vals []*float64
		if ok {
			if err := json.Unmarshal(raw, &vals); err != nil {
				ok = false
			}
		}
		if !ok {
			for i := range col {
				col[i] = math.NaN()
			}
			warnings = append(warnings, fmt.Sprintf("%s: variable %s missing from response, column filled with NaN", p.name, f.name))
			s.Values[f.v] = col
			continue
		}

		for i, src := range keep {
			if src >= len(vals) || vals[src] == nil {
				col[i] = math.NaN()
				continue
			}
			x := *vals[src]
			switch f.v {
			case weather.VarWind2m:
				x = weather.WindLogProfileTo2m(x, 10)
			case weather.VarRadiation:
				x = weather.WattsToMegajoulesHourly(x)
			}
			col[i] = x
		}
		s.Values[f.v] = col
	}

	return s, warnings
}
