package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/observability"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

const batchTTL = 24 * time.Hour

// dailyFields maps the provider's daily variable names onto canonical
// variables, in request order. The provider computes its own FAO reference
// ETo, which downstream validation uses as the independent reference.
var dailyFields = []struct {
	name string
	v    weather.Variable
}{
	{"temperature_2m_max", weather.VarTMax},
	{"temperature_2m_min", weather.VarTMin},
	{"temperature_2m_mean", weather.VarTMean},
	{"relative_humidity_2m_mean", weather.VarRH},
	{"wind_speed_10m_mean", weather.VarWind2m},
	{"shortwave_radiation_sum", weather.VarRadiation},
	{"precipitation_sum", weather.VarPrecip},
	{"et0_fao_evapotranspiration", weather.VarRefETo},
}

// BatchForecastClient fetches daily forecasts for many locations in a single
// upstream call by comma-joining coordinates.
type BatchForecastClient struct {
	clientBase
}

// NewBatchForecastClient creates the batch multi-location forecast client.
func NewBatchForecastClient(client *http.Client, c cache.Cache, m *observability.Metrics) *BatchForecastClient {
	return &BatchForecastClient{clientBase{
		name:    "openmeteo-batch",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		res:     weather.ResolutionDaily,
		ttl:     batchTTL,
		cache:   c,
		metrics: m,
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("openmeteo-batch"),
	}}
}

// SetBaseURL overrides the upstream endpoint, for tests against mock servers.
func (p *BatchForecastClient) SetBaseURL(u string) {
	p.baseURL = u
}

// GetWeather fetches a single location; it is the one-element batch case.
func (p *BatchForecastClient) GetWeather(ctx context.Context, loc weather.Location, rng weather.DateRange) (*weather.Series, []string, error) {
	series, warnings, err := p.GetWeatherBatch(ctx, []weather.Location{loc}, rng)
	if err != nil {
		return nil, warnings, err
	}
	return series[0], warnings, nil
}

// GetWeatherBatch returns one normalized daily series per location, aligned
// with the input slice. Locations served from cache are not re-fetched; the
// remainder travels in one upstream call. Locations the upstream could not
// serve map to empty series with a warning.
func (p *BatchForecastClient) GetWeatherBatch(ctx context.Context, locs []weather.Location, rng weather.DateRange) ([]*weather.Series, []string, error) {
	if len(locs) == 0 {
		return nil, nil, fmt.Errorf("batch: no locations given")
	}
	if rng == (weather.DateRange{}) {
		return nil, nil, fmt.Errorf("batch: empty date range")
	}

	out := make([]*weather.Series, len(locs))
	var missing []int
	for i, loc := range locs {
		if s, ok := p.cached(ctx, loc, rng); ok {
			out[i] = s
		} else {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return out, nil, nil
	}

	buildRequest := func() (*http.Request, error) {
		lats := make([]string, len(missing))
		lons := make([]string, len(missing))
		for j, i := range missing {
			lats[j] = fmt.Sprintf("%.4f", locs[i].Latitude)
			lons[j] = fmt.Sprintf("%.4f", locs[i].Longitude)
		}
		names := make([]string, len(dailyFields))
		for i, f := range dailyFields {
			names[i] = f.name
		}

		values := url.Values{}
		values.Set("latitude", strings.Join(lats, ","))
		values.Set("longitude", strings.Join(lons, ","))
		values.Set("daily", strings.Join(names, ","))
		values.Set("windspeed_unit", "ms")
		values.Set("timezone", "UTC")
		values.Set("start_date", rng.Start.Format("2006-01-02"))
		values.Set("end_date", rng.End.Format("2006-01-02"))
		return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	body, err := fetchWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		p.countFetch("error")
		for _, i := range missing {
			out[i] = p.emptySeries()
		}
		return out, []string{fmt.Sprintf("%s: fetch failed: %v", p.name, err)}, nil
	}

	blocks, warnings := p.decode(body, len(missing))
	for j, i := range missing {
		if j >= len(blocks) || blocks[j] == nil {
			out[i] = p.emptySeries()
			warnings = append(warnings, fmt.Sprintf("%s: no data returned for %s", p.name, locs[i].Key()))
			continue
		}
		s, w := p.normalizeBlock(blocks[j])
		warnings = append(warnings, w...)
		if s.Len() > 0 {
			if qw := radiationQualityWarning(p.name, s, locs[i]); qw != "" {
				warnings = append(warnings, qw)
			}
			p.store(ctx, locs[i], rng, s)
		}
		out[i] = s
	}

	if len(blocks) > 0 {
		p.countFetch("success")
	} else {
		p.countFetch("empty")
	}

	return out, warnings, nil
}

// batchBlock is one location's daily payload.
type batchBlock struct {
	Daily map[string]json.RawMessage `json:"daily"`
}

// decode handles the provider quirk that a single-location request returns a
// bare object while a multi-location request returns an array.
func (p *BatchForecastClient) decode(body []byte, expected int) ([]*batchBlock, []string) {
	var blocks []*batchBlock
	if err := json.Unmarshal(body, &blocks); err == nil {
		return blocks, nil
	}

	var single batchBlock
	if err := json.Unmarshal(body, &single); err == nil && single.Daily != nil {
		return []*batchBlock{&single}, nil
	}

	return nil, []string{fmt.Sprintf("%s: structurally invalid response body (expected %d location blocks)", p.name, expected)}
}

// normalizeBlock converts one location block into a canonical daily series.
func (p *BatchForecastClient) normalizeBlock(block *batchBlock) (*weather.Series, []string) {
	if block.Daily == nil {
		return p.emptySeries(), []string{fmt.Sprintf("%s: location block has no daily data", p.name)}
	}

	var rawTimes []string
	if err := json.Unmarshal(block.Daily["time"], &rawTimes); err != nil || len(rawTimes) == 0 {
		return p.emptySeries(), []string{fmt.Sprintf("%s: location block has no time index", p.name)}
	}

	times := make([]time.Time, 0, len(rawTimes))
	keep := make([]int, 0, len(rawTimes))
	for i, raw := range rawTimes {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			continue
		}
		times = append(times, t.UTC())
		keep = append(keep, i)
	}

	s := weather.NewSeries(weather.ResolutionDaily, times)
	s.Sources = []string{p.name}

	var warnings []string
	for _, f := range dailyFields {
		col := make([]float64, len(times))

		raw, ok := block.Daily[f.name]
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
			if f.v == weather.VarWind2m {
				x = weather.WindPowerLawTo2m(x, 10)
			}
			col[i] = x
		}
		s.Values[f.v] = col
	}

	return s, warnings
}
