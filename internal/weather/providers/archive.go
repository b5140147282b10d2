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

// archiveFillValue marks missing data in the archive's responses.
const archiveFillValue = -999.0

// archiveTTL: reanalysis data is stable once published, so entries live long.
const archiveTTL = 30 * 24 * time.Hour

// archiveParams maps the provider's parameter names onto canonical variables.
var archiveParams = map[string]weather.Variable{
	"T2M_MAX":           weather.VarTMax,
	"T2M_MIN":           weather.VarTMin,
	"T2M":               weather.VarTMean,
	"RH2M":              weather.VarRH,
	"WS10M":             weather.VarWind2m,
	"ALLSKY_SFC_SW_DWN": weather.VarRadiation,
	"PRECTOTCORR":       weather.VarPrecip,
}

// archiveParamOrder keeps request URLs deterministic.
var archiveParamOrder = []string{
	"T2M_MAX", "T2M_MIN", "T2M", "RH2M", "WS10M", "ALLSKY_SFC_SW_DWN", "PRECTOTCORR",
}

// ArchiveClient fetches long-history daily reanalysis data for a single
// point (NASA POWER style API).
type ArchiveClient struct {
	clientBase
}

// NewArchiveClient creates the archive data source client.
func NewArchiveClient(client *http.Client, c cache.Cache, m *observability.Metrics) *ArchiveClient {
	return &ArchiveClient{clientBase{
		name:    "power-archive",
		baseURL: "https://power.larc.nasa.gov/api/temporal/daily/point",
		res:     weather.ResolutionDaily,
		ttl:     archiveTTL,
		cache:   c,
		metrics: m,
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("power-archive"),
	}}
}

// SetBaseURL overrides the upstream endpoint, for tests against mock servers.
func (p *ArchiveClient) SetBaseURL(u string) {
	p.baseURL = u
}

// GetWeather returns the normalized daily series for one location,
// cache-first. Transport and payload failures yield an empty series plus a
// warning, never an error.
func (p *ArchiveClient) GetWeather(ctx context.Context, loc weather.Location, rng weather.DateRange) (*weather.Series, []string, error) {
	if rng == (weather.DateRange{}) {
		return nil, nil, fmt.Errorf("archive: empty date range")
	}

	if s, ok := p.cached(ctx, loc, rng); ok {
		return s, nil, nil
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("parameters", strings.Join(archiveParamOrder, ","))
		values.Set("community", "AG")
		values.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
		values.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
		values.Set("start", rng.Start.Format("20060102"))
		values.Set("end", rng.End.Format("20060102"))
		values.Set("format", "JSON")
		return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	body, err := fetchWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		p.countFetch("error")
		return p.emptySeries(), []string{fmt.Sprintf("%s: fetch failed: %v", p.name, err)}, nil
	}

	s, warnings := p.normalize(body, rng)
	if s.Len() == 0 {
		p.countFetch("empty")
		return s, warnings, nil
	}
	p.countFetch("success")

	if w := radiationQualityWarning(p.name, s, loc); w != "" {
		warnings = append(warnings, w)
	}

	p.store(ctx, loc, rng, s)
	return s, warnings, nil
}

// normalize maps the archive's date-keyed parameter objects onto the
// canonical series. Missing parameters become all-NaN columns with a
// warning; fill values become NaN.
func (p *ArchiveClient) normalize(body []byte, rng weather.DateRange) (*weather.Series, []string) {
	var payload struct {
		Properties struct {
			Parameter map[string]map[string]float64 `json:"parameter"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Properties.Parameter == nil {
		return p.emptySeries(), []string{fmt.Sprintf("%s: structurally invalid response body", p.name)}
	}

	times := make([]time.Time, 0, rng.Days())
	for d := rng.Start; !d.After(rng.End); d = d.AddDate(0, 0, 1) {
		times = append(times, d)
	}

	s := weather.NewSeries(weather.ResolutionDaily, times)
	s.Sources = []string{p.name}

	var warnings []string
	for _, param := range archiveParamOrder {
		v := archiveParams[param]
		col := make([]float64, len(times))

		byDate, ok := payload.Properties.Parameter[param]
		if !ok {
			for i := range col {
				col[i] = math.NaN()
			}
			warnings = append(warnings, fmt.Sprintf("%s: parameter %s missing from response, column filled with NaN", p.name, param))
			s.Values[v] = col
			continue
		}

		for i, t := range times {
			x, present := byDate[t.Format("20060102")]
			if !present || x == archiveFillValue {
				col[i] = math.NaN()
				continue
			}
			if v == weather.VarWind2m {
				x = weather.WindPowerLawTo2m(x, 10)
			}
			col[i] = x
		}
		s.Values[v] = col
	}

	return s, warnings
}
