// Package orchestrator runs the full acquisition → preprocessing → fusion →
// ETo → validation pipeline for the configured location list, on a schedule,
// with partial-failure tolerance and bounded retries.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agroclim/matopiba-eto/internal/cache"
	"github.com/agroclim/matopiba-eto/internal/eto"
	"github.com/agroclim/matopiba-eto/internal/fusion"
	"github.com/agroclim/matopiba-eto/internal/observability"
	"github.com/agroclim/matopiba-eto/internal/preprocess"
	"github.com/agroclim/matopiba-eto/internal/store"
	"github.com/agroclim/matopiba-eto/internal/validation"
	"github.com/agroclim/matopiba-eto/internal/weather"
)

// State is the orchestrator's position in the run state machine.
type State string

const (
	StateInit     State = "INIT"
	StateFetch    State = "FETCH"
	StateCompute  State = "COMPUTE"
	StateValidate State = "VALIDATE"
	StatePersist  State = "PERSIST"
	StateDone     State = "DONE"
	StateRetry    State = "RETRY"
	StateFailure  State = "FAILURE"
)

// ErrNoData is the run-level failure: not a single location produced data.
var ErrNoData = errors.New("no location returned any weather data")

// Options tunes a batch run.
type Options struct {
	WindowDays         int           // length of the daily window ending at the last forecast day
	ForecastDays       int           // days past today included in the window
	BatchSize          int           // locations per fetch batch
	BatchDelay         time.Duration // pause between fetch batches (provider rate limits)
	FetchTimeout       time.Duration // per upstream call
	ComputeConcurrency int           // parallel per-location computations
	RunTimeout         time.Duration // wall-clock budget for the whole run
	RetryDelay         time.Duration // fixed pause between attempts
	MaxAttempts        int           // total attempts before terminal failure
	SuccessThreshold   float64       // fetch success rate below which a warning is raised
	ResultTTL          time.Duration // hot-cache TTL of the batch payload
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		WindowDays:         7,
		ForecastDays:       5,
		BatchSize:          10,
		BatchDelay:         2 * time.Second,
		FetchTimeout:       30 * time.Second,
		ComputeConcurrency: 8,
		RunTimeout:         time.Hour,
		RetryDelay:         5 * time.Minute,
		MaxAttempts:        3,
		SuccessThreshold:   0.9,
		ResultTTL:          6 * time.Hour,
	}
}

// LocationForecast is the per-location slice of the batch payload.
type LocationForecast struct {
	Location weather.Location    `json:"location"`
	Records  []eto.Record        `json:"records"`
	Metrics  *validation.Metrics `json:"metrics,omitempty"`
	Sources  []string            `json:"sources"`
	Warnings []string            `json:"warnings,omitempty"`
}

// Metadata is the cheap status block stored under its own cache key.
type Metadata struct {
	RunLabel       string            `json:"run_label"`
	State          State             `json:"state"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	LocationsTotal int               `json:"locations_total"`
	LocationsOK    int               `json:"locations_ok"`
	SuccessRate    float64           `json:"success_rate"`
	Quality        validation.Status `json:"quality,omitempty"`
	TTLSeconds     int64             `json:"ttl_seconds"`
	WarningCount   int               `json:"warning_count"`
}

// Payload is the self-describing batch result the web/API layer consumes.
type Payload struct {
	Forecasts  []LocationForecast  `json:"forecasts"`
	Validation *validation.Metrics `json:"validation,omitempty"`
	Metadata   Metadata            `json:"metadata"`
	Warnings   []string            `json:"warnings"`
}

// RunResult summarizes one completed (or failed) run.
type RunResult struct {
	RunLabel    string
	State       State
	StartedAt   time.Time
	FinishedAt  time.Time
	Payload     *Payload
	SuccessRate float64
	Warnings    []string
}

// Orchestrator wires the data clients, the pipeline stages, and the stores.
type Orchestrator struct {
	locations []weather.Location
	providers []weather.Provider      // point providers, fetched per location; the first is the fusion observation source
	batch     weather.BatchProvider   // optional batch provider, fetched once per location batch
	cache     cache.Cache
	audit     store.AuditStore
	metrics   *observability.Metrics
	opts      Options
}

// New creates an orchestrator. The provider order is meaningful: fusion
// treats the first series per location as its observation.
func New(locations []weather.Location, providers []weather.Provider, batch weather.BatchProvider,
	c cache.Cache, audit store.AuditStore, m *observability.Metrics, opts Options) *Orchestrator {
	return &Orchestrator{
		locations: locations,
		providers: providers,
		batch:     batch,
		cache:     c,
		audit:     audit,
		metrics:   m,
		opts:      opts,
	}
}

// Run executes the state machine with bounded retries inside the wall-clock
// budget. A terminal failure still records a FAILURE audit; it never
// propagates a panic or an unbounded hang to the scheduler.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	label := uuid.NewString()
	started := time.Now().UTC()

	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		result, err := o.runOnce(runCtx, label, started)
		if err == nil {
			o.observeRun(result)
			return result, nil
		}
		lastErr = err

		if runCtx.Err() != nil {
			lastErr = fmt.Errorf("run exceeded wall-clock budget: %w", runCtx.Err())
			break
		}
		if attempt == o.opts.MaxAttempts {
			break
		}

		log.Printf("orchestrator: attempt %d/%d failed (%v), retrying in %s", attempt, o.opts.MaxAttempts, err, o.opts.RetryDelay)
		select {
		case <-runCtx.Done():
			lastErr = fmt.Errorf("run exceeded wall-clock budget: %w", runCtx.Err())
		case <-time.After(o.opts.RetryDelay):
			continue
		}
		break
	}

	// Terminal failure: the run result is discarded but a FAILURE summary is
	// still recorded for auditing.
	finished := time.Now().UTC()
	result := &RunResult{
		RunLabel:   label,
		State:      StateFailure,
		StartedAt:  started,
		FinishedAt: finished,
		Warnings:   []string{fmt.Sprintf("run failed after %d attempts: %v", o.opts.MaxAttempts, lastErr)},
	}
	if o.metrics != nil {
		o.metrics.RunFailures.Inc()
	}
	o.recordAudit(result, nil)
	return result, lastErr
}

// runOnce performs a single pass through FETCH → COMPUTE → VALIDATE → PERSIST.
func (o *Orchestrator) runOnce(ctx context.Context, label string, started time.Time) (*RunResult, error) {
	rng, err := o.window(time.Now().UTC())
	if err != nil {
		return nil, err
	}

	// FETCH
	fetched, fetchWarnings := o.fetchAll(ctx, rng)

	ok := 0
	for _, series := range fetched {
		if hasData(series) {
			ok++
		}
	}
	successRate := float64(ok) / float64(len(o.locations))
	if ok == 0 {
		return nil, ErrNoData
	}

	warnings := fetchWarnings
	if successRate < o.opts.SuccessThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"fetch success rate %.1f%% is below the %.0f%% threshold, results are partial",
			100*successRate, 100*o.opts.SuccessThreshold))
	}

	// COMPUTE
	forecasts, computeWarnings := o.computeAll(ctx, fetched)
	warnings = append(warnings, computeWarnings...)

	// VALIDATE
	aggregate := o.validateAggregate(forecasts)

	// PERSIST
	finished := time.Now().UTC()
	payload := &Payload{
		Forecasts:  forecasts,
		Validation: aggregate,
		Warnings:   warnings,
		Metadata: Metadata{
			RunLabel:       label,
			State:          StateDone,
			StartedAt:      started,
			FinishedAt:     finished,
			LocationsTotal: len(o.locations),
			LocationsOK:    ok,
			SuccessRate:    successRate,
			TTLSeconds:     int64(o.opts.ResultTTL.Seconds()),
			WarningCount:   len(warnings),
		},
	}
	if aggregate != nil {
		payload.Metadata.Quality = aggregate.Status
	}

	result := &RunResult{
		RunLabel:    label,
		State:       StateDone,
		StartedAt:   started,
		FinishedAt:  finished,
		Payload:     payload,
		SuccessRate: successRate,
		Warnings:    warnings,
	}

	if err := o.persist(ctx, payload); err != nil {
		return nil, fmt.Errorf("persist batch result: %w", err)
	}
	o.recordAudit(result, aggregate)

	return result, nil
}

// window computes the daily date range for a run starting now.
func (o *Orchestrator) window(now time.Time) (weather.DateRange, error) {
	end := now.Truncate(24 * time.Hour).AddDate(0, 0, o.opts.ForecastDays)
	start := end.AddDate(0, 0, -(o.opts.WindowDays - 1))
	return weather.NewDateRange(start, end)
}

// fetchAll gathers every source series for every location, in fixed-size
// batches with a mandatory delay in between. Failures surface as empty
// series; they lower the success rate but never abort the run.
func (o *Orchestrator) fetchAll(ctx context.Context, rng weather.DateRange) ([][]*weather.Series, []string) {
	fetched := make([][]*weather.Series, len(o.locations))
	var warnings []string

	for batchStart := 0; batchStart < len(o.locations); batchStart += o.opts.BatchSize {
		if ctx.Err() != nil {
			warnings = append(warnings, "fetch aborted: "+ctx.Err().Error())
			break
		}
		if batchStart > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.opts.BatchDelay):
			}
		}

		end := batchStart + o.opts.BatchSize
		if end > len(o.locations) {
			end = len(o.locations)
		}
		batchLocs := o.locations[batchStart:end]

		var batchSeries []*weather.Series
		if o.batch != nil {
			callCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
			series, w, err := o.batch.GetWeatherBatch(callCtx, batchLocs, rng)
			cancel()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("batch fetch: %v", err))
			} else {
				batchSeries = series
				warnings = append(warnings, w...)
			}
		}

		for i, loc := range batchLocs {
			idx := batchStart + i
			var sources []*weather.Series

			for _, p := range o.providers {
				callCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
				s, w, err := p.GetWeather(callCtx, loc, rng)
				cancel()
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("%s: %s: %v", loc.Key(), p.Name(), err))
					continue
				}
				warnings = append(warnings, prefixWarnings(loc.Key(), w)...)
				if s != nil && s.Len() > 0 {
					sources = append(sources, s)
				}
			}

			if batchSeries != nil && i < len(batchSeries) && batchSeries[i] != nil && batchSeries[i].Len() > 0 {
				sources = append(sources, batchSeries[i])
			}

			fetched[idx] = sources
		}
	}

	return fetched, warnings
}

// computeAll runs preprocessing, fusion, ETo, and per-location validation
// concurrently across locations. Locations are independent, so this is
// bounded fan-out with no shared state.
func (o *Orchestrator) computeAll(ctx context.Context, fetched [][]*weather.Series) ([]LocationForecast, []string) {
	var (
		mu        sync.Mutex
		forecasts []LocationForecast
		warnings  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ComputeConcurrency)

	for i := range o.locations {
		loc := o.locations[i]
		sources := fetched[i]

		if len(sources) == 0 {
			mu.Lock()
			warnings = append(warnings, fmt.Sprintf("%s: no data from any source, skipped", loc.Key()))
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			fc := o.computeLocation(loc, sources)
			mu.Lock()
			forecasts = append(forecasts, fc)
			mu.Unlock()
			if o.metrics != nil {
				o.metrics.LocationsProcessed.Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Stable output order for the payload.
	sortForecasts(forecasts)

	return forecasts, warnings
}

// computeLocation is the per-location pipeline: preprocess each source, fuse
// when two or more survive, then Penman-Monteith and validation against the
// provider reference ETo when present.
func (o *Orchestrator) computeLocation(loc weather.Location, sources []*weather.Series) LocationForecast {
	fc := LocationForecast{Location: loc}

	var (
		cleaned []*weather.Series
		refSrc  *weather.Series
	)
	for _, s := range sources {
		out, w := preprocess.Run(s, loc)
		fc.Warnings = append(fc.Warnings, w...)
		cleaned = append(cleaned, out)
		if refSrc == nil && out.HasColumn(weather.VarRefETo) {
			refSrc = out
		}
		fc.Sources = append(fc.Sources, s.Sources...)
	}

	var final *weather.Series
	if len(cleaned) >= 2 {
		fused, w, err := fusion.Fuse(cleaned, fusion.DefaultOptions())
		fc.Warnings = append(fc.Warnings, w...)
		if err != nil {
			fc.Warnings = append(fc.Warnings, fmt.Sprintf("fusion failed, using primary source: %v", err))
			final = cleaned[0]
		} else {
			final = fused
		}
	} else {
		final = cleaned[0]
	}

	attachReference(final, refSrc)

	records, w, err := eto.ComputeDaily(final, loc)
	fc.Warnings = append(fc.Warnings, w...)
	if err != nil {
		fc.Warnings = append(fc.Warnings, fmt.Sprintf("eto computation failed: %v", err))
		return fc
	}
	fc.Records = records

	computed, reference := pairedETo(records)
	if len(computed) > 0 {
		if m, err := validation.Evaluate(computed, reference); err == nil {
			fc.Metrics = &m
		}
	}

	return fc
}

// validateAggregate pools every (computed, reference) pair across locations
// into one run-level metrics block.
func (o *Orchestrator) validateAggregate(forecasts []LocationForecast) *validation.Metrics {
	var computed, reference []float64
	for _, fc := range forecasts {
		c, r := pairedETo(fc.Records)
		computed = append(computed, c...)
		reference = append(reference, r...)
	}
	if len(computed) == 0 {
		return nil
	}
	m, err := validation.Evaluate(computed, reference)
	if err != nil {
		return nil
	}
	return &m
}

// persist writes the payload and its metadata to the hot cache.
func (o *Orchestrator) persist(ctx context.Context, payload *Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	o.cache.Put(ctx, cache.KeyLatestBatch, raw, weather.DateRange{}, o.opts.ResultTTL)

	meta, err := json.Marshal(payload.Metadata)
	if err != nil {
		return err
	}
	o.cache.Put(ctx, cache.KeyLatestBatchMeta, meta, weather.DateRange{}, o.opts.ResultTTL)
	return nil
}

func (o *Orchestrator) recordAudit(result *RunResult, aggregate *validation.Metrics) {
	if o.audit == nil {
		return
	}
	audit := store.RunAudit{
		RunLabel:       result.RunLabel,
		Status:         string(result.State),
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		LocationsTotal: len(o.locations),
		SuccessRate:    result.SuccessRate,
		Metrics:        aggregate,
		WarningCount:   len(result.Warnings),
	}
	if result.Payload != nil {
		audit.LocationsOK = result.Payload.Metadata.LocationsOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.audit.RecordRun(ctx, audit); err != nil {
		log.Printf("orchestrator: audit record failed: %v", err)
	}
}

func (o *Orchestrator) observeRun(result *RunResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	o.metrics.RunSuccessRate.Set(result.SuccessRate)
}

// attachReference copies the reference ETo column from src onto dst, aligned
// by timestamp. Fusion drops columns that are not shared by every source, so
// the reference has to be re-attached for validation.
func attachReference(dst, src *weather.Series) {
	if src == nil || dst.HasColumn(weather.VarRefETo) {
		return
	}
	refCol := src.Column(weather.VarRefETo)
	col := make([]float64, dst.Len())
	for i, t := range dst.Times {
		idx := src.IndexOf(t)
		if idx < 0 {
			col[i] = math.NaN()
		} else {
			col[i] = refCol[idx]
		}
	}
	_ = dst.SetColumn(weather.VarRefETo, col)
}

// pairedETo extracts aligned computed/reference arrays from records,
// skipping records without a reference or with an undefined value.
func pairedETo(records []eto.Record) (computed, reference []float64) {
	for _, rec := range records {
		if rec.Missing || rec.RefEToMm == nil {
			continue
		}
		computed = append(computed, rec.EToMm)
		reference = append(reference, *rec.RefEToMm)
	}
	return computed, reference
}

func prefixWarnings(prefix string, warnings []string) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = prefix + ": " + w
	}
	return out
}

func hasData(series []*weather.Series) bool {
	for _, s := range series {
		if s != nil && s.Len() > 0 {
			return true
		}
	}
	return false
}

func sortForecasts(forecasts []LocationForecast) {
	sort.Slice(forecasts, func(i, j int) bool {
		return forecasts[i].Location.ID < forecasts[j].Location.ID
	})
}
