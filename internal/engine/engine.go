// Package engine runs the deterministic metric pipeline: anchor to
// window to samples to scalar to integer. Given the identical payload
// and configuration it produces bit-identical results on every run.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/aggregate"
	"github.com/butterygg/metric-report/internal/grid"
	"github.com/butterygg/metric-report/internal/metrics"
	"github.com/butterygg/metric-report/internal/policy"
	"github.com/butterygg/metric-report/internal/report"
	"github.com/butterygg/metric-report/internal/rounding"
	"github.com/butterygg/metric-report/internal/sample"
	"github.com/butterygg/metric-report/internal/source"
	"github.com/butterygg/metric-report/internal/window"
)

// Engine wires the pipeline stages together. Adapters are registered
// by name and looked up per policy.
type Engine struct {
	log      zerolog.Logger
	adapters map[string]source.Adapter
	now      func() time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over the given adapters.
func New(log zerolog.Logger, adapters []source.Adapter, opts ...Option) *Engine {
	byName := make(map[string]source.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	e := &Engine{log: log, adapters: byName, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Input is one run request.
type Input struct {
	Policy      policy.Policy
	AnchorISO   string
	AnchorEpoch int64
	StrictFinal bool
	AllowEarly  bool
	// Store receives the audit artifacts; nil disables persistence.
	Store *report.Store
}

// Run executes the pipeline. The returned RunResult is populated as
// far as the run got, even on failure, so forensic evidence survives;
// the error carries the taxonomy for exit signaling.
func (e *Engine) Run(ctx context.Context, in Input) (*report.RunResult, error) {
	p := in.Policy
	result := &report.RunResult{
		Policy:   p.Name,
		Source:   p.Source,
		Symbol:   p.Symbol,
		Method:   string(p.Aggregation),
		Rounding: string(p.Rounding),
		Status:   report.StatusError,
	}

	err := e.run(ctx, in, result)
	e.finish(in.Store, result, err)
	return result, err
}

func (e *Engine) run(ctx context.Context, in Input, result *report.RunResult) error {
	p := in.Policy
	if err := p.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	adapter, ok := e.adapters[p.Source]
	if !ok {
		return validationf("no adapter registered for source %q", p.Source)
	}

	anchorSupplied := strings.TrimSpace(in.AnchorISO) != "" || in.AnchorEpoch != 0
	var anchor window.Anchor
	if p.Window.Mode == policy.WindowFixedCalendar {
		if anchorSupplied {
			return validationf("policy %s uses a fixed calendar window; anchor overrides are not allowed", p.Name)
		}
		anchor = window.Anchor{Source: "fixed-calendar"}
	} else {
		var err error
		anchor, err = window.ResolveAnchor(in.AnchorISO, in.AnchorEpoch, p.Anchor)
		if err != nil {
			return &ValidationError{Err: err}
		}
		result.DecisionEpoch = anchor.Epoch
		result.DecisionISO = window.FormatEpoch(anchor.Epoch)
	}
	result.DecisionSource = anchor.Source

	w, err := window.Resolve(anchor, p.Window)
	if err != nil {
		return &ValidationError{Err: err}
	}
	result.SetWindow(w)

	now := e.now().UTC().Unix()
	if p.SettleDelaySeconds > 0 && !in.AllowEarly {
		earliest := w.End + p.SettleDelaySeconds
		if now < earliest {
			result.Status = report.StatusTemporary
			return dataf("answered too soon: now=%s earliest=%s",
				window.FormatEpoch(now), window.FormatEpoch(earliest))
		}
	}

	e.log.Info().
		Str("policy", p.Name).
		Str("window_start", result.WindowStartISO).
		Str("window_end", result.WindowEndISO).
		Str("decision_source", anchor.Source).
		Msg("window resolved")

	payload, err := adapter.Fetch(ctx, source.Query{
		Symbol:     p.Symbol,
		AssetID:    p.AssetID,
		ConvertID:  p.ConvertID,
		StartEpoch: w.Start,
		EndEpoch:   w.End,
	})
	if err != nil {
		return &UpstreamError{Err: err}
	}
	if in.Store != nil {
		name := fmt.Sprintf("raw_%s.json", adapter.Name())
		if err := in.Store.WriteRaw(name, payload.Raw); err != nil {
			e.log.Warn().Err(err).Msg("raw payload capture failed")
		}
	}

	samples, stats := sample.Normalize(payload.Points, w)
	result.ObservedCount = stats.ObservedCount
	metrics.SamplesRetained.WithLabelValues(p.Name).Add(float64(stats.ObservedCount))
	if len(samples) == 0 {
		result.ExpectedCount = e.expectedCount(p, w, now)
		return dataf("no valid samples inside the window; result is inconclusive, not zero")
	}

	if p.Grid != nil {
		return e.runGrid(in, result, samples, w, payload.Seed, now)
	}
	return e.runPoints(in, result, samples)
}

// runGrid handles fixed-cadence sources: truncate to closed slots,
// fill gaps, aggregate over the complete grid.
func (e *Engine) runGrid(in Input, result *report.RunResult, samples []sample.Sample, w window.Window, seed *decimal.Decimal, now int64) error {
	p := in.Policy
	cadence := p.Grid.CadenceSeconds
	effectiveEnd := window.EffectiveEnd(w, now, cadence)
	final := effectiveEnd >= w.End
	if effectiveEnd > w.Start {
		result.EffectiveEndEpoch = effectiveEnd
		result.EffectiveEndISO = window.FormatEpoch(effectiveEnd)
	}

	expected := grid.ExpectedCount(w, effectiveEnd, cadence)
	result.ExpectedCount = expected
	if expected == 0 {
		result.Status = report.StatusTemporary
		return dataf("window has not started producing closed slots yet")
	}

	missing := grid.MissingTimestamps(samples, w, effectiveEnd, cadence)
	result.MissingTimestamps = missing
	result.Contiguous = len(missing) == 0
	result.Complete = final && len(missing) == 0

	g, err := grid.Build(samples, w, effectiveEnd, cadence, grid.Options{
		Seed:        seed,
		MaxGapSlots: p.Grid.MaxGapSlots,
		StrictFinal: in.StrictFinal && final,
	})
	if err != nil {
		return &DataError{Err: err}
	}
	result.FilledCount = g.FilledCount
	metrics.SlotsFilled.WithLabelValues(p.Name).Add(float64(g.FilledCount))

	if in.Store != nil {
		rows := make([]report.SampleRow, len(g.Slots))
		for i, s := range g.Slots {
			rows[i] = report.SampleRow{Ts: s.Ts, Value: s.Value, Provenance: string(s.Provenance)}
		}
		if err := in.Store.WriteSamples(rows); err != nil {
			e.log.Warn().Err(err).Msg("samples artifact write failed")
		}
	}

	scalar, err := aggregate.Reduce(g.Values(), p.Aggregation)
	if err != nil {
		return &DataError{Err: err}
	}
	result.Scalar = scalar.String()

	integer, err := rounding.ToInteger(scalar, p.Rounding)
	if err != nil {
		return &DataError{Err: err}
	}
	result.ResultInteger = &integer

	if result.Complete {
		result.Status = report.StatusFinal
	} else {
		result.Status = report.StatusTemporary
		if in.StrictFinal {
			return dataf("strict mode: run is not final and complete")
		}
	}
	return nil
}

// runPoints handles irregular point-sample sources, where every
// retained sample is an actual observation.
func (e *Engine) runPoints(in Input, result *report.RunResult, samples []sample.Sample) error {
	p := in.Policy
	result.ExpectedCount = len(samples)
	result.Complete = true
	result.Contiguous = true

	if in.Store != nil {
		rows := make([]report.SampleRow, len(samples))
		for i, s := range samples {
			rows[i] = report.SampleRow{Ts: s.Ts, Value: s.Value, Provenance: string(grid.Actual)}
		}
		if err := in.Store.WriteSamples(rows); err != nil {
			e.log.Warn().Err(err).Msg("samples artifact write failed")
		}
	}

	scalar, err := aggregate.Reduce(sample.Values(samples), p.Aggregation)
	if err != nil {
		return &DataError{Err: err}
	}
	result.Scalar = scalar.String()

	integer, err := rounding.ToInteger(scalar, p.Rounding)
	if err != nil {
		return &DataError{Err: err}
	}
	result.ResultInteger = &integer
	result.Status = report.StatusFinal
	return nil
}

func (e *Engine) expectedCount(p policy.Policy, w window.Window, now int64) int {
	if p.Grid == nil {
		return 0
	}
	return grid.ExpectedCount(w, window.EffectiveEnd(w, now, p.Grid.CadenceSeconds), p.Grid.CadenceSeconds)
}

// finish persists the result record regardless of outcome and counts
// the run.
func (e *Engine) finish(store *report.Store, result *report.RunResult, err error) {
	if err != nil && result.Status != report.StatusTemporary {
		result.Status = report.StatusError
	}
	if err != nil {
		result.Notes = err.Error()
	}
	if store != nil {
		if werr := store.WriteResult(result); werr != nil {
			e.log.Warn().Err(werr).Msg("result artifact write failed")
		}
	}
	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	metrics.RunsTotal.WithLabelValues(outcome).Inc()
}

func outcomeLabel(err error) string {
	switch ExitCode(err) {
	case ExitValidation:
		return "validation_error"
	case ExitData:
		return "data_error"
	case ExitUpstream:
		return "upstream_error"
	default:
		return "internal_error"
	}
}
