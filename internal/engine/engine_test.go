package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/policy"
	"github.com/butterygg/metric-report/internal/report"
	"github.com/butterygg/metric-report/internal/sample"
	"github.com/butterygg/metric-report/internal/source"
)

// stubAdapter returns canned points, mirroring the deterministic stub
// provider used for offline work.
type stubAdapter struct {
	points  []sample.RawPoint
	seed    *decimal.Decimal
	err     error
	fetches int
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Fetch(ctx context.Context, q source.Query) (*source.Payload, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	raw, _ := json.Marshal(s.points)
	return &source.Payload{Points: s.points, Raw: raw, Seed: s.seed}, nil
}

const anchor2025 = int64(1735689600) // 2025-01-01T00:00:00Z

func gridPolicy() policy.Policy {
	return policy.Policy{
		Name:   "stub-twap",
		Source: "stub",
		Symbol: "BTCUSDT",
		Anchor: policy.AnchorSpec{Required: true, BoundLoEpoch: 1, BoundHiEpoch: anchor2025 + 86400},
		Window: policy.WindowSpec{
			Mode:            policy.WindowOffsetDuration,
			CooldownSeconds: 0,
			DurationSeconds: 180,
			GridSeconds:     60,
		},
		Grid:        &policy.GridSpec{CadenceSeconds: 60, MaxGapSlots: 60},
		Aggregation: policy.MethodMean,
		Rounding:    policy.LawHalfUp,
	}
}

func newTestEngine(adapter source.Adapter, now int64) *Engine {
	return New(zerolog.Nop(), []source.Adapter{adapter}, WithClock(func() time.Time {
		return time.Unix(now, 0).UTC()
	}))
}

func TestRunEndToEndTWAP(t *testing.T) {
	adapter := &stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"10"}},
		// minute 2 missing
		{Ts: anchor2025 + 120, Candidates: []string{"30"}},
	}}
	eng := newTestEngine(adapter, anchor2025+3600)

	result, err := eng.Run(context.Background(), Input{
		Policy:    gridPolicy(),
		AnchorISO: "2025-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ResultInteger == nil || *result.ResultInteger != 1667 {
		t.Fatalf("expected 1667, got %v", result.ResultInteger)
	}
	if result.ObservedCount != 2 || result.ExpectedCount != 3 {
		t.Fatalf("unexpected counts: %d/%d", result.ObservedCount, result.ExpectedCount)
	}
	if result.FilledCount != 1 {
		t.Fatalf("expected one filled slot, got %d", result.FilledCount)
	}
	if result.Contiguous {
		t.Fatalf("a filled slot means the series is not contiguous")
	}
	if result.WindowStartEpoch != anchor2025 || result.WindowEndEpoch != anchor2025+180 {
		t.Fatalf("unexpected window: %d..%d", result.WindowStartEpoch, result.WindowEndEpoch)
	}
	if result.DecisionSource != "operator-input" {
		t.Fatalf("unexpected decision source %q", result.DecisionSource)
	}
}

func TestRunDeterminism(t *testing.T) {
	points := []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"113900.01"}},
		{Ts: anchor2025 + 60, Candidates: []string{"113899.99"}},
		{Ts: anchor2025 + 120, Candidates: []string{"113901.27"}},
	}
	var outputs []string
	for i := 0; i < 3; i++ {
		eng := newTestEngine(&stubAdapter{points: points}, anchor2025+3600)
		result, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025})
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		outputs = append(outputs, string(encoded))
	}
	if outputs[0] != outputs[1] || outputs[1] != outputs[2] {
		t.Fatalf("results differ across identical runs:\n%s\n%s\n%s", outputs[0], outputs[1], outputs[2])
	}
}

func TestRunValidationBeforeFetch(t *testing.T) {
	adapter := &stubAdapter{}
	eng := newTestEngine(adapter, anchor2025)

	_, err := eng.Run(context.Background(), Input{Policy: gridPolicy()})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for a missing required anchor, got %v", err)
	}
	if adapter.fetches != 0 {
		t.Fatalf("validation failures must be raised before any fetch")
	}
	if ExitCode(err) != ExitValidation {
		t.Fatalf("unexpected exit code %d", ExitCode(err))
	}
}

func TestRunFixedCalendarRejectsAnchorOverride(t *testing.T) {
	p := gridPolicy()
	p.Grid = nil
	p.Window = policy.WindowSpec{Mode: policy.WindowFixedCalendar, StartEpoch: anchor2025, EndEpoch: anchor2025 + 86400}
	eng := newTestEngine(&stubAdapter{}, anchor2025+90000)

	_, err := eng.Run(context.Background(), Input{Policy: p, AnchorEpoch: anchor2025})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRunFixedCalendarClosedWindow(t *testing.T) {
	p := gridPolicy()
	p.Grid = nil
	p.Aggregation = policy.MethodMedian
	p.Rounding = policy.LawCeiling
	p.Window = policy.WindowSpec{Mode: policy.WindowFixedCalendar, StartEpoch: anchor2025, EndEpoch: anchor2025 + 120}

	adapter := &stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"1"}},
		{Ts: anchor2025 + 60, Candidates: []string{"2"}},
		{Ts: anchor2025 + 120, Candidates: []string{"3"}}, // inclusive end retained
	}}
	eng := newTestEngine(adapter, anchor2025+90000)

	result, err := eng.Run(context.Background(), Input{Policy: p})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ObservedCount != 3 {
		t.Fatalf("closed window must include its end sample, got %d", result.ObservedCount)
	}
	if result.ResultInteger == nil || *result.ResultInteger != 200 {
		t.Fatalf("expected median 2 -> 200, got %v", result.ResultInteger)
	}
	if result.DecisionSource != "fixed-calendar" {
		t.Fatalf("unexpected decision source %q", result.DecisionSource)
	}
}

func TestRunZeroSamplesIsDataError(t *testing.T) {
	eng := newTestEngine(&stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025 - 600, Candidates: []string{"10"}}, // outside the window
	}}, anchor2025+3600)

	result, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025})
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError, got %v", err)
	}
	if result.ResultInteger != nil {
		t.Fatalf("inconclusive runs must never carry an integer")
	}
	if ExitCode(err) != ExitData {
		t.Fatalf("unexpected exit code %d", ExitCode(err))
	}
}

func TestRunStrictFinalGap(t *testing.T) {
	adapter := &stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"10"}},
		{Ts: anchor2025 + 120, Candidates: []string{"30"}},
	}}
	eng := newTestEngine(adapter, anchor2025+3600)

	in := Input{Policy: gridPolicy(), AnchorEpoch: anchor2025, StrictFinal: true}
	_, err := eng.Run(context.Background(), in)
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError under strict-final, got %v", err)
	}
}

func TestRunSeedRescuesLeadingGap(t *testing.T) {
	seed := decimal.RequireFromString("5")
	adapter := &stubAdapter{
		points: []sample.RawPoint{{Ts: anchor2025 + 120, Candidates: []string{"30"}}},
		seed:   &seed,
	}
	eng := newTestEngine(adapter, anchor2025+3600)

	result, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// Grid [5 filled, 5 filled, 30 actual]: mean 40/3 -> 1333 cents.
	if result.ResultInteger == nil || *result.ResultInteger != 1333 {
		t.Fatalf("expected 1333, got %v", result.ResultInteger)
	}
	if result.FilledCount != 2 {
		t.Fatalf("expected 2 filled slots, got %d", result.FilledCount)
	}
}

func TestRunUpstreamErrorSurfaces(t *testing.T) {
	adapter := &stubAdapter{err: fmt.Errorf("binance: retries exhausted: boom")}
	eng := newTestEngine(adapter, anchor2025+3600)

	_, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ExitCode(err) != ExitUpstream {
		t.Fatalf("unexpected exit code %d", ExitCode(err))
	}
}

func TestRunTemporaryBeforeWindow(t *testing.T) {
	eng := newTestEngine(&stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"10"}},
	}}, anchor2025-600) // before the window opens

	result, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025})
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError, got %v", err)
	}
	if result.Status != report.StatusTemporary {
		t.Fatalf("expected temporary status, got %s", result.Status)
	}
}

func TestRunSettleDelayGuard(t *testing.T) {
	p := gridPolicy()
	p.SettleDelaySeconds = 300
	adapter := &stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"10"}},
		{Ts: anchor2025 + 60, Candidates: []string{"20"}},
		{Ts: anchor2025 + 120, Candidates: []string{"30"}},
	}}

	// Inside the settle delay: refused.
	eng := newTestEngine(adapter, anchor2025+180+60)
	result, err := eng.Run(context.Background(), Input{Policy: p, AnchorEpoch: anchor2025})
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError inside the settle delay, got %v", err)
	}
	if result.Status != report.StatusTemporary {
		t.Fatalf("expected temporary status, got %s", result.Status)
	}
	if adapter.fetches != 0 {
		t.Fatalf("settle guard must fire before any fetch")
	}

	// Same instant with the override: allowed.
	eng = newTestEngine(adapter, anchor2025+180+60)
	result, err = eng.Run(context.Background(), Input{Policy: p, AnchorEpoch: anchor2025, AllowEarly: true})
	if err != nil {
		t.Fatalf("allow-early run failed: %v", err)
	}
	if result.ResultInteger == nil || *result.ResultInteger != 2000 {
		t.Fatalf("expected 2000, got %v", result.ResultInteger)
	}
}

func TestRunWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	store, err := report.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	adapter := &stubAdapter{points: []sample.RawPoint{
		{Ts: anchor2025, Candidates: []string{"10"}},
		{Ts: anchor2025 + 60, Candidates: []string{"20"}},
		{Ts: anchor2025 + 120, Candidates: []string{"30"}},
	}}
	eng := newTestEngine(adapter, anchor2025+3600)

	if _, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025, Store: store}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, name := range []string{"raw_stub.json", "samples.csv", "result.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("artifact %s missing: %v", name, err)
		}
	}
}

func TestRunWritesResultOnFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := report.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	eng := newTestEngine(&stubAdapter{}, anchor2025+3600)

	if _, err := eng.Run(context.Background(), Input{Policy: gridPolicy(), AnchorEpoch: anchor2025, Store: store}); err == nil {
		t.Fatalf("expected failure for empty payload")
	}
	data, err := os.ReadFile(filepath.Join(dir, "result.json"))
	if err != nil {
		t.Fatalf("failed runs must still write the result record: %v", err)
	}
	var decoded report.RunResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("result record is not valid JSON: %v", err)
	}
	if decoded.Status == report.StatusFinal {
		t.Fatalf("failed run must not be marked final")
	}
	if decoded.Notes == "" {
		t.Fatalf("failure reason must be preserved in the record")
	}
}
