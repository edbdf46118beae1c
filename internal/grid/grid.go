// Package grid builds the fixed-cadence slot sequence for sources
// that promise one value per interval, carrying the last known value
// into missing slots.
package grid

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/sample"
	"github.com/butterygg/metric-report/internal/window"
)

// Provenance distinguishes observed values from carry-forward fills.
type Provenance string

const (
	Actual Provenance = "actual"
	Filled Provenance = "filled"
)

// Slot is one grid position.
type Slot struct {
	Ts         int64
	Value      decimal.Decimal
	Provenance Provenance
}

// Grid is the completed fixed-cadence series over a window.
type Grid struct {
	Slots       []Slot
	Cadence     int64
	FilledCount int
}

// Options tune the fill pass. Seed, when present, is the close of the
// slot immediately preceding the window and rescues a missing first
// slot. MaxGapSlots bounds any single run of consecutive missing
// slots. StrictFinal forbids gaps entirely.
type Options struct {
	Seed        *decimal.Decimal
	MaxGapSlots int
	StrictFinal bool
}

// ErrNotAnswerable means the series has too much missing data to
// answer yet: either the leading edge has no value to carry forward or
// a gap run exceeded the tolerance. Retrying later may succeed.
var ErrNotAnswerable = errors.New("series not answerable yet")

// ErrFinalIncomplete means a final window contains at least one gap
// under zero-tolerance rules. Unlike ErrNotAnswerable, waiting will
// not fix it.
var ErrFinalIncomplete = errors.New("final window incomplete")

// Build assembles the expected slot sequence for [w.Start, end)
// stepping by cadence, where end is the effective exclusive bound
// (possibly truncated for a still-elapsing window).
func Build(samples []sample.Sample, w window.Window, end, cadence int64, opts Options) (Grid, error) {
	if cadence <= 0 {
		return Grid{}, fmt.Errorf("cadence must be positive, got %d", cadence)
	}
	if end > w.End {
		end = w.End
	}

	byTs := make(map[int64]decimal.Decimal, len(samples))
	for _, s := range samples {
		byTs[s.Ts] = s.Value
	}

	var (
		slots  []Slot
		last   *decimal.Decimal
		gapRun int
		filled int
	)
	if opts.Seed != nil {
		v := *opts.Seed
		last = &v
	}

	for ts := w.Start; ts < end; ts += cadence {
		if v, ok := byTs[ts]; ok {
			slots = append(slots, Slot{Ts: ts, Value: v, Provenance: Actual})
			vv := v
			last = &vv
			gapRun = 0
			continue
		}
		if opts.StrictFinal {
			return Grid{}, fmt.Errorf("%w: missing slot at %s", ErrFinalIncomplete, window.FormatEpoch(ts))
		}
		gapRun++
		if last == nil {
			return Grid{}, fmt.Errorf("%w: first slot missing and no preceding close to carry forward", ErrNotAnswerable)
		}
		if opts.MaxGapSlots > 0 && gapRun > opts.MaxGapSlots {
			return Grid{}, fmt.Errorf("%w: %d consecutive slots missing exceeds tolerance %d", ErrNotAnswerable, gapRun, opts.MaxGapSlots)
		}
		slots = append(slots, Slot{Ts: ts, Value: *last, Provenance: Filled})
		filled++
	}

	return Grid{Slots: slots, Cadence: cadence, FilledCount: filled}, nil
}

// ExpectedCount is the number of slots a half-open window holds at a
// given effective exclusive end.
func ExpectedCount(w window.Window, end, cadence int64) int {
	if end > w.End {
		end = w.End
	}
	if end <= w.Start || cadence <= 0 {
		return 0
	}
	return int((end - w.Start) / cadence)
}

// Values projects the slot values in grid order.
func (g Grid) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, len(g.Slots))
	for i, s := range g.Slots {
		out[i] = s.Value
	}
	return out
}

// MissingTimestamps lists the expected slot timestamps absent from the
// observed sample set, for the audit record.
func MissingTimestamps(samples []sample.Sample, w window.Window, end, cadence int64) []int64 {
	if end > w.End {
		end = w.End
	}
	seen := make(map[int64]struct{}, len(samples))
	for _, s := range samples {
		seen[s.Ts] = struct{}{}
	}
	var missing []int64
	for ts := w.Start; ts < end; ts += cadence {
		if _, ok := seen[ts]; !ok {
			missing = append(missing, ts)
		}
	}
	return missing
}
