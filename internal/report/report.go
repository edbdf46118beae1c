// Package report assembles the terminal run record and persists the
// audit artifacts other resolvers rely on to reproduce or dispute a
// result.
package report

import (
	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/window"
)

// Status classifies the run outcome in the result record.
const (
	StatusFinal     = "final"
	StatusTemporary = "temporary"
	StatusError     = "error"
)

// RunResult is the write-once terminal artifact of a run. Window
// bounds appear in both ISO and epoch form and the scalar is an exact
// decimal string; a lossy float print would break cross-implementation
// auditing.
type RunResult struct {
	Policy            string   `json:"policy"`
	Source            string   `json:"source"`
	Symbol            string   `json:"symbol"`
	DecisionEpoch     int64    `json:"decision_time_epoch"`
	DecisionISO       string   `json:"decision_time_iso"`
	DecisionSource    string   `json:"decision_source"`
	WindowStartEpoch  int64    `json:"window_start_epoch"`
	WindowStartISO    string   `json:"window_start_iso"`
	WindowEndEpoch    int64    `json:"window_end_epoch"`
	WindowEndISO      string   `json:"window_end_iso"`
	WindowClosed      bool     `json:"window_closed"`
	EffectiveEndEpoch int64    `json:"effective_end_epoch,omitempty"`
	EffectiveEndISO   string   `json:"effective_end_iso,omitempty"`
	ObservedCount     int      `json:"observed_count"`
	ExpectedCount     int      `json:"expected_count"`
	FilledCount       int      `json:"filled_count"`
	Complete          bool     `json:"complete"`
	Contiguous        bool     `json:"contiguous"`
	MissingTimestamps []int64  `json:"missing_timestamps,omitempty"`
	Method            string   `json:"method"`
	Rounding          string   `json:"rounding"`
	Scalar            string   `json:"scalar,omitempty"`
	ResultInteger     *uint64  `json:"result_integer_times_100"`
	Status            string   `json:"status"`
	Notes             string   `json:"notes,omitempty"`
}

// SetWindow copies both forms of the window bounds into the record.
func (r *RunResult) SetWindow(w window.Window) {
	r.WindowStartEpoch = w.Start
	r.WindowStartISO = window.FormatEpoch(w.Start)
	r.WindowEndEpoch = w.End
	r.WindowEndISO = window.FormatEpoch(w.End)
	r.WindowClosed = w.Closed
}

// SampleRow is one line of the per-sample classification artifact.
type SampleRow struct {
	Ts         int64
	Value      decimal.Decimal
	Provenance string
}
