// Package policy defines the per-question configuration record that
// parameterizes a metric run: window derivation mode, aggregation
// method, rounding law, and gap tolerance.
package policy

import (
	"fmt"
	"strings"
)

// WindowMode selects how the observation window is derived from the
// decision anchor.
type WindowMode string

const (
	// WindowOffsetDuration starts a fixed cooldown after the anchor,
	// aligned up to the sampling grid, and runs for a fixed duration.
	WindowOffsetDuration WindowMode = "offset_duration"
	// WindowFixedOffset starts a fixed offset after the anchor with no
	// grid alignment. Used when the anchor is a cutoff, not an event.
	WindowFixedOffset WindowMode = "fixed_offset"
	// WindowFixedCalendar uses constant endpoints, both inclusive, and
	// ignores any anchor.
	WindowFixedCalendar WindowMode = "fixed_calendar"
)

// Method is the reduction applied to the sample set.
type Method string

const (
	MethodMean   Method = "mean"
	MethodMedian Method = "median"
)

// Law names the rounding rule applied to the scaled scalar.
type Law string

const (
	LawHalfUp  Law = "half_up"
	LawCeiling Law = "ceiling"
)

// AnchorSpec bounds and defaults the decision anchor.
type AnchorSpec struct {
	Required     bool  `yaml:"required"`
	BoundLoEpoch int64 `yaml:"bound_lo_epoch"`
	BoundHiEpoch int64 `yaml:"bound_hi_epoch"`
	// DefaultEpoch is the cutoff-fallback anchor used when no operator
	// anchor is supplied and Required is false. Zero means no default.
	DefaultEpoch int64 `yaml:"default_epoch"`
}

// WindowSpec carries the mode plus the offsets the mode consumes.
// All offsets and durations are seconds.
type WindowSpec struct {
	Mode            WindowMode `yaml:"mode"`
	CooldownSeconds int64      `yaml:"cooldown_seconds"`
	OffsetSeconds   int64      `yaml:"offset_seconds"`
	DurationSeconds int64      `yaml:"duration_seconds"`
	GridSeconds     int64      `yaml:"grid_seconds"`
	StartEpoch      int64      `yaml:"start_epoch"`
	EndEpoch        int64      `yaml:"end_epoch"`
}

// GridSpec enables fixed-cadence gap filling. A nil GridSpec means the
// source delivers irregular point samples and no filling happens.
type GridSpec struct {
	CadenceSeconds  int64 `yaml:"cadence_seconds"`
	MaxGapSlots     int   `yaml:"max_gap_slots"`
	SeedBeforeStart bool  `yaml:"seed_before_start"`
}

// Policy is one named question configuration. The engine never
// branches on source identity; everything it needs is here.
type Policy struct {
	Name               string     `yaml:"name"`
	Source             string     `yaml:"source"`
	Symbol             string     `yaml:"symbol"`
	AssetID            int64      `yaml:"asset_id"`
	ConvertID          int64      `yaml:"convert_id"`
	AllowedSymbols     []string   `yaml:"allowed_symbols"`
	Anchor             AnchorSpec `yaml:"anchor"`
	Window             WindowSpec `yaml:"window"`
	Grid               *GridSpec  `yaml:"grid"`
	Aggregation        Method     `yaml:"aggregation"`
	Rounding           Law        `yaml:"rounding"`
	SettleDelaySeconds int64      `yaml:"settle_delay_seconds"`
}

// Validate rejects malformed policies before any fetch is attempted.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy missing name")
	}
	if p.Source == "" {
		return fmt.Errorf("policy %s: missing source", p.Name)
	}
	switch p.Aggregation {
	case MethodMean, MethodMedian:
	default:
		return fmt.Errorf("policy %s: unknown aggregation %q", p.Name, p.Aggregation)
	}
	switch p.Rounding {
	case LawHalfUp, LawCeiling:
	default:
		return fmt.Errorf("policy %s: unknown rounding law %q", p.Name, p.Rounding)
	}
	switch p.Window.Mode {
	case WindowOffsetDuration, WindowFixedOffset:
		if p.Window.DurationSeconds <= 0 {
			return fmt.Errorf("policy %s: window duration must be positive", p.Name)
		}
	case WindowFixedCalendar:
		if p.Window.StartEpoch <= 0 || p.Window.EndEpoch <= 0 {
			return fmt.Errorf("policy %s: fixed calendar window needs both endpoints", p.Name)
		}
		if p.Window.StartEpoch >= p.Window.EndEpoch {
			return fmt.Errorf("policy %s: fixed calendar window start must precede end", p.Name)
		}
		// The grid walk is half-open and would drop the closed window's
		// inclusive end slot.
		if p.Grid != nil {
			return fmt.Errorf("policy %s: fixed calendar windows take point samples, not a grid", p.Name)
		}
	default:
		return fmt.Errorf("policy %s: unknown window mode %q", p.Name, p.Window.Mode)
	}
	if p.Grid != nil {
		if p.Grid.CadenceSeconds <= 0 {
			return fmt.Errorf("policy %s: grid cadence must be positive", p.Name)
		}
		if p.Grid.MaxGapSlots < 0 {
			return fmt.Errorf("policy %s: grid max gap must not be negative", p.Name)
		}
	}
	if err := p.CheckSymbol(p.Symbol); err != nil {
		return err
	}
	return nil
}

// CheckSymbol validates a symbol against the policy allow-list. An
// empty allow-list permits only the configured symbol.
func (p *Policy) CheckSymbol(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fmt.Errorf("policy %s: missing symbol", p.Name)
	}
	if len(p.AllowedSymbols) == 0 {
		if symbol != p.Symbol {
			return fmt.Errorf("policy %s: symbol %q not allowed", p.Name, symbol)
		}
		return nil
	}
	for _, allowed := range p.AllowedSymbols {
		if strings.EqualFold(allowed, symbol) {
			return nil
		}
	}
	return fmt.Errorf("policy %s: symbol %q not in allow-list", p.Name, symbol)
}
