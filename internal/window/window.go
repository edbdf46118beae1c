// Package window turns a decision anchor plus a policy mode into a
// concrete UTC observation window.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/butterygg/metric-report/internal/policy"
)

// msThreshold separates epoch seconds from epoch milliseconds. Any
// numeric timestamp above it is treated as milliseconds.
const msThreshold = 10_000_000_000

// Anchor is the validated decision instant a window derives from.
type Anchor struct {
	Epoch int64
	// Source records whether the anchor came from the operator or from
	// the configured cutoff fallback, so a reviewer can tell a real
	// event apart from a deadline default.
	Source string
}

const (
	AnchorOperator = "operator-input"
	AnchorFallback = "default-cutoff"
)

// Window is a resolved observation interval. Closed windows include
// their end instant; half-open windows exclude it.
type Window struct {
	Start  int64
	End    int64
	Closed bool
}

// Contains applies the window's inclusion rule.
func (w Window) Contains(ts int64) bool {
	if ts < w.Start {
		return false
	}
	if w.Closed {
		return ts <= w.End
	}
	return ts < w.End
}

// FormatEpoch renders an epoch second as an ISO-8601 UTC instant.
func FormatEpoch(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006-01-02T15:04:05Z")
}

// ParseEpoch accepts an epoch in seconds or milliseconds and
// normalizes to seconds.
func ParseEpoch(raw int64) int64 {
	if raw > msThreshold {
		return raw / 1000
	}
	return raw
}

// ParseInstant accepts either an ISO-8601 instant or a bare epoch
// number (seconds or milliseconds) and returns epoch seconds.
func ParseInstant(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty instant")
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ParseEpoch(n), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("parse instant %q: %w", value, err)
	}
	return t.UTC().Unix(), nil
}

// CeilToGrid rounds an epoch up to the next multiple of grid. An
// epoch already on the grid is returned unchanged.
func CeilToGrid(epoch, grid int64) int64 {
	if grid <= 0 {
		return epoch
	}
	return ((epoch + grid - 1) / grid) * grid
}

// FloorToGrid rounds an epoch down to the nearest multiple of grid.
func FloorToGrid(epoch, grid int64) int64 {
	if grid <= 0 {
		return epoch
	}
	return (epoch / grid) * grid
}

// ResolveAnchor validates operator input against the policy bounds and
// applies the cutoff fallback when allowed. iso and epoch are the two
// operator input forms; zero epoch and empty iso mean "not supplied".
// When both are supplied they must agree.
func ResolveAnchor(iso string, epoch int64, spec policy.AnchorSpec) (Anchor, error) {
	var fromISO, fromEpoch int64
	var haveISO, haveEpoch bool

	if strings.TrimSpace(iso) != "" {
		parsed, err := ParseInstant(iso)
		if err != nil {
			return Anchor{}, err
		}
		fromISO = parsed
		haveISO = true
	}
	if epoch != 0 {
		fromEpoch = ParseEpoch(epoch)
		haveEpoch = true
	}
	if haveISO && haveEpoch && fromISO != fromEpoch {
		return Anchor{}, fmt.Errorf("anchor forms disagree: iso=%d epoch=%d", fromISO, fromEpoch)
	}

	anchor := Anchor{Source: AnchorOperator}
	switch {
	case haveISO:
		anchor.Epoch = fromISO
	case haveEpoch:
		anchor.Epoch = fromEpoch
	default:
		if spec.Required {
			return Anchor{}, fmt.Errorf("anchor is required for this policy")
		}
		if spec.DefaultEpoch == 0 {
			return Anchor{}, fmt.Errorf("no anchor supplied and no cutoff fallback configured")
		}
		return Anchor{Epoch: spec.DefaultEpoch, Source: AnchorFallback}, nil
	}

	if spec.BoundLoEpoch > 0 && anchor.Epoch < spec.BoundLoEpoch {
		return Anchor{}, fmt.Errorf("anchor %s predates the allowed event window", FormatEpoch(anchor.Epoch))
	}
	if spec.BoundHiEpoch > 0 && anchor.Epoch > spec.BoundHiEpoch {
		if spec.Required {
			return Anchor{}, fmt.Errorf("anchor %s is after the allowed event window", FormatEpoch(anchor.Epoch))
		}
		// Policies with a cutoff fallback saturate at the upper bound
		// instead of failing.
		anchor.Epoch = spec.BoundHiEpoch
	}
	return anchor, nil
}

// Resolve derives the observation window from a validated anchor.
func Resolve(anchor Anchor, spec policy.WindowSpec) (Window, error) {
	switch spec.Mode {
	case policy.WindowOffsetDuration:
		start := CeilToGrid(anchor.Epoch+spec.CooldownSeconds, spec.GridSeconds)
		return Window{Start: start, End: start + spec.DurationSeconds}, nil
	case policy.WindowFixedOffset:
		start := anchor.Epoch + spec.OffsetSeconds
		return Window{Start: start, End: start + spec.DurationSeconds}, nil
	case policy.WindowFixedCalendar:
		return Window{Start: spec.StartEpoch, End: spec.EndEpoch, Closed: true}, nil
	default:
		return Window{}, fmt.Errorf("unknown window mode %q", spec.Mode)
	}
}

// EffectiveEnd truncates a still-elapsing fixed-cadence window to the
// exclusive bound of slots that have fully closed by now. A slot
// opening at t is closed once now >= t + cadence. The returned value
// never exceeds the configured window end.
func EffectiveEnd(w Window, now, cadence int64) int64 {
	closedBound := FloorToGrid(now, cadence)
	if closedBound > w.End {
		return w.End
	}
	return closedBound
}
