// Package sample converts raw source points into the canonical
// ordered sample set the aggregation pipeline consumes.
package sample

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/window"
)

// RawPoint is a point as received from a source adapter. Ts is unit
// ambiguous (seconds or milliseconds). Candidates holds the value
// literals in field-precedence order; the first non-empty literal is
// the point's value and a parse failure rejects the point rather than
// falling through to the next candidate.
type RawPoint struct {
	Ts         int64
	Candidates []string
}

// Sample is the canonical post-normalization unit: integer epoch
// seconds plus an exact-decimal value.
type Sample struct {
	Ts    int64
	Value decimal.Decimal
}

// Stats captures the audit side channel of a normalization pass.
type Stats struct {
	ObservedCount int
	EarliestTs    int64
	LatestTs      int64
}

// Normalize filters raw points down to the window, deduplicates on
// normalized timestamp (last arrival wins), and returns the retained
// samples sorted ascending. A point is dropped when its resolved value
// is missing, unparseable, or not strictly positive.
func Normalize(points []RawPoint, w window.Window) ([]Sample, Stats) {
	latest := make(map[int64]decimal.Decimal, len(points))
	for _, pt := range points {
		ts := window.ParseEpoch(pt.Ts)
		if !w.Contains(ts) {
			continue
		}
		value, ok := resolveValue(pt.Candidates)
		if !ok {
			continue
		}
		latest[ts] = value
	}

	samples := make([]Sample, 0, len(latest))
	for ts, value := range latest {
		samples = append(samples, Sample{Ts: ts, Value: value})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Ts < samples[j].Ts })

	stats := Stats{ObservedCount: len(samples)}
	if len(samples) > 0 {
		stats.EarliestTs = samples[0].Ts
		stats.LatestTs = samples[len(samples)-1].Ts
	}
	return samples, stats
}

func resolveValue(candidates []string) (decimal.Decimal, bool) {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, false
		}
		if value.Sign() <= 0 {
			return decimal.Decimal{}, false
		}
		return value, true
	}
	return decimal.Decimal{}, false
}

// Values projects the decimal values of an ordered sample set.
func Values(samples []Sample) []decimal.Decimal {
	out := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
