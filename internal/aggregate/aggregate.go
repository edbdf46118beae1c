// Package aggregate reduces a sample set to one scalar in exact
// decimal arithmetic.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/policy"
)

// divisionPrecision fixes the decimal digits carried through division
// so every run reproduces the same scalar bit for bit.
const divisionPrecision = 34

// Reduce applies the configured method to the values.
func Reduce(values []decimal.Decimal, method policy.Method) (decimal.Decimal, error) {
	switch method {
	case policy.MethodMean:
		return Mean(values)
	case policy.MethodMedian:
		return Median(values)
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown aggregation method %q", method)
	}
}

// Mean is the equal-weight arithmetic average, the TWAP proxy over a
// uniform-cadence grid.
func Mean(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Decimal{}, fmt.Errorf("mean of empty sample set")
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(values))), divisionPrecision), nil
}

// Median is the robust central estimate over irregular point samples.
// Even counts average the two central elements exactly.
func Median(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Decimal{}, fmt.Errorf("median of empty sample set")
	}
	ordered := make([]decimal.Decimal, len(values))
	copy(ordered, values)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].LessThan(ordered[j]) })

	mid := len(ordered) / 2
	if len(ordered)%2 == 1 {
		return ordered[mid], nil
	}
	return ordered[mid-1].Add(ordered[mid]).DivRound(decimal.NewFromInt(2), divisionPrecision), nil
}
