// Package rounding applies the named rounding law to the scaled
// scalar. The x100 scale is the cents/basis-point convention every
// question uses.
package rounding

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/policy"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
)

// ToInteger scales the scalar by 100 and rounds under the given law.
// The result is unsigned; a negative outcome is an error, never a
// silent wrap.
func ToInteger(scalar decimal.Decimal, law policy.Law) (uint64, error) {
	scaled := scalar.Mul(hundred)
	var rounded decimal.Decimal
	switch law {
	case policy.LawHalfUp:
		// floor(x + 0.5): ties resolve away from zero for the
		// non-negative values this engine produces.
		rounded = scaled.Add(half).Floor()
	case policy.LawCeiling:
		rounded = scaled.Ceil()
	default:
		return 0, fmt.Errorf("unknown rounding law %q", law)
	}
	if rounded.Sign() < 0 {
		return 0, fmt.Errorf("rounded result %s is negative", rounded)
	}
	return uint64(rounded.IntPart()), nil
}
