package aggregate

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/butterygg/metric-report/internal/policy"
)

func decs(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestMean(t *testing.T) {
	mean, err := Mean(decs("10", "10", "30"))
	if err != nil {
		t.Fatalf("Mean returned error: %v", err)
	}
	if !strings.HasPrefix(mean.String(), "16.6666666666666666") {
		t.Fatalf("unexpected mean %s", mean)
	}

	mean, err = Mean(decs("2", "4"))
	if err != nil {
		t.Fatalf("Mean returned error: %v", err)
	}
	if !mean.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("expected 3, got %s", mean)
	}

	if _, err := Mean(nil); err == nil {
		t.Fatalf("empty input must fail")
	}
}

func TestMedianParity(t *testing.T) {
	med, err := Median(decs("3", "1", "2"))
	if err != nil {
		t.Fatalf("Median returned error: %v", err)
	}
	if !med.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("odd-count median should be 2, got %s", med)
	}

	med, err = Median(decs("4", "1", "3", "2"))
	if err != nil {
		t.Fatalf("Median returned error: %v", err)
	}
	if !med.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("even-count median should be 2.5, got %s", med)
	}

	if _, err := Median(nil); err == nil {
		t.Fatalf("empty input must fail")
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	values := decs("3", "1", "2")
	if _, err := Median(values); err != nil {
		t.Fatalf("Median returned error: %v", err)
	}
	if !values[0].Equal(decimal.RequireFromString("3")) {
		t.Fatalf("input slice was reordered")
	}
}

func TestReduceDispatch(t *testing.T) {
	if _, err := Reduce(decs("1"), policy.Method("mode")); err == nil {
		t.Fatalf("unknown method must fail")
	}
	scalar, err := Reduce(decs("1", "2", "3"), policy.MethodMedian)
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}
	if !scalar.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("unexpected median %s", scalar)
	}
}

func TestMeanDeterministic(t *testing.T) {
	values := decs("113900.01", "113899.99", "113901.27")
	first, err := Mean(values)
	if err != nil {
		t.Fatalf("Mean returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Mean(values)
		if err != nil {
			t.Fatalf("Mean returned error: %v", err)
		}
		if first.String() != again.String() {
			t.Fatalf("mean drifted between runs: %s vs %s", first, again)
		}
	}
}
