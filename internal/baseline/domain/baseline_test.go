package baseline

import (
	"math"
	"testing"
	"time"
)

func TestBucketForMondayIndexed(t *testing.T) {
	cases := []struct {
		name string
		ts   time.Time
		want int
	}{
		{"monday midnight", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 0},
		{"monday 13h", time.Date(2026, 1, 5, 13, 30, 0, 0, time.UTC), 13},
		{"wednesday 8h", time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC), 56},
		{"sunday 23h", time.Date(2026, 1, 11, 23, 59, 0, 0, time.UTC), 167},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BucketFor(tc.ts); got != tc.want {
				t.Fatalf("BucketFor(%s) = %d, want %d", tc.ts, got, tc.want)
			}
		})
	}
}

func TestAccumulatorStats(t *testing.T) {
	var acc Accumulator
	for _, value := range []float64{4, 8, 6, 2} {
		acc.Add(value)
	}
	mean := acc.Mean()
	if mean == nil || *mean != 5 {
		t.Fatalf("mean = %v, want 5", mean)
	}
	std := acc.Std()
	// population variance of {4,8,6,2} is 5
	if std == nil || math.Abs(*std-math.Sqrt(5)) > 1e-12 {
		t.Fatalf("std = %v, want sqrt(5)", std)
	}
}

func TestAccumulatorStdNilForSingleSample(t *testing.T) {
	var acc Accumulator
	acc.Add(42)
	if acc.Std() != nil {
		t.Fatal("std must be nil for a single sample")
	}
	if mean := acc.Mean(); mean == nil || *mean != 42 {
		t.Fatalf("mean = %v, want 42", mean)
	}
}

func TestAccumulatorVarianceClamped(t *testing.T) {
	var acc Accumulator
	// Identical values can yield a tiny negative variance from
	// floating rounding; Std must clamp instead of returning NaN.
	for i := 0; i < 7; i++ {
		acc.Add(0.1)
	}
	std := acc.Std()
	if std == nil {
		t.Fatal("expected std")
	}
	if math.IsNaN(*std) || *std < 0 {
		t.Fatalf("std = %v, want clamped non-negative", *std)
	}
}
