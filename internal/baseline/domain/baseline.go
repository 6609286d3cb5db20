package baseline

import (
	"math"
	"time"
)

// BucketCount is the number of hour-of-week buckets (7 days x 24 hours).
const BucketCount = 168

// Baseline holds rolling statistics for one device and hour-of-week
// bucket. Std pointers are nil when the sample count is too small for a
// meaningful spread (n <= 1).
type Baseline struct {
	DeviceID    string
	Bucket      int
	DeltaTMean  *float64
	DeltaTStd   *float64
	DeltaTCount int
	COPMean     *float64
	COPStd      *float64
	COPCount    int
	ComputedAt  time.Time
}

// BucketFor maps a timestamp to its hour-of-week bucket, Monday-indexed:
// Monday 00:00 UTC is bucket 0, Sunday 23:00 UTC is bucket 167.
func BucketFor(ts time.Time) int {
	ts = ts.UTC()
	weekday := (int(ts.Weekday()) + 6) % 7
	return weekday*24 + ts.Hour()
}

// Accumulator collects values for one metric of one group.
type Accumulator struct {
	count int
	sum   float64
	sumSq float64
}

// Add records a value.
func (a *Accumulator) Add(value float64) {
	a.count++
	a.sum += value
	a.sumSq += value * value
}

// Count returns the number of recorded values.
func (a *Accumulator) Count() int {
	return a.count
}

// Mean returns the mean, or nil with no values.
func (a *Accumulator) Mean() *float64 {
	if a.count == 0 {
		return nil
	}
	mean := a.sum / float64(a.count)
	return &mean
}

// Std returns the population standard deviation, or nil when count <= 1.
// Variance is E[x^2] - E[x]^2 clamped at zero before the square root.
func (a *Accumulator) Std() *float64 {
	if a.count <= 1 {
		return nil
	}
	mean := a.sum / float64(a.count)
	variance := a.sumSq/float64(a.count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)
	return &std
}
