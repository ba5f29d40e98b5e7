// Package trend derives peak-period and trend summaries from bucket history.
package trend

import (
	"math"

	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// Direction is the sign of a trend after the flatness epsilon is applied.
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionUp
	DirectionDown
)

// String returns a human-readable representation of the Direction.
func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "UP"
	case DirectionDown:
		return "DOWN"
	case DirectionFlat:
		return "FLAT"
	default:
		return "unknown"
	}
}

// PeakResult identifies the bucket with the maximum average in a range.
type PeakResult struct {
	BucketStart int64
	BucketEnd   int64
	PeakValue   float64 // average of the peak bucket
	Count       int64   // readings in the peak bucket
}

// TrendResult compares a current window against a prior one.
type TrendResult struct {
	CurrentAvg    float64
	PriorAvg      float64
	PercentChange float64
	Direction     Direction
}

// Analyzer computes peak and trend summaries. It holds no mutable state and
// is safe for concurrent use.
type Analyzer struct {
	flatnessEpsilonPct float64
}

// New creates an analyzer with the given flatness epsilon, in percent.
// Percentage changes with magnitude below the epsilon report FLAT.
func New(flatnessEpsilonPct float64) *Analyzer {
	return &Analyzer{flatnessEpsilonPct: flatnessEpsilonPct}
}

// PeakWindow scans buckets and selects the one with the maximum average.
// Ties break toward the earliest bucket start. Empty buckets never win; a
// range with no data reports ErrNoData rather than a zero-valued peak.
func (a *Analyzer) PeakWindow(buckets []types.BucketResult) (PeakResult, error) {
	var peak PeakResult
	found := false

	for i := range buckets {
		avg, ok := buckets[i].Average()
		if !ok {
			continue
		}

		if !found || avg > peak.PeakValue ||
			(avg == peak.PeakValue && buckets[i].BucketStart < peak.BucketStart) {
			peak = PeakResult{
				BucketStart: buckets[i].BucketStart,
				BucketEnd:   buckets[i].BucketEnd,
				PeakValue:   avg,
				Count:       buckets[i].Count,
			}
			found = true
		}
	}

	if !found {
		return PeakResult{}, apperrors.ErrNoData
	}
	return peak, nil
}

// Trend compares the reading-weighted average of the current window against
// the prior window. When the prior window has no data or a zero average, the
// result is ErrInsufficientHistory: a baseline of zero must never produce
// ±Inf, and "no data" must never masquerade as a computed change.
func (a *Analyzer) Trend(current, prior []types.BucketResult) (TrendResult, error) {
	currentAvg, currentOK := WindowAverage(current)
	priorAvg, priorOK := WindowAverage(prior)

	if !priorOK || priorAvg == 0 {
		return TrendResult{}, apperrors.ErrInsufficientHistory
	}
	if !currentOK {
		return TrendResult{}, apperrors.ErrInsufficientHistory
	}

	change := (currentAvg - priorAvg) / priorAvg * 100

	direction := DirectionFlat
	if math.Abs(change) >= a.flatnessEpsilonPct {
		if change > 0 {
			direction = DirectionUp
		} else {
			direction = DirectionDown
		}
	}

	return TrendResult{
		CurrentAvg:    currentAvg,
		PriorAvg:      priorAvg,
		PercentChange: change,
		Direction:     direction,
	}, nil
}

// WindowAverage returns the reading-weighted average over a set of buckets
// (sum of sums over sum of counts). The second return is false when the
// buckets hold no readings.
func WindowAverage(buckets []types.BucketResult) (float64, bool) {
	var sum float64
	var count int64

	for i := range buckets {
		sum += buckets[i].Sum
		count += buckets[i].Count
	}

	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
