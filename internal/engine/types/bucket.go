package types

import "time"

// Granularity is the width of an aggregation bucket.
type Granularity int

const (
	// GranularityHour buckets readings into hour-aligned intervals.
	GranularityHour Granularity = iota
	// GranularityDay buckets readings into UTC-day-aligned intervals.
	GranularityDay
)

// AllGranularities returns every supported granularity, finest first.
func AllGranularities() []Granularity {
	return []Granularity{GranularityHour, GranularityDay}
}

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// String returns a human-readable representation of the Granularity.
func (g Granularity) String() string {
	switch g {
	case GranularityHour:
		return "hourly"
	case GranularityDay:
		return "daily"
	default:
		return "unknown"
	}
}

// TruncateMs floors a millisecond timestamp to the start of its bucket.
// Alignment is UTC for both hour and day buckets.
func (g Granularity) TruncateMs(tsMs int64) int64 {
	widthMs := g.Duration().Milliseconds()
	start := (tsMs / widthMs) * widthMs
	if tsMs < 0 && tsMs%widthMs != 0 {
		start -= widthMs
	}
	return start
}

// BucketResult represents aggregated statistics for one time bucket of one
// (entity, metric) series. It is a value object: constructed fresh per query
// and never mutated after return.
type BucketResult struct {
	// Identity
	EntityID    string
	Metric      string
	Granularity Granularity

	// Time bucket
	BucketStart int64 // Unix timestamp in milliseconds (bucket start)
	BucketEnd   int64 // Unix timestamp in milliseconds (bucket end)

	// Basic statistics (always present)
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64 // Sum / Count, zero when Count == 0

	// Percentiles (optional, nil if not enabled)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64

	// Timestamps of actual readings
	FirstTs int64
	LastTs  int64
}

// Key returns a unique identifier for this bucket's series.
func (b *BucketResult) Key() string {
	return b.EntityID + "/" + b.Metric
}

// BucketStartTime returns the bucket start as a time.Time.
func (b *BucketResult) BucketStartTime() time.Time {
	return time.UnixMilli(b.BucketStart)
}

// BucketEndTime returns the bucket end as a time.Time.
func (b *BucketResult) BucketEndTime() time.Time {
	return time.UnixMilli(b.BucketEnd)
}

// IsEmpty returns true if no readings were aggregated.
func (b *BucketResult) IsEmpty() bool {
	return b.Count == 0
}

// Average returns Sum/Count and true, or zero and false when the bucket is
// empty. Callers must check the second return instead of dividing by Count.
func (b *BucketResult) Average() (float64, bool) {
	if b.Count == 0 {
		return 0, false
	}
	return b.Sum / float64(b.Count), true
}

// HasPercentiles returns true if percentile data is available.
func (b *BucketResult) HasPercentiles() bool {
	return b.P50 != nil
}

// SetPercentiles sets all percentile values.
func (b *BucketResult) SetPercentiles(p50, p90, p95, p99 float64) {
	b.P50 = &p50
	b.P90 = &p90
	b.P95 = &p95
	b.P99 = &p99
}
