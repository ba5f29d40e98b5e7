package bucket

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/facmon/facmon/internal/engine/types"
)

// StreamingBucket maintains running statistics for a single time bucket of
// one (entity, metric) series. It supports optional percentile calculation
// using DDSketch.
//
// A StreamingBucket is not safe for concurrent use on its own; the owning
// series serializes access.
type StreamingBucket struct {
	// Identity
	entityID    string
	metric      string
	granularity types.Granularity

	// Time bucket
	bucketStart int64 // Unix milliseconds
	bucketEnd   int64 // Unix milliseconds

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// newStreamingBucket creates a bucket for the interval starting at
// bucketStart. When accuracy > 0, a DDSketch with that relative accuracy
// records values for percentile queries.
func newStreamingBucket(entityID, metric string, granularity types.Granularity, bucketStart int64, accuracy float64) *StreamingBucket {
	b := &StreamingBucket{
		entityID:    entityID,
		metric:      metric,
		granularity: granularity,
		bucketStart: bucketStart,
		bucketEnd:   bucketStart + granularity.Duration().Milliseconds(),
		min:         math.MaxFloat64,
		max:         -math.MaxFloat64,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			b.sketch = sketch
		}
	}

	return b
}

// Add folds a value into the bucket.
func (b *StreamingBucket) Add(value float64, timestampMs int64) {
	b.count++
	b.sum += value

	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}

	if b.firstTs == 0 || timestampMs < b.firstTs {
		b.firstTs = timestampMs
	}
	if timestampMs > b.lastTs {
		b.lastTs = timestampMs
	}

	if b.sketch != nil {
		b.sketch.Add(value)
	}
}

// Count returns the number of readings folded in.
func (b *StreamingBucket) Count() int64 {
	return b.count
}

// IsEmpty returns true if no readings have been folded in.
func (b *StreamingBucket) IsEmpty() bool {
	return b.count == 0
}

// BucketStart returns the bucket start timestamp in Unix milliseconds.
func (b *StreamingBucket) BucketStart() int64 {
	return b.bucketStart
}

// Result returns a copy of the aggregation state as a value object.
func (b *StreamingBucket) Result() types.BucketResult {
	result := types.BucketResult{
		EntityID:    b.entityID,
		Metric:      b.metric,
		Granularity: b.granularity,
		BucketStart: b.bucketStart,
		BucketEnd:   b.bucketEnd,
		Count:       b.count,
		Sum:         b.sum,
		FirstTs:     b.firstTs,
		LastTs:      b.lastTs,
	}

	if b.count > 0 {
		result.Avg = b.sum / float64(b.count)
		result.Min = b.min
		result.Max = b.max
	}

	if b.sketch != nil && b.count > 0 {
		p50, _ := b.sketch.GetValueAtQuantile(0.50)
		p90, _ := b.sketch.GetValueAtQuantile(0.90)
		p95, _ := b.sketch.GetValueAtQuantile(0.95)
		p99, _ := b.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}
