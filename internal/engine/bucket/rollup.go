package bucket

import (
	"sort"

	"github.com/facmon/facmon/internal/engine/types"
)

// Reaggregate rolls finer buckets up into the target granularity: sum of
// sums, min of mins, max of maxes, sum of counts. Reaggregating the hour
// buckets of one day must agree exactly with the directly-maintained day
// bucket on count, sum, min, and max.
//
// Percentile sketches cannot be merged from finished results, so rolled-up
// buckets carry no percentiles. Empty input buckets are skipped; results are
// returned in ascending bucket-start order.
func Reaggregate(target types.Granularity, results []types.BucketResult) []types.BucketResult {
	type rollupKey struct {
		entityID string
		metric   string
		start    int64
	}

	merged := make(map[rollupKey]*types.BucketResult)

	for i := range results {
		r := &results[i]
		if r.Count == 0 {
			continue
		}

		key := rollupKey{
			entityID: r.EntityID,
			metric:   r.Metric,
			start:    target.TruncateMs(r.BucketStart),
		}

		agg, ok := merged[key]
		if !ok {
			agg = &types.BucketResult{
				EntityID:    r.EntityID,
				Metric:      r.Metric,
				Granularity: target,
				BucketStart: key.start,
				BucketEnd:   key.start + target.Duration().Milliseconds(),
				Min:         r.Min,
				Max:         r.Max,
				FirstTs:     r.FirstTs,
				LastTs:      r.LastTs,
			}
			merged[key] = agg
		}

		agg.Count += r.Count
		agg.Sum += r.Sum
		if r.Min < agg.Min {
			agg.Min = r.Min
		}
		if r.Max > agg.Max {
			agg.Max = r.Max
		}
		if r.FirstTs != 0 && (agg.FirstTs == 0 || r.FirstTs < agg.FirstTs) {
			agg.FirstTs = r.FirstTs
		}
		if r.LastTs > agg.LastTs {
			agg.LastTs = r.LastTs
		}
	}

	out := make([]types.BucketResult, 0, len(merged))
	for _, agg := range merged {
		agg.Avg = agg.Sum / float64(agg.Count)
		out = append(out, *agg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BucketStart != out[j].BucketStart {
			return out[i].BucketStart < out[j].BucketStart
		}
		return out[i].Key() < out[j].Key()
	})

	return out
}
