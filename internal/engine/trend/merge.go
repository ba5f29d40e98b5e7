package trend

import (
	"sort"

	"github.com/facmon/facmon/internal/engine/types"
)

// MergeByBucketStart combines buckets from multiple entities into one series
// of per-interval totals, so a peak can be computed across a whole facility
// rather than a single counter. The merged buckets carry an empty entity ID.
// Percentiles are dropped; sketches cannot be merged from finished results.
func MergeByBucketStart(buckets []types.BucketResult) []types.BucketResult {
	merged := make(map[int64]*types.BucketResult)

	for i := range buckets {
		b := &buckets[i]
		if b.Count == 0 {
			continue
		}

		agg, ok := merged[b.BucketStart]
		if !ok {
			agg = &types.BucketResult{
				Metric:      b.Metric,
				Granularity: b.Granularity,
				BucketStart: b.BucketStart,
				BucketEnd:   b.BucketEnd,
				Min:         b.Min,
				Max:         b.Max,
				FirstTs:     b.FirstTs,
				LastTs:      b.LastTs,
			}
			merged[b.BucketStart] = agg
		}

		agg.Count += b.Count
		agg.Sum += b.Sum
		if b.Min < agg.Min {
			agg.Min = b.Min
		}
		if b.Max > agg.Max {
			agg.Max = b.Max
		}
		if b.FirstTs != 0 && (agg.FirstTs == 0 || b.FirstTs < agg.FirstTs) {
			agg.FirstTs = b.FirstTs
		}
		if b.LastTs > agg.LastTs {
			agg.LastTs = b.LastTs
		}
	}

	out := make([]types.BucketResult, 0, len(merged))
	for _, agg := range merged {
		agg.Avg = agg.Sum / float64(agg.Count)
		out = append(out, *agg)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart < out[j].BucketStart
	})

	return out
}
