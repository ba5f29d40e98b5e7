// Package rank produces cross-entity ranked summaries over a time window.
package rank

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// SortField selects the summary statistic entities are ranked by.
type SortField int

const (
	SortByAvg SortField = iota
	SortByMax
	SortByMin
	SortByCount
)

// String returns a human-readable representation of the SortField.
func (f SortField) String() string {
	switch f {
	case SortByAvg:
		return "avg"
	case SortByMax:
		return "max"
	case SortByMin:
		return "min"
	case SortByCount:
		return "count"
	default:
		return "unknown"
	}
}

// Summary is one entity's aggregated window statistics plus its dense rank.
// Rank 1 is the busiest/most congested entity for the chosen sort field.
type Summary struct {
	EntityID string
	Count    int64
	Avg      float64
	Min      float64
	Max      float64
	Rank     int
}

// Report is a comparison across entities for one metric and window. It is a
// value object: constructed fresh per query and never mutated after return.
// Entities with zero data points are listed under NoData instead of being
// ranked, so an unmonitored entity never masquerades as an idle one.
type Report struct {
	Metric      string
	Window      types.Window
	Granularity types.Granularity
	SortBy      SortField
	Entries     []Summary
	NoData      []string
}

// Busiest returns the top-ranked entity summary.
func (r *Report) Busiest() (Summary, bool) {
	if len(r.Entries) == 0 {
		return Summary{}, false
	}
	return r.Entries[0], true
}

// LeastBusy returns the bottom-ranked entity summary.
func (r *Report) LeastBusy() (Summary, bool) {
	if len(r.Entries) == 0 {
		return Summary{}, false
	}
	return r.Entries[len(r.Entries)-1], true
}

// BucketSource supplies the bucket history a report is built from.
type BucketSource interface {
	Query(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) ([]types.BucketResult, error)
}

// Ranker builds comparison reports. Concurrent identical requests are
// deduplicated through singleflight so a burst of dashboard refreshes costs
// one aggregation pass.
type Ranker struct {
	source BucketSource
	group  singleflight.Group
}

// New creates a ranker over the given bucket source.
func New(source BucketSource) *Ranker {
	return &Ranker{source: source}
}

// Compare aggregates each entity's buckets over the window into a single
// summary and ranks the entities descending by the sort field with dense
// ranks (ties share a rank; the next distinct value is one rank lower).
func (r *Ranker) Compare(ctx context.Context, entityIDs []string, metric string, w types.Window, g types.Granularity, sortBy SortField) (*Report, error) {
	if !w.IsValid() {
		return nil, apperrors.ErrInvalidWindow
	}
	if len(entityIDs) == 0 {
		return nil, apperrors.ErrNoData
	}

	key := flightKey(entityIDs, metric, w, g, sortBy)

	// The shared build runs detached from the initiating caller's context;
	// each caller reports its own cancellation after the flight returns.
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.build(context.WithoutCancel(ctx), entityIDs, metric, w, g, sortBy)
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

func (r *Ranker) build(ctx context.Context, entityIDs []string, metric string, w types.Window, g types.Granularity, sortBy SortField) (*Report, error) {
	report := &Report{
		Metric:      metric,
		Window:      w,
		Granularity: g,
		SortBy:      sortBy,
	}

	for _, entityID := range entityIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buckets, err := r.source.Query(ctx, entityID, metric, w, g)
		if err != nil {
			return nil, apperrors.Wrapf(err, "query %s/%s", entityID, metric)
		}

		summary, ok := summarize(entityID, buckets)
		if !ok {
			report.NoData = append(report.NoData, entityID)
			continue
		}
		report.Entries = append(report.Entries, summary)
	}

	sortEntries(report.Entries, sortBy)
	assignDenseRanks(report.Entries, sortBy)
	sort.Strings(report.NoData)

	return report, nil
}

// summarize folds one entity's buckets into a window summary. The second
// return is false when the entity has zero readings in the window.
func summarize(entityID string, buckets []types.BucketResult) (Summary, bool) {
	s := Summary{EntityID: entityID}
	var sum float64

	for i := range buckets {
		b := &buckets[i]
		if b.Count == 0 {
			continue
		}

		if s.Count == 0 {
			s.Min = b.Min
			s.Max = b.Max
		} else {
			if b.Min < s.Min {
				s.Min = b.Min
			}
			if b.Max > s.Max {
				s.Max = b.Max
			}
		}
		s.Count += b.Count
		sum += b.Sum
	}

	if s.Count == 0 {
		return Summary{}, false
	}
	s.Avg = sum / float64(s.Count)
	return s, true
}

func sortValue(s *Summary, sortBy SortField) float64 {
	switch sortBy {
	case SortByMax:
		return s.Max
	case SortByMin:
		return s.Min
	case SortByCount:
		return float64(s.Count)
	default:
		return s.Avg
	}
}

// sortEntries orders entries descending by the sort field; ties order by
// entity ID so reports are deterministic.
func sortEntries(entries []Summary, sortBy SortField) {
	sort.Slice(entries, func(i, j int) bool {
		vi, vj := sortValue(&entries[i], sortBy), sortValue(&entries[j], sortBy)
		if vi != vj {
			return vi > vj
		}
		return entries[i].EntityID < entries[j].EntityID
	})
}

// assignDenseRanks gives equal sort values the same rank and the next
// distinct value the next rank.
func assignDenseRanks(entries []Summary, sortBy SortField) {
	rank := 0
	prev := 0.0

	for i := range entries {
		v := sortValue(&entries[i], sortBy)
		if rank == 0 || v != prev {
			rank++
			prev = v
		}
		entries[i].Rank = rank
	}
}

func flightKey(entityIDs []string, metric string, w types.Window, g types.Granularity, sortBy SortField) string {
	ids := append([]string(nil), entityIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("%s|%d|%d|%s|%s|%s",
		metric, w.StartMs, w.EndMs, g, sortBy, strings.Join(ids, ","))
}
