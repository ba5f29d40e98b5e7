package bucket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// Store maintains the rolling hour and day buckets for every
// (entity, metric) series.
//
// Every accepted reading contributes exactly once, independent of arrival
// order: an out-of-order reading folds into its historical bucket as long as
// that bucket is still within the retention horizon. This is the deliberate
// difference from the latest-value index, which ignores stale arrivals.
//
// The unit of mutual exclusion is one series per (entity, metric,
// granularity); writes to different keys never block each other. Queries
// copy bucket state out under the series lock, so evicted buckets are never
// freed underneath a reader.
type Store struct {
	mu     sync.RWMutex
	series map[seriesKey]*series

	opts  Options
	nowFn func() time.Time

	// Evicted non-empty buckets pending archive pickup.
	pendingMu sync.Mutex
	pending   []types.BucketResult

	stats storeCounters
}

type storeCounters struct {
	readingsProcessed atomic.Int64
	bucketsCreated    atomic.Int64
	bucketsEvicted    atomic.Int64
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	ReadingsProcessed int64
	BucketsCreated    int64
	BucketsEvicted    int64
	ActiveSeries      int64
	PendingArchive    int64
}

// Options configures a Store.
type Options struct {
	// Retention is the horizon per granularity; buckets whose interval
	// ended more than Retention+Grace ago are eligible for eviction.
	Retention map[types.Granularity]time.Duration

	// Grace delays eviction so late arrivals can still fold in.
	Grace time.Duration

	// PercentileAccuracy enables per-bucket DDSketch percentiles when > 0.
	PercentileAccuracy float64

	// KeepEvicted retains evicted non-empty buckets for archive pickup via
	// DrainEvicted. When false, evicted buckets are discarded.
	KeepEvicted bool
}

type seriesKey struct {
	entityID    string
	metric      string
	granularity types.Granularity
}

type series struct {
	mu      sync.Mutex
	buckets map[int64]*StreamingBucket // keyed by bucket start

	// lastEvict tracks when expired buckets were last swept from this
	// series, to amortize the scan across writes.
	lastEvict int64
}

// NewStore creates a store with the given options.
func NewStore(opts Options) *Store {
	if opts.Retention == nil {
		opts.Retention = map[types.Granularity]time.Duration{
			types.GranularityHour: 7 * 24 * time.Hour,
			types.GranularityDay:  90 * 24 * time.Hour,
		}
	}

	return &Store{
		series: make(map[seriesKey]*series),
		opts:   opts,
		nowFn:  time.Now,
	}
}

// Update folds an accepted reading into its hour and day buckets. The bucket
// for the reading's interval is created lazily on first use.
func (s *Store) Update(r types.Reading) {
	for _, g := range types.AllGranularities() {
		s.updateSeries(r, g)
	}
	s.stats.readingsProcessed.Add(1)
}

func (s *Store) updateSeries(r types.Reading, g types.Granularity) {
	key := seriesKey{entityID: r.EntityID, metric: r.Metric, granularity: g}
	ser := s.getOrCreateSeries(key)

	ser.mu.Lock()

	start := g.TruncateMs(r.TimestampMs)
	b, ok := ser.buckets[start]
	if !ok {
		// New-bucket creation is the amortization point for lazy eviction
		// on the write path. Sweep before inserting so the bucket being
		// created is never reaped by its own creation.
		s.evictSeriesLocked(ser, g)

		b = newStreamingBucket(r.EntityID, r.Metric, g, start, s.opts.PercentileAccuracy)
		ser.buckets[start] = b
		s.stats.bucketsCreated.Add(1)
	}
	b.Add(r.Value, r.TimestampMs)

	ser.mu.Unlock()
}

func (s *Store) getOrCreateSeries(key seriesKey) *series {
	s.mu.RLock()
	ser := s.series[key]
	s.mu.RUnlock()

	if ser != nil {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser = s.series[key]
	if ser == nil {
		ser = &series{buckets: make(map[int64]*StreamingBucket)}
		s.series[key] = ser
	}
	return ser
}

// Query returns the buckets of one series that overlap the half-open window
// [w.StartMs, w.EndMs), in ascending bucket-start order. A window with no
// data yields an empty sequence, not an error; an empty or inverted window
// is an error with no partial computation.
func (s *Store) Query(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) ([]types.BucketResult, error) {
	if !w.IsValid() {
		return nil, apperrors.ErrInvalidWindow
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := seriesKey{entityID: entityID, metric: metric, granularity: g}

	s.mu.RLock()
	ser := s.series[key]
	s.mu.RUnlock()

	if ser == nil {
		return nil, nil
	}

	ser.mu.Lock()
	s.evictSeriesLocked(ser, g)

	results := make([]types.BucketResult, 0, len(ser.buckets))
	for start, b := range ser.buckets {
		if w.Overlaps(start, start+g.Duration().Milliseconds()) && !b.IsEmpty() {
			results = append(results, b.Result())
		}
	}
	ser.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].BucketStart < results[j].BucketStart
	})

	return results, nil
}

// evictSeriesLocked removes buckets past the retention horizon from a
// series. Caller holds the series lock. Evicted non-empty buckets are moved
// to the pending archive queue when KeepEvicted is set; the queue is
// appended under its own lock so no file I/O ever happens on this path.
func (s *Store) evictSeriesLocked(ser *series, g types.Granularity) {
	nowMs := s.nowFn().UnixMilli()
	if ser.lastEvict != 0 && nowMs-ser.lastEvict < time.Minute.Milliseconds() {
		return
	}
	ser.lastEvict = nowMs

	cutoff := nowMs - (s.opts.Retention[g] + s.opts.Grace).Milliseconds()

	var evicted []types.BucketResult
	widthMs := g.Duration().Milliseconds()
	for start, b := range ser.buckets {
		if start+widthMs >= cutoff {
			continue
		}
		if s.opts.KeepEvicted && !b.IsEmpty() {
			evicted = append(evicted, b.Result())
		}
		delete(ser.buckets, start)
		s.stats.bucketsEvicted.Add(1)
	}

	if len(evicted) > 0 {
		s.pendingMu.Lock()
		s.pending = append(s.pending, evicted...)
		s.pendingMu.Unlock()
	}
}

// EvictExpired sweeps every series and returns the number of buckets
// removed. Lazy eviction on the write and query paths keeps results correct
// without this; the sweep only bounds the footprint of idle series.
func (s *Store) EvictExpired() int {
	s.mu.RLock()
	keys := make([]seriesKey, 0, len(s.series))
	all := make([]*series, 0, len(s.series))
	for key, ser := range s.series {
		keys = append(keys, key)
		all = append(all, ser)
	}
	s.mu.RUnlock()

	before := s.stats.bucketsEvicted.Load()
	for i, ser := range all {
		ser.mu.Lock()
		ser.lastEvict = 0 // force the sweep regardless of amortization
		s.evictSeriesLocked(ser, keys[i].granularity)
		ser.mu.Unlock()
	}
	return int(s.stats.bucketsEvicted.Load() - before)
}

// DrainEvicted returns and clears the evicted buckets pending archive.
func (s *Store) DrainEvicted() []types.BucketResult {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// Entities returns the sorted entity IDs with an active series for a metric
// at the given granularity.
func (s *Store) Entities(metric string, g types.Granularity) []string {
	s.mu.RLock()
	var out []string
	for key := range s.series {
		if key.metric == metric && key.granularity == g {
			out = append(out, key.entityID)
		}
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

// SeriesCount returns the number of active series across granularities.
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.pendingMu.Lock()
	pending := int64(len(s.pending))
	s.pendingMu.Unlock()

	return Stats{
		ReadingsProcessed: s.stats.readingsProcessed.Load(),
		BucketsCreated:    s.stats.bucketsCreated.Load(),
		BucketsEvicted:    s.stats.bucketsEvicted.Load(),
		ActiveSeries:      int64(s.SeriesCount()),
		PendingArchive:    pending,
	}
}

// SetClock overrides the store's wall clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.nowFn = now
}
