package bucket

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// fixedClock pins store time so eviction behavior is deterministic.
var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(opts Options) *Store {
	s := NewStore(opts)
	s.SetClock(func() time.Time { return fixedNow })
	return s
}

func reading(entity, metric string, value float64, ts time.Time) types.Reading {
	return types.Reading{EntityID: entity, Metric: metric, Value: value, TimestampMs: ts.UnixMilli()}
}

func queryAll(t *testing.T, s *Store, entity, metric string, g types.Granularity) []types.BucketResult {
	t.Helper()
	w := types.Window{StartMs: 0, EndMs: fixedNow.Add(24 * time.Hour).UnixMilli()}
	results, err := s.Query(context.Background(), entity, metric, w, g)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return results
}

func TestStore_MorningScenario(t *testing.T) {
	s := newTestStore(Options{})

	// Three queue readings inside the 09:00 hour.
	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.Update(reading("gate-a", "queue_length", 3, nine))
	s.Update(reading("gate-a", "queue_length", 12, nine.Add(20*time.Minute)))
	s.Update(reading("gate-a", "queue_length", 20, nine.Add(45*time.Minute)))

	results := queryAll(t, s, "gate-a", "queue_length", types.GranularityHour)
	if len(results) != 1 {
		t.Fatalf("expected 1 hour bucket, got %d", len(results))
	}

	b := results[0]
	if b.Count != 3 {
		t.Errorf("expected count=3, got %d", b.Count)
	}
	if b.Min != 3 || b.Max != 20 {
		t.Errorf("expected min=3 max=20, got %f %f", b.Min, b.Max)
	}
	if math.Abs(b.Avg-35.0/3) > 0.01 {
		t.Errorf("expected avg≈11.67, got %f", b.Avg)
	}
	if b.BucketStart != nine.UnixMilli() {
		t.Errorf("expected bucket start at 09:00, got %d", b.BucketStart)
	}
}

func TestStore_FanOutToDayBucket(t *testing.T) {
	s := newTestStore(Options{})

	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.Update(reading("gate-a", "queue_length", 3, nine))
	s.Update(reading("gate-a", "queue_length", 12, nine.Add(2*time.Hour)))

	hours := queryAll(t, s, "gate-a", "queue_length", types.GranularityHour)
	if len(hours) != 2 {
		t.Errorf("expected 2 hour buckets, got %d", len(hours))
	}

	days := queryAll(t, s, "gate-a", "queue_length", types.GranularityDay)
	if len(days) != 1 {
		t.Fatalf("expected 1 day bucket, got %d", len(days))
	}
	if days[0].Count != 2 || days[0].Sum != 15 {
		t.Errorf("day bucket should fold both readings: %+v", days[0])
	}
	dayStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC).UnixMilli()
	if days[0].BucketStart != dayStart {
		t.Errorf("day bucket should align to UTC midnight, got %d", days[0].BucketStart)
	}
}

func TestStore_OrderIndependence(t *testing.T) {
	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	readings := []types.Reading{
		reading("gate-a", "queue_length", 3, nine),
		reading("gate-a", "queue_length", 12, nine.Add(20*time.Minute)),
		reading("gate-a", "queue_length", 20, nine.Add(45*time.Minute)),
	}

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}

	var want types.BucketResult
	for n, order := range orders {
		s := newTestStore(Options{})
		for _, i := range order {
			s.Update(readings[i])
		}

		results := queryAll(t, s, "gate-a", "queue_length", types.GranularityHour)
		if len(results) != 1 {
			t.Fatalf("order %v: expected 1 bucket, got %d", order, len(results))
		}
		if n == 0 {
			want = results[0]
			continue
		}

		got := results[0]
		if got.Count != want.Count || got.Sum != want.Sum || got.Min != want.Min || got.Max != want.Max {
			t.Errorf("order %v: aggregates differ: %+v vs %+v", order, got, want)
		}
	}
}

func TestStore_DuplicateDeliveryCounted(t *testing.T) {
	// The bucket layer counts every delivery; idempotence is the producer's
	// concern, not the aggregator's.
	s := newTestStore(Options{})

	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := reading("gate-a", "queue_length", 7, nine)
	s.Update(r)
	s.Update(r)

	results := queryAll(t, s, "gate-a", "queue_length", types.GranularityHour)
	if results[0].Count != 2 {
		t.Errorf("expected count=2 after duplicate delivery, got %d", results[0].Count)
	}
	if results[0].Sum != 14 {
		t.Errorf("expected sum=14, got %f", results[0].Sum)
	}
}

func TestStore_QueryWindow(t *testing.T) {
	s := newTestStore(Options{})

	for h := 6; h < 12; h++ {
		ts := time.Date(2025, 3, 10, h, 30, 0, 0, time.UTC)
		s.Update(reading("gate-a", "queue_length", float64(h), ts))
	}

	// Half-open window [08:00, 10:00) must return the 08 and 09 buckets only.
	w := types.NewWindow(
		time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	)
	results, err := s.Query(context.Background(), "gate-a", "queue_length", w, types.GranularityHour)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(results))
	}
	if results[0].Avg != 8 || results[1].Avg != 9 {
		t.Errorf("expected 08 and 09 buckets in order, got %f %f", results[0].Avg, results[1].Avg)
	}
}

func TestStore_QueryInvalidWindow(t *testing.T) {
	s := newTestStore(Options{})

	w := types.Window{StartMs: 2000, EndMs: 1000}
	_, err := s.Query(context.Background(), "gate-a", "queue_length", w, types.GranularityHour)
	if !apperrors.Is(err, apperrors.ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestStore_QueryUnknownSeries(t *testing.T) {
	s := newTestStore(Options{})

	w := types.Window{StartMs: 0, EndMs: fixedNow.UnixMilli()}
	results, err := s.Query(context.Background(), "nobody", "queue_length", w, types.GranularityHour)
	if err != nil {
		t.Fatalf("unknown series should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %d buckets", len(results))
	}
}

func TestStore_QueryCancelledContext(t *testing.T) {
	s := newTestStore(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := types.Window{StartMs: 0, EndMs: fixedNow.UnixMilli()}
	if _, err := s.Query(ctx, "gate-a", "queue_length", w, types.GranularityHour); err == nil {
		t.Error("cancelled context should abort the query")
	}
}

func TestStore_Eviction(t *testing.T) {
	s := newTestStore(Options{
		Retention: map[types.Granularity]time.Duration{
			types.GranularityHour: 24 * time.Hour,
			types.GranularityDay:  48 * time.Hour,
		},
		Grace: time.Hour,
	})

	// One reading far past the horizon, one fresh.
	old := fixedNow.Add(-72 * time.Hour)
	s.Update(reading("gate-a", "queue_length", 5, old))
	s.Update(reading("gate-a", "queue_length", 7, fixedNow.Add(-time.Hour)))

	evicted := s.EvictExpired()
	if evicted < 2 {
		t.Errorf("expected at least hour+day buckets evicted, got %d", evicted)
	}

	results := queryAll(t, s, "gate-a", "queue_length", types.GranularityHour)
	if len(results) != 1 {
		t.Fatalf("expected only the fresh bucket to survive, got %d", len(results))
	}
	if results[0].Max != 7 {
		t.Errorf("wrong bucket survived: %+v", results[0])
	}
}

func TestStore_EvictionWithinGraceKept(t *testing.T) {
	s := newTestStore(Options{
		Retention: map[types.Granularity]time.Duration{
			types.GranularityHour: 24 * time.Hour,
			types.GranularityDay:  48 * time.Hour,
		},
		Grace: 2 * time.Hour,
	})

	// Past retention but still inside the grace allowance.
	ts := fixedNow.Add(-25 * time.Hour)
	s.Update(reading("gate-a", "queue_length", 5, ts))

	s.EvictExpired()

	results := queryAll(t, s, "gate-a", "queue_length", types.GranularityHour)
	if len(results) != 1 {
		t.Errorf("bucket inside grace should be kept, got %d buckets", len(results))
	}
}

func TestStore_DrainEvicted(t *testing.T) {
	s := newTestStore(Options{
		Retention: map[types.Granularity]time.Duration{
			types.GranularityHour: 24 * time.Hour,
			types.GranularityDay:  48 * time.Hour,
		},
		KeepEvicted: true,
	})

	s.Update(reading("gate-a", "queue_length", 5, fixedNow.Add(-30*time.Hour)))
	s.EvictExpired()

	drained := s.DrainEvicted()
	if len(drained) != 1 {
		t.Fatalf("expected 1 pending hour bucket, got %d", len(drained))
	}
	if drained[0].Sum != 5 {
		t.Errorf("unexpected drained bucket: %+v", drained[0])
	}

	// Drain clears the queue.
	if again := s.DrainEvicted(); again != nil {
		t.Errorf("second drain should be empty, got %d", len(again))
	}
}

func TestStore_Entities(t *testing.T) {
	s := newTestStore(Options{})

	ts := fixedNow.Add(-time.Hour)
	s.Update(reading("gate-b", "queue_length", 1, ts))
	s.Update(reading("gate-a", "queue_length", 1, ts))
	s.Update(reading("gate-c", "wait_time_seconds", 1, ts))

	entities := s.Entities("queue_length", types.GranularityHour)
	if len(entities) != 2 || entities[0] != "gate-a" || entities[1] != "gate-b" {
		t.Errorf("expected sorted [gate-a gate-b], got %v", entities)
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(Options{})

	ts := fixedNow.Add(-time.Hour)
	s.Update(reading("gate-a", "queue_length", 1, ts))
	s.Update(reading("gate-a", "queue_length", 2, ts.Add(time.Minute)))

	stats := s.Stats()
	if stats.ReadingsProcessed != 2 {
		t.Errorf("expected 2 readings processed, got %d", stats.ReadingsProcessed)
	}
	// One hour bucket plus one day bucket.
	if stats.BucketsCreated != 2 {
		t.Errorf("expected 2 buckets created, got %d", stats.BucketsCreated)
	}
	if stats.ActiveSeries != 2 {
		t.Errorf("expected 2 active series, got %d", stats.ActiveSeries)
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := newTestStore(Options{})

	base := fixedNow.Add(-time.Hour)
	var wg sync.WaitGroup
	workers := 8
	perWorker := 250

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			entity := fmt.Sprintf("gate-%d", w%4)
			for i := 0; i < perWorker; i++ {
				s.Update(reading(entity, "queue_length", 1, base.Add(time.Duration(i)*time.Second)))
			}
		}(w)
	}
	wg.Wait()

	// Every delivery must be counted exactly once across the four entities.
	var total int64
	for i := 0; i < 4; i++ {
		for _, b := range queryAll(t, s, fmt.Sprintf("gate-%d", i), "queue_length", types.GranularityHour) {
			total += b.Count
		}
	}
	if want := int64(workers * perWorker); total != want {
		t.Errorf("expected %d readings counted, got %d", want, total)
	}
}

func BenchmarkStore_Update(b *testing.B) {
	s := NewStore(Options{})
	base := time.Now().Add(-time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Update(reading("gate-a", "queue_length", float64(i%30), base.Add(time.Duration(i)*time.Millisecond)))
	}
}
