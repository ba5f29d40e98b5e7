package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facmon/facmon/internal/archive"
	"github.com/facmon/facmon/internal/config"
	"github.com/facmon/facmon/internal/engine/bucket"
	"github.com/facmon/facmon/internal/engine/classify"
	"github.com/facmon/facmon/internal/engine/latest"
	"github.com/facmon/facmon/internal/engine/normalize"
	"github.com/facmon/facmon/internal/engine/rank"
	"github.com/facmon/facmon/internal/engine/trend"
	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
	"github.com/facmon/facmon/internal/logging"
)

// Engine is the analytics aggregation engine facade. It owns the latest-value
// index and bucket store for its process lifetime and exposes the ingestion,
// query, and configuration boundaries.
//
// The engine is usable immediately after New: ingestion and queries are
// synchronous in-memory operations. Start and Stop only control the
// background retention sweep and archive flushing.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	normalizer *normalize.Normalizer
	latest     *latest.Index
	buckets    *bucket.Store
	classifier *classify.Classifier
	trends     *trend.Analyzer
	ranker     *rank.Ranker

	// Archive components (nil when the archive is disabled)
	archiveWriter *archive.Writer
	archiveReader *archive.Reader

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// BatchResult reports the outcome of a batch ingest.
type BatchResult struct {
	Accepted int
	Rejected int
}

// Stats holds combined engine statistics.
type Stats struct {
	Running   bool
	Uptime    time.Duration
	Normalize normalize.Stats
	Buckets   bucket.Stats
	Latest    int
	Archive   archive.WriterStats
}

// New creates an engine from configuration. A malformed configuration is
// fatal here; the engine never serves with a partial setup.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "invalid config")
	}

	classifier, err := classify.New(cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, "build classifier")
	}

	accuracy := 0.0
	if cfg.Features.Percentile.Enabled {
		accuracy = cfg.Features.Percentile.Accuracy
	}

	store := bucket.NewStore(bucket.Options{
		Retention: map[types.Granularity]time.Duration{
			types.GranularityHour: cfg.Retention.Hourly.Duration(),
			types.GranularityDay:  cfg.Retention.Daily.Duration(),
		},
		Grace:              cfg.Retention.Grace.Duration(),
		PercentileAccuracy: accuracy,
		KeepEvicted:        cfg.Archive.Enabled,
	})

	e := &Engine{
		cfg:        cfg,
		log:        logging.Component("engine"),
		normalizer: normalize.New(cfg.Ingest.FutureSkewTolerance.Duration()),
		latest:     latest.New(),
		buckets:    store,
		classifier: classifier,
		trends:     trend.New(cfg.Trend.FlatnessEpsilonPct),
	}
	e.ranker = rank.New(store)

	if cfg.Archive.Enabled {
		writer, err := archive.NewWriter(cfg.Archive.Dir, archive.ParseCompressionType(cfg.Archive.Compression))
		if err != nil {
			return nil, apperrors.Wrap(err, "create archive writer")
		}
		reader, err := archive.NewReader(cfg.Archive.Dir)
		if err != nil {
			writer.Close()
			return nil, apperrors.Wrap(err, "create archive reader")
		}
		e.archiveWriter = writer
		e.archiveReader = reader
	}

	return e, nil
}

// Start launches the background retention sweep.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return apperrors.ErrEngineRunning
	}
	e.startTime = time.Now()
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go e.sweepWorker()

	e.log.Info("engine started",
		"metrics", e.classifier.Metrics(),
		"archive", e.cfg.Archive.Enabled)
	return nil
}

// Stop stops the background sweep, flushes pending archive buckets, and
// closes the archive.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	e.cancel()
	e.wg.Wait()

	var errs []error
	e.buckets.EvictExpired()
	if err := e.flushArchive(); err != nil {
		errs = append(errs, err)
	}
	if e.archiveWriter != nil {
		if err := e.archiveWriter.Close(); err != nil {
			errs = append(errs, apperrors.Wrap(err, "close archive writer"))
		}
	}
	if e.archiveReader != nil {
		if err := e.archiveReader.Close(); err != nil {
			errs = append(errs, apperrors.Wrap(err, "close archive reader"))
		}
	}

	if len(errs) > 0 {
		return apperrors.Join(errs...)
	}
	return nil
}

// IsRunning returns whether the background sweep is running.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// =============================================================================
// Ingestion boundary
// =============================================================================

// Ingest validates one reading and, on acceptance, fans it out to the
// latest-value index and the bucket store. Rejection is a typed result, not
// an error; the call never blocks on I/O.
func (e *Engine) Ingest(r types.Reading) types.AcceptResult {
	normalized, reason := e.normalizer.Normalize(r)
	if reason != types.RejectNone {
		return types.Reject(reason)
	}

	e.latest.Update(normalized)
	e.buckets.Update(normalized)

	return types.Accept()
}

// IngestBatch ingests a slice of readings and reports how many were
// accepted and rejected.
func (e *Engine) IngestBatch(readings []types.Reading) BatchResult {
	var result BatchResult
	for i := range readings {
		if e.Ingest(readings[i]).Accepted {
			result.Accepted++
		} else {
			result.Rejected++
		}
	}
	return result
}

// =============================================================================
// Query boundary
// =============================================================================

// Latest returns the most recent accepted reading for a key.
func (e *Engine) Latest(entityID, metric string) (types.LatestSnapshot, error) {
	snap, ok := e.latest.Get(entityID, metric)
	if !ok {
		return types.LatestSnapshot{}, apperrors.NewNotFound("series", entityID+"/"+metric)
	}
	return snap, nil
}

// QueryBuckets returns the buckets of one series overlapping the window, in
// ascending bucket-start order. An interval with no data yields an empty
// sequence, not an error.
func (e *Engine) QueryBuckets(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) ([]types.BucketResult, error) {
	return e.buckets.Query(ctx, entityID, metric, w, g)
}

// ClassifyValue maps a raw metric value to its configured category.
func (e *Engine) ClassifyValue(metric string, value float64) (classify.Category, error) {
	return e.classifier.Classify(metric, value)
}

// ClassifyLatest classifies the most recent reading for a key.
func (e *Engine) ClassifyLatest(entityID, metric string) (classify.Category, error) {
	snap, err := e.Latest(entityID, metric)
	if err != nil {
		return classify.Category{}, err
	}
	return e.classifier.Classify(metric, snap.Value)
}

// ClassifyWindow classifies the reading-weighted average of a series over a
// window. A window with no data reports ErrNoData rather than classifying
// zero.
func (e *Engine) ClassifyWindow(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) (classify.Category, error) {
	buckets, err := e.buckets.Query(ctx, entityID, metric, w, g)
	if err != nil {
		return classify.Category{}, err
	}

	avg, ok := trend.WindowAverage(buckets)
	if !ok {
		return classify.Category{}, apperrors.ErrNoData
	}
	return e.classifier.Classify(metric, avg)
}

// ServiceStatus derives the composite service status for an entity from its
// latest queue-length and wait-time readings.
func (e *Engine) ServiceStatus(entityID string) (classify.ServiceStatus, error) {
	queueSnap, err := e.Latest(entityID, e.classifier.QueueMetric())
	if err != nil {
		return classify.ServiceStatus{}, err
	}
	waitSnap, err := e.Latest(entityID, e.classifier.WaitMetric())
	if err != nil {
		return classify.ServiceStatus{}, err
	}
	return e.classifier.ServiceStatus(queueSnap.Value, waitSnap.Value)
}

// PeakWindow finds the bucket with the maximum average for one entity over
// the window. Ties break toward the earliest bucket.
func (e *Engine) PeakWindow(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) (trend.PeakResult, error) {
	buckets, err := e.buckets.Query(ctx, entityID, metric, w, g)
	if err != nil {
		return trend.PeakResult{}, err
	}
	return e.trends.PeakWindow(buckets)
}

// PeakWindowAll finds the peak interval for a metric across every monitored
// entity, by merging per-entity buckets into per-interval totals first.
func (e *Engine) PeakWindowAll(ctx context.Context, metric string, w types.Window, g types.Granularity) (trend.PeakResult, error) {
	if !w.IsValid() {
		return trend.PeakResult{}, apperrors.ErrInvalidWindow
	}

	var all []types.BucketResult
	for _, entityID := range e.buckets.Entities(metric, g) {
		if err := ctx.Err(); err != nil {
			return trend.PeakResult{}, err
		}
		buckets, err := e.buckets.Query(ctx, entityID, metric, w, g)
		if err != nil {
			return trend.PeakResult{}, err
		}
		all = append(all, buckets...)
	}

	return e.trends.PeakWindow(trend.MergeByBucketStart(all))
}

// Trend compares a series' current window against a prior window. A prior
// window with no data or a zero average reports ErrInsufficientHistory.
func (e *Engine) Trend(ctx context.Context, entityID, metric string, current, prior types.Window, g types.Granularity) (trend.TrendResult, error) {
	currentBuckets, err := e.buckets.Query(ctx, entityID, metric, current, g)
	if err != nil {
		return trend.TrendResult{}, err
	}
	priorBuckets, err := e.buckets.Query(ctx, entityID, metric, prior, g)
	if err != nil {
		return trend.TrendResult{}, err
	}
	return e.trends.Trend(currentBuckets, priorBuckets)
}

// Compare ranks entities over a window. Entities with zero data points are
// listed under NoData, never ranked.
func (e *Engine) Compare(ctx context.Context, entityIDs []string, metric string, w types.Window, g types.Granularity, sortBy rank.SortField) (*rank.Report, error) {
	return e.ranker.Compare(ctx, entityIDs, metric, w, g, sortBy)
}

// History queries archived buckets older than the in-memory horizon.
func (e *Engine) History(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) ([]types.BucketResult, error) {
	if e.archiveReader == nil {
		return nil, apperrors.ErrArchiveDisabled
	}
	return e.archiveReader.Query(ctx, entityID, metric, w, g)
}

// =============================================================================
// Maintenance
// =============================================================================

// sweepWorker periodically evicts aged-out buckets and flushes them to the
// archive. Correctness never depends on the sweep; it only bounds memory.
func (e *Engine) sweepWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Retention.SweepInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			evicted := e.buckets.EvictExpired()
			if evicted > 0 {
				e.log.Debug("retention sweep", "evicted", evicted)
			}
			if err := e.flushArchive(); err != nil {
				e.log.Error("archive flush failed", "error", err)
			}
		}
	}
}

// flushArchive hands evicted buckets to the archive writer.
func (e *Engine) flushArchive() error {
	evicted := e.buckets.DrainEvicted()
	if len(evicted) == 0 || e.archiveWriter == nil {
		return nil
	}
	return e.archiveWriter.ArchiveBuckets(evicted)
}

// Stats returns combined engine statistics.
func (e *Engine) Stats() Stats {
	var uptime time.Duration
	if !e.startTime.IsZero() {
		uptime = time.Since(e.startTime)
	}

	s := Stats{
		Running:   e.running.Load(),
		Uptime:    uptime,
		Normalize: e.normalizer.Stats(),
		Buckets:   e.buckets.Stats(),
		Latest:    e.latest.Len(),
	}
	if e.archiveWriter != nil {
		s.Archive = e.archiveWriter.Stats()
	}
	return s
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Normalizer exposes the normalizer for tests that need clock control.
func (e *Engine) Normalizer() *normalize.Normalizer {
	return e.normalizer
}

// BucketStore exposes the bucket store for tests that need clock control.
func (e *Engine) BucketStore() *bucket.Store {
	return e.buckets
}
