// Package archive persists evicted buckets as columnar parquet files and
// serves history queries over them through DuckDB.
//
// The archive is an optional convenience for looking past the in-memory
// retention horizon. It is not a store of record and offers no durability
// guarantee; the engine is correct with the archive disabled.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// CompressionType represents a parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string. Unrecognized
// values default to zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// BucketRow represents a bucket in parquet format.
type BucketRow struct {
	EntityID    string  `parquet:"entity_id,zstd"`
	Metric      string  `parquet:"metric,zstd"`
	Granularity string  `parquet:"granularity,zstd"`
	BucketStart int64   `parquet:"bucket_start"`
	BucketEnd   int64   `parquet:"bucket_end"`
	Count       int64   `parquet:"count"`
	Sum         float64 `parquet:"sum"`
	Min         float64 `parquet:"min"`
	Max         float64 `parquet:"max"`
	Avg         float64 `parquet:"avg"`
	P50         float64 `parquet:"p50,optional"`
	P90         float64 `parquet:"p90,optional"`
	P95         float64 `parquet:"p95,optional"`
	P99         float64 `parquet:"p99,optional"`
	FirstTs     int64   `parquet:"first_ts"`
	LastTs      int64   `parquet:"last_ts"`
}

// BucketToRow converts a BucketResult to a BucketRow.
func BucketToRow(b *types.BucketResult) BucketRow {
	row := BucketRow{
		EntityID:    b.EntityID,
		Metric:      b.Metric,
		Granularity: b.Granularity.String(),
		BucketStart: b.BucketStart,
		BucketEnd:   b.BucketEnd,
		Count:       b.Count,
		Sum:         b.Sum,
		Min:         b.Min,
		Max:         b.Max,
		Avg:         b.Avg,
		FirstTs:     b.FirstTs,
		LastTs:      b.LastTs,
	}

	if b.P50 != nil {
		row.P50 = *b.P50
	}
	if b.P90 != nil {
		row.P90 = *b.P90
	}
	if b.P95 != nil {
		row.P95 = *b.P95
	}
	if b.P99 != nil {
		row.P99 = *b.P99
	}

	return row
}

// RowToBucket converts a BucketRow to a BucketResult.
func RowToBucket(r *BucketRow) types.BucketResult {
	g := types.GranularityHour
	if r.Granularity == types.GranularityDay.String() {
		g = types.GranularityDay
	}

	result := types.BucketResult{
		EntityID:    r.EntityID,
		Metric:      r.Metric,
		Granularity: g,
		BucketStart: r.BucketStart,
		BucketEnd:   r.BucketEnd,
		Count:       r.Count,
		Sum:         r.Sum,
		Min:         r.Min,
		Max:         r.Max,
		Avg:         r.Avg,
		FirstTs:     r.FirstTs,
		LastTs:      r.LastTs,
	}

	if r.P50 != 0 || r.P90 != 0 || r.P95 != 0 || r.P99 != 0 {
		result.SetPercentiles(r.P50, r.P90, r.P95, r.P99)
	}

	return result
}

// Writer appends evicted buckets to parquet files, one file per archive
// call per granularity.
type Writer struct {
	mu     sync.Mutex
	dir    string
	codec  compress.Codec
	closed bool

	filesWritten int64
	rowsWritten  int64
}

// WriterStats holds writer statistics.
type WriterStats struct {
	FilesWritten int64
	RowsWritten  int64
}

// NewWriter creates a writer rooted at dir, with one subdirectory per
// granularity.
func NewWriter(dir string, compression CompressionType) (*Writer, error) {
	for _, g := range types.AllGranularities() {
		if err := os.MkdirAll(filepath.Join(dir, g.String()), 0755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	return &Writer{
		dir:   dir,
		codec: getCompression(compression),
	}, nil
}

// ArchiveBuckets writes a batch of evicted buckets, grouped by granularity.
func (w *Writer) ArchiveBuckets(buckets []types.BucketResult) error {
	if len(buckets) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return apperrors.ErrArchiveClosed
	}

	groups := make(map[types.Granularity][]BucketRow)
	for i := range buckets {
		g := buckets[i].Granularity
		groups[g] = append(groups[g], BucketToRow(&buckets[i]))
	}

	for g, rows := range groups {
		if err := w.writeFile(g, rows); err != nil {
			return err
		}
	}

	return nil
}

// writeFile writes one parquet file named after the earliest bucket start
// in the batch. A nanosecond suffix keeps repeated archives of the same
// interval from colliding.
func (w *Writer) writeFile(g types.Granularity, rows []BucketRow) error {
	earliest := rows[0].BucketStart
	for _, r := range rows[1:] {
		if r.BucketStart < earliest {
			earliest = r.BucketStart
		}
	}

	name := fmt.Sprintf("%s.%d.parquet",
		time.UnixMilli(earliest).UTC().Format("2006-01-02T15"),
		time.Now().UnixNano())
	path := filepath.Join(w.dir, g.String(), name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	writer := parquet.NewGenericWriter[BucketRow](f, parquet.Compression(w.codec))

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	w.filesWritten++
	w.rowsWritten += int64(len(rows))
	return nil
}

// Close marks the writer closed. Subsequent archive calls fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Dir returns the archive root directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriterStats{
		FilesWritten: w.filesWritten,
		RowsWritten:  w.rowsWritten,
	}
}
