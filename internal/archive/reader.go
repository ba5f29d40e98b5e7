package archive

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/facmon/facmon/internal/engine/types"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// Reader serves history queries over archived parquet files using an
// in-memory DuckDB instance.
type Reader struct {
	db  *sql.DB
	dir string
}

// NewReader opens a reader over the archive rooted at dir.
func NewReader(dir string) (*Reader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	return &Reader{db: db, dir: dir}, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query returns archived buckets for one (entity, metric) series whose
// interval overlaps the window, in ascending bucket-start order. An archive
// with no matching files yields an empty sequence, not an error.
func (r *Reader) Query(ctx context.Context, entityID, metric string, w types.Window, g types.Granularity) ([]types.BucketResult, error) {
	if !w.IsValid() {
		return nil, apperrors.ErrInvalidWindow
	}

	pattern := filepath.Join(r.dir, g.String(), "*.parquet")

	// read_parquet errors on a glob with no matches; an archive with no
	// files yet must answer empty instead.
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob archive: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	query := `
		SELECT
			entity_id, metric, granularity,
			bucket_start, bucket_end,
			count, sum, min, max, avg,
			p50, p90, p95, p99,
			first_ts, last_ts
		FROM read_parquet($1)
		WHERE entity_id = $2
		  AND metric = $3
		  AND bucket_start < $4
		  AND bucket_end > $5
		ORDER BY bucket_start
	`

	rows, err := r.db.QueryContext(ctx, query,
		pattern,
		entityID,
		metric,
		w.EndMs,
		w.StartMs,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	return scanBuckets(rows)
}

// scanBuckets scans rows into BucketResult values.
func scanBuckets(rows *sql.Rows) ([]types.BucketResult, error) {
	var results []types.BucketResult

	for rows.Next() {
		var row BucketRow
		var p50, p90, p95, p99 sql.NullFloat64

		err := rows.Scan(
			&row.EntityID, &row.Metric, &row.Granularity,
			&row.BucketStart, &row.BucketEnd,
			&row.Count, &row.Sum, &row.Min, &row.Max, &row.Avg,
			&p50, &p90, &p95, &p99,
			&row.FirstTs, &row.LastTs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		result := RowToBucket(&row)
		if p50.Valid {
			result.SetPercentiles(p50.Float64, p90.Float64, p95.Float64, p99.Float64)
		}

		results = append(results, result)
	}

	return results, rows.Err()
}
