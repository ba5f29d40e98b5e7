// Package engine implements the in-memory analytics aggregation engine for
// the facmon facilities-monitoring backend.
//
// Architecture:
//
//	┌────────────┐     ┌──────────────────┐
//	│ Normalizer │────▶│ Latest-Value     │
//	│            │     │ Index            │
//	└─────┬──────┘     └──────────────────┘
//	      │
//	      ▼
//	┌────────────┐     ┌──────────────────┐
//	│   Bucket   │────▶│ Classifier /     │
//	│   Store    │     │ Peak & Trend /   │
//	└─────┬──────┘     │ Ranker           │
//	      │            └──────────────────┘
//	      ▼
//	┌────────────┐
//	│  Archive   │ (optional parquet + DuckDB history)
//	└────────────┘
//
// The engine provides:
//   - Synchronous, non-blocking ingestion with typed rejection
//   - Incrementally maintained hour/day rollups per (entity, metric)
//   - Last-write-wins latest snapshots independent of arrival order
//   - Threshold classification and composite service status
//   - Peak, trend, and cross-entity comparison queries
//   - Lazy retention eviction with optional parquet archival
//
// Ingestion and query are both bounded by in-memory work; nothing in the hot
// path performs I/O. The engine is a derived-data cache in front of the
// durable store, not a store of record.
package engine
