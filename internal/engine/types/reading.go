package types

import "time"

// RejectReason indicates why a reading was refused by the normalizer.
type RejectReason int

const (
	// RejectNone means the reading was accepted.
	RejectNone RejectReason = iota
	// RejectMissingKey means the entity ID or metric name is empty.
	RejectMissingKey
	// RejectNonFinite means the value is NaN or infinite.
	RejectNonFinite
	// RejectNoTimestamp means the reading carries no timestamp.
	RejectNoTimestamp
	// RejectFutureSkew means the timestamp is further ahead of the
	// ingestion wall clock than the configured tolerance.
	RejectFutureSkew
)

// String returns a human-readable representation of the RejectReason.
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectMissingKey:
		return "missing-key"
	case RejectNonFinite:
		return "non-finite"
	case RejectNoTimestamp:
		return "no-timestamp"
	case RejectFutureSkew:
		return "future-skew"
	default:
		return "unknown"
	}
}

// Reading represents a single measurement handed to the engine by the
// ingestion collaborator. Readings are immutable once accepted.
type Reading struct {
	// Identity
	EntityID string // Monitored counter, location, or device
	Metric   string // Metric name (e.g., "queue_length")

	// Measurement
	Value float64
	Unit  string // Display unit (e.g., "persons", "seconds"); informational

	// Timestamp
	TimestampMs int64 // Unix timestamp in milliseconds
}

// TimestampTime returns the timestamp as a time.Time.
func (r *Reading) TimestampTime() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Key returns a unique identifier for this reading's series.
func (r *Reading) Key() string {
	return r.EntityID + "/" + r.Metric
}

// AcceptResult reports the outcome of ingesting a single reading.
// Rejection is a result, not a fault.
type AcceptResult struct {
	Accepted bool
	Reason   RejectReason
}

// Accept returns an accepted result.
func Accept() AcceptResult {
	return AcceptResult{Accepted: true, Reason: RejectNone}
}

// Reject returns a rejected result with the given reason.
func Reject(reason RejectReason) AcceptResult {
	return AcceptResult{Accepted: false, Reason: reason}
}

// LatestSnapshot is the most recent accepted reading for one
// (entity, metric) key. The snapshot timestamp is monotonically
// non-decreasing per key.
type LatestSnapshot struct {
	EntityID    string
	Metric      string
	Value       float64
	Unit        string
	TimestampMs int64
}

// TimestampTime returns the snapshot timestamp as a time.Time.
func (s *LatestSnapshot) TimestampTime() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Key returns a unique identifier for this snapshot's series.
func (s *LatestSnapshot) Key() string {
	return s.EntityID + "/" + s.Metric
}
