// Package normalize validates and canonicalizes inbound readings before they
// reach the latest-value index and the bucket aggregator.
package normalize

import (
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/facmon/facmon/internal/engine/types"
)

// Normalizer screens raw readings. Rejection is a return value, never a
// fault: malformed input increments a counter and is reported to the caller
// as a typed reason.
type Normalizer struct {
	skewTolerance time.Duration

	// nowFn is the ingestion wall clock; overridable in tests.
	nowFn func() time.Time

	stats statCounters
}

type statCounters struct {
	accepted    atomic.Int64
	missingKey  atomic.Int64
	nonFinite   atomic.Int64
	noTimestamp atomic.Int64
	futureSkew  atomic.Int64
}

// Stats is a point-in-time snapshot of normalizer counters.
type Stats struct {
	Accepted            int64
	Rejected            int64
	RejectedMissingKey  int64
	RejectedNonFinite   int64
	RejectedNoTimestamp int64
	RejectedFutureSkew  int64
}

// New creates a normalizer with the given future-skew tolerance.
func New(skewTolerance time.Duration) *Normalizer {
	return &Normalizer{
		skewTolerance: skewTolerance,
		nowFn:         time.Now,
	}
}

// Normalize validates a raw reading and returns its canonical form. The
// second return is RejectNone on acceptance, otherwise the reason the
// reading was refused.
//
// A reading is rejected when its entity or metric is empty, its value is
// non-finite, its timestamp is absent, or its timestamp is further ahead of
// the ingestion wall clock than the configured tolerance.
func (n *Normalizer) Normalize(r types.Reading) (types.Reading, types.RejectReason) {
	r.EntityID = strings.TrimSpace(r.EntityID)
	r.Metric = strings.TrimSpace(r.Metric)

	if r.EntityID == "" || r.Metric == "" {
		n.stats.missingKey.Add(1)
		return types.Reading{}, types.RejectMissingKey
	}

	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		n.stats.nonFinite.Add(1)
		return types.Reading{}, types.RejectNonFinite
	}

	if r.TimestampMs == 0 {
		n.stats.noTimestamp.Add(1)
		return types.Reading{}, types.RejectNoTimestamp
	}

	limit := n.nowFn().Add(n.skewTolerance).UnixMilli()
	if r.TimestampMs > limit {
		n.stats.futureSkew.Add(1)
		return types.Reading{}, types.RejectFutureSkew
	}

	n.stats.accepted.Add(1)
	return r, types.RejectNone
}

// Stats returns a snapshot of the normalizer counters.
func (n *Normalizer) Stats() Stats {
	missingKey := n.stats.missingKey.Load()
	nonFinite := n.stats.nonFinite.Load()
	noTimestamp := n.stats.noTimestamp.Load()
	futureSkew := n.stats.futureSkew.Load()

	return Stats{
		Accepted:            n.stats.accepted.Load(),
		Rejected:            missingKey + nonFinite + noTimestamp + futureSkew,
		RejectedMissingKey:  missingKey,
		RejectedNonFinite:   nonFinite,
		RejectedNoTimestamp: noTimestamp,
		RejectedFutureSkew:  futureSkew,
	}
}

// SetClock overrides the ingestion wall clock. Intended for tests.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.nowFn = now
}
