// Package config defines the immutable engine configuration.
//
// The configuration is loaded once at startup from YAML and validated before
// the engine is allowed to serve. An external reload mechanism, if any, must
// build a new Config and swap the whole object atomically; nothing in this
// package supports field-level mutation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	// Thresholds maps a metric name to its ordered classification table.
	// A metric without a table here cannot be classified; classifying it
	// is a startup configuration error, not a per-call fault.
	Thresholds map[string]ThresholdTable `yaml:"thresholds"`

	// ServiceStatus configures the composite service-status classification.
	ServiceStatus ServiceStatusConfig `yaml:"service_status"`

	// Retention defines how long buckets are kept per granularity.
	Retention RetentionConfig `yaml:"retention"`

	// Trend configures trend direction detection.
	Trend TrendConfig `yaml:"trend"`

	// Ingest configures reading normalization.
	Ingest IngestConfig `yaml:"ingest"`

	// Features configures optional features.
	Features FeaturesConfig `yaml:"features"`

	// Archive configures the optional parquet archive for evicted buckets.
	Archive ArchiveConfig `yaml:"archive"`
}

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts either a Go duration string ("72h") or an integer second count.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ThresholdRule is one boundary of a classification table. A value
// classifies into the first rule whose upper bound is >= the value;
// boundary values belong to the lower category.
type ThresholdRule struct {
	// Category is the name assigned to values at or below UpperBound.
	Category string `yaml:"category"`

	// UpperBound is the inclusive upper boundary for this category.
	UpperBound float64 `yaml:"upper_bound"`
}

// ThresholdTable is an ordered classification table for one metric.
// Rules must be sorted by ascending upper bound; Terminal names the
// open-ended category for values above every configured bound.
type ThresholdTable struct {
	Rules    []ThresholdRule `yaml:"rules"`
	Terminal string          `yaml:"terminal"`
}

// CategoryCount returns the number of categories including the terminal one.
func (t ThresholdTable) CategoryCount() int {
	return len(t.Rules) + 1
}

// ServiceStatusConfig configures the composite service-status rule.
// The composite is derived from the classified queue-length and wait-time
// categories: if either is its table's terminal category, the composite is
// the last status; otherwise the more severe of the two ranks decides.
type ServiceStatusConfig struct {
	// QueueMetric is the metric name classified for the queue dimension.
	QueueMetric string `yaml:"queue_metric"`

	// WaitMetric is the metric name classified for the wait dimension.
	WaitMetric string `yaml:"wait_metric"`

	// Statuses lists composite status names by ascending severity rank.
	// Its length must equal the larger category count of the two tables.
	Statuses []string `yaml:"statuses"`
}

// RetentionConfig defines how long buckets are kept in memory.
type RetentionConfig struct {
	// Hourly is the retention horizon for hour buckets.
	Hourly Duration `yaml:"hourly"`

	// Daily is the retention horizon for day buckets.
	Daily Duration `yaml:"daily"`

	// Grace delays eviction past the horizon so slightly late readings
	// still land in their historical bucket before it is dropped.
	Grace Duration `yaml:"grace"`

	// SweepInterval is how often the background sweep reclaims memory.
	// Lazy eviction on the write/query path keeps results correct without
	// the sweep; the sweep only bounds the footprint of idle series.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Horizon returns the retention horizon for a granularity name
// ("hourly" or "daily").
func (c RetentionConfig) Horizon(granularity string) time.Duration {
	if granularity == "daily" {
		return c.Daily.Duration()
	}
	return c.Hourly.Duration()
}

// TrendConfig configures trend direction detection.
type TrendConfig struct {
	// FlatnessEpsilonPct is the percentage-change magnitude below which a
	// trend reports FLAT instead of UP or DOWN.
	FlatnessEpsilonPct float64 `yaml:"flatness_epsilon_pct"`
}

// IngestConfig configures reading normalization.
type IngestConfig struct {
	// FutureSkewTolerance is how far ahead of the ingestion wall clock a
	// reading's timestamp may be before it is rejected. Protects
	// aggregates from clock-skewed producers.
	FutureSkewTolerance Duration `yaml:"future_skew_tolerance"`
}

// FeaturesConfig configures optional features.
type FeaturesConfig struct {
	// Percentile configures DDSketch percentile calculation per bucket.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// ArchiveConfig configures the optional parquet archive. When enabled,
// buckets evicted past the retention horizon are written to columnar files
// instead of being discarded, and remain queryable through the history
// reader. The archive is a convenience, not a durability guarantee.
type ArchiveConfig struct {
	// Enabled enables the archive sink.
	Enabled bool `yaml:"enabled"`

	// Dir is the root directory for archive files.
	Dir string `yaml:"dir"`

	// Compression is the parquet compression algorithm:
	// snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults for a
// facilities deployment: queue lengths in persons, wait times in seconds,
// occupancy as a 0..1 ratio.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: map[string]ThresholdTable{
			"queue_length": {
				Rules: []ThresholdRule{
					{Category: "LOW", UpperBound: 5},
					{Category: "MEDIUM", UpperBound: 15},
				},
				Terminal: "HIGH",
			},
			"wait_time_seconds": {
				Rules: []ThresholdRule{
					{Category: "READY", UpperBound: 120},
					{Category: "SHORT", UpperBound: 300},
					{Category: "MEDIUM", UpperBound: 900},
				},
				Terminal: "LONG",
			},
			"occupancy_ratio": {
				Rules: []ThresholdRule{
					{Category: "LOW", UpperBound: 0.4},
					{Category: "MODERATE", UpperBound: 0.75},
				},
				Terminal: "FULL",
			},
		},
		ServiceStatus: ServiceStatusConfig{
			QueueMetric: "queue_length",
			WaitMetric:  "wait_time_seconds",
			Statuses:    []string{"READY_TO_SERVE", "SHORT_WAIT", "MEDIUM_WAIT", "LONG_WAIT"},
		},
		Retention: RetentionConfig{
			Hourly:        Duration(7 * 24 * time.Hour),
			Daily:         Duration(90 * 24 * time.Hour),
			Grace:         Duration(2 * time.Hour),
			SweepInterval: Duration(5 * time.Minute),
		},
		Trend: TrendConfig{
			FlatnessEpsilonPct: 1.0,
		},
		Ingest: IngestConfig{
			FutureSkewTolerance: Duration(5 * time.Minute),
		},
		Features: FeaturesConfig{
			Percentile: PercentileConfig{
				Enabled:  false,
				Accuracy: 0.01,
			},
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			Dir:         "/var/lib/facmon/archive",
			Compression: "zstd",
		},
	}
}
