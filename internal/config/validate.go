package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Validate checks the configuration for errors. All problems are joined and
// reported together; a non-nil result must prevent the engine from serving.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Thresholds) == 0 {
		errs = append(errs, errors.New("thresholds: at least one metric table is required"))
	}
	for metric, table := range c.Thresholds {
		if err := table.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("thresholds[%s]: %w", metric, err))
		}
	}

	if err := c.ServiceStatus.validate(c.Thresholds); err != nil {
		errs = append(errs, fmt.Errorf("service_status: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if c.Trend.FlatnessEpsilonPct < 0 {
		errs = append(errs, errors.New("trend.flatness_epsilon_pct must be non-negative"))
	}

	if c.Ingest.FutureSkewTolerance < 0 {
		errs = append(errs, errors.New("ingest.future_skew_tolerance must be non-negative"))
	}

	if err := c.Features.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("features: %w", err))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks a classification table: non-empty category names, finite
// bounds in strictly ascending order, and a named terminal category.
func (t ThresholdTable) Validate() error {
	var errs []error

	if len(t.Rules) == 0 {
		errs = append(errs, errors.New("at least one rule is required"))
	}

	if t.Terminal == "" {
		errs = append(errs, errors.New("terminal category is required"))
	}

	seen := map[string]bool{t.Terminal: true}
	for i, rule := range t.Rules {
		if rule.Category == "" {
			errs = append(errs, fmt.Errorf("rule %d: category name is required", i))
		}
		if seen[rule.Category] {
			errs = append(errs, fmt.Errorf("rule %d: duplicate category %q", i, rule.Category))
		}
		seen[rule.Category] = true

		if math.IsNaN(rule.UpperBound) || math.IsInf(rule.UpperBound, 0) {
			errs = append(errs, fmt.Errorf("rule %d: upper bound must be finite", i))
		}
	}

	if !sort.SliceIsSorted(t.Rules, func(i, j int) bool {
		return t.Rules[i].UpperBound < t.Rules[j].UpperBound
	}) {
		errs = append(errs, errors.New("rule upper bounds must be strictly ascending"))
	}
	for i := 1; i < len(t.Rules); i++ {
		if t.Rules[i].UpperBound == t.Rules[i-1].UpperBound {
			errs = append(errs, fmt.Errorf("rules %d and %d share upper bound %v", i-1, i, t.Rules[i].UpperBound))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validate checks the composite service-status configuration against the
// threshold tables it composes.
func (s ServiceStatusConfig) validate(tables map[string]ThresholdTable) error {
	var errs []error

	if s.QueueMetric == "" {
		errs = append(errs, errors.New("queue_metric is required"))
	}
	if s.WaitMetric == "" {
		errs = append(errs, errors.New("wait_metric is required"))
	}

	queueTable, queueOK := tables[s.QueueMetric]
	if s.QueueMetric != "" && !queueOK {
		errs = append(errs, fmt.Errorf("queue_metric %q has no threshold table", s.QueueMetric))
	}
	waitTable, waitOK := tables[s.WaitMetric]
	if s.WaitMetric != "" && !waitOK {
		errs = append(errs, fmt.Errorf("wait_metric %q has no threshold table", s.WaitMetric))
	}

	if len(s.Statuses) < 2 {
		errs = append(errs, errors.New("at least two statuses are required"))
	}
	for i, name := range s.Statuses {
		if name == "" {
			errs = append(errs, fmt.Errorf("status %d: name is required", i))
		}
	}

	// The status list is indexed by severity rank, so it must span from the
	// least severe composite up to the terminal status.
	if queueOK && waitOK && len(s.Statuses) > 0 {
		want := queueTable.CategoryCount()
		if waitTable.CategoryCount() > want {
			want = waitTable.CategoryCount()
		}
		if len(s.Statuses) != want {
			errs = append(errs, fmt.Errorf("statuses must have %d entries to cover every severity rank, got %d", want, len(s.Statuses)))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c RetentionConfig) Validate() error {
	var errs []error

	if c.Hourly <= 0 {
		errs = append(errs, errors.New("hourly retention must be positive"))
	}
	if c.Daily <= 0 {
		errs = append(errs, errors.New("daily retention must be positive"))
	}
	if c.Daily < c.Hourly {
		errs = append(errs, errors.New("daily retention should be >= hourly retention"))
	}
	if c.Grace < 0 {
		errs = append(errs, errors.New("grace must be non-negative"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the features configuration.
func (c FeaturesConfig) Validate() error {
	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy > 1 {
			return errors.New("percentile.accuracy must be between 0 and 1")
		}
	}
	return nil
}

// Validate checks the archive configuration.
func (c ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Dir == "" {
		errs = append(errs, errors.New("dir is required when archive is enabled"))
	}

	validCompression := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validCompression[c.Compression] {
		errs = append(errs, fmt.Errorf("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
