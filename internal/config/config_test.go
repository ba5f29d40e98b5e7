package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestThresholdTable_Validate(t *testing.T) {
	valid := ThresholdTable{
		Rules: []ThresholdRule{
			{Category: "LOW", UpperBound: 5},
			{Category: "MEDIUM", UpperBound: 15},
		},
		Terminal: "HIGH",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid table should pass: %v", err)
	}

	noRules := ThresholdTable{Terminal: "HIGH"}
	if err := noRules.Validate(); err == nil {
		t.Error("table without rules should fail")
	}

	noTerminal := ThresholdTable{
		Rules: []ThresholdRule{{Category: "LOW", UpperBound: 5}},
	}
	if err := noTerminal.Validate(); err == nil {
		t.Error("table without terminal should fail")
	}

	descending := ThresholdTable{
		Rules: []ThresholdRule{
			{Category: "MEDIUM", UpperBound: 15},
			{Category: "LOW", UpperBound: 5},
		},
		Terminal: "HIGH",
	}
	if err := descending.Validate(); err == nil {
		t.Error("descending bounds should fail")
	}

	duplicate := ThresholdTable{
		Rules: []ThresholdRule{
			{Category: "LOW", UpperBound: 5},
			{Category: "LOW", UpperBound: 15},
		},
		Terminal: "HIGH",
	}
	if err := duplicate.Validate(); err == nil {
		t.Error("duplicate category should fail")
	}

	equalBounds := ThresholdTable{
		Rules: []ThresholdRule{
			{Category: "LOW", UpperBound: 5},
			{Category: "MEDIUM", UpperBound: 5},
		},
		Terminal: "HIGH",
	}
	if err := equalBounds.Validate(); err == nil {
		t.Error("equal bounds should fail")
	}
}

func TestThresholdTable_CategoryCount(t *testing.T) {
	table := ThresholdTable{
		Rules: []ThresholdRule{
			{Category: "LOW", UpperBound: 5},
			{Category: "MEDIUM", UpperBound: 15},
		},
		Terminal: "HIGH",
	}
	if table.CategoryCount() != 3 {
		t.Errorf("expected 3 categories, got %d", table.CategoryCount())
	}
}

func TestServiceStatusConfig_StatusArity(t *testing.T) {
	cfg := DefaultConfig()

	// The default wait table has 4 categories, so 4 statuses are required.
	cfg.ServiceStatus.Statuses = []string{"A", "B", "C"}
	if err := cfg.Validate(); err == nil {
		t.Error("too few statuses should fail validation")
	}

	cfg.ServiceStatus.Statuses = []string{"A", "B", "C", "D", "E"}
	if err := cfg.Validate(); err == nil {
		t.Error("too many statuses should fail validation")
	}
}

func TestServiceStatusConfig_UnknownMetric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceStatus.QueueMetric = "no_such_metric"
	if err := cfg.Validate(); err == nil {
		t.Error("service status referencing an unknown metric should fail")
	}
}

func TestRetentionConfig_Validate(t *testing.T) {
	valid := RetentionConfig{
		Hourly:        Duration(7 * 24 * time.Hour),
		Daily:         Duration(90 * 24 * time.Hour),
		Grace:         Duration(time.Hour),
		SweepInterval: Duration(time.Minute),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid retention should pass: %v", err)
	}

	inverted := valid
	inverted.Daily = Duration(time.Hour)
	if err := inverted.Validate(); err == nil {
		t.Error("daily < hourly retention should fail")
	}

	zeroSweep := valid
	zeroSweep.SweepInterval = 0
	if err := zeroSweep.Validate(); err == nil {
		t.Error("zero sweep interval should fail")
	}
}

func TestFeaturesConfig_Validate(t *testing.T) {
	bad := FeaturesConfig{Percentile: PercentileConfig{Enabled: true, Accuracy: 0}}
	if err := bad.Validate(); err == nil {
		t.Error("enabled percentiles with zero accuracy should fail")
	}

	disabled := FeaturesConfig{Percentile: PercentileConfig{Enabled: false, Accuracy: 0}}
	if err := disabled.Validate(); err != nil {
		t.Errorf("disabled percentiles should not be validated: %v", err)
	}
}

func TestArchiveConfig_Validate(t *testing.T) {
	disabled := ArchiveConfig{Enabled: false}
	if err := disabled.Validate(); err != nil {
		t.Errorf("disabled archive should always pass: %v", err)
	}

	noDir := ArchiveConfig{Enabled: true, Compression: "zstd"}
	if err := noDir.Validate(); err == nil {
		t.Error("enabled archive without dir should fail")
	}

	badCodec := ArchiveConfig{Enabled: true, Dir: "/tmp/a", Compression: "bzip2"}
	if err := badCodec.Validate(); err == nil {
		t.Error("unknown compression should fail")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facmon.yaml")

	yaml := `
thresholds:
  queue_length:
    rules:
      - category: LOW
        upper_bound: 5
      - category: MEDIUM
        upper_bound: 15
    terminal: HIGH
  wait_time_seconds:
    rules:
      - category: READY
        upper_bound: 120
      - category: SHORT
        upper_bound: 300
    terminal: LONG
service_status:
  queue_metric: queue_length
  wait_metric: wait_time_seconds
  statuses: [READY_TO_SERVE, SHORT_WAIT, LONG_WAIT]
retention:
  hourly: 72h
  daily: 720h
  grace: 1h
  sweep_interval: 2m
trend:
  flatness_epsilon_pct: 2.5
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Retention.Hourly.Duration() != 72*time.Hour {
		t.Errorf("expected hourly retention 72h, got %s", cfg.Retention.Hourly.Duration())
	}
	if cfg.Trend.FlatnessEpsilonPct != 2.5 {
		t.Errorf("expected epsilon 2.5, got %f", cfg.Trend.FlatnessEpsilonPct)
	}
	if len(cfg.Thresholds["queue_length"].Rules) != 2 {
		t.Errorf("expected 2 queue rules, got %d", len(cfg.Thresholds["queue_length"].Rules))
	}
	if len(cfg.ServiceStatus.Statuses) != 3 {
		t.Errorf("expected 3 statuses, got %d", len(cfg.ServiceStatus.Statuses))
	}

	// Defaults survive for sections the file does not mention.
	if cfg.Ingest.FutureSkewTolerance.Duration() != 5*time.Minute {
		t.Errorf("expected default skew tolerance, got %s", cfg.Ingest.FutureSkewTolerance.Duration())
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dur.yaml")

	// Integer values are seconds; strings are Go durations.
	yaml := `
retention:
  hourly: 3600
  daily: 48h
  grace: 30m
  sweep_interval: 60
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Retention.Hourly.Duration() != time.Hour {
		t.Errorf("expected 1h from int seconds, got %s", cfg.Retention.Hourly.Duration())
	}
	if cfg.Retention.Daily.Duration() != 48*time.Hour {
		t.Errorf("expected 48h, got %s", cfg.Retention.Daily.Duration())
	}
	if cfg.Retention.SweepInterval.Duration() != time.Minute {
		t.Errorf("expected 1m from int seconds, got %s", cfg.Retention.SweepInterval.Duration())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/facmon.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	// Callers fall back to DefaultConfig on a missing file, so the wrapped
	// error must stay recognizable through errors.Is.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing-file error should match fs.ErrNotExist, got %v", err)
	}
	if os.IsNotExist(err) {
		t.Errorf("wrapped error is not expected to satisfy os.IsNotExist: %v", err)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")

	yaml := `
thresholds:
  queue_length:
    rules: []
    terminal: HIGH
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("config failing validation should not load")
	}
}
