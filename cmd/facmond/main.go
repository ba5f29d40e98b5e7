// facmond is the facilities-monitoring analytics daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facmon/facmon/internal/config"
	"github.com/facmon/facmon/internal/engine"
	"github.com/facmon/facmon/internal/engine/types"
	"github.com/facmon/facmon/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "facmon.yaml", "config file path")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	archiveDir := flag.String("archive-dir", "", "archive directory (overrides config)")
	statsInterval := flag.Duration("stats-interval", time.Minute, "stats logging interval")
	demo := flag.Bool("demo", false, "feed synthetic readings")
	demoEntities := flag.Int("demo-entities", 4, "synthetic entities to simulate")
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)
	log := logging.Component("facmond")
	log.Info("starting", "version", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			log.Error("load config failed", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *archiveDir != "" {
		cfg.Archive.Enabled = true
		cfg.Archive.Dir = *archiveDir
	}

	// =========================================================================
	// Create and Start Engine
	// =========================================================================

	eng, err := engine.New(cfg)
	if err != nil {
		log.Error("create engine failed", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		log.Error("start engine failed", "error", err)
		os.Exit(1)
	}

	log.Info("engine running",
		"hourly_retention", cfg.Retention.Hourly.Duration(),
		"daily_retention", cfg.Retention.Daily.Duration(),
		"sweep_interval", cfg.Retention.SweepInterval.Duration(),
		"archive", cfg.Archive.Enabled)

	// Periodic stats
	statsDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-statsDone:
				return
			case <-ticker.C:
				logStats(log, eng)
			}
		}
	}()

	if *demo {
		log.Info("demo feed enabled", "entities", *demoEntities)
		go demoFeed(statsDone, eng, *demoEntities)
	}

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(statsDone)

	if err := eng.Stop(); err != nil {
		log.Warn("engine stop", "error", err)
	}

	logStats(log, eng)
	log.Info("stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// demoFeed pushes synthetic queue and wait readings so the engine can be
// exercised without a real collector attached.
func demoFeed(done <-chan struct{}, eng *engine.Engine, entities int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			for i := 0; i < entities; i++ {
				entity := fmt.Sprintf("counter-%d", i)
				queue := float64(rng.Intn(25))
				eng.Ingest(types.Reading{
					EntityID:    entity,
					Metric:      "queue_length",
					Value:       queue,
					Unit:        "persons",
					TimestampMs: now.UnixMilli(),
				})
				eng.Ingest(types.Reading{
					EntityID:    entity,
					Metric:      "wait_time_seconds",
					Value:       queue*45 + rng.Float64()*60,
					Unit:        "seconds",
					TimestampMs: now.UnixMilli(),
				})
			}
		}
	}
}

func logStats(log *slog.Logger, eng *engine.Engine) {
	s := eng.Stats()
	log.Info("stats",
		"uptime", s.Uptime.Round(time.Second),
		"accepted", s.Normalize.Accepted,
		"rejected", s.Normalize.Rejected,
		"active_series", s.Buckets.ActiveSeries,
		"buckets_created", s.Buckets.BucketsCreated,
		"buckets_evicted", s.Buckets.BucketsEvicted,
		"latest_keys", s.Latest,
		"archived_rows", s.Archive.RowsWritten)
}
