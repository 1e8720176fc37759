package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ptgraph.dev/gtfsdb"
	"ptgraph.dev/internal/app"
	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/clock"
	"ptgraph.dev/internal/gtfs"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/metrics"
)

const dbStatsInterval = 5 * time.Second

// BuildApplication wires the logger, clock, metrics and, when withSnapshots
// is set, the snapshot store. The logger becomes the slog default.
func BuildApplication(cfg appconf.Config, logOutput io.Writer, withSnapshots bool) (*app.Application, error) {
	logger := logging.NewLogger(logOutput, cfg.Env == appconf.Production, cfg.Verbose)
	slog.SetDefault(logger)

	application := &app.Application{
		Config:     cfg,
		GtfsConfig: gtfs.NewConfig(cfg),
		Logger:     logger,
		Clock:      clock.NewEnvironmentClock(),
		Metrics:    metrics.NewWithLogger(logger),
	}

	if withSnapshots {
		if cfg.SnapshotDBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SnapshotDBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating snapshot directory: %w", err)
			}
		}
		client, err := gtfsdb.NewClient(gtfsdb.NewConfig(cfg.SnapshotDBPath, cfg.Env, cfg.Verbose))
		if err != nil {
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		application.Snapshots = client
		application.Metrics.StartDBStatsCollector(client.DB, dbStatsInterval)
	}

	return application, nil
}
