package app

import (
	"errors"
	"fmt"
	"log/slog"

	"ptgraph.dev/gtfsdb"
	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/clock"
	"ptgraph.dev/internal/gtfs"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/metrics"
	"ptgraph.dev/internal/pipeline"
)

// Application holds the dependencies shared by the CLI commands.
type Application struct {
	Config     appconf.Config
	GtfsConfig gtfs.Config
	Logger     *slog.Logger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Snapshots  *gtfsdb.Client
}

// Runner returns a pipeline runner reading the configured feeds and writing
// to the snapshot store.
func (app *Application) Runner() (*pipeline.Runner, error) {
	loader := gtfs.NewLoader(app.GtfsConfig, app.Metrics)
	opts := []pipeline.Option{
		pipeline.WithClock(app.Clock),
		pipeline.WithMetrics(app.Metrics),
	}
	if app.Snapshots != nil {
		opts = append(opts, pipeline.WithSnapshots(app.Snapshots))
	}
	return pipeline.NewRunner(app.Config, loader, opts...)
}

// Close stops the metrics collector, writes the metrics textfile when one is
// configured and closes the snapshot store.
func (app *Application) Close() error {
	var errs []error
	if app.Metrics != nil {
		app.Metrics.Shutdown()
		if path := app.Config.MetricsPath; path != "" {
			if err := app.Metrics.WriteTextfile(path); err != nil {
				errs = append(errs, fmt.Errorf("writing metrics to %s: %w", path, err))
			} else {
				logging.LogOperation(app.Logger, "metrics_written", slog.String("path", path))
			}
		}
	}
	if app.Snapshots != nil {
		if err := app.Snapshots.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing snapshot store: %w", err))
		}
	}
	return errors.Join(errs...)
}
