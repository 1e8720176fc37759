// Package gtfs loads the raw GTFS tables of every configured feed.
package gtfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/metrics"
	"ptgraph.dev/internal/models"
)

// Result is the output of Loader.Load.
type Result struct {
	// Tables holds every feed's filtered rows, concatenated in feed order.
	Tables *models.Tables
	// Missing lists tables absent from a feed, in load order.
	Missing []MissingSource
}

// Loader reads and filters the configured feeds.
type Loader struct {
	config  Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLoader creates a Loader. m may be nil.
func NewLoader(config Config, m *metrics.Metrics) *Loader {
	return &Loader{
		config:  config,
		metrics: m,
		logger:  slog.Default().With(slog.String("component", "gtfs_loader")),
	}
}

// Load reads every feed in order, concatenates the tables and applies the
// route, trip and stop-time filters. Stops are returned unfiltered.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	raw := &models.Tables{}
	result := &Result{}

	for _, feed := range l.config.Feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tables, missing, err := l.loadFeed(feed)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feed.Name, err)
		}
		for _, table := range missing {
			m := MissingSource{Feed: feed.Name, Table: table}
			result.Missing = append(result.Missing, m)
			logging.LogWarning(l.logger, "missing source file",
				slog.String("feed", feed.Name), slog.String("table", table))
			if l.metrics != nil {
				l.metrics.MissingSourceFiles.WithLabelValues(feed.Name, strings.TrimSuffix(table, ".txt")).Inc()
			}
		}

		raw.Routes = append(raw.Routes, tables.Routes...)
		raw.Stops = append(raw.Stops, tables.Stops...)
		raw.Trips = append(raw.Trips, tables.Trips...)
		raw.StopTimes = append(raw.StopTimes, tables.StopTimes...)

		if l.config.Verbose {
			logging.LogOperation(l.logger, "feed_loaded",
				slog.String("feed", feed.Name),
				slog.Int("routes", len(tables.Routes)),
				slog.Int("stops", len(tables.Stops)),
				slog.Int("trips", len(tables.Trips)),
				slog.Int("stop_times", len(tables.StopTimes)))
		}
	}

	if len(raw.Stops) == 0 {
		return nil, ErrNoStopData
	}

	routes := FilterRoutes(raw.Routes, l.config.RouteTypes, l.config.ExcludeRouteKeyword)
	trips := FilterTrips(raw.Trips, routes)
	if len(trips) == 0 {
		return nil, ErrNoTripData
	}
	stopTimes := FilterStopTimes(raw.StopTimes, trips)

	result.Tables = &models.Tables{
		Routes:    routes,
		Stops:     raw.Stops,
		Trips:     trips,
		StopTimes: stopTimes,
	}
	l.recordRows(result.Tables)

	logging.LogOperation(l.logger, "feeds_loaded",
		slog.Int("feeds", len(l.config.Feeds)),
		slog.Int("routes", len(routes)),
		slog.Int("routes_filtered_out", len(raw.Routes)-len(routes)),
		slog.Int("stops", len(raw.Stops)),
		slog.Int("trips", len(trips)),
		slog.Int("stop_times", len(stopTimes)),
		slog.Int("missing_files", len(result.Missing)))

	return result, nil
}

// loadFeed dispatches on the feed location: a directory of extracted tables
// or a zip archive. A location that does not exist yields every table as
// missing.
func (l *Loader) loadFeed(feed FeedSource) (*models.Tables, []string, error) {
	info, err := os.Stat(feed.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &models.Tables{}, append([]string(nil), consumedTables...), nil
	}
	if err != nil {
		return nil, nil, err
	}

	if info.IsDir() {
		return csvTables(os.DirFS(feed.Path), feed.Name)
	}

	b, err := readArchive(feed.Path, feed.Member)
	if err != nil {
		return nil, nil, err
	}
	return zipTables(b, feed.Name, l.logger)
}

func (l *Loader) recordRows(t *models.Tables) {
	if l.metrics == nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, r := range t.Routes {
		counts[[2]string{r.FeedSource, "routes"}]++
	}
	for _, s := range t.Stops {
		counts[[2]string{s.FeedSource, "stops"}]++
	}
	for _, tr := range t.Trips {
		counts[[2]string{tr.FeedSource, "trips"}]++
	}
	for _, st := range t.StopTimes {
		counts[[2]string{st.FeedSource, "stop_times"}]++
	}
	for key, n := range counts {
		l.metrics.RowsLoaded.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}
