// Package pipeline turns raw GTFS tables into the station graph.
//
// Stages run in order, each reading its whole input before producing output:
// station resolution, edge derivation, merging, emissions annotation and
// graph construction. Intermediate tables are handed to an optional
// SnapshotWriter as each stage completes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/clock"
	"ptgraph.dev/internal/graph"
	"ptgraph.dev/internal/gtfs"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/metrics"
	"ptgraph.dev/internal/models"
	"ptgraph.dev/internal/utils"
)

// FeedLoader produces the filtered raw tables of every feed.
type FeedLoader interface {
	Load(ctx context.Context) (*gtfs.Result, error)
}

// SnapshotWriter persists the intermediate tables of a run.
type SnapshotWriter interface {
	ReplaceRawTables(ctx context.Context, t *models.Tables) error
	ReplaceStations(ctx context.Context, stations []models.Station, mapping []models.StopStation) error
	ReplaceRawEdges(ctx context.Context, edges []models.RawEdge) error
	ReplaceMergedEdges(ctx context.Context, edges []models.MergedEdge) error
	PutRunMetadata(ctx context.Context, values map[string]string) error
}

// SnapshotReader reads back the tables the graph is built from.
type SnapshotReader interface {
	ListStations(ctx context.Context) ([]models.Station, error)
	ListMergedEdges(ctx context.Context) ([]models.MergedEdge, error)
	RunMetadata(ctx context.Context) (map[string]string, error)
}

// Report summarises one run.
type Report struct {
	RunID     string
	BuiltAt   time.Time
	Missing   []gtfs.MissingSource
	Stations  StationStats
	Trips     int
	RawEdges  int
	Discards  DiscardCounts
	Merge     MergeStats
	Graph     graph.BuildStats
	Durations map[string]time.Duration
}

// Runner executes the full pipeline.
type Runner struct {
	config     appconf.Config
	loader     FeedLoader
	snapshots  SnapshotWriter
	metrics    *metrics.Metrics
	clock      clock.Clock
	classifier *ModeClassifier
	factors    EmissionFactors
	newRunID   func() string
	logger     *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithSnapshots stores intermediate tables in w.
func WithSnapshots(w SnapshotWriter) Option {
	return func(r *Runner) { r.snapshots = w }
}

// WithMetrics records stage metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock sets the clock used for the build timestamp.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithRunID replaces the uuid run id generator.
func WithRunID(f func() string) Option {
	return func(r *Runner) { r.newRunID = f }
}

// NewRunner creates a Runner reading feeds through loader.
func NewRunner(cfg appconf.Config, loader FeedLoader, opts ...Option) (*Runner, error) {
	classifier, err := NewModeClassifier(cfg)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		config:     cfg,
		loader:     loader,
		clock:      clock.RealClock{},
		classifier: classifier,
		factors:    NewEmissionFactors(cfg),
		newRunID:   uuid.NewString,
		logger:     slog.Default().With(slog.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes every stage and returns the graph. Any stage failure aborts
// the run; no partial graph is returned.
func (r *Runner) Run(ctx context.Context) (*graph.Graph, *Report, error) {
	report := &Report{
		RunID:     r.newRunID(),
		BuiltAt:   r.clock.Now().UTC(),
		Durations: make(map[string]time.Duration),
	}
	ctx = logging.WithLogger(ctx, r.logger.With(slog.String("run_id", report.RunID)))
	logger := logging.FromContext(ctx)
	logging.LogOperation(logger, "pipeline_started", slog.Int("feeds", len(r.config.EnabledFeeds())))

	// Load.
	stop := r.stage("load")
	loaded, err := r.loader.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading feeds: %w", err)
	}
	report.Durations["load"] = stop()
	report.Missing = loaded.Missing
	tables := loaded.Tables
	if r.snapshots != nil {
		if err := r.snapshots.ReplaceRawTables(ctx, tables); err != nil {
			return nil, nil, fmt.Errorf("writing raw tables: %w", err)
		}
	}

	// Stations.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	stop = r.stage("stations")
	stations := ResolveStations(tables.Stops, r.region())
	report.Durations["stations"] = stop()
	report.Stations = stations.Stats
	logging.LogOperation(logger, "stations_resolved",
		slog.Int("raw_stops", stations.Stats.Raw),
		slog.Int("valid_type", stations.Stats.ValidType),
		slog.Int("with_coords", stations.Stats.WithCoords),
		slog.Int("in_region", stations.Stats.InRegion),
		slog.Int("stations", stations.Stats.Stations),
		slog.Int("mappings", stations.Stats.Mappings))
	if r.snapshots != nil {
		if err := r.snapshots.ReplaceStations(ctx, stations.Stations, stations.Map.Entries()); err != nil {
			return nil, nil, fmt.Errorf("writing stations: %w", err)
		}
	}

	// Edges.
	stop = r.stage("edges")
	deriver := &EdgeDeriver{
		Stations:    stations.Map,
		Trips:       NewTripIndex(tables.Trips, tables.Routes),
		Coords:      NewCoordIndex(tables.Stops),
		Classifier:  r.classifier,
		Workers:     r.config.Workers,
		StrictTimes: r.config.StrictTimes,
	}
	derived, err := deriver.Derive(ctx, tables.StopTimes)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving edges: %w", err)
	}
	report.Durations["edges"] = stop()
	report.Trips = derived.Trips
	report.RawEdges = len(derived.Edges)
	report.Discards = derived.Discards
	if r.metrics != nil {
		r.metrics.EdgesRaw.Set(float64(len(derived.Edges)))
		for _, reason := range DiscardReasons() {
			if n := derived.Discards.Get(reason); n > 0 {
				r.metrics.EdgesDiscarded.WithLabelValues(reason.String()).Add(float64(n))
			}
		}
	}
	if r.snapshots != nil {
		if err := r.snapshots.ReplaceRawEdges(ctx, derived.Edges); err != nil {
			return nil, nil, fmt.Errorf("writing raw edges: %w", err)
		}
	}

	// Merge.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	stop = r.stage("merge")
	merged, mergeStats := MergeEdges(derived.Edges)
	report.Durations["merge"] = stop()
	report.Merge = mergeStats
	logMergeStats(logger, mergeStats)
	if r.metrics != nil {
		r.metrics.EdgesMerged.Set(float64(len(merged)))
	}
	if r.snapshots != nil {
		if err := r.snapshots.ReplaceMergedEdges(ctx, merged); err != nil {
			return nil, nil, fmt.Errorf("writing merged edges: %w", err)
		}
	}

	// Graph.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	stop = r.stage("graph")
	g, buildStats, err := r.build(stations.Stations, merged, report, r.feedNames())
	if err != nil {
		return nil, nil, err
	}
	report.Durations["graph"] = stop()
	report.Graph = buildStats

	if r.snapshots != nil {
		if err := r.snapshots.PutRunMetadata(ctx, runMetadata(report, g)); err != nil {
			return nil, nil, fmt.Errorf("writing run metadata: %w", err)
		}
	}

	logging.LogOperation(logger, "pipeline_completed",
		slog.Int("nodes", g.NumNodes()),
		slog.Int("arcs", g.NumArcs()),
		slog.Int("discarded_edges", report.Discards.Total()))
	return g, report, nil
}

// BuildFromSnapshot rebuilds the graph from the stations and merged edges
// stored by an earlier run. Run id and feed list come from that run's
// metadata, falling back to a fresh id and the configured feeds.
func (r *Runner) BuildFromSnapshot(ctx context.Context, snap SnapshotReader) (*graph.Graph, graph.BuildStats, error) {
	stations, err := snap.ListStations(ctx)
	if err != nil {
		return nil, graph.BuildStats{}, fmt.Errorf("reading stations: %w", err)
	}
	merged, err := snap.ListMergedEdges(ctx)
	if err != nil {
		return nil, graph.BuildStats{}, fmt.Errorf("reading merged edges: %w", err)
	}
	meta, err := snap.RunMetadata(ctx)
	if err != nil {
		return nil, graph.BuildStats{}, fmt.Errorf("reading run metadata: %w", err)
	}

	report := &Report{RunID: meta["run_id"], BuiltAt: r.clock.Now().UTC()}
	if report.RunID == "" {
		report.RunID = r.newRunID()
	}

	feeds := r.feedNames()
	if v := meta["feeds"]; v != "" {
		feeds = strings.Split(v, ",")
	}

	stop := r.stage("graph")
	defer stop()
	return r.build(stations, merged, report, feeds)
}

func (r *Runner) build(stations []models.Station, merged []models.MergedEdge, report *Report, feeds []string) (*graph.Graph, graph.BuildStats, error) {
	annotated := AnnotateEmissions(merged, r.factors)
	g, stats, err := graph.Build(stations, annotated, graph.Metadata{
		RunID:   report.RunID,
		BuiltAt: report.BuiltAt,
		Feeds:   feeds,
	})
	if err != nil {
		return nil, graph.BuildStats{}, fmt.Errorf("building graph: %w", err)
	}
	if r.metrics != nil {
		r.metrics.GraphNodes.Set(float64(stats.Nodes))
		r.metrics.GraphArcs.Set(float64(stats.Arcs))
	}
	return g, stats, nil
}

func (r *Runner) stage(name string) func() time.Duration {
	if r.metrics == nil {
		start := r.clock.Now()
		return func() time.Duration { return r.clock.Now().Sub(start) }
	}
	return r.metrics.StageTimer(name)
}

func (r *Runner) region() utils.CoordinateBounds {
	return utils.CoordinateBounds{
		MinLat: r.config.Region.MinLat,
		MaxLat: r.config.Region.MaxLat,
		MinLon: r.config.Region.MinLon,
		MaxLon: r.config.Region.MaxLon,
	}
}

func (r *Runner) feedNames() []string {
	feeds := r.config.EnabledFeeds()
	names := make([]string, len(feeds))
	for i, f := range feeds {
		names[i] = f.Name
	}
	return names
}

func logMergeStats(logger *slog.Logger, s MergeStats) {
	attrs := []slog.Attr{
		slog.Int("raw", s.Raw),
		slog.Int("merged", s.Merged),
		slog.Int("duplicates_removed", s.Duplicates),
		slog.Float64("avg_time_s", s.AvgTime),
		slog.Float64("avg_distance_m", s.AvgDistance),
	}
	for _, m := range models.Modes {
		attrs = append(attrs, slog.Int("mode_"+m.String(), s.ModeCounts[m]))
	}
	logging.LogOperation(logger, "edges_merged", attrs...)
	if s.ZeroTime > 0 || s.ZeroDistance > 0 {
		logging.LogWarning(logger, "merged edges with zero weights",
			slog.Int("zero_time", s.ZeroTime),
			slog.Int("zero_distance", s.ZeroDistance))
	}
}

func runMetadata(report *Report, g *graph.Graph) map[string]string {
	values := map[string]string{
		"run_id":       report.RunID,
		"built_at":     report.BuiltAt.Format(time.RFC3339),
		"feeds":        strings.Join(g.Metadata.Feeds, ","),
		"stations":     strconv.Itoa(report.Stations.Stations),
		"trips":        strconv.Itoa(report.Trips),
		"edges_raw":    strconv.Itoa(report.RawEdges),
		"edges_merged": strconv.Itoa(report.Merge.Merged),
		"graph_nodes":  strconv.Itoa(g.NumNodes()),
		"graph_arcs":   strconv.Itoa(g.NumArcs()),
	}
	for reason, n := range report.Discards.NonZero() {
		values["discarded_"+reason] = strconv.Itoa(n)
	}
	for _, m := range report.Missing {
		values["missing_"+m.Feed+"_"+strings.TrimSuffix(m.Table, ".txt")] = "true"
	}
	return values
}
