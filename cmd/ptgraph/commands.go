package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"ptgraph.dev/gtfsdb"
	"ptgraph.dev/internal/app"
	"ptgraph.dev/internal/graph"
	"ptgraph.dev/internal/pipeline"
	"ptgraph.dev/internal/validate"
)

var (
	errUsage            = errors.New("usage error")
	errValidationFailed = errors.New("validation failed")
)

type streams struct {
	out io.Writer
	err io.Writer
}

type command struct {
	name      string
	summary   string
	// snapshots opens the snapshot store before run.
	snapshots bool
	run       func(ctx context.Context, application *app.Application, args []string, s streams) error
}

var commands = []command{
	{name: "build", summary: "load the GTFS feeds, write the snapshot database and the graph", snapshots: true, run: runBuild},
	{name: "graph", summary: "rebuild the graph from the snapshot database only", snapshots: true, run: runGraph},
	{name: "validate", summary: "check the graph and cross-check it with the snapshot", snapshots: true, run: runValidate},
	{name: "path", summary: "shortest path between two stations, by name", run: runPath},
	{name: "inspect", summary: "dump matching nodes with their outgoing and incoming arcs", run: runInspect},
}

func lookupCommand(name string) (command, bool) {
	i := slices.IndexFunc(commands, func(c command) bool { return c.name == name })
	if i < 0 {
		return command{}, false
	}
	return commands[i], true
}

func newFlagSet(name string, s streams) *flag.FlagSet {
	fs := flag.NewFlagSet("ptgraph "+name, flag.ContinueOnError)
	fs.SetOutput(s.err)
	return fs
}

func runBuild(ctx context.Context, application *app.Application, args []string, s streams) error {
	fs := newFlagSet("build", s)
	out := fs.String("out", application.Config.GraphPath, "graph output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runner, err := application.Runner()
	if err != nil {
		return err
	}
	g, report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := graph.SaveFile(*out, g); err != nil {
		return err
	}

	writeBuildSummary(s.out, report, g, *out)
	return nil
}

func writeBuildSummary(w io.Writer, r *pipeline.Report, g *graph.Graph, path string) {
	_, _ = fmt.Fprintf(w, "run %s built %s\n", r.RunID, r.BuiltAt.Format(time.RFC3339))
	for _, m := range r.Missing {
		_, _ = fmt.Fprintf(w, "  missing %s in feed %s\n", m.Table, m.Feed)
	}
	_, _ = fmt.Fprintf(w, "  stops: %d raw, %d valid type, %d with coordinates, %d in region\n",
		r.Stations.Raw, r.Stations.ValidType, r.Stations.WithCoords, r.Stations.InRegion)
	_, _ = fmt.Fprintf(w, "  stations: %d (%d stop mappings)\n", r.Stations.Stations, r.Stations.Mappings)
	_, _ = fmt.Fprintf(w, "  trips: %d, raw edges: %d, merged edges: %d\n", r.Trips, r.RawEdges, r.Merge.Merged)
	for _, reason := range pipeline.DiscardReasons() {
		if n := r.Discards.Get(reason); n > 0 {
			_, _ = fmt.Fprintf(w, "  discarded %s: %d\n", reason, n)
		}
	}
	if r.Graph.SkippedUnknown > 0 {
		_, _ = fmt.Fprintf(w, "  skipped edges with unknown stations: %d\n", r.Graph.SkippedUnknown)
	}
	_, _ = fmt.Fprintf(w, "graph: %d nodes, %d edges -> %s\n", g.NumNodes(), g.NumArcs(), path)
}

func runGraph(ctx context.Context, application *app.Application, args []string, s streams) error {
	fs := newFlagSet("graph", s)
	out := fs.String("out", application.Config.GraphPath, "graph output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runner, err := application.Runner()
	if err != nil {
		return err
	}
	g, stats, err := runner.BuildFromSnapshot(ctx, application.Snapshots)
	if err != nil {
		return err
	}
	if stats.Nodes == 0 {
		return fmt.Errorf("snapshot %s holds no stations; run build first", application.Snapshots.GetDBPath())
	}
	if err := graph.SaveFile(*out, g); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(s.out, "graph: %d nodes, %d edges (%d skipped) -> %s\n",
		stats.Nodes, stats.Arcs, stats.SkippedUnknown, *out)
	return nil
}

func runValidate(ctx context.Context, application *app.Application, args []string, s streams) error {
	fs := newFlagSet("validate", s)
	in := fs.String("graph", application.Config.GraphPath, "graph file to validate")
	sample := fs.Int("sample", validate.DefaultSampleSize, "snapshot edges to look up in the graph")
	noCrossCheck := fs.Bool("no-cross-check", false, "skip the comparison with the snapshot database")
	strict := fs.Bool("strict", false, "exit non-zero when a check fails")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g, err := graph.LoadFile(*in)
	if err != nil {
		return err
	}

	opts := validate.Options{
		CityPairs:  application.Config.CityPairs,
		SampleSize: *sample,
		Metrics:    application.Metrics,
	}
	if !*noCrossCheck && application.Snapshots != nil {
		opts.Snapshot = application.Snapshots
	}
	report, err := validate.Validate(ctx, g, opts)
	if err != nil {
		return err
	}
	if err := report.Write(s.out); err != nil {
		return err
	}
	if *strict && !report.Passed() {
		return errValidationFailed
	}
	return nil
}

func runPath(_ context.Context, application *app.Application, args []string, s streams) error {
	fs := newFlagSet("path", s)
	in := fs.String("graph", application.Config.GraphPath, "graph file")
	from := fs.String("from", "", "origin station name (substring, case-insensitive)")
	to := fs.String("to", "", "destination station name (substring, case-insensitive)")
	weightName := fs.String("weight", "time", "weight to minimise: time, distance or emissions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		_, _ = fmt.Fprintln(s.err, "path: -from and -to are required")
		fs.Usage()
		return errUsage
	}
	weight, err := graph.ParseWeight(*weightName)
	if err != nil {
		return err
	}

	g, err := graph.LoadFile(*in)
	if err != nil {
		return err
	}
	origin, err := firstByName(g, *from)
	if err != nil {
		return err
	}
	destination, err := firstByName(g, *to)
	if err != nil {
		return err
	}

	p, err := g.ShortestPath(origin.ID, destination.ID, weight)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(s.out, "%s (%s) -> %s (%s) by %s\n", origin.Name, origin.ID, destination.Name, destination.ID, weight)
	for _, a := range p.Arcs {
		fromNode, _ := g.Node(a.From)
		toNode, _ := g.Node(a.To)
		_, _ = fmt.Fprintf(s.out, "  %s -> %s  %s %s  %ds  %.0fm  %.3fkg\n",
			fromNode.Name, toNode.Name, a.Mode, a.RouteName, a.Time, a.Distance, a.Emissions)
	}
	modes := make([]string, 0, len(p.Modes()))
	for _, m := range p.Modes() {
		modes = append(modes, m.String())
	}
	_, _ = fmt.Fprintf(s.out, "stops: %d, time: %ds (%.1f min), distance: %.0fm, emissions: %.3fkg CO2, modes: %s\n",
		len(p.Nodes), p.Time, float64(p.Time)/60, p.Distance, p.Emissions, strings.Join(modes, ", "))
	_, _ = fmt.Fprintf(s.out, "polyline: %s\n", g.Polyline(p))
	return nil
}

func firstByName(g *graph.Graph, name string) (graph.Node, error) {
	matches := g.FindByName(name)
	if len(matches) == 0 {
		return graph.Node{}, fmt.Errorf("no station matches %q", name)
	}
	return matches[0], nil
}

func runInspect(ctx context.Context, application *app.Application, args []string, s streams) error {
	fs := newFlagSet("inspect", s)
	in := fs.String("graph", application.Config.GraphPath, "graph file")
	name := fs.String("name", "", "dump nodes whose name contains this substring")
	near := fs.String("near", "", "dump nodes near a \"lat,lon\" point")
	radius := fs.Float64("radius", 500, "search radius in meters for -near")
	stop := fs.String("stop", "", "resolve a GTFS stop_id to its station through the snapshot and dump that node")
	meta := fs.Bool("meta", false, "dump the graph metadata")
	schema := fs.Bool("schema", false, "dump the snapshot database schema instead of the graph")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dumper := spew.ConfigState{Indent: "  ", DisableMethods: true, DisablePointerAddresses: true, SortKeys: true}

	if *schema {
		client, err := openSnapshot(application)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		objects, err := gtfsdb.Schema(ctx, client.DB)
		if err != nil {
			return err
		}
		counts, err := client.TableCounts()
		if err != nil {
			return err
		}
		dumper.Fdump(s.out, objects, counts)
		return nil
	}

	if *name == "" && *near == "" && *stop == "" && !*meta {
		_, _ = fmt.Fprintln(s.err, "inspect: one of -name, -near, -stop, -meta or -schema is required")
		fs.Usage()
		return errUsage
	}

	var stationID string
	if *stop != "" {
		id, err := stopStation(ctx, application, *stop)
		if err != nil {
			return err
		}
		stationID = id
		_, _ = fmt.Fprintf(s.out, "stop %s -> station %s\n", *stop, stationID)
	}

	g, err := graph.LoadFile(*in)
	if err != nil {
		return err
	}
	if *meta {
		dumper.Fdump(s.out, g.Metadata)
	}

	var nodes []graph.Node
	if stationID != "" {
		n, ok := g.Node(stationID)
		if !ok {
			return fmt.Errorf("station %s is not in graph %s", stationID, *in)
		}
		nodes = append(nodes, n)
	}
	if *name != "" {
		nodes = append(nodes, g.FindByName(*name)...)
	}
	if *near != "" {
		lat, lon, err := parseLatLon(*near)
		if err != nil {
			return err
		}
		for _, n := range g.Nearest(lat, lon, *radius) {
			nodes = append(nodes, n.Node)
		}
	}

	for _, n := range nodes {
		dumper.Fdump(s.out, n, g.OutArcs(n.ID), g.InArcs(n.ID))
	}
	if (*name != "" || *near != "") && len(nodes) == 0 {
		_, _ = fmt.Fprintln(s.out, "no matching nodes")
	}
	return nil
}

func openSnapshot(application *app.Application) (*gtfsdb.Client, error) {
	return gtfsdb.NewClient(gtfsdb.NewConfig(application.Config.SnapshotDBPath, application.Config.Env, false))
}

// stopStation looks stopID up in the stop_to_station_map of the snapshot.
func stopStation(ctx context.Context, application *app.Application, stopID string) (string, error) {
	client, err := openSnapshot(application)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	entries, err := client.ListStopStations(ctx)
	if err != nil {
		return "", err
	}
	stationID, ok := pipeline.NewStationMap(entries).Lookup(stopID)
	if !ok {
		return "", fmt.Errorf("stop %q is not mapped to a station in %s", stopID, client.GetDBPath())
	}
	return stationID, nil
}

func parseLatLon(s string) (float64, float64, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid point %q: expected lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return lat, lon, nil
}
