// Package validate runs sanity checks over a built graph and, optionally,
// compares it with the snapshot tables it was built from. Every check is
// independent and non-fatal; the outcome is collected in a Report.
package validate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/graph"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/metrics"
	"ptgraph.dev/internal/models"
)

// DefaultSampleSize is the number of snapshot edges looked up in the graph.
const DefaultSampleSize = 5

// Snapshot is the read side of the snapshot store used for cross-checks.
type Snapshot interface {
	TableCounts() (map[string]int, error)
	SampleMergedEdges(ctx context.Context, n int) ([]models.MergedEdge, error)
}

// Options configures Validate.
type Options struct {
	CityPairs []appconf.CityPair
	// Snapshot enables the cross-check when set.
	Snapshot   Snapshot
	SampleSize int
	Metrics    *metrics.Metrics
}

// Validate checks g. The returned error is only set when the snapshot cannot
// be read; graph problems are reported, never returned.
func Validate(ctx context.Context, g *graph.Graph, opts Options) (*Report, error) {
	logger := slog.Default().With(slog.String("component", "graph_validator"))

	r := &Report{
		Nodes: g.NumNodes(),
		Arcs:  g.NumArcs(),
	}
	if r.Nodes == 0 {
		r.add("graph_not_empty", Fail, 1, "graph has no nodes")
	} else {
		r.add("graph_not_empty", Pass, 0, fmt.Sprintf("%d nodes, %d edges", r.Nodes, r.Arcs))
	}
	r.AverageDegree = g.AverageDegree()

	checkNodeAttributes(g, r)
	checkArcAttributes(g, r)
	modeDistribution(g, r)
	checkConnectivity(g, r)
	checkWeights(g, r)
	checkCityPairs(g, r, opts.CityPairs)
	checkReachability(g, r)

	if opts.Snapshot != nil {
		n := opts.SampleSize
		if n <= 0 {
			n = DefaultSampleSize
		}
		if err := crossCheck(ctx, g, r, opts.Snapshot, n); err != nil {
			return nil, fmt.Errorf("cross-checking snapshot: %w", err)
		}
	}

	if opts.Metrics != nil {
		for _, c := range r.Checks {
			opts.Metrics.ValidationFindings.WithLabelValues(c.Name).Set(float64(c.Findings))
		}
	}

	passed, warned, failed := r.Tally()
	logging.LogOperation(logger, "graph_validated",
		slog.Int("passed", passed),
		slog.Int("warnings", warned),
		slog.Int("failed", failed))
	return r, nil
}

var requiredNodeAttrs = []string{"stop_name", "lat", "lon", "node_type"}

func checkNodeAttributes(g *graph.Graph, r *Report) {
	missing := make(map[string]int)
	for _, n := range g.Nodes() {
		if n.Name == "" {
			missing["stop_name"]++
		}
		if n.Lat == 0 {
			missing["lat"]++
		}
		if n.Lon == 0 {
			missing["lon"]++
		}
		if n.Type == "" {
			missing["node_type"]++
		}
	}
	r.MissingNodeAttrs = missing
	r.add("node_attributes", statusOf(len(missing) == 0, Fail), total(missing), describeMissing(requiredNodeAttrs, missing))
}

// A zero distance or time is reported by checkWeights, not here.
var requiredArcAttrs = []string{"route_id", "mode", "distance", "time"}

func checkArcAttributes(g *graph.Graph, r *Report) {
	missing := make(map[string]int)
	for _, a := range g.Arcs() {
		if a.RouteID == "" {
			missing["route_id"]++
		}
		if !a.Mode.Valid() {
			missing["mode"]++
		}
		if math.IsNaN(a.Distance) || math.IsInf(a.Distance, 0) || a.Distance < 0 {
			missing["distance"]++
		}
		if a.Time < 0 {
			missing["time"]++
		}
	}
	r.MissingArcAttrs = missing
	r.add("edge_attributes", statusOf(len(missing) == 0, Fail), total(missing), describeMissing(requiredArcAttrs, missing))
}

func modeDistribution(g *graph.Graph, r *Report) {
	counts := make(map[models.Mode]int)
	for _, a := range g.Arcs() {
		counts[a.Mode]++
	}
	for mode, n := range counts {
		share := 0.0
		if r.Arcs > 0 {
			share = float64(n) / float64(r.Arcs) * 100
		}
		r.Modes = append(r.Modes, ModeShare{Mode: mode, Edges: n, Percent: share})
	}
	slices.SortFunc(r.Modes, func(a, b ModeShare) int {
		if c := cmp.Compare(b.Edges, a.Edges); c != 0 {
			return c
		}
		return cmp.Compare(a.Mode, b.Mode)
	})
}

func checkConnectivity(g *graph.Graph, r *Report) {
	r.Isolated = g.Isolated()
	if len(r.Isolated) > 0 {
		r.add("isolated_nodes", Warn, len(r.Isolated), fmt.Sprintf("%d isolated nodes", len(r.Isolated)))
	} else {
		r.add("isolated_nodes", Pass, 0, "no isolated nodes")
	}

	components := g.WeaklyConnectedComponents()
	r.ComponentSizes = make([]int, len(components))
	for i, c := range components {
		r.ComponentSizes[i] = len(c)
	}
	switch len(components) {
	case 0, 1:
		r.add("connectivity", Pass, 0, "graph is fully connected")
	default:
		r.add("connectivity", Warn, len(components)-1, fmt.Sprintf("%d weakly connected components", len(components)))
	}
}

func checkWeights(g *graph.Graph, r *Report) {
	var totalTime, totalDistance float64
	for _, a := range g.Arcs() {
		if a.Time <= 0 {
			r.NonPositiveTime++
		}
		if a.Distance <= 0 {
			r.NonPositiveDistance++
		}
		totalTime += float64(a.Time)
		totalDistance += a.Distance
	}
	if r.Arcs > 0 {
		r.AvgTime = totalTime / float64(r.Arcs)
		r.AvgDistance = totalDistance / float64(r.Arcs)
	}

	if r.NonPositiveTime > 0 {
		r.add("edge_time", Warn, r.NonPositiveTime, fmt.Sprintf("%d edges with zero/negative time", r.NonPositiveTime))
	} else {
		r.add("edge_time", Pass, 0, "no edges with zero/negative time")
	}
	if r.NonPositiveDistance > 0 {
		r.add("edge_distance", Warn, r.NonPositiveDistance, fmt.Sprintf("%d edges with zero/negative distance", r.NonPositiveDistance))
	} else {
		r.add("edge_distance", Pass, 0, "no edges with zero/negative distance")
	}
}

// checkCityPairs routes between the first station matching each name, by
// travel time.
func checkCityPairs(g *graph.Graph, r *Report, pairs []appconf.CityPair) {
	for _, p := range pairs {
		result := CityPairResult{Origin: p.Origin, Destination: p.Destination}
		origins := g.FindByName(p.Origin)
		destinations := g.FindByName(p.Destination)

		name := "city_pair:" + p.Origin + "->" + p.Destination
		switch {
		case len(origins) == 0 || len(destinations) == 0:
			result.Error = "station not found"
		default:
			result.From = origins[0].ID
			result.To = destinations[0].ID
			path, err := g.ShortestPath(result.From, result.To, graph.ByTime)
			if err != nil {
				if errors.Is(err, graph.ErrNoPath) {
					result.Error = "no path found"
				} else {
					result.Error = err.Error()
				}
				break
			}
			result.Found = true
			result.Stops = len(path.Nodes)
			result.Time = path.Time
			result.Distance = path.Distance
			result.Modes = path.Modes()
		}

		r.CityPairs = append(r.CityPairs, result)
		if result.Found {
			r.add(name, Pass, 0, fmt.Sprintf("%d stops, %ds", result.Stops, result.Time))
		} else {
			r.add(name, Fail, 1, result.Error)
		}
	}
}

// checkReachability counts the nodes reachable from the first node.
func checkReachability(g *graph.Graph, r *Report) {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return
	}
	reached, err := g.Descendants(nodes[0].ID)
	if err != nil {
		return
	}
	r.Reachability = &Reachability{
		Origin:  nodes[0].ID,
		Reached: len(reached),
		Percent: float64(len(reached)) / float64(len(nodes)) * 100,
	}
}

func crossCheck(ctx context.Context, g *graph.Graph, r *Report, snap Snapshot, sampleSize int) error {
	counts, err := snap.TableCounts()
	if err != nil {
		return err
	}
	cc := &CrossCheck{
		SnapshotStations: counts["stops_cleaned"],
		SnapshotEdges:    counts["edges_merged"],
	}
	r.CrossCheck = cc

	if cc.SnapshotStations == r.Nodes {
		r.add("cross_check_nodes", Pass, 0, fmt.Sprintf("graph nodes (%d) match stops_cleaned", r.Nodes))
	} else {
		r.add("cross_check_nodes", Warn, 1,
			fmt.Sprintf("graph has %d nodes, stops_cleaned has %d", r.Nodes, cc.SnapshotStations))
	}

	diff := cc.SnapshotEdges - r.Arcs
	switch {
	case diff > 0:
		r.add("cross_check_edges", Pass, 0, fmt.Sprintf("%d edges were filtered out (unknown stations)", diff))
	case diff == 0:
		r.add("cross_check_edges", Pass, 0, "all edges from edges_merged are in the graph")
	default:
		r.add("cross_check_edges", Warn, -diff, fmt.Sprintf("graph has %d more edges than edges_merged", -diff))
	}

	sample, err := snap.SampleMergedEdges(ctx, sampleSize)
	if err != nil {
		return err
	}
	missing := 0
	for _, e := range sample {
		present := g.HasArc(e.From, e.To)
		cc.Sample = append(cc.Sample, SampledEdge{From: e.From, To: e.To, Present: present})
		if !present {
			missing++
		}
	}
	r.add("cross_check_sample", statusOf(missing == 0, Fail), missing,
		fmt.Sprintf("%d of %d sampled edges present", len(sample)-missing, len(sample)))
	return nil
}

func statusOf(ok bool, otherwise Status) Status {
	if ok {
		return Pass
	}
	return otherwise
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func describeMissing(required []string, missing map[string]int) string {
	if len(missing) == 0 {
		return "all required attributes present"
	}
	var parts []string
	for _, attr := range required {
		if n := missing[attr]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s (%d)", attr, n))
		}
	}
	return "missing " + strings.Join(parts, ", ")
}
