// Package graph holds the routable transit graph: stations as nodes, one
// directed arc per served station pair.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/rtree"
	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/models"
	"ptgraph.dev/internal/utils"
)

// NodeTypeStop tags every node built from a station.
const NodeTypeStop = "pt_stop"

var (
	ErrDuplicateNode = errors.New("duplicate node")
	ErrDuplicateArc  = errors.New("duplicate arc")
	ErrUnknownNode   = errors.New("unknown node")
	ErrNoPath        = errors.New("no path")
)

// Node is a station.
type Node struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
	Type string
}

// Arc is a directed edge between two stations. Distance is in meters, Time
// in seconds, Emissions in kg CO2.
type Arc struct {
	From            string
	To              string
	RouteID         string
	RouteName       string
	Mode            models.Mode
	Distance        float64
	Time            int
	EmissionsFactor float64
	Emissions       float64
}

// Metadata describes how and from what a graph was built.
type Metadata struct {
	RunID   string
	BuiltAt time.Time
	Feeds   []string
	Bounds  utils.CoordinateBounds
}

// Graph is a directed graph without multi-edges. It is immutable once built
// and safe for concurrent reads.
type Graph struct {
	Metadata Metadata

	nodes []Node
	arcs  []Arc
	index map[string]int
	out   [][]int
	in    [][]int
	pairs map[[2]int]int

	spatialOnce sync.Once
	spatial     *rtree.RTreeG[int]
}

func newGraph(nodeHint, arcHint int) *Graph {
	return &Graph{
		nodes: make([]Node, 0, nodeHint),
		arcs:  make([]Arc, 0, arcHint),
		index: make(map[string]int, nodeHint),
		out:   make([][]int, 0, nodeHint),
		in:    make([][]int, 0, nodeHint),
		pairs: make(map[[2]int]int, arcHint),
	}
}

func (g *Graph) addNode(n Node) error {
	if _, ok := g.index[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return nil
}

func (g *Graph) addArc(a Arc) error {
	from, ok := g.index[a.From]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, a.From)
	}
	to, ok := g.index[a.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, a.To)
	}
	key := [2]int{from, to}
	if _, ok := g.pairs[key]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrDuplicateArc, a.From, a.To)
	}
	i := len(g.arcs)
	g.arcs = append(g.arcs, a)
	g.pairs[key] = i
	g.out[from] = append(g.out[from], i)
	g.in[to] = append(g.in[to], i)
	return nil
}

// BuildStats reports what Build left out.
type BuildStats struct {
	Nodes          int
	Arcs           int
	SkippedUnknown int
}

// Build creates one node per station and one arc per edge. Edges whose
// endpoints are not stations are skipped and counted; a repeated station pair
// is an error. meta.Bounds is computed from the stations.
func Build(stations []models.Station, edges []models.AnnotatedEdge, meta Metadata) (*Graph, BuildStats, error) {
	logger := slog.Default().With(slog.String("component", "graph_builder"))

	g := newGraph(len(stations), len(edges))
	for _, s := range stations {
		err := g.addNode(Node{
			ID:   s.StationID,
			Name: s.Name,
			Lat:  s.Lat,
			Lon:  s.Lon,
			Type: NodeTypeStop,
		})
		if err != nil {
			return nil, BuildStats{}, err
		}
	}

	var stats BuildStats
	for _, e := range edges {
		err := g.addArc(Arc{
			From:            e.From,
			To:              e.To,
			RouteID:         e.RouteID,
			RouteName:       e.RouteName,
			Mode:            e.Mode,
			Distance:        e.Distance,
			Time:            e.Time,
			EmissionsFactor: e.EmissionsFactor,
			Emissions:       e.Emissions,
		})
		switch {
		case errors.Is(err, ErrUnknownNode):
			stats.SkippedUnknown++
		case err != nil:
			return nil, BuildStats{}, err
		}
	}

	if b := ComputeBounds(g.nodes); b != nil {
		meta.Bounds = *b
	}
	g.Metadata = meta

	stats.Nodes = len(g.nodes)
	stats.Arcs = len(g.arcs)
	logging.LogOperation(logger, "graph_built",
		slog.Int("nodes", stats.Nodes),
		slog.Int("arcs", stats.Arcs),
		slog.Int("skipped_unknown_endpoint", stats.SkippedUnknown))
	if stats.SkippedUnknown > 0 {
		logging.LogWarning(logger, "edges reference unknown stations",
			slog.Int("count", stats.SkippedUnknown))
	}
	return g, stats, nil
}

// ComputeBounds returns the bounding box of nodes, or nil when there are none.
func ComputeBounds(nodes []Node) *utils.CoordinateBounds {
	if len(nodes) == 0 {
		return nil
	}
	b := utils.CoordinateBounds{
		MinLat: nodes[0].Lat, MaxLat: nodes[0].Lat,
		MinLon: nodes[0].Lon, MaxLon: nodes[0].Lon,
	}
	for _, n := range nodes[1:] {
		b.MinLat = min(b.MinLat, n.Lat)
		b.MaxLat = max(b.MaxLat, n.Lat)
		b.MinLon = min(b.MinLon, n.Lon)
		b.MaxLon = max(b.MaxLon, n.Lon)
	}
	return &b
}

func (g *Graph) NumNodes() int { return len(g.nodes) }

func (g *Graph) NumArcs() int { return len(g.arcs) }

// Nodes returns the nodes in insertion order. Callers must not modify it.
func (g *Graph) Nodes() []Node { return g.nodes }

// Arcs returns the arcs in insertion order. Callers must not modify it.
func (g *Graph) Arcs() []Arc { return g.arcs }

// Node looks a node up by id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Arc returns the arc from one station to another.
func (g *Graph) Arc(from, to string) (Arc, bool) {
	i, okFrom := g.index[from]
	j, okTo := g.index[to]
	if !okFrom || !okTo {
		return Arc{}, false
	}
	a, ok := g.pairs[[2]int{i, j}]
	if !ok {
		return Arc{}, false
	}
	return g.arcs[a], true
}

func (g *Graph) HasArc(from, to string) bool {
	_, ok := g.Arc(from, to)
	return ok
}

// OutArcs returns the arcs leaving id.
func (g *Graph) OutArcs(id string) []Arc {
	return g.collect(id, g.out)
}

// InArcs returns the arcs entering id.
func (g *Graph) InArcs(id string) []Arc {
	return g.collect(id, g.in)
}

func (g *Graph) collect(id string, adjacency [][]int) []Arc {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]Arc, 0, len(adjacency[i]))
	for _, a := range adjacency[i] {
		out = append(out, g.arcs[a])
	}
	return out
}

// Degree is the number of arcs entering or leaving id.
func (g *Graph) Degree(id string) int {
	i, ok := g.index[id]
	if !ok {
		return 0
	}
	return len(g.out[i]) + len(g.in[i])
}

// AverageDegree is the mean of in plus out degree over all nodes.
func (g *Graph) AverageDegree() float64 {
	if len(g.nodes) == 0 {
		return 0
	}
	return 2 * float64(len(g.arcs)) / float64(len(g.nodes))
}
