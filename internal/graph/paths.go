package graph

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/twpayne/go-polyline"
	"ptgraph.dev/internal/models"
)

// Weight selects the arc attribute a shortest path minimises.
type Weight int

const (
	ByTime Weight = iota
	ByDistance
	ByEmissions
)

// ParseWeight accepts "time", "distance" or "emissions".
func ParseWeight(s string) (Weight, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "time", "":
		return ByTime, nil
	case "distance":
		return ByDistance, nil
	case "emissions":
		return ByEmissions, nil
	}
	return 0, fmt.Errorf("unknown path weight %q", s)
}

func (w Weight) String() string {
	switch w {
	case ByDistance:
		return "distance"
	case ByEmissions:
		return "emissions"
	default:
		return "time"
	}
}

func (w Weight) of(a Arc) float64 {
	switch w {
	case ByDistance:
		return a.Distance
	case ByEmissions:
		return a.Emissions
	default:
		return float64(a.Time)
	}
}

// Path is a route through the graph with its totals.
type Path struct {
	Nodes     []string
	Arcs      []Arc
	Cost      float64
	Time      int
	Distance  float64
	Emissions float64
}

// Modes lists the distinct modes used, in order of first use.
func (p Path) Modes() []models.Mode {
	var modes []models.Mode
	seen := make(map[models.Mode]bool)
	for _, a := range p.Arcs {
		if !seen[a.Mode] {
			seen[a.Mode] = true
			modes = append(modes, a.Mode)
		}
	}
	return modes
}

// Polyline encodes the node coordinates of p as a Google encoded polyline.
func (g *Graph) Polyline(p Path) string {
	coords := make([][]float64, 0, len(p.Nodes))
	for _, id := range p.Nodes {
		if n, ok := g.Node(id); ok {
			coords = append(coords, []float64{n.Lat, n.Lon})
		}
	}
	return string(polyline.EncodeCoords(coords))
}

// ShortestPath runs Dijkstra from one station to another, minimising w.
// Weights are non-negative by construction.
func (g *Graph) ShortestPath(from, to string, w Weight) (Path, error) {
	src, ok := g.index[from]
	if !ok {
		return Path{}, fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	dst, ok := g.index[to]
	if !ok {
		return Path{}, fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}

	dist := make([]float64, len(g.nodes))
	prevArc := make([]int, len(g.nodes))
	reached := make([]bool, len(g.nodes))
	done := make([]bool, len(g.nodes))
	for i := range prevArc {
		prevArc[i] = -1
	}
	reached[src] = true

	pq := &priorityQueue{}
	heap.Push(pq, &pqItem{node: src, priority: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		current := item.node
		if done[current] {
			continue
		}
		done[current] = true
		if current == dst {
			break
		}
		for _, ai := range g.out[current] {
			next := g.index[g.arcs[ai].To]
			tentative := dist[current] + w.of(g.arcs[ai])
			if !reached[next] || tentative < dist[next] {
				reached[next] = true
				dist[next] = tentative
				prevArc[next] = ai
				heap.Push(pq, &pqItem{node: next, priority: tentative})
			}
		}
	}

	if !done[dst] {
		return Path{}, fmt.Errorf("%w: %s -> %s", ErrNoPath, from, to)
	}

	var arcs []Arc
	for at := dst; at != src; {
		a := g.arcs[prevArc[at]]
		arcs = append(arcs, a)
		at = g.index[a.From]
	}
	p := Path{Nodes: []string{from}, Cost: dist[dst]}
	for i := len(arcs) - 1; i >= 0; i-- {
		a := arcs[i]
		p.Arcs = append(p.Arcs, a)
		p.Nodes = append(p.Nodes, a.To)
		p.Time += a.Time
		p.Distance += a.Distance
		p.Emissions += a.Emissions
	}
	return p, nil
}

// Descendants returns every node reachable from id, excluding id itself,
// in breadth-first order.
func (g *Graph) Descendants(id string) ([]string, error) {
	start, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	visited := make([]bool, len(g.nodes))
	visited[start] = true
	queue := []int{start}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, ai := range g.out[current] {
			next := g.index[g.arcs[ai].To]
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, g.nodes[next].ID)
			queue = append(queue, next)
		}
	}
	return out, nil
}

type pqItem struct {
	node     int
	priority float64
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(*pqItem))
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}
