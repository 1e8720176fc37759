package graph

import (
	"cmp"
	"slices"

	"github.com/tidwall/rtree"
	"ptgraph.dev/internal/utils"
)

// NearbyNode is a node with its distance in meters from a query point.
type NearbyNode struct {
	Node
	Distance float64
}

func (g *Graph) spatialIndex() *rtree.RTreeG[int] {
	g.spatialOnce.Do(func() {
		tr := &rtree.RTreeG[int]{}
		for i, n := range g.nodes {
			pt := [2]float64{n.Lon, n.Lat}
			tr.Insert(pt, pt, i)
		}
		g.spatial = tr
	})
	return g.spatial
}

// Nearest returns the nodes within radius meters of (lat, lon), closest
// first.
func (g *Graph) Nearest(lat, lon, radius float64) []NearbyNode {
	bounds := utils.CalculateBounds(lat, lon, radius)
	var out []NearbyNode
	g.spatialIndex().Search(
		[2]float64{bounds.MinLon, bounds.MinLat},
		[2]float64{bounds.MaxLon, bounds.MaxLat},
		func(_, _ [2]float64, i int) bool {
			n := g.nodes[i]
			d := utils.HaversineDistance(lat, lon, n.Lat, n.Lon)
			if d <= radius {
				out = append(out, NearbyNode{Node: n, Distance: d})
			}
			return true
		},
	)
	slices.SortFunc(out, func(a, b NearbyNode) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
