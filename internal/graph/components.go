package graph

import (
	"cmp"
	"slices"
	"strings"
)

// WeaklyConnectedComponents groups nodes connected when arc direction is
// ignored. Components are sorted by size, largest first; nodes within a
// component keep insertion order.
func (g *Graph) WeaklyConnectedComponents() [][]string {
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, a := range g.arcs {
		ra, rb := find(g.index[a.From]), find(g.index[a.To])
		if ra != rb {
			parent[max(ra, rb)] = min(ra, rb)
		}
	}

	byRoot := make(map[int]int)
	var components [][]string
	for i, n := range g.nodes {
		root := find(i)
		c, ok := byRoot[root]
		if !ok {
			c = len(components)
			byRoot[root] = c
			components = append(components, nil)
		}
		components[c] = append(components[c], n.ID)
	}
	slices.SortStableFunc(components, func(a, b []string) int {
		return cmp.Compare(len(b), len(a))
	})
	return components
}

// Isolated returns the nodes with no arcs at all, in insertion order.
func (g *Graph) Isolated() []string {
	var out []string
	for i, n := range g.nodes {
		if len(g.out[i]) == 0 && len(g.in[i]) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// FindByName returns the nodes whose name contains substr, ignoring case,
// in insertion order.
func (g *Graph) FindByName(substr string) []Node {
	needle := strings.ToLower(substr)
	var out []Node
	for _, n := range g.nodes {
		if strings.Contains(strings.ToLower(n.Name), needle) {
			out = append(out, n)
		}
	}
	return out
}
