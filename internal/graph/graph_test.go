package graph

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"
	"ptgraph.dev/internal/models"
)

var testStations = []models.Station{
	{StationID: "A", Name: "Southern Cross Station", Lat: -37.8184, Lon: 144.9525},
	{StationID: "B", Name: "Flinders Street Station", Lat: -37.8183, Lon: 144.9671},
	{StationID: "C", Name: "Richmond Station", Lat: -37.8240, Lon: 144.9900},
	{StationID: "D", Name: "Flagstaff Station", Lat: -37.8118, Lon: 144.9560},
}

func annotated(from, to string, mode models.Mode, seconds int, meters, factor float64) models.AnnotatedEdge {
	return models.AnnotatedEdge{
		MergedEdge: models.MergedEdge{
			From: from, To: to, RouteID: "R-" + from + to, RouteName: string(mode),
			Mode: mode, Time: seconds, Distance: meters,
		},
		EmissionsFactor: factor,
		Emissions:       meters / 1000 * factor,
	}
}

var testEdges = []models.AnnotatedEdge{
	annotated("A", "B", models.ModeTrain, 180, 1282, 0.041),
	annotated("B", "C", models.ModeTrain, 240, 2100, 0.041),
	annotated("A", "C", models.ModeBus, 300, 3600, 0.089),
	annotated("C", "Z", models.ModeBus, 60, 400, 0.089),
}

func buildTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, stats, err := Build(testStations, testEdges, Metadata{
		RunID:   "run-1",
		BuiltAt: time.Date(2025, 3, 1, 4, 30, 0, 0, time.UTC),
		Feeds:   []string{"2_metro_train", "4_metro_bus"},
	})
	require.NoError(t, err)
	assert.Equal(t, BuildStats{Nodes: 4, Arcs: 3, SkippedUnknown: 1}, stats)
	return g
}

func TestBuild(t *testing.T) {
	g := buildTestGraph(t)

	assert.Equal(t, 4, g.NumNodes())
	assert.Equal(t, 3, g.NumArcs())

	n, ok := g.Node("B")
	require.True(t, ok)
	assert.Equal(t, Node{ID: "B", Name: "Flinders Street Station", Lat: -37.8183, Lon: 144.9671, Type: NodeTypeStop}, n)

	arc, ok := g.Arc("A", "C")
	require.True(t, ok)
	assert.Equal(t, models.ModeBus, arc.Mode)
	assert.Equal(t, 300, arc.Time)
	assert.InDelta(t, 0.3204, arc.Emissions, 1e-12)

	// No reverse arcs are invented.
	assert.False(t, g.HasArc("B", "A"))
	assert.False(t, g.HasArc("C", "Z"))

	assert.Len(t, g.OutArcs("A"), 2)
	assert.Len(t, g.InArcs("C"), 2)
	assert.Equal(t, 2, g.Degree("C"))
	assert.InDelta(t, 1.5, g.AverageDegree(), 1e-12)

	assert.Equal(t, -37.8240, g.Metadata.Bounds.MinLat)
	assert.Equal(t, -37.8118, g.Metadata.Bounds.MaxLat)
	assert.Equal(t, 144.9525, g.Metadata.Bounds.MinLon)
	assert.Equal(t, 144.9900, g.Metadata.Bounds.MaxLon)
}

func TestBuild_Errors(t *testing.T) {
	_, _, err := Build(testStations, []models.AnnotatedEdge{
		annotated("A", "B", models.ModeTrain, 180, 1282, 0.041),
		annotated("A", "B", models.ModeTram, 200, 1282, 0.045),
	}, Metadata{})
	assert.ErrorIs(t, err, ErrDuplicateArc)

	_, _, err = Build([]models.Station{{StationID: "A"}, {StationID: "A"}}, nil, Metadata{})
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	g := buildTestGraph(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	decoded, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, g.NumNodes(), decoded.NumNodes())
	assert.Equal(t, g.NumArcs(), decoded.NumArcs())
	assert.Equal(t, g.Nodes(), decoded.Nodes())
	assert.Equal(t, g.Arcs(), decoded.Arcs())
	assert.Equal(t, g.Metadata.RunID, decoded.Metadata.RunID)
	assert.Equal(t, g.Metadata.Feeds, decoded.Metadata.Feeds)
	assert.Equal(t, g.Metadata.Bounds, decoded.Metadata.Bounds)
	assert.True(t, g.Metadata.BuiltAt.Equal(decoded.Metadata.BuiltAt))

	// Adjacency is rebuilt.
	assert.Len(t, decoded.OutArcs("A"), 2)
	assert.True(t, decoded.HasArc("B", "C"))
}

func TestSaveLoadFile(t *testing.T) {
	g := buildTestGraph(t)
	path := filepath.Join(t.TempDir(), "processed", "pt_graph.bin")

	require.NoError(t, SaveFile(path, g))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, g.Arcs(), loaded.Arcs())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not a graph")))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestShortestPath(t *testing.T) {
	g := buildTestGraph(t)

	tests := []struct {
		weight Weight
		nodes  []string
		cost   float64
	}{
		{ByTime, []string{"A", "C"}, 300},
		{ByDistance, []string{"A", "B", "C"}, 3382},
		{ByEmissions, []string{"A", "B", "C"}, 3.382 * 0.041},
	}
	for _, tt := range tests {
		t.Run(tt.weight.String(), func(t *testing.T) {
			p, err := g.ShortestPath("A", "C", tt.weight)
			require.NoError(t, err)
			assert.Equal(t, tt.nodes, p.Nodes)
			assert.InDelta(t, tt.cost, p.Cost, 1e-9)
			assert.Len(t, p.Arcs, len(tt.nodes)-1)
		})
	}

	p, err := g.ShortestPath("A", "C", ByDistance)
	require.NoError(t, err)
	assert.Equal(t, 420, p.Time)
	assert.Equal(t, []models.Mode{models.ModeTrain}, p.Modes())

	self, err := g.ShortestPath("B", "B", ByTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, self.Nodes)
	assert.Zero(t, self.Cost)

	_, err = g.ShortestPath("C", "A", ByTime)
	assert.ErrorIs(t, err, ErrNoPath)
	_, err = g.ShortestPath("A", "nowhere", ByTime)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestParseWeight(t *testing.T) {
	for _, w := range []Weight{ByTime, ByDistance, ByEmissions} {
		parsed, err := ParseWeight(w.String())
		require.NoError(t, err)
		assert.Equal(t, w, parsed)
	}
	_, err := ParseWeight("comfort")
	assert.Error(t, err)
}

func TestPolyline(t *testing.T) {
	g := buildTestGraph(t)
	p, err := g.ShortestPath("A", "C", ByDistance)
	require.NoError(t, err)

	coords, _, err := polyline.DecodeCoords([]byte(g.Polyline(p)))
	require.NoError(t, err)
	require.Len(t, coords, 3)
	assert.InDelta(t, -37.8183, coords[1][0], 1e-5)
	assert.InDelta(t, 144.9671, coords[1][1], 1e-5)
}

func TestDescendantsAndComponents(t *testing.T) {
	g := buildTestGraph(t)

	reach, err := g.Descendants("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, reach)

	reach, err = g.Descendants("C")
	require.NoError(t, err)
	assert.Empty(t, reach)

	_, err = g.Descendants("Z")
	assert.ErrorIs(t, err, ErrUnknownNode)

	assert.Equal(t, [][]string{{"A", "B", "C"}, {"D"}}, g.WeaklyConnectedComponents())
	assert.Equal(t, []string{"D"}, g.Isolated())
}

func TestFindByName(t *testing.T) {
	g := buildTestGraph(t)

	found := g.FindByName("flinders street")
	require.Len(t, found, 1)
	assert.Equal(t, "B", found[0].ID)

	assert.Len(t, g.FindByName("STATION"), 4)
	assert.Empty(t, g.FindByName("Frankston"))
}

func TestNearest(t *testing.T) {
	g := buildTestGraph(t)

	near := g.Nearest(-37.8183, 144.9671, 1250)
	require.Len(t, near, 2)
	assert.Equal(t, "B", near[0].ID)
	assert.Zero(t, near[0].Distance)
	assert.Equal(t, "D", near[1].ID)
	assert.InDelta(t, 1213.7, near[1].Distance, 0.1)

	assert.Empty(t, g.Nearest(-38.4, 145.4, 500))
}
