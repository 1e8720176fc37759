package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ptgraph.dev/internal/graph"
)

var metroTrain = map[string]string{
	"routes.txt": "route_id,route_short_name,route_long_name,route_type\n" +
		"R1,Sandringham,Sandringham Line,2\n" +
		"R2,City Loop,City Loop,2\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"SC,Southern Cross,-37.8184,144.9526,1,\n" +
		"SC1,Southern Cross Platform 1,-37.8185,144.9527,0,SC\n" +
		"FS,Flinders Street,-37.8183,144.9671,1,\n" +
		"FS1,Flinders Street Platform 1,-37.8182,144.9670,0,FS\n" +
		"RM,Richmond,-37.8240,144.9900,0,\n" +
		"MC,Melbourne Central,-37.8102,144.9628,0,\n" +
		"FG,Flagstaff,-37.8119,144.9559,0,\n",
	"trips.txt": "route_id,service_id,trip_id\n" +
		"R1,WD,1\n" +
		"R1,WD,2\n" +
		"R2,WD,3\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"1,08:00:00,08:00:00,SC1,1\n" +
		"1,08:04:00,08:04:00,FS1,2\n" +
		"1,08:09:00,08:09:00,RM,3\n" +
		"2,09:00:00,09:00:00,FS1,1\n" +
		"2,09:04:00,09:04:00,SC1,2\n" +
		"3,10:00:00,10:00:00,MC,1\n" +
		"3,10:02:00,10:02:00,FG,2\n" +
		"3,10:05:00,10:05:00,SC1,3\n",
}

type workspace struct {
	root     string
	config   string
	graph    string
	snapshot string
}

// newWorkspace writes one feed and a config pointing every output into a
// temporary directory.
func newWorkspace(t *testing.T, cityPairs string) workspace {
	t.Helper()
	root := t.TempDir()
	feedDir := filepath.Join(root, "raw", "2_metro_train")
	require.NoError(t, os.MkdirAll(feedDir, 0o755))
	for name, content := range metroTrain {
		require.NoError(t, os.WriteFile(filepath.Join(feedDir, name), []byte(content), 0o644))
	}

	ws := workspace{
		root:     root,
		config:   filepath.Join(root, "ptgraph.yaml"),
		graph:    filepath.Join(root, "processed", "graph.bin"),
		snapshot: filepath.Join(root, "processed", "snapshot.db"),
	}
	body := fmt.Sprintf(`env: development
data_dir: %s
snapshot_db: %s
graph_path: %s
workers: 2
feeds:
  - name: 2_metro_train
    path: 2_metro_train
  - name: 4_metro_bus
    path: 4_metro_bus
    disabled: true
city_pairs:
%s`, filepath.Join(root, "raw"), ws.snapshot, ws.graph, cityPairs)
	require.NoError(t, os.WriteFile(ws.config, []byte(body), 0o644))
	return ws
}

const reachablePairs = `  - origin: Southern Cross
    destination: Richmond
  - origin: Melbourne Central
    destination: Flinders Street
`

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no command", args: nil, want: "usage: ptgraph"},
		{name: "unknown command", args: []string{"serve"}, want: `unknown command "serve"`},
		{name: "bad global flag", args: []string{"-nope", "build"}, want: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feeds: []\n"), 0o644))

	code, _, stderr := runCLI(t, "-config", path, "build")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid configuration")
}

func TestRun_BuildValidatePathInspect(t *testing.T) {
	ws := newWorkspace(t, reachablePairs)

	code, out, stderr := runCLI(t, "-config", ws.config, "build")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "stations: 5")
	assert.Contains(t, out, "graph: 5 nodes, 5 edges")
	assert.FileExists(t, ws.snapshot)

	g, err := graph.LoadFile(ws.graph)
	require.NoError(t, err)
	assert.Equal(t, 5, g.NumNodes())
	assert.True(t, g.HasArc("SC", "FS"))
	assert.True(t, g.HasArc("FS", "SC"))
	assert.Equal(t, []string{"2_metro_train"}, g.Metadata.Feeds)

	code, out, stderr = runCLI(t, "-config", ws.config, "validate", "-strict")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Southern Cross -> Richmond: 3 stops")
	assert.Contains(t, out, "edges_merged: 5 edges")
	assert.Contains(t, out, "0 failed")

	code, out, stderr = runCLI(t, "-config", ws.config, "path", "-from", "melbourne central", "-to", "richmond")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Melbourne Central (MC) -> Richmond (RM) by time")
	assert.Contains(t, out, "stops: 5, time: 840s")
	assert.Contains(t, out, "modes: train")
	assert.Contains(t, out, "polyline: ")

	code, out, stderr = runCLI(t, "-config", ws.config, "inspect", "-name", "flagstaff")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, `ID: (string) (len=2) "FG"`)
	assert.Contains(t, out, `RouteID: (string) (len=2) "R2"`)

	code, out, stderr = runCLI(t, "-config", ws.config, "inspect", "-stop", "SC1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "stop SC1 -> station SC\n")
	assert.Contains(t, out, `Name: (string) (len=14) "Southern Cross"`)

	code, out, stderr = runCLI(t, "-config", ws.config, "inspect", "-schema")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "edges_merged")
	assert.Contains(t, out, `(string) (len=13) "stops_cleaned": (int) 5`)
}

func TestRun_GraphRebuildsFromSnapshot(t *testing.T) {
	ws := newWorkspace(t, reachablePairs)

	code, _, stderr := runCLI(t, "-config", ws.config, "build")
	require.Equal(t, 0, code, stderr)
	built, err := graph.LoadFile(ws.graph)
	require.NoError(t, err)

	rebuilt := filepath.Join(ws.root, "rebuilt.bin")
	code, out, stderr := runCLI(t, "-config", ws.config, "graph", "-out", rebuilt)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "graph: 5 nodes, 5 edges (0 skipped)")

	g, err := graph.LoadFile(rebuilt)
	require.NoError(t, err)
	assert.Equal(t, built.Nodes(), g.Nodes())
	assert.Equal(t, built.Arcs(), g.Arcs())
	assert.Equal(t, built.Metadata.RunID, g.Metadata.RunID)
	assert.Equal(t, built.Metadata.Feeds, g.Metadata.Feeds)
}

func TestRun_ValidateStrictFailsOnUnreachablePair(t *testing.T) {
	ws := newWorkspace(t, `  - origin: Richmond
    destination: Flinders Street
`)

	code, _, stderr := runCLI(t, "-config", ws.config, "build")
	require.Equal(t, 0, code, stderr)

	code, out, _ := runCLI(t, "-config", ws.config, "validate")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Richmond -> Flinders Street: no path found")

	code, _, stderr = runCLI(t, "-config", ws.config, "validate", "-strict")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, errValidationFailed.Error())
}

func TestRun_CommandErrors(t *testing.T) {
	ws := newWorkspace(t, reachablePairs)
	code, _, stderr := runCLI(t, "-config", ws.config, "build")
	require.Equal(t, 0, code, stderr)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{name: "path without destination", args: []string{"path", "-from", "richmond"}, code: 2, want: "-from and -to are required"},
		{name: "path unknown station", args: []string{"path", "-from", "richmond", "-to", "geelong"}, code: 1, want: `no station matches "geelong"`},
		{name: "path bad weight", args: []string{"path", "-from", "richmond", "-to", "flagstaff", "-weight", "fare"}, code: 1, want: "fare"},
		{name: "path unreachable", args: []string{"path", "-from", "richmond", "-to", "flagstaff"}, code: 1, want: "no path"},
		{name: "inspect without selector", args: []string{"inspect"}, code: 2, want: "one of -name, -near"},
		{name: "inspect unmapped stop", args: []string{"inspect", "-stop", "GEELONG"}, code: 1, want: `stop "GEELONG" is not mapped`},
		{name: "inspect bad point", args: []string{"inspect", "-near", "south"}, code: 1, want: "expected lat,lon"},
		{name: "command help", args: []string{"validate", "-h"}, code: 2, want: "-strict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-config", ws.config}, tt.args...)
			code, _, stderr := runCLI(t, args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestParseLatLon(t *testing.T) {
	tests := []struct {
		in      string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{in: "-37.8183,144.9671", lat: -37.8183, lon: 144.9671},
		{in: " -37.8 , 144.9 ", lat: -37.8, lon: 144.9},
		{in: "-37.8", wantErr: true},
		{in: "x,144.9", wantErr: true},
		{in: "-37.8,y", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lat, lon, err := parseLatLon(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.lat, lat, 1e-9)
			assert.InDelta(t, tt.lon, lon, 1e-9)
		})
	}
}
