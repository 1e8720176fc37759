package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OneBusAway/go-gtfs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ptgraph.dev/internal/metrics"
	"ptgraph.dev/internal/models"
)

var trainFeed = map[string]string{
	"routes.txt": "route_id,route_short_name,route_long_name,route_type\n" +
		"R1,Frankston,Frankston Line,2\n" +
		"R2,,Frankston Replacement Bus,3\n" +
		"R3,Ferry,Bay Ferry,4\n" +
		"R4,Gondola,Sky Gondola,7\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"P1,Flinders Street Station,-37.8183,144.9671,1,\n" +
		"S1,Flinders Street Platform 1,-37.8184,144.9672,0,P1\n" +
		"S2,Richmond,-37.8240,144.9900,,\n",
	"trips.txt": "route_id,service_id,trip_id\n" +
		"R1,WD,T1\n" +
		"R2,WD,T2\n" +
		"R4,WD,T4\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:00,S1,1\n" +
		"T1,08:04:00,08:04:00,S2,2\n" +
		"T2,09:00:00,09:00:00,S1,1\n" +
		"T4,10:00:00,10:00:00,S2,1\n",
}

var tramFeed = map[string]string{
	"routes.txt":     "route_id,route_short_name,route_long_name,route_type\nR86,86,Bundoora - Waterfront City,0\n",
	"stops.txt":      "stop_id,stop_name,stop_lat,stop_lon\nM1,Melbourne Central,-37.8102,144.9628\n",
	"trips.txt":      "route_id,service_id,trip_id\nR86,WD,T86\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT86,07:00:00,07:00:00,M1,1\n",
}

func writeFeedDir(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func textFiles(files map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for name, content := range files {
		out[name] = []byte(content)
	}
	return out
}

func testConfig(feeds ...FeedSource) Config {
	return Config{
		Feeds:               feeds,
		RouteTypes:          []int{0, 1, 2, 3, 4, 6, 11},
		ExcludeRouteKeyword: "replacement",
	}
}

func TestLoad_DirectoriesConcatenatedAndFiltered(t *testing.T) {
	root := t.TempDir()
	writeFeedDir(t, filepath.Join(root, "2_metro_train"), trainFeed)
	writeFeedDir(t, filepath.Join(root, "3_metro_tram"), tramFeed)

	m := metrics.New()
	loader := NewLoader(testConfig(
		FeedSource{Name: "2_metro_train", Path: filepath.Join(root, "2_metro_train")},
		FeedSource{Name: "3_metro_tram", Path: filepath.Join(root, "3_metro_tram")},
	), m)

	result, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Missing)

	tables := result.Tables
	routeIDs := make([]string, 0, len(tables.Routes))
	for _, r := range tables.Routes {
		routeIDs = append(routeIDs, r.RouteID)
	}
	// R2 is a replacement service, R4 has a disallowed route type.
	assert.Equal(t, []string{"R1", "R3", "R86"}, routeIDs)

	require.Len(t, tables.Stops, 4)
	assert.Equal(t, "2_metro_train", tables.Stops[0].FeedSource)
	assert.Equal(t, "3_metro_tram", tables.Stops[3].FeedSource)
	assert.Equal(t, models.LocationStation, tables.Stops[0].LocationType)
	assert.Equal(t, "P1", tables.Stops[1].ParentStation)
	assert.Equal(t, models.LocationStop, tables.Stops[2].LocationType)
	assert.True(t, tables.Stops[2].HasCoords)

	require.Len(t, tables.Trips, 2)
	assert.Equal(t, "T1", tables.Trips[0].TripID)
	assert.Equal(t, "T86", tables.Trips[1].TripID)

	require.Len(t, tables.StopTimes, 3)
	assert.Equal(t, models.StopTime{
		TripID: "T1", StopID: "S2", StopSequence: 2,
		ArrivalTime: "08:04:00", DepartureTime: "08:04:00", FeedSource: "2_metro_train",
	}, tables.StopTimes[1])

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("2_metro_train", "stops")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("3_metro_tram", "trips")))
}

func TestLoad_MissingSourceFiles(t *testing.T) {
	root := t.TempDir()
	partial := map[string]string{
		"routes.txt": trainFeed["routes.txt"],
		"stops.txt":  trainFeed["stops.txt"],
		"trips.txt":  trainFeed["trips.txt"],
	}
	writeFeedDir(t, filepath.Join(root, "2_metro_train"), partial)

	m := metrics.New()
	loader := NewLoader(testConfig(
		FeedSource{Name: "2_metro_train", Path: filepath.Join(root, "2_metro_train")},
		FeedSource{Name: "11_skybus", Path: filepath.Join(root, "11_skybus")},
	), m)

	result, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Missing, 5)
	assert.Equal(t, MissingSource{Feed: "2_metro_train", Table: "stop_times.txt"}, result.Missing[0])
	for _, missing := range result.Missing[1:] {
		assert.Equal(t, "11_skybus", missing.Feed)
	}
	assert.ErrorIs(t, result.Missing[0], ErrMissingSourceFile)
	assert.Empty(t, result.Tables.StopTimes)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MissingSourceFiles.WithLabelValues("11_skybus", "stops")))
}

func TestLoad_FatalWhenNoData(t *testing.T) {
	root := t.TempDir()
	writeFeedDir(t, filepath.Join(root, "empty"), map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n",
	})
	_, err := NewLoader(testConfig(FeedSource{Name: "empty", Path: filepath.Join(root, "empty")}), nil).
		Load(context.Background())
	assert.ErrorIs(t, err, ErrNoStopData)

	writeFeedDir(t, filepath.Join(root, "no_trips"), map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name,route_type\nR4,G,Gondola,7\n",
		"stops.txt":  "stop_id,stop_name,stop_lat,stop_lon\nA,A,-37.8,145.0\n",
		"trips.txt":  "route_id,service_id,trip_id\nR4,WD,T4\n",
	})
	_, err = NewLoader(testConfig(FeedSource{Name: "no_trips", Path: filepath.Join(root, "no_trips")}), nil).
		Load(context.Background())
	assert.ErrorIs(t, err, ErrNoTripData)
}

func TestLoad_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	writeFeedDir(t, filepath.Join(root, "3_metro_tram"), tramFeed)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(testConfig(FeedSource{Name: "3_metro_tram", Path: filepath.Join(root, "3_metro_tram")}), nil).
		Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseStopRow(t *testing.T) {
	root := t.TempDir()
	writeFeedDir(t, root, map[string]string{
		"stops.txt": "\ufeffstop_id,stop_name,stop_lat,stop_lon,location_type\n" +
			"A,Alpha,-37.8,145.0,\n" +
			"B,Beta,,145.0,0\n" +
			"C,Gamma,NaN,145.0,1\n" +
			"D,Delta,-37.8,145.0,platform\n" +
			"E,Epsilon,-37.8,145.0,2\n",
	})

	tables, missing, err := csvTables(os.DirFS(root), "feed")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"routes.txt", "trips.txt", "stop_times.txt"}, missing)
	require.Len(t, tables.Stops, 5)

	tests := []struct {
		id           string
		hasCoords    bool
		locationType int
	}{
		{"A", true, models.LocationStop},
		{"B", false, models.LocationStop},
		{"C", false, models.LocationStation},
		{"D", true, models.LocationInvalid},
		{"E", true, 2},
	}
	for i, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			stop := tables.Stops[i]
			assert.Equal(t, tt.id, stop.StopID)
			assert.Equal(t, tt.hasCoords, stop.HasCoords)
			assert.Equal(t, tt.locationType, stop.LocationType)
		})
	}
}

// completeFeed is a minimal feed the GTFS parser accepts.
var completeFeed = map[string]string{
	"agency.txt":   "agency_id,agency_name,agency_url,agency_timezone\nPTV,Public Transport Victoria,https://ptv.vic.gov.au,Australia/Melbourne\n",
	"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\nWD,1,1,1,1,1,0,0,20250101,20251231\n",
	"routes.txt":   "route_id,agency_id,route_short_name,route_long_name,route_type\nR1,PTV,Frankston,Frankston Line,2\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"P1,Flinders Street Station,-37.8183,144.9671,1,\n" +
		"S1,Flinders Street Platform 1,-37.8184,144.9672,0,P1\n" +
		"S2,Richmond,-37.8240,144.9900,0,\n",
	"trips.txt": "route_id,service_id,trip_id\nR1,WD,T1\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:00,S1,1\n" +
		"T1,25:04:00,25:04:30,S2,2\n",
}

func assertCompleteFeedLoaded(t *testing.T, tables *models.Tables) {
	t.Helper()
	require.Len(t, tables.Routes, 1)
	assert.Equal(t, 2, tables.Routes[0].RouteType)

	ids := make([]string, 0, len(tables.Stops))
	parents := make(map[string]string)
	types := make(map[string]int)
	for _, s := range tables.Stops {
		ids = append(ids, s.StopID)
		parents[s.StopID] = s.ParentStation
		types[s.StopID] = s.LocationType
		assert.True(t, s.HasCoords)
	}
	assert.ElementsMatch(t, []string{"P1", "S1", "S2"}, ids)
	assert.Equal(t, "P1", parents["S1"])
	assert.Equal(t, models.LocationStation, types["P1"])
	assert.Equal(t, models.LocationStop, types["S1"])
	assert.Equal(t, models.LocationStop, types["S2"])

	require.Len(t, tables.Trips, 1)
	assert.Equal(t, "R1", tables.Trips[0].RouteID)

	require.Len(t, tables.StopTimes, 2)
	last := tables.StopTimes[1]
	assert.Equal(t, "S2", last.StopID)
	assert.Equal(t, "25:04:00", last.ArrivalTime)
	assert.Equal(t, "25:04:30", last.DepartureTime)
}

func TestLoad_ZipArchive(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "google_transit.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, textFiles(completeFeed)), 0o644))

	result, err := NewLoader(testConfig(FeedSource{Name: "2_metro_train", Path: archive}), nil).
		Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Missing)
	assertCompleteFeedLoaded(t, result.Tables)
	assert.Equal(t, "2_metro_train", result.Tables.Stops[0].FeedSource)
}

func TestLoad_NestedBundle(t *testing.T) {
	root := t.TempDir()
	inner := zipBytes(t, textFiles(completeFeed))
	bundle := filepath.Join(root, "gtfs.zip")
	require.NoError(t, os.WriteFile(bundle, zipBytes(t, map[string][]byte{
		"2/google_transit.zip": inner,
		"3/google_transit.zip": zipBytes(t, textFiles(tramFeed)),
	}), 0o644))

	result, err := NewLoader(testConfig(
		FeedSource{Name: "2_metro_train", Path: bundle, Member: "2/google_transit.zip"},
	), nil).Load(context.Background())
	require.NoError(t, err)
	assertCompleteFeedLoaded(t, result.Tables)

	_, err = NewLoader(testConfig(
		FeedSource{Name: "4_metro_bus", Path: bundle, Member: "4/google_transit.zip"},
	), nil).Load(context.Background())
	assert.ErrorContains(t, err, "has no member")
}

func TestLoad_PartialZipReadsTablesDirectly(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "google_transit.zip")
	files := textFiles(tramFeed)
	delete(files, "stop_times.txt")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, files), 0o644))

	result, err := NewLoader(testConfig(FeedSource{Name: "3_metro_tram", Path: archive}), nil).
		Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []MissingSource{{Feed: "3_metro_tram", Table: "stop_times.txt"}}, result.Missing)
	require.Len(t, result.Tables.Stops, 1)
	assert.Equal(t, "Melbourne Central", result.Tables.Stops[0].Name)
	require.Len(t, result.Tables.Trips, 1)
}

func TestLoad_ZipKeepsStopHierarchyAsWritten(t *testing.T) {
	feed := textFiles(completeFeed)
	feed["stops.txt"] = []byte("stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"P1,Flinders Street Station,-37.8183,144.9671,1,\n" +
		"S1,Flinders Street Platform 1,-37.8184,144.9672,,P1\n" +
		"S2,Richmond Platform 2,-37.8240,144.9900,0,P9\n" +
		"S3,Richmond Entrance,-37.8241,144.9901,2,P9\n")

	root := t.TempDir()
	archive := filepath.Join(root, "google_transit.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, feed), 0o644))
	dir := filepath.Join(root, "extracted")
	writeFeedDir(t, dir, map[string]string{})
	for name, content := range feed {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
	}

	fromZip, err := NewLoader(testConfig(FeedSource{Name: "2_metro_train", Path: archive}), nil).
		Load(context.Background())
	require.NoError(t, err)
	fromDir, err := NewLoader(testConfig(FeedSource{Name: "2_metro_train", Path: dir}), nil).
		Load(context.Background())
	require.NoError(t, err)

	byID := func(stops []models.RawStop) map[string]models.RawStop {
		out := make(map[string]models.RawStop, len(stops))
		for _, s := range stops {
			out[s.StopID] = s
		}
		return out
	}
	zipStops := byID(fromZip.Tables.Stops)
	tests := []struct {
		id           string
		locationType int
		parent       string
	}{
		{id: "P1", locationType: models.LocationStation},
		{id: "S1", locationType: models.LocationStop, parent: "P1"},
		{id: "S2", locationType: models.LocationStop, parent: "P9"},
		{id: "S3", locationType: 2, parent: "P9"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s, ok := zipStops[tt.id]
			require.True(t, ok)
			assert.Equal(t, tt.locationType, s.LocationType)
			assert.Equal(t, tt.parent, s.ParentStation)
		})
	}
	assert.Equal(t, byID(fromDir.Tables.Stops), zipStops)
}

func TestStopLocationType(t *testing.T) {
	tests := []struct {
		in   gtfs.StopType
		want int
	}{
		{gtfs.StopType_Stop, models.LocationStop},
		{gtfs.StopType_Platform, models.LocationStop},
		{gtfs.StopType_Station, models.LocationStation},
		{gtfs.StopType_EntranceOrExit, 2},
		{gtfs.StopType_BoardingArea, 4},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, stopLocationType(tt.in))
		})
	}
}
