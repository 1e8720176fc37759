package gtfs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"

	"ptgraph.dev/internal/models"
)

const (
	tableRoutes    = "routes.txt"
	tableStops     = "stops.txt"
	tableTrips     = "trips.txt"
	tableStopTimes = "stop_times.txt"
)

// consumedTables are the tables read from every feed, in load order.
var consumedTables = []string{tableRoutes, tableStops, tableTrips, tableStopTimes}

// csvRow gives header-indexed access to one record.
type csvRow struct {
	header map[string]int
	record []string
}

// Get returns the trimmed value of column, or "" when the column is absent.
func (r csvRow) Get(column string) string {
	i, ok := r.header[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// forEachRow streams the rows of name from fsys. found is false when the
// table does not exist.
func forEachRow(fsys fs.FS, name string, fn func(csvRow) error) (found bool, err error) {
	f, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	headerRecord, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("read %s header: %w", name, err)
	}
	header := make(map[string]int, len(headerRecord))
	for i, col := range headerRecord {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		header[strings.TrimSpace(col)] = i
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return true, fmt.Errorf("read %s: %w", name, err)
		}
		if err := fn(csvRow{header: header, record: record}); err != nil {
			return true, err
		}
	}
}

// csvTables reads the consumed tables of one feed from fsys and reports the
// tables that are absent.
func csvTables(fsys fs.FS, feed string) (*models.Tables, []string, error) {
	tables := &models.Tables{}
	var missing []string

	readers := map[string]func(csvRow) error{
		tableRoutes: func(row csvRow) error {
			tables.Routes = append(tables.Routes, parseRouteRow(row, feed))
			return nil
		},
		tableStops: func(row csvRow) error {
			tables.Stops = append(tables.Stops, parseStopRow(row, feed))
			return nil
		},
		tableTrips: func(row csvRow) error {
			tables.Trips = append(tables.Trips, models.Trip{
				TripID:     row.Get("trip_id"),
				RouteID:    row.Get("route_id"),
				FeedSource: feed,
			})
			return nil
		},
		tableStopTimes: func(row csvRow) error {
			tables.StopTimes = append(tables.StopTimes, parseStopTimeRow(row, feed))
			return nil
		},
	}

	for _, name := range consumedTables {
		found, err := forEachRow(fsys, name, readers[name])
		if err != nil {
			return nil, nil, err
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return tables, missing, nil
}

func parseRouteRow(row csvRow, feed string) models.Route {
	routeType, err := strconv.Atoi(row.Get("route_type"))
	if err != nil {
		routeType = -1
	}
	return models.Route{
		RouteID:    row.Get("route_id"),
		ShortName:  row.Get("route_short_name"),
		LongName:   row.Get("route_long_name"),
		RouteType:  routeType,
		FeedSource: feed,
	}
}

func parseStopRow(row csvRow, feed string) models.RawStop {
	stop := models.RawStop{
		StopID:        row.Get("stop_id"),
		Name:          row.Get("stop_name"),
		ParentStation: row.Get("parent_station"),
		FeedSource:    feed,
	}

	lat, latOK := parseCoordinate(row.Get("stop_lat"))
	lon, lonOK := parseCoordinate(row.Get("stop_lon"))
	if latOK && lonOK {
		stop.Lat, stop.Lon, stop.HasCoords = lat, lon, true
	}

	switch raw := row.Get("location_type"); raw {
	case "":
		stop.LocationType = models.LocationStop
	default:
		lt, err := strconv.Atoi(raw)
		if err != nil {
			lt = models.LocationInvalid
		}
		stop.LocationType = lt
	}
	return stop
}

func parseCoordinate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseStopTimeRow(row csvRow, feed string) models.StopTime {
	// A non-numeric stop_sequence sorts first.
	seq, err := strconv.Atoi(row.Get("stop_sequence"))
	if err != nil {
		seq = 0
	}
	return models.StopTime{
		TripID:        row.Get("trip_id"),
		StopID:        row.Get("stop_id"),
		StopSequence:  seq,
		ArrivalTime:   row.Get("arrival_time"),
		DepartureTime: row.Get("departure_time"),
		FeedSource:    feed,
	}
}
