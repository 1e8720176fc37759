package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"ptgraph.dev/internal/logging"
	"ptgraph.dev/internal/models"
)

var (
	routeColumns    = []string{"seq", "route_id", "route_short_name", "route_long_name", "route_type", "feed_source"}
	stopColumns     = []string{"seq", "stop_id", "stop_name", "stop_lat", "stop_lon", "location_type", "parent_station", "feed_source"}
	tripColumns     = []string{"seq", "trip_id", "route_id", "feed_source"}
	stopTimeColumns = []string{"seq", "trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time", "feed_source"}
	stationColumns  = []string{"seq", "station_id", "stop_name", "stop_lat", "stop_lon"}
	mappingColumns  = []string{"seq", "stop_id", "station_id"}
	rawEdgeColumns  = []string{"seq", "from_station", "to_station", "route_id", "route_name", "mode", "time", "distance", "trip_id"}
	mergedColumns   = []string{"seq", "from_station", "to_station", "route_id", "route_name", "mode", "time", "distance"}
)

// ReplaceRawTables rewrites routes, stops_raw, trips and stop_times.
func (c *Client) ReplaceRawTables(ctx context.Context, t *models.Tables) error {
	return c.replaceTables(ctx, "replace_raw_tables",
		tableWriter{table: "routes", columns: routeColumns, count: len(t.Routes), row: func(i int) []any {
			r := t.Routes[i]
			return []any{i, r.RouteID, toNullString(r.ShortName), toNullString(r.LongName), r.RouteType, r.FeedSource}
		}},
		tableWriter{table: "stops_raw", columns: stopColumns, count: len(t.Stops), row: func(i int) []any {
			s := t.Stops[i]
			return []any{i, s.StopID, toNullString(s.Name), nullFloat(s.Lat, s.HasCoords), nullFloat(s.Lon, s.HasCoords),
				s.LocationType, toNullString(s.ParentStation), s.FeedSource}
		}},
		tableWriter{table: "trips", columns: tripColumns, count: len(t.Trips), row: func(i int) []any {
			tr := t.Trips[i]
			return []any{i, tr.TripID, tr.RouteID, tr.FeedSource}
		}},
		tableWriter{table: "stop_times", columns: stopTimeColumns, count: len(t.StopTimes), row: func(i int) []any {
			st := t.StopTimes[i]
			return []any{i, st.TripID, st.StopID, st.StopSequence, toNullString(st.ArrivalTime), toNullString(st.DepartureTime), st.FeedSource}
		}},
	)
}

// ReplaceStations rewrites stops_cleaned and stop_to_station_map.
func (c *Client) ReplaceStations(ctx context.Context, stations []models.Station, mapping []models.StopStation) error {
	return c.replaceTables(ctx, "replace_stations",
		tableWriter{table: "stops_cleaned", columns: stationColumns, count: len(stations), row: func(i int) []any {
			s := stations[i]
			return []any{i, s.StationID, toNullString(s.Name), s.Lat, s.Lon}
		}},
		tableWriter{table: "stop_to_station_map", columns: mappingColumns, count: len(mapping), row: func(i int) []any {
			m := mapping[i]
			return []any{i, m.StopID, m.StationID}
		}},
	)
}

// ReplaceRawEdges rewrites edges_raw.
func (c *Client) ReplaceRawEdges(ctx context.Context, edges []models.RawEdge) error {
	return c.replaceTables(ctx, "replace_raw_edges",
		tableWriter{table: "edges_raw", columns: rawEdgeColumns, count: len(edges), row: func(i int) []any {
			e := edges[i]
			return []any{i, e.From, e.To, e.RouteID, e.RouteName, e.Mode.String(), e.Time, e.Distance, e.TripID}
		}},
	)
}

// ReplaceMergedEdges rewrites edges_merged. The primary key rejects a
// repeated (from_station, to_station) pair.
func (c *Client) ReplaceMergedEdges(ctx context.Context, edges []models.MergedEdge) error {
	return c.replaceTables(ctx, "replace_merged_edges",
		tableWriter{table: "edges_merged", columns: mergedColumns, count: len(edges), row: func(i int) []any {
			e := edges[i]
			return []any{i, e.From, e.To, e.RouteID, e.RouteName, e.Mode.String(), e.Time, e.Distance}
		}},
	)
}

// PutRunMetadata upserts key/value pairs describing the current run.
func (c *Client) PutRunMetadata(ctx context.Context, values map[string]string) error {
	logger := slog.Default().With(slog.String("component", "snapshot_store"))

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "put_run_metadata")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, values[k])
		if err != nil {
			return fmt.Errorf("error writing run metadata %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// RunMetadata returns every run_metadata entry.
func (c *Client) RunMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := c.DB.QueryContext(ctx, "SELECT key, value FROM run_metadata")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "snapshot_store")),
		"run_metadata_rows")

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// ListStations returns stops_cleaned in insertion order.
func (c *Client) ListStations(ctx context.Context) ([]models.Station, error) {
	rows, err := c.DB.QueryContext(ctx,
		"SELECT station_id, stop_name, stop_lat, stop_lon FROM stops_cleaned ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "snapshot_store")),
		"stops_cleaned_rows")

	var stations []models.Station
	for rows.Next() {
		var s models.Station
		var name sql.NullString
		if err := rows.Scan(&s.StationID, &name, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		s.Name = name.String
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

// ListStopStations returns stop_to_station_map in insertion order.
func (c *Client) ListStopStations(ctx context.Context) ([]models.StopStation, error) {
	rows, err := c.DB.QueryContext(ctx,
		"SELECT stop_id, station_id FROM stop_to_station_map ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "snapshot_store")),
		"stop_to_station_map_rows")

	var mapping []models.StopStation
	for rows.Next() {
		var m models.StopStation
		if err := rows.Scan(&m.StopID, &m.StationID); err != nil {
			return nil, err
		}
		mapping = append(mapping, m)
	}
	return mapping, rows.Err()
}

// ListMergedEdges returns edges_merged in insertion order.
func (c *Client) ListMergedEdges(ctx context.Context) ([]models.MergedEdge, error) {
	return c.queryMergedEdges(ctx, -1)
}

// SampleMergedEdges returns the first n rows of edges_merged.
func (c *Client) SampleMergedEdges(ctx context.Context, n int) ([]models.MergedEdge, error) {
	if n <= 0 {
		return nil, nil
	}
	return c.queryMergedEdges(ctx, n)
}

func (c *Client) queryMergedEdges(ctx context.Context, limit int) ([]models.MergedEdge, error) {
	rows, err := c.DB.QueryContext(ctx,
		`SELECT from_station, to_station, route_id, route_name, mode, time, distance
		 FROM edges_merged ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "snapshot_store")),
		"edges_merged_rows")

	var edges []models.MergedEdge
	for rows.Next() {
		var e models.MergedEdge
		var mode string
		if err := rows.Scan(&e.From, &e.To, &e.RouteID, &e.RouteName, &mode, &e.Time, &e.Distance); err != nil {
			return nil, err
		}
		e.Mode = models.Mode(mode)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
