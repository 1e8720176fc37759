package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"ptgraph.dev/internal/logging"
)

// SchemaObject is one entry of sqlite_master.
type SchemaObject struct {
	Type string
	Name string
	SQL  string
}

// Schema lists the tables and indexes of db.
func Schema(ctx context.Context, db *sql.DB) ([]SchemaObject, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT type, name, sql
		FROM sqlite_master
		WHERE type IN ('table', 'index', 'view', 'trigger')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY type, name
	`)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var objects []SchemaObject
	for rows.Next() {
		var o SchemaObject
		var objSQL sql.NullString
		if err := rows.Scan(&o.Type, &o.Name, &objSQL); err != nil {
			return nil, err
		}
		o.SQL = objSQL.String
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// TableCounts returns the row count of every snapshot table present in the
// database. Tables outside the snapshot schema are ignored.
func (c *Client) TableCounts() (map[string]int, error) {
	rows, err := c.DB.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tableCountQueries := map[string]string{
		"routes":              "SELECT COUNT(*) FROM routes",
		"stops_raw":           "SELECT COUNT(*) FROM stops_raw",
		"trips":               "SELECT COUNT(*) FROM trips",
		"stop_times":          "SELECT COUNT(*) FROM stop_times",
		"stops_cleaned":       "SELECT COUNT(*) FROM stops_cleaned",
		"stop_to_station_map": "SELECT COUNT(*) FROM stop_to_station_map",
		"edges_raw":           "SELECT COUNT(*) FROM edges_raw",
		"edges_merged":        "SELECT COUNT(*) FROM edges_merged",
		"run_metadata":        "SELECT COUNT(*) FROM run_metadata",
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := tableCountQueries[table]
		if !ok {
			continue
		}

		var count int
		if err := c.DB.QueryRow(query).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}
