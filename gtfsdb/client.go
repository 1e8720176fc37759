package gtfsdb

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"ptgraph.dev/internal/logging"
)

// Client is the SQLite snapshot store for the tabular artifacts of a build.
type Client struct {
	config Config
	DB     *sql.DB
}

// NewClient opens the database at config.DBPath and applies the schema.
func NewClient(config Config) (*Client, error) {
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DB: %w", err)
	}
	if config.verbose {
		logging.LogOperation(slog.Default().With(slog.String("component", "snapshot_store")),
			"snapshot_tables_created", slog.String("path", config.DBPath))
	}

	return &Client{
		config: config,
		DB:     db,
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}
