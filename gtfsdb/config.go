package gtfsdb

import "ptgraph.dev/internal/appconf"

// DefaultBulkInsertBatchSize is the number of rows per multi-row INSERT.
const DefaultBulkInsertBatchSize = 1000

// maxSQLVariables is SQLite's host parameter limit.
const maxSQLVariables = 32766

// Config configures the snapshot store.
type Config struct {
	// DBPath is a file path or ":memory:".
	DBPath string
	Env    appconf.Environment
	// BulkInsertBatchSize overrides DefaultBulkInsertBatchSize when positive.
	BulkInsertBatchSize int
	verbose             bool
}

// NewConfig creates a Config with the default batch size.
func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

// GetBulkInsertBatchSize returns the rows per batch for a table of the given
// width, capped so a batch never exceeds SQLite's parameter limit.
func (c Config) GetBulkInsertBatchSize(columns int) int {
	size := c.BulkInsertBatchSize
	if size <= 0 {
		size = DefaultBulkInsertBatchSize
	}
	if columns > 0 {
		size = min(size, maxSQLVariables/columns)
	}
	return max(size, 1)
}
