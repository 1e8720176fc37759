package gtfsdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/logging"
)

//go:embed schema.sql
var ddl string

// createDB opens the snapshot database and applies the schema.
func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	// Pool settings first so a :memory: database is pinned to one connection
	// before any table is created on it.
	configureConnectionPool(db, config)

	ctx := context.Background()
	if err := configureSQLitePerformance(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	if err := performDatabaseMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	statements := strings.Split(ddl, "-- migrate")
	for _, stmt := range statements {
		trimmedStmt := strings.TrimSpace(stmt)
		if trimmedStmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmedStmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmedStmt, err)
		}
	}
	return nil
}

func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name        string
		description string
	}{
		// Increase cache size to 64MB (negative value means KB)
		{"PRAGMA cache_size=-64000", "Set cache size to 64MB"},
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
	}

	logger := slog.Default().With(slog.String("component", "sqlite_performance"))

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma.name); err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	logging.LogOperation(logger, "sqlite_performance_settings_applied",
		slog.Int("pragma_count", len(pragmas)))

	return nil
}

// configureConnectionPool limits :memory: databases to a single connection,
// since every connection to one gets its own empty database.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// tableWriter describes the rows written into one snapshot table. row returns
// the column values of row i, in columns order.
type tableWriter struct {
	table   string
	columns []string
	count   int
	row     func(i int) []any
}

type preparedBatch struct {
	query string
	args  []any
	index int
	end   int
}

// bulkInsert prepares multi-row INSERT statements on a worker pool and
// executes them on tx in row order.
func (c *Client) bulkInsert(ctx context.Context, tx *sql.Tx, w tableWriter) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	logging.LogOperation(logger, "inserting_"+w.table, slog.Int("count", w.count))
	if w.count == 0 {
		return nil
	}

	batchSize := c.config.GetBulkInsertBatchSize(len(w.columns))
	numBatches := (w.count + batchSize - 1) / batchSize

	baseQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", w.table, strings.Join(w.columns, ", "))
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(w.columns)), ", ") + ")"

	numWorkers := min(runtime.NumCPU(), numBatches)
	batchChan := make(chan int, numWorkers)
	resultsChan := make(chan preparedBatch, numWorkers*4)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIndex := range batchChan {
				if ctx.Err() != nil {
					return
				}

				start := batchIndex * batchSize
				end := min(start+batchSize, w.count)

				// Values only ever travel as placeholders.
				var query strings.Builder
				query.WriteString(baseQuery)
				args := make([]any, 0, (end-start)*len(w.columns))
				for i := start; i < end; i++ {
					if i > start {
						query.WriteString(", ")
					}
					query.WriteString(placeholder)
					args = append(args, w.row(i)...)
				}

				resultsChan <- preparedBatch{
					query: query.String(),
					args:  args,
					index: batchIndex,
					end:   end,
				}
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for i := range numBatches {
			select {
			case <-ctx.Done():
				return
			case batchChan <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	prepared := make([]preparedBatch, 0, numBatches)
	for batch := range resultsChan {
		prepared = append(prepared, batch)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	sort.Slice(prepared, func(i, j int) bool {
		return prepared[i].index < prepared[j].index
	})

	for _, batch := range prepared {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := tx.ExecContext(ctx, batch.query, batch.args...); err != nil {
			return fmt.Errorf("failed to insert %s batch %d: %w", w.table, batch.index, err)
		}
		if c.config.verbose && (batch.index+1)%10 == 0 {
			logging.LogOperation(logger, w.table+"_progress",
				slog.Int("inserted", batch.end),
				slog.Int("total", w.count))
		}
	}

	logging.LogOperation(logger, w.table+"_inserted", slog.Int("count", w.count))
	return nil
}

// replaceTables clears each table and rewrites it inside one transaction.
func (c *Client) replaceTables(ctx context.Context, operation string, writers ...tableWriter) error {
	logger := slog.Default().With(slog.String("component", "snapshot_store"))

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, operation)

	for _, w := range writers {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+w.table); err != nil {
			return fmt.Errorf("error clearing %s: %w", w.table, err)
		}
		if err := c.bulkInsert(ctx, tx, w); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing %s: %w", operation, err)
	}
	return nil
}

func nullFloat(f float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: valid}
}

// toNullString converts a string to sql.NullString, with empty strings becoming NULL.
func toNullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}
