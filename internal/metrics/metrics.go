// Package metrics provides Prometheus metrics for the graph pipeline.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for one pipeline process.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Pipeline metrics
	StageDuration      *prometheus.GaugeVec
	RowsLoaded         *prometheus.GaugeVec
	MissingSourceFiles *prometheus.CounterVec
	EdgesDiscarded     *prometheus.CounterVec
	EdgesRaw           prometheus.Gauge
	EdgesMerged        prometheus.Gauge
	GraphNodes         prometheus.Gauge
	GraphArcs          prometheus.Gauge
	ValidationFindings *prometheus.GaugeVec

	// Snapshot database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// New creates and registers all metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptgraph_stage_duration_seconds",
			Help: "Wall time of the last run of each pipeline stage",
		}, []string{"stage"}),
		RowsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptgraph_rows_loaded",
			Help: "Rows loaded per feed and GTFS table after filtering",
		}, []string{"feed", "table"}),
		MissingSourceFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptgraph_missing_source_files_total",
			Help: "GTFS tables missing from a configured feed",
		}, []string{"feed", "table"}),
		EdgesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptgraph_edges_discarded_total",
			Help: "Candidate edges dropped during derivation, by reason",
		}, []string{"reason"}),
		EdgesRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_edges_raw",
			Help: "Raw edges emitted by derivation",
		}),
		EdgesMerged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_edges_merged",
			Help: "Edges left after merging station pairs",
		}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_graph_nodes",
			Help: "Nodes in the built graph",
		}),
		GraphArcs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_graph_arcs",
			Help: "Arcs in the built graph",
		}),
		ValidationFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ptgraph_validation_findings",
			Help: "Problems reported by the graph validator, by check",
		}, []string{"check"}),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_db_connections_open",
			Help: "Number of open snapshot database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_db_connections_in_use",
			Help: "Number of snapshot database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptgraph_db_connections_idle",
			Help: "Number of idle snapshot database connections",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptgraph_db_wait_seconds_total",
			Help: "Total time blocked waiting for a snapshot database connection",
		}),
		logger: logger,
	}

	registry.MustRegister(
		m.StageDuration,
		m.RowsLoaded,
		m.MissingSourceFiles,
		m.EdgesDiscarded,
		m.EdgesRaw,
		m.EdgesMerged,
		m.GraphNodes,
		m.GraphArcs,
		m.ValidationFindings,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitSecondsTotal,
	)

	return m
}

// StageTimer starts timing a pipeline stage. Calling the returned function
// records the elapsed time and returns it.
func (m *Metrics) StageTimer(stage string) func() time.Duration {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(m.StageDuration.WithLabelValues(stage).Set))
	return timer.ObserveDuration
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// StartDBStatsCollector starts a goroutine that periodically copies the
// connection pool statistics of db into the DB gauges.
// Calling it more than once has no effect. Call Shutdown to stop it.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil && m.logger != nil {
				m.logger.Error("panic in DB stats collector", "error", r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastWait time.Duration
		for {
			select {
			case <-ticker.C:
				lastWait = m.collectDBStats(db, lastWait)
			case <-ctx.Done():
				m.collectDBStats(db, lastWait)
				return
			}
		}
	}()
}

func (m *Metrics) collectDBStats(db *sql.DB, lastWait time.Duration) time.Duration {
	stats := db.Stats()
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	if delta := stats.WaitDuration - lastWait; delta > 0 {
		m.DBWaitSecondsTotal.Add(delta.Seconds())
	}
	return stats.WaitDuration
}

// Shutdown stops the DB stats collector and waits for it to exit.
// It is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
