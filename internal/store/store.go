// Package store persists normalized feed records into a
// day-partitioned time-series database and serves typed range and
// latest-by-symbol queries over it.
//
// Two backends implement the same contract: QuestDB over the
// PostgreSQL wire protocol (the production deployment) and embedded
// DuckDB (local development and tests). Rows are append-only; a
// correction is a new row with a fresher timestamp, and
// LatestBySymbol resolves the winner at read time.
package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/schema"
)

// =============================================================================
// Types
// =============================================================================

// Row is one stored row returned by queries. The envelope columns are
// lifted out; everything else lands in Fields keyed by column name.
// Nullable columns that were NULL are absent from Fields.
type Row struct {
	Timestamp time.Time      `json:"timestamp"`
	Symbol    string         `json:"symbol"`
	Source    string         `json:"feed_source"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// RangeQuery selects rows from one table over a half-open time window
// [Start, End). Symbol narrows to one symbol when set; Limit bounds
// the result when positive.
type RangeQuery struct {
	Table  string
	Symbol string
	Start  time.Time
	End    time.Time
	Limit  int
}

// Store is the persistence contract the ingestion writer and the CLI
// depend on.
type Store interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// EnsureSchema creates every catalog table that does not exist.
	// Existing tables are never altered.
	EnsureSchema(ctx context.Context) error

	// InsertBatch writes validated rows into one table atomically.
	// Rows must be in the table's column declaration order.
	InsertBatch(ctx context.Context, table *schema.Table, rows [][]any) error

	// QueryRange returns rows in ascending timestamp order.
	QueryRange(ctx context.Context, q RangeQuery) ([]Row, error)

	// LatestBySymbol returns the most recent row per symbol. An empty
	// symbols slice means every symbol present in the table.
	LatestBySymbol(ctx context.Context, table string, symbols []string) ([]Row, error)

	// Close releases the backend connection.
	Close() error
}

// Stats holds store counters. All fields are updated atomically.
type Stats struct {
	BatchesWritten int64
	RowsWritten    int64
	QueriesRun     int64
	Errors         int64
}

// Snapshot returns a consistent copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		BatchesWritten: atomic.LoadInt64(&s.BatchesWritten),
		RowsWritten:    atomic.LoadInt64(&s.RowsWritten),
		QueriesRun:     atomic.LoadInt64(&s.QueriesRun),
		Errors:         atomic.LoadInt64(&s.Errors),
	}
}

// =============================================================================
// Construction
// =============================================================================

// Open constructs the backend named by cfg.Backend.
func Open(cfg *config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendQuestDB, "":
		return OpenQuestDB(cfg)
	case config.BackendDuckDB:
		return OpenDuckDB(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
