package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/schema"
)

// =============================================================================
// QuestDB Store
// =============================================================================

// QuestDB talks to QuestDB over the PostgreSQL wire protocol. QuestDB
// speaks enough of the protocol for lib/pq to work; the SQL dialect is
// QuestDB's own (LATEST ON, designated timestamps, SYMBOL columns).
type QuestDB struct {
	db           *sql.DB
	queryTimeout time.Duration

	stats Stats
}

// OpenQuestDB opens a connection pool to QuestDB. The connection is
// lazy; Ping verifies reachability.
func OpenQuestDB(cfg *config.StoreConfig) (*QuestDB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open questdb: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = config.DefaultStoreQueryTimeout
	}

	logging.Component("store").Debug("questdb store opened",
		"host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	return &QuestDB{db: db, queryTimeout: timeout}, nil
}

// Ping verifies QuestDB is reachable.
func (q *QuestDB) Ping(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}
	return nil
}

// EnsureSchema creates every catalog table that does not exist.
func (q *QuestDB) EnsureSchema(ctx context.Context) error {
	for _, name := range schema.Names() {
		tbl := schema.Tables[name]
		if _, err := q.db.ExecContext(ctx, tbl.CreateSQL(schema.DialectQuestDB)); err != nil {
			atomic.AddInt64(&q.stats.Errors, 1)
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

// InsertBatch writes rows into one table in a single transaction.
func (q *QuestDB) InsertBatch(ctx context.Context, table *schema.Table, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		atomic.AddInt64(&q.stats.Errors, 1)
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, table.InsertSQL(schema.DialectQuestDB))
	if err != nil {
		atomic.AddInt64(&q.stats.Errors, 1)
		return fmt.Errorf("prepare insert %s: %w", table.Name, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			atomic.AddInt64(&q.stats.Errors, 1)
			return fmt.Errorf("insert %s: %w", table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddInt64(&q.stats.Errors, 1)
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}

	atomic.AddInt64(&q.stats.BatchesWritten, 1)
	atomic.AddInt64(&q.stats.RowsWritten, int64(len(rows)))
	return nil
}

// QueryRange returns rows in [Start, End) in ascending timestamp order.
func (q *QuestDB) QueryRange(ctx context.Context, rq RangeQuery) ([]Row, error) {
	tbl, ok := schema.Tables[rq.Table]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownTable, "table %q", rq.Table)
	}

	var b strings.Builder
	args := []any{rq.Start.UTC(), rq.End.UTC()}
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE timestamp >= $1 AND timestamp < $2", tbl.Name)
	if rq.Symbol != "" {
		args = append(args, rq.Symbol)
		fmt.Fprintf(&b, " AND symbol = $%d", len(args))
	}
	b.WriteString(" ORDER BY timestamp ASC")
	if rq.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", rq.Limit)
	}

	return q.query(ctx, tbl, b.String(), args...)
}

// LatestBySymbol returns the most recent row per symbol using
// QuestDB's LATEST ON clause.
func (q *QuestDB) LatestBySymbol(ctx context.Context, table string, symbols []string) ([]Row, error) {
	tbl, ok := schema.Tables[table]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownTable, "table %q", table)
	}

	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT * FROM %s", tbl.Name)
	if len(symbols) > 0 {
		holes := make([]string, len(symbols))
		for i, s := range symbols {
			args = append(args, s)
			holes[i] = fmt.Sprintf("$%d", i+1)
		}
		fmt.Fprintf(&b, " WHERE symbol IN (%s)", strings.Join(holes, ", "))
	}
	b.WriteString(" LATEST ON timestamp PARTITION BY symbol")

	return q.query(ctx, tbl, b.String(), args...)
}

func (q *QuestDB) query(ctx context.Context, tbl *schema.Table, sqlText string, args ...any) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, q.queryTimeout)
	defer cancel()

	atomic.AddInt64(&q.stats.QueriesRun, 1)
	rows, err := q.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		atomic.AddInt64(&q.stats.Errors, 1)
		return nil, errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}
	defer rows.Close()

	return scanRows(tbl, rows)
}

// Stats returns a snapshot of the store counters.
func (q *QuestDB) Stats() Stats { return q.stats.Snapshot() }

// Close releases the connection pool.
func (q *QuestDB) Close() error { return q.db.Close() }
