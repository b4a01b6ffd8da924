package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/schema"
)

// =============================================================================
// DuckDB Store
// =============================================================================

// DuckDB is the embedded backend used for local development and tests.
// It serves the same contract as QuestDB; day partitioning is a
// QuestDB physical concern, so here tables are plain.
type DuckDB struct {
	db *sql.DB

	stats Stats
}

// OpenDuckDB opens an embedded DuckDB database. An empty path opens an
// in-memory database.
func OpenDuckDB(path string) (*DuckDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// The duckdb driver does not tolerate concurrent use of a single
	// connection well; the pool serializes access.
	db.SetMaxOpenConns(1)

	logging.Component("store").Debug("duckdb store opened", "path", path)
	return &DuckDB{db: db}, nil
}

// Ping verifies the database handle is usable.
func (d *DuckDB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}
	return nil
}

// EnsureSchema creates every catalog table that does not exist.
func (d *DuckDB) EnsureSchema(ctx context.Context) error {
	for _, name := range schema.Names() {
		tbl := schema.Tables[name]
		if _, err := d.db.ExecContext(ctx, tbl.CreateSQL(schema.DialectDuckDB)); err != nil {
			atomic.AddInt64(&d.stats.Errors, 1)
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

// InsertBatch writes rows into one table in a single transaction.
func (d *DuckDB) InsertBatch(ctx context.Context, table *schema.Table, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		atomic.AddInt64(&d.stats.Errors, 1)
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, table.InsertSQL(schema.DialectDuckDB))
	if err != nil {
		atomic.AddInt64(&d.stats.Errors, 1)
		return fmt.Errorf("prepare insert %s: %w", table.Name, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			atomic.AddInt64(&d.stats.Errors, 1)
			return fmt.Errorf("insert %s: %w", table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddInt64(&d.stats.Errors, 1)
		return errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}

	atomic.AddInt64(&d.stats.BatchesWritten, 1)
	atomic.AddInt64(&d.stats.RowsWritten, int64(len(rows)))
	return nil
}

// QueryRange returns rows in [Start, End) in ascending timestamp order.
func (d *DuckDB) QueryRange(ctx context.Context, rq RangeQuery) ([]Row, error) {
	tbl, ok := schema.Tables[rq.Table]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownTable, "table %q", rq.Table)
	}

	var b strings.Builder
	args := []any{rq.Start.UTC(), rq.End.UTC()}
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE timestamp >= ? AND timestamp < ?", tbl.Name)
	if rq.Symbol != "" {
		args = append(args, rq.Symbol)
		b.WriteString(" AND symbol = ?")
	}
	b.WriteString(" ORDER BY timestamp ASC")
	if rq.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", rq.Limit)
	}

	return d.query(ctx, tbl, b.String(), args...)
}

// LatestBySymbol returns the most recent row per symbol via a QUALIFY
// window filter.
func (d *DuckDB) LatestBySymbol(ctx context.Context, table string, symbols []string) ([]Row, error) {
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
			holes[i] = "?"
		}
		fmt.Fprintf(&b, " WHERE symbol IN (%s)", strings.Join(holes, ", "))
	}
	b.WriteString(" QUALIFY row_number() OVER (PARTITION BY symbol ORDER BY timestamp DESC) = 1")

	return d.query(ctx, tbl, b.String(), args...)
}

func (d *DuckDB) query(ctx context.Context, tbl *schema.Table, sqlText string, args ...any) ([]Row, error) {
	atomic.AddInt64(&d.stats.QueriesRun, 1)
	rows, err := d.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		atomic.AddInt64(&d.stats.Errors, 1)
		return nil, errors.Wrap(errors.ErrStoreUnavailable, err.Error())
	}
	defer rows.Close()

	return scanRows(tbl, rows)
}

// Stats returns a snapshot of the store counters.
func (d *DuckDB) Stats() Stats { return d.stats.Snapshot() }

// Close releases the database handle.
func (d *DuckDB) Close() error { return d.db.Close() }
