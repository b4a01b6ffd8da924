package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/schema"
)

// =============================================================================
// Parquet Export
// =============================================================================

// ArchiveRow is the Parquet layout for exported rows. Dynamic columns
// are carried as a JSON document so one layout covers every table.
type ArchiveRow struct {
	TimestampMs int64  `parquet:"timestamp_ms"`
	Symbol      string `parquet:"symbol,zstd"`
	Source      string `parquet:"feed_source,zstd"`
	Fields      string `parquet:"fields,optional,zstd"`
}

// ExportResult summarizes one table-day export.
type ExportResult struct {
	Table string `json:"table"`
	Day   string `json:"day"`
	Rows  int64  `json:"rows"`
	Path  string `json:"path"`
}

// Exporter writes day partitions out of a store into Parquet archive
// files, one file per table per day, laid out as
// <dir>/<table>/<YYYY-MM-DD>.parquet.
type Exporter struct {
	store Store
	dir   string
	log   *slog.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(s Store, dir string) *Exporter {
	return &Exporter{store: s, dir: dir, log: logging.Component("export")}
}

// ExportDay exports one table's rows for the UTC day containing t.
// A day with no rows produces no file.
func (e *Exporter) ExportDay(ctx context.Context, table string, t time.Time) (*ExportResult, error) {
	day := t.UTC().Truncate(24 * time.Hour)

	rows, err := e.store.QueryRange(ctx, RangeQuery{
		Table: table,
		Start: day,
		End:   day.Add(24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	result := &ExportResult{Table: table, Day: day.Format("2006-01-02")}
	if len(rows) == 0 {
		return result, nil
	}

	path := filepath.Join(e.dir, table, result.Day+".parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	w := parquet.NewGenericWriter[ArchiveRow](f, parquet.Compression(&parquet.Zstd))

	for _, r := range rows {
		var fields string
		if len(r.Fields) > 0 {
			raw, err := json.Marshal(r.Fields)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("encode fields: %w", err)
			}
			fields = string(raw)
		}
		_, err := w.Write([]ArchiveRow{{
			TimestampMs: r.Timestamp.UnixMilli(),
			Symbol:      r.Symbol,
			Source:      r.Source,
			Fields:      fields,
		}})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("write archive: %w", err)
		}
		result.Rows++
	}

	if err := w.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	result.Path = path
	e.log.Info("exported day partition", "table", table, "day", result.Day, "rows", result.Rows)
	return result, nil
}

// ExportAll exports every catalog table for one UTC day; a nil tables
// slice means the full catalog. Tables with no rows are skipped in the
// result.
func (e *Exporter) ExportAll(ctx context.Context, tables []string, t time.Time) ([]ExportResult, error) {
	if tables == nil {
		tables = schema.Names()
	}
	var out []ExportResult
	for _, table := range tables {
		res, err := e.ExportDay(ctx, table, t)
		if err != nil {
			return out, err
		}
		if res.Rows > 0 {
			out = append(out, *res)
		}
	}
	return out, nil
}
