// Package schema defines the time-series table schemas shared by every
// feed, generates dialect-specific DDL, and validates normalized
// records against their target table.
//
// Every table is timestamp-partitioned by day and keyed by a
// symbol-typed column with bounded capacity. Rows are immutable once
// written; corrections are new rows, and deduplication is a read-side
// concern (latest-by-symbol picks the most recent row).
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

// =============================================================================
// Column Types
// =============================================================================

// ColumnType enumerates the storage types a column may carry.
type ColumnType int

const (
	TypeTimestamp ColumnType = iota
	TypeSymbol
	TypeString
	TypeDouble
	TypeLong
	TypeInt
	TypeBoolean
)

// String returns the QuestDB name of the type.
func (t ColumnType) String() string {
	switch t {
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeSymbol:
		return "SYMBOL"
	case TypeString:
		return "STRING"
	case TypeDouble:
		return "DOUBLE"
	case TypeLong:
		return "LONG"
	case TypeInt:
		return "INT"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// Dialect selects the SQL flavor DDL and placeholders are generated for.
type Dialect int

const (
	// DialectQuestDB targets QuestDB over the PostgreSQL wire protocol.
	DialectQuestDB Dialect = iota
	// DialectDuckDB targets the embedded DuckDB store.
	DialectDuckDB
)

// Placeholder returns the bind placeholder for position i (1-based).
func (d Dialect) Placeholder(i int) string {
	if d == DialectQuestDB {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// typeName returns the dialect-specific type name.
func (d Dialect) typeName(t ColumnType) string {
	if d == DialectQuestDB {
		return t.String()
	}
	switch t {
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeSymbol, TypeString:
		return "VARCHAR"
	case TypeDouble:
		return "DOUBLE"
	case TypeLong:
		return "BIGINT"
	case TypeInt:
		return "INTEGER"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// =============================================================================
// Column
// =============================================================================

// Column describes one table column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool

	// SYMBOL options (QuestDB only; ignored by other dialects).
	SymbolCapacity int
	SymbolCache    bool
	Indexed        bool
}

// ddl renders the column definition for a dialect.
func (c Column) ddl(d Dialect) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte(' ')
	b.WriteString(d.typeName(c.Type))

	if d == DialectQuestDB && c.Type == TypeSymbol {
		if c.SymbolCapacity > 0 {
			fmt.Fprintf(&b, " CAPACITY %d", c.SymbolCapacity)
		}
		if c.SymbolCache {
			b.WriteString(" CACHE")
		}
		if c.Indexed {
			b.WriteString(" INDEX")
		}
	}

	return b.String()
}

// =============================================================================
// Table
// =============================================================================

// Table is one logical time-series table.
type Table struct {
	// Name is the table name in the store.
	Name string

	// Columns in declaration order. The timestamp, symbol, and
	// feed_source columns are filled from the record envelope; the
	// rest come from record fields.
	Columns []Column

	// TimestampColumn names the designated timestamp column.
	TimestampColumn string

	// SymbolColumn names the column the record's Symbol lands in.
	SymbolColumn string

	// SourceColumn names the provenance column.
	SourceColumn string
}

// CreateSQL generates the CREATE TABLE statement for a dialect.
// QuestDB tables are day-partitioned WAL tables keyed on the designated
// timestamp; DuckDB tables are plain (partitioning is QuestDB-side
// physical layout, not part of the logical contract).
func (t *Table) CreateSQL(d Dialect) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		defs = append(defs, c.ddl(d))
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", t.Name, strings.Join(defs, ",\n    "))
	if d == DialectQuestDB {
		sql += fmt.Sprintf(" TIMESTAMP(%s) PARTITION BY DAY WAL", t.TimestampColumn)
	}
	return sql + ";"
}

// InsertSQL generates a single-row INSERT statement with dialect
// placeholders, in column declaration order.
func (t *Table) InsertSQL(d Dialect) string {
	names := make([]string, len(t.Columns))
	holes := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
		holes[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(names, ", "), strings.Join(holes, ", "))
}

// Column returns the named column definition, if present.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// envelope returns true for columns the record envelope fills directly.
func (t *Table) envelope(name string) bool {
	return name == t.TimestampColumn || name == t.SymbolColumn || name == t.SourceColumn
}

// =============================================================================
// Record Validation
// =============================================================================

// Validate checks a normalized record against the table and returns the
// row values in column declaration order. A record that does not
// conform is rejected, never silently coerced: missing non-nullable
// fields, wrongly typed fields, and fields that name no column are all
// schema mismatches.
func (t *Table) Validate(rec *feed.Record) ([]any, error) {
	if rec.Timestamp.IsZero() {
		return nil, errors.NewSchemaMismatch(t.Name, t.TimestampColumn, "zero timestamp")
	}
	if strings.TrimSpace(rec.Symbol) == "" {
		return nil, errors.NewSchemaMismatch(t.Name, t.SymbolColumn, "empty symbol")
	}
	if strings.TrimSpace(rec.Source) == "" {
		return nil, errors.NewSchemaMismatch(t.Name, t.SourceColumn, "empty feed source")
	}

	// Reject fields that name no column.
	for name := range rec.Fields {
		if t.envelope(name) {
			return nil, errors.NewSchemaMismatch(t.Name, name, "field shadows envelope column")
		}
		if _, ok := t.Column(name); !ok {
			return nil, errors.NewSchemaMismatch(t.Name, name, "no such column")
		}
	}

	row := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		switch c.Name {
		case t.TimestampColumn:
			row[i] = rec.Timestamp.UTC()
			continue
		case t.SymbolColumn:
			row[i] = rec.Symbol
			continue
		case t.SourceColumn:
			row[i] = rec.Source
			continue
		}

		v, ok := rec.Fields[c.Name]
		if !ok || v == nil {
			if !c.Nullable {
				return nil, errors.NewSchemaMismatch(t.Name, c.Name, "missing required field")
			}
			row[i] = nil
			continue
		}

		coerced, err := coerce(c.Type, v)
		if err != nil {
			return nil, errors.NewSchemaMismatch(t.Name, c.Name, err.Error())
		}
		row[i] = coerced
	}

	return row, nil
}

// coerce converts a field value to the column's storage type. Only
// lossless conversions are allowed; numeric precision must survive a
// round trip through the store.
func coerce(t ColumnType, v any) (any, error) {
	switch t {
	case TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
		return nil, fmt.Errorf("want time.Time, got %T", v)

	case TypeSymbol, TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("want string, got %T", v)

	case TypeDouble:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("want float, got %T", v)

	case TypeLong:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
		return nil, fmt.Errorf("want integer, got %T", v)

	case TypeInt:
		switch n := v.(type) {
		case int32:
			return n, nil
		case int:
			if int64(n) > 1<<31-1 || int64(n) < -(1<<31) {
				return nil, fmt.Errorf("value %d overflows INT", n)
			}
			return int32(n), nil
		case int64:
			if n > 1<<31-1 || n < -(1<<31) {
				return nil, fmt.Errorf("value %d overflows INT", n)
			}
			return int32(n), nil
		}
		return nil, fmt.Errorf("want integer, got %T", v)

	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("want bool, got %T", v)
	}

	return nil, fmt.Errorf("unsupported column type %v", t)
}
