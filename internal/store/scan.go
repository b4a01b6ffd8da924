package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ezbot/feedd/internal/schema"
)

// scanRows materializes a result set into typed Rows. Columns are
// resolved by name against the table definition so the query's column
// order does not matter; columns the table does not know are rejected.
func scanRows(tbl *schema.Table, rows *sql.Rows) ([]Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	cols := make([]schema.Column, len(names))
	for i, name := range names {
		c, ok := tbl.Column(name)
		if !ok {
			return nil, fmt.Errorf("result column %q not in table %s", name, tbl.Name)
		}
		cols[i] = c
	}

	var out []Row
	for rows.Next() {
		dest := make([]any, len(cols))
		for i, c := range cols {
			dest[i] = scanTarget(c.Type)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := Row{Fields: make(map[string]any)}
		for i, c := range cols {
			v, ok := scanValue(cols[i].Type, dest[i])
			if !ok {
				continue // NULL
			}
			switch c.Name {
			case tbl.TimestampColumn:
				row.Timestamp = v.(time.Time)
			case tbl.SymbolColumn:
				row.Symbol = v.(string)
			case tbl.SourceColumn:
				row.Source = v.(string)
			default:
				row.Fields[c.Name] = v
			}
		}
		if len(row.Fields) == 0 {
			row.Fields = nil
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanTarget(t schema.ColumnType) any {
	switch t {
	case schema.TypeTimestamp:
		return new(sql.NullTime)
	case schema.TypeSymbol, schema.TypeString:
		return new(sql.NullString)
	case schema.TypeDouble:
		return new(sql.NullFloat64)
	case schema.TypeLong, schema.TypeInt:
		return new(sql.NullInt64)
	case schema.TypeBoolean:
		return new(sql.NullBool)
	default:
		return new(any)
	}
}

func scanValue(t schema.ColumnType, dest any) (any, bool) {
	switch d := dest.(type) {
	case *sql.NullTime:
		if !d.Valid {
			return nil, false
		}
		return d.Time.UTC(), true
	case *sql.NullString:
		if !d.Valid {
			return nil, false
		}
		return d.String, true
	case *sql.NullFloat64:
		if !d.Valid {
			return nil, false
		}
		return d.Float64, true
	case *sql.NullInt64:
		if !d.Valid {
			return nil, false
		}
		if t == schema.TypeInt {
			return int32(d.Int64), true
		}
		return d.Int64, true
	case *sql.NullBool:
		if !d.Valid {
			return nil, false
		}
		return d.Bool, true
	default:
		return nil, false
	}
}
