package schema

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

func stockRecord() feed.Record {
	return feed.Record{
		Timestamp: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
		Symbol:    "AAPL",
		Class:     feed.ClassStock,
		Source:    "polygon_stocks",
		Fields: map[string]any{
			"price":  187.42,
			"size":   int64(100),
			"volume": int64(1_250_000),
		},
	}
}

func TestForClass(t *testing.T) {
	tests := []struct {
		class feed.Class
		table string
	}{
		{feed.ClassStock, "stocks"},
		{feed.ClassOption, "options"},
		{feed.ClassCrypto, "crypto"},
		{feed.ClassNews, "news"},
		{feed.ClassSocial, "social_sentiment"},
		{feed.ClassAccount, "account"},
	}
	for _, tt := range tests {
		tbl, err := ForClass(tt.class)
		if err != nil {
			t.Fatalf("ForClass(%q): %v", tt.class, err)
		}
		if tbl.Name != tt.table {
			t.Errorf("ForClass(%q) = %q, want %q", tt.class, tbl.Name, tt.table)
		}
	}

	if _, err := ForClass(feed.Class("bonds")); !apperrors.Is(err, apperrors.ErrUnknownTable) {
		t.Errorf("unknown class error = %v, want ErrUnknownTable", err)
	}
}

func TestForRecordOverride(t *testing.T) {
	rec := stockRecord()
	rec.Table = "market_status"
	tbl, err := ForRecord(&rec)
	if err != nil {
		t.Fatalf("ForRecord: %v", err)
	}
	if tbl.Name != "market_status" {
		t.Errorf("table = %q, want market_status", tbl.Name)
	}

	rec.Table = "no_such_table"
	if _, err := ForRecord(&rec); !apperrors.Is(err, apperrors.ErrUnknownTable) {
		t.Errorf("bad override error = %v, want ErrUnknownTable", err)
	}
}

func TestValidateRow(t *testing.T) {
	tbl := Tables["stocks"]
	rec := stockRecord()

	row, err := tbl.Validate(&rec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(row) != len(tbl.Columns) {
		t.Fatalf("row length = %d, want %d", len(row), len(tbl.Columns))
	}

	// Envelope columns land in declaration order.
	if ts, ok := row[0].(time.Time); !ok || !ts.Equal(rec.Timestamp) {
		t.Errorf("row[0] = %v, want record timestamp", row[0])
	}
	if row[1] != "AAPL" {
		t.Errorf("row[1] = %v, want AAPL", row[1])
	}
	if row[2] != "polygon_stocks" {
		t.Errorf("row[2] = %v, want polygon_stocks", row[2])
	}

	// Missing nullable columns are nil.
	for i, c := range tbl.Columns {
		if c.Name == "bid" && row[i] != nil {
			t.Errorf("bid = %v, want nil", row[i])
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tbl := Tables["stocks"]

	tests := []struct {
		name   string
		mutate func(*feed.Record)
	}{
		{"zero timestamp", func(r *feed.Record) { r.Timestamp = time.Time{} }},
		{"empty symbol", func(r *feed.Record) { r.Symbol = "" }},
		{"empty source", func(r *feed.Record) { r.Source = " " }},
		{"unknown field", func(r *feed.Record) { r.Fields["sentiment"] = 0.5 }},
		{"missing required price", func(r *feed.Record) { delete(r.Fields, "price") }},
		{"wrong type", func(r *feed.Record) { r.Fields["price"] = "187.42" }},
		{"field shadows envelope", func(r *feed.Record) { r.Fields["symbol"] = "MSFT" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stockRecord()
			tt.mutate(&rec)
			if _, err := tbl.Validate(&rec); !apperrors.Is(err, apperrors.ErrSchemaMismatch) {
				t.Errorf("Validate error = %v, want ErrSchemaMismatch", err)
			}
		})
	}
}

func TestCoerceNumeric(t *testing.T) {
	tbl := Tables["stocks"]
	rec := stockRecord()
	rec.Fields["size"] = 100 // plain int widens to LONG
	rec.Fields["price"] = float32(187.5)

	row, err := tbl.Validate(&rec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	var gotSize, gotPrice any
	for i, c := range tbl.Columns {
		switch c.Name {
		case "size":
			gotSize = row[i]
		case "price":
			gotPrice = row[i]
		}
	}
	if gotSize != int64(100) {
		t.Errorf("size = %v (%T), want int64(100)", gotSize, gotSize)
	}
	if gotPrice != float64(float32(187.5)) {
		t.Errorf("price = %v (%T), want float64", gotPrice, gotPrice)
	}
}

func TestCoerceIntOverflow(t *testing.T) {
	// INT columns reject values outside int32 range from every integer
	// source type; silent truncation would corrupt stored counts.
	for _, v := range []any{int64(1) << 31, int(int64(1) << 31), int64(-1) - 1<<31} {
		if _, err := coerce(TypeInt, v); err == nil {
			t.Errorf("coerce(INT, %v (%T)) accepted an overflowing value", v, v)
		}
	}
	got, err := coerce(TypeInt, int(int64(1)<<31-1))
	if err != nil {
		t.Fatalf("coerce max int32: %v", err)
	}
	if got != int32(1<<31-1) {
		t.Errorf("coerce = %v (%T), want int32 max", got, got)
	}
}

func TestCreateSQLQuestDB(t *testing.T) {
	sql := Tables["stocks"].CreateSQL(DialectQuestDB)

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS stocks",
		"symbol SYMBOL CAPACITY 16384 CACHE INDEX",
		"price DOUBLE",
		"TIMESTAMP(timestamp) PARTITION BY DAY WAL",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("QuestDB DDL missing %q:\n%s", want, sql)
		}
	}
}

func TestCreateSQLDuckDB(t *testing.T) {
	sql := Tables["stocks"].CreateSQL(DialectDuckDB)

	if strings.Contains(sql, "PARTITION BY") || strings.Contains(sql, "CAPACITY") {
		t.Errorf("DuckDB DDL carries QuestDB clauses:\n%s", sql)
	}
	if !strings.Contains(sql, "symbol VARCHAR") {
		t.Errorf("DuckDB DDL missing symbol VARCHAR:\n%s", sql)
	}
	if !strings.Contains(sql, "size BIGINT") {
		t.Errorf("DuckDB DDL missing size BIGINT:\n%s", sql)
	}
}

func TestInsertSQLPlaceholders(t *testing.T) {
	tbl := Tables["telemetry_metrics"]

	q := tbl.InsertSQL(DialectQuestDB)
	if !strings.Contains(q, "$1") || !strings.Contains(q, "$6") {
		t.Errorf("QuestDB insert placeholders wrong:\n%s", q)
	}

	d := tbl.InsertSQL(DialectDuckDB)
	if strings.Count(d, "?") != len(tbl.Columns) {
		t.Errorf("DuckDB insert placeholder count = %d, want %d:\n%s",
			strings.Count(d, "?"), len(tbl.Columns), d)
	}
}

func TestCatalogComplete(t *testing.T) {
	for _, name := range []string{
		"stocks", "options", "crypto", "market_status", "halts",
		"snapshots", "agent_analysis", "agent_coordination",
		"news", "social_sentiment", "account",
		"health_status", "telemetry_metrics",
	} {
		tbl, ok := Tables[name]
		if !ok {
			t.Errorf("catalog missing table %q", name)
			continue
		}
		if tbl.TimestampColumn != "timestamp" || tbl.SymbolColumn != "symbol" {
			t.Errorf("%s: envelope columns misnamed", name)
		}
		if _, ok := tbl.Column("feed_source"); !ok {
			t.Errorf("%s: missing feed_source column", name)
		}
	}

	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i] < names[i-1] {
			t.Fatalf("Names() not sorted: %v", names)
		}
	}
}
