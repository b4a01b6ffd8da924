package schema

import (
	"sort"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

// =============================================================================
// Table Catalog
// =============================================================================

// Symbol column capacities. Equity universes are large; the rest are
// small bounded sets.
const (
	capLarge  = 16384
	capMedium = 1024
	capSmall  = 64
)

func symbolCol() Column {
	return Column{Name: "symbol", Type: TypeSymbol, SymbolCapacity: capLarge, SymbolCache: true, Indexed: true}
}

func smallSymbolCol(name string) Column {
	return Column{Name: name, Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true}
}

func sourceCol() Column {
	return Column{Name: "feed_source", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true}
}

func tsCol() Column {
	return Column{Name: "timestamp", Type: TypeTimestamp}
}

func base(name string, cols ...Column) Table {
	all := append([]Column{tsCol(), symbolCol(), sourceCol()}, cols...)
	return Table{
		Name:            name,
		Columns:         all,
		TimestampColumn: "timestamp",
		SymbolColumn:    "symbol",
		SourceColumn:    "feed_source",
	}
}

// Tables is the full catalog, keyed by table name.
var Tables = map[string]*Table{}

// classTables maps feed classes to their default table.
var classTables = map[feed.Class]string{
	feed.ClassStock:   "stocks",
	feed.ClassOption:  "options",
	feed.ClassCrypto:  "crypto",
	feed.ClassNews:    "news",
	feed.ClassSocial:  "social_sentiment",
	feed.ClassAccount: "account",
}

func register(t Table) {
	tbl := t
	Tables[tbl.Name] = &tbl
}

func init() {
	register(base("stocks",
		Column{Name: "price", Type: TypeDouble},
		Column{Name: "size", Type: TypeLong, Nullable: true},
		Column{Name: "bid", Type: TypeDouble, Nullable: true},
		Column{Name: "ask", Type: TypeDouble, Nullable: true},
		Column{Name: "bid_size", Type: TypeLong, Nullable: true},
		Column{Name: "ask_size", Type: TypeLong, Nullable: true},
		Column{Name: "volume", Type: TypeLong, Nullable: true},
		Column{Name: "vwap", Type: TypeDouble, Nullable: true},
		Column{Name: "exchange", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true, Nullable: true},
		Column{Name: "conditions", Type: TypeString, Nullable: true},
	))

	register(base("options",
		Column{Name: "underlying", Type: TypeSymbol, SymbolCapacity: capLarge, SymbolCache: true, Indexed: true},
		Column{Name: "strike", Type: TypeDouble},
		Column{Name: "expiry", Type: TypeTimestamp},
		Column{Name: "contract_type", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true},
		Column{Name: "price", Type: TypeDouble, Nullable: true},
		Column{Name: "size", Type: TypeLong, Nullable: true},
		Column{Name: "open_interest", Type: TypeLong, Nullable: true},
		Column{Name: "implied_vol", Type: TypeDouble, Nullable: true},
		Column{Name: "delta", Type: TypeDouble, Nullable: true},
		Column{Name: "gamma", Type: TypeDouble, Nullable: true},
		Column{Name: "theta", Type: TypeDouble, Nullable: true},
		Column{Name: "vega", Type: TypeDouble, Nullable: true},
	))

	register(base("crypto",
		Column{Name: "price", Type: TypeDouble},
		Column{Name: "size", Type: TypeDouble, Nullable: true},
		Column{Name: "bid", Type: TypeDouble, Nullable: true},
		Column{Name: "ask", Type: TypeDouble, Nullable: true},
		Column{Name: "volume_24h", Type: TypeDouble, Nullable: true},
		Column{Name: "exchange", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true, Nullable: true},
	))

	register(base("market_status",
		smallSymbolCol("market"),
		Column{Name: "status", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true},
		Column{Name: "early_hours", Type: TypeBoolean, Nullable: true},
		Column{Name: "after_hours", Type: TypeBoolean, Nullable: true},
	))

	register(base("halts",
		Column{Name: "reason", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true},
		Column{Name: "limit_up", Type: TypeDouble, Nullable: true},
		Column{Name: "limit_down", Type: TypeDouble, Nullable: true},
		Column{Name: "resumed", Type: TypeBoolean, Nullable: true},
	))

	register(base("snapshots",
		Column{Name: "open", Type: TypeDouble, Nullable: true},
		Column{Name: "high", Type: TypeDouble, Nullable: true},
		Column{Name: "low", Type: TypeDouble, Nullable: true},
		Column{Name: "close", Type: TypeDouble},
		Column{Name: "volume", Type: TypeLong, Nullable: true},
		Column{Name: "prev_close", Type: TypeDouble, Nullable: true},
		Column{Name: "change_pct", Type: TypeDouble, Nullable: true},
	))

	register(base("news",
		Column{Name: "headline", Type: TypeString},
		Column{Name: "summary", Type: TypeString, Nullable: true},
		Column{Name: "url", Type: TypeString, Nullable: true},
		Column{Name: "publisher", Type: TypeSymbol, SymbolCapacity: capMedium, SymbolCache: true, Nullable: true},
		Column{Name: "sentiment", Type: TypeDouble, Nullable: true},
	))

	register(base("social_sentiment",
		smallSymbolCol("platform"),
		Column{Name: "mentions", Type: TypeLong},
		Column{Name: "score", Type: TypeDouble, Nullable: true},
		Column{Name: "rank", Type: TypeInt, Nullable: true},
	))

	register(base("account",
		Column{Name: "equity", Type: TypeDouble},
		Column{Name: "cash", Type: TypeDouble, Nullable: true},
		Column{Name: "buying_power", Type: TypeDouble, Nullable: true},
		Column{Name: "portfolio_value", Type: TypeDouble, Nullable: true},
		Column{Name: "day_pnl", Type: TypeDouble, Nullable: true},
		Column{Name: "positions", Type: TypeInt, Nullable: true},
		Column{Name: "pattern_day_trader", Type: TypeBoolean, Nullable: true},
	))

	register(base("agent_analysis",
		smallSymbolCol("agent"),
		Column{Name: "signal", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true},
		Column{Name: "confidence", Type: TypeDouble, Nullable: true},
		Column{Name: "rationale", Type: TypeString, Nullable: true},
	))

	register(base("agent_coordination",
		smallSymbolCol("agent"),
		smallSymbolCol("target_agent"),
		Column{Name: "action", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true},
		Column{Name: "payload", Type: TypeString, Nullable: true},
	))

	register(base("health_status",
		Column{Name: "state", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true},
		Column{Name: "detail", Type: TypeString, Nullable: true},
		Column{Name: "latency_ms", Type: TypeDouble, Nullable: true},
		Column{Name: "consecutive_failures", Type: TypeInt, Nullable: true},
	))

	register(base("telemetry_metrics",
		smallSymbolCol("metric"),
		Column{Name: "value", Type: TypeDouble},
		Column{Name: "unit", Type: TypeSymbol, SymbolCapacity: capSmall, SymbolCache: true, Nullable: true},
	))
}

// =============================================================================
// Lookup
// =============================================================================

// ForClass returns the default table for a feed class.
func ForClass(c feed.Class) (*Table, error) {
	name, ok := classTables[c]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownTable, "no table for class %q", c)
	}
	return Tables[name], nil
}

// ForRecord resolves the table a record targets: the explicit Table
// override when set, otherwise the class default.
func ForRecord(rec *feed.Record) (*Table, error) {
	if rec.Table != "" {
		t, ok := Tables[rec.Table]
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownTable, "table %q", rec.Table)
		}
		return t, nil
	}
	return ForClass(rec.Class)
}

// Names returns the catalog's table names in stable sorted order.
func Names() []string {
	names := make([]string, 0, len(Tables))
	for n := range Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
