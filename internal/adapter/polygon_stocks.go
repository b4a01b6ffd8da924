package adapter

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ezbot/feedd/internal/feed"
)

func init() {
	RegisterBuilder("polygon_stocks", newPolygonStocks)
}

// =============================================================================
// Polygon Stocks Adapter
// =============================================================================

// polygonStocks polls the Polygon full-market snapshot endpoint for a
// watch list of tickers. Each cycle emits one quote row per ticker
// into stocks, a daily OHLCV row into snapshots, and the exchange
// session state into market_status.
//
// Params: api_key, symbols (comma-separated), interval (default 5s),
// base_url, rate_limit (requests/sec, default 5).
type polygonStocks struct {
	*poller
	client  *polygonClient
	symbols []string
}

func newPolygonStocks(desc feed.Descriptor) (Adapter, error) {
	key, err := requireParam(desc, "api_key")
	if err != nil {
		return nil, err
	}
	symbols, err := symbolsParam(desc, "symbols")
	if err != nil {
		return nil, err
	}
	interval, err := durationParam(desc, "interval", 5*time.Second)
	if err != nil {
		return nil, err
	}
	rps, err := floatParam(desc, "rate_limit", 5)
	if err != nil {
		return nil, err
	}

	a := &polygonStocks{
		client:  newPolygonClient(paramOr(desc, "base_url", defaultPolygonURL), key),
		symbols: symbols,
	}
	a.poller = newPoller(desc.Name, interval, rps, a.collectOnce)
	return a, nil
}

type polygonSnapshotResp struct {
	Tickers []struct {
		Ticker  string `json:"ticker"`
		Updated int64  `json:"updated"` // ns epoch
		Day     struct {
			Open   float64 `json:"o"`
			High   float64 `json:"h"`
			Low    float64 `json:"l"`
			Close  float64 `json:"c"`
			Volume float64 `json:"v"`
			VWAP   float64 `json:"vw"`
		} `json:"day"`
		PrevDay struct {
			Close float64 `json:"c"`
		} `json:"prevDay"`
		LastTrade struct {
			Price float64 `json:"p"`
			Size  int64   `json:"s"`
		} `json:"lastTrade"`
		LastQuote struct {
			Bid     float64 `json:"p"`
			BidSize int64   `json:"s"`
			Ask     float64 `json:"P"`
			AskSize int64   `json:"S"`
		} `json:"lastQuote"`
		ChangePct float64 `json:"todaysChangePerc"`
	} `json:"tickers"`
}

type polygonMarketStatusResp struct {
	Market     string `json:"market"`
	EarlyHours bool   `json:"earlyHours"`
	AfterHours bool   `json:"afterHours"`
	ServerTime string `json:"serverTime"`
}

func (a *polygonStocks) collectOnce(ctx context.Context, sink feed.Sink) error {
	var snap polygonSnapshotResp
	q := url.Values{"tickers": {strings.Join(a.symbols, ",")}}
	if err := a.client.getJSON(ctx, "/v2/snapshot/locale/us/markets/stocks/tickers", q, &snap); err != nil {
		return err
	}

	for _, t := range snap.Tickers {
		ts := time.Now().UTC()
		if t.Updated > 0 {
			ts = time.Unix(0, t.Updated).UTC()
		}
		sym := strings.ToUpper(t.Ticker)

		rec := feed.Record{
			Timestamp: ts,
			Symbol:    sym,
			Class:     feed.ClassStock,
			Fields: map[string]any{
				"price":  t.LastTrade.Price,
				"volume": int64(t.Day.Volume),
			},
		}
		if t.LastTrade.Size > 0 {
			rec.Fields["size"] = t.LastTrade.Size
		}
		if t.LastQuote.Bid > 0 {
			rec.Fields["bid"] = t.LastQuote.Bid
			rec.Fields["bid_size"] = t.LastQuote.BidSize
		}
		if t.LastQuote.Ask > 0 {
			rec.Fields["ask"] = t.LastQuote.Ask
			rec.Fields["ask_size"] = t.LastQuote.AskSize
		}
		if t.Day.VWAP > 0 {
			rec.Fields["vwap"] = t.Day.VWAP
		}
		sink.Write(rec)

		if t.Day.Close > 0 {
			sink.Write(feed.Record{
				Timestamp: ts,
				Symbol:    sym,
				Class:     feed.ClassStock,
				Table:     "snapshots",
				Fields: map[string]any{
					"open":       t.Day.Open,
					"high":       t.Day.High,
					"low":        t.Day.Low,
					"close":      t.Day.Close,
					"volume":     int64(t.Day.Volume),
					"prev_close": t.PrevDay.Close,
					"change_pct": t.ChangePct,
				},
			})
		}
	}

	return a.collectMarketStatus(ctx, sink)
}

func (a *polygonStocks) collectMarketStatus(ctx context.Context, sink feed.Sink) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var ms polygonMarketStatusResp
	if err := a.client.getJSON(ctx, "/v1/marketstatus/now", nil, &ms); err != nil {
		return err
	}
	sink.Write(feed.Record{
		Timestamp: time.Now().UTC(),
		Symbol:    "US_EQUITIES",
		Class:     feed.ClassStock,
		Table:     "market_status",
		Fields: map[string]any{
			"market":      "stocks",
			"status":      ms.Market,
			"early_hours": ms.EarlyHours,
			"after_hours": ms.AfterHours,
		},
	})
	return nil
}
