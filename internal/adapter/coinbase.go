package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
)

func init() {
	RegisterBuilder("coinbase_crypto", newCoinbaseCrypto)
}

// =============================================================================
// Coinbase Crypto Adapter
// =============================================================================

const (
	defaultCoinbaseURL = "wss://ws-feed.exchange.coinbase.com"

	wsHandshakeTimeout = 10 * time.Second
	wsReadDeadline     = 30 * time.Second
	wsPingInterval     = 15 * time.Second
	wsMaxBackoff       = 30 * time.Second
	wsMaxMessageBytes  = 1 << 20
)

// coinbaseCrypto streams the Coinbase ticker channel over a websocket.
// Start dials and subscribes synchronously so a bad URL or product
// list fails the start attempt; after that a background loop consumes
// the stream and redials with capped backoff on disconnect.
//
// Params: symbols (product ids, e.g. "BTC-USD,ETH-USD"), url.
type coinbaseCrypto struct {
	url      string
	products []string
	log      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastMsg  time.Time
	lastErr  error
	messages int64
}

func newCoinbaseCrypto(desc feed.Descriptor) (Adapter, error) {
	products, err := symbolsParam(desc, "symbols")
	if err != nil {
		return nil, err
	}
	return &coinbaseCrypto{
		url:      paramOr(desc, "url", defaultCoinbaseURL),
		products: products,
		log:      logging.Feed(desc.Name),
	}, nil
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type coinbaseMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	LastSize  string `json:"last_size"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Volume24h string `json:"volume_24h"`
	Time      string `json:"time"`
	Message   string `json:"message"` // set on type "error"
}

func (a *coinbaseCrypto) Start(ctx context.Context, sink feed.Sink) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.run(runCtx, conn, sink)
	return nil
}

func (a *coinbaseCrypto) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *coinbaseCrypto) Health(ctx context.Context) Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastErr != nil {
		return Report{State: feed.HealthUnreachable, Detail: a.lastErr.Error()}
	}
	if !a.lastMsg.IsZero() && time.Since(a.lastMsg) > wsReadDeadline {
		return Report{State: feed.HealthDegraded, Detail: fmt.Sprintf("no message for %s", time.Since(a.lastMsg).Round(time.Second))}
	}
	return Report{State: feed.HealthHealthy}
}

// dial connects and subscribes to the ticker channel.
func (a *coinbaseCrypto) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("coinbase: dialing: %w", err)
	}

	sub := coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: a.products,
		Channels:   []string{"ticker"},
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("coinbase: subscribing: %w", err)
	}

	a.log.Info("connected crypto stream", "products", a.products)
	return conn, nil
}

func (a *coinbaseCrypto) run(ctx context.Context, conn *websocket.Conn, sink feed.Sink) {
	defer close(a.done)

	backoff := time.Second
	for {
		err := a.consume(ctx, conn, sink)
		conn = nil
		if ctx.Err() != nil {
			return
		}

		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
		a.log.Warn("crypto stream disconnected, retrying", "err", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = time.Duration(math.Min(float64(wsMaxBackoff), float64(backoff)*1.8))

		next, derr := a.dial(ctx)
		if derr != nil {
			a.mu.Lock()
			a.lastErr = derr
			a.mu.Unlock()
			continue
		}
		conn = next
		backoff = time.Second
		a.mu.Lock()
		a.lastErr = nil
		a.mu.Unlock()
	}
}

// consume reads the stream until error or cancellation. A nil conn
// means the previous dial failed; it returns immediately to redial.
func (a *coinbaseCrypto) consume(ctx context.Context, conn *websocket.Conn, sink feed.Sink) error {
	if conn == nil {
		return fmt.Errorf("coinbase: not connected")
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		var msg coinbaseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			a.log.Warn("failed to decode crypto message", "err", err)
			continue
		}
		switch msg.Type {
		case "ticker":
		case "error":
			return fmt.Errorf("coinbase: %s", msg.Message)
		default:
			// subscriptions ack, heartbeats
			continue
		}

		rec, err := tickerRecord(msg)
		if err != nil {
			a.log.Warn("invalid crypto tick", "err", err)
			continue
		}
		sink.Write(rec)

		a.mu.Lock()
		a.lastMsg = time.Now()
		a.messages++
		a.mu.Unlock()
	}
}

// tickerRecord normalizes one ticker message into a crypto row.
func tickerRecord(msg coinbaseMessage) (feed.Record, error) {
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return feed.Record{}, fmt.Errorf("price %q: %w", msg.Price, err)
	}
	ts := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
		ts = t.UTC()
	}

	rec := feed.Record{
		Timestamp: ts,
		Symbol:    strings.ToUpper(msg.ProductID),
		Class:     feed.ClassCrypto,
		Fields: map[string]any{
			"price":    price,
			"exchange": "coinbase",
		},
	}
	if v, err := strconv.ParseFloat(msg.LastSize, 64); err == nil {
		rec.Fields["size"] = v
	}
	if v, err := strconv.ParseFloat(msg.BestBid, 64); err == nil {
		rec.Fields["bid"] = v
	}
	if v, err := strconv.ParseFloat(msg.BestAsk, 64); err == nil {
		rec.Fields["ask"] = v
	}
	if v, err := strconv.ParseFloat(msg.Volume24h, 64); err == nil {
		rec.Fields["volume_24h"] = v
	}
	return rec, nil
}
