package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ezbot/feedd/config"
	apperrors "github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/schema"
	"github.com/ezbot/feedd/internal/store"
)

// memStore records inserted batches. failures makes the first N
// InsertBatch calls fail with a retriable error.
type memStore struct {
	mu       sync.Mutex
	batches  map[string][][][]any
	failures int
}

func newMemStore() *memStore {
	return &memStore{batches: make(map[string][][][]any)}
}

func (m *memStore) Ping(context.Context) error         { return nil }
func (m *memStore) EnsureSchema(context.Context) error { return nil }
func (m *memStore) Close() error                       { return nil }

func (m *memStore) InsertBatch(_ context.Context, tbl *schema.Table, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return apperrors.ErrStoreUnavailable
	}
	m.batches[tbl.Name] = append(m.batches[tbl.Name], rows)
	return nil
}

func (m *memStore) QueryRange(context.Context, store.RangeQuery) ([]store.Row, error) {
	return nil, nil
}

func (m *memStore) LatestBySymbol(context.Context, string, []string) ([]store.Row, error) {
	return nil, nil
}

func (m *memStore) rowCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, batch := range m.batches[table] {
		n += len(batch)
	}
	return n
}

func tick(symbol string, price float64) feed.Record {
	return feed.Record{
		Timestamp: time.Now().UTC(),
		Symbol:    symbol,
		Class:     feed.ClassStock,
		Source:    "polygon_stocks",
		Fields:    map[string]any{"price": price},
	}
}

func TestWriteNeverBlocks(t *testing.T) {
	// A full buffer drops the oldest records and counts every drop.
	// The writer loop is deliberately not started.
	w := New(config.WriterConfig{BatchSize: 100, BufferBound: 1000}, newMemStore())

	for i := 0; i < 10000; i++ {
		if err := w.Write(tick("AAPL", float64(i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if got := w.Pending(); got != 1000 {
		t.Errorf("pending = %d, want 1000", got)
	}
	stats := w.Stats()
	if stats.Received != 10000 {
		t.Errorf("received = %d, want 10000", stats.Received)
	}
	if stats.DroppedRecords != 9000 {
		t.Errorf("dropped = %d, want 9000", stats.DroppedRecords)
	}
}

func TestDropOldestKeepsNewest(t *testing.T) {
	ms := newMemStore()
	w := New(config.WriterConfig{BatchSize: 10, BufferBound: 10}, ms)

	for i := 0; i < 15; i++ {
		w.Write(tick("AAPL", float64(i)))
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Prices 0-4 were dropped; 5-14 survive.
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var prices []float64
	for _, batch := range ms.batches["stocks"] {
		for _, row := range batch {
			// price is the 4th column (timestamp, symbol, feed_source, price).
			prices = append(prices, row[3].(float64))
		}
	}
	if len(prices) != 10 || prices[0] != 5.0 || prices[9] != 14.0 {
		t.Errorf("surviving prices = %v", prices)
	}
}

func TestFlushGroupsByTable(t *testing.T) {
	ms := newMemStore()
	w := New(config.WriterConfig{BatchSize: 100, BufferBound: 1000}, ms)

	w.Write(tick("AAPL", 1.0))
	w.Write(feed.Record{
		Timestamp: time.Now().UTC(),
		Symbol:    "BTC-USD",
		Class:     feed.ClassCrypto,
		Source:    "coinbase_ws",
		Fields:    map[string]any{"price": 67000.0},
	})
	w.Write(feed.Record{
		Timestamp: time.Now().UTC(),
		Symbol:    "NYSE",
		Class:     feed.ClassStock,
		Table:     "market_status",
		Source:    "polygon_status",
		Fields:    map[string]any{"market": "NYSE", "status": "open"},
	})

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for table, want := range map[string]int{"stocks": 1, "crypto": 1, "market_status": 1} {
		if got := ms.rowCount(table); got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}
	if got := w.Stats().Written; got != 3 {
		t.Errorf("written = %d, want 3", got)
	}
}

func TestInvalidRecordRejectedNotFatal(t *testing.T) {
	ms := newMemStore()
	w := New(config.WriterConfig{BatchSize: 100, BufferBound: 1000}, ms)

	w.Write(tick("AAPL", 1.0))
	w.Write(feed.Record{ // missing required price field
		Timestamp: time.Now().UTC(),
		Symbol:    "MSFT",
		Class:     feed.ClassStock,
		Source:    "polygon_stocks",
	})
	w.Write(tick("GOOG", 2.0))

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := w.Stats()
	if stats.Written != 2 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := ms.rowCount("stocks"); got != 2 {
		t.Errorf("stored rows = %d, want 2", got)
	}
}

func TestInsertRetryThenSuccess(t *testing.T) {
	ms := newMemStore()
	ms.failures = 2
	w := New(config.WriterConfig{BatchSize: 10, BufferBound: 100, MaxRetries: 3}, ms)

	w.Write(tick("AAPL", 1.0))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := w.Stats()
	if stats.Written != 1 {
		t.Errorf("written = %d, want 1", stats.Written)
	}
	if stats.Retries != 2 {
		t.Errorf("retries = %d, want 2", stats.Retries)
	}
	if stats.WriteFailures != 0 {
		t.Errorf("write failures = %d, want 0", stats.WriteFailures)
	}
}

func TestInsertRetriesExhausted(t *testing.T) {
	ms := newMemStore()
	ms.failures = 10
	w := New(config.WriterConfig{BatchSize: 10, BufferBound: 100, MaxRetries: 1}, ms)

	w.Write(tick("AAPL", 1.0))
	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error after retries exhausted")
	}

	stats := w.Stats()
	if stats.WriteFailures != 1 {
		t.Errorf("write failures = %d, want 1", stats.WriteFailures)
	}
	if stats.Written != 0 {
		t.Errorf("written = %d, want 0", stats.Written)
	}
	// The record is not discarded: it goes back to the buffer for the
	// next flush cycle.
	if w.Pending() != 1 {
		t.Errorf("pending = %d, want 1", w.Pending())
	}
	if stats.DroppedRecords != 0 {
		t.Errorf("dropped = %d, want 0", stats.DroppedRecords)
	}
}

func TestOutageLosesDataOnlyByOverflow(t *testing.T) {
	// While the store is down every failed batch returns to the buffer;
	// the only loss path is overflow, and the drop counter accounts for
	// every record that does not survive.
	ms := newMemStore()
	ms.failures = 1 << 20
	w := New(config.WriterConfig{BatchSize: 10, BufferBound: 20, MaxRetries: 0}, ms)

	for i := 0; i < 50; i++ {
		w.Write(tick("AAPL", float64(i)))
	}
	for i := 0; i < 5; i++ {
		if err := w.Flush(context.Background()); err == nil {
			t.Fatal("expected flush error while store is down")
		}
	}

	stats := w.Stats()
	if stats.Written != 0 {
		t.Errorf("written = %d, want 0", stats.Written)
	}
	if w.Pending() != 20 || stats.DroppedRecords != 30 {
		t.Errorf("pending = %d dropped = %d, want 20/30", w.Pending(), stats.DroppedRecords)
	}
	if got := int64(w.Pending()) + stats.DroppedRecords + stats.Written; got != stats.Received {
		t.Errorf("pending+dropped+written = %d, received = %d", got, stats.Received)
	}

	// When the store recovers, the surviving newest records land
	// intact: prices 30-49 in order.
	ms.mu.Lock()
	ms.failures = 0
	ms.mu.Unlock()
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after recovery: %v", err)
	}
	if got := w.Stats().Written; got != 20 {
		t.Errorf("written after recovery = %d, want 20", got)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	var prices []float64
	for _, batch := range ms.batches["stocks"] {
		for _, row := range batch {
			prices = append(prices, row[3].(float64))
		}
	}
	if len(prices) != 20 || prices[0] != 30.0 || prices[19] != 49.0 {
		t.Errorf("surviving prices = %v", prices)
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	ms := newMemStore()
	w := New(config.WriterConfig{
		BatchSize:     5,
		BufferBound:   100,
		FlushInterval: time.Hour, // interval must not be the trigger
	}, ms)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 5; i++ {
		w.Write(tick("AAPL", float64(i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for ms.rowCount("stocks") < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ms.rowCount("stocks"); got != 5 {
		t.Fatalf("stored rows = %d, want 5", got)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopDrains(t *testing.T) {
	ms := newMemStore()
	w := New(config.WriterConfig{
		BatchSize:     100,
		BufferBound:   1000,
		FlushInterval: time.Hour,
	}, ms)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 7; i++ {
		w.Write(tick("AAPL", float64(i)))
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ms.rowCount("stocks"); got != 7 {
		t.Errorf("drained rows = %d, want 7", got)
	}
	if err := w.Stop(ctx); !apperrors.Is(err, apperrors.ErrNotRunning) {
		t.Errorf("second stop error = %v, want ErrNotRunning", err)
	}
}

func TestOnWriteObserver(t *testing.T) {
	ms := newMemStore()
	w := New(config.WriterConfig{BatchSize: 10, BufferBound: 100}, ms)

	var mu sync.Mutex
	seen := 0
	w.OnWrite(func(feed.Record) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	w.Write(tick("AAPL", 1.0))
	w.Write(tick("MSFT", 2.0))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != 2 {
		t.Errorf("observed = %d, want 2", seen)
	}
}
