// Package writer is the ingestion path between feed adapters and the
// time-series store. Records are buffered, validated against their
// table schema, grouped, and written in batches; a batch flushes when
// it reaches the configured size or when the flush interval elapses
// with records waiting, whichever comes first.
//
// The pending buffer is bounded. When producers outrun the store the
// oldest records are dropped and counted rather than blocking the
// adapters or growing without limit.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/schema"
	"github.com/ezbot/feedd/internal/store"
)

// pending is one validated-later record waiting in the buffer.
type pending struct {
	rec feed.Record
}

// Stats holds writer counters. All fields are updated atomically.
type Stats struct {
	Received       int64 `json:"received"`
	Written        int64 `json:"written"`
	DroppedRecords int64 `json:"dropped_records"`
	Rejected       int64 `json:"rejected"`
	Batches        int64 `json:"batches"`
	Retries        int64 `json:"retries"`
	WriteFailures  int64 `json:"write_failures"`
}

// Writer implements feed.Sink.
type Writer struct {
	cfg   config.WriterConfig
	store store.Store
	buf   *ringBuffer
	log   *slog.Logger

	// onWrite, when set, observes every record that reaches the store.
	onWrite func(rec feed.Record)

	// wake nudges the flush loop when the buffer crosses the batch
	// threshold, so a burst does not wait out the flush interval.
	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	received      atomic.Int64
	written       atomic.Int64
	rejected      atomic.Int64
	batches       atomic.Int64
	retries       atomic.Int64
	writeFailures atomic.Int64
}

// New creates a writer in front of a store. Zero config fields fall
// back to the documented defaults.
func New(cfg config.WriterConfig, st store.Store) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultWriterBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultWriterFlushInterval
	}
	if cfg.BufferBound <= 0 {
		cfg.BufferBound = config.DefaultWriterBufferBound
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = config.DefaultWriterMaxRetries
	}

	return &Writer{
		cfg:   cfg,
		store: st,
		buf:   newRingBuffer(cfg.BufferBound),
		log:   logging.Component("writer"),
		wake:  make(chan struct{}, 1),
	}
}

// OnWrite registers an observer called for every record that reaches
// the store. Must be set before Start.
func (w *Writer) OnWrite(fn func(rec feed.Record)) { w.onWrite = fn }

// Write accepts one record into the pending buffer. It never blocks:
// on overflow the oldest pending record is dropped and counted.
func (w *Writer) Write(rec feed.Record) error {
	w.received.Add(1)
	w.buf.pushOverwrite(pending{rec: rec})

	if w.buf.len() >= w.cfg.BatchSize {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start launches the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(ctx)
	w.log.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_bound", w.cfg.BufferBound)
	return nil
}

// Stop halts the flush loop and drains the remaining buffer, bounded
// by the context deadline.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return errors.ErrNotRunning
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	// Final drain. Uses the caller's context so shutdown stays bounded.
	for w.buf.len() > 0 {
		if err := ctx.Err(); err != nil {
			w.log.Warn("drain abandoned", "pending", w.buf.len())
			return err
		}
		if err := w.flushBatch(ctx); err != nil {
			w.log.Warn("drain flush failed", "error", err)
			return err
		}
	}
	w.log.Info("writer stopped", "stats", w.Stats())
	return nil
}

// Flush forces one batch out immediately. Useful in tests and during
// orchestrated shutdown.
func (w *Writer) Flush(ctx context.Context) error {
	for w.buf.len() > 0 {
		if err := w.flushBatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Received:       w.received.Load(),
		Written:        w.written.Load(),
		DroppedRecords: w.buf.dropped(),
		Rejected:       w.rejected.Load(),
		Batches:        w.batches.Load(),
		Retries:        w.retries.Load(),
		WriteFailures:  w.writeFailures.Load(),
	}
}

// Pending returns the number of buffered records.
func (w *Writer) Pending() int { return w.buf.len() }

// =============================================================================
// Flush Loop
// =============================================================================

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}

		for w.buf.len() >= w.cfg.BatchSize {
			if err := w.flushBatch(ctx); err != nil {
				break
			}
		}
		// Interval tick flushes partial batches too.
		if w.buf.len() > 0 {
			if err := w.flushBatch(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("flush failed", "error", err, "pending", w.buf.len())
			}
		}
	}
}

// flushBatch pops one batch, validates and groups it by table, and
// writes each group with retry. Validation failures are counted as
// rejected and logged; they never abort the batch.
func (w *Writer) flushBatch(ctx context.Context) error {
	batch := w.buf.popN(w.cfg.BatchSize)
	if len(batch) == 0 {
		return nil
	}

	type group struct {
		table *schema.Table
		rows  [][]any
		recs  []feed.Record
	}
	groups := make(map[string]*group)

	for i := range batch {
		rec := batch[i].rec
		tbl, err := schema.ForRecord(&rec)
		if err != nil {
			w.rejected.Add(1)
			w.log.Warn("record rejected", "feed", rec.Source, "error", err)
			continue
		}
		row, err := tbl.Validate(&rec)
		if err != nil {
			w.rejected.Add(1)
			w.log.Warn("record rejected", "feed", rec.Source, "table", tbl.Name, "error", err)
			continue
		}
		g := groups[tbl.Name]
		if g == nil {
			g = &group{table: tbl}
			groups[tbl.Name] = g
		}
		g.rows = append(g.rows, row)
		g.recs = append(g.recs, rec)
	}

	var firstErr error
	for _, g := range groups {
		if err := w.insertWithRetry(ctx, g.table, g.rows); err != nil {
			w.writeFailures.Add(int64(len(g.rows)))
			w.log.Error("batch write failed",
				"table", g.table.Name, "rows", len(g.rows), "error", err)
			// The rows go back to the front of the buffer: an outage
			// must not lose data except through overflow, where the
			// drop counter accounts for it. The flush loop's next
			// interval tick retries them.
			back := make([]pending, len(g.recs))
			for i := range g.recs {
				back[i] = pending{rec: g.recs[i]}
			}
			w.buf.requeue(back)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.written.Add(int64(len(g.rows)))
		w.batches.Add(1)
		if w.onWrite != nil {
			for i := range g.recs {
				w.onWrite(g.recs[i])
			}
		}
	}
	return firstErr
}

// insertWithRetry writes one table's rows, retrying transient store
// failures with exponential backoff and jitter.
func (w *Writer) insertWithRetry(ctx context.Context, tbl *schema.Table, rows [][]any) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := w.store.InsertBatch(ctx, tbl, rows)
		if err == nil {
			return nil
		}
		if !errors.IsRetriable(err) {
			return fmt.Errorf("non-retryable: %w", err)
		}
		lastErr = err

		if attempt < w.cfg.MaxRetries {
			w.retries.Add(1)

			// ±25% jitter
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			if rand.Intn(2) == 0 {
				jitter = -jitter
			}
			sleep := backoff + jitter

			w.log.Warn("retrying batch write",
				"table", tbl.Name,
				"attempt", attempt+1,
				"max_retries", w.cfg.MaxRetries,
				"backoff", sleep,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
