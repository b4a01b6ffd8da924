// Package telemetry periodically snapshots the fleet into the store's
// own time-series tables: one health_status row per feed and a set of
// fleet-level telemetry_metrics rows per collect cycle. The daemon's
// operational history is queryable with the same tools as its market
// data.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/registry"
)

const source = "feedd_telemetry"

// DefaultInterval is the collect cycle period.
const DefaultInterval = time.Minute

// Collector writes fleet snapshots into a sink.
type Collector struct {
	reg      *registry.Registry
	sink     feed.Sink
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a collector. A non-positive interval gets the default.
func New(reg *registry.Registry, sink feed.Sink, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		reg:      reg,
		sink:     sink,
		interval: interval,
		log:      logging.Component("telemetry"),
	}
}

// Collect writes one snapshot cycle: a health_status row per feed and
// the fleet metrics rows.
func (c *Collector) Collect() {
	now := time.Now().UTC()

	for _, snap := range c.reg.List() {
		fields := map[string]any{
			"state": string(snap.Health),
		}
		if snap.LastError != "" {
			fields["detail"] = snap.LastError
		}
		if snap.LatencyP50 > 0 {
			fields["latency_ms"] = snap.LatencyP50 * 1000
		}
		if snap.ConsecutiveUnreachable > 0 {
			fields["consecutive_failures"] = snap.ConsecutiveUnreachable
		}
		c.write(feed.Record{
			Timestamp: now,
			Symbol:    snap.Name,
			Table:     "health_status",
			Source:    source,
			Fields:    fields,
		})
	}

	m := c.reg.Metrics()
	gauges := map[string]float64{
		"feeds_total":   float64(m.Total),
		"feeds_active":  float64(m.Active),
		"feeds_failed":  float64(m.Failed),
		"feeds_healthy": float64(m.Healthy),
		"records_total": float64(m.Records),
	}
	for metric, value := range gauges {
		c.write(feed.Record{
			Timestamp: now,
			Symbol:    "fleet",
			Table:     "telemetry_metrics",
			Source:    source,
			Fields: map[string]any{
				"metric": metric,
				"value":  value,
				"unit":   "count",
			},
		})
	}
}

func (c *Collector) write(rec feed.Record) {
	if err := c.sink.Write(rec); err != nil {
		c.log.Warn("telemetry write failed", "table", rec.Table, "error", err)
	}
}

// Start launches the collect loop.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(ctx)
	c.log.Info("telemetry started", "interval", c.interval)
	return nil
}

// Stop halts the collect loop.
func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return errors.ErrNotRunning
	}
	c.running = false
	c.cancel()
	<-c.done
	return nil
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
