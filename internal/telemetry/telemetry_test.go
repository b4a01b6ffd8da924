package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/registry"
	"github.com/ezbot/feedd/internal/schema"
)

type captureSink struct {
	mu   sync.Mutex
	recs []feed.Record
}

func (c *captureSink) Write(rec feed.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureSink) byTable(table string) []feed.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []feed.Record
	for _, r := range c.recs {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

func TestCollect(t *testing.T) {
	reg := registry.New()
	for _, name := range []string{"stocks_feed", "crypto_feed"} {
		if err := reg.Register(feed.Descriptor{
			Name:     name,
			Class:    feed.ClassStock,
			Priority: feed.PriorityHigh,
			Adapter:  "x",
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	reg.UpdateHealth("stocks_feed", feed.HealthHealthy, time.Now())
	reg.RecordEmitted("stocks_feed", 50*time.Millisecond)

	sink := &captureSink{}
	c := New(reg, sink, time.Minute)
	c.Collect()

	health := sink.byTable("health_status")
	if len(health) != 2 {
		t.Fatalf("health rows = %d, want 2", len(health))
	}
	for _, rec := range health {
		if rec.Source != "feedd_telemetry" {
			t.Errorf("source = %q", rec.Source)
		}
		// Every snapshot row must validate against its table.
		tbl, err := schema.ForRecord(&rec)
		if err != nil {
			t.Fatalf("ForRecord: %v", err)
		}
		if _, err := tbl.Validate(&rec); err != nil {
			t.Errorf("row invalid: %v", err)
		}
	}

	metrics := sink.byTable("telemetry_metrics")
	if len(metrics) != 5 {
		t.Fatalf("metric rows = %d, want 5", len(metrics))
	}
	values := map[string]float64{}
	for _, rec := range metrics {
		values[rec.Fields["metric"].(string)] = rec.Fields["value"].(float64)
		if _, err := schema.Tables["telemetry_metrics"].Validate(&rec); err != nil {
			t.Errorf("metric row invalid: %v", err)
		}
	}
	if values["feeds_total"] != 2 || values["records_total"] != 1 {
		t.Errorf("values = %v", values)
	}
}

func TestStartStopLoop(t *testing.T) {
	reg := registry.New()
	reg.Register(feed.Descriptor{
		Name: "f", Class: feed.ClassStock,
		Priority: feed.PriorityLow, Adapter: "x",
	})

	sink := &captureSink{}
	c := New(reg, sink, 10*time.Millisecond)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(sink.byTable("health_status")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(sink.byTable("health_status")) == 0 {
		t.Error("no collect cycle ran")
	}
}
