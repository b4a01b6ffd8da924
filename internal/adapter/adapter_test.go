package adapter

import (
	"sync"
	"testing"

	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/schema"
)

// captureSink records every written record for assertions.
type captureSink struct {
	mu   sync.Mutex
	recs []feed.Record
}

func (s *captureSink) Write(rec feed.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) records() []feed.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feed.Record, len(s.recs))
	copy(out, s.recs)
	return out
}

// byTable partitions captured records by their resolved table name.
func (s *captureSink) byTable(t *testing.T) map[string][]feed.Record {
	t.Helper()
	out := make(map[string][]feed.Record)
	for _, rec := range s.records() {
		tbl, err := schema.ForRecord(&rec)
		if err != nil {
			t.Fatalf("record for symbol %s: %v", rec.Symbol, err)
		}
		out[tbl.Name] = append(out[tbl.Name], rec)
	}
	return out
}

// checkValid asserts a record passes schema validation once stamped
// with provenance, as the manager does before the writer sees it.
func checkValid(t *testing.T, rec feed.Record) {
	t.Helper()
	rec.Source = "test_feed"
	tbl, err := schema.ForRecord(&rec)
	if err != nil {
		t.Fatalf("resolving table for %s: %v", rec.Symbol, err)
	}
	if _, err := tbl.Validate(&rec); err != nil {
		t.Fatalf("record %s does not validate against %s: %v", rec.Symbol, tbl.Name, err)
	}
}

func TestBuildUnknownAdapter(t *testing.T) {
	_, err := Build(feed.Descriptor{
		Name:     "mystery",
		Class:    feed.ClassStock,
		Priority: feed.PriorityLow,
		Adapter:  "no_such_adapter",
	})
	if err == nil {
		t.Fatal("expected error for unknown adapter name")
	}
}

func TestBuilderNamesIncludeVendorAdapters(t *testing.T) {
	want := []string{
		"alpaca_account",
		"coinbase_crypto",
		"polygon_options",
		"polygon_stocks",
		"reddit_social",
		"rss_news",
	}
	have := make(map[string]bool)
	for _, n := range BuilderNames() {
		have[n] = true
	}
	for _, n := range want {
		if !have[n] {
			t.Errorf("builder %q not registered", n)
		}
	}
	for _, n := range want {
		if !Known(n) {
			t.Errorf("Known(%q) = false", n)
		}
	}
}
