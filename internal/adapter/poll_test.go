package adapter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ezbot/feedd/internal/feed"
)

func TestPollerStartFailsOnFirstCollect(t *testing.T) {
	boom := errors.New("bad credentials")
	p := newPoller("p", time.Hour, 0, func(ctx context.Context, sink feed.Sink) error {
		return boom
	})
	if err := p.Start(t.Context(), &captureSink{}); !errors.Is(err, boom) {
		t.Fatalf("Start err = %v, want %v", err, boom)
	}
	// Nothing started, so Stop is a no-op.
	if err := p.Stop(t.Context()); err != nil {
		t.Fatalf("Stop after failed start: %v", err)
	}
}

func TestPollerCollectsOnInterval(t *testing.T) {
	var cycles atomic.Int64
	p := newPoller("p", 5*time.Millisecond, 0, func(ctx context.Context, sink feed.Sink) error {
		cycles.Add(1)
		return nil
	})

	if err := p.Start(t.Context(), &captureSink{}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for cycles.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles before deadline", cycles.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := p.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}

	settled := cycles.Load()
	time.Sleep(20 * time.Millisecond)
	if cycles.Load() != settled {
		t.Fatal("collect cycles continued after Stop")
	}
}

func TestPollerHealthEscalation(t *testing.T) {
	var fail atomic.Bool
	p := newPoller("p", time.Hour, 0, func(ctx context.Context, sink feed.Sink) error {
		if fail.Load() {
			return errors.New("vendor 500")
		}
		return nil
	})

	if err := p.Start(t.Context(), &captureSink{}); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())

	if rep := p.Health(t.Context()); rep.State != feed.HealthHealthy {
		t.Fatalf("after clean start: state = %s", rep.State)
	}

	// Drive cycles directly; the background ticker is an hour out.
	fail.Store(true)
	sink := &captureSink{}
	p.cycle(t.Context(), sink)
	if rep := p.Health(t.Context()); rep.State != feed.HealthDegraded {
		t.Fatalf("after 1 failure: state = %s", rep.State)
	}
	p.cycle(t.Context(), sink)
	p.cycle(t.Context(), sink)
	rep := p.Health(t.Context())
	if rep.State != feed.HealthUnreachable {
		t.Fatalf("after 3 failures: state = %s", rep.State)
	}
	if rep.Detail == "" {
		t.Fatal("unreachable report has no detail")
	}

	fail.Store(false)
	p.cycle(t.Context(), sink)
	if rep := p.Health(t.Context()); rep.State != feed.HealthHealthy {
		t.Fatalf("after recovery: state = %s", rep.State)
	}
}
