package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
)

// =============================================================================
// Polling Base
// =============================================================================

// unreachableAfter is the consecutive-error streak at which a poller
// reports itself unreachable instead of degraded.
const unreachableAfter = 3

// collectFunc performs one collect cycle: fetch from the vendor,
// normalize, write into the sink. Sink errors are not collect errors;
// the writer absorbs them.
type collectFunc func(ctx context.Context, sink feed.Sink) error

// poller runs a collect function on an interval behind a token-bucket
// rate limiter. REST adapters embed it; the first collect runs
// synchronously inside Start so a bad credential fails the start
// attempt instead of poisoning the background loop.
type poller struct {
	name     string
	interval time.Duration
	limiter  *rate.Limiter
	collect  collectFunc
	log      *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error
	errStreak int
	lastOK    time.Time
}

// newPoller builds a poller. rps bounds vendor requests per second;
// zero means no limit.
func newPoller(name string, interval time.Duration, rps float64, collect collectFunc) *poller {
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &poller{
		name:     name,
		interval: interval,
		limiter:  lim,
		collect:  collect,
		log:      logging.Feed(name),
	}
}

func (p *poller) Start(ctx context.Context, sink feed.Sink) error {
	if err := p.cycle(ctx, sink); err != nil {
		return err
	}

	// Production outlives the start attempt; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(runCtx, sink)
	return nil
}

func (p *poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
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

func (p *poller) Health(ctx context.Context) Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.errStreak >= unreachableAfter:
		return Report{State: feed.HealthUnreachable, Detail: p.lastErr.Error()}
	case p.lastErr != nil:
		return Report{State: feed.HealthDegraded, Detail: p.lastErr.Error()}
	default:
		return Report{State: feed.HealthHealthy}
	}
}

func (p *poller) run(ctx context.Context, sink feed.Sink) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.cycle(ctx, sink); err != nil && ctx.Err() == nil {
				p.log.Warn("collect cycle failed", "err", err)
			}
		}
	}
}

// cycle runs one rate-limited collect and records the outcome.
func (p *poller) cycle(ctx context.Context, sink feed.Sink) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	err := p.collect(ctx, sink)

	p.mu.Lock()
	if err != nil {
		p.lastErr = err
		p.errStreak++
	} else {
		p.lastErr = nil
		p.errStreak = 0
		p.lastOK = time.Now()
	}
	p.mu.Unlock()
	return err
}
