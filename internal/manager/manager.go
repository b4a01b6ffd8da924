// Package manager owns feed lifecycle: discovery registration,
// staggered startup by priority tier, graceful stop, and restart.
// Lifecycle state lives in the registry; the manager is the only
// writer of lifecycle transitions.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/adapter"
	"github.com/ezbot/feedd/internal/discovery"
	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/registry"
)

// =============================================================================
// Manager
// =============================================================================

// Manager is safe for concurrent use.
type Manager struct {
	cfg  config.ManagerConfig
	reg  *registry.Registry
	sink feed.Sink
	log  *slog.Logger

	mu       sync.Mutex
	adapters map[string]adapter.Adapter

	// sleep is swappable so tests do not wait out real staggers.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a manager over a registry, producing into sink. Zero
// config fields fall back to the documented defaults.
func New(cfg config.ManagerConfig, reg *registry.Registry, sink feed.Sink) *Manager {
	if cfg.Stagger <= 0 {
		cfg.Stagger = config.DefaultStaggerSeconds * time.Second
	}
	if cfg.StartRetryLimit <= 0 {
		cfg.StartRetryLimit = config.DefaultStartRetryLimit
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = config.DefaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = config.DefaultStopTimeout
	}

	return &Manager{
		cfg:      cfg,
		reg:      reg,
		sink:     sink,
		log:      logging.Component("manager"),
		adapters: make(map[string]adapter.Adapter),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Registry returns the registry the manager operates on.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Adapter returns a feed's live adapter, if it has one.
func (m *Manager) Adapter(name string) (adapter.Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[name]
	return a, ok
}

// =============================================================================
// Discovery
// =============================================================================

// DiscoverResult summarizes one discovery run.
type DiscoverResult struct {
	Discovered int                `json:"discovered"`
	Registered []string           `json:"registered"`
	Errors     []errors.ItemError `json:"errors,omitempty"`
}

// Discover runs a strategy and registers what it finds. Per-feed
// problems (malformed manifest, unknown adapter, duplicate name) land
// in the result's Errors; valid feeds register regardless.
func (m *Manager) Discover(ctx context.Context, s discovery.Strategy) (*DiscoverResult, error) {
	descs, items, err := s.Discover(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDiscovery, err.Error())
	}

	res := &DiscoverResult{
		Discovered: len(descs) + len(items),
		Registered: []string{},
		Errors:     items,
	}

	for _, d := range descs {
		if !adapter.Known(d.Adapter) {
			res.Errors = append(res.Errors, errors.ItemError{
				Name:   d.Name,
				Reason: errors.Wrapf(errors.ErrUnknownAdapter, "adapter %q", d.Adapter).Error(),
			})
			continue
		}
		if err := m.reg.Register(d); err != nil {
			res.Errors = append(res.Errors, errors.ItemError{Name: d.Name, Reason: err.Error()})
			continue
		}
		res.Registered = append(res.Registered, d.Name)
	}

	m.log.Info("discovery registered feeds",
		"discovered", res.Discovered,
		"registered", len(res.Registered),
		"errors", len(res.Errors))
	return res, nil
}

// =============================================================================
// Start
// =============================================================================

// StartResult summarizes one startup run.
type StartResult struct {
	Started []string           `json:"started"`
	Failed  []errors.ItemError `json:"failed,omitempty"`
}

// StartAll starts every startable feed, tier by tier in priority
// order, pausing the stagger interval after each successful start so
// vendor endpoints never see a connection burst. A feed that exhausts
// its attempt budget is marked failed and skipped; it never blocks the
// rest of the fleet.
func (m *Manager) StartAll(ctx context.Context) (*StartResult, error) {
	res := &StartResult{Started: []string{}}

	pendingStagger := time.Duration(0)
	for _, tier := range feed.TierOrder {
		if err := m.startTier(ctx, tier, res, &pendingStagger); err != nil {
			return res, err
		}
	}

	m.log.Info("fleet start complete",
		"started", len(res.Started), "failed", len(res.Failed))
	return res, nil
}

// StartTier starts the startable feeds of one priority tier.
func (m *Manager) StartTier(ctx context.Context, tier feed.Priority) (*StartResult, error) {
	res := &StartResult{Started: []string{}}
	pendingStagger := time.Duration(0)
	err := m.startTier(ctx, tier, res, &pendingStagger)

	m.log.Info("tier start complete", "tier", tier,
		"started", len(res.Started), "failed", len(res.Failed))
	return res, err
}

// startTier walks one tier in registration order, starting each
// startable feed and carrying the pending stagger across calls so the
// pause after a tier's last success lands before the next tier's first
// start.
func (m *Manager) startTier(ctx context.Context, tier feed.Priority, res *StartResult, pendingStagger *time.Duration) error {
	for _, snap := range m.reg.Tier(tier) {
		if !m.startable(snap) {
			continue
		}
		if err := m.sleep(ctx, *pendingStagger); err != nil {
			return err
		}
		*pendingStagger = 0

		if err := m.StartFeed(ctx, snap.Name); err != nil {
			res.Failed = append(res.Failed, errors.ItemError{Name: snap.Name, Reason: err.Error()})
			continue
		}
		res.Started = append(res.Started, snap.Name)

		desc, _ := m.reg.Descriptor(snap.Name)
		*pendingStagger = m.cfg.Stagger
		if desc.Stagger > 0 {
			*pendingStagger = desc.Stagger
		}
	}
	return nil
}

// startable reports whether a fleet start should pick the feed up. A
// failed feed retries only while it has attempt budget left; an
// exhausted budget keeps it failed until an operator restart clears
// the counter.
func (m *Manager) startable(snap registry.Snapshot) bool {
	switch snap.State {
	case feed.StateRegistered, feed.StateStopped:
		return true
	case feed.StateFailed:
		return snap.StartAttempts <= m.cfg.StartRetryLimit
	}
	return false
}

// StartFeed starts one feed, retrying up to the configured attempt
// budget with each attempt bounded by the start timeout. Exhausting
// the budget marks the feed permanently failed for this session.
func (m *Manager) StartFeed(ctx context.Context, name string) error {
	desc, err := m.reg.Descriptor(name)
	if err != nil {
		return err
	}
	if state, _ := m.reg.State(name); state.Active() || state == feed.StateStarting {
		return errors.Wrapf(errors.ErrAlreadyRunning, "feed %q is %s", name, state)
	}

	a, err := adapter.Build(desc)
	if err != nil {
		return err
	}

	if err := m.reg.SetState(name, feed.StateStarting, ""); err != nil {
		return err
	}

	var lastErr error
	for {
		attempt, err := m.reg.RecordStartAttempt(name)
		if err != nil {
			return err
		}
		if attempt > m.cfg.StartRetryLimit {
			lastErr = errors.Wrapf(errors.ErrStartFailed,
				"feed %q: %d attempts exhausted: %v", name, m.cfg.StartRetryLimit, lastErr)
			m.reg.SetState(name, feed.StateFailed, lastErr.Error())
			return lastErr
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
		err = a.Start(attemptCtx, m.sinkFor(name))
		cancel()

		if err == nil {
			m.mu.Lock()
			m.adapters[name] = a
			m.mu.Unlock()
			if err := m.reg.SetState(name, feed.StateRunning, ""); err != nil {
				return err
			}
			m.log.Info("feed started", "feed", name, "attempt", attempt)
			return nil
		}

		lastErr = err
		m.log.Warn("feed start attempt failed",
			"feed", name, "attempt", attempt, "limit", m.cfg.StartRetryLimit, "error", err)

		if ctx.Err() != nil {
			m.reg.SetState(name, feed.StateFailed, ctx.Err().Error())
			return ctx.Err()
		}
	}
}

// sinkFor wraps the shared sink with per-feed bookkeeping: provenance
// stamping and registry emission counters.
func (m *Manager) sinkFor(name string) feed.Sink {
	return feed.SinkFunc(func(rec feed.Record) error {
		if rec.Source == "" {
			rec.Source = name
		}
		m.reg.RecordEmitted(name, time.Since(rec.Timestamp))
		return m.sink.Write(rec)
	})
}

// =============================================================================
// Stop / Restart
// =============================================================================

// StopResult summarizes one stop run.
type StopResult struct {
	Stopped []string           `json:"stopped"`
	Errors  []errors.ItemError `json:"errors,omitempty"`
}

// StopFeed gracefully stops one feed, bounded by the stop timeout.
// A stop error still transitions the feed to stopped: the adapter is
// abandoned rather than left half-owned.
func (m *Manager) StopFeed(ctx context.Context, name string) error {
	state, err := m.reg.State(name)
	if err != nil {
		return err
	}
	if !state.Active() {
		return errors.Wrapf(errors.ErrNotRunning, "feed %q is %s", name, state)
	}

	m.mu.Lock()
	a := m.adapters[name]
	delete(m.adapters, name)
	m.mu.Unlock()

	var stopErr error
	if a != nil {
		stopCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
		stopErr = a.Stop(stopCtx)
		cancel()
	}

	detail := ""
	if stopErr != nil {
		detail = stopErr.Error()
		m.log.Warn("feed stop error", "feed", name, "error", stopErr)
	}
	if err := m.reg.SetState(name, feed.StateStopped, detail); err != nil {
		return err
	}
	m.log.Info("feed stopped", "feed", name)
	return stopErr
}

// StopAll stops every active feed concurrently and collects every
// failure rather than aborting at the first one.
func (m *Manager) StopAll(ctx context.Context) *StopResult {
	var active []string
	for _, snap := range m.reg.List() {
		if snap.State.Active() {
			active = append(active, snap.Name)
		}
	}
	res := m.stopMany(ctx, active)
	m.log.Info("fleet stop complete",
		"stopped", len(res.Stopped), "errors", len(res.Errors))
	return res
}

// StopTier stops every active feed in one priority tier.
func (m *Manager) StopTier(ctx context.Context, tier feed.Priority) *StopResult {
	var active []string
	for _, snap := range m.reg.Tier(tier) {
		if snap.State.Active() {
			active = append(active, snap.Name)
		}
	}
	res := m.stopMany(ctx, active)
	m.log.Info("tier stop complete", "tier", tier,
		"stopped", len(res.Stopped), "errors", len(res.Errors))
	return res
}

func (m *Manager) stopMany(ctx context.Context, names []string) *StopResult {
	res := &StopResult{Stopped: []string{}}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, name := range names {
		g.Go(func() error {
			err := m.StopFeed(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, errors.ItemError{Name: name, Reason: err.Error()})
			} else {
				res.Stopped = append(res.Stopped, name)
			}
			return nil
		})
	}
	g.Wait()

	sort.Strings(res.Stopped)
	return res
}

// RestartFeed stops a feed if it is active, clears its attempt budget,
// and starts it again. This is the operator path out of the permanent
// failed state.
func (m *Manager) RestartFeed(ctx context.Context, name string) error {
	if state, err := m.reg.State(name); err != nil {
		return err
	} else if state.Active() {
		if err := m.StopFeed(ctx, name); err != nil {
			m.log.Warn("restart: stop failed, continuing", "feed", name, "error", err)
		}
	}
	if err := m.reg.ResetStartAttempts(name); err != nil {
		return err
	}
	return m.StartFeed(ctx, name)
}

// MarkDegraded moves a running feed to degraded. Called by the health
// monitor; the manager stays the only lifecycle writer.
func (m *Manager) MarkDegraded(name, reason string) error {
	state, err := m.reg.State(name)
	if err != nil {
		return err
	}
	if state != feed.StateRunning {
		return nil
	}
	return m.reg.SetState(name, feed.StateDegraded, reason)
}

// MarkRecovered moves a degraded feed back to running.
func (m *Manager) MarkRecovered(name string) error {
	state, err := m.reg.State(name)
	if err != nil {
		return err
	}
	if state != feed.StateDegraded {
		return nil
	}
	return m.reg.SetState(name, feed.StateRunning, "")
}

// MarkFailed moves an active feed to failed and releases its adapter.
// Called by the health monitor on escalation.
func (m *Manager) MarkFailed(ctx context.Context, name, reason string) error {
	state, err := m.reg.State(name)
	if err != nil {
		return err
	}
	if !state.Active() {
		return nil
	}

	m.mu.Lock()
	a := m.adapters[name]
	delete(m.adapters, name)
	m.mu.Unlock()

	if a != nil {
		stopCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
		if err := a.Stop(stopCtx); err != nil {
			m.log.Warn("failed feed stop error", "feed", name, "error", err)
		}
		cancel()
	}
	return m.reg.SetState(name, feed.StateFailed, reason)
}
