// Package health watches the running fleet. Each check combines an
// adapter liveness probe with a data freshness judgment; sweeps run
// every check with bounded parallelism, and a feed that stays
// unreachable past the threshold is escalated to failed with an alert.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/manager"
	"github.com/ezbot/feedd/internal/registry"
)

// =============================================================================
// Alerts
// =============================================================================

// Alert is one operator-facing escalation event.
type Alert struct {
	Feed     string    `json:"feed"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Alerter delivers alerts. Implementations must be safe for
// concurrent use.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter writes alerts to the structured log. It is the default
// when no external alerting is wired.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a Alert) {
	logging.Component("alert").Error(a.Message,
		"feed", a.Feed, "severity", a.Severity, "at", a.At)
}

// =============================================================================
// Monitor
// =============================================================================

// Report is one feed's health check outcome.
type Report struct {
	Feed      string           `json:"feed"`
	State     feed.HealthState `json:"state"`
	Detail    string           `json:"detail,omitempty"`
	Escalated bool             `json:"escalated,omitempty"`
}

// SweepResult summarizes one full-fleet sweep.
type SweepResult struct {
	Checked   int                      `json:"checked"`
	ByState   map[feed.HealthState]int `json:"by_state"`
	Escalated []string                 `json:"escalated,omitempty"`
}

// Monitor runs health checks over the active fleet.
type Monitor struct {
	cfg     config.HealthConfig
	mgr     *manager.Manager
	reg     *registry.Registry
	alerter Alerter
	log     *slog.Logger

	// now is swappable for freshness tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor over a manager's fleet. A nil alerter gets the
// log alerter. Zero config fields fall back to the documented
// defaults.
func New(cfg config.HealthConfig, mgr *manager.Manager, alerter Alerter) *Monitor {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = config.DefaultSweepInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = config.DefaultCheckTimeout
	}
	if cfg.UnreachableThreshold <= 0 {
		cfg.UnreachableThreshold = config.DefaultUnreachableThreshold
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = config.DefaultMaxConcurrentChecks
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}

	return &Monitor{
		cfg:     cfg,
		mgr:     mgr,
		reg:     mgr.Registry(),
		alerter: alerter,
		log:     logging.Component("health"),
		now:     time.Now,
	}
}

// Check probes one feed and applies the outcome: the registry health
// fields update, a stale or troubled feed degrades, a recovered feed
// returns to running, and an unreachable streak at the threshold
// escalates to failed with an alert.
func (m *Monitor) Check(ctx context.Context, name string) (Report, error) {
	state, err := m.reg.State(name)
	if err != nil {
		return Report{}, err
	}
	if !state.Active() {
		return Report{}, errors.Wrapf(errors.ErrNotRunning, "feed %q is %s", name, state)
	}

	rep := m.probe(ctx, name)
	now := m.now()

	streak, err := m.reg.UpdateHealth(name, rep.State, now)
	if err != nil {
		return Report{}, err
	}

	switch rep.State {
	case feed.HealthUnreachable:
		if streak >= m.cfg.UnreachableThreshold {
			rep.Escalated = true
			if err := m.mgr.MarkFailed(ctx, name, rep.Detail); err != nil {
				m.log.Warn("escalation failed", "feed", name, "error", err)
			}
			m.alerter.Alert(ctx, Alert{
				Feed:     name,
				Severity: "critical",
				Message:  "feed unreachable, marked failed",
				At:       now,
			})
		}
	case feed.HealthStale, feed.HealthDegraded:
		if err := m.mgr.MarkDegraded(name, rep.Detail); err != nil {
			m.log.Warn("degrade failed", "feed", name, "error", err)
		}
	case feed.HealthHealthy:
		if err := m.mgr.MarkRecovered(name); err != nil {
			m.log.Warn("recovery failed", "feed", name, "error", err)
		}
	}

	return rep, nil
}

// probe runs the adapter liveness check and folds in the freshness
// judgment. A healthy adapter with stale data is stale: the vendor
// connection being up is worthless if no records arrive.
func (m *Monitor) probe(ctx context.Context, name string) Report {
	rep := Report{Feed: name}

	a, ok := m.mgr.Adapter(name)
	if !ok {
		rep.State = feed.HealthUnreachable
		rep.Detail = "no live adapter"
		return rep
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	ar := a.Health(probeCtx)
	cancel()

	rep.State = ar.State
	rep.Detail = ar.Detail

	if rep.State == feed.HealthHealthy {
		if detail, stale := m.staleness(name); stale {
			rep.State = feed.HealthStale
			rep.Detail = detail
		}
	}
	return rep
}

// staleness judges a feed's newest data against its freshness window.
// A feed that has never emitted is judged from its start time.
func (m *Monitor) staleness(name string) (string, bool) {
	snap, err := m.reg.Get(name)
	if err != nil {
		return "", false
	}

	window := m.window(snap)
	if window <= 0 {
		return "", false
	}

	ref := snap.LastData
	if ref.IsZero() {
		ref = snap.StartedAt
	}
	if ref.IsZero() {
		return "", false
	}

	if age := m.now().Sub(ref); age > window {
		return "no data for " + age.Truncate(time.Second).String(), true
	}
	return "", false
}

// window resolves a feed's freshness window: manifest override first,
// then operator config by class, then the class default.
func (m *Monitor) window(snap registry.Snapshot) time.Duration {
	desc, err := m.reg.Descriptor(snap.Name)
	if err == nil && desc.Freshness > 0 {
		return desc.Freshness
	}
	if w, ok := m.cfg.Freshness[string(snap.Class)]; ok {
		return w
	}
	switch snap.Class {
	case feed.ClassStock:
		return config.DefaultStockFreshness
	case feed.ClassCrypto:
		return config.DefaultCryptoFreshness
	case feed.ClassOption:
		return config.DefaultOptionFreshness
	case feed.ClassAccount:
		return config.DefaultAccountFreshness
	case feed.ClassNews:
		return config.DefaultNewsFreshness
	case feed.ClassSocial:
		return config.DefaultSocialFreshness
	default:
		return 0
	}
}

// Sweep checks every active feed with bounded parallelism.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	res := SweepResult{ByState: make(map[feed.HealthState]int)}

	var active []string
	for _, snap := range m.reg.List() {
		if snap.State.Active() {
			active = append(active, snap.Name)
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.cfg.MaxConcurrentChecks)
	for _, name := range active {
		g.Go(func() error {
			rep, err := m.Check(ctx, name)
			if err != nil {
				// The feed changed state mid-sweep; skip it.
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			res.ByState[rep.State]++
			if rep.Escalated {
				res.Escalated = append(res.Escalated, name)
			}
			return nil
		})
	}
	g.Wait()

	m.log.Debug("sweep complete",
		"checked", res.Checked, "escalated", len(res.Escalated))
	return res
}

// =============================================================================
// Loop
// =============================================================================

// Start launches the periodic sweep loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(ctx)
	m.log.Info("health monitor started",
		"sweep_interval", m.cfg.SweepInterval,
		"unreachable_threshold", m.cfg.UnreachableThreshold)
	return nil
}

// Stop halts the sweep loop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return errors.ErrNotRunning
	}
	m.running = false
	m.cancel()
	<-m.done
	m.log.Info("health monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
