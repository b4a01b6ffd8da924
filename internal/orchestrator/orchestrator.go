// Package orchestrator sequences daemon startup and shutdown. Startup
// is a strict phase ladder: store prerequisites, schema, ingestion,
// discovery, staggered fleet start, then a bounded monitoring window
// that decides whether the session is ready or degraded. Only a
// prerequisite failure is fatal; everything after that point degrades
// instead of aborting.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/discovery"
	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/health"
	"github.com/ezbot/feedd/internal/logging"
	"github.com/ezbot/feedd/internal/manager"
	"github.com/ezbot/feedd/internal/store"
	"github.com/ezbot/feedd/internal/writer"
)

// =============================================================================
// Phases
// =============================================================================

// Phase is one startup stage.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhasePrerequisites Phase = "prerequisites"
	PhaseSchema        Phase = "schema"
	PhaseIngestion     Phase = "ingestion"
	PhaseDiscovery     Phase = "discovery"
	PhaseStarting      Phase = "starting"
	PhaseMonitoring    Phase = "monitoring"
	PhaseReady         Phase = "ready"
	PhaseDegraded      Phase = "degraded"
	PhaseStopped       Phase = "stopped"
	PhaseFailed        Phase = "failed"
)

// Status is the orchestrator's session outcome.
type Status struct {
	Phase      Phase                   `json:"phase"`
	Discovered *manager.DiscoverResult `json:"discovered,omitempty"`
	Started    *manager.StartResult    `json:"started,omitempty"`
	NotRunning []string                `json:"not_running,omitempty"`
	Err        string                  `json:"error,omitempty"`
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives one daemon session.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	shutdown config.ShutdownConfig
	st       store.Store
	mgr      *manager.Manager
	mon      *health.Monitor
	wr       *writer.Writer
	strategy discovery.Strategy
	log      *slog.Logger

	// sleep is swappable so tests do not wait out monitoring polls.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	phase Phase
}

// New wires an orchestrator. Zero config fields fall back to the
// documented defaults.
func New(
	cfg config.OrchestratorConfig,
	shutdown config.ShutdownConfig,
	st store.Store,
	mgr *manager.Manager,
	mon *health.Monitor,
	wr *writer.Writer,
	strategy discovery.Strategy,
) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultMonitorPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = config.DefaultMonitorPollAttempts
	}
	if cfg.PrerequisiteTimeout <= 0 {
		cfg.PrerequisiteTimeout = config.DefaultPrerequisiteTimeout
	}
	if shutdown.DrainTimeout <= 0 {
		shutdown.DrainTimeout = config.DefaultDrainTimeout
	}

	return &Orchestrator{
		cfg:      cfg,
		shutdown: shutdown,
		st:       st,
		mgr:      mgr,
		mon:      mon,
		wr:       wr,
		strategy: strategy,
		log:      logging.Component("orchestrator"),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		phase: PhaseInit,
	}
}

// Phase returns the current startup phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.log.Info("phase", "phase", p)
}

// Up runs the startup ladder and leaves the daemon serving. The
// returned status names the terminal startup phase; an error is
// returned only for the fatal prerequisite case.
func (o *Orchestrator) Up(ctx context.Context) (*Status, error) {
	st := &Status{}

	// Prerequisites: the store must answer before anything else
	// happens. This is the only fatal stage.
	o.setPhase(PhasePrerequisites)
	pingCtx, cancel := context.WithTimeout(ctx, o.cfg.PrerequisiteTimeout)
	err := o.st.Ping(pingCtx)
	cancel()
	if err != nil {
		o.setPhase(PhaseFailed)
		st.Phase = PhaseFailed
		st.Err = err.Error()
		return st, errors.Wrap(errors.ErrPrerequisite, err.Error())
	}

	o.setPhase(PhaseSchema)
	if err := o.st.EnsureSchema(ctx); err != nil {
		o.setPhase(PhaseFailed)
		st.Phase = PhaseFailed
		st.Err = err.Error()
		return st, errors.Wrap(errors.ErrPrerequisite, err.Error())
	}

	// Ingestion must be accepting before any adapter starts, or early
	// records would have nowhere to go.
	o.setPhase(PhaseIngestion)
	if err := o.wr.Start(ctx); err != nil && !errors.Is(err, errors.ErrAlreadyRunning) {
		o.setPhase(PhaseFailed)
		st.Phase = PhaseFailed
		st.Err = err.Error()
		return st, err
	}

	o.setPhase(PhaseDiscovery)
	disc, err := o.mgr.Discover(ctx, o.strategy)
	if err != nil {
		// An unreadable discovery source leaves an empty but serving
		// daemon: degraded, not dead.
		o.log.Error("discovery failed", "error", err)
		st.Err = err.Error()
		o.finish(st, PhaseDegraded)
		return st, nil
	}
	st.Discovered = disc

	o.setPhase(PhaseStarting)
	started, err := o.mgr.StartAll(ctx)
	st.Started = started
	if err != nil {
		st.Err = err.Error()
		o.finish(st, PhaseDegraded)
		return st, nil
	}

	o.setPhase(PhaseMonitoring)
	if err := o.mon.Start(ctx); err != nil && !errors.Is(err, errors.ErrAlreadyRunning) {
		o.log.Warn("health monitor start", "error", err)
	}
	notRunning := o.awaitFleet(ctx)
	st.NotRunning = notRunning

	if len(notRunning) == 0 {
		o.finish(st, PhaseReady)
	} else {
		o.log.Warn("fleet incomplete after monitoring window", "not_running", notRunning)
		o.finish(st, PhaseDegraded)
	}
	return st, nil
}

func (o *Orchestrator) finish(st *Status, p Phase) {
	o.setPhase(p)
	st.Phase = p
}

// awaitFleet polls until every registered feed is running or the
// attempt budget runs out, and returns the names still not running.
func (o *Orchestrator) awaitFleet(ctx context.Context) []string {
	var notRunning []string
	for attempt := 0; attempt < o.cfg.PollAttempts; attempt++ {
		notRunning = notRunning[:0]
		for _, snap := range o.mgr.Registry().List() {
			if snap.State != feed.StateRunning {
				notRunning = append(notRunning, snap.Name)
			}
		}
		if len(notRunning) == 0 {
			return nil
		}
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			break
		}
	}
	return append([]string(nil), notRunning...)
}

// Down shuts the session down in reverse order: monitor, fleet, then
// the writer drain, bounded by the drain timeout.
func (o *Orchestrator) Down(ctx context.Context) error {
	o.log.Info("shutting down")

	if err := o.mon.Stop(); err != nil && !errors.Is(err, errors.ErrNotRunning) {
		o.log.Warn("monitor stop", "error", err)
	}

	stopRes := o.mgr.StopAll(ctx)
	if len(stopRes.Errors) > 0 {
		o.log.Warn("fleet stop errors", "errors", len(stopRes.Errors))
	}

	drainCtx, cancel := context.WithTimeout(ctx, o.shutdown.DrainTimeout)
	defer cancel()
	var firstErr error
	if err := o.wr.Stop(drainCtx); err != nil && !errors.Is(err, errors.ErrNotRunning) {
		firstErr = err
		o.log.Warn("writer drain", "error", err)
	}

	o.setPhase(PhaseStopped)
	return firstErr
}
