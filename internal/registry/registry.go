// Package registry is the authoritative catalog of known feeds. It
// owns each feed's descriptor, lifecycle state, and health bookkeeping;
// the manager and the health monitor mutate entries only through it.
//
// Fleet metrics are recomputed by scanning the entries on every call,
// never cached, so they cannot drift from the entries they summarize.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
)

// =============================================================================
// Entry
// =============================================================================

// entry is the registry's mutable record for one feed. Guarded by the
// registry mutex.
type entry struct {
	desc feed.Descriptor

	// seq preserves registration order; start order within a tier
	// follows it.
	seq int

	state     feed.State
	lastError string

	health                 feed.HealthState
	lastCheck              time.Time
	lastHealthy            time.Time
	consecutiveUnreachable int

	startAttempts int
	startedAt     time.Time
	stoppedAt     time.Time

	lastData time.Time
	records  int64

	// latency tracks record event-time-to-arrival in seconds.
	latency *ddsketch.DDSketch
}

// Snapshot is a point-in-time copy of one entry, safe to hold after the
// registry moves on. JSON tags match the CLI output contract.
type Snapshot struct {
	Name     string        `json:"name"`
	Class    feed.Class    `json:"class"`
	Priority feed.Priority `json:"priority"`
	Adapter  string        `json:"adapter"`

	State     feed.State `json:"state"`
	LastError string     `json:"last_error,omitempty"`

	Health                 feed.HealthState `json:"health"`
	LastCheck              time.Time        `json:"last_check,omitzero"`
	LastHealthy            time.Time        `json:"last_healthy,omitzero"`
	ConsecutiveUnreachable int              `json:"consecutive_unreachable,omitempty"`

	StartAttempts int       `json:"start_attempts,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	StoppedAt     time.Time `json:"stopped_at,omitzero"`

	LastData time.Time `json:"last_data,omitzero"`
	Records  int64     `json:"records"`

	LatencyP50 float64 `json:"latency_p50_sec,omitempty"`
	LatencyP95 float64 `json:"latency_p95_sec,omitempty"`
	LatencyP99 float64 `json:"latency_p99_sec,omitempty"`

	seq int
}

// Metrics summarizes the fleet. Always computed fresh by scanning the
// entries.
type Metrics struct {
	Total    int                   `json:"total"`
	ByState  map[feed.State]int    `json:"by_state"`
	ByTier   map[feed.Priority]int `json:"by_tier"`
	Records  int64                 `json:"records"`
	Healthy  int                   `json:"healthy"`
	Unwell   int                   `json:"unwell"`
	Active   int                   `json:"active"`
	Failed   int                   `json:"failed"`
	Checked  int                   `json:"checked"`
}

// =============================================================================
// Registry
// =============================================================================

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a feed. The descriptor is validated; a name collision
// is a duplicate error and leaves the existing entry untouched.
func (r *Registry) Register(desc feed.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[desc.Name]; ok {
		return errors.NewDuplicate(desc.Name)
	}

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return err
	}

	r.entries[desc.Name] = &entry{
		desc:    desc,
		seq:     r.nextSeq,
		state:   feed.StateRegistered,
		health:  feed.HealthUnknown,
		latency: sketch,
	}
	r.nextSeq++

	logging.Component("registry").Debug("feed registered",
		"feed", desc.Name, "class", desc.Class, "priority", desc.Priority)
	return nil
}

// Deregister removes a feed. Only inactive feeds may be removed.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errors.NewNotFound(name)
	}
	if e.state.Active() || e.state == feed.StateStarting {
		return errors.Wrapf(errors.ErrAlreadyRunning, "feed %q is %s", name, e.state)
	}
	delete(r.entries, name)
	return nil
}

// Get returns a snapshot of one feed.
func (r *Registry) Get(name string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Snapshot{}, errors.NewNotFound(name)
	}
	return e.snapshot(), nil
}

// Descriptor returns one feed's immutable descriptor.
func (r *Registry) Descriptor(name string) (feed.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return feed.Descriptor{}, errors.NewNotFound(name)
	}
	return e.desc, nil
}

// List returns snapshots of every feed, ordered by tier then
// registration order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	sortSnapshots(out)
	return out
}

// Tier returns snapshots for one priority tier, in registration order.
func (r *Registry) Tier(p feed.Priority) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, e := range r.entries {
		if e.desc.Priority == p {
			out = append(out, e.snapshot())
		}
	}
	sortSnapshots(out)
	return out
}

// Len returns the number of registered feeds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// =============================================================================
// State Transitions
// =============================================================================

// validNext enumerates the lifecycle transitions the manager may make.
var validNext = map[feed.State][]feed.State{
	feed.StateRegistered: {feed.StateStarting},
	feed.StateStarting:   {feed.StateRunning, feed.StateFailed, feed.StateStopped},
	feed.StateRunning:    {feed.StateDegraded, feed.StateStopped, feed.StateFailed},
	feed.StateDegraded:   {feed.StateRunning, feed.StateStopped, feed.StateFailed},
	feed.StateStopped:    {feed.StateStarting},
	feed.StateFailed:     {feed.StateStarting},
}

// SetState applies a lifecycle transition. Invalid transitions are
// rejected so a buggy caller cannot corrupt lifecycle bookkeeping.
func (r *Registry) SetState(name string, next feed.State, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errors.NewNotFound(name)
	}

	allowed := false
	for _, s := range validNext[e.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(errors.ErrInvalidTransition, "feed %q: %s -> %s", name, e.state, next)
	}

	prev := e.state
	e.state = next
	e.lastError = lastError

	switch next {
	case feed.StateRunning:
		if prev == feed.StateStarting {
			e.startedAt = time.Now()
		}
	case feed.StateStopped, feed.StateFailed:
		e.stoppedAt = time.Now()
		// Health describes a live adapter; a stopped or failed feed
		// has none, and a stale Healthy would overcount the fleet.
		e.health = feed.HealthUnknown
		e.lastCheck = time.Time{}
		e.consecutiveUnreachable = 0
	}

	logging.Component("registry").Debug("state transition",
		"feed", name, "from", prev, "to", next)
	return nil
}

// State returns one feed's current lifecycle state.
func (r *Registry) State(name string) (feed.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return "", errors.NewNotFound(name)
	}
	return e.state, nil
}

// RecordStartAttempt bumps a feed's start attempt counter and returns
// the new count.
func (r *Registry) RecordStartAttempt(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return 0, errors.NewNotFound(name)
	}
	e.startAttempts++
	return e.startAttempts, nil
}

// ResetStartAttempts clears the attempt counter, used when an operator
// explicitly restarts a permanently failed feed.
func (r *Registry) ResetStartAttempts(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errors.NewNotFound(name)
	}
	e.startAttempts = 0
	return nil
}

// =============================================================================
// Health Bookkeeping
// =============================================================================

// UpdateHealth records one health check outcome and returns the
// feed's consecutive unreachable count after the update. Any outcome
// other than unreachable resets the streak.
func (r *Registry) UpdateHealth(name string, h feed.HealthState, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return 0, errors.NewNotFound(name)
	}

	e.health = h
	e.lastCheck = at
	if h == feed.HealthUnreachable {
		e.consecutiveUnreachable++
	} else {
		e.consecutiveUnreachable = 0
		if h == feed.HealthHealthy {
			e.lastHealthy = at
		}
	}
	return e.consecutiveUnreachable, nil
}

// RecordEmitted notes one record emitted by a feed. latency is the
// event-time-to-arrival delay; non-positive latencies are counted but
// not added to the sketch.
func (r *Registry) RecordEmitted(name string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.records++
	e.lastData = time.Now()
	if latency > 0 {
		// Add only fails for non-finite values, which a positive
		// duration cannot produce.
		_ = e.latency.Add(latency.Seconds())
	}
}

// LastData returns the time a feed last emitted a record.
func (r *Registry) LastData(name string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return time.Time{}, errors.NewNotFound(name)
	}
	return e.lastData, nil
}

// =============================================================================
// Metrics
// =============================================================================

// Metrics scans every entry and summarizes the fleet. The scan is the
// source of truth; nothing here is cached between calls.
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Metrics{
		ByState: make(map[feed.State]int),
		ByTier:  make(map[feed.Priority]int),
	}
	for _, e := range r.entries {
		m.Total++
		m.ByState[e.state]++
		m.ByTier[e.desc.Priority]++
		m.Records += e.records

		if e.state.Active() {
			m.Active++
		}
		if e.state == feed.StateFailed {
			m.Failed++
		}
		if !e.lastCheck.IsZero() {
			m.Checked++
			if e.health == feed.HealthHealthy {
				m.Healthy++
			} else {
				m.Unwell++
			}
		}
	}
	return m
}

// =============================================================================
// Internals
// =============================================================================

func (e *entry) snapshot() Snapshot {
	s := Snapshot{
		Name:                   e.desc.Name,
		Class:                  e.desc.Class,
		Priority:               e.desc.Priority,
		Adapter:                e.desc.Adapter,
		State:                  e.state,
		LastError:              e.lastError,
		Health:                 e.health,
		LastCheck:              e.lastCheck,
		LastHealthy:            e.lastHealthy,
		ConsecutiveUnreachable: e.consecutiveUnreachable,
		StartAttempts:          e.startAttempts,
		StartedAt:              e.startedAt,
		StoppedAt:              e.stoppedAt,
		LastData:               e.lastData,
		Records:                e.records,
		seq:                    e.seq,
	}

	if e.latency.GetCount() > 0 {
		if q, err := e.latency.GetValueAtQuantile(0.5); err == nil {
			s.LatencyP50 = q
		}
		if q, err := e.latency.GetValueAtQuantile(0.95); err == nil {
			s.LatencyP95 = q
		}
		if q, err := e.latency.GetValueAtQuantile(0.99); err == nil {
			s.LatencyP99 = q
		}
	}
	return s
}

// tierRank orders priorities critical first.
func tierRank(p feed.Priority) int {
	for i, t := range feed.TierOrder {
		if t == p {
			return i
		}
	}
	return len(feed.TierOrder)
}

func sortSnapshots(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		ri, rj := tierRank(snaps[i].Priority), tierRank(snaps[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return snaps[i].seq < snaps[j].seq
	})
}
