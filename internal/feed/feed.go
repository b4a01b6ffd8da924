// Package feed defines the core domain types shared by every feedd
// component: asset classes, priority tiers, feed lifecycle states,
// descriptors, and the normalized record every adapter emits.
package feed

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Asset Class
// =============================================================================

// Class identifies which kind of data source a feed is. Each class maps
// to exactly one time-series table and one freshness window.
type Class string

const (
	ClassStock   Class = "stock"
	ClassOption  Class = "option"
	ClassCrypto  Class = "crypto"
	ClassNews    Class = "news"
	ClassSocial  Class = "social"
	ClassAccount Class = "account"
)

// Classes lists every valid asset class.
var Classes = []Class{ClassStock, ClassOption, ClassCrypto, ClassNews, ClassSocial, ClassAccount}

// ParseClass parses an asset class string.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Classes {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown asset class %q", s)
}

// =============================================================================
// Priority Tier
// =============================================================================

// Priority is a feed's startup tier. Tiers start strictly in the order
// critical, high, medium, low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// TierOrder is the fixed startup sequence.
var TierOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// ParsePriority parses a priority tier string.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TierOrder {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority tier %q", s)
}

// =============================================================================
// Lifecycle State
// =============================================================================

// State is a feed instance's lifecycle state. Transitions are owned
// exclusively by the feed manager; the health monitor touches only
// health fields.
type State string

const (
	StateRegistered State = "registered"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Active returns true for states in which the adapter is expected to be
// producing records and therefore should be health-checked.
func (s State) Active() bool {
	return s == StateRunning || s == StateDegraded
}

// HealthState is the outcome of one health check.
type HealthState string

const (
	// HealthUnknown means the feed has not been checked yet.
	HealthUnknown HealthState = "unknown"
	// HealthHealthy means the adapter responded and data is fresh.
	HealthHealthy HealthState = "healthy"
	// HealthDegraded means the adapter responded but reported trouble.
	HealthDegraded HealthState = "degraded"
	// HealthStale means the adapter responded but its newest record is
	// older than the freshness window.
	HealthStale HealthState = "stale"
	// HealthUnreachable means the check itself failed or timed out.
	HealthUnreachable HealthState = "unreachable"
)

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor is the static metadata for one feed adapter. Built at
// discovery time from a manifest; immutable after registration.
type Descriptor struct {
	// Name uniquely identifies the feed (e.g. "polygon_stocks").
	Name string

	// Class is the feed's asset class.
	Class Class

	// Priority is the feed's startup tier.
	Priority Priority

	// Stagger is the delay to apply after this feed starts before the
	// next feed in the tier begins starting. Zero means the manager's
	// configured default applies.
	Stagger time.Duration

	// Freshness is the maximum silence before the feed counts as
	// stale. Zero means the asset class default applies.
	Freshness time.Duration

	// Adapter names the entry point used to construct the adapter
	// (resolved against the builder registry at discovery time).
	Adapter string

	// Params carries adapter-specific manifest settings (endpoints,
	// symbol lists, poll intervals). Opaque to everything but the
	// adapter itself.
	Params map[string]string
}

// Validate checks that the descriptor has everything registration needs.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if _, err := ParseClass(string(d.Class)); err != nil {
		return fmt.Errorf("feed %s: %w", d.Name, err)
	}
	if _, err := ParsePriority(string(d.Priority)); err != nil {
		return fmt.Errorf("feed %s: %w", d.Name, err)
	}
	if strings.TrimSpace(d.Adapter) == "" {
		return fmt.Errorf("feed %s: descriptor has no adapter entry point", d.Name)
	}
	return nil
}

// =============================================================================
// Normalized Record
// =============================================================================

// Record is the unit of data an adapter emits: one observation,
// normalized into the shared envelope. Records are append-only; a
// correction is a new record, never a mutation.
type Record struct {
	// Timestamp is the observation time, not the arrival time.
	Timestamp time.Time

	// Symbol is the instrument the observation is about. News and
	// account records use the primary ticker or account id.
	Symbol string

	// Class routes the record to its asset-class table.
	Class Class

	// Table optionally overrides the class's default table. Adapters
	// use it for side-channel series (market status, halts, snapshots)
	// that share an asset class with their main stream. Empty means
	// the class default.
	Table string

	// Source tags provenance: the emitting feed's name.
	Source string

	// Fields holds the asset-class-specific typed columns
	// (price/volume/greeks/sentiment/...). Validated against the
	// target table schema at the writer boundary.
	Fields map[string]any
}

// Field returns a named field and whether it is present.
func (r *Record) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// =============================================================================
// Sink
// =============================================================================

// Sink accepts normalized records from adapters. The ingestion writer
// implements it; tests substitute their own.
type Sink interface {
	// Write accepts one record for persistence. Per-record errors are
	// the writer's to recover; adapters treat a non-nil return as
	// "record rejected" and move on.
	Write(rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec Record) error

// Write implements Sink.
func (f SinkFunc) Write(rec Record) error { return f(rec) }
