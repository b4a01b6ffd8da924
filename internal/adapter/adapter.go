// Package adapter defines the capability contract every feed adapter
// implements and the builder registry that discovery resolves adapter
// names against.
//
// One interface covers every vendor integration: start producing into
// a sink, stop, and answer a health probe. The manager owns lifecycle
// ordering; adapters only have to honor their contexts.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
)

// =============================================================================
// Capability Interface
// =============================================================================

// Report is one health probe's answer.
type Report struct {
	State  feed.HealthState `json:"state"`
	Detail string           `json:"detail,omitempty"`
}

// Adapter is the single capability contract for a feed integration.
//
// Start begins producing records into sink and returns once the feed
// is established; production continues in the background until Stop.
// Start must respect ctx: an expired context means the attempt failed.
//
// Stop halts production and releases vendor connections. It is called
// at most once after a successful Start.
//
// Health answers a liveness probe. It must be cheap and honor ctx; a
// probe that cannot complete in time counts as unreachable.
type Adapter interface {
	Start(ctx context.Context, sink feed.Sink) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Report
}

// =============================================================================
// Builder Registry
// =============================================================================

// Builder constructs an adapter from its descriptor. Builders must
// validate desc.Params and fail fast on bad manifests.
type Builder func(desc feed.Descriptor) (Adapter, error)

var (
	buildersMu sync.RWMutex
	builders   = make(map[string]Builder)
)

// RegisterBuilder makes an adapter constructor available under a name.
// Concrete adapters call this from init. A duplicate name panics: two
// adapters claiming one name is a programming error.
func RegisterBuilder(name string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if _, rebind := builders[name]; rebind {
		panic(fmt.Sprintf("adapter: builder %q registered twice", name))
	}
	builders[name] = b
}

// Build constructs the adapter a descriptor names.
func Build(desc feed.Descriptor) (Adapter, error) {
	buildersMu.RLock()
	b, ok := builders[desc.Adapter]
	buildersMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownAdapter, "adapter %q (feed %q)", desc.Adapter, desc.Name)
	}
	return b(desc)
}

// Known reports whether a builder name is registered.
func Known(name string) bool {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	_, ok := builders[name]
	return ok
}

// BuilderNames returns the registered builder names, sorted.
func BuilderNames() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
