// Package provider defines the adapter contract (spec.md 4.2) and the
// process-wide registry that looks adapters up by platform tag
// (spec.md 4.3, 5 "Shared-resource policy").
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/tampadevs/communityevents/internal/canonical"
)

// Env is the subset of environment configuration an adapter may need to
// check IsConfigured / Initialize. It is a narrow interface so adapters
// never reach into the full process config (spec.md 6).
type Env interface {
	Lookup(key string) (string, bool)
}

// Adapter is implemented once per upstream platform. Adapters must not
// write to the store and must not raise on caller-supplied bad ids —
// a missing identifier is an {error} FetchResult, never a panic
// (spec.md 4.2). Adapters are stateful only with respect to a cached
// access credential held in adapter-instance memory (spec.md 5, 9);
// never share an Adapter instance's token cache across adapters.
type Adapter interface {
	// Platform is the stable tag this adapter answers for.
	Platform() canonical.Platform
	// Name is a human-readable label for logs and admin UIs.
	Name() string
	// IsConfigured reports whether the required credentials are present.
	// A false result means the adapter is skipped, not an error
	// (spec.md 7: not_configured).
	IsConfigured(env Env) bool
	// Initialize performs any auth handshake needed before fetching.
	// Must be idempotent — the registry may call it more than once if
	// the adapter signals invalidation.
	Initialize(ctx context.Context, env Env) error
	// FetchEvents retrieves canonical events (and, if available, the
	// owning group) for one upstream group/organizer identifier.
	FetchEvents(ctx context.Context, platformIdentifier string, opts canonical.FetchOptions) canonical.FetchResult
	// FetchGroup retrieves just the group/organizer metadata.
	FetchGroup(ctx context.Context, platformIdentifier string) (*canonical.Group, error)
}

// Registry is the process-wide adapter lookup. It is initialized once
// at composition-root startup by calling Register for every known
// adapter, then treated as read-only (spec.md 5, 9).
type Registry struct {
	mu       sync.RWMutex
	adapters map[canonical.Platform]Adapter
	initOnce map[canonical.Platform]*sync.Once
	initErr  map[canonical.Platform]error
}

// NewRegistry constructs an empty registry. Call Register for each
// adapter during startup before serving any traffic.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[canonical.Platform]Adapter),
		initOnce: make(map[canonical.Platform]*sync.Once),
		initErr:  make(map[canonical.Platform]error),
	}
}

// Register adds an adapter to the registry. Only legal during startup.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
	r.initOnce[a.Platform()] = &sync.Once{}
}

// GetAllAdapters returns every registered adapter regardless of
// configuration state.
func (r *Registry) GetAllAdapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// GetConfiguredAdapters returns adapters whose IsConfigured(env) is true.
func (r *Registry) GetConfiguredAdapters(env Env) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.IsConfigured(env) {
			out = append(out, a)
		}
	}
	return out
}

// GetAdapter looks up a single adapter by platform tag.
func (r *Registry) GetAdapter(platform canonical.Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// FetchEvents resolves the adapter for platform, lazily initializes it
// on first use, and delegates to its FetchEvents. Initialize runs at
// most once per adapter per process and its error is cached: a failed
// Initialize is not retried until ReinitializeOnAuthFailure resets the
// guard.
func (r *Registry) FetchEvents(ctx context.Context, platform canonical.Platform, platformIdentifier string, env Env, opts canonical.FetchOptions) canonical.FetchResult {
	a, ok := r.GetAdapter(platform)
	if !ok {
		return canonical.FetchResult{Err: fmt.Errorf("no adapter registered for platform %q", platform)}
	}
	if !a.IsConfigured(env) {
		return canonical.FetchResult{Err: fmt.Errorf("%w: platform %q", errNotConfigured, platform)}
	}

	r.mu.Lock()
	once := r.initOnce[platform]
	r.mu.Unlock()

	once.Do(func() {
		r.mu.Lock()
		r.initErr[platform] = a.Initialize(ctx, env)
		r.mu.Unlock()
	})

	r.mu.RLock()
	initErr := r.initErr[platform]
	r.mu.RUnlock()
	if initErr != nil {
		return canonical.FetchResult{Err: fmt.Errorf("initializing adapter %q: %w", platform, initErr)}
	}

	return a.FetchEvents(ctx, platformIdentifier, opts)
}

// ReinitializeOnAuthFailure clears the init-once guard so the next
// FetchEvents call re-runs Initialize. Nothing in this repository calls
// it: the sync service records an authentication failure like any other
// fetch error and leaves the guard in place.
func (r *Registry) ReinitializeOnAuthFailure(platform canonical.Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initOnce[platform] = &sync.Once{}
	delete(r.initErr, platform)
}

var errNotConfigured = fmt.Errorf("adapter not configured")
