// Package resolver turns component names into renderable components.
//
// Registrations come in three shapes (a bare component, a component with its
// own context provider, or a lazy loader) and are normalised into a single
// Resolved value. Direct shapes are normalised at registration time; lazy
// ones on first use, after which the result is cached by name.
package resolver

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/zeusync/islandsync/internal/core/observability/log"
)

// Component is the host framework's component reference. The engine never
// inspects it.
type Component any

// ContextProvider wraps a component tree with host-framework context.
type ContextProvider any

// Loader resolves a lazy registration. It must return a Direct or
// WithProvider entry.
type Loader func(ctx context.Context) (Entry, error)

type kind uint8

const (
	kindDirect kind = iota + 1
	kindProvider
	kindLazy
)

// Entry is one registration.
type Entry struct {
	kind      kind
	component Component
	provider  ContextProvider
	loader    Loader
}

// Direct registers a component that uses the default context provider.
func Direct(component Component) Entry {
	return Entry{kind: kindDirect, component: component}
}

// WithProvider registers a component with its own context provider.
func WithProvider(component Component, provider ContextProvider) Entry {
	return Entry{kind: kindProvider, component: component, provider: provider}
}

// Lazy registers a component whose code is loaded on first use.
func Lazy(loader Loader) Entry {
	return Entry{kind: kindLazy, loader: loader}
}

// Resolved is the uniform shape every registration ends up as.
type Resolved struct {
	Name            string
	Component       Component
	ContextProvider ContextProvider
}

// Done receives the outcome of an asynchronous resolution.
type Done func(Resolved, error)

type lazyEntry struct {
	loader Loader
	gen    uint64
}

// Resolver resolves and caches components for one session.
type Resolver struct {
	mu              sync.RWMutex
	lazy            map[string]lazyEntry
	gen             uint64
	cache           map[string]Resolved
	defaultProvider ContextProvider
	group           singleflight.Group
	loads           map[string]int
	logger          log.Log
}

// New creates a resolver. defaultProvider is used for registrations that do
// not bring their own and may be nil.
func New(defaultProvider ContextProvider, logger log.Log) *Resolver {
	return &Resolver{
		lazy:            make(map[string]lazyEntry),
		cache:           make(map[string]Resolved),
		defaultProvider: defaultProvider,
		loads:           make(map[string]int),
		logger:          logger.With(log.Component("resolver")),
	}
}

// Register adds or replaces the registration for name.
func (r *Resolver) Register(name string, entry Entry) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.lazy, name)
	delete(r.cache, name)

	switch entry.kind {
	case kindDirect, kindProvider:
		resolved, err := r.normalise(name, entry)
		if err != nil {
			return err
		}
		r.cache[name] = resolved
	case kindLazy:
		if entry.loader == nil {
			return errors.Wrapf(ErrInvalidEntry, "component %q: nil loader", name)
		}
		r.gen++
		r.lazy[name] = lazyEntry{loader: entry.loader, gen: r.gen}
	default:
		return errors.Wrapf(ErrInvalidEntry, "component %q", name)
	}
	return nil
}

// Registered reports whether name has any registration.
func (r *Resolver) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, cached := r.cache[name]
	_, lazy := r.lazy[name]
	return cached || lazy
}

// Cached returns the resolved component if it is already available.
func (r *Resolver) Cached(name string) (Resolved, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.cache[name]
	return res, ok
}

// Resolve delivers the component for name to done. Cached components are
// delivered before Resolve returns; lazy ones from a separate goroutine, with
// concurrent requests for one name sharing a single load.
func (r *Resolver) Resolve(ctx context.Context, name string, done Done) {
	if res, ok := r.Cached(name); ok {
		done(res, nil)
		return
	}
	if !r.Registered(name) {
		done(Resolved{}, errors.Wrapf(ErrComponentNotFound, "component %q", name))
		return
	}

	go func() {
		res, err := r.ResolveSync(ctx, name)
		done(res, err)
	}()
}

// ResolveSync resolves name, blocking on a lazy load if needed.
func (r *Resolver) ResolveSync(ctx context.Context, name string) (Resolved, error) {
	if res, ok := r.Cached(name); ok {
		return res, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		registration, ok := r.lazy[name]
		r.mu.RUnlock()
		if !ok {
			if res, cached := r.Cached(name); cached {
				return res, nil
			}
			return Resolved{}, errors.Wrapf(ErrComponentNotFound, "component %q", name)
		}

		r.logger.Debug("Loading component", log.String("component_name", name))
		entry, err := registration.loader(ctx)
		if err != nil {
			return Resolved{}, errors.Wrapf(err, "load component %q", name)
		}
		if entry.kind == kindLazy {
			return Resolved{}, errors.Wrapf(ErrInvalidEntry, "component %q: loader returned a lazy entry", name)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		resolved, err := r.normalise(name, entry)
		if err != nil {
			return Resolved{}, err
		}
		r.loads[name]++
		// a Register during the load wins over the loaded result
		if current, still := r.lazy[name]; still && current.gen == registration.gen {
			delete(r.lazy, name)
			r.cache[name] = resolved
		}
		return resolved, nil
	})
	if err != nil {
		return Resolved{}, err
	}
	return v.(Resolved), nil
}

// Loads returns how many times the lazy loader for name has completed.
func (r *Resolver) Loads(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[name]
}

func (r *Resolver) normalise(name string, entry Entry) (Resolved, error) {
	if entry.component == nil {
		return Resolved{}, errors.Wrapf(ErrInvalidEntry, "component %q: nil component", name)
	}
	provider := entry.provider
	if entry.kind == kindDirect || provider == nil {
		provider = r.defaultProvider
	}
	return Resolved{Name: name, Component: entry.component, ContextProvider: provider}, nil
}
