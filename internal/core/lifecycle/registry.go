// Package lifecycle tracks every mounted island and owns its teardown.
//
// Mounting registers props and stream seeds synchronously, then resolves the
// component (possibly asynchronously). A mount whose id was unmounted while
// resolution was pending is abandoned when resolution completes. Pooled
// instances are published through an observable store so the shared renderer
// reacts to mounts without polling; standalone instances get their own root.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/resolver"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

type entry struct {
	instance *Instance
	root     Root
	// set once the mount has been recorded in metrics
	counted bool
}

type renderingSlot struct{}

// UnmountHook runs after an instance's props and streams are removed.
type UnmountHook func(id string)

// Registry is the lifecycle registry of one session. Store listeners are
// invoked outside the registry lock.
type Registry struct {
	mu      sync.Mutex
	mounted map[string]*entry
	pending map[string]uint64
	gen     uint64
	hooks   []UnmountHook

	props     *store.Store[string, store.Fields]
	shared    *store.Store[string, *Instance]
	rendering *store.Store[renderingSlot, bool]
	streams   *streams.Reconciler
	resolver  *resolver.Resolver
	roots     RootFactory

	logger  log.Log
	metrics metrics.Recorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithRootFactory sets the factory used for standalone instances.
func WithRootFactory(f RootFactory) Option {
	return func(r *Registry) {
		r.roots = f
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry creates a registry over the given stream reconciler and
// component resolver.
func NewRegistry(reconciler *streams.Reconciler, res *resolver.Resolver, logger log.Log, opts ...Option) *Registry {
	r := &Registry{
		mounted:   make(map[string]*entry),
		pending:   make(map[string]uint64),
		props:     store.New[string, store.Fields](),
		shared:    store.New[string, *Instance](),
		rendering: store.New[renderingSlot, bool](),
		streams:   reconciler,
		resolver:  res,
		logger:    logger.With(log.Component("lifecycle")),
		metrics:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnUnmount registers a hook run for every unmount, including unmounts of
// pending or unknown ids.
func (r *Registry) OnUnmount(hook UnmountHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Mount starts mounting desc. Props and stream seeds are visible when Mount
// returns; the instance itself appears once its component is resolved.
// Mounting an id that is already mounted replaces the old instance.
func (r *Registry) Mount(ctx context.Context, desc Descriptor) error {
	if desc.ID == "" {
		return ErrMissingID
	}
	if desc.ComponentName == "" {
		return ErrMissingName
	}
	if desc.Strategy == "" {
		desc.Strategy = StrategyPooled
	}
	if desc.Strategy == StrategyStandalone && r.roots == nil {
		return ErrNoRootFactory
	}

	r.mu.Lock()
	_, isMounted := r.mounted[desc.ID]
	_, isPending := r.pending[desc.ID]
	r.mu.Unlock()
	if isMounted || isPending {
		r.logger.Warn("Remounting island", log.Island(desc.ID))
		r.Unmount(desc.ID)
	}

	// Patches that arrived before the mount are newer than the initial props.
	r.props.Update(desc.ID, func(early store.Fields, _ bool) store.Fields {
		return store.MergeFields(desc.InitialProps, early)
	})
	for name, items := range desc.Streams {
		r.streams.Initialize(streams.Key{Instance: desc.ID, Stream: name}, items)
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.pending[desc.ID] = gen
	r.mu.Unlock()

	r.resolver.Resolve(ctx, desc.ComponentName, func(res resolver.Resolved, err error) {
		r.complete(desc, gen, res, err)
	})
	return nil
}

func (r *Registry) complete(desc Descriptor, gen uint64, res resolver.Resolved, err error) {
	logger := r.logger.With(log.Island(desc.ID), log.String("component_name", desc.ComponentName))

	r.mu.Lock()
	if r.pending[desc.ID] != gen {
		r.mu.Unlock()
		logger.Debug("Abandoned mount after unmount")
		return
	}
	delete(r.pending, desc.ID)

	if err != nil {
		r.mu.Unlock()
		logger.Error("Failed to resolve island component", log.Error(err))
		r.metrics.ResolutionFailed(desc.ComponentName)
		showPlaceholder(desc.MountPoint, fmt.Sprintf("Error: island component '%s' could not be loaded", desc.ComponentName))
		return
	}

	instance := &Instance{
		ID:              desc.ID,
		Strategy:        desc.Strategy,
		Overwrite:       desc.Overwrite,
		ComponentName:   desc.ComponentName,
		Component:       res.Component,
		ContextProvider: res.ContextProvider,
		GlobalKeys:      append([]string(nil), desc.GlobalKeys...),
		MountPoint:      desc.MountPoint,
		Emit:            desc.Emit,
	}
	r.mounted[desc.ID] = &entry{instance: instance}
	r.mu.Unlock()

	switch instance.Strategy {
	case StrategyStandalone:
		root, err := r.roots.CreateRoot(instance, desc.Hydration)
		if err != nil {
			r.forget(desc.ID, instance)
			logger.Error("Failed to create island root", log.Error(err))
			showPlaceholder(desc.MountPoint, fmt.Sprintf("Error: island '%s' could not be rendered", desc.ID))
			return
		}
		r.mu.Lock()
		e, ok := r.mounted[desc.ID]
		if !ok || e.instance != instance {
			r.mu.Unlock()
			root.Unmount()
			logger.Debug("Discarded root of island unmounted during creation")
			return
		}
		e.root = root
		e.counted = true
		r.mu.Unlock()

	default:
		r.shared.Set(desc.ID, instance)
		if !r.markCounted(desc.ID, instance) {
			r.removeShared(desc.ID, instance)
			return
		}
	}

	r.metrics.Mounted(string(instance.Strategy))
	logger.Debug("Island mounted", log.String("strategy", string(instance.Strategy)))
}

// Unmount tears down id. Unknown or already unmounted ids are a no-op apart
// from clearing any props or streams retained for them.
func (r *Registry) Unmount(id string) {
	r.mu.Lock()
	_, wasPending := r.pending[id]
	delete(r.pending, id)
	e := r.mounted[id]
	counted := e != nil && e.counted
	delete(r.mounted, id)
	hooks := append([]UnmountHook(nil), r.hooks...)
	r.mu.Unlock()

	r.props.Delete(id)
	r.streams.DropInstance(id)
	for _, hook := range hooks {
		hook(id)
	}

	if wasPending {
		r.logger.Debug("Unmounted island before its component resolved", log.Island(id))
	}
	if e == nil {
		return
	}

	if e.root != nil {
		e.root.Unmount()
	}
	if e.instance.Strategy == StrategyPooled {
		r.removeShared(id, e.instance)
	}
	if counted {
		r.metrics.Unmounted(string(e.instance.Strategy))
	}
	r.logger.Debug("Island unmounted", log.Island(id))
}

// UpdateProps shallow-merges patch into the props of id. The patch is kept
// even if id is not mounted yet.
func (r *Registry) UpdateProps(id string, patch store.Fields) {
	if !r.IsKnown(id) {
		r.logger.Debug("Props patch for island that is not mounted", log.Island(id))
	}
	store.MergeInto(r.props, id, patch)
}

// EnableRendering lets pooled renderers paint. It only notifies the first time.
func (r *Registry) EnableRendering() {
	r.rendering.UpdateIf(renderingSlot{}, func(enabled bool, _ bool) (bool, bool) {
		return true, !enabled
	})
}

// DisableRendering reverts EnableRendering, used when a new session starts
// and globals must be fetched again.
func (r *Registry) DisableRendering() {
	r.rendering.UpdateIf(renderingSlot{}, func(enabled bool, _ bool) (bool, bool) {
		return false, enabled
	})
}

// RenderingEnabled reports whether pooled renderers may paint.
func (r *Registry) RenderingEnabled() bool {
	enabled, _ := r.rendering.Get(renderingSlot{})
	return enabled
}

// SubscribeRendering observes EnableRendering and DisableRendering.
func (r *Registry) SubscribeRendering(listener store.Listener) store.Unsubscribe {
	return r.rendering.Subscribe(listener)
}

// Instance returns the mounted instance for id.
func (r *Registry) Instance(id string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.mounted[id]
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// IsPending reports whether id is waiting for its component.
func (r *Registry) IsPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// IsKnown reports whether id is mounted or pending.
func (r *Registry) IsKnown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, mounted := r.mounted[id]
	_, pending := r.pending[id]
	return mounted || pending
}

// Mounted lists the ids of mounted and pending instances.
func (r *Registry) Mounted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.mounted)+len(r.pending))
	for id := range r.mounted {
		ids = append(ids, id)
	}
	for id := range r.pending {
		if _, ok := r.mounted[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Props is the per-instance props store.
func (r *Registry) Props() *store.Store[string, store.Fields] {
	return r.props
}

// Shared is the observable set of pooled instances.
func (r *Registry) Shared() *store.Store[string, *Instance] {
	return r.shared
}

// markCounted flags the entry of instance as recorded in metrics. It reports
// false if instance is no longer the mounted one.
func (r *Registry) markCounted(id string, instance *Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.mounted[id]
	if !ok || e.instance != instance {
		return false
	}
	e.counted = true
	return true
}

func (r *Registry) forget(id string, instance *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.mounted[id]; ok && e.instance == instance {
		delete(r.mounted, id)
	}
}

func (r *Registry) removeShared(id string, instance *Instance) {
	r.shared.DeleteFunc(func(k string, v *Instance) bool {
		return k == id && v == instance
	})
}

func showPlaceholder(mp MountPoint, message string) {
	if mp != nil {
		mp.ShowPlaceholder(message)
	}
}
