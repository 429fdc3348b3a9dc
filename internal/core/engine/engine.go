// Package engine is the island state synchronization engine of one session.
//
// An Engine owns every store of the session: the globals gate, per-instance
// props, the stream reconciler, the lifecycle registry and the form states.
// Inbound envelopes are decoded, run through the middleware chain and applied
// to exactly one store. The host framework reads through StoreAccess.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/core/form"
	"github.com/zeusync/islandsync/internal/core/globals"
	"github.com/zeusync/islandsync/internal/core/lifecycle"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/protocol"
	"github.com/zeusync/islandsync/internal/core/protocol/middlewares"
	"github.com/zeusync/islandsync/internal/core/resolver"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

// Sender delivers outbound envelopes to the server.
type Sender interface {
	Send(ctx context.Context, out protocol.Outbound) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, out protocol.Outbound) error

func (f SenderFunc) Send(ctx context.Context, out protocol.Outbound) error {
	return f(ctx, out)
}

// Options configure an Engine.
type Options struct {
	// GlobalsEnabled makes the engine request globals on the first mount and
	// hold pooled rendering until they arrive.
	GlobalsEnabled bool
	// DefaultStreamLimit applies to streams subscribed without a config.
	DefaultStreamLimit int
	// Middlewares wrap inbound envelope handling in addition to the built-in
	// logging and metrics middlewares.
	Middlewares []middlewares.Middleware
}

type formKey struct {
	instance string
	name     string
}

// Engine is one synchronization session.
type Engine struct {
	id      string
	options Options

	codec    *protocol.Codec
	globals  *globals.Gate
	streams  *streams.Reconciler
	resolver *resolver.Resolver
	registry *lifecycle.Registry
	handler  middlewares.Handler

	mu               sync.Mutex
	forms            map[formKey]*form.Form
	sender           Sender
	globalsRequested bool

	logger  log.Log
	metrics metrics.Recorder
}

// New creates an engine. roots may be nil when no standalone instances are
// mounted.
func New(
	options Options,
	codec *protocol.Codec,
	res *resolver.Resolver,
	roots lifecycle.RootFactory,
	logger log.Log,
	recorder metrics.Recorder,
) *Engine {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	id := uuid.NewString()
	logger = logger.With(log.Component("engine"), log.String("session_id", id))

	reconciler := streams.NewReconciler(logger)
	regOpts := []lifecycle.Option{lifecycle.WithMetrics(recorder)}
	if roots != nil {
		regOpts = append(regOpts, lifecycle.WithRootFactory(roots))
	}

	e := &Engine{
		id:       id,
		options:  options,
		codec:    codec,
		globals:  globals.NewGate(logger, recorder),
		streams:  reconciler,
		resolver: res,
		registry: lifecycle.NewRegistry(reconciler, res, logger, regOpts...),
		forms:    make(map[formKey]*form.Form),
		logger:   logger,
		metrics:  recorder,
	}

	chain := append([]middlewares.Middleware{
		middlewares.NewLoggingMiddleware(logger),
		middlewares.NewMetricsMiddleware(recorder, classify),
	}, options.Middlewares...)
	e.handler = middlewares.NewChain(chain...).Then(e.apply)

	e.registry.OnUnmount(e.dropForms)
	if !options.GlobalsEnabled {
		e.registry.EnableRendering()
	}
	return e
}

// ID returns the session id.
func (e *Engine) ID() string {
	return e.id
}

// Bind sets the outbound sender. Passing nil detaches it; events emitted
// while detached are logged and dropped.
func (e *Engine) Bind(sender Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = sender
}

// Registry exposes the lifecycle registry.
func (e *Engine) Registry() *lifecycle.Registry {
	return e.registry
}

// Resolver exposes the component resolver.
func (e *Engine) Resolver() *resolver.Resolver {
	return e.resolver
}

// Access returns the read-only view for the host framework.
func (e *Engine) Access() *StoreAccess {
	return &StoreAccess{engine: e}
}

// Mount mounts an island. Unless the descriptor brings its own, the
// instance's emit function sends component events to the server targeted at
// the instance. The first mount of a session requests globals.
func (e *Engine) Mount(ctx context.Context, desc lifecycle.Descriptor) error {
	if desc.Emit == nil && desc.ID != "" {
		desc.Emit = e.emitFor(desc.ID)
	}
	if err := e.registry.Mount(ctx, desc); err != nil {
		return errors.Wrapf(err, "mount %q", desc.ID)
	}
	e.requestGlobals(ctx)
	return nil
}

// Unmount tears down an island and its forms.
func (e *Engine) Unmount(id string) {
	e.registry.Unmount(id)
}

// UpdateProps merges a props patch into an instance.
func (e *Engine) UpdateProps(id string, patch store.Fields) {
	e.registry.UpdateProps(id, patch)
}

// UpdateGlobals offers a snapshot to the version gate and reports whether it
// was accepted. Rendering is enabled once any snapshot is stored.
func (e *Engine) UpdateGlobals(snapshot globals.Snapshot) bool {
	accepted := e.globals.Update(snapshot)
	if accepted {
		e.registry.EnableRendering()
	}
	return accepted
}

// ResetSession forgets the globals of the previous connection. When globals
// are enabled, pooled rendering waits for the new snapshot, which is
// requested right away if islands are already mounted.
func (e *Engine) ResetSession(ctx context.Context) {
	e.globals.Reset()

	e.mu.Lock()
	e.globalsRequested = false
	e.mu.Unlock()

	if !e.options.GlobalsEnabled {
		return
	}
	e.registry.DisableRendering()
	if len(e.registry.Mounted()) > 0 {
		e.requestGlobals(ctx)
	}
	e.logger.Debug("Session reset")
}

// Form returns the form name of instance id, creating it from opts on first
// use. Its events are sent to the server targeted at the instance.
func (e *Engine) Form(id, name string, opts form.Options) *form.Form {
	key := formKey{instance: id, name: name}

	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.forms[key]; ok {
		return f
	}

	opts.Name = name
	opts.Emit = func(event string, payload form.Payload) {
		e.send(context.Background(), protocol.Outbound{Event: event, Target: id, Payload: payload})
	}
	if opts.Logger == nil {
		opts.Logger = e.logger.With(log.Island(id))
	}
	if opts.Metrics == nil {
		opts.Metrics = e.metrics
	}
	f := form.New(opts)
	e.forms[key] = f
	return f
}

// LookupForm returns an existing form.
func (e *Engine) LookupForm(id, name string) (*form.Form, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.forms[formKey{instance: id, name: name}]
	return f, ok
}

// Emit sends a component event for instance id.
func (e *Engine) Emit(id, event string, payload any) {
	e.emitFor(id)(event, payload)
}

func (e *Engine) emitFor(id string) lifecycle.EmitFunc {
	return func(event string, payload any) {
		e.send(context.Background(), protocol.Outbound{Event: event, Target: id, Payload: payload})
	}
}

func (e *Engine) requestGlobals(ctx context.Context) {
	if !e.options.GlobalsEnabled {
		return
	}

	e.mu.Lock()
	if e.globalsRequested {
		e.mu.Unlock()
		return
	}
	e.globalsRequested = true
	e.mu.Unlock()

	if !e.send(ctx, protocol.Outbound{Event: protocol.EventGetGlobals}) {
		// try again on the next mount or reconnect
		e.mu.Lock()
		e.globalsRequested = false
		e.mu.Unlock()
	}
}

func (e *Engine) send(ctx context.Context, out protocol.Outbound) bool {
	e.mu.Lock()
	sender := e.sender
	e.mu.Unlock()

	logger := e.logger.With(log.String("event", out.Event))
	if out.Target != "" {
		logger = logger.With(log.Island(out.Target))
	}
	if sender == nil {
		logger.Debug("No transport bound, outbound event dropped")
		return false
	}
	if err := sender.Send(ctx, out); err != nil {
		logger.Warn("Failed to send event", log.Error(err))
		return false
	}
	return true
}

func (e *Engine) dropForms(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.forms {
		if key.instance == id {
			delete(e.forms, key)
		}
	}
}
