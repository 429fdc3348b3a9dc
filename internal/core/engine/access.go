package engine

import (
	"github.com/zeusync/islandsync/internal/core/globals"
	"github.com/zeusync/islandsync/internal/core/lifecycle"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

// StoreAccess is the host framework's read-only view of the session. Returned
// maps and slices are shared snapshots and must not be modified.
type StoreAccess struct {
	engine *Engine
}

// Props returns the props of instance id.
func (a *StoreAccess) Props(id string) (store.Fields, bool) {
	return a.engine.registry.Props().Get(id)
}

// SubscribeProps is notified after every props change of any instance.
func (a *StoreAccess) SubscribeProps(listener store.Listener) store.Unsubscribe {
	return a.engine.registry.Props().Subscribe(listener)
}

// Globals returns the current globals snapshot.
func (a *StoreAccess) Globals() (globals.Snapshot, bool) {
	return a.engine.globals.Current()
}

// GlobalsFor returns the globals an instance declared interest in.
func (a *StoreAccess) GlobalsFor(id string) store.Fields {
	var keys []string
	if inst, ok := a.engine.registry.Instance(id); ok {
		keys = inst.GlobalKeys
	}
	return a.engine.globals.Select(keys)
}

// SubscribeGlobals is notified after every accepted globals update or reset.
func (a *StoreAccess) SubscribeGlobals(listener store.Listener) store.Unsubscribe {
	return a.engine.globals.Subscribe(listener)
}

// SharedInstances returns the instances rendered under the shared root.
func (a *StoreAccess) SharedInstances() map[string]*lifecycle.Instance {
	return a.engine.registry.Shared().Snapshot()
}

// SubscribeSharedInstances is notified when pooled instances mount or unmount.
func (a *StoreAccess) SubscribeSharedInstances(listener store.Listener) store.Unsubscribe {
	return a.engine.registry.Shared().Subscribe(listener)
}

// StreamItems returns the items of one stream of instance id.
func (a *StoreAccess) StreamItems(id, stream string) []streams.Item {
	return a.engine.streams.Items(streams.Key{Instance: id, Stream: stream})
}

// SubscribeStream is notified after every mutation of one stream. cfg is
// attached if the stream has none; when cfg is nil the session's default
// limit is used. Subscribing to an instance that is neither mounted nor
// pending tracks nothing and returns a no-op.
func (a *StoreAccess) SubscribeStream(id, stream string, listener store.Listener, cfg *streams.Config) store.Unsubscribe {
	if !a.engine.registry.IsKnown(id) {
		a.engine.logger.Debug("Stream subscription for island that is not mounted",
			log.Island(id), log.String("stream", stream))
		return func() {}
	}
	if cfg == nil && a.engine.options.DefaultStreamLimit > 0 {
		cfg = &streams.Config{Limit: a.engine.options.DefaultStreamLimit}
	}
	return a.engine.streams.Subscribe(streams.Key{Instance: id, Stream: stream}, listener, cfg)
}

// RenderingEnabled reports whether pooled instances may paint.
func (a *StoreAccess) RenderingEnabled() bool {
	return a.engine.registry.RenderingEnabled()
}

// SubscribeRendering is notified when rendering is enabled or disabled.
func (a *StoreAccess) SubscribeRendering(listener store.Listener) store.Unsubscribe {
	return a.engine.registry.SubscribeRendering(listener)
}
