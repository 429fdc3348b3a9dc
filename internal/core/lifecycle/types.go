package lifecycle

import (
	"github.com/zeusync/islandsync/internal/core/resolver"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

// Strategy selects how an instance is rendered.
type Strategy string

const (
	// StrategyPooled renders the instance under the shared root, placed into
	// its mount point.
	StrategyPooled Strategy = "pooled"
	// StrategyStandalone gives the instance its own root hydrated from the
	// server-rendered markup.
	StrategyStandalone Strategy = "standalone-hydrate"
)

// ParseStrategy maps the markup attribute to a strategy. "overwrite" is
// pooled, but the server markup must be cleared before the first paint.
func ParseStrategy(attr string) (strategy Strategy, overwrite bool) {
	switch attr {
	case "hydrate_root", string(StrategyStandalone):
		return StrategyStandalone, false
	case "overwrite":
		return StrategyPooled, true
	default:
		return StrategyPooled, false
	}
}

// EmitFunc sends a client event for one instance back to the server.
type EmitFunc func(event string, payload any)

// MountPoint is the host's handle on the element an island renders into.
type MountPoint interface {
	// ShowPlaceholder replaces the content with a visible error message.
	ShowPlaceholder(message string)
}

// Hydration is the state the server rendered the island with.
type Hydration struct {
	Props          store.Fields
	Globals        store.Fields
	GlobalsVersion int64
}

// PreferLive reports whether the live globals at liveVersion should replace
// the hydration payload. Before that the payload is only an initial paint.
func (h *Hydration) PreferLive(liveVersion int64) bool {
	if h == nil {
		return true
	}
	return liveVersion >= h.GlobalsVersion
}

// Descriptor is everything the markup layer knows about a mount point.
type Descriptor struct {
	ID            string
	MountPoint    MountPoint
	ComponentName string
	Strategy      Strategy
	Overwrite     bool
	InitialProps  store.Fields
	Hydration     *Hydration
	GlobalKeys    []string
	Streams       map[string][]streams.Item
	Emit          EmitFunc
}

// Instance is a mounted island.
type Instance struct {
	ID              string
	Strategy        Strategy
	Overwrite       bool
	ComponentName   string
	Component       resolver.Component
	ContextProvider resolver.ContextProvider
	GlobalKeys      []string
	MountPoint      MountPoint
	Emit            EmitFunc
}

// Root is a dedicated rendering root created for a standalone instance.
type Root interface {
	Unmount()
}

// RootFactory is implemented by the host framework.
type RootFactory interface {
	CreateRoot(instance *Instance, hydration *Hydration) (Root, error)
}

// RootFactoryFunc adapts a function to RootFactory.
type RootFactoryFunc func(instance *Instance, hydration *Hydration) (Root, error)

func (f RootFactoryFunc) CreateRoot(instance *Instance, hydration *Hydration) (Root, error) {
	return f(instance, hydration)
}
