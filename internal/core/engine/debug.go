package engine

import (
	"sort"

	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

// IslandSnapshot describes one known instance.
type IslandSnapshot struct {
	ID        string                    `json:"id"`
	Component string                    `json:"component,omitempty"`
	Strategy  string                    `json:"strategy,omitempty"`
	Pending   bool                      `json:"pending"`
	Props     store.Fields              `json:"props,omitempty"`
	Streams   map[string][]streams.Item `json:"streams,omitempty"`
	Forms     []string                  `json:"forms,omitempty"`
}

// Snapshot is a point-in-time view of the whole session for debugging.
type Snapshot struct {
	Session          string           `json:"session"`
	RenderingEnabled bool             `json:"rendering_enabled"`
	GlobalsVersion   int64            `json:"globals_version"`
	Globals          store.Fields     `json:"globals,omitempty"`
	Islands          []IslandSnapshot `json:"islands"`
}

// Snapshot collects the state of every known island. Stores are read one
// after another, so the result is not atomic across stores.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Session:          e.id,
		RenderingEnabled: e.registry.RenderingEnabled(),
		GlobalsVersion:   e.globals.Version(),
		Islands:          []IslandSnapshot{},
	}
	if g, ok := e.globals.Current(); ok {
		s.Globals = g.Fields
	}

	ids := e.registry.Mounted()
	sort.Strings(ids)
	for _, id := range ids {
		island := IslandSnapshot{ID: id, Pending: e.registry.IsPending(id)}
		if inst, ok := e.registry.Instance(id); ok {
			island.Component = inst.ComponentName
			island.Strategy = string(inst.Strategy)
		}
		island.Props, _ = e.registry.Props().Get(id)

		for _, key := range e.streams.Keys(id) {
			if island.Streams == nil {
				island.Streams = make(map[string][]streams.Item)
			}
			island.Streams[key.Stream] = e.streams.Items(key)
		}
		island.Forms = e.formNames(id)
		s.Islands = append(s.Islands, island)
	}
	return s
}

func (e *Engine) formNames(id string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for key := range e.forms {
		if key.instance == id {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}
