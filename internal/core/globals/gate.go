// Package globals holds the session-wide globals snapshot behind a version
// gate: a snapshot is merged only when its version is strictly newer than the
// stored one, so duplicate and reordered deliveries are absorbed silently.
package globals

import (
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/store"
)

// NoVersion is used for snapshots that carry no version.
const NoVersion int64 = -1

// Snapshot is a globals payload with its version.
type Snapshot struct {
	Fields  store.Fields
	Version int64
}

type slot struct{}

// Gate owns the globals slot of one synchronization session.
type Gate struct {
	slot    *store.Store[slot, Snapshot]
	logger  log.Log
	metrics metrics.Recorder
}

// NewGate creates an empty gate.
func NewGate(logger log.Log, recorder metrics.Recorder) *Gate {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Gate{
		slot:    store.New[slot, Snapshot](),
		logger:  logger.With(log.Component("globals")),
		metrics: recorder,
	}
}

// Update merges incoming over the current snapshot if its version is strictly
// newer and reports whether it did.
func (g *Gate) Update(incoming Snapshot) bool {
	var currentVersion int64
	accepted := g.slot.UpdateIf(slot{}, func(current Snapshot, ok bool) (Snapshot, bool) {
		currentVersion = NoVersion
		if ok {
			currentVersion = current.Version
		}
		if incoming.Version <= currentVersion {
			return current, false
		}
		return Snapshot{
			Fields:  store.MergeFields(current.Fields, incoming.Fields),
			Version: incoming.Version,
		}, true
	})

	if !accepted {
		g.metrics.GlobalsStale()
		g.logger.Debug("Discarded stale globals",
			log.Int64("incoming_version", incoming.Version),
			log.Int64("current_version", currentVersion))
	}
	return accepted
}

// Reset clears the snapshot so a new session may start its numbering again.
func (g *Gate) Reset() {
	if g.slot.Delete(slot{}) {
		g.logger.Debug("Globals reset")
	}
}

// Current returns the stored snapshot, if any.
func (g *Gate) Current() (Snapshot, bool) {
	return g.slot.Get(slot{})
}

// Version returns the stored version or NoVersion.
func (g *Gate) Version() int64 {
	s, ok := g.slot.Get(slot{})
	if !ok {
		return NoVersion
	}
	return s.Version
}

// Ready reports whether a snapshot was accepted since the last Reset.
func (g *Gate) Ready() bool {
	return g.slot.Has(slot{})
}

// Select returns the subset of the current fields named in keys. An empty key
// list selects every field.
func (g *Gate) Select(keys []string) store.Fields {
	s, ok := g.slot.Get(slot{})
	if !ok {
		return nil
	}
	if len(keys) == 0 {
		return store.MergeFields(s.Fields, nil)
	}
	out := make(store.Fields, len(keys))
	for _, k := range keys {
		if v, present := s.Fields[k]; present {
			out[k] = v
		}
	}
	return out
}

// Subscribe registers a listener fired after every accepted update or reset.
func (g *Gate) Subscribe(listener store.Listener) store.Unsubscribe {
	return g.slot.Subscribe(listener)
}
