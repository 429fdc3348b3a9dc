// Package streams reconciles server-streamed collections per island.
//
// Each (instance, stream) pair owns an ordered list of items carrying a stable
// "id" field. Inserts prepend, updates merge in place, deletes remove, reset
// clears. After every mutation except reset the stream's cap function, or else
// its numeric limit, trims the list. Mutations notify only the subscribers of
// the stream they touched.
package streams

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/store"
)

// IDField is the item field used to match updates and deletes.
const IDField = "id"

// Item is one element of a stream.
type Item = store.Fields

// Action is a stream mutation kind.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionReset  Action = "reset"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete, ActionReset:
		return true
	}
	return false
}

// CapFunc receives the full list after a mutation and returns the list to keep.
type CapFunc func(items []Item) []Item

// Config controls trimming. Cap wins over Limit; a zero Limit means unbounded.
type Config struct {
	Limit int
	Cap   CapFunc
}

func (c *Config) empty() bool {
	return c == nil || (c.Cap == nil && c.Limit <= 0)
}

// Key addresses one stream.
type Key struct {
	Instance string
	Stream   string
}

func (k Key) String() string {
	return k.Instance + "/" + k.Stream
}

func (k Key) hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.Instance)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.Stream)
	return d.Sum64()
}

// Patch is one inbound stream mutation.
type Patch struct {
	Action Action
	Item   Item
	ItemID any
}

type slot struct{}

type stream struct {
	key         Key
	items       *store.Store[slot, []Item]
	config      *Config
	initialized bool
	mutated     bool
}

// Reconciler owns every stream of a session.
type Reconciler struct {
	mu      sync.Mutex
	streams map[uint64][]*stream
	logger  log.Log
}

// NewReconciler creates an empty reconciler.
func NewReconciler(logger log.Log) *Reconciler {
	return &Reconciler{
		streams: make(map[uint64][]*stream),
		logger:  logger.With(log.Component("streams")),
	}
}

// Initialize seeds a stream. It only takes effect while the stream has been
// neither initialized nor mutated, so a repeated initialization is a no-op.
func (r *Reconciler) Initialize(key Key, items []Item) bool {
	r.mu.Lock()
	s := r.getOrCreateLocked(key)
	if s.initialized || s.mutated {
		r.mu.Unlock()
		return false
	}
	s.initialized = true
	cfg := s.config
	r.mu.Unlock()

	list := make([]Item, len(items))
	copy(list, items)
	s.items.Set(slot{}, trim(list, cfg))
	return true
}

// Apply runs one mutation against the stream under key.
func (r *Reconciler) Apply(key Key, patch Patch) error {
	if !patch.Action.Valid() {
		return errors.Wrapf(ErrUnknownAction, "action %q", patch.Action)
	}
	if patch.Action == ActionInsert || patch.Action == ActionUpdate {
		if _, ok := patch.Item[IDField]; !ok {
			return ErrMissingItemID
		}
	}

	r.mu.Lock()
	s := r.getOrCreateLocked(key)
	s.mutated = true
	cfg := s.config
	r.mu.Unlock()

	s.items.Update(slot{}, func(current []Item, _ bool) []Item {
		next, found := reconcile(current, patch)
		if !found {
			r.logger.Debug("Stream item not present",
				log.String("stream", key.String()),
				log.String("action", string(patch.Action)),
				log.Any("item_id", itemID(patch)))
		}
		if patch.Action == ActionReset {
			return next
		}
		return trim(next, cfg)
	})
	return nil
}

// Items returns the current list. The returned slice must not be modified.
func (r *Reconciler) Items(key Key) []Item {
	s := r.lookup(key)
	if s == nil {
		return nil
	}
	items, _ := s.items.Get(slot{})
	return items
}

// Exists reports whether a stream is tracked under key.
func (r *Reconciler) Exists(key Key) bool {
	return r.lookup(key) != nil
}

// Subscribe registers listener for key only. If cfg is non-empty and the
// stream has no config yet, cfg is attached for the stream's lifetime and
// applied immediately to the current items.
func (r *Reconciler) Subscribe(key Key, listener store.Listener, cfg *Config) store.Unsubscribe {
	r.mu.Lock()
	s := r.getOrCreateLocked(key)
	attach := s.config == nil && !cfg.empty()
	if attach {
		c := *cfg
		s.config = &c
	}
	attached := s.config
	r.mu.Unlock()

	unsubscribe := s.items.Subscribe(listener)

	if attach {
		s.items.UpdateIf(slot{}, func(current []Item, ok bool) ([]Item, bool) {
			if !ok {
				return current, false
			}
			trimmed := trim(current, attached)
			return trimmed, len(trimmed) != len(current)
		})
	}
	return unsubscribe
}

// DropInstance removes every stream owned by instance and returns how many
// were removed. Subscribers of a dropped stream are notified that its items
// are gone.
func (r *Reconciler) DropInstance(instance string) int {
	r.mu.Lock()
	var dropped []*stream
	for h, bucket := range r.streams {
		kept := bucket[:0]
		for _, s := range bucket {
			if s.key.Instance == instance {
				dropped = append(dropped, s)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.streams, h)
		} else {
			r.streams[h] = kept
		}
	}
	r.mu.Unlock()

	for _, s := range dropped {
		s.items.Delete(slot{})
	}
	return len(dropped)
}

// Keys lists the streams owned by instance.
func (r *Reconciler) Keys(instance string) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []Key
	for _, bucket := range r.streams {
		for _, s := range bucket {
			if s.key.Instance == instance {
				keys = append(keys, s.key)
			}
		}
	}
	return keys
}

func (r *Reconciler) lookup(key Key) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.streams[key.hash()] {
		if s.key == key {
			return s
		}
	}
	return nil
}

func (r *Reconciler) getOrCreateLocked(key Key) *stream {
	h := key.hash()
	for _, s := range r.streams[h] {
		if s.key == key {
			return s
		}
	}
	s := &stream{key: key, items: store.New[slot, []Item]()}
	r.streams[h] = append(r.streams[h], s)
	return s
}

// reconcile returns the list after patch and whether the targeted item was
// found (always true for insert and reset).
func reconcile(current []Item, patch Patch) ([]Item, bool) {
	switch patch.Action {
	case ActionInsert:
		next := make([]Item, 0, len(current)+1)
		next = append(next, patch.Item)
		return append(next, current...), true

	case ActionUpdate:
		idx := indexOf(current, patch.Item[IDField])
		if idx < 0 {
			return current, false
		}
		next := make([]Item, len(current))
		copy(next, current)
		next[idx] = store.MergeFields(current[idx], patch.Item)
		return next, true

	case ActionDelete:
		idx := indexOf(current, deleteID(patch))
		if idx < 0 {
			return current, false
		}
		next := make([]Item, 0, len(current)-1)
		next = append(next, current[:idx]...)
		return append(next, current[idx+1:]...), true

	default:
		return []Item{}, true
	}
}

func trim(items []Item, cfg *Config) []Item {
	if cfg.empty() {
		return items
	}
	if cfg.Cap != nil {
		in := make([]Item, len(items))
		copy(in, items)
		return cfg.Cap(in)
	}
	if len(items) > cfg.Limit {
		return items[:cfg.Limit:cfg.Limit]
	}
	return items
}

func indexOf(items []Item, id any) int {
	if id == nil {
		return -1
	}
	want := canonicalID(id)
	for i, it := range items {
		if v, ok := it[IDField]; ok && canonicalID(v) == want {
			return i
		}
	}
	return -1
}

// canonicalID compares ids by their printed form, so 7, 7.0 and "7" decoded
// from JSON all address the same item.
func canonicalID(id any) string {
	return fmt.Sprint(id)
}

func itemID(p Patch) any {
	if p.Action == ActionDelete {
		return deleteID(p)
	}
	return p.Item[IDField]
}

// deleteID accepts either a bare id or a whole item.
func deleteID(p Patch) any {
	if p.ItemID != nil {
		return p.ItemID
	}
	return p.Item[IDField]
}
