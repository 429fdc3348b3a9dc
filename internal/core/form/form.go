// Package form keeps a client-side form in step with server-side validation.
//
// Every local edit bumps a local version and is sent to the server tagged with
// it. The server answers with the newest version it has evaluated, so a form
// is only submittable once the server has seen and accepted every local edit.
package form

import (
	"sync"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/store"
)

const (
	EventValidate = "validate"
	EventSubmit   = "submit"
)

// EmitFunc sends a form event to the server.
type EmitFunc func(event string, payload Payload)

// Payload is the body of validate and submit events.
type Payload struct {
	Form    string       `json:"form"`
	Values  store.Fields `json:"values"`
	Version int64        `json:"version"`
}

// Ack is the server's evaluation of a version of the form.
type Ack struct {
	Values   store.Fields        `json:"values"`
	Errors   map[string][]string `json:"errors"`
	IsValid  bool                `json:"is_valid"`
	Version  int64               `json:"version"`
	Types    map[string]string   `json:"types,omitempty"`
	Required []string            `json:"required,omitempty"`
}

// Options seed a form.
type Options struct {
	Name     string
	Values   store.Fields
	Errors   map[string][]string
	Types    map[string]string
	Required []string
	Emit     EmitFunc
	Logger   log.Log
	Metrics  metrics.Recorder
}

type stateSlot struct{}

// Form is the sync state of one form of one island.
type Form struct {
	mu   sync.Mutex
	name string

	localValues  store.Fields
	serverValues store.Fields
	serverErrors map[string][]string
	serverValid  bool

	localVersion    int64
	serverVersion   int64
	lastSentVersion int64

	touched  map[string]struct{}
	types    map[string]string
	required map[string]struct{}

	emit    EmitFunc
	state   *store.Store[stateSlot, State]
	logger  log.Log
	metrics metrics.Recorder
}

// New creates a form at version zero.
func New(opts Options) *Form {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	f := &Form{
		name:         opts.Name,
		localValues:  store.MergeFields(nil, opts.Values),
		serverValues: store.MergeFields(nil, opts.Values),
		serverErrors: copyErrors(opts.Errors),
		touched:      make(map[string]struct{}),
		types:        make(map[string]string),
		required:     make(map[string]struct{}),
		emit:         opts.Emit,
		state:        store.New[stateSlot, State](),
		logger:       logger.With(log.String("form", opts.Name)),
		metrics:      recorder,
	}
	f.setSchemaLocked(opts.Types, opts.Required)
	f.state.Set(stateSlot{}, f.snapshotLocked())
	return f
}

// Name returns the form prop name.
func (f *Form) Name() string {
	return f.name
}

// SetField records a local edit and sends the new values for validation.
func (f *Form) SetField(name string, value any) {
	f.mu.Lock()
	f.touched[name] = struct{}{}
	f.localVersion++
	f.localValues = store.MergeFields(f.localValues, store.Fields{name: value})
	f.mu.Unlock()

	f.flush(EventValidate)
}

// HandleSubmit asks the server to submit the current values.
func (f *Form) HandleSubmit() {
	f.mu.Lock()
	f.localVersion++
	f.mu.Unlock()

	f.flush(EventSubmit)
}

// flush emits event for the current local version unless that version has
// already been sent. Running it twice for one edit emits once.
func (f *Form) flush(event string) bool {
	f.mu.Lock()
	if f.lastSentVersion >= f.localVersion {
		f.mu.Unlock()
		return false
	}
	f.lastSentVersion = f.localVersion
	payload := Payload{
		Form:    f.name,
		Values:  f.localValues,
		Version: f.localVersion,
	}
	emit := f.emit
	f.mu.Unlock()

	f.publish()
	if emit != nil {
		emit(event, payload)
		f.metrics.FormEmitted(event)
	}
	f.logger.Debug("Form event emitted", log.String("event", event), log.Int64("version", payload.Version))
	return true
}

// Acknowledge applies a server evaluation. Acks older than the newest one
// already applied are ignored, and the server version never moves past the
// local version. Server values overwrite local values for fields the user is
// not currently editing.
func (f *Form) Acknowledge(ack Ack) bool {
	f.mu.Lock()
	version := min(ack.Version, f.localVersion)
	if version < f.serverVersion {
		current := f.serverVersion
		f.mu.Unlock()
		f.logger.Debug("Stale form ack ignored",
			log.Int64("version", ack.Version),
			log.Int64("server_version", current),
		)
		return false
	}

	if version < ack.Version {
		f.logger.Debug("Form ack ahead of local version",
			log.Int64("version", ack.Version),
			log.Int64("local_version", f.localVersion),
		)
	}
	f.serverVersion = version
	f.serverValid = ack.IsValid
	f.serverErrors = copyErrors(ack.Errors)
	if ack.Values != nil {
		f.serverValues = store.MergeFields(nil, ack.Values)
		if f.localVersion > f.serverVersion {
			merged := store.MergeFields(nil, f.localValues)
			for k, v := range ack.Values {
				if _, editing := f.touched[k]; !editing {
					merged[k] = v
				}
			}
			f.localValues = merged
		} else {
			f.localValues = store.MergeFields(f.localValues, ack.Values)
		}
	}
	f.setSchemaLocked(ack.Types, ack.Required)
	f.mu.Unlock()

	f.publish()
	return true
}

// Reset discards local edits and returns to the last server state.
func (f *Form) Reset() {
	f.mu.Lock()
	f.localValues = store.MergeFields(nil, f.serverValues)
	f.touched = make(map[string]struct{})
	f.localVersion = f.serverVersion
	if f.lastSentVersion > f.localVersion {
		f.lastSentVersion = f.localVersion
	}
	f.mu.Unlock()

	f.publish()
}

// IsSyncing reports whether the server has not yet evaluated the newest edit.
func (f *Form) IsSyncing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localVersion > f.serverVersion
}

// IsValid reports whether the form may be submitted.
func (f *Form) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localVersion <= f.serverVersion && f.serverValid
}

// IsTouched reports whether name was edited since the last reset.
func (f *Form) IsTouched(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.touched[name]
	return ok
}

// IsRequired reports whether the server marked name as required.
func (f *Form) IsRequired(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.required[name]
	return ok
}

// Error returns the first server error for name.
func (f *Form) Error(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := f.serverErrors[name]
	if len(errs) == 0 {
		return "", false
	}
	return errs[0], true
}

// Value returns the local value of name.
func (f *Form) Value(name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.localValues[name]
	return v, ok
}

// FieldProps returns the input binding for name.
func (f *Form) FieldProps(name string) FieldProps {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fieldPropsLocked(name)
}

// State returns an immutable snapshot of the form.
func (f *Form) State() State {
	s, _ := f.state.Get(stateSlot{})
	return s
}

// Subscribe is notified whenever the form state changes.
func (f *Form) Subscribe(listener store.Listener) store.Unsubscribe {
	return f.state.Subscribe(listener)
}

func (f *Form) publish() {
	f.mu.Lock()
	s := f.snapshotLocked()
	f.mu.Unlock()
	f.state.Set(stateSlot{}, s)
}

func (f *Form) setSchemaLocked(types map[string]string, required []string) {
	if types != nil {
		f.types = make(map[string]string, len(types))
		for k, v := range types {
			f.types[k] = v
		}
	}
	if required != nil {
		f.required = make(map[string]struct{}, len(required))
		for _, name := range required {
			f.required[name] = struct{}{}
		}
	}
}

func copyErrors(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
