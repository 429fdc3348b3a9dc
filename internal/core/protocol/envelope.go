package protocol

import (
	"encoding/json"
)

// Inbound events, server to client.
const (
	EventGlobals       = "globals"
	EventUpdateGlobals = "update_globals"
	EventProps         = "p"
	EventStream        = "stream"
	EventStreamInit    = "stream_init"
	EventFormAck       = "form_ack"
)

// Outbound events, client to server.
const (
	EventGetGlobals = "get_globals"
	EventValidate   = "validate"
	EventSubmit     = "submit"
)

// VersionKey carries the globals version inside a globals payload.
const VersionKey = "__version"

// Inbound is an envelope received from the server.
type Inbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is an envelope sent to the server. Target is empty for
// session-wide events such as get_globals.
type Outbound struct {
	Event   string `json:"event"`
	Target  string `json:"target,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Globals is a decoded globals snapshot or patch.
type Globals struct {
	Fields     map[string]any
	Version    int64
	HasVersion bool
}

// PropsPatch is a decoded props patch for one instance.
type PropsPatch struct {
	ID     string
	Fields map[string]any
}

// StreamPatch is one mutation of a server-streamed list.
type StreamPatch struct {
	ID     string         `json:"id"`
	Stream string         `json:"stream"`
	Action string         `json:"action"`
	Item   map[string]any `json:"item,omitempty"`
	ItemID any            `json:"item_id,omitempty"`
}

// StreamInit seeds a server-streamed list.
type StreamInit struct {
	ID     string           `json:"id"`
	Stream string           `json:"stream"`
	Items  []map[string]any `json:"items"`
}

// FormAck is the server's evaluation of a form version.
type FormAck struct {
	ID       string              `json:"id"`
	Form     string              `json:"form"`
	Values   map[string]any      `json:"values"`
	Errors   map[string][]string `json:"errors"`
	IsValid  bool                `json:"is_valid"`
	Version  int64               `json:"version"`
	Types    map[string]string   `json:"types,omitempty"`
	Required []string            `json:"required,omitempty"`
}

// IsInbound reports whether event is one the engine handles.
func IsInbound(event string) bool {
	switch event {
	case EventGlobals, EventUpdateGlobals, EventProps, EventStream, EventStreamInit, EventFormAck:
		return true
	default:
		return false
	}
}
