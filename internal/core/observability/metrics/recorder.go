// Package metrics records engine activity. Components depend on the Recorder
// interface; Prometheus backs it in production and Nop in tests.
package metrics

// Recorder receives engine events worth counting.
type Recorder interface {
	EnvelopeApplied(event string)
	EnvelopeDropped(event, reason string)
	GlobalsStale()
	Mounted(strategy string)
	Unmounted(strategy string)
	ResolutionFailed(component string)
	FormEmitted(event string)
}

// Drop reasons used with EnvelopeDropped.
const (
	ReasonMalformed     = "malformed"
	ReasonSchema        = "schema"
	ReasonUnknownEvent  = "unknown_event"
	ReasonUnknownTarget = "unknown_target"
)

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) EnvelopeApplied(string)         {}
func (Nop) EnvelopeDropped(string, string) {}
func (Nop) GlobalsStale()                  {}
func (Nop) Mounted(string)                 {}
func (Nop) Unmounted(string)               {}
func (Nop) ResolutionFailed(string)        {}
func (Nop) FormEmitted(string)             {}
