package lifecycle

import "errors"

var (
	ErrMissingID       = errors.New("island descriptor has no id")
	ErrMissingName     = errors.New("island descriptor has no component name")
	ErrUnknownInstance = errors.New("unknown island instance")
	ErrNoRootFactory   = errors.New("no root factory for standalone islands")
)
