package streams

import "errors"

var (
	ErrUnknownAction = errors.New("unknown stream action")
	ErrMissingItemID = errors.New("stream item has no id")
)
