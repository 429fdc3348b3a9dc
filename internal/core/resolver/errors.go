package resolver

import "errors"

var (
	ErrComponentNotFound = errors.New("component not found")
	ErrInvalidEntry      = errors.New("invalid component registration")
	ErrEmptyName         = errors.New("component name is empty")
)
