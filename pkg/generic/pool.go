// Package generic holds small typed helpers over the standard library.
package generic

import "sync"

// Pool is a typed sync.Pool. Values are reset before they are pooled again.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// NewPool creates a pool that allocates with generate. reset may be nil.
func NewPool[T any](generate func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put resets value and returns it to the pool. The caller must not use it
// afterwards.
func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		p.reset(value)
	}
	p.pool.Put(value)
}
