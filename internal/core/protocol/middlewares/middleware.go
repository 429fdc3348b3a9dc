// Package middlewares wraps inbound envelope handling with cross-cutting
// concerns such as logging, metrics and rate limiting.
package middlewares

import (
	"context"
	"sort"

	"github.com/zeusync/islandsync/internal/core/protocol"
)

// Handler applies one inbound envelope.
type Handler func(ctx context.Context, in protocol.Inbound) error

// Middleware observes every inbound envelope. An error from BeforeHandle
// drops the envelope before it reaches the handler.
type Middleware interface {
	Name() string
	Priority() uint16
	BeforeHandle(ctx context.Context, in protocol.Inbound) error
	AfterHandle(ctx context.Context, in protocol.Inbound, err error)
}

// Chain runs middlewares around a handler, highest priority first.
type Chain struct {
	middlewares []Middleware
}

// NewChain sorts middlewares by priority.
func NewChain(middlewares ...Middleware) *Chain {
	sorted := append([]Middleware(nil), middlewares...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Chain{middlewares: sorted}
}

// Names lists the middlewares in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.middlewares))
	for i, m := range c.middlewares {
		names[i] = m.Name()
	}
	return names
}

// Then returns a handler running next inside the chain. AfterHandle hooks
// run in reverse order and see the final error, including errors returned
// by a BeforeHandle hook.
func (c *Chain) Then(next Handler) Handler {
	return func(ctx context.Context, in protocol.Inbound) (err error) {
		ran := 0
		defer func() {
			for i := ran - 1; i >= 0; i-- {
				c.middlewares[i].AfterHandle(ctx, in, err)
			}
		}()

		for _, m := range c.middlewares {
			ran++
			if err = m.BeforeHandle(ctx, in); err != nil {
				return err
			}
		}
		return next(ctx, in)
	}
}
