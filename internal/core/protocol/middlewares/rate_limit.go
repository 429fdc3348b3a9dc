package middlewares

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

// RateLimitMiddleware warns when an event arrives more often than limit
// times per window. Envelopes are never dropped.
type RateLimitMiddleware struct {
	logger log.Log
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	events map[string]*eventWindow
}

type eventWindow struct {
	count  int
	start  time.Time
	warned bool
}

// NewRateLimitMiddleware creates a rate limit middleware.
func NewRateLimitMiddleware(limit int, window time.Duration, logger log.Log) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		logger: logger,
		limit:  limit,
		window: window,
		now:    time.Now,
		events: make(map[string]*eventWindow),
	}
}

// Name returns the middleware name
func (m *RateLimitMiddleware) Name() string {
	return "rate_limit"
}

// Priority returns the middleware priority
func (m *RateLimitMiddleware) Priority() uint16 {
	return 800
}

// BeforeHandle counts the envelope against its event window
func (m *RateLimitMiddleware) BeforeHandle(_ context.Context, in protocol.Inbound) error {
	if m.limit <= 0 {
		return nil
	}
	now := m.now()

	m.mu.Lock()
	w, ok := m.events[in.Event]
	if !ok || now.Sub(w.start) > m.window {
		w = &eventWindow{start: now}
		m.events[in.Event] = w
	}
	w.count++
	exceeded := w.count > m.limit && !w.warned
	if exceeded {
		w.warned = true
	}
	count := w.count
	m.mu.Unlock()

	if exceeded {
		m.logger.Warn("Rate limit exceeded",
			log.String("event", in.Event),
			log.Int("count", count),
			log.Int("limit", m.limit),
			log.Duration("window", m.window),
		)
	}
	return nil
}

// AfterHandle does nothing
func (m *RateLimitMiddleware) AfterHandle(context.Context, protocol.Inbound, error) {}

// Exceeded reports whether event is over its limit in the current window.
func (m *RateLimitMiddleware) Exceeded(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.events[event]
	return ok && m.now().Sub(w.start) <= m.window && w.count > m.limit
}
