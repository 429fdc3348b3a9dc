package middlewares

import (
	"context"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

// LoggingMiddleware logs every envelope at debug and failures at warn.
type LoggingMiddleware struct {
	logger log.Log
}

// NewLoggingMiddleware creates a logging middleware.
func NewLoggingMiddleware(logger log.Log) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Name returns the middleware name
func (m *LoggingMiddleware) Name() string {
	return "logging"
}

// Priority returns the middleware priority
func (m *LoggingMiddleware) Priority() uint16 {
	return 1000
}

// BeforeHandle logs before the envelope is applied
func (m *LoggingMiddleware) BeforeHandle(_ context.Context, in protocol.Inbound) error {
	m.logger.Debug("Applying envelope",
		log.String("event", in.Event),
		log.Int("payload_size", len(in.Payload)),
	)
	return nil
}

// AfterHandle logs the outcome
func (m *LoggingMiddleware) AfterHandle(_ context.Context, in protocol.Inbound, err error) {
	if err != nil {
		m.logger.Warn("Envelope dropped", log.String("event", in.Event), log.Error(err))
		return
	}
	m.logger.Debug("Envelope applied", log.String("event", in.Event))
}
