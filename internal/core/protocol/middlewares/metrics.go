package middlewares

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/protocol"
)

// Classifier maps a handling error to a drop reason.
type Classifier func(err error) string

// MetricsMiddleware counts applied and dropped envelopes.
type MetricsMiddleware struct {
	recorder metrics.Recorder
	classify Classifier
}

// NewMetricsMiddleware creates a metrics middleware. classify may be nil, in
// which case only protocol errors are told apart.
func NewMetricsMiddleware(recorder metrics.Recorder, classify Classifier) *MetricsMiddleware {
	if classify == nil {
		classify = ClassifyProtocol
	}
	return &MetricsMiddleware{recorder: recorder, classify: classify}
}

// Name returns the middleware name
func (m *MetricsMiddleware) Name() string {
	return "metrics"
}

// Priority returns the middleware priority
func (m *MetricsMiddleware) Priority() uint16 {
	return 100
}

// BeforeHandle does nothing
func (m *MetricsMiddleware) BeforeHandle(context.Context, protocol.Inbound) error {
	return nil
}

// AfterHandle records the outcome
func (m *MetricsMiddleware) AfterHandle(_ context.Context, in protocol.Inbound, err error) {
	if err != nil {
		m.recorder.EnvelopeDropped(in.Event, m.classify(err))
		return
	}
	m.recorder.EnvelopeApplied(in.Event)
}

// ClassifyProtocol maps protocol errors to drop reasons.
func ClassifyProtocol(err error) string {
	switch {
	case errors.Is(err, protocol.ErrSchemaViolation):
		return metrics.ReasonSchema
	case errors.Is(err, protocol.ErrUnknownEvent):
		return metrics.ReasonUnknownEvent
	default:
		return metrics.ReasonMalformed
	}
}
