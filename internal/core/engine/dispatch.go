package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/core/form"
	"github.com/zeusync/islandsync/internal/core/globals"
	"github.com/zeusync/islandsync/internal/core/lifecycle"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/protocol"
	"github.com/zeusync/islandsync/internal/core/protocol/middlewares"
	"github.com/zeusync/islandsync/internal/core/streams"
)

// HandleMessage decodes one raw envelope and applies it. Errors are scoped
// to the envelope: it is logged, counted and dropped, and state is retained.
func (e *Engine) HandleMessage(ctx context.Context, data []byte) error {
	in, err := e.codec.Decode(data)
	if err != nil {
		event := in.Event
		if event == "" {
			event = "unknown"
		}
		e.metrics.EnvelopeDropped(event, classify(err))
		e.logger.Warn("Dropped undecodable envelope", log.String("event", event), log.Error(err))
		return err
	}
	return e.Dispatch(ctx, in)
}

// Dispatch applies a decoded envelope through the middleware chain.
func (e *Engine) Dispatch(ctx context.Context, in protocol.Inbound) error {
	return e.handler(ctx, in)
}

func (e *Engine) apply(_ context.Context, in protocol.Inbound) error {
	switch in.Event {
	case protocol.EventGlobals, protocol.EventUpdateGlobals:
		return e.applyGlobals(in)
	case protocol.EventProps:
		return e.applyProps(in)
	case protocol.EventStream:
		return e.applyStream(in)
	case protocol.EventStreamInit:
		return e.applyStreamInit(in)
	case protocol.EventFormAck:
		return e.applyFormAck(in)
	default:
		return errors.Wrapf(protocol.ErrUnknownEvent, "event %q", in.Event)
	}
}

func (e *Engine) applyGlobals(in protocol.Inbound) error {
	g, err := protocol.DecodeGlobals(in.Payload)
	if err != nil {
		return err
	}
	e.UpdateGlobals(globals.Snapshot{Fields: g.Fields, Version: g.Version})
	return nil
}

func (e *Engine) applyProps(in protocol.Inbound) error {
	p, err := protocol.DecodeProps(in.Payload)
	if err != nil {
		return err
	}
	e.registry.UpdateProps(p.ID, p.Fields)
	return nil
}

func (e *Engine) applyStream(in protocol.Inbound) error {
	p, err := protocol.DecodeStreamPatch(in.Payload)
	if err != nil {
		return err
	}
	if !e.registry.IsKnown(p.ID) {
		return errors.Wrapf(lifecycle.ErrUnknownInstance, "stream %q of %q", p.Stream, p.ID)
	}

	err = e.streams.Apply(streams.Key{Instance: p.ID, Stream: p.Stream}, streams.Patch{
		Action: streams.Action(p.Action),
		Item:   p.Item,
		ItemID: p.ItemID,
	})
	if err != nil {
		return errors.Wrap(protocol.ErrInvalidPayload, err.Error())
	}
	return nil
}

func (e *Engine) applyStreamInit(in protocol.Inbound) error {
	s, err := protocol.DecodeStreamInit(in.Payload)
	if err != nil {
		return err
	}
	if !e.registry.IsKnown(s.ID) {
		return errors.Wrapf(lifecycle.ErrUnknownInstance, "stream %q of %q", s.Stream, s.ID)
	}

	items := make([]streams.Item, len(s.Items))
	for i, item := range s.Items {
		items[i] = item
	}
	e.streams.Initialize(streams.Key{Instance: s.ID, Stream: s.Stream}, items)
	return nil
}

func (e *Engine) applyFormAck(in protocol.Inbound) error {
	ack, err := protocol.DecodeFormAck(in.Payload)
	if err != nil {
		return err
	}
	f, ok := e.LookupForm(ack.ID, ack.Form)
	if !ok {
		return errors.Wrapf(lifecycle.ErrUnknownInstance, "form %q of %q", ack.Form, ack.ID)
	}
	f.Acknowledge(form.Ack{
		Values:   ack.Values,
		Errors:   ack.Errors,
		IsValid:  ack.IsValid,
		Version:  ack.Version,
		Types:    ack.Types,
		Required: ack.Required,
	})
	return nil
}

func classify(err error) string {
	if errors.Is(err, lifecycle.ErrUnknownInstance) {
		return metrics.ReasonUnknownTarget
	}
	return middlewares.ClassifyProtocol(err)
}
