package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/islandsync/internal/core/form"
	"github.com/zeusync/islandsync/internal/core/globals"
	"github.com/zeusync/islandsync/internal/core/lifecycle"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/protocol"
	"github.com/zeusync/islandsync/internal/core/resolver"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

type sentLog struct {
	mu   sync.Mutex
	sent []protocol.Outbound
	fail error
}

func (s *sentLog) Send(_ context.Context, out protocol.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, out)
	return nil
}

func (s *sentLog) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, o := range s.sent {
		out[i] = o.Event
	}
	return out
}

func (s *sentLog) last() protocol.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type countingRecorder struct {
	metrics.Nop
	mu      sync.Mutex
	applied map[string]int
	dropped map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{applied: map[string]int{}, dropped: map[string]int{}}
}

func (r *countingRecorder) EnvelopeApplied(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[event]++
}

func (r *countingRecorder) EnvelopeDropped(_, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason]++
}

type fixture struct {
	engine   *Engine
	sent     *sentLog
	recorder *countingRecorder
}

func newFixture(t *testing.T, options Options) *fixture {
	t.Helper()
	codec, err := protocol.NewCodec()
	require.NoError(t, err)

	logger := log.NewNop()
	res := resolver.New(nil, logger)
	require.NoError(t, res.Register("Counter", resolver.Direct("counter")))
	require.NoError(t, res.Register("ContactForm", resolver.Direct("contact-form")))

	recorder := newCountingRecorder()
	e := New(options, codec, res, nil, logger, recorder)
	sent := &sentLog{}
	e.Bind(sent)
	return &fixture{engine: e, sent: sent, recorder: recorder}
}

func (f *fixture) handle(t *testing.T, raw string) error {
	t.Helper()
	return f.engine.HandleMessage(context.Background(), []byte(raw))
}

func (f *fixture) mount(t *testing.T, id, component string, props store.Fields) {
	t.Helper()
	require.NoError(t, f.engine.Mount(context.Background(), lifecycle.Descriptor{
		ID:            id,
		ComponentName: component,
		InitialProps:  props,
		GlobalKeys:    []string{"user"},
	}))
}

func TestEngine_EndToEnd(t *testing.T) {
	f := newFixture(t, Options{GlobalsEnabled: true})
	access := f.engine.Access()

	f.mount(t, "X", "Counter", store.Fields{"count": 0})
	props, ok := access.Props("X")
	require.True(t, ok)
	assert.Equal(t, store.Fields{"count": 0}, props)

	require.NoError(t, f.handle(t, `{"event":"p","payload":{"id":"X","count":5}}`))
	props, _ = access.Props("X")
	assert.Equal(t, store.Fields{"count": float64(5)}, props)

	notified := 0
	access.SubscribeGlobals(func() { notified++ })

	require.NoError(t, f.handle(t, `{"event":"globals","payload":{"user":"A","__version":1}}`))
	require.NoError(t, f.handle(t, `{"event":"update_globals","payload":{"user":"B","__version":1}}`))

	g, ok := access.Globals()
	require.True(t, ok)
	assert.Equal(t, globals.Snapshot{Fields: store.Fields{"user": "A"}, Version: 1}, g)
	assert.Equal(t, 1, notified)

	require.NoError(t, f.handle(t, `{"event":"update_globals","payload":{"user":"B","__version":2}}`))
	g, _ = access.Globals()
	assert.Equal(t, globals.Snapshot{Fields: store.Fields{"user": "B"}, Version: 2}, g)
	assert.Equal(t, 2, notified)
	assert.Equal(t, store.Fields{"user": "B"}, access.GlobalsFor("X"))
}

func TestEngine_GlobalsRequestAndRendering(t *testing.T) {
	f := newFixture(t, Options{GlobalsEnabled: true})
	access := f.engine.Access()

	assert.False(t, access.RenderingEnabled())
	assert.Empty(t, f.sent.events())

	f.mount(t, "a", "Counter", nil)
	f.mount(t, "b", "Counter", nil)
	assert.Equal(t, []string{protocol.EventGetGlobals}, f.sent.events())
	assert.False(t, access.RenderingEnabled())

	require.NoError(t, f.handle(t, `{"event":"globals","payload":{"theme":"dark","__version":0}}`))
	assert.True(t, access.RenderingEnabled())
	assert.Len(t, access.SharedInstances(), 2)
}

func TestEngine_GlobalsRequestRetriedAfterSendFailure(t *testing.T) {
	f := newFixture(t, Options{GlobalsEnabled: true})
	f.sent.fail = errors.New("not connected")
	f.mount(t, "a", "Counter", nil)

	f.sent.fail = nil
	f.mount(t, "b", "Counter", nil)
	assert.Equal(t, []string{protocol.EventGetGlobals}, f.sent.events())
}

func TestEngine_WithoutGlobals(t *testing.T) {
	f := newFixture(t, Options{})
	assert.True(t, f.engine.Access().RenderingEnabled())

	f.mount(t, "a", "Counter", nil)
	assert.Empty(t, f.sent.events())
}

func TestEngine_ResetSession(t *testing.T) {
	f := newFixture(t, Options{GlobalsEnabled: true})
	access := f.engine.Access()
	f.mount(t, "a", "Counter", nil)

	require.NoError(t, f.handle(t, `{"event":"globals","payload":{"user":"A","__version":7}}`))
	require.True(t, access.RenderingEnabled())

	f.engine.ResetSession(context.Background())
	_, ok := access.Globals()
	assert.False(t, ok)
	assert.False(t, access.RenderingEnabled())
	assert.Equal(t, []string{protocol.EventGetGlobals, protocol.EventGetGlobals}, f.sent.events())

	require.NoError(t, f.handle(t, `{"event":"globals","payload":{"user":"B","__version":0}}`))
	g, _ := access.Globals()
	assert.Equal(t, int64(0), g.Version)
	assert.Equal(t, "B", g.Fields["user"])
	assert.True(t, access.RenderingEnabled())
}

func TestEngine_Streams(t *testing.T) {
	f := newFixture(t, Options{DefaultStreamLimit: 3})
	access := f.engine.Access()
	f.mount(t, "feed", "Counter", nil)

	calls := 0
	access.SubscribeStream("feed", "messages", func() { calls++ }, nil)

	require.NoError(t, f.handle(t, `{"event":"stream_init","payload":{"id":"feed","stream":"messages","items":[{"id":"a"},{"id":"b"},{"id":"c"}]}}`))
	require.NoError(t, f.handle(t, `{"event":"stream","payload":{"id":"feed","stream":"messages","action":"insert","item":{"id":"d"}}}`))
	require.NoError(t, f.handle(t, `{"event":"stream","payload":{"id":"feed","stream":"messages","action":"update","item":{"id":"b","x":1}}}`))

	items := access.StreamItems("feed", "messages")
	require.Len(t, items, 3)
	assert.Equal(t, "d", items[0]["id"])
	assert.Equal(t, streams.Item{"id": "b", "x": float64(1)}, items[2])
	assert.Equal(t, 3, calls)

	require.NoError(t, f.handle(t, `{"event":"stream","payload":{"id":"feed","stream":"messages","action":"delete","item_id":"d"}}`))
	assert.Len(t, access.StreamItems("feed", "messages"), 2)

	require.NoError(t, f.handle(t, `{"event":"stream","payload":{"id":"feed","stream":"messages","action":"reset"}}`))
	assert.Empty(t, access.StreamItems("feed", "messages"))

	f.engine.Unmount("feed")
	assert.Empty(t, access.StreamItems("feed", "messages"))
	_, ok := access.Props("feed")
	assert.False(t, ok)
}

func TestEngine_StreamSubscriptionLifetime(t *testing.T) {
	f := newFixture(t, Options{DefaultStreamLimit: 3})
	access := f.engine.Access()

	unsubscribe := access.SubscribeStream("ghost", "messages", func() {}, nil)
	unsubscribe()
	assert.Empty(t, f.engine.streams.Keys("ghost"))

	f.mount(t, "feed", "Counter", nil)
	calls := 0
	access.SubscribeStream("feed", "messages", func() { calls++ }, nil)
	require.NoError(t, f.handle(t, `{"event":"stream_init","payload":{"id":"feed","stream":"messages","items":[{"id":"a"}]}}`))
	assert.Equal(t, 1, calls)

	f.engine.Unmount("feed")
	assert.Equal(t, 2, calls, "unmount clears the stream")

	access.SubscribeStream("feed", "messages", func() {}, nil)
	assert.Empty(t, f.engine.streams.Keys("feed"))
}

func TestEngine_RoutingErrors(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.handle(t, `{"event":"stream","payload":{"id":"ghost","stream":"m","action":"insert","item":{"id":1}}}`)
	assert.True(t, errors.Is(err, lifecycle.ErrUnknownInstance))

	err = f.handle(t, `{"event":"form_ack","payload":{"id":"ghost","form":"contact","version":1}}`)
	assert.True(t, errors.Is(err, lifecycle.ErrUnknownInstance))

	assert.Equal(t, 2, f.recorder.dropped[metrics.ReasonUnknownTarget])
	assert.Empty(t, f.engine.Access().StreamItems("ghost", "m"))
}

func TestEngine_ProtocolErrorsRetainState(t *testing.T) {
	f := newFixture(t, Options{})
	access := f.engine.Access()
	f.mount(t, "X", "Counter", store.Fields{"count": 1})

	assert.True(t, errors.Is(f.handle(t, `not json`), protocol.ErrInvalidEnvelope))
	assert.True(t, errors.Is(f.handle(t, `{"event":"p","payload":{"count":9}}`), protocol.ErrSchemaViolation))
	assert.True(t, errors.Is(f.handle(t, `{"event":"warp","payload":{}}`), protocol.ErrUnknownEvent))

	props, _ := access.Props("X")
	assert.Equal(t, store.Fields{"count": 1}, props)
	assert.Equal(t, 1, f.recorder.dropped[metrics.ReasonMalformed])
	assert.Equal(t, 1, f.recorder.dropped[metrics.ReasonSchema])
	assert.Equal(t, 1, f.recorder.dropped[metrics.ReasonUnknownEvent])
}

func TestEngine_PropsBeforeMount(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.handle(t, `{"event":"p","payload":{"id":"late","count":3}}`))

	f.mount(t, "late", "Counter", store.Fields{"count": 0, "label": "x"})
	props, _ := f.engine.Access().Props("late")
	assert.Equal(t, store.Fields{"count": float64(3), "label": "x"}, props)
}

func TestEngine_Forms(t *testing.T) {
	f := newFixture(t, Options{})
	f.mount(t, "X", "ContactForm", nil)

	contact := f.engine.Form("X", "contact", form.Options{Values: store.Fields{"name": ""}})
	assert.Same(t, contact, f.engine.Form("X", "contact", form.Options{}))

	contact.SetField("name", "Alice")
	out := f.sent.last()
	assert.Equal(t, protocol.EventValidate, out.Event)
	assert.Equal(t, "X", out.Target)
	assert.Equal(t, form.Payload{Form: "contact", Values: store.Fields{"name": "Alice"}, Version: 1}, out.Payload)
	assert.False(t, contact.IsValid())

	require.NoError(t, f.handle(t, `{"event":"form_ack","payload":{"id":"X","form":"contact","values":{"name":"Alice"},"errors":{},"is_valid":true,"version":1}}`))
	assert.True(t, contact.IsValid())

	contact.HandleSubmit()
	assert.Equal(t, protocol.EventSubmit, f.sent.last().Event)

	f.engine.Unmount("X")
	_, ok := f.engine.LookupForm("X", "contact")
	assert.False(t, ok)
	err := f.handle(t, `{"event":"form_ack","payload":{"id":"X","form":"contact","is_valid":true,"version":2}}`)
	assert.True(t, errors.Is(err, lifecycle.ErrUnknownInstance))
}

func TestEngine_EmitBindsInstance(t *testing.T) {
	f := newFixture(t, Options{})
	f.mount(t, "X", "Counter", nil)

	inst, ok := f.engine.Registry().Instance("X")
	require.True(t, ok)
	inst.Emit("increment", map[string]any{"by": 1})

	out := f.sent.last()
	assert.Equal(t, "increment", out.Event)
	assert.Equal(t, "X", out.Target)

	f.engine.Bind(nil)
	f.engine.Emit("X", "increment", nil)
	assert.Len(t, f.sent.events(), 1)
}

func TestEngine_Snapshot(t *testing.T) {
	f := newFixture(t, Options{})
	f.mount(t, "b", "Counter", store.Fields{"count": 1})
	f.mount(t, "a", "Counter", nil)
	f.engine.Form("a", "contact", form.Options{})
	require.NoError(t, f.handle(t, `{"event":"stream_init","payload":{"id":"a","stream":"log","items":[{"id":1}]}}`))
	require.NoError(t, f.handle(t, `{"event":"globals","payload":{"user":"A","__version":4}}`))

	s := f.engine.Snapshot()
	assert.Equal(t, f.engine.ID(), s.Session)
	assert.Equal(t, int64(4), s.GlobalsVersion)
	require.Len(t, s.Islands, 2)
	assert.Equal(t, "a", s.Islands[0].ID)
	assert.Equal(t, "Counter", s.Islands[0].Component)
	assert.Equal(t, []string{"contact"}, s.Islands[0].Forms)
	assert.Len(t, s.Islands[0].Streams["log"], 1)
	assert.Equal(t, store.Fields{"count": 1}, s.Islands[1].Props)
}
