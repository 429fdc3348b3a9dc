package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/observability/metrics"
	"github.com/zeusync/islandsync/internal/core/resolver"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

type fakeMountPoint struct {
	mu          sync.Mutex
	placeholder string
}

func (m *fakeMountPoint) ShowPlaceholder(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeholder = message
}

func (m *fakeMountPoint) Placeholder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeholder
}

type fakeRoot struct {
	mu        sync.Mutex
	unmounted int
}

func (r *fakeRoot) Unmount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmounted++
}

type rootRecorder struct {
	mu         sync.Mutex
	roots      map[string]*fakeRoot
	hydrations map[string]*Hydration
	err        error
}

func newRootRecorder() *rootRecorder {
	return &rootRecorder{roots: map[string]*fakeRoot{}, hydrations: map[string]*Hydration{}}
}

func (f *rootRecorder) CreateRoot(instance *Instance, hydration *Hydration) (Root, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	root := &fakeRoot{}
	f.roots[instance.ID] = root
	f.hydrations[instance.ID] = hydration
	return root, nil
}

type fixture struct {
	registry *Registry
	streams  *streams.Reconciler
	resolver *resolver.Resolver
	roots    *rootRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.NewNop()
	res := resolver.New(nil, logger)
	require.NoError(t, res.Register("Counter", resolver.Direct("counter-component")))
	rec := streams.NewReconciler(logger)
	roots := newRootRecorder()
	return &fixture{
		registry: NewRegistry(rec, res, logger, WithRootFactory(roots)),
		streams:  rec,
		resolver: res,
		roots:    roots,
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		attr      string
		strategy  Strategy
		overwrite bool
	}{
		{"", StrategyPooled, false},
		{"none", StrategyPooled, false},
		{"overwrite", StrategyPooled, true},
		{"hydrate_root", StrategyStandalone, false},
		{"standalone-hydrate", StrategyStandalone, false},
	}
	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			s, o := ParseStrategy(tt.attr)
			assert.Equal(t, tt.strategy, s)
			assert.Equal(t, tt.overwrite, o)
		})
	}
}

func TestRegistry_MountPooled(t *testing.T) {
	f := newFixture(t)
	notified := 0
	f.registry.Shared().Subscribe(func() { notified++ })

	err := f.registry.Mount(context.Background(), Descriptor{
		ID:            "x",
		ComponentName: "Counter",
		InitialProps:  store.Fields{"count": 0},
		GlobalKeys:    []string{"user"},
	})
	require.NoError(t, err)

	inst, ok := f.registry.Shared().Get("x")
	require.True(t, ok)
	assert.Equal(t, "counter-component", inst.Component)
	assert.Equal(t, StrategyPooled, inst.Strategy)
	assert.Equal(t, []string{"user"}, inst.GlobalKeys)
	assert.Equal(t, 1, notified)

	props, _ := f.registry.Props().Get("x")
	assert.Equal(t, store.Fields{"count": 0}, props)

	f.registry.UpdateProps("x", store.Fields{"count": 5})
	props, _ = f.registry.Props().Get("x")
	assert.Equal(t, store.Fields{"count": 5}, props)
}

func TestRegistry_MountValidation(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.registry.Mount(context.Background(), Descriptor{ComponentName: "Counter"}), ErrMissingID)
	assert.ErrorIs(t, f.registry.Mount(context.Background(), Descriptor{ID: "x"}), ErrMissingName)

	noRoots := NewRegistry(f.streams, f.resolver, log.NewNop())
	err := noRoots.Mount(context.Background(), Descriptor{ID: "x", ComponentName: "Counter", Strategy: StrategyStandalone})
	assert.ErrorIs(t, err, ErrNoRootFactory)
}

func TestRegistry_MountStandalone(t *testing.T) {
	f := newFixture(t)
	hydration := &Hydration{Props: store.Fields{"count": 1}, GlobalsVersion: 3}

	sharedCalls := 0
	f.registry.Shared().Subscribe(func() { sharedCalls++ })

	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{
		ID:            "h",
		ComponentName: "Counter",
		Strategy:      StrategyStandalone,
		Hydration:     hydration,
	}))

	require.Contains(t, f.roots.roots, "h")
	assert.Same(t, hydration, f.roots.hydrations["h"])
	assert.Equal(t, 0, sharedCalls)
	assert.False(t, f.registry.Shared().Has("h"))

	_, ok := f.registry.Instance("h")
	assert.True(t, ok)

	f.registry.Unmount("h")
	assert.Equal(t, 1, f.roots.roots["h"].unmounted)
	f.registry.Unmount("h")
	assert.Equal(t, 1, f.roots.roots["h"].unmounted)
}

func TestRegistry_RootCreationFailure(t *testing.T) {
	f := newFixture(t)
	f.roots.err = errors.New("hydration mismatch")
	mp := &fakeMountPoint{}

	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{
		ID: "h", ComponentName: "Counter", Strategy: StrategyStandalone, MountPoint: mp,
	}))
	assert.NotEmpty(t, mp.Placeholder())
	_, ok := f.registry.Instance("h")
	assert.False(t, ok)
}

type mountCounter struct {
	metrics.Nop
	mu      sync.Mutex
	mounted int
}

func (m *mountCounter) Mounted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted++
}

func (m *mountCounter) Unmounted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted--
}

func (m *mountCounter) gauge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// unmountingRoots unmounts the island while its root is being created.
type unmountingRoots struct {
	registry *Registry
}

func (u *unmountingRoots) CreateRoot(instance *Instance, _ *Hydration) (Root, error) {
	u.registry.Unmount(instance.ID)
	return &fakeRoot{}, nil
}

func TestRegistry_UnmountDuringMountKeepsGaugeBalanced(t *testing.T) {
	logger := log.NewNop()
	res := resolver.New(nil, logger)
	require.NoError(t, res.Register("Counter", resolver.Direct("counter-component")))

	t.Run("standalone", func(t *testing.T) {
		counter := &mountCounter{}
		roots := &unmountingRoots{}
		registry := NewRegistry(streams.NewReconciler(logger), res, logger, WithRootFactory(roots), WithMetrics(counter))
		roots.registry = registry

		require.NoError(t, registry.Mount(context.Background(), Descriptor{ID: "h", ComponentName: "Counter", Strategy: StrategyStandalone}))
		_, ok := registry.Instance("h")
		assert.False(t, ok)
		assert.Equal(t, 0, counter.gauge())
	})

	t.Run("pooled", func(t *testing.T) {
		counter := &mountCounter{}
		registry := NewRegistry(streams.NewReconciler(logger), res, logger, WithMetrics(counter))
		unsubscribe := registry.Shared().Subscribe(func() {
			if _, ok := registry.Shared().Get("p"); ok {
				registry.Unmount("p")
			}
		})
		defer unsubscribe()

		require.NoError(t, registry.Mount(context.Background(), Descriptor{ID: "p", ComponentName: "Counter"}))
		_, ok := registry.Instance("p")
		assert.False(t, ok)
		assert.Equal(t, 0, counter.gauge())
	})

	t.Run("completed mount", func(t *testing.T) {
		counter := &mountCounter{}
		registry := NewRegistry(streams.NewReconciler(logger), res, logger, WithMetrics(counter))

		require.NoError(t, registry.Mount(context.Background(), Descriptor{ID: "p", ComponentName: "Counter"}))
		assert.Equal(t, 1, counter.gauge())
		registry.Unmount("p")
		registry.Unmount("p")
		assert.Equal(t, 0, counter.gauge())
	})
}

func TestHydration_PreferLive(t *testing.T) {
	h := &Hydration{GlobalsVersion: 4}
	assert.False(t, h.PreferLive(3))
	assert.True(t, h.PreferLive(4))
	assert.True(t, h.PreferLive(5))

	var none *Hydration
	assert.True(t, none.PreferLive(-1))
}

func TestRegistry_UnmountClearsState(t *testing.T) {
	f := newFixture(t)
	var hooked []string
	f.registry.OnUnmount(func(id string) { hooked = append(hooked, id) })

	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{
		ID:            "x",
		ComponentName: "Counter",
		InitialProps:  store.Fields{"count": 0},
		Streams:       map[string][]streams.Item{"messages": {{"id": 1}}},
	}))
	require.NoError(t, f.streams.Apply(streams.Key{Instance: "x", Stream: "events"}, streams.Patch{
		Action: streams.ActionInsert, Item: streams.Item{"id": "e"},
	}))

	f.registry.Unmount("x")

	_, ok := f.registry.Props().Get("x")
	assert.False(t, ok)
	assert.Empty(t, f.streams.Items(streams.Key{Instance: "x", Stream: "messages"}))
	assert.Empty(t, f.streams.Keys("x"))
	assert.False(t, f.registry.Shared().Has("x"))
	assert.Equal(t, []string{"x"}, hooked)

	assert.NotPanics(t, func() { f.registry.Unmount("x") })
	assert.NotPanics(t, func() { f.registry.Unmount("never-mounted") })
}

func TestRegistry_PropsBeforeMountAreRetained(t *testing.T) {
	f := newFixture(t)

	f.registry.UpdateProps("late", store.Fields{"count": 9})
	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{
		ID:            "late",
		ComponentName: "Counter",
		InitialProps:  store.Fields{"count": 0, "label": "clicks"},
	}))

	props, _ := f.registry.Props().Get("late")
	assert.Equal(t, store.Fields{"count": 9, "label": "clicks"}, props)
}

func TestRegistry_UnmountDuringResolutionAbandonsMount(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	loaded := make(chan struct{})
	require.NoError(t, f.resolver.Register("Slow", resolver.Lazy(func(ctx context.Context) (resolver.Entry, error) {
		<-release
		defer close(loaded)
		return resolver.Direct("slow-component"), nil
	})))

	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{
		ID:            "pending",
		ComponentName: "Slow",
		Strategy:      StrategyStandalone,
		InitialProps:  store.Fields{"a": 1},
	}))

	// props are registered before resolution finishes
	props, ok := f.registry.Props().Get("pending")
	require.True(t, ok)
	assert.Equal(t, store.Fields{"a": 1}, props)
	assert.True(t, f.registry.IsPending("pending"))

	f.registry.Unmount("pending")
	assert.False(t, f.registry.IsPending("pending"))

	close(release)
	<-loaded

	assert.Never(t, func() bool {
		_, mounted := f.registry.Instance("pending")
		f.roots.mu.Lock()
		_, rooted := f.roots.roots["pending"]
		f.roots.mu.Unlock()
		return mounted || rooted
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRegistry_LazyMountCompletes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.resolver.Register("Lazy", resolver.Lazy(func(ctx context.Context) (resolver.Entry, error) {
		return resolver.Direct("lazy-component"), nil
	})))

	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{ID: "l", ComponentName: "Lazy"}))

	assert.Eventually(t, func() bool {
		return f.registry.Shared().Has("l")
	}, time.Second, 5*time.Millisecond)
	assert.False(t, f.registry.IsPending("l"))
}

func TestRegistry_UnknownComponentShowsPlaceholder(t *testing.T) {
	f := newFixture(t)
	mp := &fakeMountPoint{}
	other := &fakeMountPoint{}

	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{ID: "bad", ComponentName: "Nope", MountPoint: mp}))
	require.NoError(t, f.registry.Mount(context.Background(), Descriptor{ID: "good", ComponentName: "Counter", MountPoint: other}))

	assert.Contains(t, mp.Placeholder(), "Nope")
	assert.Empty(t, other.Placeholder())
	assert.False(t, f.registry.Shared().Has("bad"))
	assert.True(t, f.registry.Shared().Has("good"))
	assert.False(t, f.registry.IsPending("bad"))
}

func TestRegistry_RemountCreatesFreshInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Mount(ctx, Descriptor{ID: "x", ComponentName: "Counter", InitialProps: store.Fields{"count": 3}}))
	first, _ := f.registry.Instance("x")
	f.registry.UpdateProps("x", store.Fields{"extra": true})

	require.NoError(t, f.registry.Mount(ctx, Descriptor{ID: "x", ComponentName: "Counter", InitialProps: store.Fields{"count": 0}}))
	second, _ := f.registry.Instance("x")

	assert.NotSame(t, first, second)
	props, _ := f.registry.Props().Get("x")
	assert.Equal(t, store.Fields{"count": 0}, props)
	shared, _ := f.registry.Shared().Get("x")
	assert.Same(t, second, shared)
}

func TestRegistry_Rendering(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.registry.SubscribeRendering(func() { calls++ })

	assert.False(t, f.registry.RenderingEnabled())
	f.registry.EnableRendering()
	f.registry.EnableRendering()
	assert.True(t, f.registry.RenderingEnabled())
	assert.Equal(t, 1, calls)

	f.registry.DisableRendering()
	assert.False(t, f.registry.RenderingEnabled())
	assert.Equal(t, 2, calls)
}

func TestRegistry_Mounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Mount(ctx, Descriptor{ID: "a", ComponentName: "Counter"}))
	require.NoError(t, f.registry.Mount(ctx, Descriptor{ID: "b", ComponentName: "Counter"}))

	assert.ElementsMatch(t, []string{"a", "b"}, f.registry.Mounted())
	assert.True(t, f.registry.IsKnown("a"))
	assert.False(t, f.registry.IsKnown("c"))
}
