package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/islandsync/internal/core/observability/log"
)

type fakeComponent struct{ name string }

type fakeProvider struct{ name string }

func TestResolver_DirectAndProvider(t *testing.T) {
	shared := &fakeProvider{"shared"}
	own := &fakeProvider{"own"}
	r := New(shared, log.NewNop())

	counter := &fakeComponent{"Counter"}
	chart := &fakeComponent{"Chart"}
	require.NoError(t, r.Register("Counter", Direct(counter)))
	require.NoError(t, r.Register("Chart", WithProvider(chart, own)))

	res, ok := r.Cached("Counter")
	require.True(t, ok)
	assert.Same(t, counter, res.Component)
	assert.Same(t, shared, res.ContextProvider)

	res, ok = r.Cached("Chart")
	require.True(t, ok)
	assert.Same(t, own, res.ContextProvider)
}

func TestResolver_ResolveCachedIsSynchronous(t *testing.T) {
	r := New(nil, log.NewNop())
	require.NoError(t, r.Register("Counter", Direct(&fakeComponent{})))

	called := false
	r.Resolve(context.Background(), "Counter", func(res Resolved, err error) {
		called = true
		assert.NoError(t, err)
		assert.Equal(t, "Counter", res.Name)
	})
	assert.True(t, called)
}

func TestResolver_UnknownComponent(t *testing.T) {
	r := New(nil, log.NewNop())

	var got error
	r.Resolve(context.Background(), "Missing", func(_ Resolved, err error) { got = err })
	assert.ErrorIs(t, got, ErrComponentNotFound)

	_, err := r.ResolveSync(context.Background(), "Missing")
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestResolver_InvalidRegistrations(t *testing.T) {
	r := New(nil, log.NewNop())

	assert.ErrorIs(t, r.Register("", Direct(&fakeComponent{})), ErrEmptyName)
	assert.ErrorIs(t, r.Register("A", Entry{}), ErrInvalidEntry)
	assert.ErrorIs(t, r.Register("B", Direct(nil)), ErrInvalidEntry)
	assert.ErrorIs(t, r.Register("C", Lazy(nil)), ErrInvalidEntry)
}

func TestResolver_LazyLoadsOnce(t *testing.T) {
	r := New(nil, log.NewNop())

	var calls atomic.Int32
	release := make(chan struct{})
	component := &fakeComponent{"Expensive"}
	require.NoError(t, r.Register("Expensive", Lazy(func(ctx context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Direct(component), nil
	})))

	_, cached := r.Cached("Expensive")
	assert.False(t, cached)

	var wg sync.WaitGroup
	results := make(chan Resolved, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		r.Resolve(context.Background(), "Expensive", func(res Resolved, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			results <- res
		})
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for res := range results {
		assert.Same(t, component, res.Component)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, r.Loads("Expensive"))

	// later resolutions hit the cache
	res, err := r.ResolveSync(context.Background(), "Expensive")
	require.NoError(t, err)
	assert.Same(t, component, res.Component)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolver_LazyFailureIsNotCached(t *testing.T) {
	r := New(nil, log.NewNop())

	var calls atomic.Int32
	require.NoError(t, r.Register("Flaky", Lazy(func(ctx context.Context) (Entry, error) {
		if calls.Add(1) == 1 {
			return Entry{}, errors.New("chunk load failed")
		}
		return Direct(&fakeComponent{}), nil
	})))

	_, err := r.ResolveSync(context.Background(), "Flaky")
	require.Error(t, err)

	_, err = r.ResolveSync(context.Background(), "Flaky")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolver_LazyMustNotReturnLazy(t *testing.T) {
	r := New(nil, log.NewNop())
	require.NoError(t, r.Register("Nested", Lazy(func(ctx context.Context) (Entry, error) {
		return Lazy(func(context.Context) (Entry, error) { return Direct(&fakeComponent{}), nil }), nil
	})))

	_, err := r.ResolveSync(context.Background(), "Nested")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}
