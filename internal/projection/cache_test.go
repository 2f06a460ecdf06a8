package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

type reply struct {
	value bool
	err   error
}

type remoteCall struct {
	key     domain.Key
	desired bool
	reply   chan reply
}

// scriptedRemote hands every call to the test and waits for its reply.
type scriptedRemote struct {
	calls chan remoteCall
}

func newScriptedRemote() *scriptedRemote {
	return &scriptedRemote{calls: make(chan remoteCall, 16)}
}

func (r *scriptedRemote) Set(ctx context.Context, key domain.Key, desired bool) (bool, error) {
	c := remoteCall{key: key, desired: desired, reply: make(chan reply, 1)}
	r.calls <- c
	select {
	case rep := <-c.reply:
		return rep.value, rep.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *scriptedRemote) next(t *testing.T) remoteCall {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a remote call")
		return remoteCall{}
	}
}

func (r *scriptedRemote) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-r.calls:
		t.Fatalf("unexpected remote call desired=%v", c.desired)
	case <-time.After(50 * time.Millisecond):
	}
}

type toggleResult struct {
	value bool
	err   error
}

func toggleAsync(ctx context.Context, c *Cache, key domain.Key) <-chan toggleResult {
	out := make(chan toggleResult, 1)
	go func() {
		v, err := c.Toggle(ctx, key)
		out <- toggleResult{value: v, err: err}
	}()
	return out
}

func await(t *testing.T, ch <-chan toggleResult) toggleResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("toggle did not return")
		return toggleResult{}
	}
}

func displayed(c *Cache, key domain.Key) bool {
	v, _ := c.Value(key)
	return v
}

var likeKey = domain.Key{SubjectID: "alice", ResourceID: "post-1", Kind: domain.KindLike}

func TestCache_Toggle(t *testing.T) {
	ctx := context.Background()

	t.Run("shows the new value immediately and keeps it on success", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		cache.Prime(likeKey, false)

		done := toggleAsync(ctx, cache, likeKey)
		call := remote.next(t)
		assert.True(t, call.desired)
		assert.True(t, displayed(cache, likeKey))

		call.reply <- reply{value: true}
		res := await(t, done)
		require.NoError(t, res.err)
		assert.True(t, res.value)
		assert.True(t, displayed(cache, likeKey))
	})

	t.Run("rolls back to the pre-toggle value on failure", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		cache.Prime(likeKey, true)

		done := toggleAsync(ctx, cache, likeKey)
		call := remote.next(t)
		assert.False(t, call.desired)
		assert.False(t, displayed(cache, likeKey))

		call.reply <- reply{err: domain.ErrStorageConflict}
		res := await(t, done)
		assert.ErrorIs(t, res.err, domain.ErrStorageConflict)
		assert.True(t, displayed(cache, likeKey))
	})

	t.Run("times out as storage unavailable and ignores the late response", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{Timeout: 20 * time.Millisecond}, nil)
		cache.Prime(likeKey, false)

		done := toggleAsync(ctx, cache, likeKey)
		call := remote.next(t)

		res := await(t, done)
		assert.ErrorIs(t, res.err, domain.ErrStorageUnavailable)
		assert.False(t, displayed(cache, likeKey))

		call.reply <- reply{value: true}
		time.Sleep(20 * time.Millisecond)
		assert.False(t, displayed(cache, likeKey))
	})

	t.Run("the last intent wins and queued intents are dropped", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		cache.Prime(likeKey, false)

		first := toggleAsync(ctx, cache, likeKey)
		inFlight := remote.next(t)
		assert.True(t, inFlight.desired)

		second := toggleAsync(ctx, cache, likeKey)
		require.Eventually(t, func() bool { return !displayed(cache, likeKey) }, time.Second, time.Millisecond)

		third := toggleAsync(ctx, cache, likeKey)
		assert.ErrorIs(t, await(t, second).err, ErrSuperseded)
		assert.True(t, displayed(cache, likeKey))

		inFlight.reply <- reply{value: true}
		assert.ErrorIs(t, await(t, first).err, ErrSuperseded)

		latest := remote.next(t)
		assert.True(t, latest.desired)
		latest.reply <- reply{value: true}

		res := await(t, third)
		require.NoError(t, res.err)
		assert.True(t, res.value)
		assert.True(t, displayed(cache, likeKey))
		remote.assertIdle(t)
	})

	t.Run("a cancelled queued toggle leaves the in-flight result displayed", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		cache.Prime(likeKey, false)

		first := toggleAsync(ctx, cache, likeKey)
		inFlight := remote.next(t)
		assert.True(t, inFlight.desired)

		queuedCtx, cancel := context.WithCancel(ctx)
		queued := toggleAsync(queuedCtx, cache, likeKey)
		require.Eventually(t, func() bool { return !displayed(cache, likeKey) }, time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, await(t, queued).err, context.Canceled)
		assert.False(t, displayed(cache, likeKey))

		inFlight.reply <- reply{value: true}
		res := await(t, first)
		require.NoError(t, res.err)
		assert.True(t, res.value)
		assert.True(t, displayed(cache, likeKey))
		remote.assertIdle(t)
	})

	t.Run("a failed latest intent rolls back to the last confirmed value", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		cache.Prime(likeKey, false)

		first := toggleAsync(ctx, cache, likeKey)
		inFlight := remote.next(t)
		second := toggleAsync(ctx, cache, likeKey)
		require.Eventually(t, func() bool { return !displayed(cache, likeKey) }, time.Second, time.Millisecond)

		inFlight.reply <- reply{value: true}
		assert.ErrorIs(t, await(t, first).err, ErrSuperseded)
		assert.False(t, displayed(cache, likeKey), "a superseded result is not shown")

		latest := remote.next(t)
		assert.False(t, latest.desired)
		latest.reply <- reply{err: errors.New("boom")}

		res := await(t, second)
		assert.Error(t, res.err)
		assert.True(t, displayed(cache, likeKey))
	})

	t.Run("caller cancellation rolls back the display but not the remote call", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		cache.Prime(likeKey, false)

		cctx, cancel := context.WithCancel(ctx)
		done := toggleAsync(cctx, cache, likeKey)
		call := remote.next(t)

		cancel()
		res := await(t, done)
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.False(t, displayed(cache, likeKey))

		call.reply <- reply{value: true}
		assert.Eventually(t, func() bool { return displayed(cache, likeKey) }, time.Second, time.Millisecond)
	})

	t.Run("different keys do not wait for each other", func(t *testing.T) {
		remote := newScriptedRemote()
		cache := NewCache(remote, Config{}, nil)
		other := domain.Key{SubjectID: "alice", ResourceID: "post-2", Kind: domain.KindLike}

		a := toggleAsync(ctx, cache, likeKey)
		b := toggleAsync(ctx, cache, other)
		calls := []remoteCall{remote.next(t), remote.next(t)}
		assert.ElementsMatch(t, []domain.Key{likeKey, other}, []domain.Key{calls[0].key, calls[1].key})

		for _, c := range calls {
			c.reply <- reply{value: true}
		}
		require.NoError(t, await(t, a).err)
		require.NoError(t, await(t, b).err)
	})
}

func TestCache_PrimeAndValue(t *testing.T) {
	cache := NewCache(newScriptedRemote(), Config{}, nil)

	v, known := cache.Value(likeKey)
	assert.False(t, v)
	assert.False(t, known)

	cache.Prime(likeKey, true)
	v, known = cache.Value(likeKey)
	assert.True(t, v)
	assert.True(t, known)
}
