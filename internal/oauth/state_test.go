package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"shopgate/pkg/logger"
)

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()
	clock := time.Now()
	s.now = func() time.Time { return clock }

	h := Handshake{State: "s1", TenantID: "m1", ShopDomain: "shop1.example", ExpiresAt: clock.Add(time.Minute)}
	require.NoError(t, s.Save(ctx, h))

	pending, err := s.Pending(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, pending)

	got, err := s.Take(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = s.Take(ctx, "s1")
	assert.ErrorIs(t, err, ErrStateNotFound)

	pending, _ = s.Pending(ctx, "m1")
	assert.False(t, pending)

	t.Run("Should expire lazily", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, Handshake{State: "s2", TenantID: "m1", ExpiresAt: clock.Add(time.Minute)}))
		clock = clock.Add(time.Minute)
		pending, _ := s.Pending(ctx, "m1")
		assert.False(t, pending)
		_, err := s.Take(ctx, "s2")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("Should prune on save", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, Handshake{State: "old", TenantID: "m2", ExpiresAt: clock.Add(time.Second)}))
		clock = clock.Add(time.Hour)
		require.NoError(t, s.Save(ctx, Handshake{State: "new", TenantID: "m2", ExpiresAt: clock.Add(time.Minute)}))
		s.mu.Lock()
		defer s.mu.Unlock()
		assert.NotContains(t, s.states, "old")
		assert.Contains(t, s.states, "new")
	})
}

func TestMemoryStateStore_SingleUseUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()
	require.NoError(t, s.Save(ctx, Handshake{State: "s1", TenantID: "m1", ExpiresAt: time.Now().Add(time.Minute)}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "s1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRedisStateStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	s := NewRedisStateStore(client, "", logger.Nop())

	t.Run("Should take a state exactly once", func(t *testing.T) {
		h := Handshake{State: "s1", TenantID: "m1", ShopDomain: "shop1.example", ExpiresAt: time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)}
		require.NoError(t, s.Save(ctx, h))
		assert.True(t, mr.Exists("shopgate:oauth:state:s1"))

		pending, err := s.Pending(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, pending)

		got, err := s.Take(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, h.TenantID, got.TenantID)
		assert.Equal(t, h.ShopDomain, got.ShopDomain)
		assert.True(t, h.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.Take(ctx, "s1")
		assert.ErrorIs(t, err, ErrStateNotFound)

		pending, err = s.Pending(ctx, "m1")
		require.NoError(t, err)
		assert.False(t, pending)
	})

	t.Run("Should let keys expire with the handshake", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, Handshake{State: "s2", TenantID: "m2", ExpiresAt: time.Now().Add(30 * time.Second)}))
		mr.FastForward(31 * time.Second)
		_, err := s.Take(ctx, "s2")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("Should refuse an already expired handshake", func(t *testing.T) {
		err := s.Save(ctx, Handshake{State: "s3", TenantID: "m3", ExpiresAt: time.Now().Add(-time.Second)})
		assert.Error(t, err)
	})

	t.Run("Should drop expired pending entries", func(t *testing.T) {
		clock := time.Now()
		s.now = func() time.Time { return clock }
		defer func() { s.now = time.Now }()
		require.NoError(t, s.Save(ctx, Handshake{State: "s4", TenantID: "m4", ExpiresAt: clock.Add(time.Minute)}))
		clock = clock.Add(2 * time.Minute)
		pending, err := s.Pending(ctx, "m4")
		require.NoError(t, err)
		assert.False(t, pending)
	})
}

func TestRedisStateStore_TakeSurvivesIndexFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	core, logs := observer.New(zap.WarnLevel)
	s := NewRedisStateStore(client, "", zap.New(core).Sugar())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Handshake{State: "s1", TenantID: "m1", ShopDomain: "shop1.example", ExpiresAt: time.Now().Add(time.Minute)}))
	// Replace the pending index with a value of the wrong type so ZREM fails.
	mr.Del("shopgate:oauth:pending:m1")
	require.NoError(t, mr.Set("shopgate:oauth:pending:m1", "not-a-zset"))

	got, err := s.Take(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.TenantID)
	assert.False(t, mr.Exists("shopgate:oauth:state:s1"))

	entries := logs.FilterMessage("redis drop pending state failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ContextMap()["merchant_id"])
}
