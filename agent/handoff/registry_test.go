package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/agent/persistence"
)

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	reg := NewRegistry(nil, &recordingOrchestrator{}, DefaultCoordinatorConfig(), zap.NewNop())
	ctx := context.Background()

	a, err := reg.Session(ctx, "a")
	require.NoError(t, err)
	b, err := reg.Session(ctx, "b")
	require.NoError(t, err)

	again, err := reg.Session(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = a.RequestHandoff(ctx, "main", "script", "", nil)
	require.NoError(t, err)
	assert.Len(t, a.GetHandoffs(), 1)
	assert.Empty(t, b.GetHandoffs())

	_, err = reg.Session(ctx, "")
	assert.Error(t, err)
}

func TestRegistry_RestoresFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	newStore := func() persistence.SessionStore {
		store, err := persistence.NewRedisSessionStore(persistence.StoreConfig{
			Namespace: "handoff",
			Redis:     persistence.RedisStoreConfig{Addr: mr.Addr()},
		})
		require.NoError(t, err)
		return store
	}
	ctx := context.Background()

	first := NewRegistry(newStore(), &recordingOrchestrator{}, DefaultCoordinatorConfig(), zap.NewNop())
	c, err := first.Session(ctx, "s1")
	require.NoError(t, err)
	req, err := c.RequestHandoff(ctx, "main", "image", "", nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := NewRegistry(newStore(), &recordingOrchestrator{}, DefaultCoordinatorConfig(), zap.NewNop())
	defer second.Close()
	restored, err := second.Session(ctx, "s1")
	require.NoError(t, err)

	got, ok := restored.GetHandoff(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRegistry_SweepAllSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := persistence.NewMemorySessionStore()
	reg := NewRegistry(store, &recordingOrchestrator{}, DefaultCoordinatorConfig(), zap.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		c, err := reg.Session(ctx, id)
		require.NoError(t, err)
		req, _ := c.RequestHandoff(ctx, "main", "script", "", nil)
		require.True(t, c.ProcessHandoff(ctx, req.ID, nil).Success)
	}

	clock.Advance(25 * time.Hour)
	removed, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	reg := NewRegistry(nil, nil, CoordinatorConfig{SweepInterval: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
