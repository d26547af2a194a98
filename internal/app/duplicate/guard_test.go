package duplicate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

const (
	memWindow   = 5 * time.Second
	storeWindow = 30 * time.Second
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewGuard(st)
}

func TestGuard_CheckPassesWhenUnlocked(t *testing.T) {
	guard := newTestGuard(t)

	err := guard.Check(context.Background(), track.Ref{URI: "spotify:track:abc"}, memWindow, storeWindow)
	assert.NoError(t, err)
}

func TestGuard_AcquireBlocksBothTiers(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()
	ref := track.Ref{URI: "spotify:track:abc"}

	require.NoError(t, guard.Acquire(ctx, ref))

	// In-process lock fires first.
	err := guard.Check(ctx, ref, memWindow, storeWindow)
	assert.ErrorIs(t, err, ErrPending)

	// After release the durable record still blocks.
	guard.Release(ref)
	err = guard.Check(ctx, ref, memWindow, storeWindow)
	assert.ErrorIs(t, err, ErrRecentlyAdded)
}

func TestGuard_WindowsExpireIndependently(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()
	ref := track.Ref{URI: "spotify:track:abc"}

	base := time.Now()
	guard.now = func() time.Time { return base }
	require.NoError(t, guard.Acquire(ctx, ref))

	// Past the in-process window but inside the durable one.
	guard.now = func() time.Time { return base.Add(10 * time.Second) }
	err := guard.Check(ctx, ref, memWindow, storeWindow)
	assert.ErrorIs(t, err, ErrRecentlyAdded)

	// Past both windows.
	guard.now = func() time.Time { return base.Add(31 * time.Second) }
	err = guard.Check(ctx, ref, memWindow, storeWindow)
	assert.NoError(t, err)
}

func TestGuard_ReleaseKeepsDurableRecord(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()
	ref := track.Ref{URI: "spotify:track:abc"}

	require.NoError(t, guard.Acquire(ctx, ref))
	guard.Release(ref)

	recent, err := guard.RecentlyAdded(ctx, []string{"abc"}, storeWindow)
	require.NoError(t, err)
	assert.True(t, recent["abc"])
}

func TestGuard_ReleaseAbsentIsNoop(t *testing.T) {
	guard := newTestGuard(t)

	guard.Release(track.Ref{URI: "spotify:track:never-acquired"})
	guard.Release(track.Ref{URI: "spotify:track:never-acquired"})
}

func TestGuard_RecentlyAdded(t *testing.T) {
	guard := newTestGuard(t)
	ctx := context.Background()

	base := time.Now()
	guard.now = func() time.Time { return base.Add(-time.Minute) }
	require.NoError(t, guard.Acquire(ctx, track.Ref{URI: "spotify:track:old"}))

	guard.now = func() time.Time { return base }
	require.NoError(t, guard.Acquire(ctx, track.Ref{URI: "spotify:track:fresh"}))

	recent, err := guard.RecentlyAdded(ctx, []string{"old", "fresh", "unknown"}, storeWindow)
	require.NoError(t, err)
	assert.False(t, recent["old"])
	assert.True(t, recent["fresh"])
	assert.False(t, recent["unknown"])
}
