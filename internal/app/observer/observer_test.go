package observer

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

type fakeSource struct {
	np  *track.NowPlaying
	err error
}

func (s *fakeSource) NowPlaying(context.Context) (*track.NowPlaying, error) {
	return s.np, s.err
}

type fixture struct {
	observer *Observer
	source   *fakeSource
	ledger   *cooldown.Ledger
	queue    *managedqueue.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ledger := cooldown.NewLedger(st)
	queue := managedqueue.NewQueue(st)
	source := &fakeSource{}

	return &fixture{
		observer: New(source, ledger, queue, Config{
			PollInterval:  5 * time.Second,
			Retention:     2 * time.Hour,
			CleanupEveryN: 60,
		}),
		source: source,
		ledger: ledger,
		queue:  queue,
	}
}

func playing(id string) *track.NowPlaying {
	return &track.NowPlaying{
		Track:      track.Ref{URI: "spotify:track:" + id, Name: "Song " + id},
		Playing:    true,
		ProgressMs: 30000,
		DurationMs: 180000,
	}
}

func TestObserve_MarksPlayedAndRearmsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Add(ctx, track.Ref{URI: "spotify:track:abc"}, 4, false)
	require.NoError(t, err)

	f.source.np = playing("abc")
	f.observer.Observe(ctx)

	pending, err := f.queue.Contains(ctx, track.Ref{URI: "spotify:track:abc"})
	require.NoError(t, err)
	assert.False(t, pending)

	verdict, err := f.ledger.Check(ctx, track.Ref{URI: "spotify:track:abc"}, time.Hour)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)

	np := f.observer.Latest()
	require.NotNil(t, np)
	assert.Equal(t, "abc", np.Track.CanonicalID())
	assert.True(t, np.Playing)
}

func TestObserve_RepeatedCyclesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Add(ctx, track.Ref{URI: "spotify:track:abc"}, 4, false)
	require.NoError(t, err)

	f.source.np = playing("abc")
	for i := 0; i < 3; i++ {
		f.observer.Observe(ctx)
	}

	pending, err := f.queue.Contains(ctx, track.Ref{URI: "spotify:track:abc"})
	require.NoError(t, err)
	assert.False(t, pending)

	verdict, err := f.ledger.Check(ctx, track.Ref{URI: "spotify:track:abc"}, time.Hour)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
}

func TestObserve_PollErrorDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.np = playing("abc")
	f.observer.Observe(ctx)

	// A failed poll keeps the previous snapshot.
	f.source.err = errors.New("poll failed")
	f.observer.Observe(ctx)
	require.NotNil(t, f.observer.Latest())

	// Nothing playing clears it.
	f.source.err = nil
	f.source.np = nil
	f.observer.Observe(ctx)
	assert.Nil(t, f.observer.Latest())
}

func TestLatest_NilBeforeFirstCycle(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.observer.Latest())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	f.observer.cfg.PollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.observer.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer did not stop after cancel")
	}
}
