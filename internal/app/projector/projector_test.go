package projector

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/app/duplicate"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

type fakeQueueSource struct {
	tracks []track.Ref
	err    error
}

func (s *fakeQueueSource) Queue(context.Context) ([]track.Ref, error) {
	return s.tracks, s.err
}

type fixture struct {
	projector *Projector
	source    *fakeQueueSource
	queue     *managedqueue.Queue
	ledger    *cooldown.Ledger
	guard     *duplicate.Guard
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ledger := cooldown.NewLedger(st)
	guard := duplicate.NewGuard(st)
	queue := managedqueue.NewQueue(st)
	source := &fakeQueueSource{}

	return &fixture{
		projector: New(source, queue, ledger, guard, cfg),
		source:    source,
		queue:     queue,
		ledger:    ledger,
		guard:     guard,
	}
}

func ref(id string) track.Ref {
	return track.Ref{URI: "spotify:track:" + id, Name: "Song " + id, Artist: "Artist"}
}

func TestProject_PriorityEntriesDisplayFirst(t *testing.T) {
	f := newFixture(t, Config{CooldownWindow: time.Hour, DisplayLimit: 25})
	ctx := context.Background()

	f.source.tracks = []track.Ref{ref("live1"), ref("live2")}
	_, err := f.queue.Add(ctx, ref("vip"), 0, true)
	require.NoError(t, err)
	// Non-priority pending entries are not prepended; they surface via the
	// live queue annotation once the provider reports them.
	_, err = f.queue.Add(ctx, ref("free"), 4, false)
	require.NoError(t, err)

	out, err := f.projector.Project(ctx)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "vip", out[0].Track.CanonicalID())
	assert.True(t, out[0].Priority)
	assert.True(t, out[0].IsGuestRequest)

	assert.Equal(t, "live1", out[1].Track.CanonicalID())
	assert.Equal(t, "live2", out[2].Track.CanonicalID())
}

func TestProject_AnnotatesGuestRequests(t *testing.T) {
	f := newFixture(t, Config{CooldownWindow: time.Hour, DisplayLimit: 25})
	ctx := context.Background()

	f.source.tracks = []track.Ref{ref("guest"), ref("organic")}
	_, err := f.queue.Add(ctx, ref("guest"), 4, false)
	require.NoError(t, err)

	out, err := f.projector.Project(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].IsGuestRequest)
	assert.False(t, out[0].Priority)
	assert.False(t, out[1].IsGuestRequest)
}

func TestProject_AnnotatesCooldown(t *testing.T) {
	f := newFixture(t, Config{CooldownWindow: time.Hour, DisplayLimit: 25})
	ctx := context.Background()

	f.source.tracks = []track.Ref{ref("hot"), ref("cold")}
	require.NoError(t, f.ledger.Record(ctx, ref("hot")))

	out, err := f.projector.Project(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].InCooldown)
	assert.Equal(t, 60, out[0].CooldownMinutes)
	assert.False(t, out[1].InCooldown)
	assert.Zero(t, out[1].CooldownMinutes)
}

func TestProject_DisplayLimitCapsLiveQueue(t *testing.T) {
	f := newFixture(t, Config{CooldownWindow: time.Hour, DisplayLimit: 2})
	ctx := context.Background()

	f.source.tracks = []track.Ref{ref("a"), ref("b"), ref("c"), ref("d")}
	_, err := f.queue.Add(ctx, ref("vip"), 0, true)
	require.NoError(t, err)

	out, err := f.projector.Project(ctx)
	require.NoError(t, err)

	// The cap applies to the live queue only, not the prepended entries.
	require.Len(t, out, 3)
	assert.Equal(t, "vip", out[0].Track.CanonicalID())
	assert.Equal(t, "a", out[1].Track.CanonicalID())
	assert.Equal(t, "b", out[2].Track.CanonicalID())
}

func TestProject_SourceErrorPropagates(t *testing.T) {
	f := newFixture(t, Config{CooldownWindow: time.Hour, DisplayLimit: 25})
	f.source.err = errors.New("provider unavailable")

	_, err := f.projector.Project(context.Background())
	assert.Error(t, err)
}

func TestAnnotateSearch(t *testing.T) {
	f := newFixture(t, Config{
		CooldownWindow: time.Hour,
		RecentWindow:   30 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, f.ledger.Record(ctx, ref("cooling")))
	require.NoError(t, f.guard.Acquire(ctx, ref("justadded")))
	f.guard.Release(ref("justadded"))

	out, err := f.projector.AnnotateSearch(ctx, []track.Ref{ref("cooling"), ref("justadded"), ref("plain")})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.True(t, out[0].InCooldown)
	assert.Equal(t, 60, out[0].CooldownMinutes)
	assert.False(t, out[0].RecentlyAdded)

	assert.False(t, out[1].InCooldown)
	assert.True(t, out[1].RecentlyAdded)

	assert.False(t, out[2].InCooldown)
	assert.False(t, out[2].RecentlyAdded)
}

func TestAnnotateSearch_EmptyResults(t *testing.T) {
	f := newFixture(t, Config{CooldownWindow: time.Hour, RecentWindow: 30 * time.Second})

	out, err := f.projector.AnnotateSearch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
