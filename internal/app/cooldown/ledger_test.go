package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewLedger(st)
}

func TestLedger_CheckAllowsUnknownTrack(t *testing.T) {
	ledger := newTestLedger(t)

	verdict, err := ledger.Check(context.Background(), track.Ref{URI: "spotify:track:abc"}, time.Hour)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Zero(t, verdict.MinutesLeft)
}

func TestLedger_BlockedAfterRecord(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	ref := track.Ref{URI: "spotify:track:abc", Name: "Song"}

	base := time.Now()
	ledger.now = func() time.Time { return base }
	require.NoError(t, ledger.Record(ctx, ref))

	tests := []struct {
		name        string
		elapsed     time.Duration
		wantAllowed bool
		wantMinutes int
	}{
		{"10 seconds later", 10 * time.Second, false, 60},
		{"30 minutes later", 30 * time.Minute, false, 30},
		{"one second before expiry", time.Hour - time.Second, false, 1},
		{"exactly at window", time.Hour, true, 0},
		{"past window", time.Hour + time.Second, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger.now = func() time.Time { return base.Add(tt.elapsed) }
			verdict, err := ledger.Check(ctx, ref, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, verdict.Allowed)
			assert.Equal(t, tt.wantMinutes, verdict.MinutesLeft)
		})
	}
}

func TestLedger_MinutesLeftNeverIncreases(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	ref := track.Ref{URI: "spotify:track:abc"}

	base := time.Now()
	ledger.now = func() time.Time { return base }
	require.NoError(t, ledger.Record(ctx, ref))

	prev := 61
	for elapsed := time.Duration(0); elapsed < time.Hour; elapsed += 5 * time.Minute {
		ledger.now = func() time.Time { return base.Add(elapsed) }
		verdict, err := ledger.Check(ctx, ref, time.Hour)
		require.NoError(t, err)
		require.False(t, verdict.Allowed)
		assert.LessOrEqual(t, verdict.MinutesLeft, prev)
		prev = verdict.MinutesLeft
	}
}

func TestLedger_RecordAlwaysOverwrites(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	ref := track.Ref{URI: "spotify:track:abc"}

	base := time.Now()
	ledger.now = func() time.Time { return base.Add(-2 * time.Hour) }
	require.NoError(t, ledger.Record(ctx, ref))

	// Re-recording resets the window even though the old record expired.
	ledger.now = func() time.Time { return base }
	require.NoError(t, ledger.Record(ctx, ref))

	ledger.now = func() time.Time { return base.Add(time.Minute) }
	verdict, err := ledger.Check(ctx, ref, time.Hour)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, 59, verdict.MinutesLeft)
}

func TestLedger_KeysOnCanonicalID(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, track.Ref{URI: "spotify:track:abc"}))

	// Bare ID and URI forms resolve to the same record.
	verdict, err := ledger.Check(ctx, track.Ref{URI: "abc"}, time.Hour)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
}

func TestLedger_Remaining(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	base := time.Now()
	ledger.now = func() time.Time { return base }
	require.NoError(t, ledger.Record(ctx, track.Ref{URI: "spotify:track:aaa"}))

	ledger.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, ledger.Record(ctx, track.Ref{URI: "spotify:track:bbb"}))

	ledger.now = func() time.Time { return base.Add(61 * time.Minute) }
	remaining, err := ledger.Remaining(ctx, []string{"aaa", "bbb", "ccc"}, time.Hour)
	require.NoError(t, err)

	// aaa expired, bbb has 29 minutes left, ccc was never recorded.
	assert.NotContains(t, remaining, "aaa")
	assert.Equal(t, 29, remaining["bbb"])
	assert.NotContains(t, remaining, "ccc")
}
