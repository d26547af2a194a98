// Package cooldown provides the per-track cooldown ledger.
package cooldown

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

// Verdict is the result of a cooldown check.
type Verdict struct {
	Allowed     bool
	MinutesLeft int
}

// Ledger answers "was this track played or queued too recently?".
// Every check reads the store fresh so multiple server instances agree;
// there is deliberately no in-memory cache.
type Ledger struct {
	store *store.Store
	now   func() time.Time
}

// NewLedger creates a new cooldown ledger.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{
		store: st,
		now:   time.Now,
	}
}

// Check reports whether the track is blocked by the cooldown window.
// When blocked, MinutesLeft is the remaining wait rounded up to whole
// minutes, so the message never understates the wait.
func (l *Ledger) Check(ctx context.Context, ref track.Ref, window time.Duration) (Verdict, error) {
	rec, err := l.store.FindCooldown(ctx, ref.CanonicalID())
	if err != nil {
		return Verdict{}, errors.Wrap(err, "cooldown check failed")
	}
	if rec == nil {
		return Verdict{Allowed: true}, nil
	}

	elapsed := l.now().Sub(rec.LastEventAt)
	if elapsed >= window {
		return Verdict{Allowed: true}, nil
	}

	return Verdict{MinutesLeft: minutesLeft(window - elapsed)}, nil
}

// Record unconditionally resets the track's last event time to now.
// Called both on successful admission and whenever the provider reports
// the track as currently playing.
func (l *Ledger) Record(ctx context.Context, ref track.Ref) error {
	err := l.store.UpsertCooldown(ctx, store.CooldownRecord{
		TrackID:     ref.CanonicalID(),
		TrackURI:    ref.URI,
		LastEventAt: l.now(),
	})
	return errors.Wrap(err, "failed to record cooldown event")
}

// Remaining returns the remaining cooldown minutes for each of the given
// canonical ids that is currently blocked. Used for queue and search
// display annotation.
func (l *Ledger) Remaining(ctx context.Context, trackIDs []string, window time.Duration) (map[string]int, error) {
	recs, err := l.store.FindCooldowns(ctx, trackIDs)
	if err != nil {
		return nil, errors.Wrap(err, "cooldown batch lookup failed")
	}

	now := l.now()
	remaining := make(map[string]int, len(recs))
	for _, rec := range recs {
		if elapsed := now.Sub(rec.LastEventAt); elapsed < window {
			remaining[rec.TrackID] = minutesLeft(window - elapsed)
		}
	}
	return remaining, nil
}

func minutesLeft(remaining time.Duration) int {
	return int((remaining + time.Minute - 1) / time.Minute)
}
