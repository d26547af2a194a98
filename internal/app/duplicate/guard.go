// Package duplicate provides the short-window duplicate admission guard.
package duplicate

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

// Guard errors.
var (
	// ErrPending means the in-process lock is held: the same track is mid-admission
	// in this process right now.
	ErrPending = errors.New("track is already being added")
	// ErrRecentlyAdded means the durable recent-additions record is still fresh.
	ErrRecentlyAdded = errors.New("track was just added")
)

// Guard prevents the same track from being admitted twice within a small
// window. The in-process map is a latency optimization for rapid repeated
// clicks; the durable record is the tier that holds across restarts and
// between instances. Neither is a correctness mechanism: a race where two
// instances both pass the check costs one duplicate admission, nothing more.
type Guard struct {
	mu      sync.Mutex
	pending map[string]time.Time

	store *store.Store
	now   func() time.Time
}

// NewGuard creates a new duplicate guard with an empty lock map.
func NewGuard(st *store.Store) *Guard {
	return &Guard{
		pending: make(map[string]time.Time),
		store:   st,
		now:     time.Now,
	}
}

// Check reports whether the track is currently locked. The in-process map
// is consulted first so rapid duplicate clicks are rejected without a store
// round trip; expired map entries are lazily dropped.
func (g *Guard) Check(ctx context.Context, ref track.Ref, memWindow, storeWindow time.Duration) error {
	id := ref.CanonicalID()
	now := g.now()

	g.mu.Lock()
	if lockedAt, ok := g.pending[id]; ok {
		if now.Sub(lockedAt) < memWindow {
			g.mu.Unlock()
			return ErrPending
		}
		delete(g.pending, id)
	}
	g.mu.Unlock()

	rec, err := g.store.FindRecentAddition(ctx, id)
	if err != nil {
		return errors.Wrap(err, "duplicate check failed")
	}
	if rec != nil && now.Sub(rec.AddedAt) < storeWindow {
		return ErrRecentlyAdded
	}
	return nil
}

// Acquire sets both tiers of the lock. Must run before the provider call so
// a concurrent duplicate request during the network round trip is blocked.
func (g *Guard) Acquire(ctx context.Context, ref track.Ref) error {
	id := ref.CanonicalID()
	now := g.now()

	g.mu.Lock()
	g.pending[id] = now
	g.mu.Unlock()

	err := g.store.UpsertRecentAddition(ctx, store.RecentAddition{
		TrackID: id,
		AddedAt: now,
	})
	return errors.Wrap(err, "failed to acquire duplicate lock")
}

// Release removes the in-process lock entry so a legitimate retry can
// proceed after a failure. The durable record intentionally persists; its
// window still applies to new concurrent attempts. Releasing an absent
// entry is a no-op.
func (g *Guard) Release(ref track.Ref) {
	g.mu.Lock()
	delete(g.pending, ref.CanonicalID())
	g.mu.Unlock()
}

// RecentlyAdded returns which of the given canonical ids have a fresh
// durable record. Used for search display annotation.
func (g *Guard) RecentlyAdded(ctx context.Context, trackIDs []string, window time.Duration) (map[string]bool, error) {
	recs, err := g.store.FindRecentAdditions(ctx, trackIDs)
	if err != nil {
		return nil, errors.Wrap(err, "recent additions lookup failed")
	}

	now := g.now()
	recent := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if now.Sub(rec.AddedAt) < window {
			recent[rec.TrackID] = true
		}
	}
	return recent, nil
}
