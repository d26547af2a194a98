// Package managedqueue provides the system's own record of guest-submitted
// tracks that are not yet confirmed played.
package managedqueue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/store"
)

// Entry is a managed queue entry. Position is the ordering hint among
// non-priority entries; priority entries always display first.
type Entry struct {
	ID       string
	Track    track.Ref
	Position int
	Priority bool
	Played   bool
	AddedAt  time.Time
}

// Queue manages the guest request entries.
type Queue struct {
	store *store.Store
	now   func() time.Time
}

// NewQueue creates a new managed queue over the given store.
func NewQueue(st *store.Store) *Queue {
	return &Queue{
		store: st,
		now:   time.Now,
	}
}

// Add inserts a new pending entry. Uniqueness is not enforced here; callers
// are expected to check Contains first.
func (q *Queue) Add(ctx context.Context, ref track.Ref, position int, priority bool) (*Entry, error) {
	rec := &store.QueueEntry{
		PublicID: uuid.New().String(),
		TrackID:  ref.CanonicalID(),
		URI:      ref.URI,
		Name:     ref.Name,
		Artist:   ref.Artist,
		AlbumArt: ref.AlbumArtURL,
		Position: position,
		Priority: priority,
		AddedAt:  q.now(),
	}
	if err := q.store.InsertQueueEntry(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "failed to add queue entry")
	}
	entry := toEntry(rec)
	return &entry, nil
}

// Contains reports whether an unplayed entry exists for the track.
func (q *Queue) Contains(ctx context.Context, ref track.Ref) (bool, error) {
	return q.store.HasPendingEntry(ctx, ref.CanonicalID())
}

// PromoteToPriority flags the matching unplayed entry as priority with
// ordering hint 0. Idempotent; returns false when no pending entry exists,
// in which case the caller decides whether to add one instead.
func (q *Queue) PromoteToPriority(ctx context.Context, ref track.Ref) (bool, error) {
	n, err := q.store.PromotePending(ctx, ref.CanonicalID())
	if err != nil {
		return false, errors.Wrap(err, "failed to promote entry")
	}
	return n > 0, nil
}

// MarkPlayed flags all entries matching the track's canonical id as played.
// Marking an already-played or absent track is a no-op.
func (q *Queue) MarkPlayed(ctx context.Context, ref track.Ref) error {
	_, err := q.store.MarkPlayed(ctx, ref.CanonicalID(), q.now())
	return errors.Wrap(err, "failed to mark entry played")
}

// ListPending returns all unplayed entries ordered by
// (priority desc, ordering hint asc), ties broken by insertion order.
func (q *Queue) ListPending(ctx context.Context) ([]Entry, error) {
	recs, err := q.store.PendingEntries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending entries")
	}
	entries := make([]Entry, len(recs))
	for i := range recs {
		entries[i] = toEntry(&recs[i])
	}
	return entries, nil
}

// PendingIDs returns which of the given canonical ids have an unplayed
// entry. Used for queue display annotation.
func (q *Queue) PendingIDs(ctx context.Context, trackIDs []string) (map[string]bool, error) {
	return q.store.PendingTrackIDs(ctx, trackIDs)
}

// Cleanup deletes played entries older than the retention window.
// Pure housekeeping; never affects ordering semantics.
func (q *Queue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := q.store.DeletePlayedBefore(ctx, q.now().Add(-retention))
	return n, errors.Wrap(err, "failed to clean up played entries")
}

// Purge deletes all entries. Used by the admin reset after re-authentication,
// when the provider's session state is assumed stale.
func (q *Queue) Purge(ctx context.Context) error {
	return q.store.PurgeQueueEntries(ctx)
}

func toEntry(rec *store.QueueEntry) Entry {
	return Entry{
		ID: rec.PublicID,
		Track: track.Ref{
			URI:         rec.URI,
			Name:        rec.Name,
			Artist:      rec.Artist,
			AlbumArtURL: rec.AlbumArt,
		},
		Position: rec.Position,
		Priority: rec.Priority,
		Played:   rec.Played,
		AddedAt:  rec.AddedAt,
	}
}
