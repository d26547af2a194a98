// Package projector composes the managed queue and the provider's live
// queue into a single ordered view for display.
package projector

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/app/duplicate"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/domain/track"
)

// QueueSource is the provider's live queue as seen by the projector.
type QueueSource interface {
	Queue(ctx context.Context) ([]track.Ref, error)
}

// DisplayTrack is one row of the projected queue.
type DisplayTrack struct {
	Track           track.Ref
	IsGuestRequest  bool
	Priority        bool
	InCooldown      bool
	CooldownMinutes int
}

// SearchTrack is one annotated search result.
type SearchTrack struct {
	Track           track.Ref
	InCooldown      bool
	CooldownMinutes int
	RecentlyAdded   bool
}

// Config holds projector tunables.
type Config struct {
	CooldownWindow time.Duration // for display annotation
	RecentWindow   time.Duration // durable duplicate-lock window
	DisplayLimit   int           // provider queue display cap
}

// Projector is read-only: it never mutates the managed queue or the store.
type Projector struct {
	provider QueueSource
	queue    *managedqueue.Queue
	ledger   *cooldown.Ledger
	guard    *duplicate.Guard
	cfg      Config
}

// New creates a new projector.
func New(provider QueueSource, queue *managedqueue.Queue, ledger *cooldown.Ledger, guard *duplicate.Guard, cfg Config) *Projector {
	return &Projector{
		provider: provider,
		queue:    queue,
		ledger:   ledger,
		guard:    guard,
		cfg:      cfg,
	}
}

// Project returns the display queue: pending priority entries first, then
// the provider's live queue annotated with guest-request membership and
// cooldown state.
//
// Priority entries display ahead of the live queue because the provider
// cannot actually be reordered; the displayed order knowingly diverges from
// true playback order, and that divergence is the point.
func (p *Projector) Project(ctx context.Context) ([]DisplayTrack, error) {
	live, err := p.provider.Queue(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch live queue")
	}
	if p.cfg.DisplayLimit > 0 && len(live) > p.cfg.DisplayLimit {
		live = live[:p.cfg.DisplayLimit]
	}

	pending, err := p.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(live))
	for _, t := range live {
		ids = append(ids, t.CanonicalID())
	}
	guestIDs, err := p.queue.PendingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	cooldowns, err := p.ledger.Remaining(ctx, ids, p.cfg.CooldownWindow)
	if err != nil {
		return nil, err
	}

	out := make([]DisplayTrack, 0, len(pending)+len(live))
	for _, e := range pending {
		if !e.Priority {
			continue
		}
		out = append(out, DisplayTrack{
			Track:          e.Track,
			IsGuestRequest: true,
			Priority:       true,
		})
	}
	for _, t := range live {
		id := t.CanonicalID()
		mins := cooldowns[id]
		out = append(out, DisplayTrack{
			Track:           t,
			IsGuestRequest:  guestIDs[id],
			InCooldown:      mins > 0,
			CooldownMinutes: mins,
		})
	}
	return out, nil
}

// AnnotateSearch decorates provider search results with cooldown state and
// the recently-added flag, using batch store lookups.
func (p *Projector) AnnotateSearch(ctx context.Context, results []track.Ref) ([]SearchTrack, error) {
	ids := make([]string, len(results))
	for i, t := range results {
		ids[i] = t.CanonicalID()
	}

	cooldowns, err := p.ledger.Remaining(ctx, ids, p.cfg.CooldownWindow)
	if err != nil {
		return nil, err
	}
	recent, err := p.guard.RecentlyAdded(ctx, ids, p.cfg.RecentWindow)
	if err != nil {
		return nil, err
	}

	out := make([]SearchTrack, len(results))
	for i, t := range results {
		id := t.CanonicalID()
		mins := cooldowns[id]
		out[i] = SearchTrack{
			Track:           t,
			InCooldown:      mins > 0,
			CooldownMinutes: mins,
			RecentlyAdded:   recent[id],
		}
	}
	return out, nil
}
