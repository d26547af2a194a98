// Package admission provides the request admission state machine.
package admission

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/app/duplicate"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/app/rule"
	"github.com/sdisco/requestbox/internal/domain/track"
	"github.com/sdisco/requestbox/internal/infra/spotify"
)

// Provider is the external playback provider as seen by admission: an
// append-only queue plus a snapshot of its current contents.
type Provider interface {
	Append(ctx context.Context, ref track.Ref) error
	Queue(ctx context.Context) ([]track.Ref, error)
}

// Config holds admission tunables.
type Config struct {
	// PositionGrace is the named delay before the best-effort position
	// lookup; the accept/reject decision is already final by then.
	PositionGrace time.Duration
	// MemoryWindow and StoreWindow are the duplicate guard windows, used
	// directly on the priority path (the free path runs them via the rule
	// chain).
	MemoryWindow time.Duration
	StoreWindow  time.Duration
}

// Outcome describes a successful admission.
type Outcome struct {
	Track    track.Ref
	Hint     int  // ordering hint assigned to the managed queue entry
	Priority bool // admitted on the priority path
	Promoted bool // an existing pending entry was promoted instead
	Position int  // 1-indexed provider queue position, 0 when unknown
}

// Controller orchestrates cooldown, duplicate and pending checks, the
// provider append, and the bookkeeping that follows an acceptance.
type Controller struct {
	provider Provider
	chain    *rule.Chain
	guard    *duplicate.Guard
	ledger   *cooldown.Ledger
	queue    *managedqueue.Queue
	counter  *managedqueue.Counter
	cfg      Config

	sleep func(time.Duration)
}

// NewController creates a new admission controller.
func NewController(
	provider Provider,
	chain *rule.Chain,
	guard *duplicate.Guard,
	ledger *cooldown.Ledger,
	queue *managedqueue.Queue,
	counter *managedqueue.Counter,
	cfg Config,
) *Controller {
	return &Controller{
		provider: provider,
		chain:    chain,
		guard:    guard,
		ledger:   ledger,
		queue:    queue,
		counter:  counter,
		cfg:      cfg,
		sleep:    time.Sleep,
	}
}

// Request admits a track on the free path.
func (c *Controller) Request(ctx context.Context, ref track.Ref) (*Outcome, error) {
	result, err := c.chain.Execute(ctx, ref, rule.PathFree)
	if err != nil {
		return nil, errors.Wrap(err, "admission check failed")
	}
	if !result.Accepted {
		return nil, &Rejection{Code: result.Code, MinutesLeft: result.MinutesLeft}
	}

	return c.admit(ctx, ref, false)
}

// RequestPriority admits a track on the priority path. Idempotent: when the
// track already has a pending entry it is promoted in place; otherwise it is
// admitted fresh as a priority entry. The cooldown rule applies either way,
// and the position counter is never advanced, so the free-queue cadence is
// unaffected by priority insertions.
func (c *Controller) RequestPriority(ctx context.Context, ref track.Ref) (*Outcome, error) {
	result, err := c.chain.Execute(ctx, ref, rule.PathPriority)
	if err != nil {
		return nil, errors.Wrap(err, "admission check failed")
	}
	if !result.Accepted {
		return nil, &Rejection{Code: result.Code, MinutesLeft: result.MinutesLeft}
	}

	promoted, err := c.queue.PromoteToPriority(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "promotion failed")
	}
	if promoted {
		if err := c.ledger.Record(ctx, ref); err != nil {
			return nil, errors.Wrap(err, "failed to record cooldown event")
		}
		zlog.Info().Str("track", ref.CanonicalID()).Msg("promoted pending request to priority")
		return &Outcome{Track: ref, Priority: true, Promoted: true}, nil
	}

	// Fresh priority admission. The guard still applies: a track that is
	// mid-admission or seconds old is the same "already pending" signal
	// whether it came from the managed queue or the duplicate ledger.
	if err := c.guard.Check(ctx, ref, c.cfg.MemoryWindow, c.cfg.StoreWindow); err != nil {
		switch {
		case errors.Is(err, duplicate.ErrPending):
			return nil, &Rejection{Code: "duplicate_pending"}
		case errors.Is(err, duplicate.ErrRecentlyAdded):
			return nil, &Rejection{Code: "recently_added"}
		default:
			return nil, errors.Wrap(err, "duplicate check failed")
		}
	}

	return c.admit(ctx, ref, true)
}

// admit runs the lock-append-record sequence shared by both paths.
func (c *Controller) admit(ctx context.Context, ref track.Ref, priority bool) (outcome *Outcome, err error) {
	if err := c.guard.Acquire(ctx, ref); err != nil {
		c.guard.Release(ref)
		return nil, errors.Wrap(err, "failed to acquire duplicate lock")
	}
	// The in-process lock is released on every exit path. On success the
	// durable record keeps covering new attempts for its full window; on
	// failure releasing lets a legitimate retry through quickly.
	defer c.guard.Release(ref)

	if err := c.provider.Append(ctx, ref); err != nil {
		if errors.Is(err, spotify.ErrNoActiveDevice) {
			return nil, &Rejection{Code: "no_active_device"}
		}
		zlog.Error().Err(err).Str("track", ref.CanonicalID()).Msg("provider append failed")
		return nil, &Rejection{Code: "append_failed"}
	}

	// Best-effort queue snapshot after a short grace period. Informational
	// only: it caps the ordering hint and yields the reported position, but
	// the admission is already accepted.
	var snapshot []track.Ref
	if c.cfg.PositionGrace > 0 {
		c.sleep(c.cfg.PositionGrace)
	}
	snapshot, snapErr := c.provider.Queue(ctx)
	if snapErr != nil {
		zlog.Debug().Err(snapErr).Msg("queue snapshot failed, position unknown")
		snapshot = nil
	}

	hint := 0
	if !priority {
		hint, err = c.counter.Next(ctx, len(snapshot))
		if err != nil {
			return nil, errors.Wrap(err, "failed to compute ordering hint")
		}
	}

	if _, err := c.queue.Add(ctx, ref, hint, priority); err != nil {
		return nil, errors.Wrap(err, "failed to record managed queue entry")
	}
	if err := c.ledger.Record(ctx, ref); err != nil {
		return nil, errors.Wrap(err, "failed to record cooldown event")
	}

	position := queuePosition(snapshot, ref)
	zlog.Info().
		Str("track", ref.CanonicalID()).
		Bool("priority", priority).
		Int("hint", hint).
		Int("position", position).
		Msg("request admitted")

	return &Outcome{
		Track:    ref,
		Hint:     hint,
		Priority: priority,
		Position: position,
	}, nil
}

// queuePosition returns the 1-indexed position of the track in the
// snapshot, or 0 when not found.
func queuePosition(snapshot []track.Ref, ref track.Ref) int {
	id := ref.CanonicalID()
	for i, t := range snapshot {
		if t.CanonicalID() == id {
			return i + 1
		}
	}
	return 0
}
