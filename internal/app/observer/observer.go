// Package observer polls the provider's now-playing status and feeds the
// managed queue and the cooldown ledger.
package observer

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/domain/track"
)

// Source is the provider's now-playing endpoint as seen by the observer.
type Source interface {
	NowPlaying(ctx context.Context) (*track.NowPlaying, error)
}

// Config holds observer tunables.
type Config struct {
	PollInterval  time.Duration
	Retention     time.Duration // managed queue retention window
	CleanupEveryN int           // run the retention sweep every N cycles
}

// Observer runs the observation loop. Failures never propagate: a bad
// cycle degrades to "nothing observed" and the next tick tries again.
type Observer struct {
	source Source
	ledger *cooldown.Ledger
	queue  *managedqueue.Queue
	cfg    Config

	mu     sync.RWMutex
	latest *track.NowPlaying
}

// New creates a new observer.
func New(source Source, ledger *cooldown.Ledger, queue *managedqueue.Queue, cfg Config) *Observer {
	return &Observer{
		source: source,
		ledger: ledger,
		queue:  queue,
		cfg:    cfg,
	}
}

// Run polls until the context is cancelled. Blocking; run in a goroutine.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Observe(ctx)
			cycle++
			if o.cfg.CleanupEveryN > 0 && cycle%o.cfg.CleanupEveryN == 0 {
				o.cleanup(ctx)
			}
		}
	}
}

// Observe runs a single observation cycle: read now-playing, mark the
// track played in the managed queue, and re-arm its cooldown so a track
// already mid-play cannot be immediately re-requested.
func (o *Observer) Observe(ctx context.Context) {
	np, err := o.source.NowPlaying(ctx)
	if err != nil {
		zlog.Debug().Err(err).Msg("now-playing poll failed, skipping cycle")
		return
	}

	o.mu.Lock()
	o.latest = np
	o.mu.Unlock()

	if np == nil {
		return
	}

	if err := o.queue.MarkPlayed(ctx, np.Track); err != nil {
		zlog.Debug().Err(err).Str("track", np.Track.CanonicalID()).Msg("mark-played failed")
	}
	if err := o.ledger.Record(ctx, np.Track); err != nil {
		zlog.Debug().Err(err).Str("track", np.Track.CanonicalID()).Msg("cooldown record failed")
	}
}

// Latest returns the most recent now-playing snapshot, nil when nothing
// has been observed or nothing is playing.
func (o *Observer) Latest() *track.NowPlaying {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

func (o *Observer) cleanup(ctx context.Context) {
	n, err := o.queue.Cleanup(ctx, o.cfg.Retention)
	if err != nil {
		zlog.Debug().Err(err).Msg("retention sweep failed")
		return
	}
	if n > 0 {
		zlog.Debug().Int64("deleted", n).Msg("retention sweep removed played entries")
	}
}
