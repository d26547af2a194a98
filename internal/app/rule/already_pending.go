package rule

import (
	"context"

	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/domain/track"
)

// AlreadyPendingRule rejects tracks that already have an unplayed managed
// queue entry. Free path only: the priority path promotes the existing
// entry instead of rejecting.
type AlreadyPendingRule struct {
	queue *managedqueue.Queue
}

// NewAlreadyPendingRule creates a new already-pending rule.
func NewAlreadyPendingRule(queue *managedqueue.Queue) *AlreadyPendingRule {
	return &AlreadyPendingRule{queue: queue}
}

func (r *AlreadyPendingRule) Name() string {
	return "already_pending"
}

func (r *AlreadyPendingRule) Description() string {
	return "Rejects tracks that already have a pending guest request"
}

func (r *AlreadyPendingRule) ReturnCodes() []string {
	return []string{"already_queued"}
}

// ValidateConfig validates the rule configuration.
func (r *AlreadyPendingRule) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

func (r *AlreadyPendingRule) AppliesTo(path Path) bool {
	return path == PathFree
}

func (r *AlreadyPendingRule) Check(ctx context.Context, ref track.Ref) (Result, error) {
	pending, err := r.queue.Contains(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if pending {
		return Reject("already_queued"), nil
	}
	return Accept(), nil
}
