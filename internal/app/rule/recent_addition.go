package rule

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/sdisco/requestbox/internal/app/duplicate"
	"github.com/sdisco/requestbox/internal/domain/track"
)

// RecentAdditionSettings represents the configuration for RecentAdditionRule.
type RecentAdditionSettings struct {
	MemoryWindowSec int `yaml:"memory_window_sec" mapstructure:"memory_window_sec" default:"5" validate:"gte=1"`
	StoreWindowSec  int `yaml:"store_window_sec" mapstructure:"store_window_sec" default:"30" validate:"gte=1"`
}

// RecentAdditionRule rejects tracks currently held by the duplicate guard:
// either mid-admission in this process or durably recorded as just added.
// Free path only: the priority path promotes a pending entry first and runs
// the guard itself when admitting fresh.
type RecentAdditionRule struct {
	guard  *duplicate.Guard
	config *RecentAdditionSettings
}

// NewRecentAdditionRule creates a new recent-addition rule.
func NewRecentAdditionRule(guard *duplicate.Guard) *RecentAdditionRule {
	return &RecentAdditionRule{guard: guard}
}

func (r *RecentAdditionRule) Name() string {
	return "recent_addition"
}

func (r *RecentAdditionRule) Description() string {
	return "Rejects tracks that are mid-admission or were added seconds ago"
}

func (r *RecentAdditionRule) ReturnCodes() []string {
	return []string{"duplicate_pending", "recently_added"}
}

// ValidateConfig validates the rule configuration.
func (r *RecentAdditionRule) ValidateConfig(settings map[string]any) error {
	var config RecentAdditionSettings

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	if config.MemoryWindowSec > config.StoreWindowSec {
		return errors.New("memory_window_sec cannot be greater than store_window_sec")
	}

	r.config = &config
	zlog.Info().Msgf("recent addition rule config: %+v", config)
	return nil
}

// MemoryWindow returns the in-process lock window.
func (r *RecentAdditionRule) MemoryWindow() time.Duration {
	if r.config == nil {
		return 5 * time.Second
	}
	return time.Duration(r.config.MemoryWindowSec) * time.Second
}

// StoreWindow returns the durable lock window.
func (r *RecentAdditionRule) StoreWindow() time.Duration {
	if r.config == nil {
		return 30 * time.Second
	}
	return time.Duration(r.config.StoreWindowSec) * time.Second
}

func (r *RecentAdditionRule) AppliesTo(path Path) bool {
	return path == PathFree
}

func (r *RecentAdditionRule) Check(ctx context.Context, ref track.Ref) (Result, error) {
	err := r.guard.Check(ctx, ref, r.MemoryWindow(), r.StoreWindow())
	switch {
	case err == nil:
		return Accept(), nil
	case errors.Is(err, duplicate.ErrPending):
		return Reject("duplicate_pending"), nil
	case errors.Is(err, duplicate.ErrRecentlyAdded):
		return Reject("recently_added"), nil
	default:
		return Result{}, err
	}
}
