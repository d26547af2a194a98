package rule

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/domain/track"
)

// CooldownSettings represents the configuration for CooldownRule.
type CooldownSettings struct {
	WindowSec int `yaml:"window_sec" mapstructure:"window_sec" default:"3600" validate:"gte=60"`
}

// CooldownRule rejects tracks that were played or queued within the
// no-repeat window. Applies to both the free and the priority path.
type CooldownRule struct {
	ledger *cooldown.Ledger
	config *CooldownSettings
}

// NewCooldownRule creates a new cooldown rule.
func NewCooldownRule(ledger *cooldown.Ledger) *CooldownRule {
	return &CooldownRule{ledger: ledger}
}

func (r *CooldownRule) Name() string {
	return "cooldown"
}

func (r *CooldownRule) Description() string {
	return "Rejects tracks played or queued within the no-repeat window"
}

func (r *CooldownRule) ReturnCodes() []string {
	return []string{"cooldown"}
}

// ValidateConfig validates the rule configuration.
func (r *CooldownRule) ValidateConfig(settings map[string]any) error {
	var config CooldownSettings

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

	r.config = &config
	zlog.Info().Msgf("cooldown rule config: %+v", config)
	return nil
}

// Window returns the configured no-repeat window.
func (r *CooldownRule) Window() time.Duration {
	if r.config == nil {
		return time.Hour
	}
	return time.Duration(r.config.WindowSec) * time.Second
}

func (r *CooldownRule) AppliesTo(path Path) bool {
	// The no-repeat rule applies to both paths; paying does not bypass it.
	return true
}

func (r *CooldownRule) Check(ctx context.Context, ref track.Ref) (Result, error) {
	verdict, err := r.ledger.Check(ctx, ref, r.Window())
	if err != nil {
		return Result{}, err
	}
	if verdict.Allowed {
		return Accept(), nil
	}
	return Result{Code: "cooldown", MinutesLeft: verdict.MinutesLeft}, nil
}
