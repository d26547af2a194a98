// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Store     StoreConfig           `yaml:"store"`
	Spotify   SpotifyConfig         `yaml:"spotify"`
	Admin     AdminConfig           `yaml:"admin"`
	Admission AdmissionConfig       `yaml:"admission"`
	Queue     QueueConfig           `yaml:"queue"`
	Observer  ObserverConfig        `yaml:"observer"`
	Rules     map[string]RuleConfig `yaml:"rules"`
	Messages  MessagesConfig        `yaml:"messages"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr        string   `yaml:"addr" default:":8080"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig represents durable store configuration.
type StoreConfig struct {
	Path string `yaml:"path" default:"requestbox.db"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"AU"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// AdmissionConfig represents request admission configuration.
type AdmissionConfig struct {
	// PositionIncrement reserves roughly every Nth queue slot for a guest
	// request when synthesizing ordering hints.
	PositionIncrement int `yaml:"position_increment" default:"4" validate:"gte=1"`
	// PositionGraceMs is how long to wait before the best-effort queue
	// position lookup after a successful append.
	PositionGraceMs int `yaml:"position_grace_ms" default:"500" validate:"gte=0,lte=10000"`
}

// QueueConfig represents managed queue configuration.
type QueueConfig struct {
	RetentionMin int `yaml:"retention_min" default:"120" validate:"gte=1"`
	DisplayLimit int `yaml:"display_limit" default:"25" validate:"gte=1,lte=100"`
	SearchLimit  int `yaml:"search_limit" default:"10" validate:"gte=1,lte=50"`
}

// ObserverConfig represents the now-playing poller configuration.
type ObserverConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec" default:"5" validate:"gte=1"`
	// CleanupEveryN runs the retention sweep once every N poll cycles.
	CleanupEveryN int `yaml:"cleanup_every_n" default:"60" validate:"gte=1"`
}

// RuleConfig represents an admission rule's configuration.
type RuleConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
// The cooldown message is a fmt template taking the remaining minutes.
type MessagesConfig struct {
	Success          string `yaml:"success" default:"Added to queue!"`
	Cooldown         string `yaml:"cooldown" default:"This song was played recently. Try again in %d minutes!"`
	AlreadyQueued    string `yaml:"already_queued" default:"This song is already in the queue."`
	DuplicatePending string `yaml:"duplicate_pending" default:"This song is already being added. Please wait."`
	RecentlyAdded    string `yaml:"recently_added" default:"This song was just added! Check the queue."`
	NoActiveDevice   string `yaml:"no_active_device" default:"No active Spotify player. Please start playing music first."`
	AppendFailed     string `yaml:"append_failed" default:"Failed to add track to queue."`
	DefaultError     string `yaml:"default_error" default:"Something went wrong. Please try again."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// GetMessage returns the user-facing message for the given rejection code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "success":
		return c.Messages.Success
	case "cooldown":
		return c.Messages.Cooldown
	case "already_queued":
		return c.Messages.AlreadyQueued
	case "duplicate_pending":
		return c.Messages.DuplicatePending
	case "recently_added":
		return c.Messages.RecentlyAdded
	case "no_active_device":
		return c.Messages.NoActiveDevice
	case "append_failed":
		return c.Messages.AppendFailed
	default:
		return c.Messages.DefaultError
	}
}

// IsRuleEnabled checks if an admission rule is enabled.
// Rules missing from the config are enabled by default.
func (c *Config) IsRuleEnabled(name string) bool {
	if r, ok := c.Rules[name]; ok {
		return r.Enabled
	}
	return true
}

// RuleSettings returns the settings map for an admission rule.
func (c *Config) RuleSettings(name string) map[string]any {
	if r, ok := c.Rules[name]; ok {
		return r.Settings
	}
	return nil
}
