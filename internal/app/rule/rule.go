// Package rule provides the admission rule chain for request validation.
package rule

import (
	"context"

	"github.com/sdisco/requestbox/internal/domain/track"
)

// Path distinguishes the free request path from the priority (play next)
// path. Some rules only apply to one of them.
type Path int

const (
	PathFree     Path = iota // ordinary guest request
	PathPriority             // priority admission
)

// String returns the string representation of the path.
func (p Path) String() string {
	switch p {
	case PathFree:
		return "free"
	case PathPriority:
		return "priority"
	default:
		return "unknown"
	}
}

// Result represents the result of a rule check.
type Result struct {
	Accepted    bool
	Code        string // e.g. "cooldown", "already_queued", "recently_added"
	MinutesLeft int    // remaining cooldown minutes, for cooldown rejections
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Code: code}
}

// Rule is the interface for admission rules.
type Rule interface {
	// Name returns the rule name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this rule can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the rule configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this rule should run for the given path.
	AppliesTo(path Path) bool
	// Check performs the rule check. A non-nil error is a transient
	// failure, not a rejection.
	Check(ctx context.Context, ref track.Ref) (Result, error)
}
