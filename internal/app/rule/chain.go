package rule

import (
	"context"

	"github.com/sdisco/requestbox/internal/domain/track"
)

// Chain executes rules in sequence.
type Chain struct {
	rules []Rule
}

// NewChain creates a new rule chain.
func NewChain() *Chain {
	return &Chain{
		rules: make([]Rule, 0),
	}
}

// Add adds a rule to the chain.
func (c *Chain) Add(r Rule) {
	c.rules = append(c.rules, r)
}

// Execute runs all rules in sequence for the given path.
// Returns immediately when a rule rejects the request; rules that do not
// apply to the path are skipped. A rule error aborts the chain.
func (c *Chain) Execute(ctx context.Context, ref track.Ref, path Path) (Result, error) {
	for _, r := range c.rules {
		if !r.AppliesTo(path) {
			continue
		}

		result, err := r.Check(ctx, ref)
		if err != nil {
			return Result{}, err
		}
		if !result.Accepted {
			return result, nil
		}
	}
	return Accept(), nil
}

// Rules returns all rules in the chain.
func (c *Chain) Rules() []Rule {
	return c.rules
}
