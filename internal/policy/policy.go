// Package policy decides how long the reconciler waits before asking the
// server for the authoritative payment status. Rules are govaluate
// expressions so each gateway's settlement latency can be tuned from config.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/hpp-checkout/internal/checkout"
)

// DefaultGracePeriod is the wait used when no rule matches.
const DefaultGracePeriod = 1500 * time.Millisecond

// GraceRule maps an expression to a grace period. Lower Priority wins.
type GraceRule struct {
	ID          string
	Expression  string
	Priority    int
	GracePeriod time.Duration
}

// GraceInput is what rules can see. Expressions reference gateway_type,
// store_id and has_known_error.
type GraceInput struct {
	GatewayType   checkout.GatewayType
	StoreID       string
	HasKnownError bool
}

func (in GraceInput) parameters() map[string]interface{} {
	return map[string]interface{}{
		"gateway_type":    string(in.GatewayType),
		"store_id":        in.StoreID,
		"has_known_error": in.HasKnownError,
	}
}

type compiledRule struct {
	GraceRule
	expr *govaluate.EvaluableExpression
}

// GracePolicy evaluates grace rules.
type GracePolicy struct {
	rules         []compiledRule
	defaultPeriod time.Duration
}

// NewGracePolicy compiles rules. A non-positive defaultPeriod falls back to
// DefaultGracePeriod.
func NewGracePolicy(defaultPeriod time.Duration, rules []GraceRule) (*GracePolicy, error) {
	if defaultPeriod <= 0 {
		defaultPeriod = DefaultGracePeriod
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy: grace rule ID '%s' has an empty expression", r.ID)
		}
		if r.GracePeriod < 0 {
			return nil, fmt.Errorf("policy: grace rule ID '%s' has a negative grace period", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: failed to compile rule ID '%s': %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{GraceRule: r, expr: expr})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})
	return &GracePolicy{rules: compiled, defaultPeriod: defaultPeriod}, nil
}

// GracePeriod returns the grace period of the first matching rule. Rules that
// fail to evaluate or do not yield a boolean are skipped.
func (p *GracePolicy) GracePeriod(in GraceInput) time.Duration {
	params := in.parameters()
	for _, r := range p.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return r.GracePeriod
		}
	}
	return p.defaultPeriod
}

// Default returns the fallback grace period.
func (p *GracePolicy) Default() time.Duration {
	return p.defaultPeriod
}
