// Package strategy provides the strategic-game modules that supply a
// confidence and strategy pair to valuation.
package strategy

import (
	"context"
	"strings"
)

// Strategy is the stance a module recommends.
type Strategy string

const (
	Cooperative Strategy = "cooperative"
	Competitive Strategy = "competitive"
	Neutral     Strategy = "neutral"
	Aggressive  Strategy = "aggressive"
)

// ParseStrategy maps s onto a known strategy. ok is false for anything else.
func ParseStrategy(s string) (Strategy, bool) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Cooperative, Competitive, Neutral, Aggressive:
		return st, true
	}
	return Neutral, false
}

// Bonus is the fixed adjustment each strategy adds to a valuation.
func (s Strategy) Bonus() float64 {
	switch s {
	case Cooperative:
		return 5
	case Competitive:
		return 3
	case Aggressive:
		return -2
	}
	return 0
}

// Context describes the game a module is asked to evaluate.
type Context struct {
	AgentID   string
	Archetype string
	Item      string
	Setting   string      // "trade", "coalition", ...
	Payoffs   [][]float64 // rows are strategies; nil uses a coordination game
}

// Decision is a module's answer.
type Decision struct {
	Confidence float64  `json:"confidence"`
	Strategy   Strategy `json:"strategy"`
}

// Bonus is confidence×10 plus the strategy adjustment.
func (d Decision) Bonus() float64 {
	return d.Confidence*10 + d.Strategy.Bonus()
}

// Module evaluates a strategic context.
type Module interface {
	Evaluate(ctx context.Context, in Context) (Decision, error)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, in Context) (Decision, error)

// Evaluate implements Module.
func (f ModuleFunc) Evaluate(ctx context.Context, in Context) (Decision, error) {
	return f(ctx, in)
}

// Fallback tries each module in order, returning the first success.
type Fallback []Module

// Evaluate implements Module. The last error is returned when every module fails.
func (f Fallback) Evaluate(ctx context.Context, in Context) (Decision, error) {
	var lastErr error
	for _, m := range f {
		if m == nil {
			continue
		}
		d, err := m.Evaluate(ctx, in)
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoModule
	}
	return Decision{}, lastErr
}
