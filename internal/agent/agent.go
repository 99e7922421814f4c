// Package agent wraps a capsule with an archetype, a bounded appraisal
// history and the item ownership records produced by accepted trades.
package agent

import (
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/paperclip/internal/capsule"
)

// Default bounds.
const (
	DefaultHistoryLimit    = 10
	DefaultProvenanceLimit = 10
)

// Appraisal is the part of a valuation kept in an agent's history.
type Appraisal struct {
	CorrelationID string    `json:"correlation_id"`
	Item          string    `json:"item"`
	Context       string    `json:"context"`
	FinalNetValue float64   `json:"final_net_value"`
	Accepted      bool      `json:"accepted"`
	At            time.Time `json:"at"`
}

// Agent is an economic actor. Safe for concurrent use.
type Agent struct {
	ID        string
	Archetype Archetype

	mu              sync.RWMutex
	capsule         *capsule.Capsule
	history         []Appraisal
	historyLimit    int
	owned           []Ownership
	archived        []Ownership
	provenanceLimit int
}

// Option configures an Agent.
type Option func(*Agent)

// WithHistoryLimit bounds the appraisal history.
func WithHistoryLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// WithProvenanceLimit bounds Provenance results.
func WithProvenanceLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.provenanceLimit = n
		}
	}
}

// New creates an agent owning c. The capsule is shared with the registry
// view the caller passed in, not copied.
func New(id string, archetype Archetype, c *capsule.Capsule, opts ...Option) *Agent {
	a := &Agent{
		ID:              id,
		Archetype:       archetype,
		capsule:         c,
		historyLimit:    DefaultHistoryLimit,
		provenanceLimit: DefaultProvenanceLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Capsule returns the agent's current capsule.
func (a *Agent) Capsule() *capsule.Capsule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.capsule
}

// SetCapsule swaps in a new capsule version after an approved modification.
func (a *Agent) SetCapsule(c *capsule.Capsule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capsule = c
}

// Remember appends ap to the history, dropping the oldest beyond the limit.
func (a *Agent) Remember(ap Appraisal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, ap)
	if over := len(a.history) - a.historyLimit; over > 0 {
		a.history = slices.Clone(a.history[over:])
	}
}

// History returns the appraisal history, oldest first.
func (a *Agent) History() []Appraisal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.history)
}

// FinalValues returns the final net values of the history, oldest first.
func (a *Agent) FinalValues() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]float64, len(a.history))
	for i, h := range a.history {
		out[i] = h.FinalNetValue
	}
	return out
}
