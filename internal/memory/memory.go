// Package memory implements the agent-memory collaborator: a bounded event
// log per agent plus a reputation score.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hpungsan/paperclip/internal/events"
)

// Reputation bounds. Unknown agents read as NeutralReputation.
const (
	NeutralReputation = 1.0
	MinReputation     = 0.0
	MaxReputation     = 5.0
)

// MaxEventsPerAgent is how many events each store keeps per agent.
const MaxEventsPerAgent = 200

// Log is the full agent-memory contract implemented by every store.
type Log interface {
	Record(ctx context.Context, e events.Event) error
	Reputation(ctx context.Context, agentID string) (float64, error)
	AdjustReputation(ctx context.Context, agentID string, delta float64) (float64, error)
	Recent(ctx context.Context, agentID string, limit int) ([]events.Event, error)
}

func clampReputation(v float64) float64 {
	return min(max(v, MinReputation), MaxReputation)
}

// Store is an in-process Log. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	events     map[string][]events.Event
	reputation map[string]float64
}

// NewStore creates an empty in-process store.
func NewStore() *Store {
	return &Store{
		events:     make(map[string][]events.Event),
		reputation: make(map[string]float64),
	}
}

// Record appends e to the agent's log, dropping the oldest beyond MaxEventsPerAgent.
func (s *Store) Record(_ context.Context, e events.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.events[e.AgentID], e)
	if len(log) > MaxEventsPerAgent {
		log = slices.Clone(log[len(log)-MaxEventsPerAgent:])
	}
	s.events[e.AgentID] = log
	return nil
}

// Reputation returns the agent's score, NeutralReputation if unset.
func (s *Store) Reputation(_ context.Context, agentID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.reputation[agentID]; ok {
		return v, nil
	}
	return NeutralReputation, nil
}

// AdjustReputation adds delta and clamps to [MinReputation, MaxReputation].
func (s *Store) AdjustReputation(_ context.Context, agentID string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reputation[agentID]
	if !ok {
		cur = NeutralReputation
	}
	next := clampReputation(cur + delta)
	s.reputation[agentID] = next
	return next, nil
}

// Recent returns up to limit events for the agent, newest first.
func (s *Store) Recent(_ context.Context, agentID string, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[agentID]
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}
	out := make([]events.Event, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

// Publishing wraps a Log so every recorded event is also sent to a sink.
// Sink failures are logged and never fail the Record.
type Publishing struct {
	Log
	sink   events.Sink
	logger *slog.Logger
}

// WithSink wraps log with sink. A nil sink returns log unchanged.
func WithSink(log Log, sink events.Sink, logger *slog.Logger) Log {
	if sink == nil {
		return log
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publishing{Log: log, sink: sink, logger: logger}
}

// Record implements Log.
func (p *Publishing) Record(ctx context.Context, e events.Event) error {
	if err := p.Log.Record(ctx, e); err != nil {
		return err
	}
	if err := p.sink.Publish(ctx, e); err != nil {
		p.logger.Warn("event publish failed", "kind", e.Kind, "correlation_id", e.CorrelationID, "error", err)
	}
	return nil
}
