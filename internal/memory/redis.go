package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/hpungsan/paperclip/internal/events"
)

// RedisStore is a Log backed by Redis: one capped list per agent for events
// and a single hash for reputation.
type RedisStore struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "paperclip:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) eventsKey(agentID string) string {
	return s.prefix + "events:" + agentID
}

func (s *RedisStore) reputationKey() string {
	return s.prefix + "reputation"
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Record pushes e to the head of the agent's list and trims it.
func (s *RedisStore) Record(ctx context.Context, e events.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := s.eventsKey(e.AgentID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, MaxEventsPerAgent-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Reputation returns the agent's score, NeutralReputation if unset.
func (s *RedisStore) Reputation(ctx context.Context, agentID string) (float64, error) {
	v, err := s.client.HGet(ctx, s.reputationKey(), agentID).Float64()
	if errors.Is(err, backend.Nil) {
		return NeutralReputation, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get reputation: %w", err)
	}
	return v, nil
}

// AdjustReputation adds delta and clamps using an optimistic WATCH transaction.
func (s *RedisStore) AdjustReputation(ctx context.Context, agentID string, delta float64) (float64, error) {
	key := s.reputationKey()
	var next float64

	txf := func(tx *backend.Tx) error {
		cur, err := tx.HGet(ctx, key, agentID).Float64()
		if errors.Is(err, backend.Nil) {
			cur = NeutralReputation
		} else if err != nil {
			return err
		}
		next = clampReputation(cur + delta)
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, key, agentID, next)
			return nil
		})
		return err
	}

	const maxAttempts = 5
	for range maxAttempts {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return 0, fmt.Errorf("adjust reputation: %w", err)
	}
	return 0, fmt.Errorf("adjust reputation: too much contention on %s", agentID)
}

// Recent returns up to limit events for the agent, newest first.
func (s *RedisStore) Recent(ctx context.Context, agentID string, limit int) ([]events.Event, error) {
	if limit <= 0 || limit > MaxEventsPerAgent {
		limit = MaxEventsPerAgent
	}
	raw, err := s.client.LRange(ctx, s.eventsKey(agentID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]events.Event, 0, len(raw))
	for _, item := range raw {
		var e events.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
