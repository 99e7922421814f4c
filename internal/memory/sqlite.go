package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hpungsan/paperclip/internal/events"
)

// SQLStore is a Log backed by the events and reputation tables created by db.Init.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database handle from db.Init.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(db, "sqlite")}
}

type eventRow struct {
	ID            int64          `db:"id"`
	AgentID       string         `db:"agent_id"`
	Kind          string         `db:"kind"`
	CorrelationID string         `db:"correlation_id"`
	Outcome       sql.NullString `db:"outcome"`
	PayloadJSON   string         `db:"payload_json"`
	CreatedAt     int64          `db:"created_at"`
}

// Record inserts the event and prunes the agent's log to MaxEventsPerAgent.
func (s *SQLStore) Record(ctx context.Context, e events.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := eventRow{
		AgentID:       e.AgentID,
		Kind:          string(e.Kind),
		CorrelationID: e.CorrelationID,
		Outcome:       sql.NullString{String: e.Outcome, Valid: e.Outcome != ""},
		PayloadJSON:   string(payload),
		CreatedAt:     e.Timestamp.Unix(),
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO events (agent_id, kind, correlation_id, outcome, payload_json, created_at)
		VALUES (:agent_id, :kind, :correlation_id, :outcome, :payload_json, :created_at)
	`, row)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM events
		WHERE agent_id = ? AND id NOT IN (
			SELECT id FROM events WHERE agent_id = ? ORDER BY id DESC LIMIT ?
		)
	`, e.AgentID, e.AgentID, MaxEventsPerAgent)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}

	return tx.Commit()
}

// Reputation returns the agent's score, NeutralReputation if unset.
func (s *SQLStore) Reputation(ctx context.Context, agentID string) (float64, error) {
	var score float64
	err := s.db.GetContext(ctx, &score, `SELECT score FROM reputation WHERE agent_id = ?`, agentID)
	if err == sql.ErrNoRows {
		return NeutralReputation, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get reputation: %w", err)
	}
	return score, nil
}

// AdjustReputation adds delta and clamps inside a transaction.
func (s *SQLStore) AdjustReputation(ctx context.Context, agentID string, delta float64) (float64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur := NeutralReputation
	err = tx.GetContext(ctx, &cur, `SELECT score FROM reputation WHERE agent_id = ?`, agentID)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("get reputation: %w", err)
	}

	next := clampReputation(cur + delta)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reputation (agent_id, score) VALUES (?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET score = excluded.score
	`, agentID, next)
	if err != nil {
		return 0, fmt.Errorf("set reputation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// Recent returns up to limit events for the agent, newest first.
func (s *SQLStore) Recent(ctx context.Context, agentID string, limit int) ([]events.Event, error) {
	if limit <= 0 || limit > MaxEventsPerAgent {
		limit = MaxEventsPerAgent
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, agent_id, kind, correlation_id, outcome, payload_json, created_at
		FROM events WHERE agent_id = ? ORDER BY id DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		var e events.Event
		if err := json.Unmarshal([]byte(r.PayloadJSON), &e); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
