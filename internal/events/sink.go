package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Sink publishes events to an observer outside agent memory.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Recorder stores events in agent memory.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, e Event) error {
	attrs := []slog.Attr{
		slog.String("kind", string(e.Kind)),
		slog.String("agent_id", e.AgentID),
		slog.String("correlation_id", e.CorrelationID),
		slog.String("outcome", e.Outcome),
	}
	switch {
	case e.Proposal != nil:
		attrs = append(attrs,
			slog.String("type", e.Proposal.Type),
			slog.Any("counterparties", e.Proposal.Counterparties),
			slog.Float64("acceptance_probability", e.Proposal.AcceptanceProbability))
	case e.Payment != nil:
		attrs = append(attrs,
			slog.String("payment_id", e.Payment.PaymentID),
			slog.Int("attempts", e.Payment.Attempts))
	case e.Mutation != nil:
		attrs = append(attrs,
			slog.String("capsule_id", e.Mutation.CapsuleID),
			slog.String("field", e.Mutation.Field))
	case e.Appraisal != nil:
		attrs = append(attrs,
			slog.String("item", e.Appraisal.Item),
			slog.Float64("final_net_value", e.Appraisal.FinalNetValue))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "event", attrs...)
	return nil
}

// DefaultSubjectPrefix is the NATS subject prefix for published events.
const DefaultSubjectPrefix = "paperclip.events"

// NATSSink publishes events as JSON on "<prefix>.<kind>".
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// DialNATS connects to url and returns a sink that owns the connection.
func DialNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("paperclip"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSSink(nc, prefix), nil
}

// Subject returns the subject an event of kind k is published on.
func (s *NATSSink) Subject(k Kind) string {
	return s.prefix + "." + string(k)
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.conn.Publish(s.Subject(e.Kind), data)
}

// Close drains and closes the underlying connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// Multi fans an event out to several sinks, joining their errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, Event) error { return nil }
