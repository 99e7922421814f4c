package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/paperclip/internal/db"
	"github.com/hpungsan/paperclip/internal/events"
)

// runLogContract exercises behavior every Log implementation must share.
func runLogContract(t *testing.T, newLog func(t *testing.T) Log) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown agent is neutral", func(t *testing.T) {
		l := newLog(t)
		rep, err := l.Reputation(ctx, "nobody")
		require.NoError(t, err)
		require.Equal(t, NeutralReputation, rep)

		got, err := l.Recent(ctx, "nobody", 10)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("adjust clamps", func(t *testing.T) {
		l := newLog(t)
		rep, err := l.AdjustReputation(ctx, "a", 0.5)
		require.NoError(t, err)
		require.InDelta(t, 1.5, rep, 1e-9)

		rep, err = l.AdjustReputation(ctx, "a", 100)
		require.NoError(t, err)
		require.Equal(t, MaxReputation, rep)

		rep, err = l.AdjustReputation(ctx, "a", -100)
		require.NoError(t, err)
		require.Equal(t, MinReputation, rep)

		rep, err = l.Reputation(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, MinReputation, rep)
	})

	t.Run("recent is newest first", func(t *testing.T) {
		l := newLog(t)
		for i := range 3 {
			e := events.NewProposal("a", fmt.Sprintf("c%d", i), "accepted", events.Proposal{Type: events.ProposalTrade})
			require.NoError(t, l.Record(ctx, e))
		}
		require.NoError(t, l.Record(ctx, events.NewProposal("b", "other", "rejected", events.Proposal{Type: events.ProposalTrade})))

		got, err := l.Recent(ctx, "a", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "c2", got[0].CorrelationID)
		require.Equal(t, "c1", got[1].CorrelationID)
		require.NotNil(t, got[0].Proposal)
	})

	t.Run("bounded per agent", func(t *testing.T) {
		l := newLog(t)
		for i := range MaxEventsPerAgent + 5 {
			e := events.NewPayment("a", fmt.Sprintf("p%d", i), "failed", events.Payment{URL: "http://x"})
			require.NoError(t, l.Record(ctx, e))
		}
		got, err := l.Recent(ctx, "a", 0)
		require.NoError(t, err)
		require.Len(t, got, MaxEventsPerAgent)
		require.Equal(t, fmt.Sprintf("p%d", MaxEventsPerAgent+4), got[0].CorrelationID)
		require.Equal(t, "p5", got[len(got)-1].CorrelationID)
	})

	t.Run("rejects invalid event", func(t *testing.T) {
		l := newLog(t)
		err := l.Record(ctx, events.Event{Kind: events.KindPayment})
		require.Error(t, err)
	})
}

func TestStore_Contract(t *testing.T) {
	runLogContract(t, func(*testing.T) Log { return NewStore() })
}

func TestSQLStore_Contract(t *testing.T) {
	runLogContract(t, func(t *testing.T) Log {
		database, err := db.Init(filepath.Join(t.TempDir(), ".paperclip"))
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		return NewSQLStore(database)
	})
}

func TestRedisStore_Contract(t *testing.T) {
	runLogContract(t, func(t *testing.T) Log {
		mr := miniredis.RunT(t)
		client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return NewRedisStoreFromClient(client)
	})
}

func TestRedisStore_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, WithPrefix("test:"))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Record(ctx, events.NewMutation("a", "c", "approved", events.Mutation{CapsuleID: "cap"})))
	_, err := s.AdjustReputation(ctx, "a", 1)
	require.NoError(t, err)

	require.True(t, mr.Exists("test:events:a"))
	require.True(t, mr.Exists("test:reputation"))
	require.Equal(t, "2", mr.HGet("test:reputation", "a"))
}

type errSink struct{ calls int }

func (s *errSink) Publish(context.Context, events.Event) error {
	s.calls++
	return errors.New("sink down")
}

func TestWithSink(t *testing.T) {
	ctx := context.Background()

	t.Run("nil sink returns log", func(t *testing.T) {
		s := NewStore()
		require.Same(t, s, WithSink(s, nil, nil))
	})

	t.Run("sink failure does not fail record", func(t *testing.T) {
		var buf bytes.Buffer
		sink := &errSink{}
		l := WithSink(NewStore(), sink, slog.New(slog.NewTextHandler(&buf, nil)))

		require.NoError(t, l.Record(ctx, events.NewAppraisal("a", "c", "accept", events.Appraisal{Item: "clip"})))
		require.Equal(t, 1, sink.calls)
		require.Contains(t, buf.String(), "event publish failed")

		got, err := l.Recent(ctx, "a", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("invalid event never reaches sink", func(t *testing.T) {
		sink := &errSink{}
		l := WithSink(NewStore(), sink, nil)
		require.Error(t, l.Record(ctx, events.Event{}))
		require.Zero(t, sink.calls)
	})
}
