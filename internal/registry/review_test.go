package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/events"
	"github.com/hpungsan/paperclip/internal/logging"
	"github.com/hpungsan/paperclip/internal/memory"
	"github.com/hpungsan/paperclip/internal/rewards"
)

func TestReviewWorkflow(t *testing.T) {
	ctx := context.Background()
	for name, newReg := range backends {
		t.Run(name, func(t *testing.T) {
			reg := newReg(t)
			ledger := rewards.NewLedger(5, 0.01)
			mem := memory.NewStore()
			rv := NewReviewer(reg, ledger, mem, logging.NewNop())

			var applied *capsule.Capsule
			rv.OnApply = func(agentID string, c *capsule.Capsule) {
				require.Equal(t, "agent-1", agentID)
				applied = c
			}

			c, err := reg.Create(CreateInput{Goal: "Collect clips"})
			require.NoError(t, err)

			req, err := rv.RequestModification(ctx, "agent-1", c.ID,
				capsule.ModificationRequest{Field: "goal", Value: "Collect houses"}, "ambition")
			require.NoError(t, err)
			require.Equal(t, capsule.StatusPending, req.Status)

			stored, err := reg.Get(c.ID)
			require.NoError(t, err)
			require.Equal(t, "Collect clips", stored.Goal, "pending request must not change capsule")

			out, err := rv.Review(ctx, req.ID, "overseer", true, "ok")
			require.NoError(t, err)
			require.Equal(t, capsule.StatusApproved, out.Request.Status)
			require.Equal(t, "Collect houses", out.Capsule.Goal)
			require.NotNil(t, out.Request.ReviewedAt)
			require.Same(t, out.Capsule, applied)

			require.Equal(t, SelfModificationXP, ledger.XP("agent-1"))
			require.True(t, ledger.HasBadge("agent-1", rewards.BadgeSelfModifier))

			got, err := reg.GetRequest(req.ID)
			require.NoError(t, err)
			require.Equal(t, capsule.StatusApproved, got.Status)
			require.Equal(t, "overseer", *got.Reviewer)

			_, err = rv.Review(ctx, req.ID, "overseer", true, "")
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("second Review() error = %v, want INVALID_REQUEST", err)
			}

			evs, err := mem.Recent(ctx, "agent-1", 10)
			require.NoError(t, err)
			require.Len(t, evs, 2)
			require.Equal(t, events.KindMutation, evs[0].Kind)
			require.Equal(t, "approved", evs[0].Outcome)
			require.Equal(t, "requested", evs[1].Outcome)
		})
	}
}

func TestReview_Reject(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	ledger := rewards.NewLedger(5, 0.01)
	rv := NewReviewer(reg, ledger, nil, logging.NewNop())

	c, err := reg.Create(CreateInput{Goal: "Collect clips"})
	require.NoError(t, err)
	req, err := rv.RequestModification(ctx, "agent-1", c.ID,
		capsule.ModificationRequest{Field: "tags", Value: []any{"bold"}}, "")
	require.NoError(t, err)

	out, err := rv.Review(ctx, req.ID, "overseer", false, "no")
	require.NoError(t, err)
	require.Equal(t, capsule.StatusRejected, out.Request.Status)
	require.Nil(t, out.Capsule)
	require.Zero(t, ledger.XP("agent-1"))

	stored, err := reg.Get(c.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Tags)
}

func TestRequestModification_Validation(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	rv := NewReviewer(reg, nil, nil, logging.NewNop())
	c, err := reg.Create(CreateInput{Goal: "g"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		agentID   string
		capsuleID string
		change    capsule.ModificationRequest
		wantCode  errors.ErrorCode
	}{
		{"missing agent", "", c.ID, capsule.ModificationRequest{Field: "goal", Value: "x"}, errors.ErrInvalidRequest},
		{"unknown field", "a", c.ID, capsule.ModificationRequest{Field: "archetype", Value: "x"}, errors.ErrUnknownField},
		{"bad value", "a", c.ID, capsule.ModificationRequest{Field: "goal", Value: 1.0}, errors.ErrInvalidRequest},
		{"missing capsule", "a", "nope", capsule.ModificationRequest{Field: "goal", Value: "x"}, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rv.RequestModification(ctx, tt.agentID, tt.capsuleID, tt.change, "")
			if !errors.Is(err, tt.wantCode) {
				t.Errorf("RequestModification() error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}
