package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/events"
	"github.com/hpungsan/paperclip/internal/rewards"
)

// SelfModificationXP is granted on every approved modification.
const SelfModificationXP = 20

// Rewarder grants XP and badges.
type Rewarder interface {
	Grant(agentID string, xp int, reason string) int
	AwardBadge(agentID, milestone string, xp int) bool
}

// Reviewer runs the modification-request workflow over a Registry.
type Reviewer struct {
	reg     Registry
	rewards Rewarder
	log     events.Recorder
	logger  *slog.Logger

	// OnApply, if set, is called with each capsule version produced by an
	// approved request.
	OnApply func(agentID string, c *capsule.Capsule)
}

// NewReviewer creates a Reviewer. rewards and log may be nil.
func NewReviewer(reg Registry, rw Rewarder, log events.Recorder, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{reg: reg, rewards: rw, log: log, logger: logger}
}

// RequestModification records a pending change to capsuleID on behalf of agentID.
// The change is validated up front so only well-formed requests reach review.
func (r *Reviewer) RequestModification(ctx context.Context, agentID, capsuleID string, change capsule.ModificationRequest, reason string) (*capsule.ChangeRequest, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.NewInvalidRequest("agent_id is required")
	}
	if err := change.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.reg.Get(capsuleID); err != nil {
		return nil, err
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	req := &capsule.ChangeRequest{
		ID:        id,
		AgentID:   agentID,
		CapsuleID: capsuleID,
		Change:    change,
		Reason:    strings.TrimSpace(reason),
		Status:    capsule.StatusPending,
		CreatedAt: time.Now().Unix(),
	}
	if err := r.reg.SaveRequest(req); err != nil {
		return nil, err
	}

	r.record(ctx, req, "requested", "")
	return req, nil
}

// ReviewOutput contains the result of a Review.
type ReviewOutput struct {
	Request *capsule.ChangeRequest `json:"request"`
	Capsule *capsule.Capsule       `json:"capsule,omitempty"`
}

// Review approves or rejects a pending request. Approval applies the change
// through the registry and rewards the requesting agent.
func (r *Reviewer) Review(ctx context.Context, requestID, reviewer string, approve bool, comment string) (*ReviewOutput, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, errors.NewInvalidRequest("reviewer is required")
	}
	req, err := r.reg.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != capsule.StatusPending {
		return nil, errors.NewInvalidRequest("modification request is " + string(req.Status))
	}

	out := &ReviewOutput{Request: req}
	if approve {
		updated, err := r.reg.Update(req.CapsuleID, req.Change)
		if err != nil {
			return nil, err
		}
		out.Capsule = updated
		req.Status = capsule.StatusApproved
	} else {
		req.Status = capsule.StatusRejected
	}

	req.Reviewer = &reviewer
	if c := strings.TrimSpace(comment); c != "" {
		req.Comment = &c
	}
	if err := r.reg.CompleteRequest(req); err != nil {
		return nil, err
	}

	if approve {
		if r.rewards != nil {
			r.rewards.Grant(req.AgentID, SelfModificationXP, "self-modification")
			r.rewards.AwardBadge(req.AgentID, rewards.BadgeSelfModifier, 0)
		}
		if r.OnApply != nil {
			r.OnApply(req.AgentID, out.Capsule)
		}
	}

	r.record(ctx, req, string(req.Status), reviewer)
	return out, nil
}

func (r *Reviewer) record(ctx context.Context, req *capsule.ChangeRequest, outcome, reviewer string) {
	r.logger.Info("capsule modification",
		"request_id", req.ID, "capsule_id", req.CapsuleID, "field", req.Change.Field, "outcome", outcome)
	if r.log == nil {
		return
	}
	e := events.NewMutation(req.AgentID, uuid.NewString(), outcome, events.Mutation{
		CapsuleID: req.CapsuleID,
		RequestID: req.ID,
		Field:     req.Change.Field,
		Reviewer:  reviewer,
	})
	if err := r.log.Record(ctx, e); err != nil {
		r.logger.Warn("record mutation failed", "request_id", req.ID, "error", err)
	}
}
