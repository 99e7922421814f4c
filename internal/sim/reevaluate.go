package sim

import (
	"context"

	"github.com/google/uuid"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/events"
)

const (
	// ReevaluatedTag marks a capsule that has been through reevaluation.
	ReevaluatedTag = "reevaluated"

	// MotivationKey is the value key bumped on each reevaluation.
	MotivationKey = "motivation_score"
)

// ReevaluateOnce returns an updated copy of c: ReevaluatedTag added if
// missing and MotivationKey incremented by one. c is not modified.
func ReevaluateOnce(c *capsule.Capsule) *capsule.Capsule {
	out := c.Clone()
	if out == nil {
		return nil
	}
	if !out.HasTag(ReevaluatedTag) {
		out.Tags = append(out.Tags, ReevaluatedTag)
	}
	if out.Values == nil {
		out.Values = make(map[string]float64, 1)
	}
	out.Values[MotivationKey]++
	return out
}

// Reevaluate runs ReevaluateOnce for every agent, writes the result through
// the registry and records a mutation event. It returns how many capsules
// were updated.
func (w *World) Reevaluate(ctx context.Context) (int, error) {
	n := 0
	for _, a := range w.Agents() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		cur := a.Capsule()
		next := ReevaluateOnce(cur)

		// The registry changes one field per request.
		updated, err := w.Registry.Update(cur.ID, capsule.ModificationRequest{Field: capsule.FieldTags, Value: next.Tags})
		if err != nil {
			return n, err
		}
		updated, err = w.Registry.Update(updated.ID, capsule.ModificationRequest{Field: capsule.FieldValues, Value: next.Values})
		if err != nil {
			return n, err
		}
		a.SetCapsule(updated)

		e := events.NewMutation(a.ID, uuid.NewString(), "updated", events.Mutation{CapsuleID: updated.ID, Field: capsule.FieldValues})
		if err := w.Memory.Record(ctx, e); err != nil {
			w.logger.Warn("failed to record reevaluation", "agent_id", a.ID, "error", err)
		}
		n++
	}
	return n, nil
}
