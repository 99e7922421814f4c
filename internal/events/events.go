// Package events defines the closed set of structured records written to
// agent memory and published to event sinks.
package events

import (
	"fmt"
	"time"
)

// Kind tags which payload an Event carries.
type Kind string

const (
	KindProposal  Kind = "proposal"
	KindPayment   Kind = "payment"
	KindMutation  Kind = "mutation"
	KindAppraisal Kind = "appraisal"
)

// Event is a tagged record. Exactly one payload pointer is set, matching Kind.
type Event struct {
	Kind          Kind      `json:"kind"`
	AgentID       string    `json:"agent_id"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Outcome       string    `json:"outcome"`

	Proposal  *Proposal  `json:"proposal,omitempty"`
	Payment   *Payment   `json:"payment,omitempty"`
	Mutation  *Mutation  `json:"mutation,omitempty"`
	Appraisal *Appraisal `json:"appraisal,omitempty"`
}

// Proposal types.
const (
	ProposalTrade      = "trade"
	ProposalCoalition  = "coalition"
	ProposalEvaluation = "evaluation"
)

// Proposal records a trade or coalition proposal, or an evaluation of one.
type Proposal struct {
	Type                  string   `json:"type"`
	Counterparties        []string `json:"counterparties"`
	Item                  string   `json:"item,omitempty"`
	FinalNetValue         float64  `json:"final_net_value"`
	AcceptanceProbability float64  `json:"acceptance_probability"`
	PitchMethod           string   `json:"pitch_method,omitempty"`
	CoalitionID           string   `json:"coalition_id,omitempty"`
	Reason                string   `json:"reason,omitempty"`
}

// Payment records the terminal outcome of a payment flow.
type Payment struct {
	URL       string `json:"url"`
	PaymentID string `json:"payment_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Asset     string `json:"asset,omitempty"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason,omitempty"`
}

// Mutation records a capsule change request or its review.
type Mutation struct {
	CapsuleID string `json:"capsule_id"`
	RequestID string `json:"request_id,omitempty"`
	Field     string `json:"field"`
	Reviewer  string `json:"reviewer,omitempty"`
}

// Appraisal records a valuation.
type Appraisal struct {
	Item          string  `json:"item"`
	Context       string  `json:"context"`
	FinalNetValue float64 `json:"final_net_value"`
	Degraded      bool    `json:"degraded,omitempty"`
}

// NewProposal builds a proposal event.
func NewProposal(agentID, correlationID, outcome string, p Proposal) Event {
	return Event{
		Kind: KindProposal, AgentID: agentID, CorrelationID: correlationID,
		Timestamp: time.Now().UTC(), Outcome: outcome, Proposal: &p,
	}
}

// NewPayment builds a payment event.
func NewPayment(agentID, correlationID, outcome string, p Payment) Event {
	return Event{
		Kind: KindPayment, AgentID: agentID, CorrelationID: correlationID,
		Timestamp: time.Now().UTC(), Outcome: outcome, Payment: &p,
	}
}

// NewMutation builds a mutation event.
func NewMutation(agentID, correlationID, outcome string, m Mutation) Event {
	return Event{
		Kind: KindMutation, AgentID: agentID, CorrelationID: correlationID,
		Timestamp: time.Now().UTC(), Outcome: outcome, Mutation: &m,
	}
}

// NewAppraisal builds an appraisal event.
func NewAppraisal(agentID, correlationID, outcome string, a Appraisal) Event {
	return Event{
		Kind: KindAppraisal, AgentID: agentID, CorrelationID: correlationID,
		Timestamp: time.Now().UTC(), Outcome: outcome, Appraisal: &a,
	}
}

// Validate checks that the event is well formed.
func (e Event) Validate() error {
	if e.AgentID == "" {
		return fmt.Errorf("event: agent_id is required")
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("event: correlation_id is required")
	}

	set := 0
	for _, present := range []bool{e.Proposal != nil, e.Payment != nil, e.Mutation != nil, e.Appraisal != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("event: exactly one payload required, got %d", set)
	}

	var ok bool
	switch e.Kind {
	case KindProposal:
		ok = e.Proposal != nil
	case KindPayment:
		ok = e.Payment != nil
	case KindMutation:
		ok = e.Mutation != nil
	case KindAppraisal:
		ok = e.Appraisal != nil
	default:
		return fmt.Errorf("event: unknown kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("event: payload does not match kind %q", e.Kind)
	}
	return nil
}
