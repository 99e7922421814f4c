// Package negotiation turns appraisals into trade and coalition proposals,
// scores their acceptance and records each outcome in agent memory.
package negotiation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hpungsan/paperclip/internal/agent"
	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/coalition"
	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/events"
	"github.com/hpungsan/paperclip/internal/rewards"
	"github.com/hpungsan/paperclip/internal/valuation"
)

// AcceptanceThreshold is the probability a proposal must exceed.
const AcceptanceThreshold = 0.5

// Proposal contexts, shared with valuation.
const (
	ContextTrade     = valuation.ContextTrade
	ContextCoalition = valuation.ContextCoalition
)

// Status is the outcome of a proposal or evaluation.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Rejection reasons.
const (
	ReasonInitiatorRejects = "initiator appraisal rejected the item"
	ReasonLowAcceptance    = "acceptance probability at or below threshold"
	ReasonEvaluatorRejects = "evaluator appraisal rejected the item"
)

// PitchPayer charges an agent for a pitch.
type PitchPayer interface {
	PayPitch(agentID string) rewards.PitchMethod
}

// Proposal is an offer as seen by the agent evaluating it.
type Proposal struct {
	CorrelationID string           `json:"correlation_id"`
	Type          string           `json:"type"`
	From          string           `json:"from"`
	FromCapsule   *capsule.Capsule `json:"from_capsule"`
	Item          valuation.Item   `json:"item"`
	Pitch         *Pitch           `json:"pitch,omitempty"`
}

// TradeProposalResult is the outcome of ProposeTrade.
type TradeProposalResult struct {
	CorrelationID         string                    `json:"correlation_id"`
	Status                Status                    `json:"status"`
	Reason                string                    `json:"reason,omitempty"`
	Initiator             string                    `json:"initiator"`
	Target                string                    `json:"target"`
	Appraisal             valuation.AppraisalResult `json:"initiator_appraisal"`
	Alignment             float64                   `json:"alignment"`
	AcceptanceProbability float64                   `json:"acceptance_probability"`
	Pitch                 *Pitch                    `json:"pitch,omitempty"`
	// Mint is set on acceptance; the caller applies it to the target agent.
	Mint *agent.MintIntent `json:"mint,omitempty"`
	// Offer is the proposal as the target would evaluate it.
	Offer Proposal `json:"offer"`
}

// Accepted reports whether the trade was accepted.
func (r TradeProposalResult) Accepted() bool { return r.Status == StatusAccepted }

// CoalitionDetails describes a coalition venture.
type CoalitionDetails struct {
	Purpose string `json:"purpose,omitempty"`
	// Item, when set, is appraised by the initiator in coalition context
	// before any target is approached.
	Item *valuation.Item `json:"item,omitempty"`
}

// CoalitionProposalResult is the outcome of ProposeCoalition.
type CoalitionProposalResult struct {
	CorrelationID         string                     `json:"correlation_id"`
	Status                Status                     `json:"status"`
	Reason                string                     `json:"reason,omitempty"`
	Initiator             string                     `json:"initiator"`
	Members               []string                   `json:"members,omitempty"`
	CoalitionID           string                     `json:"coalition_id,omitempty"`
	Proposal              *coalition.Proposal        `json:"proposal,omitempty"`
	Appraisal             *valuation.AppraisalResult `json:"initiator_appraisal,omitempty"`
	Pitches               map[string]*Pitch          `json:"pitches,omitempty"`
	Acceptance            map[string]float64         `json:"acceptance,omitempty"`
	AcceptanceProbability float64                    `json:"acceptance_probability"`
}

// Accepted reports whether the coalition was formed.
func (r CoalitionProposalResult) Accepted() bool { return r.Status == StatusAccepted }

// EvaluationResult is the outcome of EvaluateProposal.
type EvaluationResult struct {
	CorrelationID         string                    `json:"correlation_id"`
	ProposalID            string                    `json:"proposal_id"`
	Evaluator             string                    `json:"evaluator"`
	Status                Status                    `json:"status"`
	Reason                string                    `json:"reason,omitempty"`
	Appraisal             valuation.AppraisalResult `json:"appraisal"`
	Alignment             float64                   `json:"alignment"`
	AcceptanceProbability float64                   `json:"acceptance_probability"`
}

// Accepted reports whether the evaluator accepted.
func (r EvaluationResult) Accepted() bool { return r.Status == StatusAccepted }

// Coordinator runs proposals. Safe for concurrent use when its collaborators are.
type Coordinator struct {
	cfg      *config.Config
	engine   *valuation.Engine
	ledger   *coalition.Ledger
	payer    PitchPayer
	recorder events.Recorder
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPitchPayer charges pitches. Without one every pitch is free.
func WithPitchPayer(p PitchPayer) Option {
	return func(c *Coordinator) { c.payer = p }
}

// WithRecorder sets where proposal and evaluation events are stored.
func WithRecorder(r events.Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator. ledger may be nil when coalitions are not used.
func New(cfg *config.Config, engine *valuation.Engine, ledger *coalition.Ledger, opts ...Option) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Coordinator{cfg: cfg, engine: engine, ledger: ledger, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ProposeTrade offers item from initiator to target. If the initiator's own
// appraisal rejects the item the trade stops before any pitch is paid for.
func (c *Coordinator) ProposeTrade(ctx context.Context, initiator, target *agent.Agent, item valuation.Item) TradeProposalResult {
	res := TradeProposalResult{
		CorrelationID: uuid.NewString(),
		Initiator:     initiator.ID,
		Target:        target.ID,
	}
	own, theirs := initiator.Capsule(), target.Capsule()

	var appraiseOpts []valuation.AppraiseOption
	if !c.cfg.DisablePitching {
		appraiseOpts = append(appraiseOpts, valuation.WithPitch())
	}
	res.Appraisal = c.engine.Appraise(ctx, initiator, item, ContextTrade, theirs, appraiseOpts...)

	if !res.Appraisal.Accepted() {
		res.Status = StatusRejected
		res.Reason = ReasonInitiatorRejects
		c.recordTrade(ctx, res, item)
		return res
	}

	res.Pitch = c.pitch(initiator.ID, own, theirs, ContextTrade)
	res.Alignment = Alignment(own, theirs)
	res.AcceptanceProbability = AcceptanceProbability(res.Alignment, res.Appraisal.FinalNetValue, res.Pitch.Bonus())
	res.Offer = Proposal{
		CorrelationID: res.CorrelationID,
		Type:          events.ProposalTrade,
		From:          initiator.ID,
		FromCapsule:   own,
		Item:          item,
		Pitch:         res.Pitch,
	}

	if res.AcceptanceProbability > AcceptanceThreshold {
		res.Status = StatusAccepted
		res.Mint = &agent.MintIntent{
			ItemName:      item.Name,
			ItemType:      item.Type,
			From:          initiator.ID,
			To:            target.ID,
			Value:         res.Appraisal.FinalNetValue,
			CorrelationID: res.CorrelationID,
		}
	} else {
		res.Status = StatusRejected
		res.Reason = ReasonLowAcceptance
	}
	c.recordTrade(ctx, res, item)
	return res
}

func (c *Coordinator) recordTrade(ctx context.Context, res TradeProposalResult, item valuation.Item) {
	p := events.Proposal{
		Type:                  events.ProposalTrade,
		Counterparties:        []string{res.Target},
		Item:                  item.Name,
		FinalNetValue:         res.Appraisal.FinalNetValue,
		AcceptanceProbability: res.AcceptanceProbability,
		Reason:                res.Reason,
	}
	if res.Pitch != nil {
		p.PitchMethod = string(res.Pitch.Method)
	}
	c.record(ctx, events.NewProposal(res.Initiator, res.CorrelationID, string(res.Status), p))
	c.logger.Info("trade proposal",
		"correlation_id", res.CorrelationID,
		"initiator", res.Initiator,
		"target", res.Target,
		"item", item.Name,
		"status", res.Status,
		"acceptance_probability", res.AcceptanceProbability)
}

// ProposeCoalition asks targets to join initiator. Each target scores the
// offer on alignment and its proposed share; the coalition is committed to
// the ledger when the mean acceptance exceeds the threshold.
func (c *Coordinator) ProposeCoalition(ctx context.Context, initiator *agent.Agent, targets []*agent.Agent, details CoalitionDetails) CoalitionProposalResult {
	res := CoalitionProposalResult{
		CorrelationID: uuid.NewString(),
		Initiator:     initiator.ID,
	}
	defer func() { c.recordCoalition(ctx, res) }()

	var ids []string
	for _, t := range targets {
		if t != nil && t.ID != initiator.ID {
			ids = append(ids, t.ID)
		}
	}

	if details.Item != nil {
		a := c.engine.Appraise(ctx, initiator, *details.Item, ContextCoalition, nil)
		res.Appraisal = &a
		if !a.Accepted() {
			res.Status = StatusRejected
			res.Reason = ReasonInitiatorRejects
			return res
		}
	}

	if c.ledger == nil {
		res.Status = StatusRejected
		res.Reason = "coalitions are not enabled"
		return res
	}
	prop, err := c.ledger.TryPropose(ctx, initiator.ID, ids)
	if err != nil {
		res.Status = StatusRejected
		res.Reason = err.Error()
		return res
	}
	res.Proposal = prop
	res.Members = prop.Members

	own := initiator.Capsule()
	res.Pitches = make(map[string]*Pitch, len(targets))
	res.Acceptance = make(map[string]float64, len(targets))
	seen := make(map[string]bool)
	var total float64
	for _, t := range targets {
		if t == nil || t.ID == initiator.ID || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		theirs := t.Capsule()
		pitch := c.pitch(initiator.ID, own, theirs, ContextCoalition)
		p := AcceptanceProbability(Alignment(theirs, own), prop.Shares[t.ID], pitch.Bonus())
		if pitch != nil {
			res.Pitches[t.ID] = pitch
		}
		res.Acceptance[t.ID] = p
		total += p
	}
	if len(seen) > 0 {
		res.AcceptanceProbability = total / float64(len(seen))
	}

	if res.AcceptanceProbability <= AcceptanceThreshold {
		res.Status = StatusRejected
		res.Reason = ReasonLowAcceptance
		return res
	}
	id, err := c.ledger.TryAccept(prop)
	if err != nil {
		res.Status = StatusRejected
		res.Reason = err.Error()
		return res
	}
	res.Status = StatusAccepted
	res.CoalitionID = id
	return res
}

func (c *Coordinator) recordCoalition(ctx context.Context, res CoalitionProposalResult) {
	p := events.Proposal{
		Type:                  events.ProposalCoalition,
		Counterparties:        without(res.Members, res.Initiator),
		AcceptanceProbability: res.AcceptanceProbability,
		CoalitionID:           res.CoalitionID,
		Reason:                res.Reason,
	}
	if res.Appraisal != nil {
		p.Item = res.Appraisal.Item.Name
		p.FinalNetValue = res.Appraisal.FinalNetValue
	}
	c.record(ctx, events.NewProposal(res.Initiator, res.CorrelationID, string(res.Status), p))
	c.logger.Info("coalition proposal",
		"correlation_id", res.CorrelationID,
		"initiator", res.Initiator,
		"members", res.Members,
		"status", res.Status,
		"coalition_id", res.CoalitionID,
		"reason", res.Reason)
}

// EvaluateProposal scores p from evaluator's point of view. The evaluator
// accepts when its own appraisal accepts and the acceptance probability
// exceeds the threshold.
func (c *Coordinator) EvaluateProposal(ctx context.Context, evaluator *agent.Agent, p Proposal) EvaluationResult {
	res := EvaluationResult{
		CorrelationID: uuid.NewString(),
		ProposalID:    p.CorrelationID,
		Evaluator:     evaluator.ID,
	}
	setting := ContextTrade
	if p.Type == events.ProposalCoalition {
		setting = ContextCoalition
	}

	own := evaluator.Capsule()
	res.Appraisal = c.engine.Appraise(ctx, evaluator, p.Item, setting, p.FromCapsule)
	res.Alignment = Alignment(own, p.FromCapsule)
	res.AcceptanceProbability = AcceptanceProbability(res.Alignment, res.Appraisal.FinalNetValue, p.Pitch.Bonus())

	switch {
	case !res.Appraisal.Accepted():
		res.Status = StatusRejected
		res.Reason = ReasonEvaluatorRejects
	case res.AcceptanceProbability <= AcceptanceThreshold:
		res.Status = StatusRejected
		res.Reason = ReasonLowAcceptance
	default:
		res.Status = StatusAccepted
	}

	c.record(ctx, events.NewProposal(evaluator.ID, res.CorrelationID, string(res.Status), events.Proposal{
		Type:                  events.ProposalEvaluation,
		Counterparties:        []string{p.From},
		Item:                  p.Item.Name,
		FinalNetValue:         res.Appraisal.FinalNetValue,
		AcceptanceProbability: res.AcceptanceProbability,
		Reason:                res.Reason,
	}))
	c.logger.Info("proposal evaluated",
		"correlation_id", res.CorrelationID,
		"proposal_id", p.CorrelationID,
		"evaluator", evaluator.ID,
		"status", res.Status)
	return res
}

// pitch builds and pays for a pitch, or returns nil with pitching disabled.
func (c *Coordinator) pitch(agentID string, own, target *capsule.Capsule, context string) *Pitch {
	if c.cfg.DisablePitching {
		return nil
	}
	method := rewards.PitchFree
	if c.payer != nil {
		method = c.payer.PayPitch(agentID)
	}
	return &Pitch{
		Text:            PitchText(own, target, context),
		Context:         context,
		TargetCapsuleID: target.ID,
		Method:          method,
	}
}

func (c *Coordinator) record(ctx context.Context, e events.Event) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, e); err != nil {
		c.logger.Warn("record proposal failed", "correlation_id", e.CorrelationID, "error", err)
	}
}

// Alignment is the weighted similarity of own to target: goal keywords 0.5,
// value keys 0.3, tags 0.2. Each overlap is measured against target's set.
func Alignment(own, target *capsule.Capsule) float64 {
	if own == nil || target == nil {
		return 0
	}
	goal := capsule.Overlap(capsule.Keywords(own.Goal), capsule.Keywords(target.Goal))
	values := capsule.Overlap(keySet(own.ValueKeys()), keySet(target.ValueKeys()))
	tags := capsule.Overlap(keySet(own.Tags), keySet(target.Tags))
	return clamp01(0.5*goal + 0.3*values + 0.2*tags)
}

// AcceptanceProbability is 0.6×alignment + 0.3×min(max(value/100,0),1) +
// pitchBonus, clamped to [0,1].
func AcceptanceProbability(alignment, value, pitchBonus float64) float64 {
	return clamp01(0.6*alignment + 0.3*clamp01(value/100) + pitchBonus)
}

func keySet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		if k := capsule.Normalize(s); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
