// Package valuation computes an agent's subjective net value for an item.
package valuation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/paperclip/internal/agent"
	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/events"
	"github.com/hpungsan/paperclip/internal/strategy"
)

// FallbackFactor scales market value when a collaborator fails.
const FallbackFactor = 0.8

// Appraisal contexts.
const (
	ContextTrade      = "trade"
	ContextCoalition  = "coalition"
	ContextInvestment = "investment"
)

// Decision is the outcome of an appraisal.
type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

// CostBreakdown itemises transaction costs. TotalUSD excludes PitchXP.
type CostBreakdown struct {
	GasUSD         float64 `json:"gas_usd"`
	ProtocolFeeUSD float64 `json:"protocol_fee_usd"`
	CoalitionShare float64 `json:"coalition_share"`
	PitchXP        int     `json:"pitch_xp"`
	PitchUSD       float64 `json:"pitch_usd"`
	TotalUSD       float64 `json:"total_usd"`
}

// AppraisalResult is an immutable valuation.
type AppraisalResult struct {
	CorrelationID   string             `json:"correlation_id"`
	AgentID         string             `json:"agent_id"`
	Archetype       agent.Archetype    `json:"archetype"`
	Item            Item               `json:"item"`
	Context         string             `json:"context"`
	BaseValue       float64            `json:"base_value"`
	DriftAdjustment float64            `json:"drift_adjustment"`
	AlignmentScore  float64            `json:"alignment_score"`
	UGTTBonus       float64            `json:"ugtt_bonus"`
	Strategy        *strategy.Decision `json:"strategy,omitempty"`
	Costs           CostBreakdown      `json:"cost_breakdown"`
	FinalNetValue   float64            `json:"final_net_value"`
	Decision        Decision           `json:"decision"`
	Degraded        bool               `json:"degraded,omitempty"`
	DegradedReason  string             `json:"degraded_reason,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// Accepted reports whether the decision is accept.
func (r AppraisalResult) Accepted() bool { return r.Decision == Accept }

// MarketContext describes current market conditions for an item.
type MarketContext interface {
	Describe(ctx context.Context, item Item) (string, error)
}

// XPSource reports an agent's XP balance.
type XPSource interface {
	XP(agentID string) int
}

// Engine appraises items. Safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	profiles agent.Profiles
	strategy strategy.Module
	market   MarketContext
	xp       XPSource
	recorder events.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy sets the strategic-game module. The default is strategy.Matrix.
func WithStrategy(m strategy.Module) Option {
	return func(e *Engine) { e.strategy = m }
}

// WithMarket sets the market-context collaborator.
func WithMarket(m MarketContext) Option {
	return func(e *Engine) { e.market = m }
}

// WithXP sets where pitch pricing reads XP balances from.
func WithXP(src XPSource) Option {
	return func(e *Engine) { e.xp = src }
}

// WithRecorder records an appraisal event per call.
func WithRecorder(r events.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. A nil cfg uses config.DefaultConfig.
func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg:      cfg,
		profiles: agent.NewProfiles(cfg.Archetypes),
		strategy: strategy.Matrix{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Profiles returns the archetype table the engine uses.
func (e *Engine) Profiles() agent.Profiles { return e.profiles }

type appraiseOptions struct {
	pitch bool
}

// AppraiseOption adjusts one appraisal.
type AppraiseOption func(*appraiseOptions)

// WithPitch includes persuasion pitch cost in the breakdown.
func WithPitch() AppraiseOption {
	return func(o *appraiseOptions) { o.pitch = true }
}

// Appraise values item for a. target is the counterparty's capsule, if any.
// Appraise never fails: a failing collaborator degrades the result to a
// conservative market-value estimate.
func (e *Engine) Appraise(ctx context.Context, a *agent.Agent, item Item, setting string, target *capsule.Capsule, opts ...AppraiseOption) AppraisalResult {
	var o appraiseOptions
	for _, opt := range opts {
		opt(&o)
	}
	if setting == "" {
		setting = ContextTrade
	}

	c := a.Capsule()
	res := AppraisalResult{
		CorrelationID: uuid.NewString(),
		AgentID:       a.ID,
		Archetype:     a.Archetype,
		Item:          item,
		Context:       setting,
		Costs:         e.costs(a.ID, setting, o.pitch),
		Timestamp:     e.now().UTC(),
	}

	base, err := e.baseValue(ctx, c, item)
	if err != nil {
		e.degrade(&res, err)
		return e.finish(ctx, a, res)
	}

	dec, err := e.strategy.Evaluate(ctx, strategy.Context{
		AgentID:   a.ID,
		Archetype: string(a.Archetype),
		Item:      item.Name,
		Setting:   setting,
	})
	if err != nil {
		e.degrade(&res, err)
		return e.finish(ctx, a, res)
	}

	res.BaseValue = base
	res.DriftAdjustment = Drift(a.FinalValues())
	res.AlignmentScore = Alignment(c, target, item.Description)
	res.Strategy = &dec
	res.UGTTBonus = dec.Bonus()
	res.FinalNetValue = Combine(a.Archetype, e.profiles.Lookup(a.Archetype), e.cfg.AlignmentWeight, res)
	res.Decision = decide(res.FinalNetValue)
	return e.finish(ctx, a, res)
}

func (e *Engine) baseValue(ctx context.Context, c *capsule.Capsule, item Item) (float64, error) {
	base := item.marketValue() * CategoryInterest(c, item.Description) * ConditionMultiplier(item.Condition)
	if e.market == nil {
		return base, nil
	}
	text, err := e.market.Describe(ctx, item)
	if err != nil {
		return 0, err
	}
	return base * SentimentMultiplier(text), nil
}

func (e *Engine) degrade(res *AppraisalResult, cause error) {
	res.Degraded = true
	res.DegradedReason = cause.Error()
	res.BaseValue = res.Item.marketValue() * FallbackFactor
	res.FinalNetValue = res.BaseValue
	res.Decision = decide(res.FinalNetValue)
	e.logger.Warn("appraisal degraded", "correlation_id", res.CorrelationID, "agent_id", res.AgentID, "error", cause)
}

func (e *Engine) finish(ctx context.Context, a *agent.Agent, res AppraisalResult) AppraisalResult {
	a.Remember(agent.Appraisal{
		CorrelationID: res.CorrelationID,
		Item:          res.Item.Name,
		Context:       res.Context,
		FinalNetValue: res.FinalNetValue,
		Accepted:      res.Accepted(),
		At:            res.Timestamp,
	})

	e.logger.Debug("appraisal",
		"correlation_id", res.CorrelationID,
		"agent_id", res.AgentID,
		"archetype", res.Archetype,
		"item", res.Item.Name,
		"base", res.BaseValue,
		"drift", res.DriftAdjustment,
		"alignment", res.AlignmentScore,
		"ugtt", res.UGTTBonus,
		"costs", res.Costs.TotalUSD,
		"final", res.FinalNetValue,
		"decision", res.Decision)

	if e.recorder != nil {
		ev := events.NewAppraisal(res.AgentID, res.CorrelationID, string(res.Decision), events.Appraisal{
			Item:          res.Item.Name,
			Context:       res.Context,
			FinalNetValue: res.FinalNetValue,
			Degraded:      res.Degraded,
		})
		if err := e.recorder.Record(ctx, ev); err != nil {
			e.logger.Warn("record appraisal failed", "correlation_id", res.CorrelationID, "error", err)
		}
	}
	return res
}

// costs builds the breakdown. A pitch costs XP when the agent has reached the
// premium threshold, otherwise it is charged in USD.
func (e *Engine) costs(agentID, setting string, pitch bool) CostBreakdown {
	cb := CostBreakdown{
		GasUSD:         e.cfg.GasCostUSD,
		ProtocolFeeUSD: e.cfg.ProtocolFeeUSD,
	}
	cb.TotalUSD = cb.GasUSD + cb.ProtocolFeeUSD

	if setting == ContextCoalition {
		cb.CoalitionShare = e.cfg.CoalitionProfitShare
		cb.TotalUSD += cb.CoalitionShare
	}

	if pitch && !e.cfg.DisablePitching {
		xp := 0
		if e.xp != nil {
			xp = e.xp.XP(agentID)
		}
		if xp >= e.cfg.PremiumPitchThreshold {
			cb.PitchXP = e.cfg.PitchCostXP
		} else {
			cb.PitchUSD = e.cfg.PitchCostUSD
			cb.TotalUSD += cb.PitchUSD
		}
	}
	return cb
}

func decide(final float64) Decision {
	if final > 0 {
		return Accept
	}
	return Reject
}
