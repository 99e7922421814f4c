package valuation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/paperclip/internal/agent"
	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/events"
	"github.com/hpungsan/paperclip/internal/logging"
	"github.com/hpungsan/paperclip/internal/memory"
	"github.com/hpungsan/paperclip/internal/strategy"
)

func zeroCostConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.GasCostUSD = 0
	cfg.ProtocolFeeUSD = 0
	cfg.CoalitionProfitShare = 0
	return cfg
}

func fixedStrategy(conf float64, s strategy.Strategy) strategy.Module {
	return strategy.ModuleFunc(func(context.Context, strategy.Context) (strategy.Decision, error) {
		return strategy.Decision{Confidence: conf, Strategy: s}, nil
	})
}

var failingStrategy = strategy.ModuleFunc(func(context.Context, strategy.Context) (strategy.Decision, error) {
	return strategy.Decision{}, errors.New("solver crashed")
})

type marketFunc func(context.Context, Item) (string, error)

func (f marketFunc) Describe(ctx context.Context, it Item) (string, error) { return f(ctx, it) }

type xpMap map[string]int

func (m xpMap) XP(id string) int { return m[id] }

func newAgent(arch agent.Archetype, goal string, tags ...string) *agent.Agent {
	return agent.New("agent-1", arch, &capsule.Capsule{ID: "cap-1", Goal: goal, Tags: tags})
}

func TestAppraise_ExampleScenario(t *testing.T) {
	e := New(zeroCostConfig(), WithStrategy(fixedStrategy(0, strategy.Neutral)), WithLogger(logging.NewNop()))
	a := newAgent(agent.Visionary, "collect rare stamps")

	res := e.Appraise(context.Background(), a,
		Item{Name: "license", MarketValue: 500, Condition: "excellent", Category: "software"}, ContextTrade, nil)

	require.False(t, res.Degraded)
	require.InDelta(t, 600, res.BaseValue, 1e-9)
	require.Zero(t, res.AlignmentScore)
	require.Zero(t, res.DriftAdjustment)
	require.Zero(t, res.UGTTBonus)
	require.InDelta(t, 600*1.2, res.FinalNetValue, 1e-9)
	require.Equal(t, Accept, res.Decision)
	require.NotEmpty(t, res.CorrelationID)
	require.Len(t, a.History(), 1)
	require.Equal(t, res.CorrelationID, a.History()[0].CorrelationID)
}

func TestConditionMultiplier(t *testing.T) {
	tests := map[string]float64{
		"excellent": 1.2,
		"very_good": 1.1,
		"Very Good": 1.1,
		"good":      1.0,
		"fair":      0.8,
		"poor":      0.6,
		"mint":      1.0,
		"":          1.0,
	}
	for in, want := range tests {
		if got := ConditionMultiplier(in); got != want {
			t.Errorf("ConditionMultiplier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCategoryInterest(t *testing.T) {
	c := &capsule.Capsule{Goal: "Build open tools", Tags: []string{"Vintage"}}
	tests := []struct {
		desc string
		want float64
	}{
		{"A set of open-source tools", 1.5},
		{"A vintage lamp", 1.3},
		{"A plain lamp", 1.0},
		{"", 1.0},
	}
	for _, tt := range tests {
		if got := CategoryInterest(c, tt.desc); got != tt.want {
			t.Errorf("CategoryInterest(%q) = %v, want %v", tt.desc, got, tt.want)
		}
	}
	require.Equal(t, 1.0, CategoryInterest(nil, "tools"))
}

func TestSentimentMultiplier(t *testing.T) {
	require.Equal(t, 1.0, SentimentMultiplier(""))
	require.InDelta(t, 1.2, SentimentMultiplier("Strong demand for widgets"), 1e-9)
	require.InDelta(t, 0.9, SentimentMultiplier("bearish outlook, rising rates, weak retail"), 1e-9)
}

func TestDrift(t *testing.T) {
	require.Zero(t, Drift(nil))
	require.Zero(t, Drift([]float64{1, 2, 3}))
	require.InDelta(t, (40.0-10.0)/3*0.1, Drift([]float64{100, 10, 20, 40}), 1e-9)
}

func TestAlignment(t *testing.T) {
	own := &capsule.Capsule{Goal: "trade paperclip upward", Values: map[string]float64{"speed": 1, "quality": 1}}
	target := &capsule.Capsule{Goal: "find paperclip now"}
	desc := "a quality paperclip"

	// goal 1/3, values 1/2
	noTarget := (1.0/3 + 0.5) * 0.5 * 10
	require.InDelta(t, noTarget, Alignment(own, nil, desc), 1e-9)

	// target goal overlap 1/3
	withTarget := ((1.0/3+0.5)*0.5 + 1.0/3) * 0.5 * 20
	require.InDelta(t, withTarget, Alignment(own, target, desc), 1e-9)

	require.Zero(t, Alignment(nil, target, desc))
}

func TestCombine(t *testing.T) {
	profiles := agent.NewProfiles(nil)
	r := AppraisalResult{
		BaseValue:       100,
		DriftAdjustment: 2,
		AlignmentScore:  10,
		UGTTBonus:       5,
		Costs:           CostBreakdown{TotalUSD: 1},
	}

	v := profiles.Lookup(agent.Visionary)
	wantV := (100+2*1.3+10*0.3+5*1.1)*1.2 - 1*0.8
	require.InDelta(t, wantV, Combine(agent.Visionary, v, 0.3, r), 1e-9)

	i := profiles.Lookup(agent.Investor)
	wantI := (100 + 2*0.7 + 10*0.3 - 1*1.2) * (1 + 5*0.9*0.1)
	require.InDelta(t, wantI, Combine(agent.Investor, i, 0.3, r), 1e-9)

	d := profiles.Lookup(agent.Default)
	wantD := 100 + 2 + 10*0.3 + 5 - 1
	require.InDelta(t, wantD, Combine(agent.Default, d, 0.3, r), 1e-9)
}

func TestVisionaryDominatesDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	e := New(cfg, WithStrategy(fixedStrategy(0.7, strategy.Cooperative)), WithLogger(logging.NewNop()))
	item := Item{Name: "clip", Description: "a shiny clip", MarketValue: 40, Condition: "good"}

	for _, mv := range []float64{0.5, 1, 40, 1000} {
		item.MarketValue = mv
		vis := e.Appraise(context.Background(), newAgent(agent.Visionary, "collect clips"), item, ContextTrade, nil)
		def := e.Appraise(context.Background(), newAgent(agent.Default, "collect clips"), item, ContextTrade, nil)
		require.Greater(t, vis.UGTTBonus, 0.0)
		require.GreaterOrEqual(t, vis.FinalNetValue, def.FinalNetValue, "market value %v", mv)
	}
}

func TestCosts(t *testing.T) {
	cfg := config.DefaultConfig()
	xp := xpMap{"rich": 50}
	e := New(cfg, WithXP(xp), WithLogger(logging.NewNop()))

	base := e.costs("poor", ContextTrade, false)
	require.InDelta(t, cfg.GasCostUSD+cfg.ProtocolFeeUSD, base.TotalUSD, 1e-12)

	coal := e.costs("poor", ContextCoalition, false)
	require.InDelta(t, base.TotalUSD+cfg.CoalitionProfitShare, coal.TotalUSD, 1e-12)

	usdPitch := e.costs("poor", ContextTrade, true)
	require.Equal(t, cfg.PitchCostUSD, usdPitch.PitchUSD)
	require.Zero(t, usdPitch.PitchXP)
	require.InDelta(t, base.TotalUSD+cfg.PitchCostUSD, usdPitch.TotalUSD, 1e-12)

	xpPitch := e.costs("rich", ContextTrade, true)
	require.Equal(t, cfg.PitchCostXP, xpPitch.PitchXP)
	require.Zero(t, xpPitch.PitchUSD)
	require.InDelta(t, base.TotalUSD, xpPitch.TotalUSD, 1e-12)

	cfg.DisablePitching = true
	off := e.costs("poor", ContextTrade, true)
	require.Zero(t, off.PitchUSD)
	require.Zero(t, off.PitchXP)
}

func TestAppraise_Degrades(t *testing.T) {
	item := Item{Name: "clip", MarketValue: 100, Condition: "excellent"}

	tests := []struct {
		name string
		opts []Option
	}{
		{"strategy fails", []Option{WithStrategy(failingStrategy)}},
		{"market fails", []Option{WithMarket(marketFunc(func(context.Context, Item) (string, error) {
			return "", errors.New("feed down")
		}))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			opts := append(tt.opts, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
			e := New(config.DefaultConfig(), opts...)

			res := e.Appraise(context.Background(), newAgent(agent.Investor, "anything"), item, ContextTrade, nil)
			require.True(t, res.Degraded)
			require.NotEmpty(t, res.DegradedReason)
			require.InDelta(t, 80, res.FinalNetValue, 1e-9)
			require.Equal(t, Accept, res.Decision)
			require.Contains(t, buf.String(), "appraisal degraded")
		})
	}

	t.Run("zero market value rejects", func(t *testing.T) {
		e := New(config.DefaultConfig(), WithStrategy(failingStrategy), WithLogger(logging.NewNop()))
		res := e.Appraise(context.Background(), newAgent(agent.Default, "x"), Item{Name: "dust", MarketValue: -5}, ContextTrade, nil)
		require.Equal(t, Reject, res.Decision)
		require.Zero(t, res.FinalNetValue)
	})
}

func TestAppraise_MarketSentiment(t *testing.T) {
	market := marketFunc(func(_ context.Context, it Item) (string, error) {
		return "bullish growth in " + it.Category, nil
	})
	e := New(zeroCostConfig(), WithMarket(market), WithStrategy(fixedStrategy(0, strategy.Neutral)), WithLogger(logging.NewNop()))

	res := e.Appraise(context.Background(), newAgent(agent.Default, "x"),
		Item{Name: "clip", MarketValue: 100, Category: "office"}, "", nil)
	require.Equal(t, ContextTrade, res.Context)
	require.InDelta(t, 120, res.BaseValue, 1e-9)
}

func TestAppraise_DriftFromHistory(t *testing.T) {
	e := New(zeroCostConfig(), WithStrategy(fixedStrategy(0, strategy.Neutral)), WithLogger(logging.NewNop()))
	a := newAgent(agent.Default, "x")
	for _, v := range []float64{1, 10, 20, 40} {
		a.Remember(agent.Appraisal{FinalNetValue: v})
	}
	res := e.Appraise(context.Background(), a, Item{Name: "clip", MarketValue: 10}, ContextTrade, nil)
	require.InDelta(t, 1.0, res.DriftAdjustment, 1e-9)
	require.InDelta(t, 11, res.FinalNetValue, 1e-9)
}

func TestAppraise_RecordsEvent(t *testing.T) {
	mem := memory.NewStore()
	e := New(config.DefaultConfig(), WithRecorder(mem), WithLogger(logging.NewNop()))
	res := e.Appraise(context.Background(), newAgent(agent.Visionary, "x"), Item{Name: "clip", MarketValue: 5}, ContextTrade, nil)

	evs, err := mem.Recent(context.Background(), "agent-1", 5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, events.KindAppraisal, evs[0].Kind)
	require.Equal(t, res.CorrelationID, evs[0].CorrelationID)
	require.Equal(t, string(res.Decision), evs[0].Outcome)
}
