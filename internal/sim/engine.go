package sim

import (
	"context"
	"math/rand/v2"

	"github.com/hpungsan/paperclip/internal/negotiation"
)

// Black swan tuning.
const (
	BlackSwanProbability = 0.05
	BlackSwanTicks       = 3
)

// TradeReputationDelta is added to both parties of an accepted trade.
const TradeReputationDelta = 0.1

// Report summarizes a run.
type Report struct {
	Ticks            int `json:"ticks"`
	Trades           int `json:"trades"`
	TradesAccepted   int `json:"trades_accepted"`
	Coalitions       int `json:"coalitions_proposed"`
	CoalitionsFormed int `json:"coalitions_formed"`
	Reevaluations    int `json:"reevaluations"`
	Shocks           int `json:"shocks"`
}

func (r *Report) add(o Report) {
	r.Ticks += o.Ticks
	r.Trades += o.Trades
	r.TradesAccepted += o.TradesAccepted
	r.Coalitions += o.Coalitions
	r.CoalitionsFormed += o.CoalitionsFormed
	r.Reevaluations += o.Reevaluations
	r.Shocks += o.Shocks
}

// Runner steps a World through a scenario.
type Runner struct {
	world *World
	sc    *Scenario
	rng   *rand.Rand
}

// NewRunner creates a runner. The scenario's agents must already be loaded.
func NewRunner(w *World, sc *Scenario) *Runner {
	seed := uint64(sc.Seed)
	return &Runner{world: w, sc: sc, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Run executes every tick of the scenario. It stops early, returning the
// partial report and ctx's error, when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var total Report
	for tick := 1; tick <= r.sc.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rep, err := r.Step(ctx, tick)
		total.add(rep)
		if err != nil {
			return total, err
		}
	}
	r.world.logger.Info("simulation finished",
		"ticks", total.Ticks,
		"trades", total.Trades,
		"trades_accepted", total.TradesAccepted,
		"coalitions_formed", total.CoalitionsFormed,
	)
	return total, nil
}

// Step runs one tick: market update, a trade per agent, then coalition and
// reevaluation rounds when due.
func (r *Runner) Step(ctx context.Context, tick int) (Report, error) {
	w := r.world
	rep := Report{Ticks: 1}

	w.Market.Advance(int64(tick))
	if w.Config.EnableBlackSwan && r.rng.Float64() < BlackSwanProbability {
		w.Market.Shock(BlackSwanTicks)
		w.logger.Warn("black swan", "tick", tick)
		rep.Shocks++
	}

	agents := w.Agents()
	items := r.sc.Items
	for i, initiator := range agents {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		target := agents[(i+1)%len(agents)]
		if target == initiator {
			continue
		}
		item := items[(tick+i)%len(items)]

		res := w.Coordinator.ProposeTrade(ctx, initiator, target, item)
		rep.Trades++
		if !res.Accepted() {
			continue
		}
		rep.TradesAccepted++
		w.ApplyMint(res.Mint)
		for _, id := range []string{initiator.ID, target.ID} {
			if _, err := w.Memory.AdjustReputation(ctx, id, TradeReputationDelta); err != nil {
				w.logger.Warn("reputation update failed", "agent_id", id, "error", err)
			}
		}
	}

	if due(tick, r.sc.CoalitionEvery) {
		free := w.Uncommitted()
		if len(free) >= 3 {
			res := w.Coordinator.ProposeCoalition(ctx, free[0], free[1:], negotiation.CoalitionDetails{Purpose: "pool resources"})
			rep.Coalitions++
			if res.Accepted() {
				rep.CoalitionsFormed++
			}
		}
	}

	if due(tick, r.sc.ReevaluateEvery) {
		n, err := w.Reevaluate(ctx)
		rep.Reevaluations += n
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func due(tick, every int) bool {
	return every > 0 && tick%every == 0
}
