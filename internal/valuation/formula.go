package valuation

import (
	"strings"

	"github.com/hpungsan/paperclip/internal/agent"
	"github.com/hpungsan/paperclip/internal/capsule"
)

// Drift is the trend of the last three final values divided by three and
// scaled by 0.1. It is zero until the history holds more than three entries.
func Drift(history []float64) float64 {
	if len(history) <= 3 {
		return 0
	}
	recent := history[len(history)-3:]
	return (recent[2] - recent[0]) / 3 * 0.1
}

// Alignment is the keyword overlap between description and the agent's goal
// and value keys, averaged with the target's goal overlap when a target is
// given. It is scaled ×20 with a target and ×10 without.
func Alignment(own, target *capsule.Capsule, description string) float64 {
	if own == nil {
		return 0
	}
	item := capsule.Keywords(description)
	goal := capsule.Overlap(item, capsule.Keywords(own.Goal))
	values := capsule.Overlap(item, capsule.Keywords(strings.Join(own.ValueKeys(), " ")))
	score := (goal + values) * 0.5

	if target == nil {
		return score * 10
	}
	targetGoal := capsule.Overlap(item, capsule.Keywords(target.Goal))
	return (score + targetGoal) * 0.5 * 20
}

// Combine applies the archetype formula to a result's components.
func Combine(a agent.Archetype, p agent.Profile, alignmentWeight float64, r AppraisalResult) float64 {
	adjusted := r.BaseValue + r.DriftAdjustment*p.DriftWeight + r.AlignmentScore*alignmentWeight
	ugtt := r.UGTTBonus * p.UGTTBonusMultiplier
	costs := r.Costs.TotalUSD * p.CostSensitivity

	switch a {
	case agent.Visionary:
		return (adjusted+ugtt)*p.RiskMultiplier - costs
	case agent.Investor:
		return (adjusted - costs) * (1 + ugtt*0.1)
	default:
		return adjusted + ugtt - costs
	}
}
