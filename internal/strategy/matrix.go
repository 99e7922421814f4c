package strategy

import (
	"context"

	"github.com/hpungsan/paperclip/internal/errors"
)

var errNoModule = errors.NewCollaboratorUnavailable("strategy module", nil)

// coordinationGame is used when a Context carries no payoffs.
var coordinationGame = [][]float64{{1, 0}, {0, 1}}

// Matrix picks the payoff-matrix row with the highest average payoff.
// It stands in for an equilibrium solver.
type Matrix struct{}

// Evaluate implements Module.
func (Matrix) Evaluate(_ context.Context, in Context) (Decision, error) {
	payoffs := in.Payoffs
	if len(payoffs) == 0 {
		payoffs = coordinationGame
	}

	avgs := make([]float64, 0, len(payoffs))
	for _, row := range payoffs {
		if len(row) == 0 {
			return Decision{}, errors.NewInvalidRequest("payoff row is empty")
		}
		var sum float64
		for _, v := range row {
			sum += v
		}
		avgs = append(avgs, sum/float64(len(row)))
	}

	return Decision{
		Confidence: confidence(avgs),
		Strategy:   Select(in.Archetype, in.Setting),
	}, nil
}

// confidence is the best row's margin over the mean, normalised by the spread.
// A matrix with no spread yields 0.5.
func confidence(avgs []float64) float64 {
	best, worst, sum := avgs[0], avgs[0], 0.0
	for _, a := range avgs {
		best = max(best, a)
		worst = min(worst, a)
		sum += a
	}
	spread := best - worst
	if spread == 0 {
		return 0.5
	}
	mean := sum / float64(len(avgs))
	return min(max((best-mean)/spread, 0), 1)
}

// Select derives a strategy from archetype and setting.
func Select(archetype, setting string) Strategy {
	switch {
	case setting == "coalition":
		return Cooperative
	case archetype == "visionary":
		return Cooperative
	case archetype == "investor":
		return Competitive
	}
	return Neutral
}
