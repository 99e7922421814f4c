// Package market generates market-condition text for items from
// deterministic simplex noise, for use as a valuation collaborator.
package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/hpungsan/paperclip/internal/valuation"
)

// Noise describes markets by sampling 2D noise at (category, tick).
// Safe for concurrent use.
type Noise struct {
	noise opensimplex.Noise

	mu        sync.RWMutex
	tick      int64
	shockLeft int
}

// NewNoise creates a market seeded with seed.
func NewNoise(seed int64) *Noise {
	return &Noise{noise: opensimplex.NewNormalized(seed)}
}

// Advance moves the market to tick and counts down any active shock.
func (n *Noise) Advance(tick int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tick = tick
	if n.shockLeft > 0 {
		n.shockLeft--
	}
}

// Shock forces a crash for the next ticks ticks.
func (n *Noise) Shock(ticks int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shockLeft = max(n.shockLeft, ticks)
}

// Shocked reports whether a crash is in effect.
func (n *Noise) Shocked() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.shockLeft > 0
}

// Level returns the normalized market level in [0,1] for category at the current tick.
func (n *Noise) Level(category string) float64 {
	n.mu.RLock()
	tick := n.tick
	n.mu.RUnlock()
	return octaveNoise(n.noise, categoryCoord(category), float64(tick), 3, 0.1, 0.5)
}

// Describe implements valuation.MarketContext.
func (n *Noise) Describe(ctx context.Context, item valuation.Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	category := strings.TrimSpace(item.Category)
	if category == "" {
		category = "general"
	}
	if n.Shocked() {
		return fmt.Sprintf("%s market crash: bearish decline, falling prices, oversupply", category), nil
	}

	level := n.Level(category)
	switch {
	case level > 0.75:
		return fmt.Sprintf("%s prices rising on demand", category), nil
	case level > 0.6:
		return fmt.Sprintf("steady growth in %s", category), nil
	case level < 0.25:
		return fmt.Sprintf("%s prices falling amid weak interest", category), nil
	case level < 0.4:
		return fmt.Sprintf("slow decline in %s", category), nil
	}
	return fmt.Sprintf("%s market flat", category), nil
}

func categoryCoord(category string) float64 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(category)))
	return float64(h.Sum32()%1000) * 7.3
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for range octaves {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
