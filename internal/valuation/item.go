package valuation

import (
	"math"
	"strings"

	"github.com/hpungsan/paperclip/internal/capsule"
)

// Item is something an agent can appraise and trade.
type Item struct {
	Name        string  `json:"name" yaml:"name" mapstructure:"name"`
	Description string  `json:"description" yaml:"description" mapstructure:"description"`
	Category    string  `json:"category" yaml:"category" mapstructure:"category"`
	Condition   string  `json:"condition" yaml:"condition" mapstructure:"condition"`
	Type        string  `json:"type,omitempty" yaml:"type" mapstructure:"type"`
	MarketValue float64 `json:"market_value" yaml:"market_value" mapstructure:"market_value"`
}

// marketValue returns a usable market value; negative or non-finite values read as 0.
func (it Item) marketValue() float64 {
	v := it.MarketValue
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

var conditionMultipliers = map[string]float64{
	"excellent": 1.2,
	"very good": 1.1,
	"good":      1.0,
	"fair":      0.8,
	"poor":      0.6,
}

// ConditionMultiplier maps an item condition to its value multiplier.
// "very_good" and "Very Good" are the same condition; unknown conditions give 1.0.
func ConditionMultiplier(condition string) float64 {
	key := capsule.Normalize(strings.ReplaceAll(condition, "_", " "))
	if m, ok := conditionMultipliers[key]; ok {
		return m
	}
	return 1.0
}

// CategoryInterest is 1.5 when a goal keyword appears in the description,
// 1.3 when one of the tags does, else 1.0.
func CategoryInterest(c *capsule.Capsule, description string) float64 {
	if c == nil || strings.TrimSpace(description) == "" {
		return 1.0
	}
	desc := capsule.Keywords(description)
	if capsule.Overlap(desc, capsule.Keywords(c.Goal)) > 0 {
		return 1.5
	}
	lower := strings.ToLower(description)
	for _, tag := range c.Tags {
		if t := capsule.Normalize(tag); t != "" && strings.Contains(lower, t) {
			return 1.3
		}
	}
	return 1.0
}

var (
	positiveWords = []string{"growth", "rising", "strong", "bullish", "increasing", "demand"}
	negativeWords = []string{"decline", "falling", "weak", "bearish", "decreasing", "oversupply"}
)

// SentimentMultiplier turns a market description into 1 + 0.1×(positive − negative).
func SentimentMultiplier(text string) float64 {
	if text == "" {
		return 1.0
	}
	lower := strings.ToLower(text)
	net := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			net++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			net--
		}
	}
	return 1.0 + float64(net)*0.1
}
