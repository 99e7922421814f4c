package sim

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/valuation"
)

// AgentSpec seeds one agent.
type AgentSpec struct {
	ID        string             `yaml:"id"`
	Archetype string             `yaml:"archetype"`
	Goal      string             `yaml:"goal"`
	Values    map[string]float64 `yaml:"values"`
	Tags      []string           `yaml:"tags"`
	Wallet    string             `yaml:"wallet"`
	XP        int                `yaml:"xp"`
	Credit    float64            `yaml:"credit"`
}

// Scenario is a simulation definition.
type Scenario struct {
	Seed            int64            `yaml:"seed"`
	Ticks           int              `yaml:"ticks"`
	CoalitionEvery  int              `yaml:"coalition_every"`
	ReevaluateEvery int              `yaml:"reevaluate_every"`
	Agents          []AgentSpec      `yaml:"agents"`
	Items           []valuation.Item `yaml:"-"`
	RawItems        []any            `yaml:"items"`
}

// Catalog holds items a scenario can reference by name.
var Catalog = map[string]valuation.Item{
	"red paperclip": {
		Name:        "Red Paperclip",
		Description: "A single red paperclip, the start of every trade-up chain",
		Category:    "collectibles",
		Condition:   "good",
		MarketValue: 1,
	},
	"ai development toolkit": {
		Name:        "AI Development Toolkit",
		Description: "Comprehensive AI development suite with ML algorithms and neural network frameworks for innovation",
		Category:    "software",
		Condition:   "excellent",
		Type:        "digital",
		MarketValue: 500,
	},
	"climate data analytics platform": {
		Name:        "Climate Data Analytics Platform",
		Description: "Advanced platform for analyzing climate change data and sustainability trends",
		Category:    "analytics",
		Condition:   "very good",
		Type:        "digital",
		MarketValue: 800,
	},
	"investment analysis bot": {
		Name:        "Investment Analysis Bot",
		Description: "Automated trading bot with machine learning-based investment profit strategies",
		Category:    "finance",
		Condition:   "excellent",
		Type:        "digital",
		MarketValue: 350,
	},
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario. Items are either
// inline maps or the name of a Catalog entry.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.NewInvalidRequest("invalid scenario: " + err.Error())
	}

	for i, raw := range sc.RawItems {
		switch v := raw.(type) {
		case string:
			item, ok := Catalog[strings.ToLower(strings.TrimSpace(v))]
			if !ok {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("items[%d]: unknown catalog item %q", i, v))
			}
			sc.Items = append(sc.Items, item)
		case map[string]any:
			var item valuation.Item
			dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				Result:           &item,
				WeaklyTypedInput: true,
				ErrorUnused:      true,
			})
			if err != nil {
				return nil, errors.NewInternal(err)
			}
			if err := dec.Decode(v); err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("items[%d]: %v", i, err))
			}
			if strings.TrimSpace(item.Name) == "" {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("items[%d]: name is required", i))
			}
			sc.Items = append(sc.Items, item)
		default:
			return nil, errors.NewInvalidRequest(fmt.Sprintf("items[%d]: invalid item definition type %T", i, v))
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks agent ids and counts.
func (sc *Scenario) Validate() error {
	if len(sc.Agents) < 2 {
		return errors.NewInvalidRequest("scenario needs at least 2 agents")
	}
	if len(sc.Items) == 0 {
		return errors.NewInvalidRequest("scenario needs at least 1 item")
	}
	if sc.Ticks < 0 || sc.CoalitionEvery < 0 || sc.ReevaluateEvery < 0 {
		return errors.NewInvalidRequest("ticks and intervals must not be negative")
	}
	seen := make(map[string]bool, len(sc.Agents))
	for i, a := range sc.Agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("agents[%d]: id is required", i))
		}
		if seen[id] {
			return errors.NewInvalidRequest(fmt.Sprintf("agents[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
		if strings.TrimSpace(a.Goal) == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("agents[%d]: goal is required", i))
		}
	}
	return nil
}
