package agent

import (
	"strings"

	"github.com/hpungsan/paperclip/internal/config"
)

// Archetype is a named behavioral profile supplying valuation coefficients.
type Archetype string

const (
	Visionary Archetype = "visionary"
	Investor  Archetype = "investor"
	Default   Archetype = "default"
)

// ParseArchetype maps s onto a known archetype, falling back to Default.
func ParseArchetype(s string) Archetype {
	switch a := Archetype(strings.ToLower(strings.TrimSpace(s))); a {
	case Visionary, Investor:
		return a
	}
	return Default
}

// Profile holds the valuation coefficients of one archetype.
type Profile struct {
	RiskMultiplier      float64 `json:"risk_multiplier"`
	UGTTBonusMultiplier float64 `json:"ugtt_bonus_multiplier"`
	CostSensitivity     float64 `json:"cost_sensitivity"`
	DriftWeight         float64 `json:"drift_weight"`
}

var builtinProfiles = map[Archetype]Profile{
	Visionary: {
		RiskMultiplier:      1.2, // takes more risk
		UGTTBonusMultiplier: 1.1,
		CostSensitivity:     0.8,
		DriftWeight:         1.3,
	},
	Investor: {
		RiskMultiplier:      0.8, // conservative
		UGTTBonusMultiplier: 0.9,
		CostSensitivity:     1.2,
		DriftWeight:         0.7,
	},
	Default: {
		RiskMultiplier:      1.0,
		UGTTBonusMultiplier: 1.0,
		CostSensitivity:     1.0,
		DriftWeight:         1.0,
	},
}

// Profiles is an archetype lookup table.
type Profiles map[Archetype]Profile

// NewProfiles returns the built-in table with config overrides applied.
// Zero override fields keep the built-in value; unknown archetypes are ignored.
func NewProfiles(overrides map[string]config.ArchetypeCoefficients) Profiles {
	p := make(Profiles, len(builtinProfiles))
	for a, prof := range builtinProfiles {
		p[a] = prof
	}
	for name, o := range overrides {
		a := Archetype(strings.ToLower(strings.TrimSpace(name)))
		cur, ok := p[a]
		if !ok {
			continue
		}
		if o.RiskMultiplier != 0 {
			cur.RiskMultiplier = o.RiskMultiplier
		}
		if o.UGTTBonusMultiplier != 0 {
			cur.UGTTBonusMultiplier = o.UGTTBonusMultiplier
		}
		if o.CostSensitivity != 0 {
			cur.CostSensitivity = o.CostSensitivity
		}
		if o.DriftWeight != 0 {
			cur.DriftWeight = o.DriftWeight
		}
		p[a] = cur
	}
	return p
}

// Lookup returns the profile for a, or the default profile.
func (p Profiles) Lookup(a Archetype) Profile {
	if prof, ok := p[a]; ok {
		return prof
	}
	if prof, ok := p[Default]; ok {
		return prof
	}
	return builtinProfiles[Default]
}
