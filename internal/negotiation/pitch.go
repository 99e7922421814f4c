package negotiation

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/rewards"
)

// Pitch is a persuasion message attached to a proposal.
type Pitch struct {
	Text            string              `json:"text"`
	Context         string              `json:"context"`
	TargetCapsuleID string              `json:"target_capsule_id"`
	Method          rewards.PitchMethod `json:"payment_method"`
}

// Bonus is the acceptance bonus a pitch earns.
func (p *Pitch) Bonus() float64 {
	if p == nil {
		return 0
	}
	return PitchBonus(p.Method)
}

// PitchBonus is 0.2 for a paid pitch, 0.1 for a free one and 0 otherwise.
func PitchBonus(m rewards.PitchMethod) float64 {
	switch {
	case m.Paid():
		return 0.2
	case m == rewards.PitchFree:
		return 0.1
	}
	return 0
}

type pitchTemplate func(own, target, common string) string

var pitchTemplates = map[string][]pitchTemplate{
	ContextTrade: {
		func(own, target, _ string) string {
			return fmt.Sprintf("This trade fits both our goals of %s and %s. Let's create value together.", own, target)
		},
		func(_, _, common string) string {
			return fmt.Sprintf("We share a focus on %s, so this trade pays off for both of us right away.", common)
		},
		func(own, target, _ string) string {
			return fmt.Sprintf("This trade pairs your work on %s with my focus on %s.", target, own)
		},
	},
	ContextCoalition: {
		func(own, target, _ string) string {
			return fmt.Sprintf("Together we reach further than alone. Our goals of %s and %s reinforce each other.", own, target)
		},
		func(own, target, _ string) string {
			return fmt.Sprintf("Your experience with %s and my focus on %s would make this coalition strong.", target, own)
		},
		func(_, _, common string) string {
			return fmt.Sprintf("This coalition builds on our shared values around %s.", common)
		},
	},
}

// PitchText picks a template for context by hashing the target capsule id,
// so the same target always hears the same pitch.
func PitchText(own, target *capsule.Capsule, context string) string {
	templates, ok := pitchTemplates[context]
	if !ok {
		templates = pitchTemplates[ContextTrade]
	}

	fallback := "growth"
	if context == ContextCoalition {
		fallback = "excellence"
	}
	common := commonValues(own, target)
	if common == "" {
		common = fallback
	}

	h := fnv.New32a()
	h.Write([]byte(target.ID))
	pick := templates[h.Sum32()%uint32(len(templates))]
	return pick(goalOf(own), goalOf(target), common)
}

// commonValues returns up to two shared value keys in sorted order.
func commonValues(a, b *capsule.Capsule) string {
	var shared []string
	for k := range a.Values {
		if _, ok := b.Values[k]; ok {
			shared = append(shared, k)
		}
	}
	sort.Strings(shared)
	if len(shared) > 2 {
		shared = shared[:2]
	}
	return strings.Join(shared, ", ")
}

func goalOf(c *capsule.Capsule) string {
	if g := strings.TrimSpace(c.Goal); g != "" {
		return g
	}
	return "our shared goals"
}
