// Package rewards tracks per-agent XP, milestone badges and USD credit.
package rewards

import (
	"sync"

	"github.com/hpungsan/paperclip/internal/errors"
)

// PitchMethod is how a persuasion pitch was paid for.
type PitchMethod string

const (
	PitchUSD  PitchMethod = "usd"
	PitchXP   PitchMethod = "xp"
	PitchFree PitchMethod = "free"
	PitchNone PitchMethod = "none"
)

// Paid reports whether the pitch cost the agent anything.
func (m PitchMethod) Paid() bool {
	return m == PitchUSD || m == PitchXP
}

// Well-known milestones.
const (
	BadgeSelfModifier = "Self-Modifier"
	BadgeCoalition    = "Coalition Builder"
	BadgeFirstTrade   = "First Trade"
)

type account struct {
	xp      int
	credit  float64
	badges  map[string]bool
	history []Grant
}

// Grant is one XP award.
type Grant struct {
	XP     int    `json:"xp"`
	Reason string `json:"reason"`
}

// Ledger holds balances for every agent. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	pitchXP  int
	pitchUSD float64
}

// NewLedger creates a ledger with the given pitch prices.
func NewLedger(pitchXP int, pitchUSD float64) *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
		pitchXP:  pitchXP,
		pitchUSD: pitchUSD,
	}
}

func (l *Ledger) get(agentID string) *account {
	a, ok := l.accounts[agentID]
	if !ok {
		a = &account{badges: make(map[string]bool)}
		l.accounts[agentID] = a
	}
	return a
}

// Grant adds xp to the agent. Non-positive amounts are ignored.
func (l *Ledger) Grant(agentID string, xp int, reason string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.get(agentID)
	if xp > 0 {
		a.xp += xp
		a.history = append(a.history, Grant{XP: xp, Reason: reason})
	}
	return a.xp
}

// XP returns the agent's XP balance.
func (l *Ledger) XP(agentID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(agentID).xp
}

// Grants returns the agent's XP award history, oldest first.
func (l *Ledger) Grants(agentID string) []Grant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Grant(nil), l.get(agentID).history...)
}

// AwardBadge grants the milestone badge and its xp once. It reports whether
// the badge was newly awarded.
func (l *Ledger) AwardBadge(agentID, milestone string, xp int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.get(agentID)
	if a.badges[milestone] {
		return false
	}
	a.badges[milestone] = true
	if xp > 0 {
		a.xp += xp
		a.history = append(a.history, Grant{XP: xp, Reason: "badge: " + milestone})
	}
	return true
}

// HasBadge reports whether the agent holds the milestone badge.
func (l *Ledger) HasBadge(agentID, milestone string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(agentID).badges[milestone]
}

// Credit adds USD to the agent's balance.
func (l *Ledger) Credit(agentID string, usd float64) error {
	if usd < 0 {
		return errors.NewInvalidRequest("credit amount must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(agentID).credit += usd
	return nil
}

// Balance returns the agent's USD balance.
func (l *Ledger) Balance(agentID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(agentID).credit
}

// Spend deducts usd, failing without change when the balance is short.
func (l *Ledger) Spend(agentID string, usd float64) error {
	if usd < 0 {
		return errors.NewInvalidRequest("spend amount must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.get(agentID)
	if a.credit < usd {
		return errors.NewInvalidRequest("insufficient credit")
	}
	a.credit -= usd
	return nil
}

// PayPitch charges the agent for one pitch: USD if the balance covers it,
// else XP, else the pitch goes out free.
func (l *Ledger) PayPitch(agentID string) PitchMethod {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.get(agentID)
	switch {
	case l.pitchUSD > 0 && a.credit >= l.pitchUSD:
		a.credit -= l.pitchUSD
		return PitchUSD
	case l.pitchXP > 0 && a.xp >= l.pitchXP:
		a.xp -= l.pitchXP
		return PitchXP
	default:
		return PitchFree
	}
}
