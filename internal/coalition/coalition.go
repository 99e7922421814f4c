// Package coalition tracks coalition membership and reputation-weighted
// payoff splits. Every agent belongs to at most one active coalition.
package coalition

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"maps"
	"math"
	mrand "math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/rewards"
)

// MinMembers is the smallest active coalition.
const MinMembers = 3

// ShareEpsilon bounds |Σshares − pooled|.
const ShareEpsilon = 1e-6

// NeutralReputation is used for agents whose reputation cannot be read.
const NeutralReputation = 1.0

// Proposal is an uncommitted coalition.
type Proposal struct {
	Initiator    string             `json:"initiator"`
	Members      []string           `json:"members"`
	PooledPayoff float64            `json:"pooled_payoff"`
	Shares       map[string]float64 `json:"payoff_shares"`
	Accepted     bool               `json:"accepted"`
	CoalitionID  string             `json:"coalition_id,omitempty"`
}

// Coalition is a committed group.
type Coalition struct {
	ID           string             `json:"id"`
	Members      []string           `json:"members"`
	PooledPayoff float64            `json:"pooled_payoff"`
	Shares       map[string]float64 `json:"payoff_shares"`
	FormedAt     time.Time          `json:"formed_at"`
	// NeedsSplit is set on merged coalitions, whose payoff must be re-proposed.
	NeedsSplit bool `json:"needs_split,omitempty"`
}

func (c *Coalition) clone() Coalition {
	out := *c
	out.Members = slices.Clone(c.Members)
	out.Shares = maps.Clone(c.Shares)
	return out
}

// ReputationSource reads agent reputation.
type ReputationSource interface {
	Reputation(ctx context.Context, agentID string) (float64, error)
}

// PayoffEstimator returns the pooled payoff for a prospective membership.
type PayoffEstimator func(members []string) float64

// Rewarder grants XP and badges to members of accepted coalitions.
type Rewarder interface {
	Grant(agentID string, xp int, reason string) int
	AwardBadge(agentID, milestone string, xp int) bool
}

// Ledger is the coalition registry. A single mutex makes Accept's
// membership check and commit one critical section.
type Ledger struct {
	mu         sync.Mutex
	coalitions map[string]*Coalition
	index      map[string]string // agent id -> coalition id

	reputation ReputationSource
	estimate   PayoffEstimator
	rewarder   Rewarder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReputation sets the reputation source. Without one every agent is neutral.
func WithReputation(r ReputationSource) Option {
	return func(l *Ledger) { l.reputation = r }
}

// WithEstimator replaces the pooled-payoff estimator.
func WithEstimator(f PayoffEstimator) Option {
	return func(l *Ledger) { l.estimate = f }
}

// WithSeed makes the default estimator deterministic.
func WithSeed(seed uint64) Option {
	return func(l *Ledger) { l.estimate = RandomEstimator(seed) }
}

// WithRewarder grants int(share×10) XP to each member on accept.
func WithRewarder(r Rewarder) Option {
	return func(l *Ledger) { l.rewarder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// RandomEstimator sums uniform(1,10) per member. Callers must serialise use;
// the Ledger does so under its lock.
func RandomEstimator(seed uint64) PayoffEstimator {
	rng := mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(members []string) float64 {
		var total float64
		for range members {
			total += 1 + rng.Float64()*9
		}
		return total
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		coalitions: make(map[string]*Coalition),
		index:      make(map[string]string),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.estimate == nil {
		l.estimate = RandomEstimator(uint64(time.Now().UnixNano()))
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Propose returns a proposal for initiator and candidates, or nil when the
// union has fewer than MinMembers agents or any of them is already committed.
func (l *Ledger) Propose(ctx context.Context, initiator string, candidates []string) *Proposal {
	p, err := l.TryPropose(ctx, initiator, candidates)
	if err != nil {
		l.logger.Debug("coalition proposal rejected", "initiator", initiator, "reason", err)
		return nil
	}
	return p
}

// TryPropose is Propose with the rejection reason as an INVARIANT_VIOLATION error.
func (l *Ledger) TryPropose(ctx context.Context, initiator string, candidates []string) (*Proposal, error) {
	members := unique(append([]string{initiator}, candidates...))
	if len(members) < MinMembers {
		return nil, errors.NewInvariantViolation(
			fmt.Sprintf("coalition needs at least %d members, got %d", MinMembers, len(members)))
	}

	// Reputation is read before taking the lock; it may block on a store.
	reps := make(map[string]float64, len(members))
	for _, id := range members {
		reps[id] = l.readReputation(ctx, id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if committed := l.committed(members); len(committed) > 0 {
		return nil, errors.NewInvariantViolation("agents already in a coalition", committed...)
	}

	pooled := l.estimate(members)
	return &Proposal{
		Initiator:    initiator,
		Members:      members,
		PooledPayoff: pooled,
		Shares:       Split(pooled, reps),
	}, nil
}

// Accept commits p if no member has joined another coalition since it was
// proposed. It reports whether the coalition was formed.
func (l *Ledger) Accept(p *Proposal) bool {
	_, err := l.TryAccept(p)
	if err != nil {
		l.logger.Debug("coalition accept rejected", "reason", err)
		return false
	}
	return true
}

// TryAccept is Accept returning the new coalition id or the rejection reason.
func (l *Ledger) TryAccept(p *Proposal) (string, error) {
	if p == nil {
		return "", errors.NewInvalidRequest("proposal is required")
	}
	if p.Accepted {
		return "", errors.NewConflict("proposal already accepted")
	}
	members := unique(p.Members)
	if len(members) < MinMembers {
		return "", errors.NewInvariantViolation(
			fmt.Sprintf("coalition needs at least %d members, got %d", MinMembers, len(members)))
	}
	if err := checkShares(p.PooledPayoff, p.Shares, members); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if committed := l.committed(members); len(committed) > 0 {
		return "", errors.NewInvariantViolation("agents already in a coalition", committed...)
	}

	id, err := newID()
	if err != nil {
		return "", err
	}
	c := &Coalition{
		ID:           id,
		Members:      members,
		PooledPayoff: p.PooledPayoff,
		Shares:       maps.Clone(p.Shares),
		FormedAt:     l.now().UTC(),
	}
	l.coalitions[id] = c
	for _, m := range members {
		l.index[m] = id
	}
	p.Accepted = true
	p.CoalitionID = id
	l.verify("accept")

	if l.rewarder != nil {
		for _, m := range members {
			l.rewarder.Grant(m, int(c.Shares[m]*10), "coalition payoff share in "+id)
			l.rewarder.AwardBadge(m, rewards.BadgeCoalition, 0)
		}
	}
	l.logger.Info("coalition formed", "coalition_id", id, "members", members, "pooled_payoff", c.PooledPayoff)
	return id, nil
}

// Dissolve removes the coalition and frees its members. It reports whether
// the coalition existed.
func (l *Ledger) Dissolve(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok := l.dissolve(id)
	l.verify("dissolve")
	return ok
}

func (l *Ledger) dissolve(id string) bool {
	c, ok := l.coalitions[id]
	if !ok {
		return false
	}
	for _, m := range c.Members {
		if l.index[m] == id {
			delete(l.index, m)
		}
	}
	delete(l.coalitions, id)
	l.logger.Info("coalition dissolved", "coalition_id", id)
	return true
}

// AgentLeave removes agentID from its coalition when its share is below
// threshold. A coalition left with fewer than MinMembers is dissolved.
// It reports whether the agent left.
func (l *Ledger) AgentLeave(agentID string, threshold float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.index[agentID]
	if !ok {
		return false
	}
	c := l.coalitions[id]
	share := c.Shares[agentID]
	if share >= threshold {
		return false
	}

	c.Members = slices.DeleteFunc(c.Members, func(m string) bool { return m == agentID })
	delete(c.Shares, agentID)
	c.PooledPayoff = max(c.PooledPayoff-share, 0)
	delete(l.index, agentID)
	l.logger.Info("agent left coalition", "coalition_id", id, "agent_id", agentID, "share", share)

	if len(c.Members) < MinMembers {
		l.dissolve(id)
	}
	l.verify("leave")
	return true
}

// Merge dissolves a and b and forms a new coalition from their union. The
// new coalition carries no payoff split; callers must re-propose one.
func (l *Ledger) Merge(a, b string) (string, bool) {
	if a == b {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ca, okA := l.coalitions[a]
	cb, okB := l.coalitions[b]
	if !okA || !okB {
		return "", false
	}
	members := unique(append(slices.Clone(ca.Members), cb.Members...))
	if len(members) < MinMembers {
		return "", false
	}

	id, err := newID()
	if err != nil {
		l.logger.Error("coalition merge failed", "error", err)
		return "", false
	}
	l.dissolve(a)
	l.dissolve(b)

	l.coalitions[id] = &Coalition{
		ID:         id,
		Members:    members,
		Shares:     map[string]float64{},
		FormedAt:   l.now().UTC(),
		NeedsSplit: true,
	}
	for _, m := range members {
		l.index[m] = id
	}
	l.verify("merge")
	l.logger.Info("coalitions merged", "from", []string{a, b}, "coalition_id", id)
	return id, true
}

// Get returns a copy of the coalition.
func (l *Ledger) Get(id string) (Coalition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.coalitions[id]
	if !ok {
		return Coalition{}, false
	}
	return c.clone(), true
}

// CoalitionOf returns the id of the agent's active coalition.
func (l *Ledger) CoalitionOf(agentID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.index[agentID]
	return id, ok
}

// Active returns all coalitions ordered by id.
func (l *Ledger) Active() []Coalition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Coalition, 0, len(l.coalitions))
	for _, c := range l.coalitions {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckInvariant verifies single membership and the reverse index.
func (l *Ledger) CheckInvariant() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkInvariant()
}

func (l *Ledger) checkInvariant() error {
	seen := make(map[string]string)
	for id, c := range l.coalitions {
		if len(c.Members) < MinMembers {
			return errors.NewInvariantViolation(fmt.Sprintf("coalition %s has %d members", id, len(c.Members)))
		}
		for _, m := range c.Members {
			if other, dup := seen[m]; dup {
				return errors.NewInvariantViolation(
					fmt.Sprintf("agent in coalitions %s and %s", other, id), m)
			}
			seen[m] = id
			if l.index[m] != id {
				return errors.NewInvariantViolation("reverse index out of sync", m)
			}
		}
	}
	if len(seen) != len(l.index) {
		return errors.NewInvariantViolation("reverse index has stale entries")
	}
	return nil
}

func (l *Ledger) verify(op string) {
	if err := l.checkInvariant(); err != nil {
		l.logger.Error("coalition invariant violated", "op", op, "error", err)
	}
}

func (l *Ledger) committed(members []string) []string {
	var out []string
	for _, m := range members {
		if _, ok := l.index[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (l *Ledger) readReputation(ctx context.Context, agentID string) float64 {
	if l.reputation == nil {
		return NeutralReputation
	}
	r, err := l.reputation.Reputation(ctx, agentID)
	if err != nil {
		l.logger.Warn("reputation unavailable, using neutral", "agent_id", agentID, "error", err)
		return NeutralReputation
	}
	return r
}

// Split divides pooled in proportion to reputation, or equally when the
// total reputation is zero. Negative reputations count as zero.
func Split(pooled float64, reputation map[string]float64) map[string]float64 {
	shares := make(map[string]float64, len(reputation))
	if len(reputation) == 0 {
		return shares
	}
	var total float64
	for _, r := range reputation {
		total += max(r, 0)
	}
	for id, r := range reputation {
		if total == 0 {
			shares[id] = pooled / float64(len(reputation))
		} else {
			shares[id] = max(r, 0) / total * pooled
		}
	}
	return shares
}

func checkShares(pooled float64, shares map[string]float64, members []string) error {
	if len(shares) != len(members) {
		return errors.NewInvalidRequest("payoff shares must cover exactly the members")
	}
	var sum float64
	for _, m := range members {
		s, ok := shares[m]
		if !ok {
			return errors.NewInvalidRequest("payoff share missing for " + m)
		}
		sum += s
	}
	if math.Abs(sum-pooled) > ShareEpsilon {
		return errors.NewInvalidRequest(fmt.Sprintf("payoff shares sum to %f, pooled payoff is %f", sum, pooled))
	}
	return nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func newID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return id.String(), nil
}
