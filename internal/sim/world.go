// Package sim wires the engine, coordinator and ledgers into a World and
// drives it with scenario-defined ticks.
package sim

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/hpungsan/paperclip/internal/agent"
	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/coalition"
	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/events"
	"github.com/hpungsan/paperclip/internal/logging"
	"github.com/hpungsan/paperclip/internal/market"
	"github.com/hpungsan/paperclip/internal/memory"
	"github.com/hpungsan/paperclip/internal/negotiation"
	"github.com/hpungsan/paperclip/internal/registry"
	"github.com/hpungsan/paperclip/internal/rewards"
	"github.com/hpungsan/paperclip/internal/strategy"
	"github.com/hpungsan/paperclip/internal/valuation"
)

// OpenAIKeyEnv names the environment variable holding the OpenAI key.
const OpenAIKeyEnv = "OPENAI_API_KEY"

// World is one independent simulation instance. Nothing is shared between
// worlds.
type World struct {
	Config      *config.Config
	Registry    registry.Registry
	Reviewer    *registry.Reviewer
	Memory      memory.Log
	Rewards     *rewards.Ledger
	Market      *market.Noise
	Engine      *valuation.Engine
	Ledger      *coalition.Ledger
	Coordinator *negotiation.Coordinator

	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]*agent.Agent
	order  []string
}

type options struct {
	registry registry.Registry
	memory   memory.Log
	sink     events.Sink
	strategy strategy.Module
	logger   *slog.Logger
	seed     int64
}

// Option configures a World.
type Option func(*options)

// WithRegistry sets the capsule registry. The default is in-memory.
func WithRegistry(r registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMemory sets the agent-memory log. The default is in-memory.
func WithMemory(m memory.Log) Option {
	return func(o *options) { o.memory = m }
}

// WithSink publishes every recorded event to sink.
func WithSink(s events.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithStrategy overrides the strategic-game module.
func WithStrategy(m strategy.Module) Option {
	return func(o *options) { o.strategy = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSeed seeds the market and coalition payoff estimator.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// NewWorld composes a World from cfg.
func NewWorld(cfg *config.Config, opts ...Option) *World {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger)
	if o.registry == nil {
		o.registry = registry.NewMemory()
	}
	if o.memory == nil {
		o.memory = memory.NewStore()
	}
	mem := memory.WithSink(o.memory, o.sink, logger)
	if o.strategy == nil {
		o.strategy = selectStrategy(cfg)
	}

	w := &World{
		Config:   cfg,
		Registry: o.registry,
		Memory:   mem,
		Rewards:  rewards.NewLedger(cfg.PitchCostXP, cfg.PitchCostUSD),
		Market:   market.NewNoise(o.seed),
		logger:   logger,
		agents:   make(map[string]*agent.Agent),
	}
	w.Engine = valuation.New(cfg,
		valuation.WithStrategy(o.strategy),
		valuation.WithMarket(w.Market),
		valuation.WithXP(w.Rewards),
		valuation.WithRecorder(mem),
		valuation.WithLogger(logger),
	)
	w.Ledger = coalition.NewLedger(
		coalition.WithReputation(mem),
		coalition.WithRewarder(w.Rewards),
		coalition.WithSeed(uint64(o.seed)),
		coalition.WithLogger(logger),
	)
	w.Coordinator = negotiation.New(cfg, w.Engine, w.Ledger,
		negotiation.WithPitchPayer(w.Rewards),
		negotiation.WithRecorder(mem),
		negotiation.WithLogger(logger),
	)
	w.Reviewer = registry.NewReviewer(w.Registry, w.Rewards, mem, logger)
	w.Reviewer.OnApply = w.syncCapsule
	return w
}

// selectStrategy picks the LLM module, falling back to the payoff matrix,
// when enabled and a key is present.
func selectStrategy(cfg *config.Config) strategy.Module {
	if !cfg.EnableLLMStrategy {
		return strategy.Matrix{}
	}
	key := strings.TrimSpace(os.Getenv(OpenAIKeyEnv))
	if key == "" {
		return strategy.Matrix{}
	}
	return strategy.Fallback{strategy.NewLLMFromKey(key, cfg.OpenAIModel), strategy.Matrix{}}
}

// OpenMemory picks the agent-memory backend from cfg: Redis when RedisAddr
// is set, SQLite when database is non-nil, otherwise in-memory. The returned
// close func is never nil.
func OpenMemory(ctx context.Context, cfg *config.Config, database *sql.DB) (memory.Log, func() error, error) {
	noop := func() error { return nil }
	if cfg.RedisAddr != "" {
		rs := memory.NewRedisStore(cfg.RedisAddr, "", 0)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, noop, errors.NewCollaboratorUnavailable("redis", err)
		}
		return rs, rs.Close, nil
	}
	if database != nil {
		return memory.NewSQLStore(database), noop, nil
	}
	return memory.NewStore(), noop, nil
}

// OpenSink connects to NATS when cfg.NATSURL is set. A nil sink means no
// publishing.
func OpenSink(cfg *config.Config) (events.Sink, func() error, error) {
	if cfg.NATSURL == "" {
		return nil, func() error { return nil }, nil
	}
	s, err := events.DialNATS(cfg.NATSURL, events.DefaultSubjectPrefix)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return s, s.Close, nil
}

// AddAgent creates the agent's capsule and seeds its XP and credit.
func (w *World) AddAgent(ctx context.Context, spec AgentSpec) (*agent.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("agent id is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.agents[id]; ok {
		return nil, errors.NewConflict("agent " + id + " already exists")
	}

	in := registry.CreateInput{Goal: spec.Goal, Values: spec.Values, Tags: spec.Tags}
	if spec.Wallet != "" {
		in.WalletAddress = &spec.Wallet
	}
	c, err := w.Registry.Create(in)
	if err != nil {
		return nil, err
	}

	a := w.newAgent(id, spec.Archetype, c)
	if spec.XP > 0 {
		w.Rewards.Grant(id, spec.XP, "seed")
	}
	if spec.Credit > 0 {
		if err := w.Rewards.Credit(id, spec.Credit); err != nil {
			return nil, err
		}
	}
	w.logger.Debug("agent added", "agent_id", id, "capsule_id", c.ID, "archetype", a.Archetype)
	return a, nil
}

// AttachAgent returns the agent for id, creating one over the registry
// capsule with that id when none exists yet.
func (w *World) AttachAgent(id, archetype string) (*agent.Agent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a, ok := w.agents[id]; ok {
		return a, nil
	}
	c, err := w.Registry.Get(id)
	if err != nil {
		return nil, err
	}
	return w.newAgent(id, archetype, c), nil
}

// newAgent registers an agent. Callers hold w.mu.
func (w *World) newAgent(id, archetype string, c *capsule.Capsule) *agent.Agent {
	a := agent.New(id, agent.ParseArchetype(archetype), c,
		agent.WithHistoryLimit(w.Config.HistoryLimit),
		agent.WithProvenanceLimit(w.Config.ProvenanceChainLength),
	)
	w.agents[id] = a
	w.order = append(w.order, id)
	return a
}

// Agent looks up an agent by id.
func (w *World) Agent(id string) (*agent.Agent, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[id]
	if !ok {
		return nil, errors.NewNotFound(id)
	}
	return a, nil
}

// Agents returns all agents in the order they were added.
func (w *World) Agents() []*agent.Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*agent.Agent, len(w.order))
	for i, id := range w.order {
		out[i] = w.agents[id]
	}
	return out
}

// Load adds every agent of sc.
func (w *World) Load(ctx context.Context, sc *Scenario) error {
	for _, spec := range sc.Agents {
		if _, err := w.AddAgent(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMint records an accepted trade's ownership on the receiving agent.
func (w *World) ApplyMint(intent *agent.MintIntent) (agent.Ownership, bool) {
	if intent == nil {
		return agent.Ownership{}, false
	}
	a, err := w.Agent(intent.To)
	if err != nil {
		return agent.Ownership{}, false
	}
	return a.Mint(*intent), true
}

// syncCapsule swaps an approved capsule version into the matching agent.
func (w *World) syncCapsule(agentID string, c *capsule.Capsule) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if a, ok := w.agents[agentID]; ok && a.Capsule().ID == c.ID {
		a.SetCapsule(c)
		return
	}
	for _, id := range w.order {
		if a := w.agents[id]; a.Capsule().ID == c.ID {
			a.SetCapsule(c)
		}
	}
}

// Uncommitted returns agents outside any coalition, in order.
func (w *World) Uncommitted() []*agent.Agent {
	return slices.DeleteFunc(w.Agents(), func(a *agent.Agent) bool {
		_, ok := w.Ledger.CoalitionOf(a.ID)
		return ok
	})
}
