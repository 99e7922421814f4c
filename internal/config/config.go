package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ArchetypeCoefficients overrides the valuation constants of one archetype.
// Zero fields keep the built-in value.
type ArchetypeCoefficients struct {
	RiskMultiplier      float64 `json:"risk_multiplier,omitempty"`
	UGTTBonusMultiplier float64 `json:"ugtt_bonus_multiplier,omitempty"`
	CostSensitivity     float64 `json:"cost_sensitivity,omitempty"`
	DriftWeight         float64 `json:"drift_weight,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// GasCostUSD is the fixed per-transaction gas estimate.
	GasCostUSD float64 `json:"gas_cost_usd"`

	// ProtocolFeeUSD is the fixed pay-per-request protocol fee.
	ProtocolFeeUSD float64 `json:"protocol_fee_usd"`

	// CoalitionProfitShare is added to costs when appraising in coalition context.
	CoalitionProfitShare float64 `json:"coalition_profit_share"`

	// PitchCostXP is charged for a pitch when the agent's XP is at or above
	// PremiumPitchThreshold.
	PitchCostXP int `json:"pitch_cost_xp"`

	// PitchCostUSD is charged for a pitch when XP is below PremiumPitchThreshold.
	PitchCostUSD float64 `json:"pitch_cost_usd"`

	// PremiumPitchThreshold is the XP balance at which pitches are paid in XP.
	PremiumPitchThreshold int `json:"premium_pitch_threshold"`

	// AlignmentWeight scales the alignment score in every archetype formula.
	AlignmentWeight float64 `json:"alignment_weight"`

	// HistoryLimit bounds the number of appraisals kept per agent.
	HistoryLimit int `json:"history_limit"`

	// ProvenanceChainLength bounds the records returned for an item's provenance.
	ProvenanceChainLength int `json:"provenance_chain_length"`

	// Archetypes overrides built-in archetype coefficients, keyed by archetype name.
	// Unknown archetype names are ignored.
	Archetypes map[string]ArchetypeCoefficients `json:"archetypes,omitempty"`

	// CoalitionLeaveThreshold is the default share below which an agent may leave.
	CoalitionLeaveThreshold float64 `json:"coalition_leave_threshold"`

	// PaymentMaxRetries bounds payment retries. Total requests never exceed MaxRetries+1.
	PaymentMaxRetries int `json:"payment_max_retries"`

	// PaymentMaxBackoffSeconds caps the exponential backoff between retries.
	PaymentMaxBackoffSeconds int `json:"payment_max_backoff_seconds"`

	// PaymentSessionTTLSeconds is how long a signed authorization stays valid.
	PaymentSessionTTLSeconds int `json:"payment_session_ttl_seconds"`

	// PaymentNetwork is the default network when a 402 body omits one.
	PaymentNetwork string `json:"payment_network"`

	// PaymentAsset is the default asset address when a 402 body omits one.
	PaymentAsset string `json:"payment_asset"`

	// PaywallBind and PaywallPort set the paywall listen address.
	PaywallBind string `json:"paywall_bind"`
	PaywallPort int    `json:"paywall_port"`

	// PaywallPrice is the decimal amount the paywall demands per request.
	PaywallPrice string `json:"paywall_price"`

	// PaywallPayee is the address the paywall asks payers to pay.
	PaywallPayee string `json:"paywall_payee"`

	// NATSURL enables publishing events to NATS when set.
	NATSURL string `json:"nats_url,omitempty"`

	// RedisAddr selects the Redis memory log when set.
	RedisAddr string `json:"redis_addr,omitempty"`

	// OpenAIModel is the chat model used by the LLM strategy module.
	OpenAIModel string `json:"openai_model,omitempty"`

	// DisablePitching turns off persuasion pitches and their costs.
	DisablePitching bool `json:"disable_pitching,omitempty"`

	// DisablePayments makes the payment client issue plain requests only.
	DisablePayments bool `json:"disable_payments,omitempty"`

	// EnableLLMStrategy selects the OpenAI strategy module over the payoff matrix.
	EnableLLMStrategy bool `json:"enable_llm_strategy,omitempty"`

	// EnableBlackSwan lets the simulated market inject rare negative shocks.
	EnableBlackSwan bool `json:"enable_black_swan,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type prefixes to disable entirely
	// (e.g. "coalition" disables every coalition_* tool).
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		GasCostUSD:               0.0001,
		ProtocolFeeUSD:           0.001,
		CoalitionProfitShare:     0.05,
		PitchCostXP:              5,
		PitchCostUSD:             0.01,
		PremiumPitchThreshold:    10,
		AlignmentWeight:          0.3,
		HistoryLimit:             10,
		ProvenanceChainLength:    10,
		CoalitionLeaveThreshold:  1.0,
		PaymentMaxRetries:        3,
		PaymentMaxBackoffSeconds: 10,
		PaymentSessionTTLSeconds: 3600,
		PaymentNetwork:           "base-sepolia",
		PaymentAsset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PaywallBind:              "127.0.0.1",
		PaywallPort:              8402,
		PaywallPrice:             "0.10",
		PaywallPayee:             "0x742d35Cc6634C0532925a3b8D1b9c1369e3cA89b",
		OpenAIModel:              "gpt-3.5-turbo",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.paperclip) and repo (.paperclip) directories.
// Repo config is found by walking upward from startDir. Repo config takes precedence for
// scalar values; arrays and maps are merged.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .paperclip/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".paperclip", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; booleans are ORed; arrays are merged and
// deduplicated; archetype overrides are merged per archetype.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		GasCostUSD:               pickFloat(overlay.GasCostUSD, base.GasCostUSD),
		ProtocolFeeUSD:           pickFloat(overlay.ProtocolFeeUSD, base.ProtocolFeeUSD),
		CoalitionProfitShare:     pickFloat(overlay.CoalitionProfitShare, base.CoalitionProfitShare),
		PitchCostXP:              pickInt(overlay.PitchCostXP, base.PitchCostXP),
		PitchCostUSD:             pickFloat(overlay.PitchCostUSD, base.PitchCostUSD),
		PremiumPitchThreshold:    pickInt(overlay.PremiumPitchThreshold, base.PremiumPitchThreshold),
		AlignmentWeight:          pickFloat(overlay.AlignmentWeight, base.AlignmentWeight),
		HistoryLimit:             pickInt(overlay.HistoryLimit, base.HistoryLimit),
		ProvenanceChainLength:    pickInt(overlay.ProvenanceChainLength, base.ProvenanceChainLength),
		CoalitionLeaveThreshold:  pickFloat(overlay.CoalitionLeaveThreshold, base.CoalitionLeaveThreshold),
		PaymentMaxRetries:        pickInt(overlay.PaymentMaxRetries, base.PaymentMaxRetries),
		PaymentMaxBackoffSeconds: pickInt(overlay.PaymentMaxBackoffSeconds, base.PaymentMaxBackoffSeconds),
		PaymentSessionTTLSeconds: pickInt(overlay.PaymentSessionTTLSeconds, base.PaymentSessionTTLSeconds),
		PaymentNetwork:           pickString(overlay.PaymentNetwork, base.PaymentNetwork),
		PaymentAsset:             pickString(overlay.PaymentAsset, base.PaymentAsset),
		PaywallBind:              pickString(overlay.PaywallBind, base.PaywallBind),
		PaywallPort:              pickInt(overlay.PaywallPort, base.PaywallPort),
		PaywallPrice:             pickString(overlay.PaywallPrice, base.PaywallPrice),
		PaywallPayee:             pickString(overlay.PaywallPayee, base.PaywallPayee),
		NATSURL:                  pickString(overlay.NATSURL, base.NATSURL),
		RedisAddr:                pickString(overlay.RedisAddr, base.RedisAddr),
		OpenAIModel:              pickString(overlay.OpenAIModel, base.OpenAIModel),
		DBMaxOpenConns:           pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:           pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	result.DisablePitching = base.DisablePitching || overlay.DisablePitching
	result.DisablePayments = base.DisablePayments || overlay.DisablePayments
	result.EnableLLMStrategy = base.EnableLLMStrategy || overlay.EnableLLMStrategy
	result.EnableBlackSwan = base.EnableBlackSwan || overlay.EnableBlackSwan

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)
	result.Archetypes = mergeArchetypes(base.Archetypes, overlay.Archetypes)

	return result
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeArchetypes overlays coefficients field by field per archetype.
func mergeArchetypes(a, b map[string]ArchetypeCoefficients) map[string]ArchetypeCoefficients {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	result := make(map[string]ArchetypeCoefficients, len(a)+len(b))
	for k, v := range a {
		result[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range b {
		k = strings.ToLower(strings.TrimSpace(k))
		cur := result[k]
		result[k] = ArchetypeCoefficients{
			RiskMultiplier:      pickFloat(v.RiskMultiplier, cur.RiskMultiplier),
			UGTTBonusMultiplier: pickFloat(v.UGTTBonusMultiplier, cur.UGTTBonusMultiplier),
			CostSensitivity:     pickFloat(v.CostSensitivity, cur.CostSensitivity),
			DriftWeight:         pickFloat(v.DriftWeight, cur.DriftWeight),
		}
	}
	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
