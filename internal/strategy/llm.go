package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hpungsan/paperclip/internal/errors"
)

// DefaultLLMTimeout bounds one chat completion.
const DefaultLLMTimeout = 10 * time.Second

const systemPrompt = "You are a game-theory advisor for an autonomous trading agent. " +
	`Reply with JSON only: {"confidence": <0..1>, "strategy": "cooperative|competitive|neutral|aggressive"}.`

// LLM asks an OpenAI chat model for a decision.
type LLM struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewLLM creates an LLM module. An empty model uses gpt-3.5-turbo.
func NewLLM(client *openai.Client, model string) *LLM {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &LLM{client: client, model: model, timeout: DefaultLLMTimeout}
}

// NewLLMFromKey builds the client from an API key.
func NewLLMFromKey(apiKey, model string) *LLM {
	return NewLLM(openai.NewClient(apiKey), model)
}

// Evaluate implements Module. Transport errors and unusable replies are
// reported as COLLABORATOR_UNAVAILABLE.
func (l *LLM) Evaluate(ctx context.Context, in Context) (Decision, error) {
	if l == nil || l.client == nil {
		return Decision{}, errors.NewCollaboratorUnavailable("llm", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt(in)},
		},
		MaxTokens:   60,
		Temperature: 0.2,
	})
	if err != nil {
		return Decision{}, errors.NewCollaboratorUnavailable("llm", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, errors.NewCollaboratorUnavailable("llm", fmt.Errorf("empty response"))
	}

	d, err := parseDecision(resp.Choices[0].Message.Content)
	if err != nil {
		return Decision{}, errors.NewCollaboratorUnavailable("llm", err)
	}
	return d, nil
}

func prompt(in Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent %s (archetype %s) is appraising %q in a %s setting.\n",
		in.AgentID, in.Archetype, in.Item, in.Setting)
	if len(in.Payoffs) > 0 {
		fmt.Fprintf(&b, "Payoff matrix (rows are our strategies): %v\n", in.Payoffs)
	}
	b.WriteString("Choose a strategy and your confidence.")
	return b.String()
}

// parseDecision reads the model's JSON reply, tolerating surrounding prose.
func parseDecision(content string) (Decision, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Decision{}, fmt.Errorf("no JSON object in reply")
	}

	var raw struct {
		Confidence *float64 `json:"confidence"`
		Strategy   string   `json:"strategy"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Decision{}, fmt.Errorf("decode reply: %w", err)
	}
	if raw.Confidence == nil {
		return Decision{}, fmt.Errorf("reply missing confidence")
	}
	st, ok := ParseStrategy(raw.Strategy)
	if !ok {
		return Decision{}, fmt.Errorf("unknown strategy %q", raw.Strategy)
	}
	return Decision{Confidence: min(max(*raw.Confidence, 0), 1), Strategy: st}, nil
}
