package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/paperclip/internal/agent"
	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/coalition"
	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/negotiation"
	"github.com/hpungsan/paperclip/internal/registry"
	"github.com/hpungsan/paperclip/internal/sim"
	"github.com/hpungsan/paperclip/internal/valuation"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	world *sim.World
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(w *sim.World) *Handlers {
	return &Handlers{world: w}
}

// Request types for each tool

// CreateRequest represents the arguments for capsule_create.
type CreateRequest struct {
	Goal          string             `json:"goal"`
	Values        map[string]float64 `json:"values,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	WalletAddress *string            `json:"wallet_address,omitempty"`
	PublicSnippet *string            `json:"public_snippet,omitempty"`
}

// FetchRequest represents the arguments for capsule_fetch.
type FetchRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for capsule_list.
type ListRequest struct {
	Tag    string `json:"tag,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ModifyRequest represents the arguments for capsule_modify.
type ModifyRequest struct {
	AgentID   string `json:"agent_id"`
	CapsuleID string `json:"capsule_id"`
	Field     string `json:"field"`
	Value     any    `json:"value"`
	Reason    string `json:"reason,omitempty"`
	Reviewer  string `json:"reviewer,omitempty"`
	Approve   bool   `json:"approve,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// ModifyOutput is the result of capsule_modify.
type ModifyOutput struct {
	Request *capsule.ChangeRequest `json:"request"`
	Capsule *capsule.Capsule       `json:"capsule,omitempty"`
}

// AppraiseRequest represents the arguments for agent_appraise.
type AppraiseRequest struct {
	AgentID   string         `json:"agent_id"`
	Archetype string         `json:"archetype,omitempty"`
	Item      valuation.Item `json:"item"`
	Context   string         `json:"context,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
}

// TradeRequest represents the arguments for trade_propose.
type TradeRequest struct {
	Initiator string         `json:"initiator"`
	Target    string         `json:"target"`
	Item      valuation.Item `json:"item"`
	ApplyMint bool           `json:"apply_mint,omitempty"`
}

// TradeOutput is the result of trade_propose.
type TradeOutput struct {
	negotiation.TradeProposalResult
	Minted *agent.Ownership `json:"minted,omitempty"`
}

// CoalitionProposeRequest represents the arguments for coalition_propose.
type CoalitionProposeRequest struct {
	Initiator string   `json:"initiator"`
	Targets   []string `json:"targets"`
	Purpose   string   `json:"purpose,omitempty"`
}

// CoalitionLeaveRequest represents the arguments for coalition_leave.
type CoalitionLeaveRequest struct {
	AgentID   string   `json:"agent_id"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// CoalitionLeaveOutput is the result of coalition_leave.
type CoalitionLeaveOutput struct {
	AgentID     string `json:"agent_id"`
	Left        bool   `json:"left"`
	CoalitionID string `json:"coalition_id,omitempty"`
	Dissolved   bool   `json:"dissolved"`
}

// CoalitionStatusRequest represents the arguments for coalition_status.
type CoalitionStatusRequest struct {
	CoalitionID string `json:"coalition_id,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
}

// CoalitionStatusOutput is the result of coalition_status.
type CoalitionStatusOutput struct {
	Coalitions []coalition.Coalition `json:"coalitions"`
}

// Handler implementations

// HandleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	c, err := h.world.Registry.Create(registry.CreateInput{
		Goal:          input.Goal,
		Values:        input.Values,
		Tags:          input.Tags,
		WalletAddress: input.WalletAddress,
		PublicSnippet: input.PublicSnippet,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(c)
}

// HandleFetch handles the capsule_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.ID) == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	c, err := h.world.Registry.Get(input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(c)
}

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.world.Registry.List(registry.ListInput{
		Tag:    input.Tag,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(out)
}

// HandleModify handles the capsule_modify tool call.
func (h *Handlers) HandleModify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ModifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	change := capsule.ModificationRequest{Field: input.Field, Value: input.Value}
	cr, err := h.world.Reviewer.RequestModification(ctx, input.AgentID, input.CapsuleID, change, input.Reason)
	if err != nil {
		return errorResult(err), nil
	}
	if strings.TrimSpace(input.Reviewer) == "" {
		return successResult(ModifyOutput{Request: cr})
	}

	reviewed, err := h.world.Reviewer.Review(ctx, cr.ID, input.Reviewer, input.Approve, input.Comment)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(ModifyOutput{Request: reviewed.Request, Capsule: reviewed.Capsule})
}

// HandleAppraise handles the agent_appraise tool call.
func (h *Handlers) HandleAppraise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AppraiseRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Item.Name) == "" {
		return errorResult(errors.NewInvalidRequest("item.name is required")), nil
	}

	a, err := h.world.AttachAgent(input.AgentID, input.Archetype)
	if err != nil {
		return errorResult(err), nil
	}

	setting := negotiation.ContextTrade
	if input.Context == negotiation.ContextCoalition {
		setting = negotiation.ContextCoalition
	}

	var target *capsule.Capsule
	if input.TargetID != "" {
		if target, err = h.resolveCapsule(input.TargetID); err != nil {
			return errorResult(err), nil
		}
	}

	res := h.world.Engine.Appraise(ctx, a, input.Item, setting, target)
	return successResult(res)
}

// HandleTrade handles the trade_propose tool call.
func (h *Handlers) HandleTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TradeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Item.Name) == "" {
		return errorResult(errors.NewInvalidRequest("item.name is required")), nil
	}
	if input.Initiator == input.Target {
		return errorResult(errors.NewInvalidRequest("initiator and target must differ")), nil
	}

	initiator, err := h.world.AttachAgent(input.Initiator, "")
	if err != nil {
		return errorResult(err), nil
	}
	target, err := h.world.AttachAgent(input.Target, "")
	if err != nil {
		return errorResult(err), nil
	}

	out := TradeOutput{TradeProposalResult: h.world.Coordinator.ProposeTrade(ctx, initiator, target, input.Item)}
	if input.ApplyMint && out.Accepted() {
		if rec, ok := h.world.ApplyMint(out.Mint); ok {
			out.Minted = &rec
		}
	}

	return successResult(out)
}

// HandleCoalitionPropose handles the coalition_propose tool call.
func (h *Handlers) HandleCoalitionPropose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CoalitionProposeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	initiator, err := h.world.AttachAgent(input.Initiator, "")
	if err != nil {
		return errorResult(err), nil
	}
	targets := make([]*agent.Agent, 0, len(input.Targets))
	for _, id := range input.Targets {
		t, err := h.world.AttachAgent(id, "")
		if err != nil {
			return errorResult(err), nil
		}
		targets = append(targets, t)
	}

	res := h.world.Coordinator.ProposeCoalition(ctx, initiator, targets, negotiation.CoalitionDetails{Purpose: input.Purpose})
	return successResult(res)
}

// HandleCoalitionLeave handles the coalition_leave tool call.
func (h *Handlers) HandleCoalitionLeave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CoalitionLeaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.AgentID) == "" {
		return errorResult(errors.NewInvalidRequest("agent_id is required")), nil
	}

	threshold := h.world.Config.CoalitionLeaveThreshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	ledger := h.world.Ledger
	id, member := ledger.CoalitionOf(input.AgentID)
	if !member {
		return errorResult(errors.NewNotFound("coalition for " + input.AgentID)), nil
	}

	out := CoalitionLeaveOutput{AgentID: input.AgentID, CoalitionID: id}
	out.Left = ledger.AgentLeave(input.AgentID, threshold)
	if out.Left {
		_, active := ledger.Get(id)
		out.Dissolved = !active
	}

	return successResult(out)
}

// HandleCoalitionStatus handles the coalition_status tool call.
func (h *Handlers) HandleCoalitionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CoalitionStatusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	ledger := h.world.Ledger
	id := input.CoalitionID
	if id == "" && input.AgentID != "" {
		var ok bool
		if id, ok = ledger.CoalitionOf(input.AgentID); !ok {
			return errorResult(errors.NewNotFound("coalition for " + input.AgentID)), nil
		}
	}
	if id == "" {
		return successResult(CoalitionStatusOutput{Coalitions: ledger.Active()})
	}

	c, ok := ledger.Get(id)
	if !ok {
		return errorResult(errors.NewNotFound(id)), nil
	}
	return successResult(CoalitionStatusOutput{Coalitions: []coalition.Coalition{c}})
}

// resolveCapsule finds a capsule by agent id, then by capsule id.
func (h *Handlers) resolveCapsule(id string) (*capsule.Capsule, error) {
	if a, err := h.world.Agent(id); err == nil {
		return a.Capsule(), nil
	}
	return h.world.Registry.Get(id)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var pErr *errors.PaperclipError
	if stderrors.As(err, &pErr) {
		errorObj := map[string]any{
			"code":    pErr.Code,
			"message": pErr.Message,
			"status":  pErr.Status,
		}
		if pErr.Code != errors.ErrInternal && pErr.Details != nil {
			errorObj["details"] = pErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
