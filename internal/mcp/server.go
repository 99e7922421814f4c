package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/paperclip/internal/sim"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"capsule", "agent", "trade", "coalition"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var itemProperties = map[string]any{
	"name":         map[string]any{"type": "string"},
	"description":  map[string]any{"type": "string"},
	"category":     map[string]any{"type": "string"},
	"condition":    map[string]any{"type": "string"},
	"type":         map[string]any{"type": "string"},
	"market_value": map[string]any{"type": "number"},
}

// modifySchema is raw because value takes a different type per field.
var modifySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "agent_id": {"type": "string"},
    "capsule_id": {"type": "string"},
    "field": {"type": "string", "enum": ["goal", "values", "tags", "wallet_address", "public_snippet"]},
    "value": {},
    "reason": {"type": "string"},
    "reviewer": {"type": "string"},
    "approve": {"type": "boolean"},
    "comment": {"type": "string"}
  },
  "required": ["agent_id", "capsule_id", "field", "value"]
}`)

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capsule_create": {
		def: mcp.NewTool("capsule_create",
			mcp.WithDescription("Create an identity capsule (goal, values, tags) for a new agent."),
			mcp.WithString("goal", mcp.Required(), mcp.Description("What the agent wants")),
			mcp.WithObject("values", mcp.Description("Value keyword to weight")),
			mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
			mcp.WithString("wallet_address", mcp.Description("Payer address")),
			mcp.WithString("public_snippet", mcp.Description("Short public description")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreate },
	},
	"capsule_fetch": {
		def: mcp.NewTool("capsule_fetch",
			mcp.WithDescription("Fetch a capsule by id."),
			mcp.WithString("id", mcp.Required()),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"capsule_list": {
		def: mcp.NewTool("capsule_list",
			mcp.WithDescription("List capsules, newest first."),
			mcp.WithString("tag", mcp.Description("Only capsules carrying this tag")),
			mcp.WithNumber("limit", mcp.Description("Default 20, max 100")),
			mcp.WithNumber("offset"),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capsule_modify": {
		def: mcp.NewToolWithRawSchema("capsule_modify",
			"Request a one-field capsule change. With a reviewer the request is reviewed immediately.",
			modifySchema,
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleModify },
	},
	"agent_appraise": {
		def: mcp.NewTool("agent_appraise",
			mcp.WithDescription("Appraise an item from an agent's point of view."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent id or capsule id")),
			mcp.WithString("archetype", mcp.Enum("visionary", "investor", "default")),
			mcp.WithObject("item", mcp.Required(), mcp.Properties(itemProperties)),
			mcp.WithString("context", mcp.Enum("trade", "coalition")),
			mcp.WithString("target_id", mcp.Description("Counterparty capsule for alignment")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAppraise },
	},
	"trade_propose": {
		def: mcp.NewTool("trade_propose",
			mcp.WithDescription("Propose a trade of an item from initiator to target."),
			mcp.WithString("initiator", mcp.Required()),
			mcp.WithString("target", mcp.Required()),
			mcp.WithObject("item", mcp.Required(), mcp.Properties(itemProperties)),
			mcp.WithBoolean("apply_mint", mcp.Description("Record ownership on the target when accepted")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrade },
	},
	"coalition_propose": {
		def: mcp.NewTool("coalition_propose",
			mcp.WithDescription("Propose a coalition of at least three agents."),
			mcp.WithString("initiator", mcp.Required()),
			mcp.WithArray("targets", mcp.Required(), mcp.Items(map[string]any{"type": "string"})),
			mcp.WithString("purpose"),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCoalitionPropose },
	},
	"coalition_leave": {
		def: mcp.NewTool("coalition_leave",
			mcp.WithDescription("Leave the agent's coalition if its share is below threshold."),
			mcp.WithString("agent_id", mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Defaults to the configured leave threshold")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCoalitionLeave },
	},
	"coalition_status": {
		def: mcp.NewTool("coalition_status",
			mcp.WithDescription("Show one coalition by id or agent, or all active coalitions."),
			mcp.WithString("coalition_id"),
			mcp.WithString("agent_id"),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCoalitionStatus },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "coalition_leave" → "coalition").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server with the world's tools registered.
// Tools listed in DisabledTools or belonging to DisabledTypes are skipped.
func NewServer(w *sim.World, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"paperclip",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(w)
	cfg := w.Config

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the world's tools over stdio.
func Run(w *sim.World, version string) error {
	return server.ServeStdio(NewServer(w, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
