package mcp

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mitchellh/mapstructure"
)

// decode maps MCP request arguments onto a typed struct using its json tags.
// Numbers arriving as strings and similar loose input are accepted.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &result,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return result, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(req.GetArguments()); err != nil {
		return result, fmt.Errorf("decode args: %w", err)
	}
	return result, nil
}
