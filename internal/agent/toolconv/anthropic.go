// Package toolconv renders the core's provider-agnostic ToolSchema into the
// wire shape each concrete LLMProvider needs.
package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/haasonsaas/nexus/internal/agent"
)

// ToAnthropicTools converts dispatch-time tool schemas into Anthropic tool
// definitions. Schemas come from ToolRegistry.AsLLMTools, never from a live
// Tool, since the provider boundary only ever sees the {name, description,
// parameters} triple.
func ToAnthropicTools(schemas []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		param, err := ToAnthropicTool(s)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

// ToAnthropicTool converts a single schema to an Anthropic tool definition.
func ToAnthropicTool(s agent.ToolSchema) (anthropic.ToolUnionParam, error) {
	var schema anthropic.ToolInputSchemaParam
	if len(s.Parameters) > 0 {
		if err := json.Unmarshal(s.Parameters, &schema); err != nil {
			return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: %w", s.Name, err)
		}
	}

	toolParam := anthropic.ToolUnionParamOfTool(schema, s.Name)
	if toolParam.OfTool == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: missing tool definition", s.Name)
	}
	toolParam.OfTool.Description = anthropic.String(s.Description)
	return toolParam, nil
}
