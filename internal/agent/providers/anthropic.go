// Package providers implements LLM provider integrations for the agent
// core. AnthropicProvider is the only inbound LLM contract the core ships a
// real implementation of; every other backend is reached through the same
// agent.LLMProvider interface by code this repo does not carry.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/toolconv"
	"github.com/haasonsaas/nexus/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider against Claude's Messages
// API, streaming incremental text/tool-call deltas through Infer's onChunk
// callback while assembling the full agent.ModelResponse to return.
type AnthropicProvider struct {
	BaseProvider

	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig holds the parameters needed to construct an
// AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider validates config and returns a ready-to-use provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Models returns the Claude models this provider has been validated against.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: false, SupportsTools: true},
	}
}

// Infer sends req to Claude, streaming text/thinking deltas through onChunk,
// and returns the fully assembled response once the stream closes. Retries
// transient failures per BaseProvider.Retry before giving up.
func (p *AnthropicProvider) Infer(ctx context.Context, req *agent.CompletionRequest, onChunk func(*agent.StreamChunk)) (*agent.ModelResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewProviderError(p.name, req.Model, err)
	}

	var resp *agent.ModelResponse
	err = p.Retry(ctx, IsRetryable, func() error {
		result, runErr := p.runStream(ctx, params, onChunk)
		if runErr != nil {
			return runErr
		}
		resp = result
		return nil
	})
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}
	return resp, nil
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	perr := NewProviderError(p.name, model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr = perr.WithStatus(apiErr.StatusCode)
	}
	return perr
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.EnableThinking && req.ThinkingBudgetTokens > 0 {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(req.ThinkingBudgetTokens)},
		}
	}
	return params, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// runStream drives one streaming call, forwarding deltas to onChunk and
// assembling the terminal agent.ModelResponse from the accumulated message.
func (p *AnthropicProvider) runStream(ctx context.Context, params anthropic.MessageNewParams, onChunk func(*agent.StreamChunk)) (*agent.ModelResponse, error) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	asm := &responseAssembler{}
	for stream.Next() {
		asm.handle(stream.Current(), onChunk)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return asm.response(), nil
}

// responseAssembler accumulates one streamed Anthropic message into an
// agent.ModelResponse, mirroring the event-by-event accounting Claude's
// Messages streaming API requires: content blocks start empty and are
// filled in by subsequent delta events, keyed by block index.
type responseAssembler struct {
	text, thinking strings.Builder
	toolCalls      []models.ToolCall
	toolInputs     map[int64]*strings.Builder
	toolCallIndex  map[int64]int // content-block index -> position in toolCalls
	stopReason     string
	inputTokens    int
	outputTokens   int
}

func (a *responseAssembler) handle(event anthropic.MessageStreamEventUnion, onChunk func(*agent.StreamChunk)) {
	switch event.Type {
	case "message_start":
		start := event.AsMessageStart()
		if start.Message.Usage.InputTokens > 0 {
			a.inputTokens = int(start.Message.Usage.InputTokens)
		}

	case "content_block_start":
		block := event.AsContentBlockStart().ContentBlock
		if block.Type == "tool_use" {
			toolUse := block.AsToolUse()
			blockIdx := event.AsContentBlockStart().Index
			if a.toolInputs == nil {
				a.toolInputs = make(map[int64]*strings.Builder)
				a.toolCallIndex = make(map[int64]int)
			}
			a.toolInputs[blockIdx] = &strings.Builder{}
			a.toolCallIndex[blockIdx] = len(a.toolCalls)
			a.toolCalls = append(a.toolCalls, models.ToolCall{ID: toolUse.ID, Name: toolUse.Name})
			if onChunk != nil {
				onChunk(&agent.StreamChunk{Kind: agent.ChunkKindToolCallStart, Index: int(blockIdx), ID: toolUse.ID, Name: toolUse.Name})
			}
		}

	case "content_block_delta":
		delta := event.AsContentBlockDelta()
		switch delta.Delta.Type {
		case "text_delta":
			if delta.Delta.Text != "" {
				a.text.WriteString(delta.Delta.Text)
				if onChunk != nil {
					onChunk(&agent.StreamChunk{Kind: agent.ChunkKindText, Content: delta.Delta.Text})
				}
			}
		case "thinking_delta":
			if delta.Delta.Thinking != "" {
				a.thinking.WriteString(delta.Delta.Thinking)
				if onChunk != nil {
					onChunk(&agent.StreamChunk{Kind: agent.ChunkKindReasoning, Content: delta.Delta.Thinking})
				}
			}
		case "input_json_delta":
			if b, ok := a.toolInputs[delta.Index]; ok && delta.Delta.PartialJSON != "" {
				b.WriteString(delta.Delta.PartialJSON)
				if onChunk != nil {
					onChunk(&agent.StreamChunk{Kind: agent.ChunkKindToolCallDelta, Index: int(delta.Index), ArgumentsDelta: delta.Delta.PartialJSON})
				}
			}
		}

	case "message_delta":
		md := event.AsMessageDelta()
		if md.Usage.OutputTokens > 0 {
			a.outputTokens = int(md.Usage.OutputTokens)
		}
		if md.Delta.StopReason != "" {
			a.stopReason = string(md.Delta.StopReason)
		}
	}
}

func (a *responseAssembler) response() *agent.ModelResponse {
	resp := &agent.ModelResponse{
		Type:         agent.ResponseTypeText,
		Content:      a.text.String(),
		Thinking:     a.thinking.String(),
		FinishReason: a.stopReason,
		Truncated:    a.stopReason == string(anthropic.StopReasonMaxTokens),
		Usage:        &agent.Usage{InputTokens: a.inputTokens, OutputTokens: a.outputTokens},
	}
	for blockIdx, pos := range a.toolCallIndex {
		a.toolCalls[pos].Arguments = json.RawMessage(a.toolInputs[blockIdx].String())
	}
	if len(a.toolCalls) > 0 {
		resp.Type = agent.ResponseTypeToolUse
		resp.ToolCalls = a.toolCalls
	}
	return resp
}

// convertMessages maps the core's role/parts/tool-call shape onto the SDK's
// MessageParam union, collapsing a tool message's ToolResults into
// tool_result content blocks paired by ToolCallID.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			blocks, err := p.userBlocks(m)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case "assistant":
			blocks := p.assistantBlocks(m)
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			blocks := p.toolResultBlocks(m)
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

func (p *AnthropicProvider) userBlocks(m agent.CompletionMessage) ([]anthropic.ContentBlockParamUnion, error) {
	if len(m.Parts) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}, nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Kind {
		case models.ContentKindText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case models.ContentKindImage:
			if _, err := base64.StdEncoding.DecodeString(part.Base64); err != nil {
				return nil, err
			}
			mediaType, ok := anthropicImageMediaType(part.MediaType)
			if !ok {
				return nil, fmt.Errorf("unsupported image media type %q", part.MediaType)
			}
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.Base64ImageSourceParam{
				Data: part.Base64, MediaType: mediaType,
			}))
		}
	}
	return blocks, nil
}

func anthropicImageMediaType(mediaType string) (anthropic.Base64ImageSourceMediaType, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return anthropic.Base64ImageSourceMediaTypeImageJPEG, true
	case "image/png":
		return anthropic.Base64ImageSourceMediaTypeImagePNG, true
	case "image/gif":
		return anthropic.Base64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.Base64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}

func (p *AnthropicProvider) assistantBlocks(m agent.CompletionMessage) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, call := range m.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
	}
	return blocks
}

func (p *AnthropicProvider) toolResultBlocks(m agent.CompletionMessage) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolResults))
	for _, result := range m.ToolResults {
		content := result.Output
		if !result.Success && result.Error != "" {
			content = result.Error
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(result.ToolCallID, content, !result.Success))
	}
	return blocks
}

