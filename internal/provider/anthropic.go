package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/corvid-labs/rook/pkg/models"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// AnthropicProvider streams completions from the Anthropic Messages API.
// Safe for concurrent use; each Stream call owns its goroutine.
type AnthropicProvider struct {
	client     anthropic.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// NewAnthropic creates the Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:     anthropic.NewClient(opts...),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "claude" }

// Stream opens a streaming completion. Transient failures at stream creation
// are retried with exponential backoff; errors after that arrive in-band.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isTransient(err) || attempt == p.maxRetries {
				chunks <- &Chunk{Err: wrapBackendError("claude", err)}
				return
			}
			select {
			case <-ctx.Done():
				chunks <- &Chunk{Err: ctx.Err()}
				return
			case <-time.After(p.retryDelay << attempt):
			}
		}
		p.processStream(stream, chunks)
	}()
	return chunks, nil
}

// Complete runs a single non-streaming request, used for title generation.
func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokensOrDefault(maxTokens)),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapBackendError("claude", err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicTurns(req.Turns)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream converts SSE events to chunks. Tool arguments stream as
// partial JSON across delta events and are assembled before the call is
// emitted.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk) {
	var currentCall *models.ToolCall
	var currentInput strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentCall = &models.ToolCall{ID: use.ID, Name: use.Name}
				currentInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentCall != nil {
				input := currentInput.String()
				if input == "" {
					input = "{}"
				}
				currentCall.Input = json.RawMessage(input)
				chunks <- &Chunk{ToolCall: currentCall}
				currentCall = nil
			}
		case "message_stop":
			chunks <- &Chunk{Done: true}
			return
		case "error":
			chunks <- &Chunk{Err: wrapBackendError("claude", fmt.Errorf("stream error"))}
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: wrapBackendError("claude", err)}
		return
	}
	chunks <- &Chunk{Done: true}
}

func convertAnthropicTurns(turns []*models.Turn) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, turn := range turns {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range turn.Blocks {
			switch b.Type {
			case models.BlockText:
				if b.Text != "" {
					content = append(content, anthropic.NewTextBlock(b.Text))
				}
			case models.BlockImage:
				content = append(content, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
			case models.BlockToolUse:
				var input map[string]any
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("tool use %s has invalid input: %w", b.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if turn.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool turns both travel as user messages.
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}

// isTransient reports whether a stream-creation error is worth retrying.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "500", "502", "503", "529", "timeout", "connection", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
