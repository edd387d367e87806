package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/corvid-labs/rook/pkg/models"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIProvider streams completions from the OpenAI chat API, or any
// compatible endpoint via BaseURL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Stream opens a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     p.modelFor(req.Model),
		Messages:  convertOpenAITurns(req.Turns, req.System),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
		Stream:    true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapBackendError("openai", err)
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// Complete runs a single non-streaming request.
func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: prompt,
	})
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: maxTokensOrDefault(maxTokens),
	})
	if err != nil {
		return "", wrapBackendError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) modelFor(requested string) string {
	if requested != "" {
		return requested
	}
	return p.model
}

// processStream accumulates tool-call argument fragments by index and emits
// complete calls when the finish reason says they are done.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	flush := func() {
		for i := 0; i < len(toolCalls); i++ {
			if tc := toolCalls[i]; tc != nil && tc.ID != "" && tc.Name != "" {
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage(`{}`)
				}
				chunks <- &Chunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				chunks <- &Chunk{Done: true}
				return
			}
			chunks <- &Chunk{Err: wrapBackendError("openai", err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Input = append(toolCalls[idx].Input, tc.Function.Arguments...)
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertOpenAITurns maps turns to OpenAI messages. The system prompt leads;
// tool results each become a separate tool-role message.
func convertOpenAITurns(turns []*models.Turn, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, b := range turn.Blocks {
				switch b.Type {
				case models.BlockText:
					msg.Content += b.Text
				case models.BlockToolUse:
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   b.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.Name,
							Arguments: string(b.Input),
						},
					})
				}
			}
			out = append(out, msg)
		case models.RoleTool:
			for _, b := range turn.Blocks {
				if b.Type == models.BlockToolResult {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    b.Content,
						ToolCallID: b.ToolUseID,
					})
				}
			}
		default:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			var parts []openai.ChatMessagePart
			hasImage := false
			for _, b := range turn.Blocks {
				switch b.Type {
				case models.BlockText:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText, Text: b.Text,
					})
				case models.BlockImage:
					hasImage = true
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
			}
			if hasImage {
				msg.MultiContent = parts
			} else {
				msg.Content = turn.Text()
			}
			out = append(out, msg)
		}
	}
	return out
}

func convertOpenAITools(tools []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}
