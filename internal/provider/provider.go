// Package provider implements the chat backends: streaming tool-use
// conversations against the Anthropic and OpenAI APIs behind one interface.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvid-labs/rook/pkg/models"
)

// DefaultMaxTokens bounds a single completion when the request does not.
const DefaultMaxTokens = 4096

// ToolSchema describes one callable tool to the backend.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is one streaming completion request.
type Request struct {
	Model     string
	System    string
	Turns     []*models.Turn
	Tools     []ToolSchema
	MaxTokens int
}

// Chunk is one unit of streamed output. Text deltas arrive as they are
// generated; a ToolCall arrives complete, after its arguments finish
// streaming. The final chunk has Done or Err set, never both text and Err.
type Chunk struct {
	Text     string
	ToolCall *models.ToolCall
	Done     bool
	Err      error
}

// Provider is a chat backend. Stream errors are delivered in-band as a
// Chunk.Err; the error return covers only request construction. Backend
// errors are never retried here beyond transient transport failures; an
// auth or capability error means the caller should switch backends.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Complete is the single-shot variant for auxiliary calls like title
	// generation. No tools, no streaming.
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Collect drains a stream into accumulated text and tool calls, stopping on
// the first error chunk.
func Collect(chunks <-chan *Chunk) (string, []models.ToolCall, error) {
	var text strings.Builder
	var calls []models.ToolCall
	for c := range chunks {
		if c.Err != nil {
			return text.String(), calls, c.Err
		}
		if c.Text != "" {
			text.WriteString(c.Text)
		}
		if c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return text.String(), calls, nil
}

// IsRateLimited reports whether err looks like a backend rate limit. Used by
// callers that deliberately give up rather than retry into the limit.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded")
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

// wrapBackendError redacts secrets before an error can reach a caller.
func wrapBackendError(provider string, err error) error {
	return fmt.Errorf("%s: %s", provider, Redact(err.Error()))
}
