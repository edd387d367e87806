// Package models defines the shared data types for sessions, turns, and
// content blocks exchanged between the engine, the stores, and the providers.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role indicates the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType tags a content block variant.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is the tagged union carried inside a turn. Exactly the fields
// for the variant named by Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text variant.
	Text string `json:"text,omitempty"`

	// Image variant: base64 payload plus its media type.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// ToolUse variant.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult variant.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock returns an image content block with base64 data.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// ToolUseBlock returns a tool invocation request block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns a tool result block correlated to a tool use ID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Turn is one exchange unit within a session: a user input, an assistant
// response, or a batch of tool results. Turns are append-only.
type Turn struct {
	ID        int64          `json:"id,omitempty"`
	SessionID int64          `json:"session_id,omitempty"`
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// Text concatenates the text blocks of a turn, space separated.
func (t *Turn) Text() string {
	var parts []string
	for _, b := range t.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

// ToolUses returns the tool invocation requests in the turn, in order.
func (t *Turn) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range t.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Session is a conversation thread owning an ordered sequence of turns.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCall is an LLM request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool execution, correlated by call ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Memory is one long-term memory entry.
type Memory struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateBlocks checks that every tool_use block in blocks has exactly one
// matching tool_result in results, in request order.
func ValidateBlocks(uses []ContentBlock, results []ToolResult) error {
	if len(uses) != len(results) {
		return fmt.Errorf("tool use/result count mismatch: %d uses, %d results", len(uses), len(results))
	}
	for i, u := range uses {
		if results[i].ToolCallID != u.ID {
			return fmt.Errorf("result %d correlates to %q, want %q", i, results[i].ToolCallID, u.ID)
		}
	}
	return nil
}
