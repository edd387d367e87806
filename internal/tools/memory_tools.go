package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corvid-labs/rook/internal/memory"
	"github.com/corvid-labs/rook/pkg/models"
)

const (
	defaultSearchLimit = 5
	defaultListLimit   = 200
)

// RegisterMemoryTools installs the built-in long-term memory tools.
func RegisterMemoryTools(r *Registry, store *memory.Store) {
	r.Register(&memoryAddTool{store: store})
	r.Register(&memorySearchTool{store: store})
	r.Register(&memoryListTool{store: store})
	r.Register(&memoryDeleteTool{store: store})
}

type memoryAddTool struct{ store *memory.Store }

func (t *memoryAddTool) Name() string { return "memory_add" }
func (t *memoryAddTool) Description() string {
	return "Save a long-term memory that persists across conversations."
}
func (t *memoryAddTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "description": "The fact to remember"}
		},
		"required": ["text"]
	}`)
}

func (t *memoryAddTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	id, err := t.store.Add(ctx, in.Text)
	if err != nil {
		return failure(err), nil
	}
	return success(map[string]any{"id": id}), nil
}

type memorySearchTool struct{ store *memory.Store }

func (t *memorySearchTool) Name() string { return "memory_search" }
func (t *memorySearchTool) Description() string {
	return "Search saved memories by keyword relevance."
}
func (t *memorySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		},
		"required": ["query"]
	}`)
}

func (t *memorySearchTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if in.Limit <= 0 {
		in.Limit = defaultSearchLimit
	}
	out, err := t.store.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return failure(err), nil
	}
	return success(memoriesPayload(out)), nil
}

type memoryListTool struct{ store *memory.Store }

func (t *memoryListTool) Name() string { return "memory_list" }
func (t *memoryListTool) Description() string {
	return "List the most recently saved memories."
}
func (t *memoryListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "minimum": 1, "maximum": 500}
		}
	}`)
}

func (t *memoryListTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	if in.Limit <= 0 {
		in.Limit = defaultListLimit
	}
	out, err := t.store.List(ctx, in.Limit)
	if err != nil {
		return failure(err), nil
	}
	return success(memoriesPayload(out)), nil
}

type memoryDeleteTool struct{ store *memory.Store }

func (t *memoryDeleteTool) Name() string { return "memory_delete" }
func (t *memoryDeleteTool) Description() string {
	return "Delete a saved memory by its id."
}
func (t *memoryDeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "integer"}
		},
		"required": ["id"]
	}`)
}

func (t *memoryDeleteTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	ok, err := t.store.Delete(ctx, in.ID)
	if err != nil {
		return failure(err), nil
	}
	if !ok {
		return failure(fmt.Errorf("memory %d not found", in.ID)), nil
	}
	return success(map[string]any{"ok": true}), nil
}

func memoriesPayload(memories []*models.Memory) []map[string]any {
	out := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		out = append(out, map[string]any{
			"id":         m.ID,
			"text":       m.Text,
			"created_at": m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out
}

func success(payload any) *models.ToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Errorf("encode result: %w", err))
	}
	return &models.ToolResult{Content: string(data)}
}

func failure(err error) *models.ToolResult {
	data, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
	return &models.ToolResult{Content: string(data), IsError: true}
}
