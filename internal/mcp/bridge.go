package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corvid-labs/rook/pkg/models"
)

// providerTool adapts one catalog entry to the registry's tool contract.
// From the engine's side it is indistinguishable from a built-in.
type providerTool struct {
	manager     *Manager
	provider    string
	safeName    string
	origName    string
	description string
	schema      json.RawMessage
}

func (t *providerTool) Name() string            { return t.safeName }
func (t *providerTool) Description() string     { return t.description }
func (t *providerTool) Schema() json.RawMessage { return t.schema }

func (t *providerTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	client := t.manager.client(t.provider)
	if client == nil {
		return errorPayload(fmt.Sprintf("provider %s is disabled", t.provider)), nil
	}
	text, isErr, err := client.CallTool(ctx, t.origName, args)
	if err != nil {
		// The failure path may disable the provider; the current call still
		// just reports a structured error.
		t.manager.reportFailure(t.provider, err)
		return errorPayload(fmt.Sprintf("provider call failed: %v", err)), nil
	}
	return &models.ToolResult{Content: text, IsError: isErr}, nil
}

func errorPayload(message string) *models.ToolResult {
	data, _ := json.Marshal(map[string]any{"ok": false, "error": message})
	return &models.ToolResult{Content: string(data), IsError: true}
}
