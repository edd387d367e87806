package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corvid-labs/rook/pkg/models"
)

type sessionKey struct{}

// WithSessionID tags ctx with the session a tool execution belongs to.
func WithSessionID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID extracts the session tag set by WithSessionID.
func SessionID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(sessionKey{}).(int64)
	return id, ok
}

// DelegateTool exposes the supervisor as the delegate_to_cli built-in.
type DelegateTool struct {
	supervisor *Supervisor
	defaultCwd string
}

// NewDelegateTool wraps sup; defaultCwd is used when the request omits one.
func NewDelegateTool(sup *Supervisor, defaultCwd string) *DelegateTool {
	return &DelegateTool{supervisor: sup, defaultCwd: defaultCwd}
}

func (t *DelegateTool) Name() string { return "delegate_to_cli" }

func (t *DelegateTool) Description() string {
	return "Delegate a coding task to a command-line agent running in a workspace directory. " +
		"Use for tasks that need file editing, builds, or long-running shell work."
}

func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "What the agent should do"},
			"cwd": {"type": "string", "description": "Working directory, defaults to the configured workspace"},
			"adapter": {"type": "string", "enum": ["primary", "secondary"], "description": "Which agent to use, defaults to primary"}
		},
		"required": ["task"]
	}`)
}

// LongRunning exempts the delegation from the per-tool timeout; the
// supervisor enforces its own wall-clock deadline.
func (t *DelegateTool) LongRunning() bool { return true }

func (t *DelegateTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Task    string `json:"task"`
		Cwd     string `json:"cwd"`
		Adapter string `json:"adapter"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	sessionID, ok := SessionID(ctx)
	if !ok {
		return nil, fmt.Errorf("no session in context")
	}
	name := AdapterPrimary
	if in.Adapter == string(AdapterSecondary) {
		name = AdapterSecondary
	}
	cwd := in.Cwd
	if cwd == "" {
		cwd = t.defaultCwd
	}

	result := t.supervisor.Run(ctx, sessionID, name, in.Task, cwd)
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &models.ToolResult{Content: string(payload), IsError: !result.OK}, nil
}
