// Package tools holds the tool registry: a name-keyed map of callable
// capabilities exposed to the backend, populated by built-ins at startup and
// by tool providers as they connect.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/corvid-labs/rook/pkg/models"
)

// MaxParamsSize bounds tool argument JSON.
const MaxParamsSize = 10 << 20

// Tool is a callable capability. Execute returns a structured result; it
// returns an error only for infrastructure failures, never for tool-level
// failures, which belong in an IsError result.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

// Registry is a thread-safe tool map. Lookups dominate; updates happen only
// at startup and on provider connect/disable events.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool, replacing any existing tool of the same name. The
// parameter schema is compiled once here; an uncompilable schema disables
// validation for that tool but does not reject it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	r.tools[name] = tool
	delete(r.schemas, name)
	if raw := tool.Schema(); len(raw) > 0 {
		schema, err := compileSchema(name, raw)
		if err != nil {
			r.logger.Warn("tool schema does not compile, skipping argument validation",
				"tool", name, "error", err)
			return
		}
		r.schemas[name] = schema
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// UnregisterNamespace removes every tool under a provider namespace and
// returns how many were dropped.
func (r *Registry) UnregisterNamespace(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name := range r.tools {
		if SplitNamespace(name) == provider {
			delete(r.tools, name)
			delete(r.schemas, name)
			n++
		}
	}
	return n
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute dispatches a tool call. Unknown names and invalid arguments come
// back as IsError results; the caller's loop must survive anything the
// backend asks for.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) *models.ToolResult {
	if len(args) > MaxParamsSize {
		return errorResult(name, fmt.Sprintf("tool arguments exceed %d bytes", MaxParamsSize))
	}
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(name, fmt.Sprintf("tool not found: %s", name))
	}
	if schema != nil {
		if err := validateArgs(schema, args); err != nil {
			return errorResult(name, fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return errorResult(name, fmt.Sprintf("tool execution failed: %v", err))
	}
	return result
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

func errorResult(name, message string) *models.ToolResult {
	payload, _ := json.Marshal(map[string]any{"ok": false, "error": message, "tool": name})
	return &models.ToolResult{Content: string(payload), IsError: true}
}
