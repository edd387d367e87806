package tools

import (
	"context"
	"sync"
	"time"

	"github.com/corvid-labs/rook/pkg/models"
)

// ExecConfig bounds concurrent tool execution.
type ExecConfig struct {
	Concurrency    int
	PerToolTimeout time.Duration
}

// DefaultExecConfig runs up to 4 tools at once, 30s each. The delegated CLI
// tool manages its own longer deadline and is exempted via LongRunner.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{Concurrency: 4, PerToolTimeout: 30 * time.Second}
}

// LongRunner marks a tool that enforces its own deadline; the executor does
// not wrap it in the per-tool timeout.
type LongRunner interface {
	LongRunning() bool
}

// Executor runs batches of tool calls concurrently.
type Executor struct {
	registry *Registry
	config   ExecConfig
}

// NewExecutor creates an Executor; zero config fields take defaults.
func NewExecutor(registry *Registry, config ExecConfig) *Executor {
	def := DefaultExecConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = def.PerToolTimeout
	}
	return &Executor{registry: registry, config: config}
}

// ExecuteAll runs calls with bounded concurrency and returns results in the
// same order the calls were issued, regardless of completion order. Every
// call gets exactly one result.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolResult{
					ToolCallID: call.ID,
					Content:    "cancelled before execution",
					IsError:    true,
				}
				return
			}
			results[idx] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	execCtx := ctx
	if tool, ok := e.registry.Get(call.Name); !ok || !isLongRunning(tool) {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.config.PerToolTimeout)
		defer cancel()
	}
	result := e.registry.Execute(execCtx, call.Name, call.Input)
	result.ToolCallID = call.ID
	return *result
}

func isLongRunning(t Tool) bool {
	lr, ok := t.(LongRunner)
	return ok && lr.LongRunning()
}
