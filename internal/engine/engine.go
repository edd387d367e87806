// Package engine drives the tool-use conversation loop: stream from the
// backend, dispatch requested tools, re-attach results in request order, and
// repeat until the backend stops asking, the round budget runs out, or the
// turn is cancelled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvid-labs/rook/internal/cli"
	"github.com/corvid-labs/rook/internal/history"
	"github.com/corvid-labs/rook/internal/observability"
	"github.com/corvid-labs/rook/internal/provider"
	"github.com/corvid-labs/rook/internal/tools"
	"github.com/corvid-labs/rook/pkg/models"
)

// DefaultMaxRounds bounds tool-dispatch rounds per execution.
const DefaultMaxRounds = 25

// roundLimitNotice is appended as the final text when the budget runs out.
const roundLimitNotice = "I hit the tool-round limit for this request. Here is where I got to:"

// CancelNotice is the single visible output of a cancelled turn.
const CancelNotice = "Cancelled."

// BusyNotice is surfaced on the first rejection of a busy window.
const BusyNotice = "Still working on your previous message. Cancel it first if you want to start over."

// OutcomeKind classifies how an execution ended.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeCancelled
	OutcomeBusy
)

// Outcome is the terminal result of one execution.
type Outcome struct {
	Kind OutcomeKind
	Text string
	// Notify is set on a Busy outcome when this rejection is the first of
	// the busy window and should be surfaced.
	Notify bool
}

// Store is the persistence surface the engine needs.
type Store interface {
	AddTurnSlimmed(ctx context.Context, sessionID int64, role models.Role, blocks []models.ContentBlock) (int64, error)
	GetTurns(ctx context.Context, sessionID int64, limit int) ([]*models.Turn, error)
}

// Config bounds one engine instance.
type Config struct {
	MaxRounds int
	MaxTokens int
	Model     string
}

// Engine executes conversation turns for any number of sessions, one active
// execution per session.
type Engine struct {
	backend  provider.Provider
	registry *tools.Registry
	executor *tools.Executor
	builder  *history.Builder
	store    Store
	gate     *Gate
	config   Config
	logger   *slog.Logger
}

// New wires an Engine.
func New(backend provider.Provider, registry *tools.Registry, executor *tools.Executor,
	builder *history.Builder, store Store, gate *Gate, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	return &Engine{
		backend:  backend,
		registry: registry,
		executor: executor,
		builder:  builder,
		store:    store,
		gate:     gate,
		config:   cfg,
		logger:   logger,
	}
}

// Gate exposes the cancellation controller, for transports that need to
// route cancel requests.
func (e *Engine) Gate() *Gate {
	return e.gate
}

// Cancel interrupts the session's in-flight execution, if any.
func (e *Engine) Cancel(sessionID int64) bool {
	ok := e.gate.Cancel(sessionID)
	if ok {
		observability.Cancellations.Inc()
	}
	return ok
}

// Execute runs one user turn to completion. Tool failures keep the loop
// alive as error results; backend failures propagate as the returned error,
// already redacted of secrets and never retried here.
func (e *Engine) Execute(ctx context.Context, sessionID int64, blocks []models.ContentBlock) (*Outcome, error) {
	runCtx, release, ok, notify := e.gate.Acquire(ctx, sessionID)
	if !ok {
		observability.BusyRejections.Inc()
		return &Outcome{Kind: OutcomeBusy, Notify: notify}, nil
	}
	defer release()

	start := time.Now()
	logger := e.logger.With("session", sessionID)
	runCtx = cli.WithSessionID(runCtx, sessionID)

	if _, err := e.store.AddTurnSlimmed(runCtx, sessionID, models.RoleUser, blocks); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	// The working set carries this execution's turns at full fidelity;
	// earlier turns arrive in their slimmed persisted form.
	working, err := e.store.GetTurns(runCtx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	userText := (&models.Turn{Blocks: blocks}).Text()
	schemas := e.toolSchemas()

	for round := 0; round < e.config.MaxRounds; round++ {
		observability.Rounds.Inc()

		req := &provider.Request{
			Model:     e.config.Model,
			System:    e.builder.SystemPrompt(runCtx, userText),
			Turns:     e.builder.Window(working),
			Tools:     schemas,
			MaxTokens: e.config.MaxTokens,
		}
		chunks, err := e.backend.Stream(runCtx, req)
		if err != nil {
			return e.failOrCancelled(sessionID, err)
		}
		text, calls, err := provider.Collect(chunks)
		if err != nil {
			return e.failOrCancelled(sessionID, err)
		}

		assistantBlocks := assembleAssistant(text, calls)
		if len(assistantBlocks) > 0 {
			if _, err := e.store.AddTurnSlimmed(runCtx, sessionID, models.RoleAssistant, assistantBlocks); err != nil {
				return nil, fmt.Errorf("persist assistant turn: %w", err)
			}
			working = append(working, &models.Turn{
				SessionID: sessionID, Role: models.RoleAssistant, Blocks: assistantBlocks,
			})
		}

		if len(calls) == 0 {
			logger.Info("execution completed", "rounds", round+1, "duration", time.Since(start))
			return &Outcome{Kind: OutcomeCompleted, Text: text}, nil
		}

		logger.Debug("dispatching tools", "round", round+1, "count", len(calls))
		results := e.executor.ExecuteAll(runCtx, calls)
		uses := (&models.Turn{Blocks: assistantBlocks}).ToolUses()
		if err := models.ValidateBlocks(uses, results); err != nil {
			return nil, fmt.Errorf("tool dispatch: %w", err)
		}

		// Every tool use gets its result persisted, cancelled or not, so the
		// recorded conversation never carries a dangling invocation.
		resultBlocks := make([]models.ContentBlock, len(results))
		for i, r := range results {
			observability.ToolExecutions.WithLabelValues(calls[i].Name, boolLabel(r.IsError)).Inc()
			resultBlocks[i] = models.ToolResultBlock(r.ToolCallID, r.Content, r.IsError)
		}
		if _, err := e.store.AddTurnSlimmed(ctx, sessionID, models.RoleTool, resultBlocks); err != nil {
			return nil, fmt.Errorf("persist tool results: %w", err)
		}
		working = append(working, &models.Turn{
			SessionID: sessionID, Role: models.RoleTool, Blocks: resultBlocks,
		})

		if e.cancelled(sessionID, runCtx) {
			logger.Info("execution cancelled during tool dispatch", "round", round+1)
			return &Outcome{Kind: OutcomeCancelled, Text: CancelNotice}, nil
		}
	}

	logger.Warn("round limit reached", "rounds", e.config.MaxRounds)
	observability.RoundLimitHits.Inc()
	notice := roundLimitNotice
	if last := lastAssistantText(working); last != "" {
		notice = notice + "\n\n" + last
	}
	if _, err := e.store.AddTurnSlimmed(ctx, sessionID, models.RoleAssistant,
		[]models.ContentBlock{models.TextBlock(notice)}); err != nil {
		logger.Warn("failed to persist round-limit notice", "error", err)
	}
	return &Outcome{Kind: OutcomeCompleted, Text: notice}, nil
}

// failOrCancelled maps a stream failure to either a cancelled outcome, when
// the gate fired, or a propagated backend error.
func (e *Engine) failOrCancelled(sessionID int64, err error) (*Outcome, error) {
	if e.gate.Cancelling(sessionID) || errors.Is(err, context.Canceled) {
		return &Outcome{Kind: OutcomeCancelled, Text: CancelNotice}, nil
	}
	observability.BackendErrors.Inc()
	return nil, err
}

func (e *Engine) cancelled(sessionID int64, ctx context.Context) bool {
	return e.gate.Cancelling(sessionID) || ctx.Err() != nil
}

func (e *Engine) toolSchemas() []provider.ToolSchema {
	list := e.registry.List()
	out := make([]provider.ToolSchema, len(list))
	for i, t := range list {
		out[i] = provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		}
	}
	return out
}

// assembleAssistant builds assistant blocks: text first, then tool uses in
// the order the backend requested them.
func assembleAssistant(text string, calls []models.ToolCall) []models.ContentBlock {
	var blocks []models.ContentBlock
	if text != "" {
		blocks = append(blocks, models.TextBlock(text))
	}
	for _, c := range calls {
		blocks = append(blocks, models.ToolUseBlock(c.ID, c.Name, c.Input))
	}
	return blocks
}

func lastAssistantText(turns []*models.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleAssistant {
			if text := turns[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

func boolLabel(b bool) string {
	if b {
		return "error"
	}
	return "ok"
}
