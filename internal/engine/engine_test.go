package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corvid-labs/rook/internal/history"
	"github.com/corvid-labs/rook/internal/provider"
	"github.com/corvid-labs/rook/internal/tools"
	"github.com/corvid-labs/rook/pkg/models"
)

// scriptedBackend plays back one scripted response per stream call.
type scriptedBackend struct {
	mu      sync.Mutex
	script  []scriptedRound
	calls   atomic.Int32
	failErr error
	block   chan struct{}
}

type scriptedRound struct {
	text  string
	calls []models.ToolCall
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	return "", fmt.Errorf("not used")
}

func (b *scriptedBackend) Stream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	n := int(b.calls.Add(1)) - 1
	out := make(chan *provider.Chunk)
	go func() {
		defer close(out)
		if b.block != nil {
			select {
			case <-b.block:
			case <-ctx.Done():
				out <- &provider.Chunk{Err: ctx.Err()}
				return
			}
		}
		if b.failErr != nil {
			out <- &provider.Chunk{Err: b.failErr}
			return
		}
		b.mu.Lock()
		var round scriptedRound
		if n < len(b.script) {
			round = b.script[n]
		} else {
			round = b.script[len(b.script)-1]
		}
		b.mu.Unlock()
		if round.text != "" {
			out <- &provider.Chunk{Text: round.text}
		}
		for i := range round.calls {
			out <- &provider.Chunk{ToolCall: &round.calls[i]}
		}
		out <- &provider.Chunk{Done: true}
	}()
	return out, nil
}

// memStore records persisted turns in memory.
type memStore struct {
	mu    sync.Mutex
	turns []*models.Turn
}

func (s *memStore) AddTurnSlimmed(ctx context.Context, sessionID int64, role models.Role, blocks []models.ContentBlock) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, &models.Turn{
		ID: int64(len(s.turns) + 1), SessionID: sessionID, Role: role, Blocks: blocks,
	})
	return int64(len(s.turns)), nil
}

func (s *memStore) GetTurns(ctx context.Context, sessionID int64, limit int) ([]*models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "echo: " + string(args)}, nil
}

func newTestEngine(backend provider.Provider, store Store, maxRounds int) *Engine {
	reg := tools.NewRegistry(slog.Default())
	reg.Register(echoTool{})
	exec := tools.NewExecutor(reg, tools.ExecConfig{Concurrency: 4})
	builder := history.NewBuilder("test persona", 50, 0, nil, nil, slog.Default())
	return New(backend, reg, exec, builder, store, NewGate(),
		Config{MaxRounds: maxRounds}, slog.Default())
}

func userBlocks(text string) []models.ContentBlock {
	return []models.ContentBlock{models.TextBlock(text)}
}

func TestExecuteSimpleCompletion(t *testing.T) {
	backend := &scriptedBackend{script: []scriptedRound{{text: "the answer"}}}
	store := &memStore{}
	e := newTestEngine(backend, store, 25)

	out, err := e.Execute(context.Background(), 1, userBlocks("question"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeCompleted || out.Text != "the answer" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(store.turns) != 2 {
		t.Errorf("expected user + assistant turns, got %d", len(store.turns))
	}
}

func TestExecuteToolRoundCorrelation(t *testing.T) {
	backend := &scriptedBackend{script: []scriptedRound{
		{calls: []models.ToolCall{
			{ID: "call_a", Name: "echo", Input: json.RawMessage(`{"n":1}`)},
			{ID: "call_b", Name: "echo", Input: json.RawMessage(`{"n":2}`)},
		}},
		{text: "done"},
	}}
	store := &memStore{}
	e := newTestEngine(backend, store, 25)

	out, err := e.Execute(context.Background(), 1, userBlocks("go"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Text != "done" {
		t.Errorf("unexpected final text: %q", out.Text)
	}

	// Find the tool turn and check 1:1 ordered correlation with the uses.
	var toolTurn, assistantTurn *models.Turn
	for _, turn := range store.turns {
		if turn.Role == models.RoleTool && toolTurn == nil {
			toolTurn = turn
		}
		if turn.Role == models.RoleAssistant && assistantTurn == nil {
			assistantTurn = turn
		}
	}
	if toolTurn == nil || assistantTurn == nil {
		t.Fatal("missing persisted turns")
	}
	uses := assistantTurn.ToolUses()
	if len(uses) != 2 || len(toolTurn.Blocks) != 2 {
		t.Fatalf("expected 2 uses and 2 results, got %d and %d", len(uses), len(toolTurn.Blocks))
	}
	for i, use := range uses {
		if toolTurn.Blocks[i].ToolUseID != use.ID {
			t.Errorf("result %d correlates to %q, want %q", i, toolTurn.Blocks[i].ToolUseID, use.ID)
		}
	}
}

func TestExecuteRoundLimit(t *testing.T) {
	backend := &scriptedBackend{script: []scriptedRound{
		{calls: []models.ToolCall{{ID: "c", Name: "echo", Input: json.RawMessage(`{}`)}}},
	}}
	store := &memStore{}
	e := newTestEngine(backend, store, 3)

	out, err := e.Execute(context.Background(), 1, userBlocks("loop forever"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeCompleted || !strings.Contains(out.Text, "tool-round limit") {
		t.Errorf("expected round-limit notice, got %+v", out)
	}
	if got := backend.calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 rounds, got %d", got)
	}
}

func TestExecuteUnknownToolKeepsLoopAlive(t *testing.T) {
	backend := &scriptedBackend{script: []scriptedRound{
		{calls: []models.ToolCall{{ID: "c1", Name: "figment", Input: json.RawMessage(`{}`)}}},
		{text: "recovered"},
	}}
	e := newTestEngine(backend, &memStore{}, 25)

	out, err := e.Execute(context.Background(), 1, userBlocks("use a fake tool"))
	if err != nil {
		t.Fatalf("Execute should survive unknown tools: %v", err)
	}
	if out.Text != "recovered" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestExecuteBackendErrorPropagatesUnretried(t *testing.T) {
	backend := &scriptedBackend{failErr: fmt.Errorf("401 unauthorized")}
	e := newTestEngine(backend, &memStore{}, 25)

	_, err := e.Execute(context.Background(), 1, userBlocks("hi"))
	if err == nil {
		t.Fatal("expected backend error")
	}
	if got := backend.calls.Load(); got != 1 {
		t.Errorf("backend error must not be retried, saw %d calls", got)
	}
}

func TestExecuteBusyRejection(t *testing.T) {
	backend := &scriptedBackend{
		script: []scriptedRound{{text: "slow answer"}},
		block:  make(chan struct{}),
	}
	e := newTestEngine(backend, &memStore{}, 25)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Execute(context.Background(), 1, userBlocks("first"))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.gate.State(1) != TokenActive {
		time.Sleep(5 * time.Millisecond)
	}

	out1, err := e.Execute(context.Background(), 1, userBlocks("second"))
	if err != nil || out1.Kind != OutcomeBusy || !out1.Notify {
		t.Errorf("expected first busy rejection with notify: %+v err=%v", out1, err)
	}
	out2, _ := e.Execute(context.Background(), 1, userBlocks("third"))
	if out2.Kind != OutcomeBusy || out2.Notify {
		t.Errorf("expected silent busy rejection: %+v", out2)
	}

	close(backend.block)
	<-done
}

func TestExecuteCancelDuringStream(t *testing.T) {
	backend := &scriptedBackend{
		script: []scriptedRound{{text: "never delivered"}},
		block:  make(chan struct{}),
	}
	e := newTestEngine(backend, &memStore{}, 25)

	outs := make(chan *Outcome, 1)
	go func() {
		out, err := e.Execute(context.Background(), 1, userBlocks("cancel me"))
		if err != nil {
			t.Errorf("cancel must not surface as error: %v", err)
		}
		outs <- out
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.gate.State(1) != TokenActive {
		time.Sleep(5 * time.Millisecond)
	}
	if !e.Cancel(1) {
		t.Fatal("cancel found no active run")
	}

	select {
	case out := <-outs:
		if out.Kind != OutcomeCancelled || out.Text != CancelNotice {
			t.Errorf("expected cancelled outcome with notice, got %+v", out)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not return after cancel")
	}
}
