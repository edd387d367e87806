package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TokenState is the per-session execution token state.
type TokenState int

const (
	TokenIdle TokenState = iota
	TokenActive
	TokenCancelling
)

// Gate serializes execution per session. Admission is an atomic
// check-and-set on the execution token; a distinct cancel path bypasses
// admission and always succeeds.
type Gate struct {
	mu       sync.Mutex
	sessions map[int64]*token
}

type token struct {
	state    TokenState
	runID    string
	cancel   context.CancelFunc
	notified bool
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{sessions: make(map[int64]*token)}
}

// Acquire attempts to start a run for the session. On success it returns a
// run context whose cancellation is wired to Cancel, a release func, and
// ok=true. On rejection ok=false and notify says whether this rejection is
// the first of the current busy window; later arrivals in the same window
// are dropped silently.
func (g *Gate) Acquire(ctx context.Context, sessionID int64) (runCtx context.Context, release func(), ok, notify bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tok := g.sessions[sessionID]
	if tok != nil && tok.state != TokenIdle {
		first := !tok.notified
		tok.notified = true
		return nil, nil, false, first
	}

	runCtx, cancel := context.WithCancel(ctx)
	runID := uuid.NewString()
	tok = &token{state: TokenActive, runID: runID, cancel: cancel}
	g.sessions[sessionID] = tok

	release = func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		cur := g.sessions[sessionID]
		if cur != nil && cur.runID == runID {
			cur.cancel()
			delete(g.sessions, sessionID)
		}
	}
	return runCtx, release, true, false
}

// Cancel always succeeds: it moves an active token to Cancelling and cancels
// the run context, interrupting the backend stream and any subprocess wait.
// It reports whether there was a run to cancel.
func (g *Gate) Cancel(sessionID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	tok := g.sessions[sessionID]
	if tok == nil || tok.state == TokenIdle {
		return false
	}
	tok.state = TokenCancelling
	tok.cancel()
	return true
}

// State returns the session's token state.
func (g *Gate) State(sessionID int64) TokenState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tok := g.sessions[sessionID]; tok != nil {
		return tok.state
	}
	return TokenIdle
}

// Cancelling reports whether the session's run was cancelled.
func (g *Gate) Cancelling(sessionID int64) bool {
	return g.State(sessionID) == TokenCancelling
}
