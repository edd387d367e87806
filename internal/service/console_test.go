package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/corvid-labs/rook/pkg/models"
)

func TestConsoleCommands(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	r, err := NewRuntime(ctx, cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer r.Shutdown()

	var out strings.Builder
	c := NewConsole(r, strings.NewReader(""), &out)
	sessionID, err := r.Session(ctx, consoleKey)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	quit, err := c.command(ctx, "/provider", &sessionID)
	if quit || err != nil {
		t.Fatalf("/provider: quit=%v err=%v", quit, err)
	}
	if !strings.Contains(out.String(), "claude") {
		t.Errorf("provider query output %q", out.String())
	}

	out.Reset()
	quit, err = c.command(ctx, "/new", &sessionID)
	if quit || err != nil {
		t.Fatalf("/new: quit=%v err=%v", quit, err)
	}
	if !strings.Contains(out.String(), "session") {
		t.Errorf("/new output %q", out.String())
	}

	out.Reset()
	if _, err := c.command(ctx, "/cancel", &sessionID); err != nil {
		t.Fatalf("/cancel: %v", err)
	}
	if !strings.Contains(out.String(), "nothing to cancel") {
		t.Errorf("/cancel with no run output %q", out.String())
	}

	quit, _ = c.command(ctx, "/quit", &sessionID)
	if !quit {
		t.Error("/quit should quit")
	}

	out.Reset()
	if _, err := c.command(ctx, "/bogus", &sessionID); err != nil {
		t.Fatalf("/bogus: %v", err)
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Errorf("unknown command output %q", out.String())
	}
}

func TestConsoleSessionsListsTurnCounts(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	r, err := NewRuntime(ctx, cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer r.Shutdown()

	sessionID, err := r.Session(ctx, consoleKey)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	for _, text := range []string{"hello", "hi there"} {
		if _, err := r.Store().AddTurn(ctx, sessionID, models.RoleUser, []models.ContentBlock{models.TextBlock(text)}); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
	}

	var out strings.Builder
	c := NewConsole(r, strings.NewReader(""), &out)
	if _, err := c.command(ctx, "/sessions", &sessionID); err != nil {
		t.Fatalf("/sessions: %v", err)
	}
	if !strings.Contains(out.String(), "(2 turns)") {
		t.Errorf("/sessions output missing turn count: %q", out.String())
	}
}
