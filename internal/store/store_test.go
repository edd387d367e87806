package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/corvid-labs/rook/pkg/models"
)

func openTestStore(t *testing.T, slim SlimFunc) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rook.db"), slim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	id, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil || sess.Archived {
		t.Fatalf("expected live session, got %+v", sess)
	}

	if err := s.UpdateSessionTitle(ctx, id, "Fixing the deploy script"); err != nil {
		t.Fatalf("UpdateSessionTitle: %v", err)
	}
	if err := s.ArchiveSession(ctx, id); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	sess, err = s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession after archive: %v", err)
	}
	if !sess.Archived || sess.Title != "Fixing the deploy script" {
		t.Errorf("unexpected session after archive: %+v", sess)
	}
}

func TestGetSessionMissing(t *testing.T) {
	s := openTestStore(t, nil)
	sess, err := s.GetSession(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for missing session, got %+v", sess)
	}
}

func TestTurnsRoundTrip(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	id, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for _, text := range []string{"first", "second", "third"} {
		if _, err := s.AddTurn(ctx, id, models.RoleUser, []models.ContentBlock{models.TextBlock(text)}); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
	}

	turns, err := s.GetTurns(ctx, id, 0)
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Text() != "first" || turns[2].Text() != "third" {
		t.Errorf("turns out of order: %q, %q", turns[0].Text(), turns[2].Text())
	}
}

func TestGetTurnsLimitKeepsLatestChronological(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	id, _ := s.CreateSession(ctx)
	for _, text := range []string{"a", "b", "c", "d"} {
		if _, err := s.AddTurn(ctx, id, models.RoleUser, []models.ContentBlock{models.TextBlock(text)}); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
	}

	turns, err := s.GetTurns(ctx, id, 2)
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].Text() != "c" || turns[1].Text() != "d" {
		t.Errorf("expected latest two in order, got %d turns", len(turns))
	}
}

func TestAddTurnSlimmedAppliesHookAtPersistTime(t *testing.T) {
	slim := func(role models.Role, blocks []models.ContentBlock) []models.ContentBlock {
		out := make([]models.ContentBlock, len(blocks))
		for i, b := range blocks {
			if b.Type == models.BlockText && len(b.Text) > 5 {
				b.Text = b.Text[:5] + "..."
			}
			out[i] = b
		}
		return out
	}
	s := openTestStore(t, slim)
	ctx := context.Background()

	id, _ := s.CreateSession(ctx)
	long := strings.Repeat("x", 100)
	if _, err := s.AddTurnSlimmed(ctx, id, models.RoleTool, []models.ContentBlock{models.TextBlock(long)}); err != nil {
		t.Fatalf("AddTurnSlimmed: %v", err)
	}

	turns, err := s.GetTurns(ctx, id, 0)
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	if got := turns[0].Text(); got != "xxxxx..." {
		t.Errorf("slimming not applied at persist time: %q", got)
	}
}

func TestDeleteSessionsCascades(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	a, _ := s.CreateSession(ctx)
	b, _ := s.CreateSession(ctx)
	s.AddTurn(ctx, a, models.RoleUser, []models.ContentBlock{models.TextBlock("hi")})
	s.AddTurn(ctx, b, models.RoleUser, []models.ContentBlock{models.TextBlock("hi")})

	n, err := s.DeleteSessions(ctx, []int64{a, b})
	if err != nil {
		t.Fatalf("DeleteSessions: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	count, _ := s.CountTurns(ctx, a)
	if count != 0 {
		t.Errorf("expected cascade delete of turns, %d remain", count)
	}
}

func TestSettingsUpsert(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	v, err := s.GetSetting(ctx, "provider")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty for unset key, got %q", v)
	}

	if err := s.SetSetting(ctx, "provider", "claude"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "provider", "openai"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, _ = s.GetSetting(ctx, "provider")
	if v != "openai" {
		t.Errorf("expected overwritten value, got %q", v)
	}
}
