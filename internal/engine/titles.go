package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/corvid-labs/rook/internal/provider"
)

const titleMaxRunes = 30

const titleSystemPrompt = "You name conversations. Reply with a short title, at most five words, " +
	"no quotes, no punctuation at the end. Reply with the title only."

// titleRetryDelays spaces the generation attempts. The first runs
// immediately; later ones wait out transient backend trouble.
var titleRetryDelays = []time.Duration{0, 3 * time.Second, 15 * time.Second, 60 * time.Second}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// TitleStore persists the generated title.
type TitleStore interface {
	UpdateSessionTitle(ctx context.Context, id int64, title string) error
}

// Titler generates session titles with a lightweight single-shot backend
// call. Failures never affect the conversation; the session just stays
// untitled.
type Titler struct {
	backend provider.Provider
	store   TitleStore
	logger  *slog.Logger
}

// NewTitler creates a Titler. backend may differ from the conversation
// backend; a small cheap model is the usual choice.
func NewTitler(backend provider.Provider, store TitleStore, logger *slog.Logger) *Titler {
	return &Titler{backend: backend, store: store, logger: logger}
}

// Generate produces and stores a title for the session from its opening
// exchange. Rate-limit errors stop the attempts outright rather than retry
// into the limit.
func (t *Titler) Generate(ctx context.Context, sessionID int64, userText, replyText string) {
	prompt := "User: " + clip(userText, 500) + "\nAssistant: " + clip(replyText, 500)

	for attempt, delay := range titleRetryDelays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		raw, err := t.backend.Complete(ctx, titleSystemPrompt, prompt, 64)
		if err != nil {
			if provider.IsRateLimited(err) {
				t.logger.Debug("title generation rate limited, giving up", "session", sessionID)
				return
			}
			t.logger.Debug("title generation attempt failed",
				"session", sessionID, "attempt", attempt+1, "error", err)
			continue
		}
		title := CleanTitle(raw)
		if title == "" {
			continue
		}
		if err := t.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
			t.logger.Warn("failed to store session title", "session", sessionID, "error", err)
		}
		return
	}
}

// CleanTitle normalizes raw model output into a storable title: reasoning
// blocks stripped, one line, unquoted, capped length.
func CleanTitle(raw string) string {
	s := thinkBlock.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > titleMaxRunes {
		s = strings.TrimSpace(string(runes[:titleMaxRunes]))
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
