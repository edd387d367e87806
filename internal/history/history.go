// Package history assembles the per-round conversation context: a system
// prompt carrying persona, clock, and recalled memories, plus a bounded
// window of recent turns.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corvid-labs/rook/pkg/models"
)

// DefaultContextRounds is the default round-trip window size.
const DefaultContextRounds = 50

// recallQueryLimit caps the text handed to memory recall; anything past it
// adds noise, not signal.
const recallQueryLimit = 2000

// Recaller is the long-term memory lookup used to seed the system prompt.
type Recaller interface {
	Recall(ctx context.Context, query string, k int) []*models.Memory
}

// Builder produces the context for each engine round.
type Builder struct {
	persona  string
	rounds   int
	recallK  int
	recaller Recaller
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewBuilder constructs a Builder. recaller may be nil, disabling recall;
// loc may be nil, rendering the clock in UTC.
func NewBuilder(persona string, rounds, recallK int, recaller Recaller, loc *time.Location, logger *slog.Logger) *Builder {
	if rounds <= 0 {
		rounds = DefaultContextRounds
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		persona:  persona,
		rounds:   rounds,
		recallK:  recallK,
		recaller: recaller,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// SystemPrompt renders persona, current time, and memories recalled against
// the latest user text. Recall failure degrades to no injection.
func (b *Builder) SystemPrompt(ctx context.Context, latestUserText string) string {
	var sb strings.Builder
	sb.WriteString(b.persona)
	fmt.Fprintf(&sb, "\n\nCurrent time: %s\n", b.now().In(b.loc).Format(time.RFC1123))

	if b.recaller == nil || b.recallK <= 0 {
		return sb.String()
	}
	query := latestUserText
	if len(query) > recallQueryLimit {
		query = query[:recallQueryLimit]
	}
	memories := b.recaller.Recall(ctx, query, b.recallK)
	if len(memories) == 0 {
		return sb.String()
	}
	sb.WriteString("\nThings you remember:\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "- %s\n", m.Text)
	}
	return sb.String()
}

// Window trims turns to the most recent complete round-trips. A round-trip
// starts at a user turn and runs through the following assistant and tool
// turns. Oldest round-trips drop first; a trailing partial round (in-flight
// tool results) is always kept.
func (b *Builder) Window(turns []*models.Turn) []*models.Turn {
	starts := roundStarts(turns)
	if len(starts) <= b.rounds {
		return turns
	}
	cut := starts[len(starts)-b.rounds]
	dropped := cut
	b.logger.Debug("evicted old rounds from context",
		"dropped_turns", dropped, "kept_turns", len(turns)-cut)
	return turns[cut:]
}

// roundStarts returns indices of turns that begin a round-trip.
func roundStarts(turns []*models.Turn) []int {
	var starts []int
	for i, t := range turns {
		if t.Role == models.RoleUser {
			starts = append(starts, i)
		}
	}
	return starts
}
