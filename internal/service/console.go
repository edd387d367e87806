package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/corvid-labs/rook/internal/engine"
	"github.com/corvid-labs/rook/pkg/models"
)

// consoleKey is the transport key binding the console to its session chain.
const consoleKey = "console"

// Console is the interactive stdin/stdout transport behind `rook serve`.
// One line in, one reply out; slash commands manage the session.
type Console struct {
	runtime *Runtime
	in      io.Reader
	out     io.Writer
}

// NewConsole creates a console transport over the given streams.
func NewConsole(runtime *Runtime, in io.Reader, out io.Writer) *Console {
	return &Console{runtime: runtime, in: in, out: out}
}

// Run reads lines until EOF, /quit, or ctx cancellation. Each non-command
// line becomes a user turn; replies print when they arrive. A second line
// while a turn is running gets the busy notice once per busy window.
func (c *Console) Run(ctx context.Context) error {
	sessionID, err := c.runtime.Session(ctx, consoleKey)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	fmt.Fprintf(c.out, "session %d ready. /help for commands.\n", sessionID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	results := make(chan *engine.Outcome, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-results:
			c.show(out)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				quit, err := c.command(ctx, line, &sessionID)
				if err != nil {
					fmt.Fprintf(c.out, "error: %v\n", err)
				}
				if quit {
					return nil
				}
				continue
			}
			go func(text string, id int64) {
				out, err := c.runtime.HandleMessage(ctx, id, []models.ContentBlock{models.TextBlock(text)})
				if err != nil {
					out = &engine.Outcome{Kind: engine.OutcomeCompleted, Text: "error: " + err.Error()}
				}
				results <- out
			}(line, sessionID)
		}
	}
}

func (c *Console) show(out *engine.Outcome) {
	switch out.Kind {
	case engine.OutcomeBusy:
		if out.Notify {
			fmt.Fprintln(c.out, engine.BusyNotice)
		}
	default:
		if out.Text != "" {
			fmt.Fprintln(c.out, out.Text)
		}
	}
}

func (c *Console) command(ctx context.Context, line string, sessionID *int64) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(c.out, "/new  /cancel  /provider [name]  /model [name]  /sessions  /quit")
	case "/new":
		id, err := c.runtime.NewSession(ctx, consoleKey)
		if err != nil {
			return false, err
		}
		*sessionID = id
		fmt.Fprintf(c.out, "session %d\n", id)
	case "/cancel":
		if !c.runtime.Cancel(*sessionID) {
			fmt.Fprintln(c.out, "nothing to cancel")
		}
	case "/provider":
		if len(fields) < 2 {
			name, model := c.runtime.Selection()
			fmt.Fprintf(c.out, "%s / %s\n", name, model)
			return false, nil
		}
		return false, c.runtime.UseProvider(ctx, fields[1])
	case "/model":
		if len(fields) < 2 {
			_, model := c.runtime.Selection()
			fmt.Fprintln(c.out, model)
			return false, nil
		}
		return false, c.runtime.UseModel(ctx, fields[1])
	case "/sessions":
		sessions, err := c.runtime.Store().ListSessions(ctx, 20)
		if err != nil {
			return false, err
		}
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			turns, err := c.runtime.Store().CountTurns(ctx, s.ID)
			if err != nil {
				return false, err
			}
			fmt.Fprintf(c.out, "%d  %s  %s  (%d turns)\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), title, turns)
		}
	default:
		fmt.Fprintf(c.out, "unknown command %s\n", fields[0])
	}
	return false, nil
}
