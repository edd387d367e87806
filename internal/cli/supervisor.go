package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout is the hard wall-clock deadline for a delegated process.
const DefaultTimeout = 600 * time.Second

// DefaultTruncateChars bounds the in-band output view. The artifact on disk
// is always complete.
const DefaultTruncateChars = 50_000

// Result is the structured outcome of one delegated run. Exactly one of
// TimedOut, Cancelled, or SpawnFailure is set when OK is false with no exit
// code to report.
type Result struct {
	OK           bool        `json:"ok"`
	Adapter      AdapterName `json:"adapter"`
	Cwd          string      `json:"cwd,omitempty"`
	ExitCode     int         `json:"exit_code"`
	OutputPath   string      `json:"output_path,omitempty"`
	Output       string      `json:"output"`
	TimedOut     bool        `json:"timed_out,omitempty"`
	Cancelled    bool        `json:"cancelled,omitempty"`
	SpawnFailure bool        `json:"spawn_failure,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Supervisor runs at most one delegated process per session.
type Supervisor struct {
	adapters      map[AdapterName]*Adapter
	artifactDir   string
	timeout       time.Duration
	truncateChars int
	logger        *slog.Logger

	mu     sync.Mutex
	active map[int64]*runningProcess
}

type runningProcess struct {
	cmd       *exec.Cmd
	cancelled bool
}

// NewSupervisor creates a Supervisor writing artifacts under artifactDir.
// truncateChars bounds the in-band output view; zero takes the default.
func NewSupervisor(adapters map[AdapterName]*Adapter, artifactDir string, timeout time.Duration, truncateChars int, logger *slog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if truncateChars <= 0 {
		truncateChars = DefaultTruncateChars
	}
	return &Supervisor{
		adapters:      adapters,
		artifactDir:   artifactDir,
		timeout:       timeout,
		truncateChars: truncateChars,
		logger:        logger,
		active:        make(map[int64]*runningProcess),
	}
}

// Busy reports whether a delegated process is active for the session.
func (s *Supervisor) Busy(sessionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// Cancel force-kills the session's active process, if any. The in-flight Run
// observes the kill and reports a cancelled result.
func (s *Supervisor) Cancel(sessionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.active[sessionID]
	if !ok {
		return false
	}
	rp.cancelled = true
	if rp.cmd.Process != nil {
		rp.cmd.Process.Kill()
	}
	return true
}

// Run executes one delegation. A second call for the same session while one
// is active returns an "already running" result, not a queued run. The
// returned Output is head+tail truncated; OutputPath holds the full capture.
func (s *Supervisor) Run(ctx context.Context, sessionID int64, name AdapterName, task, cwd string) *Result {
	adapter, ok := s.adapters[name]
	if !ok || adapter == nil {
		return &Result{OK: false, Adapter: name, SpawnFailure: true,
			Error: fmt.Sprintf("no %s adapter configured", name)}
	}

	start := time.Now()
	inv := adapter.resolve(task, cwd, s.artifactDir, start)
	if err := os.MkdirAll(s.artifactDir, 0o755); err != nil {
		return &Result{OK: false, Adapter: name, SpawnFailure: true,
			Error: fmt.Sprintf("create artifact dir: %v", err)}
	}

	var capture lockedBuffer
	cmd := exec.Command(inv.command, inv.args...)
	cmd.Dir = inv.dir
	cmd.Stdout = &capture
	cmd.Stderr = &capture

	s.mu.Lock()
	if _, busy := s.active[sessionID]; busy {
		s.mu.Unlock()
		return &Result{OK: false, Adapter: name, Error: "a delegated process is already running for this session"}
	}
	rp := &runningProcess{cmd: cmd}
	s.active[sessionID] = rp
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, sessionID)
		s.mu.Unlock()
	}()

	if err := cmd.Start(); err != nil {
		// Some platforms cannot exec the resolved binary directly; fall back
		// to a shell with every argument safely quoted.
		if shellCmd := shellFallback(inv); shellCmd != nil {
			shellCmd.Dir = inv.dir
			shellCmd.Stdout = &capture
			shellCmd.Stderr = &capture
			if err2 := shellCmd.Start(); err2 != nil {
				return &Result{OK: false, Adapter: name, Cwd: cwd, SpawnFailure: true,
					Error: fmt.Sprintf("spawn %s: %v", inv.command, err)}
			}
			cmd = shellCmd
			s.mu.Lock()
			rp.cmd = shellCmd
			s.mu.Unlock()
		} else {
			return &Result{OK: false, Adapter: name, Cwd: cwd, SpawnFailure: true,
				Error: fmt.Sprintf("spawn %s: %v", inv.command, err)}
		}
	}

	s.logger.Info("delegated process started",
		"session", sessionID, "adapter", name, "command", inv.command, "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		cmd.Process.Kill()
		waitErr = <-done
	case <-ctx.Done():
		cmd.Process.Kill()
		waitErr = <-done
	}

	s.mu.Lock()
	cancelled := rp.cancelled
	s.mu.Unlock()
	if ctx.Err() != nil {
		cancelled = true
	}

	output := s.collectOutput(inv, capture.String())
	artifactPath := s.persistArtifact(name, start, output)

	res := &Result{
		Adapter:    name,
		Cwd:        cwd,
		OutputPath: artifactPath,
		Output:     truncateHeadTail(output, s.truncateChars),
	}
	switch {
	case cancelled:
		res.Cancelled = true
		res.Error = "cancelled"
	case timedOut:
		res.TimedOut = true
		res.Error = fmt.Sprintf("killed after %s", s.timeout)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Error = fmt.Sprintf("exit code %d", res.ExitCode)
		} else {
			res.Error = waitErr.Error()
		}
	default:
		res.OK = true
	}

	s.logger.Info("delegated process finished",
		"session", sessionID, "adapter", name, "ok", res.OK,
		"exit_code", res.ExitCode, "timed_out", res.TimedOut,
		"cancelled", res.Cancelled, "duration", time.Since(start))
	return res
}

// collectOutput prefers the adapter's designated output file when it exists
// and is non-empty, falling back to the combined stdout/stderr capture.
func (s *Supervisor) collectOutput(inv invocation, captured string) string {
	if inv.outputFile != "" {
		if data, err := os.ReadFile(inv.outputFile); err == nil && len(bytes.TrimSpace(data)) > 0 {
			return string(data)
		}
	}
	return captured
}

// persistArtifact writes the untruncated output to a timestamped file and
// returns its path, or "" if the write fails.
func (s *Supervisor) persistArtifact(name AdapterName, start time.Time, output string) string {
	path := filepath.Join(s.artifactDir,
		fmt.Sprintf("%s-%s.txt", name, start.UTC().Format("20060102-150405.000")))
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		s.logger.Warn("failed to persist output artifact", "path", path, "error", err)
		return ""
	}
	return path
}

// truncateHeadTail keeps the head and tail of s, eliding the middle.
func truncateHeadTail(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	head := limit / 2
	tail := limit - head
	elided := len(s) - head - tail
	return s[:head] + fmt.Sprintf("\n... [%d characters elided] ...\n", elided) + s[len(s)-tail:]
}

// shellFallback builds the last-resort shell invocation with each argument
// single-quoted, so untrusted task text can never be interpreted.
func shellFallback(inv invocation) *exec.Cmd {
	parts := make([]string, 0, len(inv.args)+1)
	parts = append(parts, shellQuote(inv.command))
	for _, a := range inv.args {
		parts = append(parts, shellQuote(a))
	}
	return exec.Command("/bin/sh", "-c", strings.Join(parts, " "))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// lockedBuffer is a concurrency-safe write buffer shared by stdout and
// stderr, readable mid-run for timeout and cancel snapshots.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
