package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, timeout time.Duration) *Supervisor {
	t.Helper()
	adapters := map[AdapterName]*Adapter{
		AdapterPrimary: {Name: AdapterPrimary, Command: "/bin/sh", Args: []string{"-c"}},
	}
	return NewSupervisor(adapters, t.TempDir(), timeout, 0, slog.Default())
}

func TestRunSuccessPersistsFullOutput(t *testing.T) {
	s := newTestSupervisor(t, 10*time.Second)
	res := s.Run(context.Background(), 1, AdapterPrimary, "printf 'hello world'", "")

	if !res.OK {
		t.Fatalf("expected ok result: %+v", res)
	}
	if res.Output != "hello world" {
		t.Errorf("unexpected output: %q", res.Output)
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("artifact does not match captured output: %q", data)
	}
}

func TestRunHonorsConfiguredTruncation(t *testing.T) {
	adapters := map[AdapterName]*Adapter{
		AdapterPrimary: {Name: AdapterPrimary, Command: "/bin/sh", Args: []string{"-c"}},
	}
	s := NewSupervisor(adapters, t.TempDir(), 10*time.Second, 40, slog.Default())

	res := s.Run(context.Background(), 1, AdapterPrimary, "printf 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'", "")
	if !res.OK {
		t.Fatalf("expected ok result: %+v", res)
	}
	if !strings.Contains(res.Output, "characters elided") {
		t.Errorf("50-char output should be truncated at the 40-char limit: %q", res.Output)
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) != 50 {
		t.Errorf("artifact must keep the full output, got %d chars", len(data))
	}
}

func TestRunNonZeroExit(t *testing.T) {
	s := newTestSupervisor(t, 10*time.Second)
	res := s.Run(context.Background(), 1, AdapterPrimary, "echo partial; exit 3", "")

	if res.OK {
		t.Fatal("expected failure result")
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "partial") {
		t.Errorf("output before failure should be captured: %q", res.Output)
	}
	if res.TimedOut || res.Cancelled || res.SpawnFailure {
		t.Errorf("wrong failure flags: %+v", res)
	}
}

func TestRunTimeoutKillsAndFlags(t *testing.T) {
	s := newTestSupervisor(t, 100*time.Millisecond)
	start := time.Now()
	res := s.Run(context.Background(), 1, AdapterPrimary, "echo before; sleep 30", "")

	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the process promptly")
	}
	if res.OK || !res.TimedOut {
		t.Fatalf("expected timed-out failure: %+v", res)
	}
	if !strings.Contains(res.Output, "before") {
		t.Errorf("output up to the kill should be captured: %q", res.Output)
	}
}

func TestRunSingleFlight(t *testing.T) {
	s := newTestSupervisor(t, 10*time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(context.Background(), 7, AdapterPrimary, "sleep 2", "")
	}()

	for i := 0; i < 100 && !s.Busy(7); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.Busy(7) {
		t.Fatal("first run never became active")
	}

	res := s.Run(context.Background(), 7, AdapterPrimary, "echo second", "")
	if res.OK || !strings.Contains(res.Error, "already running") {
		t.Errorf("expected already-running rejection: %+v", res)
	}

	// A different session is not blocked.
	other := s.Run(context.Background(), 8, AdapterPrimary, "printf other", "")
	if !other.OK {
		t.Errorf("independent session rejected: %+v", other)
	}

	s.Cancel(7)
	wg.Wait()
}

func TestCancelKillsActiveProcess(t *testing.T) {
	s := newTestSupervisor(t, 30*time.Second)

	done := make(chan *Result, 1)
	go func() { done <- s.Run(context.Background(), 1, AdapterPrimary, "sleep 30", "") }()

	for i := 0; i < 100 && !s.Busy(1); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.Cancel(1) {
		t.Fatal("cancel found no active process")
	}

	select {
	case res := <-done:
		if res.OK || !res.Cancelled {
			t.Errorf("expected cancelled result: %+v", res)
		}
		if res.TimedOut {
			t.Error("cancelled run must not be flagged as timeout")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunUnknownAdapter(t *testing.T) {
	s := newTestSupervisor(t, time.Second)
	res := s.Run(context.Background(), 1, AdapterSecondary, "task", "")
	if res.OK || !res.SpawnFailure {
		t.Errorf("expected spawn failure for unconfigured adapter: %+v", res)
	}
}

func TestTruncateHeadTail(t *testing.T) {
	s := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	got := truncateHeadTail(s, 50)
	if !strings.HasPrefix(got, strings.Repeat("a", 25)) {
		t.Errorf("head not preserved: %q", got[:30])
	}
	if !strings.HasSuffix(got, strings.Repeat("b", 25)) {
		t.Errorf("tail not preserved: %q", got[len(got)-30:])
	}
	if !strings.Contains(got, "characters elided") {
		t.Error("elision marker missing")
	}
	if short := truncateHeadTail("short", 50); short != "short" {
		t.Errorf("short input should pass through: %q", short)
	}
}

func TestShellQuote(t *testing.T) {
	quoted := shellQuote(`rm -rf /; echo 'gotcha'`)
	if !strings.HasPrefix(quoted, "'") || !strings.HasSuffix(quoted, "'") {
		t.Errorf("not quoted: %q", quoted)
	}
	if strings.Contains(quoted, `''gotcha''`) {
		t.Errorf("inner quotes not escaped: %q", quoted)
	}
}
