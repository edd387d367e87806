package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	g := NewGate()
	_, release, ok, _ := g.Acquire(context.Background(), 1)
	if !ok {
		t.Fatal("first acquire rejected")
	}
	if g.State(1) != TokenActive {
		t.Errorf("expected active token, got %v", g.State(1))
	}
	release()
	if g.State(1) != TokenIdle {
		t.Errorf("expected idle after release, got %v", g.State(1))
	}
	if _, release2, ok, _ := g.Acquire(context.Background(), 1); !ok {
		t.Error("acquire after release rejected")
	} else {
		release2()
	}
}

func TestAtMostOneActivePerSession(t *testing.T) {
	g := NewGate()
	const attempts = 50

	var wins atomic.Int32
	var releases []func()
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, release, ok, _ := g.Acquire(context.Background(), 1); ok {
				wins.Add(1)
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
	for _, r := range releases {
		r()
	}
}

func TestBusyWindowNotifiesOnce(t *testing.T) {
	g := NewGate()
	_, release, ok, _ := g.Acquire(context.Background(), 1)
	if !ok {
		t.Fatal("acquire failed")
	}

	_, _, ok1, notify1 := g.Acquire(context.Background(), 1)
	_, _, ok2, notify2 := g.Acquire(context.Background(), 1)
	_, _, ok3, notify3 := g.Acquire(context.Background(), 1)
	if ok1 || ok2 || ok3 {
		t.Fatal("busy session admitted a second run")
	}
	if !notify1 {
		t.Error("first rejection should be surfaced")
	}
	if notify2 || notify3 {
		t.Error("later rejections in the same window must be silent")
	}

	// A new busy window starts a new notification budget.
	release()
	_, release, _, _ = g.Acquire(context.Background(), 1)
	_, _, _, notify := g.Acquire(context.Background(), 1)
	if !notify {
		t.Error("new busy window should notify again")
	}
	release()
}

func TestCancelInterruptsRunContext(t *testing.T) {
	g := NewGate()
	runCtx, release, ok, _ := g.Acquire(context.Background(), 1)
	if !ok {
		t.Fatal("acquire failed")
	}
	defer release()

	if !g.Cancel(1) {
		t.Fatal("cancel of active run reported nothing to cancel")
	}
	select {
	case <-runCtx.Done():
	default:
		t.Error("run context not cancelled")
	}
	if g.State(1) != TokenCancelling {
		t.Errorf("expected cancelling state, got %v", g.State(1))
	}
}

func TestCancelIdleSession(t *testing.T) {
	g := NewGate()
	if g.Cancel(42) {
		t.Error("cancel of idle session should report false")
	}
}

func TestSessionsIndependent(t *testing.T) {
	g := NewGate()
	_, r1, ok1, _ := g.Acquire(context.Background(), 1)
	_, r2, ok2, _ := g.Acquire(context.Background(), 2)
	if !ok1 || !ok2 {
		t.Error("independent sessions should both acquire")
	}
	r1()
	r2()
}
