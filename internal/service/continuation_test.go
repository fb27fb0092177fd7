package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/resilience"
)

// manualclock captures scheduled checks so tests fire them explicitly.
type manualClock struct {
	mu  sync.Mutex
	fns []func()
}

func (m *manualClock) afterFunc(_ time.Duration, fn func()) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
	return time.NewTimer(time.Hour)
}

func (m *manualClock) fire(i int) {
	m.mu.Lock()
	fn := m.fns[i]
	m.mu.Unlock()
	fn()
}

func (m *manualClock) fireLast() {
	m.mu.Lock()
	fn := m.fns[len(m.fns)-1]
	m.mu.Unlock()
	fn()
}

func newEnforcerTestEnv() (*ContinuationEnforcer, *fakeBridge, *manualClock) {
	bridge := newFakeBridge()
	bridge.todos = []session.TodoItem{
		{ID: "t1", Content: "write tests", Status: session.TodoCompleted},
		{ID: "t2", Content: "fix bug", Status: session.TodoInProgress},
	}
	clock := &manualClock{}
	e := NewContinuationEnforcer(bridge, resilience.NewBreaker(3, time.Second), nil, 10*time.Second)
	e.afterFunc = clock.afterFunc
	return e, bridge, clock
}

func TestEnforcer_DebounceFiresOnce(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnIdle("s1")
	e.OnIdle("s1")

	clock.fire(0) // replaced check: stale generation, must not act
	clock.fire(1)

	if n := bridge.promptCount(); n != 1 {
		t.Errorf("expected exactly one prompt after debounce, got %d", n)
	}
}

func TestEnforcer_NoPendingTodosNoPrompt(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()
	bridge.todos = []session.TodoItem{
		{ID: "t1", Status: session.TodoCompleted},
		{ID: "t2", Status: session.TodoCancelled},
	}

	e.OnIdle("s1")
	clock.fireLast()

	if n := bridge.promptCount(); n != 0 {
		t.Errorf("expected no prompt for a finished list, got %d", n)
	}
}

func TestEnforcer_InterruptSuppressesExactlyOneCheck(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnError("s1", "operation aborted by user")

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 0 {
		t.Fatalf("check after an interrupt must be skipped, got %d prompts", n)
	}

	// The flag was consumed; the next idle is eligible again.
	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 1 {
		t.Errorf("second idle after consumed interrupt: got %d prompts, want 1", n)
	}
}

func TestEnforcer_GenericErrorAlsoSuppressesOnce(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnError("s1", "disk full")
	e.OnIdle("s1")
	clock.fireLast()

	if n := bridge.promptCount(); n != 0 {
		t.Errorf("check after an error must be skipped, got %d prompts", n)
	}
}

func TestEnforcer_ErrorCancelsPendingCheck(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnIdle("s1")
	e.OnError("s1", "cancelled")
	clock.fireLast()

	if n := bridge.promptCount(); n != 0 {
		t.Errorf("cancelled check still fired, got %d prompts", n)
	}
}

func TestEnforcer_UserMessageCancelsPendingCheck(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnIdle("s1")
	e.OnMessage("s1", session.RoleUser)
	clock.fireLast()

	if n := bridge.promptCount(); n != 0 {
		t.Errorf("check must be dropped while the user is steering, got %d prompts", n)
	}
}

func TestEnforcer_RemindedBlocksUntilAssistantTurn(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 1 {
		t.Fatalf("first check: got %d prompts, want 1", n)
	}

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 1 {
		t.Fatalf("reminded session got a second prompt: %d", n)
	}

	// A new assistant turn retires the reminder.
	e.OnMessage("s1", session.RoleAssistant)
	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 2 {
		t.Errorf("after an assistant turn: got %d prompts, want 2", n)
	}
}

func TestEnforcer_SendFailureUnmarksReminded(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()
	bridge.mu.Lock()
	bridge.promptErr = errors.New("runtime unreachable")
	bridge.mu.Unlock()

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 0 {
		t.Fatalf("failed send recorded a prompt: %d", n)
	}

	bridge.mu.Lock()
	bridge.promptErr = nil
	bridge.mu.Unlock()

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 1 {
		t.Errorf("retry after soft failure: got %d prompts, want 1", n)
	}
}

func TestEnforcer_TodoFetchFailureIsSoft(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()
	bridge.mu.Lock()
	bridge.todosErr = errors.New("request timeout")
	bridge.mu.Unlock()

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 0 {
		t.Fatalf("prompt sent despite failed todo fetch: %d", n)
	}

	bridge.mu.Lock()
	bridge.todosErr = nil
	bridge.mu.Unlock()

	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 1 {
		t.Errorf("session must stay eligible after a soft fetch failure, got %d prompts", n)
	}
}

func TestEnforcer_DeletePurgesEverything(t *testing.T) {
	e, bridge, clock := newEnforcerTestEnv()

	e.OnIdle("s1")
	e.OnError("s1", "aborted")
	e.OnDeleted("s1")

	clock.fireLast()
	if n := bridge.promptCount(); n != 0 {
		t.Fatalf("deleted session still prompted: %d", n)
	}

	// A recreated session with the same id starts clean: no leftover
	// interrupt flag to consume.
	e.OnIdle("s1")
	clock.fireLast()
	if n := bridge.promptCount(); n != 1 {
		t.Errorf("stale bookkeeping survived deletion: got %d prompts, want 1", n)
	}
}

func TestEnforcer_InterruptClassification(t *testing.T) {
	cases := []struct {
		msg       string
		interrupt bool
	}{
		{"operation aborted", true},
		{"context canceled", true},
		{"Interrupted by signal", true},
		{"disk full", false},
		{"connection refused", false},
	}
	for _, tc := range cases {
		if got := isInterruption(tc.msg); got != tc.interrupt {
			t.Errorf("isInterruption(%q) = %v, want %v", tc.msg, got, tc.interrupt)
		}
	}
}
