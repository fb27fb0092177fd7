package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cellbox-dev/cellbox/internal/adapter/otel"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/agentbridge"
	"github.com/cellbox-dev/cellbox/internal/resilience"
)

const todoFetchTimeout = 10 * time.Second

// scheduledCheck is one pending continuation check. The generation lets
// a fired timer detect that it was cancelled and replaced while waiting
// for the enforcer mutex.
type scheduledCheck struct {
	timer      *time.Timer
	generation uint64
}

// ContinuationEnforcer nags idle agent sessions that still have
// incomplete declared tasks. It observes session lifecycle events from
// the reconciler and keeps small per-session bookkeeping sets; it owns
// no domain state.
type ContinuationEnforcer struct {
	bridge  agentbridge.Bridge
	breaker *resilience.Breaker
	metrics *otel.Metrics
	delay   time.Duration

	mu          sync.Mutex
	generation  uint64
	reminded    map[string]struct{}
	interrupted map[string]struct{}
	errored     map[string]struct{}
	checks      map[string]*scheduledCheck

	// afterFunc is swapped in tests to fire checks synchronously.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// NewContinuationEnforcer creates the enforcer. delay is the idle
// debounce interval before a check fires.
func NewContinuationEnforcer(bridge agentbridge.Bridge, breaker *resilience.Breaker, metrics *otel.Metrics, delay time.Duration) *ContinuationEnforcer {
	return &ContinuationEnforcer{
		bridge:      bridge,
		breaker:     breaker,
		metrics:     metrics,
		delay:       delay,
		reminded:    make(map[string]struct{}),
		interrupted: make(map[string]struct{}),
		errored:     make(map[string]struct{}),
		checks:      make(map[string]*scheduledCheck),
		afterFunc:   time.AfterFunc,
	}
}

// OnIdle schedules a continuation check after the debounce delay.
// A check already pending for the session is cancelled and replaced,
// so a burst of idle events yields one check.
func (e *ContinuationEnforcer) OnIdle(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelCheckLocked(sessionID)
	e.generation++
	gen := e.generation
	e.checks[sessionID] = &scheduledCheck{
		generation: gen,
		timer: e.afterFunc(e.delay, func() {
			e.runCheck(sessionID, gen)
		}),
	}
}

// OnError classifies the failure and preempts any pending check. An
// interruption (user abort) suppresses exactly one future check;
// so does a generic error.
func (e *ContinuationEnforcer) OnError(sessionID, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if isInterruption(errMsg) {
		e.interrupted[sessionID] = struct{}{}
	} else {
		e.errored[sessionID] = struct{}{}
	}
	e.cancelCheckLocked(sessionID)
}

// OnMessage reacts to conversation activity. A user message means the
// human is steering, so any pending check is dropped. An assistant
// message retires a past reminder, making the session eligible again
// on its next idle.
func (e *ContinuationEnforcer) OnMessage(sessionID string, role session.Role) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch role {
	case session.RoleUser:
		e.cancelCheckLocked(sessionID)
	case session.RoleAssistant:
		delete(e.reminded, sessionID)
	}
}

// OnDeleted purges every trace of the session.
func (e *ContinuationEnforcer) OnDeleted(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelCheckLocked(sessionID)
	delete(e.reminded, sessionID)
	delete(e.interrupted, sessionID)
	delete(e.errored, sessionID)
}

// cancelCheckLocked must be called with e.mu held.
func (e *ContinuationEnforcer) cancelCheckLocked(sessionID string) {
	if c, ok := e.checks[sessionID]; ok {
		c.timer.Stop()
		delete(e.checks, sessionID)
	}
}

// runCheck fires when the debounce timer elapses. It validates its
// generation first: a timer that lost the race to a cancel exits
// without acting.
func (e *ContinuationEnforcer) runCheck(sessionID string, gen uint64) {
	e.mu.Lock()
	c, ok := e.checks[sessionID]
	if !ok || c.generation != gen {
		e.mu.Unlock()
		return
	}
	delete(e.checks, sessionID)

	if _, hit := e.interrupted[sessionID]; hit {
		delete(e.interrupted, sessionID)
		e.mu.Unlock()
		slog.Debug("continuation check skipped after interrupt", "session", sessionID)
		return
	}
	if _, hit := e.errored[sessionID]; hit {
		delete(e.errored, sessionID)
		e.mu.Unlock()
		slog.Debug("continuation check skipped after error", "session", sessionID)
		return
	}
	if _, hit := e.reminded[sessionID]; hit {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), todoFetchTimeout)
	defer cancel()

	todos, err := e.bridge.Todos(ctx, sessionID)
	if err != nil {
		slog.Warn("todo fetch failed", "session", sessionID, "error", err)
		return
	}

	done, remaining := 0, 0
	for _, t := range todos {
		if t.Done() {
			done++
		} else {
			remaining++
		}
	}
	if remaining == 0 {
		return
	}

	// Mark before sending so a concurrent idle cannot double-schedule a
	// second prompt while this one is in flight. An error or interrupt
	// that arrived during the fetch aborts the send.
	e.mu.Lock()
	_, interrupted := e.interrupted[sessionID]
	_, errored := e.errored[sessionID]
	if interrupted || errored {
		e.mu.Unlock()
		return
	}
	e.reminded[sessionID] = struct{}{}
	e.mu.Unlock()

	prompt := fmt.Sprintf(
		"Your todo list has %d remaining item(s) (%d completed). Continue working through the remaining items, or update the list if they no longer apply.",
		remaining, done)

	err = e.breaker.Execute(func() error {
		return e.bridge.SendPrompt(ctx, sessionID, prompt)
	})
	if err != nil {
		e.mu.Lock()
		delete(e.reminded, sessionID)
		e.mu.Unlock()
		slog.Warn("continuation prompt send failed", "session", sessionID, "error", err)
		return
	}

	if e.metrics != nil {
		e.metrics.ContinuationPrompts.Add(ctx, 1)
	}
	slog.Info("continuation prompt sent", "session", sessionID, "remaining", remaining)
}

// isInterruption reports whether the error text describes a user
// abort rather than a real failure.
func isInterruption(errMsg string) bool {
	s := strings.ToLower(errMsg)
	return strings.Contains(s, "abort") ||
		strings.Contains(s, "cancel") ||
		strings.Contains(s, "interrupt")
}
