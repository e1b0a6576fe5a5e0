// Package reaction implements the Reaction Engine: per-(session, key)
// attempt counters and first-triggered timestamps, escalation math, and
// the three reaction actions (send-to-agent, notify, auto-merge).
//
// Grounded on the reference implementation's nil-safe, fail-open
// notification pattern (pkg/slack/service.go: every I/O path logs and
// never panics) for the "notify never blocks the poll loop" invariant,
// and on cenkalti/backoff/v4's Clock interface for an injectable time
// source so escalation-duration tests don't depend on wall-clock sleeps.
package reaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/errs"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/notify"
)

// Sender delivers a message to a session's agent. Satisfied by
// *session.Manager's Send method.
type Sender interface {
	Send(ctx context.Context, sessionID, message string) error
}

// tracker is the per-(sessionID, reactionKey) state (spec §3).
type tracker struct {
	attempts       int
	firstTriggered time.Time
}

// Outcome reports what Trigger actually did, for logging and tests.
type Outcome struct {
	Escalated      bool
	ActionExecuted bool
	Err            error
}

// Engine is the Reaction Engine.
type Engine struct {
	mu       sync.Mutex
	trackers map[string]*tracker

	sender Sender
	router *notify.Router
	clock  backoff.Clock
}

// NewEngine returns a Reaction Engine. clock defaults to
// backoff.SystemClock when nil.
func NewEngine(sender Sender, router *notify.Router, clock backoff.Clock) *Engine {
	if clock == nil {
		clock = backoff.SystemClock
	}
	return &Engine{trackers: make(map[string]*tracker), sender: sender, router: router, clock: clock}
}

func trackerKey(sessionID, reactionKey string) string {
	return sessionID + "|" + reactionKey
}

// Trigger runs one invocation of the reaction keyed by reactionKey against
// sessionID, per spec §4.H.
func (e *Engine) Trigger(ctx context.Context, sessionID, projectID, reactionKey string, cfg config.ReactionConfig) Outcome {
	attempts, firstTriggered := e.advance(sessionID, reactionKey)
	now := e.clock.Now()

	if e.shouldEscalate(cfg, attempts, firstTriggered, now) {
		// Escalation always notifies at urgent, regardless of the
		// reaction's configured routine-action priority (spec §8 seed
		// scenario #4: a warning-priority reaction still escalates urgent).
		e.router.Notify(ctx, contracts.NotificationEvent{
			SessionID: sessionID, ProjectID: projectID, Priority: "urgent",
			Summary: fmt.Sprintf("reaction %q escalated after %d attempts", reactionKey, attempts),
		})
		return Outcome{Escalated: true}
	}

	return e.execute(ctx, sessionID, projectID, reactionKey, cfg)
}

func (e *Engine) advance(sessionID, reactionKey string) (attempts int, firstTriggered time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := trackerKey(sessionID, reactionKey)
	t, ok := e.trackers[key]
	if !ok {
		t = &tracker{firstTriggered: e.clock.Now()}
		e.trackers[key] = t
	}
	t.attempts++
	return t.attempts, t.firstTriggered
}

func (e *Engine) shouldEscalate(cfg config.ReactionConfig, attempts int, firstTriggered, now time.Time) bool {
	if cfg.Retries > 0 && attempts > cfg.Retries {
		return true
	}
	if cfg.EscalateAfter == "" {
		return false
	}
	count, dur, err := config.ParseEscalateAfter(cfg.EscalateAfter)
	if err != nil {
		return false
	}
	if dur > 0 && now.Sub(firstTriggered) > dur {
		return true
	}
	if count > 0 && attempts > count {
		return true
	}
	return false
}

func (e *Engine) execute(ctx context.Context, sessionID, projectID, reactionKey string, cfg config.ReactionConfig) Outcome {
	switch cfg.Action {
	case config.ActionSendToAgent:
		if !cfg.Auto {
			// auto:false suppresses the automated agent action but still
			// permits a notification (spec §9 open question, resolved).
			e.notifyOnly(ctx, sessionID, projectID, reactionKey, cfg)
			return Outcome{}
		}
		if err := e.sender.Send(ctx, sessionID, cfg.Message); err != nil {
			// Do not escalate immediately: the attempt counter already
			// advanced, the next tick retries (spec §4.H step 5).
			return Outcome{Err: fmt.Errorf("%w: %v", errs.ErrReaction, err)}
		}
		return Outcome{ActionExecuted: true}

	case config.ActionNotify:
		e.notifyOnly(ctx, sessionID, projectID, reactionKey, cfg)
		return Outcome{ActionExecuted: true}

	case config.ActionAutoMerge:
		if !cfg.Auto {
			e.notifyOnly(ctx, sessionID, projectID, reactionKey, cfg)
			return Outcome{}
		}
		// Actual merge execution is delegated to the SCM plugin as a
		// future extension (spec §4.H step 5); Core only notifies.
		priority := cfg.Priority
		if priority == "" {
			priority = "action"
		}
		e.router.Notify(ctx, contracts.NotificationEvent{
			SessionID: sessionID, ProjectID: projectID, Priority: priority,
			Summary: fmt.Sprintf("reaction %q triggered: auto-merge", reactionKey),
		})
		return Outcome{ActionExecuted: true}

	default:
		return Outcome{}
	}
}

func (e *Engine) notifyOnly(ctx context.Context, sessionID, projectID, reactionKey string, cfg config.ReactionConfig) {
	priority := cfg.Priority
	if priority == "" {
		priority = "info"
	}
	e.router.Notify(ctx, contracts.NotificationEvent{
		SessionID: sessionID, ProjectID: projectID, Priority: priority,
		Summary: fmt.Sprintf("reaction %q triggered", reactionKey),
	})
}

// Clear removes the tracker entry for (sessionID, reactionKey), so the
// next trigger starts a fresh attempt count (spec §4.G step 3: "clear the
// reaction tracker entry keyed on the OLD status's reaction").
func (e *Engine) Clear(sessionID, reactionKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.trackers, trackerKey(sessionID, reactionKey))
}

// PruneSession removes every tracker entry for sessionID, called when the
// session disappears from the session list.
func (e *Engine) PruneSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := sessionID + "|"
	for k := range e.trackers {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.trackers, k)
		}
	}
}
