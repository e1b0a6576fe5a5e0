package reaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/fakeplugins"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/notify"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	calls []string
	err   error
}

func (f *fakeSender) Send(ctx context.Context, sessionID, message string) error {
	f.calls = append(f.calls, message)
	return f.err
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T) (*Engine, *fakeSender, *fakeplugins.Notifier, *manualClock) {
	t.Helper()
	reg := plugin.NewRegistry()
	n := fakeplugins.NewNotifier()
	reg.Register(plugin.SlotNotifier, "slack", n)
	router := notify.NewRouter(reg, config.NotificationRouting{Urgent: []string{"slack"}, Warning: []string{"slack"}, Info: []string{"slack"}, Action: []string{"slack"}})
	sender := &fakeSender{}
	clock := &manualClock{now: time.Now()}
	return NewEngine(sender, router, clock), sender, n, clock
}

func TestTriggerRetriesThenEscalates(t *testing.T) {
	engine, sender, notifier, _ := newTestEngine(t)
	cfg := config.ReactionConfig{Auto: true, Action: config.ActionSendToAgent, Message: "fix CI", Retries: 2, Priority: "warning"}

	o1 := engine.Trigger(context.Background(), "app-1", "app", "ci-failed", cfg)
	o2 := engine.Trigger(context.Background(), "app-1", "app", "ci-failed", cfg)
	o3 := engine.Trigger(context.Background(), "app-1", "app", "ci-failed", cfg)

	assert.True(t, o1.ActionExecuted)
	assert.True(t, o2.ActionExecuted)
	assert.True(t, o3.Escalated)
	assert.Len(t, sender.calls, 2)
	assert.Len(t, notifier.All(), 1)
	assert.Equal(t, "urgent", notifier.All()[0].Priority)
}

func TestTriggerEscalatesOnElapsedDuration(t *testing.T) {
	engine, _, notifier, clock := newTestEngine(t)
	cfg := config.ReactionConfig{Auto: true, Action: config.ActionNotify, EscalateAfter: "30m"}

	engine.Trigger(context.Background(), "app-1", "app", "agent-stuck", cfg)
	clock.now = clock.now.Add(31 * time.Minute)
	outcome := engine.Trigger(context.Background(), "app-1", "app", "agent-stuck", cfg)

	assert.True(t, outcome.Escalated)
	assert.Equal(t, "urgent", notifier.All()[len(notifier.All())-1].Priority)
}

func TestSendFailureDoesNotEscalateImmediately(t *testing.T) {
	engine, sender, _, _ := newTestEngine(t)
	sender.err = errors.New("paste failed")
	cfg := config.ReactionConfig{Auto: true, Action: config.ActionSendToAgent, Message: "x", Retries: 5}

	outcome := engine.Trigger(context.Background(), "app-1", "app", "k", cfg)
	assert.False(t, outcome.Escalated)
	require.Error(t, outcome.Err)
}

func TestAutoFalseSuppressesSendButStillNotifies(t *testing.T) {
	engine, sender, notifier, _ := newTestEngine(t)
	cfg := config.ReactionConfig{Auto: false, Action: config.ActionSendToAgent, Message: "x", Priority: "warning"}

	outcome := engine.Trigger(context.Background(), "app-1", "app", "k", cfg)
	assert.False(t, outcome.ActionExecuted)
	assert.Empty(t, sender.calls)
	assert.Len(t, notifier.All(), 1)
}

func TestClearResetsAttemptCount(t *testing.T) {
	engine, sender, _, _ := newTestEngine(t)
	cfg := config.ReactionConfig{Auto: true, Action: config.ActionSendToAgent, Message: "x", Retries: 1}

	engine.Trigger(context.Background(), "app-1", "app", "k", cfg)
	engine.Clear("app-1", "k")
	outcome := engine.Trigger(context.Background(), "app-1", "app", "k", cfg)

	assert.False(t, outcome.Escalated)
	assert.Len(t, sender.calls, 2)
}

func TestPruneSessionRemovesAllItsTrackers(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	cfg := config.ReactionConfig{Auto: true, Action: config.ActionNotify}
	engine.Trigger(context.Background(), "app-1", "app", "a", cfg)
	engine.Trigger(context.Background(), "app-1", "app", "b", cfg)
	engine.PruneSession("app-1")

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.trackers)
}
