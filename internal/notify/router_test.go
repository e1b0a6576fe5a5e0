package notify

import (
	"context"
	"testing"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/fakeplugins"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyFansOutToConfiguredNotifiers(t *testing.T) {
	reg := plugin.NewRegistry()
	slack := fakeplugins.NewNotifier()
	email := fakeplugins.NewNotifier()
	reg.Register(plugin.SlotNotifier, "slack", slack)
	reg.Register(plugin.SlotNotifier, "email", email)

	router := NewRouter(reg, config.NotificationRouting{Urgent: []string{"slack", "email"}, Info: []string{}})
	router.Notify(context.Background(), contracts.NotificationEvent{Priority: "urgent", Summary: "x"})

	assert.Len(t, slack.All(), 1)
	assert.Len(t, email.All(), 1)
}

func TestNotifySkipsUnregisteredNotifierWithoutPanicking(t *testing.T) {
	reg := plugin.NewRegistry()
	router := NewRouter(reg, config.NotificationRouting{Info: []string{"missing"}})
	require.NotPanics(t, func() {
		router.Notify(context.Background(), contracts.NotificationEvent{Priority: "info"})
	})
}
