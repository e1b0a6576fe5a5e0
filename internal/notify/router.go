// Package notify fans a notification out to every notifier plugin
// registered for a given priority band, per the notificationRouting
// config block (spec §6).
package notify

import (
	"context"
	"log/slog"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
)

// Router resolves notifier plugins by name and delivers events to every
// notifier configured for an event's priority.
type Router struct {
	registry *plugin.Registry
	routing  config.NotificationRouting
}

// NewRouter returns a Router using routing to select notifiers per
// priority band.
func NewRouter(registry *plugin.Registry, routing config.NotificationRouting) *Router {
	return &Router{registry: registry, routing: routing}
}

// Notify delivers event to every notifier configured for event.Priority.
// A delivery failure to one notifier is logged and does not stop delivery
// to the others (notification failures never propagate into the poll loop
// or reaction engine, per spec §7's propagation policy).
func (r *Router) Notify(ctx context.Context, event contracts.NotificationEvent) {
	for _, name := range r.routing.NotifiersFor(event.Priority) {
		notifier, err := plugin.NotifierPlugin(r.registry, name)
		if err != nil {
			slog.Warn("notifier not registered", "name", name, "priority", event.Priority)
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			slog.Warn("notify failed", "notifier", name, "session", event.SessionID, "error", err)
		}
	}
}
