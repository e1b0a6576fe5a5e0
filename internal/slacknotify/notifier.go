package slacknotify

import (
	"context"
	"log/slog"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
)

// Notifier satisfies contracts.Notifier by posting to a Slack channel,
// threading follow-up notifications for a session under its first
// message. Grounded on the reference implementation's pkg/slack.Service,
// generalized from session-lifecycle-status messages to priority-banded
// NotificationEvents.
type Notifier struct {
	client       *client
	dashboardURL string
	logger       *slog.Logger
}

// NewNotifier returns a Slack-backed Notifier posting to channelID using
// token, linking session buttons to dashboardURL (may be empty).
func NewNotifier(token, channelID, dashboardURL string) *Notifier {
	return &Notifier{
		client:       newClient(token, channelID),
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slacknotify"),
	}
}

// NewNotifierWithAPIURL is NewNotifier with the Slack API base overridden,
// for tests driving it against an httptest.Server.
func NewNotifierWithAPIURL(token, channelID, dashboardURL, apiURL string) *Notifier {
	return &Notifier{
		client:       newClientWithAPIURL(token, channelID, apiURL),
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slacknotify"),
	}
}

// Notify posts event to the configured Slack channel. Errors are
// returned to the caller (the Notifier Router logs and continues on to
// the next notifier rather than propagating further, per spec §7).
func (n *Notifier) Notify(ctx context.Context, event contracts.NotificationEvent) error {
	threadTS, err := n.client.findThreadForSession(ctx, event.SessionID)
	if err != nil {
		n.logger.Warn("failed to look up existing Slack thread", "session_id", event.SessionID, "error", err)
	}

	blocks := buildBlocks(event, n.dashboardURL)
	return n.client.postMessage(ctx, blocks, threadTS, 10*time.Second)
}
