// Package slacknotify is a contracts.Notifier implementation backed by
// the Slack Web API, adapted from the reference implementation's
// session-status-shaped pkg/slack into the priority-banded
// contracts.NotificationEvent shape the Notifier Router deals in.
package slacknotify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

var threadSearchWhitespaceRe = regexp.MustCompile(`\s+`)

// normalizeSessionText folds a Slack message's text down to a form safe
// for substring-matching a session ID: lowercased, runs of whitespace
// collapsed to one space. Slack renders session IDs inside code spans
// and link labels inconsistently, so the comparison has to be forgiving
// about surrounding punctuation and spacing rather than exact.
func normalizeSessionText(s string) string {
	s = strings.ToLower(s)
	s = threadSearchWhitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// sessionSearchText flattens a message's visible text and any attachment
// text/fallback into one string to search for a session ID mention.
func sessionSearchText(msg goslack.Message) string {
	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}

// client is a thin wrapper around the slack-go SDK, unchanged in shape
// from the reference implementation's pkg/slack/client.go.
type client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

func newClient(token, channelID string) *client {
	return &client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slacknotify"),
	}
}

// newClientWithAPIURL points the client at a custom API base, for tests
// driving it against an httptest.Server.
func newClientWithAPIURL(token, channelID, apiURL string) *client {
	return &client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "slacknotify"),
	}
}

func (c *client) postMessage(ctx context.Context, blocks []goslack.Block, threadTS string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

// findThreadForSession searches recent channel history for a message that
// mentions sessionID, so a follow-up notification for the same session
// threads under the first one instead of posting a fresh top-level
// message every time. Pages through up to 1000 messages from the last 24
// hours, matching the reference fingerprint search's bound.
func (c *client) findThreadForSession(ctx context.Context, sessionID string) (string, error) {
	oldest := fmt.Sprintf("%d", time.Now().Add(-24*time.Hour).Unix())
	needle := normalizeSessionText(sessionID)

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    oldest,
		Limit:     200,
	}

	const maxPages = 5
	for page := 0; page < maxPages; page++ {
		history, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("conversations.history failed: %w", err)
		}

		for _, msg := range history.Messages {
			if strings.Contains(normalizeSessionText(sessionSearchText(msg)), needle) {
				return msg.Timestamp, nil
			}
		}

		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}

	return "", nil
}
