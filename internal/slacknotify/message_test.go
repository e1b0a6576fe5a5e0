package slacknotify

import (
	"strings"
	"testing"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBlocksUrgent(t *testing.T) {
	event := contracts.NotificationEvent{
		SessionID: "app-42",
		Priority:  "urgent",
		Summary:   "session app-42 stuck for 3 attempts",
		Detail:    "agent has not responded to send-to-agent reactions",
	}
	blocks := buildBlocks(event, "https://dash.example.com")

	require.Len(t, blocks, 3)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":rotating_light:")
	assert.Contains(t, header.Text.Text, "Urgent")
	assert.Contains(t, header.Text.Text, "stuck for 3 attempts")

	detail := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "send-to-agent reactions")

	action := blocks[2].(*goslack.ActionBlock)
	btn := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Contains(t, btn.URL, "https://dash.example.com/sessions/app-42")
}

func TestBuildBlocksNoDetailNoDashboard(t *testing.T) {
	event := contracts.NotificationEvent{
		SessionID: "app-1",
		Priority:  "info",
		Summary:   "session app-1 completed",
	}
	blocks := buildBlocks(event, "")

	require.Len(t, blocks, 1)
	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":information_source:")
	assert.Contains(t, header.Text.Text, "Info")
}

func TestBuildBlocksUnknownPriorityFallsBack(t *testing.T) {
	event := contracts.NotificationEvent{SessionID: "app-2", Priority: "bogus", Summary: "weird"}
	blocks := buildBlocks(event, "")
	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":bell:")
	assert.Contains(t, header.Text.Text, "[bogus]")
}

func TestTruncate(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncate("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncate(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncate(text)
		assert.Less(t, len(result), len(text)+len("\n\n_... (truncated)_"))
		assert.Contains(t, result, "truncated")
	})
}
