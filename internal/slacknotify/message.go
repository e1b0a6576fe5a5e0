package slacknotify

import (
	"fmt"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var priorityEmoji = map[string]string{
	"urgent":  ":rotating_light:",
	"action":  ":large_orange_diamond:",
	"warning": ":warning:",
	"info":    ":information_source:",
}

var priorityLabel = map[string]string{
	"urgent":  "Urgent",
	"action":  "Action needed",
	"warning": "Warning",
	"info":    "Info",
}

func sessionURL(sessionID, dashboardURL string) string {
	if dashboardURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/sessions/%s", dashboardURL, sessionID)
}

// buildBlocks renders event as Slack Block Kit blocks: a priority-tagged
// summary line, the detail body (truncated to Slack's block text limit),
// and an optional dashboard link button.
func buildBlocks(event contracts.NotificationEvent, dashboardURL string) []goslack.Block {
	emoji := priorityEmoji[event.Priority]
	if emoji == "" {
		emoji = ":bell:"
	}
	label := priorityLabel[event.Priority]
	if label == "" {
		label = event.Priority
	}

	headerText := fmt.Sprintf("%s *[%s]* %s", emoji, label, event.Summary)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))

	if event.Detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(event.Detail), false, false),
			nil, nil,
		))
	}

	if url := sessionURL(event.SessionID, dashboardURL); url != "" {
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Session", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
