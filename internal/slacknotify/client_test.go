package slacknotify

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeSessionText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase", input: "Session APP-42 failed", expected: "session app-42 failed"},
		{name: "collapse whitespace", input: "session   app-42\t\tfailed\n\nagain", expected: "session app-42 failed again"},
		{name: "trim", input: "  hello  ", expected: "hello"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeSessionText(tt.input))
		})
	}
}

func TestSessionSearchText(t *testing.T) {
	tests := []struct {
		name     string
		msg      goslack.Message
		expected string
	}{
		{
			name:     "text only",
			msg:      goslack.Message{Msg: goslack.Msg{Text: "hello world"}},
			expected: "hello world",
		},
		{
			name: "text with attachment text",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text:        "alert",
					Attachments: []goslack.Attachment{{Text: "session app-1 stuck"}},
				},
			},
			expected: "alert session app-1 stuck",
		},
		{
			name:     "empty message",
			msg:      goslack.Message{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sessionSearchText(tt.msg))
		})
	}
}
