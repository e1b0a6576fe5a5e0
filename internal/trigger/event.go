// Package trigger implements the Trigger Engine: a pure function that
// normalizes and matches tracker events against project rules, with
// delivery-id idempotency and a duplicate-session guard.
package trigger

import "time"

// EventType enumerates the normalized tracker event kinds.
type EventType string

const (
	EventIssueOpened   EventType = "issue.opened"
	EventIssueLabeled  EventType = "issue.labeled"
	EventIssueAssigned EventType = "issue.assigned"
	EventIssueReopened EventType = "issue.reopened"
	EventIssueComment  EventType = "issue.comment"
)

// IssueRef is the normalized issue payload carried on a TriggerEvent.
type IssueRef struct {
	ID        string
	Number    int
	Title     string
	State     string
	Labels    []string
	Assignees []string
	URL       string
}

// Event is the normalized Trigger Event (spec §3).
type Event struct {
	Provider    string
	DeliveryID  string
	Event       EventType
	Action      string
	Issue       IssueRef
	Repo        string
	Label       string
	Assignee    string
	Sender      string
	Timestamp   time.Time
	CommentBody string
	Raw         []byte
}
