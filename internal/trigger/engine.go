package trigger

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
)

// SessionRef is the minimal view of a session the duplicate-session guard
// needs.
type SessionRef struct {
	ID      string
	IssueID string
	Status  string
}

// SessionLister is satisfied by the Session Manager's list operation,
// scoped to one project.
type SessionLister interface {
	List(ctx context.Context, projectID string) ([]SessionRef, error)
}

// nonBlockingStatuses are the statuses that do NOT count as an active
// session for the duplicate-session guard (spec §4.D step 4).
var nonBlockingStatuses = map[string]bool{
	"killed": true, "terminated": true, "done": true,
	"cleanup": true, "errored": true, "merged": true,
}

// Decision is what Evaluate returns when a rule matches and no guard
// rejects the spawn.
type Decision struct {
	ProjectID   string
	IssueID     string
	Event       Event
	MatchedRule config.TriggerRule
}

// Evaluate implements spec §4.D's ordering: idempotency, project match,
// rule match, duplicate-session guard. Pure aside from the SessionLister
// call and the Dedup map; never errors on a malformed event — it just
// returns ok=false.
func Evaluate(ctx context.Context, event Event, cfg *config.Config, sessions SessionLister, dedup *Dedup, now time.Time) (*Decision, bool) {
	if event.DeliveryID != "" && dedup != nil {
		if dedup.CheckAndMark(event.DeliveryID, now) {
			return nil, false
		}
	}

	projectID, project, ok := matchProject(cfg, event)
	if !ok {
		return nil, false
	}

	rule, ok := matchRule(project.Triggers, event)
	if !ok {
		return nil, false
	}

	if sessions != nil {
		if blocked := hasActiveSession(ctx, sessions, projectID, event.Issue); blocked {
			return nil, false
		}
	}

	return &Decision{
		ProjectID:   projectID,
		IssueID:     issueIdentifier(event.Issue),
		Event:       event,
		MatchedRule: rule,
	}, true
}

// matchProject finds the first project (in sorted-id order, since the
// config schema's projects map carries no declared order once unmarshalled)
// whose repo matches a GitHub event's repo, or whose tracker workspace id
// appears within a Plane event's repo field.
func matchProject(cfg *config.Config, event Event) (string, config.ProjectConfig, bool) {
	ids := make([]string, 0, len(cfg.Projects))
	for id := range cfg.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := cfg.Projects[id]
		switch event.Provider {
		case "github":
			if p.Repo == event.Repo {
				return id, p, true
			}
		case "plane":
			if p.Tracker.WorkspaceID != "" && strings.Contains(event.Repo, p.Tracker.WorkspaceID) {
				return id, p, true
			}
		}
	}
	return "", config.ProjectConfig{}, false
}

// matchRule returns the first trigger rule whose `on` matches the event
// type and whose optional label/assignee filters equal the event's fields.
func matchRule(rules []config.TriggerRule, event Event) (config.TriggerRule, bool) {
	for _, r := range rules {
		if r.On != string(event.Event) {
			continue
		}
		if r.Label != "" && r.Label != event.Label {
			continue
		}
		if r.Assignee != "" && r.Assignee != event.Assignee {
			continue
		}
		return r, true
	}
	return config.TriggerRule{}, false
}

// hasActiveSession reports whether a non-terminal session already exists
// for this issue in this project (spec I4).
func hasActiveSession(ctx context.Context, sessions SessionLister, projectID string, issue IssueRef) bool {
	list, err := sessions.List(ctx, projectID)
	if err != nil {
		return false
	}
	want := issueIdentifier(issue)
	for _, s := range list {
		if nonBlockingStatuses[s.Status] {
			continue
		}
		if strings.Contains(s.IssueID, want) {
			return true
		}
	}
	return false
}

// IssueIdentifier returns the identifier used to correlate a trigger event
// with a session's persisted issueId field: the issue number if known,
// else the raw issue id. Exported so the webhook receiver's gate-resume
// path can match a comment event against a session without duplicating
// this rule.
func IssueIdentifier(issue IssueRef) string {
	if issue.Number != 0 {
		return strconv.Itoa(issue.Number)
	}
	return issue.ID
}

func issueIdentifier(issue IssueRef) string { return IssueIdentifier(issue) }
