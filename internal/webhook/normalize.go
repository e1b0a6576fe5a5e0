package webhook

import (
	"encoding/json"
	"strconv"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/trigger"
)

// normalize turns a verified, valid-JSON webhook body into a trigger.Event.
// The second return value is false when the delivery is a recognized
// payload shape but not one of the event kinds spec §4.E step 2 lists
// (e.g. a GitHub "issues" action other than labeled/assigned/opened/
// reopened) — the caller treats that as a no-op 200, not an error.
func normalize(provider, eventHeader string, body []byte) (trigger.Event, bool) {
	if provider == "github" {
		return normalizeGitHub(eventHeader, body)
	}
	return normalizePlane(body)
}

type githubActor struct {
	Login string `json:"login"`
}

type githubLabel struct {
	Name string `json:"name"`
}

type githubIssue struct {
	ID        int64         `json:"id"`
	Number    int           `json:"number"`
	Title     string        `json:"title"`
	State     string        `json:"state"`
	HTMLURL   string        `json:"html_url"`
	Labels    []githubLabel `json:"labels"`
	Assignees []githubActor `json:"assignees"`
}

type githubPayload struct {
	Action   string      `json:"action"`
	Issue    githubIssue `json:"issue"`
	Label    githubLabel `json:"label"`
	Assignee githubActor `json:"assignee"`
	Comment  struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender githubActor `json:"sender"`
}

// githubIssueActions are the "issues" webhook actions the Trigger Engine
// cares about (spec §4.E step 2).
var githubIssueActions = map[string]trigger.EventType{
	"labeled":  trigger.EventIssueLabeled,
	"assigned": trigger.EventIssueAssigned,
	"opened":   trigger.EventIssueOpened,
	"reopened": trigger.EventIssueReopened,
}

func normalizeGitHub(eventHeader string, body []byte) (trigger.Event, bool) {
	var payload githubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return trigger.Event{}, false
	}

	issue := trigger.IssueRef{
		ID:     strconv.Itoa(payload.Issue.Number),
		Number: payload.Issue.Number,
		Title:  payload.Issue.Title,
		State:  payload.Issue.State,
		URL:    payload.Issue.HTMLURL,
	}
	for _, l := range payload.Issue.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	for _, a := range payload.Issue.Assignees {
		issue.Assignees = append(issue.Assignees, a.Login)
	}

	base := trigger.Event{
		Provider:    "github",
		Action:      payload.Action,
		Issue:       issue,
		Repo:        payload.Repository.FullName,
		Label:       payload.Label.Name,
		Assignee:    payload.Assignee.Login,
		Sender:      payload.Sender.Login,
		CommentBody: payload.Comment.Body,
		Raw:         body,
	}

	switch eventHeader {
	case "issues":
		kind, ok := githubIssueActions[payload.Action]
		if !ok {
			return trigger.Event{}, false
		}
		base.Event = kind
		return base, true
	case "issue_comment":
		if payload.Action != "created" {
			return trigger.Event{}, false
		}
		base.Event = trigger.EventIssueComment
		return base, true
	default:
		return trigger.Event{}, false
	}
}

type planeLabelDelta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type planeAssigneeDelta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type planeStateDelta struct {
	New string `json:"new"`
	Old string `json:"old"`
}

type planePayload struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Data   struct {
		ID         string   `json:"id"`
		SequenceID int      `json:"sequence_id"`
		Name       string   `json:"name"`
		Labels     []string `json:"labels"`
		Assignees  []string `json:"assignees"`
		State      struct {
			Name  string `json:"name"`
			Group string `json:"group"`
		} `json:"state"`
	} `json:"data"`
	Updates struct {
		Labels    *planeLabelDelta    `json:"labels,omitempty"`
		Assignees *planeAssigneeDelta `json:"assignees,omitempty"`
		State     *planeStateDelta    `json:"state,omitempty"`
	} `json:"updates"`
	Workspace string `json:"workspace_slug"`
	Comment   struct {
		Body string `json:"comment_html"`
	} `json:"comment"`
	Sender string `json:"actor"`
}

// normalizePlane infers the event kind from which sub-object of `updates`
// is populated, per spec §4.E step 2.
func normalizePlane(body []byte) (trigger.Event, bool) {
	var payload planePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return trigger.Event{}, false
	}

	issue := trigger.IssueRef{
		ID:        payload.Data.ID,
		Number:    payload.Data.SequenceID,
		Title:     payload.Data.Name,
		State:     payload.Data.State.Name,
		Labels:    payload.Data.Labels,
		Assignees: payload.Data.Assignees,
	}

	base := trigger.Event{
		Provider: "plane",
		Action:   payload.Action,
		Issue:    issue,
		Repo:     payload.Workspace,
		Sender:   payload.Sender,
		Raw:      body,
	}

	if payload.Event == "issue_comment" || payload.Event == "comment" {
		base.CommentBody = payload.Comment.Body
		base.Event = trigger.EventIssueComment
		return base, true
	}

	if payload.Event != "issue" {
		return trigger.Event{}, false
	}

	switch {
	case payload.Action == "create":
		base.Event = trigger.EventIssueOpened
		return base, true
	case payload.Updates.Labels != nil && len(payload.Updates.Labels.Added) > 0:
		base.Event = trigger.EventIssueLabeled
		base.Label = payload.Updates.Labels.Added[0]
		return base, true
	case payload.Updates.Assignees != nil && len(payload.Updates.Assignees.Added) > 0:
		base.Event = trigger.EventIssueAssigned
		base.Assignee = payload.Updates.Assignees.Added[0]
		return base, true
	case payload.Updates.State != nil && isReopen(payload.Updates.State):
		base.Event = trigger.EventIssueReopened
		return base, true
	default:
		return trigger.Event{}, false
	}
}

func isReopen(d *planeStateDelta) bool {
	return d.Old == "cancelled" || d.Old == "completed"
}
