package session

import (
	"context"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/trigger"
)

// TriggerLister adapts *Manager to trigger.SessionLister, the narrow view
// the Trigger Engine's duplicate-session guard needs.
type TriggerLister struct {
	Manager *Manager
}

func (t TriggerLister) List(ctx context.Context, projectID string) ([]trigger.SessionRef, error) {
	sessions, err := t.Manager.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]trigger.SessionRef, len(sessions))
	for i, s := range sessions {
		out[i] = trigger.SessionRef{ID: s.ID, IssueID: s.IssueID, Status: string(s.Status)}
	}
	return out, nil
}
