// Package session implements the Session Manager: end-to-end spawn
// (validate → reserve → workspace → prompt → launch → persist → hook),
// plus list/get/send/kill/cleanup/restore.
//
// Grounded on the reference implementation's session_service.go for the
// validate-then-transactionally-create shape of spawn (translated from an
// ent transaction to the flat-file Metadata Store's
// reserve/update-merge/archive primitives), and on pkg/queue/pool.go +
// pkg/queue/orphan.go for the "probe liveness, reconcile dead runtimes"
// idiom used by List/Get and the bulk-archive idiom used by Cleanup.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is one of the values in the session status DAG (spec §3, I3).
type Status string

const (
	StatusSpawning         Status = "spawning"
	StatusWorking          Status = "working"
	StatusNeedsInput       Status = "needs_input"
	StatusStuck            Status = "stuck"
	StatusPROpen           Status = "pr_open"
	StatusCIFailed         Status = "ci_failed"
	StatusReviewPending    Status = "review_pending"
	StatusChangesRequested Status = "changes_requested"
	StatusApproved         Status = "approved"
	StatusMergeable        Status = "mergeable"
	StatusMerged           Status = "merged"
	StatusClosed           Status = "closed"
	StatusErrored          Status = "errored"
	StatusKilled           Status = "killed"
	StatusTerminated       Status = "terminated"
	StatusDone             Status = "done"
)

// terminalStatuses is the terminal set from I3.
var terminalStatuses = map[Status]bool{
	StatusMerged: true, StatusClosed: true, StatusKilled: true, StatusTerminated: true,
	StatusErrored: true, StatusDone: true,
}

// IsTerminal reports whether status is in the terminal set.
func IsTerminal(status Status) bool {
	return terminalStatuses[status]
}

// Session is the central entity (spec §3).
type Session struct {
	ID             string
	ProjectID      string
	Status         Status
	Branch         string
	WorkspacePath  string
	RuntimeHandle  string
	IssueID        string
	PR             string
	Metadata       map[string]string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// canonical metadata key names (spec §6 "Persisted state layout").
const (
	keyWorktree       = "worktree"
	keyBranch         = "branch"
	keyStatus         = "status"
	keyTmuxName       = "tmuxName"
	keyIssue          = "issue"
	keyPR             = "pr"
	keyProject        = "project"
	keyPRPPhase       = "prpPhase"
	keyCreatedAt      = "createdAt"
	keyLastActivityAt = "lastActivityAt"
)

var canonicalKeys = map[string]bool{
	keyWorktree: true, keyBranch: true, keyStatus: true, keyTmuxName: true,
	keyIssue: true, keyPR: true, keyProject: true, keyPRPPhase: true,
	keyCreatedAt: true, keyLastActivityAt: true,
}

// MetadataMap flattens a Session into the key=value encoding the Metadata
// Store persists. Free-form metadata entries (other than prpPhase, which
// has a canonical key) pass through unchanged.
func (s *Session) MetadataMap() map[string]string {
	m := make(map[string]string, len(s.Metadata)+8)
	for k, v := range s.Metadata {
		if !canonicalKeys[k] {
			m[k] = v
		}
	}
	m[keyWorktree] = s.WorkspacePath
	m[keyBranch] = s.Branch
	m[keyStatus] = string(s.Status)
	m[keyTmuxName] = s.RuntimeHandle
	m[keyIssue] = s.IssueID
	m[keyPR] = s.PR
	m[keyProject] = s.ProjectID
	if phase, ok := s.Metadata[keyPRPPhase]; ok {
		m[keyPRPPhase] = phase
	}
	if !s.CreatedAt.IsZero() {
		m[keyCreatedAt] = s.CreatedAt.Format(time.RFC3339)
	}
	if !s.LastActivityAt.IsZero() {
		m[keyLastActivityAt] = s.LastActivityAt.Format(time.RFC3339)
	}
	return m
}

// FromMetadataMap reconstructs a Session from its persisted key=value map.
func FromMetadataMap(id string, m map[string]string) *Session {
	s := &Session{
		ID:            id,
		ProjectID:     m[keyProject],
		Status:        Status(m[keyStatus]),
		Branch:        m[keyBranch],
		WorkspacePath: m[keyWorktree],
		RuntimeHandle: m[keyTmuxName],
		IssueID:       m[keyIssue],
		PR:            m[keyPR],
		Metadata:      make(map[string]string),
	}
	for k, v := range m {
		if !canonicalKeys[k] {
			s.Metadata[k] = v
		}
	}
	if phase, ok := m[keyPRPPhase]; ok {
		s.Metadata[keyPRPPhase] = phase
	}
	if t, err := time.Parse(time.RFC3339, m[keyCreatedAt]); err == nil {
		s.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m[keyLastActivityAt]); err == nil {
		s.LastActivityAt = t
	}
	return s
}

// nextID returns the next "{prefix}-{n}" candidate after the highest n
// currently observed among existingIDs that share prefix.
func nextID(prefix string, existingIDs []string) string {
	max := 0
	want := prefix + "-"
	for _, id := range existingIDs {
		if !strings.HasPrefix(id, want) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, want))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s-%d", prefix, max+1)
}
