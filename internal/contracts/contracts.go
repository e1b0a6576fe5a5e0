// Package contracts defines the capability-set interfaces that plugin
// implementations satisfy. The orchestrator Core depends only on these
// interfaces; concrete runtime/agent/workspace/tracker/SCM/notifier
// implementations are external collaborators registered into a
// plugin.Registry at startup.
package contracts

import "context"

// ActivityState is the agent's self-reported state as inferred from its
// terminal output tail.
type ActivityState string

const (
	ActivityActive       ActivityState = "active"
	ActivityIdle         ActivityState = "idle"
	ActivityWaitingInput ActivityState = "waiting_input"
	ActivityBlocked      ActivityState = "blocked"
	ActivityReady        ActivityState = "ready"
)

// ReviewDecision is the state of code review on an open pull request.
type ReviewDecision string

const (
	ReviewPending          ReviewDecision = "pending"
	ReviewApproved         ReviewDecision = "approved"
	ReviewChangesRequested ReviewDecision = "changes_requested"
)

// Issue is the tracker's normalized view of a tracked work item.
type Issue struct {
	ID        string
	Title     string
	URL       string
	State     string
	Labels    []string
	Assignees []string
}

// PRState is the SCM's normalized view of a pull request's lifecycle state.
type PRState string

const (
	PROpen             PRState = "pr_open"
	PRMerged           PRState = "merged"
	PRClosed           PRState = "closed"
	PRCIFailed         PRState = "ci_failed"
	PRChangesRequested PRState = "changes_requested"
	PRApproved         PRState = "approved"
	PRMergeable        PRState = "mergeable"
	PRReviewPending    PRState = "review_pending"
)

// CISummary is the SCM's normalized view of the most recent CI run on a PR.
type CISummary struct {
	Passing bool
	Failing bool
	Pending bool
}

// NotificationEvent is what gets routed to a Notifier.
type NotificationEvent struct {
	SessionID string
	ProjectID string
	Priority  string // urgent|action|warning|info
	Summary   string
	Detail    string
}

// Runtime starts, probes, and tears down the process that hosts an agent
// (typically a terminal-multiplexer session).
type Runtime interface {
	Start(ctx context.Context, argv []string, env map[string]string, cwd string) (handle string, err error)
	IsAlive(ctx context.Context, handle string) (bool, error)
	GetOutput(ctx context.Context, handle string, lastN int) (string, error)
	Send(ctx context.Context, handle string, text string) error
	Stop(ctx context.Context, handle string) error
}

// LaunchOptions configures how an Agent builds its launch command.
type LaunchOptions struct {
	SystemPromptFile string
	Model            string
	Permissions      string
}

// Agent builds launch commands, interprets terminal output, and installs
// the in-workspace tool-use hook that writes facts back into a session's
// metadata file.
type Agent interface {
	BuildLaunchCommand(ctx context.Context, opts LaunchOptions) (argv []string, err error)
	DetectActivity(ctx context.Context, terminalTail string) (ActivityState, error)
	IsProcessRunning(ctx context.Context, handle string) (bool, error)
	PostLaunchSetup(ctx context.Context, workspacePath, sessionID string) error
}

// WorkspaceParams describes a workspace creation request.
type WorkspaceParams struct {
	ProjectID string
	Branch    string
	SessionID string
}

// Workspace creates and destroys the isolated checkout an agent runs in.
type Workspace interface {
	Create(ctx context.Context, params WorkspaceParams) (path string, err error)
	Destroy(ctx context.Context, path string) error
}

// Tracker is the issue-tracker capability set (GitHub Issues, Plane, ...).
type Tracker interface {
	GetIssue(ctx context.Context, issueID, projectID string) (Issue, error)
	IsCompleted(ctx context.Context, issueID, projectID string) (bool, error)
	IssueURL(ctx context.Context, issueID, projectID string) (string, error)
	BranchName(ctx context.Context, issueID, projectID string) (string, error)
	GeneratePrompt(ctx context.Context, issueID, projectID string) (string, error)
	UpdateIssue(ctx context.Context, issueID, projectID string, comment, status string) error
}

// SCM is the source-control-host capability set (GitHub, GitLab, ...).
type SCM interface {
	GetPRState(ctx context.Context, prURL string) (PRState, error)
	GetCISummary(ctx context.Context, prURL string) (CISummary, error)
	GetReviewDecision(ctx context.Context, prURL string) (ReviewDecision, error)
	GetMergeability(ctx context.Context, prURL string) (mergeable bool, err error)
}

// Notifier delivers a human-facing notification for a given priority band.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

// MethodologyPlugin exposes the on-disk location of the PRP methodology
// content blob (skill and rule directories) without the orchestrator
// needing to know anything about its contents.
type MethodologyPlugin interface {
	ContentRoot(ctx context.Context) (string, error)
	SubdirNames() []string
}
