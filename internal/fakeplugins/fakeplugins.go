// Package fakeplugins provides minimal in-memory implementations of every
// capability set in internal/contracts, used by tests and by
// cmd/agent-orchestrator when no production plugin is configured for a
// slot. None of these talk to a real runtime, tracker, or SCM — they are
// reference/demonstration plugins, matching the scope boundary that
// concrete tracker/runtime/agent/notifier implementations are external
// collaborators, not Core.
package fakeplugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
)

// Runtime is an in-memory fake satisfying contracts.Runtime. Each Start
// call allocates a new handle; Stop marks it dead; Send/GetOutput record
// what was sent for assertions.
type Runtime struct {
	mu      sync.Mutex
	n       int
	alive   map[string]bool
	sent    map[string][]string
	outputs map[string]string
}

func NewRuntime() *Runtime {
	return &Runtime{alive: make(map[string]bool), sent: make(map[string][]string), outputs: make(map[string]string)}
}

// SetOutput fixes what GetOutput returns for handle, for tests driving the
// agent-activity probe.
func (r *Runtime) SetOutput(handle, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[handle] = output
}

func (r *Runtime) Start(ctx context.Context, argv []string, env map[string]string, cwd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	handle := fmt.Sprintf("fake-runtime-%d", r.n)
	r.alive[handle] = true
	return handle, nil
}

func (r *Runtime) IsAlive(ctx context.Context, handle string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive[handle], nil
}

func (r *Runtime) GetOutput(ctx context.Context, handle string, lastN int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs[handle], nil
}

func (r *Runtime) Send(ctx context.Context, handle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[handle] = append(r.sent[handle], text)
	return nil
}

func (r *Runtime) Stop(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[handle] = false
	return nil
}

// Kill marks handle dead without going through Stop, simulating an
// external process death the poll loop must detect.
func (r *Runtime) Kill(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[handle] = false
}

// SentTo returns every message sent to handle, for test assertions.
func (r *Runtime) SentTo(handle string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[handle]...)
}

// Agent is a fake satisfying contracts.Agent. NextActivity and
// NextProcessRunning drive DetectActivity/IsProcessRunning for tests;
// both default to the "healthy and running" case.
type Agent struct {
	NextActivity       contracts.ActivityState
	NextProcessRunning *bool
}

func NewAgent() *Agent { return &Agent{NextActivity: contracts.ActivityActive} }

func (a *Agent) BuildLaunchCommand(ctx context.Context, opts contracts.LaunchOptions) ([]string, error) {
	argv := []string{"fake-agent"}
	if opts.SystemPromptFile != "" {
		argv = append(argv, "--system-prompt-file", opts.SystemPromptFile)
	}
	return argv, nil
}

func (a *Agent) DetectActivity(ctx context.Context, terminalTail string) (contracts.ActivityState, error) {
	return a.NextActivity, nil
}

func (a *Agent) IsProcessRunning(ctx context.Context, handle string) (bool, error) {
	if a.NextProcessRunning != nil {
		return *a.NextProcessRunning, nil
	}
	return true, nil
}

func (a *Agent) PostLaunchSetup(ctx context.Context, workspacePath, sessionID string) error {
	return nil
}

// Workspace is an in-memory fake satisfying contracts.Workspace: Create
// just returns a deterministic path under a root directory without
// touching the filesystem beyond what the caller itself writes into it.
type Workspace struct {
	Root string
}

func NewWorkspace(root string) *Workspace { return &Workspace{Root: root} }

func (w *Workspace) Create(ctx context.Context, params contracts.WorkspaceParams) (string, error) {
	return w.Root + "/" + params.SessionID, nil
}

func (w *Workspace) Destroy(ctx context.Context, path string) error {
	return nil
}

// Tracker is an in-memory fake satisfying contracts.Tracker.
type Tracker struct {
	mu     sync.Mutex
	Issues map[string]contracts.Issue
	Calls  []string
}

func NewTracker() *Tracker {
	return &Tracker{Issues: make(map[string]contracts.Issue)}
}

func (t *Tracker) GetIssue(ctx context.Context, issueID, projectID string) (contracts.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue, ok := t.Issues[issueID]
	if !ok {
		return contracts.Issue{}, fmt.Errorf("fake tracker: issue %s not found", issueID)
	}
	return issue, nil
}

func (t *Tracker) IsCompleted(ctx context.Context, issueID, projectID string) (bool, error) {
	return false, nil
}

func (t *Tracker) IssueURL(ctx context.Context, issueID, projectID string) (string, error) {
	return "https://example.com/issues/" + issueID, nil
}

func (t *Tracker) BranchName(ctx context.Context, issueID, projectID string) (string, error) {
	return "", nil
}

func (t *Tracker) GeneratePrompt(ctx context.Context, issueID, projectID string) (string, error) {
	issue, ok := t.Issues[issueID]
	if !ok {
		return "", nil
	}
	return fmt.Sprintf("Issue: %s\n%s", issue.Title, issue.URL), nil
}

func (t *Tracker) UpdateIssue(ctx context.Context, issueID, projectID string, comment, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, fmt.Sprintf("update(%s,%s,%s)", issueID, comment, status))
	return nil
}

// SCM is a fake satisfying contracts.SCM, driven entirely by whatever the
// test sets on its exported fields.
type SCM struct {
	State     contracts.PRState
	CI        contracts.CISummary
	Review    contracts.ReviewDecision
	Mergeable bool
}

func NewSCM() *SCM { return &SCM{State: contracts.PROpen} }

func (s *SCM) GetPRState(ctx context.Context, prURL string) (contracts.PRState, error) {
	return s.State, nil
}

func (s *SCM) GetCISummary(ctx context.Context, prURL string) (contracts.CISummary, error) {
	return s.CI, nil
}

func (s *SCM) GetReviewDecision(ctx context.Context, prURL string) (contracts.ReviewDecision, error) {
	return s.Review, nil
}

func (s *SCM) GetMergeability(ctx context.Context, prURL string) (bool, error) {
	return s.Mergeable, nil
}

// Notifier is a fake satisfying contracts.Notifier, recording every event
// delivered to it.
type Notifier struct {
	mu     sync.Mutex
	Events []contracts.NotificationEvent
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) Notify(ctx context.Context, event contracts.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, event)
	return nil
}

func (n *Notifier) All() []contracts.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]contracts.NotificationEvent(nil), n.Events...)
}

// Methodology is a fake satisfying contracts.MethodologyPlugin.
type Methodology struct {
	Root    string
	Subdirs []string
}

func NewMethodology(root string, subdirs ...string) *Methodology {
	return &Methodology{Root: root, Subdirs: subdirs}
}

func (m *Methodology) ContentRoot(ctx context.Context) (string, error) { return m.Root, nil }
func (m *Methodology) SubdirNames() []string                           { return m.Subdirs }
