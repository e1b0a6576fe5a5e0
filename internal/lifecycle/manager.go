// Package lifecycle implements the Lifecycle Manager: a periodic poll over
// the session list that probes external state, derives status, classifies
// transitions, drives the Reaction Engine and Notifier Router, and tracks
// PRP phase progression including the plan gate.
//
// Grounded on the reference implementation's orphan-detection poll loop
// (pkg/queue/orphan.go) for the "probe liveness, reconcile state, never
// let one sick item halt the sweep" shape, and on golang.org/x/sync's
// errgroup+semaphore pairing (the same pairing internal/tool/batch.go uses
// for bounded fan-out) for per-tick bounded concurrency across sessions.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/notify"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/reaction"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/session"
)

const (
	defaultInterval  = 30 * time.Second
	planGateMaxChars = 4000

	phaseInvestigating    = "investigating"
	phasePlanningComplete = "planning_complete"
	phasePlanGate         = "plan_gate"
	phaseImplementing     = "implementing"

	reactionAllComplete = "all-complete"
)

// EventType classifies a session status transition (spec §4.G).
type EventType string

const (
	EventPRCreated              EventType = "pr.created"
	EventCIFailing              EventType = "ci.failing"
	EventReviewPending          EventType = "review.pending"
	EventReviewChangesRequested EventType = "review.changes_requested"
	EventReviewApproved         EventType = "review.approved"
	EventMergeReady             EventType = "merge.ready"
	EventMergeCompleted         EventType = "merge.completed"
	EventSessionNeedsInput      EventType = "session.needs_input"
	EventSessionStuck           EventType = "session.stuck"
	EventSessionErrored         EventType = "session.errored"
	EventSessionKilled          EventType = "session.killed"
)

// transitionInfo is the static, per-target-status row of the transition
// table (spec §4.G "Status transition → EventType → reaction key").
type transitionInfo struct {
	event       EventType
	reactionKey string
	priority    string // inferred notify priority when no reaction fires
	writeback   string // writeback template key; empty means no writeback
}

var transitions = map[session.Status]transitionInfo{
	session.StatusPROpen:           {event: EventPRCreated, writeback: "pr_open"},
	session.StatusCIFailed:         {event: EventCIFailing, reactionKey: "ci-failed", priority: "warning"},
	session.StatusReviewPending:    {event: EventReviewPending, priority: "info"},
	session.StatusChangesRequested: {event: EventReviewChangesRequested, reactionKey: "changes-requested", priority: "warning"},
	session.StatusApproved:         {event: EventReviewApproved, priority: "info"},
	session.StatusMergeable:        {event: EventMergeReady, reactionKey: "approved-and-green", priority: "action"},
	session.StatusMerged:           {event: EventMergeCompleted, priority: "info"},
	session.StatusNeedsInput:       {event: EventSessionNeedsInput, reactionKey: "agent-needs-input", priority: "warning"},
	session.StatusStuck:            {event: EventSessionStuck, reactionKey: "agent-stuck", priority: "urgent", writeback: "attention"},
	session.StatusErrored:          {event: EventSessionErrored, priority: "urgent", writeback: "attention"},
	session.StatusKilled:           {event: EventSessionKilled, reactionKey: "agent-exited", priority: "warning"},
}

// trackedState is the Lifecycle Manager's in-memory view of a session,
// consulted alongside persisted metadata to compute oldStatus (spec §4.G
// step 1) and to detect prpPhase changes (step 4).
type trackedState struct {
	status   session.Status
	prpPhase string
}

// Manager is the Lifecycle Manager.
type Manager struct {
	sessions  *session.Manager
	registry  *plugin.Registry
	reactions *reaction.Engine
	router    *notify.Router
	cfg       *config.Config

	// Interval is the poll period; defaults to 30s if zero.
	Interval time.Duration
	// PlanGateMaxChars bounds the plan-gate comment's included plan text;
	// defaults to 4000 if zero (spec §9 open question: keep this default).
	PlanGateMaxChars int

	mu          sync.Mutex
	tracked     map[string]trackedState
	allComplete map[string]bool // projectID -> edge-flag set

	sf singleflight.Group
}

// NewManager returns a Lifecycle Manager driving reactions via reactions
// and notifications via router, against the sessions in cfg.
func NewManager(sessions *session.Manager, registry *plugin.Registry, reactions *reaction.Engine, router *notify.Router, cfg *config.Config) *Manager {
	return &Manager{
		sessions:    sessions,
		registry:    registry,
		reactions:   reactions,
		router:      router,
		cfg:         cfg,
		tracked:     make(map[string]trackedState),
		allComplete: make(map[string]bool),
	}
}

// Run ticks on Interval until ctx is cancelled. A tick that overruns the
// interval does not queue up a second concurrent tick; see Tick.
func (m *Manager) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				slog.Warn("lifecycle tick failed", "error", err)
			}
		}
	}
}

// Tick runs one poll cycle. Concurrent calls to Tick (e.g. an overrun
// timer firing again before the previous tick finished) share the
// in-flight call's outcome instead of running a redundant overlapping
// sweep (spec §4.G "a single-flight guard skips a tick if the previous
// tick has not finished").
func (m *Manager) Tick(ctx context.Context) error {
	_, err, _ := m.sf.Do("tick", func() (interface{}, error) {
		return nil, m.runTick(ctx)
	})
	return err
}

func numCPU() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

func (m *Manager) runTick(ctx context.Context) error {
	sessions, err := m.sessions.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) > 0 {
		limit := int64(numCPU() * 4)
		if int64(len(sessions)) < limit {
			limit = int64(len(sessions))
		}
		sem := semaphore.NewWeighted(limit)
		g, gctx := errgroup.WithContext(ctx)
		for _, sess := range sessions {
			sess := sess
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				// One sick session's probe failures never halt the sweep
				// (spec §7 propagation policy); checkSession swallows its
				// own errors.
				m.checkSession(gctx, sess)
				return nil
			})
		}
		_ = g.Wait()
	}

	m.pruneVanished(sessions)
	m.checkAllComplete(ctx, sessions)
	return nil
}

// checkSession runs the per-session check (spec §4.G steps 1-4).
func (m *Manager) checkSession(ctx context.Context, sess *session.Session) {
	project, ok := m.cfg.Projects[sess.ProjectID]
	if !ok {
		return
	}

	oldStatus := m.oldStatus(sess)
	newStatus := m.deriveStatus(ctx, project, sess, oldStatus)

	if newStatus != oldStatus {
		m.handleTransition(ctx, project, sess, oldStatus, newStatus)
	}

	finalPhase := m.checkPRPPhase(ctx, project, sess)
	m.setTracked(sess.ID, sess.Status, finalPhase)
}

// oldStatus is the greater-authority of the in-memory tracked status and
// the persisted one: prefer the tracked value (it reflects the previous
// tick's conclusion) and fall back to the session's current persisted
// status when this id has not been tracked yet.
func (m *Manager) oldStatus(sess *session.Session) session.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracked[sess.ID]; ok {
		return t.status
	}
	return sess.Status
}

func (m *Manager) setTracked(id string, status session.Status, prpPhase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[id] = trackedState{status: status, prpPhase: prpPhase}
}

// deriveStatus runs the ordered probe chain of spec §4.G step 2.
func (m *Manager) deriveStatus(ctx context.Context, project config.ProjectConfig, sess *session.Session, oldStatus session.Status) session.Status {
	rt, rtErr := plugin.Runtime(m.registry, project.EffectiveRuntime(m.cfg.Defaults))
	agentPlugin, agentErr := plugin.AgentPlugin(m.registry, project.EffectiveAgent(m.cfg.Defaults))

	if rtErr == nil && sess.RuntimeHandle != "" {
		if alive, err := rt.IsAlive(ctx, sess.RuntimeHandle); err == nil && !alive {
			return session.StatusKilled
		}
	}

	if rtErr == nil && agentErr == nil && sess.RuntimeHandle != "" {
		output, err := rt.GetOutput(ctx, sess.RuntimeHandle, 200)
		if err == nil && output != "" {
			activity, actErr := agentPlugin.DetectActivity(ctx, output)
			if actErr == nil {
				switch activity {
				case contracts.ActivityWaitingInput:
					return session.StatusNeedsInput
				case contracts.ActivityActive, contracts.ActivityIdle:
					if running, err := agentPlugin.IsProcessRunning(ctx, sess.RuntimeHandle); err == nil && !running {
						return session.StatusKilled
					}
				}
			} else if oldStatus == session.StatusStuck || oldStatus == session.StatusNeedsInput {
				// Probe failure: preserve stuck/needs_input rather than
				// coercing to working (spec §4.G step 2.b).
				return oldStatus
			}
		}
	}

	if sess.PR != "" && project.SCM != "" {
		if scm, err := plugin.SCMPlugin(m.registry, project.SCM); err == nil {
			if status, ok := m.derivePRStatus(ctx, scm, sess.PR); ok {
				return status
			}
		}
	}

	switch oldStatus {
	case session.StatusSpawning, session.StatusStuck, session.StatusNeedsInput:
		return session.StatusWorking
	default:
		return oldStatus
	}
}

// derivePRStatus combines getPRState/getCISummary/getReviewDecision/
// getMergeability into one of the eight PR-derived statuses. Spec §4.G
// step 2.c lists the eight values as merged, closed, ci_failed,
// changes_requested, approved, mergeable, review_pending, pr_open without
// specifying precedence when more than one signal applies at once; mergeable
// is checked ahead of plain approved here since mergeable is strictly
// further progress along the same PR (an approved PR that has since become
// mergeable should report mergeable, not regress to approved).
func (m *Manager) derivePRStatus(ctx context.Context, scm contracts.SCM, prURL string) (session.Status, bool) {
	base, err := scm.GetPRState(ctx, prURL)
	if err != nil {
		return "", false
	}
	if base == contracts.PRMerged {
		return session.StatusMerged, true
	}
	if base == contracts.PRClosed {
		return session.StatusClosed, true
	}

	if ci, err := scm.GetCISummary(ctx, prURL); err == nil && ci.Failing {
		return session.StatusCIFailed, true
	}

	review, revErr := scm.GetReviewDecision(ctx, prURL)
	if revErr == nil && review == contracts.ReviewChangesRequested {
		return session.StatusChangesRequested, true
	}

	if mergeable, err := scm.GetMergeability(ctx, prURL); err == nil && mergeable {
		return session.StatusMergeable, true
	}
	if revErr == nil && review == contracts.ReviewApproved {
		return session.StatusApproved, true
	}
	if revErr == nil && review == contracts.ReviewPending {
		return session.StatusReviewPending, true
	}
	return session.StatusPROpen, true
}

// handleTransition persists the new status, clears the old status's
// reaction tracker, posts any writeback, and drives the Reaction Engine
// or a direct notification (spec §4.G step 3).
func (m *Manager) handleTransition(ctx context.Context, project config.ProjectConfig, sess *session.Session, oldStatus, newStatus session.Status) {
	if err := m.sessions.UpdateStatus(ctx, sess.ID, newStatus); err != nil {
		slog.Warn("persist status transition failed", "session", sess.ID, "from", oldStatus, "to", newStatus, "error", err)
		return
	}
	sess.Status = newStatus

	if !session.IsTerminal(newStatus) {
		m.mu.Lock()
		delete(m.allComplete, sess.ProjectID)
		m.mu.Unlock()
	}

	if old, ok := transitions[oldStatus]; ok && old.reactionKey != "" {
		m.reactions.Clear(sess.ID, old.reactionKey)
	}

	info, ok := transitions[newStatus]
	if !ok {
		return
	}

	m.postWriteback(ctx, project, sess, info)

	notifiedByReaction := false
	if info.reactionKey != "" {
		if reactionCfg, ok := m.cfg.EffectiveReaction(sess.ProjectID, info.reactionKey); ok {
			m.reactions.Trigger(ctx, sess.ID, sess.ProjectID, info.reactionKey, reactionCfg)
			notifiedByReaction = true
		}
	}
	if !notifiedByReaction && info.priority != "" && info.priority != "info" {
		m.router.Notify(ctx, contracts.NotificationEvent{
			SessionID: sess.ID, ProjectID: sess.ProjectID, Priority: info.priority,
			Summary: fmt.Sprintf("session %s transitioned to %s", sess.ID, newStatus),
		})
	}
}

func (m *Manager) postWriteback(ctx context.Context, project config.ProjectConfig, sess *session.Session, info transitionInfo) {
	if info.writeback == "" {
		return
	}
	tracker, err := plugin.TrackerPlugin(m.registry, project.Tracker.Plugin)
	if err != nil {
		return
	}
	var comment string
	switch info.writeback {
	case "pr_open":
		comment = fmt.Sprintf("Pull Request: %s", sess.PR)
	case "attention":
		comment = fmt.Sprintf("❗ session %s needs attention, status: %s", sess.ID, sess.Status)
	default:
		comment = fmt.Sprintf("session %s status: %s", sess.ID, sess.Status)
	}
	if err := tracker.UpdateIssue(ctx, sess.IssueID, sess.ProjectID, comment, string(sess.Status)); err != nil {
		slog.Warn("writeback failed", "session", sess.ID, "error", err)
	}
}

// checkPRPPhase runs step 4: detect a prpPhase change, post a gated
// phase writeback, and fire the plan gate exactly once. Returns the phase
// value to record in tracked state.
func (m *Manager) checkPRPPhase(ctx context.Context, project config.ProjectConfig, sess *session.Session) string {
	newPhase := sess.Metadata["prpPhase"]
	if project.PRP == nil || !project.PRP.Enabled {
		return newPhase
	}

	m.mu.Lock()
	oldPhase := m.tracked[sess.ID].prpPhase
	m.mu.Unlock()

	if newPhase == "" || newPhase == oldPhase {
		return newPhase
	}

	m.postPhaseWriteback(ctx, project, sess, newPhase)

	if newPhase == phasePlanningComplete && project.PRP.Gates.Plan {
		m.firePlanGate(ctx, project, sess)
		return phasePlanGate
	}
	return newPhase
}

func (m *Manager) postPhaseWriteback(ctx context.Context, project config.ProjectConfig, sess *session.Session, phase string) {
	enabled := false
	switch phase {
	case phaseInvestigating:
		enabled = project.PRP.Writeback.Investigation
	case phasePlanningComplete:
		enabled = project.PRP.Writeback.Plan
	case phaseImplementing:
		enabled = project.PRP.Writeback.Implementation
	}
	if !enabled {
		return
	}
	tracker, err := plugin.TrackerPlugin(m.registry, project.Tracker.Plugin)
	if err != nil {
		return
	}
	comment := fmt.Sprintf("phase: %s", phase)
	if err := tracker.UpdateIssue(ctx, sess.IssueID, sess.ProjectID, comment, ""); err != nil {
		slog.Warn("prp phase writeback failed", "session", sess.ID, "phase", phase, "error", err)
	}
}

// firePlanGate builds and posts the plan-gate comment, notifies at
// priority action, and persists prpPhase=plan_gate so a subsequent tick
// (newPhase will then read "plan_gate", not "planning_complete") never
// re-fires it.
func (m *Manager) firePlanGate(ctx context.Context, project config.ProjectConfig, sess *session.Session) {
	content, err := m.readFirstPlanFile(sess.WorkspacePath)
	if err != nil {
		slog.Warn("plan gate: plan file not found", "session", sess.ID, "error", err)
	}

	limit := m.PlanGateMaxChars
	if limit <= 0 {
		limit = planGateMaxChars
	}
	if len(content) > limit {
		content = content[:limit]
	}

	comment := fmt.Sprintf(
		"## Plan ready for review\n\n```\n%s\n```\n\nReply with **approved**, **lgtm**, or **proceed** on this issue to continue implementation.",
		content,
	)
	if tracker, err := plugin.TrackerPlugin(m.registry, project.Tracker.Plugin); err == nil {
		if err := tracker.UpdateIssue(ctx, sess.IssueID, sess.ProjectID, comment, ""); err != nil {
			slog.Warn("plan gate comment failed", "session", sess.ID, "error", err)
		}
	}

	m.router.Notify(ctx, contracts.NotificationEvent{
		SessionID: sess.ID, ProjectID: sess.ProjectID, Priority: "action",
		Summary: fmt.Sprintf("session %s plan ready for review", sess.ID),
	})

	if err := m.sessions.UpdateMetadataFields(ctx, sess.ID, map[string]string{"prpPhase": phasePlanGate}); err != nil {
		slog.Warn("persist plan_gate phase failed", "session", sess.ID, "error", err)
	}
	sess.Metadata["prpPhase"] = phasePlanGate
}

// readFirstPlanFile returns the content of the lexicographically first
// *.plan.md file under workspacePath/.claude/PRPs/plans.
func (m *Manager) readFirstPlanFile(workspacePath string) (string, error) {
	dir := filepath.Join(workspacePath, ".claude", "PRPs", "plans")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".plan.md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .plan.md file under %s", dir)
	}
	sort.Strings(names)
	data, err := os.ReadFile(filepath.Join(dir, names[0]))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// pruneVanished drops tracked state and reaction tracker entries for ids
// no longer present in the session list (spec §4.G "Pruning").
func (m *Manager) pruneVanished(sessions []*session.Session) {
	live := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		live[s.ID] = true
	}
	m.mu.Lock()
	var gone []string
	for id := range m.tracked {
		if !live[id] {
			gone = append(gone, id)
			delete(m.tracked, id)
		}
	}
	m.mu.Unlock()
	for _, id := range gone {
		m.reactions.PruneSession(id)
	}
}

// checkAllComplete runs step 5, per project: if a project has at least
// one session and every one of them is terminal, and its edge-flag is
// unset, set it and fire the all-complete reaction if configured.
func (m *Manager) checkAllComplete(ctx context.Context, sessions []*session.Session) {
	byProject := make(map[string][]*session.Session)
	for _, s := range sessions {
		byProject[s.ProjectID] = append(byProject[s.ProjectID], s)
	}
	for projectID, list := range byProject {
		allTerminal := true
		for _, s := range list {
			if !session.IsTerminal(s.Status) {
				allTerminal = false
				break
			}
		}
		if !allTerminal {
			continue
		}
		m.mu.Lock()
		alreadySet := m.allComplete[projectID]
		if !alreadySet {
			m.allComplete[projectID] = true
		}
		m.mu.Unlock()
		if alreadySet {
			continue
		}
		if reactionCfg, ok := m.cfg.EffectiveReaction(projectID, reactionAllComplete); ok {
			m.reactions.Trigger(ctx, projectID, projectID, reactionAllComplete, reactionCfg)
		}
	}
}
