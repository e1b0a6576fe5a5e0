package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/errs"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/metadata"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/prompt"
)

// maxReserveAttempts bounds the id-reservation retry loop (spec §4.F step 3).
const maxReserveAttempts = 10

// Manager implements the Session Manager (spec §4.F).
type Manager struct {
	store       *metadata.Store
	registry    *plugin.Registry
	composer    *prompt.Composer
	cfg         *config.Config
	scratchRoot string

	// CleanupAfter is the age threshold Cleanup uses to select terminal
	// sessions for bulk archive. Defaults to 7 days if zero.
	CleanupAfter time.Duration
}

// NewManager returns a Session Manager backed by store, resolving plugins
// from registry per project config in cfg. scratchRoot is the directory
// PRP system-prompt-files are written under (one subdirectory per project).
func NewManager(store *metadata.Store, registry *plugin.Registry, cfg *config.Config, scratchRoot string) *Manager {
	return &Manager{
		store:       store,
		registry:    registry,
		composer:    prompt.NewComposer(),
		cfg:         cfg,
		scratchRoot: scratchRoot,
	}
}

// SpawnParams are the arguments to Spawn.
type SpawnParams struct {
	ProjectID string
	IssueID   string
	Prompt    string
	Branch    string
}

// resolvedPlugins bundles the plugin lookups a project needs for spawn.
type resolvedPlugins struct {
	runtime   contracts.Runtime
	agent     contracts.Agent
	workspace contracts.Workspace
	tracker   contracts.Tracker
}

func (m *Manager) resolvePlugins(project config.ProjectConfig) (resolvedPlugins, error) {
	var rp resolvedPlugins
	var err error

	if rp.runtime, err = plugin.Runtime(m.registry, project.EffectiveRuntime(m.cfg.Defaults)); err != nil {
		return rp, err
	}
	if rp.agent, err = plugin.AgentPlugin(m.registry, project.EffectiveAgent(m.cfg.Defaults)); err != nil {
		return rp, err
	}
	if rp.workspace, err = plugin.WorkspacePlugin(m.registry, project.EffectiveWorkspace(m.cfg.Defaults)); err != nil {
		return rp, err
	}
	if rp.tracker, err = plugin.TrackerPlugin(m.registry, project.Tracker.Plugin); err != nil {
		return rp, err
	}
	return rp, nil
}

var branchSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeBranch(s string) string {
	return strings.Trim(branchSanitizer.ReplaceAllString(s, "-"), "-")
}

// Spawn runs the full spawn sequence described in spec §4.F.
func (m *Manager) Spawn(ctx context.Context, params SpawnParams) (*Session, error) {
	project, ok := m.cfg.Projects[params.ProjectID]
	if !ok {
		return nil, errs.NewValidationError("project", params.ProjectID, "", errs.ErrConfig)
	}
	plugins, err := m.resolvePlugins(project)
	if err != nil {
		return nil, err
	}

	issue, err := plugins.tracker.GetIssue(ctx, params.IssueID, params.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTracker, err)
	}

	id, err := m.reserveID(project.SessionPrefix)
	if err != nil {
		return nil, err
	}

	branch := m.resolveBranch(ctx, params, project, plugins, id, issue)

	workspacePath, err := plugins.workspace.Create(ctx, contracts.WorkspaceParams{
		ProjectID: params.ProjectID, Branch: branch, SessionID: id,
	})
	if err != nil {
		_ = m.store.Archive(id)
		return nil, fmt.Errorf("%w: workspace create: %v", errs.ErrResource, err)
	}

	systemPromptFile, err := m.maybeWritePRPArtifacts(ctx, project, id, issue, workspacePath)
	if err != nil {
		_ = plugins.workspace.Destroy(ctx, workspacePath)
		_ = m.store.Archive(id)
		return nil, err
	}

	issuePrompt, _ := plugins.tracker.GeneratePrompt(ctx, params.IssueID, params.ProjectID)
	fullPrompt := params.Prompt
	if fullPrompt == "" {
		fullPrompt = m.composer.ComposeAgentPrompt(issuePrompt, project.PromptExtras)
	}

	argv, err := plugins.agent.BuildLaunchCommand(ctx, contracts.LaunchOptions{SystemPromptFile: systemPromptFile})
	if err != nil {
		_ = plugins.workspace.Destroy(ctx, workspacePath)
		_ = m.store.Archive(id)
		return nil, fmt.Errorf("%w: build launch command: %v", errs.ErrResource, err)
	}

	handle, err := plugins.runtime.Start(ctx, argv, map[string]string{"AO_PROMPT": fullPrompt}, workspacePath)
	if err != nil {
		_ = plugins.workspace.Destroy(ctx, workspacePath)
		_ = m.store.Archive(id)
		return nil, fmt.Errorf("%w: runtime start: %v", errs.ErrResource, err)
	}

	now := time.Now()
	sess := &Session{
		ID: id, ProjectID: params.ProjectID, Status: StatusSpawning,
		Branch: branch, WorkspacePath: workspacePath, RuntimeHandle: handle,
		IssueID: issue.URL, Metadata: map[string]string{},
		CreatedAt: now, LastActivityAt: now,
	}
	if project.PRP != nil && project.PRP.Enabled {
		sess.Metadata[keyPRPPhase] = "investigating"
	}
	if err := m.store.UpdateMerge(id, sess.MetadataMap()); err != nil {
		_ = plugins.runtime.Stop(ctx, handle)
		_ = plugins.workspace.Destroy(ctx, workspacePath)
		_ = m.store.Archive(id)
		return nil, fmt.Errorf("%w: persist metadata: %v", errs.ErrResource, err)
	}

	if err := plugins.agent.PostLaunchSetup(ctx, workspacePath, id); err != nil {
		slog.Warn("post-launch setup failed", "session", id, "error", err)
	}

	return sess, nil
}

func (m *Manager) reserveID(prefix string) (string, error) {
	existing, err := m.store.List()
	if err != nil {
		return "", fmt.Errorf("%w: list existing ids: %v", errs.ErrResource, err)
	}
	candidate := nextID(prefix, existing)
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		if err := m.store.Reserve(candidate); err == nil {
			return candidate, nil
		}
		n, _ := strconv.Atoi(strings.TrimPrefix(candidate, prefix+"-"))
		candidate = fmt.Sprintf("%s-%d", prefix, n+1)
	}
	return "", fmt.Errorf("%w: exhausted %d reservation attempts", errs.ErrResource, maxReserveAttempts)
}

func (m *Manager) resolveBranch(ctx context.Context, params SpawnParams, project config.ProjectConfig, plugins resolvedPlugins, id string, issue contracts.Issue) string {
	if params.Branch != "" {
		return params.Branch
	}
	if b, err := plugins.tracker.BranchName(ctx, params.IssueID, params.ProjectID); err == nil && b != "" {
		return b
	}
	if params.IssueID != "" {
		return "feat/" + sanitizeBranch(params.IssueID)
	}
	return "session/" + id
}

func (m *Manager) maybeWritePRPArtifacts(ctx context.Context, project config.ProjectConfig, id string, issue contracts.Issue, workspacePath string) (string, error) {
	if project.PRP == nil || !project.PRP.Enabled {
		return "", nil
	}
	content := m.composer.ComposeSystemPromptFile(issue, prompt.GateOptions{Plan: project.PRP.Gates.Plan, PR: project.PRP.Gates.PR})
	scratchDir := filepath.Join(m.scratchRoot, project.SessionPrefix)
	path, err := m.composer.WriteSystemPromptFile(scratchDir, id, content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrResource, err)
	}

	if project.PRP.PluginPath != "" {
		if methodology, err := plugin.MethodologyPlugin(m.registry, project.PRP.PluginPath); err == nil {
			root, err := methodology.ContentRoot(ctx)
			if err == nil {
				if err := m.composer.SymlinkMethodologySubdirs(root, workspacePath, methodology.SubdirNames()); err != nil {
					slog.Warn("symlink methodology subdirs failed", "session", id, "error", err)
				}
			}
		}
	}
	return path, nil
}

// List reads all metadata files (optionally scoped to projectID), probes
// runtime liveness for each, reconciles dead non-terminal sessions to
// `killed`, and returns the results sorted stably by id.
func (m *Manager) List(ctx context.Context, projectID string) ([]*Session, error) {
	ids, err := m.store.List()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	var out []*Session
	for _, id := range ids {
		raw, ok, err := m.store.Read(id)
		if err != nil || !ok {
			continue
		}
		sess := FromMetadataMap(id, raw)
		if projectID != "" && sess.ProjectID != projectID {
			continue
		}
		m.reconcileLiveness(ctx, sess)
		out = append(out, sess)
	}
	return out, nil
}

// reconcileLiveness probes the runtime for sess and, if it reports dead
// while sess is non-terminal, marks it killed and persists the change.
func (m *Manager) reconcileLiveness(ctx context.Context, sess *Session) {
	if IsTerminal(sess.Status) || sess.RuntimeHandle == "" {
		return
	}
	project, ok := m.cfg.Projects[sess.ProjectID]
	if !ok {
		return
	}
	rt, err := plugin.Runtime(m.registry, project.EffectiveRuntime(m.cfg.Defaults))
	if err != nil {
		return
	}
	alive, err := rt.IsAlive(ctx, sess.RuntimeHandle)
	if err != nil {
		slog.Warn("runtime liveness probe failed", "session", sess.ID, "error", err)
		return
	}
	if alive {
		return
	}
	sess.Status = StatusKilled
	if err := m.store.UpdateMerge(sess.ID, map[string]string{keyStatus: string(StatusKilled)}); err != nil {
		slog.Warn("persist killed status failed", "session", sess.ID, "error", err)
	}
}

// Get returns a single reconciled session, or ok=false if absent.
func (m *Manager) Get(ctx context.Context, id string) (*Session, bool, error) {
	raw, ok, err := m.store.Read(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	sess := FromMetadataMap(id, raw)
	m.reconcileLiveness(ctx, sess)
	return sess, true, nil
}

// Send delivers message to the session's runtime (the runtime owns the
// delivery transport — typically pasting into a terminal-multiplexer pane).
func (m *Manager) Send(ctx context.Context, id, message string) error {
	sess, ok, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NewValidationError("session", id, "", errs.ErrConfig)
	}
	project, ok := m.cfg.Projects[sess.ProjectID]
	if !ok {
		return errs.NewValidationError("project", sess.ProjectID, "", errs.ErrConfig)
	}
	rt, err := plugin.Runtime(m.registry, project.EffectiveRuntime(m.cfg.Defaults))
	if err != nil {
		return err
	}
	if err := rt.Send(ctx, sess.RuntimeHandle, message); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrReaction, err)
	}
	return nil
}

// UpdateStatus persists a new status for id. The Lifecycle Manager is the
// only other caller of this beyond Spawn/Kill's own transitions.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status Status) error {
	return m.store.UpdateMerge(id, map[string]string{keyStatus: string(status)})
}

// UpdateMetadataFields merges free-form key/value pairs into id's
// persisted metadata, e.g. pr, prpPhase. An empty value deletes the key
// (Metadata Store merge semantics).
func (m *Manager) UpdateMetadataFields(ctx context.Context, id string, kv map[string]string) error {
	return m.store.UpdateMerge(id, kv)
}

// Kill best-effort stops the runtime, destroys the workspace, and archives
// metadata. Every step runs even if an earlier one failed; errors are
// joined for the caller to log.
func (m *Manager) Kill(ctx context.Context, id string) error {
	sess, ok, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NewValidationError("session", id, "", errs.ErrConfig)
	}

	var errsList []string
	if project, ok := m.cfg.Projects[sess.ProjectID]; ok {
		if rt, err := plugin.Runtime(m.registry, project.EffectiveRuntime(m.cfg.Defaults)); err == nil {
			if err := rt.Stop(ctx, sess.RuntimeHandle); err != nil {
				errsList = append(errsList, fmt.Sprintf("stop runtime: %v", err))
			}
		}
		if ws, err := plugin.WorkspacePlugin(m.registry, project.EffectiveWorkspace(m.cfg.Defaults)); err == nil {
			if err := ws.Destroy(ctx, sess.WorkspacePath); err != nil {
				errsList = append(errsList, fmt.Sprintf("destroy workspace: %v", err))
			}
		}
	}
	if err := m.store.UpdateMerge(id, map[string]string{keyStatus: string(StatusKilled)}); err != nil {
		errsList = append(errsList, fmt.Sprintf("update status: %v", err))
	}
	if err := m.store.Archive(id); err != nil {
		errsList = append(errsList, fmt.Sprintf("archive: %v", err))
	}
	if len(errsList) > 0 {
		return fmt.Errorf("kill %s: %s", id, strings.Join(errsList, "; "))
	}
	return nil
}

// Cleanup bulk-kills terminal sessions whose last activity is older than
// CleanupAfter (default 7 days).
func (m *Manager) Cleanup(ctx context.Context) (killed []string, err error) {
	threshold := m.CleanupAfter
	if threshold == 0 {
		threshold = 7 * 24 * time.Hour
	}
	sessions, err := m.List(ctx, "")
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-threshold)
	for _, sess := range sessions {
		if !IsTerminal(sess.Status) {
			continue
		}
		if sess.LastActivityAt.After(cutoff) {
			continue
		}
		if err := m.Kill(ctx, sess.ID); err != nil {
			slog.Warn("cleanup: kill failed", "session", sess.ID, "error", err)
			continue
		}
		killed = append(killed, sess.ID)
	}
	return killed, nil
}

// Restore recreates the runtime for a session whose metadata exists but
// whose runtime handle is dead, reusing its existing workspace.
func (m *Manager) Restore(ctx context.Context, id string) (*Session, error) {
	sess, ok, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NewValidationError("session", id, "", errs.ErrConfig)
	}
	project, ok := m.cfg.Projects[sess.ProjectID]
	if !ok {
		return nil, errs.NewValidationError("project", sess.ProjectID, "", errs.ErrConfig)
	}
	plugins, err := m.resolvePlugins(project)
	if err != nil {
		return nil, err
	}

	argv, err := plugins.agent.BuildLaunchCommand(ctx, contracts.LaunchOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrResource, err)
	}
	handle, err := plugins.runtime.Start(ctx, argv, nil, sess.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrResource, err)
	}
	sess.RuntimeHandle = handle
	sess.Status = StatusWorking
	if err := m.store.UpdateMerge(id, map[string]string{keyTmuxName: handle, keyStatus: string(StatusWorking)}); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrResource, err)
	}
	return sess, nil
}
