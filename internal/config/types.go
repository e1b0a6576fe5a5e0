// Package config loads and validates the YAML configuration schema defined
// in spec §6: top-level defaults/notificationRouting/reactions/projects,
// per-project tracker/scm/webhooks/triggers/prp blocks.
//
// Loading follows the reference implementation's pipeline (pkg/config):
// read file, expand ${VAR} references, unmarshal YAML, merge user values
// over built-in defaults with dario.cat/mergo, then run a hand-rolled
// Validator pass (cross-field/cross-reference checks that struct tags
// can't express).
package config

import "time"

// Config is the fully loaded and validated configuration.
type Config struct {
	Defaults            Defaults                     `yaml:"defaults"`
	NotificationRouting NotificationRouting          `yaml:"notificationRouting"`
	Reactions           map[string]ReactionConfig    `yaml:"reactions"`
	Projects            map[string]ProjectConfig     `yaml:"projects"`
	Methodology         map[string]MethodologyConfig `yaml:"methodology,omitempty"`

	// configDir is the directory this config was loaded from; used to
	// derive the metadata store's content-addressed storage root.
	configDir string
}

// ConfigDir returns the directory this config was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Defaults names the plugin used for each slot when a project does not
// override it, plus the default notifier fan-out list.
type Defaults struct {
	Runtime   string   `yaml:"runtime"`
	Agent     string   `yaml:"agent"`
	Workspace string   `yaml:"workspace"`
	Notifiers []string `yaml:"notifiers"`
}

// NotificationRouting maps a priority band to the notifiers that should
// receive events of that priority.
type NotificationRouting struct {
	Urgent  []string `yaml:"urgent"`
	Action  []string `yaml:"action"`
	Warning []string `yaml:"warning"`
	Info    []string `yaml:"info"`
}

// NotifiersFor returns the notifier names configured for priority, or nil
// if the priority band is unrecognized.
func (n NotificationRouting) NotifiersFor(priority string) []string {
	switch priority {
	case "urgent":
		return n.Urgent
	case "action":
		return n.Action
	case "warning":
		return n.Warning
	case "info":
		return n.Info
	default:
		return nil
	}
}

// ReactionAction is one of the three automated responses the Reaction
// Engine can execute.
type ReactionAction string

const (
	ActionSendToAgent ReactionAction = "send-to-agent"
	ActionNotify      ReactionAction = "notify"
	ActionAutoMerge   ReactionAction = "auto-merge"
)

// ReactionConfig is one entry under the top-level `reactions` map.
type ReactionConfig struct {
	Auto          bool           `yaml:"auto"`
	Action        ReactionAction `yaml:"action"`
	Message       string         `yaml:"message"`
	Priority      string         `yaml:"priority"`
	Retries       int            `yaml:"retries"`
	EscalateAfter string         `yaml:"escalateAfter"`
}

// TrackerConfig names the tracker plugin and any plugin-specific fields a
// project needs (e.g. a Plane workspace id) beyond the plugin name.
type TrackerConfig struct {
	Plugin      string `yaml:"plugin"`
	WorkspaceID string `yaml:"workspaceId,omitempty"`
}

// WebhookSecret is the per-provider webhook verification config for a
// project.
type WebhookSecret struct {
	Secret      string `yaml:"secret"`
	WorkspaceID string `yaml:"workspaceId,omitempty"`
}

// ProjectWebhooks groups the per-provider webhook secrets for a project.
type ProjectWebhooks struct {
	GitHub *WebhookSecret `yaml:"github,omitempty"`
	Plane  *WebhookSecret `yaml:"plane,omitempty"`
}

// TriggerAction is what a matched trigger rule causes the orchestrator to
// do.
type TriggerAction string

const (
	TriggerActionSpawn         TriggerAction = "spawn"
	TriggerActionResumeSession TriggerAction = "resume-session"
)

// TriggerRule is one entry in a project's `triggers` list.
type TriggerRule struct {
	On             string        `yaml:"on"`
	Label          string        `yaml:"label,omitempty"`
	Assignee       string        `yaml:"assignee,omitempty"`
	Action         TriggerAction `yaml:"action"`
	CommentPattern string        `yaml:"commentPattern,omitempty"`
	Message        string        `yaml:"message,omitempty"`
}

// PRPGates configures which PRP phase transitions pause for human
// approval.
type PRPGates struct {
	Plan bool `yaml:"plan"`
	PR   bool `yaml:"pr"`
}

// PRPWriteback configures which PRP phase transitions post a tracker
// comment.
type PRPWriteback struct {
	Investigation  bool `yaml:"investigation"`
	Plan           bool `yaml:"plan"`
	Implementation bool `yaml:"implementation"`
	PR             bool `yaml:"pr"`
}

// PRPConfig is a project's structured-methodology configuration.
type PRPConfig struct {
	Enabled    bool         `yaml:"enabled"`
	PluginPath string       `yaml:"pluginPath,omitempty"`
	Gates      PRPGates     `yaml:"gates"`
	Writeback  PRPWriteback `yaml:"writeback"`
	PromptFile string       `yaml:"promptFile,omitempty"`
}

// MethodologyConfig is one entry under the top-level `methodology` map,
// keyed by the name a project's `prp.pluginPath` refers to. Exactly one
// of the local or github fields is meaningful depending on `type`.
type MethodologyConfig struct {
	Type     string   `yaml:"type"` // "local" | "github"
	Root     string   `yaml:"root,omitempty"`
	RepoURL  string   `yaml:"repoUrl,omitempty"`
	StageDir string   `yaml:"stageDir,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	Subdirs  []string `yaml:"subdirs"`
}

// ProjectConfig is one entry under the top-level `projects` map.
type ProjectConfig struct {
	Repo          string                    `yaml:"repo"`
	Path          string                    `yaml:"path"`
	DefaultBranch string                    `yaml:"defaultBranch"`
	SessionPrefix string                    `yaml:"sessionPrefix"`
	Agent         string                    `yaml:"agent,omitempty"`
	Runtime       string                    `yaml:"runtime,omitempty"`
	Tracker       TrackerConfig             `yaml:"tracker"`
	SCM           string                    `yaml:"scm,omitempty"`
	Symlinks      []string                  `yaml:"symlinks,omitempty"`
	Reactions     map[string]ReactionConfig `yaml:"reactions,omitempty"`
	Webhooks      ProjectWebhooks           `yaml:"webhooks"`
	Triggers      []TriggerRule             `yaml:"triggers"`
	PRP           *PRPConfig                `yaml:"prp,omitempty"`
	PromptExtras  []string                  `yaml:"promptExtras,omitempty"`
}

// EffectiveAgent returns the project's agent plugin name, falling back to
// defaults.Agent.
func (p ProjectConfig) EffectiveAgent(d Defaults) string {
	if p.Agent != "" {
		return p.Agent
	}
	return d.Agent
}

// EffectiveRuntime returns the project's runtime plugin name, falling back
// to defaults.Runtime.
func (p ProjectConfig) EffectiveRuntime(d Defaults) string {
	if p.Runtime != "" {
		return p.Runtime
	}
	return d.Runtime
}

// EffectiveWorkspace returns the workspace plugin name for this project.
// Projects do not currently override it; kept symmetric with the other
// Effective* accessors for when they do.
func (p ProjectConfig) EffectiveWorkspace(d Defaults) string {
	return d.Workspace
}

// EffectiveReaction returns the reaction config for key, with project-level
// reactions overriding the top-level map of the same key.
func (c *Config) EffectiveReaction(projectID, key string) (ReactionConfig, bool) {
	if p, ok := c.Projects[projectID]; ok {
		if r, ok := p.Reactions[key]; ok {
			return r, true
		}
	}
	r, ok := c.Reactions[key]
	return r, ok
}

// dedupWindow is the minimum webhook-delivery dedup TTL required by I5.
const dedupWindow = 10 * time.Minute
