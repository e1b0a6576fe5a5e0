package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/errs"
)

// Validator runs the cross-field and cross-reference checks a plain YAML
// unmarshal can't express. Hand-rolled rather than struct-tag-driven,
// matching the reference implementation's choice for the same reason:
// these checks compare fields against each other and against sibling
// maps, not a single field against a static rule.
type Validator struct {
	cfg *Config
}

// NewValidator returns a Validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check in order, returning the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateDefaults(); err != nil {
		return err
	}
	if err := v.validateReactions(v.cfg.Reactions, ""); err != nil {
		return err
	}
	for name, m := range v.cfg.Methodology {
		if err := v.validateMethodology(name, m); err != nil {
			return err
		}
	}
	for id, p := range v.cfg.Projects {
		if err := v.validateProject(id, p); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateMethodology(name string, m MethodologyConfig) error {
	switch m.Type {
	case "local":
		if m.Root == "" {
			return errs.NewValidationError("methodology", name, "root", fmt.Errorf("%w: required when type=local", errs.ErrConfig))
		}
	case "github":
		if m.RepoURL == "" {
			return errs.NewValidationError("methodology", name, "repoUrl", fmt.Errorf("%w: required when type=github", errs.ErrConfig))
		}
		if m.StageDir == "" {
			return errs.NewValidationError("methodology", name, "stageDir", fmt.Errorf("%w: required when type=github", errs.ErrConfig))
		}
	default:
		return errs.NewValidationError("methodology", name, "type", fmt.Errorf("%w: invalid value %q", errs.ErrConfig, m.Type))
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.Runtime == "" {
		return errs.NewValidationError("defaults", "runtime", "", fmt.Errorf("%w: %s", errs.ErrConfig, "missing required field"))
	}
	if d.Agent == "" {
		return errs.NewValidationError("defaults", "agent", "", fmt.Errorf("%w: %s", errs.ErrConfig, "missing required field"))
	}
	if d.Workspace == "" {
		return errs.NewValidationError("defaults", "workspace", "", fmt.Errorf("%w: %s", errs.ErrConfig, "missing required field"))
	}
	return nil
}

func (v *Validator) validateProject(id string, p ProjectConfig) error {
	if p.Repo == "" {
		return errs.NewValidationError("project", id, "repo", fmt.Errorf("%w: missing required field", errs.ErrConfig))
	}
	if p.SessionPrefix == "" {
		return errs.NewValidationError("project", id, "sessionPrefix", fmt.Errorf("%w: missing required field", errs.ErrConfig))
	}
	if p.Tracker.Plugin == "" {
		return errs.NewValidationError("project", id, "tracker.plugin", fmt.Errorf("%w: missing required field", errs.ErrConfig))
	}
	for i, t := range p.Triggers {
		if t.On == "" {
			return errs.NewValidationError("project", id, fmt.Sprintf("triggers[%d].on", i), fmt.Errorf("%w: missing required field", errs.ErrConfig))
		}
		if t.Action != TriggerActionSpawn && t.Action != TriggerActionResumeSession {
			return errs.NewValidationError("project", id, fmt.Sprintf("triggers[%d].action", i), fmt.Errorf("%w: invalid value %q", errs.ErrConfig, t.Action))
		}
	}
	if p.PRP != nil && p.PRP.Enabled {
		if p.PRP.PluginPath == "" {
			return errs.NewValidationError("project", id, "prp.pluginPath", fmt.Errorf("%w: required when prp.enabled", errs.ErrConfig))
		}
		if _, ok := v.cfg.Methodology[p.PRP.PluginPath]; !ok {
			return errs.NewValidationError("project", id, "prp.pluginPath", fmt.Errorf("%w: no methodology config named %q", errs.ErrConfig, p.PRP.PluginPath))
		}
	}
	if err := v.validateReactions(p.Reactions, id); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateReactions(reactions map[string]ReactionConfig, projectID string) error {
	component := "reaction"
	id := func(key string) string {
		if projectID == "" {
			return key
		}
		return projectID + "/" + key
	}
	for key, r := range reactions {
		switch r.Action {
		case ActionSendToAgent, ActionNotify, ActionAutoMerge:
		default:
			return errs.NewValidationError(component, id(key), "action", fmt.Errorf("%w: invalid value %q", errs.ErrConfig, r.Action))
		}
		if r.EscalateAfter != "" {
			if _, _, err := ParseEscalateAfter(r.EscalateAfter); err != nil {
				return errs.NewValidationError(component, id(key), "escalateAfter", fmt.Errorf("%w: %v", errs.ErrConfig, err))
			}
		}
	}
	return nil
}

// ParseEscalateAfter parses an escalateAfter value, which is either a bare
// integer attempt-count threshold or a duration expression like "30m".
// Exactly one of the two returns is non-zero.
func ParseEscalateAfter(raw string) (count int, dur time.Duration, err error) {
	if d, derr := time.ParseDuration(raw); derr == nil {
		return 0, d, nil
	}
	if n, serr := strconv.Atoi(raw); serr == nil {
		return n, 0, nil
	}
	return 0, 0, fmt.Errorf("not a duration or integer: %q", raw)
}
