package plugin

import (
	"fmt"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/errs"
)

// typedLookup resolves (slot, name) and type-asserts it to T, wrapping any
// miss in errs.ErrConfig the way Session Manager's spawn step 1 requires
// ("fail ConfigError if any [plugin] unresolved").
func typedLookup[T any](r *Registry, slot Slot, name string) (T, error) {
	var zero T
	v, ok := r.Get(slot, name)
	if !ok {
		return zero, errs.NewValidationError("plugin", Key(slot, name), "", fmt.Errorf("%w: not registered", errs.ErrConfig))
	}
	t, ok := v.(T)
	if !ok {
		return zero, errs.NewValidationError("plugin", Key(slot, name), "", fmt.Errorf("%w: registered value does not satisfy capability set", errs.ErrConfig))
	}
	return t, nil
}

func Runtime(r *Registry, name string) (contracts.Runtime, error) {
	return typedLookup[contracts.Runtime](r, SlotRuntime, name)
}

func AgentPlugin(r *Registry, name string) (contracts.Agent, error) {
	return typedLookup[contracts.Agent](r, SlotAgent, name)
}

func WorkspacePlugin(r *Registry, name string) (contracts.Workspace, error) {
	return typedLookup[contracts.Workspace](r, SlotWorkspace, name)
}

func TrackerPlugin(r *Registry, name string) (contracts.Tracker, error) {
	return typedLookup[contracts.Tracker](r, SlotTracker, name)
}

func SCMPlugin(r *Registry, name string) (contracts.SCM, error) {
	return typedLookup[contracts.SCM](r, SlotSCM, name)
}

func NotifierPlugin(r *Registry, name string) (contracts.Notifier, error) {
	return typedLookup[contracts.Notifier](r, SlotNotifier, name)
}

func MethodologyPlugin(r *Registry, name string) (contracts.MethodologyPlugin, error) {
	return typedLookup[contracts.MethodologyPlugin](r, SlotMethodology, name)
}
