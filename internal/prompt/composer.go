// Package prompt implements the Prompt Composer: layered prompt
// construction (base + tracker-derived + project extras), plus the PRP
// methodology system-prompt-file and workspace symlink step.
//
// Layering is grounded on the reference implementation's PromptBuilder
// (pkg/agent/prompt/builder.go), which composes a system message from a
// fixed instruction block, issue/alert context, and chain context, joined
// with blank-line separators — generalized here from "investigation stage"
// to "agent launch prompt".
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
)

const baseAgentPrompt = `You are an autonomous coding agent working one issue to completion.
Investigate the codebase, form a plan, implement it with your own validation
loop, open a pull request, and self-review before asking for human review.`

// Composer builds agent launch prompts and PRP system-prompt-files.
// Stateless and safe for concurrent use.
type Composer struct{}

// NewComposer returns a Composer.
func NewComposer() *Composer { return &Composer{} }

// ComposeAgentPrompt builds the layered launch prompt: base role, issue
// context (rendered by the tracker plugin's generatePrompt), and
// project-configured extra snippets, in that order (spec §4.C steps 1-3).
func (c *Composer) ComposeAgentPrompt(issuePrompt string, projectExtras []string) string {
	parts := []string{baseAgentPrompt}
	if issuePrompt != "" {
		parts = append(parts, issuePrompt)
	}
	parts = append(parts, projectExtras...)
	return strings.Join(parts, "\n\n")
}

// lifecycleBlock names the five mandatory PRP steps, fixed regardless of
// project (spec §4.C step 4a).
const lifecycleBlock = `Follow this methodology strictly, in order:
1. Investigate — understand the issue and the relevant code before changing anything.
2. Plan — write a plan artifact describing the approach.
3. Implement — make the change, validating your own work in a loop until it passes.
4. PR — open a pull request describing the change.
5. Self-review — review your own diff for mistakes before asking for human review.`

// GateOptions configures which PRP phase transitions pause for approval.
type GateOptions struct {
	Plan bool
	PR   bool
}

// ComposeSystemPromptFile builds the PRP system-prompt-file content: the
// fixed lifecycle block, an issue-specific command listing, and optional
// gate instructions (spec §4.C step 4).
func (c *Composer) ComposeSystemPromptFile(issue contracts.Issue, gates GateOptions) string {
	var b strings.Builder
	b.WriteString(lifecycleBlock)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Issue: %s\n%s\n\n", issue.Title, issue.URL)
	b.WriteString("Run these steps in order:\n")
	b.WriteString("1. /investigate\n2. /plan\n3. /implement\n4. /pr\n5. /self-review\n")

	if gates.Plan {
		b.WriteString("\nAfter completing /plan, STOP and wait for a human approval comment on the issue before running /implement.\n")
	}
	if gates.PR {
		b.WriteString("\nAfter opening the pull request, STOP and wait for human review before taking further action.\n")
	}
	return b.String()
}

// WriteSystemPromptFile writes content into scratchDir under a file named
// for sessionID and returns its path. scratchDir is a per-project scratch
// directory, never the methodology source root (spec §4.C step 5 caveat).
func (c *Composer) WriteSystemPromptFile(scratchDir, sessionID, content string) (string, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("prompt: create scratch dir: %w", err)
	}
	path := filepath.Join(scratchDir, sessionID+".system-prompt.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("prompt: write system prompt file: %w", err)
	}
	return path, nil
}

// SymlinkMethodologySubdirs symlinks each named subdirectory of
// methodologyRoot into workspacePath/.claude/, replacing any existing
// entry at the target path. Never symlinks methodologyRoot itself — only
// its named subdirectories — so the workspace's own .claude/settings.json
// (written later by the agent plugin's post-launch hook) never leaks back
// into the methodology source (spec §4.C step 5).
func (c *Composer) SymlinkMethodologySubdirs(methodologyRoot, workspacePath string, subdirs []string) error {
	claudeDir := filepath.Join(workspacePath, ".claude")
	if err := os.MkdirAll(claudeDir, 0o755); err != nil {
		return fmt.Errorf("prompt: create .claude dir: %w", err)
	}
	for _, name := range subdirs {
		src := filepath.Join(methodologyRoot, name)
		dst := filepath.Join(claudeDir, name)
		if _, err := os.Lstat(dst); err == nil {
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("prompt: replace existing %s: %w", dst, err)
			}
		}
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("prompt: symlink %s: %w", name, err)
		}
	}
	return nil
}
