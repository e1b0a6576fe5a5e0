package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeAgentPromptLayering(t *testing.T) {
	c := NewComposer()
	out := c.ComposeAgentPrompt("Issue context here", []string{"extra snippet"})
	assert.Contains(t, out, baseAgentPrompt)
	assert.True(t, strIndexBefore(out, baseAgentPrompt, "Issue context here"))
	assert.True(t, strIndexBefore(out, "Issue context here", "extra snippet"))
}

func strIndexBefore(haystack, a, b string) bool {
	ia := indexOf(haystack, a)
	ib := indexOf(haystack, b)
	return ia >= 0 && ib >= 0 && ia < ib
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestComposeSystemPromptFileIncludesGates(t *testing.T) {
	c := NewComposer()
	issue := contracts.Issue{Title: "Fix bug", URL: "https://example.com/issues/1"}

	withoutGates := c.ComposeSystemPromptFile(issue, GateOptions{})
	assert.NotContains(t, withoutGates, "STOP and wait")

	withGates := c.ComposeSystemPromptFile(issue, GateOptions{Plan: true, PR: true})
	assert.Contains(t, withGates, "wait for a human approval comment")
	assert.Contains(t, withGates, "wait for human review")
}

func TestWriteSystemPromptFile(t *testing.T) {
	c := NewComposer()
	dir := t.TempDir()
	path, err := c.WriteSystemPromptFile(dir, "app-1", "content")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestSymlinkMethodologySubdirsReplacesExisting(t *testing.T) {
	c := NewComposer()
	methodologyRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(methodologyRoot, "skills"), 0o755))

	workspace := t.TempDir()
	claude := filepath.Join(workspace, ".claude")
	require.NoError(t, os.MkdirAll(filepath.Join(claude, "skills"), 0o755))

	require.NoError(t, c.SymlinkMethodologySubdirs(methodologyRoot, workspace, []string{"skills"}))

	info, err := os.Lstat(filepath.Join(claude, "skills"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}
