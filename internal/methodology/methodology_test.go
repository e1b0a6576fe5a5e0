package methodology

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPluginReturnsConfiguredRoot(t *testing.T) {
	p := NewLocalPlugin("/srv/methodology", "skills", "rules")
	root, err := p.ContentRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/srv/methodology", root)
	assert.Equal(t, []string{"skills", "rules"}, p.SubdirNames())
}

func TestGitHubPluginStagesFilesOntoDisk(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/methodology/contents/claude", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"skills","path":"claude/skills","type":"dir"},{"name":"README.md","path":"claude/README.md","type":"file"}]`))
	})
	mux.HandleFunc("/repos/org/methodology/contents/claude/skills", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"plan.md","path":"claude/skills/plan.md","type":"file"}]`))
	})
	mux.HandleFunc("/org/methodology/refs/heads/main/claude/README.md", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# methodology"))
	})
	mux.HandleFunc("/org/methodology/refs/heads/main/claude/skills/plan.md", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plan skill content"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	stageDir := t.TempDir()
	plugin := NewGitHubPlugin("https://github.com/org/methodology/tree/main/claude", stageDir, "", "skills")
	plugin.OverrideEndpointsForTest(srv.URL, srv.URL)

	root, err := plugin.ContentRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stageDir, root)

	readme, err := os.ReadFile(filepath.Join(stageDir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# methodology", string(readme))

	plan, err := os.ReadFile(filepath.Join(stageDir, "skills", "plan.md"))
	require.NoError(t, err)
	assert.Equal(t, "plan skill content", string(plan))
}

func TestGitHubPluginDoesNotReFetchWithinTTL(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/methodology/contents/claude", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"README.md","path":"claude/README.md","type":"file"}]`))
	})
	mux.HandleFunc("/org/methodology/refs/heads/main/claude/README.md", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# methodology"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	plugin := NewGitHubPlugin("https://github.com/org/methodology/tree/main/claude", t.TempDir(), "")
	plugin.OverrideEndpointsForTest(srv.URL, srv.URL)

	_, err := plugin.ContentRoot(context.Background())
	require.NoError(t, err)
	_, err = plugin.ContentRoot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second ContentRoot call within stageTTL must not re-list the repo")
}

func TestParseRepoURLRejectsNonGitHubHost(t *testing.T) {
	_, err := parseRepoURL("https://gitlab.com/org/repo/tree/main/claude")
	assert.Error(t, err)
}
