package methodology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// stageTTL is how long a staged checkout is considered fresh before the
// next ContentRoot call re-fetches it, the same lazy-expiry idiom as the
// reference implementation's runbook cache (pkg/runbook/cache.go).
const stageTTL = 10 * time.Minute

// githubBlobTreePattern matches GitHub blob/tree URLs, reused from the
// reference implementation's pkg/runbook/url.go pattern.
var githubBlobTreePattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

type repoRef struct {
	owner, repo, ref, path string
}

func parseRepoURL(rawURL string) (repoRef, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return repoRef{}, fmt.Errorf("methodology: malformed repo url: %w", err)
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return repoRef{}, fmt.Errorf("methodology: not a github url: %s", parsed.Host)
	}
	m := githubBlobTreePattern.FindStringSubmatch(parsed.Path)
	if m == nil {
		return repoRef{}, fmt.Errorf("methodology: url does not match blob/tree pattern: %s", parsed.Path)
	}
	return repoRef{owner: m[1], repo: m[2], ref: m[4], path: m[5]}, nil
}

// githubClient fetches raw file content and directory listings via the
// GitHub Contents API, grounded directly on pkg/runbook/github.go.
type githubClient struct {
	httpClient *http.Client
	token      string
	// apiBase and rawBase default to the real GitHub endpoints; tests
	// override them to point at an httptest.Server.
	apiBase string
	rawBase string
}

func newGitHubClient(token string) *githubClient {
	return &githubClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		apiBase:    "https://api.github.com",
		rawBase:    "https://raw.githubusercontent.com",
	}
}

type contentItem struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

func (c *githubClient) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *githubClient) listFilesRecursive(ctx context.Context, owner, repo, ref, path string) ([]contentItem, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.apiBase, owner, repo, path, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("methodology: list contents at %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("methodology: github returned HTTP %d for %q", resp.StatusCode, path)
	}

	var items []contentItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("methodology: decode contents response: %w", err)
	}

	var files []contentItem
	for _, item := range items {
		switch item.Type {
		case "file":
			files = append(files, item)
		case "dir":
			sub, err := c.listFilesRecursive(ctx, owner, repo, ref, item.Path)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

func (c *githubClient) downloadRaw(ctx context.Context, owner, repo, ref, path string) ([]byte, error) {
	rawURL := fmt.Sprintf("%s/%s/%s/refs/heads/%s/%s", c.rawBase, owner, repo, ref, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("methodology: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("methodology: github returned HTTP %d for %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

// GitHubPlugin satisfies contracts.MethodologyPlugin by staging a GitHub
// repo path's skill/rule directories onto local disk before returning a
// root, with a TTL so every session spawn doesn't re-fetch from GitHub.
// Grounded on pkg/runbook's Cache (lazy TTL expiry, no background
// goroutine) and GitHubClient (Contents API listing + raw download),
// generalized here from "resolve one runbook file's content" to "mirror
// a whole directory tree onto disk for symlinking".
type GitHubPlugin struct {
	client   *githubClient
	repoURL  string
	stageDir string
	subdirs  []string

	mu       sync.Mutex
	stagedAt time.Time
}

// NewGitHubPlugin returns a GitHubPlugin that stages repoURL (a GitHub
// tree URL, e.g. https://github.com/org/methodology/tree/main/claude)
// under stageDir, exposing subdirs for symlinking. token may be empty
// (public repos only).
func NewGitHubPlugin(repoURL, stageDir, token string, subdirs ...string) *GitHubPlugin {
	return &GitHubPlugin{
		client:   newGitHubClient(token),
		repoURL:  repoURL,
		stageDir: stageDir,
		subdirs:  subdirs,
	}
}

func (p *GitHubPlugin) SubdirNames() []string { return p.subdirs }

// OverrideEndpointsForTest points the plugin's GitHub client at a fake
// server instead of the real GitHub API/raw hosts. Test-only.
func (p *GitHubPlugin) OverrideEndpointsForTest(apiBase, rawBase string) {
	p.client.apiBase = apiBase
	p.client.rawBase = rawBase
}

// ContentRoot ensures the repo path is staged under stageDir (re-fetching
// if the previous stage is older than stageTTL) and returns stageDir.
func (p *GitHubPlugin) ContentRoot(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stagedAt.IsZero() && time.Since(p.stagedAt) <= stageTTL {
		return p.stageDir, nil
	}

	ref, err := parseRepoURL(p.repoURL)
	if err != nil {
		return "", err
	}
	files, err := p.client.listFilesRecursive(ctx, ref.owner, ref.repo, ref.ref, ref.path)
	if err != nil {
		return "", err
	}

	for _, f := range files {
		content, err := p.client.downloadRaw(ctx, ref.owner, ref.repo, ref.ref, f.Path)
		if err != nil {
			return "", err
		}
		rel := strings.TrimPrefix(f.Path, ref.path)
		rel = strings.TrimPrefix(rel, "/")
		dest := filepath.Join(p.stageDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("methodology: stage dir: %w", err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return "", fmt.Errorf("methodology: stage file %s: %w", rel, err)
		}
	}

	p.stagedAt = time.Now()
	return p.stageDir, nil
}
