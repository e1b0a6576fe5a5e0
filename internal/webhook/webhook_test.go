package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/fakeplugins"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/metadata"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/session"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/trigger"
)

const githubSecret = "gh-secret"
const planeSecret = "plane-secret"

type testHarness struct {
	engine   *gin.Engine
	sessions *session.Manager
	store    *metadata.Store
	rt       *fakeplugins.Runtime
	tracker  *fakeplugins.Tracker
	cfg      *config.Config
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := metadata.Open(t.TempDir())
	require.NoError(t, err)

	reg := plugin.NewRegistry()
	rt := fakeplugins.NewRuntime()
	tracker := fakeplugins.NewTracker()
	reg.Register(plugin.SlotRuntime, "fake", rt)
	reg.Register(plugin.SlotAgent, "fake", fakeplugins.NewAgent())
	reg.Register(plugin.SlotWorkspace, "fake", fakeplugins.NewWorkspace(t.TempDir()))
	reg.Register(plugin.SlotTracker, "github", tracker)

	project := config.ProjectConfig{
		Repo:          "org/app",
		SessionPrefix: "app",
		Tracker:       config.TrackerConfig{Plugin: "github", WorkspaceID: "app-ws"},
		Triggers: []config.TriggerRule{
			{On: "issue.labeled", Label: "agent-work", Action: config.TriggerActionSpawn},
		},
		Webhooks: config.ProjectWebhooks{
			GitHub: &config.WebhookSecret{Secret: githubSecret},
			Plane:  &config.WebhookSecret{Secret: planeSecret, WorkspaceID: "app-ws"},
		},
	}

	cfg := &config.Config{
		Defaults: config.Defaults{Runtime: "fake", Agent: "fake", Workspace: "fake"},
		Projects: map[string]config.ProjectConfig{"app": project},
	}

	sessions := session.NewManager(store, reg, cfg, t.TempDir())
	receiver := NewReceiver(cfg, sessions, reg, trigger.NewDedup(10*time.Minute))

	r := gin.New()
	receiver.RegisterRoutes(r)

	return &testHarness{engine: r, sessions: sessions, store: store, rt: rt, tracker: tracker, cfg: cfg}
}

func (h *testHarness) seedSession(t *testing.T, sess *session.Session) string {
	t.Helper()
	require.NoError(t, h.store.Reserve(sess.ID))
	require.NoError(t, h.store.UpdateMerge(sess.ID, sess.MetadataMap()))
	return sess.RuntimeHandle
}

func (h *testHarness) startRuntime(t *testing.T) string {
	t.Helper()
	handle, err := h.rt.Start(context.Background(), nil, nil, "")
	require.NoError(t, err)
	return handle
}

func sign(secret, prefix string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubIssueLabeledSpawnsSession(t *testing.T) {
	h := newHarness(t)
	h.tracker.Issues["42"] = contracts.Issue{Title: "fix the thing", URL: "https://example.com/issues/42"}

	body := []byte(`{"action":"labeled","issue":{"number":42,"title":"fix the thing","html_url":"https://example.com/issues/42"},"label":{"name":"agent-work"},"repository":{"full_name":"org/app"}}`)
	sig := sign(githubSecret, "sha256=", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sig)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	sessions, err := h.sessions.List(context.Background(), "app")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.StatusSpawning, sessions[0].Status)
}

func TestGitHubDuplicateDeliveryDoesNotSpawnTwice(t *testing.T) {
	h := newHarness(t)
	h.tracker.Issues["42"] = contracts.Issue{Title: "fix the thing", URL: "https://example.com/issues/42"}

	body := []byte(`{"action":"labeled","issue":{"number":42,"title":"fix the thing","html_url":"https://example.com/issues/42"},"label":{"name":"agent-work"},"repository":{"full_name":"org/app"}}`)
	sig := sign(githubSecret, "sha256=", body)

	deliver := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
		req.Header.Set("X-GitHub-Event", "issues")
		req.Header.Set("X-Hub-Signature-256", sig)
		req.Header.Set("X-GitHub-Delivery", "delivery-dup")
		rec := httptest.NewRecorder()
		h.engine.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, deliver().Code)
	assert.Equal(t, http.StatusOK, deliver().Code)

	sessions, err := h.sessions.List(context.Background(), "app")
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "the second delivery with the same delivery id must be a no-op")
}

func TestGitHubInvalidSignatureReturns401(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"action":"labeled","issue":{"number":42},"label":{"name":"agent-work"},"repository":{"full_name":"org/app"}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGitHubMalformedJSONReturns400(t *testing.T) {
	h := newHarness(t)
	body := []byte(`not json`)
	sig := sign(githubSecret, "sha256=", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHubUnrecognizedActionIsIgnoredWith200(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"action":"closed","issue":{"number":42},"repository":{"full_name":"org/app"}}`)
	sig := sign(githubSecret, "sha256=", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	sessions, err := h.sessions.List(context.Background(), "app")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestGitHubApprovalCommentResumesGatedSession(t *testing.T) {
	h := newHarness(t)
	handle := h.startRuntime(t)
	h.seedSession(t, &session.Session{
		ID: "app-1", ProjectID: "app", Status: session.StatusWorking,
		RuntimeHandle: handle, IssueID: "https://example.com/issues/42",
		Metadata: map[string]string{"prpPhase": "plan_gate"},
	})

	body := []byte(`{"action":"created","issue":{"number":42},"comment":{"body":"LGTM, approved!"},"repository":{"full_name":"org/app"}}`)
	sig := sign(githubSecret, "sha256=", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.rt.SentTo(handle), 1)

	got, ok, err := h.sessions.Get(context.Background(), "app-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "implementing", got.Metadata["prpPhase"])
	assert.NotEmpty(t, h.tracker.Calls)
}

func TestGitHubNonApprovalCommentDoesNotResume(t *testing.T) {
	h := newHarness(t)
	handle := h.startRuntime(t)
	h.seedSession(t, &session.Session{
		ID: "app-1", ProjectID: "app", Status: session.StatusWorking,
		RuntimeHandle: handle, IssueID: "https://example.com/issues/42",
		Metadata: map[string]string{"prpPhase": "plan_gate"},
	})

	body := []byte(`{"action":"created","issue":{"number":42},"comment":{"body":"can you also fix the typo"},"repository":{"full_name":"org/app"}}`)
	sig := sign(githubSecret, "sha256=", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.rt.SentTo(handle))
}

func TestPlaneIssueCreateSpawnsSession(t *testing.T) {
	h := newHarness(t)
	h.cfg.Projects["app"] = withTrigger(h.cfg.Projects["app"], config.TriggerRule{On: "issue.opened", Action: config.TriggerActionSpawn})
	h.tracker.Issues["7"] = contracts.Issue{Title: "plane issue", URL: "https://plane.example.com/app-ws/issues/7"}

	body := []byte(`{"event":"issue","action":"create","workspace_slug":"app-ws","data":{"sequence_id":7,"name":"plane issue"}}`)
	sig := sign(planeSecret, "", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/plane", bytes.NewReader(body))
	req.Header.Set("X-Plane-Event", "issue")
	req.Header.Set("X-Plane-Signature", sig)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	sessions, err := h.sessions.List(context.Background(), "app")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func withTrigger(p config.ProjectConfig, rule config.TriggerRule) config.ProjectConfig {
	p.Triggers = append(p.Triggers, rule)
	return p
}
