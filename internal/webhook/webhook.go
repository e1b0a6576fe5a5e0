// Package webhook implements the Webhook Receiver (spec §4.E): raw-body
// HMAC verification, provider-specific normalization into a Trigger
// Event, and dispatch to the Trigger Engine or the gate-resume path.
//
// Grounded on the reference implementation's pkg/api/handlers.go gin
// idiom (gin.Context, gin.H) for request handling; the body is read raw
// and checked with json.Valid rather than bound with ShouldBindJSON, with
// the signature-before-parse ordering translated from spec §4.E step 1
// rather than from any one reference handler (the reference API has no
// webhook endpoint of its own).
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/session"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/trigger"
)

// approvalPattern matches a plan-gate approval comment (spec §4.E "Gate
// resume path").
var approvalPattern = regexp.MustCompile(`(?i)\b(approved?|lgtm|proceed|go ahead)\b`)

// Receiver handles the github and plane webhook endpoints.
type Receiver struct {
	cfg      *config.Config
	sessions *session.Manager
	registry *plugin.Registry
	dedup    *trigger.Dedup

	// Now is the time source used for dedup; overridable in tests.
	Now func() time.Time
}

// NewReceiver returns a Receiver dispatching spawn decisions through
// sessions and reading project configuration from cfg. dedup should be
// shared with anything else that needs delivery-id idempotency across the
// process lifetime (spec I5).
func NewReceiver(cfg *config.Config, sessions *session.Manager, registry *plugin.Registry, dedup *trigger.Dedup) *Receiver {
	return &Receiver{cfg: cfg, sessions: sessions, registry: registry, dedup: dedup, Now: time.Now}
}

// RegisterRoutes wires the two webhook endpoints onto router.
func (r *Receiver) RegisterRoutes(router gin.IRouter) {
	router.POST("/api/webhooks/github", r.handleGitHub)
	router.POST("/api/webhooks/plane", r.handlePlane)
}

func (r *Receiver) handleGitHub(c *gin.Context) { r.handle(c, "github") }
func (r *Receiver) handlePlane(c *gin.Context)  { r.handle(c, "plane") }

// handle implements spec §4.E steps 1-5 for either provider.
func (r *Receiver) handle(c *gin.Context, provider string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	signature := signatureHeader(c, provider)
	projectID, project, ok := identifyProject(r.cfg, provider, body, signature)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	event, handled := normalize(provider, c.GetHeader(eventHeaderName(provider)), body)
	if !handled {
		// Recognized signature, unrecognized or irrelevant event kind:
		// still a successful delivery (spec §4.E step 5).
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	event.DeliveryID = c.GetHeader(deliveryHeaderName(provider))

	ctx := c.Request.Context()

	if event.Event == trigger.EventIssueComment {
		r.handleGateResume(ctx, projectID, project, event)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	decision, matched := trigger.Evaluate(ctx, event, r.cfg, sessionListerAdapter{r.sessions}, r.dedup, r.Now())
	if matched {
		r.spawn(ctx, decision)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// spawn invokes the Session Manager and fires a tracker comment
// confirming the new session, without blocking the webhook response on
// its delivery (spec §4.E step 4 "fire-and-forget").
func (r *Receiver) spawn(ctx context.Context, decision *trigger.Decision) {
	sess, err := r.sessions.Spawn(ctx, session.SpawnParams{
		ProjectID: decision.ProjectID,
		IssueID:   decision.IssueID,
	})
	if err != nil {
		slog.Warn("webhook: spawn failed", "project", decision.ProjectID, "issue", decision.IssueID, "error", err)
		return
	}

	project, ok := r.cfg.Projects[decision.ProjectID]
	if !ok {
		return
	}
	go r.postComment(context.Background(), project, decision.IssueID, "Spawned session "+sess.ID+" for this issue.", "")
}

// handleGateResume implements spec §4.E's gate resume path.
func (r *Receiver) handleGateResume(ctx context.Context, projectID string, project config.ProjectConfig, event trigger.Event) {
	sessions, err := r.sessions.List(ctx, projectID)
	if err != nil {
		slog.Warn("webhook: gate resume list failed", "project", projectID, "error", err)
		return
	}

	want := trigger.IssueIdentifier(event.Issue)
	var target *session.Session
	for _, s := range sessions {
		if session.IsTerminal(s.Status) {
			continue
		}
		if s.Metadata["prpPhase"] != "plan_gate" {
			continue
		}
		if !strings.Contains(s.IssueID, want) {
			continue
		}
		target = s
		break
	}
	if target == nil {
		return
	}
	if !approvalPattern.MatchString(event.CommentBody) {
		return
	}

	if err := r.sessions.Send(ctx, target.ID, "Plan approved. Resuming implementation."); err != nil {
		slog.Warn("webhook: gate resume send failed", "session", target.ID, "error", err)
		return
	}
	if err := r.sessions.UpdateMetadataFields(ctx, target.ID, map[string]string{"prpPhase": "implementing"}); err != nil {
		slog.Warn("webhook: gate resume metadata update failed", "session", target.ID, "error", err)
	}
	r.postComment(ctx, project, target.IssueID, "Plan approved — resuming implementation.", "")
}

// postComment writes a best-effort tracker comment; failures are logged,
// never surfaced (webhook delivery never fails because a writeback did).
func (r *Receiver) postComment(ctx context.Context, project config.ProjectConfig, issueID, comment, status string) {
	tracker, err := plugin.TrackerPlugin(r.registry, project.Tracker.Plugin)
	if err != nil {
		return
	}
	if err := tracker.UpdateIssue(ctx, issueID, "", comment, status); err != nil {
		slog.Warn("webhook: tracker writeback failed", "issue", issueID, "error", err)
	}
}

// sessionListerAdapter adapts *session.Manager to trigger.SessionLister.
type sessionListerAdapter struct{ mgr *session.Manager }

func (a sessionListerAdapter) List(ctx context.Context, projectID string) ([]trigger.SessionRef, error) {
	sessions, err := a.mgr.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]trigger.SessionRef, len(sessions))
	for i, s := range sessions {
		out[i] = trigger.SessionRef{ID: s.ID, IssueID: s.IssueID, Status: string(s.Status)}
	}
	return out, nil
}

// signatureHeader returns the raw signature header value for provider.
func signatureHeader(c *gin.Context, provider string) string {
	if provider == "github" {
		return c.GetHeader("X-Hub-Signature-256")
	}
	return c.GetHeader("X-Plane-Signature")
}

func eventHeaderName(provider string) string {
	if provider == "github" {
		return "X-GitHub-Event"
	}
	return "X-Plane-Event"
}

// deliveryHeaderName returns the per-provider header carrying the unique
// delivery id the dedup guard (I5) keys on.
func deliveryHeaderName(provider string) string {
	if provider == "github" {
		return "X-GitHub-Delivery"
	}
	return "X-Plane-Delivery-Id"
}

// identifyProject finds the first project (sorted by id for determinism)
// configured with a webhook secret for provider whose HMAC matches body,
// returning that project. There is no way to know which project a
// delivery belongs to before verifying it, since the payload isn't parsed
// yet, so every candidate secret is tried.
func identifyProject(cfg *config.Config, provider string, body []byte, signature string) (string, config.ProjectConfig, bool) {
	if signature == "" {
		return "", config.ProjectConfig{}, false
	}
	ids := make([]string, 0, len(cfg.Projects))
	for id := range cfg.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := cfg.Projects[id]
		secret := webhookSecret(p, provider)
		if secret == "" {
			continue
		}
		if verifyHMAC(body, secret, signature, provider) {
			return id, p, true
		}
	}
	return "", config.ProjectConfig{}, false
}

func webhookSecret(p config.ProjectConfig, provider string) string {
	switch provider {
	case "github":
		if p.Webhooks.GitHub != nil {
			return p.Webhooks.GitHub.Secret
		}
	case "plane":
		if p.Webhooks.Plane != nil {
			return p.Webhooks.Plane.Secret
		}
	}
	return ""
}

// verifyHMAC computes HMAC-SHA256 of body with secret and compares it in
// constant time against signature (spec §4.E step 1). GitHub prefixes the
// header with "sha256="; Plane sends bare hex.
func verifyHMAC(body []byte, secret, signature, provider string) bool {
	if provider == "github" {
		signature = strings.TrimPrefix(signature, "sha256=")
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(given, expected) == 1
}
