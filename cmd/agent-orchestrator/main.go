// agent-orchestrator runs the webhook receiver and the lifecycle poll
// loop that together drive autonomous agent sessions end to end.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/config"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/fakeplugins"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/lifecycle"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/metadata"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/methodology"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/notify"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/plugin"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/reaction"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/retention"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/session"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/slacknotify"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/trigger"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/webhook"
	"github.com/TrueNorthTeamsAI/agent-orchestrator/pkg/version"
	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	scratchRoot := flag.String("scratch-root",
		getEnv("SCRATCH_ROOT", "./deploy/scratch"),
		"Path to the flat-file metadata store and fake-workspace root")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	log.Printf("Starting %s", version.Full())
	log.Printf("Config directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	store, err := metadata.Open(metadata.RootFor(*scratchRoot, filepath.Join(cfg.ConfigDir(), "config.yaml")))
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}

	registry := buildRegistry(cfg, filepath.Join(*scratchRoot, "workspaces"))

	sessions := session.NewManager(store, registry, cfg, filepath.Join(*scratchRoot, "workspaces"))
	dedup := trigger.NewDedup(10 * time.Minute)
	router := notify.NewRouter(registry, cfg.NotificationRouting)
	reactions := reaction.NewEngine(sessions, router, nil)
	lifecycleMgr := lifecycle.NewManager(sessions, registry, reactions, router, cfg)
	retentionSvc := retention.NewService(sessions, 15*time.Minute)
	receiver := webhook.NewReceiver(cfg, sessions, registry, dedup)

	if d := pollInterval(); d > 0 {
		lifecycleMgr.Interval = d
	}

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  version.Full(),
			"projects": len(cfg.Projects),
		})
	})
	receiver.RegisterRoutes(ginRouter)

	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: ginRouter,
	}

	go lifecycleMgr.Run(ctx)
	retentionSvc.Start(ctx)

	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	retentionSvc.Stop()
	log.Printf("agent-orchestrator stopped")
}

func pollInterval() time.Duration {
	raw := os.Getenv("POLL_INTERVAL")
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: invalid POLL_INTERVAL %q, using default", raw)
		return 0
	}
	return d
}

// buildRegistry registers a fake implementation for every runtime/agent/
// workspace/tracker/scm/notifier plugin name referenced anywhere in cfg,
// plus a real methodology plugin (local or GitHub-backed) for every entry
// under cfg.Methodology. Concrete runtime/tracker/SCM/notifier
// integrations are external collaborators outside this module's scope
// (spec Non-goals); fakeplugins stands in so the orchestrator can be
// driven end to end against its own flat-file state without one.
func buildRegistry(cfg *config.Config, workspaceRoot string) *plugin.Registry {
	registry := plugin.NewRegistry()

	runtimes, agents, workspaces, trackers, scms, notifiers := collectPluginNames(cfg)

	for name := range runtimes {
		registry.Register(plugin.SlotRuntime, name, fakeplugins.NewRuntime())
	}
	for name := range agents {
		registry.Register(plugin.SlotAgent, name, fakeplugins.NewAgent())
	}
	for name := range workspaces {
		registry.Register(plugin.SlotWorkspace, name, fakeplugins.NewWorkspace(workspaceRoot))
	}
	for name := range trackers {
		registry.Register(plugin.SlotTracker, name, fakeplugins.NewTracker())
	}
	for name := range scms {
		registry.Register(plugin.SlotSCM, name, fakeplugins.NewSCM())
	}
	slackToken := os.Getenv("SLACK_BOT_TOKEN")
	slackChannel := os.Getenv("SLACK_CHANNEL_ID")
	for name := range notifiers {
		if name == "slack" && slackToken != "" && slackChannel != "" {
			registry.Register(plugin.SlotNotifier, name, slacknotify.NewNotifier(slackToken, slackChannel, os.Getenv("DASHBOARD_URL")))
			continue
		}
		registry.Register(plugin.SlotNotifier, name, fakeplugins.NewNotifier())
	}

	for name, m := range cfg.Methodology {
		registry.Register(plugin.SlotMethodology, name, buildMethodologyPlugin(m))
	}

	return registry
}

func buildMethodologyPlugin(m config.MethodologyConfig) contracts.MethodologyPlugin {
	switch m.Type {
	case "github":
		return methodology.NewGitHubPlugin(m.RepoURL, m.StageDir, m.Token, m.Subdirs...)
	default:
		return methodology.NewLocalPlugin(m.Root, m.Subdirs...)
	}
}

func collectPluginNames(cfg *config.Config) (runtimes, agents, workspaces, trackers, scms, notifiers map[string]struct{}) {
	runtimes = map[string]struct{}{cfg.Defaults.Runtime: {}}
	agents = map[string]struct{}{cfg.Defaults.Agent: {}}
	workspaces = map[string]struct{}{cfg.Defaults.Workspace: {}}
	trackers = map[string]struct{}{}
	scms = map[string]struct{}{}
	notifiers = map[string]struct{}{}

	addAll := func(dst map[string]struct{}, names []string) {
		for _, n := range names {
			if n != "" {
				dst[n] = struct{}{}
			}
		}
	}
	addAll(notifiers, cfg.Defaults.Notifiers)
	addAll(notifiers, cfg.NotificationRouting.Urgent)
	addAll(notifiers, cfg.NotificationRouting.Action)
	addAll(notifiers, cfg.NotificationRouting.Warning)
	addAll(notifiers, cfg.NotificationRouting.Info)

	for _, p := range cfg.Projects {
		if p.Runtime != "" {
			runtimes[p.Runtime] = struct{}{}
		}
		if p.Agent != "" {
			agents[p.Agent] = struct{}{}
		}
		if p.Tracker.Plugin != "" {
			trackers[p.Tracker.Plugin] = struct{}{}
		}
		if p.SCM != "" {
			scms[p.SCM] = struct{}{}
		}
	}
	return runtimes, agents, workspaces, trackers, scms, notifiers
}
