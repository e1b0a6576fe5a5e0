// Package retention runs the periodic sweep that reaps terminal sessions
// past their retention age, the ambient counterpart to the on-demand
// session.Manager.Cleanup call. Grounded directly on pkg/cleanup's
// Service: same Start/Stop(context.CancelFunc + done channel) shape and
// ticker-driven loop, generalized from "soft-delete DB rows on an
// interval" to "reap flat-file sessions on an interval".
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/session"
)

const defaultInterval = 15 * time.Minute

// Service periodically calls session.Manager.Cleanup, which kills and
// archives terminal sessions whose last activity is older than
// Manager.CleanupAfter (default 7 days). A session whose runtime process
// has died is first marked killed by the List call inside Cleanup and is
// reaped only once it passes that age.
type Service struct {
	sessions *session.Manager
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService returns a retention Service sweeping sessions every
// interval (defaultInterval if zero).
func NewService(sessions *session.Manager, interval time.Duration) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{sessions: sessions, interval: interval}
}

// Start launches the background sweep loop. Calling Start twice without
// an intervening Stop is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	killed, err := s.sessions.Cleanup(ctx)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if len(killed) > 0 {
		slog.Info("retention swept sessions", "count", len(killed), "ids", killed)
	}
}
