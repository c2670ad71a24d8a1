package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/store"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
)

const (
	DefaultHousekeepingInterval = time.Hour
	DefaultRefreshRetention     = 30 * 24 * time.Hour
	DefaultAttemptRetention     = 90 * 24 * time.Hour
)

// Sweeper drops expired in-memory entries; *revocation.MemoryStore is one.
type Sweeper interface {
	Sweep() int
}

// HousekeepingService periodically deletes old refresh tokens and login
// attempts and trims in-memory state.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Clock    clock.Clock

	// Records are kept this long past expiry (tokens) or creation
	// (attempts) before deletion.
	RefreshRetention time.Duration
	AttemptRetention time.Duration

	Sweepers []Sweeper
	Limiters []ratelimit.Maintainer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(s store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}

	return &HousekeepingService{
		Store:            s,
		Logger:           logger,
		Interval:         interval,
		Clock:            clock.System,
		RefreshRetention: DefaultRefreshRetention,
		AttemptRetention: DefaultAttemptRetention,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// CleanupReport counts what one RunOnce removed.
type CleanupReport struct {
	RefreshTokens  int64
	LoginAttempts  int64
	RevokedEntries int
	LimitersReset  int
	Failures       int
}

// RunOnce performs a single cleanup pass. Each step is independent; a
// failing step is logged and the rest still run.
func (s *HousekeepingService) RunOnce(ctx context.Context) CleanupReport {
	var report CleanupReport
	now := clock.Or(s.Clock).Now()

	n, err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now.Add(-s.RefreshRetention))
	if err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
		report.Failures++
	}
	report.RefreshTokens = n

	n, err = s.Store.LoginAttempts().DeleteLoginAttemptsBefore(ctx, now.Add(-s.AttemptRetention))
	if err != nil {
		s.Logger.Error("failed to delete old login attempts", "error", err)
		report.Failures++
	}
	report.LoginAttempts = n

	for _, sw := range s.Sweepers {
		report.RevokedEntries += sw.Sweep()
	}
	for _, l := range s.Limiters {
		if l.Maintain() {
			report.LimitersReset++
		}
	}

	s.Logger.Info("housekeeping cleanup completed",
		"refresh_tokens", report.RefreshTokens,
		"login_attempts", report.LoginAttempts,
		"revoked_entries", report.RevokedEntries,
		"limiters_reset", report.LimitersReset,
		"failures", report.Failures,
	)
	return report
}
