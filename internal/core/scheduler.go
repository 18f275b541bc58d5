package core

// scheduler.go expires idle sessions in the background.
//
// The janitor is long-running and context-aware for graceful shutdown.
// Sessions with an edit or instruction in flight are never swept; they are
// picked up on a later pass once idle.

import (
	"context"
	"log/slog"
	"time"
)

// JanitorConfig holds configuration for the session janitor.
type JanitorConfig struct {
	TTL      time.Duration // Idle time before a session expires (default: 1h)
	Interval time.Duration // How often to sweep (default: 1m)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	return c
}

// StartJanitor periodically expires sessions idle for longer than the TTL.
// It sweeps immediately on start, then every Interval, and returns when ctx
// is cancelled.
func (s *Service) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()
	slog.Info("session janitor started",
		"ttl", cfg.TTL.String(),
		"interval", cfg.Interval.String(),
	)

	s.sweepIdle(ctx, cfg.TTL)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopped")
			return
		case <-ticker.C:
			s.sweepIdle(ctx, cfg.TTL)
		}
	}
}

// sweepIdle performs one expiry pass and returns the expired session ids.
func (s *Service) sweepIdle(ctx context.Context, ttl time.Duration) []string {
	start := time.Now()
	expired := s.store.Sweep(ttl)
	for _, id := range expired {
		s.audit.submit(ctx, AuditParams{Action: ActionSessionExpire, SessionID: id})
	}

	if len(expired) > 0 {
		slog.Info("expired idle sessions",
			"sessions_expired", len(expired),
			"sessions_remaining", s.store.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Debug("janitor pass found nothing to expire")
	}
	return expired
}
