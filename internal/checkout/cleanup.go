package checkout

import (
	"context"
	"fmt"
	"time"
)

// ExpireNow flips a pending session to expired. Safe to call for sessions
// that already reached a terminal state; the conditional transition simply
// does nothing then. Driven by the Redis keyspace-expiry subscription.
func (s *Service) ExpireNow(ctx context.Context, sessionID string) {
	won, err := s.DB.ExpireSession(ctx, sessionID)
	if err != nil {
		s.logger.Error("CLEANUP", fmt.Sprintf("Failed to expire session %s: %v", sessionID, err))
		return
	}
	if won {
		s.logger.LogSession("EXPIRED", sessionID, "session TTL elapsed")
	}
}

// Sweep expires abandoned pending sessions and strips snapshot payloads
// from terminal sessions past the retention window.
func (s *Service) Sweep(ctx context.Context) (expired, stripped int64, err error) {
	now := s.now()

	expired, err = s.DB.ExpirePendingBefore(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("expire sweep failed: %w", err)
	}
	if expired > 0 {
		s.logger.Info("CLEANUP", fmt.Sprintf("Expired %d abandoned session(s)", expired))
	}

	if s.opts.SnapshotRetention > 0 {
		stripped, err = s.DB.StripTerminalBefore(ctx, now.Add(-s.opts.SnapshotRetention))
		if err != nil {
			return expired, 0, fmt.Errorf("snapshot strip failed: %w", err)
		}
		if stripped > 0 {
			s.logger.Info("CLEANUP", fmt.Sprintf("Stripped snapshots from %d terminal session(s)", stripped))
		}
	}

	return expired, stripped, nil
}

// StartSweeper runs Sweep on the given interval until the context ends.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := s.Sweep(ctx); err != nil {
					s.logger.Error("CLEANUP", fmt.Sprintf("Sweep failed: %v", err))
				}
			}
		}
	}()
}
