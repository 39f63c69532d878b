package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const DefaultTokenCleanupInterval = time.Hour

// StartTokenCleaner periodically purges expired bearer tokens until ctx ends.
func (s *Service) StartTokenCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTokenCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.PurgeExpiredTokens(ctx); err != nil {
				slog.Error("cleanup tokens failed", "component", "assistant", "err", err)
			} else if n > 0 {
				slog.Info("expired tokens purged", "component", "assistant", "count", n)
			}
		}
	}
}

// PurgeExpiredTokens deletes tokens past their expiry and reports how many went.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purged rows: %w", err)
	}
	return n, nil
}
