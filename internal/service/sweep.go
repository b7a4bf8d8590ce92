package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"research_fetcher/internal/domain"
)

// SweepService reclaims expired sessions and cache entries. Every pass is
// idempotent: with nothing expired it is a no-op returning zero counts.
type SweepService struct {
	sessions  SessionStore
	cache     CacheStore
	publisher Publisher
	logger    *slog.Logger
}

func NewSweepService(
	sessions SessionStore,
	cache CacheStore,
	publisher Publisher,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		sessions:  sessions,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With("component", "sweeper"),
	}
}

// SweepSessions transitions overdue active sessions to expired, emitting one
// audit event per session before the bulk transition.
func (s *SweepService) SweepSessions(ctx context.Context) (int, error) {
	expired, err := s.sessions.ListExpiredActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, len(expired))
	for i, sess := range expired {
		ids[i] = sess.SessionID
		s.publishAudit(ctx, domain.AuditEvent{
			Type:      domain.AuditSessionExpired,
			SessionID: sess.SessionID,
			UserID:    sess.UserID,
			Component: sess.Component,
			Detail: map[string]any{
				"lifetime": sess.ExpiresAt.Sub(sess.UnlockedAt).String(),
			},
			Timestamp: time.Now().UTC(),
		})
	}

	count, err := s.sessions.ExpireBatch(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	s.logger.Info("expired sessions swept", "count", count)
	return int(count), nil
}

// SweepCache deletes entries past their own expiry, then entries orphaned by
// sessions that are no longer active (including ones expired moments ago by
// SweepSessions).
func (s *SweepService) SweepCache(ctx context.Context) (int, error) {
	expired, err := s.cache.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}

	orphaned, err := s.cache.DeleteOrphaned(ctx)
	if err != nil {
		return int(expired), fmt.Errorf("delete orphaned cache entries: %w", err)
	}

	total := int(expired + orphaned)
	if total > 0 {
		s.logger.Info("cache entries swept",
			"expired", expired,
			"orphaned", orphaned,
		)
	}
	return total, nil
}

// Sweep runs both passes, sessions first so their cache entries are caught
// as orphans in the same invocation.
func (s *SweepService) Sweep(ctx context.Context) (*domain.SweepStats, error) {
	start := time.Now()

	sessions, err := s.SweepSessions(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.SweepCache(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.SweepStats{
		ExpiredSessions:     sessions,
		ExpiredCacheEntries: entries,
		Duration:            time.Since(start),
	}, nil
}

func (s *SweepService) publishAudit(ctx context.Context, event domain.AuditEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("audit publish failed", "type", event.Type, "error", err)
	}
}
