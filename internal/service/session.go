package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"research_fetcher/internal/config"
	"research_fetcher/internal/domain"
)

// SessionService owns the credit-gated session lifecycle: unlock, manual
// end, and the no-double-charge guarantee.
type SessionService struct {
	sessions  SessionStore
	cache     CacheStore
	charger   Charger
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	cfg       *config.Config
}

func NewSessionService(
	sessions SessionStore,
	cache CacheStore,
	charger Charger,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg *config.Config,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		cache:     cache,
		charger:   charger,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "sessions"),
		cfg:       cfg,
	}
}

// StartSession charges the user and creates an active session for the
// component. The active-session pre-check is only a fast path; the partial
// unique index behind SessionStore.Create is what actually decides a race,
// and the loser's charge is refunded.
func (s *SessionService) StartSession(ctx context.Context, userID, component string, creditCost int, tier string) (*domain.ResearchSession, error) {
	if err := s.sessions.ExpireStale(ctx, userID, component); err != nil {
		return nil, fmt.Errorf("expire stale sessions: %w", err)
	}

	if _, err := s.sessions.GetActive(ctx, userID, component); err == nil {
		return nil, domain.ErrSessionAlreadyActive
	} else if !errors.Is(err, domain.ErrNoActiveSession) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	if err := s.charger.Charge(ctx, userID, component, creditCost); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChargeFailed, err)
	}

	duration := s.cfg.SessionDuration(tier)
	now := time.Now().UTC()

	metadata, err := json.Marshal(map[string]string{
		"tier":     tier,
		"duration": duration.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session metadata: %w", err)
	}

	sess := &domain.ResearchSession{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		Component:   component,
		CreditsUsed: creditCost,
		UnlockedAt:  now,
		ExpiresAt:   now.Add(duration),
		Status:      domain.SessionActive,
		Metadata:    metadata,
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrSessionAlreadyActive) {
			// Lost the race after charging; give the credits back.
			if refundErr := s.charger.Refund(ctx, userID, component, creditCost); refundErr != nil {
				s.logger.Error("refund after lost unlock race failed",
					"user_id", userID,
					"component", component,
					"credits", creditCost,
					"error", refundErr,
				)
			}
			return nil, domain.ErrSessionAlreadyActive
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.publishAudit(ctx, domain.AuditEvent{
		Type:      domain.AuditSessionStarted,
		SessionID: sess.SessionID,
		UserID:    userID,
		Component: component,
		Detail: map[string]any{
			"tier":     tier,
			"credits":  creditCost,
			"duration": duration.String(),
		},
		Timestamp: now,
	})

	s.logger.Info("session started",
		"session_id", sess.SessionID,
		"user_id", userID,
		"component", component,
		"expires_at", sess.ExpiresAt,
	)

	return sess, nil
}

// EndSession transitions a session out of active on explicit user action and
// cascades its cache entries away in the same transaction.
func (s *SessionService) EndSession(ctx context.Context, sessionID, reason string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.sessions.UpdateStatus(txCtx, sessionID, domain.SessionManualEnd); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if _, err := s.cache.DeleteBySession(txCtx, sessionID); err != nil {
			return fmt.Errorf("cascade cache delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishAudit(ctx, domain.AuditEvent{
		Type:      domain.AuditSessionEnded,
		SessionID: sessionID,
		UserID:    sess.UserID,
		Component: sess.Component,
		Detail:    map[string]any{"reason": reason},
		Timestamp: time.Now().UTC(),
	})

	s.logger.Info("session ended",
		"session_id", sessionID,
		"reason", reason,
	)

	return nil
}

func (s *SessionService) publishAudit(ctx context.Context, event domain.AuditEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("audit publish failed", "type", event.Type, "error", err)
	}
}
