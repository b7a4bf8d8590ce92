package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"research_fetcher/internal/domain"
)

type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new active session. The partial unique index on
// (user_id, component) WHERE status = 'active' is the authority on the
// no-double-charge guarantee: a unique violation here means another session
// won the race, surfaced as ErrSessionAlreadyActive.
func (s *SessionStore) Create(ctx context.Context, sess *domain.ResearchSession) error {
	query := `
		INSERT INTO research_sessions (
			session_id, user_id, component, credits_used,
			unlocked_at, expires_at, status, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		sess.SessionID,
		sess.UserID,
		sess.Component,
		sess.CreditsUsed,
		sess.UnlockedAt,
		sess.ExpiresAt,
		sess.Status,
		sess.Metadata,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.ErrSessionAlreadyActive
	}
	return err
}

func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*domain.ResearchSession, error) {
	var sess domain.ResearchSession
	query := `
		SELECT session_id, user_id, component, credits_used,
		       unlocked_at, expires_at, status, metadata
		FROM research_sessions
		WHERE session_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &sess, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetActive returns the live session for (user, component), treating an
// active-but-expired row as absent regardless of sweeper timing.
func (s *SessionStore) GetActive(ctx context.Context, userID, component string) (*domain.ResearchSession, error) {
	var sess domain.ResearchSession
	query := `
		SELECT session_id, user_id, component, credits_used,
		       unlocked_at, expires_at, status, metadata
		FROM research_sessions
		WHERE user_id = $1 AND component = $2 AND status = 'active' AND expires_at > now()`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &sess, query, userID, component)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ExpireStale lazily retires active rows whose expiry already passed, so a
// dead session never blocks the partial unique index on a fresh unlock.
func (s *SessionStore) ExpireStale(ctx context.Context, userID, component string) error {
	query := `
		UPDATE research_sessions
		SET status = 'expired'
		WHERE user_id = $1 AND component = $2 AND status = 'active' AND expires_at <= now()`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, userID, component)
	return err
}

func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	query := `
		UPDATE research_sessions
		SET status = $2
		WHERE session_id = $1 AND status = 'active'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, sessionID, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) ListExpiredActive(ctx context.Context) ([]domain.ResearchSession, error) {
	var sessions []domain.ResearchSession
	query := `
		SELECT session_id, user_id, component, credits_used,
		       unlocked_at, expires_at, status, metadata
		FROM research_sessions
		WHERE status = 'active' AND expires_at <= now()
		ORDER BY expires_at`

	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &sessions, query)
	return sessions, err
}

func (s *SessionStore) ExpireBatch(ctx context.Context, sessionIDs []string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE research_sessions
		SET status = 'expired'
		WHERE session_id = ANY($1) AND status = 'active'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, pq.Array(sessionIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
