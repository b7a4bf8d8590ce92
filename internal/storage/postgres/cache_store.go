package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"research_fetcher/internal/domain"
)

type CacheStore struct {
	db *sqlx.DB
}

func NewCacheStore(db *sqlx.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get returns a live entry for the normalized key. Expiry is lazy: a
// present-but-expired row is a miss even before the sweeper reaches it.
func (s *CacheStore) Get(ctx context.Context, sessionID, queryType, normalizedParams string) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	query := `
		SELECT session_id, query_type, normalized_params, sentiment_data,
		       api_metadata, fetched_at, expires_at, fetch_duration_ms, credits_consumed
		FROM research_cache
		WHERE session_id = $1 AND query_type = $2 AND normalized_params = $3
		  AND expires_at > now()`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &entry, query,
		sessionID, queryType, normalizedParams)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *CacheStore) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	query := `
		INSERT INTO research_cache (
			session_id, query_type, normalized_params, sentiment_data,
			api_metadata, fetched_at, expires_at, fetch_duration_ms, credits_consumed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, query_type, normalized_params) DO UPDATE SET
			sentiment_data = EXCLUDED.sentiment_data,
			api_metadata = EXCLUDED.api_metadata,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at,
			fetch_duration_ms = EXCLUDED.fetch_duration_ms,
			credits_consumed = EXCLUDED.credits_consumed`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		entry.SessionID,
		entry.QueryType,
		entry.NormalizedParams,
		entry.SentimentData,
		entry.APIMetadata,
		entry.FetchedAt,
		entry.ExpiresAt,
		entry.FetchDurationMs,
		entry.CreditsConsumed,
	)
	return err
}

func (s *CacheStore) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM research_cache WHERE session_id = $1", sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *CacheStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM research_cache WHERE expires_at <= now()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOrphaned removes entries whose owning session is no longer active,
// covering manual ends and sessions expired by the same sweep.
func (s *CacheStore) DeleteOrphaned(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM research_cache
		WHERE session_id IN (
			SELECT session_id FROM research_sessions WHERE status <> 'active'
		)`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
