//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"research_fetcher/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_init.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM research_cache")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM research_sessions")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) newSession(userID, component string, expiresAt time.Time) *domain.ResearchSession {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.ResearchSession{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		Component:   component,
		CreditsUsed: 5,
		UnlockedAt:  now,
		ExpiresAt:   expiresAt.Truncate(time.Microsecond),
		Status:      domain.SessionActive,
		Metadata:    json.RawMessage(`{"tier":"free"}`),
	}
}

func (s *PostgresIntegrationSuite) TestSessionStore_CreateAndGetActive() {
	store := NewSessionStore(s.db)
	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))

	err := store.Create(s.ctx, sess)
	s.NoError(err)

	active, err := store.GetActive(s.ctx, "user-1", "earningsMonitor")
	s.NoError(err)
	s.Equal(sess.SessionID, active.SessionID)
	s.Equal(domain.SessionActive, active.Status)
}

func (s *PostgresIntegrationSuite) TestSessionStore_Create_OnlyOneWinner() {
	store := NewSessionStore(s.db)
	expiresAt := time.Now().UTC().Add(time.Hour)

	first := s.newSession("user-1", "earningsMonitor", expiresAt)
	err := store.Create(s.ctx, first)
	s.NoError(err)

	second := s.newSession("user-1", "earningsMonitor", expiresAt)
	err = store.Create(s.ctx, second)
	s.ErrorIs(err, domain.ErrSessionAlreadyActive)

	// A different component for the same user is not blocked.
	other := s.newSession("user-1", "insiderTrading", expiresAt)
	err = store.Create(s.ctx, other)
	s.NoError(err)
}

func (s *PostgresIntegrationSuite) TestSessionStore_ConcurrentCreateOneWinner() {
	store := NewSessionStore(s.db)
	expiresAt := time.Now().UTC().Add(time.Hour)

	const attempts = 8
	start := make(chan struct{})
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		sess := s.newSession("user-race", "earningsMonitor", expiresAt)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- store.Create(s.ctx, sess)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var winners, conflicts int
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrSessionAlreadyActive):
			conflicts++
		default:
			s.Require().NoError(err)
		}
	}
	s.Equal(1, winners)
	s.Equal(attempts-1, conflicts)

	var count int
	err := s.db.GetContext(s.ctx, &count,
		"SELECT COUNT(*) FROM research_sessions WHERE user_id = $1 AND status = 'active'", "user-race")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestSessionStore_ExpiredRowDoesNotBlockNewUnlock() {
	store := NewSessionStore(s.db)

	stale := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(-time.Minute))
	err := store.Create(s.ctx, stale)
	s.NoError(err)

	// Overdue but still marked active; GetActive must not see it.
	_, err = store.GetActive(s.ctx, "user-1", "earningsMonitor")
	s.ErrorIs(err, domain.ErrNoActiveSession)

	err = store.ExpireStale(s.ctx, "user-1", "earningsMonitor")
	s.NoError(err)

	fresh := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	err = store.Create(s.ctx, fresh)
	s.NoError(err)
}

func (s *PostgresIntegrationSuite) TestSessionStore_UpdateStatus() {
	store := NewSessionStore(s.db)
	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(store.Create(s.ctx, sess))

	err := store.UpdateStatus(s.ctx, sess.SessionID, domain.SessionManualEnd)
	s.NoError(err)

	got, err := store.GetByID(s.ctx, sess.SessionID)
	s.NoError(err)
	s.Equal(domain.SessionManualEnd, got.Status)

	// Already out of active; a second transition is a no-op error.
	err = store.UpdateStatus(s.ctx, sess.SessionID, domain.SessionExpired)
	s.ErrorIs(err, domain.ErrSessionNotFound)
}

func (s *PostgresIntegrationSuite) TestSessionStore_ListAndExpireBatch() {
	store := NewSessionStore(s.db)

	overdue1 := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(-time.Hour))
	overdue2 := s.newSession("user-2", "earningsMonitor", time.Now().UTC().Add(-time.Minute))
	live := s.newSession("user-3", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(store.Create(s.ctx, overdue1))
	s.NoError(store.Create(s.ctx, overdue2))
	s.NoError(store.Create(s.ctx, live))

	expired, err := store.ListExpiredActive(s.ctx)
	s.NoError(err)
	s.Len(expired, 2)
	s.Equal(overdue1.SessionID, expired[0].SessionID)
	s.Equal(overdue2.SessionID, expired[1].SessionID)

	count, err := store.ExpireBatch(s.ctx, []string{overdue1.SessionID, overdue2.SessionID})
	s.NoError(err)
	s.Equal(int64(2), count)

	expired, err = store.ListExpiredActive(s.ctx)
	s.NoError(err)
	s.Len(expired, 0)
}

func (s *PostgresIntegrationSuite) newCacheEntry(sessionID string, expiresAt time.Time) *domain.CacheEntry {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.CacheEntry{
		SessionID:        sessionID,
		QueryType:        "earnings_calendar",
		NormalizedParams: "earnings_calendar:" + uuid.NewString()[:16],
		SentimentData:    json.RawMessage(`{"records":[]}`),
		APIMetadata:      json.RawMessage(`{"source":"earnings_calendar"}`),
		FetchedAt:        now,
		ExpiresAt:        expiresAt.Truncate(time.Microsecond),
		FetchDurationMs:  120,
	}
}

func (s *PostgresIntegrationSuite) TestCacheStore_UpsertAndGet() {
	sessions := NewSessionStore(s.db)
	cache := NewCacheStore(s.db)

	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(sessions.Create(s.ctx, sess))

	entry := s.newCacheEntry(sess.SessionID, time.Now().UTC().Add(30*time.Minute))
	s.NoError(cache.Upsert(s.ctx, entry))

	got, err := cache.Get(s.ctx, sess.SessionID, entry.QueryType, entry.NormalizedParams)
	s.NoError(err)
	s.JSONEq(string(entry.SentimentData), string(got.SentimentData))

	// Same key again replaces the payload.
	entry.SentimentData = json.RawMessage(`{"records":[{"symbol":"AAPL"}]}`)
	s.NoError(cache.Upsert(s.ctx, entry))

	got, err = cache.Get(s.ctx, sess.SessionID, entry.QueryType, entry.NormalizedParams)
	s.NoError(err)
	s.JSONEq(string(entry.SentimentData), string(got.SentimentData))
}

func (s *PostgresIntegrationSuite) TestCacheStore_ExpiredEntryIsMiss() {
	sessions := NewSessionStore(s.db)
	cache := NewCacheStore(s.db)

	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(sessions.Create(s.ctx, sess))

	entry := s.newCacheEntry(sess.SessionID, time.Now().UTC().Add(-time.Second))
	s.NoError(cache.Upsert(s.ctx, entry))

	_, err := cache.Get(s.ctx, sess.SessionID, entry.QueryType, entry.NormalizedParams)
	s.ErrorIs(err, domain.ErrCacheMiss)
}

func (s *PostgresIntegrationSuite) TestCacheStore_DeleteExpiredAndOrphaned() {
	sessions := NewSessionStore(s.db)
	cache := NewCacheStore(s.db)

	liveSess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	endedSess := s.newSession("user-2", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(sessions.Create(s.ctx, liveSess))
	s.NoError(sessions.Create(s.ctx, endedSess))

	liveEntry := s.newCacheEntry(liveSess.SessionID, time.Now().UTC().Add(time.Hour))
	staleEntry := s.newCacheEntry(liveSess.SessionID, time.Now().UTC().Add(-time.Minute))
	orphanEntry := s.newCacheEntry(endedSess.SessionID, time.Now().UTC().Add(time.Hour))
	s.NoError(cache.Upsert(s.ctx, liveEntry))
	s.NoError(cache.Upsert(s.ctx, staleEntry))
	s.NoError(cache.Upsert(s.ctx, orphanEntry))

	s.NoError(sessions.UpdateStatus(s.ctx, endedSess.SessionID, domain.SessionManualEnd))

	expired, err := cache.DeleteExpired(s.ctx)
	s.NoError(err)
	s.Equal(int64(1), expired)

	orphaned, err := cache.DeleteOrphaned(s.ctx)
	s.NoError(err)
	s.Equal(int64(1), orphaned)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM research_cache")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestCacheStore_CascadeOnSessionDelete() {
	sessions := NewSessionStore(s.db)
	cache := NewCacheStore(s.db)

	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(sessions.Create(s.ctx, sess))
	s.NoError(cache.Upsert(s.ctx, s.newCacheEntry(sess.SessionID, time.Now().UTC().Add(time.Hour))))

	_, err := s.db.ExecContext(s.ctx, "DELETE FROM research_sessions WHERE session_id = $1", sess.SessionID)
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM research_cache WHERE session_id = $1", sess.SessionID)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	sessions := NewSessionStore(s.db)
	cache := NewCacheStore(s.db)

	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(sessions.Create(s.ctx, sess))
	s.NoError(cache.Upsert(s.ctx, s.newCacheEntry(sess.SessionID, time.Now().UTC().Add(time.Hour))))

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := sessions.UpdateStatus(ctx, sess.SessionID, domain.SessionManualEnd); err != nil {
			return err
		}
		if _, err := cache.DeleteBySession(ctx, sess.SessionID); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	got, err := sessions.GetByID(s.ctx, sess.SessionID)
	s.NoError(err)
	s.Equal(domain.SessionActive, got.Status)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM research_cache WHERE session_id = $1", sess.SessionID)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	sessions := NewSessionStore(s.db)
	cache := NewCacheStore(s.db)

	sess := s.newSession("user-1", "earningsMonitor", time.Now().UTC().Add(time.Hour))
	s.NoError(sessions.Create(s.ctx, sess))
	s.NoError(cache.Upsert(s.ctx, s.newCacheEntry(sess.SessionID, time.Now().UTC().Add(time.Hour))))

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := sessions.UpdateStatus(ctx, sess.SessionID, domain.SessionManualEnd); err != nil {
			return err
		}
		_, err := cache.DeleteBySession(ctx, sess.SessionID)
		return err
	})
	s.NoError(err)

	got, err := sessions.GetByID(s.ctx, sess.SessionID)
	s.NoError(err)
	s.Equal(domain.SessionManualEnd, got.Status)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM research_cache WHERE session_id = $1", sess.SessionID)
	s.NoError(err)
	s.Equal(0, count)
}
