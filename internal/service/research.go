package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"research_fetcher/internal/config"
	"research_fetcher/internal/domain"
)

// ResearchService answers queries from the session-scoped cache, fetching
// through a source's pacer only on a miss so identical requests inside a
// session are never re-fetched or re-charged.
type ResearchService struct {
	sessions SessionStore
	cache    CacheStore
	sources  map[string]Source
	logger   *slog.Logger
	cfg      *config.Config
}

func NewResearchService(
	sessions SessionStore,
	cache CacheStore,
	sources []Source,
	logger *slog.Logger,
	cfg *config.Config,
) *ResearchService {
	byType := make(map[string]Source, len(sources))
	for _, src := range sources {
		byType[src.ID()] = src
	}
	return &ResearchService{
		sessions: sessions,
		cache:    cache,
		sources:  byType,
		logger:   logger.With("component", "research"),
		cfg:      cfg,
	}
}

func (s *ResearchService) Research(ctx context.Context, userID string, query domain.Query) (*domain.ResearchResult, error) {
	normalizedParams, err := NormalizeParams(query)
	if err != nil {
		return nil, err
	}

	src, ok := s.sources[query.QueryType]
	if !ok {
		return nil, fmt.Errorf("unknown query type %q", query.QueryType)
	}

	sess, err := s.sessions.GetActive(ctx, userID, src.Component())
	if err != nil {
		return nil, err
	}

	entry, err := s.cache.Get(ctx, sess.SessionID, query.QueryType, normalizedParams)
	if err == nil {
		s.logger.Debug("cache hit",
			"session_id", sess.SessionID,
			"query_type", query.QueryType,
		)
		return &domain.ResearchResult{
			Payload:   entry.SentimentData,
			CacheHit:  true,
			FetchedAt: entry.FetchedAt,
			ExpiresAt: entry.ExpiresAt,
		}, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	start := time.Now()
	payload, err := src.Fetch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", query.QueryType, err)
	}
	fetchDuration := time.Since(start)

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.Cache.FreshnessTTL)
	if sess.ExpiresAt.Before(expiresAt) {
		// The tighter bound wins: a cache entry never outlives its session.
		expiresAt = sess.ExpiresAt
	}

	cacheEntry := &domain.CacheEntry{
		SessionID:        sess.SessionID,
		QueryType:        query.QueryType,
		NormalizedParams: normalizedParams,
		SentimentData:    payload,
		APIMetadata:      apiMetadata(src, fetchDuration),
		FetchedAt:        now,
		ExpiresAt:        expiresAt,
		FetchDurationMs:  fetchDuration.Milliseconds(),
		CreditsConsumed:  0,
	}

	if err := s.cache.Upsert(ctx, cacheEntry); err != nil {
		// The data is already in hand; a failed memoization should not turn
		// a successful fetch into a user-facing failure.
		s.logger.Warn("cache store failed",
			"session_id", sess.SessionID,
			"query_type", query.QueryType,
			"error", err,
		)
	}

	s.logger.Info("query fetched",
		"session_id", sess.SessionID,
		"query_type", query.QueryType,
		"duration_ms", fetchDuration.Milliseconds(),
		"expires_at", expiresAt,
	)

	return &domain.ResearchResult{
		Payload:   payload,
		CacheHit:  false,
		FetchedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

func apiMetadata(src Source, fetchDuration time.Duration) json.RawMessage {
	meta, err := json.Marshal(map[string]any{
		"source":          src.ID(),
		"fetchDurationMs": fetchDuration.Milliseconds(),
	})
	if err != nil {
		return json.RawMessage("{}")
	}
	return meta
}
