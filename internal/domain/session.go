package domain

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionExpired   SessionStatus = "expired"
	SessionManualEnd SessionStatus = "manual_end"
)

// ResearchSession is a paid, time-boxed unlock of one data component for one
// user. Once the status leaves "active" the row is immutable apart from audit
// metadata.
type ResearchSession struct {
	SessionID   string          `db:"session_id"`
	UserID      string          `db:"user_id"`
	Component   string          `db:"component"`
	CreditsUsed int             `db:"credits_used"`
	UnlockedAt  time.Time       `db:"unlocked_at"`
	ExpiresAt   time.Time       `db:"expires_at"`
	Status      SessionStatus   `db:"status"`
	Metadata    json.RawMessage `db:"metadata"`
}

// CacheEntry memoizes one successful fetch inside a session. ExpiresAt is
// min(session.ExpiresAt, FetchedAt+freshness TTL), so an entry never outlives
// its owning session nor its own freshness window.
type CacheEntry struct {
	SessionID        string          `db:"session_id"`
	QueryType        string          `db:"query_type"`
	NormalizedParams string          `db:"normalized_params"`
	SentimentData    json.RawMessage `db:"sentiment_data"`
	APIMetadata      json.RawMessage `db:"api_metadata"`
	FetchedAt        time.Time       `db:"fetched_at"`
	ExpiresAt        time.Time       `db:"expires_at"`
	FetchDurationMs  int64           `db:"fetch_duration_ms"`
	CreditsConsumed  int             `db:"credits_consumed"`
}

// Query identifies one research request. List-valued fields are sorted during
// key normalization so parameter order never splits the cache.
type Query struct {
	QueryType  string   `json:"queryType"`
	Tickers    []string `json:"tickers,omitempty"`
	TimeRange  string   `json:"timeRange,omitempty"`
	Subreddits []string `json:"subreddits,omitempty"`
}

// ResearchResult is what a cached or freshly fetched query returns.
type ResearchResult struct {
	Payload   json.RawMessage `json:"payload"`
	CacheHit  bool            `json:"cacheHit"`
	FetchedAt time.Time       `json:"fetchedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// SweepStats reports one sweep pass.
type SweepStats struct {
	ExpiredSessions     int
	ExpiredCacheEntries int
	Duration            time.Duration
}
