package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"

	"research_fetcher/internal/domain"
)

type SessionStore interface {
	Create(ctx context.Context, sess *domain.ResearchSession) error
	GetByID(ctx context.Context, sessionID string) (*domain.ResearchSession, error)
	GetActive(ctx context.Context, userID, component string) (*domain.ResearchSession, error)
	ExpireStale(ctx context.Context, userID, component string) error
	UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error
	ListExpiredActive(ctx context.Context) ([]domain.ResearchSession, error)
	ExpireBatch(ctx context.Context, sessionIDs []string) (int64, error)
}

type CacheStore interface {
	Get(ctx context.Context, sessionID, queryType, normalizedParams string) (*domain.CacheEntry, error)
	Upsert(ctx context.Context, entry *domain.CacheEntry) error
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// Charger is the credit-ledger collaborator. Charge must be attempted before
// any session row exists; Refund compensates a charge whose session lost the
// uniqueness race.
type Charger interface {
	Charge(ctx context.Context, userID, component string, credits int) error
	Refund(ctx context.Context, userID, component string, credits int) error
}

// Source executes one paced fetch for a query type and returns the parsed
// payload ready for caching.
type Source interface {
	ID() string
	Component() string
	Fetch(ctx context.Context, query domain.Query) (json.RawMessage, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event domain.AuditEvent) error
	Close() error
}
