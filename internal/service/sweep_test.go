package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"research_fetcher/internal/domain"
	"research_fetcher/internal/service/mocks"
)

type SweepServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	sessions  *mocks.MockSessionStore
	cache     *mocks.MockCacheStore
	publisher *mocks.MockPublisher

	service *SweepService
}

func (s *SweepServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.sessions = mocks.NewMockSessionStore(s.ctrl)
	s.cache = mocks.NewMockCacheStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewSweepService(s.sessions, s.cache, s.publisher, logger)
}

func (s *SweepServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSweepServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SweepServiceTestSuite))
}

func (s *SweepServiceTestSuite) TestSweepSessions_ExpiresOverdue() {
	ctx := context.Background()
	now := time.Now().UTC()

	expired := []domain.ResearchSession{
		{
			SessionID:  "sess-1",
			UserID:     "user-1",
			Component:  "earningsMonitor",
			UnlockedAt: now.Add(-time.Hour),
			ExpiresAt:  now.Add(-30 * time.Minute),
		},
		{
			SessionID:  "sess-2",
			UserID:     "user-2",
			Component:  "insiderTrading",
			UnlockedAt: now.Add(-2 * time.Hour),
			ExpiresAt:  now.Add(-time.Minute),
		},
	}

	s.sessions.EXPECT().ListExpiredActive(ctx).Return(expired, nil)

	var audited []string
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, event domain.AuditEvent) error {
			s.Equal(domain.AuditSessionExpired, event.Type)
			audited = append(audited, event.SessionID)
			return nil
		},
	).Times(2)

	s.sessions.EXPECT().ExpireBatch(ctx, []string{"sess-1", "sess-2"}).Return(int64(2), nil)

	count, err := s.service.SweepSessions(ctx)

	s.NoError(err)
	s.Equal(2, count)
	s.Equal([]string{"sess-1", "sess-2"}, audited)
}

func (s *SweepServiceTestSuite) TestSweepSessions_NothingExpired() {
	ctx := context.Background()

	s.sessions.EXPECT().ListExpiredActive(ctx).Return(nil, nil)

	count, err := s.service.SweepSessions(ctx)

	s.NoError(err)
	s.Equal(0, count)
}

func (s *SweepServiceTestSuite) TestSweepSessions_ListError() {
	ctx := context.Background()

	s.sessions.EXPECT().ListExpiredActive(ctx).Return(nil, errors.New("db down"))

	count, err := s.service.SweepSessions(ctx)

	s.Error(err)
	s.Contains(err.Error(), "list expired sessions")
	s.Equal(0, count)
}

func (s *SweepServiceTestSuite) TestSweepCache_CountsExpiredAndOrphaned() {
	ctx := context.Background()

	s.cache.EXPECT().DeleteExpired(ctx).Return(int64(4), nil)
	s.cache.EXPECT().DeleteOrphaned(ctx).Return(int64(2), nil)

	count, err := s.service.SweepCache(ctx)

	s.NoError(err)
	s.Equal(6, count)
}

func (s *SweepServiceTestSuite) TestSweepCache_OrphanError() {
	ctx := context.Background()

	s.cache.EXPECT().DeleteExpired(ctx).Return(int64(4), nil)
	s.cache.EXPECT().DeleteOrphaned(ctx).Return(int64(0), errors.New("db down"))

	count, err := s.service.SweepCache(ctx)

	s.Error(err)
	s.Contains(err.Error(), "delete orphaned")
	s.Equal(4, count)
}

func (s *SweepServiceTestSuite) TestSweep_SessionsBeforeCache() {
	ctx := context.Background()

	gomock.InOrder(
		s.sessions.EXPECT().ListExpiredActive(ctx).Return(nil, nil),
		s.cache.EXPECT().DeleteExpired(ctx).Return(int64(1), nil),
		s.cache.EXPECT().DeleteOrphaned(ctx).Return(int64(0), nil),
	)

	stats, err := s.service.Sweep(ctx)

	s.NoError(err)
	s.Require().NotNil(stats)
	s.Equal(0, stats.ExpiredSessions)
	s.Equal(1, stats.ExpiredCacheEntries)
}

func (s *SweepServiceTestSuite) TestSweep_Idempotent() {
	ctx := context.Background()

	s.sessions.EXPECT().ListExpiredActive(ctx).Return(nil, nil).Times(2)
	s.cache.EXPECT().DeleteExpired(ctx).Return(int64(0), nil).Times(2)
	s.cache.EXPECT().DeleteOrphaned(ctx).Return(int64(0), nil).Times(2)

	for i := 0; i < 2; i++ {
		stats, err := s.service.Sweep(ctx)
		s.NoError(err)
		s.Equal(0, stats.ExpiredSessions)
		s.Equal(0, stats.ExpiredCacheEntries)
	}
}

func (s *SweepServiceTestSuite) TestSweepSessions_AuditFailureDoesNotAbort() {
	ctx := context.Background()
	now := time.Now().UTC()

	expired := []domain.ResearchSession{
		{SessionID: "sess-1", UnlockedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
	}

	s.sessions.EXPECT().ListExpiredActive(ctx).Return(expired, nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("broker down"))
	s.sessions.EXPECT().ExpireBatch(ctx, []string{"sess-1"}).Return(int64(1), nil)

	count, err := s.service.SweepSessions(ctx)

	s.NoError(err)
	s.Equal(1, count)
}
