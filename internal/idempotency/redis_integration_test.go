//go:build integration

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycflow/internal/idempotency"
	"kycflow/pkg/testutil/containers"
)

type RedisGuardSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	guard *idempotency.RedisGuard
}

func TestRedisGuardSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisGuardSuite))
}

func (s *RedisGuardSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.guard = idempotency.NewRedisGuard(s.redis.Client, s.redis.Platform.Namespace("idem"))
}

func (s *RedisGuardSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisGuardSuite) TestExclusiveUntilReleased() {
	ctx := context.Background()
	key := idempotency.Key{Scope: "intent", Name: "it"}

	release, err := s.guard.Acquire(ctx, key, time.Minute)
	s.Require().NoError(err)

	_, err = s.guard.Acquire(ctx, key, time.Minute)
	s.ErrorIs(err, idempotency.ErrInFlight)

	release()
	again, err := s.guard.Acquire(ctx, key, time.Minute)
	s.Require().NoError(err)
	again()
}

func (s *RedisGuardSuite) TestStaleReleaseKeepsNewHolder() {
	ctx := context.Background()
	key := idempotency.Key{Scope: "intent", Name: "stale"}

	stale, err := s.guard.Acquire(ctx, key, 100*time.Millisecond)
	s.Require().NoError(err)
	time.Sleep(200 * time.Millisecond)

	fresh, err := s.guard.Acquire(ctx, key, time.Minute)
	s.Require().NoError(err)
	defer fresh()

	stale()
	_, err = s.guard.Acquire(ctx, key, time.Minute)
	s.ErrorIs(err, idempotency.ErrInFlight)
}
