//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentgate/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	rc    *containers.RedisContainer
	store *RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.rc = containers.NewRedisContainer(s.T())
	s.store = NewRedisStore(s.rc.Client, "redis-test-secret", time.Hour)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.rc.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestCRUD() {
	ctx := context.Background()
	rec := sampleRecord()

	token, err := s.store.Store(ctx, rec)
	s.Require().NoError(err)

	got, err := s.store.Retrieve(ctx, token)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(rec.ConsentID, got.ConsentID)

	s.Run("tampered token short-circuits", func() {
		got, err := s.store.Retrieve(ctx, token+"00")
		s.NoError(err)
		s.Nil(got)
	})

	s.Run("update in place preserves ttl semantics", func() {
		replacement := sampleRecord()
		replacement.Accepted = []string{"necessary"}
		ok, err := s.store.Update(ctx, token, replacement)
		s.Require().NoError(err)
		s.True(ok)

		got, err := s.store.Retrieve(ctx, token)
		s.Require().NoError(err)
		s.Equal([]string{"necessary"}, got.Accepted)
	})

	s.Run("update of unknown token reports false", func() {
		missing, err := s.store.GenerateToken()
		s.Require().NoError(err)
		ok, err := s.store.Update(ctx, missing, sampleRecord())
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("exists then delete", func() {
		ok, err := s.store.Exists(ctx, token)
		s.Require().NoError(err)
		s.True(ok)

		deleted, err := s.store.Delete(ctx, token)
		s.Require().NoError(err)
		s.True(deleted)

		deleted, err = s.store.Delete(ctx, token)
		s.Require().NoError(err)
		s.False(deleted)
	})
}
