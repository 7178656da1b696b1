package repository_test

import (
	"testing"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gogotex/revdoc/internal/document/repository"
	"github.com/gogotex/revdoc/internal/document/repository/repotest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRepo(t *testing.T) {
	repotest.TestRepository(t, func(t *testing.T) repository.Repository {
		m, err := mr.Run()
		require.NoError(t, err)
		t.Cleanup(m.Close)

		client := redis.NewClient(&redis.Options{Addr: m.Addr()})
		t.Cleanup(func() { client.Close() })
		return repository.NewRedisRepository(client, "test:")
	})
}
