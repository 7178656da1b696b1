package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gogotex/revdoc/internal/database"
	"github.com/gogotex/revdoc/internal/document/repository"
	"github.com/gogotex/revdoc/internal/document/repository/repotest"
	"github.com/stretchr/testify/require"
)

func TestMongoRepo(t *testing.T) {
	uri := os.Getenv("REVDOC_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("REVDOC_TEST_MONGODB_URI not set")
	}
	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(ctx) })

	repotest.TestRepository(t, func(t *testing.T) repository.Repository {
		db := client.Database("revdoc_test")
		require.NoError(t, db.Drop(ctx))
		return repository.NewMongoRepo(db)
	})
}
