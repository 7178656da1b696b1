// Package repotest runs a common set of tests against a repository.Repository.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gogotex/revdoc/internal/document"
	"github.com/gogotex/revdoc/internal/document/repository"
	"github.com/gogotex/revdoc/internal/revision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRepository runs the collection, compare-and-swap and race tests on
// the repository returned by newRepo. newRepo is called once per subtest
// and must return an empty repository.
func TestRepository(t *testing.T, newRepo func(t *testing.T) repository.Repository) {
	t.Run("collections", func(t *testing.T) { collectionsTest(t, newRepo(t)) })
	t.Run("conflict", func(t *testing.T) { conflictTest(t, newRepo(t)) })
	t.Run("replace race", func(t *testing.T) { replaceRaceTest(t, newRepo(t)) })
	t.Run("remove race", func(t *testing.T) { removeRaceTest(t, newRepo(t)) })
}

var clock = revision.NewClock()

func tick(t *testing.T) string {
	v, err := clock.Next(context.Background())
	require.NoError(t, err)
	return v
}

func mustCollection(t *testing.T, repo repository.Repository, name string) *document.Collection {
	c := &document.Collection{ID: tick(t), Name: name}
	require.NoError(t, repo.CreateCollection(context.Background(), c))
	return c
}

func collectionsTest(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	c := mustCollection(t, repo, "people")

	err := repo.CreateCollection(ctx, &document.Collection{ID: tick(t), Name: "people"})
	require.ErrorIs(t, err, repository.ErrDuplicateName)

	byID, err := repo.FindCollection(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "people", byID.Name)

	byName, err := repo.FindCollection(ctx, "people")
	require.NoError(t, err)
	require.Equal(t, c.ID, byName.ID)

	_, err = repo.FindCollection(ctx, "nobody")
	require.ErrorIs(t, err, repository.ErrCollectionNotFound)

	mustCollection(t, repo, "animals")
	list, err := repo.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, repo.Insert(ctx, &document.Document{Collection: c.ID, Key: "k1", Rev: tick(t), Body: map[string]any{"a": "b"}}))
	n, err := repo.Count(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, repo.DropCollection(ctx, c.ID))
	_, err = repo.FindCollection(ctx, c.ID)
	require.ErrorIs(t, err, repository.ErrCollectionNotFound)
	_, err = repo.Get(ctx, c.ID, "k1")
	require.Error(t, err)
	require.ErrorIs(t, repo.DropCollection(ctx, c.ID), repository.ErrCollectionNotFound)
}

func conflictTest(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	c := mustCollection(t, repo, "conflicts")

	r1 := tick(t)
	doc := &document.Document{Collection: c.ID, Key: "doc", Rev: r1, Body: map[string]any{"Hallo": "World"}}
	require.NoError(t, repo.Insert(ctx, doc))
	require.ErrorIs(t, repo.Insert(ctx, doc.Clone()), repository.ErrKeyExists)

	got, err := repo.Get(ctx, c.ID, "doc")
	require.NoError(t, err)
	require.Equal(t, r1, got.Rev)
	require.Equal(t, "World", got.Body["Hallo"])

	list, err := repo.List(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// stale match on replace
	r2 := tick(t)
	cur, err := repo.Replace(ctx, &document.Document{Collection: c.ID, Key: "doc", Rev: r2, Body: map[string]any{"v": "2"}}, "garbage"+r1)
	require.ErrorIs(t, err, repository.ErrConflict)
	require.NotNil(t, cur)
	require.Equal(t, r1, cur.Rev)

	// matching replace
	prev, err := repo.Replace(ctx, &document.Document{Collection: c.ID, Key: "doc", Rev: r2, Body: map[string]any{"v": "2"}}, r1)
	require.NoError(t, err)
	require.Equal(t, r1, prev.Rev)

	got, err = repo.Get(ctx, c.ID, "doc")
	require.NoError(t, err)
	require.Equal(t, r2, got.Rev)
	require.Equal(t, map[string]any{"v": "2"}, got.Body)

	// unconditional replace
	r3 := tick(t)
	prev, err = repo.Replace(ctx, &document.Document{Collection: c.ID, Key: "doc", Rev: r3, Body: map[string]any{"v": "3"}}, "")
	require.NoError(t, err)
	require.Equal(t, r2, prev.Rev)

	// stale remove keeps the document
	cur, err = repo.Remove(ctx, c.ID, "doc", r1)
	require.ErrorIs(t, err, repository.ErrConflict)
	require.Equal(t, r3, cur.Rev)
	_, err = repo.Get(ctx, c.ID, "doc")
	require.NoError(t, err)

	removed, err := repo.Remove(ctx, c.ID, "doc", r3)
	require.NoError(t, err)
	require.Equal(t, r3, removed.Rev)

	_, err = repo.Get(ctx, c.ID, "doc")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.Remove(ctx, c.ID, "doc", "")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.Replace(ctx, &document.Document{Collection: c.ID, Key: "doc", Rev: tick(t)}, "")
	require.ErrorIs(t, err, repository.ErrNotFound)

	n, err := repo.Count(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

// replaceRaceTest lets several writers chase the same document. Each
// successful replace reports the version it overwrote; no version may be
// overwritten twice.
func replaceRaceTest(t *testing.T, repo repository.Repository) {
	const writers = 8
	const attempts = 25
	ctx := context.Background()
	c := mustCollection(t, repo, "race")
	require.NoError(t, repo.Insert(ctx, &document.Document{Collection: c.ID, Key: "hot", Rev: tick(t), Body: map[string]any{}}))

	var mu sync.Mutex
	overwritten := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				cur, err := repo.Get(ctx, c.ID, "hot")
				if !assert.NoError(t, err) {
					return
				}
				rev, _ := clock.Next(ctx)
				next := &document.Document{Collection: c.ID, Key: "hot", Rev: rev, Body: map[string]any{"writer": fmt.Sprint(w)}}
				prev, err := repo.Replace(ctx, next, cur.Rev)
				if errors.Is(err, repository.ErrConflict) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, cur.Rev, prev.Rev)
				mu.Lock()
				overwritten[prev.Rev]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.NotEmpty(t, overwritten)
	for rev, n := range overwritten {
		require.Equal(t, 1, n, "revision %s overwritten %d times", rev, n)
	}
}

// removeRaceTest checks that exactly one of several concurrent removals of
// the same document wins.
func removeRaceTest(t *testing.T, repo repository.Repository) {
	const removers = 10
	ctx := context.Background()
	c := mustCollection(t, repo, "removals")
	rev := tick(t)
	require.NoError(t, repo.Insert(ctx, &document.Document{Collection: c.ID, Key: "gone", Rev: rev, Body: map[string]any{}}))

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < removers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed, err := repo.Remove(ctx, c.ID, "gone", "")
			if errors.Is(err, repository.ErrNotFound) {
				return
			}
			if assert.NoError(t, err) {
				assert.Equal(t, rev, removed.Rev)
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}
