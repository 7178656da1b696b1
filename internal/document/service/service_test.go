package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogotex/revdoc/internal/document"
	"github.com/gogotex/revdoc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func kindOf(t *testing.T, err error) document.Kind {
	t.Helper()
	var de *document.Error
	require.ErrorAs(t, err, &de)
	return de.Kind
}

func setup(t *testing.T, opts ...Option) (Service, *document.Record) {
	t.Helper()
	ctx := context.Background()
	svc := NewMemoryService(opts...)
	_, err := svc.CreateCollection(ctx, "books")
	require.NoError(t, err)
	rec, err := svc.Create(ctx, "books", map[string]any{"_key": "dune", "title": "Dune"})
	require.NoError(t, err)
	return svc, rec
}

func TestResolve(t *testing.T) {
	svc, created := setup(t)
	ctx := context.Background()

	rec, err := svc.Resolve(ctx, "books/dune")
	require.NoError(t, err)
	require.Equal(t, created.Rev, rec.Rev)
	require.Equal(t, "books/dune", rec.Handle.String())
	require.Equal(t, "Dune", rec.Body["title"])

	cases := map[string]document.Kind{
		"":             document.KindHandleMalformed,
		"books":        document.KindHandleMalformed,
		"books/dune/x": document.KindHandleMalformed,
		"/dune":        document.KindHandleSegmentEmpty,
		"books/":       document.KindHandleSegmentEmpty,
		"films/dune":   document.KindCollectionUnknown,
		"books/emma":   document.KindDocumentUnknown,
	}
	for h, want := range cases {
		_, err := svc.Resolve(ctx, h)
		require.Equal(t, want, kindOf(t, err), "handle %q", h)
	}
}

func TestResolveByCollectionID(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	ci, err := svc.CreateCollection(ctx, "books")
	require.NoError(t, err)
	_, err = svc.Create(ctx, ci.ID, map[string]any{"_key": "dune"})
	require.NoError(t, err)

	rec, err := svc.Resolve(ctx, ci.ID+"/dune")
	require.NoError(t, err)
	require.Equal(t, "books/dune", rec.Handle.String())
}

func TestCreate(t *testing.T) {
	svc, rec := setup(t)
	ctx := context.Background()
	require.NotEmpty(t, rec.Rev)
	require.NotContains(t, rec.Body, "_key")

	gen, err := svc.Create(ctx, "books", map[string]any{"_rev": "bogus", "_id": "x/y"})
	require.NoError(t, err)
	require.NotEmpty(t, gen.Handle.Key)
	require.NotEqual(t, "bogus", gen.Rev)
	require.Empty(t, gen.Body)

	_, err = svc.Create(ctx, "books", map[string]any{"_key": "dune"})
	require.Equal(t, document.KindKeyExists, kindOf(t, err))

	_, err = svc.Create(ctx, "books", map[string]any{"_key": "no/slash"})
	require.Equal(t, document.KindKeyMalformed, kindOf(t, err))

	_, err = svc.Create(ctx, "books", map[string]any{"_key": 12})
	require.Equal(t, document.KindKeyMalformed, kindOf(t, err))

	_, err = svc.Create(ctx, "", map[string]any{})
	require.Equal(t, document.KindCollectionMissing, kindOf(t, err))

	_, err = svc.Create(ctx, "films", map[string]any{})
	require.Equal(t, document.KindCollectionUnknown, kindOf(t, err))

	_, err = svc.Create(ctx, "books", nil)
	require.Equal(t, document.KindBodyMalformed, kindOf(t, err))
}

func TestUpdate(t *testing.T) {
	svc, r1 := setup(t)
	ctx := context.Background()

	r2, err := svc.Update(ctx, "books/dune", map[string]any{"title": "Dune Messiah"}, document.Condition{Revision: r1.Rev})
	require.NoError(t, err)
	require.NotEqual(t, r1.Rev, r2.Rev)

	got, err := svc.Resolve(ctx, "books/dune")
	require.NoError(t, err)
	require.Equal(t, r2.Rev, got.Rev)
	require.Equal(t, map[string]any{"title": "Dune Messiah"}, got.Body)

	// stale revision under the default policy
	before := testutil.ToFloat64(metrics.Conflicts.WithLabelValues("update"))
	_, err = svc.Update(ctx, "books/dune", map[string]any{"title": "x"}, document.Condition{Revision: r1.Rev})
	var de *document.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, document.KindRevisionConflict, de.Kind)
	require.NotNil(t, de.Current)
	require.Equal(t, r2.Rev, de.Current.Rev)
	require.Equal(t, "books/dune", de.Current.Handle.String())
	require.Equal(t, before+1, testutil.ToFloat64(metrics.Conflicts.WithLabelValues("update")))

	// same stale revision, last write wins
	overrides := testutil.ToFloat64(metrics.Overrides.WithLabelValues("update"))
	r3, err := svc.Update(ctx, "books/dune", map[string]any{"title": "Children of Dune"}, document.Condition{Revision: r1.Rev, Policy: "last"})
	require.NoError(t, err)
	require.NotEqual(t, r2.Rev, r3.Rev)
	require.Equal(t, overrides+1, testutil.ToFloat64(metrics.Overrides.WithLabelValues("update")))

	// no revision at all
	_, err = svc.Update(ctx, "books/dune", map[string]any{}, document.Condition{})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "books/emma", map[string]any{}, document.Condition{})
	require.Equal(t, document.KindDocumentUnknown, kindOf(t, err))

	_, err = svc.Update(ctx, "books/dune", nil, document.Condition{})
	require.Equal(t, document.KindBodyMalformed, kindOf(t, err))
}

func TestUpdateStripsSystemAttributes(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rec, err := svc.Update(ctx, "books/dune", map[string]any{"_key": "other", "_rev": "1", "n": 1.0}, document.Condition{})
	require.NoError(t, err)
	require.Equal(t, "dune", rec.Handle.Key)
	require.Equal(t, map[string]any{"n": 1.0}, rec.Body)
}

func TestPolicyCheckedFirst(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	// a bad policy wins over a malformed handle, an unknown collection and a stale revision
	for _, h := range []string{"books", "films/dune", "books/dune"} {
		_, err := svc.Delete(ctx, h, document.Condition{Revision: "stale", Policy: "sometimes"})
		require.Equal(t, document.KindPolicyMalformed, kindOf(t, err), h)
		_, err = svc.Update(ctx, h, map[string]any{}, document.Condition{Revision: "stale", Policy: "sometimes"})
		require.Equal(t, document.KindPolicyMalformed, kindOf(t, err), h)
	}
	_, err := svc.Resolve(ctx, "books/dune")
	require.NoError(t, err)
}

type recordingArchiver struct {
	mu   sync.Mutex
	recs []*document.Record
	err  error
}

func (a *recordingArchiver) Archive(_ context.Context, rec *document.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

func TestDelete(t *testing.T) {
	arch := &recordingArchiver{}
	svc, r1 := setup(t, WithArchiver(arch))
	ctx := context.Background()

	_, err := svc.Delete(ctx, "books/dune", document.Condition{Revision: "garbage" + r1.Rev})
	var de *document.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, document.KindRevisionConflict, de.Kind)
	require.Equal(t, r1.Rev, de.Current.Rev)

	ack, err := svc.Delete(ctx, "books/dune", document.Condition{Revision: r1.Rev})
	require.NoError(t, err)
	require.Equal(t, r1.Rev, ack.Rev)
	require.Equal(t, "books/dune", ack.Handle.String())

	_, err = svc.Resolve(ctx, "books/dune")
	require.Equal(t, document.KindDocumentUnknown, kindOf(t, err))

	_, err = svc.Delete(ctx, "books/dune", document.Condition{})
	require.Equal(t, document.KindDocumentUnknown, kindOf(t, err))

	require.Len(t, arch.recs, 1)
	require.Equal(t, r1.Rev, arch.recs[0].Rev)
	require.Equal(t, "Dune", arch.recs[0].Body["title"])
}

func TestDeleteLastWriteWins(t *testing.T) {
	svc, r1 := setup(t)
	ctx := context.Background()
	r2, err := svc.Update(ctx, "books/dune", map[string]any{}, document.Condition{})
	require.NoError(t, err)

	ack, err := svc.Delete(ctx, "books/dune", document.Condition{Revision: r1.Rev, Policy: "LAST-WRITE"})
	require.NoError(t, err)
	require.Equal(t, r2.Rev, ack.Rev)
}

func TestDeleteArchiveFailureIsNotSurfaced(t *testing.T) {
	arch := &recordingArchiver{err: errors.New("bucket gone")}
	svc, _ := setup(t, WithArchiver(arch))
	before := testutil.ToFloat64(metrics.ArchiveFailures)

	_, err := svc.Delete(context.Background(), "books/dune", document.Condition{})
	require.NoError(t, err)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.ArchiveFailures))
}

type failingTicks struct{}

func (failingTicks) Next(context.Context) (string, error) { return "", errors.New("no ticks") }

func TestTickFailureIsInternal(t *testing.T) {
	svc := NewMemoryService(WithTicks(failingTicks{}))
	_, err := svc.CreateCollection(context.Background(), "books")
	require.Equal(t, document.KindInternal, kindOf(t, err))
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()

	_, err := svc.CreateCollection(ctx, "1books")
	require.Equal(t, document.KindCollectionNameInvalid, kindOf(t, err))

	ci, err := svc.CreateCollection(ctx, "books")
	require.NoError(t, err)
	require.NotEmpty(t, ci.ID)
	require.Zero(t, ci.Count)

	_, err = svc.CreateCollection(ctx, "books")
	require.Equal(t, document.KindCollectionDuplicate, kindOf(t, err))

	for _, k := range []string{"b", "a"} {
		_, err := svc.Create(ctx, "books", map[string]any{"_key": k})
		require.NoError(t, err)
	}
	n, err := svc.Count(ctx, "books")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	handles, err := svc.List(ctx, "books")
	require.NoError(t, err)
	require.Equal(t, []document.Handle{{Collection: "books", Key: "a"}, {Collection: "books", Key: "b"}}, handles)

	got, err := svc.GetCollection(ctx, ci.ID)
	require.NoError(t, err)
	require.Equal(t, "books", got.Name)
	require.EqualValues(t, 2, got.Count)

	all, err := svc.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, svc.DropCollection(ctx, "books"))
	_, err = svc.Count(ctx, "books")
	require.Equal(t, document.KindCollectionUnknown, kindOf(t, err))
	err = svc.DropCollection(ctx, "books")
	require.Equal(t, document.KindCollectionUnknown, kindOf(t, err))
}

// Concurrent updates that all expect the same revision: exactly one wins,
// the rest see a conflict naming the winner's revision.
func TestConcurrentUpdatesSingleWinner(t *testing.T) {
	svc, r1 := setup(t)
	ctx := context.Background()

	var wins, conflicts atomic.Int32
	var winner atomic.Value
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		i := i
		g.Go(func() error {
			rec, err := svc.Update(gctx, "books/dune", map[string]any{"n": i}, document.Condition{Revision: r1.Rev})
			if err == nil {
				wins.Add(1)
				winner.Store(rec.Rev)
				return nil
			}
			var de *document.Error
			if errors.As(err, &de) && de.Kind == document.KindRevisionConflict {
				conflicts.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 15, conflicts.Load())

	cur, err := svc.Resolve(ctx, "books/dune")
	require.NoError(t, err)
	require.Equal(t, winner.Load(), cur.Rev)
}

func TestConcurrentDeletesSingleWinner(t *testing.T) {
	svc, r1 := setup(t)
	ctx := context.Background()

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			ack, err := svc.Delete(ctx, "books/dune", document.Condition{Revision: r1.Rev})
			if err == nil {
				wins.Add(1)
				if ack.Rev != r1.Rev {
					return errors.New("delete acknowledged a different revision")
				}
				return nil
			}
			var de *document.Error
			if errors.As(err, &de) && (de.Kind == document.KindDocumentUnknown || de.Kind == document.KindRevisionConflict) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, wins.Load())
}
