package service

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/revdoc/internal/archive"
	"github.com/gogotex/revdoc/internal/document"
	"github.com/gogotex/revdoc/internal/document/repository"
	"github.com/gogotex/revdoc/internal/revision"
	"github.com/gogotex/revdoc/pkg/logger"
	"github.com/gogotex/revdoc/pkg/metrics"
)

// CollectionInfo is a collection together with its document count.
type CollectionInfo struct {
	document.Collection
	Count int64
}

// Service defines the document business operations used by the handler layer.
// Every error it returns is a *document.Error.
type Service interface {
	CreateCollection(ctx context.Context, name string) (*CollectionInfo, error)
	GetCollection(ctx context.Context, ref string) (*CollectionInfo, error)
	ListCollections(ctx context.Context) ([]*CollectionInfo, error)
	Count(ctx context.Context, ref string) (int64, error)
	DropCollection(ctx context.Context, ref string) error

	Create(ctx context.Context, collection string, body map[string]any) (*document.Record, error)
	Resolve(ctx context.Context, handle string) (*document.Record, error)
	List(ctx context.Context, collection string) ([]document.Handle, error)
	Update(ctx context.Context, handle string, body map[string]any, cond document.Condition) (*document.Record, error)
	Delete(ctx context.Context, handle string, cond document.Condition) (*document.Record, error)
}

// Option configures New.
type Option func(*docService)

// WithArchiver sends every removed version to a.
func WithArchiver(a archive.Archiver) Option {
	return func(s *docService) {
		if a != nil {
			s.archiver = a
		}
	}
}

// WithTicks replaces the revision source. The default is an in-process clock.
func WithTicks(src revision.Source) Option {
	return func(s *docService) {
		if src != nil {
			s.ticks = src
		}
	}
}

// New returns a Service on top of repo.
func New(repo repository.Repository, opts ...Option) Service {
	s := &docService{repo: repo, ticks: revision.NewClock(), archiver: archive.Nop{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewMemoryService returns a Service backed by the in-memory repository.
func NewMemoryService(opts ...Option) Service {
	return New(repository.NewMemoryRepo(), opts...)
}

type docService struct {
	repo     repository.Repository
	ticks    revision.Source
	archiver archive.Archiver
}

func internal(op string, err error) *document.Error {
	logger.Errorf("%s: %v", op, err)
	return document.NewError(document.KindInternal, "%s: %v", op, err)
}

func (s *docService) tick(ctx context.Context, op string) (string, error) {
	v, err := s.ticks.Next(ctx)
	if err != nil {
		return "", internal(op+": issue revision", err)
	}
	return v, nil
}

// observe records the outcome of op. It is deferred with a pointer to the
// named error so the final value is seen.
func observe(op string, start time.Time, errp *error) {
	outcome := "ok"
	if *errp != nil {
		var de *document.Error
		if errors.As(*errp, &de) {
			outcome = de.Kind.String()
		} else {
			outcome = document.KindInternal.String()
		}
	}
	metrics.Operations.WithLabelValues(op, outcome).Inc()
	metrics.OperationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// collection resolves ref (id or name).
func (s *docService) collection(ctx context.Context, ref string) (*document.Collection, error) {
	c, err := s.repo.FindCollection(ctx, ref)
	if errors.Is(err, repository.ErrCollectionNotFound) {
		return nil, document.NewError(document.KindCollectionUnknown, "collection '%s' not found", ref)
	}
	if err != nil {
		return nil, internal("find collection", err)
	}
	return c, nil
}

func (s *docService) info(ctx context.Context, c *document.Collection) (*CollectionInfo, error) {
	n, err := s.repo.Count(ctx, c.ID)
	if errors.Is(err, repository.ErrCollectionNotFound) {
		return nil, document.NewError(document.KindCollectionUnknown, "collection '%s' not found", c.Name)
	}
	if err != nil {
		return nil, internal("count", err)
	}
	return &CollectionInfo{Collection: *c, Count: n}, nil
}

func (s *docService) CreateCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	if !document.ValidCollectionName(name) {
		return nil, document.NewError(document.KindCollectionNameInvalid, "illegal name '%s'", name)
	}
	id, err := s.tick(ctx, "create collection")
	if err != nil {
		return nil, err
	}
	c := &document.Collection{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	if err := s.repo.CreateCollection(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, document.NewError(document.KindCollectionDuplicate, "duplicate name '%s'", name)
		}
		return nil, internal("create collection", err)
	}
	logger.Infof("collection %s created with id %s", name, id)
	return &CollectionInfo{Collection: *c}, nil
}

func (s *docService) GetCollection(ctx context.Context, ref string) (*CollectionInfo, error) {
	c, err := s.collection(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.info(ctx, c)
}

func (s *docService) ListCollections(ctx context.Context) ([]*CollectionInfo, error) {
	cs, err := s.repo.ListCollections(ctx)
	if err != nil {
		return nil, internal("list collections", err)
	}
	out := make([]*CollectionInfo, 0, len(cs))
	for _, c := range cs {
		ci, err := s.info(ctx, c)
		var de *document.Error
		if errors.As(err, &de) && de.Kind == document.KindCollectionUnknown {
			// dropped while listing
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, nil
}

func (s *docService) Count(ctx context.Context, ref string) (int64, error) {
	ci, err := s.GetCollection(ctx, ref)
	if err != nil {
		return 0, err
	}
	return ci.Count, nil
}

func (s *docService) DropCollection(ctx context.Context, ref string) error {
	c, err := s.collection(ctx, ref)
	if err != nil {
		return err
	}
	err = s.repo.DropCollection(ctx, c.ID)
	if errors.Is(err, repository.ErrCollectionNotFound) {
		return document.NewError(document.KindCollectionUnknown, "collection '%s' not found", ref)
	}
	if err != nil {
		return internal("drop collection", err)
	}
	logger.Infof("collection %s (%s) dropped", c.Name, c.ID)
	return nil
}

// payload copies body without the system attributes and extracts a
// caller-supplied _key.
func payload(body map[string]any) (map[string]any, any, bool) {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	key, hasKey := out[document.AttrKey]
	document.StripSystem(out)
	return out, key, hasKey
}

func (s *docService) Create(ctx context.Context, collection string, body map[string]any) (rec *document.Record, err error) {
	defer observe("create", time.Now(), &err)
	if collection == "" {
		return nil, document.NewError(document.KindCollectionMissing, "no collection name specified")
	}
	if body == nil {
		return nil, document.NewError(document.KindBodyMalformed, "expecting a JSON object as body")
	}
	c, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	data, rawKey, hasKey := payload(body)

	var key string
	if hasKey {
		k, ok := rawKey.(string)
		if !ok || !document.ValidKey(k) {
			return nil, document.NewError(document.KindKeyMalformed, "illegal document key")
		}
		key = k
	} else if key, err = s.tick(ctx, "create"); err != nil {
		return nil, err
	}
	rev, err := s.tick(ctx, "create")
	if err != nil {
		return nil, err
	}

	doc := &document.Document{Collection: c.ID, Key: key, Rev: rev, Body: data}
	if err := s.repo.Insert(ctx, doc); err != nil {
		switch {
		case errors.Is(err, repository.ErrKeyExists):
			return nil, document.NewError(document.KindKeyExists, "unique constraint violated for key '%s'", key)
		case errors.Is(err, repository.ErrCollectionNotFound):
			return nil, document.NewError(document.KindCollectionUnknown, "collection '%s' not found", collection)
		}
		return nil, internal("create", err)
	}
	h := document.Handle{Collection: c.Name, Key: key}
	logger.Debugf("created %s rev %s", h, rev)
	return &document.Record{Handle: h, Rev: rev, Body: data}, nil
}

// locate parses a handle and resolves its collection. Handle errors never
// reach the store.
func (s *docService) locate(ctx context.Context, raw string) (document.Handle, *document.Collection, error) {
	h, err := document.ParseHandle(raw)
	if err != nil {
		return document.Handle{}, nil, err
	}
	c, err := s.collection(ctx, h.Collection)
	if err != nil {
		return document.Handle{}, nil, err
	}
	return document.Handle{Collection: c.Name, Key: h.Key}, c, nil
}

func (s *docService) Resolve(ctx context.Context, handle string) (rec *document.Record, err error) {
	defer observe("read", time.Now(), &err)
	h, c, err := s.locate(ctx, handle)
	if err != nil {
		return nil, err
	}
	d, err := s.repo.Get(ctx, c.ID, h.Key)
	if err != nil {
		return nil, s.mutationError("read", h, err, nil)
	}
	return toRecord(h, d), nil
}

func (s *docService) List(ctx context.Context, collection string) ([]document.Handle, error) {
	if collection == "" {
		return nil, document.NewError(document.KindCollectionMissing, "no collection name specified")
	}
	c, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.List(ctx, c.ID)
	if errors.Is(err, repository.ErrCollectionNotFound) {
		return nil, document.NewError(document.KindCollectionUnknown, "collection '%s' not found", collection)
	}
	if err != nil {
		return nil, internal("list", err)
	}
	out := make([]document.Handle, 0, len(docs))
	for _, d := range docs {
		out = append(out, document.Handle{Collection: c.Name, Key: d.Key})
	}
	return out, nil
}

func toRecord(h document.Handle, d *document.Document) *document.Record {
	return &document.Record{Handle: h, Rev: d.Rev, Body: d.Body}
}

// mutationError converts a store error. For conflicts cur is the version
// the store saw.
func (s *docService) mutationError(op string, h document.Handle, err error, cur *document.Document) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return document.NewError(document.KindDocumentUnknown, "document '%s' not found", h)
	case errors.Is(err, repository.ErrCollectionNotFound):
		return document.NewError(document.KindCollectionUnknown, "collection '%s' not found", h.Collection)
	case errors.Is(err, repository.ErrConflict):
		metrics.Conflicts.WithLabelValues(op).Inc()
		e := &document.Error{Kind: document.KindRevisionConflict, Message: "precondition failed"}
		if cur != nil {
			e.Current = toRecord(h, cur)
		}
		return e
	}
	return internal(op, err)
}

// overridden reports a last-write-wins mutation that replaced a revision
// other than the one the caller expected.
func overridden(op string, h document.Handle, pre document.Precondition, prev *document.Document) {
	if pre.Policy != document.PolicyLastWriteWins || pre.Revision == "" || prev == nil || prev.Rev == pre.Revision {
		return
	}
	metrics.Overrides.WithLabelValues(op).Inc()
	logger.Debugf("%s %s: expected rev %s, overrode %s", op, h, pre.Revision, prev.Rev)
}

func (s *docService) Update(ctx context.Context, handle string, body map[string]any, cond document.Condition) (rec *document.Record, err error) {
	defer observe("update", time.Now(), &err)
	pre, err := cond.Resolve()
	if err != nil {
		return nil, err
	}
	h, c, err := s.locate(ctx, handle)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, document.NewError(document.KindBodyMalformed, "expecting a JSON object as body")
	}
	data, _, _ := payload(body)
	rev, err := s.tick(ctx, "update")
	if err != nil {
		return nil, err
	}
	doc := &document.Document{Collection: c.ID, Key: h.Key, Rev: rev, Body: data}
	prev, err := s.repo.Replace(ctx, doc, pre.Match())
	if err != nil {
		return nil, s.mutationError("update", h, err, prev)
	}
	overridden("update", h, pre, prev)
	logger.Debugf("updated %s rev %s -> %s", h, prev.Rev, rev)
	return &document.Record{Handle: h, Rev: rev, Body: data}, nil
}

func (s *docService) Delete(ctx context.Context, handle string, cond document.Condition) (rec *document.Record, err error) {
	defer observe("delete", time.Now(), &err)
	pre, err := cond.Resolve()
	if err != nil {
		return nil, err
	}
	h, c, err := s.locate(ctx, handle)
	if err != nil {
		return nil, err
	}
	prev, err := s.repo.Remove(ctx, c.ID, h.Key, pre.Match())
	if err != nil {
		return nil, s.mutationError("delete", h, err, prev)
	}
	overridden("delete", h, pre, prev)
	rec = toRecord(h, prev)
	logger.Debugf("deleted %s rev %s", h, prev.Rev)
	if aerr := s.archiver.Archive(ctx, rec); aerr != nil {
		metrics.ArchiveFailures.Inc()
		logger.Warnf("archive %s rev %s: %v", h, rec.Rev, aerr)
	}
	return rec, nil
}
