package repository

import (
	"context"
	"sync"
	"time"

	"github.com/gogotex/revdoc/internal/document"
)

// MemoryRepo is an in-memory repository used for development and tests.
// One mutex guards collections and documents, so every compare-and-mutate
// happens under a single write lock.
type MemoryRepo struct {
	mu          sync.RWMutex
	collections map[string]*document.Collection
	docs        map[string]map[string]*document.Document
	now         func() time.Time
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		collections: make(map[string]*document.Collection),
		docs:        make(map[string]map[string]*document.Document),
		now:         time.Now,
	}
}

func (m *MemoryRepo) CreateCollection(_ context.Context, c *document.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.collections {
		if existing.Name == c.Name {
			return ErrDuplicateName
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	cpy := *c
	m.collections[c.ID] = &cpy
	m.docs[c.ID] = make(map[string]*document.Document)
	return nil
}

func (m *MemoryRepo) FindCollection(_ context.Context, ref string) (*document.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.findCollection(ref)
	if c == nil {
		return nil, ErrCollectionNotFound
	}
	cpy := *c
	return &cpy, nil
}

func (m *MemoryRepo) findCollection(ref string) *document.Collection {
	if c, ok := m.collections[ref]; ok {
		return c
	}
	for _, c := range m.collections {
		if c.Name == ref {
			return c
		}
	}
	return nil
}

func (m *MemoryRepo) ListCollections(_ context.Context) ([]*document.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Collection, 0, len(m.collections))
	for _, c := range m.collections {
		cpy := *c
		out = append(out, &cpy)
	}
	sortCollections(out)
	return out, nil
}

func (m *MemoryRepo) DropCollection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return ErrCollectionNotFound
	}
	delete(m.collections, id)
	delete(m.docs, id)
	return nil
}

func (m *MemoryRepo) Count(_ context.Context, collectionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.docs[collectionID]
	if !ok {
		return 0, ErrCollectionNotFound
	}
	return int64(len(docs)), nil
}

func (m *MemoryRepo) Insert(_ context.Context, doc *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.docs[doc.Collection]
	if !ok {
		return ErrCollectionNotFound
	}
	if _, ok := docs[doc.Key]; ok {
		return ErrKeyExists
	}
	doc.UpdatedAt = m.now()
	docs[doc.Key] = doc.Clone()
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, collectionID, key string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.docs[collectionID]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if d, ok := docs[key]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) List(_ context.Context, collectionID string) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.docs[collectionID]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Clone())
	}
	sortDocuments(out)
	return out, nil
}

func (m *MemoryRepo) Replace(_ context.Context, doc *document.Document, match string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.docs[doc.Collection]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	prev, ok := docs[doc.Key]
	if !ok {
		return nil, ErrNotFound
	}
	if match != "" && prev.Rev != match {
		return prev.Clone(), ErrConflict
	}
	doc.UpdatedAt = m.now()
	docs[doc.Key] = doc.Clone()
	return prev.Clone(), nil
}

func (m *MemoryRepo) Remove(_ context.Context, collectionID, key, match string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.docs[collectionID]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	prev, ok := docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	if match != "" && prev.Rev != match {
		return prev.Clone(), ErrConflict
	}
	delete(docs, key)
	return prev, nil
}
