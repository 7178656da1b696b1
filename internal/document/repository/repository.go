// Package repository holds the document stores. Every store performs the
// revision comparison and the mutation as one atomic step.
package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/gogotex/revdoc/internal/document"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrConflict           = errors.New("revision conflict")
	ErrKeyExists          = errors.New("document key already exists")
	ErrDuplicateName      = errors.New("duplicate collection name")
)

// Repository is the storage contract used by the service.
//
// Replace and Remove take a match revision. When match is non-empty the
// mutation only happens if the stored revision is byte-equal to it;
// otherwise ErrConflict is returned together with the current document.
// When match is empty the mutation is unconditional. On success both return
// the version that was current immediately before the mutation.
type Repository interface {
	CreateCollection(ctx context.Context, c *document.Collection) error
	// FindCollection looks a collection up by id first, then by name.
	FindCollection(ctx context.Context, ref string) (*document.Collection, error)
	ListCollections(ctx context.Context) ([]*document.Collection, error)
	DropCollection(ctx context.Context, id string) error
	Count(ctx context.Context, collectionID string) (int64, error)

	Insert(ctx context.Context, doc *document.Document) error
	Get(ctx context.Context, collectionID, key string) (*document.Document, error)
	List(ctx context.Context, collectionID string) ([]*document.Document, error)
	Replace(ctx context.Context, doc *document.Document, match string) (*document.Document, error)
	Remove(ctx context.Context, collectionID, key, match string) (*document.Document, error)
}

func sortCollections(cs []*document.Collection) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}

func sortDocuments(ds []*document.Document) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Key < ds[j].Key })
}
