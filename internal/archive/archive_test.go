package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gogotex/revdoc/internal/document"
	"github.com/stretchr/testify/require"
)

func TestObjectNameAndEntry(t *testing.T) {
	rec := &document.Record{
		Handle: document.Handle{Collection: "books", Key: "dune"},
		Rev:    "1700000000000001",
		Body:   map[string]any{"title": "Dune"},
	}
	require.Equal(t, "books/dune/1700000000000001.json", ObjectName(rec))

	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	b, err := json.Marshal(NewEntry(rec, when))
	require.NoError(t, err)
	require.JSONEq(t, `{"_id":"books/dune","_rev":"1700000000000001","_key":"dune","removedAt":"2024-05-01T11:00:00Z","body":{"title":"Dune"}}`, string(b))
}

func TestNewMinIORequiresEndpoint(t *testing.T) {
	_, err := NewMinIO(context.Background(), Config{})
	require.Error(t, err)
}

func TestNopArchiver(t *testing.T) {
	var a Archiver = Nop{}
	require.NoError(t, a.Archive(context.Background(), &document.Record{}))
}
