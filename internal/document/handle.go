package document

import (
	"regexp"
	"strings"
)

// Handle identifies one document as "collection/key". Collection may be a
// collection ID or a collection name.
type Handle struct {
	Collection string
	Key        string
}

func (h Handle) String() string {
	return h.Collection + "/" + h.Key
}

// ParseHandle splits a "collection/key" string. A handle with fewer or more
// than two segments is a bad parameter; a handle with an empty segment is
// an unknown (unnamed) collection reported as a bad request.
func ParseHandle(s string) (Handle, error) {
	if s == "" {
		return Handle{}, NewError(KindHandleMalformed, "expecting /_api/document/<document-handle>")
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Handle{}, NewError(KindHandleMalformed, "expecting /_api/document/<document-handle>")
	}
	if parts[0] == "" || parts[1] == "" {
		return Handle{}, NewError(KindHandleSegmentEmpty, "document handle has an empty segment")
	}
	return Handle{Collection: parts[0], Key: parts[1]}, nil
}

var (
	keyPattern            = regexp.MustCompile(`^[A-Za-z0-9_:\-]{1,254}$`)
	collectionNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]{0,63}$`)
)

// ValidKey reports whether k may be used as a user-supplied document key.
func ValidKey(k string) bool { return keyPattern.MatchString(k) }

// ValidCollectionName reports whether n may name a collection.
func ValidCollectionName(n string) bool { return collectionNamePattern.MatchString(n) }
