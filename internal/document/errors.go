package document

import (
	"fmt"
	"net/http"
)

// Kind classifies a request-local failure.
type Kind int

const (
	KindInternal Kind = iota
	KindHandleMalformed
	KindHandleSegmentEmpty
	KindCollectionUnknown
	KindCollectionMissing
	KindDocumentUnknown
	KindPolicyMalformed
	KindRevisionConflict
	KindBodyMalformed
	KindKeyMalformed
	KindKeyExists
	KindCollectionNameInvalid
	KindCollectionDuplicate
)

var kindNames = map[Kind]string{
	KindInternal:              "internal",
	KindHandleMalformed:       "handle_malformed",
	KindHandleSegmentEmpty:    "handle_segment_empty",
	KindCollectionUnknown:     "collection_unknown",
	KindCollectionMissing:     "collection_missing",
	KindDocumentUnknown:       "document_unknown",
	KindPolicyMalformed:       "policy_malformed",
	KindRevisionConflict:      "revision_conflict",
	KindBodyMalformed:         "body_malformed",
	KindKeyMalformed:          "key_malformed",
	KindKeyExists:             "key_exists",
	KindCollectionNameInvalid: "collection_name_invalid",
	KindCollectionDuplicate:   "collection_duplicate",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Error numbers returned in the errorNum field.
const (
	NumInternal           = 4
	NumBadParameter       = 400
	NumCorruptedJSON      = 600
	NumConflict           = 1200
	NumDocumentNotFound   = 1202
	NumCollectionNotFound = 1203
	NumDuplicateName      = 1207
	NumIllegalName        = 1208
	NumUniqueConstraint   = 1210
	NumDocumentKeyBad     = 1221
)

var kindTable = map[Kind]struct {
	code int
	num  int
}{
	KindInternal:              {http.StatusInternalServerError, NumInternal},
	KindHandleMalformed:       {http.StatusBadRequest, NumBadParameter},
	KindHandleSegmentEmpty:    {http.StatusBadRequest, NumCollectionNotFound},
	KindCollectionUnknown:     {http.StatusNotFound, NumCollectionNotFound},
	KindCollectionMissing:     {http.StatusBadRequest, NumCollectionNotFound},
	KindDocumentUnknown:       {http.StatusNotFound, NumDocumentNotFound},
	KindPolicyMalformed:       {http.StatusBadRequest, NumBadParameter},
	KindRevisionConflict:      {http.StatusPreconditionFailed, NumConflict},
	KindBodyMalformed:         {http.StatusBadRequest, NumCorruptedJSON},
	KindKeyMalformed:          {http.StatusBadRequest, NumDocumentKeyBad},
	KindKeyExists:             {http.StatusConflict, NumUniqueConstraint},
	KindCollectionNameInvalid: {http.StatusBadRequest, NumIllegalName},
	KindCollectionDuplicate:   {http.StatusConflict, NumDuplicateName},
}

// Error is the typed failure returned by every service operation. Current
// is set for revision conflicts and holds the handle and revision the
// caller should refresh to.
type Error struct {
	Kind    Kind
	Message string
	Current *Record
}

// Package-level templates for errors.Is comparisons.
var (
	ErrHandleMalformed   = &Error{Kind: KindHandleMalformed}
	ErrCollectionUnknown = &Error{Kind: KindCollectionUnknown}
	ErrDocumentUnknown   = &Error{Kind: KindDocumentUnknown}
	ErrPolicyMalformed   = &Error{Kind: KindPolicyMalformed}
	ErrRevisionConflict  = &Error{Kind: KindRevisionConflict}
)

func NewError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("document error %d", e.Num())
	}
	return e.Message
}

// Is matches on Kind so callers can compare against the package templates.
// An empty-segment handle also matches ErrHandleMalformed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindHandleMalformed && e.Kind == KindHandleSegmentEmpty {
		return true
	}
	return t.Kind == e.Kind
}

// Code is the HTTP status for e.
func (e *Error) Code() int { return kindTable[e.Kind].code }

// Num is the errorNum for e.
func (e *Error) Num() int { return kindTable[e.Kind].num }
