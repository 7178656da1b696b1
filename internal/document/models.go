package document

import "time"

// Collection groups documents. ID is issued by the server, Name by the caller.
type Collection struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Document is one stored version of a document. Collection holds the
// collection ID. Body never contains the system attributes (_id, _key, _rev);
// they are carried in the struct fields.
type Document struct {
	Collection string         `json:"collection"`
	Key        string         `json:"key"`
	Rev        string         `json:"rev"`
	Body       map[string]any `json:"body"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Clone returns a deep enough copy of d for stores to hand out without
// sharing the top-level payload map.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Body != nil {
		cpy.Body = make(map[string]any, len(d.Body))
		for k, v := range d.Body {
			cpy.Body[k] = v
		}
	}
	return &cpy
}

// System attribute names.
const (
	AttrID  = "_id"
	AttrKey = "_key"
	AttrRev = "_rev"
)

// StripSystem removes system attributes from a payload in place.
func StripSystem(body map[string]any) {
	delete(body, AttrID)
	delete(body, AttrKey)
	delete(body, AttrRev)
}

// Record is a document as seen by callers of the service: the handle uses
// the collection name.
type Record struct {
	Handle Handle
	Rev    string
	Body   map[string]any
}
