package models

import (
	"fmt"
	"slices"
	"sort"
)

// Reserved top-level document keys. They are never stored in the body JSON;
// the database reconstructs them on read.
var SpecialKeys = []string{
	"_id", "_rev", "_deleted", "_attachments", "_revisions",
	"_revs_info", "_conflicts", "_deleted_conflicts",
}

// IsSpecialKey reports whether key is one of the reserved top-level keys.
func IsSpecialKey(key string) bool {
	return slices.Contains(SpecialKeys, key)
}

// Revision is one version of a document.
type Revision struct {
	DocID    string
	RevID    string
	Deleted  bool
	Sequence int64
	Body     *Body
}

// NewRevision creates a revision without a body.
func NewRevision(docID, revID string, deleted bool) *Revision {
	return &Revision{DocID: docID, RevID: revID, Deleted: deleted}
}

// NewRevisionFromBody creates a revision whose identity is taken from the
// body's _id, _rev and _deleted properties.
func NewRevisionFromBody(body *Body) *Revision {
	rev := &Revision{Body: body}
	if v, ok := body.Get("_id"); ok {
		rev.DocID, _ = v.AsString()
	}
	if v, ok := body.Get("_rev"); ok {
		rev.RevID, _ = v.AsString()
	}
	if v, ok := body.Get("_deleted"); ok {
		rev.Deleted = v.Truthy()
	}
	return rev
}

// Generation returns the numeric prefix of the revision ID, or 0.
func (r *Revision) Generation() int {
	return GenerationFromRevID(r.RevID)
}

// Properties returns the body properties, or nil when there is no body.
func (r *Revision) Properties() map[string]Value {
	if r.Body == nil {
		return nil
	}
	return r.Body.Properties()
}

// Property returns a single body property.
func (r *Revision) Property(key string) (Value, bool) {
	return r.Body.Get(key)
}

// Attachments returns the _attachments object of the body.
func (r *Revision) Attachments() map[string]Value {
	v, ok := r.Body.Get("_attachments")
	if !ok {
		return nil
	}
	atts, _ := v.AsObject()
	return atts
}

// Copy returns a shallow copy. Bodies are immutable so sharing is safe.
func (r *Revision) Copy() *Revision {
	c := *r
	return &c
}

// CopyWithDocID returns a copy carrying a new identity. When the revision
// has a body, its _id and _rev properties are rewritten to match.
func (r *Revision) CopyWithDocID(docID, revID string) *Revision {
	c := r.Copy()
	c.DocID = docID
	c.RevID = revID
	c.Sequence = 0
	if r.Body != nil {
		extra := map[string]Value{"_id": String(docID)}
		if revID != "" {
			extra["_rev"] = String(revID)
		}
		c.Body = r.Body.With(extra)
	}
	return c
}

// WithBody returns a copy with the body replaced.
func (r *Revision) WithBody(body *Body) *Revision {
	c := r.Copy()
	c.Body = body
	return c
}

// Equal compares identity (doc ID and rev ID) only.
func (r *Revision) Equal(o *Revision) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.DocID == o.DocID && r.RevID == o.RevID
}

func (r *Revision) String() string {
	s := fmt.Sprintf("{%s #%s", r.DocID, r.RevID)
	if r.Deleted {
		s += " DEL"
	}
	return s + "}"
}

// RevisionList is an ordered list of revisions.
type RevisionList []*Revision

// RevWithDocIDAndRevID finds a revision by identity.
func (l RevisionList) RevWithDocIDAndRevID(docID, revID string) *Revision {
	for _, r := range l {
		if r.DocID == docID && r.RevID == revID {
			return r
		}
	}
	return nil
}

// AllDocIDs returns the doc IDs in list order.
func (l RevisionList) AllDocIDs() []string {
	ids := make([]string, len(l))
	for i, r := range l {
		ids[i] = r.DocID
	}
	return ids
}

// AllRevIDs returns the rev IDs in list order.
func (l RevisionList) AllRevIDs() []string {
	ids := make([]string, len(l))
	for i, r := range l {
		ids[i] = r.RevID
	}
	return ids
}

// SortBySequence sorts in place by ascending sequence.
func (l RevisionList) SortBySequence() {
	sort.SliceStable(l, func(i, j int) bool { return l[i].Sequence < l[j].Sequence })
}

// Limit truncates the list to at most n entries. n <= 0 means no limit.
func (l RevisionList) Limit(n int) RevisionList {
	if n <= 0 || len(l) <= n {
		return l
	}
	return l[:n]
}

// Remove returns the list without the revision matching rev's identity.
func (l RevisionList) Remove(rev *Revision) RevisionList {
	return slices.DeleteFunc(l, func(r *Revision) bool { return r.Equal(rev) })
}
