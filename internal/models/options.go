package models

// ContentOptions selects which synthesized properties are added to a
// revision body on read.
type ContentOptions uint

const (
	IncludeAttachments ContentOptions = 1 << iota
	IncludeConflicts
	IncludeRevs
	IncludeRevsInfo
	IncludeLocalSeq
	NoBody
	BigAttachmentsFollow
)

// Has reports whether every bit of o is set.
func (c ContentOptions) Has(o ContentOptions) bool {
	return c&o == o
}

// ChangesOptions controls a changes-feed query.
type ChangesOptions struct {
	Limit            int // <= 0 means unlimited
	IncludeDocs      bool
	IncludeConflicts bool
	SortBySequence   bool
	Content          ContentOptions
}

// DefaultChangesOptions returns the options used when none are supplied.
func DefaultChangesOptions() ChangesOptions {
	return ChangesOptions{}
}

// QueryOptions controls an all-docs key-range scan.
type QueryOptions struct {
	StartKey     string
	EndKey       string
	Keys         []string
	Descending   bool
	InclusiveEnd bool
	Skip         int
	Limit        int // <= 0 means unlimited
	IncludeDocs  bool
	UpdateSeq    bool
	Content      ContentOptions
}

// DefaultQueryOptions matches CouchDB's defaults for _all_docs.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{InclusiveEnd: true}
}

// QueryRow is one row of an all-docs result.
type QueryRow struct {
	Key      string
	DocID    string
	RevID    string
	Deleted  bool
	Sequence int64
	Doc      *Body
	Error    string
}

// QueryResult is the materialized result of an all-docs query.
type QueryResult struct {
	Rows      []QueryRow
	TotalRows int
	UpdateSeq int64
}

// ChangeEvent is delivered to subscribers after a revision is committed.
type ChangeEvent struct {
	Revision *Revision
	Sequence int64
	Source   string // remote URL for replicated inserts, empty for local
}

// Attachment is the metadata of one attachment of a revision.
type Attachment struct {
	Name        string
	ContentType string
	Digest      string // "<algo>-<base64>"
	Length      int64
	RevPos      int
}
