// Package index is the indexing capability used by group merges.
//
// A Handle is an open, readable repository index. A MergedIndex is the
// union of several handles written to disk under a group's merged index
// directory. The bleve implementation lives in this package; callers depend
// on the interfaces so tests can inject failures.
package index

import (
	"context"
	"path/filepath"
)

// Document is one indexed record: its ID and its stored fields.
type Document struct {
	ID     string
	Fields map[string]any
}

// Reader iterates documents of an index. Next returns io.EOF after the last
// document. Close releases the reader and is safe to call more than once.
type Reader interface {
	Next() (Document, error)
	Close() error
}

// Handle is an open repository index that can be read.
type Handle interface {
	ID() string
	Reader(ctx context.Context) (Reader, error)
}

// Hit is a single search result.
type Hit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

// MergedIndex is a read-only index built from member handles.
type MergedIndex interface {
	Handle

	// Directory is the merged index directory the index belongs to.
	Directory() string
	// Location is the directory holding the index files.
	Location() string
	DocCount() (uint64, error)
	// Optimize compacts the index for read-heavy use.
	Optimize(ctx context.Context) error
	// AcquireReader returns a reader over all documents, used for packing.
	AcquireReader(ctx context.Context) (Reader, error)
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	// Close releases the index. With deleteFiles the index files are removed.
	// Calling Close again is a no-op.
	Close(deleteFiles bool) error
}

// IDFromDirectory derives a merged index ID from its directory: the final
// path element. Cleanup relies on this to find the handle of a record.
func IDFromDirectory(directory string) string {
	return filepath.Base(filepath.Clean(directory))
}
