package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
)

// DefaultPageSize is the number of documents fetched per reader page.
const DefaultPageSize = 256

var errClosed = errors.New("index is closed")

// BleveHandle wraps an open bleve index as a Handle.
type BleveHandle struct {
	mu     sync.RWMutex
	id     string
	index  bleve.Index
	closed bool
}

// NewHandle wraps an already open bleve index.
func NewHandle(id string, idx bleve.Index) *BleveHandle {
	return &BleveHandle{id: id, index: idx}
}

// NewMemHandle builds an in-memory index holding docs.
func NewMemHandle(id string, docs ...Document) (*BleveHandle, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	h := NewHandle(id, idx)
	if err := h.Index(docs...); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return h, nil
}

// OpenHandle opens the bleve index at path. The index is validated first and
// a damaged index is reported as ERR_205_CORRUPT_INDEX, never cleared.
func OpenHandle(id, path string) (*BleveHandle, error) {
	if err := validateIndexIntegrity(path); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "repository index is corrupt", err).
			WithDetail("repository_id", id).
			WithDetail("path", path).
			WithSuggestion("Rebuild the repository index")
	}

	idx, err := bleve.Open(path)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return nil, amerrors.New(amerrors.ErrCodeFileNotFound, "repository index not found", err).
				WithDetail("repository_id", id).
				WithDetail("path", path)
		}
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	return NewHandle(id, idx), nil
}

// ID returns the repository or index ID of the handle.
func (h *BleveHandle) ID() string {
	return h.id
}

// Reader returns a reader over all documents ordered by ID.
func (h *BleveHandle) Reader(ctx context.Context) (Reader, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, errClosed
	}
	return newBleveReader(ctx, h.index, DefaultPageSize), nil
}

// Index adds documents, replacing any with the same ID.
func (h *BleveHandle) Index(docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errClosed
	}

	batch := h.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc.Fields); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := h.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// DocCount returns the number of documents in the index.
func (h *BleveHandle) DocCount() (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, errClosed
	}
	return h.index.DocCount()
}

// Search runs a query string search over the handle's documents.
func (h *BleveHandle) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, errClosed
	}
	return searchIndex(ctx, h.index, query, limit)
}

// Close closes the underlying index. Safe to call more than once.
func (h *BleveHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.index.Close()
}

// bleveReader pages through a match-all query sorted by _id, resuming each
// page after the last ID seen.
type bleveReader struct {
	ctx      context.Context
	index    bleve.Index
	pageSize int

	page    []*search.DocumentMatch
	pos     int
	after   string
	started bool
	done    bool
	closed  bool
}

func newBleveReader(ctx context.Context, idx bleve.Index, pageSize int) *bleveReader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &bleveReader{ctx: ctx, index: idx, pageSize: pageSize}
}

func (r *bleveReader) Next() (Document, error) {
	if r.closed {
		return Document{}, errClosed
	}
	for r.pos >= len(r.page) {
		if r.done {
			return Document{}, io.EOF
		}
		if err := r.fetch(); err != nil {
			return Document{}, err
		}
	}

	hit := r.page[r.pos]
	r.pos++
	return Document{ID: hit.ID, Fields: copyFields(hit.Fields)}, nil
}

func (r *bleveReader) fetch() error {
	if err := r.ctx.Err(); err != nil {
		return err
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), r.pageSize, 0, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{"_id"})
	if r.started {
		req.SearchAfter = []string{r.after}
	}

	result, err := r.index.SearchInContext(r.ctx, req)
	if err != nil {
		return fmt.Errorf("failed to read index page: %w", err)
	}

	r.started = true
	r.page = result.Hits
	r.pos = 0
	if len(result.Hits) < r.pageSize {
		r.done = true
	}
	if n := len(result.Hits); n > 0 {
		r.after = result.Hits[n-1].ID
	}
	return nil
}

func (r *bleveReader) Close() error {
	r.closed = true
	r.page = nil
	return nil
}

func copyFields(fields map[string]interface{}) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// validateIndexIntegrity checks that a bleve index directory carries
// parseable metadata before it is opened. A missing directory is not an
// error here; bleve.Open reports it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// searchIndex runs query against idx. A blank query matches everything.
func searchIndex(ctx context.Context, idx bleve.Index, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, 0, false)
	if strings.TrimSpace(query) != "" {
		req = bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	}
	req.Fields = []string{"*"}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Fields: copyFields(h.Fields)})
	}
	return hits, nil
}
