package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	// DataDirName is the bleve index directory inside a merged index location.
	DataDirName = "index.bleve"

	// DefaultBatchSize is the number of documents copied per batch.
	DefaultBatchSize = 500
)

// Indexer creates merged indexes from member handles.
type Indexer struct {
	batchSize int
	mapping   func() mapping.IndexMapping
	logger    *slog.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithBatchSize sets the number of documents written per batch.
func WithBatchSize(n int) IndexerOption {
	return func(i *Indexer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithMapping sets the mapping used for new merged indexes.
func WithMapping(fn func() mapping.IndexMapping) IndexerOption {
	return func(i *Indexer) {
		if fn != nil {
			i.mapping = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) IndexerOption {
	return func(i *Indexer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIndexer creates an Indexer.
func NewIndexer(opts ...IndexerOption) *Indexer {
	i := &Indexer{
		batchSize: DefaultBatchSize,
		mapping:   func() mapping.IndexMapping { return bleve.NewIndexMapping() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// CreateMergedIndex builds a merged index with the given id at location,
// copying every document of every member in order. When two members hold
// the same document ID the later member wins. Any index left at location
// by an earlier run is replaced. On failure nothing is left on disk.
func (i *Indexer) CreateMergedIndex(ctx context.Context, id string, members []Handle, directory, location string) (MergedIndex, error) {
	path := filepath.Join(location, DataDirName)
	if err := os.MkdirAll(location, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index location %s: %w", location, err)
	}
	if _, err := os.Stat(path); err == nil {
		i.logger.Debug("merged_index_replaced",
			slog.String("index_id", id),
			slog.String("path", path))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale index %s: %w", path, err)
		}
	}

	idx, err := bleve.New(path, i.mapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create merged index: %w", err)
	}

	merged := &bleveMergedIndex{
		id:        id,
		directory: directory,
		location:  location,
		path:      path,
		index:     idx,
	}

	for _, member := range members {
		if err := i.copyMember(ctx, idx, member); err != nil {
			_ = merged.Close(true)
			return nil, fmt.Errorf("failed to merge member %s: %w", member.ID(), err)
		}
	}

	return merged, nil
}

func (i *Indexer) copyMember(ctx context.Context, dst bleve.Index, member Handle) (err error) {
	r, err := member.Reader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	batch := dst.NewBatch()
	copied := 0
	for {
		doc, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := batch.Index(doc.ID, doc.Fields); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if batch.Size() >= i.batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := dst.Batch(batch); err != nil {
				return fmt.Errorf("failed to execute batch: %w", err)
			}
			copied += batch.Size()
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := dst.Batch(batch); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
		copied += batch.Size()
	}

	i.logger.Debug("member_copied",
		slog.String("repository_id", member.ID()),
		slog.Int("documents", copied))
	return nil
}

// forceMerger is implemented by index backends that can compact segments
// on demand (scorch).
type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// bleveMergedIndex is a MergedIndex stored in a bleve index on disk.
type bleveMergedIndex struct {
	mu        sync.RWMutex
	id        string
	directory string
	location  string
	path      string
	index     bleve.Index
	closed    bool
}

func (m *bleveMergedIndex) ID() string        { return m.id }
func (m *bleveMergedIndex) Directory() string { return m.directory }
func (m *bleveMergedIndex) Location() string  { return m.location }

func (m *bleveMergedIndex) Reader(ctx context.Context) (Reader, error) {
	return m.AcquireReader(ctx)
}

func (m *bleveMergedIndex) AcquireReader(ctx context.Context) (Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	return newBleveReader(ctx, m.index, DefaultPageSize), nil
}

func (m *bleveMergedIndex) DocCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errClosed
	}
	return m.index.DocCount()
}

// Optimize merges the index down to a single segment when the backend
// supports it. Otherwise it does nothing.
func (m *bleveMergedIndex) Optimize(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}

	adv, err := m.index.Advanced()
	if err != nil {
		return fmt.Errorf("failed to access index backend: %w", err)
	}
	fm, ok := adv.(forceMerger)
	if !ok {
		return nil
	}
	opts := mergeplan.SingleSegmentMergePlanOptions
	if err := fm.ForceMerge(ctx, &opts); err != nil {
		return fmt.Errorf("failed to optimize index: %w", err)
	}
	return nil
}

func (m *bleveMergedIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	return searchIndex(ctx, m.index, query, limit)
}

func (m *bleveMergedIndex) Close(deleteFiles bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	err := m.index.Close()
	if deleteFiles {
		if rmErr := os.RemoveAll(m.path); rmErr != nil && err == nil {
			err = fmt.Errorf("failed to delete index files: %w", rmErr)
		}
	}
	return err
}
