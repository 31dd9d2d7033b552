// Package merger merges repository indexes into group indexes.
//
// A Merger guarantees at most one in-flight merge per group. Members that
// cannot be resolved are dropped rather than failing the merge. Temporary
// merges are tracked in a Registry and retired asynchronously by a Cleaner;
// the reaper package decides when.
package merger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/pack"
	"github.com/Aman-CERP/amanrepo/internal/repository"
	"github.com/Aman-CERP/amanrepo/internal/storage"
)

// Indexer builds merged indexes.
type Indexer interface {
	CreateMergedIndex(ctx context.Context, id string, members []index.Handle, directory, location string) (index.MergedIndex, error)
}

// Packer writes the distributable artifact of a merged index.
type Packer interface {
	Pack(ctx context.Context, req pack.Request) error
}

// Merger coordinates group index merges.
type Merger struct {
	guard    *RunningGroups
	resolver *Resolver
	indexer  Indexer
	packer   Packer
	registry *Registry
	cleaner  *Cleaner
	storage  *storage.Storage
	journal  Journal
	logger   *slog.Logger
	now      func() time.Time

	workers int
}

// Option configures a Merger.
type Option func(*Merger)

// WithIndexer replaces the bleve indexer.
func WithIndexer(indexer Indexer) Option {
	return func(m *Merger) { m.indexer = indexer }
}

// WithPacker replaces the zstd packer.
func WithPacker(packer Packer) Option {
	return func(m *Merger) { m.packer = packer }
}

// WithJournal mirrors temporary index records into journal.
func WithJournal(journal Journal) Option {
	return func(m *Merger) { m.journal = journal }
}

// WithRunningGroups shares a guard between mergers.
func WithRunningGroups(guard *RunningGroups) Option {
	return func(m *Merger) { m.guard = guard }
}

// WithResolveWorkers bounds concurrent member lookups.
func WithResolveWorkers(n int) Option {
	return func(m *Merger) { m.workers = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

// New creates a Merger resolving members through repos. Merged index
// directories must lie inside st, which is also where cleanup deletes.
func New(repos repository.Registry, st *storage.Storage, opts ...Option) (*Merger, error) {
	if repos == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "merger needs a repository registry", nil)
	}
	if st == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "merger needs a storage", nil)
	}

	m := &Merger{
		storage: st,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.guard == nil {
		m.guard = NewRunningGroups()
	}
	if m.indexer == nil {
		m.indexer = index.NewIndexer(index.WithLogger(m.logger))
	}
	if m.packer == nil {
		m.packer = pack.NewPacker(st, pack.WithLogger(m.logger))
	}
	m.resolver = NewResolver(repos, m.workers, m.logger)
	m.registry = NewRegistry(m.journal, m.logger)
	m.cleaner = NewCleaner(m.registry, st, m.logger)
	return m, nil
}

// BuildMergedIndex merges the request's member indexes into one index.
//
// It returns (nil, nil) when a merge for the same group is already running.
// Build, optimize and pack failures are returned as ERR_506_INDEX_MERGE_FAILED
// and leave no index or pack files behind. A request whose directory or, for
// temporary merges, whose index ID is held by a registered temporary index
// fails with ERR_407_INVALID_REQUEST. The group is released on every path.
func (m *Merger) BuildMergedIndex(ctx context.Context, req Request) (index.MergedIndex, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Relative directories are taken relative to storage
	dir, err := m.storage.Resolve(req.MergedIndexDirectory)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidRequest,
			fmt.Sprintf("merged index directory %s is outside storage %s", req.MergedIndexDirectory, m.storage.Base()), err).
			WithDetail("group_id", req.GroupID)
	}
	req.MergedIndexDirectory = dir
	id := index.IDFromDirectory(req.MergedIndexDirectory)
	if m.registry.Conflicts(id, dir, req.Temporary) {
		return nil, conflict(req, id)
	}

	if !m.guard.TryClaim(req.GroupID) {
		m.logger.Info("merge_skipped",
			slog.String("group_id", req.GroupID),
			slog.String("reason", "merge already running"))
		return nil, nil
	}
	defer m.guard.Release(req.GroupID)

	start := time.Now()
	members := m.resolver.Resolve(ctx, req.GroupID, req.RepositoryIDs)

	merged, err := m.indexer.CreateMergedIndex(ctx, id, members, req.MergedIndexDirectory, req.Location())
	if err != nil {
		return nil, m.failed(req, err)
	}

	if err := m.finish(ctx, req, merged); err != nil {
		m.discard(req, merged)
		return nil, m.failed(req, err)
	}

	if req.Temporary {
		// Another temporary merge with the same ID may have registered since the check above
		registered := m.registry.Register(ctx, TemporaryGroupIndex{
			Directory: req.MergedIndexDirectory,
			IndexID:   id,
			GroupID:   req.GroupID,
			TTL:       req.TTL,
			CreatedAt: m.now(),
		}, merged)
		if !registered {
			m.discard(req, merged)
			return nil, conflict(req, id)
		}
	}

	m.logger.Info("merge_completed",
		slog.String("group_id", req.GroupID),
		slog.String("index_id", id),
		slog.Any("repositories", req.RepositoryIDs),
		slog.Int("members", len(members)),
		slog.Bool("packed", req.Pack),
		slog.Bool("temporary", req.Temporary),
		slog.Duration("elapsed", time.Since(start)))
	return merged, nil
}

func (m *Merger) finish(ctx context.Context, req Request, merged index.MergedIndex) error {
	if err := merged.Optimize(ctx); err != nil {
		return err
	}
	if !req.Pack {
		return nil
	}
	reader, err := merged.AcquireReader(ctx)
	if err != nil {
		return err
	}
	return m.packer.Pack(ctx, pack.Request{
		Index:       merged,
		Reader:      reader,
		Destination: req.Location(),
	})
}

// discard deletes the files of a merged index that will not be returned,
// including any pack outputs already written.
func (m *Merger) discard(req Request, merged index.MergedIndex) {
	if err := merged.Close(true); err != nil {
		m.logger.Warn("merged_index_discard_failed",
			slog.String("index_id", merged.ID()),
			slog.String("error", err.Error()))
	}
	if !req.Pack {
		return
	}
	if err := pack.Discard(m.storage, req.Location()); err != nil {
		m.logger.Warn("pack_discard_failed",
			slog.String("index_id", merged.ID()),
			slog.String("location", req.Location()),
			slog.String("error", err.Error()))
	}
}

func conflict(req Request, id string) error {
	return amerrors.New(amerrors.ErrCodeInvalidRequest,
		fmt.Sprintf("merged index %s in %s collides with a registered temporary index", id, req.MergedIndexDirectory), nil).
		WithDetail("group_id", req.GroupID).
		WithDetail("index_id", id).
		WithSuggestion("Use a merged index directory with a different name")
}

func (m *Merger) failed(req Request, err error) error {
	m.logger.Error("merge_failed",
		slog.String("group_id", req.GroupID),
		slog.String("error", err.Error()))
	return amerrors.MergeFailed(req.GroupID, err)
}

// CleanTemporaryGroupIndex retires entry in the background.
func (m *Merger) CleanTemporaryGroupIndex(entry *TemporaryGroupIndex) {
	m.cleaner.Clean(entry)
}

// TemporaryGroupIndexes lists the current temporary indexes.
func (m *Merger) TemporaryGroupIndexes() []TemporaryGroupIndex {
	return m.registry.TemporaryGroupIndexes()
}

// Registry exposes the temporary index registry.
func (m *Merger) Registry() *Registry {
	return m.registry
}

// Running reports whether a merge for groupID is in flight.
func (m *Merger) Running(groupID string) bool {
	return m.guard.Running(groupID)
}

// TemporaryDirectory returns a fresh merged index directory for a
// temporary merge of groupID inside storage.
func (m *Merger) TemporaryDirectory(groupID string) string {
	name := "tmp-" + sanitize(groupID) + "-" + strconv.FormatInt(m.now().UnixNano(), 36)
	return filepath.Join(m.storage.Base(), name)
}

// RecoverOrphans deletes temporary directories recorded in the journal by
// an earlier process. Entries with an open handle in this process are left
// alone. It returns the number of entries recovered.
func (m *Merger) RecoverOrphans(ctx context.Context) (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	pending, err := m.journal.Pending(ctx)
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeCleanupFailed, "failed to read temporary index journal", err)
	}

	recovered := 0
	for _, entry := range pending {
		if _, open := m.registry.Handle(entry.IndexID); open {
			continue
		}
		if err := m.removeDirectory(entry.Directory); err != nil {
			m.logger.Warn("orphan_cleanup_failed",
				slog.String("index_id", entry.IndexID),
				slog.String("directory", entry.Directory),
				slog.String("error", err.Error()))
			continue
		}
		if err := m.journal.Forget(ctx, entry.IndexID); err != nil {
			m.logger.Warn("journal_forget_failed",
				slog.String("index_id", entry.IndexID),
				slog.String("error", err.Error()))
			continue
		}
		recovered++
		m.logger.Info("orphan_removed",
			slog.String("index_id", entry.IndexID),
			slog.String("group_id", entry.GroupID),
			slog.String("directory", entry.Directory))
	}
	return recovered, nil
}

func (m *Merger) removeDirectory(dir string) error {
	exists, err := m.storage.Exists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return m.storage.RemoveAll(dir)
}

// Close refuses new cleanups and waits for in-flight ones, then closes the
// handles of temporary indexes still registered without deleting them. Their
// journal records remain, so RecoverOrphans removes them on the next start.
// A reaper feeding this merger should be stopped first.
func (m *Merger) Close() error {
	m.cleaner.Close()

	for _, entry := range m.registry.TemporaryGroupIndexes() {
		h, ok := m.registry.Handle(entry.IndexID)
		if !ok {
			continue
		}
		if err := h.Close(false); err != nil {
			m.logger.Warn("temporary_index_close_failed",
				slog.String("index_id", entry.IndexID),
				slog.String("error", err.Error()))
		}
		m.registry.RemoveHandle(entry.IndexID)
	}
	return nil
}

// sanitize keeps group IDs usable as directory names.
func sanitize(groupID string) string {
	out := []rune(groupID)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
