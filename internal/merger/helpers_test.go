package merger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/pack"
	"github.com/Aman-CERP/amanrepo/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func bufferLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func doc(id, artifact string) index.Document {
	return index.Document{ID: id, Fields: map[string]any{"artifact": artifact}}
}

// mavenRepo returns a maven repository backed by an in-memory index.
func mavenRepo(t *testing.T, id string, docs ...index.Document) *repository.Static {
	t.Helper()
	h, err := index.NewMemHandle(id, docs...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return &repository.Static{RepoID: id, RepoName: id, RepoType: repository.TypeMaven, Handle: h}
}

// gatedIndexer wraps the bleve indexer and records how many calls overlap.
// When release is set, every call blocks on it after signalling entered.
type gatedIndexer struct {
	inner   Indexer
	entered chan struct{}
	release chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
	calls     atomic.Int32
}

func newGatedIndexer(blocking bool) *gatedIndexer {
	g := &gatedIndexer{inner: index.NewIndexer(index.WithLogger(discardLogger())), entered: make(chan struct{}, 64)}
	if blocking {
		g.release = make(chan struct{})
	}
	return g
}

func (g *gatedIndexer) CreateMergedIndex(ctx context.Context, id string, members []index.Handle, directory, location string) (index.MergedIndex, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		cur := g.maxActive.Load()
		if n <= cur || g.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	g.calls.Add(1)

	select {
	case g.entered <- struct{}{}:
	default:
	}
	if g.release != nil {
		<-g.release
	}
	return g.inner.CreateMergedIndex(ctx, id, members, directory, location)
}

// wrappingIndexer lets a test decorate or replace the merged index.
type wrappingIndexer struct {
	inner Indexer
	wrap  func(index.MergedIndex) index.MergedIndex
	err   error
	panic bool
}

func (w *wrappingIndexer) CreateMergedIndex(ctx context.Context, id string, members []index.Handle, directory, location string) (index.MergedIndex, error) {
	if w.panic {
		panic("indexer exploded")
	}
	if w.err != nil {
		return nil, w.err
	}
	merged, err := w.inner.CreateMergedIndex(ctx, id, members, directory, location)
	if err != nil || w.wrap == nil {
		return merged, err
	}
	return w.wrap(merged), nil
}

// failingPacker simulates an I/O failure while packing.
type failingPacker struct {
	err   error
	calls atomic.Int32
}

func (f *failingPacker) Pack(_ context.Context, req pack.Request) error {
	f.calls.Add(1)
	_ = req.Reader.Close()
	return f.err
}

// partialPacker leaves an artifact and its lock file behind, then fails
// before the descriptor is written.
type partialPacker struct {
	err error
}

func (p *partialPacker) Pack(_ context.Context, req pack.Request) error {
	_ = req.Reader.Close()
	artifact := filepath.Join(req.Destination, pack.ArtifactName)
	for _, path := range []string{artifact, artifact + ".lock"} {
		if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
			return err
		}
	}
	return p.err
}

// trackedIndex records Close calls on an underlying merged index and can be
// told to fail Optimize or Close.
type trackedIndex struct {
	index.MergedIndex

	optimizeErr error

	mu          sync.Mutex
	closeErr    error
	closes      int
	deleteFiles bool
}

func (t *trackedIndex) Optimize(ctx context.Context) error {
	if t.optimizeErr != nil {
		return t.optimizeErr
	}
	return t.MergedIndex.Optimize(ctx)
}

func (t *trackedIndex) Close(deleteFiles bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	t.deleteFiles = deleteFiles
	if t.closeErr != nil {
		return t.closeErr
	}
	return t.MergedIndex.Close(deleteFiles)
}

func (t *trackedIndex) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// fakeIndex is a MergedIndex with no backing files.
type fakeIndex struct {
	id  string
	dir string

	mu       sync.Mutex
	closes   int
	closeErr error
	block    chan struct{}
}

func (f *fakeIndex) ID() string        { return f.id }
func (f *fakeIndex) Directory() string { return f.dir }
func (f *fakeIndex) Location() string  { return f.dir }

func (f *fakeIndex) Reader(ctx context.Context) (index.Reader, error) { return f.AcquireReader(ctx) }

func (f *fakeIndex) AcquireReader(context.Context) (index.Reader, error) {
	return nil, errors.New("fake index has no reader")
}

func (f *fakeIndex) DocCount() (uint64, error)      { return 0, nil }
func (f *fakeIndex) Optimize(context.Context) error { return nil }

func (f *fakeIndex) Search(context.Context, string, int) ([]index.Hit, error) { return nil, nil }

func (f *fakeIndex) Close(bool) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeIndex) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// memJournal is an in-memory Journal.
type memJournal struct {
	mu        sync.Mutex
	entries   map[string]TemporaryGroupIndex
	recordErr error
	forgotten []string
}

func newMemJournal() *memJournal {
	return &memJournal{entries: make(map[string]TemporaryGroupIndex)}
}

func (j *memJournal) Record(_ context.Context, e TemporaryGroupIndex) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.recordErr != nil {
		return j.recordErr
	}
	j.entries[e.IndexID] = e
	return nil
}

func (j *memJournal) Forget(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	j.forgotten = append(j.forgotten, id)
	return nil
}

func (j *memJournal) Pending(context.Context) ([]TemporaryGroupIndex, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TemporaryGroupIndex, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	return out, nil
}

func (j *memJournal) has(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.entries[id]
	return ok
}
