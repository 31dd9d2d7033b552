package merger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrepo/internal/index"
)

// TemporaryGroupIndex records a merged index that lives only for a bounded
// time and must be retired by the cleaner.
type TemporaryGroupIndex struct {
	Directory string
	IndexID   string
	GroupID   string
	TTL       time.Duration
	CreatedAt time.Time
}

// Expired reports whether the entry has outlived its TTL at now.
func (t TemporaryGroupIndex) Expired(now time.Time) bool {
	return !now.Before(t.CreatedAt.Add(t.TTL))
}

// Journal durably mirrors registry records so that a restarted process can
// find temporary directories left behind by its predecessor.
type Journal interface {
	Record(ctx context.Context, entry TemporaryGroupIndex) error
	Forget(ctx context.Context, indexID string) error
	Pending(ctx context.Context) ([]TemporaryGroupIndex, error)
}

// Registry tracks temporary group index records and open merged index
// handles. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  []TemporaryGroupIndex
	handles  map[string]index.MergedIndex
	retiring map[string]struct{}

	journal Journal
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. journal may be nil.
func NewRegistry(journal Journal, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles:  make(map[string]index.MergedIndex),
		retiring: make(map[string]struct{}),
		journal:  journal,
		logger:   logger,
	}
}

// Register adds a record together with its open handle. It reports false
// and changes nothing when a record or handle with the same index ID exists.
func (r *Registry) Register(ctx context.Context, entry TemporaryGroupIndex, handle index.MergedIndex) bool {
	r.mu.Lock()
	if r.taken(entry.IndexID) {
		r.mu.Unlock()
		return false
	}
	r.entries = append(r.entries, entry)
	r.handles[handle.ID()] = handle
	r.mu.Unlock()

	r.record(ctx, entry)
	return true
}

// Conflicts reports whether a merge into directory with index ID id would
// disturb a registered temporary index. Every merge conflicts with a
// registered directory; a temporary merge also conflicts with a registered ID.
func (r *Registry) Conflicts(id, directory string, temporary bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if temporary && r.taken(id) {
		return true
	}
	for _, e := range r.entries {
		if e.Directory == directory {
			return true
		}
	}
	return false
}

func (r *Registry) taken(id string) bool {
	if _, ok := r.handles[id]; ok {
		return true
	}
	for _, e := range r.entries {
		if e.IndexID == id {
			return true
		}
	}
	return false
}

// AddTemporaryIndex adds a record. A record with the same index ID is replaced.
func (r *Registry) AddTemporaryIndex(ctx context.Context, entry TemporaryGroupIndex) {
	r.mu.Lock()
	r.entries = appendEntry(r.entries, entry)
	r.mu.Unlock()

	r.record(ctx, entry)
}

// RemoveTemporaryIndex removes the record with indexID. It reports whether
// a record was removed.
func (r *Registry) RemoveTemporaryIndex(ctx context.Context, indexID string) bool {
	r.mu.Lock()
	removed := false
	for i, e := range r.entries {
		if e.IndexID == indexID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			removed = true
			break
		}
	}
	r.mu.Unlock()

	if removed && r.journal != nil {
		if err := r.journal.Forget(ctx, indexID); err != nil {
			r.logger.Warn("journal_forget_failed",
				slog.String("index_id", indexID),
				slog.String("error", err.Error()))
		}
	}
	return removed
}

// AddHandle adds an open merged index handle.
func (r *Registry) AddHandle(handle index.MergedIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[handle.ID()] = handle
}

// RemoveHandle removes the handle with id.
func (r *Registry) RemoveHandle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Handle returns the open handle with id.
func (r *Registry) Handle(id string) (index.MergedIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// TemporaryGroupIndexes returns a copy of all records in registration order.
func (r *Registry) TemporaryGroupIndexes() []TemporaryGroupIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TemporaryGroupIndex, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of records and open handles.
func (r *Registry) Len() (entries, handles int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), len(r.handles)
}

// claim returns the handle with id and marks it as being retired, so that a
// concurrent cleaner of the same index finds nothing. ok is false when there
// is no handle or it is already being retired.
func (r *Registry) claim(id string) (index.MergedIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.retiring[id]; busy {
		return nil, false
	}
	h, ok := r.handles[id]
	if !ok {
		return nil, false
	}
	r.retiring[id] = struct{}{}
	return h, true
}

// unclaim ends retirement of id.
func (r *Registry) unclaim(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retiring, id)
}

func (r *Registry) record(ctx context.Context, entry TemporaryGroupIndex) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		r.logger.Warn("journal_record_failed",
			slog.String("index_id", entry.IndexID),
			slog.String("group_id", entry.GroupID),
			slog.String("error", err.Error()))
	}
}

func appendEntry(entries []TemporaryGroupIndex, entry TemporaryGroupIndex) []TemporaryGroupIndex {
	for i, e := range entries {
		if e.IndexID == entry.IndexID {
			entries[i] = entry
			return entries
		}
	}
	return append(entries, entry)
}
