package merger

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/repository"
)

// Resolver turns repository IDs into member index handles.
// Resolution is best effort: a member that cannot be resolved is dropped.
type Resolver struct {
	registry repository.Registry
	workers  int
	logger   *slog.Logger
}

// NewResolver creates a Resolver running at most workers lookups at once.
// workers <= 0 means runtime.NumCPU().
func NewResolver(registry repository.Registry, workers int, logger *slog.Logger) *Resolver {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{registry: registry, workers: workers, logger: logger}
}

// Resolve returns the handles of every resolvable maven repository in
// repositoryIDs, in request order. Duplicate IDs are resolved once.
func (r *Resolver) Resolve(ctx context.Context, groupID string, repositoryIDs []string) []index.Handle {
	ids := dedupe(repositoryIDs)
	handles := make([]index.Handle, len(ids))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, id := range ids {
		g.Go(func() error {
			handles[i] = r.resolveOne(groupID, id)
			return nil
		})
	}
	// Workers never fail; dropped members are logged by resolveOne
	_ = g.Wait()

	members := handles[:0]
	for _, h := range handles {
		if h != nil {
			members = append(members, h)
		}
	}
	return members
}

func (r *Resolver) resolveOne(groupID, id string) index.Handle {
	drop := func(reason string, err error) index.Handle {
		attrs := []any{
			slog.String("group_id", groupID),
			slog.String("repository_id", id),
			slog.String("reason", reason),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.logger.Debug("member_dropped", attrs...)
		return nil
	}

	repo, err := r.registry.Repository(id)
	if err != nil {
		return drop("repository not found", err)
	}
	if repo.Type() != repository.TypeMaven {
		return drop("repository type "+string(repo.Type())+" is not indexable", nil)
	}
	h, err := repo.IndexingContext()
	if err != nil {
		return drop("index unavailable", err)
	}
	if h == nil {
		return drop("index unavailable", nil)
	}
	return h
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
