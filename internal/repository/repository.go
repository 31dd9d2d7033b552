// Package repository resolves managed repositories and their search indexes.
package repository

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Aman-CERP/amanrepo/internal/config"
	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
	"github.com/Aman-CERP/amanrepo/internal/index"
)

// Type is the content type of a repository.
type Type string

const (
	TypeMaven   Type = config.RepositoryTypeMaven
	TypeNPM     Type = config.RepositoryTypeNPM
	TypeGeneric Type = config.RepositoryTypeGeneric
)

var (
	// ErrRepositoryNotFound matches lookups of unknown repository IDs.
	ErrRepositoryNotFound = amerrors.Sentinel(amerrors.ErrCodeRepositoryNotFound)
	// ErrUnsupportedType matches requests for an index of a type that has none.
	ErrUnsupportedType = amerrors.Sentinel(amerrors.ErrCodeUnsupportedType)
)

// Repository is a managed repository.
type Repository interface {
	ID() string
	Name() string
	Type() Type
	// IndexingContext returns the open search index of the repository.
	// Repositories without a searchable index return ErrUnsupportedType.
	IndexingContext() (index.Handle, error)
}

// Registry looks repositories up by ID.
type Registry interface {
	Repository(id string) (Repository, error)
}

// Opener opens the index stored at path for repository id.
type Opener func(id, path string) (index.Handle, error)

func openBleve(id, path string) (index.Handle, error) {
	return index.OpenHandle(id, path)
}

// ConfigRegistry is a Registry built from configuration. Indexes of maven
// repositories are opened on first use and kept open until Close.
type ConfigRegistry struct {
	repos  map[string]*configRepository
	logger *slog.Logger
}

// Option configures a ConfigRegistry.
type Option func(*ConfigRegistry)

// WithOpener replaces the index opener.
func WithOpener(open Opener) Option {
	return func(r *ConfigRegistry) {
		for _, repo := range r.repos {
			repo.open = open
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *ConfigRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewConfigRegistry creates a registry from repository configuration.
func NewConfigRegistry(repos []config.RepositoryConfig, opts ...Option) *ConfigRegistry {
	r := &ConfigRegistry{
		repos:  make(map[string]*configRepository, len(repos)),
		logger: slog.Default(),
	}
	for _, rc := range repos {
		r.repos[rc.ID] = &configRepository{cfg: rc, open: openBleve}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Repository returns the repository with the given ID.
func (r *ConfigRegistry) Repository(id string) (Repository, error) {
	repo, ok := r.repos[id]
	if !ok {
		return nil, amerrors.New(amerrors.ErrCodeRepositoryNotFound,
			fmt.Sprintf("repository %q not found", id), nil).
			WithDetail("repository_id", id)
	}
	return repo, nil
}

// IDs returns the configured repository IDs in sorted order.
func (r *ConfigRegistry) IDs() []string {
	ids := make([]string, 0, len(r.repos))
	for id := range r.repos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every index opened so far.
func (r *ConfigRegistry) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.close(); err != nil {
			r.logger.Warn("repository_index_close_failed",
				slog.String("repository_id", repo.ID()),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type configRepository struct {
	cfg  config.RepositoryConfig
	open Opener

	mu     sync.Mutex
	handle index.Handle
}

func (c *configRepository) ID() string { return c.cfg.ID }

func (c *configRepository) Name() string {
	if c.cfg.Name == "" {
		return c.cfg.ID
	}
	return c.cfg.Name
}

func (c *configRepository) Type() Type {
	return Type(strings.ToLower(c.cfg.Type))
}

// IndexingContext opens the index on first call. A failed open is not
// cached, so a later call retries.
func (c *configRepository) IndexingContext() (index.Handle, error) {
	if c.Type() != TypeMaven {
		return nil, amerrors.New(amerrors.ErrCodeUnsupportedType,
			fmt.Sprintf("repository %q of type %s has no search index", c.cfg.ID, c.Type()), nil).
			WithDetail("repository_id", c.cfg.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return c.handle, nil
	}
	h, err := c.open(c.cfg.ID, c.cfg.IndexDir)
	if err != nil {
		return nil, err
	}
	c.handle = h
	return h, nil
}

func (c *configRepository) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	h := c.handle
	c.handle = nil
	if closer, ok := h.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Static is a Repository with fixed attributes, for embedding and tests.
type Static struct {
	RepoID   string
	RepoName string
	RepoType Type
	Handle   index.Handle
	// Err, when set, is returned by IndexingContext.
	Err error
}

func (s *Static) ID() string   { return s.RepoID }
func (s *Static) Name() string { return s.RepoName }
func (s *Static) Type() Type   { return s.RepoType }

func (s *Static) IndexingContext() (index.Handle, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Handle == nil {
		return nil, amerrors.New(amerrors.ErrCodeUnsupportedType,
			fmt.Sprintf("repository %q has no search index", s.RepoID), nil)
	}
	return s.Handle, nil
}

// StaticRegistry is a map-backed Registry. It is safe for concurrent use.
type StaticRegistry struct {
	mu    sync.RWMutex
	repos map[string]Repository
}

// NewStaticRegistry creates a registry holding repos.
func NewStaticRegistry(repos ...Repository) *StaticRegistry {
	r := &StaticRegistry{repos: make(map[string]Repository, len(repos))}
	for _, repo := range repos {
		r.repos[repo.ID()] = repo
	}
	return r
}

// Add registers or replaces a repository.
func (r *StaticRegistry) Add(repo Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[repo.ID()] = repo
}

// Repository returns the repository with the given ID.
func (r *StaticRegistry) Repository(id string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[id]
	if !ok {
		return nil, amerrors.New(amerrors.ErrCodeRepositoryNotFound,
			fmt.Sprintf("repository %q not found", id), nil)
	}
	return repo, nil
}
