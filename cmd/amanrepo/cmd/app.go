package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Aman-CERP/amanrepo/internal/config"
	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/journal"
	"github.com/Aman-CERP/amanrepo/internal/merger"
	"github.com/Aman-CERP/amanrepo/internal/repository"
	"github.com/Aman-CERP/amanrepo/internal/storage"
)

// app holds the components every command works with.
type app struct {
	cfg     *config.Config
	storage *storage.Storage
	repos   *repository.ConfigRegistry
	journal *journal.Journal
	merger  *merger.Merger
	logger  *slog.Logger
}

// loadConfig loads configuration from --config, or the project root of the
// working directory.
func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		if dir, err = config.FindProjectRoot(cwd); err != nil {
			return nil, err
		}
	}
	return config.Load(dir)
}

// openApp wires storage, repositories, journal and merger from cfg.
func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := storage.New(cfg.Merge.BaseDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		storage: st,
		repos:   repository.NewConfigRegistry(cfg.Repositories, repository.WithLogger(logger)),
		logger:  logger,
	}

	opts := []merger.Option{
		merger.WithLogger(logger),
		merger.WithResolveWorkers(cfg.Merge.ResolveWorkers),
		merger.WithIndexer(index.NewIndexer(
			index.WithBatchSize(cfg.Merge.BatchSize),
			index.WithLogger(logger))),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			_ = a.repos.Close()
			return nil, err
		}
		a.journal = j
		opts = append(opts, merger.WithJournal(j))
	}

	m, err := merger.New(a.repos, st, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.merger = m
	return a, nil
}

// Close shuts the merger down before the journal it writes to.
func (a *app) Close() error {
	var errs []error
	if a.merger != nil {
		errs = append(errs, a.merger.Close())
	}
	errs = append(errs, a.repos.Close())
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	return errors.Join(errs...)
}
