package merger

import (
	"context"
	"log/slog"
	"sync"
)

// FileSystem is the part of storage the cleaner needs.
type FileSystem interface {
	Exists(path string) (bool, error)
	RemoveAll(path string) error
}

// Cleaner retires temporary group indexes in the background.
type Cleaner struct {
	registry *Registry
	fs       FileSystem
	logger   *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewCleaner creates a Cleaner deleting directories through fs.
func NewCleaner(registry *Registry, fs FileSystem, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{registry: registry, fs: fs, logger: logger}
}

// Clean retires entry without blocking the caller. A nil entry is ignored.
// Errors are logged and never returned. Cleaning an entry that is already
// gone, or is being cleaned by another call, does nothing. After Close the
// entry is left for RecoverOrphans.
func (c *Cleaner) Clean(entry *TemporaryGroupIndex) {
	if entry == nil {
		return
	}
	e := *entry

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("temporary_index_cleanup_refused",
			slog.String("index_id", e.IndexID),
			slog.String("reason", "cleaner closed"))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.clean(context.Background(), e)
	}()
}

// Wait blocks until every dispatched cleanup has finished.
func (c *Cleaner) Wait() {
	c.wg.Wait()
}

// Close refuses further cleanups and waits for the dispatched ones.
func (c *Cleaner) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cleaner) clean(ctx context.Context, entry TemporaryGroupIndex) {
	handle, ok := c.registry.claim(entry.IndexID)
	if !ok {
		c.logger.Debug("temporary_index_not_found", slog.String("index_id", entry.IndexID))
		return
	}
	defer c.registry.unclaim(entry.IndexID)

	// On failure the record stays so a later pass can retire it
	if err := handle.Close(true); err != nil {
		c.warn(entry, "close", err)
		return
	}
	c.registry.RemoveTemporaryIndex(ctx, entry.IndexID)
	c.registry.RemoveHandle(entry.IndexID)

	exists, err := c.fs.Exists(entry.Directory)
	if err != nil {
		c.warn(entry, "stat", err)
		return
	}
	if exists {
		if err := c.fs.RemoveAll(entry.Directory); err != nil {
			c.warn(entry, "remove", err)
			return
		}
	}

	c.logger.Info("temporary_index_removed",
		slog.String("index_id", entry.IndexID),
		slog.String("group_id", entry.GroupID),
		slog.String("directory", entry.Directory))
}

func (c *Cleaner) warn(entry TemporaryGroupIndex, step string, err error) {
	c.logger.Warn("temporary_index_cleanup_failed",
		slog.String("index_id", entry.IndexID),
		slog.String("group_id", entry.GroupID),
		slog.String("step", step),
		slog.String("error", err.Error()))
}
