package merger

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
)

// Request asks for the indexes of a group's repositories to be merged.
type Request struct {
	// GroupID identifies the group. At most one merge per group runs at a time.
	GroupID string
	// RepositoryIDs lists member repositories in merge order. May be empty.
	RepositoryIDs []string
	// MergedIndexDirectory is the directory owned by the merged index.
	// Its base name becomes the merged index ID.
	MergedIndexDirectory string
	// MergedIndexPath is the index location relative to MergedIndexDirectory.
	MergedIndexPath string
	// Pack produces a distributable artifact next to the index.
	Pack bool
	// Temporary registers the index for later cleanup.
	Temporary bool
	// TTL is how long a temporary index lives. Ignored unless Temporary.
	TTL time.Duration
}

// Location returns the directory holding the merged index files.
func (r Request) Location() string {
	return filepath.Join(r.MergedIndexDirectory, r.MergedIndexPath)
}

// Validate reports the first problem with the request as ERR_407_INVALID_REQUEST.
func (r Request) Validate() error {
	invalid := func(format string, args ...any) error {
		return amerrors.New(amerrors.ErrCodeInvalidRequest, fmt.Sprintf(format, args...), nil).
			WithDetail("group_id", r.GroupID)
	}

	if strings.TrimSpace(r.GroupID) == "" {
		return invalid("group id must not be empty")
	}
	if r.MergedIndexDirectory == "" {
		return invalid("merged index directory must not be empty")
	}
	if r.MergedIndexPath == "" {
		return invalid("merged index path must not be empty")
	}
	if filepath.IsAbs(r.MergedIndexPath) {
		return invalid("merged index path %q must be relative", r.MergedIndexPath)
	}
	if clean := filepath.Clean(r.MergedIndexPath); clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return invalid("merged index path %q escapes the merged index directory", r.MergedIndexPath)
	}
	if r.Temporary && r.TTL <= 0 {
		return invalid("temporary merge needs a positive ttl, got %s", r.TTL)
	}
	return nil
}
