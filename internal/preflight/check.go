package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanrepo/internal/config"
	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/journal"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against cfg and returns the results.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config) []CheckResult {
	results := []CheckResult{
		c.CheckDiskSpace(cfg.Merge.BaseDir),
		c.CheckWritePermissions(cfg.Merge.BaseDir),
		c.CheckFileDescriptors(),
		c.CheckJournal(ctx, cfg.Journal.Path),
	}
	for _, repo := range cfg.Repositories {
		if strings.EqualFold(repo.Type, config.RepositoryTypeMaven) {
			results = append(results, c.CheckRepositoryIndex(repo))
		}
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "AmanRepo System Check")
	_, _ = fmt.Fprintln(c.output, "=====================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	printIssues(c.output, "error", errors)
	printIssues(c.output, "warning", warnings)
}

func printIssues(w io.Writer, kind string, issues []string) {
	if len(issues) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%d %s(s):\n", len(issues), kind)
	for _, issue := range issues {
		_, _ = fmt.Fprintf(w, "  - %s\n", issue)
	}
}

// CheckWritePermissions checks that merged indexes can be created under dir.
// A missing dir is created, as the merger would.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	f, err := os.CreateTemp(dir, ".amanrepo-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = dir
	return result
}

// CheckJournal opens the journal at path and lists its rows. Pending rows
// are reported as a warning since they belong to a process that exited.
func (c *Checker) CheckJournal(ctx context.Context, path string) CheckResult {
	result := CheckResult{
		Name:     "journal",
		Required: false,
	}
	if path == "" {
		result.Status = StatusWarn
		result.Message = "disabled, orphaned temporary indexes are not recovered"
		return result
	}

	j, err := journal.Open(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot open: %v", err)
		result.Details = path
		return result
	}
	defer func() { _ = j.Close() }()

	pending, err := j.Pending(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read: %v", err)
		result.Details = path
		return result
	}
	result.Details = path
	if len(pending) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d temporary index(es) pending, run 'amanrepo gc'", len(pending))
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckRepositoryIndex opens the search index of repo. Failures are not
// critical: merges skip members whose index cannot be opened.
func (c *Checker) CheckRepositoryIndex(repo config.RepositoryConfig) CheckResult {
	result := CheckResult{
		Name:     "repository_index:" + repo.ID,
		Required: false,
		Details:  filepath.Clean(repo.IndexDir),
	}

	h, err := index.OpenHandle(repo.ID, repo.IndexDir)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = h.Close() }()

	count, err := h.DocCount()
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d documents", count)
	return result
}
