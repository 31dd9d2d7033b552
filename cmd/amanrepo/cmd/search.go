package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/merger"
	"github.com/Aman-CERP/amanrepo/internal/output"
	"github.com/Aman-CERP/amanrepo/internal/pack"
	"github.com/Aman-CERP/amanrepo/internal/storage"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	group    string
	repos    []string
	limit    int
	ttl      time.Duration
	fromPack string
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a group of repositories",
		Long: `Search the repositories of a group through a temporary merged index.

The temporary index is removed once the search has finished. With --from-pack
the packed artifact of an earlier merge is searched instead.

Query syntax follows bleve query strings, e.g. "artifact:junit".

Examples:
  amanrepo search --group public --repo central --repo internal junit
  amanrepo search --group public --repo central "artifact:slf4j*" --limit 5
  amanrepo search --from-pack /srv/merged/public/.indexer junit`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.group, "group", "g", "", "Group ID")
	cmd.Flags().StringSliceVarP(&opts.repos, "repo", "r", nil, "Member repository ID (repeatable, in merge order)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "Lifetime of the temporary index (default: merge.default_ttl)")
	cmd.Flags().StringVar(&opts.fromPack, "from-pack", "", "Search a packed artifact directory instead of merging")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	slog.Debug("search_started", slog.String("query", query), slog.Int("limit", opts.limit))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var hits []index.Hit
	if opts.fromPack != "" {
		hits, err = searchPack(ctx, opts.fromPack, query, opts.limit)
	} else {
		if opts.group == "" {
			return fmt.Errorf("--group is required unless --from-pack is given")
		}
		if opts.ttl <= 0 {
			opts.ttl = cfg.Merge.TTL()
		}
		var a *app
		if a, err = openApp(cfg, slog.Default()); err != nil {
			return err
		}
		hits, err = searchGroup(ctx, a, query, opts)
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}

	slog.Debug("search_completed", slog.Int("results", len(hits)))
	return printHits(cmd, opts.format, hits)
}

// searchGroup runs query over a temporary merge and retires it afterwards.
func searchGroup(ctx context.Context, a *app, query string, opts searchOptions) ([]index.Hit, error) {
	req := merger.Request{
		GroupID:              opts.group,
		RepositoryIDs:        opts.repos,
		MergedIndexDirectory: a.merger.TemporaryDirectory(opts.group),
		MergedIndexPath:      a.cfg.Merge.IndexPath,
		Temporary:            true,
		TTL:                  opts.ttl,
	}
	merged, err := a.merger.BuildMergedIndex(ctx, req)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		return nil, fmt.Errorf("a merge of group %s is already running", opts.group)
	}
	defer retire(a.merger, merged.ID())

	return merged.Search(ctx, query, opts.limit)
}

func retire(m *merger.Merger, indexID string) {
	for _, e := range m.TemporaryGroupIndexes() {
		if e.IndexID == indexID {
			m.CleanTemporaryGroupIndex(&e)
			return
		}
	}
}

// searchPack loads a packed artifact into memory and searches it.
func searchPack(ctx context.Context, dir, query string, limit int) ([]index.Hit, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, amerrors.IOError("packed artifact directory not found: "+dir, err)
	}
	st, err := storage.New(dir)
	if err != nil {
		return nil, err
	}
	_, docs, err := pack.NewPacker(st).Unpack(ctx, dir)
	if err != nil {
		return nil, err
	}
	h, err := index.NewMemHandle(index.IDFromDirectory(dir), docs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Close() }()
	return h.Search(ctx, query, limit)
}

func printHits(cmd *cobra.Command, format string, hits []index.Hit) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		output.New(out).Status("", "No results found.")
		return nil
	}
	for i, h := range hits {
		if _, err := fmt.Fprintf(out, "%d. %s (%.3f)%s\n", i+1, h.ID, h.Score, formatFields(h.Fields)); err != nil {
			return err
		}
	}
	return nil
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, fields[k])
	}
	return sb.String()
}
