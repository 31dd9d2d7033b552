package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrepo/internal/merger"
	"github.com/Aman-CERP/amanrepo/internal/output"
	"github.com/Aman-CERP/amanrepo/internal/pack"
)

// mergeOptions holds CLI flags for merge.
type mergeOptions struct {
	group  string
	repos  []string
	out    string
	path   string
	pack   bool
	format string // "text", "json"
}

// mergeResult is the JSON output of a merge.
type mergeResult struct {
	GroupID   string   `json:"group_id"`
	IndexID   string   `json:"index_id,omitempty"`
	Location  string   `json:"location,omitempty"`
	Documents uint64   `json:"documents"`
	Members   []string `json:"repositories"`
	Artifact  string   `json:"artifact,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
}

func newMergeCmd() *cobra.Command {
	var opts mergeOptions

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge repository indexes into a permanent group index",
		Long: `Merge the search indexes of the given repositories into one group index.

Repositories are merged in the order given; for documents present in several
repositories the last one wins. Unknown repositories and repositories without
a search index are skipped.

Examples:
  amanrepo merge --group public --repo central --repo internal
  amanrepo merge --group public --repo central --pack
  amanrepo merge --group public --repo central --out /srv/merged/public --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMerge(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.group, "group", "g", "", "Group ID (required)")
	cmd.Flags().StringSliceVarP(&opts.repos, "repo", "r", nil, "Member repository ID (repeatable, in merge order)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Merged index directory (default: <merge.base_dir>/<group>)")
	cmd.Flags().StringVar(&opts.path, "path", "", "Index location inside the directory (default: merge.index_path)")
	cmd.Flags().BoolVar(&opts.pack, "pack", false, "Write a packed artifact (default: merge.pack)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

func runMerge(ctx context.Context, cmd *cobra.Command, opts mergeOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("pack") {
		opts.pack = cfg.Merge.Pack
	}
	if opts.path == "" {
		opts.path = cfg.Merge.IndexPath
	}
	if opts.out == "" {
		opts.out = filepath.Join(cfg.Merge.BaseDir, opts.group)
	}

	a, err := openApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	req := merger.Request{
		GroupID:              opts.group,
		RepositoryIDs:        opts.repos,
		MergedIndexDirectory: opts.out,
		MergedIndexPath:      opts.path,
		Pack:                 opts.pack,
	}
	merged, err := a.merger.BuildMergedIndex(ctx, req)
	if err != nil {
		return err
	}

	result := mergeResult{GroupID: opts.group, Members: opts.repos}
	if merged == nil {
		result.Skipped = true
		return printMerge(cmd, opts.format, result)
	}
	defer func() { _ = merged.Close(false) }()

	count, err := merged.DocCount()
	if err != nil {
		return err
	}
	result.IndexID = merged.ID()
	result.Location = merged.Location()
	result.Documents = count
	if opts.pack {
		result.Artifact = filepath.Join(merged.Location(), pack.ArtifactName)
	}
	return printMerge(cmd, opts.format, result)
}

func printMerge(cmd *cobra.Command, format string, r mergeResult) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	w := output.New(out)
	if r.Skipped {
		w.Warningf("Merge of group %s is already running, skipped", r.GroupID)
		return nil
	}
	w.Successf("Merged %d documents from %d repositories into %s", r.Documents, len(r.Members), r.Location)
	if r.Artifact != "" {
		w.Statusf(" ", "Packed artifact: %s", r.Artifact)
	}
	return nil
}
