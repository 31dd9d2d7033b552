package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrepo/internal/output"
)

func newGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove temporary indexes left behind by earlier processes",
		Long: `Remove temporary index directories recorded in the journal whose owning
process has exited, then forget their journal rows.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				output.New(cmd.OutOrStdout()).Warning("Journal disabled, nothing to collect.")
				return nil
			}

			a, err := openApp(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.merger.RecoverOrphans(cmd.Context())
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Removed %d orphaned temporary indexes", n)
			return nil
		},
	}
}
