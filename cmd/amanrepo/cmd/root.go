// Package cmd provides the CLI commands for AmanRepo.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrepo/internal/logging"
	"github.com/Aman-CERP/amanrepo/pkg/version"
)

// Global flags
var (
	configDir      string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for amanrepo CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrepo",
		Short: "Group index merging for artifact repositories",
		Long: `AmanRepo merges the search indexes of the repositories in a group
into one group index.

Permanent merges can be packed into a distributable artifact. Temporary
merges serve a single search and are retired by the reaper once their
TTL has passed.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrepo version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config", "", "Directory holding .amanrepo.yaml (default: project root)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amanrepo/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the default logger. Without --debug only warnings
// reach stderr; serve adds its own file logging.
func startLogging(cmd *cobra.Command, _ []string) error {
	cfg := logging.Config{
		Level:         "warn",
		WriteToStderr: true,
		Stderr:        cmd.ErrOrStderr(),
	}
	if debugMode {
		cfg = logging.DebugConfig()
		cfg.Stderr = cmd.ErrOrStderr()
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	if debugMode {
		slog.Info("Debug logging enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.UserAgent()))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
