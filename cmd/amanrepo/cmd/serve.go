package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrepo/internal/logging"
	"github.com/Aman-CERP/amanrepo/internal/preflight"
	"github.com/Aman-CERP/amanrepo/internal/reaper"
	"github.com/Aman-CERP/amanrepo/pkg/version"
)

func newServeCmd() *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the temporary index reaper",
		Long: `Run in the foreground until interrupted.

On start, temporary indexes left behind by an earlier process are removed.
While running, temporary indexes whose TTL has passed are cleaned up every
reaper.interval. Logs go to ~/.amanrepo/logs/server.log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, logFile)
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: ~/.amanrepo/logs/server.log)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, logFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	logCfg.Stderr = cmd.ErrOrStderr()
	logCfg.WriteToStderr = debugMode
	if logFile != "" {
		logCfg.FilePath = logFile
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	checker := preflight.New()
	checks := checker.RunAll(ctx, cfg)
	for _, c := range checks {
		if c.Status != preflight.StatusPass {
			logger.Warn("preflight_check",
				slog.String("check", c.Name),
				slog.String("status", c.Status.String()),
				slog.String("message", c.Message))
		}
	}
	logger.Info("preflight_complete", slog.String("status", checker.SummaryStatus(checks)))

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := signalContext(ctx)
	defer cancel()

	logger.Info("serve_started",
		slog.String("version", version.UserAgent()),
		slog.String("base_dir", a.storage.Base()),
		slog.Int("repositories", len(cfg.Repositories)))

	recovered, err := a.merger.RecoverOrphans(ctx)
	if err != nil {
		logger.Warn("orphan_recovery_failed", slog.String("error", err.Error()))
	}

	var r *reaper.Reaper
	if cfg.Reaper.Enabled {
		r = reaper.New(a.merger,
			reaper.WithInterval(cfg.Reaper.PollInterval()),
			reaper.WithRate(cfg.Reaper.CleanupsPerSecond),
			reaper.WithLogger(logger))
		r.Start(ctx)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s (recovered %d orphaned indexes). Ctrl+C to stop.\n",
		a.storage.Base(), recovered)

	<-ctx.Done()

	if r != nil {
		r.Stop()
	}
	logger.Info("serve_stopped")
	return nil
}
