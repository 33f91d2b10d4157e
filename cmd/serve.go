package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/aemfed/internal/browser"
	"github.com/conneroisu/aemfed/internal/config"
	"github.com/conneroisu/aemfed/internal/instance"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/push"
	"github.com/conneroisu/aemfed/internal/remote"
	"github.com/conneroisu/aemfed/internal/tracer"
	"github.com/conneroisu/aemfed/internal/updatecheck"
	"github.com/conneroisu/aemfed/internal/version"
	"github.com/conneroisu/aemfed/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	for _, dir := range cfg.Skipped {
		fmt.Fprintln(out, "Invalid path, so skipping:", dir)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	table := tracer.DefaultTable()
	if cfg.Tracer.ProfilesFile != "" {
		if table, err = tracer.LoadTable(cfg.Tracer.ProfilesFile); err != nil {
			return err
		}
	}

	printSummary(out, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noUpdateCheck, _ := cmd.Flags().GetBool("no-update-check")
	if cfg.UpdateCheck.Enabled && !noUpdateCheck {
		go checkForUpdate(ctx, out, cfg, logger)
	}

	client := remote.NewClient()
	manager, err := instance.NewManager(instance.Config{
		Targets:      cfg.Targets,
		ProxyPort:    cfg.ProxyPort,
		Roots:        cfg.Roots,
		DumpLibsPath: cfg.DumpLibsPath,
		TracerDelay:  cfg.Tracer.Delay,
		TracerTable:  table,
		Output:       out,
	}, client, logger)
	if err != nil {
		return err
	}
	if err := manager.Init(ctx); err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}

	pipeline := push.NewPipeline(push.Config{
		Targets: cfg.Targets,
		Roots:   cfg.Roots,
	}, client, logger)
	pipeline.AddCallback(manager.OnPushEnd)
	pipeline.Start(ctx)

	fw, err := newWatcher(cfg, pipeline, logger)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	if cfg.OpenEnabled() {
		page := cfg.OpenURL(manager.Instances()[0].URL())
		if err := browser.Open(cfg.Browser, page); err != nil {
			logger.Warn(ctx, err, "cannot open start page", "url", page)
		}
	}
	separate(out)

	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := fw.Stop(); err != nil {
		logger.Warn(shutdownCtx, err, "error stopping watcher")
	}
	pipeline.Stop()
	return manager.Shutdown(shutdownCtx)
}

// newWatcher watches every root and feeds changed paths to the pipeline.
func newWatcher(cfg *config.Config, pipeline *push.Pipeline, logger logging.Logger) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(cfg.Interval, logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.NoVCSFilter)
	fw.AddFilter(watcher.NoTempFilter)
	if len(cfg.Exclude) > 0 {
		fw.AddFilter(watcher.ExcludeFilter(cfg.Exclude))
	}
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		pipeline.Enqueue(watcher.Paths(events))
		return nil
	})

	for _, root := range cfg.Roots {
		if err := fw.AddRecursive(root); err != nil {
			_ = fw.Stop()
			return nil, err
		}
	}
	return fw, nil
}

func checkForUpdate(ctx context.Context, out io.Writer, cfg *config.Config, logger logging.Logger) {
	current := version.GetVersion()
	if !version.IsRelease() {
		return
	}
	checker := updatecheck.New(updatecheck.Config{
		URL:      cfg.UpdateCheck.URL,
		Interval: cfg.UpdateCheck.Interval,
	}, nil)
	update, err := checker.Check(ctx, current)
	if err != nil {
		logger.Debug(ctx, "update check failed", "error", err)
		return
	}
	if update != nil {
		fmt.Fprintln(out, update.Message())
	}
}

func newLogger(level string) (logging.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  lvl,
		Format: "text",
		Output: os.Stderr,
	}), nil
}

func printSummary(out io.Writer, cfg *config.Config) {
	targets := make([]string, len(cfg.Targets))
	for i, t := range cfg.Targets {
		targets[i] = remote.Redact(t)
	}

	separate(out)
	fmt.Fprintln(out, "Working dirs:", strings.Join(cfg.Roots, ", "))
	fmt.Fprintln(out, "Targets:", strings.Join(targets, ", "))
	fmt.Fprintln(out, "Proxy port:", cfg.ProxyPort)
	fmt.Fprintln(out, "Interval:", cfg.Interval)
	fmt.Fprintln(out, "Exclude:", strings.Join(cfg.Exclude, ", "))
	separate(out)
}

func separate(out io.Writer) {
	fmt.Fprintln(out, strings.Repeat("-", 39))
}
