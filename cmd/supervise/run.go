package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrepp/prism-supervisor/pkg/history"
	"github.com/jrepp/prism-supervisor/pkg/manifest"
	"github.com/jrepp/prism-supervisor/pkg/observability"
	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a supervision tree",
	Long: `Start every child declared in the manifest and supervise them until
SIGINT or SIGTERM, or until the restart intensity is exceeded.

Exits 0 after an interrupt or once every child has stopped for good, and
non-zero when the tree gives up.`,
	Example: `  supervise run -f tree.yaml
  supervise run -f tree.yaml --metrics-addr :9090 --history-db history.db --watch`,
	RunE: runTree,
}

func init() {
	runCmd.Flags().StringP("file", "f", "supervise.yaml", "manifest file")
	runCmd.Flags().String("metrics-addr", "", "serve /health, /ready and /metrics on this address")
	runCmd.Flags().String("history-db", "", "record lifecycle events to this SQLite database")
	runCmd.Flags().Duration("history-retention", 7*24*time.Hour, "delete history entries older than this")
	runCmd.Flags().Bool("watch", false, "reconcile the tree when the manifest changes")
	runCmd.Flags().Duration("debounce", manifest.DefaultDebounce, "manifest change debounce")
	runCmd.Flags().Bool("trace", false, "export restart spans to stdout")

	_ = viper.BindPFlag("run.file", runCmd.Flags().Lookup("file"))
	_ = viper.BindPFlag("run.metrics_addr", runCmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("run.history_db", runCmd.Flags().Lookup("history-db"))
	_ = viper.BindPFlag("run.history_retention", runCmd.Flags().Lookup("history-retention"))
	_ = viper.BindPFlag("run.watch", runCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("run.debounce", runCmd.Flags().Lookup("debounce"))
	_ = viper.BindPFlag("run.trace", runCmd.Flags().Lookup("trace"))
}

func runTree(cmd *cobra.Command, args []string) error {
	path := viper.GetString("run.file")
	m, err := manifest.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	specs, err := m.ChildSpecs(builtins)
	if err != nil {
		return err
	}

	// Re-executed children run their worker and exit here, before any of the
	// parent's listeners or databases are opened.
	procmgr.ChildMain(supervisor.Lookup(specs))

	flags, err := m.Flags()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pmc := supervisor.NewPrometheusMetricsCollector("")
	var sinks supervisor.EventSinks

	if dbPath := viper.GetString("run.history_db"); dbPath != "" {
		journal, err := history.Open(ctx, dbPath,
			history.WithRetention(viper.GetDuration("run.history_retention"), time.Hour))
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		slog.Info("recording history", "path", dbPath)
	}

	sup, err := supervisor.New(flags, specs,
		supervisor.WithName(m.Supervisor.Name),
		supervisor.WithMetricsCollector(pmc),
		supervisor.WithEventSink(sinks))
	if err != nil {
		return err
	}

	obs := observability.NewManager(observability.Config{
		ServiceName:    m.Supervisor.Name,
		ServiceVersion: version,
		MetricsAddr:    viper.GetString("run.metrics_addr"),
		EnableTracing:  viper.GetBool("run.trace"),
	}, sup, pmc.Registry())
	if err := obs.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("observability shutdown failed", "error", err)
		}
	}()

	if viper.GetBool("run.watch") {
		go watchManifest(ctx, sup, m, viper.GetDuration("run.debounce"))
	}

	slog.Info("starting supervision tree",
		"name", m.Supervisor.Name,
		"manifest", m.ManifestPath(),
		"flags", flags.String(),
		"children", len(specs))

	err = sup.Run(ctx)
	switch {
	case err == nil:
		slog.Info("supervision tree finished", "name", m.Supervisor.Name)
		return nil
	case supervisor.IsErrorCode(err, supervisor.ErrorCodeInterrupted):
		slog.Info("supervision tree interrupted", "name", m.Supervisor.Name)
		return nil
	default:
		return err
	}
}

// watchManifest reconciles sup with every valid edit of the manifest
func watchManifest(ctx context.Context, sup *supervisor.Supervisor, initial *manifest.Manifest, debounce time.Duration) {
	var mu sync.Mutex
	current := initial

	err := manifest.Watch(ctx, initial.ManifestPath(), debounce, func(next *manifest.Manifest, err error) {
		if err != nil {
			slog.Warn("ignoring invalid manifest", "path", initial.ManifestPath(), "error", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()

		result, err := manifest.Reconcile(ctx, sup, current, next, builtins)
		if err != nil {
			slog.Error("manifest reconcile failed", "error", err)
			return
		}
		if result.RestartRequired {
			slog.Warn("manifest change needs a restart", "reason", result.Reason)
			return
		}
		if len(result.Added)+len(result.Removed)+len(result.Changed) > 0 {
			slog.Info("manifest reconciled",
				"added", result.Added,
				"removed", result.Removed,
				"changed", result.Changed)
		}
		current = next
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("manifest watch stopped", "error", err)
	}
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	switch supervisor.GetErrorCode(err) {
	case supervisor.ErrorCodeInvalidConfiguration, supervisor.ErrorCodeDuplicateChildID:
		return 2
	default:
		return 1
	}
}
