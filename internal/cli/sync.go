package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/taskly/internal/bus"
	"github.com/roach88/taskly/internal/config"
	"github.com/roach88/taskly/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Once        bool
	WatchConfig bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replicate tasks with the configured server",
		Long: `Replicate tasks with the CouchDB-compatible server in the config file.

Without --once, sync runs a push/pull cycle every sync.interval_seconds until
interrupted, printing each state change. With --watch-config, edits to the
config file restart replication with the new settings.`,
		Example: `  taskly sync --once
  taskly sync --watch-config --format json`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				if opts.Once {
					return runSyncOnce(ctx, a)
				}
				return runSyncLoop(ctx, a, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&opts.WatchConfig, "watch-config", false, "restart sync when the config file changes")

	return cmd
}

func runSyncOnce(ctx context.Context, a *app) error {
	if !a.cfg.Sync.Enabled() {
		return a.out.Message("sync is disabled (mode %s)", a.cfg.Sync.Mode)
	}

	eng := a.newEngine()
	if err := eng.RunOnce(ctx, a.cfg.Sync); err != nil {
		return syncError(err)
	}
	return a.out.Success(stateView(eng.State()))
}

func runSyncLoop(parent context.Context, a *app, opts *SyncOptions) error {
	if !a.cfg.Sync.Enabled() && !opts.WatchConfig {
		return a.out.Message("sync is disabled (mode %s)", a.cfg.Sync.Mode)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sub := a.bus.Subscribe(bus.TopicSyncStateChanged, bus.TopicTasksChanged)
	defer a.bus.Unsubscribe(sub)

	var reloads <-chan config.ReloadEvent
	if opts.WatchConfig {
		w := config.NewWatcher(a.configPath, a.logger.With("component", "config"))
		if err := w.Start(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to watch config", err)
		}
		reloads = w.Events()
	}

	eng := a.newEngine()
	if err := eng.Start(a.cfg.Sync); err != nil {
		return syncError(err)
	}
	defer func() {
		eng.Stop()
		eng.Wait()
	}()

	a.out.VerboseLog("sync running against %s/%s, press Ctrl-C to stop", a.cfg.Sync.URL, a.cfg.Sync.DBName)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("sync stopped")
			return nil

		case ev := <-sub.Events():
			switch p := ev.Payload.(type) {
			case engine.State:
				if err := a.out.Success(stateView(p)); err != nil {
					return err
				}
			case bus.TasksChangedEvent:
				if p.Source == bus.SourceRemote {
					a.out.VerboseLog("remote changes applied")
				}
			}

		case ev, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				a.logger.Warn("config reload rejected, keeping current settings", "path", ev.Path, "error", err)
				continue
			}
			a.cfg = cfg
			if err := eng.Restart(cfg.Sync); err != nil {
				a.logger.Warn("sync restart failed", "error", err)
			}
		}
	}
}

// syncError maps engine failures to exit errors.
func syncError(err error) error {
	if engine.IsConfigError(err) {
		return WrapExitError(ExitCommandError, "invalid sync settings", err)
	}
	return WrapExitError(ExitFailure, "sync failed", err)
}
