package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/taskly/internal/bus"
	"github.com/roach88/taskly/internal/config"
	"github.com/roach88/taskly/internal/engine"
	"github.com/roach88/taskly/internal/store"
	"github.com/roach88/taskly/internal/telemetry"
)

// app holds the components opened for one command invocation.
type app struct {
	opts       *RootOptions
	configPath string
	cfg        config.Config
	logger     *slog.Logger
	bus        *bus.Bus
	store      *store.Store
	out        *OutputFormatter
}

// openApp loads config, builds the logger, and opens the store.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	a, err := loadApp(cmd, opts)
	if err != nil {
		return nil, err
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = a.cfg.DatabasePath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
	}

	st, err := store.Open(dbPath, store.WithChangeHook(func() {
		a.bus.Publish(bus.TopicTasksChanged, bus.TasksChangedEvent{Source: bus.SourceLocal})
	}))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", dbPath), err)
	}
	a.store = st
	a.logger.Debug("store opened", "db", dbPath)
	return a, nil
}

// loadApp is openApp without the store, for commands that only touch config.
func loadApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	path := opts.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger := telemetry.NewLogger(cmd.ErrOrStderr(), level, opts.Format == "json")
	slog.SetDefault(logger)

	return &app{
		opts:       opts,
		configPath: path,
		cfg:        cfg,
		logger:     logger,
		bus:        bus.New(),
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *app) newEngine(opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithLogger(a.logger.With("component", "engine")),
		engine.WithNotifier(busNotifier{bus: a.bus}),
	}
	return engine.New(a.store, append(base, opts...)...)
}

// busNotifier forwards engine notifications onto the bus. Publish never
// blocks, so it is safe under the engine's state lock.
type busNotifier struct {
	bus *bus.Bus
}

func (n busNotifier) StateChanged(s engine.State) {
	n.bus.Publish(bus.TopicSyncStateChanged, s)
}

func (n busNotifier) DataChanged() {
	n.bus.Publish(bus.TopicTasksChanged, bus.TasksChangedEvent{Source: bus.SourceRemote})
}
