package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/taskly/internal/config"
)

// configView prints settings as YAML in text mode.
type configView config.Config

func (v configView) String() string {
	out, err := yaml.Marshal(config.Config(v))
	if err != nil {
		return err.Error()
	}
	return strings.TrimRight(string(out), "\n")
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Show or change settings in the config file.

Keys: ` + strings.Join(config.Keys, ", ") + `

The sync password may also be supplied through ` + config.EnvSyncPassword + `.`,
	}

	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigSetCommand(rootOpts))
	cmd.AddCommand(newConfigClearCommand(rootOpts))
	cmd.AddCommand(newConfigPathCommand(rootOpts))

	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings (password redacted)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			return a.out.Success(configView(a.cfg.Redacted()))
		},
	}
}

func newConfigSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one setting",
		Example: `  taskly config set sync.mode selfhosted
  taskly config set sync.url http://localhost:5984`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.configPath()
			cfg, err := config.LoadFile(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return WrapExitError(ExitCommandError, "invalid setting", err)
			}
			if err := config.Save(path, cfg); err != nil {
				return WrapExitError(ExitCommandError, "failed to save config", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
			return out.Message("%s updated", args[0])
		},
	}
}

func newConfigClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the config file, restoring defaults",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.configPath()
			if err := config.Clear(path); err != nil {
				return WrapExitError(ExitFailure, "failed to clear config", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
			return out.Message("removed %s", path)
		},
	}
}

func newConfigPathCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(rootOpts.configPath())
		},
	}
}
