package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/taskly/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func (o *RootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return config.DefaultPath()
}

// NewRootCommand creates the root command for the taskly CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "taskly",
		Short: "taskly - local-first tasks with CouchDB sync",
		Long: `A local-first task manager. Tasks live in a SQLite database and
replicate to a CouchDB-compatible server with last-write-wins conflict
resolution.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewDoneCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewMoveCommand(opts))
	cmd.AddCommand(NewSwapCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported through the output formatter selected by --format.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	verbose, _ := cmd.PersistentFlags().GetBool("verbose")
	f := &OutputFormatter{Format: format, Writer: stderr, Verbose: verbose}
	if format == "json" {
		f.Writer = stdout
	} else {
		f.Format = "text"
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = f.Error(errorCode(err), exitErr.Error(), nil)
		return exitErr.Code
	}
	// Anything else comes from cobra itself: unknown commands and the like.
	_ = f.Error(ErrCodeCommand, err.Error(), nil)
	return ExitCommandError
}

// exactArgs is cobra.ExactArgs with a command-error exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
