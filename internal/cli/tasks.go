package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/taskly/internal/store"
	"github.com/roach88/taskly/internal/task"
)

// withApp opens the app, runs fn, and closes the store.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

// storeError wraps a store failure. An unknown id is an operation failure,
// not a usage error, so both map to ExitFailure; errorCode tells them apart.
func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitFailure, "task not found", err)
	}
	return WrapExitError(ExitFailure, op, err)
}

// optionalText normalizes s and returns nil when it is empty.
func optionalText(s string) *string {
	s = task.NormalizeText(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseDue(s string) (*string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid due date %q: want YYYY-MM-DD or RFC 3339", s))
		}
	}
	return &s, nil
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Description string
	Due         string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task at the end of the list",
		Example: `  taskly add "Buy milk"
  taskly add "File taxes" --due 2026-04-15 --description "federal and state"`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := task.NormalizeText(args[0])
			if title == "" {
				return NewExitError(ExitCommandError, "title must not be empty")
			}
			due, err := parseDue(opts.Due)
			if err != nil {
				return err
			}
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				created, err := a.store.Create(ctx, title, optionalText(opts.Description), due)
				if err != nil {
					return storeError("failed to create task", err)
				}
				return a.out.Success(taskView(created))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "task notes")
	cmd.Flags().StringVar(&opts.Due, "due", "", "due date (YYYY-MM-DD)")

	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks in order",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				var (
					tasks []task.Task
					err   error
				)
				if all {
					tasks, err = a.store.All(ctx)
				} else {
					tasks, err = a.store.List(ctx)
				}
				if err != nil {
					return storeError("failed to list tasks", err)
				}
				return a.out.Success(taskListView(tasks))
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include deleted tasks")

	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				t, err := a.store.Get(ctx, args[0])
				if err != nil {
					return storeError("failed to get task", err)
				}
				return a.out.Success(taskView(t))
			})
		},
	}
}

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Title       string
	Description string
	Due         string
}

// NewEditCommand creates the edit command. Only flags given on the command
// line change; an empty --description or --due clears the field.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title, notes, or due date",
		Example: `  taskly edit 0192f0c1-... --title "Buy oat milk"
  taskly edit 0192f0c1-... --due ""`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("title") && !flags.Changed("description") && !flags.Changed("due") {
				return NewExitError(ExitCommandError, "nothing to change: pass --title, --description or --due")
			}

			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				t, err := a.store.Get(ctx, args[0])
				if err != nil {
					return storeError("failed to get task", err)
				}

				if flags.Changed("title") {
					title := task.NormalizeText(opts.Title)
					if title == "" {
						return NewExitError(ExitCommandError, "title must not be empty")
					}
					t.Title = title
				}
				if flags.Changed("description") {
					t.Description = optionalText(opts.Description)
				}
				if flags.Changed("due") {
					due, err := parseDue(opts.Due)
					if err != nil {
						return err
					}
					t.DueDate = due
				}

				updated, err := a.store.Update(ctx, t)
				if err != nil {
					return storeError("failed to update task", err)
				}
				return a.out.Success(taskView(updated))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "new notes (empty clears)")
	cmd.Flags().StringVar(&opts.Due, "due", "", "new due date (empty clears)")

	return cmd
}

// NewDoneCommand creates the done command.
func NewDoneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle a task's completed flag",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				t, err := a.store.ToggleCompletion(ctx, args[0])
				if err != nil {
					return storeError("failed to toggle task", err)
				}
				return a.out.Success(taskView(t))
			})
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task (kept as a tombstone so the deletion syncs)",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.store.SoftDelete(ctx, args[0]); err != nil {
					return storeError("failed to delete task", err)
				}
				return a.out.Message("deleted %s", args[0])
			})
		},
	}
}

// NewMoveCommand creates the move command.
func NewMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> up|down",
		Short: "Swap a task with its neighbor",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := task.ParseDirection(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid direction", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.store.ReorderRelative(ctx, args[0], dir); err != nil {
					return storeError("failed to move task", err)
				}
				return listAfterReorder(ctx, a)
			})
		},
	}
}

// NewSwapCommand creates the swap command.
func NewSwapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "swap <id> <target-id>",
		Short: "Exchange the positions of two tasks",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.store.ReorderToPosition(ctx, args[0], args[1]); err != nil {
					return storeError("failed to swap tasks", err)
				}
				return listAfterReorder(ctx, a)
			})
		},
	}
}

func listAfterReorder(ctx context.Context, a *app) error {
	tasks, err := a.store.List(ctx)
	if err != nil {
		return storeError("failed to list tasks", err)
	}
	return a.out.Success(taskListView(tasks))
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List tasks changed after a timestamp, tombstones included",
		Long: `List every task whose updatedAt (milliseconds since the Unix epoch) is
strictly greater than --since, oldest change first. --since also accepts an
RFC 3339 time.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, err := parseMillis(since)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --since", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tasks, err := a.store.ChangesSince(ctx, threshold)
				if err != nil {
					return storeError("failed to read changes", err)
				}
				return a.out.Success(taskListView(tasks))
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "0", "updatedAt threshold in milliseconds")

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts and sync settings",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				all, err := a.store.All(ctx)
				if err != nil {
					return storeError("failed to read tasks", err)
				}
				cur, found, err := a.store.Cursor(ctx)
				if err != nil {
					return storeError("failed to read cursor", err)
				}

				view := statusView{
					Mode:     string(a.cfg.Sync.Mode),
					Database: a.cfg.DatabasePath(),
				}
				if rootOpts.Database != "" {
					view.Database = rootOpts.Database
				}
				if a.cfg.Sync.Enabled() {
					view.Server = a.cfg.Sync.URL + "/" + a.cfg.Sync.DBName
				}
				for _, t := range all {
					switch {
					case t.Deleted:
						view.Deleted++
					case t.Completed:
						view.Completed++
					default:
						view.Active++
					}
				}
				if found {
					view.LastSeq = cur.LastSeq
					at := cur.LastSyncedAt
					view.LastSyncedAt = &at
				}
				return a.out.Success(view)
			})
		},
	}
}

// parseMillis accepts a millisecond timestamp or an RFC 3339 time.
func parseMillis(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("want milliseconds or RFC 3339: %w", err)
	}
	return t.UnixMilli(), nil
}
