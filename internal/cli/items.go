package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"linkdeck/internal/collection"
)

func newListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list <kind> <scope>",
		Short: "List the items of a scope in display order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, app, args[0], args[1], func(_ context.Context, _ Backend, ctrl *collection.Controller) error {
				return printItems(cmd.OutOrStdout(), ctrl)
			})
		},
	}
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <kind> <scope> key=value...",
		Short: "Append an item to a scope",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(args[2:])
			if err != nil {
				return writeErr(cmd, err)
			}
			return withController(cmd, app, args[0], args[1], func(ctx context.Context, _ Backend, ctrl *collection.Controller) error {
				it, err := ctrl.Add(ctx, fields)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), it.ID)
				return nil
			})
		},
	}
}

func newEditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <kind> <scope> <id> key=value...",
		Short: "Change fields of an item",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(args[3:])
			if err != nil {
				return writeErr(cmd, err)
			}
			id := args[2]
			return withController(cmd, app, args[0], args[1], func(ctx context.Context, _ Backend, ctrl *collection.Controller) error {
				if err := ctrl.BeginEdit(id); err != nil {
					return err
				}
				for key, value := range fields {
					if err := ctrl.UpdateTemp(id, key, value); err != nil {
						return err
					}
				}
				it, err := ctrl.Save(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), it.ID)
				return nil
			})
		},
	}
}

func newMoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move <kind> <scope> <from> <to>",
		Short: "Move an item by position or onto another item's id",
		Long: strings.TrimSpace(`
Move an item within its scope. <from> and <to> are either zero-based
positions or item ids; with ids the first item takes the place of the
second, as a drag and drop would.`),
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, app, args[0], args[1], func(ctx context.Context, _ Backend, ctrl *collection.Controller) error {
				from, fromErr := strconv.Atoi(args[2])
				to, toErr := strconv.Atoi(args[3])
				var err error
				if fromErr == nil && toErr == nil {
					err = ctrl.Reorder(ctx, from, to)
				} else {
					err = ctrl.Move(ctx, args[2], args[3])
				}
				if err != nil {
					return err
				}
				return printItems(cmd.OutOrStdout(), ctrl)
			})
		},
	}
}

func newRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <kind> <scope> <id>",
		Aliases: []string{"delete"},
		Short:   "Delete an item and anything nested under it",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, app, args[0], args[1], func(ctx context.Context, _ Backend, ctrl *collection.Controller) error {
				return ctrl.Delete(ctx, args[2])
			})
		},
	}
}

func printItems(w io.Writer, ctrl *collection.Controller) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	for _, it := range ctrl.Items() {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", it.SortOrder, it.ID, ctrl.Label(it.ID))
	}
	return tw.Flush()
}

// parseAssignments reads key=value arguments. Values may contain '='.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[key] = value
	}
	return out, nil
}
