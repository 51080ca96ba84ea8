package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"linkdeck/internal/authpw"
)

func newLoginCmd(app *App) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <name>",
		Short: "Sign in and print the bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, app, func(ctx context.Context, b Backend) error {
				token, err := b.Login(ctx, args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", envOr("LINKDECK_PASSWORD", ""), "admin password (env LINKDECK_PASSWORD)")
	return cmd
}

func newKindsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the collection kinds and their fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, app, func(ctx context.Context, b Backend) error {
				infos, err := b.Kinds(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(tw, "KIND\tMAX\tCHILD\tFIELDS")
				for _, info := range infos {
					keys := make([]string, 0, len(info.Fields))
					for _, f := range info.Fields {
						keys = append(keys, f.Key)
					}
					limit := "-"
					if info.MaxItems > 0 {
						limit = fmt.Sprint(info.MaxItems)
					}
					child := info.Child
					if child == "" {
						child = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, limit, child, strings.Join(keys, ","))
				}
				return tw.Flush()
			})
		},
	}
}

func newSearchCmd(app *App) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search your items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, app, func(ctx context.Context, b Backend) error {
				resp, err := b.Search(ctx, strings.Join(args, " "), kind)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				for _, r := range resp.Results {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Kind, r.ScopeKey, r.ID, r.Label)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only items of this kind")
	return cmd
}

func newPublishCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [user-id]",
		Short: "Publish the public profile of a user (default: yourself)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, app, func(ctx context.Context, b Backend) error {
				userID, err := profileUser(ctx, b, args)
				if err != nil {
					return err
				}
				key, err := b.Publish(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}
}

func newHistoryCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [user-id]",
		Short: "List published versions of a profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, app, func(ctx context.Context, b Backend) error {
				userID, err := profileUser(ctx, b, args)
				if err != nil {
					return err
				}
				commits, err := b.History(ctx, userID, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				for _, c := range commits {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Hash, c.CreatedAt.Format(time.RFC3339), c.Author, c.Message)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of versions")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export [user-id]",
		Short: "Render a profile as HTML or PDF",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, app, func(ctx context.Context, b Backend) error {
				userID, err := profileUser(ctx, b, args)
				if err != nil {
					return err
				}
				res, err := b.Export(ctx, userID, format)
				if err != nil {
					return err
				}
				if output == "-" {
					_, err := cmd.OutOrStdout().Write(res.Data)
					return err
				}
				path := output
				if path == "" {
					path = res.Filename
				}
				if err := os.WriteFile(path, res.Data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "html", "html or pdf")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write, - for stdout (default: server filename)")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for LINKDECK_ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := authpw.Hash(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// profileUser resolves an optional user-id argument, "me" or none meaning
// the signed-in user.
func profileUser(ctx context.Context, b Backend, args []string) (string, error) {
	if len(args) == 1 && args[0] != "me" {
		return args[0], nil
	}
	return b.UserID(ctx)
}

func withBackend(cmd *cobra.Command, app *App, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := app.open(ctx, app)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer b.Close()
	if err := fn(ctx, b); err != nil {
		return writeErr(cmd, err)
	}
	return nil
}
