package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"linkdeck/internal/collection"
	"linkdeck/internal/hierarchy"
	"linkdeck/internal/tui"
)

func newTUICmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tui <kind> <scope>",
		Short: "Edit a scope interactively",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, app, args[0], args[1], func(ctx context.Context, b Backend, ctrl *collection.Controller) error {
				var tree *hierarchy.Controller
				if child := ctrl.Kind().Child; child != "" {
					childKind, err := b.Kind(ctx, child)
					if err != nil {
						return err
					}
					tree = hierarchy.New(ctrl, childKind, b, app.log)
					defer tree.Close()
				}
				p := tea.NewProgram(tui.New(ctx, ctrl, tree),
					tea.WithAltScreen(),
					tea.WithMouseCellMotion(),
					tea.WithContext(ctx),
					tea.WithInput(cmd.InOrStdin()),
					tea.WithOutput(cmd.OutOrStdout()),
				)
				_, err := p.Run()
				return err
			})
		},
	}
}
