// Package cli implements linkctl, the command line client of the linkdeck
// API.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"linkdeck/internal/collection"
	"linkdeck/internal/logging"
)

type App struct {
	API      string
	Token    string
	Local    bool
	User     string
	LogLevel string

	// open builds the backend for a command; tests replace it.
	open func(ctx context.Context, app *App) (Backend, error)
	log  zerolog.Logger
}

type Option func(*App)

// WithBackend makes every command use b instead of dialing the API.
func WithBackend(b Backend) Option {
	return func(app *App) {
		app.open = func(context.Context, *App) (Backend, error) { return nopCloser{b}, nil }
	}
}

func NewRootCmd(opts ...Option) *cobra.Command {
	app := &App{open: openBackend}
	for _, opt := range opts {
		opt(app)
	}

	cmd := &cobra.Command{
		Use:          "linkctl",
		Short:        "Manage linkdeck collections from the terminal",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Sign in and keep the token for later calls
  export LINKDECK_TOKEN=$(linkctl login ada)

  # Links of the signed-in user
  linkctl list link me
  linkctl add link me title=Blog url=https://blog.dev
  linkctl move link me 0 2

  # Publish, list versions, download the page
  linkctl publish
  linkctl history --limit 5
  linkctl export --format pdf -o profile.pdf

  # Interactive editor with mouse drag and drop
  linkctl tui faq_category me
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		app.log = logging.Console(cmd.ErrOrStderr(), app.LogLevel)
		return nil
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.API, "api", envOr("LINKDECK_API", "http://localhost:8787"), "API base URL (env LINKDECK_API)")
	flags.StringVar(&app.Token, "token", os.Getenv("LINKDECK_TOKEN"), "bearer token (env LINKDECK_TOKEN)")
	flags.BoolVar(&app.Local, "local", false, "run against DATABASE_URL in-process instead of the API (DATABASE_URL=memory for a scratch store)")
	flags.StringVar(&app.User, "user", envOr("LINKDECK_USER", "demo"), "user name for --local (env LINKDECK_USER)")
	flags.StringVar(&app.LogLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level")

	cmd.AddCommand(
		newLoginCmd(app),
		newKindsCmd(app),
		newListCmd(app),
		newAddCmd(app),
		newEditCmd(app),
		newMoveCmd(app),
		newRmCmd(app),
		newSearchCmd(app),
		newPublishCmd(app),
		newHistoryCmd(app),
		newExportCmd(app),
		newHashPasswordCmd(),
		newTUICmd(app),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), describe(err))
	return err
}

// withController opens the backend, loads the scope named by args[0] and
// args[1], and runs fn against its controller.
func withController(cmd *cobra.Command, app *App, kindName, scopeArg string, fn func(ctx context.Context, b Backend, ctrl *collection.Controller) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := app.open(ctx, app)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer b.Close()

	kind, err := b.Kind(ctx, kindName)
	if err != nil {
		return writeErr(cmd, err)
	}
	scope, err := resolveScope(ctx, b, kindName, scopeArg)
	if err != nil {
		return writeErr(cmd, err)
	}
	ctrl := collection.New(kind, scope, b, collection.WithLogger(app.log))
	defer ctrl.Close()
	if err := ctrl.Load(ctx); err != nil {
		return writeErr(cmd, err)
	}
	if err := fn(ctx, b, ctrl); err != nil {
		return writeErr(cmd, err)
	}
	return nil
}

// resolveScope maps the "me" alias to the signed-in user's id.
func resolveScope(ctx context.Context, b Backend, kindName, arg string) (collection.Scope, error) {
	key := strings.TrimSpace(arg)
	if key == "" {
		return collection.Scope{}, fmt.Errorf("scope is required")
	}
	if key == "me" {
		id, err := b.UserID(ctx)
		if err != nil {
			return collection.Scope{}, err
		}
		key = id
	}
	return collection.Scope{Kind: kindName, Key: key}, nil
}
