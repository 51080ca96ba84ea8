package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"linkdeck/internal/app"
	"linkdeck/internal/collection"
	"linkdeck/internal/config"
	"linkdeck/internal/export"
	"linkdeck/internal/field"
	"linkdeck/internal/gitrepo"
	"linkdeck/internal/kinds"
	"linkdeck/internal/remote"
	"linkdeck/internal/search"
	"linkdeck/internal/store"
)

// Backend is what the commands talk to: the remote API or an in-process
// service.
type Backend interface {
	collection.Persistence
	Login(ctx context.Context, name, password string) (string, error)
	UserID(ctx context.Context) (string, error)
	Kinds(ctx context.Context) ([]kinds.Info, error)
	Kind(ctx context.Context, name string) (collection.Kind, error)
	Search(ctx context.Context, text, kind string) (search.Response, error)
	Publish(ctx context.Context, userID string) (string, error)
	History(ctx context.Context, userID string, limit int) ([]gitrepo.Commit, error)
	Export(ctx context.Context, userID, format string) (*export.Result, error)
	Close() error
}

func openBackend(ctx context.Context, a *App) (Backend, error) {
	if !a.Local {
		return &RemoteBackend{Client: remote.NewClient(a.API, a.Token)}, nil
	}
	cfg := config.Load()
	registry, err := kinds.Load(cfg.KindsFile)
	if err != nil {
		return nil, err
	}
	var st app.Store
	var db *sql.DB
	if cfg.DatabaseURL == "memory" {
		st = store.NewMemoryStore()
	} else {
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = store.NewPostgresStore(db)
	}
	opts := []app.Option{app.WithLogger(a.log)}
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		opts = append(opts, app.WithHistory(gitrepo.New(cfg.HistoryDir)))
	}
	svc := app.NewService(cfg, st, registry, opts...)
	b, err := NewLocalBackend(ctx, svc, registry, a.User)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	if db != nil {
		b.closeFn = db.Close
	}
	return b, nil
}

// RemoteBackend drives the HTTP API.
type RemoteBackend struct {
	*remote.Client
}

func (b *RemoteBackend) Login(ctx context.Context, name, password string) (string, error) {
	session, err := b.Client.LoginWithPassword(ctx, name, password)
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

func (b *RemoteBackend) UserID(ctx context.Context) (string, error) {
	session, err := b.Client.Session(ctx)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

func (b *RemoteBackend) Kind(ctx context.Context, name string) (collection.Kind, error) {
	infos, err := b.Client.Kinds(ctx)
	if err != nil {
		return collection.Kind{}, err
	}
	for _, info := range infos {
		if info.Name == name {
			return kinds.FromInfo(info), nil
		}
	}
	return collection.Kind{}, fmt.Errorf("unknown kind %q", name)
}

func (b *RemoteBackend) Search(ctx context.Context, text, kind string) (search.Response, error) {
	return b.Client.Search(ctx, text, kind, "")
}

func (b *RemoteBackend) Close() error { return nil }

// LocalBackend runs the service in-process as one signed-in user.
type LocalBackend struct {
	*app.LocalPersistence
	service  *app.Service
	registry *kinds.Registry
	closeFn  func() error
}

func NewLocalBackend(ctx context.Context, svc *app.Service, registry *kinds.Registry, userName string) (*LocalBackend, error) {
	session, err := svc.Login(ctx, userName)
	if err != nil {
		return nil, err
	}
	return &LocalBackend{
		LocalPersistence: app.NewLocalPersistence(svc, session),
		service:          svc,
		registry:         registry,
	}, nil
}

// Login switches the backend to name and returns its user id; there is no
// token in-process.
func (b *LocalBackend) Login(ctx context.Context, name, password string) (string, error) {
	session, err := b.service.LoginWithPassword(ctx, name, password)
	if err != nil {
		return "", err
	}
	b.LocalPersistence = app.NewLocalPersistence(b.service, session)
	return session.UserID, nil
}

func (b *LocalBackend) UserID(context.Context) (string, error) {
	return b.Session().UserID, nil
}

func (b *LocalBackend) Kinds(context.Context) ([]kinds.Info, error) {
	return b.service.Kinds(), nil
}

func (b *LocalBackend) Kind(_ context.Context, name string) (collection.Kind, error) {
	k, ok := b.registry.Lookup(name)
	if !ok {
		return collection.Kind{}, fmt.Errorf("unknown kind %q", name)
	}
	return k, nil
}

func (b *LocalBackend) Search(ctx context.Context, text, kind string) (search.Response, error) {
	return b.service.Search(ctx, b.Session(), search.Query{Text: text, Kind: kind}), nil
}

func (b *LocalBackend) Publish(ctx context.Context, userID string) (string, error) {
	_, key, err := b.service.Publish(ctx, b.Session(), userID)
	return key, err
}

func (b *LocalBackend) History(ctx context.Context, userID string, limit int) ([]gitrepo.Commit, error) {
	return b.service.History(ctx, b.Session(), userID, limit)
}

func (b *LocalBackend) Export(ctx context.Context, userID, format string) (*export.Result, error) {
	return b.service.ExportProfile(ctx, b.Session(), userID, format)
}

func (b *LocalBackend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// nopCloser keeps an injected backend open across commands.
type nopCloser struct{ Backend }

func (nopCloser) Close() error { return nil }

// describe renders engine errors for humans.
func describe(err error) string {
	var validationErr *field.ValidationError
	var limitErr *collection.LimitExceededError
	var apiErr *remote.APIError
	switch {
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.As(err, &limitErr):
		return fmt.Sprintf("limit reached: at most %d %s items", limitErr.Max, limitErr.Kind)
	case errors.Is(err, remote.ErrNotLoggedIn):
		return "not logged in: run `linkctl login <name>` and set LINKDECK_TOKEN"
	case errors.As(err, &apiErr) && apiErr.Status == 401:
		return "not logged in: run `linkctl login <name>` and set LINKDECK_TOKEN"
	}
	return err.Error()
}

var (
	_ Backend = (*RemoteBackend)(nil)
	_ Backend = (*LocalBackend)(nil)
)
