package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"linkdeck/internal/auth"
	"linkdeck/internal/authpw"
	"linkdeck/internal/collection"
	"linkdeck/internal/config"
	"linkdeck/internal/export"
	"linkdeck/internal/field"
	"linkdeck/internal/gitrepo"
	"linkdeck/internal/kinds"
	"linkdeck/internal/metrics"
	"linkdeck/internal/publish"
	"linkdeck/internal/rbac"
	"linkdeck/internal/search"
	"linkdeck/internal/store"
	"linkdeck/internal/util"
)

// Store is the persistence the service runs on; PostgresStore and
// MemoryStore both satisfy it.
type Store interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, id, name string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListItems(ctx context.Context, kind, scopeKey string) ([]store.Item, error)
	ListAll(ctx context.Context) ([]store.Item, error)
	GetItem(ctx context.Context, id string) (store.Item, error)
	InsertItem(ctx context.Context, item store.Item, maxItems int) (store.Item, error)
	UpdateItemFields(ctx context.Context, kind, scopeKey, id string, fields map[string]string) (store.Item, error)
	DeleteItem(ctx context.Context, kind, scopeKey, id string) error
	ReorderItems(ctx context.Context, kind, scopeKey string, ids []string) error
}

// ScopeCache caches the item list of a scope.
type ScopeCache interface {
	Get(ctx context.Context, scope collection.Scope) ([]collection.Item, bool, error)
	Set(ctx context.Context, scope collection.Scope, items []collection.Item) error
	Invalidate(ctx context.Context, scopes ...collection.Scope) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(records ...search.Record)
	Remove(ids ...string)
	Reindex(records []search.Record) error
}

type Publisher interface {
	Publish(ctx context.Context, userID string) (publish.Profile, string, error)
}

// ProfileHistory versions every published profile document.
type ProfileHistory interface {
	Record(userID string, payload []byte, author, message string) (gitrepo.Commit, error)
	History(userID string, limit int) ([]gitrepo.Commit, error)
}

type Exporter interface {
	Export(ctx context.Context, profile publish.Profile, title string, format export.Format) (*export.Result, error)
}

type Session struct {
	Token    string
	UserID   string
	UserName string
	Role     rbac.Role
}

type Service struct {
	cfg       config.Config
	store     Store
	kinds     *kinds.Registry
	tokens    *auth.Issuer
	cache     ScopeCache
	search    Searcher
	publisher Publisher
	history   ProfileHistory
	exporter  Exporter
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

type Option func(*Service)

func WithCache(cache ScopeCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithSearch(searcher Searcher) Option {
	return func(s *Service) { s.search = searcher }
}

func WithPublisher(publisher Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithHistory(history ProfileHistory) Option {
	return func(s *Service) { s.history = history }
}

func WithExporter(exporter Exporter) Option {
	return func(s *Service) { s.exporter = exporter }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(cfg config.Config, st Store, registry *kinds.Registry, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  st,
		kinds:  registry,
		tokens:   auth.NewIssuer(cfg.JWTSecret, cfg.AccessTTL),
		exporter: export.NewService(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Service) Logger() zerolog.Logger {
	return s.log
}

// Login finds or creates the user by display name and issues a token.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	return s.LoginWithPassword(ctx, name, "")
}

// LoginWithPassword is Login for admin names. When an admin password hash is
// configured, the admin role needs the matching password; without one the
// user signs in as an editor.
func (s *Service) LoginWithPassword(ctx context.Context, name, password string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Name is required", map[string]string{"name": "Name is required"})
	}
	user, err := s.store.EnsureUserByName(ctx, util.NewID("usr"), name)
	if err != nil {
		return Session{}, err
	}
	role := rbac.RoleEditor
	if s.cfg.IsAdmin(user.DisplayName) {
		switch {
		case s.cfg.AdminPasswordHash == "":
			role = rbac.RoleAdmin
		case password == "":
		case authpw.Check(s.cfg.AdminPasswordHash, password) == nil:
			role = rbac.RoleAdmin
		default:
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", authpw.ErrInvalidCredentials.Error(), nil)
		}
	}
	token, _, err := s.tokens.Issue(user.ID, user.DisplayName, string(role))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: user.ID, UserName: user.DisplayName, Role: role}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: claims.Sub, UserName: claims.Name, Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) Kinds() []kinds.Info {
	names := s.kinds.Names()
	out := make([]kinds.Info, 0, len(names))
	for _, name := range names {
		kind, _ := s.kinds.Lookup(name)
		out = append(out, kinds.Describe(kind))
	}
	return out
}

// scopeAccess is a resolved scope with its owner.
type scopeAccess struct {
	kind     collection.Kind
	scope    collection.Scope
	owner    string
	parentID *string
}

// resolve checks that kindName exists and that session may perform action on
// the scope. Top-level scopes are keyed by the owning user id; child scopes by
// the parent item id, whose owner owns the scope.
func (s *Service) resolve(ctx context.Context, session Session, kindName, scopeKey string, action rbac.Action) (scopeAccess, error) {
	kind, ok := s.kinds.Lookup(kindName)
	if !ok {
		return scopeAccess{}, notFound("Unknown kind")
	}
	scopeKey = strings.TrimSpace(scopeKey)
	if scopeKey == "" {
		return scopeAccess{}, notFound("Unknown scope")
	}
	access := scopeAccess{kind: kind, scope: collection.Scope{Kind: kind.Name, Key: scopeKey}, owner: scopeKey}
	if parentKind, isChild := s.kinds.ParentOf(kind.Name); isChild {
		parent, err := s.store.GetItem(ctx, scopeKey)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parent.Kind != parentKind.Name) {
			return scopeAccess{}, notFound("Unknown parent item")
		}
		if err != nil {
			return scopeAccess{}, err
		}
		access.owner = parent.OwnerID
		access.parentID = &parent.ID
	}
	if !rbac.Allowed(session.Role, action, session.UserID, access.owner) {
		return scopeAccess{}, forbidden()
	}
	return access, nil
}

// ListItems returns the scope in sort order, read through the cache.
func (s *Service) ListItems(ctx context.Context, session Session, kindName, scopeKey string) ([]collection.Item, error) {
	access, err := s.resolve(ctx, session, kindName, scopeKey, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		items, hit, err := s.cache.Get(ctx, access.scope)
		if err != nil {
			s.log.Warn().Err(err).Str("scope", access.scope.String()).Msg("cache get")
		}
		s.metrics.Cache(hit)
		if hit {
			return items, nil
		}
	}
	rows, err := s.store.ListItems(ctx, access.kind.Name, access.scope.Key)
	if err != nil {
		return nil, err
	}
	items := toItems(rows)
	if s.cache != nil {
		if err := s.cache.Set(ctx, access.scope, items); err != nil {
			s.log.Warn().Err(err).Str("scope", access.scope.String()).Msg("cache set")
		}
	}
	return items, nil
}

// CreateItem validates fields and appends a new item to the scope.
func (s *Service) CreateItem(ctx context.Context, session Session, kindName, scopeKey string, fields map[string]string) (collection.Item, error) {
	access, err := s.resolve(ctx, session, kindName, scopeKey, rbac.ActionWrite)
	if err != nil {
		return collection.Item{}, err
	}
	values := make(map[string]string, len(access.kind.Fields))
	for k, v := range access.kind.Defaults {
		values[k] = v
	}
	for k, v := range fields {
		values[k] = v
	}
	sanitized, err := field.ValidateAll(access.kind.Fields, values)
	if err != nil {
		return collection.Item{}, err
	}
	row, err := s.store.InsertItem(ctx, store.Item{
		ID:       util.NewID(idPrefix(access.kind.Name)),
		Kind:     access.kind.Name,
		ScopeKey: access.scope.Key,
		OwnerID:  access.owner,
		ParentID: access.parentID,
		Fields:   sanitized,
	}, access.kind.MaxItems)
	if errors.Is(err, store.ErrScopeFull) {
		err = &collection.LimitExceededError{Kind: access.kind.Name, Max: access.kind.MaxItems}
	}
	s.metrics.Mutation(access.kind.Name, "create", err)
	if err != nil {
		return collection.Item{}, err
	}
	s.invalidate(ctx, access.scope)
	s.index(access.kind, row)
	return toItem(row), nil
}

// UpdateItem replaces the fields of one item.
func (s *Service) UpdateItem(ctx context.Context, session Session, kindName, scopeKey, id string, fields map[string]string) (collection.Item, error) {
	access, err := s.resolve(ctx, session, kindName, scopeKey, rbac.ActionWrite)
	if err != nil {
		return collection.Item{}, err
	}
	sanitized, err := field.ValidateAll(access.kind.Fields, fields)
	if err != nil {
		return collection.Item{}, err
	}
	row, err := s.store.UpdateItemFields(ctx, access.kind.Name, access.scope.Key, id, sanitized)
	s.metrics.Mutation(access.kind.Name, "update", err)
	if err != nil {
		return collection.Item{}, err
	}
	s.invalidate(ctx, access.scope)
	s.index(access.kind, row)
	return toItem(row), nil
}

// DeleteItem removes one item and, through the store cascade, its children.
func (s *Service) DeleteItem(ctx context.Context, session Session, kindName, scopeKey, id string) error {
	access, err := s.resolve(ctx, session, kindName, scopeKey, rbac.ActionWrite)
	if err != nil {
		return err
	}
	removed := []string{id}
	var childScope collection.Scope
	if access.kind.Child != "" {
		childScope = collection.Scope{Kind: access.kind.Child, Key: id}
		children, err := s.store.ListItems(ctx, childScope.Kind, childScope.Key)
		if err != nil {
			return err
		}
		for _, child := range children {
			removed = append(removed, child.ID)
		}
	}
	err = s.store.DeleteItem(ctx, access.kind.Name, access.scope.Key, id)
	s.metrics.Mutation(access.kind.Name, "delete", err)
	if err != nil {
		return err
	}
	scopes := []collection.Scope{access.scope}
	if childScope.Kind != "" {
		scopes = append(scopes, childScope)
	}
	s.invalidate(ctx, scopes...)
	if s.search != nil {
		s.search.Remove(removed...)
	}
	return nil
}

// ReorderItems persists ids as the new order of the scope. ids must name
// exactly the scope's items.
func (s *Service) ReorderItems(ctx context.Context, session Session, kindName, scopeKey string, ids []string) error {
	access, err := s.resolve(ctx, session, kindName, scopeKey, rbac.ActionWrite)
	if err != nil {
		return err
	}
	err = s.store.ReorderItems(ctx, access.kind.Name, access.scope.Key, ids)
	s.metrics.Mutation(access.kind.Name, "reorder", err)
	if err != nil {
		return err
	}
	s.invalidate(ctx, access.scope)
	return nil
}

// Search runs q, limited to the caller's items unless the caller is an admin.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	if !rbac.Can(session.Role, rbac.ActionAny) {
		q.OwnerID = session.UserID
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Publish renders and uploads the public profile of userID.
func (s *Service) Publish(ctx context.Context, session Session, userID string) (publish.Profile, string, error) {
	if !rbac.Allowed(session.Role, rbac.ActionPublish, session.UserID, userID) {
		return publish.Profile{}, "", forbidden()
	}
	if s.publisher == nil {
		return publish.Profile{}, "", domainError(http.StatusServiceUnavailable, "PUBLISH_UNAVAILABLE", "Publishing is not configured", nil)
	}
	profile, key, err := s.publisher.Publish(ctx, userID)
	s.metrics.Mutation("profile", "publish", err)
	if err != nil {
		return publish.Profile{}, "", err
	}
	s.log.Info().Str("user", userID).Str("key", key).Msg("profile published")
	s.record(session, profile)
	return profile, key, nil
}

func (s *Service) record(session Session, profile publish.Profile) {
	if s.history == nil {
		return
	}
	payload, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		s.log.Warn().Err(err).Msg("encode profile for history")
		return
	}
	commit, err := s.history.Record(profile.UserID, payload, session.UserName, "Publish profile")
	if err != nil {
		s.log.Warn().Err(err).Str("user", profile.UserID).Msg("record profile history")
		return
	}
	s.log.Debug().Str("user", profile.UserID).Str("commit", commit.Hash).Msg("profile history recorded")
}

// History lists the published versions of userID's profile, newest first.
func (s *Service) History(_ context.Context, session Session, userID string, limit int) ([]gitrepo.Commit, error) {
	if !rbac.Allowed(session.Role, rbac.ActionPublish, session.UserID, userID) {
		return nil, forbidden()
	}
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Profile history is not configured", nil)
	}
	return s.history.History(userID, limit)
}

// ExportProfile renders the current profile of userID without publishing
// it.
func (s *Service) ExportProfile(ctx context.Context, session Session, userID, format string) (*export.Result, error) {
	if !rbac.Allowed(session.Role, rbac.ActionPublish, session.UserID, userID) {
		return nil, forbidden()
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be html or pdf", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := publish.NewPublisher(s.store, nil, s.kinds).Build(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := s.exporter.Export(ctx, profile, user.DisplayName, f)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export needs a headless Chrome on the server", nil)
	}
	return res, err
}

// Reindex pushes every stored item to the search index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.search == nil {
		return 0, nil
	}
	rows, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	records := make([]search.Record, 0, len(rows))
	for _, row := range rows {
		kind, ok := s.kinds.Lookup(row.Kind)
		if !ok {
			continue
		}
		records = append(records, searchRecord(kind, row))
	}
	if err := s.search.Reindex(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Service) invalidate(ctx context.Context, scopes ...collection.Scope) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, scopes...); err != nil {
		s.log.Warn().Err(err).Msg("cache invalidate")
	}
}

func (s *Service) index(kind collection.Kind, row store.Item) {
	if s.search == nil {
		return
	}
	s.search.Index(searchRecord(kind, row))
}

func searchRecord(kind collection.Kind, row store.Item) search.Record {
	item := toItem(row)
	parts := make([]string, 0, len(kind.Fields))
	for _, d := range kind.Fields {
		if v := strings.TrimSpace(row.Fields[d.Key]); v != "" {
			parts = append(parts, v)
		}
	}
	return search.Record{
		ID:       row.ID,
		Kind:     row.Kind,
		ScopeKey: row.ScopeKey,
		OwnerID:  row.OwnerID,
		Label:    kind.DisplayLabel(item),
		Text:     strings.Join(parts, "\n"),
	}
}

var idPrefixes = map[string]string{
	kinds.Link:        "lnk",
	kinds.Data:        "dat",
	kinds.Device:      "dev",
	kinds.FAQCategory: "faqc",
	kinds.FAQQuestion: "faqq",
	kinds.Demo:        "demo",
}

func idPrefix(kind string) string {
	if prefix, ok := idPrefixes[kind]; ok {
		return prefix
	}
	return "itm"
}

func toItem(row store.Item) collection.Item {
	values := make(map[string]string, len(row.Fields))
	for k, v := range row.Fields {
		values[k] = v
	}
	return collection.Item{ID: row.ID, SortOrder: row.SortOrder, Values: values}
}

func toItems(rows []store.Item) []collection.Item {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SortOrder < rows[j].SortOrder })
	out := make([]collection.Item, len(rows))
	for i, row := range rows {
		out[i] = toItem(row)
	}
	return out
}
