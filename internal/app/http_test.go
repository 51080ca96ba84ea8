package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"linkdeck/internal/collection"
	"linkdeck/internal/metrics"
	"linkdeck/internal/publish"
	"linkdeck/internal/search"
	"linkdeck/internal/store"
)

func serve(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

// login returns a bearer token and the user id for name.
func login(t *testing.T, handler http.Handler, name string) (string, string) {
	t.Helper()
	rr, payload := serve(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"name": name})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body=%s", name, rr.Code, rr.Body.String())
	}
	token, _ := payload["token"].(string)
	userID, _ := payload["userId"].(string)
	if token == "" || userID == "" {
		t.Fatalf("login %s: missing token or user id in %v", name, payload)
	}
	return token, userID
}

func itemIDs(t *testing.T, payload map[string]any) []string {
	t.Helper()
	raw, _ := payload["items"].([]any)
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		item, _ := entry.(map[string]any)
		id, _ := item["id"].(string)
		out = append(out, id)
	}
	return out
}

func createLink(t *testing.T, handler http.Handler, token, userID, title string) string {
	t.Helper()
	rr, payload := serve(t, handler, http.MethodPost, "/api/collections/link/"+userID+"/items", token,
		map[string]any{"fields": map[string]string{"title": title, "url": "https://example.com/" + title}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create %s: status %d body=%s", title, rr.Code, rr.Body.String())
	}
	item, _ := payload["item"].(map[string]any)
	id, _ := item["id"].(string)
	return id
}

func TestSessionLoginReturnsContract(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()

	rr, payload := serve(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"name": "  Avery  "})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["userName"] != "Avery" {
		t.Fatalf("expected trimmed userName Avery, got %v", payload["userName"])
	}
	if payload["role"] != "editor" {
		t.Fatalf("expected editor role, got %v", payload["role"])
	}
	token, _ := payload["token"].(string)

	rr, payload = serve(t, handler, http.MethodGet, "/api/session", token, nil)
	if rr.Code != http.StatusOK || payload["authenticated"] != true || payload["userName"] != "Avery" {
		t.Fatalf("unexpected session payload %v", payload)
	}
}

func TestSessionLoginRejectsInvalidInput(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", strings.NewReader(`{"name":`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr, payload := serve(t, handler, http.MethodPost, "/api/session/login", "", map[string]string{"name": "   "})
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}
}

func TestCollectionsRequireSession(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()

	rr, payload := serve(t, handler, http.MethodGet, "/api/collections/link/usr_1/items", "", nil)
	if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %v", rr.Code, payload)
	}
	rr, _ = serve(t, handler, http.MethodGet, "/api/collections/link/usr_1/items", "garbage", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rr.Code)
	}
}

func TestItemLifecycle(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	token, userID := login(t, handler, "ada")
	base := "/api/collections/link/" + userID

	a := createLink(t, handler, token, userID, "a")
	b := createLink(t, handler, token, userID, "b")
	c := createLink(t, handler, token, userID, "c")

	rr, payload := serve(t, handler, http.MethodPut, base+"/order", token, map[string]any{"ids": []string{b, c, a}})
	if rr.Code != http.StatusOK {
		t.Fatalf("reorder: status %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = serve(t, handler, http.MethodPut, base+"/items/"+a, token,
		map[string]any{"fields": map[string]string{"title": "  Blog  ", "url": "https://blog.example"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d body=%s", rr.Code, rr.Body.String())
	}
	item, _ := payload["item"].(map[string]any)
	values, _ := item["values"].(map[string]any)
	if values["title"] != "Blog" {
		t.Fatalf("expected trimmed title, got %v", values["title"])
	}

	rr, _ = serve(t, handler, http.MethodDelete, base+"/items/"+c, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rr.Code)
	}

	_, payload = serve(t, handler, http.MethodGet, base+"/items", token, nil)
	if diff := cmp.Diff([]string{b, a}, itemIDs(t, payload)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	rr, payload = serve(t, handler, http.MethodDelete, base+"/items/"+c, token, nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 for a deleted item, got %d %v", rr.Code, payload)
	}
}

func TestCreateValidationErrorListsFields(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	token, userID := login(t, handler, "ada")

	rr, payload := serve(t, handler, http.MethodPost, "/api/collections/link/"+userID+"/items", token,
		map[string]any{"fields": map[string]string{"title": strings.Repeat("x", 101), "url": "ftp://nope"}})
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if _, ok := details["title"]; !ok {
		t.Fatalf("expected title in details, got %v", details)
	}
	if _, ok := details["url"]; !ok {
		t.Fatalf("expected url in details, got %v", details)
	}
}

func TestCreateRejectsFullScope(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	token, userID := login(t, handler, "ada")
	base := "/api/collections/demo/" + userID + "/items"

	for i := 0; i < 10; i++ {
		rr, _ := serve(t, handler, http.MethodPost, base, token, map[string]any{"fields": map[string]string{"title": "demo"}})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %d: status %d", i, rr.Code)
		}
	}
	rr, payload := serve(t, handler, http.MethodPost, base, token, map[string]any{"fields": map[string]string{"title": "one too many"}})
	if rr.Code != http.StatusConflict || payload["code"] != "LIMIT_EXCEEDED" {
		t.Fatalf("expected 409 LIMIT_EXCEEDED, got %d %v", rr.Code, payload)
	}
}

func TestReorderMismatch(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	token, userID := login(t, handler, "ada")
	a := createLink(t, handler, token, userID, "a")
	createLink(t, handler, token, userID, "b")

	rr, payload := serve(t, handler, http.MethodPut, "/api/collections/link/"+userID+"/order", token, map[string]any{"ids": []string{a}})
	if rr.Code != http.StatusConflict || payload["code"] != "ORDER_MISMATCH" {
		t.Fatalf("expected 409 ORDER_MISMATCH, got %d %v", rr.Code, payload)
	}
}

func TestForeignScopesAreForbidden(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	adaToken, adaID := login(t, handler, "ada")
	bobToken, _ := login(t, handler, "bob")
	rootToken, _ := login(t, handler, "root")
	createLink(t, handler, adaToken, adaID, "a")

	rr, payload := serve(t, handler, http.MethodGet, "/api/collections/link/"+adaID+"/items", bobToken, nil)
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403, got %d %v", rr.Code, payload)
	}
	rr, payload = serve(t, handler, http.MethodGet, "/api/collections/link/"+adaID+"/items", rootToken, nil)
	if rr.Code != http.StatusOK || len(itemIDs(t, payload)) != 1 {
		t.Fatalf("expected admin to read foreign scope, got %d %v", rr.Code, payload)
	}
}

func TestUnknownKindAndRoute(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	token, userID := login(t, handler, "ada")

	rr, _ := serve(t, handler, http.MethodGet, "/api/collections/widget/"+userID+"/items", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown kind, got %d", rr.Code)
	}
	rr, _ = serve(t, handler, http.MethodGet, "/api/nope", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rr.Code)
	}
	rr, _ = serve(t, handler, http.MethodPatch, "/api/collections/link/"+userID+"/items", token, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestChildScopesFollowParentOwnership(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	adaToken, adaID := login(t, handler, "ada")
	bobToken, _ := login(t, handler, "bob")

	rr, payload := serve(t, handler, http.MethodPost, "/api/collections/faq_category/"+adaID+"/items", adaToken,
		map[string]any{"fields": map[string]string{"name": "Shipping"}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create category: %d %s", rr.Code, rr.Body.String())
	}
	category, _ := payload["item"].(map[string]any)
	categoryID, _ := category["id"].(string)
	questions := "/api/collections/faq_question/" + categoryID + "/items"

	for _, q := range []string{"How long?", "Where to?"} {
		rr, _ = serve(t, handler, http.MethodPost, questions, adaToken,
			map[string]any{"fields": map[string]string{"question": q, "answer": "Soon"}})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create question: %d %s", rr.Code, rr.Body.String())
		}
	}
	rr, _ = serve(t, handler, http.MethodPost, questions, bobToken,
		map[string]any{"fields": map[string]string{"question": "Mine?", "answer": "No"}})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign parent, got %d", rr.Code)
	}
	rr, _ = serve(t, handler, http.MethodGet, "/api/collections/faq_question/lnk_missing/items", adaToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing parent, got %d", rr.Code)
	}

	rr, _ = serve(t, handler, http.MethodDelete, "/api/collections/faq_category/"+adaID+"/items/"+categoryID, adaToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete category: %d", rr.Code)
	}
	rr, _ = serve(t, handler, http.MethodGet, questions, adaToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected child scope gone with its parent, got %d", rr.Code)
	}
}

func TestKindsCatalogue(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	rr, payload := serve(t, handler, http.MethodGet, "/api/kinds", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	list, _ := payload["kinds"].([]any)
	if len(list) != 6 {
		t.Fatalf("expected 6 kinds, got %d", len(list))
	}
}

type fakeSearcher struct {
	searchFn func(ctx context.Context, q search.Query) search.Response
	indexed  []search.Record
	removed  []string
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearcher) Index(records ...search.Record) {
	f.indexed = append(f.indexed, records...)
}

func (f *fakeSearcher) Remove(ids ...string) {
	f.removed = append(f.removed, ids...)
}

func (f *fakeSearcher) Reindex(records []search.Record) error {
	f.indexed = append(f.indexed[:0], records...)
	return nil
}

func TestSearchIsScopedToCaller(t *testing.T) {
	var got search.Query
	searcher := &fakeSearcher{searchFn: func(_ context.Context, q search.Query) search.Response {
		got = q
		return search.Response{Results: []search.Result{{ID: "lnk_1", Kind: "link", Label: "Blog"}}, Total: 1, Query: q.Text}
	}}
	handler := NewHTTPServer(newTestService(store.NewMemoryStore(), WithSearch(searcher)), "*").Handler()
	token, userID := login(t, handler, "ada")

	rr, payload := serve(t, handler, http.MethodGet, "/api/search?q=blog&kind=link&limit=5", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := search.Query{Text: "blog", Kind: "link", OwnerID: userID, Limit: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected query (-want +got):\n%s", diff)
	}
	if payload["total"] != float64(1) {
		t.Fatalf("unexpected payload %v", payload)
	}

	rootToken, _ := login(t, handler, "root")
	serve(t, handler, http.MethodGet, "/api/search?q=blog", rootToken, nil)
	if got.OwnerID != "" {
		t.Fatalf("expected admins to search every owner, got %q", got.OwnerID)
	}
}

func TestMutationsReachSearchIndex(t *testing.T) {
	searcher := &fakeSearcher{}
	handler := NewHTTPServer(newTestService(store.NewMemoryStore(), WithSearch(searcher)), "*").Handler()
	token, userID := login(t, handler, "ada")

	id := createLink(t, handler, token, userID, "blog")
	if len(searcher.indexed) != 1 || searcher.indexed[0].ID != id || searcher.indexed[0].Label != "blog" {
		t.Fatalf("unexpected indexed records %+v", searcher.indexed)
	}
	serve(t, handler, http.MethodDelete, "/api/collections/link/"+userID+"/items/"+id, token, nil)
	if diff := cmp.Diff([]string{id}, searcher.removed); diff != "" {
		t.Fatalf("unexpected removals (-want +got):\n%s", diff)
	}
}

type fakePublisher struct {
	publishFn func(ctx context.Context, userID string) (publish.Profile, string, error)
}

func (f *fakePublisher) Publish(ctx context.Context, userID string) (publish.Profile, string, error) {
	return f.publishFn(ctx, userID)
}

func TestPublishChecksOwnership(t *testing.T) {
	var published []string
	publisher := &fakePublisher{publishFn: func(_ context.Context, userID string) (publish.Profile, string, error) {
		published = append(published, userID)
		return publish.Profile{UserID: userID, Sections: map[string][]publish.Entry{}}, publish.Key(userID), nil
	}}
	handler := NewHTTPServer(newTestService(store.NewMemoryStore(), WithPublisher(publisher)), "*").Handler()
	adaToken, adaID := login(t, handler, "ada")
	bobToken, _ := login(t, handler, "bob")

	rr, payload := serve(t, handler, http.MethodPost, "/api/profiles/"+adaID+"/publish", adaToken, nil)
	if rr.Code != http.StatusOK || payload["key"] != "profiles/"+adaID+".json" {
		t.Fatalf("unexpected publish response %d %v", rr.Code, payload)
	}
	rr, _ = serve(t, handler, http.MethodPost, "/api/profiles/"+adaID+"/publish", bobToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if diff := cmp.Diff([]string{adaID}, published); diff != "" {
		t.Fatalf("unexpected publishes (-want +got):\n%s", diff)
	}
}

func TestPublishUnavailableWithoutObjectStore(t *testing.T) {
	handler := NewHTTPServer(newTestService(store.NewMemoryStore()), "*").Handler()
	token, userID := login(t, handler, "ada")
	rr, payload := serve(t, handler, http.MethodPost, "/api/profiles/"+userID+"/publish", token, nil)
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "PUBLISH_UNAVAILABLE" {
		t.Fatalf("expected 503, got %d %v", rr.Code, payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	handler := NewHTTPServer(newTestService(store.NewMemoryStore(), WithMetrics(m)), "*").Handler()
	token, userID := login(t, handler, "ada")
	createLink(t, handler, token, userID, "a")

	rr, _ := serve(t, handler, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`linkdeck_collection_mutations_total{kind="link",op="create",outcome="ok"} 1`,
		"linkdeck_http_request_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestLocalPersistenceDrivesController(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	session, err := svc.Login(context.Background(), "ada")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	kind, _ := svc.kinds.Lookup("link")
	ctrl := collection.New(kind, collection.Scope{Kind: "link", Key: session.UserID}, NewLocalPersistence(svc, session))
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		if _, err := ctrl.Add(ctx, map[string]string{"title": title, "url": "https://x.dev/" + title}); err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
	}
	if err := ctrl.Reorder(ctx, 0, 2); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	fresh := collection.New(kind, ctrl.Scope(), NewLocalPersistence(svc, session))
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	var titles []string
	for _, it := range fresh.Items() {
		titles = append(titles, it.Value("title"))
	}
	if diff := cmp.Diff([]string{"b", "c", "a"}, titles); diff != "" {
		t.Fatalf("unexpected persisted order (-want +got):\n%s", diff)
	}
}
