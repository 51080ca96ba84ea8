package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"linkdeck/internal/config"
	"linkdeck/internal/kinds"
	"linkdeck/internal/store"
)

// fakeStoreForHealth is a memory store with an injectable ping.
type fakeStoreForHealth struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (f *fakeStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestService(st Store, opts ...Option) *Service {
	cfg := config.Config{
		JWTSecret: "test-secret",
		AccessTTL: time.Hour,
		Admins:    []string{"root"},
	}
	return NewService(cfg, st, kinds.NewRegistry(), opts...)
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStoreForHealth{MemoryStore: store.NewMemoryStore()}), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{name: "healthy database", wantCode: http.StatusOK, wantStatus: "ready", wantDB: "ok"},
		{name: "unreachable database", pingErr: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready", wantDB: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStoreForHealth{
				MemoryStore: store.NewMemoryStore(),
				pingFn:      func(context.Context) error { return tt.pingErr },
			}
			server := NewHTTPServer(newTestService(fs), "*")

			req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rr.Code)
			}
			var response map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["status"] != tt.wantStatus {
				t.Errorf("expected status=%s, got %v", tt.wantStatus, response["status"])
			}
			checks, _ := response["checks"].(map[string]any)
			dbCheck, _ := checks["database"].(map[string]any)
			if dbCheck["status"] != tt.wantDB {
				t.Errorf("expected database status=%s, got %v", tt.wantDB, dbCheck["status"])
			}
			if tt.pingErr != nil && dbCheck["error"] != tt.pingErr.Error() {
				t.Errorf("expected database error %q, got %v", tt.pingErr, dbCheck["error"])
			}
		})
	}
}

func TestOptionsRequestAndCORSHeaders(t *testing.T) {
	server := NewHTTPServer(newTestService(store.NewMemoryStore()), "https://linkdeck.example")

	req := httptest.NewRequest(http.MethodOptions, "/api/collections/link/usr_1/items", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://linkdeck.example" {
		t.Errorf("unexpected CORS origin %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}
