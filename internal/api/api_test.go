package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"modelreg/internal/cache"
	"modelreg/internal/logging"
	"modelreg/internal/metrics"
	"modelreg/internal/model"
	"modelreg/internal/provider/dataset"
	"modelreg/internal/registry"
)

// newTestServer creates a server over a memory cache and one dataset
func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := logging.NewNopLogger()
	m := metrics.New(false)
	reg, err := registry.New(registry.Options{Cache: cache.NewMemoryCache(), Logger: logger, Metrics: m})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})

	ds, err := dataset.New(dataset.File{
		Name:     "stations",
		Category: model.NewCategory("S", "F", "C"),
		Coverage: dataset.Bounds{"t": {0, 100}},
		Models: []dataset.Model{
			{Key: "a", Extent: dataset.Bounds{"t": {1, 1}}, Values: map[string]any{"name": "alpha"}},
			{Key: "b", Extent: dataset.Bounds{"t": {50, 50}}, Values: map[string]any{"name": "beta"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.AddProvider(ds); err != nil {
		t.Fatal(err)
	}

	return NewServer(":0", reg, m, logger, 5*time.Second)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" || resp.Version == "" {
		t.Errorf("response = %+v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}
}

func TestQueryEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantIDs    int
	}{
		{
			name:       "fetches from dataset",
			body:       `{"category":"S/F/C","region":[{"t":{"min":0,"max":10}}],"properties":["name"]}`,
			wantStatus: http.StatusOK,
			wantIDs:    1,
		},
		{
			name:       "local miss",
			body:       `{"category":"S/F/C","region":[{"t":{"min":0,"max":10}}],"local":true}`,
			wantStatus: http.StatusOK,
			wantIDs:    0,
		},
		{
			name:       "outside coverage",
			body:       `{"category":"S/F/C","region":[{"t":{"min":200,"max":300}}]}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "NO_PROVIDER",
		},
		{
			name:       "paged",
			body:       `{"category":"S/F/C","region":[{"t":{"min":0,"max":10}}],"limit":1}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "UNSUPPORTED_PAGINATION",
		},
		{
			name:       "malformed",
			body:       `{"category":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ARGUMENT",
		},
		{
			name:       "unknown field",
			body:       `{"category":"S/F/C","bogus":1}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ARGUMENT",
		},
		{
			name:       "missing category",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ARGUMENT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := do(t, s, http.MethodPost, "/query", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode != "" {
				var resp ErrorResponse
				decode(t, w, &resp)
				if resp.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
				}
				return
			}
			var resp struct {
				IDs    []int64                      `json:"ids"`
				Values map[string]map[string]string `json:"values"`
			}
			decode(t, w, &resp)
			if len(resp.IDs) != tt.wantIDs {
				t.Errorf("ids = %v, want %d", resp.IDs, tt.wantIDs)
			}
			if tt.wantIDs > 0 && len(resp.Values["name"]) != tt.wantIDs {
				t.Errorf("values = %v", resp.Values)
			}
		})
	}
}

func TestQueryThenLocal(t *testing.T) {
	s := newTestServer(t)
	body := `{"category":"S/F/C","region":[{"t":{"min":0,"max":100}}]}`
	if w := do(t, s, http.MethodPost, "/query", body); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w := do(t, s, http.MethodPost, "/query", `{"category":"S/F/C","region":[{"t":{"min":0,"max":100}}],"local":true}`)
	var resp struct {
		IDs []int64 `json:"ids"`
	}
	decode(t, w, &resp)
	if len(resp.IDs) != 2 {
		t.Errorf("local ids = %v, want 2", resp.IDs)
	}

	var stats registry.Stats
	decode(t, do(t, s, http.MethodGet, "/stats", ""), &stats)
	if stats.Cache.Models != 2 || len(stats.Providers) != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if w := do(t, s, http.MethodDelete, "/cache?category=S/F/C", ""); w.Code != http.StatusOK {
		t.Fatalf("DELETE /cache status = %d", w.Code)
	}
	decode(t, do(t, s, http.MethodGet, "/stats", ""), &stats)
	if stats.Cache.Models != 0 {
		t.Errorf("models after clear = %d, want 0", stats.Cache.Models)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/query"},
		{http.MethodPost, "/stats"},
		{http.MethodGet, "/cache"},
		{http.MethodPut, "/providers"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, "")
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", w.Code)
			}
			if w.Header().Get("Allow") == "" {
				t.Error("Allow header should be set")
			}
		})
	}
}

func TestProvidersAndMetrics(t *testing.T) {
	s := newTestServer(t)

	var resp struct {
		Providers []string `json:"providers"`
	}
	decode(t, do(t, s, http.MethodGet, "/providers", ""), &resp)
	if len(resp.Providers) != 1 || resp.Providers[0] != "stations" {
		t.Errorf("providers = %v", resp.Providers)
	}

	do(t, s, http.MethodPost, "/query", `{"category":"S/F/C","region":[{"t":{"min":0,"max":10}}]}`)
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "modelreg_") {
		t.Error("/metrics should expose modelreg metrics")
	}
}

func TestMapErrorToStatus(t *testing.T) {
	if got := MapErrorToStatus("SOMETHING_ELSE"); got != http.StatusInternalServerError {
		t.Errorf("unknown code status = %d, want 500", got)
	}
	if got := MapErrorToStatus("QUERY_FAILED"); got != http.StatusBadGateway {
		t.Errorf("QUERY_FAILED status = %d, want 502", got)
	}
}
