package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.uber.org/zap"

	"github.com/seisei/ocr-central/pkg/ratelimit"
)

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func newTestRouter(store *fakeStore, limiter *ratelimit.Limiter) (*chi.Mux, *mockGateway) {
	gw := &mockGateway{text: "{}"}

	// A nil *fakeStore must become a nil interface so degraded-mode
	// checks in the service and handler fire.
	var svc *Service
	var h *Handler
	if store != nil {
		svc = newTestService(gw, store, nil, 30, 20)
		h = NewHandler(svc, store, limiter, 30, 20, zap.NewNop())
	} else {
		svc = newTestService(gw, nil, nil, 30, 20)
		h = NewHandler(svc, nil, limiter, 30, 20, zap.NewNop())
	}

	r := chi.NewRouter()
	r.Get("/health", h.HandleHealth)
	r.Post("/api/v1/ocr/process", h.HandleProcess)
	r.Get("/api/v1/usage/{tenantID}", h.HandleUsage)
	r.Get("/api/v1/usage", h.HandleUsageList)
	return r, gw
}

func TestHandleHealth(t *testing.T) {
	r, _ := newTestRouter(newFakeStore(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
	levels, _ := body["output_levels"].([]any)
	if len(levels) != 2 || levels[0] != "summary" || levels[1] != "accounting" {
		t.Errorf("Expected output levels [summary accounting], got %v", body["output_levels"])
	}
	if body["timestamp"] == nil || body["version"] == nil {
		t.Error("Expected timestamp and version in health body")
	}
}

func TestHandleProcess_InvalidBody(t *testing.T) {
	r, _ := newTestRouter(newFakeStore(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewBufferString("not json")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestHandleProcess_InvalidOutputLevel(t *testing.T) {
	r, _ := newTestRouter(newFakeStore(), nil)
	body, _ := json.Marshal(Request{ImageData: testImage, OutputLevel: "verbose"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown output_level, got %d", w.Code)
	}
}

func TestHandleProcess_InvalidPromptVersion(t *testing.T) {
	r, _ := newTestRouter(newFakeStore(), nil)
	body, _ := json.Marshal(Request{ImageData: testImage, PromptVersion: "legacy"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown prompt_version, got %d", w.Code)
	}
}

func TestHandleProcess_RateLimited(t *testing.T) {
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: false})
	r, gw := newTestRouter(newFakeStore(), limiter)

	body, _ := json.Marshal(Request{ImageData: testImage, TenantID: "acme"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Expected Retry-After 60, got %q", got)
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "rate limit exceeded" {
		t.Errorf("Unexpected body: %v", resp)
	}
	if gw.calls != 0 {
		t.Error("Rate-limited request must not reach the model")
	}
}

func TestHandleProcess_LimiterErrorFailsOpen(t *testing.T) {
	// A broken limiter backend degrades to no limiting, it does not
	// block traffic.
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{err: fmt.Errorf("redis down")})
	r, gw := newTestRouter(newFakeStore(), limiter)

	body, _ := json.Marshal(Request{ImageData: testImage, TenantID: "acme"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected fail-open 200, got %d", w.Code)
	}
	if gw.calls != 1 {
		t.Errorf("Expected the request to be processed, got %d model calls", gw.calls)
	}
}

func TestHandleProcess_SuccessBody(t *testing.T) {
	r, _ := newTestRouter(newFakeStore(), nil)
	body, _ := json.Marshal(Request{ImageData: testImage, TenantID: "acme"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if !resp.Success || resp.Usage == nil || resp.Usage.ImageCount != 1 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestHandleProcess_FailureStillHTTP200(t *testing.T) {
	store := newFakeStore()
	r, gw := newTestRouter(store, nil)
	gw.err = &mockError{}

	body, _ := json.Marshal(Request{ImageData: testImage, TenantID: "acme"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("Internal failure must not change the HTTP status, got %d", w.Code)
	}
	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success {
		t.Error("Expected success=false in body")
	}
	if resp.ErrorCode != "service_error" {
		t.Errorf("Expected service_error for untyped gateway failure, got %s", resp.ErrorCode)
	}
}

type mockError struct{}

func (*mockError) Error() string { return "upstream exploded" }

func TestHandleUsage_ZeroDefault(t *testing.T) {
	r, _ := newTestRouter(newFakeStore(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/usage/acme?year_month=2026-03", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var snap struct {
		TenantID      string  `json:"tenant_id"`
		YearMonth     string  `json:"year_month"`
		ImageCount    int     `json:"image_count"`
		FreeRemaining int     `json:"free_remaining"`
		BillableCount int     `json:"billable_count"`
		TotalCost     float64 `json:"total_cost"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &snap)
	if snap.TenantID != "acme" || snap.YearMonth != "2026-03" {
		t.Errorf("Unexpected identity fields: %+v", snap)
	}
	if snap.ImageCount != 0 || snap.FreeRemaining != 30 || snap.BillableCount != 0 || snap.TotalCost != 0 {
		t.Errorf("Expected all-zero synthetic snapshot, got %+v", snap)
	}
}

func TestHandleUsage_StoreDown503(t *testing.T) {
	r, _ := newTestRouter(nil, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/usage/acme", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a ledger store, got %d", w.Code)
	}
}

func TestHandleUsageList(t *testing.T) {
	store := newFakeStore()
	r, _ := newTestRouter(store, nil)

	// Prime some usage through the process endpoint.
	body, _ := json.Marshal(Request{ImageData: testImage, TenantID: "acme"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/ocr/process", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Priming request failed: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/usage", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var out struct {
		YearMonth     string           `json:"year_month"`
		FreeQuota     int              `json:"free_quota"`
		PricePerImage float64          `json:"price_per_image"`
		Tenants       []map[string]any `json:"tenants"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if out.FreeQuota != 30 || out.PricePerImage != 20 {
		t.Errorf("Expected active pricing config in body, got %+v", out)
	}
	if len(out.Tenants) != 1 || out.Tenants[0]["tenant_id"] != "acme" {
		t.Errorf("Expected acme in tenant list, got %+v", out.Tenants)
	}
}

func TestHandleUsageList_StoreDown503(t *testing.T) {
	r, _ := newTestRouter(nil, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/usage", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a ledger store, got %d", w.Code)
	}
}
