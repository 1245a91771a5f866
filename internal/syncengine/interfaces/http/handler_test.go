package http

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fusionbridge/internal/fusionsolar"
	"fusionbridge/internal/health"
	paramem "fusionbridge/internal/health/infrastructure/memory"
	stationmem "fusionbridge/internal/masterdata/infrastructure/memory"
	"fusionbridge/internal/syncengine"
	samplemem "fusionbridge/internal/telemetry/infrastructure/memory"
)

// quietAPI serves an empty but well-formed vendor surface.
type quietAPI struct{}

func (quietAPI) Authenticate(ctx context.Context) (string, error) { return "token", nil }

func (quietAPI) Call(ctx context.Context, operation string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	return map[string]any{"success": true, "failCode": 0, "data": []any{}}, nil
}

func newTestHandler(t *testing.T) (*SyncHandler, *health.Guard) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	stations := stationmem.NewStationRepository()
	samples := samplemem.NewSampleRepository()

	guard, err := health.NewGuard(paramem.NewParamStore(), nil, logger)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	registry, err := syncengine.NewRegistry(stations, logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	var api fusionsolar.Caller = quietAPI{}
	scheduler, err := syncengine.NewBatchScheduler(api, stations, samples, logger,
		syncengine.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	orch, err := syncengine.NewOrchestrator(api, guard, registry, scheduler, stations, logger)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	service, err := syncengine.NewService(orch, stations, samples, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewSyncHandler(service, guard, nil, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, guard
}

func serve(handler *SyncHandler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	handler.Register(mux)
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	return resp
}

func TestHandleRun_EmptyBodyIsFullRun(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var report syncengine.CycleReport
	if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Result == "" {
		t.Fatal("expected a cycle result")
	}
}

func TestHandleRun_InvalidJSON(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", strings.NewReader("{not json"))
	resp := serve(handler, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandleRun_UnknownMode(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", strings.NewReader(`{"mode":"bogus"}`))
	resp := serve(handler, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", resp.Code)
	}
}

func TestHandleRun_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/run", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestHandleRun_BlockedReturnsConflict(t *testing.T) {
	handler, guard := newTestHandler(t)
	ctx := context.Background()
	for i := 0; i < health.DefaultMaxAuthErrors; i++ {
		if err := guard.RecordAuthFailure(ctx, "bad creds"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 while blocked, got %d", resp.Code)
	}
}

func TestHandleResetBlock(t *testing.T) {
	handler, guard := newTestHandler(t)
	ctx := context.Background()
	for i := 0; i < health.DefaultMaxAuthErrors; i++ {
		if err := guard.RecordAuthFailure(ctx, "bad creds"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/reset-block", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if err := guard.CheckReady(ctx); err != nil {
		t.Fatalf("expected guard ready after reset, got %v", err)
	}
}

func TestHandleStatus(t *testing.T) {
	handler, guard := newTestHandler(t)
	if err := guard.RecordAuthFailure(context.Background(), "once"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, _ := payload["auth_error_count"].(float64); got != 1 {
		t.Fatalf("expected auth_error_count 1, got %v", payload["auth_error_count"])
	}
	if blocked, _ := payload["api_blocked"].(bool); blocked {
		t.Fatal("expected api_blocked false")
	}
}

func TestHandleCleanup(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/cleanup", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload map[string]int64
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["removed"] != 0 {
		t.Fatalf("expected 0 removed on an empty store, got %d", payload["removed"])
	}
}

func TestHandleHealth(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/health", nil)
	resp := serve(handler, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var report syncengine.HealthReport
	if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Total != 0 {
		t.Fatalf("expected empty fleet, got %+v", report)
	}
}
