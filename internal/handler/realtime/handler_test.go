package realtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	rt "github.com/echotalk/backend/internal/realtime"
)

func newTestRouter() *chi.Mux {
	r := chi.NewRouter()
	New(rt.NewOrchestrator(nil, nil, nil, nil, nil, nil, nil, rt.Config{})).RegisterRoutes(r)
	return r
}

func TestConnectRejectsPlainHTTPRequest(t *testing.T) {
	r := newTestRouter()

	// 缺少 WebSocket 握手头，升级失败。
	req := httptest.NewRequest(http.MethodGet, "/realtime/42/wx-123", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-websocket request, got %d", rr.Code)
	}
}

func TestConnectRequiresBothPathParams(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/realtime/42", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing openID segment, got %d", rr.Code)
	}
}
