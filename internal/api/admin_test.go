package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaydocs/ingestor/internal/queue"
)

func TestAdminRoutes_RequireSecret(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/queue-status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no secret header, got %d", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/admin/queue-status", nil)
	req2.Header.Set("X-Admin-Secret", "wrong")
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong secret, got %d", rr2.Code)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/api/admin/queue-status", nil)
	req3.Header.Set("X-Admin-Secret", "topsecret")
	rr3 := httptest.NewRecorder()
	h.ServeHTTP(rr3, req3)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct secret, got %d: %s", rr3.Code, rr3.Body.String())
	}
}

func TestAdminRoutes_OpenWhenNoSecretConfigured(t *testing.T) {
	_, d := newTestServer(t, queue.Config{})
	d.AdminSecret = ""
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/queue-status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when no admin secret is configured, got %d", rr.Code)
	}
}

func TestAdminQueueMetrics(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/queue-metrics", nil)
	req.Header.Set("X-Admin-Secret", "topsecret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminClearCompletedMetrics(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/clear-completed-metrics", nil)
	req.Header.Set("X-Admin-Secret", "topsecret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
