package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaydocs/ingestor/internal/auth"
	"github.com/relaydocs/ingestor/internal/queue"
	"github.com/relaydocs/ingestor/internal/storage"
)

func newAuthTestServer(t *testing.T) (http.Handler, Deps) {
	t.Helper()
	_, d := newTestServer(t, queue.Config{})
	st := storage.NewMemory()
	authSvc, err := auth.NewService(context.Background(), st)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	d.Auth = authSvc
	return NewRouter(d), d
}

func TestAuthStatus_SetupRequiredWhenNoUsers(t *testing.T) {
	h, _ := newAuthTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]bool
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp["configured"] || !resp["setupRequired"] {
		t.Fatalf("expected configured+setupRequired true, got %v", resp)
	}
}

func TestAuthSetup_ThenRejectsSecondSetup(t *testing.T) {
	h, _ := newAuthTestServer(t)

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/auth/setup", bytes.NewReader(payload))
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second setup, got %d", rr2.Code)
	}
}

func TestAuthLogin_Success(t *testing.T) {
	h, _ := newAuthTestServer(t)

	setupPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", bytes.NewReader(setupPayload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("setup failed: %d %s", rr.Code, rr.Body.String())
	}

	loginPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(loginPayload))
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rr2.Body.Bytes(), &resp)
	if resp["token"] == "" {
		t.Fatalf("expected a token in response, got %v", resp)
	}
}

func TestAuthLogin_WithExpiresIn(t *testing.T) {
	h, _ := newAuthTestServer(t)

	setupPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", bytes.NewReader(setupPayload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("setup failed: %d %s", rr.Code, rr.Body.String())
	}

	loginPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2", "expiresIn": "30d"})
	req2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(loginPayload))
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
}

func TestAuthLogin_InvalidExpiresIn(t *testing.T) {
	h, _ := newAuthTestServer(t)

	setupPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", bytes.NewReader(setupPayload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("setup failed: %d %s", rr.Code, rr.Body.String())
	}

	loginPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2", "expiresIn": "not-a-duration"})
	req2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(loginPayload))
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr2.Code, rr2.Body.String())
	}
}

func TestAuthLogin_WrongPassword(t *testing.T) {
	h, _ := newAuthTestServer(t)

	setupPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/setup", bytes.NewReader(setupPayload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("setup failed: %d %s", rr.Code, rr.Body.String())
	}

	loginPayload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	req2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(loginPayload))
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr2.Code)
	}
}
