package api

import (
	"encoding/json"
	"net/http"

	"github.com/relaydocs/ingestor/internal/auth"
)

// authStatus tells the caller whether any account has been provisioned
// yet, the detail the UI needs to decide between showing a setup form and
// a login form.
func (h *handlers) authStatus(w http.ResponseWriter, r *http.Request) {
	if h.d.Auth == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"configured": false, "setupRequired": false})
		return
	}
	hasUsers, err := h.d.Auth.HasAnyUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not check account state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"configured": true, "setupRequired": !hasUsers})
}

type setupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// authSetup provisions the first account, as admin, and only while no
// account exists yet — once any user is registered this always 409s, so
// it can't be used to mint a second admin without a token.
func (h *handlers) authSetup(w http.ResponseWriter, r *http.Request) {
	if h.d.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_DISABLED", "no storage backend is configured for accounts")
		return
	}
	hasUsers, err := h.d.Auth.HasAnyUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not check account state")
		return
	}
	if hasUsers {
		writeError(w, http.StatusConflict, "ALREADY_CONFIGURED", "an account already exists")
		return
	}

	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "username and password are required")
		return
	}

	user, err := h.d.Auth.Register(r.Context(), req.Username, req.Password, req.Email, auth.RoleAdmin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not create account")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID, "username": user.Username, "role": user.Role})
}

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ExpiresIn string `json:"expiresIn"`
}

// authLogin issues a session token good until ExpiresIn elapses. ExpiresIn
// accepts the same formats as auth.ParseExpirationDuration ("never" or ""
// for no expiration, "30d"/"7d"/"24h", a Go duration, or "mm/dd/yyyy[
// HH:MM]"); omitting it issues a token that never expires.
func (h *handlers) authLogin(w http.ResponseWriter, r *http.Request) {
	if h.d.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_DISABLED", "no storage backend is configured for accounts")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	expiresAt, err := auth.ParseExpirationDuration(req.ExpiresIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EXPIRY", err.Error())
		return
	}
	user, err := h.d.Auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
		return
	}
	_, raw, err := h.d.Auth.CreateToken(r.Context(), user.ID, "session", user.Role, expiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": raw, "role": user.Role})
}
