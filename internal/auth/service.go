// Package auth provides bearer-token authentication and Casbin-backed RBAC
// for the ingestion API's document endpoints (admin endpoints are gated by
// the shared-secret header in internal/api instead). Trimmed from the
// corpus's fuller account-lifecycle service: no email verification,
// invitation flow, or password reset, since this domain has no onboarding
// surface — only the identity/authorization primitives (users, tokens,
// RBAC roles) a document-upload API still needs.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaydocs/ingestor/internal/storage"
)

// Roles known to the default policy set. Callers may add more with
// AddPolicy.
const (
	RoleAdmin    = "admin"
	RoleUploader = "uploader"
	RoleViewer   = "viewer"
)

// Service wraps account/token CRUD and a Casbin enforcer persisted through
// Adapter.
type Service struct {
	storage  storage.Storage
	enforcer *casbin.Enforcer
	adapter  *Adapter
}

// NewService constructs a Service, loading (or seeding, if empty) RBAC
// policy from s and syncing every existing user's role grouping.
func NewService(ctx context.Context, s storage.Storage) (*Service, error) {
	m, err := model.NewModelFromString(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`)
	if err != nil {
		return nil, err
	}

	adapter := NewAdapter(s)
	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	e.EnableAutoSave(true)

	if err := e.LoadPolicy(); err != nil {
		slog.Warn("auth: failed to load policies from storage", "error", err)
	}

	if policies, _ := e.GetPolicy(); len(policies) == 0 {
		slog.Info("auth: no policies found, seeding defaults")
		e.AddPolicy(RoleAdmin, "*", "*")
		e.AddPolicy(RoleUploader, "documents", "read")
		e.AddPolicy(RoleUploader, "documents", "write")
		e.AddPolicy(RoleViewer, "documents", "read")
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Role == "" {
			continue
		}
		if _, err := e.AddGroupingPolicy(u.ID, u.Role); err != nil {
			slog.Warn("auth: failed to sync role grouping", "userId", u.ID, "error", err)
		}
	}

	return &Service{storage: s, enforcer: e, adapter: adapter}, nil
}

// HasAnyUsers reports whether at least one account is provisioned. The API
// runs open (no bearer-token enforcement) until the first user exists,
// matching the corpus's "detect uninitialized state, don't force setup"
// convention.
func (s *Service) HasAnyUsers(ctx context.Context) (bool, error) {
	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	return len(users) > 0, nil
}

// Authenticate verifies username/password and returns the matching user.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	u, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}
	return u, nil
}

// Register creates a new account with a bcrypt-hashed password and grants
// it role via Casbin grouping policy.
func (s *Service) Register(ctx context.Context, username, password, email, role string) (*storage.User, error) {
	existing, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New("user already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := storage.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.storage.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	if _, err := s.enforcer.AddGroupingPolicy(u.ID, role); err != nil {
		slog.Warn("auth: failed to grant role on register", "userId", u.ID, "role", role, "error", err)
	}
	return &u, nil
}

// CreateToken mints a new bearer token for userID, returning the persisted
// record and the one-time raw token value (only the sha256 hash is
// stored).
func (s *Service) CreateToken(ctx context.Context, userID, name, role string, expiresAt *time.Time) (*storage.Token, string, error) {
	rawToken := uuid.New().String() + uuid.New().String()
	t := storage.Token{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		TokenHash: hashToken(rawToken),
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	if err := s.storage.CreateToken(ctx, t); err != nil {
		return nil, "", err
	}
	return &t, rawToken, nil
}

// ValidateToken resolves a raw bearer token to its persisted record,
// rejecting unknown or expired tokens.
func (s *Service) ValidateToken(ctx context.Context, rawToken string) (*storage.Token, error) {
	t, err := s.storage.GetTokenByHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New("invalid token")
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("token expired")
	}
	go s.storage.UpdateTokenLastUsed(context.Background(), t.ID)
	return t, nil
}

func hashToken(raw string) string {
	h := sha256.New()
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

// Enforce checks whether sub may perform act on obj.
func (s *Service) Enforce(sub, obj, act string) (bool, error) {
	return s.enforcer.Enforce(sub, obj, act)
}

// AddPolicy grants role permission to act on resource.
func (s *Service) AddPolicy(role, resource, action string) (bool, error) {
	return s.enforcer.AddPolicy(role, resource, action)
}

// RemovePolicy revokes a previously granted permission.
func (s *Service) RemovePolicy(role, resource, action string) (bool, error) {
	return s.enforcer.RemovePolicy(role, resource, action)
}
