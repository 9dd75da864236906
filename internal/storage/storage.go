// Package storage owns the ambient persistence concerns shared across the
// ingestion API: accounts, tokens, RBAC policy rows, maintenance-job
// bookkeeping, and historical queue-metrics snapshots. File metadata has
// its own store (internal/filemeta) since the queue and runner own a
// narrower, higher-traffic contract against that table.
package storage

import (
	"context"
	"time"
)

// Storage abstracts persistence for accounts, tokens, RBAC policy, and the
// maintenance sweep's bookkeeping.
type Storage interface {
	// Users
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)

	// Tokens
	CreateToken(ctx context.Context, t Token) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*Token, error)
	UpdateTokenLastUsed(ctx context.Context, id string) error
	DeleteToken(ctx context.Context, id string) error

	// Casbin policy persistence (used by auth.Adapter)
	LoadCasbinRules(ctx context.Context) ([]CasbinRule, error)
	AddCasbinRule(ctx context.Context, r CasbinRule) error
	RemoveCasbinRule(ctx context.Context, r CasbinRule) error

	// Maintenance sweep coordination
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error

	// Queue metrics history
	SaveQueueMetricsSnapshot(ctx context.Context, snap QueueMetricsSnapshot) error
	DeleteQueueMetricsSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
