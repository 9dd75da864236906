package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaydocs/ingestor/internal/filemeta"
)

// Config controls how the storage backend is opened. The same driver/DSN
// backs both the ambient Storage (accounts, tokens, RBAC, maintenance
// bookkeeping) and the file metadata store, so both are opened together.
type Config struct {
	Driver string
	DSN    string
}

// Open constructs a Storage and a filemeta.Store sharing one backend.
func Open(ctx context.Context, cfg Config) (Storage, filemeta.Store, error) {
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		slog.Info("storage: using in-memory backend")
		return NewMemory(), filemeta.NewMemoryStore(), nil

	case "sqlite", "postgres", "postgrespool":
		slog.Info("storage: using gorm backend", "driver", drv)
		st, err := NewGormStorage(drv, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: open %s: %w", drv, err)
		}
		if err := st.Migrate(ctx, filemeta.Model()); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("storage: migrate: %w", err)
		}
		return st, filemeta.NewGormStore(st.DB()), nil

	default:
		return nil, nil, fmt.Errorf("storage: unsupported driver %q", drv)
	}
}
