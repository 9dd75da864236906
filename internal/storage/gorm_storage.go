package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStorage is the GORM-backed Storage implementation shared by the
// sqlite and postgres/postgrespool drivers. Its *gorm.DB is also handed to
// internal/filemeta.NewGormStore so both stores share one connection pool
// and migration pass.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage opens a connection using the dialector matching driver.
func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "postgrespool":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return &GormStorage{db: db}, nil
}

// DB exposes the underlying *gorm.DB so sibling stores (internal/filemeta)
// can share the same connection and migrate alongside this package's own
// models.
func (s *GormStorage) DB() *gorm.DB { return s.db }

// Migrate runs AutoMigrate for every ambient model this package owns, plus
// fileMetadataRow from internal/filemeta via the caller-supplied list of
// extra models (avoids an import cycle between storage and filemeta).
func (s *GormStorage) Migrate(ctx context.Context, extraModels ...interface{}) error {
	models := []interface{}{
		&User{},
		&Token{},
		&CasbinRule{},
		&ScheduledJob{},
		&QueueMetricsSnapshot{},
	}
	models = append(models, extraModels...)
	return s.db.WithContext(ctx).AutoMigrate(models...)
}

// Users

func (s *GormStorage) CreateUser(ctx context.Context, u User) error {
	return s.db.WithContext(ctx).Create(&u).Error
}

func (s *GormStorage) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	result := s.db.WithContext(ctx).First(&u, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &u, nil
}

func (s *GormStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	result := s.db.WithContext(ctx).First(&u, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &u, nil
}

func (s *GormStorage) UpdateUser(ctx context.Context, u User) error {
	return s.db.WithContext(ctx).Save(&u).Error
}

func (s *GormStorage) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	result := s.db.WithContext(ctx).Find(&users)
	return users, result.Error
}

// Tokens

func (s *GormStorage) CreateToken(ctx context.Context, t Token) error {
	return s.db.WithContext(ctx).Create(&t).Error
}

func (s *GormStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	var t Token
	result := s.db.WithContext(ctx).First(&t, "token_hash = ?", hash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &t, nil
}

func (s *GormStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Token{}).Where("id = ?", id).Update("last_used_at", time.Now()).Error
}

func (s *GormStorage) DeleteToken(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Token{}, "id = ?", id).Error
}

// Casbin rules

func (s *GormStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	var rules []CasbinRule
	result := s.db.WithContext(ctx).Find(&rules)
	return rules, result.Error
}

func (s *GormStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Create(&rule).Error
}

func (s *GormStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Where(&rule).Delete(&CasbinRule{}).Error
}

// Maintenance sweep coordination

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&ok).Error
		return ok, err
	}
	// sqlite has no cross-process advisory lock; a single sqlite-backed
	// instance is its own only contender for the lock.
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&ok).Error
		return ok, err
	}
	return true, nil
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}

// Queue metrics history

func (s *GormStorage) SaveQueueMetricsSnapshot(ctx context.Context, snap QueueMetricsSnapshot) error {
	return s.db.WithContext(ctx).Create(&snap).Error
}

func (s *GormStorage) DeleteQueueMetricsSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("captured_at < ?", before).Delete(&QueueMetricsSnapshot{})
	return result.RowsAffected, result.Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
