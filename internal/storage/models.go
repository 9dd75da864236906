package storage

import "time"

// User represents a registered account with access to the ingestion API.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	Username     string    `json:"username" gorm:"unique;column:username"`
	Email        string    `json:"email" gorm:"column:email"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"column:role"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// Token represents a bearer API access token.
type Token struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	UserID     string     `json:"user_id" gorm:"column:user_id"`
	Name       string     `json:"name" gorm:"column:name"`
	TokenHash  string     `json:"-" gorm:"column:token_hash"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"column:last_used_at"`
}

// CasbinRule represents one RBAC policy or grouping rule row.
type CasbinRule struct {
	ID    uint   `gorm:"primaryKey"`
	PType string `json:"ptype" gorm:"column:ptype"`
	V0    string `json:"v0" gorm:"column:v0"`
	V1    string `json:"v1" gorm:"column:v1"`
	V2    string `json:"v2" gorm:"column:v2"`
	V3    string `json:"v3" gorm:"column:v3"`
	V4    string `json:"v4" gorm:"column:v4"`
	V5    string `json:"v5" gorm:"column:v5"`
}

// ScheduledJob tracks the last run of a maintenance job coordinated across
// replicas via an advisory lock.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    int       `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}

// QueueMetricsSnapshot persists a periodic point-in-time snapshot of the
// queue's aggregate counters, used for historical reporting beyond the
// in-memory queue manager's own lifetime-since-process-start figures.
type QueueMetricsSnapshot struct {
	ID                uint      `gorm:"primaryKey"`
	CapturedAt        time.Time `gorm:"column:captured_at;index"`
	QueueLength       int       `gorm:"column:queue_length"`
	ActiveCount       int       `gorm:"column:active_count"`
	TotalEnqueued     int64     `gorm:"column:total_enqueued"`
	TotalProcessed    int64     `gorm:"column:total_processed"`
	TotalFailed       int64     `gorm:"column:total_failed"`
	AverageWaitSeconds float64  `gorm:"column:average_wait_seconds"`
}
