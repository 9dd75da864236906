// Package config loads runtime configuration from environment variables
// with documented defaults and bounds, mirroring the corpus's FromEnv
// pattern but covering the full ingestion stack: queue tuning, storage,
// the OCR collaborator, WebSocket/CORS, and the ambient auth/alerting/
// notification surface.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully resolved, bounds-checked runtime configuration.
type Config struct {
	Port string

	Queue QueueConfig

	StorageDriver string
	StorageDSN    string

	BlobBaseDir string

	OCRProvider string
	OCREndpoint string

	WSPath          string
	ReplayCapacity  int
	ReplayTTL       time.Duration
	BacklogLimit    int
	AllowedOrigins  []string

	AdminSecret string

	AlertWebhookURL   string
	SendGridAPIKey    string
	SendGridFromEmail string
	AlertToEmail      string
	FailureThreshold  int

	WorkerPoolSize int
}

// QueueConfig mirrors internal/queue.Config field-for-field; it is
// translated at wiring time rather than imported directly so this package
// has no dependency on the queue package.
type QueueConfig struct {
	MaxConcurrentBatches    int
	MaxQueueLength          int
	BatchQueueTimeout       time.Duration
	BatchQueueTimeoutMult   float64
	AverageBatchSeconds     int
	EnableQueueLogging      bool
	EnableGracefulShutdown  bool
	GracefulShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables, clamping every
// bounded option to its documented range.
func FromEnv() Config {
	return Config{
		Port: envString("PORT", "8000"),

		Queue: QueueConfig{
			MaxConcurrentBatches:    clampInt(envInt("MAX_CONCURRENT_BATCHES", 1), 1, 20),
			MaxQueueLength:          clampInt(envInt("MAX_QUEUE_LENGTH", 500), 10, 1000),
			BatchQueueTimeout:       clampDuration(envDurationMs("BATCH_QUEUE_TIMEOUT_MS", 1_800_000), 60*time.Second, 0),
			BatchQueueTimeoutMult:   clampFloat(envFloat("BATCH_QUEUE_TIMEOUT_MULTIPLIER", 1.0), 0.5, 5.0),
			AverageBatchSeconds:     clampInt(envInt("AVERAGE_BATCH_SECONDS", 150), 30, 0),
			EnableQueueLogging:      envBool("ENABLE_QUEUE_LOGGING", false),
			EnableGracefulShutdown:  envBool("ENABLE_GRACEFUL_SHUTDOWN", true),
			GracefulShutdownTimeout: clampDuration(envDurationMs("GRACEFUL_SHUTDOWN_TIMEOUT_MS", 120_000), 60*time.Second, 600*time.Second),
		},

		StorageDriver: envString("DB_DRIVER", "memory"),
		StorageDSN:    envString("DB_DSN", "ingestor.db"),

		BlobBaseDir: envString("BLOB_BASE_DIR", "/data/blobs"),

		OCRProvider: envString("OCR_PROVIDER", "localpdf"),
		OCREndpoint: envString("OCR_ENDPOINT", ""),

		WSPath:         envString("WS_PATH", "/ws"),
		ReplayCapacity: clampInt(envInt("WS_REPLAY_CAPACITY", 64), 1, 0),
		ReplayTTL:      envDurationMs("WS_REPLAY_TTL_MS", 600_000),
		BacklogLimit:   clampInt(envInt("WS_BACKLOG_LIMIT", 8), 1, 0),
		AllowedOrigins: envList("ALLOWED_ORIGINS"),

		AdminSecret: envString("ADMIN_SECRET", ""),

		AlertWebhookURL:   envString("ALERT_WEBHOOK_URL", ""),
		SendGridAPIKey:    envString("SENDGRID_API_KEY", ""),
		SendGridFromEmail: envString("SENDGRID_FROM_EMAIL", ""),
		AlertToEmail:      envString("ALERT_TO_EMAIL", ""),
		FailureThreshold:  clampInt(envInt("ALERT_FAILURE_THRESHOLD", 3), 1, 0),

		WorkerPoolSize: clampInt(envInt("WORKER_POOL_SIZE", 4), 1, 32),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationMs(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// clampInt clamps n to [lo, hi]. hi == 0 means "no upper bound".
func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	return n
}

func clampFloat(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// clampDuration clamps d to [lo, hi]. hi == 0 means "no upper bound".
func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}
