package config

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.Queue.MaxConcurrentBatches != 1 {
		t.Errorf("expected default MaxConcurrentBatches 1, got %d", cfg.Queue.MaxConcurrentBatches)
	}
	if cfg.Queue.MaxQueueLength != 500 {
		t.Errorf("expected default MaxQueueLength 500, got %d", cfg.Queue.MaxQueueLength)
	}
	if !cfg.Queue.EnableGracefulShutdown {
		t.Error("expected EnableGracefulShutdown to default true")
	}
}

func TestFromEnv_ClampsMaxConcurrentBatches(t *testing.T) {
	testCases := []struct {
		raw  string
		want int
	}{
		{"0", 1},
		{"-5", 1},
		{"20", 20},
		{"100", 20},
		{"7", 7},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Setenv("MAX_CONCURRENT_BATCHES", tc.raw)
			cfg := FromEnv()
			if cfg.Queue.MaxConcurrentBatches != tc.want {
				t.Errorf("raw=%s: expected %d, got %d", tc.raw, tc.want, cfg.Queue.MaxConcurrentBatches)
			}
		})
	}
}

func TestFromEnv_ClampsMaxQueueLength(t *testing.T) {
	testCases := []struct {
		raw  string
		want int
	}{
		{"5", 10},
		{"2000", 1000},
		{"250", 250},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Setenv("MAX_QUEUE_LENGTH", tc.raw)
			cfg := FromEnv()
			if cfg.Queue.MaxQueueLength != tc.want {
				t.Errorf("raw=%s: expected %d, got %d", tc.raw, tc.want, cfg.Queue.MaxQueueLength)
			}
		})
	}
}

func TestFromEnv_ClampsBatchQueueTimeoutMultiplier(t *testing.T) {
	testCases := []struct {
		raw  string
		want float64
	}{
		{"0.1", 0.5},
		{"10", 5.0},
		{"2.5", 2.5},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Setenv("BATCH_QUEUE_TIMEOUT_MULTIPLIER", tc.raw)
			cfg := FromEnv()
			if cfg.Queue.BatchQueueTimeoutMult != tc.want {
				t.Errorf("raw=%s: expected %v, got %v", tc.raw, tc.want, cfg.Queue.BatchQueueTimeoutMult)
			}
		})
	}
}

func TestFromEnv_AllowedOriginsSplitsAndTrims(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,, https://c.example.com ")
	cfg := FromEnv()
	want := []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), cfg.AllowedOrigins)
	}
	for i, o := range want {
		if cfg.AllowedOrigins[i] != o {
			t.Errorf("origin %d: expected %s, got %s", i, o, cfg.AllowedOrigins[i])
		}
	}
}

func TestFromEnv_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_BATCHES", "not-a-number")
	cfg := FromEnv()
	if cfg.Queue.MaxConcurrentBatches != 1 {
		t.Errorf("expected fallback to default 1, got %d", cfg.Queue.MaxConcurrentBatches)
	}
}
