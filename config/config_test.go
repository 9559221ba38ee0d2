package config

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_BAD_FLOAT", "abc")
	t.Setenv("TEST_DURATION", "150ms")
	t.Setenv("TEST_RATES", "1, 1.5,2")
	t.Setenv("TEST_BAD_RATES", "1,0")

	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("getEnvFloat = %v", got)
	}
	if got := getEnvFloat("TEST_BAD_FLOAT", 1); got != 1 {
		t.Fatalf("getEnvFloat fallback = %v", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Fatalf("getEnvDuration = %v", got)
	}
	if got := getEnvDuration("TEST_MISSING", time.Second); got != time.Second {
		t.Fatalf("getEnvDuration fallback = %v", got)
	}

	rates := getEnvFloatList("TEST_RATES", nil)
	if len(rates) != 3 || rates[1] != 1.5 {
		t.Fatalf("getEnvFloatList = %v", rates)
	}
	if got := getEnvFloatList("TEST_BAD_RATES", []float64{1, 2}); len(got) != 2 || got[1] != 2 {
		t.Fatalf("getEnvFloatList fallback = %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MERGE_GAP_THRESHOLD", "2")
	t.Setenv("REDIS_PORT", "6380")

	cfg := Load()
	if cfg.MergeGapThreshold != 2 {
		t.Fatalf("gap = %v, want 2", cfg.MergeGapThreshold)
	}
	if cfg.RedisAddr() != cfg.RedisHost+":6380" {
		t.Fatalf("redis addr = %q", cfg.RedisAddr())
	}
	if len(cfg.PlaybackRates) == 0 {
		t.Fatal("expected default playback rates")
	}
}
