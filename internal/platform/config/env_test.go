package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port int `env:"BUCKETS_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("BUCKETS_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

type prefixedTestConfig struct {
	Wait time.Duration `env:"WAIT" envDefault:"5s"`
	Path string        `env:"PATH_HINT" envDefault:"data/test.db"`
}

func TestParseEnvWithPrefix(t *testing.T) {
	t.Setenv("BUCKETS_TEST_WAIT", "250ms")

	var cfg prefixedTestConfig
	if err := ParseEnvWithPrefix(&cfg, "BUCKETS_TEST_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Wait != 250*time.Millisecond {
		t.Fatalf("wait = %v, want 250ms", cfg.Wait)
	}
	if cfg.Path != "data/test.db" {
		t.Fatalf("path = %q, want default", cfg.Path)
	}
}

func TestParseEnvWithPrefixError(t *testing.T) {
	t.Setenv("BUCKETS_TEST_WAIT", "soon")

	var cfg prefixedTestConfig
	err := ParseEnvWithPrefix(&cfg, "BUCKETS_TEST_")
	if err == nil || !strings.Contains(err.Error(), "BUCKETS_TEST_") {
		t.Fatalf("expected prefixed parse error, got %v", err)
	}
}
