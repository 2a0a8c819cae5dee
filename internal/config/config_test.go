package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "loop:\n  model: claude-sonnet-4-20250514\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("Loop.Model = %q, want the configured value", cfg.Loop.Model)
	}
	if cfg.Loop.MaxIterations == 0 {
		t.Fatalf("expected MaxIterations to be defaulted")
	}
	if cfg.Scheduler.MaxParallel == 0 {
		t.Fatalf("expected Scheduler.MaxParallel to be defaulted")
	}
	if cfg.AntiPattern.ReadOnlyHardLimit == 0 {
		t.Fatalf("expected AntiPattern.ReadOnlyHardLimit to be defaulted")
	}
	if cfg.Context.MaxMsgsBeforeSummary == 0 {
		t.Fatalf("expected Context.MaxMsgsBeforeSummary to be defaulted")
	}
	if cfg.Fallback.VisionFallbackModel == "" {
		t.Fatalf("expected Fallback.VisionFallbackModel to be defaulted")
	}
	if cfg.Breaker.MaxConsecutiveFailures == 0 {
		t.Fatalf("expected Breaker.MaxConsecutiveFailures to be defaulted")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("expected default logging level/format, got %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	path := writeConfig(t, "loop:\n  model: claude-sonnet-4-20250514\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test-key" {
		t.Fatalf("Anthropic.APIKey = %q, want env override", cfg.Anthropic.APIKey)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "loop:\n  bogus_field: 1\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load() to reject an unknown field")
	}
}

func TestLoad_ValidatesLoggingLevel(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: verbose\n")

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error for bad logging.level")
	}
	if _, ok := err.(*ConfigValidationError); !ok {
		t.Fatalf("expected *ConfigValidationError, got %T", err)
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("loop:\n  max_iterations: 42\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nloop:\n  model: claude-sonnet-4-20250514\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.MaxIterations != 42 {
		t.Fatalf("Loop.MaxIterations = %d, want 42 from included file", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("Loop.Model = %q, want value from main file", cfg.Loop.Model)
	}
}
