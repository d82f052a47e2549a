package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("TOGETHER_API_KEY", "")
	t.Setenv("RENDER_TIMEOUT", "")

	cfg := Load()
	if cfg.RenderBinary != "manim" {
		t.Fatalf("expected manim binary, got %q", cfg.RenderBinary)
	}
	if cfg.RenderTimeout != 2*time.Minute {
		t.Fatalf("expected 2m render timeout, got %s", cfg.RenderTimeout)
	}
	if cfg.RenderMaxOutputBytes != 10*1024*1024 {
		t.Fatalf("expected 10MiB output cap, got %d", cfg.RenderMaxOutputBytes)
	}
	if cfg.LLMMaxTokens != 2000 || cfg.LLMTemperature != 0.1 {
		t.Fatalf("unexpected llm defaults: tokens=%d temp=%v", cfg.LLMMaxTokens, cfg.LLMTemperature)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Fatalf("expected 30s llm timeout, got %s", cfg.LLMTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("TOGETHER_API_KEY", "together-key")
	t.Setenv("RENDER_TIMEOUT", "45s")
	t.Setenv("RENDER_MAX_OUTPUT_BYTES", "2048")
	t.Setenv("ARTIFACT_S3_PATH_STYLE", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.LLMAPIKey != "together-key" {
		t.Fatalf("expected TOGETHER_API_KEY fallback, got %q", cfg.LLMAPIKey)
	}
	if cfg.RenderTimeout != 45*time.Second {
		t.Fatalf("expected 45s, got %s", cfg.RenderTimeout)
	}
	if cfg.RenderMaxOutputBytes != 2048 {
		t.Fatalf("expected 2048, got %d", cfg.RenderMaxOutputBytes)
	}
	if !cfg.ArtifactS3PathStyle {
		t.Fatalf("expected path style enabled")
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected invalid int to fall back to default, got %d", cfg.RedisDB)
	}
}

func TestDevelopment(t *testing.T) {
	for env, want := range map[string]bool{"dev": true, "Local": true, "development": true, "production": false, "staging": false} {
		if got := (Config{Env: env}).Development(); got != want {
			t.Fatalf("env %q: expected %v, got %v", env, want, got)
		}
	}
}
