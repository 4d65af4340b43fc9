package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Archive.Host != "web.archive.org" {
		t.Errorf("Archive.Host = %q", cfg.Archive.Host)
	}
	if cfg.Engine.Concurrency != 4 {
		t.Errorf("Engine.Concurrency = %d, want 4", cfg.Engine.Concurrency)
	}
	if cfg.Retrieval.Concurrency != 8 {
		t.Errorf("Retrieval.Concurrency = %d, want 8", cfg.Retrieval.Concurrency)
	}
	if cfg.LiveCapture.Headless != true {
		t.Errorf("LiveCapture.Headless = %v, want true", cfg.LiveCapture.Headless)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("CHRONICLE_ARCHIVE_HOST", "archive.example.org")
	t.Setenv("CHRONICLE_RETRIEVAL_CONCURRENCY", "16")
	t.Setenv("CHRONICLE_ENGINE_QUERY_TIMEOUT", "45s")
	t.Setenv("CHRONICLE_HEADLESS", "false")
	t.Setenv("CHRONICLE_SEGMENTER_ARGS", "--fast, --lang=en")

	cfg := Load()

	if cfg.Archive.Host != "archive.example.org" {
		t.Errorf("Archive.Host = %q", cfg.Archive.Host)
	}
	if cfg.Retrieval.Concurrency != 16 {
		t.Errorf("Retrieval.Concurrency = %d, want 16", cfg.Retrieval.Concurrency)
	}
	if cfg.Engine.QueryTimeout != 45*time.Second {
		t.Errorf("Engine.QueryTimeout = %v, want 45s", cfg.Engine.QueryTimeout)
	}
	if cfg.LiveCapture.Headless {
		t.Error("LiveCapture.Headless = true, want false")
	}
	if want := []string{"--fast", "--lang=en"}; len(cfg.Segmenter.ExternalArgs) != len(want) ||
		cfg.Segmenter.ExternalArgs[0] != want[0] || cfg.Segmenter.ExternalArgs[1] != want[1] {
		t.Errorf("Segmenter.ExternalArgs = %v, want %v", cfg.Segmenter.ExternalArgs, want)
	}
}

func TestLoadIgnoresMalformedNumericOverride(t *testing.T) {
	t.Setenv("CHRONICLE_ENGINE_CONCURRENCY", "not-a-number")

	cfg := Load()
	if cfg.Engine.Concurrency != 4 {
		t.Errorf("Engine.Concurrency = %d, want fallback 4 on malformed input", cfg.Engine.Concurrency)
	}
}
