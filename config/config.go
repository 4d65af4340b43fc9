// Package config loads runtime settings from environment variables,
// with sane defaults for every subsystem, in the same envOr family of
// helpers used throughout this codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Archive     ArchiveConfig
	Engine      EngineConfig
	Retrieval   RetrievalConfig
	LiveCapture LiveCaptureConfig
	Segmenter   SegmenterConfig
	Log         LogConfig
}

// ArchiveConfig controls the archive client.
type ArchiveConfig struct {
	// Host is the archive's hostname, e.g. "web.archive.org".
	Host string // default: "web.archive.org"
}

// EngineConfig controls the metered HTTP engine shared by the archive
// client.
type EngineConfig struct {
	// Rate is the sustained request rate, per second, across the engine.
	Rate float64 // default: 2

	// Concurrency is the max in-flight acquisitions.
	Concurrency int // default: 4

	// QueryTimeout bounds a single request within a scoped acquisition.
	QueryTimeout time.Duration // default: 30s

	// ConnectTimeout bounds the TLS/TCP handshake.
	ConnectTimeout time.Duration // default: 10s

	// SessionTimeout is how long one pooled session lives before retiring.
	SessionTimeout time.Duration // default: 5m

	// SessionPoolSize is the number of rotating sessions in the engine's pool.
	SessionPoolSize int // default: 8
}

// RetrievalConfig controls the archive-backed retrieval dispatcher.
type RetrievalConfig struct {
	// Concurrency is the number of documents processed in parallel per cycle.
	Concurrency int // default: 8

	// ProgressInterval is how often the progress line is redrawn.
	ProgressInterval time.Duration // default: 2s
}

// LiveCaptureConfig controls the proxy/VPN-backed live-capture variant.
type LiveCaptureConfig struct {
	// WorkersPerLocation bounds concurrent captures per vantage point.
	WorkersPerLocation int // default: 2

	// TotalWorkers bounds concurrent captures across all vantage points.
	TotalWorkers int // default: 8

	// MaxSimultaneousProxies bounds how many vantage points run at once.
	MaxSimultaneousProxies int // default: 4

	// Headless controls whether the capture browser runs headless.
	Headless bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// SegmenterConfig controls the optional external-process segmenter.
type SegmenterConfig struct {
	// ExternalCommand is the path to an external segmenter executable.
	// Empty means only the built-in regex tokenizer is used.
	ExternalCommand string

	// ExternalArgs are arguments passed to ExternalCommand.
	ExternalArgs []string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Host: envOr("CHRONICLE_ARCHIVE_HOST", "web.archive.org"),
		},
		Engine: EngineConfig{
			Rate:            envFloatOr("CHRONICLE_ENGINE_RATE", 2),
			Concurrency:     envIntOr("CHRONICLE_ENGINE_CONCURRENCY", 4),
			QueryTimeout:    envDurationOr("CHRONICLE_ENGINE_QUERY_TIMEOUT", 30*time.Second),
			ConnectTimeout:  envDurationOr("CHRONICLE_ENGINE_CONNECT_TIMEOUT", 10*time.Second),
			SessionTimeout:  envDurationOr("CHRONICLE_ENGINE_SESSION_TIMEOUT", 5*time.Minute),
			SessionPoolSize: envIntOr("CHRONICLE_ENGINE_SESSION_POOL_SIZE", 8),
		},
		Retrieval: RetrievalConfig{
			Concurrency:      envIntOr("CHRONICLE_RETRIEVAL_CONCURRENCY", 8),
			ProgressInterval: envDurationOr("CHRONICLE_PROGRESS_INTERVAL", 2*time.Second),
		},
		LiveCapture: LiveCaptureConfig{
			WorkersPerLocation:     envIntOr("CHRONICLE_WORKERS_PER_LOCATION", 2),
			TotalWorkers:           envIntOr("CHRONICLE_TOTAL_WORKERS", 8),
			MaxSimultaneousProxies: envIntOr("CHRONICLE_MAX_SIMULTANEOUS_PROXIES", 4),
			Headless:               envBoolOr("CHRONICLE_HEADLESS", true),
			BrowserBin:             os.Getenv("CHRONICLE_BROWSER_BIN"),
		},
		Segmenter: SegmenterConfig{
			ExternalCommand: os.Getenv("CHRONICLE_SEGMENTER_CMD"),
			ExternalArgs:    envSliceOr("CHRONICLE_SEGMENTER_ARGS", nil),
		},
		Log: LogConfig{
			Level:  envOr("CHRONICLE_LOG_LEVEL", "info"),
			Format: envOr("CHRONICLE_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
