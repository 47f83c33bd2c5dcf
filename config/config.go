package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database; stats persistence and API keys are disabled when empty
	PostgresDSN string

	// Cache; artifacts, deployment rate limits and the auth cache are
	// disabled when empty
	RedisAddr string

	// Model registry
	LLMRegistryFile string
	LLMTimeout      time.Duration // default: 180s

	// Browser viewport screenshots are taken at
	BrowserWidth      int // default: 1920
	BrowserHeight     int // default: 1080
	ScreenshotScaling bool

	// Vertex AI
	VertexProject     string
	VertexLocation    string // default: us-central1
	VertexCredentials string // service account JSON
	VertexCacheTTL    time.Duration

	// Lifetimes
	CallerTTL   time.Duration // default: 2h
	ArtifactTTL time.Duration // default: 24h

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	OTELSampleRatio      float64

	RunSeed bool
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		LLMRegistryFile:      getEnv("LLM_REGISTRY_FILE", "llm_registry.yaml"),
		VertexProject:        os.Getenv("VERTEX_PROJECT"),
		VertexLocation:       getEnv("VERTEX_LOCATION", "us-central1"),
		VertexCredentials:    os.Getenv("VERTEX_CREDENTIALS"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.LLMTimeout, err = getDuration("LLM_TIMEOUT", 180*time.Second); err != nil {
		return nil, err
	}
	if cfg.VertexCacheTTL, err = getDuration("VERTEX_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CallerTTL, err = getDuration("CALLER_TTL", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ArtifactTTL, err = getDuration("ARTIFACT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.BrowserWidth, err = getInt("BROWSER_WIDTH", 1920); err != nil {
		return nil, err
	}
	if cfg.BrowserHeight, err = getInt("BROWSER_HEIGHT", 1080); err != nil {
		return nil, err
	}
	if cfg.ScreenshotScaling, err = getBool("SCREENSHOT_SCALING", true); err != nil {
		return nil, err
	}
	if cfg.RunSeed, err = getBool("RUN_SEED", false); err != nil {
		return nil, err
	}
	if cfg.OTELSampleRatio, err = getFloat("OTEL_SAMPLE_RATIO", 1); err != nil {
		return nil, err
	}

	// Validation
	if cfg.LLMTimeout <= 0 {
		return nil, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if cfg.BrowserWidth <= 0 || cfg.BrowserHeight <= 0 {
		return nil, fmt.Errorf("BROWSER_WIDTH and BROWSER_HEIGHT must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
