// Package config provides configuration management for the gateway.
//
// Configuration is read once at process start and handed to components as an
// explicit *Config; no component reads environment variables after Load
// returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultPort          = "8080"
	DefaultModel         = "openai/gpt-oss-120b-maas"
	DefaultAuthMode      = "bearer"
	DefaultBodySizeLimit = "10M"

	// DefaultWorkspaceImage is the image used for workspace containers.
	DefaultWorkspaceImage = "gcr.io/project/agent"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Toolbox   ToolboxConfig
	Metrics   MetricsConfig
	Memory    MemoryConfig
	Workspace WorkspaceConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port          string
	BodySizeLimit string
}

// UpstreamConfig selects the inference backend and its authentication.
//
// Exactly which URL wins is decided by the upstream resolver: PredictURL
// takes precedence over ChatCompletionsURL, which takes precedence over
// BaseURL joined with the fixed chat-completions path.
type UpstreamConfig struct {
	PredictURL         string
	ChatCompletionsURL string
	BaseURL            string
	DefaultModel       string

	// AuthMode is one of "bearer", "gcloud" or "none".
	AuthMode    string
	APIKey      string
	AccessToken string
}

// ToolboxConfig points the named-tool passthrough at a toolbox service.
type ToolboxConfig struct {
	BaseURL string
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// MemoryConfig configures the agent memory subsystem.
type MemoryConfig struct {
	Enabled bool

	// PostgresURL is the pgx connection string for the document store.
	PostgresURL string

	// RedisURL enables the distributed retrieved-context cache. When empty
	// a local file cache is used instead (CachePath), or no cache at all.
	RedisURL  string
	CachePath string
	CacheTTL  time.Duration
}

// WorkspaceConfig configures the compute-container lifecycle manager.
type WorkspaceConfig struct {
	Enabled bool
	Image   string

	// Bucket is the remote storage bucket backing workspace volumes.
	Bucket string
}

// LoggingConfig controls process log output.
type LoggingConfig struct {
	// Pretty switches from JSON logs to colorized tint output for local
	// development.
	Pretty bool
	Level  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	// Optional; absence of a .env file is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", DefaultPort),
			BodySizeLimit: getEnv("BODY_SIZE_LIMIT", DefaultBodySizeLimit),
		},
		Upstream: UpstreamConfig{
			PredictURL:         strings.TrimRight(os.Getenv("UPSTREAM_PREDICT_URL"), "/"),
			ChatCompletionsURL: strings.TrimRight(os.Getenv("UPSTREAM_CHAT_COMPLETIONS_URL"), "/"),
			BaseURL:            strings.TrimRight(os.Getenv("UPSTREAM_API_BASE_URL"), "/"),
			DefaultModel:       getEnv("UPSTREAM_DEFAULT_MODEL", DefaultModel),
			AuthMode:           strings.ToLower(getEnv("UPSTREAM_AUTH", DefaultAuthMode)),
			APIKey:             os.Getenv("UPSTREAM_API_KEY"),
			AccessToken:        os.Getenv("GOOGLE_ACCESS_TOKEN"),
		},
		Toolbox: ToolboxConfig{
			BaseURL: strings.TrimRight(os.Getenv("GENAI_TOOLBOX_URL"), "/"),
		},
		Metrics: MetricsConfig{
			Enabled:  getEnvBool("METRICS_ENABLED", false),
			Endpoint: getEnv("METRICS_ENDPOINT", "/metrics"),
		},
		Memory: MemoryConfig{
			Enabled:     getEnvBool("MEMORY_ENABLED", false),
			PostgresURL: os.Getenv("MEMORY_POSTGRES_URL"),
			RedisURL:    os.Getenv("MEMORY_REDIS_URL"),
			CachePath:   os.Getenv("MEMORY_CACHE_PATH"),
			CacheTTL:    getEnvDuration("MEMORY_CACHE_TTL", 15*time.Minute),
		},
		Workspace: WorkspaceConfig{
			Enabled: getEnvBool("WORKSPACE_ENABLED", false),
			Image:   getEnv("WORKSPACE_IMAGE", DefaultWorkspaceImage),
			Bucket:  os.Getenv("GCS_BUCKET"),
		},
		Logging: LoggingConfig{
			Pretty: getEnvBool("LOG_PRETTY", false),
			Level:  getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations that can never serve a request. Upstream
// URL and credential validation is deferred to the resolver so that a broken
// upstream block surfaces as a 503 per request rather than preventing the
// process from starting its health endpoint.
func (c *Config) validate() error {
	if c.Memory.Enabled && c.Memory.PostgresURL == "" {
		return fmt.Errorf("MEMORY_ENABLED requires MEMORY_POSTGRES_URL")
	}
	return nil
}

// getEnv reads a string variable, returning the default if unset or blank.
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvBool reads a boolean variable ("true", "1", "yes" are truthy).
func getEnvBool(key string, defaultVal bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1" || v == "yes"
}

// getEnvDuration reads a duration variable. Plain integers are interpreted
// as seconds; otherwise Go duration syntax applies (e.g. "10m").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
