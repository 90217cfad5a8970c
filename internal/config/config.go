// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Remote catalog backends.
const (
	RemoteGitHub = "github"
	RemoteS3     = "s3"
	RemoteNone   = "none"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all workflowd configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Local workflows
	WorkflowDir string
	WatchLocal  bool

	// Remote workflows ("github", "s3" or "none")
	RemoteBackend     string
	RemoteBasePath    string
	CloudRequiresAuth bool

	GitHubOwner  string
	GitHubRepo   string
	GitHubBranch string
	GitHubToken  string
	GitHubAPIURL string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Remote cache ("memory" or "redis")
	CacheBackend  string
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	AuthEnabled    bool
	DatabaseURL    string
	JWTSecret      string
	TokenTTL       time.Duration
	AuthRatePerMin int

	// Entitlements
	PackagesFile   string
	TrialDays      int
	StarterPackage string
	MemberCatalog  bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8188"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		WorkflowDir:       envOr("WORKFLOW_DIR", "./workflows"),
		WatchLocal:        envBool("WATCH_LOCAL", true),
		RemoteBackend:     strings.ToLower(envOr("REMOTE_BACKEND", RemoteNone)),
		RemoteBasePath:    envOr("REMOTE_BASE_PATH", "workflows"),
		CloudRequiresAuth: envBool("CLOUD_REQUIRES_AUTH", true),
		GitHubOwner:       envOr("GITHUB_OWNER", ""),
		GitHubRepo:        envOr("GITHUB_REPO", ""),
		GitHubBranch:      envOr("GITHUB_BRANCH", ""),
		GitHubToken:       envOr("GITHUB_TOKEN", ""),
		GitHubAPIURL:      envOr("GITHUB_API_URL", "https://api.github.com"),
		S3Endpoint:        envOr("S3_ENDPOINT", ""),
		S3Bucket:          envOr("S3_BUCKET", ""),
		S3AccessKey:       envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:       envOr("S3_SECRET_KEY", ""),
		S3Region:          envOr("S3_REGION", "us-east-1"),
		CacheBackend:      strings.ToLower(envOr("CACHE_BACKEND", CacheMemory)),
		CacheTTL:          envDuration("CACHE_TTL", time.Hour),
		RedisAddr:         envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     envOr("REDIS_PASSWORD", ""),
		RedisDB:           envInt("REDIS_DB", 0),
		AuthEnabled:       envBool("AUTH_ENABLED", true),
		DatabaseURL:       envOr("DATABASE_URL", "workflowd.db"),
		JWTSecret:         envOr("JWT_SECRET", ""),
		TokenTTL:          envDuration("TOKEN_TTL", 7*24*time.Hour),
		AuthRatePerMin:    envInt("AUTH_RATE_PER_MIN", 20),
		PackagesFile:      envOr("PACKAGES_FILE", ""),
		TrialDays:         envInt("TRIAL_DAYS", 7),
		StarterPackage:    envOr("STARTER_PACKAGE", "starter"),
		MemberCatalog:     envBool("MEMBER_CATALOG", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	switch c.RemoteBackend {
	case RemoteNone:
	case RemoteGitHub:
		if c.GitHubOwner == "" || c.GitHubRepo == "" {
			return fmt.Errorf("GITHUB_OWNER and GITHUB_REPO are required for the github backend")
		}
	case RemoteS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.RemoteBackend)
	}

	switch c.CacheBackend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}

	if c.AuthEnabled && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED is true")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

// envDuration accepts Go durations ("90m") or plain seconds ("3600").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
