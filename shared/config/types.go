package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	Environment string
	ServiceName string
	Version     string
	LogLevel    string
	LogFormat   string

	// Component configurations
	Itch          ItchConfig
	HTTP          HTTPConfig
	Retry         RetryConfig
	Download      DownloadConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
}

// ItchConfig holds the catalog endpoints and credentials
type ItchConfig struct {
	APIKey     string
	APIBaseURL string
	WebBaseURL string
	Profile    string
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string

	// RateLimit is the sustained request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// RetryConfig holds retry policy configuration
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DownloadConfig holds settings for a single download run
type DownloadConfig struct {
	Dir              string
	Parallel         int
	MetadataParallel int
	SavePage         bool
	WriteMetadata    bool
	URLsOnly         bool
	FilterGlob       string
	FilterRegex      string
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Provider   string
	Timeout    time.Duration
	MaxRetries int
	S3         S3Config
}

// S3Config holds the S3 sink settings
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ObservabilityConfig selects the metrics adapter
type ObservabilityConfig struct {
	MetricsProvider string
	MetricsFile     string
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ServiceName == "" {
		errors = append(errors, "SERVICE_NAME is required")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	if c.Itch.APIBaseURL == "" || c.Itch.WebBaseURL == "" {
		errors = append(errors, "ITCH_API_BASE_URL and ITCH_WEB_BASE_URL are required")
	}

	// Range validations
	if c.HTTP.Timeout <= 0 {
		errors = append(errors, "HTTP_TIMEOUT must be positive")
	}
	if c.HTTP.RateLimit < 0 {
		errors = append(errors, "HTTP_RATE_LIMIT cannot be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		errors = append(errors, "RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		errors = append(errors, "RETRY_BACKOFF_MULTIPLIER must be >= 1.0")
	}
	if c.Download.Parallel < 1 {
		errors = append(errors, "parallel must be at least 1")
	}
	if c.Download.MetadataParallel < 1 {
		errors = append(errors, "metadata parallelism must be at least 1")
	}
	if c.Download.FilterRegex != "" {
		if _, err := regexp.Compile(c.Download.FilterRegex); err != nil {
			errors = append(errors, fmt.Sprintf("filter_files_regex is invalid: %v", err))
		}
	}

	switch c.Storage.Provider {
	case "filesystem":
		if c.Download.Dir == "" {
			errors = append(errors, "download_to is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errors = append(errors, "S3_BUCKET is required for s3 storage")
		}
	default:
		errors = append(errors, fmt.Sprintf("unsupported storage provider: %q", c.Storage.Provider))
	}

	switch c.Observability.MetricsProvider {
	case "noop", "stdout", "prometheus":
	default:
		errors = append(errors, fmt.Sprintf("unsupported metrics provider: %q", c.Observability.MetricsProvider))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// Environment detection methods

// IsLocal returns true if running in local/development environment
func (c *Config) IsLocal() bool {
	env := strings.ToLower(c.Environment)
	return env == "local" || env == "development" || env == "dev"
}

// IsTest returns true if running in test environment
func (c *Config) IsTest() bool {
	env := strings.ToLower(c.Environment)
	return env == "test" || env == "testing"
}

// IsVerbose reports whether debug logging is enabled
func (c *Config) IsVerbose() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}
