package config

import "time"

const (
	DefaultAPIBaseURL = "https://api.itch.io"
	DefaultWebBaseURL = "https://itch.io"
)

// DefaultItchConfig returns the public itch.io endpoints
func DefaultItchConfig() ItchConfig {
	return ItchConfig{
		APIBaseURL: DefaultAPIBaseURL,
		WebBaseURL: DefaultWebBaseURL,
	}
}

// DefaultHTTPConfig returns sensible defaults for HTTP client configuration
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:   120 * time.Second,
		UserAgent: "itchdl/1.0",
		RateLimit: 4,
		RateBurst: 4,
	}
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DefaultDownloadConfig returns sensible defaults for a download run
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		Dir:              ".",
		Parallel:         4,
		MetadataParallel: 4,
		WriteMetadata:    true,
	}
}

// DefaultStorageConfig returns sensible defaults for storage configuration
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Provider:   "filesystem",
		Timeout:    5 * time.Minute,
		MaxRetries: 3,
		S3:         DefaultS3Config(),
	}
}

// DefaultS3Config returns sensible defaults for S3 configuration
func DefaultS3Config() S3Config {
	return S3Config{
		Region: "us-east-1",
	}
}

// DefaultObservabilityConfig logs to stdout without metrics
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		MetricsProvider: "noop",
	}
}

// DefaultConfig returns a complete configuration with sensible defaults.
// It is the bottom layer of Load and a convenient starting point in tests.
func DefaultConfig() *Config {
	return &Config{
		Environment: "local",
		ServiceName: "itchdl",
		Version:     "1.0.0",
		LogLevel:    "info",
		LogFormat:   "text",

		Itch:          DefaultItchConfig(),
		HTTP:          DefaultHTTPConfig(),
		Retry:         DefaultRetryConfig(),
		Download:      DefaultDownloadConfig(),
		Storage:       DefaultStorageConfig(),
		Observability: DefaultObservabilityConfig(),
	}
}
