package config

// parseEnv overlays environment variables on cfg. Values already present in
// cfg act as defaults, so earlier layers survive unless a variable is set.
func parseEnv(cfg *Config) {
	// Core
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.Version = getEnv("SERVICE_VERSION", cfg.Version)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	if getBool("ITCHDL_VERBOSE", false) {
		cfg.LogLevel = "debug"
	}

	// Catalog
	cfg.Itch.APIKey = getEnv("ITCHDL_API_KEY", cfg.Itch.APIKey)
	cfg.Itch.APIBaseURL = getEnv("ITCH_API_BASE_URL", cfg.Itch.APIBaseURL)
	cfg.Itch.WebBaseURL = getEnv("ITCH_WEB_BASE_URL", cfg.Itch.WebBaseURL)

	// HTTP Client
	cfg.HTTP.Timeout = getDuration("HTTP_TIMEOUT", cfg.HTTP.Timeout)
	cfg.HTTP.UserAgent = getEnv("ITCHDL_USER_AGENT", getEnv("HTTP_USER_AGENT", cfg.HTTP.UserAgent))
	cfg.HTTP.RateLimit = getFloat64("HTTP_RATE_LIMIT", cfg.HTTP.RateLimit)
	cfg.HTTP.RateBurst = getInt("HTTP_RATE_BURST", cfg.HTTP.RateBurst)

	// Retry
	cfg.Retry.MaxAttempts = getInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.InitialBackoff = getDuration("RETRY_INITIAL_BACKOFF", cfg.Retry.InitialBackoff)
	cfg.Retry.MaxBackoff = getDuration("RETRY_MAX_BACKOFF", cfg.Retry.MaxBackoff)
	cfg.Retry.BackoffMultiplier = getFloat64("RETRY_BACKOFF_MULTIPLIER", cfg.Retry.BackoffMultiplier)

	// Download
	cfg.Download.Dir = getEnv("ITCHDL_DOWNLOAD_TO", cfg.Download.Dir)
	cfg.Download.Parallel = getInt("ITCHDL_PARALLEL", cfg.Download.Parallel)
	cfg.Download.MetadataParallel = getInt("ITCHDL_METADATA_PARALLEL", cfg.Download.MetadataParallel)
	cfg.Download.SavePage = getBool("ITCHDL_SAVE_PAGE", cfg.Download.SavePage)
	cfg.Download.WriteMetadata = getBool("ITCHDL_WRITE_METADATA", cfg.Download.WriteMetadata)
	cfg.Download.URLsOnly = getBool("ITCHDL_URLS_ONLY", cfg.Download.URLsOnly)
	cfg.Download.FilterGlob = getEnv("ITCHDL_FILTER_GLOB", cfg.Download.FilterGlob)
	cfg.Download.FilterRegex = getEnv("ITCHDL_FILTER_REGEX", cfg.Download.FilterRegex)

	// Storage
	cfg.Storage.Provider = getEnv("STORAGE_PROVIDER", cfg.Storage.Provider)
	cfg.Storage.Timeout = getDuration("STORAGE_TIMEOUT", cfg.Storage.Timeout)
	cfg.Storage.MaxRetries = getInt("STORAGE_MAX_RETRIES", cfg.Storage.MaxRetries)
	cfg.Storage.S3.Region = getEnv("AWS_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.Bucket = getEnv("S3_BUCKET", cfg.Storage.S3.Bucket)
	cfg.Storage.S3.Prefix = getEnv("S3_PREFIX", cfg.Storage.S3.Prefix)
	cfg.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.Storage.S3.SecretAccessKey)

	// Observability
	cfg.Observability.MetricsProvider = getEnv("METRICS_PROVIDER", cfg.Observability.MetricsProvider)
	cfg.Observability.MetricsFile = getEnv("METRICS_FILE", cfg.Observability.MetricsFile)
}
