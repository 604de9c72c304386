package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// AppDirName is the directory under the user config dir holding
// config.json and the profiles/ folder.
const AppDirName = "itch-dl"

// LoadOptions controls where Load looks for settings
type LoadOptions struct {
	// ConfigDir overrides <user config dir>/itch-dl.
	ConfigDir string
	// Profile names a file under ConfigDir/profiles. Falls back to ITCHDL_PROFILE.
	Profile string
	// EnvDir is where .env files are looked up. Empty means the working directory.
	EnvDir string
}

// Load builds the configuration from, lowest precedence first: defaults,
// config.json, the selected profile, .env files and the process environment.
// Command line flags are applied by the caller before Validate.
func Load(opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()

	// .env files only feed the environment; they are applied in parseEnv
	if err := loadEnvFiles(opts.EnvDir); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = DefaultConfigDir(); err != nil {
			return nil, err
		}
	}

	if _, err := applySettingsFile(cfg, filepath.Join(dir, "config.json")); err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile == "" {
		profile = os.Getenv("ITCHDL_PROFILE")
	}
	if profile != "" {
		found, err := applySettingsFile(cfg, filepath.Join(dir, "profiles", profile))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("profile %q not found in %s", profile, filepath.Join(dir, "profiles"))
		}
		cfg.Itch.Profile = profile
	}

	parseEnv(cfg)

	return cfg, nil
}

// DefaultConfigDir returns the platform config location for itch-dl
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// loadEnvFiles loads .env files without overriding variables that are
// already set. Files are read most specific first, so .env.local beats
// .env.<environment>, which beats .env, and the real environment beats all.
func loadEnvFiles(dir string) error {
	files := []string{filepath.Join(dir, ".env.local")}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		files = append(files, filepath.Join(dir, fmt.Sprintf(".env.%s", env)))
	}
	files = append(files, filepath.Join(dir, ".env"))

	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", filepath.Base(file), err)
		}
	}

	return nil
}
