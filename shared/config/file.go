package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// fileSettings is the on-disk shape of config.json and profile files.
// Keys that are absent leave the lower layer untouched.
type fileSettings struct {
	APIKey           *string `json:"api_key"`
	UserAgent        *string `json:"user_agent"`
	DownloadTo       *string `json:"download_to"`
	MirrorWeb        *bool   `json:"mirror_web"`
	URLsOnly         *bool   `json:"urls_only"`
	Parallel         *int    `json:"parallel"`
	FilterFilesGlob  *string `json:"filter_files_glob"`
	FilterFilesRegex *string `json:"filter_files_regex"`
	Verbose          *bool   `json:"verbose"`
}

// applySettingsFile overlays the JSON settings stored at path. A missing file
// is not an error.
func applySettingsFile(cfg *Config, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var s fileSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return false, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	s.apply(cfg)
	return true, nil
}

func (s *fileSettings) apply(cfg *Config) {
	if s.APIKey != nil {
		cfg.Itch.APIKey = *s.APIKey
	}
	if s.UserAgent != nil {
		cfg.HTTP.UserAgent = *s.UserAgent
	}
	if s.DownloadTo != nil {
		cfg.Download.Dir = *s.DownloadTo
	}
	if s.MirrorWeb != nil {
		cfg.Download.SavePage = *s.MirrorWeb
	}
	if s.URLsOnly != nil {
		cfg.Download.URLsOnly = *s.URLsOnly
	}
	if s.Parallel != nil {
		cfg.Download.Parallel = *s.Parallel
	}
	if s.FilterFilesGlob != nil {
		cfg.Download.FilterGlob = *s.FilterFilesGlob
	}
	if s.FilterFilesRegex != nil {
		cfg.Download.FilterRegex = *s.FilterFilesRegex
	}
	if s.Verbose != nil && *s.Verbose {
		cfg.LogLevel = "debug"
	}
}
