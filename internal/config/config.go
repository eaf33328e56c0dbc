// Package config loads the lens configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config captures everything lens needs to talk to the govision API and to
// write annotated artifacts.
type Config struct {
	APIBaseURL        string
	PollInterval      time.Duration
	UploadConcurrency int
	MaxUploadBytes    int64
	OutputDir         string
	AutoExport        bool
	LogFile           string
	CredentialsPath   string
}

const (
	defaultConfigPath  = "~/.config/lens/config.toml"
	defaultAPIBaseURL  = "http://localhost:8080/v1"
	defaultOutputDir   = "~/Downloads"
	defaultLogFile     = "~/.local/share/lens/lens.log"
	defaultPollSeconds = 3
	defaultConcurrency = 3
	defaultMaxBytes    = 5 << 20
)

// Load locates and parses the config file, falling back to defaults when it
// is missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := defaults()

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		APIBaseURL        string `toml:"api_base_url"`
		PollSeconds       int    `toml:"poll_interval_seconds"`
		UploadConcurrency int    `toml:"upload_concurrency"`
		MaxUploadBytes    int64  `toml:"max_upload_bytes"`
		OutputDir         string `toml:"output_dir"`
		AutoExport        *bool  `toml:"auto_export"`
		LogFile           string `toml:"log_file"`
		CredentialsPath   string `toml:"credentials_path"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.APIBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	if raw.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(raw.PollSeconds) * time.Second
	}
	if raw.UploadConcurrency > 0 {
		cfg.UploadConcurrency = raw.UploadConcurrency
	}
	if raw.MaxUploadBytes > 0 {
		cfg.MaxUploadBytes = raw.MaxUploadBytes
	}
	if v := strings.TrimSpace(raw.OutputDir); v != "" {
		cfg.OutputDir = v
	}
	if raw.AutoExport != nil {
		cfg.AutoExport = *raw.AutoExport
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.LogFile = v
	}
	if v := strings.TrimSpace(raw.CredentialsPath); v != "" {
		cfg.CredentialsPath = v
	}

	cfg.OutputDir = mustExpand(cfg.OutputDir)
	cfg.LogFile = mustExpand(cfg.LogFile)
	return cfg, nil
}

func defaults() Config {
	return Config{
		APIBaseURL:        defaultAPIBaseURL,
		PollInterval:      defaultPollSeconds * time.Second,
		UploadConcurrency: defaultConcurrency,
		MaxUploadBytes:    defaultMaxBytes,
		OutputDir:         defaultOutputDir,
		AutoExport:        true,
		LogFile:           defaultLogFile,
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
