package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "tutorchat"
	// DefaultMaxAttachmentBytes is the attachment size ceiling (10 MiB).
	DefaultMaxAttachmentBytes = 10 * 1024 * 1024
	// DefaultReadDwellMillis delays mark-read after the transcript changes.
	DefaultReadDwellMillis = 1000
	// DefaultSearchDebounceMillis delays conversation search filtering.
	DefaultSearchDebounceMillis = 300
	// DefaultReconnectInitialMillis is the first reconnect delay.
	DefaultReconnectInitialMillis = 500
	// DefaultReconnectMaxMillis caps a single reconnect delay.
	DefaultReconnectMaxMillis = 30_000
	// DefaultReconnectBudgetMillis bounds total time spent reconnecting.
	DefaultReconnectBudgetMillis = 120_000
	// DefaultHistoryPageLimit bounds how many history pages are fetched per switch.
	DefaultHistoryPageLimit = 5
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// Environment variables that override persisted values.
const (
	EnvDataDir    = "TUTORCHAT_DATA_DIR"
	EnvAPIBase    = "TUTORCHAT_API_BASE"
	EnvSocketBase = "TUTORCHAT_SOCKET_BASE"
	EnvToken      = "TUTORCHAT_TOKEN"
	EnvLogLevel   = "TUTORCHAT_LOG_LEVEL"
	EnvEmail      = "TUTORCHAT_EMAIL"
)

// ClientConfig contains persistent client settings. Email identifies the
// local user in chat events when the token has no email claim.
type ClientConfig struct {
	ClientID               string `json:"client_id" validate:"required"`
	APIBaseURL             string `json:"api_base_url" validate:"omitempty,url"`
	SocketBaseURL          string `json:"socket_base_url" validate:"omitempty,url"`
	TokenPath              string `json:"token_path"`
	Email                  string `json:"email,omitempty" validate:"omitempty,email"`
	PreviewDir             string `json:"preview_dir" validate:"required"`
	MaxAttachmentBytes     int64  `json:"max_attachment_bytes" validate:"gt=0"`
	ReadDwellMillis        int    `json:"read_dwell_ms" validate:"gt=0"`
	SearchDebounceMillis   int    `json:"search_debounce_ms" validate:"gte=0"`
	ReconnectInitialMillis int    `json:"reconnect_initial_ms" validate:"gt=0"`
	ReconnectMaxMillis     int    `json:"reconnect_max_ms" validate:"gtefield=ReconnectInitialMillis"`
	ReconnectBudgetMillis  int    `json:"reconnect_budget_ms" validate:"gte=0"`
	HistoryPageLimit       int    `json:"history_page_limit" validate:"gt=0"`
	DiscoverServer         bool   `json:"discover_server"`
	LogLevel               string `json:"log_level" validate:"oneof=trace debug info warn warning error"`

	// Token is read from TUTORCHAT_TOKEN or TokenPath and never persisted.
	Token string `json:"-"`
}

var validate = validator.New()

// ResolveDataDir returns the OS-aware app data directory.
//
// If TUTORCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "previews"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks field constraints after defaults and overrides are applied.
func (c *ClientConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadOrCreate ensures directories and config exist, applies .env and
// environment overrides, then returns the config and its path.
func LoadOrCreate() (*ClientConfig, string, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	return &ClientConfig{
		ClientID:               uuid.NewString(),
		TokenPath:              filepath.Join(dataDir, "token"),
		PreviewDir:             filepath.Join(dataDir, "previews"),
		MaxAttachmentBytes:     DefaultMaxAttachmentBytes,
		ReadDwellMillis:        DefaultReadDwellMillis,
		SearchDebounceMillis:   DefaultSearchDebounceMillis,
		ReconnectInitialMillis: DefaultReconnectInitialMillis,
		ReconnectMaxMillis:     DefaultReconnectMaxMillis,
		ReconnectBudgetMillis:  DefaultReconnectBudgetMillis,
		HistoryPageLimit:       DefaultHistoryPageLimit,
		LogLevel:               DefaultLogLevel,
	}
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false
	defaults := defaultConfig(dataDir)

	if cfg.ClientID == "" {
		cfg.ClientID = defaults.ClientID
		updated = true
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = defaults.TokenPath
		updated = true
	}
	if cfg.PreviewDir == "" {
		cfg.PreviewDir = defaults.PreviewDir
		updated = true
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = defaults.MaxAttachmentBytes
		updated = true
	}
	if cfg.ReadDwellMillis <= 0 {
		cfg.ReadDwellMillis = defaults.ReadDwellMillis
		updated = true
	}
	if cfg.SearchDebounceMillis < 0 {
		cfg.SearchDebounceMillis = defaults.SearchDebounceMillis
		updated = true
	}
	if cfg.ReconnectInitialMillis <= 0 {
		cfg.ReconnectInitialMillis = defaults.ReconnectInitialMillis
		updated = true
	}
	if cfg.ReconnectMaxMillis < cfg.ReconnectInitialMillis {
		cfg.ReconnectMaxMillis = max(defaults.ReconnectMaxMillis, cfg.ReconnectInitialMillis)
		updated = true
	}
	if cfg.ReconnectBudgetMillis < 0 {
		cfg.ReconnectBudgetMillis = defaults.ReconnectBudgetMillis
		updated = true
	}
	if cfg.HistoryPageLimit <= 0 {
		cfg.HistoryPageLimit = defaults.HistoryPageLimit
		updated = true
	}
	if level := normalizeLogLevel(cfg.LogLevel); level != cfg.LogLevel {
		cfg.LogLevel = level
		updated = true
	}

	return updated
}

func applyEnvOverrides(cfg *ClientConfig) error {
	if v := strings.TrimSpace(os.Getenv(EnvAPIBase)); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSocketBase)); v != "" {
		cfg.SocketBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = normalizeLogLevel(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvEmail)); v != "" {
		cfg.Email = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Token = v
		return nil
	}
	if cfg.TokenPath == "" {
		return nil
	}
	raw, err := os.ReadFile(cfg.TokenPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read token: %w", err)
	}
	cfg.Token = strings.TrimSpace(string(raw))
	return nil
}

func normalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return strings.ToLower(strings.TrimSpace(level))
	default:
		return DefaultLogLevel
	}
}
