package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	OnStart  *bool  `json:"on_start,omitempty"` // nil = default true
	Interval string `json:"interval,omitempty"` // duration string, default "60s"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL           string         `json:"url"`
	PushBatchSize *int           `json:"push_batch_size,omitempty"`
	PullLimit     *int           `json:"pull_limit,omitempty"`
	MaxPullPages  *int           `json:"max_pull_pages,omitempty"`
	Auto          AutoSyncConfig `json:"auto"`
}

// Config is the global crate config stored at ~/.config/crate/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/crate/auth.json.
// The refresh token is the out-of-band credential presented to the auth
// gateway's refresh endpoint; access tokens are never persisted.
type AuthCredentials struct {
	UserID       string `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
	ServerURL    string `json:"server_url"`
	DeviceID     string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/crate, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "crate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/crate/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/crate/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials from ~/.config/crate/auth.json.
// Returns nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to ~/.config/crate/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: CRATE_SYNC_URL env > auth.json > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("CRATE_SYNC_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetRefreshToken returns the refresh token.
// Priority: CRATE_REFRESH_TOKEN env > auth.json.
func GetRefreshToken() string {
	if v := os.Getenv("CRATE_REFRESH_TOKEN"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.RefreshToken
	}
	return ""
}

// IsAuthenticated returns true if a refresh token is available.
func IsAuthenticated() bool {
	return GetRefreshToken() != ""
}

// GetDeviceID returns the device ID from auth.json, generating one if needed.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	return GenerateDeviceID()
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func intSetting(envKey string, fromConfig func(*Config) *int, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if cfg, err := LoadConfig(); err == nil {
		if p := fromConfig(cfg); p != nil && *p > 0 {
			return *p
		}
	}
	return def
}

// GetPushBatchSize returns the max ops sent per push request.
// Priority: CRATE_SYNC_PUSH_BATCH env > config.json > 100.
func GetPushBatchSize() int {
	return intSetting("CRATE_SYNC_PUSH_BATCH", func(c *Config) *int { return c.Sync.PushBatchSize }, 100)
}

// GetPullLimit returns the page size requested on pull.
// Priority: CRATE_SYNC_PULL_LIMIT env > config.json > 200.
func GetPullLimit() int {
	return intSetting("CRATE_SYNC_PULL_LIMIT", func(c *Config) *int { return c.Sync.PullLimit }, 200)
}

// GetMaxPullPages returns the per-cycle pull page budget.
// Priority: CRATE_SYNC_MAX_PULL_PAGES env > config.json > 10.
func GetMaxPullPages() int {
	return intSetting("CRATE_SYNC_MAX_PULL_PAGES", func(c *Config) *int { return c.Sync.MaxPullPages }, 10)
}

func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	switch v {
	case "1", "true":
		b := true
		return &b
	case "0", "false":
		b := false
		return &b
	}
	return nil
}

// GetAutoSyncEnabled returns whether auto-sync after mutations is enabled.
// Priority: CRATE_SYNC_AUTO env > config.json sync.auto.enabled > true.
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("CRATE_SYNC_AUTO"); v != nil {
		return *v
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: CRATE_SYNC_AUTO_INTERVAL env > config.json sync.auto.interval > 60s.
func GetAutoSyncInterval() time.Duration {
	if v := os.Getenv("CRATE_SYNC_AUTO_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.Auto.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Auto.Interval); err == nil {
			return d
		}
	}
	return 60 * time.Second
}
