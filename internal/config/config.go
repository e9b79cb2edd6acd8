package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.convo/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Service        Service `toml:"service"`
}

// Service holds the vendor chat service credentials and tuning.
type Service struct {
	BaseURL   string `toml:"base_url"`
	AppID     string `toml:"app_id"`
	Region    string `toml:"region"`
	APIKey    string `toml:"api_key"`
	UserID    string `toml:"user_id"`
	AuthToken string `toml:"auth_token"`
	PageSize  int    `toml:"page_size"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// applyEnv overlays CONVO_* environment variables over the file values,
// loading a .env file first if one is present. Credentials usually live
// in the environment rather than on disk.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	overlay := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay("CONVO_BASE_URL", &c.Service.BaseURL)
	overlay("CONVO_APP_ID", &c.Service.AppID)
	overlay("CONVO_REGION", &c.Service.Region)
	overlay("CONVO_API_KEY", &c.Service.APIKey)
	overlay("CONVO_USER_ID", &c.Service.UserID)
	overlay("CONVO_AUTH_TOKEN", &c.Service.AuthToken)
	if v := os.Getenv("CONVO_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Service.PageSize = n
		}
	}
}
