package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatlink/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
	Auth           Auth   `toml:"auth"`
}

// Server holds the backend endpoints the daemon connects to.
type Server struct {
	// BaseURL is the HTTP origin of the chat backend, e.g. "https://chat.example.com".
	// The websocket endpoints are derived from it.
	BaseURL string `toml:"base_url"`
	// MessagingPath and PresencePath override the default websocket paths.
	MessagingPath string `toml:"messaging_path"`
	PresencePath  string `toml:"presence_path"`
}

// Auth holds the stored credentials for the session.
type Auth struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
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
