package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Backend BackendConfig
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Poll    PollConfig
	Graph   GraphConfig
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	Token   string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

// PollConfig holds the view cadences and the failure backoff cap.
type PollConfig struct {
	GraphActive      time.Duration
	GraphIdle        time.Duration
	Timeline         time.Duration
	RunLog           time.Duration
	MaxBackoffFactor int
}

type GraphConfig struct {
	TunnelNode string
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Poll: PollConfig{
			GraphActive:      2 * time.Second,
			GraphIdle:        5 * time.Second,
			Timeline:         5 * time.Second,
			RunLog:           3 * time.Second,
			MaxBackoffFactor: 4,
		},
		Graph: GraphConfig{
			TunnelNode: "tunnel",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: dev.opconsole.app) and the
// backend token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/opconsole/config.json
// and the token falls back to a secrets file under $XDG_DATA_HOME/opconsole.
//
// Environment variables (OPCONSOLE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const (
	secretService = "opconsole"
	tokenAccount  = "backend_token"
)

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The token is optional; a missing secret store entry is not an error.
	if cfg.Backend.Token == "" {
		if tok, err := kc.Get(secretService, tokenAccount); err == nil && tok != "" {
			cfg.Backend.Token = tok
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("missing required config: backend.base_url")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend.base_url %q: must start with http:// or https://", c.Backend.BaseURL)
	}
	if c.Poll.GraphActive <= 0 || c.Poll.GraphIdle <= 0 || c.Poll.Timeline <= 0 || c.Poll.RunLog <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poll.MaxBackoffFactor < 1 {
		return fmt.Errorf("poll.max_backoff_factor must be at least 1, got %d", c.Poll.MaxBackoffFactor)
	}
	return nil
}

// SetToken stores the backend bearer token in the platform secret store.
func SetToken(token string) error {
	return keychainSet(secretService, tokenAccount, token)
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
