package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override values from the config file.
const (
	EnvOwner         = "ESCROW_OWNER"
	EnvListen        = "ESCROW_LISTEN"
	EnvAuthSecret    = "ESCROW_AUTH_SECRET"
	EnvWebhookSecret = "ESCROW_WEBHOOK_SECRET"
)

const (
	DefaultListenAddress = ":8080"
	DefaultDataDir       = "./escrow-data"
	DefaultFeeBps        = uint32(250)
)

type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	Owner         string    `toml:"Owner"`
	FeeBps        uint32    `toml:"FeeBps"`
	Environment   string    `toml:"Environment"`
	LogFile       string    `toml:"LogFile"`
	EventLogPath  string    `toml:"EventLogPath"`
	Auth          Auth      `toml:"Auth"`
	RateLimit     RateLimit `toml:"RateLimit"`
	Telemetry     Telemetry `toml:"Telemetry"`
	Webhook       Webhook   `toml:"Webhook"`
}

// Load loads the configuration from the given path. A missing file is created
// with defaults. Environment overrides are applied after decoding.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, nil
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       DefaultDataDir,
		FeeBps:        DefaultFeeBps,
		Environment:   "local",
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(cfg.EventLogPath) == "" {
		cfg.EventLogPath = filepath.Join(cfg.DataDir, "events.db")
	}
	if cfg.Auth.ClockSkew == 0 {
		cfg.Auth.ClockSkew = 30 * time.Second
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvOwner)); v != "" {
		cfg.Owner = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv(EnvAuthSecret); v != "" {
		cfg.Auth.HMACSecret = v
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		cfg.Webhook.Secret = v
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
