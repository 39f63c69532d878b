package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases"`
	Redis       RedisConfig               `json:"redis" toml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" toml:"providers"`
}

// ProviderConfig overrides catalog defaults for one provider. APIKey is a
// process-wide fallback used when a user has not stored a credential.
type ProviderConfig struct {
	BaseURL string `json:"base_url" toml:"base_url"`
	Model   string `json:"model" toml:"model"`
	APIKey  string `json:"api_key" toml:"api_key"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address" toml:"server_address"`
	MinWorkers         int    `json:"min_workers" toml:"min_workers"`
	MaxWorkers         int    `json:"max_workers" toml:"max_workers"`
	QueueSize          int    `json:"queue_size" toml:"queue_size"`
	WorkerIdleTimeout  int    `json:"worker_idle_timeout" toml:"worker_idle_timeout"` // minutes
	StreamTimeout      int    `json:"stream_timeout" toml:"stream_timeout"`           // seconds
	TokenTTL           int    `json:"token_ttl" toml:"token_ttl"`                     // hours
	SynthesisThreshold int    `json:"synthesis_threshold" toml:"synthesis_threshold"`
	Timezone           string `json:"timezone" toml:"timezone"`
	LogLevel           string `json:"log_level" toml:"log_level"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DBName   string `json:"db_name" toml:"db_name"`
	Params   string `json:"params" toml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DB       int    `json:"db" toml:"db"`
	Disabled bool   `json:"disabled" toml:"disabled"`
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .toml are decoded as TOML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(absPath), ".toml") {
		if _, err := toml.DecodeFile(absPath, &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", absPath, err)
		}
	} else {
		file, err := os.Open(absPath)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", absPath, err)
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	// relative sqlite files live next to the config file
	for name, db := range cfg.Databases {
		if strings.HasPrefix(name, "sqlite") && db.DSN != "" && db.DSN != ":memory:" &&
			!strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	if cfg.BasicConfig.Timezone != "" {
		if _, err := time.LoadLocation(cfg.BasicConfig.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.BasicConfig.Timezone, err)
		}
	}

	return &cfg, nil
}

// Location returns the configured timezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	if c == nil || c.BasicConfig.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.BasicConfig.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Provider returns the override block for a provider id, zero value when absent.
func (c *Config) Provider(id string) ProviderConfig {
	if c == nil || c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[id]
}
