// Package config loads cattree settings from a YAML file with CATTREE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the cattree configuration
type Config struct {
	// Index selects the encoding the forest is maintained with
	Index string `yaml:"index" validate:"oneof=closure nested"`

	Store StoreConfig `yaml:"store"`
	Lock  LockConfig  `yaml:"lock"`
	HTTP  HTTPConfig  `yaml:"http"`
	Log   LogConfig   `yaml:"log"`
}

// StoreConfig selects and configures the row store
type StoreConfig struct {
	Driver string      `yaml:"driver" validate:"oneof=sqlite neo4j"`
	Path   string      `yaml:"path" validate:"required_if=Driver sqlite"`
	Neo4j  Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig is the connection to a Neo4j row store
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LockConfig selects the lock that serializes mutations
type LockConfig struct {
	Driver string        `yaml:"driver" validate:"oneof=local redis"`
	Redis  string        `yaml:"redis" validate:"required_if=Driver redis"`
	TTL    time.Duration `yaml:"ttl" validate:"gte=0"`
}

// HTTPConfig configures the daemon's listener
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Index: "closure",
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "cattree.db",
			Neo4j: Neo4jConfig{
				URI:      "bolt://localhost:7687",
				Username: "neo4j",
				Password: "password",
				Database: "neo4j",
			},
		},
		Lock: LockConfig{Driver: "local", TTL: 30 * time.Second},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// GetConfigPath returns the default path to the config file
func GetConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "cattree.yaml"
	}
	return filepath.Join(homeDir, ".config", "cattree", "config.yaml")
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks every field constraint
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Index = getEnv("CATTREE_INDEX", c.Index)
	c.Store.Driver = getEnv("CATTREE_STORE", c.Store.Driver)
	c.Store.Path = getEnv("CATTREE_DB", c.Store.Path)
	c.Store.Neo4j.URI = getEnv("CATTREE_NEO4J_URI", c.Store.Neo4j.URI)
	c.Store.Neo4j.Username = getEnv("CATTREE_NEO4J_USER", c.Store.Neo4j.Username)
	c.Store.Neo4j.Password = getEnv("CATTREE_NEO4J_PASSWORD", c.Store.Neo4j.Password)
	c.Store.Neo4j.Database = getEnv("CATTREE_NEO4J_DATABASE", c.Store.Neo4j.Database)
	c.Lock.Driver = getEnv("CATTREE_LOCK", c.Lock.Driver)
	c.Lock.Redis = getEnv("CATTREE_REDIS_ADDR", c.Lock.Redis)
	c.HTTP.Addr = getEnv("CATTREE_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnv("CATTREE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CATTREE_LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("CATTREE_LOCK_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CATTREE_LOCK_TTL: %w", err)
		}
		c.Lock.TTL = ttl
	}
	return nil
}

// Logger builds the slog logger the configuration describes
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// String renders the configuration for logs with the password masked
func (c *Config) String() string {
	masked := *c
	if masked.Store.Neo4j.Password != "" {
		masked.Store.Neo4j.Password = "****"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return "config: " + strconv.Quote(err.Error())
	}
	return string(data)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
