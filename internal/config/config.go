// Package config manages revdb configuration: the revdb.toml file in the
// data directory, environment overrides and logger construction.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/kilupskalvis/revdb/internal/blobstore"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile     = "revdb.toml"
	DefaultDataDir = "revdb-data"
)

// Environment variables that override the file.
const (
	EnvDataDir   = "REVDB_DATA_DIR"
	EnvLogLevel  = "REVDB_LOG_LEVEL"
	EnvLogFormat = "REVDB_LOG_FORMAT"
)

// Config represents the revdb configuration
type Config struct {
	DataDir             string `toml:"data_dir"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
	BigAttachmentLength int64  `toml:"big_attachment_length"`
	Digest              string `toml:"digest"`
	DocIDCacheSize      int    `toml:"doc_id_cache_size"`
	path                string // file the config was loaded from
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:             DefaultDataDir,
		LogLevel:            "info",
		LogFormat:           "text",
		BigAttachmentLength: store.DefaultBigAttachmentLength,
		Digest:              blobstore.SHA1.Name(),
		DocIDCacheSize:      1024,
	}
}

// LoadEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error.
func LoadEnv() error {
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads the configuration file at path on top of the defaults. A
// missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir loads revdb.toml from dataDir. The data directory given here
// wins over one named in the file.
func LoadFromDir(dataDir string) (*Config, error) {
	cfg, err := Load(filepath.Join(dataDir, ConfigFile))
	if err != nil {
		return nil, err
	}
	if os.Getenv(EnvDataDir) == "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.LogFormat = v
	}
}

// Save writes the configuration to the file it was loaded from, or to
// revdb.toml in the data directory.
func (c *Config) Save() error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Path returns the config file path.
func (c *Config) Path() string {
	if c.path != "" {
		return c.path
	}
	return filepath.Join(c.DataDir, ConfigFile)
}

// Validate checks every field.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.Required, validation.In("json", "text")),
		validation.Field(&c.BigAttachmentLength, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Digest, validation.In(blobstore.SHA1.Name(), blobstore.SHA256.Name())),
		validation.Field(&c.DocIDCacheSize, validation.Required, validation.Min(1)),
	)
}

// StoreOptions converts the configuration into database options.
func (c *Config) StoreOptions(logger *slog.Logger) (store.Options, error) {
	digester, err := blobstore.DigesterByName(c.Digest)
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		Logger:              logger,
		BigAttachmentLength: c.BigAttachmentLength,
		Digester:            digester,
		DocIDCacheSize:      c.DocIDCacheSize,
	}, nil
}

// NewLogger builds the process logger writing to w.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
