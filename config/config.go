/*
Package config loads server configuration.

PURPOSE:
  One Config value for cmd/server, assembled in layers. Later layers win:

    1. Defaults()                     built-in values
    2. YAML file (-config path)       optional
    3. .env file                      optional, loaded into the environment
    4. RATE_ENGINE_* environment      deployment overrides
    5. Command-line flags             applied by cmd/server

FILE FORMAT:
  server:
    port: 8080
    cors_origins: ["http://localhost:5173"]
    bulk_rate_per_sec: 2
    bulk_burst: 5
  database:
    path: rates.db
  log:
    level: info
    format: json
  bulk:
    sample_size: 10
    preview_ttl_seconds: 900
  multipliers:
    confidence:
      low: 1.25

ENVIRONMENT:
  RATE_ENGINE_PORT, RATE_ENGINE_DB, RATE_ENGINE_LOG_LEVEL,
  RATE_ENGINE_LOG_FORMAT, RATE_ENGINE_CORS_ORIGINS (comma separated),
  RATE_ENGINE_SAMPLE_SIZE

SEE ALSO:
  - cmd/server/main.go: flag layer
  - factory/multipliers.go: multipliers section
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/rate-engine/factory"
	"github.com/warp/rate-engine/rates"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RATE_ENGINE_"

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Log         LogConfig        `yaml:"log"`
	Bulk        BulkConfig       `yaml:"bulk"`
	Multipliers factory.TableDoc `yaml:"multipliers"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	BulkRatePerSec float64  `yaml:"bulk_rate_per_sec"`
	BulkBurst      int      `yaml:"bulk_burst"`
}

// DatabaseConfig holds the SQLite path. ":memory:" is allowed.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BulkConfig tunes preview/apply.
type BulkConfig struct {
	SampleSize        int `yaml:"sample_size"`
	PreviewTTLSeconds int `yaml:"preview_ttl_seconds"`
}

// PreviewTTL is how long a preview token stays valid.
func (b BulkConfig) PreviewTTL() time.Duration {
	return time.Duration(b.PreviewTTLSeconds) * time.Second
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			CORSOrigins:    []string{"http://localhost:5173", "http://localhost:8080"},
			BulkRatePerSec: 2,
			BulkBurst:      5,
		},
		Database: DatabaseConfig{Path: "rates.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Bulk: BulkConfig{
			SampleSize:        rates.DefaultSampleSize,
			PreviewTTLSeconds: 900,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, the
// optional .env file at envFile and the process environment. Missing files
// are not errors; malformed ones are.
func Load(path, envFile string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		// Load never overwrites variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("invalid env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(envPrefix + "DB"); ok {
		c.Database.Path = v
	}
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(envPrefix + "LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := lookup(envPrefix + "CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup(envPrefix + "SAMPLE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSAMPLE_SIZE: %w", envPrefix, err)
		}
		c.Bulk.SampleSize = n
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Bulk.SampleSize <= 0 {
		return fmt.Errorf("bulk.sample_size must be positive, got %d", c.Bulk.SampleSize)
	}
	if c.Bulk.PreviewTTLSeconds <= 0 {
		return fmt.Errorf("bulk.preview_ttl_seconds must be positive, got %d", c.Bulk.PreviewTTLSeconds)
	}
	if c.Server.BulkRatePerSec <= 0 || c.Server.BulkBurst <= 0 {
		return errors.New("server.bulk_rate_per_sec and server.bulk_burst must be positive")
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// MultiplierTable converts the multipliers section, defaults filled in.
func (c Config) MultiplierTable() (rates.MultiplierTable, error) {
	return factory.NewMultiplierFactory().FromDoc(c.Multipliers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
