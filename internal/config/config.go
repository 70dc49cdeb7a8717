// Package config holds the runtime settings of the interplay binary: where state
// lives, where plugins are found, and how the edges listen and log.
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Backends understood by Config.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "INTERPLAY_"

// Duration is a time.Duration written as "250ms" or "5s" in every format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds runtime parameters for the service.
// Empty paths are derived from DataDir.
type Config struct {
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir" env:"DATA_DIR"`
	PluginDir string `json:"plugin_dir" yaml:"plugin_dir" toml:"plugin_dir" env:"PLUGIN_DIR"`
	Watch     bool   `json:"watch" yaml:"watch" toml:"watch" env:"WATCH"`
	// ToolsFile lists the commands process-output instances may run.
	// Relative commands resolve against its directory.
	ToolsFile string `json:"tools_file" yaml:"tools_file" toml:"tools_file" env:"TOOLS_FILE"`

	Backend       string `json:"backend" yaml:"backend" toml:"backend" env:"BACKEND"`
	StateFile     string `json:"state_file" yaml:"state_file" toml:"state_file" env:"STATE_FILE"`
	SQLitePath    string `json:"sqlite_path" yaml:"sqlite_path" toml:"sqlite_path" env:"SQLITE_PATH"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db" env:"REDIS_DB"`
	RedisKey      string `json:"redis_key" yaml:"redis_key" toml:"redis_key" env:"REDIS_KEY"`

	// EncryptionKey is a base64 AES-256 key. When set the state is encrypted at rest.
	EncryptionKey string `json:"encryption_key" yaml:"encryption_key" toml:"encryption_key" env:"ENCRYPTION_KEY"`
	// FallbackKeys still decrypt state written before a key rotation.
	FallbackKeys []string `json:"fallback_keys" yaml:"fallback_keys" toml:"fallback_keys" env:"FALLBACK_KEYS" envSeparator:","`

	Debounce     Duration `json:"debounce" yaml:"debounce" toml:"debounce" env:"DEBOUNCE"`
	RouteTimeout Duration `json:"route_timeout" yaml:"route_timeout" toml:"route_timeout" env:"ROUTE_TIMEOUT"`
	OutboxSize   int      `json:"outbox_size" yaml:"outbox_size" toml:"outbox_size" env:"OUTBOX_SIZE"`

	HTTPAddr  string `json:"http_addr" yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DataDir:      ".interplay",
		Backend:      BackendFile,
		RedisAddr:    "127.0.0.1:6379",
		RedisKey:     "interplay:state",
		Debounce:     Duration(250 * time.Millisecond),
		RouteTimeout: Duration(5 * time.Second),
		OutboxSize:   256,
		HTTPAddr:     "127.0.0.1:8080",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads a configuration file over the defaults, picking the format from
// its extension. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays INTERPLAY_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve loads path (or the defaults when path is empty), applies the
// environment and validates the result.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if err := FromEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("backend %q must be one of file, sqlite, redis, memory", c.Backend))
	}
	if c.Backend == BackendRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("redis_addr is required for the redis backend"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("redis_db %d must not be negative", c.RedisDB))
	}
	if _, _, err := c.Keys(); err != nil {
		errs = append(errs, err)
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce %s must not be negative", c.Debounce))
	}
	if c.RouteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("route_timeout %s must be positive", c.RouteTimeout))
	}
	if c.OutboxSize <= 0 {
		errs = append(errs, fmt.Errorf("outbox_size %d must be positive", c.OutboxSize))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Keys decodes EncryptionKey and FallbackKeys. active is nil when encryption is off.
func (c Config) Keys() (active []byte, fallback [][]byte, err error) {
	if c.EncryptionKey == "" {
		if len(c.FallbackKeys) > 0 {
			return nil, nil, errors.New("fallback_keys require encryption_key")
		}
		return nil, nil, nil
	}
	if active, err = decodeKey("encryption_key", c.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, k := range c.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("fallback_keys[%d]", i), k)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(name, s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s is not base64: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

// ToolsDir is the working directory of process-output commands.
func (c Config) ToolsDir() string {
	if c.ToolsFile == "" {
		return ""
	}
	return filepath.Dir(c.ToolsFile)
}

// StatePath is where the file backend keeps its document.
func (c Config) StatePath() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return filepath.Join(c.DataDir, "state.json")
}

// DatabasePath is where the sqlite backend keeps its database.
func (c Config) DatabasePath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "state.db")
}
