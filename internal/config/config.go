// Package config loads prefctl settings from a YAML file, PREFCTL_
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-preference/pkg/state"
)

// EnvPrefix prefixes every environment override, e.g. PREFCTL_REDIS_ADDR.
const EnvPrefix = "PREFCTL"

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend indicates a backend name outside the supported set.
var ErrUnknownBackend = errors.New("config: unknown backend")

// Config is the resolved prefctl configuration.
type Config struct {
	Backend string `mapstructure:"backend"`
	Ref     Ref    `mapstructure:"ref"`
	File    File   `mapstructure:"file"`
	Redis   Redis  `mapstructure:"redis"`
	NATS    NATS   `mapstructure:"nats"`
	SQLite  SQLite `mapstructure:"sqlite"`
	Log     Log    `mapstructure:"log"`
	// Registration names a YAML file whose mapping populates the
	// registration domain.
	Registration string `mapstructure:"registration"`
}

// Ref selects the preference suite for namespaced backends.
type Ref struct {
	Suite   string `mapstructure:"suite"`
	Scope   string `mapstructure:"scope"`
	ScopeID string `mapstructure:"scope_id"`
}

// State converts r into a state.Ref.
func (r Ref) State() state.Ref {
	return state.Ref{Suite: r.Suite, Scope: r.Scope, ScopeID: r.ScopeID}
}

type File struct {
	Path string `mapstructure:"path"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyspaceEvents asks the server to enable keyspace notifications.
	KeyspaceEvents bool `mapstructure:"keyspace_events"`
}

type NATS struct {
	URL    string `mapstructure:"url"`
	Bucket string `mapstructure:"bucket"`
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// flagKeys maps persistent flag names onto configuration keys.
var flagKeys = map[string]string{
	"backend":      "backend",
	"suite":        "ref.suite",
	"scope":        "ref.scope",
	"scope-id":     "ref.scope_id",
	"file":         "file.path",
	"registration": "registration",
	"log-level":    "log.level",
}

// Load resolves configuration with precedence defaults < file < env < flags.
// An empty path reads prefctl.yaml from the working directory when present.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("prefctl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("config: bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendFile)
	v.SetDefault("ref.suite", "default")
	v.SetDefault("ref.scope", state.ScopeSystem)
	v.SetDefault("ref.scope_id", "")
	v.SetDefault("file.path", defaultFilePath())
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyspace_events", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.bucket", "preferences")
	v.SetDefault("sqlite.path", "preferences.db")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.development", false)
	v.SetDefault("registration", "")
}

func defaultFilePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "prefctl", "preferences.yaml")
	}
	return "preferences.yaml"
}

// Validate checks the backend and, for namespaced backends, the ref.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendFile:
		if c.File.Path == "" {
			return errors.New("config: file.path is required for the file backend")
		}
		return nil
	case BackendRedis, BackendNATS, BackendSQLite:
		if _, err := c.Ref.State().Identifier(); err != nil {
			return fmt.Errorf("config: ref: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
}

// LoadRegistration reads the registration defaults named by path. Keys keep
// their case, which viper would fold.
func LoadRegistration(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: registration: %w", err)
	}
	defaults := map[string]any{}
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return nil, fmt.Errorf("config: registration %s: %w", path, err)
	}
	return defaults, nil
}
