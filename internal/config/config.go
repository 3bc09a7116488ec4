package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Session backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Default values for the instance configuration.
const (
	DefaultAddr       = "127.0.0.1:8080"
	DefaultBackend    = BackendSQLite
	DefaultSessionTTL = 24 * time.Hour
	DefaultLogLevel   = "info"
)

// Global represents ~/.flashd/config.toml.
type Global struct {
	DefaultInstance string `toml:"default_instance"`
}

// Config is the per-instance configuration.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Session SessionConfig `toml:"session"`
	Log     LogConfig     `toml:"log"`
}

// HTTPConfig controls the demo HTTP listener.
type HTTPConfig struct {
	Addr              string   `toml:"addr"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
}

// SessionConfig controls session persistence. With Enabled false every
// request gets an ephemeral flash and nothing survives the request. A zero
// TTL keeps sessions until they are reset.
type SessionConfig struct {
	Enabled    bool     `toml:"enabled"`
	Backend    string   `toml:"backend"`
	CookieName string   `toml:"cookie_name"`
	Secure     bool     `toml:"secure"`
	TTL        Duration `toml:"ttl"`
}

// LogConfig controls logging. Level can be changed while the daemon runs.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              DefaultAddr,
			ReadHeaderTimeout: Duration{10 * time.Second},
		},
		Session: SessionConfig{
			Enabled: true,
			Backend: DefaultBackend,
			TTL:     Duration{DefaultSessionTTL},
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load reads the config at path on top of the defaults. Unknown keys are an
// error so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr must not be empty")
	}
	switch c.Session.Backend {
	case BackendMemory, BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("session.backend %q unknown: want memory|sqlite|bolt", c.Session.Backend)
	}
	if c.Session.TTL.Duration < 0 {
		return errors.New("session.ttl must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// LoadGlobal reads the global config. Returns an error if the file is missing.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Save writes v (a *Config or *Global) to path, creating parent dirs as needed.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
