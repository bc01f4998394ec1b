package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rugwirobaker/ember/internal/flag"
)

type Config struct {
	SocketPath string `yaml:"socket_path" toml:"socket_path"` // $XDG_RUNTIME_DIR/ember.sock
	SocketMode string `yaml:"socket_mode" toml:"socket_mode"` // 0600
	Store      Store  `yaml:"store" toml:"store"`
	Relay      Relay  `yaml:"relay" toml:"relay"`
	Wait       Wait   `yaml:"wait" toml:"wait"`
	Audit      Audit  `yaml:"audit" toml:"audit"`
	Log        Log    `yaml:"log" toml:"log"`
}

type Store struct {
	TTL         time.Duration `yaml:"ttl" toml:"ttl"`                   // default lifetime of a secret
	IdleTimeout time.Duration `yaml:"idle_timeout" toml:"idle_timeout"` // wipe everything after this long without use; 0 disables
	SlideOnRead bool          `yaml:"slide_on_read" toml:"slide_on_read"`
	SessionTTL  time.Duration `yaml:"session_ttl" toml:"session_ttl"` // 0 keeps session values until exit
}

type Relay struct {
	Timeout        time.Duration `yaml:"timeout" toml:"timeout"`
	Retries        int           `yaml:"retries" toml:"retries"`
	RequireSameUID bool          `yaml:"require_same_uid" toml:"require_same_uid"`
}

type Wait struct {
	Attempts int           `yaml:"attempts" toml:"attempts"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
}

type Audit struct {
	Path string `yaml:"path" toml:"path"` // empty disables the audit log
}

type Log struct {
	Format     string  `yaml:"format" toml:"format"`       // "text", "json"
	Level      string  `yaml:"level" toml:"level"`         // "debug", "info", "warn", "error"
	Timestamp  bool    `yaml:"timestamp" toml:"timestamp"` // show timestamp
	Debug      bool    `yaml:"debug" toml:"debug"`         // include debug logging
	Path       *string `yaml:"path,omitempty" toml:"path,omitempty"`
	MaxSizeMB  int     `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int     `yaml:"max_backups" toml:"max_backups"`
}

// DefaultPath is where the CLI looks for a config file.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ember", "ember.yaml")
	}
	return "/etc/ember/ember.yaml"
}

// DefaultSocketPath prefers the per-user runtime directory.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ember.sock")
	}
	return os.ExpandEnv("$HOME/.local/share/ember/ember.sock")
}

func Default() *Config {
	return &Config{
		SocketPath: DefaultSocketPath(),
		SocketMode: "0600",
		Store: Store{
			TTL: 4 * time.Hour,
		},
		Relay: Relay{
			Timeout:        5 * time.Second,
			Retries:        3,
			RequireSameUID: true,
		},
		Wait: Wait{
			Attempts: 20,
			Interval: 300 * time.Millisecond,
		},
		Log: Log{
			Format:     "text",
			Level:      "info",
			Timestamp:  true,
			Debug:      false,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func (cfg *Config) Write(w io.Writer) error {
	encoder := yaml.NewEncoder(w)

	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}

// FromFile reads path over the defaults. Files ending in .toml are read as
// TOML, anything else as YAML. Unknown keys are an error in both.
func FromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.NewDecoder(file).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to decode config file: unknown key %q", undecoded[0].String())
		}
		return cfg, nil
	}

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return cfg, nil
}

// Load reads path, falling back to the defaults when path is the default
// location and nothing is there.
func Load(path string) (*Config, error) {
	cfg, err := FromFile(path)
	if errors.Is(err, os.ErrNotExist) && path == DefaultPath() {
		return Default(), nil
	}
	return cfg, err
}

// OverrideWithEnv applies EMBER_* environment variables.
func (cfg *Config) OverrideWithEnv() error {
	if socketPath := os.Getenv("EMBER_SOCKET_PATH"); socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if ttl := os.Getenv("EMBER_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid EMBER_TTL: %w", err)
		}
		cfg.Store.TTL = d
	}
	if idle := os.Getenv("EMBER_IDLE_TIMEOUT"); idle != "" {
		d, err := time.ParseDuration(idle)
		if err != nil {
			return fmt.Errorf("invalid EMBER_IDLE_TIMEOUT: %w", err)
		}
		cfg.Store.IdleTimeout = d
	}
	if level := os.Getenv("EMBER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if auditPath := os.Getenv("EMBER_AUDIT_PATH"); auditPath != "" {
		cfg.Audit.Path = auditPath
	}
	return nil
}

func (cfg *Config) OverrideWithFlags(ctx context.Context) {
	if socket := flag.GetString(ctx, "socket"); socket != "" {
		cfg.SocketPath = socket
	}
	if ttl := flag.GetDuration(ctx, "ttl"); ttl != 0 {
		cfg.Store.TTL = ttl
	}
	if idle := flag.GetDuration(ctx, "idle-timeout"); idle != 0 {
		cfg.Store.IdleTimeout = idle
	}
	if timeout := flag.GetDuration(ctx, "timeout"); timeout != 0 {
		cfg.Relay.Timeout = timeout
	}
	if auditPath := flag.GetString(ctx, "audit-path"); auditPath != "" {
		cfg.Audit.Path = auditPath
	}
	if logFormat := flag.GetString(ctx, "log-format"); logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if logPath := flag.GetString(ctx, "log-path"); logPath != "" {
		cfg.Log.Path = &logPath
	}
	if debug := flag.GetBool(ctx, "debug"); debug {
		cfg.Log.Debug = debug
	}
}

// Mode parses SocketMode as an octal file mode.
func (cfg *Config) Mode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(cfg.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket mode %q: %w", cfg.SocketMode, err)
	}
	return os.FileMode(mode), nil
}

func (cfg *Config) Validate() error {
	var errs []error

	if cfg.SocketPath == "" {
		errs = append(errs, errors.New("socket_path must be set"))
	}
	if _, err := cfg.Mode(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Store.TTL <= 0 {
		errs = append(errs, fmt.Errorf("store.ttl must be positive, got %s", cfg.Store.TTL))
	}
	if cfg.Store.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("store.idle_timeout must not be negative, got %s", cfg.Store.IdleTimeout))
	}
	if cfg.Relay.Timeout < 0 {
		errs = append(errs, fmt.Errorf("relay.timeout must not be negative, got %s", cfg.Relay.Timeout))
	}
	if cfg.Wait.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("wait.attempts must be positive, got %d", cfg.Wait.Attempts))
	}
	if cfg.Wait.Interval <= 0 {
		errs = append(errs, fmt.Errorf("wait.interval must be positive, got %s", cfg.Wait.Interval))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q", cfg.Log.Format))
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q", cfg.Log.Level))
	}

	return errors.Join(errs...)
}
