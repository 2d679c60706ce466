package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"saddlebag/internal/logging"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

type StoreConfig struct {
	DataDir      string   `toml:"data_dir"`
	Name         string   `toml:"name"`
	Version      uint32   `toml:"version"`
	Stateful     bool     `toml:"stateful"`
	QueueSize    int      `toml:"queue_size"`
	FlushTimeout Duration `toml:"flush_timeout"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration wraps time.Duration so it can be written as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:      "~/.saddlebag",
			Name:         "saddlebag",
			Version:      1,
			Stateful:     true,
			QueueSize:    64,
			FlushTimeout: Duration{5 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, ~/.saddlebag/config.toml is tried and defaults are
// returned when it does not exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.saddlebag/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks field values and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DataDir) == "" {
		errs = append(errs, errors.New("store.data_dir: must not be empty"))
	}
	if strings.TrimSpace(c.Store.Name) == "" {
		errs = append(errs, errors.New("store.name: must not be empty"))
	}
	if c.Store.Version == 0 {
		errs = append(errs, errors.New("store.version: must be at least 1"))
	}
	if c.Store.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("store.queue_size: must not be negative, got %d", c.Store.QueueSize))
	}
	if c.Store.FlushTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("store.flush_timeout: must not be negative, got %s", c.Store.FlushTimeout))
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DBPath returns the bolt database file inside the (expanded) data dir.
func (c *Config) DBPath() string {
	return filepath.Join(expandHome(c.Store.DataDir), c.Store.Name+".db")
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
