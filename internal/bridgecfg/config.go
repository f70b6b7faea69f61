// Package bridgecfg loads bridge configuration from .beads/bridge.yaml
// with environment overrides.
package bridgecfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// DefaultConfigPath is where bridge configuration lives, relative to
// the repository root.
const DefaultConfigPath = ".beads/bridge.yaml"

// EnvPrefix namespaces environment overrides, e.g.
// BD_BRIDGE_SYNC_MAX_CONCURRENT=5.
const EnvPrefix = "BD_BRIDGE"

// SyncConfig configures the sync pipeline.
type SyncConfig struct {
	// SinceRef is the default git ref syncs diff against.
	SinceRef string `mapstructure:"since_ref" yaml:"since_ref"`

	// MaxConcurrent caps in-flight per-entity placements.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`

	// EntityTimeout bounds one entity's placement.
	EntityTimeout time.Duration `mapstructure:"entity_timeout" yaml:"entity_timeout"`

	// Snapshots posts a snapshot comment per entity on every sync.
	Snapshots bool `mapstructure:"snapshots" yaml:"snapshots"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is how long the record file must settle before a sync.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LogConfig configures the rotating log file. An empty file means
// stderr only.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Config is the root bridge configuration.
type Config struct {
	// RepoDir is the git repository root. Empty means cwd.
	RepoDir string `mapstructure:"repo_dir" yaml:"repo_dir"`

	// JSONLPath is the record file path relative to RepoDir.
	JSONLPath string `mapstructure:"jsonl_path" yaml:"jsonl_path"`

	// MappingsDir is where mapping files live, relative to RepoDir.
	MappingsDir string `mapstructure:"mappings_dir" yaml:"mappings_dir"`

	// Backend names the external tracker backend.
	Backend string `mapstructure:"backend" yaml:"backend"`

	// BackendConfig carries backend-specific settings (tokens come from
	// the environment, never from this file).
	BackendConfig map[string]string `mapstructure:"backend_config" yaml:"backend_config,omitempty"`

	Sync  SyncConfig  `mapstructure:"sync" yaml:"sync"`
	Watch WatchConfig `mapstructure:"watch" yaml:"watch"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		JSONLPath:   ".beads/issues.jsonl",
		MappingsDir: ".beads/bridge/mappings",
		Backend:     "github",
		Sync: SyncConfig{
			SinceRef:      "HEAD~1",
			MaxConcurrent: 3,
			EntityTimeout: 2 * time.Minute,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return &types.ValidationError{Field: "backend", Reason: "required"}
	}
	if c.Sync.MaxConcurrent <= 0 {
		return &types.ValidationError{Field: "sync.max_concurrent", Reason: "must be positive"}
	}
	return nil
}

// Load reads configuration from the given file, falling back to
// DefaultConfigPath, then to built-in defaults. A missing file is not
// an error. Environment variables prefixed with BD_BRIDGE_ override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("jsonl_path", defaults.JSONLPath)
	v.SetDefault("mappings_dir", defaults.MappingsDir)
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("sync.since_ref", defaults.Sync.SinceRef)
	v.SetDefault("sync.max_concurrent", defaults.Sync.MaxConcurrent)
	v.SetDefault("sync.entity_timeout", defaults.Sync.EntityTimeout)
	v.SetDefault("sync.snapshots", defaults.Sync.Snapshots)
	v.SetDefault("watch.debounce", defaults.Watch.Debounce)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)

	if path == "" {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes a starter configuration file. Refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s: %w", path, types.ErrAlreadyExists)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
