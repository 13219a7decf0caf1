// Package config loads bfio settings from a YAML file and BFIO_* environment
// variables and turns them into loggers, caches, metrics and chunk stores.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BFIO_READER_WORKERS.
const EnvPrefix = "BFIO"

// Config is the complete bfio configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (BFIO_*)
//  2. Configuration file
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Reader  ReaderConfig  `mapstructure:"reader" yaml:"reader"`
	Writer  WriterConfig  `mapstructure:"writer" yaml:"writer"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, discard, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ReaderConfig tunes opening and reading images.
type ReaderConfig struct {
	// Backend forces a backend kind instead of detection.
	Backend string `mapstructure:"backend" yaml:"backend,omitempty" validate:"omitempty,oneof=tiff zarr zarr3 bioformats"`

	// Workers bounds parallel chunk I/O per call; 0 uses the CPU count.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=0"`

	// CacheMB sizes the shared decoded-chunk cache; 0 disables it.
	CacheMB int64 `mapstructure:"cache_mb" yaml:"cache_mb" validate:"gte=0"`

	// RepairMetadata enables the OME-XML repair pass.
	RepairMetadata bool `mapstructure:"repair_metadata" yaml:"repair_metadata"`

	// StrictMetadata fails opens whose OME-XML needed repair.
	StrictMetadata bool `mapstructure:"strict_metadata" yaml:"strict_metadata"`

	// RepairRules restricts repair to the named rules, in default order.
	RepairRules []string `mapstructure:"repair_rules" yaml:"repair_rules,omitempty" validate:"dive,required"`
}

// WriterConfig holds defaults for newly created images.
type WriterConfig struct {
	Compression      string `mapstructure:"compression" yaml:"compression,omitempty" validate:"omitempty,oneof=raw zlib gzip zstd"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level" validate:"gte=0,lte=22"`

	// TileSize is the X/Y chunk extent; a multiple of 16.
	TileSize int `mapstructure:"tile_size" yaml:"tile_size" validate:"gte=16"`
}

// StoreConfig selects where Zarr chunks live. Only the section matching
// Type is used.
type StoreConfig struct {
	// Type is filesystem, memory, s3 or badger.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3 badger"`

	S3     map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// BridgeConfig configures the legacy-format converter.
type BridgeConfig struct {
	Executable string   `mapstructure:"executable" yaml:"executable,omitempty"`
	Args       []string `mapstructure:"args" yaml:"args,omitempty"`
}

// MetricsConfig enables Prometheus chunk I/O metrics on the default registry.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads configPath (or the default location when empty), applies
// environment overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// BFIO_LOGGING_LEVEL=DEBUG overrides logging.level.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment variables only bind to keys viper knows about.
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("reader.backend", "")
	v.SetDefault("reader.workers", d.Reader.Workers)
	v.SetDefault("reader.cache_mb", d.Reader.CacheMB)
	v.SetDefault("reader.repair_metadata", d.Reader.RepairMetadata)
	v.SetDefault("reader.strict_metadata", d.Reader.StrictMetadata)
	v.SetDefault("writer.compression", "")
	v.SetDefault("writer.compression_level", d.Writer.CompressionLevel)
	v.SetDefault("writer.tile_size", d.Writer.TileSize)
	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("bridge.executable", "")
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

// configDir is $XDG_CONFIG_HOME/bfio, ~/.config/bfio, or ".".
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bfio")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "bfio")
}

// DefaultPath returns the configuration file used when Load gets no path.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Marshal renders cfg as YAML, suitable for Load.
func Marshal(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
