package config

import "strings"

// Default tile and level values for newly written images.
const (
	DefaultTileSize = 1024
	DefaultStore    = "filesystem"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Reader: ReaderConfig{RepairMetadata: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyWriterDefaults(&cfg.Writer)
	if cfg.Store.Type == "" {
		cfg.Store.Type = DefaultStore
	}
	cfg.Store.Type = strings.ToLower(cfg.Store.Type)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyWriterDefaults(cfg *WriterConfig) {
	if cfg.TileSize == 0 {
		cfg.TileSize = DefaultTileSize
	}
	cfg.Compression = strings.ToLower(cfg.Compression)
}
