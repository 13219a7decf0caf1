package bfio

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/simonhull/bfio/internal/config"
	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/legacy"
	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/store/memory"
)

// Settings is the file and environment configuration schema.
type Settings = config.Config

// Config is a loaded configuration plus the logger, metrics and cache it
// builds. Those are created on first use and shared by every open that
// uses the Config. Close releases them.
//
// With a memory store, each image path gets one store that lives as long
// as the Config, so an image can be written and reopened through it.
type Config struct {
	// Settings may be adjusted before the Config is first used.
	Settings *Settings

	once     sync.Once
	logger   *slog.Logger
	closer   io.Closer
	recorder metrics.Recorder
	cache    *layout.Cache
	err      error

	memory map[string]*memory.Store
	memMu  sync.Mutex
}

// LoadConfig reads path (or $XDG_CONFIG_HOME/bfio/config.yaml when empty)
// with BFIO_* environment overrides.
//
// Example:
//
//	cfg, err := bfio.LoadConfig("")
//	if err != nil {
//		return err
//	}
//	defer cfg.Close()
//	img, err := bfio.Open("plate.ome.zarr", bfio.WithConfig(cfg))
func LoadConfig(path string) (*Config, error) {
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &Config{Settings: s}, nil
}

// DefaultConfig returns a Config holding default settings.
func DefaultConfig() *Config {
	return &Config{Settings: config.Default()}
}

// MarshalYAML renders the settings in the format LoadConfig reads.
func (c *Config) MarshalYAML() ([]byte, error) {
	return config.Marshal(c.Settings)
}

func (c *Config) build() error {
	c.once.Do(func() {
		if err := config.Validate(c.Settings); err != nil {
			c.err = err
			return
		}
		c.logger, c.closer, c.err = config.NewLogger(c.Settings.Logging)
		if c.err != nil {
			return
		}
		c.recorder = config.NewRecorder(c.Settings.Metrics)
		c.cache, c.err = config.NewCache(c.Settings.Reader, c.recorder)
	})
	return c.err
}

// Logger returns the logger built from the logging section.
func (c *Config) Logger() (*slog.Logger, error) {
	if err := c.build(); err != nil {
		return nil, err
	}
	return c.logger, nil
}

// Close releases the cache, log file and memory stores.
func (c *Config) Close() error {
	c.memMu.Lock()
	c.memory = nil
	c.memMu.Unlock()
	if c.cache != nil {
		c.cache.Close()
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// WithConfig applies every setting of cfg. Options after it override
// individual settings.
func WithConfig(cfg *Config) Option {
	return func(o *openOptions) {
		if err := cfg.build(); err != nil {
			o.err = err
			return
		}
		s := cfg.Settings
		ro := s.Options()
		o.logger = cfg.logger
		o.recorder = cfg.recorder
		o.cache = cfg.cache
		o.backend = registry.Kind(s.Reader.Backend)
		o.rules = ro.Rules
		o.noRepair = ro.NoRepair
		o.strict = s.Reader.StrictMetadata
		o.workers = ro.Workers
		o.compression = ro.Compression
		o.level = ro.CompressionLevel
		o.tileSize = ro.TileSize
		o.storeFor = cfg.storeFor
	}
}

// storeFor builds the store for the image at path.
func (c *Config) storeFor(ctx context.Context, path string, logger *slog.Logger) (Store, error) {
	if c.Settings.Store.Type != "memory" {
		return config.CreateStore(ctx, c.Settings.Store, path, logger)
	}
	c.memMu.Lock()
	defer c.memMu.Unlock()
	st, ok := c.memory[path]
	if !ok {
		if c.memory == nil {
			c.memory = make(map[string]*memory.Store)
		}
		st = memory.New()
		c.memory[path] = st
	}
	return st, nil
}

// Bridge is the running legacy-format converter.
type Bridge = legacy.Bridge

// AcquireBridge starts the process-wide legacy-format converter on first
// use and returns it; later calls return the running bridge. Proprietary
// containers (.czi, .nd2, .lif, ...) open only after a bridge is acquired.
// A nil cfg uses the default converter on PATH.
func AcquireBridge(ctx context.Context, cfg *Config) (*Bridge, error) {
	lc := legacy.Config{}
	if cfg != nil {
		logger, err := cfg.Logger()
		if err != nil {
			return nil, err
		}
		lc = cfg.Settings.LegacyConfig(logger)
	}
	return legacy.Acquire(ctx, lc)
}
