package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/legacy"
	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/store"
	"github.com/simonhull/bfio/internal/store/badger"
	"github.com/simonhull/bfio/internal/store/memory"
	"github.com/simonhull/bfio/internal/store/s3"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a text or JSON slog logger. The closer releases the log
// file when Output is a path.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "discard":
		return slog.New(slog.DiscardHandler), closer, nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging.output: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), closer, nil
}

// NewRecorder returns Prometheus metrics on the default registry when
// enabled, and a no-op otherwise.
func NewRecorder(cfg MetricsConfig) metrics.Recorder {
	if !cfg.Enabled {
		return metrics.Noop{}
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

// NewCache returns the shared chunk cache, or nil when CacheMB is 0.
func NewCache(cfg ReaderConfig, rec metrics.Recorder) (*layout.Cache, error) {
	if cfg.CacheMB == 0 {
		return nil, nil
	}
	return layout.NewCache(cfg.CacheMB<<20, rec)
}

// Rules returns the repair rules selected by cfg, in default order. A nil
// result selects every default rule.
func Rules(cfg ReaderConfig) []ome.Rule {
	if len(cfg.RepairRules) == 0 {
		return nil
	}
	var out []ome.Rule
	for _, r := range ome.DefaultRules() {
		if slices.Contains(cfg.RepairRules, r.Name) {
			out = append(out, r)
		}
	}
	return out
}

// Options converts reader and writer settings into backend options.
// Logger, metrics, cache and bridge are left for the caller.
func (c *Config) Options() registry.Options {
	return registry.Options{
		Rules:            Rules(c.Reader),
		Compression:      c.Writer.Compression,
		CompressionLevel: c.Writer.CompressionLevel,
		TileSize:         c.Writer.TileSize,
		Workers:          c.Reader.Workers,
		NoRepair:         !c.Reader.RepairMetadata,
	}
}

// LegacyConfig converts the bridge section for legacy.Acquire.
func (c *Config) LegacyConfig(logger *slog.Logger) legacy.Config {
	return legacy.Config{
		Logger:     logger,
		Executable: c.Bridge.Executable,
		Args:       append([]string(nil), c.Bridge.Args...),
	}
}

// CreateStore builds the chunk store for the image at imagePath. It returns
// nil for the filesystem type, which backends open themselves.
func CreateStore(ctx context.Context, cfg StoreConfig, imagePath string, logger *slog.Logger) (store.Store, error) {
	switch cfg.Type {
	case "", "filesystem":
		return nil, nil
	case "memory":
		return memory.New(), nil
	case "s3":
		return createS3Store(ctx, cfg.S3, imagePath, logger)
	case "badger":
		return createBadgerStore(ctx, cfg.Badger, imagePath)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

func createS3Store(ctx context.Context, options map[string]any, imagePath string, logger *slog.Logger) (store.Store, error) {
	type S3StoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxAttempts     int    `mapstructure:"max_attempts"`
	}

	var sc S3StoreConfig
	if err := mapstructure.Decode(options, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode s3 store config: %w", err)
	}
	if sc.Bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}

	st, err := s3.New(ctx, s3.Config{
		Region:          sc.Region,
		Bucket:          sc.Bucket,
		KeyPrefix:       imageKey(sc.KeyPrefix, imagePath),
		Endpoint:        sc.Endpoint,
		AccessKeyID:     sc.AccessKeyID,
		SecretAccessKey: sc.SecretAccessKey,
		MaxAttempts:     sc.MaxAttempts,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 store: %w", err)
	}
	return st, nil
}

func createBadgerStore(ctx context.Context, options map[string]any, imagePath string) (store.Store, error) {
	type BadgerStoreConfig struct {
		Path         string `mapstructure:"path"`
		InMemory     bool   `mapstructure:"in_memory"`
		BlockCacheMB int64  `mapstructure:"block_cache_mb"`
	}

	var bc BadgerStoreConfig
	if err := mapstructure.Decode(options, &bc); err != nil {
		return nil, fmt.Errorf("failed to decode badger store config: %w", err)
	}

	st, err := badger.New(ctx, badger.Config{
		Path:         bc.Path,
		Prefix:       imageKey("", imagePath),
		InMemory:     bc.InMemory,
		BlockCacheMB: bc.BlockCacheMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger store: %w", err)
	}
	return st, nil
}

// imageKey namespaces an image inside a shared store: "prefix/image.zarr/".
func imageKey(prefix, imagePath string) string {
	p := path.Join(prefix, strings.TrimLeft(strings.ReplaceAll(imagePath, "\\", "/"), "/"))
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}
