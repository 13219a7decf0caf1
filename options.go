package bfio

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simonhull/bfio/internal/codec"
	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/types"
)

// Option configures Open, Create and OpenFile.
//
// Options use the functional options pattern:
//
//	img, err := bfio.Open("plate.ome.zarr",
//	    bfio.WithWorkers(8),
//	    bfio.WithStrictMetadata(),
//	)
type Option func(*openOptions)

// openOptions holds configuration for one open call.
type openOptions struct {
	logger   *slog.Logger
	recorder metrics.Recorder
	cache    *layout.Cache
	store    Store
	// storeFor builds a store per image path; set by WithConfig.
	storeFor       func(ctx context.Context, path string, logger *slog.Logger) (Store, error)
	backend        registry.Kind
	bridge         registry.Converter
	rules          []ome.Rule
	compression    string
	level          int
	tileSize       int
	workers        int
	noRepair       bool
	strict         bool // Fail when OME-XML needed repair
	ignoreWarnings bool // Drop all warnings

	// meta describes the image to create; write mode only.
	meta types.Metadata
	// err is reported by OpenFile, e.g. an invalid WithConfig.
	err error
}

// defaultOptions returns the default configuration.
func defaultOptions() *openOptions {
	return &openOptions{}
}

func (o *openOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// registryOptions converts to the backend option set.
func (o *openOptions) registryOptions() registry.Options {
	return registry.Options{
		Logger:           o.logger,
		Metrics:          o.recorder,
		Cache:            o.cache,
		Bridge:           o.bridge,
		Rules:            o.rules,
		Compression:      o.compression,
		CompressionLevel: o.level,
		TileSize:         o.tileSize,
		Workers:          o.workers,
		NoRepair:         o.noRepair,
	}
}

// WithLogger sends diagnostics to logger. By default nothing is logged.
//
// Backend selection and chunk failures log at debug level; OME-XML repairs
// log a warning.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithMetrics records chunk I/O, cache and open metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *openOptions) {
		o.recorder = metrics.New(reg)
	}
}

// WithCache shares a decoded-chunk cache between images.
//
// Example:
//
//	cache, err := bfio.NewCache(512 << 20)
//	if err != nil {
//		return err
//	}
//	defer cache.Close()
//	img, err := bfio.Open("plate.ome.zarr", bfio.WithCache(cache))
func WithCache(c *Cache) Option {
	return func(o *openOptions) {
		o.cache = c
	}
}

// WithWorkers bounds concurrent chunk reads and writes per call.
// The default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *openOptions) {
		o.workers = n
	}
}

// WithBackend skips detection and uses the named backend unconditionally.
func WithBackend(b Backend) Option {
	return func(o *openOptions) {
		o.backend = b
	}
}

// WithStore reads or writes a Zarr image through st instead of the local
// filesystem. The caller keeps ownership of st.
func WithStore(st Store) Option {
	return func(o *openOptions) {
		o.store = st
	}
}

// WithBridge supplies the legacy-format converter for proprietary
// containers. Without it, the bridge from AcquireBridge is used if running.
func WithBridge(b *Bridge) Option {
	return func(o *openOptions) {
		if b != nil {
			o.bridge = b
		}
	}
}

// WithMetadataRepair enables or disables the OME-XML repair pass.
// Repair is on by default.
func WithMetadataRepair(enabled bool) Option {
	return func(o *openOptions) {
		o.noRepair = !enabled
	}
}

// WithRepairRules replaces the default OME-XML repair rules.
func WithRepairRules(rules ...RepairRule) Option {
	return func(o *openOptions) {
		o.rules = rules
	}
}

// WithStrictMetadata fails the open when OME-XML needed repair.
//
// By default a repaired document is accepted and recorded in Warnings.
func WithStrictMetadata() Option {
	return func(o *openOptions) {
		o.strict = true
	}
}

// WithIgnoreWarnings discards all warnings; Image.Warnings stays empty.
func WithIgnoreWarnings() Option {
	return func(o *openOptions) {
		o.ignoreWarnings = true
	}
}

// WithCompression selects the chunk or tile codec for new images: "raw",
// "zlib", "gzip" or "zstd". Level 0 selects the codec default. TIFF output
// accepts raw, zlib and zstd.
func WithCompression(name string, level int) Option {
	return func(o *openOptions) {
		o.compression = name
		o.level = level
	}
}

// Compression codec names.
const (
	CompressionRaw  = codec.Raw
	CompressionZlib = codec.Zlib
	CompressionGzip = codec.Gzip
	CompressionZstd = codec.Zstd
)

// WithTileSize sets the X/Y tile or chunk extent for new images
// (default 1024). TIFF tiles are rounded up to a multiple of 16.
func WithTileSize(n int) Option {
	return func(o *openOptions) {
		o.tileSize = n
	}
}
