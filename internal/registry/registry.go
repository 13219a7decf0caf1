// Package registry defines the contract every storage backend implements and
// the pure selection function that maps a detected format to a backend.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/store"
	"github.com/simonhull/bfio/internal/types"
)

// Kind names a backend. The set is closed.
type Kind string

const (
	KindTIFF       Kind = "tiff"
	KindZarr       Kind = "zarr"
	KindZarr3      Kind = "zarr3"
	KindBioformats Kind = "bioformats"
)

// Kinds returns every known backend kind.
func Kinds() []Kind {
	return []Kind{KindTIFF, KindZarr, KindZarr3, KindBioformats}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds(), k)
}

// Mode selects read or write access.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "w"
	}
	return "r"
}

// Converter is the external legacy-format bridge. Convert writes an
// OME-Zarr copy of src into the directory dst.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
	Version() string
}

// Options carries per-open settings shared by all backends. Zero values
// select defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
	// Cache is an optional decoded-chunk cache shared across images.
	Cache *layout.Cache
	// Bridge is required by the bioformats backend.
	Bridge Converter
	// Rules replaces the default OME-XML repair rules when non-nil.
	Rules []ome.Rule
	// Compression names the chunk/tile codec used when writing.
	Compression      string
	CompressionLevel int
	// TileSize is the X/Y chunk or tile extent used when writing.
	TileSize int
	Workers  int
	// NoRepair disables the OME-XML repair stage.
	NoRepair bool
}

// DefaultTileSize is the X/Y chunk extent used when none is configured.
const DefaultTileSize = 1024

// Log returns the configured logger or one that discards.
func (o Options) Log() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Recorder returns the configured metrics recorder or a no-op.
func (o Options) Recorder() metrics.Recorder {
	if o.Metrics == nil {
		return metrics.Noop{}
	}
	return o.Metrics
}

// Tile returns TileSize or DefaultTileSize.
func (o Options) Tile() int {
	if o.TileSize < 1 {
		return DefaultTileSize
	}
	return o.TileSize
}

// DecodeOptions returns the OME-XML decode settings.
func (o Options) DecodeOptions() ome.DecodeOptions {
	return ome.DecodeOptions{Rules: o.Rules, NoRepair: o.NoRepair}
}

// Configure applies worker count and cache to a chunk engine.
func (o Options) Configure(e *layout.Engine, cacheKey string) {
	if o.Workers > 0 {
		e.Workers = o.Workers
	}
	e.Cache = o.Cache
	e.CacheKey = cacheKey
}

// OpenRequest describes one open call.
type OpenRequest struct {
	// Metadata describes the image to create; write mode only.
	Metadata *types.Metadata
	// Store overrides the filesystem store for chunked backends.
	Store   store.Store
	Options Options
	Mode    Mode
}

// Handle is an open image owned by exactly one caller.
type Handle interface {
	Metadata() *types.Metadata
	ReadRegion(ctx context.Context, sel types.Selection) (*types.Array, error)
	WriteRegion(ctx context.Context, sel types.Selection, arr *types.Array) error
	// Warnings lists non-fatal issues found while opening.
	Warnings() []types.Warning
	// Close flushes pending writes and releases the store. It is idempotent.
	Close() error
}

// Backend opens handles for one storage kind.
type Backend interface {
	Name() Kind
	Open(ctx context.Context, path string, req OpenRequest) (Handle, error)
}

// backends maps kinds to their implementations.
var backends = make(map[Kind]Backend)

// Register registers a backend.
// This is called by backend packages during initialization (init functions).
func Register(b Backend) {
	backends[b.Name()] = b
}

// Get returns the backend for kind, or nil if none is registered.
func Get(kind Kind) Backend {
	return backends[kind]
}

// Select picks a backend kind. An explicit kind is used unconditionally;
// otherwise the detected format decides, then the path extension.
func Select(desc types.Descriptor, path string, explicit Kind) (Kind, error) {
	if explicit != "" {
		if !explicit.Valid() {
			return "", &types.UnsupportedFormatError{
				Path:   path,
				Reason: fmt.Sprintf("unknown backend %q", explicit),
			}
		}
		return explicit, nil
	}

	switch desc.Format {
	case types.FormatZarrV2:
		return KindZarr, nil
	case types.FormatZarrV3:
		return KindZarr3, nil
	case types.FormatTIFF:
		return KindTIFF, nil
	case types.FormatLegacy:
		return KindBioformats, nil
	}

	switch {
	case types.HasExtension(path, types.FormatTIFF.Extensions()):
		return KindTIFF, nil
	case types.HasExtension(path, types.FormatZarrV3.Extensions()):
		return KindZarr3, nil
	case types.HasExtension(path, types.FormatLegacy.Extensions()):
		return KindBioformats, nil
	}
	return "", &types.UnsupportedFormatError{Path: path, Reason: "no format marker or known extension"}
}
