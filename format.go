package bfio

import (
	"context"

	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/types"
)

// Format is an alias to types.Format.
type Format = types.Format

// Detected container formats.
const (
	FormatUnknown = types.FormatUnknown
	FormatZarrV2  = types.FormatZarrV2
	FormatZarrV3  = types.FormatZarrV3
	FormatTIFF    = types.FormatTIFF
	FormatLegacy  = types.FormatLegacy
)

// Descriptor is an alias to types.Descriptor.
type Descriptor = types.Descriptor

// Backend names a storage backend.
type Backend = registry.Kind

// Backends accepted by WithBackend.
const (
	BackendTIFF       = registry.KindTIFF
	BackendZarr       = registry.KindZarr
	BackendZarr3      = registry.KindZarr3
	BackendBioformats = registry.KindBioformats
)

// Detect classifies path by its on-disk markers. Missing or unrecognised
// paths report FormatUnknown, never an error.
func Detect(path string) Descriptor {
	return types.Detect(path)
}

// DetectStore classifies a key/value store from its keys.
func DetectStore(ctx context.Context, st Store) (Descriptor, error) {
	keys, err := st.List(ctx, "")
	if err != nil {
		return Descriptor{}, &StorageError{Path: st.Location(), Op: "list", Err: err}
	}
	return types.DetectKeys(keys, func(key string) ([]byte, error) {
		return st.Get(ctx, key)
	}), nil
}

// SelectBackend reports which backend Open would use for path without
// opening it. An empty explicit backend selects by detection, then extension.
func SelectBackend(path string, explicit Backend) (Backend, error) {
	return registry.Select(Detect(path), path, explicit)
}
