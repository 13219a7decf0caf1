package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/types"
	_ "github.com/simonhull/bfio/internal/zarr" // conversion targets
)

func init() {
	registry.Register(backend{})
}

// layoutKey marks the converter's top-level group; the image lives in the
// series group below it.
const layoutKey = "bioformats2raw.layout"

type backend struct{}

func (backend) Name() registry.Kind { return registry.KindBioformats }

func (backend) Open(ctx context.Context, path string, req registry.OpenRequest) (registry.Handle, error) {
	if req.Mode == registry.ModeWrite {
		return nil, &types.ReadOnlyError{Path: path, Backend: string(registry.KindBioformats)}
	}
	if req.Store != nil {
		return nil, types.Invalidf("bioformats backend reads files, not key/value stores")
	}
	bridge := req.Options.Bridge
	if bridge == nil {
		return nil, fmt.Errorf("%s: %w: acquire the legacy bridge before opening legacy formats", path, types.ErrUnavailable)
	}
	if _, err := os.Stat(path); errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, types.ErrNotFound)
	}

	tmp, err := os.MkdirTemp("", "bfio-legacy-*")
	if err != nil {
		return nil, &types.StorageError{Path: path, Op: "convert", Err: err}
	}
	h, err := convertAndOpen(ctx, bridge, path, tmp, req)
	if err != nil {
		os.RemoveAll(tmp) //nolint:errcheck // already failing
		return nil, err
	}
	return h, nil
}

func convertAndOpen(ctx context.Context, bridge registry.Converter, path, tmp string, req registry.OpenRequest) (*handle, error) {
	log := req.Options.Log().With("backend", string(registry.KindBioformats), "path", path)
	dst := filepath.Join(tmp, "image.ome.zarr")
	if err := bridge.Convert(ctx, path, dst); err != nil {
		return nil, err
	}

	root := seriesRoot(dst)
	desc := types.Detect(root)
	if desc.Format != types.FormatZarrV2 && desc.Format != types.FormatZarrV3 {
		return nil, &types.UnsupportedFormatError{Path: path, Reason: "converter produced no Zarr image"}
	}
	kind, err := registry.Select(desc, root, "")
	if err != nil {
		return nil, err
	}
	log.Debug("delegating converted image", "kind", string(kind), "root", root, "bridge", bridge.Version())

	inner, err := registry.Get(kind).Open(ctx, root, registry.OpenRequest{Options: req.Options, Mode: registry.ModeRead})
	if err != nil {
		return nil, err
	}
	return &handle{Handle: inner, path: path, tmp: tmp}, nil
}

// seriesRoot returns the first series group when dst uses the converter's
// multi-series layout, and dst otherwise.
func seriesRoot(dst string) string {
	for _, name := range []string{types.MarkerZattrs, types.MarkerZarrV3} {
		data, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			continue
		}
		var doc map[string]json.RawMessage
		if json.Unmarshal(data, &doc) != nil {
			continue
		}
		if attrs, ok := doc["attributes"]; ok {
			doc = nil
			if json.Unmarshal(attrs, &doc) != nil {
				continue
			}
		}
		if _, ok := doc[layoutKey]; ok {
			return filepath.Join(dst, "0")
		}
	}
	return dst
}

// handle serves reads from the converted copy and removes it on Close.
type handle struct {
	registry.Handle
	path   string
	tmp    string
	closed atomic.Bool
}

func (h *handle) WriteRegion(context.Context, types.Selection, *types.Array) error {
	if h.closed.Load() {
		return types.ErrClosed
	}
	return &types.ReadOnlyError{Path: h.path, Backend: string(registry.KindBioformats)}
}

func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := h.Handle.Close()
	if rmErr := os.RemoveAll(h.tmp); rmErr != nil && err == nil {
		err = &types.StorageError{Path: h.path, Op: "cleanup", Err: rmErr}
	}
	return err
}
