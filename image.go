package bfio

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/simonhull/bfio/internal/legacy"
	"github.com/simonhull/bfio/internal/registry"
)

// Mode selects read or write access.
type Mode = registry.Mode

// Access modes for OpenFile.
const (
	ModeRead  = registry.ModeRead
	ModeWrite = registry.ModeWrite
)

// Image is an open 5D image in any supported format.
//
// Image is safe for concurrent Read and Write. Writes to overlapping chunks
// are serialised; the pixels of overlapping regions end up from one writer
// or the other, never a mix within a chunk.
//
// Always call Close when done; for written images Close flushes metadata
// and, for TIFF, the file itself:
//
//	img, err := bfio.Open("cells.ome.tif")
//	if err != nil {
//		return err
//	}
//	defer img.Close()
type Image struct {
	// Path as given to Open or Create.
	Path string

	// Warnings encountered while opening (non-fatal issues).
	Warnings []Warning

	handle  registry.Handle
	meta    *Metadata
	backend Backend
	mode    Mode
	// owned is a store created for this image from configuration.
	owned Store
}

// Open opens an existing image for reading.
//
// The backend is chosen from on-disk markers, then the file extension,
// unless WithBackend names one.
//
// Example:
//
//	img, err := bfio.Open("plate.ome.zarr")
//	if err != nil {
//		return err
//	}
//	defer img.Close()
//	arr, err := img.Read(bfio.Region{C: bfio.Index(0), Z: bfio.Range(0, 4)})
func Open(path string, opts ...Option) (*Image, error) {
	return OpenFile(context.Background(), path, ModeRead, opts...)
}

// OpenContext is Open with a context bounding detection, conversion and
// metadata reads.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Image, error) {
	return OpenFile(ctx, path, ModeRead, opts...)
}

// Create creates a new image for writing. Dims and DType are required,
// through WithDims and WithDType or WithMetadata. Existing data at path is
// replaced.
//
// Example:
//
//	img, err := bfio.Create("out.ome.zarr",
//	    bfio.WithDims(2048, 2048, 16, 3, 1),
//	    bfio.WithDType(bfio.Uint16),
//	    bfio.WithChannelNames("DAPI", "GFP", "RFP"),
//	)
func Create(path string, opts ...Option) (*Image, error) {
	return OpenFile(context.Background(), path, ModeWrite, opts...)
}

// OpenFile opens path in the given mode.
func OpenFile(ctx context.Context, path string, mode Mode, opts ...Option) (*Image, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.err != nil {
		return nil, options.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := options.log()

	img := &Image{Path: path, mode: mode}
	st := options.store
	if st == nil && options.storeFor != nil {
		var err error
		if st, err = options.storeFor(ctx, path, options.logger); err != nil {
			return nil, err
		}
		img.owned = st
	}
	fail := func(err error) (*Image, error) {
		if img.owned != nil {
			img.owned.Close() //nolint:errcheck // already failing
		}
		return nil, err
	}

	kind, err := selectBackend(ctx, path, mode, st, options.backend)
	if err != nil {
		return fail(err)
	}
	if kind != registry.KindZarr && kind != registry.KindZarr3 && img.owned != nil {
		img.owned.Close() //nolint:errcheck // unused for this backend
		img.owned, st = nil, nil
	}
	log.Debug("selected backend", "path", path, "backend", string(kind), "mode", mode.String())

	req := registry.OpenRequest{Store: st, Options: options.registryOptions(), Mode: mode}
	if kind == registry.KindBioformats && req.Options.Bridge == nil {
		if b := legacy.Current(); b != nil {
			req.Options.Bridge = b
		}
	}
	if mode == ModeWrite {
		meta := options.meta
		req.Metadata = &meta
	}

	h, err := registry.Get(kind).Open(ctx, path, req)
	req.Options.Recorder().ObserveOpen(string(kind), err)
	if err != nil {
		return fail(err)
	}
	img.handle, img.meta, img.backend = h, h.Metadata(), kind
	img.Warnings = h.Warnings()

	if options.strict {
		for _, w := range img.Warnings {
			if w.Stage == "metadata" {
				img.Close() //nolint:errcheck // already failing
				return nil, &MetadataError{Path: path, Source: "ome-xml", Repaired: true, Err: errors.New("strict metadata: " + w.Message)}
			}
		}
	}
	if options.ignoreWarnings {
		img.Warnings = nil
	}
	return img, nil
}

// selectBackend detects the format and picks a backend. New images are
// placed by extension alone.
func selectBackend(ctx context.Context, path string, mode Mode, st Store, explicit Backend) (Backend, error) {
	var desc Descriptor
	switch {
	case mode == ModeWrite:
	case st != nil:
		d, err := DetectStore(ctx, st)
		if err != nil {
			return "", err
		}
		desc = d
		if desc.Format == FormatUnknown && explicit == "" {
			return "", &UnsupportedFormatError{Path: st.Location(), Reason: "store holds no Zarr metadata"}
		}
	default:
		desc = Detect(path)
	}
	kind, err := registry.Select(desc, path, explicit)
	if err != nil {
		return "", err
	}
	if registry.Get(kind) == nil {
		return "", &UnsupportedFormatError{Path: path, Reason: fmt.Sprintf("backend %s is not available", kind)}
	}
	return kind, nil
}

// ImageSize returns the width and height of the image at path, reading only
// its metadata.
func ImageSize(path string, opts ...Option) (width, height int, err error) {
	img, err := Open(path, opts...)
	if err != nil {
		return 0, 0, err
	}
	defer img.Close() //nolint:errcheck // read-only
	return img.X(), img.Y(), nil
}

// OpenMany opens several images concurrently, up to runtime.NumCPU() at a
// time. Results keep the input order. If any open fails, every image
// already opened is closed and only the error is returned.
//
// Example:
//
//	imgs, err := bfio.OpenMany(ctx, paths...)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer func() {
//		for _, img := range imgs {
//			img.Close()
//		}
//	}()
func OpenMany(ctx context.Context, paths ...string) ([]*Image, error) {
	return OpenManyWith(ctx, paths, nil)
}

// OpenManyWith is OpenMany with options applied to every open.
func OpenManyWith(ctx context.Context, paths []string, opts []Option) ([]*Image, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	results := make([]*Image, len(paths))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := OpenContext(ctx, path, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, img := range results {
			if img != nil {
				img.Close() //nolint:errcheck // already failing
			}
		}
		return nil, err
	}
	return results, nil
}

// Read returns the pixels selected by region.
func (img *Image) Read(region Region) (*Array, error) {
	return img.ReadContext(context.Background(), region)
}

// ReadContext is Read with cancellation. Out-of-range regions fail before
// any pixel access.
func (img *Image) ReadContext(ctx context.Context, region Region) (*Array, error) {
	sel, err := region.Resolve(img.meta.Dims)
	if err != nil {
		return nil, err
	}
	return img.handle.ReadRegion(ctx, sel)
}

// Write stores arr at region. arr's shape must equal the region's shape and
// its DType the image's.
func (img *Image) Write(region Region, arr *Array) error {
	return img.WriteContext(context.Background(), region, arr)
}

// WriteContext is Write with cancellation.
func (img *Image) WriteContext(ctx context.Context, region Region, arr *Array) error {
	sel, err := region.Resolve(img.meta.Dims)
	if err != nil {
		return err
	}
	return img.handle.WriteRegion(ctx, sel, arr)
}

// Metadata returns the normalized image description. It must not be modified.
func (img *Image) Metadata() *Metadata { return img.meta }

// Backend reports the backend serving this image.
func (img *Image) Backend() Backend { return img.backend }

// Mode reports whether the image was opened for reading or writing.
func (img *Image) Mode() Mode { return img.mode }

// X returns the image width.
func (img *Image) X() int { return img.meta.X() }

// Y returns the image height.
func (img *Image) Y() int { return img.meta.Y() }

// Z returns the number of focal planes.
func (img *Image) Z() int { return img.meta.Z() }

// C returns the number of channels.
func (img *Image) C() int { return img.meta.C() }

// T returns the number of timepoints.
func (img *Image) T() int { return img.meta.T() }

// DType returns the pixel type.
func (img *Image) DType() DType { return img.meta.DType }

// Dims returns the size of every axis.
func (img *Image) Dims() Dims { return img.meta.Dims }

// Close flushes pending writes and releases resources. It is idempotent;
// reads and writes after Close fail with ErrClosed.
func (img *Image) Close() error {
	err := img.handle.Close()
	if img.owned != nil {
		if cerr := img.owned.Close(); cerr != nil && err == nil {
			err = &StorageError{Path: img.Path, Op: "close", Err: cerr}
		}
		img.owned = nil
	}
	return err
}
