package tiff

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/simonhull/bfio/internal/binary"
	"github.com/simonhull/bfio/internal/codec"
	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/store"
	"github.com/simonhull/bfio/internal/store/memory"
	"github.com/simonhull/bfio/internal/types"
)

func init() {
	registry.Register(backend{})
}

const (
	software     = "bfio"
	tileMultiple = 16
)

type backend struct{}

func (backend) Name() registry.Kind { return registry.KindTIFF }

func (b backend) Open(ctx context.Context, path string, req registry.OpenRequest) (registry.Handle, error) {
	if req.Store != nil {
		return nil, types.Invalidf("tiff backend reads files, not key/value stores")
	}
	if req.Mode == registry.ModeWrite {
		return create(path, req)
	}
	return open(path, req)
}

// handle is an open TIFF file, either being read or staged for writing.
type handle struct {
	meta     *types.Metadata
	engine   *layout.Engine
	file     *os.File
	staging  *memory.Store
	codec    codec.Codec
	log      *slog.Logger
	path     string
	warnings []types.Warning
	mode     registry.Mode
	closed   atomic.Bool
	// compression is the Compression tag written on Close.
	compression uint16
}

func open(path string, req registry.OpenRequest) (*handle, error) {
	opts := req.Options
	log := opts.Log().With("backend", string(registry.KindTIFF), "path", path)

	f, err := os.Open(path)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, types.ErrNotFound)
	}
	if err != nil {
		return nil, &types.StorageError{Path: path, Op: "open", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck // already failing
		return nil, &types.StorageError{Path: path, Op: "stat", Err: err}
	}

	h := &handle{file: f, path: path, log: log, mode: registry.ModeRead}
	if err := h.load(binary.NewSafeReader(f, info.Size(), path), opts); err != nil {
		f.Close() //nolint:errcheck // already failing
		return nil, err
	}
	log.Debug("opened tiff image", "dims", h.meta.Dims.String(), "dtype", h.meta.DType.String())
	return h, nil
}

func (h *handle) load(sr *binary.SafeReader, opts registry.Options) error {
	hdr, err := readHeader(sr)
	if err != nil {
		return wrapRead(h.path, err)
	}
	ifds, err := readIFDs(sr, hdr)
	if err != nil {
		return wrapRead(h.path, err)
	}
	m, err := h.describe(ifds, opts)
	if err != nil {
		return err
	}

	first := ifds[0]
	planes := m.Z() * m.C() * m.T()
	codecs := make([]codec.Codec, planes)
	for i, d := range ifds[:planes] {
		if !first.sameLayout(d) {
			return &types.DimensionMismatchError{
				Path:     h.path,
				What:     fmt.Sprintf("plane %d geometry", i),
				Declared: fmt.Sprintf("%dx%d", first.width, first.height),
				Actual:   fmt.Sprintf("%dx%d", d.width, d.height),
			}
		}
		if codecs[i], err = codecFor(d.compression); err != nil {
			return &types.UnsupportedFormatError{Path: h.path, Reason: err.Error()}
		}
	}
	m.ChunkShape = []int{1, 1, 1, first.blockH, first.blockW}
	if err := m.Validate(); err != nil {
		return &types.MetadataError{Path: h.path, Source: "tiff", Err: err}
	}

	shape := m.Shape()
	r := &blockReader{
		sr:        sr,
		ifds:      ifds[:planes],
		codecs:    codecs,
		outer:     [3]int{shape[0], shape[1], shape[2]},
		bigEndian: hdr.order == binary.BigEndian,
		itemSize:  m.DType.Size(),
		metrics:   opts.Recorder(),
		path:      h.path,
	}
	engine, err := layout.NewEngine(m, r)
	if err != nil {
		return &types.MetadataError{Path: h.path, Source: "tiff", Err: err}
	}
	r.size = engine.ChunkBytes()
	opts.Configure(engine, h.path)
	h.meta, h.engine = m, engine
	return nil
}

// wrapRead classifies header and directory failures.
func wrapRead(path string, err error) error {
	if errors.Is(err, types.ErrStorage) || errors.Is(err, types.ErrUnsupportedFormat) {
		return err
	}
	return &types.StorageError{Path: path, Op: "read", Err: err}
}

// isOME reports whether an ImageDescription holds an OME-XML document.
func isOME(desc string) bool {
	return strings.Contains(desc, "<OME") || strings.Contains(desc, ":OME")
}

// describe builds the metadata model from the first directory's OME-XML,
// or from the directory chain for plain TIFF files.
func (h *handle) describe(ifds []*ifd, opts registry.Options) (*types.Metadata, error) {
	first := ifds[0]
	dt, err := types.DTypeFromTIFF(first.bits, first.format)
	if err != nil {
		return nil, &types.UnsupportedFormatError{Path: h.path, Reason: err.Error()}
	}

	if !isOME(first.description) {
		planes := 1
		for planes < len(ifds) && first.sameLayout(ifds[planes]) {
			planes++
		}
		m := &types.Metadata{
			Dims:      types.NewDims(first.width, first.height, planes, 1, 1),
			DType:     dt,
			AxisOrder: append(types.AxisOrder(nil), types.DefaultAxisOrder...),
		}
		m.ChannelNames = []string{types.DefaultChannelName(0)}
		return m, nil
	}

	res := ome.Decode([]byte(first.description), opts.DecodeOptions())
	switch res.Status {
	case ome.Failed:
		return nil, res.Error(h.path)
	case ome.Repaired:
		h.log.Warn("read_metadata(): "+ome.RepairWarning, "rules", res.Applied)
		h.warnings = append(h.warnings, types.Warning{Stage: "metadata", Message: ome.RepairWarning})
	}
	m := res.Metadata
	if m.DType != dt {
		return nil, &types.DimensionMismatchError{Path: h.path, What: "pixel type", Declared: m.DType.String(), Actual: dt.String()}
	}
	if m.X() != first.width || m.Y() != first.height {
		return nil, &types.DimensionMismatchError{
			Path:     h.path,
			What:     "plane size",
			Declared: fmt.Sprintf("%dx%d", m.X(), m.Y()),
			Actual:   fmt.Sprintf("%dx%d", first.width, first.height),
		}
	}
	if planes := m.Z() * m.C() * m.T(); len(ifds) < planes {
		return nil, &types.DimensionMismatchError{
			Path:     h.path,
			What:     "plane count",
			Declared: fmt.Sprint(planes),
			Actual:   fmt.Sprint(len(ifds)),
		}
	}
	return m, nil
}

// blockReader serves tiles or strips as chunks. The three outer physical
// axes select the directory; the inner two select the block.
type blockReader struct {
	sr        *binary.SafeReader
	metrics   metrics.Recorder
	ifds      []*ifd
	codecs    []codec.Codec
	path      string
	outer     [3]int
	itemSize  int
	size      int
	bigEndian bool
}

func (r *blockReader) ReadChunk(_ context.Context, coords []int) ([]byte, error) {
	p := (coords[0]*r.outer[1]+coords[1])*r.outer[2] + coords[2]
	d := r.ifds[p]
	idx := coords[3]*d.across() + coords[4]
	n := d.counts[idx]
	if n == 0 {
		return nil, nil
	}
	key := fmt.Sprintf("ifd %d block %d", p, idx)

	start := time.Now()
	buf := make([]byte, n)
	if err := r.sr.ReadAt(buf, int64(d.offsets[idx]), key); err != nil {
		r.metrics.ObserveChunkRead(string(registry.KindTIFF), 0, time.Since(start), err)
		return nil, &types.StorageError{Path: r.path, Key: key, Op: "read", Err: err}
	}
	raw, err := r.codecs[p].Decode(buf, -1)
	r.metrics.ObserveChunkRead(string(registry.KindTIFF), len(buf), time.Since(start), err)
	if err != nil {
		return nil, &types.StorageError{Path: r.path, Key: key, Op: "decode", Err: err}
	}

	// The last strip is usually short; tiles may carry trailing padding.
	switch {
	case len(raw) > r.size:
		raw = raw[:r.size]
	case len(raw) < r.size:
		raw = append(raw, make([]byte, r.size-len(raw))...)
	}
	if r.bigEndian {
		types.SwapBytes(raw, r.itemSize)
	}
	return raw, nil
}

func (r *blockReader) WriteChunk(context.Context, []int, []byte) error {
	return &types.ReadOnlyError{Path: r.path, Backend: string(registry.KindTIFF)}
}

func create(path string, req registry.OpenRequest) (*handle, error) {
	if req.Metadata == nil {
		return nil, types.Invalidf("write mode requires metadata")
	}
	opts := req.Options
	m := req.Metadata.Clone()
	m.AxisOrder = append(types.AxisOrder(nil), types.DefaultAxisOrder...)
	for a := range m.Dims {
		m.Dims[a] = max(m.Dims[a], 1)
	}
	tile := min(opts.Tile(), max(m.X(), m.Y()))
	tile = (tile + tileMultiple - 1) / tileMultiple * tileMultiple
	m.ChunkShape = []int{1, 1, 1, tile, tile}
	m.ApplyDefaults(tile)
	if err := m.Validate(); err != nil {
		return nil, err
	}

	name := opts.Compression
	if name == "" {
		name = codec.Zlib
	}
	c, err := codec.New(name, opts.CompressionLevel)
	if err != nil {
		return nil, types.Invalidf("%v", err)
	}
	compression, err := compressionFor(c.Name())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Path: path, Op: "create", Err: err}
	}

	h := &handle{
		path:        path,
		log:         opts.Log().With("backend", string(registry.KindTIFF), "path", path),
		mode:        registry.ModeWrite,
		staging:     memory.New(),
		codec:       c,
		compression: compression,
	}
	w := &blockWriter{h: h, metrics: opts.Recorder()}
	engine, err := layout.NewEngine(m, w)
	if err != nil {
		return nil, err
	}
	w.size = engine.ChunkBytes()
	opts.Configure(engine, path)
	engine.Invalidate()
	h.meta, h.engine = m, engine
	return h, nil
}

// blockWriter stages encoded tiles in memory until Close.
type blockWriter struct {
	h       *handle
	metrics metrics.Recorder
	size    int
}

func (w *blockWriter) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	stored, err := w.h.staging.Get(ctx, layout.CoordsKey(coords))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Path: w.h.path, Key: layout.CoordsKey(coords), Op: "read", Err: err}
	}
	raw, err := w.h.codec.Decode(stored, w.size)
	if err != nil {
		return nil, &types.StorageError{Path: w.h.path, Key: layout.CoordsKey(coords), Op: "decode", Err: err}
	}
	return raw, nil
}

func (w *blockWriter) WriteChunk(ctx context.Context, coords []int, data []byte) error {
	key := layout.CoordsKey(coords)
	start := time.Now()
	encoded, err := w.h.codec.Encode(data)
	if err == nil {
		err = w.h.staging.Set(ctx, key, encoded)
	}
	w.metrics.ObserveChunkWrite(string(registry.KindTIFF), len(encoded), time.Since(start), err)
	if err != nil {
		return &types.StorageError{Path: w.h.path, Key: key, Op: "write", Err: err}
	}
	return nil
}

// flush writes the staged tiles as an OME-TIFF with one directory per
// plane in XYZCT order.
func (h *handle) flush(ctx context.Context) error {
	m := h.meta
	doc, err := ome.Encode(m)
	if err != nil {
		return err
	}
	bits, format := m.DType.TIFF()
	tile := m.ChunkShape[4]
	across := (m.X() + tile - 1) / tile
	down := (m.Y() + tile - 1) / tile
	shape := m.Shape()

	zero, err := h.codec.Encode(make([]byte, tile*tile*m.DType.Size()))
	if err != nil {
		return &types.StorageError{Path: h.path, Op: "encode", Err: err}
	}

	planes := make([]plane, shape[0]*shape[1]*shape[2])
	for p := range planes {
		outer := []int{p / (shape[1] * shape[2]), p / shape[2] % shape[1], p % shape[2]}
		entries := []entry{
			longs(tagImageWidth, uint32(m.X())),
			longs(tagImageLength, uint32(m.Y())),
			shorts(tagBitsPerSample, bits),
			shorts(tagCompression, h.compression),
			shorts(tagPhotometric, photometricBlackIsZero),
		}
		if p == 0 {
			entries = append(entries, ascii(tagImageDescription, string(doc)))
		}
		entries = append(entries,
			shorts(tagSamplesPerPixel, 1),
			shorts(tagPlanarConfig, 1),
			ascii(tagSoftware, software),
			longs(tagTileWidth, uint32(tile)),
			longs(tagTileLength, uint32(tile)),
			shorts(tagSampleFormat, format),
		)

		blocks := make([][]byte, across*down)
		for ty := range down {
			for tx := range across {
				key := layout.CoordsKey(append(slices.Clone(outer), ty, tx))
				b, err := h.staging.Get(ctx, key)
				switch {
				case errors.Is(err, store.ErrNotFound):
					b = zero
				case err != nil:
					return &types.StorageError{Path: h.path, Key: key, Op: "read", Err: err}
				}
				blocks[ty*across+tx] = b
			}
		}
		planes[p] = plane{entries: entries, blocks: blocks}
	}

	if err := writeFile(h.path, planes); err != nil {
		return &types.StorageError{Path: h.path, Op: "write", Err: err}
	}
	h.log.Debug("wrote tiff image", "planes", len(planes), "tiles", across*down)
	return nil
}

func (h *handle) Metadata() *types.Metadata { return h.meta }

func (h *handle) Warnings() []types.Warning { return h.warnings }

func (h *handle) ReadRegion(ctx context.Context, sel types.Selection) (*types.Array, error) {
	if h.closed.Load() {
		return nil, types.ErrClosed
	}
	return h.engine.Read(ctx, sel)
}

func (h *handle) WriteRegion(ctx context.Context, sel types.Selection, arr *types.Array) error {
	if h.closed.Load() {
		return types.ErrClosed
	}
	if h.mode != registry.ModeWrite {
		return &types.ReadOnlyError{Path: h.path, Backend: string(registry.KindTIFF)}
	}
	return h.engine.Write(ctx, sel, arr)
}

// Close writes the file in write mode and releases it in read mode.
func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.mode == registry.ModeWrite {
		err := h.flush(context.Background())
		h.staging = nil
		// Readers may have cached the previous file while this one was staged.
		h.engine.Invalidate()
		return err
	}
	return h.file.Close()
}
