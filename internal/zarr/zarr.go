// Package zarr implements the Zarr v2 ("zarr") and Zarr v3 ("zarr3")
// backends over a key/value store.
//
// Written images are OME-Zarr: a root group carrying NGFF multiscale
// attributes, the pixel array at "0" in t,c,z,y,x order and the OME-XML
// document at OME/METADATA.ome.xml.
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"slices"
	"sync/atomic"

	"github.com/simonhull/bfio/internal/codec"
	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/ngff"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/store"
	fsstore "github.com/simonhull/bfio/internal/store/fs"
	"github.com/simonhull/bfio/internal/types"
)

func init() {
	registry.Register(&backend{kind: registry.KindZarr, version: 2})
	registry.Register(&backend{kind: registry.KindZarr3, version: 3})
}

// arrayPath is where writers place the full-resolution array.
const arrayPath = "0"

// Default write codecs per format version.
const (
	defaultCodecV2 = codec.Zlib
	defaultCodecV3 = codec.Zstd
)

type backend struct {
	kind    registry.Kind
	version int
}

func (b *backend) Name() registry.Kind { return b.kind }

func (b *backend) Open(ctx context.Context, path string, req registry.OpenRequest) (registry.Handle, error) {
	st, owned := req.Store, false
	if st == nil {
		if req.Mode == registry.ModeRead {
			if _, err := os.Stat(path); errors.Is(err, iofs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", path, types.ErrNotFound)
			}
		}
		st, owned = fsstore.New(path), true
	}

	var (
		h   *handle
		err error
	)
	if req.Mode == registry.ModeWrite {
		h, err = b.create(ctx, path, st, req)
	} else {
		h, err = b.open(ctx, path, st, req)
	}
	if err != nil {
		if owned {
			st.Close() //nolint:errcheck // already failing
		}
		return nil, err
	}
	h.ownsStore = owned
	return h, nil
}

// nodeInfo is one resolved hierarchy node.
type nodeInfo struct {
	array *arrayMeta
	attrs json.RawMessage
}

// readNode loads the metadata at prefix. A missing node wraps store.ErrNotFound.
func (b *backend) readNode(ctx context.Context, st store.Store, prefix string) (*nodeInfo, error) {
	if b.version == 3 {
		data, err := st.Get(ctx, store.Join(prefix, types.MarkerZarrV3))
		if err != nil {
			return nil, err
		}
		n, arr, err := parseNode(data)
		if err != nil {
			return nil, err
		}
		return &nodeInfo{array: arr, attrs: n.Attributes}, nil
	}

	info := &nodeInfo{}
	attrs, err := st.Get(ctx, store.Join(prefix, types.MarkerZattrs))
	switch {
	case err == nil:
		info.attrs = attrs
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	data, err := st.Get(ctx, store.Join(prefix, types.MarkerZarray))
	if err == nil {
		info.array, err = parseZarray(data)
		return info, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := st.Get(ctx, store.Join(prefix, types.MarkerZgroup)); err != nil {
		return nil, err
	}
	return info, nil
}

func (b *backend) open(ctx context.Context, path string, st store.Store, req registry.OpenRequest) (*handle, error) {
	opts := req.Options
	log := opts.Log().With("backend", string(b.kind), "path", path)

	root, err := b.readNode(ctx, st, "")
	if err != nil {
		return nil, b.nodeError(path, "", err)
	}
	prefix, arr := "", root.array
	if arr == nil {
		if prefix = ngff.DatasetPath(root.attrs); prefix == "" {
			prefix = arrayPath
		}
		node, err := b.readNode(ctx, st, prefix)
		if err != nil {
			return nil, b.nodeError(path, prefix, err)
		}
		if node.array == nil {
			return nil, &types.MetadataError{Path: path, Source: "zarr", Err: errors.New("no array at " + prefix)}
		}
		arr = node.array
	}

	m, _, err := ngff.Decode(root.attrs, ngff.ArrayInfo{
		Shape:          arr.Shape,
		Chunks:         arr.Chunks,
		DimensionNames: arr.DimensionNames,
		DType:          arr.DType,
	})
	if err != nil {
		var dm *types.DimensionMismatchError
		if errors.As(err, &dm) {
			dm.Path = path
			return nil, dm
		}
		return nil, &types.MetadataError{Path: path, Source: "ngff", Err: err}
	}

	h := &handle{kind: b.kind, path: path, store: st, mode: registry.ModeRead}
	if err := h.loadOME(ctx, m, opts, log); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, &types.MetadataError{Path: path, Source: "zarr", Err: err}
	}

	if err := h.attach(m, arr, prefix, opts); err != nil {
		return nil, err
	}
	log.Debug("opened zarr image", "dims", m.Dims.String(), "dtype", m.DType.String(), "array", prefix)
	return h, nil
}

// nodeError classifies a failure to load hierarchy metadata.
func (b *backend) nodeError(path, prefix string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: no zarr v%d metadata at %q: %w", path, b.version, prefix, types.ErrNotFound)
	}
	if errors.Is(err, types.ErrMetadata) || errors.Is(err, types.ErrUnsupportedFormat) {
		return &types.MetadataError{Path: path, Source: "zarr", Err: err}
	}
	return &types.StorageError{Path: path, Key: prefix, Op: "read", Err: err}
}

func (b *backend) create(ctx context.Context, path string, st store.Store, req registry.OpenRequest) (*handle, error) {
	if req.Metadata == nil {
		return nil, types.Invalidf("write mode requires metadata")
	}
	opts := req.Options
	m := req.Metadata.Clone()
	if len(m.AxisOrder) > 0 && !slices.Equal(m.AxisOrder, types.DefaultAxisOrder) {
		m.AxisOrder, m.ChunkShape = nil, nil
	}
	m.ApplyDefaults(opts.Tile())
	if err := m.Validate(); err != nil {
		return nil, err
	}

	name := opts.Compression
	if name == "" {
		name = defaultCodecV2
		if b.version == 3 {
			name = defaultCodecV3
		}
	}
	c, err := codec.New(name, opts.CompressionLevel)
	if err != nil {
		return nil, types.Invalidf("%v", err)
	}
	arr := &arrayMeta{
		Codec:     c,
		Shape:     m.Shape(),
		Chunks:    m.ChunkShape,
		DType:     m.DType,
		Separator: "/",
	}
	if b.version == 3 {
		arr.KeyPrefix = "c"
		arr.DimensionNames = []string{"t", "c", "z", "y", "x"}
	}

	docs, err := b.documents(m, arr)
	if err != nil {
		return nil, err
	}

	// Replace any previous image at this location.
	keys, err := st.List(ctx, "")
	if err != nil {
		return nil, &types.StorageError{Path: path, Op: "list", Err: err}
	}
	for _, key := range keys {
		if err := st.Delete(ctx, key); err != nil {
			return nil, &types.StorageError{Path: path, Key: key, Op: "delete", Err: err}
		}
	}
	for _, d := range docs {
		if err := st.Set(ctx, d.key, d.data); err != nil {
			return nil, &types.StorageError{Path: path, Key: d.key, Op: "write", Err: err}
		}
	}

	h := &handle{kind: b.kind, path: path, store: st, mode: registry.ModeWrite}
	if err := h.attach(m, arr, arrayPath, opts); err != nil {
		return nil, err
	}
	h.engine.Invalidate()
	opts.Log().Debug("created zarr image", "backend", string(b.kind), "path", path, "dims", m.Dims.String())
	return h, nil
}

type document struct {
	key  string
	data []byte
}

// documents renders every metadata file of a new image.
func (b *backend) documents(m *types.Metadata, arr *arrayMeta) ([]document, error) {
	xml, err := ome.Encode(m)
	if err != nil {
		return nil, err
	}

	if b.version == 3 {
		attrs, err := ngff.Encode(m, ngff.V05)
		if err != nil {
			return nil, err
		}
		group, err := encodeGroupNode(attrs)
		if err != nil {
			return nil, err
		}
		array, err := encodeArrayNode(arr)
		if err != nil {
			return nil, err
		}
		series, err := encodeGroupNode(json.RawMessage(`{"ome":{"version":"0.5","series":["0"]}}`))
		if err != nil {
			return nil, err
		}
		return []document{
			{types.MarkerZarrV3, group},
			{store.Join(arrayPath, types.MarkerZarrV3), array},
			{store.Join("OME", types.MarkerZarrV3), series},
			{types.OMEXMLPath, xml},
		}, nil
	}

	attrs, err := ngff.Encode(m, ngff.V04)
	if err != nil {
		return nil, err
	}
	group, err := json.Marshal(zgroup{ZarrFormat: 2})
	if err != nil {
		return nil, err
	}
	array, err := encodeZarray(arr)
	if err != nil {
		return nil, err
	}
	return []document{
		{types.MarkerZgroup, group},
		{types.MarkerZattrs, attrs},
		{store.Join(arrayPath, types.MarkerZarray), array},
		{store.Join("OME", types.MarkerZgroup), group},
		{store.Join("OME", types.MarkerZattrs), []byte(`{"series":["0"]}`)},
		{types.OMEXMLPath, xml},
	}, nil
}

// handle is an open Zarr image.
type handle struct {
	store     store.Store
	meta      *types.Metadata
	engine    *layout.Engine
	kind      registry.Kind
	path      string
	warnings  []types.Warning
	mode      registry.Mode
	closed    atomic.Bool
	ownsStore bool
}

// attach builds the chunk engine for the array at prefix.
func (h *handle) attach(m *types.Metadata, arr *arrayMeta, prefix string, opts registry.Options) error {
	io := &chunkIO{
		store:   h.store,
		meta:    arr,
		metrics: opts.Recorder(),
		log:     opts.Log(),
		path:    h.path,
		prefix:  prefix,
		backend: string(h.kind),
	}
	engine, err := layout.NewEngine(m, io)
	if err != nil {
		return &types.MetadataError{Path: h.path, Source: "zarr", Err: err}
	}
	io.size = engine.ChunkBytes()
	opts.Configure(engine, h.store.Location()+"/"+prefix)
	h.meta, h.engine = m, engine
	return nil
}

// loadOME reconciles m with OME/METADATA.ome.xml when present.
func (h *handle) loadOME(ctx context.Context, m *types.Metadata, opts registry.Options, log *slog.Logger) error {
	data, err := h.store.Get(ctx, types.OMEXMLPath)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &types.StorageError{Path: h.path, Key: types.OMEXMLPath, Op: "read", Err: err}
	}

	res := ome.Decode(data, opts.DecodeOptions())
	if res.Status == ome.Failed {
		return res.Error(h.path)
	}
	if res.Status == ome.Repaired {
		log.Warn("read_metadata(): "+ome.RepairWarning, "rules", res.Applied)
		h.warnings = append(h.warnings, types.Warning{Stage: "metadata", Message: ome.RepairWarning})
	}
	return reconcile(h.path, m, res.Metadata)
}

// reconcile checks OME-XML against the array and fills fields NGFF lacks.
func reconcile(path string, m, x *types.Metadata) error {
	if x.Dims != m.Dims {
		return &types.DimensionMismatchError{Path: path, What: "dimensions", Declared: x.Dims.String(), Actual: m.Dims.String()}
	}
	if x.DType != m.DType {
		return &types.DimensionMismatchError{Path: path, What: "pixel type", Declared: x.DType.String(), Actual: m.DType.String()}
	}
	if m.Name == "" {
		m.Name = x.Name
	}
	for i := range m.PhysicalSize {
		if m.PhysicalSize[i].Value == 0 {
			m.PhysicalSize[i] = x.PhysicalSize[i]
		}
	}
	for c := range m.ChannelNames {
		if m.ChannelNames[c] == types.DefaultChannelName(c) {
			m.ChannelNames[c] = x.Channel(c)
		}
	}
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
		return &types.ReadOnlyError{Path: h.path, Backend: string(h.kind)}
	}
	return h.engine.Write(ctx, sel, arr)
}

// Close releases the store when the handle opened it. Chunks are written
// through, so there is nothing to flush.
func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.ownsStore {
		return h.store.Close()
	}
	return nil
}
