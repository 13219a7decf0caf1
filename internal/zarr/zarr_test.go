package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/simonhull/bfio/internal/codec"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/store/memory"
	"github.com/simonhull/bfio/internal/types"
)

func openHandle(t *testing.T, kind registry.Kind, path string, req registry.OpenRequest) registry.Handle {
	t.Helper()
	h, err := registry.Get(kind).Open(context.Background(), path, req)
	if err != nil {
		t.Fatalf("Open(%s, %s) error = %v", kind, path, err)
	}
	t.Cleanup(func() { h.Close() }) //nolint:errcheck // idempotent
	return h
}

func selectAll(t *testing.T, dims types.Dims) types.Selection {
	t.Helper()
	sel, err := types.Region{}.Resolve(dims)
	if err != nil {
		t.Fatal(err)
	}
	return sel
}

func rampUint8(t *testing.T, shape types.Dims) *types.Array {
	t.Helper()
	vals := make([]uint8, shape.Count())
	for i := range vals {
		vals[i] = uint8(i * 31)
	}
	arr, err := types.ArrayOf(shape, vals)
	if err != nil {
		t.Fatal(err)
	}
	return arr
}

func TestZarr3_WriteReadScenario(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.ome.zarr")
	dims := types.NewDims(128, 128, 1, 1, 1)
	src := rampUint8(t, dims)

	w := openHandle(t, registry.KindZarr3, path, registry.OpenRequest{
		Mode:     registry.ModeWrite,
		Metadata: &types.Metadata{Dims: dims, DType: types.Uint8},
	})
	if err := w.WriteRegion(ctx, selectAll(t, dims), src); err != nil {
		t.Fatalf("WriteRegion() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(path, "zarr.json"))
	if err != nil {
		t.Fatalf("zarr.json missing: %v", err)
	}
	var root struct {
		ZarrFormat int    `json:"zarr_format"`
		NodeType   string `json:"node_type"`
		Attributes struct {
			OME struct {
				Version     string `json:"version"`
				Multiscales []struct {
					Axes []struct {
						Name string `json:"name"`
					} `json:"axes"`
				} `json:"multiscales"`
			} `json:"ome"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatal(err)
	}
	if root.ZarrFormat != 3 || root.NodeType != "group" {
		t.Errorf("root = format %d %s, want 3 group", root.ZarrFormat, root.NodeType)
	}
	if root.Attributes.OME.Version != "0.5" {
		t.Errorf("attributes.ome.version = %q, want 0.5", root.Attributes.OME.Version)
	}
	var axes []string
	for _, a := range root.Attributes.OME.Multiscales[0].Axes {
		axes = append(axes, a.Name)
	}
	if want := []string{"t", "c", "z", "y", "x"}; !slices.Equal(axes, want) {
		t.Errorf("axes = %v, want %v", axes, want)
	}
	if _, err := os.Stat(filepath.Join(path, "OME", "METADATA.ome.xml")); err != nil {
		t.Errorf("OME/METADATA.ome.xml missing: %v", err)
	}
	if d := types.Detect(path); d.Format != types.FormatZarrV3 {
		t.Errorf("Detect() = %s, want v3", d.Format)
	}

	r := openHandle(t, registry.KindZarr3, path, registry.OpenRequest{})
	m := r.Metadata()
	if m.Dims != dims || m.DType != types.Uint8 {
		t.Fatalf("metadata = %v %s, want %v uint8", m.Dims, m.DType, dims)
	}
	got, err := r.ReadRegion(ctx, selectAll(t, dims))
	if err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	if !bytes.Equal(got.Data, src.Data) {
		t.Error("read back pixels differ from source")
	}
	if len(r.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, want none", r.Warnings())
	}
}

func TestZarr_V2V3ByteIdentical(t *testing.T) {
	ctx := context.Background()
	dims := types.NewDims(70, 45, 1, 1, 1)
	vals := make([]float32, dims.Count())
	for i := range vals {
		vals[i] = float32(i) * 0.5
	}
	src, err := types.ArrayOf(dims, vals)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		kind   registry.Kind
		format types.Format
		codec  string
	}{
		{registry.KindZarr, types.FormatZarrV2, ""},
		{registry.KindZarr, types.FormatZarrV2, codec.Zstd},
		{registry.KindZarr3, types.FormatZarrV3, ""},
		{registry.KindZarr3, types.FormatZarrV3, codec.Gzip},
		{registry.KindZarr3, types.FormatZarrV3, codec.Raw},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.codec, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "img.zarr")
			w := openHandle(t, tt.kind, path, registry.OpenRequest{
				Mode:     registry.ModeWrite,
				Metadata: &types.Metadata{Dims: dims, DType: types.Float32},
				Options:  registry.Options{TileSize: 32, Compression: tt.codec},
			})
			if err := w.WriteRegion(ctx, selectAll(t, dims), src); err != nil {
				t.Fatalf("WriteRegion() error = %v", err)
			}
			w.Close() //nolint:errcheck // checked by reopen

			if d := types.Detect(path); d.Format != tt.format {
				t.Errorf("Detect() = %s, want %s", d.Format, tt.format)
			}
			r := openHandle(t, tt.kind, path, registry.OpenRequest{})
			if got := r.Metadata().ChunkShape; !slices.Equal(got, []int{1, 1, 1, 32, 32}) {
				t.Errorf("ChunkShape = %v", got)
			}
			got, err := r.ReadRegion(ctx, selectAll(t, dims))
			if err != nil {
				t.Fatalf("ReadRegion() error = %v", err)
			}
			if !bytes.Equal(got.Data, src.Data) {
				t.Error("pixels differ from source")
			}
		})
	}
}

func TestZarr_PartialWrites(t *testing.T) {
	ctx := context.Background()
	dims := types.NewDims(40, 30, 2, 3, 2)
	st := memory.New()
	w := openHandle(t, registry.KindZarr, "mem", registry.OpenRequest{
		Mode:     registry.ModeWrite,
		Store:    st,
		Metadata: &types.Metadata{Dims: dims, DType: types.Uint16, ChannelNames: []string{"a", "b", "c"}},
		Options:  registry.Options{TileSize: 16, Workers: 4},
	})

	patch := types.NewDims(10, 5, 1, 1, 1)
	vals := make([]uint16, patch.Count())
	for i := range vals {
		vals[i] = uint16(1000 + i)
	}
	arr, err := types.ArrayOf(patch, vals)
	if err != nil {
		t.Fatal(err)
	}
	sel, err := types.Region{
		X: types.Range(12, 22), Y: types.Range(14, 19),
		Z: types.Index(1), C: types.Index(2), T: types.Index(0),
	}.Resolve(dims)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRegion(ctx, sel, arr); err != nil {
		t.Fatalf("WriteRegion() error = %v", err)
	}

	got, err := w.ReadRegion(ctx, selectAll(t, dims))
	if err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	for y := range 30 {
		for x := range 40 {
			want := 0.0
			if x >= 12 && x < 22 && y >= 14 && y < 19 {
				want = float64(1000 + (y-14)*10 + (x - 12))
			}
			if v := got.At(x, y, 1, 2, 0); v != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, v, want)
			}
			if v := got.At(x, y, 0, 2, 0); v != 0 {
				t.Fatalf("neighbouring plane pixel (%d,%d) = %v, want 0", x, y, v)
			}
		}
	}

	if _, err := st.Get(ctx, "0/0/2/1/0/0"); err != nil {
		t.Errorf("expected chunk 0/0/2/1/0/0: %v", err)
	}
	if _, err := st.Get(ctx, "0/0/0/0/0/0"); err == nil {
		t.Error("untouched chunk was written")
	}

	w.Close() //nolint:errcheck // reopened below
	r := openHandle(t, registry.KindZarr, "mem", registry.OpenRequest{Store: st})
	if want := []string{"a", "b", "c"}; !slices.Equal(r.Metadata().ChannelNames, want) {
		t.Errorf("ChannelNames = %v, want %v", r.Metadata().ChannelNames, want)
	}
}

func TestZarr_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing path", func(t *testing.T) {
		_, err := registry.Get(registry.KindZarr3).Open(ctx, filepath.Join(t.TempDir(), "nope.zarr"), registry.OpenRequest{})
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Open() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "v2.zarr")
		w := openHandle(t, registry.KindZarr, path, registry.OpenRequest{
			Mode:     registry.ModeWrite,
			Metadata: &types.Metadata{Dims: types.NewDims(4, 4, 1, 1, 1), DType: types.Uint8},
		})
		w.Close() //nolint:errcheck // reopened below
		_, err := registry.Get(registry.KindZarr3).Open(ctx, path, registry.OpenRequest{})
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Open() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("read only", func(t *testing.T) {
		st := memory.New()
		dims := types.NewDims(4, 4, 1, 1, 1)
		w := openHandle(t, registry.KindZarr3, "mem", registry.OpenRequest{
			Mode: registry.ModeWrite, Store: st,
			Metadata: &types.Metadata{Dims: dims, DType: types.Uint8},
		})
		w.Close() //nolint:errcheck // reopened below

		r := openHandle(t, registry.KindZarr3, "mem", registry.OpenRequest{Store: st})
		err := r.WriteRegion(ctx, selectAll(t, dims), rampUint8(t, dims))
		var roe *types.ReadOnlyError
		if !errors.As(err, &roe) || !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("WriteRegion() error = %v, want ReadOnlyError", err)
		}

		if err := r.Close(); err != nil {
			t.Fatal(err)
		}
		if err := r.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
		if _, err := r.ReadRegion(ctx, selectAll(t, dims)); !errors.Is(err, types.ErrClosed) {
			t.Errorf("ReadRegion() after Close error = %v, want ErrClosed", err)
		}
	})

	t.Run("write mismatch", func(t *testing.T) {
		dims := types.NewDims(4, 4, 1, 1, 1)
		w := openHandle(t, registry.KindZarr3, "mem", registry.OpenRequest{
			Mode: registry.ModeWrite, Store: memory.New(),
			Metadata: &types.Metadata{Dims: dims, DType: types.Uint16},
		})
		err := w.WriteRegion(ctx, selectAll(t, dims), rampUint8(t, dims))
		if !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("WriteRegion() error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("zlib in v3", func(t *testing.T) {
		_, err := registry.Get(registry.KindZarr3).Open(ctx, "mem", registry.OpenRequest{
			Mode: registry.ModeWrite, Store: memory.New(),
			Metadata: &types.Metadata{Dims: types.NewDims(4, 4, 1, 1, 1), DType: types.Uint8},
			Options:  registry.Options{Compression: codec.Zlib},
		})
		if !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("Open() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestZarr_OMEReconciliation(t *testing.T) {
	ctx := context.Background()
	dims := types.NewDims(8, 8, 1, 2, 1)
	newStore := func(t *testing.T) *memory.Store {
		t.Helper()
		st := memory.New()
		w := openHandle(t, registry.KindZarr3, "mem", registry.OpenRequest{
			Mode: registry.ModeWrite, Store: st,
			Metadata: &types.Metadata{Dims: dims, DType: types.Uint8, Name: "sample"},
		})
		w.Close() //nolint:errcheck // reopened by caller
		return st
	}

	t.Run("dimension mismatch", func(t *testing.T) {
		st := newStore(t)
		other, err := ome.Encode(&types.Metadata{Dims: types.NewDims(9, 8, 1, 2, 1), DType: types.Uint8})
		if err != nil {
			t.Fatal(err)
		}
		if err := st.Set(ctx, types.OMEXMLPath, other); err != nil {
			t.Fatal(err)
		}
		_, err = registry.Get(registry.KindZarr3).Open(ctx, "mem", registry.OpenRequest{Store: st})
		var dm *types.DimensionMismatchError
		if !errors.As(err, &dm) {
			t.Fatalf("Open() error = %v, want DimensionMismatchError", err)
		}
	})

	t.Run("repaired", func(t *testing.T) {
		st := newStore(t)
		doc, err := st.Get(ctx, types.OMEXMLPath)
		if err != nil {
			t.Fatal(err)
		}
		doc = bytes.Replace(doc, []byte(`Name="sample"`), []byte(`Name="A & B"`), 1)
		if err := st.Set(ctx, types.OMEXMLPath, doc); err != nil {
			t.Fatal(err)
		}
		h := openHandle(t, registry.KindZarr3, "mem", registry.OpenRequest{Store: st})
		if w := h.Warnings(); len(w) != 1 || w[0].Message != ome.RepairWarning {
			t.Errorf("Warnings() = %v", w)
		}

		_, err = registry.Get(registry.KindZarr3).Open(ctx, "mem", registry.OpenRequest{
			Store: st, Options: registry.Options{NoRepair: true},
		})
		if !errors.Is(err, types.ErrMetadata) {
			t.Errorf("Open() without repair error = %v, want ErrMetadata", err)
		}
	})
}

func putBigUint16(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func TestZarr3_ForeignArray(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	meta := `{
		"zarr_format": 3, "node_type": "array", "shape": [3, 4], "data_type": "uint16",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2, 4]}},
		"chunk_key_encoding": {"name": "default", "configuration": {"separator": "/"}},
		"fill_value": 7,
		"codecs": [{"name": "bytes", "configuration": {"endian": "big"}}, {"name": "gzip", "configuration": {"level": 5}}],
		"dimension_names": ["y", "x"]
	}`
	if err := st.Set(ctx, "zarr.json", []byte(meta)); err != nil {
		t.Fatal(err)
	}
	gz, err := codec.New(codec.Gzip, 5)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := gz.Encode(putBigUint16(0, 1, 2, 3, 4, 5, 6, 7))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "c/0/0", chunk); err != nil {
		t.Fatal(err)
	}

	h := openHandle(t, registry.KindZarr3, "mem", registry.OpenRequest{Store: st})
	m := h.Metadata()
	if want := types.NewDims(4, 3, 1, 1, 1); m.Dims != want {
		t.Fatalf("Dims = %v, want %v", m.Dims, want)
	}
	got, err := h.ReadRegion(ctx, selectAll(t, m.Dims))
	if err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	vals, err := types.Values[uint16](got)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint16{0, 1, 2, 3, 4, 5, 6, 7, 7, 7, 7, 7}; !slices.Equal(vals, want) {
		t.Errorf("values = %v, want %v", vals, want)
	}
}

func TestZarr2_ForeignArray(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	meta := `{"zarr_format": 2, "shape": [2, 3], "chunks": [1, 3], "dtype": ">u2",
		"compressor": null, "fill_value": null, "order": "C", "filters": null}`
	if err := st.Set(ctx, ".zarray", []byte(meta)); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "0.0", putBigUint16(10, 20, 30)); err != nil {
		t.Fatal(err)
	}

	h := openHandle(t, registry.KindZarr, "mem", registry.OpenRequest{Store: st})
	if got := h.Metadata().AxisOrder.String(); got != "y,x" {
		t.Errorf("AxisOrder = %s, want y,x", got)
	}
	got, err := h.ReadRegion(ctx, selectAll(t, h.Metadata().Dims))
	if err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	vals, err := types.Values[uint16](got)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint16{10, 20, 30, 0, 0, 0}; !slices.Equal(vals, want) {
		t.Errorf("values = %v, want %v", vals, want)
	}
}

func TestFillBytes(t *testing.T) {
	tests := []struct {
		dtype types.DType
		raw   string
		want  []byte
	}{
		{types.Uint8, `0`, nil},
		{types.Uint8, `null`, nil},
		{types.Uint8, `255`, []byte{255}},
		{types.Int16, `-2`, []byte{0xfe, 0xff}},
		{types.Float32, `"NaN"`, []byte{0x00, 0x00, 0xc0, 0x7f}},
		{types.Float64, `0.0`, nil},
	}
	for _, tt := range tests {
		got, err := fillBytes(tt.dtype, json.RawMessage(tt.raw))
		if err != nil {
			t.Errorf("fillBytes(%s, %s) error = %v", tt.dtype, tt.raw, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("fillBytes(%s, %s) = %x, want %x", tt.dtype, tt.raw, got, tt.want)
		}
	}
	if _, err := fillBytes(types.Uint8, json.RawMessage(`"x"`)); !errors.Is(err, types.ErrMetadata) {
		t.Errorf("fillBytes(bad) error = %v, want ErrMetadata", err)
	}
}

func TestParseUnsupported(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"sharding", `{"zarr_format":3,"node_type":"array","shape":[4],"data_type":"uint8",
			"chunk_grid":{"name":"regular","configuration":{"chunk_shape":[4]}},
			"codecs":[{"name":"sharding_indexed","configuration":{}}]}`},
		{"irregular grid", `{"zarr_format":3,"node_type":"array","shape":[4],"data_type":"uint8",
			"chunk_grid":{"name":"rectilinear","configuration":{}},"codecs":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseNode([]byte(tt.doc)); !errors.Is(err, types.ErrUnsupportedFormat) {
				t.Errorf("parseNode() error = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
	if _, err := parseZarray([]byte(`{"zarr_format":2,"shape":[4],"chunks":[4],"dtype":"|u1","compressor":{"id":"blosc"},"order":"C"}`)); !errors.Is(err, types.ErrUnsupportedFormat) {
		t.Errorf("parseZarray(blosc) error = %v, want ErrUnsupportedFormat", err)
	}
}
