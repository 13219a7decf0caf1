package legacy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/simonhull/bfio/internal/registry"
	"github.com/simonhull/bfio/internal/types"
)

// fakeConverter writes a two-level OME-Zarr the way the real converter lays
// out its output.
type fakeConverter struct {
	src  *types.Array
	err  error
	skip bool
}

func (f *fakeConverter) Version() string { return "test" }

func (f *fakeConverter) Convert(ctx context.Context, _, dst string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if f.skip {
		return nil
	}
	w, err := registry.Get(registry.KindZarr).Open(ctx, filepath.Join(dst, "0"), registry.OpenRequest{
		Mode:     registry.ModeWrite,
		Metadata: &types.Metadata{Dims: f.src.Shape, DType: f.src.DType},
	})
	if err != nil {
		return err
	}
	sel, err := types.Region{}.Resolve(f.src.Shape)
	if err != nil {
		return err
	}
	if err := w.WriteRegion(ctx, sel, f.src); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dst, ".zgroup"), []byte(`{"zarr_format":2}`), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dst, ".zattrs"), []byte(`{"bioformats2raw.layout":3}`), 0o644)
}

func sourceFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.czi")
	if err := os.WriteFile(path, []byte("ZISRAWFILE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func ramp(t *testing.T, shape types.Dims) *types.Array {
	t.Helper()
	vals := make([]uint16, shape.Count())
	for i := range vals {
		vals[i] = uint16(i * 3)
	}
	arr, err := types.ArrayOf(shape, vals)
	if err != nil {
		t.Fatal(err)
	}
	return arr
}

func TestBioformats_ReadsConvertedImage(t *testing.T) {
	ctx := context.Background()
	src := ramp(t, types.NewDims(24, 16, 2, 1, 1))
	path := sourceFile(t)

	h, err := registry.Get(registry.KindBioformats).Open(ctx, path, registry.OpenRequest{
		Options: registry.Options{Bridge: &fakeConverter{src: src}},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	tmp := h.(*handle).tmp

	if got := h.Metadata().Dims; got != src.Shape {
		t.Errorf("Dims = %v, want %v", got, src.Shape)
	}
	sel, err := types.Region{}.Resolve(src.Shape)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.ReadRegion(ctx, sel)
	if err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	if !bytes.Equal(got.Data, src.Data) {
		t.Error("converted pixels differ from source")
	}

	var ro *types.ReadOnlyError
	if err := h.WriteRegion(ctx, sel, src); !errors.As(err, &ro) {
		t.Errorf("WriteRegion() error = %v, want ReadOnlyError", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp dir %s still exists after Close", tmp)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := h.ReadRegion(ctx, sel); !errors.Is(err, types.ErrClosed) {
		t.Errorf("ReadRegion() after Close error = %v, want ErrClosed", err)
	}
}

func TestBioformats_Errors(t *testing.T) {
	ctx := context.Background()
	path := sourceFile(t)
	convErr := &types.StorageError{Path: path, Op: "convert", Err: errors.New("boom")}

	tests := []struct {
		name   string
		path   string
		req    registry.OpenRequest
		target error
	}{
		{"no bridge", path, registry.OpenRequest{}, types.ErrUnavailable},
		{"write mode", path, registry.OpenRequest{Mode: registry.ModeWrite}, types.ErrInvalidArgument},
		{
			"missing source",
			filepath.Join(t.TempDir(), "absent.nd2"),
			registry.OpenRequest{Options: registry.Options{Bridge: &fakeConverter{}}},
			types.ErrNotFound,
		},
		{
			"conversion fails",
			path,
			registry.OpenRequest{Options: registry.Options{Bridge: &fakeConverter{err: convErr}}},
			types.ErrStorage,
		},
		{
			"no zarr produced",
			path,
			registry.OpenRequest{Options: registry.Options{Bridge: &fakeConverter{skip: true}}},
			types.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Get(registry.KindBioformats).Open(ctx, tt.path, tt.req)
			if !errors.Is(err, tt.target) {
				t.Errorf("Open() error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestSeriesRoot(t *testing.T) {
	dir := t.TempDir()
	if got := seriesRoot(dir); got != dir {
		t.Errorf("seriesRoot(plain) = %s, want %s", got, dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "zarr.json"),
		[]byte(`{"zarr_format":3,"node_type":"group","attributes":{"bioformats2raw.layout":3}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, want := seriesRoot(dir), filepath.Join(dir, "0"); got != want {
		t.Errorf("seriesRoot(v3 layout) = %s, want %s", got, want)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		out  string
		want string
	}{
		{"Version = 0.9.1\nBio-Formats version = 7.3.0\nNGFF specification version = 0.4\n", "7.3.0"},
		{"\n  bioformats2raw 0.7.0\n", "bioformats2raw 0.7.0"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseVersion([]byte(tt.out)); got != tt.want {
			t.Errorf("parseVersion(%q) = %q, want %q", tt.out, got, tt.want)
		}
	}
}

const fakeScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "Version = 0.9.1"
  echo "Bio-Formats version = 7.3.0"
  exit 0
fi
echo "reading $1" >&2
echo "unsupported file" >&2
exit 3
`

func resetBridge(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		mu.Lock()
		shared = nil
		mu.Unlock()
	})
}

func TestAcquire(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script converter")
	}
	resetBridge(t)
	ctx := context.Background()

	_, err := Acquire(ctx, Config{Executable: filepath.Join(t.TempDir(), "missing")})
	if !errors.Is(err, types.ErrUnavailable) {
		t.Fatalf("Acquire(missing) error = %v, want ErrUnavailable", err)
	}
	if Current() != nil {
		t.Fatal("failed Acquire left a bridge behind")
	}

	exe := filepath.Join(t.TempDir(), "bioformats2raw")
	if err := os.WriteFile(exe, []byte(fakeScript), 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := Acquire(ctx, Config{Executable: exe})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if b.Version() != "7.3.0" {
		t.Errorf("Version() = %q, want 7.3.0", b.Version())
	}
	if b.Executable() != exe {
		t.Errorf("Executable() = %q, want %q", b.Executable(), exe)
	}

	again, err := Acquire(ctx, Config{Executable: "ignored"})
	if err != nil || again != b {
		t.Errorf("second Acquire() = %p, %v; want the running bridge", again, err)
	}
	if Current() != b {
		t.Error("Current() does not return the running bridge")
	}

	err = b.Convert(ctx, "in.czi", filepath.Join(t.TempDir(), "out.zarr"))
	var se *types.StorageError
	if !errors.As(err, &se) || se.Op != "convert" {
		t.Fatalf("Convert() error = %v, want convert StorageError", err)
	}
	if !strings.Contains(err.Error(), "unsupported file") {
		t.Errorf("Convert() error = %v, want converter stderr", err)
	}
}
