package bfio_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/simonhull/bfio"
)

func manyImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "img"+string(rune('a'+i))+".ome.zarr")
		createImage(t, paths[i], ramp(t, bfio.NewDims(8+i, 4, 1, 1, 1)))
	}
	return paths
}

// TestOpenMany_Order verifies results keep the input order.
func TestOpenMany_Order(t *testing.T) {
	paths := manyImages(t, 4)

	imgs, err := bfio.OpenMany(context.Background(), paths...)
	if err != nil {
		t.Fatalf("OpenMany() error = %v", err)
	}
	defer func() {
		for _, img := range imgs {
			img.Close()
		}
	}()

	if len(imgs) != len(paths) {
		t.Fatalf("OpenMany() returned %d images, want %d", len(imgs), len(paths))
	}
	for i, img := range imgs {
		if img.Path != paths[i] {
			t.Errorf("imgs[%d].Path = %s, want %s", i, img.Path, paths[i])
		}
		if img.X() != 8+i {
			t.Errorf("imgs[%d].X() = %d, want %d", i, img.X(), 8+i)
		}
	}
}

// TestOpenMany_Cancellation verifies a cancelled context opens nothing.
func TestOpenMany_Cancellation(t *testing.T) {
	paths := manyImages(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imgs, err := bfio.OpenMany(ctx, paths...)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if imgs != nil {
		t.Error("expected nil images on error")
	}
}

// TestOpenMany_PartialFailure verifies all-or-nothing results.
func TestOpenMany_PartialFailure(t *testing.T) {
	paths := manyImages(t, 1)
	paths = append(paths, "/nonexistent/image.ome.tif", paths[0])

	imgs, err := bfio.OpenMany(context.Background(), paths...)
	if err == nil {
		t.Fatal("expected error from nonexistent file")
	}
	if imgs != nil {
		t.Error("expected nil images on partial failure")
	}
}

func TestOpenMany_Empty(t *testing.T) {
	imgs, err := bfio.OpenMany(context.Background())
	if err != nil || imgs != nil {
		t.Errorf("OpenMany() = %v, %v; want nil, nil", imgs, err)
	}
}

func TestOpenManyWith_Options(t *testing.T) {
	paths := manyImages(t, 2)

	imgs, err := bfio.OpenManyWith(context.Background(), paths, []bfio.Option{bfio.WithBackend(bfio.BackendZarr)})
	if err == nil {
		for _, img := range imgs {
			img.Close()
		}
		t.Fatal("expected v3 images to fail through the v2 backend")
	}

	imgs, err = bfio.OpenManyWith(context.Background(), paths, []bfio.Option{bfio.WithBackend(bfio.BackendZarr3)})
	if err != nil {
		t.Fatalf("OpenManyWith() error = %v", err)
	}
	for _, img := range imgs {
		if img.Backend() != bfio.BackendZarr3 {
			t.Errorf("Backend() = %s", img.Backend())
		}
		img.Close()
	}
}
