package bfio_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/simonhull/bfio"
)

// createBenchmarkImage writes a 512x512x4 uint16 image with the given name.
func createBenchmarkImage(b *testing.B, name string, opts ...bfio.Option) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), name)
	opts = append([]bfio.Option{
		bfio.WithDims(512, 512, 4, 1, 1),
		bfio.WithDType(bfio.Uint16),
		bfio.WithTileSize(128),
	}, opts...)
	img, err := bfio.Create(path, opts...)
	if err != nil {
		b.Fatal(err)
	}
	if err := img.Write(bfio.Region{}, bfio.NewArray(bfio.Uint16, img.Dims())); err != nil {
		b.Fatal(err)
	}
	if err := img.Close(); err != nil {
		b.Fatal(err)
	}
	return path
}

// BenchmarkOpen measures metadata-only opens per backend.
func BenchmarkOpen(b *testing.B) {
	for _, name := range []string{"bench.ome.tif", "bench.ome.zarr"} {
		b.Run(name, func(b *testing.B) {
			path := createBenchmarkImage(b, name)

			b.ResetTimer()
			b.ReportAllocs()

			for b.Loop() {
				img, err := bfio.Open(path)
				if err != nil {
					b.Fatal(err)
				}
				img.Close()
			}
		})
	}
}

// BenchmarkRead measures full-plane reads with and without a shared cache.
func BenchmarkRead(b *testing.B) {
	cache, err := bfio.NewCache(64 << 20)
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	for _, tc := range []struct {
		name string
		opts []bfio.Option
	}{
		{"tiff", nil},
		{"zarr3", nil},
		{"zarr3_cached", []bfio.Option{bfio.WithCache(cache)}},
	} {
		b.Run(tc.name, func(b *testing.B) {
			file := "bench.ome.zarr"
			if tc.name == "tiff" {
				file = "bench.ome.tif"
			}
			img, err := bfio.Open(createBenchmarkImage(b, file), tc.opts...)
			if err != nil {
				b.Fatal(err)
			}
			defer img.Close()
			region := bfio.Region{Z: bfio.Index(2)}

			b.SetBytes(512 * 512 * 2)
			b.ResetTimer()
			b.ReportAllocs()

			for b.Loop() {
				if _, err := img.Read(region); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkOpenMany measures OpenMany scalability.
func BenchmarkOpenMany(b *testing.B) {
	for _, n := range []int{1, 5, 10} {
		b.Run(fmt.Sprintf("%d_images", n), func(b *testing.B) {
			paths := make([]string, n)
			for i := range paths {
				paths[i] = createBenchmarkImage(b, fmt.Sprintf("bench%d.ome.zarr", i))
			}
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for b.Loop() {
				imgs, err := bfio.OpenMany(ctx, paths...)
				if err != nil {
					b.Fatal(err)
				}
				for _, img := range imgs {
					img.Close()
				}
			}
		})
	}
}

// BenchmarkDetect measures marker-based format detection.
func BenchmarkDetect(b *testing.B) {
	path := createBenchmarkImage(b, "detect.ome.zarr")

	b.ReportAllocs()
	for b.Loop() {
		if d := bfio.Detect(path); d.Format != bfio.FormatZarrV3 {
			b.Fatalf("Detect() = %v", d.Format)
		}
	}
}
