// Package bfio reads and writes 5D microscopy images through one API,
// whatever the container.
//
// Every image is presented as an X, Y, Z, C, T volume with a single pixel
// type. OME-TIFF files, Zarr v2 stores and Zarr v3 (OME-NGFF) stores are
// handled natively; proprietary formats (.czi, .nd2, .lif and friends) are
// converted on the fly by an external bioformats2raw process.
//
// # Quick Start
//
// Reading a region:
//
//	img, err := bfio.Open("cells.ome.tif")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer img.Close()
//
//	fmt.Printf("%dx%d, %d channels, %s\n", img.X(), img.Y(), img.C(), img.DType())
//	arr, err := img.Read(bfio.Region{C: bfio.Index(1), Z: bfio.Range(0, 8)})
//
// Writing a new image:
//
//	out, err := bfio.Create("out.ome.zarr",
//		bfio.WithDims(1024, 1024, 8, 2, 1),
//		bfio.WithDType(bfio.Uint16),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := out.Write(bfio.Region{}, arr); err != nil {
//		log.Fatal(err)
//	}
//	if err := out.Close(); err != nil {
//		log.Fatal(err)
//	}
//
// # Backends
//
//   - tiff: classic and BigTIFF, tiled or striped, with OME-XML in the
//     first ImageDescription
//   - zarr: Zarr v2 with OME metadata in OME/METADATA.ome.xml
//   - zarr3: Zarr v3 with NGFF multiscales attributes
//   - bioformats: anything bioformats2raw can convert, read only
//
// Open picks the backend from markers on disk: a zarr.json declaring
// zarr_format 3 anywhere under the path wins over .zarray and .zgroup, and
// files are checked for a TIFF signature before their extension is
// consulted. WithBackend overrides detection.
//
// # Metadata Repair
//
// OME-XML written by acquisition software is often slightly malformed.
// By default a failed parse is retried after a fixed sequence of textual
// repairs, and each repair that changed the document is reported as a
// Warning. WithStrictMetadata turns those warnings into errors and
// WithMetadataRepair(false) disables repair entirely.
//
// # Error Handling
//
// Errors wrap sentinels that can be tested with errors.Is:
//
//	if errors.Is(err, bfio.ErrUnsupportedFormat) {
//		// try another path
//	}
//
// and typed errors that carry context, such as *RangeError and
// *DimensionMismatchError, for errors.As.
//
// # Configuration
//
// LoadConfig reads a YAML file plus BFIO_* environment overrides, and
// WithConfig applies it to an open:
//
//	cfg, err := bfio.LoadConfig("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cfg.Close()
//	img, err := bfio.Open("plate.ome.zarr", bfio.WithConfig(cfg))
//
// # Concurrency
//
// An Image may be read and written from several goroutines. Chunk I/O
// within one call fans out over a bounded worker pool (WithWorkers) and
// OpenMany opens images in parallel.
package bfio
