package bfio

// Backends register themselves with the registry on import.
import (
	_ "github.com/simonhull/bfio/internal/legacy"
	_ "github.com/simonhull/bfio/internal/tiff"
	_ "github.com/simonhull/bfio/internal/zarr"
)
