package bfio

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/simonhull/bfio/internal/types"
)

func TestErrors_ReExported(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"unsupported", &UnsupportedFormatError{Path: "a.xyz", Reason: "no marker"}, ErrUnsupportedFormat},
		{"metadata", &MetadataError{Path: "a.tif", Source: "ome-xml"}, ErrMetadata},
		{"dims", &DimensionMismatchError{Path: "a.zarr", What: "shape"}, ErrDimensionMismatch},
		{"range", &RangeError{Axis: AxisZ, Index: 4, Dim: 3}, ErrInvalidArgument},
		{"storage", &StorageError{Path: "a.zarr", Op: "read"}, ErrStorage},
		{"corrupt", &CorruptedFileError{Path: "a.tif", Reason: "bad IFD"}, ErrStorage},
		{"read-only", &ReadOnlyError{Path: "a.czi", Backend: "bioformats"}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("open: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
		})
	}

	if ErrClosed != types.ErrClosed || ErrUnavailable != types.ErrUnavailable || ErrNotFound != types.ErrNotFound {
		t.Error("sentinels must be the internal values")
	}
}

func TestErrors_As(t *testing.T) {
	err := fmt.Errorf("read: %w", &types.RangeError{Axis: types.AxisX, Index: 9, Dim: 8})

	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("errors.As(%v, *RangeError) = false", err)
	}
	if re.Axis != AxisX || re.Index != 9 {
		t.Errorf("RangeError = %+v", re)
	}
}

func TestWarning_String(t *testing.T) {
	w := Warning{Stage: "metadata", Message: "OME-XML repaired", Offset: 8}
	if s := w.String(); !strings.Contains(s, "offset 8") || !strings.Contains(s, "repaired") {
		t.Errorf("String() = %q", s)
	}
}
