package types

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{"unsupported", &UnsupportedFormatError{Path: "a.xyz", Reason: "no backend"}, ErrUnsupportedFormat, "a.xyz"},
		{"metadata", &MetadataError{Path: "a.tif", Source: "ome-xml", Repaired: true, Err: errors.New("EOF")}, ErrMetadata, "after repair"},
		{"dims", &DimensionMismatchError{Path: "a.zarr", What: "shape", Declared: "X=1", Actual: "X=2"}, ErrDimensionMismatch, "declared X=1"},
		{"range", &RangeError{Axis: AxisY, Index: 12, Dim: 10}, ErrInvalidArgument, "[0, 10)"},
		{"storage", &StorageError{Path: "s3://b", Op: "read", Key: "0/0/0", Err: fs.ErrPermission}, ErrStorage, "read 0/0/0"},
		{"corrupt", &CorruptedFileError{Path: "a.tif", Reason: "bad IFD", Offset: 8}, ErrStorage, "bad IFD"},
		{"read-only", &ReadOnlyError{Path: "a.tif", Backend: "tiff"}, ErrInvalidArgument, "read-only"},
		{"invalidf", Invalidf("array shape %d", 3), ErrInvalidArgument, "array shape 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%T, %v) = false", tt.err, tt.sentinel)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want substring %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestStorageError_UnwrapsCause(t *testing.T) {
	err := &StorageError{Path: "p", Op: "write", Err: fs.ErrPermission}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("StorageError should unwrap to its cause")
	}
}

func TestWarning_String(t *testing.T) {
	w := Warning{Stage: "metadata", Message: "OME XML required reformatting"}
	if w.String() != "metadata: OME XML required reformatting" {
		t.Errorf("String() = %q", w.String())
	}
	w.Offset = 16
	if !strings.Contains(w.String(), "offset 16") {
		t.Errorf("String() = %q", w.String())
	}
}
