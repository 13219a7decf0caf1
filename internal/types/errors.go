package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every typed error below unwraps to exactly one of these so
// callers can branch with errors.Is without knowing the concrete type.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMetadata          = errors.New("invalid metadata")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrStorage           = errors.New("storage error")
	ErrClosed            = errors.New("image closed")
	ErrUnavailable       = errors.New("bridge unavailable")
)

// UnsupportedFormatError is returned when no backend can serve a path.
type UnsupportedFormatError struct {
	Path   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: unsupported format: %s", e.Path, e.Reason)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// MetadataError is returned when OME-XML or NGFF attributes cannot be decoded.
type MetadataError struct {
	Err    error
	Path   string
	Source string // "ome-xml", "ngff", "zarr", "tiff"
	// Repaired is true when the failure survived the repair pass.
	Repaired bool
}

func (e *MetadataError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s metadata", e.Path, e.Source)
	if e.Repaired {
		msg += " (after repair)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying parse error.
func (e *MetadataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMetadata}
	}
	return []error{ErrMetadata, e.Err}
}

// DimensionMismatchError is returned when declared and stored shapes disagree.
type DimensionMismatchError struct {
	Path     string
	What     string
	Declared string
	Actual   string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: declared %s, stored %s", e.Path, e.What, e.Declared, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// RangeError is returned when a region falls outside the image.
type RangeError struct {
	Axis   Axis
	Index  int
	Dim    int
	Reason string
}

func (e *RangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("axis %s: %s", e.Axis, e.Reason)
	}
	return fmt.Sprintf("axis %s: index %d out of range [0, %d)", e.Axis, e.Index, e.Dim)
}

func (e *RangeError) Unwrap() error { return ErrInvalidArgument }

// StorageError wraps a failure from the chunk store or a codec.
type StorageError struct {
	Err  error
	Path string
	Key  string
	Op   string // "read", "write", "list", "decode", "encode"
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Path)
	b.WriteString(": ")
	b.WriteString(e.Op)
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	b.WriteString(" failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StorageError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStorage}
	}
	return []error{ErrStorage, e.Err}
}

// CorruptedFileError is returned when a TIFF structure is invalid.
type CorruptedFileError struct {
	Path   string
	Reason string
	Offset int64
}

func (e *CorruptedFileError) Error() string {
	return fmt.Sprintf("%s: corrupted file at offset %d: %s", e.Path, e.Offset, e.Reason)
}

func (e *CorruptedFileError) Unwrap() error { return ErrStorage }

// ReadOnlyError is returned when writing through a handle opened for reading,
// or when a backend cannot write at all.
type ReadOnlyError struct {
	Path    string
	Backend string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s: %s handle is read-only", e.Path, e.Backend)
}

func (e *ReadOnlyError) Unwrap() error { return ErrInvalidArgument }

// Invalidf builds an ErrInvalidArgument with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Warning represents a non-fatal issue encountered while opening.
//
// Warnings are collected in Image.Warnings. The metadata stage records
// OME-XML repairs.
type Warning struct {
	// Stage where the warning occurred
	Stage string // "metadata", "detect", "layout"

	// Warning message
	Message string

	// File offset where the issue occurred (0 if not applicable)
	Offset int64
}

// String returns a human-readable warning message.
func (w Warning) String() string {
	if w.Offset > 0 {
		return fmt.Sprintf("%s (at offset %d): %s", w.Stage, w.Offset, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Stage, w.Message)
}
