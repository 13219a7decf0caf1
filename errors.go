package bfio

import (
	"github.com/simonhull/bfio/internal/types"
)

// Error kinds, re-exported from internal/types. Every typed error unwraps to
// one of these, so callers can branch with errors.Is.
var (
	ErrNotFound          = types.ErrNotFound
	ErrUnsupportedFormat = types.ErrUnsupportedFormat
	ErrMetadata          = types.ErrMetadata
	ErrDimensionMismatch = types.ErrDimensionMismatch
	ErrInvalidArgument   = types.ErrInvalidArgument
	ErrStorage           = types.ErrStorage
	ErrClosed            = types.ErrClosed
	ErrUnavailable       = types.ErrUnavailable
)

// UnsupportedFormatError is an alias to types.UnsupportedFormatError.
type UnsupportedFormatError = types.UnsupportedFormatError

// MetadataError is an alias to types.MetadataError.
type MetadataError = types.MetadataError

// DimensionMismatchError is an alias to types.DimensionMismatchError.
type DimensionMismatchError = types.DimensionMismatchError

// RangeError is an alias to types.RangeError.
type RangeError = types.RangeError

// StorageError is an alias to types.StorageError.
type StorageError = types.StorageError

// CorruptedFileError is an alias to types.CorruptedFileError.
type CorruptedFileError = types.CorruptedFileError

// ReadOnlyError is an alias to types.ReadOnlyError.
type ReadOnlyError = types.ReadOnlyError

// Warning is an alias to types.Warning.
type Warning = types.Warning
