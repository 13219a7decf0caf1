package bfio

import (
	"github.com/simonhull/bfio/internal/types"
)

// Metadata is an alias to types.Metadata.
type Metadata = types.Metadata

// Dims holds one size per logical axis, indexed by Axis.
type Dims = types.Dims

// Axis is a logical axis: X, Y, Z, C or T.
type Axis = types.Axis

// Logical axes.
const (
	AxisX = types.AxisX
	AxisY = types.AxisY
	AxisZ = types.AxisZ
	AxisC = types.AxisC
	AxisT = types.AxisT
)

// AxisOrder is the physical storage order, outermost first.
type AxisOrder = types.AxisOrder

// PhysicalSize is the pixel spacing along one spatial axis.
type PhysicalSize = types.PhysicalSize

// DType is a pixel element type.
type DType = types.DType

// Pixel types.
const (
	Uint8   = types.Uint8
	Uint16  = types.Uint16
	Uint32  = types.Uint32
	Uint64  = types.Uint64
	Int8    = types.Int8
	Int16   = types.Int16
	Int32   = types.Int32
	Int64   = types.Int64
	Float32 = types.Float32
	Float64 = types.Float64
)

// ParseDType accepts OME, NumPy and Zarr spellings ("uint16", "<u2", "float").
func ParseDType(s string) (DType, error) {
	dt, _, err := types.ParseDType(s)
	return dt, err
}

// NewDims builds Dims from per-axis sizes.
func NewDims(x, y, z, c, t int) Dims {
	return types.NewDims(x, y, z, c, t)
}

// Region is a 5D coordinate request; unset axes select everything.
type Region = types.Region

// Span selects positions along one axis.
type Span = types.Span

// All selects every position.
func All() Span { return types.All() }

// Range selects the half-open interval [start, stop).
func Range(start, stop int) Span { return types.Range(start, stop) }

// Index selects one position.
func Index(i int) Span { return types.Index(i) }

// Indices selects explicit positions in the given order.
func Indices(idx ...int) Span { return types.Indices(idx...) }

// Array is a dense (T, C, Z, Y, X) pixel block.
type Array = types.Array

// Number is the set of Go types that map onto a DType.
type Number = types.Number

// NewArray allocates a zeroed array.
func NewArray(dt DType, shape Dims) *Array {
	return types.NewArray(dt, shape)
}

// ArrayOf wraps values, ordered with X varying fastest, as an Array.
func ArrayOf[T Number](shape Dims, values []T) (*Array, error) {
	return types.ArrayOf(shape, values)
}

// Values decodes an Array into a slice of T.
func Values[T Number](a *Array) ([]T, error) {
	return types.Values[T](a)
}
