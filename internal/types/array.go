package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a dense pixel block. Data is little-endian, C-ordered over
// (T, C, Z, Y, X) with X varying fastest.
type Array struct {
	Data  []byte
	Shape Dims
	DType DType
}

// NewArray allocates a zeroed array.
func NewArray(dt DType, shape Dims) *Array {
	return &Array{DType: dt, Shape: shape, Data: make([]byte, shape.Count()*dt.Size())}
}

// Strides returns the byte stride of each logical axis, indexed by Axis.
func (a *Array) Strides() Dims {
	return Strides(a.Shape, a.DType.Size())
}

// Strides computes byte strides for the (T, C, Z, Y, X) memory order.
func Strides(shape Dims, itemSize int) Dims {
	var s Dims
	stride := itemSize
	for _, axis := range []Axis{AxisX, AxisY, AxisZ, AxisC, AxisT} {
		s[axis] = stride
		stride *= shape[axis]
	}
	return s
}

// Check verifies that Data is consistent with Shape and DType.
func (a *Array) Check() error {
	if a == nil {
		return fmt.Errorf("%w: nil array", ErrInvalidArgument)
	}
	if !a.DType.Valid() {
		return fmt.Errorf("%w: array has invalid pixel type", ErrInvalidArgument)
	}
	if want := a.Shape.Count() * a.DType.Size(); len(a.Data) != want {
		return fmt.Errorf("%w: array holds %d bytes, shape %s of %s needs %d",
			ErrInvalidArgument, len(a.Data), a.Shape, a.DType, want)
	}
	return nil
}

// Number is the set of Go types that map onto a DType.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// DTypeOf returns the DType matching T.
func DTypeOf[T Number]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return DTypeInvalid
}

// ArrayOf builds an array from values laid out in (T, C, Z, Y, X) order.
func ArrayOf[T Number](shape Dims, values []T) (*Array, error) {
	dt := DTypeOf[T]()
	if len(values) != shape.Count() {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrInvalidArgument, len(values), shape)
	}
	arr := NewArray(dt, shape)
	size := dt.Size()
	for i, v := range values {
		putValue(arr.Data[i*size:], v)
	}
	return arr, nil
}

// Values decodes the array into a typed slice; T must match the array's DType.
func Values[T Number](a *Array) ([]T, error) {
	if err := a.Check(); err != nil {
		return nil, err
	}
	if dt := DTypeOf[T](); dt != a.DType {
		return nil, fmt.Errorf("%w: array is %s, requested %s", ErrInvalidArgument, a.DType, dt)
	}
	size := a.DType.Size()
	out := make([]T, len(a.Data)/size)
	for i := range out {
		out[i] = getValue[T](a.Data[i*size:])
	}
	return out, nil
}

// At returns the element at (x, y, z, c, t) as float64.
func (a *Array) At(x, y, z, c, t int) float64 {
	s := a.Strides()
	off := x*s[AxisX] + y*s[AxisY] + z*s[AxisZ] + c*s[AxisC] + t*s[AxisT]
	b := a.Data[off:]
	switch a.DType {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func putValue[T Number](b []byte, v T) {
	switch x := any(v).(type) {
	case uint8:
		b[0] = x
	case int8:
		b[0] = byte(x)
	case uint16:
		binary.LittleEndian.PutUint16(b, x)
	case int16:
		binary.LittleEndian.PutUint16(b, uint16(x))
	case uint32:
		binary.LittleEndian.PutUint32(b, x)
	case int32:
		binary.LittleEndian.PutUint32(b, uint32(x))
	case uint64:
		binary.LittleEndian.PutUint64(b, x)
	case int64:
		binary.LittleEndian.PutUint64(b, uint64(x))
	case float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(x))
	case float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(x))
	}
}

func getValue[T Number](b []byte) T {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return T(b[0])
	case int8:
		return T(int8(b[0]))
	case uint16:
		return T(binary.LittleEndian.Uint16(b))
	case int16:
		return T(int16(binary.LittleEndian.Uint16(b)))
	case uint32:
		return T(binary.LittleEndian.Uint32(b))
	case int32:
		return T(int32(binary.LittleEndian.Uint32(b)))
	case uint64:
		return T(binary.LittleEndian.Uint64(b))
	case int64:
		return T(int64(binary.LittleEndian.Uint64(b)))
	case float32:
		return T(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case float64:
		return T(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return zero
}

// SwapBytes reverses the byte order of every element in place.
func SwapBytes(data []byte, itemSize int) {
	if itemSize <= 1 {
		return
	}
	for i := 0; i+itemSize <= len(data); i += itemSize {
		elem := data[i : i+itemSize]
		for l, r := 0, itemSize-1; l < r; l, r = l+1, r-1 {
			elem[l], elem[r] = elem[r], elem[l]
		}
	}
}
