package binary

import "encoding/binary"

// Endianness represents byte order for multi-byte values.
type Endianness int

const (
	// BigEndian is the "MM" TIFF byte order.
	BigEndian Endianness = iota

	// LittleEndian is the "II" TIFF byte order and the in-memory pixel order.
	LittleEndian
)

// ByteOrder returns the encoding/binary implementation for e.
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (e Endianness) String() string {
	if e == LittleEndian {
		return "little-endian"
	}
	return "big-endian"
}

func sizeOf[T uint8 | uint16 | uint32 | uint64]() int {
	var zero T
	switch any(zero).(type) {
	case uint16:
		return 2
	case uint32:
		return 4
	case uint64:
		return 8
	default:
		return 1
	}
}

// ReadEndian reads a numeric value of type T at the given offset with specified byte order.
//
// Example:
//
//	count, err := binary.ReadEndian[uint16](sr, ifdOffset, "IFD entry count", binary.BigEndian)
func ReadEndian[T uint8 | uint16 | uint32 | uint64](sr *SafeReader, off int64, what string, endian Endianness) (T, error) {
	var zero T
	buf := make([]byte, sizeOf[T]())
	if err := sr.ReadAt(buf, off, what); err != nil {
		return zero, err
	}
	return Decode[T](buf, endian), nil
}

// Decode converts the leading bytes of buf into T.
func Decode[T uint8 | uint16 | uint32 | uint64](buf []byte, endian Endianness) T {
	var zero T
	order := endian.ByteOrder()
	switch any(zero).(type) {
	case uint16:
		return T(order.Uint16(buf))
	case uint32:
		return T(order.Uint32(buf))
	case uint64:
		return T(order.Uint64(buf))
	default:
		return T(buf[0])
	}
}
