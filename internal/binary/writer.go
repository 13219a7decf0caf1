package binary

import (
	"io"
)

// SafeWriter wraps io.Writer with position tracking and a fixed byte order.
type SafeWriter struct {
	w      io.Writer
	offset int64
	order  Endianness
}

// NewSafeWriter creates a new little-endian SafeWriter.
func NewSafeWriter(w io.Writer) *SafeWriter {
	return &SafeWriter{
		w:     w,
		order: LittleEndian,
	}
}

// Offset returns the current position (number of bytes written).
func (sw *SafeWriter) Offset() int64 {
	return sw.offset
}

// WriteBytes writes raw bytes to the underlying writer.
func (sw *SafeWriter) WriteBytes(b []byte) error {
	n, err := sw.w.Write(b)
	sw.offset += int64(n)
	return err
}

// WriteString writes a string as bytes to the underlying writer.
func (sw *SafeWriter) WriteString(s string) error {
	return sw.WriteBytes([]byte(s))
}

// Pad writes zero bytes until the offset is a multiple of align.
func (sw *SafeWriter) Pad(align int64) error {
	if rem := sw.offset % align; rem != 0 {
		return sw.WriteBytes(make([]byte, align-rem))
	}
	return nil
}

// Write writes a value of type T in the writer's byte order.
func Write[T uint8 | uint16 | uint32 | uint64](sw *SafeWriter, val T) error {
	return sw.WriteBytes(Encode(val, sw.order))
}

// Encode returns val as bytes in the given order.
func Encode[T uint8 | uint16 | uint32 | uint64](val T, endian Endianness) []byte {
	buf := make([]byte, sizeOf[T]())
	order := endian.ByteOrder()
	switch v := any(val).(type) {
	case uint16:
		order.PutUint16(buf, v)
	case uint32:
		order.PutUint32(buf, v)
	case uint64:
		order.PutUint64(buf, v)
	case uint8:
		buf[0] = v
	}
	return buf
}
