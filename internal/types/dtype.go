package types

import (
	"fmt"
	"strings"
)

// DType is a pixel type.
type DType int

const (
	DTypeInvalid DType = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

// String returns the canonical name, which is also the Zarr v3 data_type.
func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether d is a known pixel type.
func (d DType) Valid() bool {
	_, ok := dtypeNames[d]
	return ok
}

// Size returns the byte width of one sample.
func (d DType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// kind returns the numpy kind character: u, i or f.
func (d DType) kind() byte {
	switch d {
	case Int8, Int16, Int32, Int64:
		return 'i'
	case Float32, Float64:
		return 'f'
	default:
		return 'u'
	}
}

// ZarrV2 returns the numpy-style typestr written to .zarray (always little-endian).
func (d DType) ZarrV2() string {
	if d.Size() == 1 {
		return fmt.Sprintf("|%c1", d.kind())
	}
	return fmt.Sprintf("<%c%d", d.kind(), d.Size())
}

// ParseDType accepts a canonical name, an OME pixel type or a Zarr v2 typestr.
// For typestrs the byte order is reported separately.
func ParseDType(s string) (DType, bool, error) {
	if name, ok := omeAliases[s]; ok {
		s = name
	}
	for d, name := range dtypeNames {
		if name == s {
			return d, false, nil
		}
	}
	if len(s) >= 3 && strings.ContainsRune("<>|=", rune(s[0])) {
		bigEndian := s[0] == '>'
		var kind byte
		var size int
		if _, err := fmt.Sscanf(s[1:], "%c%d", &kind, &size); err == nil {
			for d := range dtypeNames {
				if d.kind() == kind && d.Size() == size {
					return d, bigEndian && size > 1, nil
				}
			}
		}
	}
	return DTypeInvalid, false, fmt.Errorf("%w: unknown data type %q", ErrMetadata, s)
}

var omeAliases = map[string]string{
	"float":  "float32",
	"double": "float64",
}

// OME returns the OME-XML Pixels/@Type spelling.
func (d DType) OME() string {
	switch d {
	case Float32:
		return "float"
	case Float64:
		return "double"
	default:
		return d.String()
	}
}

// TIFF sample formats (tag 339).
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// TIFF returns BitsPerSample and SampleFormat.
func (d DType) TIFF() (bits, format uint16) {
	bits = uint16(d.Size() * 8)
	switch d.kind() {
	case 'i':
		return bits, SampleFormatInt
	case 'f':
		return bits, SampleFormatFloat
	default:
		return bits, SampleFormatUint
	}
}

// DTypeFromTIFF maps BitsPerSample and SampleFormat back to a DType.
func DTypeFromTIFF(bits, format uint16) (DType, error) {
	if format == 0 {
		format = SampleFormatUint
	}
	for d := range dtypeNames {
		b, f := d.TIFF()
		if b == bits && f == format {
			return d, nil
		}
	}
	return DTypeInvalid, fmt.Errorf("%w: unsupported TIFF sample layout: %d bits, format %d",
		ErrUnsupportedFormat, bits, format)
}
