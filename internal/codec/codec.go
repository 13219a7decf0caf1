// Package codec implements chunk compressors shared by the Zarr and TIFF
// backends.
//
// Compressors are looked up by name. Zarr v2 uses the compressor "id"
// ("zlib", "gzip", "zstd"), Zarr v3 the codec name ("gzip", "zstd"), and
// TIFF maps its Compression tag onto the same names.
package codec

import (
	"fmt"
	"strings"
)

// Codec compresses and decompresses whole chunks.
type Codec interface {
	// Name returns the registry name of the codec.
	Name() string

	// Level returns the compression level used by Encode.
	Level() int

	// Encode compresses a raw chunk.
	Encode(raw []byte) ([]byte, error)

	// Decode decompresses a stored chunk. size is the expected decoded length;
	// a mismatch is an error.
	Decode(stored []byte, size int) ([]byte, error)
}

// Names of the built-in codecs.
const (
	Raw  = "raw"
	Zlib = "zlib"
	Gzip = "gzip"
	Zstd = "zstd"
)

// Registry maps codec names to constructors taking a compression level.
// A level of 0 selects the codec default.
var Registry = map[string]func(level int) Codec{
	Raw:  func(int) Codec { return raw{} },
	Zlib: func(level int) Codec { return newZlib(level) },
	Gzip: func(level int) Codec { return newGzip(level) },
	Zstd: func(level int) Codec { return newZstd(level) },
}

// aliases are alternative spellings found in the wild.
var aliases = map[string]string{
	"":          Raw,
	"none":      Raw,
	"deflate":   Zlib,
	"zstandard": Zstd,
}

// New returns the codec registered under name.
func New(name string, level int) (Codec, error) {
	key := strings.ToLower(name)
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	constructor, ok := Registry[key]
	if !ok {
		return nil, fmt.Errorf("unsupported compressor %q", name)
	}
	return constructor(level), nil
}

func checkSize(name string, out []byte, size int) ([]byte, error) {
	if size >= 0 && len(out) != size {
		return nil, fmt.Errorf("%s: decoded %d bytes, expected %d", name, len(out), size)
	}
	return out, nil
}

type raw struct{}

func (raw) Name() string { return Raw }

func (raw) Level() int { return 0 }

func (raw) Encode(b []byte) ([]byte, error) {
	return append([]byte(nil), b...), nil
}

func (raw) Decode(b []byte, size int) ([]byte, error) {
	return checkSize(Raw, append([]byte(nil), b...), size)
}
