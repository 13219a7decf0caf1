package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const defaultDeflateLevel = 6

// zlibCodec is the zlib-wrapped DEFLATE stream used by Zarr "zlib" and TIFF
// Compression 8 / 32946.
type zlibCodec struct {
	level int
}

func newZlib(level int) *zlibCodec {
	if level == 0 {
		level = defaultDeflateLevel
	}
	return &zlibCodec{level: level}
}

func (c *zlibCodec) Name() string { return Zlib }

func (c *zlibCodec) Level() int { return c.level }

func (c *zlibCodec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Decode(stored []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()

	out, err := readBounded(r, size)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return checkSize(Zlib, out, size)
}

// readBounded reads at most one byte past size so an oversized stream
// fails the size check without being inflated in full.
func readBounded(r io.Reader, size int) ([]byte, error) {
	if size < 0 {
		return io.ReadAll(r)
	}
	return io.ReadAll(io.LimitReader(r, int64(size)+1))
}

// gzipCodec is the numcodecs "gzip" compressor.
type gzipCodec struct {
	level int
}

func newGzip(level int) *gzipCodec {
	if level == 0 {
		level = defaultDeflateLevel
	}
	return &gzipCodec{level: level}
}

func (c *gzipCodec) Name() string { return Gzip }

func (c *gzipCodec) Level() int { return c.level }

func (c *gzipCodec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(stored []byte, size int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()

	out, err := readBounded(r, size)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return checkSize(Gzip, out, size)
}
