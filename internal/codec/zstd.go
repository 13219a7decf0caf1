package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const defaultZstdLevel = 3

// Shared decoder; zstd.Decoder.DecodeAll is safe for concurrent use.
var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

type zstdCodec struct {
	encoder *zstd.Encoder
	err     error
	level   int
}

func newZstd(level int) *zstdCodec {
	if level == 0 {
		level = defaultZstdLevel
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	return &zstdCodec{encoder: enc, err: err, level: level}
}

func (c *zstdCodec) Name() string { return Zstd }

func (c *zstdCodec) Level() int { return c.level }

func (c *zstdCodec) Encode(raw []byte) ([]byte, error) {
	if c.err != nil {
		return nil, fmt.Errorf("zstd writer: %w", c.err)
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *zstdCodec) Decode(stored []byte, size int) ([]byte, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	capacity := size
	if capacity < 0 {
		capacity = len(stored) * 2
	}
	out, err := dec.DecodeAll(stored, make([]byte, 0, capacity))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return checkSize(Zstd, out, size)
}
