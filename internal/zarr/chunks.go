package zarr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/store"
	"github.com/simonhull/bfio/internal/types"
)

// chunkIO reads and writes encoded chunks of one array.
type chunkIO struct {
	store   store.Store
	meta    *arrayMeta
	metrics metrics.Recorder
	log     *slog.Logger
	path    string
	prefix  string
	backend string
	size    int
}

func (c *chunkIO) key(coords []int) string {
	parts := make([]string, 0, len(coords)+1)
	if c.meta.KeyPrefix != "" {
		parts = append(parts, c.meta.KeyPrefix)
	}
	for _, v := range coords {
		parts = append(parts, strconv.Itoa(v))
	}
	return store.Join(c.prefix, strings.Join(parts, c.meta.Separator))
}

func (c *chunkIO) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	key := c.key(coords)
	start := time.Now()
	stored, err := c.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return c.fill(), nil
	}
	if err != nil {
		c.metrics.ObserveChunkRead(c.backend, 0, time.Since(start), err)
		c.log.Debug("chunk read failed", "path", c.path, "key", key, "error", err)
		return nil, &types.StorageError{Path: c.path, Key: key, Op: "read", Err: err}
	}

	raw, err := c.meta.Codec.Decode(stored, c.size)
	c.metrics.ObserveChunkRead(c.backend, len(stored), time.Since(start), err)
	if err != nil {
		return nil, &types.StorageError{Path: c.path, Key: key, Op: "decode", Err: err}
	}
	if c.meta.BigEndian {
		types.SwapBytes(raw, c.meta.DType.Size())
	}
	return raw, nil
}

func (c *chunkIO) WriteChunk(ctx context.Context, coords []int, data []byte) error {
	key := c.key(coords)
	if c.meta.BigEndian {
		data = bytes.Clone(data)
		types.SwapBytes(data, c.meta.DType.Size())
	}

	start := time.Now()
	encoded, err := c.meta.Codec.Encode(data)
	if err != nil {
		c.metrics.ObserveChunkWrite(c.backend, 0, time.Since(start), err)
		return &types.StorageError{Path: c.path, Key: key, Op: "encode", Err: err}
	}
	err = c.store.Set(ctx, key, encoded)
	c.metrics.ObserveChunkWrite(c.backend, len(encoded), time.Since(start), err)
	if err != nil {
		c.log.Debug("chunk write failed", "path", c.path, "key", key, "error", err)
		return &types.StorageError{Path: c.path, Key: key, Op: "write", Err: err}
	}
	return nil
}

// fill returns an absent chunk: nil for a zero fill value, otherwise a
// buffer of repeated fill elements.
func (c *chunkIO) fill() []byte {
	if c.meta.Fill == nil {
		return nil
	}
	return bytes.Repeat(c.meta.Fill, c.size/len(c.meta.Fill))
}
