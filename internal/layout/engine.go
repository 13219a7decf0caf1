package layout

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/simonhull/bfio/internal/types"
)

// ChunkIO fetches and stores whole chunks. Buffers are decoded, C-ordered,
// little-endian and always full chunk size, edge chunks included.
type ChunkIO interface {
	// ReadChunk returns the chunk at coords, or nil with no error when the
	// chunk has never been written.
	ReadChunk(ctx context.Context, coords []int) ([]byte, error)

	// WriteChunk stores the chunk at coords.
	WriteChunk(ctx context.Context, coords []int, data []byte) error
}

// Engine performs region reads and writes over a chunk grid.
type Engine struct {
	IO    ChunkIO
	Cache *Cache
	Locks *Locks
	// CacheKey prefixes cache entries so images can share a Cache.
	CacheKey string
	Order    types.AxisOrder
	Grid     Grid
	DType    types.DType
	Workers  int
}

// NewEngine builds an engine for m. Chunk extents come from m.ChunkShape.
func NewEngine(m *types.Metadata, io ChunkIO) (*Engine, error) {
	grid, err := NewGrid(m.Shape(), m.ChunkShape)
	if err != nil {
		return nil, err
	}
	return &Engine{
		IO:      io,
		Locks:   NewLocks(),
		Order:   append(types.AxisOrder(nil), m.AxisOrder...),
		Grid:    grid,
		DType:   m.DType,
		Workers: runtime.NumCPU(),
	}, nil
}

func (e *Engine) workers() int {
	if e.Workers < 1 {
		return 1
	}
	return e.Workers
}

// ChunkBytes returns the size of one decoded chunk.
func (e *Engine) ChunkBytes() int {
	return e.Grid.ChunkElems() * e.DType.Size()
}

// Read assembles the selected pixels. Chunks are fetched concurrently; any
// failure aborts the whole read and no partial array is returned.
func (e *Engine) Read(ctx context.Context, sel types.Selection) (*types.Array, error) {
	phys, err := Physical(sel, e.Order)
	if err != nil {
		return nil, err
	}
	out := types.NewArray(e.DType, sel.Shape())
	cp := &copier{
		chunkStrides: chunkStrides(e.Grid.Chunks, e.DType.Size()),
		outStrides:   outStrides(out.Shape, e.Order, e.DType.Size()),
		itemSize:     e.DType.Size(),
		dir:          chunkToOut,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for _, p := range e.Grid.Project(phys) {
		g.Go(func() error {
			chunk, err := e.readChunk(ctx, p)
			if err != nil {
				return err
			}
			if chunk == nil {
				return nil
			}
			// Projections write disjoint output positions.
			cp.run(p, chunk, out.Data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) readChunk(ctx context.Context, p Projection) ([]byte, error) {
	if e.Cache == nil {
		return e.fetch(ctx, p)
	}
	key := e.Cache.Key(e.CacheKey, p.Key())
	if chunk, ok := e.Cache.Get(key); ok {
		return chunk, nil
	}
	gen, release := e.Locks.Pin(p.Key())
	defer release()
	chunk, err := e.fetch(ctx, p)
	if err != nil || chunk == nil {
		return chunk, err
	}
	// A write that finished during the fetch has already evicted key.
	e.Locks.IfCurrent(p.Key(), gen, func() { e.Cache.Set(key, chunk) })
	return chunk, nil
}

func (e *Engine) fetch(ctx context.Context, p Projection) ([]byte, error) {
	chunk, err := e.IO.ReadChunk(ctx, p.Coords)
	if err != nil {
		return nil, err
	}
	if chunk != nil && len(chunk) != e.ChunkBytes() {
		return nil, fmt.Errorf("%w: chunk %s holds %d bytes, expected %d",
			types.ErrStorage, p.Key(), len(chunk), e.ChunkBytes())
	}
	return chunk, nil
}

// Invalidate drops every cached chunk stored under this image's key in any
// open cache, including entries left by an earlier image at the same
// location.
func (e *Engine) Invalidate() {
	if e.CacheKey != "" {
		PurgeAll(e.CacheKey)
	}
}

// Write scatters arr into the selected positions. arr must match the
// selection's shape and the engine's dtype.
func (e *Engine) Write(ctx context.Context, sel types.Selection, arr *types.Array) error {
	if err := arr.Check(); err != nil {
		return err
	}
	if arr.DType != e.DType {
		return fmt.Errorf("%w: array is %s, image is %s", types.ErrInvalidArgument, arr.DType, e.DType)
	}
	if arr.Shape != sel.Shape() {
		return fmt.Errorf("%w: array shape %s does not match region %s", types.ErrInvalidArgument, arr.Shape, sel.Shape())
	}
	phys, err := Physical(sel, e.Order)
	if err != nil {
		return err
	}
	cp := &copier{
		chunkStrides: chunkStrides(e.Grid.Chunks, e.DType.Size()),
		outStrides:   outStrides(arr.Shape, e.Order, e.DType.Size()),
		itemSize:     e.DType.Size(),
		dir:          outToChunk,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for _, p := range e.Grid.Project(phys) {
		g.Go(func() error {
			return e.writeChunk(ctx, cp, p, arr.Data)
		})
	}
	return g.Wait()
}

func (e *Engine) writeChunk(ctx context.Context, cp *copier, p Projection, src []byte) error {
	key := p.Key()
	unlock := e.Locks.Lock(key)
	defer unlock()

	var chunk []byte
	if !e.Grid.Covers(p) {
		existing, err := e.IO.ReadChunk(ctx, p.Coords)
		if err != nil {
			return err
		}
		if existing != nil && len(existing) == e.ChunkBytes() {
			chunk = append([]byte(nil), existing...)
		}
	}
	if chunk == nil {
		chunk = make([]byte, e.ChunkBytes())
	}

	cp.run(p, chunk, src)
	if err := e.IO.WriteChunk(ctx, p.Coords, chunk); err != nil {
		return err
	}
	if e.Cache != nil {
		e.Locks.Advance(key, func() { e.Cache.Delete(e.Cache.Key(e.CacheKey, key)) })
	}
	return nil
}
