// Package layout maps 5D logical selections onto chunked physical storage
// and moves pixels between chunks and dense arrays.
package layout

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/simonhull/bfio/internal/types"
)

// Grid is a regular chunk grid over an N-dimensional array, in physical
// axis order (outermost first).
type Grid struct {
	Shape  []int
	Chunks []int
}

// NewGrid validates shape and chunk extents.
func NewGrid(shape, chunks []int) (Grid, error) {
	if len(shape) != len(chunks) {
		return Grid{}, fmt.Errorf("%w: %d chunk extents for rank %d", types.ErrInvalidArgument, len(chunks), len(shape))
	}
	for i := range shape {
		if shape[i] < 1 || chunks[i] < 1 {
			return Grid{}, fmt.Errorf("%w: axis %d has shape %d, chunk %d", types.ErrInvalidArgument, i, shape[i], chunks[i])
		}
	}
	return Grid{Shape: append([]int(nil), shape...), Chunks: append([]int(nil), chunks...)}, nil
}

// Rank returns the number of physical axes.
func (g Grid) Rank() int { return len(g.Shape) }

// NumChunks returns the number of chunks along axis.
func (g Grid) NumChunks(axis int) int {
	return (g.Shape[axis] + g.Chunks[axis] - 1) / g.Chunks[axis]
}

// ChunkElems returns the number of elements in one (full-size) chunk.
func (g Grid) ChunkElems() int {
	n := 1
	for _, c := range g.Chunks {
		n *= c
	}
	return n
}

// Extent returns how many positions of chunk coord along axis lie inside the
// array; edge chunks are partially outside.
func (g Grid) Extent(axis, coord int) int {
	return min(g.Chunks[axis], g.Shape[axis]-coord*g.Chunks[axis])
}

// Projection is the part of a selection that falls into one chunk.
type Projection struct {
	// Coords is the chunk's grid coordinate.
	Coords []int
	// ChunkSel lists positions inside the chunk, per axis.
	ChunkSel [][]int
	// OutSel lists the matching positions in the dense array, per axis.
	OutSel [][]int
}

// Key renders Coords as "a.b.c" for locks and cache keys.
func (p Projection) Key() string {
	return CoordsKey(p.Coords)
}

// CoordsKey renders chunk coordinates joined by dots.
func CoordsKey(coords []int) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ".")
}

type axisPart struct {
	coord    int
	chunkSel []int
	outSel   []int
}

// Project splits per-axis selections into per-chunk projections. Positions
// must already be validated against Shape.
func (g Grid) Project(sel [][]int) []Projection {
	parts := make([][]axisPart, len(sel))
	for axis, idx := range sel {
		byChunk := make(map[int]*axisPart)
		for out, pos := range idx {
			coord := pos / g.Chunks[axis]
			p, ok := byChunk[coord]
			if !ok {
				p = &axisPart{coord: coord}
				byChunk[coord] = p
			}
			p.chunkSel = append(p.chunkSel, pos-coord*g.Chunks[axis])
			p.outSel = append(p.outSel, out)
		}
		list := make([]axisPart, 0, len(byChunk))
		for _, p := range byChunk {
			list = append(list, *p)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].coord < list[j].coord })
		parts[axis] = list
	}

	var out []Projection
	cursor := make([]int, len(parts))
	for {
		p := Projection{
			Coords:   make([]int, len(parts)),
			ChunkSel: make([][]int, len(parts)),
			OutSel:   make([][]int, len(parts)),
		}
		for axis, i := range cursor {
			part := parts[axis][i]
			p.Coords[axis] = part.coord
			p.ChunkSel[axis] = part.chunkSel
			p.OutSel[axis] = part.outSel
		}
		out = append(out, p)

		axis := len(cursor) - 1
		for ; axis >= 0; axis-- {
			cursor[axis]++
			if cursor[axis] < len(parts[axis]) {
				break
			}
			cursor[axis] = 0
		}
		if axis < 0 {
			return out
		}
	}
}

// Covers reports whether p touches every in-bounds position of its chunk, in
// which case a write needs no read-modify-write.
func (g Grid) Covers(p Projection) bool {
	for axis, sel := range p.ChunkSel {
		extent := g.Extent(axis, p.Coords[axis])
		seen := make(map[int]struct{}, len(sel))
		for _, v := range sel {
			seen[v] = struct{}{}
		}
		if len(seen) != extent {
			return false
		}
	}
	return true
}

// Physical reorders a logical selection into AxisOrder. Logical axes missing
// from the order must select only position 0.
func Physical(sel types.Selection, order types.AxisOrder) ([][]int, error) {
	for a := types.AxisX; a <= types.AxisT; a++ {
		if order.Index(a) >= 0 {
			continue
		}
		if len(sel[a]) != 1 || sel[a][0] != 0 {
			return nil, fmt.Errorf("%w: axis %s is not stored", types.ErrInvalidArgument, a)
		}
	}
	phys := make([][]int, len(order))
	for i, a := range order {
		phys[i] = sel[a]
	}
	return phys, nil
}

// chunkStrides returns byte strides of a C-ordered chunk.
func chunkStrides(chunks []int, itemSize int) []int {
	strides := make([]int, len(chunks))
	stride := itemSize
	for i := len(chunks) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= chunks[i]
	}
	return strides
}

// outStrides returns the dense array's byte strides in physical axis order.
func outStrides(shape types.Dims, order types.AxisOrder, itemSize int) []int {
	logical := types.Strides(shape, itemSize)
	strides := make([]int, len(order))
	for i, a := range order {
		strides[i] = logical[a]
	}
	return strides
}
