package layout

// direction selects which side of a copy is the destination.
type direction int

const (
	chunkToOut direction = iota
	outToChunk
)

// copier moves one projection between a chunk buffer and a dense array.
type copier struct {
	chunkStrides []int
	outStrides   []int
	itemSize     int
	dir          direction
}

func (c *copier) run(p Projection, chunk, out []byte) {
	c.recurse(p, 0, 0, 0, chunk, out)
}

// recurse walks one axis per level; the innermost axis copies contiguous
// runs in a single call.
func (c *copier) recurse(p Projection, axis, chunkOff, outOff int, chunk, out []byte) {
	csel, osel := p.ChunkSel[axis], p.OutSel[axis]
	cs, os := c.chunkStrides[axis], c.outStrides[axis]

	if axis < len(p.ChunkSel)-1 {
		for i := range csel {
			c.recurse(p, axis+1, chunkOff+csel[i]*cs, outOff+osel[i]*os, chunk, out)
		}
		return
	}

	if cs == c.itemSize && os == c.itemSize {
		for start := 0; start < len(csel); {
			end := start + 1
			for end < len(csel) && csel[end] == csel[end-1]+1 && osel[end] == osel[end-1]+1 {
				end++
			}
			n := (end - start) * c.itemSize
			co := chunkOff + csel[start]*cs
			oo := outOff + osel[start]*os
			c.move(chunk[co:co+n], out[oo:oo+n])
			start = end
		}
		return
	}

	for i := range csel {
		co := chunkOff + csel[i]*cs
		oo := outOff + osel[i]*os
		c.move(chunk[co:co+c.itemSize], out[oo:oo+c.itemSize])
	}
}

func (c *copier) move(chunk, out []byte) {
	if c.dir == chunkToOut {
		copy(out, chunk)
	} else {
		copy(chunk, out)
	}
}
