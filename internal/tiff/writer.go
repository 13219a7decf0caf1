package tiff

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/simonhull/bfio/internal/binary"
)

// entry is one IFD field to be written. data is little-endian.
type entry struct {
	data  []byte
	count uint64
	tag   uint16
	typ   uint16
}

func shorts(tag uint16, vals ...uint16) entry {
	var buf []byte
	for _, v := range vals {
		buf = append(buf, binary.Encode(v, binary.LittleEndian)...)
	}
	return entry{tag: tag, typ: typeShort, count: uint64(len(vals)), data: buf}
}

func longs(tag uint16, vals ...uint32) entry {
	var buf []byte
	for _, v := range vals {
		buf = append(buf, binary.Encode(v, binary.LittleEndian)...)
	}
	return entry{tag: tag, typ: typeLong, count: uint64(len(vals)), data: buf}
}

// offsets stores vals as LONG, or LONG8 in BigTIFF files.
func offsets(tag uint16, big bool, vals []uint64) entry {
	if !big {
		narrow := make([]uint32, len(vals))
		for i, v := range vals {
			narrow[i] = uint32(v)
		}
		return longs(tag, narrow...)
	}
	var buf []byte
	for _, v := range vals {
		buf = append(buf, binary.Encode(v, binary.LittleEndian)...)
	}
	return entry{tag: tag, typ: typeLong8, count: uint64(len(vals)), data: buf}
}

func ascii(tag uint16, s string) entry {
	data := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint64(len(data)), data: data}
}

// fileLayout describes the output file before any byte is written.
type fileLayout struct {
	big bool
}

func (l fileLayout) headerSize() uint64 {
	if l.big {
		return 16
	}
	return 8
}

// encodeIFD renders a directory placed at offset at, followed by the values
// that do not fit inline. Entries must be sorted by tag.
func (l fileLayout) encodeIFD(entries []entry, at, next uint64) []byte {
	var buf bytes.Buffer
	sw := binary.NewSafeWriter(&buf)
	inline, entrySize, countSize := 4, 12, 2
	if l.big {
		inline, entrySize, countSize = 8, 20, 8
	}
	extOff := at + uint64(countSize+len(entries)*entrySize+inline)
	var ext bytes.Buffer

	word := func(v uint64) {
		if l.big {
			binary.Write(sw, v) //nolint:errcheck // bytes.Buffer never fails
		} else {
			binary.Write(sw, uint32(v)) //nolint:errcheck // bytes.Buffer never fails
		}
	}

	if l.big {
		binary.Write(sw, uint64(len(entries))) //nolint:errcheck // bytes.Buffer never fails
	} else {
		binary.Write(sw, uint16(len(entries))) //nolint:errcheck // bytes.Buffer never fails
	}
	for _, e := range entries {
		binary.Write(sw, e.tag) //nolint:errcheck // bytes.Buffer never fails
		binary.Write(sw, e.typ) //nolint:errcheck // bytes.Buffer never fails
		word(e.count)
		if len(e.data) <= inline {
			slot := make([]byte, inline)
			copy(slot, e.data)
			sw.WriteBytes(slot) //nolint:errcheck // bytes.Buffer never fails
			continue
		}
		word(extOff + uint64(ext.Len()))
		ext.Write(e.data)
		if ext.Len()%2 == 1 {
			ext.WriteByte(0)
		}
	}
	word(next)
	buf.Write(ext.Bytes())
	return buf.Bytes()
}

// plane is one image directory to write: its fixed entries plus its blocks.
type plane struct {
	// entries excludes TileOffsets and TileByteCounts.
	entries []entry
	blocks  [][]byte
}

// directory returns the complete sorted entries for p.
func (l fileLayout) directory(p plane, offs, counts []uint64) []entry {
	out := make([]entry, 0, len(p.entries)+2)
	var tail []entry
	for _, e := range p.entries {
		if e.tag < tagTileOffsets {
			out = append(out, e)
		} else {
			tail = append(tail, e)
		}
	}
	out = append(out, offsets(tagTileOffsets, l.big, offs), offsets(tagTileByteCounts, l.big, counts))
	return append(out, tail...)
}

// writeFile writes a complete TIFF: header, every directory, then the block
// data. Identical block buffers (the shared empty tile) are stored once.
func writeFile(path string, planes []plane) error {
	l := fileLayout{}
	if l.size(planes) > math.MaxUint32 {
		l.big = true
	}

	// Assign block offsets after the directory area.
	ifdSizes := make([]uint64, len(planes))
	var ifdArea uint64
	for i, p := range planes {
		n := len(p.blocks)
		ifdSizes[i] = uint64(len(l.encodeIFD(l.directory(p, make([]uint64, n), make([]uint64, n)), 0, 0)))
		ifdArea += ifdSizes[i]
	}

	cursor := l.headerSize() + ifdArea
	placed := make(map[*byte]uint64)
	var order [][]byte
	var orderAt []uint64
	offs := make([][]uint64, len(planes))
	counts := make([][]uint64, len(planes))
	for i, p := range planes {
		offs[i] = make([]uint64, len(p.blocks))
		counts[i] = make([]uint64, len(p.blocks))
		for j, b := range p.blocks {
			counts[i][j] = uint64(len(b))
			if len(b) == 0 {
				continue
			}
			if at, ok := placed[&b[0]]; ok {
				offs[i][j] = at
				continue
			}
			placed[&b[0]] = cursor
			offs[i][j] = cursor
			order = append(order, b)
			orderAt = append(orderAt, cursor)
			// Blocks start on word boundaries.
			cursor += uint64(len(b))
			cursor += cursor & 1
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	sw := binary.NewSafeWriter(bw)

	if err := l.writeHeader(sw, l.headerSize()); err != nil {
		f.Close() //nolint:errcheck // already failing
		return err
	}
	at := l.headerSize()
	for i, p := range planes {
		if err := checkOffset(sw, at, "directory"); err != nil {
			f.Close() //nolint:errcheck // already failing
			return err
		}
		next := uint64(0)
		if i < len(planes)-1 {
			next = at + ifdSizes[i]
		}
		if err := sw.WriteBytes(l.encodeIFD(l.directory(p, offs[i], counts[i]), at, next)); err != nil {
			f.Close() //nolint:errcheck // already failing
			return err
		}
		at += ifdSizes[i]
	}
	for i, b := range order {
		if err := sw.Pad(2); err != nil {
			f.Close() //nolint:errcheck // already failing
			return err
		}
		if err := checkOffset(sw, orderAt[i], "block"); err != nil {
			f.Close() //nolint:errcheck // already failing
			return err
		}
		if err := sw.WriteBytes(b); err != nil {
			f.Close() //nolint:errcheck // already failing
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close() //nolint:errcheck // already failing
		return err
	}
	return f.Close()
}

// checkOffset reports a write position that drifted from the planned layout.
func checkOffset(sw *binary.SafeWriter, want uint64, what string) error {
	if got := uint64(sw.Offset()); got != want {
		return fmt.Errorf("tiff layout: %s written at %d, planned at %d", what, got, want)
	}
	return nil
}

func (l fileLayout) writeHeader(sw *binary.SafeWriter, first uint64) error {
	if err := sw.WriteString("II"); err != nil {
		return err
	}
	if !l.big {
		if err := binary.Write(sw, uint16(magicClassic)); err != nil {
			return err
		}
		return binary.Write(sw, uint32(first))
	}
	for _, v := range []uint16{magicBig, 8, 0} {
		if err := binary.Write(sw, v); err != nil {
			return err
		}
	}
	return binary.Write(sw, first)
}

// size estimates the classic-TIFF file size, counting shared blocks once.
func (l fileLayout) size(planes []plane) uint64 {
	total := l.headerSize()
	seen := make(map[*byte]bool)
	for _, p := range planes {
		n := len(p.blocks)
		total += uint64(len(l.encodeIFD(l.directory(p, make([]uint64, n), make([]uint64, n)), 0, 0)))
		for _, b := range p.blocks {
			if len(b) == 0 || seen[&b[0]] {
				continue
			}
			seen[&b[0]] = true
			total += uint64(len(b)) + uint64(len(b)&1)
		}
	}
	return total
}
