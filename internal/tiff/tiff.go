// Package tiff reads and writes tiled or stripped TIFF and BigTIFF files and
// implements the OME-TIFF ("tiff") backend on top of them.
package tiff

import (
	"fmt"
	"strings"

	"github.com/simonhull/bfio/internal/binary"
	"github.com/simonhull/bfio/internal/codec"
	"github.com/simonhull/bfio/internal/types"
)

// Tags used by this package.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagSoftware         = 305
	tagPredictor        = 317
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
)

// Field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
	typeIFD       = 13
	typeLong8     = 16
	typeSLong8    = 17
	typeIFD8      = 18
)

// Compression tag values.
const (
	compressionNone        = 1
	compressionAdobeZlib   = 8
	compressionDeflate     = 32946
	compressionZstd        = 50000
	photometricBlackIsZero = 1
)

const (
	magicClassic = 42
	magicBig     = 43
	maxEntries   = 4096
	maxIFDs      = 1 << 20
	// maxFieldBytes bounds a single field value read from the file.
	maxFieldBytes = 256 << 20
)

func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII, typeSByte, typeUndefined:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat, typeIFD:
		return 4
	case typeRational, typeSRational, typeDouble, typeLong8, typeSLong8, typeIFD8:
		return 8
	default:
		return 0
	}
}

// codecFor maps a Compression tag to a codec.
func codecFor(compression uint16) (codec.Codec, error) {
	switch compression {
	case compressionNone, 0:
		return codec.New(codec.Raw, 0)
	case compressionAdobeZlib, compressionDeflate:
		return codec.New(codec.Zlib, 0)
	case compressionZstd:
		return codec.New(codec.Zstd, 0)
	}
	return nil, fmt.Errorf("%w: TIFF compression %d", types.ErrUnsupportedFormat, compression)
}

// compressionFor maps a codec name to a Compression tag.
func compressionFor(name string) (uint16, error) {
	switch name {
	case codec.Raw:
		return compressionNone, nil
	case codec.Zlib:
		return compressionAdobeZlib, nil
	case codec.Zstd:
		return compressionZstd, nil
	}
	return 0, types.Invalidf("compressor %s cannot be stored in TIFF", name)
}

// header is the decoded file header.
type header struct {
	first uint64
	order binary.Endianness
	big   bool
}

// inline returns the size of an in-entry value slot.
func (h header) inline() int {
	if h.big {
		return 8
	}
	return 4
}

func readHeader(sr *binary.SafeReader) (header, error) {
	var h header
	bom := make([]byte, 2)
	if err := sr.ReadAt(bom, 0, "TIFF byte order"); err != nil {
		return h, err
	}
	switch string(bom) {
	case "II":
		h.order = binary.LittleEndian
	case "MM":
		h.order = binary.BigEndian
	default:
		return h, &types.CorruptedFileError{Path: sr.Path(), Reason: "invalid TIFF byte order mark"}
	}
	sr.SetOrder(h.order)

	magic, err := binary.Read[uint16](sr, 2, "TIFF magic")
	if err != nil {
		return h, err
	}
	switch magic {
	case magicClassic:
		off, err := binary.Read[uint32](sr, 4, "first IFD offset")
		if err != nil {
			return h, err
		}
		h.first = uint64(off)
	case magicBig:
		h.big = true
		cr := binary.NewChainReader(binary.NewReader(sr, 4))
		size := binary.ReadChained[uint16](cr, "BigTIFF offset size")
		reserved := binary.ReadChained[uint16](cr, "BigTIFF reserved")
		h.first = binary.ReadChained[uint64](cr, "first IFD offset")
		if err := cr.Error(); err != nil {
			return h, err
		}
		if size != 8 || reserved != 0 {
			return h, &types.CorruptedFileError{Path: sr.Path(), Reason: "invalid BigTIFF header", Offset: 4}
		}
	default:
		return h, &types.CorruptedFileError{Path: sr.Path(), Reason: fmt.Sprintf("invalid TIFF magic %d", magic), Offset: 2}
	}
	return h, nil
}

// field is one raw IFD entry value.
type field struct {
	data  []byte
	typ   uint16
	count uint64
}

// uints decodes integer fields.
func (f field) uints(order binary.Endianness) []uint64 {
	size := typeSize(f.typ)
	if size == 0 || f.typ == typeRational || f.typ == typeSRational || f.typ == typeFloat || f.typ == typeDouble {
		return nil
	}
	out := make([]uint64, 0, f.count)
	for i := 0; i+size <= len(f.data); i += size {
		switch size {
		case 1:
			out = append(out, uint64(f.data[i]))
		case 2:
			out = append(out, uint64(binary.Decode[uint16](f.data[i:], order)))
		case 4:
			out = append(out, uint64(binary.Decode[uint32](f.data[i:], order)))
		case 8:
			out = append(out, binary.Decode[uint64](f.data[i:], order))
		}
	}
	return out
}

func (f field) str() string {
	return strings.TrimRight(string(f.data), "\x00")
}

// readIFD parses the directory at off and returns its fields and the offset
// of the next directory.
func readIFD(sr *binary.SafeReader, h header, off uint64) (map[uint16]field, uint64, error) {
	cr := binary.NewChainReader(binary.NewReader(sr, int64(off)))
	var n uint64
	if h.big {
		n = binary.ReadChained[uint64](cr, "IFD entry count")
	} else {
		n = uint64(binary.ReadChained[uint16](cr, "IFD entry count"))
	}
	if err := cr.Error(); err != nil {
		return nil, 0, err
	}
	if n == 0 || n > maxEntries {
		return nil, 0, &types.CorruptedFileError{Path: sr.Path(), Reason: fmt.Sprintf("IFD has %d entries", n), Offset: int64(off)}
	}

	fields := make(map[uint16]field, n)
	for range n {
		tag := binary.ReadChained[uint16](cr, "IFD entry tag")
		typ := binary.ReadChained[uint16](cr, "IFD entry type")
		var count uint64
		if h.big {
			count = binary.ReadChained[uint64](cr, "IFD entry count")
		} else {
			count = uint64(binary.ReadChained[uint32](cr, "IFD entry count"))
		}
		slot := cr.Bytes(h.inline(), "IFD entry value")
		if err := cr.Error(); err != nil {
			return nil, 0, err
		}

		size := uint64(typeSize(typ)) * count
		if typeSize(typ) == 0 {
			continue
		}
		if size > maxFieldBytes {
			return nil, 0, &types.CorruptedFileError{Path: sr.Path(), Reason: fmt.Sprintf("tag %d value too large", tag), Offset: int64(off)}
		}
		data := slot[:min(size, uint64(len(slot)))]
		if size > uint64(h.inline()) {
			var valueOff uint64
			if h.big {
				valueOff = binary.Decode[uint64](slot, h.order)
			} else {
				valueOff = uint64(binary.Decode[uint32](slot, h.order))
			}
			data = make([]byte, size)
			if err := sr.ReadAt(data, int64(valueOff), fmt.Sprintf("tag %d value", tag)); err != nil {
				return nil, 0, err
			}
		}
		fields[tag] = field{typ: typ, count: count, data: data}
	}

	var next uint64
	if h.big {
		next = binary.ReadChained[uint64](cr, "next IFD offset")
	} else {
		next = uint64(binary.ReadChained[uint32](cr, "next IFD offset"))
	}
	return fields, next, cr.Error()
}

// ifd is one decoded image directory.
type ifd struct {
	description string
	offsets     []uint64
	counts      []uint64
	width       int
	height      int
	// blockW and blockH are the tile size, or width by RowsPerStrip.
	blockW      int
	blockH      int
	bits        uint16
	format      uint16
	compression uint16
	tiled       bool
}

// across returns the number of blocks per row.
func (d *ifd) across() int { return (d.width + d.blockW - 1) / d.blockW }

// down returns the number of block rows.
func (d *ifd) down() int { return (d.height + d.blockH - 1) / d.blockH }

// sameLayout reports whether o stores pixels with d's geometry.
func (d *ifd) sameLayout(o *ifd) bool {
	return d.width == o.width && d.height == o.height && d.blockW == o.blockW &&
		d.blockH == o.blockH && d.bits == o.bits && d.format == o.format
}

func decodeIFD(path string, order binary.Endianness, off uint64, fields map[uint16]field) (*ifd, error) {
	corrupt := func(reason string) error {
		return &types.CorruptedFileError{Path: path, Reason: reason, Offset: int64(off)}
	}
	first := func(tag uint16, def uint64) uint64 {
		if f, ok := fields[tag]; ok {
			if v := f.uints(order); len(v) > 0 {
				return v[0]
			}
		}
		return def
	}

	d := &ifd{
		width:       int(first(tagImageWidth, 0)),
		height:      int(first(tagImageLength, 0)),
		bits:        uint16(first(tagBitsPerSample, 1)),
		format:      uint16(first(tagSampleFormat, types.SampleFormatUint)),
		compression: uint16(first(tagCompression, compressionNone)),
	}
	if d.width < 1 || d.height < 1 {
		return nil, corrupt("missing image dimensions")
	}
	if spp := first(tagSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("%w: %s: %d samples per pixel", types.ErrUnsupportedFormat, path, spp)
	}
	if p := first(tagPredictor, 1); p != 1 {
		return nil, fmt.Errorf("%w: %s: predictor %d", types.ErrUnsupportedFormat, path, p)
	}
	if f, ok := fields[tagImageDescription]; ok {
		d.description = f.str()
	}

	offTag, countTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if _, ok := fields[tagTileWidth]; ok {
		d.tiled = true
		d.blockW = int(first(tagTileWidth, 0))
		d.blockH = int(first(tagTileLength, 0))
		offTag, countTag = tagTileOffsets, tagTileByteCounts
	} else {
		d.blockW = d.width
		d.blockH = min(int(first(tagRowsPerStrip, uint64(d.height))), d.height)
	}
	if d.blockW < 1 || d.blockH < 1 {
		return nil, corrupt("invalid tile or strip size")
	}
	d.offsets = fields[offTag].uints(order)
	d.counts = fields[countTag].uints(order)
	if n := d.across() * d.down(); len(d.offsets) < n || len(d.counts) < n {
		return nil, corrupt(fmt.Sprintf("%d blocks declared, %d offsets and %d byte counts", n, len(d.offsets), len(d.counts)))
	}
	return d, nil
}

// readIFDs walks the directory chain.
func readIFDs(sr *binary.SafeReader, h header) ([]*ifd, error) {
	var out []*ifd
	seen := make(map[uint64]bool)
	for off := h.first; off != 0; {
		if seen[off] {
			return nil, &types.CorruptedFileError{Path: sr.Path(), Reason: "IFD chain loops", Offset: int64(off)}
		}
		if len(out) >= maxIFDs {
			return nil, &types.CorruptedFileError{Path: sr.Path(), Reason: "too many IFDs", Offset: int64(off)}
		}
		seen[off] = true
		fields, next, err := readIFD(sr, h, off)
		if err != nil {
			return nil, err
		}
		d, err := decodeIFD(sr.Path(), h.order, off, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		off = next
	}
	if len(out) == 0 {
		return nil, &types.CorruptedFileError{Path: sr.Path(), Reason: "no image directories"}
	}
	return out, nil
}
