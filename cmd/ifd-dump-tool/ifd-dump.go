package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/simonhull/bfio/internal/binary"
)

// Useful for checking which tags a TIFF writer actually emitted.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ifd-dump <file.ome.tif>")
		os.Exit(1)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	sr := binary.NewSafeReader(f, stat.Size(), os.Args[1])
	if err := dumpIFDs(sr); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func dumpIFDs(sr *binary.SafeReader) error {
	magic := make([]byte, 4)
	if err := sr.ReadAt(magic, 0, "header"); err != nil {
		return err
	}
	switch string(magic[:2]) {
	case "II":
		sr.SetOrder(binary.LittleEndian)
	case "MM":
		sr.SetOrder(binary.BigEndian)
	default:
		return fmt.Errorf("not a TIFF file")
	}

	big := binary.Decode[uint16](magic[2:], sr.Order()) == 43
	var next uint64
	if big {
		off, err := binary.Read[uint64](sr, 8, "first IFD offset")
		if err != nil {
			return err
		}
		next = off
	} else {
		off, err := binary.Read[uint32](sr, 4, "first IFD offset")
		if err != nil {
			return err
		}
		next = uint64(off)
	}
	fmt.Printf("%s TIFF, byte order %s\n", map[bool]string{false: "classic", true: "Big"}[big], sr.Order())

	seen := make(map[uint64]bool)
	for index := 0; next != 0; index++ {
		if seen[next] {
			return fmt.Errorf("IFD loop at offset %d", next)
		}
		seen[next] = true

		var err error
		next, err = dumpIFD(sr, index, int64(next), big)
		if err != nil {
			return err
		}
	}
	return nil
}

// dumpIFD prints one directory and returns the offset of the next.
func dumpIFD(sr *binary.SafeReader, index int, off int64, big bool) (uint64, error) {
	cr := binary.NewChainReader(binary.NewReader(sr, off))
	var count uint64
	if big {
		count = binary.ReadChained[uint64](cr, "entry count")
	} else {
		count = uint64(binary.ReadChained[uint16](cr, "entry count"))
	}
	if err := cr.Error(); err != nil {
		return 0, err
	}
	fmt.Printf("IFD %d (offset: %d, entries: %d)\n", index, off, count)

	for range count {
		at := cr.Offset()
		tag := binary.ReadChained[uint16](cr, "tag")
		typ := binary.ReadChained[uint16](cr, "type")
		var n uint64
		var value []byte
		if big {
			n = binary.ReadChained[uint64](cr, "count")
			value = cr.Bytes(8, "value")
		} else {
			n = uint64(binary.ReadChained[uint32](cr, "count"))
			value = cr.Bytes(4, "value")
		}
		if err := cr.Error(); err != nil {
			return 0, err
		}
		fmt.Printf("  @%-8d %-18s type %-2d count %-6d %s\n", at, tagName(tag), typ, n, preview(sr, typ, n, value, big))
	}

	var next uint64
	if big {
		next = binary.ReadChained[uint64](cr, "next IFD")
	} else {
		next = uint64(binary.ReadChained[uint32](cr, "next IFD"))
	}
	return next, cr.Error()
}

// preview renders inline values and ASCII strings.
func preview(sr *binary.SafeReader, typ uint16, n uint64, value []byte, big bool) string {
	order := sr.Order()
	switch {
	case typ == 2:
		text := string(value[:min(uint64(len(value)), n)])
		if n > uint64(len(value)) {
			var off int64
			if big {
				off = int64(binary.Decode[uint64](value, order))
			} else {
				off = int64(binary.Decode[uint32](value, order))
			}
			buf := make([]byte, min(n, 80))
			if err := sr.ReadAt(buf, off, "ascii value"); err != nil {
				return "<unreadable>"
			}
			text = string(buf)
		}
		text = strings.TrimRight(text, "\x00")
		if len(text) > 60 {
			text = text[:60] + "..."
		}
		return fmt.Sprintf("%q", text)
	case typ == 3 && n == 1:
		return fmt.Sprint(binary.Decode[uint16](value, order))
	case typ == 4 && n == 1:
		return fmt.Sprint(binary.Decode[uint32](value, order))
	case typ == 16 && n == 1:
		return fmt.Sprint(binary.Decode[uint64](value, order))
	}
	return ""
}

func tagName(tag uint16) string {
	names := map[uint16]string{
		256: "ImageWidth",
		257: "ImageLength",
		258: "BitsPerSample",
		259: "Compression",
		262: "Photometric",
		270: "ImageDescription",
		273: "StripOffsets",
		277: "SamplesPerPixel",
		278: "RowsPerStrip",
		279: "StripByteCounts",
		284: "PlanarConfig",
		305: "Software",
		317: "Predictor",
		322: "TileWidth",
		323: "TileLength",
		324: "TileOffsets",
		325: "TileByteCounts",
		339: "SampleFormat",
	}
	if name, ok := names[tag]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", tag)
}
