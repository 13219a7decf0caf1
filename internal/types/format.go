package types

import (
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/simonhull/bfio/internal/binary"
)

// Format represents the detected container format of a dataset.
type Format int

const (
	// FormatUnknown means no marker or signature was found.
	FormatUnknown Format = iota // undetected
	// FormatZarrV2 is a Zarr v2 store (.zarray / .zgroup markers).
	FormatZarrV2 // v2
	// FormatZarrV3 is a Zarr v3 store (zarr.json with zarr_format 3).
	FormatZarrV3 // v3
	// FormatTIFF is a classic or BigTIFF file, usually OME-TIFF.
	FormatTIFF // tiff
	// FormatLegacy is a proprietary container read through the legacy bridge.
	FormatLegacy // legacy
)

// String returns the short name used in logs and errors.
func (f Format) String() string {
	switch f {
	case FormatZarrV2:
		return "v2"
	case FormatZarrV3:
		return "v3"
	case FormatTIFF:
		return "tiff"
	case FormatLegacy:
		return "legacy"
	default:
		return "undetected"
	}
}

// Marker file names.
const (
	MarkerZarray = ".zarray"
	MarkerZgroup = ".zgroup"
	MarkerZattrs = ".zattrs"
	MarkerZarrV3 = "zarr.json"
	OMEXMLPath   = "OME/METADATA.ome.xml"
	zarrFormatV3 = 3
)

// tiffExtensions are matched case-insensitively against the path suffix.
var tiffExtensions = []string{".ome.tiff", ".ome.tif", ".tiff", ".tif", ".btf", ".ome.btf"}

// zarrExtensions name directories that will hold a Zarr store.
var zarrExtensions = []string{".ome.zarr", ".zarr"}

// legacyExtensions are proprietary containers only the legacy bridge can open.
var legacyExtensions = []string{
	".czi", ".nd2", ".lif", ".lsm", ".scn", ".svs", ".vsi", ".ndpi",
	".oib", ".oif", ".ims", ".sld", ".dv", ".stk", ".zvi", ".mrxs",
}

// Extensions returns the file extensions associated with this format.
func (f Format) Extensions() []string {
	switch f {
	case FormatTIFF:
		return tiffExtensions
	case FormatZarrV2, FormatZarrV3:
		return zarrExtensions
	case FormatLegacy:
		return legacyExtensions
	case FormatUnknown:
		return nil
	default:
		return nil
	}
}

// HasExtension reports whether p ends with one of exts (case-insensitive).
func HasExtension(p string, exts []string) bool {
	lower := strings.ToLower(p)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Descriptor is the result of format detection.
type Descriptor struct {
	Format Format
	// Marker is the path of the marker file or signature that decided Format.
	Marker string
}

// Detect classifies path by the markers found at or under it.
//
// A zarr.json declaring zarr_format 3 anywhere in the tree wins over any v2
// marker; v2 markers are only consulted when no v3 marker exists. The walk
// records both kinds before deciding so the order in which entries are
// visited never changes the result. Missing paths are undetected, not errors.
func Detect(p string) Descriptor {
	info, err := os.Stat(p)
	if err != nil {
		return Descriptor{Format: FormatUnknown}
	}
	if !info.IsDir() {
		return detectFile(p, info.Size())
	}

	var v3Marker, v2Marker string
	_ = filepath.WalkDir(p, func(current string, d fs.DirEntry, err error) error { //nolint:errcheck // unreadable subtrees are skipped
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch d.Name() {
		case MarkerZarrV3:
			if v3Marker == "" && isZarrV3Marker(current) {
				v3Marker = current
				return fs.SkipAll
			}
		case MarkerZarray, MarkerZgroup:
			if v2Marker == "" {
				v2Marker = current
			}
		}
		return nil
	})

	switch {
	case v3Marker != "":
		return Descriptor{Format: FormatZarrV3, Marker: v3Marker}
	case v2Marker != "":
		return Descriptor{Format: FormatZarrV2, Marker: v2Marker}
	default:
		return Descriptor{Format: FormatUnknown}
	}
}

// DetectKeys classifies a key/value store from its key listing. load reads a
// key's value and is only called for zarr.json keys.
func DetectKeys(keys []string, load func(key string) ([]byte, error)) Descriptor {
	var v2Marker string
	for _, key := range keys {
		switch path.Base(key) {
		case MarkerZarrV3:
			data, err := load(key)
			if err == nil && declaresZarrV3(data) {
				return Descriptor{Format: FormatZarrV3, Marker: key}
			}
		case MarkerZarray, MarkerZgroup:
			if v2Marker == "" {
				v2Marker = key
			}
		}
	}
	if v2Marker != "" {
		return Descriptor{Format: FormatZarrV2, Marker: v2Marker}
	}
	return Descriptor{Format: FormatUnknown}
}

func isZarrV3Marker(p string) bool {
	data, err := os.ReadFile(p)
	if err != nil {
		return false
	}
	return declaresZarrV3(data)
}

// declaresZarrV3 checks only the zarr_format field.
func declaresZarrV3(data []byte) bool {
	var marker struct {
		ZarrFormat int `json:"zarr_format"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return false
	}
	return marker.ZarrFormat == zarrFormatV3
}

// detectFile checks TIFF signatures, then legacy extensions.
func detectFile(p string, size int64) Descriptor {
	if size >= 4 {
		if f, err := os.Open(p); err == nil {
			defer f.Close() //nolint:errcheck // read-only probe
			if isTIFF(f, size, p) {
				return Descriptor{Format: FormatTIFF, Marker: p}
			}
		}
	}
	if HasExtension(p, legacyExtensions) {
		return Descriptor{Format: FormatLegacy, Marker: p}
	}
	return Descriptor{Format: FormatUnknown}
}

// isTIFF matches classic ("II*\0", "MM\0*") and BigTIFF ("II+\0", "MM\0+") headers.
func isTIFF(r io.ReaderAt, size int64, p string) bool {
	sr := binary.NewSafeReader(r, size, p)
	magic := make([]byte, 4)
	if err := sr.ReadAt(magic, 0, "TIFF signature"); err != nil {
		return false
	}
	switch string(magic) {
	case "II*\x00", "MM\x00*", "II+\x00", "MM\x00+":
		return true
	}
	return false
}
