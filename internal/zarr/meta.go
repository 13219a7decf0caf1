package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/simonhull/bfio/internal/codec"
	"github.com/simonhull/bfio/internal/types"
)

// arrayMeta is the version-independent view of one array.
type arrayMeta struct {
	Codec codec.Codec
	// Fill is one little-endian element, or nil for a zero fill value.
	Fill           []byte
	Shape          []int
	Chunks         []int
	DimensionNames []string
	Separator      string
	// KeyPrefix is prepended to chunk keys ("c" for the v3 default encoding).
	KeyPrefix string
	DType     types.DType
	BigEndian bool
}

// zarray is a Zarr v2 .zarray document.
type zarray struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *compressor     `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            json.RawMessage `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

type compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// zgroup is a Zarr v2 .zgroup document.
type zgroup struct {
	ZarrFormat int `json:"zarr_format"`
}

// node is a Zarr v3 zarr.json document, array or group.
type node struct {
	ZarrFormat       int             `json:"zarr_format"`
	NodeType         string          `json:"node_type"`
	Shape            []int           `json:"shape,omitempty"`
	DataType         string          `json:"data_type,omitempty"`
	ChunkGrid        *namedConfig    `json:"chunk_grid,omitempty"`
	ChunkKeyEncoding *namedConfig    `json:"chunk_key_encoding,omitempty"`
	FillValue        json.RawMessage `json:"fill_value,omitempty"`
	Codecs           []namedConfig   `json:"codecs,omitempty"`
	Attributes       json.RawMessage `json:"attributes,omitempty"`
	DimensionNames   []string        `json:"dimension_names,omitempty"`
}

type namedConfig struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

const (
	nodeArray = "array"
	nodeGroup = "group"
)

func configure(name string, cfg any) namedConfig {
	raw, _ := json.Marshal(cfg) //nolint:errcheck // plain maps always marshal
	return namedConfig{Name: name, Configuration: raw}
}

// parseZarray converts a .zarray document.
func parseZarray(data []byte) (*arrayMeta, error) {
	var za zarray
	if err := json.Unmarshal(data, &za); err != nil {
		return nil, fmt.Errorf("%w: .zarray: %w", types.ErrMetadata, err)
	}
	if za.ZarrFormat != 2 {
		return nil, fmt.Errorf("%w: .zarray declares zarr_format %d", types.ErrMetadata, za.ZarrFormat)
	}
	if za.Order != "" && za.Order != "C" {
		return nil, fmt.Errorf("%w: array order %q", types.ErrUnsupportedFormat, za.Order)
	}
	if len(za.Filters) > 0 && string(za.Filters) != "null" && string(za.Filters) != "[]" {
		return nil, fmt.Errorf("%w: array filters", types.ErrUnsupportedFormat)
	}
	dt, bigEndian, err := types.ParseDType(za.DType)
	if err != nil {
		return nil, err
	}

	m := &arrayMeta{
		Shape:     za.Shape,
		Chunks:    za.Chunks,
		DType:     dt,
		BigEndian: bigEndian,
		Separator: za.DimensionSeparator,
	}
	if m.Separator == "" {
		m.Separator = "."
	}

	name, level := codec.Raw, 0
	if za.Compressor != nil {
		name, level = za.Compressor.ID, za.Compressor.Level
	}
	if m.Codec, err = codec.New(name, level); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrUnsupportedFormat, err)
	}
	if m.Fill, err = fillBytes(dt, za.FillValue); err != nil {
		return nil, err
	}
	return m, nil
}

// encodeZarray renders a little-endian, C-ordered v2 array.
func encodeZarray(m *arrayMeta) ([]byte, error) {
	za := zarray{
		ZarrFormat:         2,
		Shape:              m.Shape,
		Chunks:             m.Chunks,
		DType:              m.DType.ZarrV2(),
		FillValue:          json.RawMessage("0"),
		Order:              "C",
		DimensionSeparator: m.Separator,
	}
	if m.Codec.Name() != codec.Raw {
		za.Compressor = &compressor{ID: m.Codec.Name(), Level: m.Codec.Level()}
	}
	return json.MarshalIndent(za, "", "  ")
}

// parseNode converts a zarr.json document. Groups return a nil array.
func parseNode(data []byte) (*node, *arrayMeta, error) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, nil, fmt.Errorf("%w: zarr.json: %w", types.ErrMetadata, err)
	}
	if n.ZarrFormat != 3 {
		return nil, nil, fmt.Errorf("%w: zarr.json declares zarr_format %d", types.ErrMetadata, n.ZarrFormat)
	}
	switch n.NodeType {
	case nodeGroup:
		return &n, nil, nil
	case nodeArray:
	default:
		return nil, nil, fmt.Errorf("%w: zarr.json node_type %q", types.ErrMetadata, n.NodeType)
	}

	dt, _, err := types.ParseDType(n.DataType)
	if err != nil {
		return nil, nil, err
	}
	m := &arrayMeta{
		Shape:          n.Shape,
		DType:          dt,
		DimensionNames: n.DimensionNames,
	}

	if n.ChunkGrid == nil || n.ChunkGrid.Name != "regular" {
		return nil, nil, fmt.Errorf("%w: chunk grid must be regular", types.ErrUnsupportedFormat)
	}
	var grid struct {
		ChunkShape []int `json:"chunk_shape"`
	}
	if err := json.Unmarshal(n.ChunkGrid.Configuration, &grid); err != nil {
		return nil, nil, fmt.Errorf("%w: chunk_grid: %w", types.ErrMetadata, err)
	}
	m.Chunks = grid.ChunkShape

	m.KeyPrefix, m.Separator = "c", "/"
	if enc := n.ChunkKeyEncoding; enc != nil {
		switch enc.Name {
		case "default":
		case "v2":
			m.KeyPrefix, m.Separator = "", "."
		default:
			return nil, nil, fmt.Errorf("%w: chunk key encoding %q", types.ErrUnsupportedFormat, enc.Name)
		}
		var cfg struct {
			Separator string `json:"separator"`
		}
		if len(enc.Configuration) > 0 {
			if err := json.Unmarshal(enc.Configuration, &cfg); err != nil {
				return nil, nil, fmt.Errorf("%w: chunk_key_encoding: %w", types.ErrMetadata, err)
			}
		}
		if cfg.Separator != "" {
			m.Separator = cfg.Separator
		}
	}

	if err := parseCodecs(m, n.Codecs); err != nil {
		return nil, nil, err
	}
	if m.Fill, err = fillBytes(dt, n.FillValue); err != nil {
		return nil, nil, err
	}
	return &n, m, nil
}

// parseCodecs accepts a "bytes" codec followed by at most one compressor.
func parseCodecs(m *arrayMeta, codecs []namedConfig) error {
	var (
		name  = codec.Raw
		level int
	)
	for _, c := range codecs {
		var cfg struct {
			Endian string `json:"endian"`
			Level  int    `json:"level"`
		}
		if len(c.Configuration) > 0 {
			if err := json.Unmarshal(c.Configuration, &cfg); err != nil {
				return fmt.Errorf("%w: codec %s: %w", types.ErrMetadata, c.Name, err)
			}
		}
		switch c.Name {
		case "bytes":
			m.BigEndian = cfg.Endian == "big"
		case codec.Gzip, codec.Zstd, codec.Zlib:
			if name != codec.Raw {
				return fmt.Errorf("%w: more than one compressor", types.ErrUnsupportedFormat)
			}
			name, level = c.Name, cfg.Level
		default:
			return fmt.Errorf("%w: codec %q", types.ErrUnsupportedFormat, c.Name)
		}
	}
	var err error
	m.Codec, err = codec.New(name, level)
	return err
}

// encodeArrayNode renders a v3 array with default chunk keys.
func encodeArrayNode(m *arrayMeta) ([]byte, error) {
	n := node{
		ZarrFormat:       3,
		NodeType:         nodeArray,
		Shape:            m.Shape,
		DataType:         m.DType.String(),
		ChunkGrid:        ptr(configure("regular", map[string]any{"chunk_shape": m.Chunks})),
		ChunkKeyEncoding: ptr(configure("default", map[string]any{"separator": "/"})),
		FillValue:        json.RawMessage("0"),
		Codecs:           []namedConfig{configure("bytes", map[string]any{"endian": "little"})},
		Attributes:       json.RawMessage("{}"),
		DimensionNames:   m.DimensionNames,
	}
	switch m.Codec.Name() {
	case codec.Raw:
	case codec.Zstd:
		n.Codecs = append(n.Codecs, configure(codec.Zstd, map[string]any{"level": m.Codec.Level(), "checksum": false}))
	case codec.Gzip:
		n.Codecs = append(n.Codecs, configure(codec.Gzip, map[string]any{"level": m.Codec.Level()}))
	default:
		return nil, fmt.Errorf("%w: compressor %s is not a zarr v3 codec", types.ErrInvalidArgument, m.Codec.Name())
	}
	return json.MarshalIndent(n, "", "  ")
}

// encodeGroupNode renders a v3 group.
func encodeGroupNode(attrs json.RawMessage) ([]byte, error) {
	if len(attrs) == 0 {
		attrs = json.RawMessage("{}")
	}
	return json.MarshalIndent(node{ZarrFormat: 3, NodeType: nodeGroup, Attributes: attrs}, "", "  ")
}

func ptr[T any](v T) *T { return &v }

// fillBytes decodes a JSON fill value into one little-endian element.
// Zero and null yield nil.
func fillBytes(dt types.DType, raw json.RawMessage) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	s = strings.Trim(s, `"`)

	buf := make([]byte, 8)
	var zero bool
	switch dt {
	case types.Float32, types.Float64:
		var f float64
		switch s {
		case "NaN":
			f = math.NaN()
		case "Infinity":
			f = math.Inf(1)
		case "-Infinity":
			f = math.Inf(-1)
		default:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: fill_value %s: %w", types.ErrMetadata, s, err)
			}
			f = v
		}
		zero = f == 0 && !math.Signbit(f)
		if dt == types.Float32 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		}
	case types.Int8, types.Int16, types.Int32, types.Int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: fill_value %s: %w", types.ErrMetadata, s, err)
		}
		zero = v == 0
		binary.LittleEndian.PutUint64(buf, uint64(v))
	default:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: fill_value %s: %w", types.ErrMetadata, s, err)
		}
		zero = v == 0
		binary.LittleEndian.PutUint64(buf, v)
	}
	if zero {
		return nil, nil
	}
	return buf[:dt.Size()], nil
}
