// Package ngff translates between the metadata model and OME-NGFF
// multiscale attributes (versions 0.4 and 0.5).
package ngff

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/simonhull/bfio/internal/types"
)

// Version is an NGFF schema version.
type Version string

const (
	V04 Version = "0.4"
	V05 Version = "0.5"
)

// ArrayInfo describes the level-0 array the attributes refer to.
type ArrayInfo struct {
	Shape  []int
	Chunks []int
	// DimensionNames are the Zarr v3 array dimension names, used when the
	// attributes carry no axes.
	DimensionNames []string
	DType          types.DType
}

type attributes struct {
	OME         *omeBlock    `json:"ome,omitempty"`
	Multiscales []multiscale `json:"multiscales,omitempty"`
	Omero       *omero       `json:"omero,omitempty"`
}

type omeBlock struct {
	Version     Version      `json:"version"`
	Multiscales []multiscale `json:"multiscales"`
	Omero       *omero       `json:"omero,omitempty"`
}

type multiscale struct {
	Version  Version   `json:"version,omitempty"`
	Name     string    `json:"name,omitempty"`
	Axes     []axis    `json:"axes"`
	Datasets []dataset `json:"datasets"`
}

type axis struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// UnmarshalJSON accepts both axis objects and the plain strings used by
// pre-0.4 writers.
func (a *axis) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*a = axis{Name: name}
		return nil
	}
	type plain axis
	return json.Unmarshal(b, (*plain)(a))
}

type dataset struct {
	Path                      string      `json:"path"`
	CoordinateTransformations []transform `json:"coordinateTransformations,omitempty"`
}

type transform struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale,omitempty"`
}

type omero struct {
	Channels []channel `json:"channels"`
}

type channel struct {
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

var axisTypes = map[types.Axis]string{
	types.AxisX: "space",
	types.AxisY: "space",
	types.AxisZ: "space",
	types.AxisC: "channel",
	types.AxisT: "time",
}

// unit spellings: metadata model (OME) ↔ NGFF (UDUNITS-2).
var units = [][2]string{
	{"µm", "micrometer"},
	{"nm", "nanometer"},
	{"mm", "millimeter"},
	{"cm", "centimeter"},
	{"m", "meter"},
	{"Å", "angstrom"},
	{"s", "second"},
	{"ms", "millisecond"},
}

func toNGFFUnit(u string) string {
	for _, p := range units {
		if p[0] == u {
			return p[1]
		}
	}
	return u
}

func fromNGFFUnit(u string) string {
	for _, p := range units {
		if p[1] == u {
			return p[0]
		}
	}
	return u
}

// Decode reads NGFF attributes for the array described by info. Attributes
// without multiscale axes fall back to t,c,z,y,x trimmed to the array rank.
func Decode(attrs []byte, info ArrayInfo) (*types.Metadata, Version, error) {
	var a attributes
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &a); err != nil {
			return nil, "", fmt.Errorf("%w: NGFF attributes: %w", types.ErrMetadata, err)
		}
	}

	version := V04
	scales, om := a.Multiscales, a.Omero
	if a.OME != nil {
		version = a.OME.Version
		scales = a.OME.Multiscales
		if a.OME.Omero != nil {
			om = a.OME.Omero
		}
	} else if len(scales) > 0 && scales[0].Version != "" {
		version = scales[0].Version
	}

	rank := len(info.Shape)
	m := &types.Metadata{
		DType:      info.DType,
		ChunkShape: append([]int(nil), info.Chunks...),
	}

	var ms *multiscale
	if len(scales) > 0 {
		ms = &scales[0]
		m.Name = ms.Name
	}

	var names []string
	switch {
	case ms != nil && len(ms.Axes) > 0:
		for _, ax := range ms.Axes {
			names = append(names, ax.Name)
		}
	case len(info.DimensionNames) > 0 && !slices.Contains(info.DimensionNames, ""):
		names = info.DimensionNames
	}

	var err error
	if names != nil {
		if len(names) != rank {
			return nil, version, &types.DimensionMismatchError{
				What:     "axis count",
				Declared: fmt.Sprint(len(names)),
				Actual:   fmt.Sprint(rank),
			}
		}
		if m.AxisOrder, err = types.ParseAxisOrder(strings.Join(names, ",")); err != nil {
			return nil, version, err
		}
		if len(m.AxisOrder) != rank {
			return nil, version, fmt.Errorf("%w: axes %q do not match array rank %d", types.ErrMetadata, names, rank)
		}
	} else {
		if rank < 1 || rank > types.NumAxes {
			return nil, version, fmt.Errorf("%w: array rank %d outside 1..5", types.ErrMetadata, rank)
		}
		m.AxisOrder = append(types.AxisOrder(nil), types.DefaultAxisOrder[types.NumAxes-rank:]...)
	}

	for a := range m.Dims {
		m.Dims[a] = 1
	}
	for i, ax := range m.AxisOrder {
		m.Dims[ax] = info.Shape[i]
	}

	if ms != nil {
		decodeScale(m, ms)
	}

	m.ChannelNames = make([]string, m.C())
	for c := range m.ChannelNames {
		m.ChannelNames[c] = types.DefaultChannelName(c)
		if om != nil && len(om.Channels) == m.C() && om.Channels[c].Label != "" {
			m.ChannelNames[c] = om.Channels[c].Label
		}
	}
	return m, version, nil
}

// DatasetPath returns the path of the first dataset of the first
// multiscale, or "" when attrs declare none.
func DatasetPath(attrs []byte) string {
	var a attributes
	if err := json.Unmarshal(attrs, &a); err != nil {
		return ""
	}
	scales := a.Multiscales
	if a.OME != nil {
		scales = a.OME.Multiscales
	}
	if len(scales) == 0 || len(scales[0].Datasets) == 0 {
		return ""
	}
	return scales[0].Datasets[0].Path
}

// decodeScale sets physical sizes from the first dataset's scale transform.
// A factor of 1 without a unit is treated as unset.
func decodeScale(m *types.Metadata, ms *multiscale) {
	if len(ms.Datasets) == 0 {
		return
	}
	for _, tr := range ms.Datasets[0].CoordinateTransformations {
		if tr.Type != "scale" || len(tr.Scale) != len(m.AxisOrder) {
			continue
		}
		for i, ax := range m.AxisOrder {
			if ax > types.AxisZ {
				continue
			}
			var unit string
			if i < len(ms.Axes) {
				unit = fromNGFFUnit(ms.Axes[i].Unit)
			}
			if tr.Scale[i] == 1 && unit == "" {
				continue
			}
			m.PhysicalSize[ax] = types.PhysicalSize{Value: tr.Scale[i], Unit: unit}
		}
		return
	}
}

// Encode renders multiscale attributes for a single-level image stored as
// array "0" in t,c,z,y,x order. For V05 the result is the value of the
// zarr.json "attributes" member; for V04 it is the .zattrs document.
func Encode(m *types.Metadata, version Version) ([]byte, error) {
	if version != V04 && version != V05 {
		return nil, fmt.Errorf("%w: unsupported NGFF version %q", types.ErrInvalidArgument, version)
	}

	ms := multiscale{
		Name:     m.Name,
		Datasets: []dataset{{Path: "0"}},
	}
	scale := make([]float64, 0, types.NumAxes)
	for _, ax := range types.DefaultAxisOrder {
		entry := axis{Name: ax.String(), Type: axisTypes[ax]}
		factor := 1.0
		if ax <= types.AxisZ {
			if ps := m.PhysicalSize[ax]; ps.Value != 0 {
				factor = ps.Value
				entry.Unit = toNGFFUnit(ps.Unit)
			}
		}
		ms.Axes = append(ms.Axes, entry)
		scale = append(scale, factor)
	}
	ms.Datasets[0].CoordinateTransformations = []transform{{Type: "scale", Scale: scale}}

	om := &omero{}
	for c := range m.C() {
		om.Channels = append(om.Channels, channel{Label: m.Channel(c), Active: true})
	}

	var a attributes
	if version == V05 {
		a.OME = &omeBlock{Version: V05, Multiscales: []multiscale{ms}, Omero: om}
	} else {
		ms.Version = V04
		a.Multiscales = []multiscale{ms}
		a.Omero = om
	}
	return json.MarshalIndent(a, "", "  ")
}
