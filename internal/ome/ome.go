// Package ome encodes and decodes OME-XML image metadata.
//
// Only the first Image (series 0) is read. Decoding is two-stage: when the
// document does not parse, a configurable list of repair rules is applied
// once and the document is parsed again exactly once.
package ome

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/simonhull/bfio/internal/types"
)

// Namespace is the schema written by Encode.
const Namespace = "http://www.openmicroscopy.org/Schemas/OME/2016-06"

const (
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation = Namespace + " " + Namespace + "/ome.xsd"
	defaultUnit    = "µm"
	creator        = "bfio"
)

// document mirrors the subset of the OME schema this package understands.
// Numeric attributes are kept as strings and converted explicitly so that
// malformed values fail the parse stage.
type document struct {
	XMLName xml.Name `xml:"OME"`
	UUID    string   `xml:"UUID,attr"`
	Images  []image  `xml:"Image"`
}

type image struct {
	ID     string `xml:"ID,attr"`
	Name   string `xml:"Name,attr"`
	Pixels pixels `xml:"Pixels"`
}

type pixels struct {
	ID                string     `xml:"ID,attr"`
	DimensionOrder    string     `xml:"DimensionOrder,attr"`
	Type              string     `xml:"Type,attr"`
	SizeX             string     `xml:"SizeX,attr"`
	SizeY             string     `xml:"SizeY,attr"`
	SizeZ             string     `xml:"SizeZ,attr"`
	SizeC             string     `xml:"SizeC,attr"`
	SizeT             string     `xml:"SizeT,attr"`
	PhysicalSizeX     string     `xml:"PhysicalSizeX,attr,omitempty"`
	PhysicalSizeXUnit string     `xml:"PhysicalSizeXUnit,attr,omitempty"`
	PhysicalSizeY     string     `xml:"PhysicalSizeY,attr,omitempty"`
	PhysicalSizeYUnit string     `xml:"PhysicalSizeYUnit,attr,omitempty"`
	PhysicalSizeZ     string     `xml:"PhysicalSizeZ,attr,omitempty"`
	PhysicalSizeZUnit string     `xml:"PhysicalSizeZUnit,attr,omitempty"`
	BigEndian         string     `xml:"BigEndian,attr,omitempty"`
	Interleaved       string     `xml:"Interleaved,attr,omitempty"`
	SignificantBits   string     `xml:"SignificantBits,attr,omitempty"`
	Channels          []channel  `xml:"Channel"`
	TiffData          []tiffData `xml:"TiffData"`
}

type channel struct {
	ID              string `xml:"ID,attr"`
	Name            string `xml:"Name,attr,omitempty"`
	SamplesPerPixel string `xml:"SamplesPerPixel,attr,omitempty"`
}

type tiffData struct {
	IFD        string `xml:"IFD,attr,omitempty"`
	PlaneCount string `xml:"PlaneCount,attr,omitempty"`
}

// outDocument adds the namespace declarations Encode writes.
type outDocument struct {
	XMLName        xml.Name `xml:"OME"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsXSI       string   `xml:"xmlns:xsi,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`
	UUID           string   `xml:"UUID,attr"`
	Creator        string   `xml:"Creator,attr"`
	Images         []image  `xml:"Image"`
}

// Encode renders m as an OME-XML document with one Image.
func Encode(m *types.Metadata) ([]byte, error) {
	for a, v := range m.Dims {
		if v < 1 {
			return nil, fmt.Errorf("%w: %s dimension must be >= 1, got %d", types.ErrInvalidArgument, types.Axis(a), v)
		}
	}
	if !m.DType.Valid() {
		return nil, fmt.Errorf("%w: invalid pixel type", types.ErrInvalidArgument)
	}

	px := pixels{
		ID:             "Pixels:0",
		DimensionOrder: DimensionOrder(m.AxisOrder),
		Type:           m.DType.OME(),
		SizeX:          strconv.Itoa(m.X()),
		SizeY:          strconv.Itoa(m.Y()),
		SizeZ:          strconv.Itoa(m.Z()),
		SizeC:          strconv.Itoa(m.C()),
		SizeT:          strconv.Itoa(m.T()),
		BigEndian:      "false",
		Interleaved:    "false",
	}
	sizes := []struct {
		value, unit *string
	}{
		{&px.PhysicalSizeX, &px.PhysicalSizeXUnit},
		{&px.PhysicalSizeY, &px.PhysicalSizeYUnit},
		{&px.PhysicalSizeZ, &px.PhysicalSizeZUnit},
	}
	for i, ps := range m.PhysicalSize {
		if ps.Value == 0 {
			continue
		}
		*sizes[i].value = strconv.FormatFloat(ps.Value, 'g', -1, 64)
		*sizes[i].unit = ps.Unit
		if ps.Unit == "" {
			*sizes[i].unit = defaultUnit
		}
	}
	for c := range m.C() {
		px.Channels = append(px.Channels, channel{
			ID:              fmt.Sprintf("Channel:0:%d", c),
			Name:            m.Channel(c),
			SamplesPerPixel: "1",
		})
	}
	px.TiffData = []tiffData{{IFD: "0", PlaneCount: strconv.Itoa(m.Z() * m.C() * m.T())}}

	doc := outDocument{
		Xmlns:          Namespace,
		XmlnsXSI:       xsiNamespace,
		SchemaLocation: schemaLocation,
		UUID:           "urn:uuid:" + uuid.NewString(),
		Creator:        creator,
		Images:         []image{{ID: "Image:0", Name: m.Name, Pixels: px}},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode OME-XML: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// DimensionOrder converts a storage order (outermost first) to the OME
// DimensionOrder (fastest first). Axes missing from order are appended in
// Z, C, T order.
func DimensionOrder(order types.AxisOrder) string {
	var b strings.Builder
	b.WriteString("XY")
	seen := map[types.Axis]bool{types.AxisX: true, types.AxisY: true}
	for i := len(order) - 1; i >= 0; i-- {
		if a := order[i]; !seen[a] {
			seen[a] = true
			b.WriteString(strings.ToUpper(a.String()))
		}
	}
	for _, a := range []types.Axis{types.AxisZ, types.AxisC, types.AxisT} {
		if !seen[a] {
			b.WriteString(strings.ToUpper(a.String()))
		}
	}
	return b.String()
}

// AxisOrder converts an OME DimensionOrder such as "XYZCT" into a storage
// order, outermost first.
func AxisOrder(dimensionOrder string) (types.AxisOrder, error) {
	if len(dimensionOrder) != types.NumAxes || !strings.HasPrefix(strings.ToUpper(dimensionOrder), "XY") {
		return nil, fmt.Errorf("invalid DimensionOrder %q", dimensionOrder)
	}
	order, err := types.ParseAxisOrder(dimensionOrder)
	if err != nil {
		return nil, err
	}
	for l, r := 0, len(order)-1; l < r; l, r = l+1, r-1 {
		order[l], order[r] = order[r], order[l]
	}
	return order, nil
}

// parse runs the strict stage: XML syntax plus conversion of every numeric
// attribute the metadata model needs.
func parse(data []byte) (*types.Metadata, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Images) == 0 {
		return nil, fmt.Errorf("document has no Image element")
	}
	img := doc.Images[0]
	px := img.Pixels

	m := &types.Metadata{Name: img.Name}
	dims := []struct {
		name string
		raw  string
		axis types.Axis
	}{
		{"SizeX", px.SizeX, types.AxisX},
		{"SizeY", px.SizeY, types.AxisY},
		{"SizeZ", px.SizeZ, types.AxisZ},
		{"SizeC", px.SizeC, types.AxisC},
		{"SizeT", px.SizeT, types.AxisT},
	}
	for _, d := range dims {
		v, err := strconv.Atoi(strings.TrimSpace(d.raw))
		if err != nil {
			return nil, fmt.Errorf("Pixels/@%s: %w", d.name, err)
		}
		if v < 1 {
			return nil, fmt.Errorf("Pixels/@%s must be >= 1, got %d", d.name, v)
		}
		m.Dims[d.axis] = v
	}

	dt, _, err := types.ParseDType(px.Type)
	if err != nil {
		return nil, fmt.Errorf("Pixels/@Type: %w", err)
	}
	m.DType = dt

	order := px.DimensionOrder
	if order == "" {
		order = "XYZCT"
	}
	if m.AxisOrder, err = AxisOrder(order); err != nil {
		return nil, err
	}

	physical := []struct {
		name, raw, unit string
	}{
		{"PhysicalSizeX", px.PhysicalSizeX, px.PhysicalSizeXUnit},
		{"PhysicalSizeY", px.PhysicalSizeY, px.PhysicalSizeYUnit},
		{"PhysicalSizeZ", px.PhysicalSizeZ, px.PhysicalSizeZUnit},
	}
	for i, p := range physical {
		if p.raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p.raw), 64)
		if err != nil {
			return nil, fmt.Errorf("Pixels/@%s: %w", p.name, err)
		}
		unit := p.unit
		if unit == "" {
			unit = defaultUnit
		}
		m.PhysicalSize[i] = types.PhysicalSize{Value: v, Unit: unit}
	}

	m.ChannelNames = make([]string, m.C())
	for c := range m.ChannelNames {
		m.ChannelNames[c] = types.DefaultChannelName(c)
		if c < len(px.Channels) && px.Channels[c].Name != "" {
			m.ChannelNames[c] = px.Channels[c].Name
		}
	}
	return m, nil
}
