package ome

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/simonhull/bfio/internal/types"
)

func sampleMetadata() *types.Metadata {
	return &types.Metadata{
		Name:         "cells",
		Dims:         types.NewDims(64, 32, 3, 2, 4),
		DType:        types.Uint16,
		AxisOrder:    types.DefaultAxisOrder,
		ChannelNames: []string{"DAPI", "GFP"},
		PhysicalSize: [3]types.PhysicalSize{
			{Value: 0.65, Unit: "µm"},
			{Value: 0.65, Unit: "µm"},
			{Value: 2, Unit: "µm"},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleMetadata()
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Contains(data, []byte(Namespace)) {
		t.Errorf("encoded document missing namespace %s", Namespace)
	}
	if !bytes.Contains(data, []byte(`UUID="urn:uuid:`)) {
		t.Error("encoded document missing UUID")
	}

	res := Decode(data, DecodeOptions{})
	if res.Status != OK {
		t.Fatalf("Decode() status = %v, err = %v", res.Status, res.Err)
	}
	got := res.Metadata
	if got.Dims != in.Dims {
		t.Errorf("Dims = %v, want %v", got.Dims, in.Dims)
	}
	if got.DType != in.DType {
		t.Errorf("DType = %v, want %v", got.DType, in.DType)
	}
	if got.Name != in.Name {
		t.Errorf("Name = %q, want %q", got.Name, in.Name)
	}
	if !slices.Equal(got.ChannelNames, in.ChannelNames) {
		t.Errorf("ChannelNames = %v, want %v", got.ChannelNames, in.ChannelNames)
	}
	if got.AxisOrder.String() != "t,c,z,y,x" {
		t.Errorf("AxisOrder = %s, want t,c,z,y,x", got.AxisOrder)
	}
	if got.PhysicalSize != in.PhysicalSize {
		t.Errorf("PhysicalSize = %v, want %v", got.PhysicalSize, in.PhysicalSize)
	}
	if len(res.Applied) != 0 {
		t.Errorf("Applied = %v, want none", res.Applied)
	}
}

func TestEncodeFloatTypes(t *testing.T) {
	tests := []struct {
		dtype types.DType
		want  string
	}{
		{types.Float32, `Type="float"`},
		{types.Float64, `Type="double"`},
		{types.Int8, `Type="int8"`},
	}
	for _, tt := range tests {
		t.Run(tt.dtype.String(), func(t *testing.T) {
			m := sampleMetadata()
			m.DType = tt.dtype
			data, err := Encode(m)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Contains(data, []byte(tt.want)) {
				t.Errorf("document missing %s", tt.want)
			}
			res := Decode(data, DecodeOptions{})
			if res.Status != OK || res.Metadata.DType != tt.dtype {
				t.Errorf("Decode() = %v %v, want OK %v", res.Status, res.Metadata, tt.dtype)
			}
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	m := sampleMetadata()
	m.Dims[types.AxisZ] = 0
	if _, err := Encode(m); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Encode() error = %v, want ErrInvalidArgument", err)
	}
}

func TestDimensionOrder(t *testing.T) {
	tests := []struct {
		order string
		want  string
	}{
		{"t,c,z,y,x", "XYZCT"},
		{"c,z,y,x", "XYZCT"},
		{"z,t,c,y,x", "XYCTZ"},
		{"y,x", "XYZCT"},
		{"t,z,c,y,x", "XYCZT"},
	}
	for _, tt := range tests {
		t.Run(tt.order, func(t *testing.T) {
			order, err := types.ParseAxisOrder(tt.order)
			if err != nil {
				t.Fatal(err)
			}
			if got := DimensionOrder(order); got != tt.want {
				t.Errorf("DimensionOrder(%s) = %s, want %s", tt.order, got, tt.want)
			}
		})
	}
}

func TestAxisOrder(t *testing.T) {
	got, err := AxisOrder("XYCZT")
	if err != nil {
		t.Fatalf("AxisOrder() error = %v", err)
	}
	if got.String() != "t,z,c,y,x" {
		t.Errorf("AxisOrder(XYCZT) = %s, want t,z,c,y,x", got)
	}

	for _, bad := range []string{"ZYXCT", "XYZC", "XYZZT"} {
		if _, err := AxisOrder(bad); err == nil {
			t.Errorf("AxisOrder(%q) succeeded, want error", bad)
		}
	}
}

const brokenDoc = "\xef\xbb\xbf" + `<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
  <Image ID="Image:0" Name="cells & nuclei">
    <Pixels ID="Pixels:0" DimensionOrder="XYZCT" Type="uint8" SizeX="16" SizeY="8" SizeZ="1" SizeC="2" SizeT="1" PhysicalSizeX="0,5" PhysicalSizeY="">
      <Channel ID="Channel:0:0" Name="DAPI"/>
    </Pixels>
  </Image>
</OME>`

func TestDecodeRepairs(t *testing.T) {
	res := Decode([]byte(brokenDoc), DecodeOptions{})
	if res.Status != Repaired {
		t.Fatalf("Decode() status = %v, err = %v, want repaired", res.Status, res.Err)
	}
	for _, rule := range []string{"escape-ampersands", "decimal-commas", "drop-empty-attributes"} {
		if !slices.Contains(res.Applied, rule) {
			t.Errorf("Applied = %v, missing %s", res.Applied, rule)
		}
	}
	m := res.Metadata
	if m.Name != "cells & nuclei" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.PhysicalSize[0].Value != 0.5 || m.PhysicalSize[0].Unit != "µm" {
		t.Errorf("PhysicalSizeX = %+v, want 0.5 µm", m.PhysicalSize[0])
	}
	if m.PhysicalSize[1].Value != 0 {
		t.Errorf("PhysicalSizeY = %+v, want unset", m.PhysicalSize[1])
	}
	if want := []string{"DAPI", "Channel:1"}; !slices.Equal(m.ChannelNames, want) {
		t.Errorf("ChannelNames = %v, want %v", m.ChannelNames, want)
	}
	if err := res.Error("x.ome.tif"); err != nil {
		t.Errorf("Error() = %v, want nil", err)
	}
}

func TestDecodeNoRepair(t *testing.T) {
	res := Decode([]byte(brokenDoc), DecodeOptions{NoRepair: true})
	if res.Status != Failed {
		t.Fatalf("Decode() status = %v, want failed", res.Status)
	}
	err := res.Error("x.ome.tif")
	if !errors.Is(err, types.ErrMetadata) {
		t.Errorf("Error() = %v, want ErrMetadata", err)
	}
	var me *types.MetadataError
	if !errors.As(err, &me) || me.Repaired {
		t.Errorf("Error() = %#v, want unrepaired MetadataError", err)
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		applied bool
	}{
		{"not xml", "not xml at all", false},
		{"no image", `<OME xmlns="` + Namespace + `"></OME>`, false},
		{"bad type", `<OME><Image><Pixels Type="complex" SizeX="1" SizeY="1" SizeZ="1" SizeC="1" SizeT="1"/></Image></OME>`, false},
		{"zero size", `<OME><Image><Pixels Type="uint8" SizeX="0" SizeY="1" SizeZ="1" SizeC="1" SizeT="1"/></Image></OME>`, false},
		{"unrepairable", "junk<OME><Image><Pixels Type=\"uint8\" SizeX=\"x\" SizeY=\"1\" SizeZ=\"1\" SizeC=\"1\" SizeT=\"1\"/></Image></OME>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode([]byte(tt.doc), DecodeOptions{})
			if res.Status != Failed {
				t.Fatalf("Decode() status = %v, want failed", res.Status)
			}
			if res.Err == nil {
				t.Error("Err = nil")
			}
			if got := len(res.Applied) > 0; got != tt.applied {
				t.Errorf("Applied = %v, want applied=%v", res.Applied, tt.applied)
			}
		})
	}
}

func TestDecodeFailedRepairKeepsLastError(t *testing.T) {
	doc := strings.Replace(validDoc(t), `Type="uint16"`, `Type="UINT16"`, 1)
	rules := []Rule{ReplaceRule("rename-type", `Type="UINT16"`, `Type="bogus16"`)}

	res := Decode([]byte(doc), DecodeOptions{Rules: rules})
	if res.Status != Failed {
		t.Fatalf("Decode() status = %v, want failed", res.Status)
	}
	if !slices.Equal(res.Applied, []string{"rename-type"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
	msg := res.Error("x.ome.tif").Error()
	if !strings.Contains(msg, "bogus16") || strings.Contains(msg, "UINT16") {
		t.Errorf("Error() = %q, want the post-repair parse error", msg)
	}
}

func TestCustomRules(t *testing.T) {
	doc := strings.Replace(validDoc(t), `Type="uint16"`, `Type="UINT16"`, 1)
	if res := Decode([]byte(doc), DecodeOptions{}); res.Status != Failed {
		t.Fatalf("default rules: status = %v, want failed", res.Status)
	}

	rules := []Rule{ReplaceRule("lowercase-type", `Type="UINT16"`, `Type="uint16"`)}
	res := Decode([]byte(doc), DecodeOptions{Rules: rules})
	if res.Status != Repaired {
		t.Fatalf("custom rules: status = %v, err = %v", res.Status, res.Err)
	}
	if !slices.Equal(res.Applied, []string{"lowercase-type"}) {
		t.Errorf("Applied = %v", res.Applied)
	}
}

func validDoc(t *testing.T) string {
	t.Helper()
	data, err := Encode(sampleMetadata())
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRules(t *testing.T) {
	tests := []struct {
		rule string
		in   string
		want string
	}{
		{"strip-leading-junk", "\xef\xbb\xbfxx<OME/>\x00\x00", "<OME/>"},
		{"remove-control-chars", "<a>b\x01c</a>", "<a>bc</a>"},
		{"escape-ampersands", `<a n="x & y &amp; &#38; &lt;"/>`, `<a n="x &amp; y &amp; &#38; &lt;"/>`},
		{"decimal-commas", `<P PhysicalSizeZ="1,25" Name="a,b"/>`, `<P PhysicalSizeZ="1.25" Name="a,b"/>`},
		{"drop-empty-attributes", `<P SizeX="1" PhysicalSizeX="" Name=""/>`, `<P SizeX="1"/>`},
		{"add-xsi-namespace", `<OME xsi:schemaLocation="s"/>`, `<OME xmlns:xsi="` + xsiNamespace + `" xsi:schemaLocation="s"/>`},
		{"normalize-ids", `<Detector ID="Detector:Andor Zyla" Model="Andor Zyla"/>`, `<Detector ID="Detector:Andor_Zyla" Model="Andor Zyla"/>`},
	}
	byName := map[string]Rule{}
	for _, r := range DefaultRules() {
		byName[r.Name] = r
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			r, ok := byName[tt.rule]
			if !ok {
				t.Fatalf("rule %s not in DefaultRules", tt.rule)
			}
			if got := string(r.Apply([]byte(tt.in))); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
