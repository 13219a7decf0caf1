package ngff

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/simonhull/bfio/internal/types"
)

func sample() *types.Metadata {
	return &types.Metadata{
		Name:         "plate",
		Dims:         types.NewDims(128, 64, 3, 2, 5),
		DType:        types.Uint16,
		AxisOrder:    types.DefaultAxisOrder,
		ChunkShape:   []int{1, 1, 1, 64, 128},
		ChannelNames: []string{"DAPI", "GFP"},
		PhysicalSize: [3]types.PhysicalSize{
			{Value: 0.325, Unit: "µm"},
			{Value: 0.325, Unit: "µm"},
			{Value: 1.5, Unit: "µm"},
		},
	}
}

func infoFor(m *types.Metadata) ArrayInfo {
	return ArrayInfo{Shape: m.Shape(), Chunks: m.ChunkShape, DType: m.DType}
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []Version{V04, V05} {
		t.Run(string(v), func(t *testing.T) {
			in := sample()
			data, err := Encode(in, v)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, version, err := Decode(data, infoFor(in))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if version != v {
				t.Errorf("version = %s, want %s", version, v)
			}
			if got.Dims != in.Dims {
				t.Errorf("Dims = %v, want %v", got.Dims, in.Dims)
			}
			if got.DType != in.DType {
				t.Errorf("DType = %v, want %v", got.DType, in.DType)
			}
			if !slices.Equal(got.AxisOrder, in.AxisOrder) {
				t.Errorf("AxisOrder = %v, want %v", got.AxisOrder, in.AxisOrder)
			}
			if !slices.Equal(got.ChunkShape, in.ChunkShape) {
				t.Errorf("ChunkShape = %v, want %v", got.ChunkShape, in.ChunkShape)
			}
			if got.PhysicalSize != in.PhysicalSize {
				t.Errorf("PhysicalSize = %v, want %v", got.PhysicalSize, in.PhysicalSize)
			}
			if !slices.Equal(got.ChannelNames, in.ChannelNames) {
				t.Errorf("ChannelNames = %v, want %v", got.ChannelNames, in.ChannelNames)
			}
			if got.Name != in.Name {
				t.Errorf("Name = %q, want %q", got.Name, in.Name)
			}
		})
	}
}

func TestEncodeV05Shape(t *testing.T) {
	data, err := Encode(sample(), V05)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		OME struct {
			Version     string `json:"version"`
			Multiscales []struct {
				Axes []struct {
					Name string `json:"name"`
				} `json:"axes"`
				Datasets []struct {
					Path string `json:"path"`
				} `json:"datasets"`
			} `json:"multiscales"`
		} `json:"ome"`
		Multiscales json.RawMessage `json:"multiscales"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.OME.Version != "0.5" {
		t.Errorf("ome.version = %q, want 0.5", doc.OME.Version)
	}
	if doc.Multiscales != nil {
		t.Error("v0.5 attributes must not carry top-level multiscales")
	}
	var names []string
	for _, a := range doc.OME.Multiscales[0].Axes {
		names = append(names, a.Name)
	}
	if want := []string{"t", "c", "z", "y", "x"}; !slices.Equal(names, want) {
		t.Errorf("axes = %v, want %v", names, want)
	}
	if p := doc.OME.Multiscales[0].Datasets[0].Path; p != "0" {
		t.Errorf("dataset path = %q, want 0", p)
	}
}

func TestDecodeAxisOrder(t *testing.T) {
	// Physical order z,c,y,x with T absent.
	attrs := `{"ome":{"version":"0.5","multiscales":[{"axes":[
		{"name":"z","type":"space"},{"name":"c","type":"channel"},
		{"name":"y","type":"space"},{"name":"x","type":"space"}],
		"datasets":[{"path":"0"}]}]}}`
	m, version, err := Decode([]byte(attrs), ArrayInfo{Shape: []int{7, 3, 20, 30}, Chunks: []int{1, 1, 20, 30}, DType: types.Uint8})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if version != V05 {
		t.Errorf("version = %s", version)
	}
	if want := types.NewDims(30, 20, 7, 3, 1); m.Dims != want {
		t.Errorf("Dims = %v, want %v", m.Dims, want)
	}
	if m.AxisOrder.String() != "z,c,y,x" {
		t.Errorf("AxisOrder = %s", m.AxisOrder)
	}
	if want := []string{"Channel:0", "Channel:1", "Channel:2"}; !slices.Equal(m.ChannelNames, want) {
		t.Errorf("ChannelNames = %v, want %v", m.ChannelNames, want)
	}
}

func TestDecodeLegacyForms(t *testing.T) {
	tests := []struct {
		name      string
		attrs     string
		shape     []int
		wantDims  types.Dims
		wantOrder string
		wantVer   Version
	}{
		{
			name:      "string axes v0.3",
			attrs:     `{"multiscales":[{"version":"0.3","axes":["t","c","z","y","x"],"datasets":[{"path":"0"}]}]}`,
			shape:     []int{2, 3, 4, 5, 6},
			wantDims:  types.NewDims(6, 5, 4, 3, 2),
			wantOrder: "t,c,z,y,x",
			wantVer:   "0.3",
		},
		{
			name:      "no axes rank 3",
			attrs:     `{"multiscales":[{"version":"0.4","datasets":[{"path":"0"}]}]}`,
			shape:     []int{4, 5, 6},
			wantDims:  types.NewDims(6, 5, 4, 1, 1),
			wantOrder: "z,y,x",
			wantVer:   V04,
		},
		{
			name:      "empty attributes",
			attrs:     ``,
			shape:     []int{2, 3, 4, 5, 6},
			wantDims:  types.NewDims(6, 5, 4, 3, 2),
			wantOrder: "t,c,z,y,x",
			wantVer:   V04,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, v, err := Decode([]byte(tt.attrs), ArrayInfo{Shape: tt.shape, Chunks: tt.shape, DType: types.Uint8})
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if m.Dims != tt.wantDims {
				t.Errorf("Dims = %v, want %v", m.Dims, tt.wantDims)
			}
			if m.AxisOrder.String() != tt.wantOrder {
				t.Errorf("AxisOrder = %s, want %s", m.AxisOrder, tt.wantOrder)
			}
			if v != tt.wantVer {
				t.Errorf("version = %s, want %s", v, tt.wantVer)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		attrs string
		shape []int
		dims  []string
		want  error
	}{
		{"axis count", `{"multiscales":[{"axes":["y","x"],"datasets":[]}]}`, []int{1, 2, 3}, nil, types.ErrDimensionMismatch},
		{"bad json", `{"multiscales":`, []int{2, 2}, nil, types.ErrMetadata},
		{"unknown axis", `{"multiscales":[{"axes":["q","x"],"datasets":[]}]}`, []int{2, 2}, nil, types.ErrMetadata},
		{"rank too high", `{}`, []int{1, 1, 1, 1, 1, 1}, nil, types.ErrMetadata},
		{"multi-letter axis", `{"multiscales":[{"axes":["tc","z","y","x"],"datasets":[]}]}`, []int{2, 3, 4, 5}, nil, types.ErrMetadata},
		{"multi-letter dimension name", `{}`, []int{2, 3}, []string{"yx", "c"}, types.ErrMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ArrayInfo{Shape: tt.shape, Chunks: tt.shape, DType: types.Uint8, DimensionNames: tt.dims}
			_, _, err := Decode([]byte(tt.attrs), info)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnsetPhysicalSize(t *testing.T) {
	in := sample()
	in.PhysicalSize = [3]types.PhysicalSize{}
	data, err := Encode(in, V05)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := Decode(data, infoFor(in))
	if err != nil {
		t.Fatal(err)
	}
	if got.PhysicalSize != in.PhysicalSize {
		t.Errorf("PhysicalSize = %v, want unset", got.PhysicalSize)
	}
}

func TestEncodeRejectsVersion(t *testing.T) {
	if _, err := Encode(sample(), "0.6"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Encode() error = %v, want ErrInvalidArgument", err)
	}
}

func TestDecodeDimensionNames(t *testing.T) {
	info := ArrayInfo{
		Shape:          []int{3, 20, 30},
		Chunks:         []int{1, 20, 30},
		DimensionNames: []string{"c", "y", "x"},
		DType:          types.Float32,
	}
	m, _, err := Decode(nil, info)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.AxisOrder.String() != "c,y,x" {
		t.Errorf("AxisOrder = %s, want c,y,x", m.AxisOrder)
	}
	if want := types.NewDims(30, 20, 1, 3, 1); m.Dims != want {
		t.Errorf("Dims = %v, want %v", m.Dims, want)
	}
}

func TestDatasetPath(t *testing.T) {
	tests := []struct {
		attrs string
		want  string
	}{
		{`{"ome":{"version":"0.5","multiscales":[{"axes":[],"datasets":[{"path":"s0"}]}]}}`, "s0"},
		{`{"multiscales":[{"datasets":[{"path":"0"},{"path":"1"}]}]}`, "0"},
		{`{}`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := DatasetPath([]byte(tt.attrs)); got != tt.want {
			t.Errorf("DatasetPath(%s) = %q, want %q", tt.attrs, got, tt.want)
		}
	}
}
