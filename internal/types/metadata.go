package types

import (
	"fmt"
	"strings"
)

// Axis names one of the five logical dimensions.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisC
	AxisT
)

// NumAxes is the number of logical axes.
const NumAxes = 5

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	case AxisC:
		return "c"
	case AxisT:
		return "t"
	default:
		return "?"
	}
}

// ParseAxis accepts a single axis letter in either case.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	case "c":
		return AxisC, nil
	case "t":
		return AxisT, nil
	}
	return 0, fmt.Errorf("%w: unknown axis %q", ErrMetadata, s)
}

// Dims holds the logical extents indexed by Axis.
type Dims [NumAxes]int

// NewDims orders extents as X, Y, Z, C, T.
func NewDims(x, y, z, c, t int) Dims {
	return Dims{x, y, z, c, t}
}

func (d Dims) String() string {
	return fmt.Sprintf("X=%d Y=%d Z=%d C=%d T=%d", d[AxisX], d[AxisY], d[AxisZ], d[AxisC], d[AxisT])
}

// Count returns the number of pixels.
func (d Dims) Count() int {
	n := 1
	for _, v := range d {
		n *= v
	}
	return n
}

// AxisOrder is a physical storage order, outermost axis first.
type AxisOrder []Axis

// DefaultAxisOrder is t,c,z,y,x.
var DefaultAxisOrder = AxisOrder{AxisT, AxisC, AxisZ, AxisY, AxisX}

// ParseAxisOrder parses "tczyx", "t,c,z,y,x" or "XYZCT". With commas each
// field must name exactly one axis.
func ParseAxisOrder(s string) (AxisOrder, error) {
	var fields []string
	if strings.Contains(s, ",") {
		fields = strings.Split(s, ",")
	} else {
		for _, r := range s {
			fields = append(fields, string(r))
		}
	}
	order := make(AxisOrder, 0, len(fields))
	for _, f := range fields {
		a, err := ParseAxis(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		order = append(order, a)
	}
	return order, order.validate()
}

func (o AxisOrder) String() string {
	parts := make([]string, len(o))
	for i, a := range o {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// Index returns the physical position of a, or -1.
func (o AxisOrder) Index(a Axis) int {
	for i, v := range o {
		if v == a {
			return i
		}
	}
	return -1
}

func (o AxisOrder) validate() error {
	if len(o) == 0 || len(o) > NumAxes {
		return fmt.Errorf("%w: axis order must name 1 to 5 axes, got %d", ErrInvalidArgument, len(o))
	}
	var seen [NumAxes]bool
	for _, a := range o {
		if a < AxisX || a > AxisT {
			return fmt.Errorf("%w: axis order contains invalid axis %d", ErrInvalidArgument, int(a))
		}
		if seen[a] {
			return fmt.Errorf("%w: axis %s repeated in order %s", ErrInvalidArgument, a, o)
		}
		seen[a] = true
	}
	return nil
}

// PhysicalSize is the pixel spacing along one spatial axis.
type PhysicalSize struct {
	Value float64
	Unit  string
}

// Metadata is the normalized description of an image.
type Metadata struct {
	Name         string
	ChannelNames []string
	AxisOrder    AxisOrder
	// ChunkShape has one entry per AxisOrder entry.
	ChunkShape []int
	// PhysicalSize holds X, Y and Z spacing; zero values are unset.
	PhysicalSize [3]PhysicalSize
	Dims         Dims
	DType        DType
}

// X returns the image width.
func (m *Metadata) X() int { return m.Dims[AxisX] }

// Y returns the image height.
func (m *Metadata) Y() int { return m.Dims[AxisY] }

// Z returns the number of focal planes.
func (m *Metadata) Z() int { return m.Dims[AxisZ] }

// C returns the number of channels.
func (m *Metadata) C() int { return m.Dims[AxisC] }

// T returns the number of timepoints.
func (m *Metadata) T() int { return m.Dims[AxisT] }

// Shape returns the physical shape in AxisOrder.
func (m *Metadata) Shape() []int {
	shape := make([]int, len(m.AxisOrder))
	for i, a := range m.AxisOrder {
		shape[i] = m.Dims[a]
	}
	return shape
}

// Channel returns the name of channel c, falling back to "Channel:<c>".
func (m *Metadata) Channel(c int) string {
	if c < len(m.ChannelNames) && m.ChannelNames[c] != "" {
		return m.ChannelNames[c]
	}
	return DefaultChannelName(c)
}

// DefaultChannelName is the name used for unnamed channels.
func DefaultChannelName(c int) string {
	return fmt.Sprintf("Channel:%d", c)
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.ChannelNames = append([]string(nil), m.ChannelNames...)
	c.AxisOrder = append(AxisOrder(nil), m.AxisOrder...)
	c.ChunkShape = append([]int(nil), m.ChunkShape...)
	return &c
}

// ApplyDefaults fills AxisOrder, ChannelNames and ChunkShape when unset.
func (m *Metadata) ApplyDefaults(chunkXY int) {
	for a := range m.Dims {
		if m.Dims[a] == 0 {
			m.Dims[a] = 1
		}
	}
	if len(m.AxisOrder) == 0 {
		m.AxisOrder = append(AxisOrder(nil), DefaultAxisOrder...)
	}
	if len(m.ChannelNames) == 0 {
		m.ChannelNames = make([]string, m.C())
		for c := range m.ChannelNames {
			m.ChannelNames[c] = DefaultChannelName(c)
		}
	}
	if len(m.ChunkShape) == 0 {
		m.ChunkShape = make([]int, len(m.AxisOrder))
		for i, a := range m.AxisOrder {
			switch a {
			case AxisX, AxisY:
				m.ChunkShape[i] = min(chunkXY, m.Dims[a])
			default:
				m.ChunkShape[i] = 1
			}
		}
	}
}

// Validate checks the invariants every backend relies on.
func (m *Metadata) Validate() error {
	for a, v := range m.Dims {
		if v < 1 {
			return fmt.Errorf("%w: %s dimension must be >= 1, got %d", ErrInvalidArgument, Axis(a), v)
		}
	}
	if !m.DType.Valid() {
		return fmt.Errorf("%w: invalid pixel type", ErrInvalidArgument)
	}
	if err := m.AxisOrder.validate(); err != nil {
		return err
	}
	for a := AxisX; a <= AxisT; a++ {
		if m.AxisOrder.Index(a) < 0 && m.Dims[a] != 1 {
			return fmt.Errorf("%w: axis %s has size %d but is not stored in order %s",
				ErrInvalidArgument, a, m.Dims[a], m.AxisOrder)
		}
	}
	if len(m.ChunkShape) != len(m.AxisOrder) {
		return fmt.Errorf("%w: chunk shape has %d entries for %d axes",
			ErrInvalidArgument, len(m.ChunkShape), len(m.AxisOrder))
	}
	for i, c := range m.ChunkShape {
		if c < 1 {
			return fmt.Errorf("%w: chunk extent for axis %s must be >= 1", ErrInvalidArgument, m.AxisOrder[i])
		}
	}
	if n := len(m.ChannelNames); n != 0 && n != m.C() {
		return fmt.Errorf("%w: %d channel names for %d channels", ErrInvalidArgument, n, m.C())
	}
	return nil
}
