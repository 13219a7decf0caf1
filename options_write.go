package bfio

// Options describing the image Create writes. They are ignored in read mode.

// WithMetadata starts from a complete metadata description. Later metadata
// options refine it.
func WithMetadata(m *Metadata) Option {
	return func(o *openOptions) {
		if m != nil {
			o.meta = *m.Clone()
		}
	}
}

// WithDims sets the image size per axis.
func WithDims(x, y, z, c, t int) Option {
	return func(o *openOptions) {
		o.meta.Dims = NewDims(x, y, z, c, t)
	}
}

// WithDType sets the pixel type.
func WithDType(dt DType) Option {
	return func(o *openOptions) {
		o.meta.DType = dt
	}
}

// WithName sets the image name.
func WithName(name string) Option {
	return func(o *openOptions) {
		o.meta.Name = name
	}
}

// WithChannelNames names the channels; the count must equal the C size.
func WithChannelNames(names ...string) Option {
	return func(o *openOptions) {
		o.meta.ChannelNames = append([]string(nil), names...)
	}
}

// WithPhysicalSize sets X, Y and Z pixel spacing. An empty unit means µm.
func WithPhysicalSize(x, y, z float64, unit string) Option {
	return func(o *openOptions) {
		o.meta.PhysicalSize = [3]PhysicalSize{{Value: x, Unit: unit}, {Value: y, Unit: unit}, {Value: z, Unit: unit}}
	}
}

// WithChunkShape sets Zarr chunk extents in (T, C, Z, Y, X) order.
// TIFF output always uses single-plane square tiles.
func WithChunkShape(t, c, z, y, x int) Option {
	return func(o *openOptions) {
		o.meta.AxisOrder = nil
		o.meta.ChunkShape = []int{t, c, z, y, x}
	}
}
