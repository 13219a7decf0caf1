package types

// Span selects positions along one axis. The zero value selects the whole axis.
type Span struct {
	indices []int
	start   int
	stop    int
	kind    spanKind
}

type spanKind uint8

const (
	spanAll spanKind = iota
	spanRange
	spanIndices
)

// All selects the full axis.
func All() Span { return Span{} }

// Range selects the half-open interval [start, stop).
func Range(start, stop int) Span {
	return Span{kind: spanRange, start: start, stop: stop}
}

// Index selects a single position.
func Index(i int) Span {
	return Range(i, i+1)
}

// Indices selects an explicit ordered list of positions.
func Indices(idx ...int) Span {
	return Span{kind: spanIndices, indices: append([]int(nil), idx...)}
}

// resolve validates the span against dim and expands it to positions.
func (s Span) resolve(axis Axis, dim int) ([]int, error) {
	switch s.kind {
	case spanRange:
		if s.start < 0 || s.start >= dim {
			return nil, &RangeError{Axis: axis, Index: s.start, Dim: dim}
		}
		if s.stop > dim {
			return nil, &RangeError{Axis: axis, Index: s.stop - 1, Dim: dim}
		}
		if s.stop <= s.start {
			return nil, &RangeError{Axis: axis, Reason: "empty range"}
		}
		out := make([]int, s.stop-s.start)
		for i := range out {
			out[i] = s.start + i
		}
		return out, nil
	case spanIndices:
		if len(s.indices) == 0 {
			return nil, &RangeError{Axis: axis, Reason: "empty index list"}
		}
		for _, i := range s.indices {
			if i < 0 || i >= dim {
				return nil, &RangeError{Axis: axis, Index: i, Dim: dim}
			}
		}
		return append([]int(nil), s.indices...), nil
	default:
		out := make([]int, dim)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
}

// Region is a 5D coordinate request. Unset axes select everything.
type Region struct {
	X, Y, Z, C, T Span
}

// Resolve validates every axis against dims and returns explicit positions.
// No physical access happens before this succeeds.
func (r Region) Resolve(dims Dims) (Selection, error) {
	var sel Selection
	spans := [NumAxes]Span{r.X, r.Y, r.Z, r.C, r.T}
	for a, s := range spans {
		idx, err := s.resolve(Axis(a), dims[a])
		if err != nil {
			return Selection{}, err
		}
		sel[a] = idx
	}
	return sel, nil
}

// Selection holds resolved positions per logical axis, indexed by Axis.
type Selection [NumAxes][]int

// Shape returns the number of selected positions per axis.
func (s Selection) Shape() Dims {
	var d Dims
	for a := range s {
		d[a] = len(s[a])
	}
	return d
}

// Full reports whether s selects every position of dims in natural order.
func (s Selection) Full(dims Dims) bool {
	for a := range s {
		if len(s[a]) != dims[a] {
			return false
		}
		for i, v := range s[a] {
			if v != i {
				return false
			}
		}
	}
	return true
}
