package types

import (
	"errors"
	"testing"
)

func TestArrayOf_Values(t *testing.T) {
	shape := NewDims(3, 2, 1, 1, 1)
	in := []uint16{1, 2, 3, 400, 500, 65535}

	arr, err := ArrayOf(shape, in)
	if err != nil {
		t.Fatalf("ArrayOf() error = %v", err)
	}
	if arr.DType != Uint16 || len(arr.Data) != 12 {
		t.Fatalf("DType = %s, len = %d", arr.DType, len(arr.Data))
	}
	if arr.Data[6] != 400&0xff || arr.Data[7] != 400>>8 {
		t.Errorf("data is not little-endian: %v", arr.Data[6:8])
	}

	out, err := Values[uint16](arr)
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("Values() = %v, want %v", out, in)
		}
	}
	if got := arr.At(0, 1, 0, 0, 0); got != 400 {
		t.Errorf("At(0,1) = %v, want 400", got)
	}
}

func TestValues_DTypeMismatch(t *testing.T) {
	arr := NewArray(Float32, NewDims(2, 2, 1, 1, 1))
	if _, err := Values[uint8](arr); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Values[uint8] error = %v", err)
	}
}

func TestArrayOf_Signed(t *testing.T) {
	arr, err := ArrayOf(NewDims(2, 1, 1, 1, 1), []int16{-1, -300})
	if err != nil {
		t.Fatal(err)
	}
	vals, _ := Values[int16](arr)
	if vals[0] != -1 || vals[1] != -300 {
		t.Errorf("Values() = %v", vals)
	}
	if arr.At(1, 0, 0, 0, 0) != -300 {
		t.Errorf("At() = %v", arr.At(1, 0, 0, 0, 0))
	}
}

func TestArray_CheckAndStrides(t *testing.T) {
	arr := NewArray(Uint16, NewDims(4, 3, 2, 1, 1))
	s := arr.Strides()
	if s[AxisX] != 2 || s[AxisY] != 8 || s[AxisZ] != 24 || s[AxisC] != 48 {
		t.Errorf("Strides() = %v", s)
	}
	arr.Data = arr.Data[:10]
	if err := arr.Check(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Check() = %v", err)
	}
}

func TestSwapBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 6}
	SwapBytes(b, 2)
	want := []byte{2, 1, 4, 3, 6, 5}
	for i := range b {
		if b[i] != want[i] {
			t.Fatalf("SwapBytes = %v", b)
		}
	}
}
