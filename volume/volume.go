// Package volume provides dense 3D image volumes and the patch operations
// (stacking, stride padding, patch extraction and re-assembly) used to feed
// volumetric segmentation models.
package volume

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch = errors.New("volume: shape mismatch")
	ErrPatchTooLarge = errors.New("volume: patch larger than volume")
	ErrInvalidShape  = errors.New("volume: invalid shape")
)

// Volume is a dense row-major float32 array. The last axis varies fastest.
//
// A spatial volume has 3 dims. A multi-channel volume has a 4th, channel-last
// dim.
type Volume struct {
	Shape []int
	Data  []float32
}

// New creates a zero-filled volume with the given shape.
func New(shape ...int) *Volume {
	s := append([]int(nil), shape...)
	return &Volume{Shape: s, Data: make([]float32, numel(s))}
}

// FromData wraps data as a volume. Data is not copied.
func FromData(shape []int, data []float32) (*Volume, error) {
	if len(shape) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 dims, got %v", ErrInvalidShape, shape)
	}
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrInvalidShape, shape, n, len(data))
	}
	return &Volume{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Len returns the number of elements.
func (v *Volume) Len() int {
	return len(v.Data)
}

// Spatial returns the three spatial dims.
func (v *Volume) Spatial() []int {
	return v.Shape[:3]
}

// Channels returns the number of values stored per spatial voxel.
func (v *Volume) Channels() int {
	return numel(v.Shape[3:])
}

// At returns the element at the given index.
func (v *Volume) At(idx ...int) float32 {
	return v.Data[v.offset(idx)]
}

// Set assigns the element at the given index.
func (v *Volume) Set(val float32, idx ...int) {
	v.Data[v.offset(idx)] = val
}

func (v *Volume) offset(idx []int) int {
	if len(idx) != len(v.Shape) {
		panic(fmt.Sprintf("volume: index %v does not match shape %v", idx, v.Shape))
	}
	off := 0
	for i, n := range v.Shape {
		off = off*n + idx[i]
	}
	return off
}

// Stack concatenates spatial volumes of identical shape along a new last
// axis: S + (len(vols),).
func Stack(vols ...*Volume) (*Volume, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrInvalidShape)
	}
	ref := vols[0].Shape
	if len(ref) != 3 {
		return nil, fmt.Errorf("%w: stack expects 3D volumes, got %v", ErrInvalidShape, ref)
	}
	for i, v := range vols[1:] {
		if !sameShape(ref, v.Shape) {
			return nil, fmt.Errorf("%w: volume %d has shape %v, want %v", ErrShapeMismatch, i+1, v.Shape, ref)
		}
	}

	c := len(vols)
	out := New(ref[0], ref[1], ref[2], c)
	for ch, v := range vols {
		for i, val := range v.Data {
			out.Data[i*c+ch] = val
		}
	}

	return out, nil
}

// PaddedShape returns shape with each spatial dim rounded up to the smallest
// multiple of stride. Trailing (channel) dims are unchanged.
func PaddedShape(shape []int, stride int) []int {
	out := append([]int(nil), shape...)
	for i := 0; i < 3 && i < len(out); i++ {
		if r := out[i] % stride; r != 0 {
			out[i] += stride - r
		}
	}
	return out
}

// PadToMultiple zero-pads the high end of each spatial axis so that every
// spatial dim is a multiple of stride. An already aligned volume is returned
// as is.
func PadToMultiple(v *Volume, stride int) (*Volume, error) {
	if stride <= 0 {
		return nil, fmt.Errorf("%w: stride %d", ErrInvalidShape, stride)
	}
	shape := PaddedShape(v.Shape, stride)
	if sameShape(shape, v.Shape) {
		return v, nil
	}

	out := New(shape...)
	c := v.Channels()
	sx, sy, sz := v.Shape[0], v.Shape[1], v.Shape[2]
	py, pz := shape[1], shape[2]
	row := sz * c
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			src := (x*sy + y) * sz * c
			dst := (x*py + y) * pz * c
			copy(out.Data[dst:dst+row], v.Data[src:src+row])
		}
	}

	return out, nil
}

// Crop keeps the low corner of v with the given spatial dims. It undoes
// PadToMultiple.
func Crop(v *Volume, spatial []int) (*Volume, error) {
	if len(spatial) != 3 {
		return nil, fmt.Errorf("%w: crop to %v", ErrInvalidShape, spatial)
	}
	for i, d := range spatial {
		if d <= 0 || d > v.Shape[i] {
			return nil, fmt.Errorf("%w: crop %v out of %v", ErrInvalidShape, spatial, v.Shape)
		}
	}
	shape := append(append([]int(nil), spatial...), v.Shape[3:]...)
	if sameShape(shape, v.Shape) {
		return v, nil
	}

	out := New(shape...)
	c := v.Channels()
	sy, sz := v.Shape[1], v.Shape[2]
	row := spatial[2] * c
	for x := 0; x < spatial[0]; x++ {
		for y := 0; y < spatial[1]; y++ {
			src := (x*sy + y) * sz * c
			dst := (x*spatial[1] + y) * row
			copy(out.Data[dst:dst+row], v.Data[src:src+row])
		}
	}

	return out, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
