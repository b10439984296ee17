package volume_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/iseg3d/volume"
)

// ramp fills a volume with its flat index so every voxel is distinct.
func ramp(shape ...int) *volume.Volume {
	v := volume.New(shape...)
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	return v
}

func TestStack(t *testing.T) {
	a, b, c, d := ramp(3, 4, 5), ramp(3, 4, 5), ramp(3, 4, 5), ramp(3, 4, 5)
	for i := range b.Data {
		b.Data[i] += 1000
	}

	s, err := volume.Stack(a, b, c, d)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5, 4}, s.Shape)
	assert.Equal(t, 4, s.Channels())
	assert.Equal(t, a.At(2, 3, 4), s.At(2, 3, 4, 0))
	assert.Equal(t, b.At(1, 2, 3), s.At(1, 2, 3, 1))
	assert.Equal(t, d.At(0, 1, 2), s.At(0, 1, 2, 3))
}

func TestStackShapeMismatch(t *testing.T) {
	_, err := volume.Stack(ramp(4, 4, 4), ramp(4, 4, 4), ramp(4, 4, 3), ramp(4, 4, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, volume.ErrShapeMismatch))
}

func TestPaddedShape(t *testing.T) {
	assert.Equal(t, []int{256, 256, 160, 4}, volume.PaddedShape([]int{240, 240, 155, 4}, 32))
	assert.Equal(t, []int{128, 128, 128}, volume.PaddedShape([]int{128, 128, 128}, 32))
	assert.Equal(t, []int{32, 64, 96}, volume.PaddedShape([]int{1, 33, 96}, 32))
}

func TestPadToMultipleAligned(t *testing.T) {
	v := ramp(64, 32, 96, 2)
	p, err := volume.PadToMultiple(v, 32)
	require.NoError(t, err)
	assert.Equal(t, v.Shape, p.Shape)
	assert.Equal(t, v.Data, p.Data)
}

func TestPadToMultiple(t *testing.T) {
	v := ramp(5, 6, 7, 2)
	p, err := volume.PadToMultiple(v, 4)
	require.NoError(t, err)
	require.Equal(t, []int{8, 8, 8, 2}, p.Shape)

	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			for z := 0; z < 8; z++ {
				for c := 0; c < 2; c++ {
					want := float32(0)
					if x < 5 && y < 6 && z < 7 {
						want = v.At(x, y, z, c)
					}
					require.Equal(t, want, p.At(x, y, z, c), "voxel %d,%d,%d,%d", x, y, z, c)
				}
			}
		}
	}
}

func TestExtractCount(t *testing.T) {
	v := volume.New(128, 128, 128, 4)
	g, err := volume.Extract(v, 64, 32)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 3, 3}, g.Grid)
	assert.Equal(t, 27, g.Len())
	assert.Equal(t, []int{64, 64, 64, 4}, g.PatchShape)
	assert.Len(t, g.Patches[0], 64*64*64*4)

	// BraTS volume after padding to stride 32
	assert.Equal(t, 7, volume.GridCount(256, 64, 32))
	assert.Equal(t, 4, volume.GridCount(160, 64, 32))
}

func TestExtractPatchContent(t *testing.T) {
	v := ramp(8, 8, 8)
	g, err := volume.Extract(v, 4, 2)
	require.NoError(t, err)
	require.Equal(t, [3]int{3, 3, 3}, g.Grid)

	// patch at grid (1,2,0) starts at voxel (2,4,0)
	p := g.Patches[1*9+2*3+0]
	assert.Equal(t, v.At(2, 4, 0), p[0])
	assert.Equal(t, v.At(5, 7, 3), p[len(p)-1])
}

func TestExtractTooSmall(t *testing.T) {
	_, err := volume.Extract(volume.New(32, 64, 64), 64, 32)
	assert.True(t, errors.Is(err, volume.ErrPatchTooLarge))
}

func TestAssembleRoundTrip(t *testing.T) {
	v := ramp(30, 20, 10, 3)
	padded, err := volume.PadToMultiple(v, 10)
	require.NoError(t, err)

	g, err := volume.Extract(padded, 10, 10)
	require.NoError(t, err)
	require.Equal(t, [3]int{3, 2, 1}, g.Grid)

	back, err := volume.Assemble(g, 10, padded.Shape)
	require.NoError(t, err)
	assert.Equal(t, padded.Data, back.Data)
}

func TestAssembleOverlap(t *testing.T) {
	v := ramp(16, 16, 16)
	g, err := volume.Extract(v, 8, 4)
	require.NoError(t, err)

	back, err := volume.Assemble(g, 4, v.Shape)
	require.NoError(t, err)
	assert.InDeltaSlice(t, v.Data, back.Data, 1e-2)
}

func TestAssembleChannelMismatch(t *testing.T) {
	g, err := volume.Extract(ramp(16, 16, 16, 2), 8, 8)
	require.NoError(t, err)

	_, err = volume.Assemble(g, 8, []int{16, 16, 16, 3})
	assert.True(t, errors.Is(err, volume.ErrShapeMismatch))
	_, err = volume.Assemble(g, 8, []int{16, 16, 16})
	assert.True(t, errors.Is(err, volume.ErrShapeMismatch))
}

func TestCropUndoesPadding(t *testing.T) {
	v := ramp(30, 20, 10, 2)
	padded, err := volume.PadToMultiple(v, 16)
	require.NoError(t, err)
	require.Equal(t, []int{32, 32, 16, 2}, padded.Shape)

	back, err := volume.Crop(padded, v.Spatial())
	require.NoError(t, err)
	assert.Equal(t, v.Shape, back.Shape)
	assert.Equal(t, v.Data, back.Data)

	_, err = volume.Crop(v, []int{31, 20, 10})
	assert.True(t, errors.Is(err, volume.ErrInvalidShape))
}
