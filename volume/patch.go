package volume

import (
	"fmt"
)

// PatchGrid holds cubic patches cut from a volume at a fixed stride.
//
// Patches are stored in raster order of their grid position (axis 0
// slowest). Each patch keeps the channel-last layout of its source volume.
type PatchGrid struct {
	Grid       [3]int
	PatchShape []int
	Patches    [][]float32
}

// Len returns the number of patches.
func (g *PatchGrid) Len() int {
	return len(g.Patches)
}

// GridCount returns the number of patch positions along an axis of length dim.
func GridCount(dim, size, stride int) int {
	if dim < size {
		return 0
	}
	return (dim-size)/stride + 1
}

// Extract slices v into size^3 patches taken every stride voxels along the
// three spatial axes. Voxels past the last full patch are not covered, so
// callers pad with PadToMultiple first.
func Extract(v *Volume, size, stride int) (*PatchGrid, error) {
	if size <= 0 || stride <= 0 {
		return nil, fmt.Errorf("%w: patch size %d, stride %d", ErrInvalidShape, size, stride)
	}
	var grid [3]int
	for i, d := range v.Spatial() {
		if d < size {
			return nil, fmt.Errorf("%w: axis %d has %d voxels, patch is %d", ErrPatchTooLarge, i, d, size)
		}
		grid[i] = GridCount(d, size, stride)
	}

	c := v.Channels()
	sy, sz := v.Shape[1], v.Shape[2]
	patchShape := append([]int{size, size, size}, v.Shape[3:]...)
	row := size * c
	patches := make([][]float32, 0, grid[0]*grid[1]*grid[2])

	for gx := 0; gx < grid[0]; gx++ {
		for gy := 0; gy < grid[1]; gy++ {
			for gz := 0; gz < grid[2]; gz++ {
				ox, oy, oz := gx*stride, gy*stride, gz*stride
				p := make([]float32, size*size*row)
				for x := 0; x < size; x++ {
					for y := 0; y < size; y++ {
						src := (((ox+x)*sy+(oy+y))*sz + oz) * c
						dst := (x*size + y) * row
						copy(p[dst:dst+row], v.Data[src:src+row])
					}
				}
				patches = append(patches, p)
			}
		}
	}

	return &PatchGrid{Grid: grid, PatchShape: patchShape, Patches: patches}, nil
}

// Assemble rebuilds a volume of the given shape from a patch grid produced
// with the same stride. Voxels covered by several patches get the mean of
// their patch values; uncovered voxels stay zero.
func Assemble(g *PatchGrid, stride int, shape []int) (*Volume, error) {
	if len(g.PatchShape) < 3 || len(shape) != len(g.PatchShape) {
		return nil, fmt.Errorf("%w: patch shape %v vs volume shape %v", ErrShapeMismatch, g.PatchShape, shape)
	}
	for i := 3; i < len(shape); i++ {
		if shape[i] != g.PatchShape[i] {
			return nil, fmt.Errorf("%w: patch shape %v vs volume shape %v", ErrShapeMismatch, g.PatchShape, shape)
		}
	}
	if g.Len() != g.Grid[0]*g.Grid[1]*g.Grid[2] {
		return nil, fmt.Errorf("%w: grid %v holds %d patches", ErrShapeMismatch, g.Grid, g.Len())
	}
	size := g.PatchShape[0]
	for i := 0; i < 3; i++ {
		if (g.Grid[i]-1)*stride+size > shape[i] {
			return nil, fmt.Errorf("%w: grid %v does not fit in %v", ErrShapeMismatch, g.Grid, shape)
		}
	}

	out := New(shape...)
	c := out.Channels()
	sy, sz := shape[1], shape[2]
	counts := make([]uint16, numel(shape[:3]))

	i := 0
	for gx := 0; gx < g.Grid[0]; gx++ {
		for gy := 0; gy < g.Grid[1]; gy++ {
			for gz := 0; gz < g.Grid[2]; gz++ {
				p := g.Patches[i]
				i++
				ox, oy, oz := gx*stride, gy*stride, gz*stride
				for x := 0; x < size; x++ {
					for y := 0; y < size; y++ {
						for z := 0; z < size; z++ {
							vox := ((ox+x)*sy+(oy+y))*sz + oz + z
							counts[vox]++
							src := ((x*size+y)*size + z) * c
							for ch := 0; ch < c; ch++ {
								out.Data[vox*c+ch] += p[src+ch]
							}
						}
					}
				}
			}
		}
	}

	for vox, n := range counts {
		if n <= 1 {
			continue
		}
		for ch := 0; ch < c; ch++ {
			out.Data[vox*c+ch] /= float32(n)
		}
	}

	return out, nil
}
