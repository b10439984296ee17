package preprocess

import (
	"fmt"
	"math"

	"github.com/sugarme/iseg3d/volume"
)

// Normalize z-scores every patch of g in place using the mean and population
// standard deviation of the whole grid: (x - mean) / (std + eps).
func Normalize(g *volume.PatchGrid, eps float64) (mean, std float64) {
	var n float64
	for _, p := range g.Patches {
		for _, v := range p {
			mean += float64(v)
		}
		n += float64(len(p))
	}
	if n == 0 {
		return 0, 0
	}
	mean /= n

	var ss float64
	for _, p := range g.Patches {
		for _, v := range p {
			d := float64(v) - mean
			ss += d * d
		}
	}
	std = math.Sqrt(ss / n)

	m, s := float32(mean), float32(std+eps)
	for _, p := range g.Patches {
		for i, v := range p {
			p[i] = (v - m) / s
		}
	}

	return mean, std
}

// OneHot expands integer class ids into channel-last one-hot vectors of
// length classes.
func OneHot(labels []float32, classes int) ([]float32, error) {
	out := make([]float32, len(labels)*classes)
	for i, l := range labels {
		c := int(l)
		if float32(c) != l || c < 0 || c >= classes {
			return nil, fmt.Errorf("%w: %v at voxel %d, classes %d", ErrLabelRange, l, i, classes)
		}
		out[i*classes+c] = 1
	}
	return out, nil
}

// ArgMax maps channel-last class scores back to class ids.
func ArgMax(scores []float32, classes int) []float32 {
	out := make([]float32, len(scores)/classes)
	for i := range out {
		row := scores[i*classes : (i+1)*classes]
		best := 0
		for c, v := range row {
			if v > row[best] {
				best = c
			}
		}
		out[i] = float32(best)
	}
	return out
}
