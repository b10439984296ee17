// Package infer segments whole subjects with a trained model and scores the
// result.
package infer

import (
	"fmt"
	"log/slog"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/preprocess"
	"github.com/sugarme/iseg3d/train"
	"github.com/sugarme/iseg3d/volume"
)

// Prediction is the segmentation of one subject at its original size.
type Prediction struct {
	ID    string
	Probs *volume.Volume // per-class probabilities, channels last
	Label *volume.Volume // argmax class per voxel
}

// Predictor runs a model over the patch grid of a subject and stitches the
// patch probabilities back into a volume. Patching and normalization match
// preprocess.Builder.
type Predictor struct {
	Model     ts.ModuleT
	Device    gotch.Device
	DType     gotch.DType
	PatchSize int
	Stride    int
	Classes   int
	Eps       float64
	BatchSize int
	Logger    *slog.Logger
}

// Predict segments sub. Overlapping patch probabilities are averaged.
func (p *Predictor) Predict(sub *brats.Subject) (*Prediction, error) {
	img, err := sub.Stacked()
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", sub.ID, err)
	}
	padded, err := volume.PadToMultiple(img, p.Stride)
	if err != nil {
		return nil, err
	}
	grid, err := volume.Extract(padded, p.PatchSize, p.Stride)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", sub.ID, err)
	}
	preprocess.Normalize(grid, p.Eps)

	probs := &volume.PatchGrid{
		Grid:       grid.Grid,
		PatchShape: []int{p.PatchSize, p.PatchSize, p.PatchSize, p.Classes},
		Patches:    make([][]float32, 0, grid.Len()),
	}
	bs := p.BatchSize
	if bs <= 0 {
		bs = 1
	}
	for start := 0; start < grid.Len(); start += bs {
		end := start + bs
		if end > grid.Len() {
			end = grid.Len()
		}
		out, err := p.forward(grid.Patches[start:end], grid.PatchShape[:3], img.Channels())
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", sub.ID, err)
		}
		probs.Patches = append(probs.Patches, out...)
	}

	full, err := volume.Assemble(probs, p.Stride, append(append([]int(nil), padded.Spatial()...), p.Classes))
	if err != nil {
		return nil, err
	}
	full, err = volume.Crop(full, img.Spatial())
	if err != nil {
		return nil, err
	}
	label, err := volume.FromData(append([]int(nil), img.Spatial()...), preprocess.ArgMax(full.Data, p.Classes))
	if err != nil {
		return nil, err
	}

	p.logger().Debug("predicted", "subject", sub.ID, "patches", grid.Len())

	return &Prediction{ID: sub.ID, Probs: full, Label: label}, nil
}

// forward returns channels-last probability patches for a batch of
// channels-last image patches.
func (p *Predictor) forward(patches [][]float32, spatial []int, channels int) ([][]float32, error) {
	xs := make([]*ts.Tensor, len(patches))
	for i, data := range patches {
		x, err := train.ChannelsFirst(data, spatial, channels)
		if err != nil {
			for _, t := range xs[:i] {
				t.MustDrop()
			}
			return nil, err
		}
		xs[i] = x
	}
	x := ts.MustStack(xs, 0)
	for _, t := range xs {
		t.MustDrop()
	}
	x = x.MustTo(p.Device, true)
	if p.DType != gotch.Float {
		x = x.MustTotype(p.DType, true)
	}

	var probs *ts.Tensor
	ts.NoGrad(func() {
		probs = p.Model.ForwardT(x, false)
	})
	x.MustDrop()

	// [B C D H W] -> [B D H W C]
	last := probs.MustPermute([]int64{0, 2, 3, 4, 1}, true).MustContiguous(true).MustTo(gotch.CPU, true)
	vals := last.Float64Values()
	last.MustDrop()

	n := len(vals) / len(patches)
	out := make([][]float32, len(patches))
	for i := range out {
		out[i] = make([]float32, n)
		for j, v := range vals[i*n : (i+1)*n] {
			out[i][j] = float32(v)
		}
	}

	return out, nil
}

func (p *Predictor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
