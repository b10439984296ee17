// Package train fits a segmentation model on patch batches and writes the
// training artifacts.
package train

import (
	"fmt"
	"reflect"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/dutil"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/preprocess"
)

// Sample is one image/label patch pair as [C D H W] tensors.
type Sample struct {
	X *ts.Tensor
	Y *ts.Tensor
}

// Dataset implements dutil.Dataset over a patch batch.
type Dataset struct {
	batch *preprocess.Batch
}

func NewDataset(b *preprocess.Batch) *Dataset {
	return &Dataset{batch: b}
}

func (ds *Dataset) Len() int {
	return ds.batch.Len()
}

// Item implements Dataset interface.
func (ds *Dataset) Item(idx int) (interface{}, error) {
	if idx < 0 || idx >= ds.Len() {
		return nil, fmt.Errorf("item %d out of range [0, %d)", idx, ds.Len())
	}
	x, err := ChannelsFirst(ds.batch.X[idx], ds.batch.PatchShape, ds.batch.Channels)
	if err != nil {
		return nil, fmt.Errorf("image patch %d: %w", idx, err)
	}
	y, err := ChannelsFirst(ds.batch.Y[idx], ds.batch.PatchShape, ds.batch.Classes)
	if err != nil {
		x.MustDrop()
		return nil, fmt.Errorf("label patch %d: %w", idx, err)
	}

	return Sample{X: x, Y: y}, nil
}

func (ds *Dataset) DType() reflect.Type {
	return reflect.TypeOf(Sample{})
}

// ChannelsFirst converts a channels-last patch to a [C D H W] tensor.
func ChannelsFirst(data []float32, spatial []int, channels int) (*ts.Tensor, error) {
	if len(spatial) != 3 {
		return nil, fmt.Errorf("expected 3 spatial dims, got %v", spatial)
	}
	want := spatial[0] * spatial[1] * spatial[2] * channels
	if len(data) != want {
		return nil, fmt.Errorf("patch has %d values, want %d for %v x %d", len(data), want, spatial, channels)
	}

	shape := []int64{int64(spatial[0]), int64(spatial[1]), int64(spatial[2]), int64(channels)}
	x := ts.MustOfSlice(data).MustView(shape, true)

	return x.MustPermute([]int64{3, 0, 1, 2}, true).MustContiguous(true), nil
}

// NewLoader creates a data loader yielding []Sample batches. The last batch
// may be short, and batchSize is clamped to the number of patches.
func NewLoader(b *preprocess.Batch, batchSize int, shuffle bool) (*dutil.DataLoader, error) {
	ds := NewDataset(b)
	if n := ds.Len(); n > 0 && batchSize > n {
		batchSize = n
	}
	s, err := dutil.NewBatchSampler(ds.Len(), batchSize, false, shuffle)
	if err != nil {
		return nil, err
	}

	return dutil.NewDataLoader(ds, s)
}

// Collate stacks samples into [B C D H W] tensors on device, cast to dtype.
// Sample tensors are dropped.
func Collate(samples []Sample, device gotch.Device, dtype gotch.DType) (x, y *ts.Tensor) {
	xs := make([]*ts.Tensor, len(samples))
	ys := make([]*ts.Tensor, len(samples))
	for i, s := range samples {
		xs[i] = s.X
		ys[i] = s.Y
	}

	x = ts.MustStack(xs, 0)
	y = ts.MustStack(ys, 0)
	for i := range samples {
		xs[i].MustDrop()
		ys[i].MustDrop()
	}

	x = x.MustTo(device, true)
	y = y.MustTo(device, true)
	if dtype != gotch.Float {
		x = x.MustTotype(dtype, true)
		y = y.MustTotype(dtype, true)
	}

	return x, y
}
