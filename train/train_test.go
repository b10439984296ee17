package train_test

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/preprocess"
	"github.com/sugarme/iseg3d/train"
	"github.com/sugarme/iseg3d/unet"
)

func synthBatch(t *testing.T) *preprocess.Batch {
	t.Helper()
	sub := brats.Synthesize("s", 32, 3, true)
	b := &preprocess.Builder{PatchSize: 16, Stride: 16, Classes: 4, Eps: 1e-8}
	batch, err := b.Subject(sub)
	require.NoError(t, err)
	require.Equal(t, 8, batch.Len())
	return batch
}

func TestDatasetItem(t *testing.T) {
	// 2x1x1 spatial, 3 channels, channels last
	b := &preprocess.Batch{
		X:          [][]float32{{1, 2, 3, 4, 5, 6}},
		Y:          [][]float32{{1, 0, 0, 1}},
		PatchShape: []int{2, 1, 1},
		Channels:   3,
		Classes:    2,
	}
	ds := train.NewDataset(b)
	require.Equal(t, 1, ds.Len())

	item, err := ds.Item(0)
	require.NoError(t, err)
	s := item.(train.Sample)
	defer s.X.MustDrop()
	defer s.Y.MustDrop()

	assert.Equal(t, []int64{3, 2, 1, 1}, s.X.MustSize())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, s.X.Float64Values())
	assert.Equal(t, []int64{2, 2, 1, 1}, s.Y.MustSize())
	assert.Equal(t, []float64{1, 0, 0, 1}, s.Y.Float64Values())

	_, err = ds.Item(1)
	assert.Error(t, err)

	b.X[0] = b.X[0][:5]
	_, err = ds.Item(0)
	assert.Error(t, err)
}

func TestCollate(t *testing.T) {
	batch := synthBatch(t)
	ds := train.NewDataset(batch)

	var samples []train.Sample
	for i := 0; i < 3; i++ {
		item, err := ds.Item(i)
		require.NoError(t, err)
		samples = append(samples, item.(train.Sample))
	}
	x, y := train.Collate(samples, gotch.CPU, gotch.Double)
	defer x.MustDrop()
	defer y.MustDrop()

	assert.Equal(t, []int64{3, 4, 16, 16, 16}, x.MustSize())
	assert.Equal(t, []int64{3, 4, 16, 16, 16}, y.MustSize())
	assert.Equal(t, gotch.Double, x.DType())
}

func TestFit(t *testing.T) {
	batch := synthBatch(t)
	trainB, valB, err := preprocess.Split(batch, 0.2, 42)
	require.NoError(t, err)
	require.Equal(t, 6, trainB.Len())
	require.Equal(t, 2, valB.Len())

	vs := nn.NewVarStore(gotch.CPU)
	net := unet.NewUNet3D(vs.Root(), 4, 4, 2)
	tr := &train.Trainer{
		Model:     net,
		VS:        vs,
		Device:    gotch.CPU,
		DType:     gotch.Float,
		LR:        1e-4,
		Epochs:    2,
		BatchSize: 2,
	}

	h, err := tr.Fit(trainB, valB)
	require.NoError(t, err)
	require.Len(t, h, 2)
	for i, e := range h {
		assert.Equal(t, i+1, e.Epoch)
		for _, v := range []float64{e.Loss, e.ValLoss, e.IoU, e.ValIoU} {
			assert.False(t, math.IsNaN(v))
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}

	loss, iou, err := tr.Evaluate(valB)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, loss, 0.5)
	assert.InDelta(t, 0.5, iou, 0.5)

	path := filepath.Join(t.TempDir(), "model.gt")
	require.NoError(t, tr.Save(path))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Size())
}

func TestFitSmallValSplit(t *testing.T) {
	batch := synthBatch(t)
	trainB, valB, err := preprocess.Split(batch, 0.2, 42)
	require.NoError(t, err)

	vs := nn.NewVarStore(gotch.CPU)
	tr := &train.Trainer{
		Model:     unet.NewUNet3D(vs.Root(), 4, 4, 2),
		VS:        vs,
		Device:    gotch.CPU,
		DType:     gotch.Float,
		LR:        1e-4,
		Epochs:    1,
		BatchSize: 4,
	}
	require.Less(t, valB.Len(), tr.BatchSize)

	h, err := tr.Fit(trainB, valB)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.False(t, math.IsNaN(h[0].ValLoss))
}

func TestNewLoaderClampsBatchSize(t *testing.T) {
	batch := synthBatch(t)
	dl, err := train.NewLoader(batch, 20, true)
	require.NoError(t, err)

	var seen int
	for dl.HasNext() {
		items, err := dl.Next()
		require.NoError(t, err)
		samples := items.([]train.Sample)
		seen += len(samples)
		for _, s := range samples {
			s.X.MustDrop()
			s.Y.MustDrop()
		}
	}
	assert.Equal(t, batch.Len(), seen)
}

func TestLoaderReshuffles(t *testing.T) {
	// one voxel per patch holding its index
	b := &preprocess.Batch{PatchShape: []int{1, 1, 1}, Channels: 1, Classes: 1}
	for i := 0; i < 8; i++ {
		b.X = append(b.X, []float32{float32(i)})
		b.Y = append(b.Y, []float32{1})
	}
	dl, err := train.NewLoader(b, 8, true)
	require.NoError(t, err)

	order := func() []float64 {
		require.True(t, dl.HasNext())
		items, err := dl.Next()
		require.NoError(t, err)
		var out []float64
		for _, s := range items.([]train.Sample) {
			out = append(out, s.X.Float64Values()[0])
			s.X.MustDrop()
			s.Y.MustDrop()
		}
		return out
	}

	first := order()
	orders := map[string]bool{fmt.Sprint(first): true}
	for i := 0; i < 10; i++ {
		dl.Reset(true)
		orders[fmt.Sprint(order())] = true
	}
	assert.Greater(t, len(orders), 1)
}

func TestFitEmpty(t *testing.T) {
	tr := &train.Trainer{BatchSize: 2, Epochs: 1}
	_, err := tr.Fit(&preprocess.Batch{}, &preprocess.Batch{})
	assert.ErrorIs(t, err, train.ErrEmptyBatch)
}

func TestHistoryCSV(t *testing.T) {
	h := train.History{
		{Epoch: 1, Loss: 0.9, ValLoss: 0.95, IoU: 0.1, ValIoU: 0.05, Took: 2 * time.Second},
		{Epoch: 2, Loss: 0.7, ValLoss: 0.8, IoU: 0.3, ValIoU: 0.2, Took: 3 * time.Second},
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "history.csv")
	require.NoError(t, train.WriteHistory(h, path))

	got, err := train.ReadHistory(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range h {
		assert.Equal(t, h[i].Epoch, got[i].Epoch)
		assert.InDelta(t, h[i].Loss, got[i].Loss, 1e-6)
		assert.InDelta(t, h[i].ValLoss, got[i].ValLoss, 1e-6)
		assert.InDelta(t, h[i].IoU, got[i].IoU, 1e-6)
		assert.InDelta(t, h[i].ValIoU, got[i].ValIoU, 1e-6)
		assert.Equal(t, h[i].Took, got[i].Took)
	}

	curve := filepath.Join(dir, "loss_curve.png")
	require.NoError(t, train.SaveLossCurve(h, curve))
	assert.FileExists(t, curve)
}

func TestClassBalance(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "class_balance.png")
	csv := filepath.Join(dir, "class_balance.csv")

	trainCounts := []float64{1000, 40, 80, 20}
	valCounts := []float64{250, 10, 20, 5}
	require.NoError(t, train.SaveClassBalance(trainCounts, valCounts, png, csv))
	assert.FileExists(t, png)
	assert.FileExists(t, csv)

	df, err := train.ClassBalanceFrame(trainCounts, valCounts)
	require.NoError(t, err)
	assert.Equal(t, train.ClassNames, df.Col("class").Records())
	assert.Equal(t, trainCounts, df.Col("train").Float())

	_, err = train.ClassBalanceFrame(trainCounts, valCounts[:2])
	assert.Error(t, err)
}
