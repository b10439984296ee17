package infer_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/infer"
	"github.com/sugarme/iseg3d/unet"
	"github.com/sugarme/iseg3d/volume"
)

func TestRLE(t *testing.T) {
	mask := []bool{false, true, true, false, false, true, false, true, true, true}
	rle := infer.EncodeRLE(mask)
	assert.Equal(t, []int{2, 2, 6, 1, 8, 3}, rle)

	back, err := infer.DecodeRLE(rle, len(mask))
	require.NoError(t, err)
	assert.Equal(t, mask, back)

	assert.Empty(t, infer.EncodeRLE(make([]bool, 5)))

	_, err = infer.DecodeRLE([]int{9, 3}, len(mask))
	assert.Error(t, err)
	_, err = infer.DecodeRLE([]int{1}, len(mask))
	assert.Error(t, err)
}

func TestRLEFile(t *testing.T) {
	label := volume.New(4, 4, 2)
	label.Set(1, 0, 0, 0)
	label.Set(1, 0, 0, 1)
	label.Set(2, 3, 3, 1)
	label.Set(3, 2, 1, 0)

	rows := infer.LabelRows("BraTS20_Training_001", label, 4)
	require.Len(t, rows, 3)
	assert.Equal(t, "1 2", rows[0].Encoding)
	assert.Equal(t, "32 1", rows[1].Encoding)

	path := filepath.Join(t.TempDir(), "pred_rle.csv")
	require.NoError(t, infer.WriteRLE(path, rows))

	got, err := infer.ReadRLE(path)
	require.NoError(t, err)
	require.Contains(t, got, "BraTS20_Training_001")
	byClass := got["BraTS20_Training_001"]
	for c := 1; c < 4; c++ {
		mask, err := infer.DecodeRLE(byClass[c], label.Len())
		require.NoError(t, err)
		for i, m := range mask {
			assert.Equal(t, int(label.Data[i]) == c, m, "class %d voxel %d", c, i)
		}
	}
}

func TestClassDice(t *testing.T) {
	truth, err := volume.FromData([]int{2, 2, 2}, []float32{0, 0, 1, 1, 2, 2, 0, 0})
	require.NoError(t, err)
	pred, err := volume.FromData([]int{2, 2, 2}, []float32{0, 0, 1, 2, 2, 2, 0, 0})
	require.NoError(t, err)

	dice, err := infer.ClassDice(pred, truth, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dice[0], 1e-9)
	assert.InDelta(t, 2.0/3.0, dice[1], 1e-9)
	assert.InDelta(t, 0.8, dice[2], 1e-9)
	assert.Equal(t, 1.0, dice[3])

	_, err = infer.ClassDice(pred, volume.New(2, 2, 1), 4)
	assert.ErrorIs(t, err, volume.ErrShapeMismatch)
}

func TestPredict(t *testing.T) {
	sub := brats.Synthesize("s", 20, 5, true)

	vs := nn.NewVarStore(gotch.CPU)
	p := &infer.Predictor{
		Model:     unet.NewUNet3D(vs.Root(), 4, 4, 2),
		Device:    gotch.CPU,
		DType:     gotch.Float,
		PatchSize: 16,
		Stride:    8,
		Classes:   4,
		Eps:       1e-8,
		BatchSize: 3,
	}

	pred, err := p.Predict(sub)
	require.NoError(t, err)
	assert.Equal(t, "s", pred.ID)
	assert.Equal(t, []int{20, 20, 20, 4}, pred.Probs.Shape)
	assert.Equal(t, []int{20, 20, 20}, pred.Label.Shape)

	for v := 0; v < 20*20*20; v++ {
		var sum float32
		for c := 0; c < 4; c++ {
			sum += pred.Probs.Data[v*4+c]
		}
		require.InDelta(t, 1.0, sum, 1e-4)
		require.GreaterOrEqual(t, pred.Label.Data[v], float32(0))
		require.Less(t, pred.Label.Data[v], float32(4))
	}

	dice, err := infer.ClassDice(pred.Label, sub.Label, 4)
	require.NoError(t, err)
	assert.Len(t, dice, 4)
}
