package train

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/dutil"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
	"gonum.org/v1/gonum/stat"

	"github.com/sugarme/iseg3d/metric"
	"github.com/sugarme/iseg3d/preprocess"
)

var ErrEmptyBatch = errors.New("train: empty patch batch")

// Epoch is the metrics of one training epoch. Losses and IoU are means over
// patches.
type Epoch struct {
	Epoch   int
	Loss    float64
	ValLoss float64
	IoU     float64
	ValIoU  float64
	Took    time.Duration
}

// History is the per-epoch metrics of a Fit run.
type History []Epoch

// Trainer fits Model, whose variables live in VS, with Adam on the soft Dice
// loss.
type Trainer struct {
	Model     ts.ModuleT
	VS        *nn.VarStore
	Device    gotch.Device
	DType     gotch.DType
	LR        float64
	Epochs    int
	BatchSize int
	Logger    *slog.Logger
}

// Fit trains for Epochs epochs over shuffled train batches and evaluates on
// val after each epoch.
func (t *Trainer) Fit(train, val *preprocess.Batch) (History, error) {
	if train.Len() == 0 || val.Len() == 0 {
		return nil, fmt.Errorf("%w: train %d, val %d", ErrEmptyBatch, train.Len(), val.Len())
	}

	opt, err := nn.DefaultAdamConfig().Build(t.VS, t.LR)
	if err != nil {
		return nil, err
	}
	trainDL, err := NewLoader(train, t.BatchSize, true)
	if err != nil {
		return nil, err
	}
	valDL, err := NewLoader(val, t.BatchSize, false)
	if err != nil {
		return nil, err
	}

	t.logger().Info("training",
		"train_patches", train.Len(),
		"val_patches", val.Len(),
		"epochs", t.Epochs,
		"batch_size", t.BatchSize,
		"lr", t.LR,
		"device", fmt.Sprint(t.Device),
		"dtype", fmt.Sprint(t.DType))

	var history History
	for e := 1; e <= t.Epochs; e++ {
		start := time.Now()
		trainDL.Reset(true)

		var losses, ious, weights []float64
		for trainDL.HasNext() {
			items, err := trainDL.Next()
			if err != nil {
				return history, err
			}
			samples := items.([]Sample)
			x, y := Collate(samples, t.Device, t.DType)

			probs := t.Model.ForwardT(x, true)
			loss := metric.DiceLoss(probs, y)
			iou := metric.IoU(probs, y)
			x.MustDrop()
			y.MustDrop()
			probs.MustDrop()

			if err := opt.BackwardStep(loss); err != nil {
				loss.MustDrop()
				return history, fmt.Errorf("epoch %d: %w", e, err)
			}
			losses = append(losses, loss.Float64Values()[0])
			ious = append(ious, iou)
			weights = append(weights, float64(len(samples)))
			loss.MustDrop()
		}

		valLoss, valIoU, err := t.evaluate(valDL)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", e, err)
		}

		ep := Epoch{
			Epoch:   e,
			Loss:    stat.Mean(losses, weights),
			ValLoss: valLoss,
			IoU:     stat.Mean(ious, weights),
			ValIoU:  valIoU,
			Took:    time.Since(start),
		}
		history = append(history, ep)
		t.logger().Info(fmt.Sprintf("epoch %02d/%02d", e, t.Epochs),
			"loss", fmt.Sprintf("%6.4f", ep.Loss),
			"val_loss", fmt.Sprintf("%6.4f", ep.ValLoss),
			"iou", fmt.Sprintf("%6.4f", ep.IoU),
			"val_iou", fmt.Sprintf("%6.4f", ep.ValIoU),
			"took", ep.Took.Round(time.Second))
	}

	return history, nil
}

// Evaluate returns the mean Dice loss and IoU of the model over b.
func (t *Trainer) Evaluate(b *preprocess.Batch) (loss, iou float64, err error) {
	if b.Len() == 0 {
		return 0, 0, ErrEmptyBatch
	}
	dl, err := NewLoader(b, t.BatchSize, false)
	if err != nil {
		return 0, 0, err
	}
	return t.evaluate(dl)
}

func (t *Trainer) evaluate(dl *dutil.DataLoader) (loss, iou float64, err error) {
	dl.Reset()

	var losses, ious, weights []float64
	for dl.HasNext() {
		items, err := dl.Next()
		if err != nil {
			return 0, 0, err
		}
		samples := items.([]Sample)
		x, y := Collate(samples, t.Device, t.DType)

		ts.NoGrad(func() {
			probs := t.Model.ForwardT(x, false)
			l := metric.DiceLoss(probs, y)
			losses = append(losses, l.Float64Values()[0])
			ious = append(ious, metric.IoU(probs, y))
			l.MustDrop()
			probs.MustDrop()
		})
		weights = append(weights, float64(len(samples)))
		x.MustDrop()
		y.MustDrop()
	}

	return stat.Mean(losses, weights), stat.Mean(ious, weights), nil
}

// Save writes the model variables to path, replacing any existing file.
func (t *Trainer) Save(path string) error {
	if err := t.VS.Save(path); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	t.logger().Info("model saved", "path", path)
	return nil
}

func (t *Trainer) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
