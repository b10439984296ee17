package train

import (
	"fmt"
	"os"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ClassNames are the BraTS label classes, indexed by label value.
var ClassNames = []string{"background", "necrotic core", "edema", "enhancing tumor"}

// SaveLossCurve plots training and validation loss per epoch to a PNG file.
func SaveLossCurve(h History, path string) error {
	p := plot.New()
	p.Title.Text = "Training and validation loss"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Dice loss"

	loss := make(plotter.XYs, len(h))
	valLoss := make(plotter.XYs, len(h))
	for i, e := range h {
		loss[i].X, loss[i].Y = float64(e.Epoch), e.Loss
		valLoss[i].X, valLoss[i].Y = float64(e.Epoch), e.ValLoss
	}

	if err := plotutil.AddLinePoints(p, "loss", loss, "val_loss", valLoss); err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving loss curve: %w", err)
	}

	return nil
}

// HistoryFrame returns h as a dataframe with one row per epoch.
func HistoryFrame(h History) dataframe.DataFrame {
	n := len(h)
	epochs := make([]int, n)
	loss, valLoss := make([]float64, n), make([]float64, n)
	iou, valIoU := make([]float64, n), make([]float64, n)
	secs := make([]float64, n)
	for i, e := range h {
		epochs[i] = e.Epoch
		loss[i], valLoss[i] = e.Loss, e.ValLoss
		iou[i], valIoU[i] = e.IoU, e.ValIoU
		secs[i] = e.Took.Seconds()
	}

	return dataframe.New(
		series.New(epochs, series.Int, "epoch"),
		series.New(loss, series.Float, "loss"),
		series.New(valLoss, series.Float, "val_loss"),
		series.New(iou, series.Float, "iou"),
		series.New(valIoU, series.Float, "val_iou"),
		series.New(secs, series.Float, "seconds"),
	)
}

// WriteHistory writes h as CSV to path.
func WriteHistory(h History, path string) error {
	return writeCSV(HistoryFrame(h), path)
}

// ReadHistory reads a history CSV written by WriteHistory.
func ReadHistory(path string) (History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, df.Err
	}
	epochs, err := df.Col("epoch").Int()
	if err != nil {
		return nil, err
	}
	loss := df.Col("loss").Float()
	valLoss := df.Col("val_loss").Float()
	iou := df.Col("iou").Float()
	valIoU := df.Col("val_iou").Float()
	secs := df.Col("seconds").Float()

	h := make(History, len(epochs))
	for i := range h {
		h[i] = Epoch{
			Epoch:   epochs[i],
			Loss:    loss[i],
			ValLoss: valLoss[i],
			IoU:     iou[i],
			ValIoU:  valIoU[i],
			Took:    time.Duration(secs[i] * float64(time.Second)),
		}
	}

	return h, nil
}

// ClassBalanceFrame tabulates per-class voxel counts of the train and
// validation subsets.
func ClassBalanceFrame(train, val []float64) (dataframe.DataFrame, error) {
	if len(train) != len(val) {
		return dataframe.DataFrame{}, fmt.Errorf("class count mismatch: train %d, val %d", len(train), len(val))
	}
	names := make([]string, len(train))
	for i := range names {
		names[i] = className(i)
	}

	df := dataframe.New(
		series.New(names, series.String, "class"),
		series.New(train, series.Float, "train"),
		series.New(val, series.Float, "val"),
	)
	return df, df.Err
}

// SaveClassBalance writes a stacked bar chart of per-class voxel counts,
// validation stacked on training, to a PNG file and the table to csvPath
// when it is not empty.
func SaveClassBalance(train, val []float64, pngPath, csvPath string) error {
	df, err := ClassBalanceFrame(train, val)
	if err != nil {
		return err
	}
	if csvPath != "" {
		if err := writeCSV(df, csvPath); err != nil {
			return err
		}
	}

	p := plot.New()
	p.Title.Text = "Class balance (training vs validation)"
	p.X.Label.Text = "Class"
	p.Y.Label.Text = "Voxels"

	w := vg.Points(40)
	trainBars, err := plotter.NewBarChart(plotter.Values(train), w)
	if err != nil {
		return err
	}
	trainBars.LineStyle.Width = vg.Length(0)
	trainBars.Color = plotutil.Color(0)

	valBars, err := plotter.NewBarChart(plotter.Values(val), w)
	if err != nil {
		return err
	}
	valBars.LineStyle.Width = vg.Length(0)
	valBars.Color = plotutil.Color(1)
	valBars.StackOn(trainBars)

	p.Add(trainBars, valBars)
	p.Legend.Add("training", trainBars)
	p.Legend.Add("validation", valBars)
	p.Legend.Top = true
	p.NominalX(df.Col("class").Records()...)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, pngPath); err != nil {
		return fmt.Errorf("saving class balance: %w", err)
	}

	return nil
}

func className(c int) string {
	if c < len(ClassNames) {
		return ClassNames[c]
	}
	return fmt.Sprintf("class %d", c)
}

func writeCSV(df dataframe.DataFrame, path string) error {
	if df.Err != nil {
		return df.Err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
