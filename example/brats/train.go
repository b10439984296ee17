package main

import (
	"time"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/preprocess"
	"github.com/sugarme/iseg3d/train"
	"github.com/sugarme/iseg3d/unet"
)

func newLoader(rt *config.Runtime, visualize bool) *brats.Loader {
	l := &brats.Loader{
		Root:         rt.DataDir,
		Prefix:       rt.Prefix,
		ContainerExt: rt.ContainerExt,
		ChunkSize:    rt.ChunkSize,
		MaxSubjects:  rt.MaxSubjects,
		SaveTIFF:     rt.SaveTIFF,
		Logger:       rt.Logger,
	}
	if visualize {
		l.VisualizeDir = rt.OutputDir
	}
	return l
}

func newBuilder(rt *config.Runtime) *preprocess.Builder {
	return &preprocess.Builder{
		PatchSize: rt.PatchSize,
		Stride:    rt.Stride,
		Classes:   rt.Classes,
		Eps:       rt.Epsilon,
		Logger:    rt.Logger,
	}
}

func buildModel(rt *config.Runtime) (*nn.VarStore, ts.ModuleT, error) {
	vs := nn.NewVarStore(rt.Device)
	net, err := unet.New(vs.Root(), rt.Arch, int64(len(brats.Modalities)), int64(rt.Classes), rt.Attention)
	if err != nil {
		return nil, nil, err
	}
	if rt.DType != gotch.Float {
		vs.ToDType(rt.DType)
	}
	rt.Logger.Info("model built", "arch", rt.Arch, "attention", rt.Attention, "variables", len(vs.Variables()))

	return vs, net, nil
}

// loadPatches reads and patches every subject, then splits the patches.
func loadPatches(rt *config.Runtime, visualize bool) (trainB, valB *preprocess.Batch, err error) {
	start := time.Now()
	batch, err := newBuilder(rt).Build(newLoader(rt, visualize))
	if err != nil {
		return nil, nil, err
	}
	rt.Logger.Info("dataset ready",
		"patches", batch.Len(),
		"patch_shape", batch.PatchShape,
		"channels", batch.Channels,
		"classes", batch.Classes,
		"took", time.Since(start).Round(time.Millisecond))

	trainB, valB, err = preprocess.Split(batch, rt.ValSplit, rt.Seed)
	if err != nil {
		return nil, nil, err
	}
	rt.Logger.Info("split", "train", trainB.Len(), "val", valB.Len(), "seed", rt.Seed)

	return trainB, valB, nil
}

func runTrain(rt *config.Runtime) error {
	start := time.Now()
	trainB, valB, err := loadPatches(rt, true)
	if err != nil {
		return err
	}

	vs, net, err := buildModel(rt)
	if err != nil {
		return err
	}

	tr := &train.Trainer{
		Model:     net,
		VS:        vs,
		Device:    rt.Device,
		DType:     rt.DType,
		LR:        rt.LR,
		Epochs:    rt.Epochs,
		BatchSize: rt.BatchSize,
		Logger:    rt.Logger,
	}
	h, err := tr.Fit(trainB, valB)
	if err != nil {
		return err
	}

	if err := tr.Save(rt.Path(rt.ModelFile)); err != nil {
		return err
	}
	if err := train.SaveLossCurve(h, rt.Path(rt.CurveFile)); err != nil {
		return err
	}
	if err := train.WriteHistory(h, rt.Path(rt.HistoryFile)); err != nil {
		return err
	}

	last := h[len(h)-1]
	rt.Logger.Info("training done",
		"val_loss", last.ValLoss,
		"val_iou", last.ValIoU,
		"took", time.Since(start).Round(time.Second))

	return nil
}
