package main

import (
	"fmt"
	"path/filepath"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/infer"
)

// runPredict segments every subject with the saved model, logs per-class
// Dice against the ground truth and writes the masks as run-length encoding.
func runPredict(rt *config.Runtime) error {
	vs, net, err := buildModel(rt)
	if err != nil {
		return err
	}
	modelPath := rt.Path(rt.ModelFile)
	if err := vs.Load(modelPath); err != nil {
		return fmt.Errorf("loading %s: %w", modelPath, err)
	}

	p := &infer.Predictor{
		Model:     net,
		Device:    rt.Device,
		DType:     rt.DType,
		PatchSize: rt.PatchSize,
		Stride:    rt.Stride,
		Classes:   rt.Classes,
		Eps:       rt.Epsilon,
		BatchSize: rt.BatchSize,
		Logger:    rt.Logger,
	}

	l := newLoader(rt, false)
	chunks, err := l.Chunks()
	if err != nil {
		return err
	}

	var rows []infer.RLERow
	for _, ids := range chunks {
		subs, err := l.LoadChunk(ids)
		if err != nil {
			return err
		}
		err = subs.Each(func(sub *brats.Subject) error {
			pred, err := p.Predict(sub)
			if err != nil {
				return err
			}
			dice, err := infer.ClassDice(pred.Label, sub.Label, rt.Classes)
			if err != nil {
				return err
			}
			rt.Logger.Info("subject segmented", "subject", sub.ID, "dice", fmt.Sprintf("%.4f", dice))

			overlay := &brats.Subject{ID: sub.ID, Modalities: sub.Modalities, Label: pred.Label}
			if _, err := brats.Visualize(overlay, filepath.Join(rt.OutputDir, "pred", sub.ID), false); err != nil {
				return err
			}
			rows = append(rows, infer.LabelRows(sub.ID, pred.Label, rt.Classes)...)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if len(rows) == 0 {
		rt.Logger.Warn("no subjects found", "dir", rt.DataDir)
		return nil
	}
	out := rt.Path(rt.PredFile)
	if err := infer.WriteRLE(out, rows); err != nil {
		return err
	}
	rt.Logger.Info("predictions saved", "path", out, "rows", len(rows))

	return nil
}
