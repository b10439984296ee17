package main

import (
	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/config"
)

// runSynth writes synthetic subjects to the data directory.
func runSynth(rt *config.Runtime) error {
	paths, err := brats.SynthesizeDataset(rt.DataDir, rt.Prefix, rt.ContainerExt, rt.SynthSubjects, rt.SynthSize, rt.Seed, true)
	if err != nil {
		return err
	}
	for _, p := range paths {
		rt.Logger.Debug("subject written", "path", p)
	}
	rt.Logger.Info("synthetic dataset written", "dir", rt.DataDir, "subjects", len(paths), "size", rt.SynthSize)

	return nil
}
