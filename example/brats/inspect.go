package main

import (
	"path/filepath"
	"strings"

	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/train"
)

// runInspect reports the class balance of the training and validation
// patches.
func runInspect(rt *config.Runtime) error {
	trainB, valB, err := loadPatches(rt, true)
	if err != nil {
		return err
	}

	trainCounts := trainB.ClassCounts()
	valCounts := valB.ClassCounts()
	df, err := train.ClassBalanceFrame(trainCounts, valCounts)
	if err != nil {
		return err
	}
	rt.Logger.Info("class balance\n" + df.String())

	png := rt.Path(rt.BalanceFile)
	csv := strings.TrimSuffix(png, filepath.Ext(png)) + ".csv"
	if err := train.SaveClassBalance(trainCounts, valCounts, png, csv); err != nil {
		return err
	}
	rt.Logger.Info("class balance saved", "chart", png, "table", csv)

	return nil
}
