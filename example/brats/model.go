package main

import (
	"fmt"
	"time"

	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/config"
)

// runCheckModel builds the network and forwards a random patch batch.
func runCheckModel(rt *config.Runtime) error {
	_, net, err := buildModel(rt)
	if err != nil {
		return err
	}

	p := int64(rt.PatchSize)
	shape := []int64{int64(rt.BatchSize), int64(len(brats.Modalities)), p, p, p}
	x := ts.MustRandn(shape, rt.DType, rt.Device)
	defer x.MustDrop()

	start := time.Now()
	var out *ts.Tensor
	ts.NoGrad(func() {
		out = net.ForwardT(x, false)
	})
	defer out.MustDrop()

	rt.Logger.Info("forward pass",
		"input", fmt.Sprint(x.MustSize()),
		"output", fmt.Sprint(out.MustSize()),
		"took", time.Since(start).Round(time.Millisecond))

	return nil
}
