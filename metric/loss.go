package metric

import (
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/ts"
)

// Smooth is added to numerator and denominator of the overlap ratios so that
// a class absent from both prediction and target scores 1.
const Smooth = 1e-5

// reduceDims are batch and spatial dims of a [B C D H W] tensor.
var reduceDims = []int64{0, 2, 3, 4}

func accumDType(x *ts.Tensor) gotch.DType {
	if x.DType() == gotch.Double {
		return gotch.Double
	}
	return gotch.Float
}

// DiceLoss is the soft Dice loss of class probabilities against one-hot
// targets, both shaped [B C D H W].
//
// Per class: dice = (2*sum(p*t) + s) / (sum(p) + sum(t) + s) over batch and
// voxels. Loss is 1 - mean dice over classes.
// Ref. http://campar.in.tum.de/pub/milletari2016Vnet/milletari2016Vnet.pdf
func DiceLoss(probs, target *ts.Tensor) *ts.Tensor {
	dtype := accumDType(probs)

	ptMul := probs.MustMul(target, false)
	tp := ptMul.MustSumDimIntlist(reduceDims, false, dtype, true)
	pSum := probs.MustSumDimIntlist(reduceDims, false, dtype, false)
	tSum := target.MustSumDimIntlist(reduceDims, false, dtype, false)

	numerator := tp.MustMulScalar(ts.FloatScalar(2.0), true).MustAddScalar(ts.FloatScalar(Smooth), true)
	denominator := pSum.MustAdd(tSum, true).MustAddScalar(ts.FloatScalar(Smooth), true)
	tSum.MustDrop()

	dc := numerator.MustDiv(denominator, true)
	denominator.MustDrop()

	mean := dc.MustMean(dtype, true)

	return mean.MustMulScalar(ts.FloatScalar(-1), true).MustAddScalar(ts.FloatScalar(1), true)
}

// IoU is the mean over classes of the intersection over union of
// predictions thresholded at 0.5 against targets, shaped [B C D H W].
func IoU(probs, target *ts.Tensor) float64 {
	p := probs.MustGt(ts.FloatScalar(0.5), false).MustTotype(gotch.Float, true)
	t := target.MustGt(ts.FloatScalar(0.5), false).MustTotype(gotch.Float, true)

	ptMul := p.MustMul(t, false)
	inter := ptMul.MustSumDimIntlist(reduceDims, false, gotch.Double, true)
	pSum := p.MustSumDimIntlist(reduceDims, false, gotch.Double, true)
	tSum := t.MustSumDimIntlist(reduceDims, false, gotch.Double, true)

	// union = |p| + |t| - |p∩t|
	union := pSum.MustAdd(tSum, true).MustSub(inter, true).MustAddScalar(ts.FloatScalar(Smooth), true)
	tSum.MustDrop()
	ratio := inter.MustAddScalar(ts.FloatScalar(Smooth), true).MustDiv(union, true)
	union.MustDrop()

	mean := ratio.MustMean(gotch.Double, true)
	retVal := mean.Float64Values()[0]
	mean.MustDrop()

	return retVal
}

// DiceScore is the hard Dice coefficient of predictions thresholded at 0.5,
// averaged over classes.
func DiceScore(probs, target *ts.Tensor) float64 {
	p := probs.MustGt(ts.FloatScalar(0.5), false).MustTotype(gotch.Float, true)
	t := target.MustGt(ts.FloatScalar(0.5), false).MustTotype(gotch.Float, true)

	ptMul := p.MustMul(t, false)
	overlap := ptMul.MustSumDimIntlist(reduceDims, false, gotch.Double, true)
	pSum := p.MustSumDimIntlist(reduceDims, false, gotch.Double, true)
	tSum := t.MustSumDimIntlist(reduceDims, false, gotch.Double, true)

	numerator := overlap.MustMulScalar(ts.FloatScalar(2.0), true).MustAddScalar(ts.FloatScalar(Smooth), true)
	denominator := pSum.MustAdd(tSum, true).MustAddScalar(ts.FloatScalar(Smooth), true)
	tSum.MustDrop()

	dice := numerator.MustDiv(denominator, true)
	denominator.MustDrop()

	mean := dice.MustMean(gotch.Double, true)
	retVal := mean.Float64Values()[0]
	mean.MustDrop()

	return retVal
}
