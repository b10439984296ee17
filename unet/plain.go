package unet

import (
	"reflect"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/base"
)

// Down is a SequentialT module composed of maxpool and 2x conv.
type Down struct {
	MaxpoolConv *nn.SequentialT
}

// NewDown creates a new Down ModuleT layer.
func NewDown(p *nn.Path, cIn, cOut int64) *Down {
	down := nn.SeqT()
	down.AddFn(nn.NewFunc(func(x *ts.Tensor) *ts.Tensor {
		// [B C D H W] => [B C D/2 H/2 W/2]
		return x.MustMaxPool3d([]int64{2, 2, 2}, []int64{2, 2, 2}, []int64{0, 0, 0}, []int64{1, 1, 1}, false, false)
	}))
	down.Add(base.DoubleConv(p, cIn, cOut))

	return &Down{down}
}

// ForwardT implements nn.ModuleT interface.
func (l *Down) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return l.MaxpoolConv.ForwardT(x, train)
}

// Up is an upsampling layer followed by a double conv.
type Up struct {
	DoubleConv *nn.SequentialT
}

// NewUp creates new Up layer. cIn counts both the upsampled and skip inputs.
func NewUp(p *nn.Path, cIn, cOut int64) *Up {
	return &Up{base.DoubleConv(p, cIn, cOut)}
}

// UpForward upsamples x1 to the size of x2, concatenates and forwards
// through double conv.
func (l *Up) UpForward(x1, x2 *ts.Tensor, train bool) *ts.Tensor {
	x2Size := x2.MustSize()
	xUp := upsampling(x1, x2Size[2:])
	x := ts.MustCat([]*ts.Tensor{x2, xUp}, 1)
	xUp.MustDrop()

	out := l.DoubleConv.ForwardT(x, train)
	x.MustDrop()

	return out
}

// interpolation using `trilinear` algorithm
func upsampling(x *ts.Tensor, outSize []int64) *ts.Tensor {
	xSize := x.MustSize()
	if reflect.DeepEqual(xSize[2:], outSize) {
		return x.MustShallowClone()
	}

	return x.MustUpsampleTrilinear3d(outSize, false, nil, nil, nil, false)
}

// UNet3D is the plain 3D UNet: four down and four up stages.
type UNet3D struct {
	Inc *nn.SequentialT

	Down1 *Down
	Down2 *Down
	Down3 *Down
	Down4 *Down

	Up1 *Up
	Up2 *Up
	Up3 *Up
	Up4 *Up

	Head *base.SegmentationHead
}

// NewUNet3D creates a plain UNet whose first stage has width channels.
// Widths double at each down stage.
func NewUNet3D(p *nn.Path, cIn, classes, width int64) *UNet3D {
	w := width
	return &UNet3D{
		Inc:   base.DoubleConv(p.Sub("inc"), cIn, w),
		Down1: NewDown(p.Sub("down1"), w, 2*w),
		Down2: NewDown(p.Sub("down2"), 2*w, 4*w),
		Down3: NewDown(p.Sub("down3"), 4*w, 8*w),
		Down4: NewDown(p.Sub("down4"), 8*w, 8*w), // trilinear: 16w/2
		Up1:   NewUp(p.Sub("up1"), 16*w, 4*w),
		Up2:   NewUp(p.Sub("up2"), 8*w, 2*w),
		Up3:   NewUp(p.Sub("up3"), 4*w, w),
		Up4:   NewUp(p.Sub("up4"), 2*w, w),
		Head:  base.NewSegmentationHead(p.Sub("outc"), w, classes, 1),
	}
}

// ForwardT implements ts.ModuleT for UNet3D. Output is softmax
// probabilities.
func (m *UNet3D) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	x1 := m.Inc.ForwardT(x, train)    // [B  w D    H    W   ]
	x2 := m.Down1.ForwardT(x1, train) // [B 2w D/2  H/2  W/2 ]
	x3 := m.Down2.ForwardT(x2, train) // [B 4w D/4  H/4  W/4 ]
	x4 := m.Down3.ForwardT(x3, train) // [B 8w D/8  H/8  W/8 ]
	x5 := m.Down4.ForwardT(x4, train) // [B 8w D/16 H/16 W/16]

	z1 := m.Up1.UpForward(x5, x4, train) // [B 4w D/8 H/8 W/8]
	z2 := m.Up2.UpForward(z1, x3, train) // [B 2w D/4 H/4 W/4]
	z3 := m.Up3.UpForward(z2, x2, train) // [B  w D/2 H/2 W/2]
	z4 := m.Up4.UpForward(z3, x1, train) // [B  w D   H   W  ]

	probs := m.Head.ForwardT(z4, train)

	for _, t := range []*ts.Tensor{x1, x2, x3, x4, x5, z1, z2, z3, z4} {
		t.MustDrop()
	}

	return probs
}
