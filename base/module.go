package base

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// Identity is a nn.ModuleT placeholder.
// It forwards the input tensor as such.
type Identity struct{}

// Forward implement nn.Module for Identity struct
func (i *Identity) Forward(x *ts.Tensor) *ts.Tensor {
	return x.MustShallowClone()
}

// ForwardT implement nn.ModuleT for Identity struct.
func (i *Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// NewIdentity creates a new Identity struct.
func NewIdentity() *Identity {
	return &Identity{}
}

// SCSE is concurrent spatial and channel squeeze and excitement module.
// Ref. https://arxiv.org/abs/1808.08127
type SCSE struct {
	cSE *nn.SequentialT
	sSE *nn.SequentialT
}

// ForwardT implement ts.ModuleT for SCSE struct.
func (m *SCSE) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	cse := m.cSE.ForwardT(x, train)
	sse := m.sSE.ForwardT(x, train)
	cmul := x.MustMul(cse, false)
	smul := x.MustMul(sse, false)
	res := cmul.MustAdd(smul, true)

	cse.MustDrop()
	sse.MustDrop()
	smul.MustDrop()

	return res
}

// NewSCSE creates new 3D SCSE.
func NewSCSE(p *nn.Path, cIn int64, reductionOpt ...int64) *SCSE {
	var reduction int64 = 16
	if len(reductionOpt) > 0 {
		reduction = reductionOpt[0]
	}
	cMid := cIn / reduction
	if cMid < 1 {
		cMid = 1
	}

	// Channel squeeze excite
	chanSeq := nn.SeqT()
	chanSeq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustAdaptiveAvgPool3d([]int64{1, 1, 1}, false)
	}))
	chanSeq.Add(Conv3d(p.Sub("sqzconv1"), cIn, cMid, 1, 0, 1))
	chanSeq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	chanSeq.Add(Conv3d(p.Sub("sqzconv2"), cMid, cIn, 1, 0, 1))
	chanSeq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustSigmoid(false)
	}))

	// Spatial squeeze excite
	spatSeq := nn.SeqT()
	spatSeq.Add(Conv3d(p.Sub("spatconv"), cIn, 1, 1, 0, 1))
	spatSeq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustSigmoid(false)
	}))

	return &SCSE{
		cSE: chanSeq,
		sSE: spatSeq,
	}
}

// NewAttention creates the attention module named by kind: "scse" or ""
// (identity).
func NewAttention(p *nn.Path, kind string, cIn int64) (ts.ModuleT, error) {
	switch kind {
	case "":
		return NewIdentity(), nil
	case "scse":
		return NewSCSE(p, cIn), nil
	default:
		return nil, fmt.Errorf("unsupported attention type %q", kind)
	}
}

// Conv3d creates Conv3D module.
func Conv3d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv3D {
	config := nn.DefaultConv3DConfig()
	config.Stride = []int64{stride, stride, stride}
	config.Padding = []int64{padding, padding, padding}

	return nn.NewConv3D(p, cIn, cOut, ksize, config)
}

// Conv3dNoBias creates Conv3D with no bias.
func Conv3dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv3D {
	config := nn.DefaultConv3DConfig()
	config.Bias = false
	config.Stride = []int64{stride, stride, stride}
	config.Padding = []int64{padding, padding, padding}

	return nn.NewConv3D(p, cIn, cOut, ksize, config)
}

// Conv3dRelu creates a SequentialT composing of Conv3D no bias, BatchNorm
// and a ReLU activation.
func Conv3dRelu(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.SequentialT {
	bnConfig := nn.DefaultBatchNormConfig()
	bnConfig.Eps = 0.001
	seq := nn.SeqT()
	seq.Add(Conv3dNoBias(p.Sub("conv"), cIn, cOut, ksize, padding, stride))
	seq.Add(nn.BatchNorm3D(p.Sub("bn"), cOut, bnConfig))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// DoubleConv creates two stacked 3x3x3 Conv3dRelu. The middle channel count
// defaults to cOut.
func DoubleConv(p *nn.Path, cIn, cOut int64, cMidOpt ...int64) *nn.SequentialT {
	cMid := cOut
	if len(cMidOpt) > 0 {
		cMid = cMidOpt[0]
	}
	seq := nn.SeqT()
	seq.Add(Conv3dRelu(p.Sub("conv1"), cIn, cMid, 3, 1, 1))
	seq.Add(Conv3dRelu(p.Sub("conv2"), cMid, cOut, 3, 1, 1))

	return seq
}
