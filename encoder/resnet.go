package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/base"
)

// expansion is the channel multiplier of a bottleneck block.
const expansion int64 = 4

// ResNetEncoder is a volumetric ResNet backbone.
type ResNetEncoder struct {
	stem   ts.ModuleT
	layer1 ts.ModuleT
	layer2 ts.ModuleT
	layer3 ts.ModuleT
	layer4 ts.ModuleT

	channels []int64
}

// ForwardAll implements Encoder interface for ResNetEncoder.
//
// Features are at strides 1, 2, 4, 8, 16 and 32 of the input.
func (e *ResNetEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	x0 := e.stem.ForwardT(x, train)
	pooled := x0.MustMaxPool3d([]int64{3, 3, 3}, []int64{2, 2, 2}, []int64{1, 1, 1}, []int64{1, 1, 1}, false, false)
	x1 := e.layer1.ForwardT(pooled, train)
	pooled.MustDrop()
	x2 := e.layer2.ForwardT(x1, train)
	x3 := e.layer3.ForwardT(x2, train)
	x4 := e.layer4.ForwardT(x3, train)

	return []*ts.Tensor{x.MustShallowClone(), x0, x1, x2, x3, x4}
}

// OutChannels implements Encoder interface for ResNetEncoder.
func (e *ResNetEncoder) OutChannels() []int64 {
	return e.channels
}

// NewResNet50Encoder creates a 3D ResNet50: bottleneck blocks (3, 4, 6, 3)
// with 4 fold expansion.
func NewResNet50Encoder(p *nn.Path, cIn int64) *ResNetEncoder {
	return &ResNetEncoder{
		stem:     stem(p, cIn), // NOTE. `conv1` and `bn1` are at root
		layer1:   bottleneckLayer(p.Sub("layer1"), 64, 64, 1, 3),
		layer2:   bottleneckLayer(p.Sub("layer2"), 64*expansion, 128, 2, 4),
		layer3:   bottleneckLayer(p.Sub("layer3"), 128*expansion, 256, 2, 6),
		layer4:   bottleneckLayer(p.Sub("layer4"), 256*expansion, 512, 2, 3),
		channels: []int64{cIn, 64, 256, 512, 1024, 2048},
	}
}

// NewResNet34Encoder creates a 3D ResNet34 with basic blocks (3, 4, 6, 3).
func NewResNet34Encoder(p *nn.Path, cIn int64) *ResNetEncoder {
	return &ResNetEncoder{
		stem:     stem(p, cIn),
		layer1:   basicLayer(p.Sub("layer1"), 64, 64, 1, 3),
		layer2:   basicLayer(p.Sub("layer2"), 64, 128, 2, 4),
		layer3:   basicLayer(p.Sub("layer3"), 128, 256, 2, 6),
		layer4:   basicLayer(p.Sub("layer4"), 256, 512, 2, 3),
		channels: []int64{cIn, 64, 64, 128, 256, 512},
	}
}

func stem(p *nn.Path, cIn int64) ts.ModuleT {
	conv1 := base.Conv3dNoBias(p.Sub("conv1"), cIn, 64, 7, 3, 2)
	bn1 := nn.BatchNorm3D(p.Sub("bn1"), 64, nn.DefaultBatchNormConfig())
	layer0 := nn.SeqT()
	layer0.Add(conv1)
	layer0.Add(bn1)
	layer0.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return layer0
}

func bottleneckLayer(path *nn.Path, cIn, planes, stride, cnt int64) ts.ModuleT {
	layer := nn.SeqT()
	layer.Add(NewBottleneck(path.Sub("0"), cIn, planes, stride))
	for blockIndex := 1; blockIndex < int(cnt); blockIndex++ {
		layer.Add(NewBottleneck(path.Sub(fmt.Sprint(blockIndex)), planes*expansion, planes, 1))
	}

	return layer
}

func basicLayer(path *nn.Path, cIn, cOut, stride, cnt int64) ts.ModuleT {
	layer := nn.SeqT()
	layer.Add(NewBasicBlock(path.Sub("0"), cIn, cOut, stride))
	for blockIndex := 1; blockIndex < int(cnt); blockIndex++ {
		layer.Add(NewBasicBlock(path.Sub(fmt.Sprint(blockIndex)), cOut, cOut, 1))
	}

	return layer
}

func downSample(path *nn.Path, cIn, cOut, stride int64) ts.ModuleT {
	if stride != 1 || cIn != cOut {
		seq := nn.SeqT()
		seq.Add(base.Conv3dNoBias(path.Sub("0"), cIn, cOut, 1, 0, stride))
		seq.Add(nn.BatchNorm3D(path.Sub("1"), cOut, nn.DefaultBatchNormConfig()))

		return seq
	}
	return nn.SeqT()
}

// Bottleneck is a 1x1x1 -> 3x3x3 -> 1x1x1 residual block. The stride sits on
// the 3x3x3 conv.
type Bottleneck struct {
	Conv1      *nn.Conv3D
	Bn1        *nn.BatchNorm
	Conv2      *nn.Conv3D
	Bn2        *nn.BatchNorm
	Conv3      *nn.Conv3D
	Bn3        *nn.BatchNorm
	Downsample ts.ModuleT
}

func NewBottleneck(path *nn.Path, cIn, planes, stride int64) *Bottleneck {
	cOut := planes * expansion
	return &Bottleneck{
		Conv1:      base.Conv3dNoBias(path.Sub("conv1"), cIn, planes, 1, 0, 1),
		Bn1:        nn.BatchNorm3D(path.Sub("bn1"), planes, nn.DefaultBatchNormConfig()),
		Conv2:      base.Conv3dNoBias(path.Sub("conv2"), planes, planes, 3, 1, stride),
		Bn2:        nn.BatchNorm3D(path.Sub("bn2"), planes, nn.DefaultBatchNormConfig()),
		Conv3:      base.Conv3dNoBias(path.Sub("conv3"), planes, cOut, 1, 0, 1),
		Bn3:        nn.BatchNorm3D(path.Sub("bn3"), cOut, nn.DefaultBatchNormConfig()),
		Downsample: downSample(path.Sub("downsample"), cIn, cOut, stride),
	}
}

func (b *Bottleneck) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := b.Conv1.ForwardT(x, train)
	bn1Ts := b.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu1 := bn1Ts.MustRelu(true)

	c2 := b.Conv2.ForwardT(relu1, train)
	relu1.MustDrop()
	bn2Ts := b.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	relu2 := bn2Ts.MustRelu(true)

	c3 := b.Conv3.ForwardT(relu2, train)
	relu2.MustDrop()
	bn3Ts := b.Bn3.ForwardT(c3, train)
	c3.MustDrop()

	dsl := b.Downsample.ForwardT(x, train)
	dslAdd := dsl.MustAdd(bn3Ts, true)
	bn3Ts.MustDrop()

	return dslAdd.MustRelu(true)
}

type BasicBlock struct {
	Conv1      *nn.Conv3D
	Bn1        *nn.BatchNorm
	Conv2      *nn.Conv3D
	Bn2        *nn.BatchNorm
	Downsample ts.ModuleT
}

func NewBasicBlock(path *nn.Path, cIn, cOut, stride int64) *BasicBlock {
	conv1 := base.Conv3dNoBias(path.Sub("conv1"), cIn, cOut, 3, 1, stride)
	bn1 := nn.BatchNorm3D(path.Sub("bn1"), cOut, nn.DefaultBatchNormConfig())
	conv2 := base.Conv3dNoBias(path.Sub("conv2"), cOut, cOut, 3, 1, 1)
	bn2 := nn.BatchNorm3D(path.Sub("bn2"), cOut, nn.DefaultBatchNormConfig())
	downsample := downSample(path.Sub("downsample"), cIn, cOut, stride)

	return &BasicBlock{conv1, bn1, conv2, bn2, downsample}
}

func (bb *BasicBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := bb.Conv1.ForwardT(x, train)
	bn1Ts := bb.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu := bn1Ts.MustRelu(true)
	c2 := bb.Conv2.ForwardT(relu, train)
	relu.MustDrop()
	bn2Ts := bb.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	dsl := bb.Downsample.ForwardT(x, train)
	dslAdd := dsl.MustAdd(bn2Ts, true)
	bn2Ts.MustDrop()

	return dslAdd.MustRelu(true)
}
