package unet

import (
	"fmt"
	"reflect"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/base"
)

// DefaultDecoderChannels are the output channels of the five decoder blocks.
var DefaultDecoderChannels = []int64{256, 128, 64, 32, 16}

type DecoderLayer struct {
	Conv1 *nn.SequentialT
	Attn1 ts.ModuleT
	Conv2 *nn.SequentialT
	Attn2 ts.ModuleT
}

// interpolation using `nearest` algorithm
func upsample(x, ref *ts.Tensor) *ts.Tensor {
	xSize := x.MustSize()
	refSize := ref.MustSize()
	if reflect.DeepEqual(xSize[2:], refSize[2:]) {
		return x.MustShallowClone()
	}

	return x.MustUpsampleNearest3d(refSize[2:], nil, nil, nil, false)
}

// ForwardSkip concatenates x and skip along channels then forwards through
// the layer. skip can be nil.
func (d *DecoderLayer) ForwardSkip(x, skip *ts.Tensor, train bool) *ts.Tensor {
	cat := x
	if skip != nil {
		cat = ts.MustCat([]*ts.Tensor{x, skip}, 1)
	}
	attn1 := d.Attn1.ForwardT(cat, train)
	if skip != nil {
		cat.MustDrop()
	}
	conv1 := d.Conv1.ForwardT(attn1, train)
	attn1.MustDrop()
	conv2 := d.Conv2.ForwardT(conv1, train)
	conv1.MustDrop()
	res := d.Attn2.ForwardT(conv2, train)
	conv2.MustDrop()

	return res
}

// NewDecoderLayer creates a DecoderLayer.
func NewDecoderLayer(p *nn.Path, cIn, skip, cOut int64, attention string) (*DecoderLayer, error) {
	attn1, err := base.NewAttention(p.Sub("attn1"), attention, cIn+skip)
	if err != nil {
		return nil, err
	}
	attn2, err := base.NewAttention(p.Sub("attn2"), attention, cOut)
	if err != nil {
		return nil, err
	}

	return &DecoderLayer{
		Conv1: base.Conv3dRelu(p.Sub("conv1"), cIn+skip, cOut, 3, 1, 1),
		Attn1: attn1,
		Conv2: base.Conv3dRelu(p.Sub("conv2"), cOut, cOut, 3, 1, 1),
		Attn2: attn2,
	}, nil
}

// UNetDecoder is Decoder struct for UNet model.
type UNetDecoder struct {
	blocks []*DecoderLayer
}

// NewUNetDecoder creates UNetDecoder from the encoder output channels
// (input first) and one output width per decoder block.
//
// Block i consumes the deepest feature (or the previous block output) and
// the encoder skip at the next finer stage. The last block has no skip and
// upsamples to the input size.
func NewUNetDecoder(p *nn.Path, encoderChannels, decoderChannels []int64, attention string) (*UNetDecoder, error) {
	nSkips := len(encoderChannels) - 2
	if len(decoderChannels) != nSkips+1 {
		return nil, fmt.Errorf("decoder needs %d blocks for %d encoder features, got %d", nSkips+1, len(encoderChannels), len(decoderChannels))
	}

	blocks := make([]*DecoderLayer, len(decoderChannels))
	cIn := encoderChannels[len(encoderChannels)-1]
	for i, cOut := range decoderChannels {
		var skip int64
		if i < nSkips {
			skip = encoderChannels[len(encoderChannels)-2-i]
		}
		block, err := NewDecoderLayer(p.Sub(fmt.Sprintf("decoder%d", i)), cIn, skip, cOut, attention)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
		cIn = cOut
	}

	return &UNetDecoder{blocks: blocks}, nil
}

// ForwardFeatures forwards through encoder features as returned by
// encoder.Encoder.ForwardAll. Features are not dropped.
func (n *UNetDecoder) ForwardFeatures(features []*ts.Tensor, train bool) *ts.Tensor {
	if len(features) != len(n.blocks)+1 {
		panic(fmt.Sprintf("expected %d features, got %d", len(n.blocks)+1, len(features)))
	}

	// with a 64^3 input and a ResNet50 encoder:
	// feat5 [bz 2048 2 2 2] -> z0 [bz 256 4 4 4]    (skip feat4)
	// z0                    -> z1 [bz 128 8 8 8]    (skip feat3)
	// z1                    -> z2 [bz 64 16 16 16]  (skip feat2)
	// z2                    -> z3 [bz 32 32 32 32]  (skip feat1)
	// z3                    -> z4 [bz 16 64 64 64]  (no skip)
	x := features[len(features)-1]
	for i, block := range n.blocks {
		var skip *ts.Tensor
		ref := features[0]
		if idx := len(features) - 2 - i; idx > 0 {
			skip = features[idx]
			ref = skip
		}
		up := upsample(x, ref)
		z := block.ForwardSkip(up, skip, train)
		up.MustDrop()
		if i > 0 {
			x.MustDrop()
		}
		x = z
	}

	return x
}
