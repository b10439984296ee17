package unet

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/iseg3d/base"
	"github.com/sugarme/iseg3d/encoder"
)

// Supported architectures.
const (
	ArchResNet50 = "resnet50-unet"
	ArchResNet34 = "resnet34-unet"
	ArchPlain    = "unet"
)

// UNet is a 3D UNet model with a ResNet encoder.
// Ref: https://arxiv.org/abs/1505.04597
type UNet struct {
	encoder encoder.Encoder
	decoder *UNetDecoder
	segHead *base.SegmentationHead
}

// ForwardT implements ts.ModuleT for UNet struct. Output is softmax
// probabilities shaped [bz classes D H W].
func (n *UNet) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	features := n.encoder.ForwardAll(x, train)
	out := n.decoder.ForwardFeatures(features, train)
	for _, f := range features {
		f.MustDrop()
	}
	masks := n.segHead.ForwardT(out, train)
	out.MustDrop()

	return masks
}

func newResNetUNet(p *nn.Path, enc encoder.Encoder, classes int64, attention string) (*UNet, error) {
	dec, err := NewUNetDecoder(p.Sub("decoder"), enc.OutChannels(), DefaultDecoderChannels, attention)
	if err != nil {
		return nil, err
	}
	// cIn=decoderChannels[-1], cOut=classes, ksize(kernel size = 3)
	head := base.NewSegmentationHead(p.Sub("logit"), DefaultDecoderChannels[len(DefaultDecoderChannels)-1], classes, 3)

	return &UNet{
		encoder: enc,
		decoder: dec,
		segHead: head,
	}, nil
}

// NewResNetUNet3D creates a UNet with a 3D ResNet50 encoder.
func NewResNetUNet3D(p *nn.Path, cIn, classes int64, attention string) (*UNet, error) {
	return newResNetUNet(p, encoder.NewResNet50Encoder(p.Sub("encoder"), cIn), classes, attention)
}

// NewResNet34UNet3D creates a UNet with a 3D ResNet34 encoder.
func NewResNet34UNet3D(p *nn.Path, cIn, classes int64, attention string) (*UNet, error) {
	return newResNetUNet(p, encoder.NewResNet34Encoder(p.Sub("encoder"), cIn), classes, attention)
}

// New creates the model named by arch.
func New(p *nn.Path, arch string, cIn, classes int64, attention string) (ts.ModuleT, error) {
	switch arch {
	case ArchResNet50:
		return NewResNetUNet3D(p, cIn, classes, attention)
	case ArchResNet34:
		return NewResNet34UNet3D(p, cIn, classes, attention)
	case ArchPlain:
		return NewUNet3D(p, cIn, classes, 32), nil
	default:
		return nil, fmt.Errorf("unsupported architecture %q", arch)
	}
}
