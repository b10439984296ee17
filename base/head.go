package base

import (
	"github.com/sugarme/gotch/nn"
	"github.com/sugarme/gotch/ts"
)

// SegmentationHead maps decoder features to per-voxel class probabilities.
type SegmentationHead struct {
	conv *nn.Conv3D
}

// NewSegmentationHead creates a 3D segmentation head: a conv to cOut classes
// followed by a softmax over the channel dim.
func NewSegmentationHead(p *nn.Path, cIn, cOut, ksize int64) *SegmentationHead {
	return &SegmentationHead{
		conv: Conv3d(p, cIn, cOut, ksize, ksize/2, 1),
	}
}

// ForwardT implements ts.ModuleT for SegmentationHead.
func (h *SegmentationHead) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	logits := h.conv.ForwardT(x, train)
	return logits.MustSoftmax(1, logits.DType(), true)
}
