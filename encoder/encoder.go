package encoder

import (
	"github.com/sugarme/gotch/ts"
)

// Encoder is encoder interface for a volumetric segmentation model.
//
// ForwardAll returns the input followed by one feature map per stage, from
// the finest to the coarsest resolution. OutChannels lists their channel
// counts in the same order.
type Encoder interface {
	ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor
	OutChannels() []int64
}
