// Package preprocess turns subject volumes into normalized, one-hot encoded
// patch batches and splits them for training.
package preprocess

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	ErrLabelRange = errors.New("preprocess: label out of range")
	ErrEmptySplit = errors.New("preprocess: split leaves an empty subset")
)

// Batch is a flat collection of image patches paired one-to-one with one-hot
// label patches. Both are channel-last.
type Batch struct {
	X, Y       [][]float32
	PatchShape []int // spatial patch dims
	Channels   int
	Classes    int
}

// Len returns the number of patches.
func (b *Batch) Len() int {
	return len(b.X)
}

// Append adds the patches of other to b.
func (b *Batch) Append(other *Batch) {
	if b.PatchShape == nil {
		b.PatchShape = other.PatchShape
		b.Channels = other.Channels
		b.Classes = other.Classes
	}
	b.X = append(b.X, other.X...)
	b.Y = append(b.Y, other.Y...)
}

// Subset returns the patches at idx, in idx order. Patch data is shared.
func (b *Batch) Subset(idx []int) *Batch {
	out := &Batch{
		X:          make([][]float32, len(idx)),
		Y:          make([][]float32, len(idx)),
		PatchShape: b.PatchShape,
		Channels:   b.Channels,
		Classes:    b.Classes,
	}
	for i, j := range idx {
		out.X[i] = b.X[j]
		out.Y[i] = b.Y[j]
	}
	return out
}

// ClassCounts returns the number of voxels of each class over all label
// patches.
func (b *Batch) ClassCounts() []float64 {
	counts := make([]float64, b.Classes)
	for _, y := range b.Y {
		for i, v := range y {
			counts[i%b.Classes] += float64(v)
		}
	}
	return counts
}

// SplitIndices returns a seeded random partition of n items into training and
// validation indices. The validation set has ceil(valFraction*n) items.
func SplitIndices(n int, valFraction float64, seed int64) (train, val []int, err error) {
	nVal := int(math.Ceil(valFraction * float64(n)))
	nTrain := n - nVal
	if nVal <= 0 || nTrain <= 0 {
		return nil, nil, fmt.Errorf("%w: %d items, val fraction %v", ErrEmptySplit, n, valFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nVal:], perm[:nVal], nil
}

// Split partitions b at patch level into training and validation batches.
func Split(b *Batch, valFraction float64, seed int64) (train, val *Batch, err error) {
	trainIdx, valIdx, err := SplitIndices(b.Len(), valFraction, seed)
	if err != nil {
		return nil, nil, err
	}
	return b.Subset(trainIdx), b.Subset(valIdx), nil
}
