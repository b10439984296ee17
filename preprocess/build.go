package preprocess

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sugarme/iseg3d/brats"
	"github.com/sugarme/iseg3d/volume"
)

// Builder converts subjects into patch batches.
type Builder struct {
	PatchSize int
	Stride    int
	Classes   int
	Eps       float64
	Logger    *slog.Logger
}

// Subject pads and patches one subject. Image patches are normalized with
// the subject's own statistics and label patches are one-hot encoded.
func (b *Builder) Subject(sub *brats.Subject) (*Batch, error) {
	img, err := sub.Stacked()
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", sub.ID, err)
	}
	if !equalInts(img.Spatial(), sub.Label.Spatial()) {
		return nil, fmt.Errorf("subject %s: %w: image %v, label %v", sub.ID, volume.ErrShapeMismatch, img.Spatial(), sub.Label.Spatial())
	}

	imgGrid, err := b.patches(img)
	if err != nil {
		return nil, fmt.Errorf("subject %s image: %w", sub.ID, err)
	}
	labelGrid, err := b.patches(sub.Label)
	if err != nil {
		return nil, fmt.Errorf("subject %s label: %w", sub.ID, err)
	}

	mean, std := Normalize(imgGrid, b.Eps)
	b.logger().Debug("normalized", "subject", sub.ID, "mean", mean, "std", std, "patches", imgGrid.Len())

	out := &Batch{
		X:          imgGrid.Patches,
		Y:          make([][]float32, labelGrid.Len()),
		PatchShape: imgGrid.PatchShape[:3],
		Channels:   img.Channels(),
		Classes:    b.Classes,
	}
	for i, p := range labelGrid.Patches {
		if out.Y[i], err = OneHot(p, b.Classes); err != nil {
			return nil, fmt.Errorf("subject %s: %w", sub.ID, err)
		}
	}

	return out, nil
}

func (b *Builder) patches(v *volume.Volume) (*volume.PatchGrid, error) {
	padded, err := volume.PadToMultiple(v, b.Stride)
	if err != nil {
		return nil, err
	}
	return volume.Extract(padded, b.PatchSize, b.Stride)
}

// Build runs the loader chunk by chunk and concatenates every subject's
// patches. Subject volumes are released after each chunk.
func (b *Builder) Build(l *brats.Loader) (*Batch, error) {
	chunks, err := l.Chunks()
	if err != nil {
		return nil, err
	}

	all := &Batch{}
	for i, ids := range chunks {
		start := time.Now()
		subs, err := l.LoadChunk(ids)
		if err != nil {
			return nil, err
		}

		chunk := &Batch{}
		err = subs.Each(func(sub *brats.Subject) error {
			sb, err := b.Subject(sub)
			if err != nil {
				return err
			}
			chunk.Append(sb)
			return nil
		})
		if err != nil {
			return nil, err
		}
		all.Append(chunk)

		debug.FreeOSMemory()
		b.logger().Info("chunk processed",
			"chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)),
			"subjects", len(ids),
			"patches", chunk.Len(),
			"total", all.Len(),
			"ram_mib", fmt.Sprintf("%.1f", usedRAM()),
			"took", time.Since(start).Round(time.Millisecond))
	}

	return all, nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
