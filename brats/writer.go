package brats

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/robert-malhotra/go-hdf5/hdf5"

	"github.com/sugarme/iseg3d/volume"
)

// WriteSubject writes sub as <root>/<id>/<id><ext>. Volumes are stored flat
// with their shape in the ShapeAttr attribute; labels are stored as uint8.
func WriteSubject(root, ext string, sub *Subject) (string, error) {
	if ext == "" {
		ext = ".h5"
	}
	dir := filepath.Join(root, sub.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, sub.ID+ext)

	// 4-byte offsets: subject containers stay far below 4 GiB and the writer
	// overflows the root object header with 8-byte offsets at five links.
	f, err := hdf5.Create(path, hdf5.WithOffsetSize(4))
	if err != nil {
		return "", fmt.Errorf("creating %q: %w", path, err)
	}

	for i, name := range Modalities {
		v := sub.Modalities[i]
		if _, err := f.Root().CreateDataset(name, v.Data, hdf5.WithAttribute(ShapeAttr, shape64(v.Shape))); err != nil {
			f.Close()
			return "", fmt.Errorf("writing %s/%s: %w", sub.ID, name, err)
		}
	}

	labels := make([]uint8, len(sub.Label.Data))
	for i, v := range sub.Label.Data {
		labels[i] = uint8(v)
	}
	if _, err := f.Root().CreateDataset(LabelKey, labels, hdf5.WithAttribute(ShapeAttr, shape64(sub.Label.Shape))); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s/%s: %w", sub.ID, LabelKey, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %q: %w", path, err)
	}

	return path, nil
}

func shape64(shape []int) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		out[i] = int64(d)
	}
	return out
}

// class intensity per modality: background, necrotic core, edema, enhancing.
var synthIntensity = [4][4]float32{
	{0.30, 0.20, 0.35, 0.60}, // t1
	{0.30, 0.25, 0.40, 0.95}, // t1ce
	{0.40, 0.80, 0.90, 0.70}, // t2
	{0.35, 0.60, 0.95, 0.75}, // flair
}

// Synthesize builds a cubic subject of side size. With tumor set, the label
// holds three nested spherical shells (1 core, 3 enhancing ring, 2 edema);
// otherwise it is all background. Intensities depend on class and modality
// plus gaussian noise.
func Synthesize(id string, size int, seed int64, tumor bool) *Subject {
	rng := rand.New(rand.NewSource(seed))
	sub := &Subject{ID: id, Label: volume.New(size, size, size)}
	for i := range sub.Modalities {
		sub.Modalities[i] = volume.New(size, size, size)
	}

	c := float64(size) / 2
	cx := c + (rng.Float64()-0.5)*c/2
	cy := c + (rng.Float64()-0.5)*c/2
	cz := c + (rng.Float64()-0.5)*c/2
	r := float64(size) / 5

	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			for z := 0; z < size; z++ {
				class := 0
				if tumor {
					d := math.Sqrt(sq(float64(x)-cx) + sq(float64(y)-cy) + sq(float64(z)-cz))
					switch {
					case d < r*0.4:
						class = 1
					case d < r*0.7:
						class = 3
					case d < r:
						class = 2
					}
				}
				sub.Label.Set(float32(class), x, y, z)
				for m, v := range sub.Modalities {
					v.Set(synthIntensity[m][class]+float32(rng.NormFloat64()*0.05), x, y, z)
				}
			}
		}
	}

	return sub
}

func sq(v float64) float64 { return v * v }

// SynthesizeDataset writes n synthetic subjects named prefix+"%03d" under
// root and returns their container paths.
func SynthesizeDataset(root, prefix, ext string, n, size int, seed int64, tumor bool) ([]string, error) {
	var paths []string
	for i := 1; i <= n; i++ {
		sub := Synthesize(fmt.Sprintf("%s%03d", prefix, i), size, seed+int64(i), tumor)
		p, err := WriteSubject(root, ext, sub)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
