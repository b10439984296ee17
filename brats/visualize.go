package brats

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/sugarme/iseg3d/volume"
)

// label colors: necrotic core, edema, enhancing tumor
var labelColors = [4]color.RGBA{
	{0, 0, 0, 0},
	{255, 64, 64, 255},
	{64, 255, 64, 255},
	{255, 255, 64, 255},
}

const minTile = 256

// Visualize renders the axial mid-slice of sub into outDir as
// slice_<idx>.png: the four modalities side by side followed by the label
// overlaid on flair. With saveTIFF, each modality slice is also written as a
// 16-bit TIFF. It returns the PNG path.
func Visualize(sub *Subject, outDir string, saveTIFF bool) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	z := sub.Label.Shape[2] / 2
	w, h := sub.Label.Shape[0], sub.Label.Shape[1]

	scale := 1
	for w*scale < minTile {
		scale++
	}
	tw, th := uint(w*scale), uint(h*scale)

	montage := imaging.New(int(tw)*5, int(th), color.Black)
	for i, v := range sub.Modalities {
		gray := grayImage(v, z)
		tile := resize.Resize(tw, th, gray, resize.NearestNeighbor)
		montage = imaging.Paste(montage, tile, image.Pt(i*int(tw), 0))

		if saveTIFF {
			name := filepath.Join(outDir, fmt.Sprintf("slice_%d_%s.tiff", z, Modalities[i]))
			if err := writeTIFF(name, v, z); err != nil {
				return "", err
			}
		}
	}

	overlay := labelOverlay(grayImage(sub.Modalities[3], z), sub.Label, z)
	tile := resize.Resize(tw, th, overlay, resize.NearestNeighbor)
	montage = imaging.Paste(montage, tile, image.Pt(4*int(tw), 0))

	name := filepath.Join(outDir, fmt.Sprintf("slice_%d.png", z))
	if err := imaging.Save(montage, name); err != nil {
		return "", fmt.Errorf("saving %q: %w", name, err)
	}

	return name, nil
}

// sliceRange returns min and max of the axial slice z.
func sliceRange(v *volume.Volume, z int) (lo, hi float32) {
	lo, hi = v.At(0, 0, z), v.At(0, 0, z)
	for x := 0; x < v.Shape[0]; x++ {
		for y := 0; y < v.Shape[1]; y++ {
			val := v.At(x, y, z)
			if val < lo {
				lo = val
			}
			if val > hi {
				hi = val
			}
		}
	}
	return lo, hi
}

// grayImage min-max scales axial slice z to 8-bit gray. x runs along image
// columns, y along rows.
func grayImage(v *volume.Volume, z int) *image.Gray {
	w, h := v.Shape[0], v.Shape[1]
	img := image.NewGray(image.Rect(0, 0, w, h))
	lo, hi := sliceRange(v, z)
	span := hi - lo
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var g uint8
			if span > 0 {
				g = uint8((v.At(x, y, z) - lo) / span * 255)
			}
			img.SetGray(x, y, color.Gray{Y: g})
		}
	}
	return img
}

// labelOverlay draws the colored label slice over base at 50% opacity.
func labelOverlay(base image.Image, label *volume.Volume, z int) image.Image {
	rect := base.Bounds()
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, base, image.Point{}, draw.Src)

	mask := image.NewRGBA(rect)
	for x := 0; x < rect.Dx(); x++ {
		for y := 0; y < rect.Dy(); y++ {
			class := int(label.At(x, y, z))
			if class > 0 && class < len(labelColors) {
				mask.SetRGBA(x, y, labelColors[class])
			}
		}
	}
	alpha := image.NewUniform(color.Alpha{A: 128})
	draw.DrawMask(dst, rect, mask, image.Point{}, alpha, image.Point{}, draw.Over)

	return dst
}

func writeTIFF(name string, v *volume.Volume, z int) error {
	w, h := v.Shape[0], v.Shape[1]
	img := image.NewGray16(image.Rect(0, 0, w, h))
	lo, hi := sliceRange(v, z)
	span := hi - lo
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var g uint16
			if span > 0 {
				g = uint16((v.At(x, y, z) - lo) / span * 65535)
			}
			img.SetGray16(x, y, color.Gray16{Y: g})
		}
	}

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return fmt.Errorf("encoding %q: %w", name, err)
	}
	return f.Close()
}
