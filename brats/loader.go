package brats

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robert-malhotra/go-hdf5/hdf5"

	"github.com/sugarme/iseg3d/volume"
)

// ShapeAttr is the dataset attribute holding the volume shape when a
// container stores volumes as flat 1-D datasets.
const ShapeAttr = "shape"

// Discover returns the sorted names of the subdirectories of root whose name
// starts with prefix.
func Discover(root, prefix string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", root, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Loader reads subjects chunk by chunk so that only ChunkSize subjects are
// held in memory at once.
type Loader struct {
	Root         string
	Prefix       string
	ContainerExt string
	ChunkSize    int
	MaxSubjects  int // 0 = no limit

	// When VisualizeDir is set, the first subject loaded is rendered there.
	VisualizeDir string
	SaveTIFF     bool

	Logger *slog.Logger

	visualized bool
}

// ContainerPath returns the container file of a subject.
func (l *Loader) ContainerPath(id string) string {
	ext := l.ContainerExt
	if ext == "" {
		ext = ".h5"
	}
	return filepath.Join(l.Root, id, id+ext)
}

// Chunks discovers the subjects and groups their ids into chunks of
// ChunkSize.
func (l *Loader) Chunks() ([][]string, error) {
	ids, err := Discover(l.Root, l.Prefix)
	if err != nil {
		return nil, err
	}
	if l.MaxSubjects > 0 && len(ids) > l.MaxSubjects {
		ids = ids[:l.MaxSubjects]
	}

	size := l.ChunkSize
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	l.logger().Info("subjects discovered", "root", l.Root, "subjects", len(ids), "chunks", len(chunks))

	return chunks, nil
}

// LoadChunk reads the given subjects. Subjects without a container file are
// skipped.
func (l *Loader) LoadChunk(ids []string) (*Subjects, error) {
	out := NewSubjects()
	for _, id := range ids {
		path := l.ContainerPath(id)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			l.logger().Debug("no container, skipping", "subject", id)
			continue
		}

		sub, err := ReadSubject(path, id)
		if err != nil {
			return nil, err
		}
		out.Put(sub)

		if l.VisualizeDir != "" && !l.visualized {
			l.visualized = true
			file, err := Visualize(sub, l.VisualizeDir, l.SaveTIFF)
			if err != nil {
				return nil, fmt.Errorf("visualizing %s: %w", id, err)
			}
			l.logger().Info("mid-slice saved", "subject", id, "file", file)
		}
	}

	return out, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// ReadSubject reads the four modalities and the label of one container.
func ReadSubject(path, id string) (*Subject, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	sub := &Subject{ID: id}
	for i, name := range Modalities {
		v, err := readVolume(f, name)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", id, err)
		}
		sub.Modalities[i] = v
	}

	label, err := readVolume(f, LabelKey)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", id, err)
	}
	for i, v := range label.Data {
		label.Data[i] = float32(math.Round(float64(v)))
	}
	sub.Label = label

	return sub, nil
}

func readVolume(f *hdf5.File, name string) (*volume.Volume, error) {
	ds, err := f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}

	var shape []int
	switch {
	case ds.Rank() == 3:
		for _, d := range ds.Shape() {
			shape = append(shape, int(d))
		}
	case ds.HasAttr(ShapeAttr):
		dims, err := ds.Attr(ShapeAttr).ReadInt64()
		if err != nil {
			return nil, fmt.Errorf("dataset %q shape: %w", name, err)
		}
		for _, d := range dims {
			shape = append(shape, int(d))
		}
	default:
		return nil, fmt.Errorf("dataset %q: %w: rank %d without %q attribute", name, volume.ErrInvalidShape, ds.Rank(), ShapeAttr)
	}

	data, err := ds.ReadFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", name, err)
	}

	return volume.FromData(shape, data)
}
