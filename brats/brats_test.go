package brats_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/tiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/iseg3d/brats"
)

const prefix = "BraTS20_Training_"

func TestWriteReadSubject(t *testing.T) {
	root := t.TempDir()
	sub := brats.Synthesize(prefix+"001", 16, 1, true)

	path, err := brats.WriteSubject(root, ".h5", sub)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, prefix+"001", prefix+"001.h5"), path)

	got, err := brats.ReadSubject(path, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	for i := range sub.Modalities {
		assert.Equal(t, []int{16, 16, 16}, got.Modalities[i].Shape)
		assert.Equal(t, sub.Modalities[i].Data, got.Modalities[i].Data)
	}
	assert.Equal(t, sub.Label.Data, got.Label.Data)

	classes := map[float32]bool{}
	for _, v := range got.Label.Data {
		classes[v] = true
	}
	assert.True(t, classes[0])
	assert.True(t, classes[2], "edema shell expected")
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{prefix + "003", prefix + "001", "name_mapping", prefix + "002"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, prefix+"004"), nil, 0o644))

	ids, err := brats.Discover(root, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "001", prefix + "002", prefix + "003"}, ids)
}

func TestLoaderChunksAndSkip(t *testing.T) {
	root := t.TempDir()
	_, err := brats.SynthesizeDataset(root, prefix, ".h5", 5, 8, 7, false)
	require.NoError(t, err)
	// subject directory without container
	require.NoError(t, os.MkdirAll(filepath.Join(root, prefix+"006"), 0o755))

	l := &brats.Loader{Root: root, Prefix: prefix, ChunkSize: 2}
	chunks, err := l.Chunks()
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{prefix + "005", prefix + "006"}, chunks[2])

	subs, err := l.LoadChunk(chunks[2])
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "005"}, subs.Keys())
}

func TestLoaderMaxSubjects(t *testing.T) {
	root := t.TempDir()
	_, err := brats.SynthesizeDataset(root, prefix, ".h5", 3, 8, 7, false)
	require.NoError(t, err)

	l := &brats.Loader{Root: root, Prefix: prefix, ChunkSize: 20, MaxSubjects: 2}
	chunks, err := l.Chunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 2)
}

func TestLoaderVisualizesFirstSubject(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()
	_, err := brats.SynthesizeDataset(root, prefix, ".h5", 2, 16, 3, true)
	require.NoError(t, err)

	l := &brats.Loader{Root: root, Prefix: prefix, ChunkSize: 1, VisualizeDir: out, SaveTIFF: true}
	chunks, err := l.Chunks()
	require.NoError(t, err)
	for _, c := range chunks {
		_, err := l.LoadChunk(c)
		require.NoError(t, err)
	}

	pngs, err := filepath.Glob(filepath.Join(out, "slice_*.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, "slice_8.png")}, pngs)

	tiffs, err := filepath.Glob(filepath.Join(out, "slice_8_*.tiff"))
	require.NoError(t, err)
	assert.Len(t, tiffs, 4)

	for _, name := range tiffs {
		f, err := os.Open(name)
		require.NoError(t, err)
		img, err := tiff.Decode(f)
		f.Close()
		require.NoError(t, err, name)
		assert.Equal(t, 16, img.Bounds().Dx())
		assert.Equal(t, 16, img.Bounds().Dy())
	}
}

func TestSubjectsOrder(t *testing.T) {
	s := brats.NewSubjects()
	s.Put(&brats.Subject{ID: "b"})
	s.Put(&brats.Subject{ID: "a"})
	s.Put(&brats.Subject{ID: "b"})

	assert.Equal(t, []string{"b", "a"}, s.Keys())
	assert.Equal(t, "b", s.First().ID)
	_, ok := s.Get("a")
	assert.True(t, ok)
}

func TestSubjectStacked(t *testing.T) {
	sub := brats.Synthesize("x", 8, 1, false)
	st, err := sub.Stacked()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8, 8, 4}, st.Shape)
}
