package config_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"

	"github.com/sugarme/iseg3d/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.PatchSize)
	assert.Equal(t, 32, cfg.Stride)
	assert.Equal(t, 20, cfg.ChunkSize)
	assert.Equal(t, 30, cfg.Epochs)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 1e-4, cfg.LR)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yml := "data_dir: /data/brats\nepochs: 2\nrequire_gpu: false\narch: unet\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/brats", cfg.DataDir)
	assert.Equal(t, 2, cfg.Epochs)
	assert.False(t, cfg.RequireGPU)
	assert.Equal(t, "unet", cfg.Arch)
	// untouched
	assert.Equal(t, 64, cfg.PatchSize)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"chunk":     func(c *config.Config) { c.ChunkSize = 0 },
		"stride":    func(c *config.Config) { c.Stride = -1 },
		"split":     func(c *config.Config) { c.ValSplit = 1 },
		"arch":      func(c *config.Config) { c.Arch = "vnet" },
		"attention": func(c *config.Config) { c.Attention = "cbam" },
		"precision": func(c *config.Config) { c.Precision = "int8" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, config.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestParseDType(t *testing.T) {
	dt, err := config.ParseDType("float64")
	require.NoError(t, err)
	assert.Equal(t, gotch.Double, dt)

	dt, err = config.ParseDType("")
	require.NoError(t, err)
	assert.Equal(t, gotch.Float, dt)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "subject", "BraTS20_Training_001")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "subject=BraTS20_Training_001")
	assert.Contains(t, out, "time=")
}

func TestNewRuntimeCPU(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.RequireGPU = false

	rt, err := config.NewRuntime(cfg)
	require.NoError(t, err)
	defer rt.Close()

	rt.Logger.Info("hello")
	b, err := os.ReadFile(rt.Path(cfg.LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello")
}

func TestNewRuntimeRequiresGPU(t *testing.T) {
	if gotch.CudaIfAvailable() != gotch.CPU {
		t.Skip("CUDA device present")
	}
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.RequireGPU = true

	rt, err := config.NewRuntime(cfg)
	assert.Nil(t, rt)
	assert.ErrorIs(t, err, config.ErrNoAccelerator)
}
