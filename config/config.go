// Package config holds the training configuration and the runtime policy
// (logger, compute device, precision) that is built once at startup and
// handed to every pipeline stage.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid value")

// Config is the full set of pipeline settings.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	OutputDir    string `yaml:"output_dir"`
	Prefix       string `yaml:"subject_prefix"`
	ContainerExt string `yaml:"container_ext"`
	ChunkSize    int    `yaml:"chunk_size"`
	MaxSubjects  int    `yaml:"max_subjects"` // 0 = all
	SaveTIFF     bool   `yaml:"save_tiff"`

	PatchSize int     `yaml:"patch_size"`
	Stride    int     `yaml:"stride"`
	Classes   int     `yaml:"classes"`
	Epsilon   float64 `yaml:"epsilon"`

	ValSplit float64 `yaml:"val_split"`
	Seed     int64   `yaml:"seed"`

	Arch      string  `yaml:"arch"`      // "resnet50-unet", "resnet34-unet" or "unet"
	Attention string  `yaml:"attention"` // "" or "scse"
	LR        float64 `yaml:"lr"`
	Epochs    int     `yaml:"epochs"`
	BatchSize int     `yaml:"batch_size"`

	Precision  string `yaml:"precision"` // float32, float64, float16
	RequireGPU bool   `yaml:"require_gpu"`
	LogLevel   string `yaml:"log_level"`

	LogFile       string `yaml:"log_file"`
	ModelFile     string `yaml:"model_file"`
	CurveFile     string `yaml:"curve_file"`
	HistoryFile   string `yaml:"history_file"`
	BalanceFile   string `yaml:"balance_file"`
	PredFile      string `yaml:"pred_file"`
	SynthSubjects int    `yaml:"synth_subjects"`
	SynthSize     int    `yaml:"synth_size"`
}

// Default returns the settings of the reference BraTS2020 run.
func Default() *Config {
	return &Config{
		DataDir:      "./input/BraTS2020_TrainingData",
		OutputDir:    "./output",
		Prefix:       "BraTS20_Training_",
		ContainerExt: ".h5",
		ChunkSize:    20,

		PatchSize: 64,
		Stride:    32,
		Classes:   4,
		Epsilon:   1e-8,

		ValSplit: 0.2,
		Seed:     42,

		Arch:      "resnet50-unet",
		LR:        1e-4,
		Epochs:    30,
		BatchSize: 4,

		Precision:  "float32",
		RequireGPU: true,
		LogLevel:   "info",

		LogFile:       "training.log",
		ModelFile:     "model.gt",
		CurveFile:     "loss_curve.png",
		HistoryFile:   "history.csv",
		BalanceFile:   "class_balance.png",
		PredFile:      "predictions.csv",
		SynthSubjects: 2,
		SynthSize:     128,
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the file
// keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	case c.PatchSize <= 0 || c.Stride <= 0:
		return fmt.Errorf("%w: patch_size %d and stride %d must be positive", ErrInvalidConfig, c.PatchSize, c.Stride)
	case c.Classes < 2:
		return fmt.Errorf("%w: classes must be at least 2, got %d", ErrInvalidConfig, c.Classes)
	case c.Epsilon <= 0:
		return fmt.Errorf("%w: epsilon must be positive", ErrInvalidConfig)
	case c.ValSplit <= 0 || c.ValSplit >= 1:
		return fmt.Errorf("%w: val_split must be in (0,1), got %v", ErrInvalidConfig, c.ValSplit)
	case c.LR <= 0:
		return fmt.Errorf("%w: lr must be positive", ErrInvalidConfig)
	case c.Epochs <= 0 || c.BatchSize <= 0:
		return fmt.Errorf("%w: epochs %d and batch_size %d must be positive", ErrInvalidConfig, c.Epochs, c.BatchSize)
	}

	switch c.Arch {
	case "resnet50-unet", "resnet34-unet", "unet":
	default:
		return fmt.Errorf("%w: unknown arch %q", ErrInvalidConfig, c.Arch)
	}
	switch c.Attention {
	case "", "scse":
	default:
		return fmt.Errorf("%w: unknown attention %q", ErrInvalidConfig, c.Attention)
	}
	if _, err := ParseDType(c.Precision); err != nil {
		return err
	}

	return nil
}
