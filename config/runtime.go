package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sugarme/gotch"
)

var ErrNoAccelerator = errors.New("config: no CUDA device available")

// Runtime is the process-wide policy shared by the pipeline stages. It is
// constructed once by the program and passed down explicitly.
type Runtime struct {
	*Config
	Logger *slog.Logger
	Device gotch.Device
	DType  gotch.DType

	logFile io.Closer
}

// NewRuntime creates the output directory, opens the log file and resolves
// the compute device. A missing accelerator is an error unless the config
// allows CPU runs.
func NewRuntime(cfg *Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	f, err := os.Create(filepath.Join(cfg.OutputDir, cfg.LogFile))
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	logger := NewLogger(io.MultiWriter(os.Stdout, f), cfg.LogLevel)

	dtype, err := ParseDType(cfg.Precision)
	if err != nil {
		f.Close()
		return nil, err
	}

	device := gotch.CudaIfAvailable()
	if device == gotch.CPU {
		if cfg.RequireGPU {
			f.Close()
			return nil, ErrNoAccelerator
		}
		if dtype == gotch.Half {
			f.Close()
			return nil, fmt.Errorf("%w: float16 precision needs a CUDA device", ErrInvalidConfig)
		}
		logger.Warn("no CUDA device found, running on CPU")
	}
	logger.Info("runtime ready", "device", device.Name, "precision", cfg.Precision, "output", cfg.OutputDir)

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Device:  device,
		DType:   dtype,
		logFile: f,
	}, nil
}

// Path joins name onto the output directory.
func (r *Runtime) Path(name string) string {
	return filepath.Join(r.OutputDir, name)
}

// Close flushes and closes the log file.
func (r *Runtime) Close() error {
	if r.logFile == nil {
		return nil
	}
	return r.logFile.Close()
}

// NewLogger returns a leveled, timestamped text logger writing to w.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseDType maps a precision name to a tensor dtype.
func ParseDType(precision string) (gotch.DType, error) {
	switch precision {
	case "float32", "":
		return gotch.Float, nil
	case "float64":
		return gotch.Double, nil
	case "float16":
		return gotch.Half, nil
	default:
		return gotch.Float, fmt.Errorf("%w: unknown precision %q", ErrInvalidConfig, precision)
	}
}
