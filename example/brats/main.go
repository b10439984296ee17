package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/sugarme/iseg3d/config"
)

// flag variables
var (
	configPath  string
	task        string
	dataDir     string
	outputDir   string
	arch        string
	attention   string
	epochs      int
	batchSize   int
	lr          float64
	maxSubjects int
	precision   string
	cpu         bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "specify YAML config file. Defaults are used when empty.")
	flag.StringVar(&task, "task", "train", "specify task to run: train, synth, inspect, model or predict")
	flag.StringVar(&dataDir, "data", "", "specify directory holding subject folders")
	flag.StringVar(&outputDir, "output", "", "specify output directory")
	flag.StringVar(&arch, "arch", "", "specify model architecture: resnet50-unet, resnet34-unet or unet")
	flag.StringVar(&attention, "attention", "", "specify decoder attention: scse or none")
	flag.IntVar(&epochs, "epochs", 0, "specify number of epochs")
	flag.IntVar(&batchSize, "batch", 0, "specify batch size")
	flag.Float64Var(&lr, "lr", 0, "specify learning rate")
	flag.IntVar(&maxSubjects, "subjects", 0, "specify max number of subjects to load")
	flag.StringVar(&precision, "precision", "", "specify float32, float64 or float16")
	flag.BoolVar(&cpu, "cpu", false, "allow running without a CUDA device")
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(absPath(configPath))
		if err != nil {
			log.Fatal(err)
		}
	}
	applyFlags(cfg)

	// These tasks never touch the device.
	if task == "synth" || task == "inspect" {
		cfg.RequireGPU = false
	}

	rt, err := config.NewRuntime(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

	switch task {
	case "train":
		err = runTrain(rt)
	case "synth":
		err = runSynth(rt)
	case "inspect":
		err = runInspect(rt)
	case "model":
		err = runCheckModel(rt)
	case "predict":
		err = runPredict(rt)
	default:
		err = fmt.Errorf("unknown task %q. Please specify valid 'task' flag to run", task)
	}
	if err != nil {
		rt.Logger.Error("task failed", "task", task, "err", err)
		rt.Close()
		log.Fatal(err)
	}
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.DataDir = absPath(dataDir)
		case "output":
			cfg.OutputDir = absPath(outputDir)
		case "arch":
			cfg.Arch = arch
		case "attention":
			cfg.Attention = attention
			if attention == "none" {
				cfg.Attention = ""
			}
		case "epochs":
			cfg.Epochs = epochs
		case "batch":
			cfg.BatchSize = batchSize
		case "lr":
			cfg.LR = lr
		case "subjects":
			cfg.MaxSubjects = maxSubjects
		case "precision":
			cfg.Precision = precision
		case "cpu":
			cfg.RequireGPU = !cpu
		}
	})
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		log.Fatal(err)
	}
	return fullpath
}
