package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/infra/config"
	"github.com/rhsieh91/sife-net/internal/usecase"
)

// errUsage means too few arguments were given; the caller prints usage and exits 1.
var errUsage = errors.New("usage")

type options struct {
	params   entity.Hyperparams
	data     usecase.DataConfig
	saveDir  string
	resume   string
	logLevel string
	// metricsPort 0 disables the /metrics server.
	metricsPort int
	tracing     bool
	plots       bool
	enqueue     bool
	email       string
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s --lr <learning rate> --bs <batch size> --epochs <epochs> [options]\n", fs.Name())
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// parseFlags reads the command line on top of env defaults. args excludes the program name.
func parseFlags(name string, args []string, cfg *config.Config, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	o := &options{data: usecase.DataConfig{
		TrainCSV:    cfg.TrainCSV,
		ValCSV:      cfg.ValCSV,
		ActionsCSV:  cfg.ActionsCSV,
		ScenesCSV:   cfg.ScenesCSV,
		Root:        cfg.DataRoot,
		ClipSize:    cfg.ClipSize,
		NClips:      cfg.NClips,
		StepSize:    cfg.StepSize,
		FrameSize:   cfg.FrameSize,
		LoadWorkers: cfg.LoadWorkers,
		NumActions:  cfg.NumActions,
		NumScenes:   cfg.NumScenes,
		Optimizer:   cfg.Optimizer,
	}}
	var delimiter string

	fs.Float64Var(&o.params.LearningRate, "lr", 0, "learning rate")
	fs.IntVar(&o.params.BatchSize, "bs", 0, "batch size")
	fs.IntVar(&o.params.Epochs, "epochs", 0, "number of epochs")

	fs.StringVar(&o.data.TrainCSV, "train-csv", o.data.TrainCSV, "training split CSV (id,action,scene)")
	fs.StringVar(&o.data.ValCSV, "val-csv", o.data.ValCSV, "validation split CSV")
	fs.StringVar(&o.data.ActionsCSV, "actions-csv", o.data.ActionsCSV, "action label CSV")
	fs.StringVar(&o.data.ScenesCSV, "scenes-csv", o.data.ScenesCSV, "scene label CSV, empty for datasets without scenes")
	fs.StringVar(&o.data.Root, "root", o.data.Root, "directory holding one frame folder per video")
	fs.StringVar(&delimiter, "delimiter", ",", "annotation CSV delimiter (Jester uses ';')")
	fs.IntVar(&o.data.ClipSize, "clip-size", o.data.ClipSize, "frames per clip")
	fs.IntVar(&o.data.NClips, "nclips", o.data.NClips, "clips per video, -1 for every frame")
	fs.IntVar(&o.data.StepSize, "step", o.data.StepSize, "temporal stride between sampled frames")
	fs.IntVar(&o.data.FrameSize, "size", o.data.FrameSize, "frames are resized to size x size")
	fs.IntVar(&o.data.Crop, "crop", 0, "center crop after resizing, 0 to disable")
	fs.IntVar(&o.data.LoadWorkers, "workers", o.data.LoadWorkers, "data loading goroutines")
	fs.IntVar(&o.data.NumActions, "num-actions", o.data.NumActions, "action classes")
	fs.IntVar(&o.data.NumScenes, "num-scenes", o.data.NumScenes, "scene classes")
	fs.StringVar(&o.data.Optimizer, "optimizer", o.data.Optimizer, "adam or sgd")
	fs.Int64Var(&o.data.Seed, "seed", 0, "random seed, 0 for a time based one")

	fs.StringVar(&o.saveDir, "save-dir", "", "checkpoint directory (default checkpoints_lr<lr>_bs<bs>/)")
	fs.StringVar(&o.resume, "resume", "", "checkpoint to resume from")
	fs.StringVar(&o.logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.IntVar(&o.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port")
	fs.BoolVar(&o.tracing, "tracing", false, "export spans to JAEGER_ENDPOINT")
	fs.BoolVar(&o.plots, "plots", true, "render loss and accuracy curves into the save dir")
	fs.BoolVar(&o.enqueue, "enqueue", false, "publish the run to the training queue instead of training here")
	fs.StringVar(&o.email, "email", "", "notify this address if an enqueued run fails")

	if len(args) < 3 {
		usage(stderr, fs)
		return nil, errUsage
	}
	if err := fs.Parse(args); err != nil {
		usage(stderr, fs)
		return nil, err
	}
	if err := o.params.Validate(); err != nil {
		return nil, err
	}

	switch len([]rune(delimiter)) {
	case 1:
		o.data.Delimiter = []rune(delimiter)[0]
	default:
		return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
	}

	if o.enqueue && (o.saveDir != "" || o.resume != "") {
		// checkpoint paths are chosen by the worker
		return nil, errors.New("--save-dir and --resume cannot be combined with --enqueue")
	}

	if o.saveDir == "" {
		o.saveDir = usecase.SaveDirName(o.params.LearningRate, o.params.BatchSize)
	}
	return o, nil
}
