package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sife_training_runs_total",
		Help: "Total number of training runs finished, by status",
	}, []string{"status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sife_run_stage_duration_seconds",
		Help:    "Duration of training run stages",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
	}, []string{"stage"})

	TrainIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sife_train_iterations_total",
		Help: "Total number of optimizer steps taken",
	})

	// Scalar mirrors the last value recorded under each summary tag (Loss/train_total, Accuracy/val_action, ...).
	Scalar = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sife_scalar",
		Help: "Last value recorded for a training scalar tag",
	}, []string{"tag"})

	SamplesLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sife_samples_loaded_total",
		Help: "Total number of clips decoded by the data loader",
	}, []string{"loader"})

	BatchLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sife_batch_load_duration_seconds",
		Help:    "Time spent decoding and stacking one batch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"loader"})

	CheckpointsSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sife_checkpoints_saved_total",
		Help: "Total number of checkpoints written, by trigger",
	}, []string{"trigger"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sife_frames_extracted_total",
		Help: "Total number of frames extracted from source videos",
	})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sife_active_runs",
		Help: "Number of training runs currently executing",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sife_retry_total",
		Help: "Total number of training run retries",
	}, []string{"attempt"})
)
