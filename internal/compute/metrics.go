package compute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCompleted = "completed"
	outcomeDeadline  = "deadline"
	outcomeError     = "error"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_runs_total",
		Help: "Total number of engine runs by outcome (completed, deadline, error)",
	}, []string{"outcome"})

	chunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_chunks_processed_total",
		Help: "Total number of chunks fully computed",
	}, []string{"kernel"})

	chunksPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_chunks_planned_total",
		Help: "Total number of chunks planned",
	}, []string{"kernel"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_run_duration_seconds",
		Help:    "Wall-clock time of engine runs",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kernel"})

	// deadlineOverrun tracks how far past the deadline runs that tripped it
	// actually returned.
	deadlineOverrun = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_deadline_overrun_seconds",
		Help:    "Time between the deadline firing and all workers returning",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_workers_active",
		Help: "Number of worker goroutines currently computing",
	})
)
