// Package metrics defines the Prometheus collectors exported by the resource layer and orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every collector. A nil *Collectors is valid and records nothing.
type Collectors struct {
	// BufferReallocations counts destroy-and-recreate growth events by buffer class.
	BufferReallocations *prometheus.CounterVec
	// BufferBytes tracks the allocated capacity of pooled buffers by class.
	BufferBytes *prometheus.GaugeVec
	// PipelineResults counts compute pipeline build outcomes by pass and status.
	PipelineResults *prometheus.CounterVec
	// PresentCacheLookups counts presentation cache lookups by kind and result (hit or miss).
	PresentCacheLookups *prometheus.CounterVec
	// Dispatches counts recorded compute dispatches by pass.
	Dispatches *prometheus.CounterVec
	// StepDuration tracks the CPU time spent recording one simulation step.
	StepDuration prometheus.Histogram
	// AcquireDuration tracks context acquisition time by outcome.
	AcquireDuration *prometheus.HistogramVec
	// Teardowns counts completed teardowns.
	Teardowns prometheus.Counter
	// Frames counts frames submitted by the frame driver, by outcome.
	Frames *prometheus.CounterVec
	// FrameDuration tracks wall time from frame start to present.
	FrameDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
//
// Parameters:
//   - reg: the registerer, typically a dedicated prometheus.NewRegistry()
//
// Returns:
//   - *Collectors: the registered collectors
//   - error: error if registration failed
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		BufferReallocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "particles_buffer_reallocations_total",
				Help: "Pooled buffer reallocations",
			},
			[]string{"class"},
		),
		BufferBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "particles_buffer_bytes",
				Help: "Allocated pooled buffer capacity in bytes",
			},
			[]string{"class"},
		),
		PipelineResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "particles_pipeline_results_total",
				Help: "Compute pipeline build outcomes",
			},
			[]string{"pass", "status"},
		),
		PresentCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "particles_present_cache_lookups_total",
				Help: "Presentation pipeline cache lookups",
			},
			[]string{"kind", "result"},
		),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "particles_dispatches_total",
				Help: "Recorded compute dispatches",
			},
			[]string{"pass"},
		),
		StepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "particles_step_record_seconds",
				Help:    "Time spent recording one simulation step",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
			},
		),
		AcquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "particles_acquire_seconds",
				Help:    "Device context acquisition time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		Teardowns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "particles_teardowns_total",
				Help: "Completed resource teardowns",
			},
		),
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "particles_frames_total",
				Help: "Frames driven, by outcome",
			},
			[]string{"outcome"},
		),
		FrameDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "particles_frame_seconds",
				Help:    "Frame time from recording to present",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
			},
		),
	}

	for _, col := range []prometheus.Collector{
		c.BufferReallocations,
		c.BufferBytes,
		c.PipelineResults,
		c.PresentCacheLookups,
		c.Dispatches,
		c.StepDuration,
		c.AcquireDuration,
		c.Teardowns,
		c.Frames,
		c.FrameDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// BufferGrown records a reallocation of a buffer class to capacity bytes.
func (c *Collectors) BufferGrown(class string, capacity uint64) {
	if c == nil {
		return
	}
	c.BufferReallocations.WithLabelValues(class).Inc()
	c.BufferBytes.WithLabelValues(class).Set(float64(capacity))
}

// PipelineResult records one pass build outcome.
func (c *Collectors) PipelineResult(pass, status string) {
	if c == nil {
		return
	}
	c.PipelineResults.WithLabelValues(pass, status).Inc()
}

// PresentLookup records a presentation cache lookup.
func (c *Collectors) PresentLookup(kind string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.PresentCacheLookups.WithLabelValues(kind, result).Inc()
}

// Dispatch records one compute dispatch.
func (c *Collectors) Dispatch(pass string) {
	if c == nil {
		return
	}
	c.Dispatches.WithLabelValues(pass).Inc()
}

// StepRecorded records the time spent recording a step.
func (c *Collectors) StepRecorded(seconds float64) {
	if c == nil {
		return
	}
	c.StepDuration.Observe(seconds)
}

// Acquired records an acquisition attempt.
func (c *Collectors) Acquired(outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.AcquireDuration.WithLabelValues(outcome).Observe(seconds)
}

// TornDown records a completed teardown and zeroes the buffer gauges.
func (c *Collectors) TornDown() {
	if c == nil {
		return
	}
	c.Teardowns.Inc()
	c.BufferBytes.Reset()
}

// FrameDone records one driven frame.
func (c *Collectors) FrameDone(outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.Frames.WithLabelValues(outcome).Inc()
	c.FrameDuration.Observe(seconds)
}
