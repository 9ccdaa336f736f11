// Package profiler tracks frame rate, step recording time and memory statistics.
package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/logger"
	"go.uber.org/zap"
)

// Sample is what one frame reports to the profiler.
type Sample struct {
	// Step is the time spent recording the simulation step.
	Step time.Duration
	// Frame is the time from frame start to present.
	Frame time.Duration
	// Dispatches is the number of compute dispatches recorded in the frame.
	Dispatches int
	// Path is the simulation path taken, for logging.
	Path string
}

// Summary is the aggregate logged at the end of each interval.
type Summary struct {
	FPS         float64
	Frames      int
	AvgStep     time.Duration
	MaxStep     time.Duration
	AvgFrame    time.Duration
	MaxFrame    time.Duration
	Dispatches  int
	LastPath    string
	HeapMB      float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	SysMB       float64
}

// Profiler aggregates per-frame samples and logs a summary at a configurable interval.
// It is not safe for concurrent use; the frame driver calls it from its own goroutine.
type Profiler struct {
	log            *zap.Logger
	updateInterval time.Duration
	now            func() time.Time

	frameCount int
	lastTime   time.Time
	stepTotal  time.Duration
	stepMax    time.Duration
	frameTotal time.Duration
	frameMax   time.Duration
	dispatches int
	lastPath   string

	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// NewProfiler creates a new Profiler.
// An interval of zero or less defaults to 1 second; a nil logger disables output.
//
// Parameters:
//   - log: the logger summaries are written to
//   - interval: how often a summary is produced
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(log *zap.Logger, interval time.Duration) *Profiler {
	if interval <= 0 {
		interval = time.Second
	}
	p := &Profiler{
		log:            logger.OrNop(log),
		updateInterval: interval,
		now:            time.Now,
	}
	p.lastTime = p.now()
	return p
}

// Tick should be called once per frame with the frame's sample.
// When the update interval has elapsed it logs a summary and starts a new interval.
//
// Parameters:
//   - s: the frame sample
//
// Returns:
//   - *Summary: the interval summary if one was produced this tick, nil otherwise
func (p *Profiler) Tick(s Sample) *Summary {
	p.frameCount++
	p.stepTotal += s.Step
	p.stepMax = max(p.stepMax, s.Step)
	p.frameTotal += s.Frame
	p.frameMax = max(p.frameMax, s.Frame)
	p.dispatches += s.Dispatches
	if s.Path != "" {
		p.lastPath = s.Path
	}

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return nil
	}

	sum := &Summary{
		FPS:        float64(p.frameCount) / elapsed.Seconds(),
		Frames:     p.frameCount,
		AvgStep:    p.stepTotal / time.Duration(p.frameCount),
		MaxStep:    p.stepMax,
		AvgFrame:   p.frameTotal / time.Duration(p.frameCount),
		MaxFrame:   p.frameMax,
		Dispatches: p.dispatches,
		LastPath:   p.lastPath,
	}
	p.readMemory(sum, elapsed)

	p.log.Info("profiler",
		zap.Float64("fps", sum.FPS),
		zap.Duration("step_avg", sum.AvgStep),
		zap.Duration("step_max", sum.MaxStep),
		zap.Duration("frame_avg", sum.AvgFrame),
		zap.Duration("frame_max", sum.MaxFrame),
		zap.Int("dispatches", sum.Dispatches),
		zap.String("path", sum.LastPath),
		zap.Float64("heap_mb", sum.HeapMB),
		zap.Float64("alloc_rate_mb_s", sum.AllocRateMB),
		zap.Uint32("gc", sum.GCCount),
		zap.Uint64("gc_last_pause_us", sum.LastPauseUs),
		zap.Uint64("gc_max_pause_us", sum.MaxPauseUs),
		zap.Float64("sys_mb", sum.SysMB),
	)

	p.frameCount = 0
	p.stepTotal, p.stepMax = 0, 0
	p.frameTotal, p.frameMax = 0, 0
	p.dispatches = 0
	p.lastTime = currentTime
	return sum
}

// readMemory fills the memory fields of sum and advances the GC and allocation baselines.
func (p *Profiler) readMemory(sum *Summary, elapsed time.Duration) {
	runtime.ReadMemStats(&p.memStats)
	// Alloc is live heap, TotalAlloc only grows and tracks churn, Sys is the process footprint
	sum.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	sum.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	sum.AllocRateMB = float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	sum.GCCount = gcCount
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses
		sum.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			sum.MaxPauseUs = max(sum.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
}
