package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
	"github.com/Carmen-Shannon/oxy-particles/engine/simulation"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithInstance sets the host instance adapters are requested from. Required.
//
// Parameters:
//   - instance: the host instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithInstance(instance host.Instance) EngineBuilderOption {
	return func(e *engine) {
		e.instance = instance
	}
}

// WithSurface sets the presentation surface. Without one the engine runs headless and skips the blit.
//
// Parameters:
//   - surface: the surface, usually created from the window's surface descriptor
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSurface(surface host.Surface) EngineBuilderOption {
	return func(e *engine) {
		e.surface = surface
	}
}

// WithDisplay runs the frame loop inside the display's message loop and follows its resizes.
// The display's framebuffer size replaces the configured size.
//
// Parameters:
//   - d: the display
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDisplay(d Display) EngineBuilderOption {
	return func(e *engine) {
		e.display = d
	}
}

// WithSize sets the initial surface and scene size for engines without a display.
//
// Parameters:
//   - width: width in pixels
//   - height: height in pixels
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSize(width, height uint32) EngineBuilderOption {
	return func(e *engine) {
		if width > 0 && height > 0 {
			e.width, e.height = width, height
		}
	}
}

// WithCapabilities sets the adapter and surface requirements passed to acquisition.
//
// Parameters:
//   - caps: the required capabilities
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCapabilities(caps resource.Capabilities) EngineBuilderOption {
	return func(e *engine) {
		e.caps = caps
	}
}

// WithProgram sets the simulation program. Required.
//
// Parameters:
//   - p: the compiled program
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProgram(p *program.Program) EngineBuilderOption {
	return func(e *engine) {
		e.program = p
	}
}

// WithSimulation sets the buffer sizes and step parameters.
// Zero ParticleStride and WorkgroupSize keep their defaults (16 bytes, 64).
//
// Parameters:
//   - params: the simulation parameters
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSimulation(params SimulationParams) EngineBuilderOption {
	return func(e *engine) {
		if params.ParticleStride == 0 {
			params.ParticleStride = e.params.ParticleStride
		}
		if params.WorkgroupSize == 0 {
			params.WorkgroupSize = e.params.WorkgroupSize
		}
		params.ConstrainIterations = max(params.ConstrainIterations, 1)
		e.params = params
	}
}

// WithPresent sets the image stages and blit run after each step.
//
// Parameters:
//   - cfg: the present passes
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPresent(cfg PresentConfig) EngineBuilderOption {
	return func(e *engine) {
		e.present = cfg
	}
}

// WithUniforms sets the callback that supplies uniform fields at the start of every frame.
//
// Parameters:
//   - fn: the callback
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithUniforms(fn UniformsFunc) EngineBuilderOption {
	return func(e *engine) {
		e.uniforms = fn
	}
}

// WithParticles sets the initial particle state uploaded during Setup.
//
// Parameters:
//   - data: packed particle records
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithParticles(data []byte) EngineBuilderOption {
	return func(e *engine) {
		e.particles = data
	}
}

// WithArray sets a module's initial array storage uploaded during Setup.
//
// Parameters:
//   - module: the module declaring the arrays
//   - data: the packed arrays
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithArray(module string, data []byte) EngineBuilderOption {
	return func(e *engine) {
		e.arrays[module] = data
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
//
// Parameters:
//   - log: the logger
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(log *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics sets the collectors shared by the engine, resource manager and orchestrator.
//
// Parameters:
//   - c: the collectors
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMetrics(c *metrics.Collectors) EngineBuilderOption {
	return func(e *engine) {
		e.metrics = c
	}
}

// WithManagerOptions passes options through to the resource manager.
//
// Parameters:
//   - options: resource manager options
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithManagerOptions(options ...resource.ManagerBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.managerOptions = append(e.managerOptions, options...)
	}
}

// WithOrchestrator replaces the default simulation orchestrator.
//
// Parameters:
//   - o: the orchestrator
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithOrchestrator(o simulation.Orchestrator) EngineBuilderOption {
	return func(e *engine) {
		e.orchestrator = o
	}
}

// WithProfiling enables or disables the frame profiler.
//
// Parameters:
//   - enabled: if true, summaries are logged every interval
//   - interval: summary interval (defaults to 1 second if <= 0)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool, interval time.Duration) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
		e.profileInterval = interval
	}
}

// WithReadback periodically copies particle state back to the CPU after a frame.
//
// Parameters:
//   - interval: minimum time between read-backs (0 disables)
//   - fn: receives the particle bytes
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithReadback(interval time.Duration, fn func(data []byte)) EngineBuilderOption {
	return func(e *engine) {
		e.readbackInterval = interval
		e.onReadback = fn
	}
}

// WithFrameCallback sets a function called after every submitted frame.
//
// Parameters:
//   - fn: receives the frame result
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFrameCallback(fn func(result *FrameResult)) EngineBuilderOption {
	return func(e *engine) {
		e.onFrame = fn
	}
}

// WithFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.frameLimit = 0
			return
		}
		e.frameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithMaxFrames stops Run after n frames. Zero runs until stopped.
//
// Parameters:
//   - n: the frame count
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMaxFrames(n uint64) EngineBuilderOption {
	return func(e *engine) {
		e.maxFrames = n
	}
}
