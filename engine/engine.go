// Package engine drives frames: it acquires the GPU context, prepares the simulation program's
// resources, and each frame records a simulation step followed by the present passes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
	"github.com/Carmen-Shannon/oxy-particles/engine/simulation"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned by NewEngine when a required option is missing.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// Display is the window the engine runs its frame loop in.
// window.Window satisfies it.
type Display interface {
	SetUpdateCallback(callback func())
	SetResizeCallback(callback func(width, height int))
	ProcessMessages(stop <-chan struct{})
	Width() int
	Height() int
}

// SimulationParams sizes the simulation buffers and parameterizes each step.
type SimulationParams struct {
	ParticleCount uint32
	// ParticleStride is the size of one particle record in bytes.
	ParticleStride uint64
	// AuxStride is the size of one auxiliary state record in bytes.
	AuxStride           uint64
	GridCellCount       uint32
	WorkgroupSize       uint32
	ConstrainIterations uint32
}

// FrameInfo is passed to the uniforms callback at the start of every frame.
type FrameInfo struct {
	Index      uint64
	Elapsed    time.Duration
	Delta      time.Duration
	Width      uint32
	Height     uint32
	Iterations uint32
	Paused     bool
}

// UniformsFunc returns the uniform fields to write this frame, keyed by module name.
type UniformsFunc func(info FrameInfo) map[string]map[string]float32

// FrameResult describes one driven frame.
type FrameResult struct {
	Index      uint64
	Path       simulation.Path
	Dispatches []simulation.Dispatch
	// Stages is the number of image stages dispatched.
	Stages    int
	Presented bool
	// Scene is the selector current after the end-of-frame swap.
	Scene resource.SceneSelector
}

// Engine drives the particle simulation frame by frame.
type Engine interface {
	// Setup acquires the GPU context and builds the layout, buffers, scene textures and pipelines.
	//
	// Parameters:
	//   - ctx: bounds acquisition
	//
	// Returns:
	//   - error: the acquisition, layout or pipeline error
	Setup(ctx context.Context) error

	// Frame records and submits one frame: uniforms, the simulation step, image stages and the blit.
	// The scene is swapped once the frame is submitted.
	//
	// Parameters:
	//   - ctx: bounds the diagnostics read-back, when one is due
	//
	// Returns:
	//   - *FrameResult: what the frame recorded
	//   - error: resource.ErrNotReady before Setup, or the first recording error
	Frame(ctx context.Context) (*FrameResult, error)

	// Run sets up, drives frames until ctx is done, Quit is called or the display closes, then disposes
	// every GPU resource and waits for the teardown.
	//
	// Parameters:
	//   - ctx: cancelling it stops the loop
	//
	// Returns:
	//   - error: the setup or frame error that stopped the loop; nil on a normal stop
	Run(ctx context.Context) error

	// Resize schedules a surface and scene resize for the next frame. Zero sizes are ignored.
	//
	// Parameters:
	//   - width: new width in pixels
	//   - height: new height in pixels
	Resize(width, height int)

	// SetParticles uploads particle state, growing the particle buffer if needed.
	//
	// Parameters:
	//   - data: packed particle records
	//
	// Returns:
	//   - error: resource.ErrNotReady before Setup, or the upload error
	SetParticles(data []byte) error

	// SetArray uploads a module's combined array storage.
	//
	// Parameters:
	//   - module: the module declaring the arrays
	//   - data: the packed arrays
	//
	// Returns:
	//   - error: resource.ErrNotReady before Setup, or the upload error
	SetArray(module string, data []byte) error

	// SetPaused stops or resumes the simulation step. Present passes keep running while paused.
	SetPaused(paused bool)

	// Paused reports whether the simulation step is paused.
	Paused() bool

	// SetConstrainIterations changes the number of constrain dispatches per step.
	SetConstrainIterations(n uint32)

	// Manager returns the resource manager the engine drives.
	Manager() resource.Manager

	// Quit stops Run. Safe to call multiple times.
	Quit()
}

type engine struct {
	mu *sync.Mutex

	log     *zap.Logger
	metrics *metrics.Collectors

	instance       host.Instance
	surface        host.Surface
	display        Display
	caps           resource.Capabilities
	manager        resource.Manager
	managerOptions []resource.ManagerBuilderOption
	orchestrator   simulation.Orchestrator

	program   *program.Program
	params    SimulationParams
	present   PresentConfig
	uniforms  UniformsFunc
	particles []byte
	arrays    map[string][]byte

	width         uint32
	height        uint32
	pendingResize bool
	paused        bool

	profiler         *profiler.Profiler
	profilingEnabled bool
	profileInterval  time.Duration

	readbackInterval time.Duration
	onReadback       func(data []byte)
	lastReadback     time.Time

	onFrame    func(result *FrameResult)
	frameLimit time.Duration
	maxFrames  uint64

	ready      bool
	frameIndex uint64
	start      time.Time
	lastFrame  time.Time

	quitChannel chan struct{}
	quitOnce    sync.Once
}

var _ Engine = &engine{}

// NewEngine creates a new Engine instance with the provided options.
// WithInstance and WithProgram are required.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: ErrInvalidConfig if a required option is missing
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		mu:          &sync.Mutex{},
		log:         zap.NewNop(),
		arrays:      make(map[string][]byte),
		width:       1280,
		height:      720,
		quitChannel: make(chan struct{}),
		params: SimulationParams{
			ParticleStride:      16,
			WorkgroupSize:       64,
			ConstrainIterations: 1,
		},
	}
	for _, opt := range options {
		opt(e)
	}
	if e.instance == nil {
		return nil, fmt.Errorf("%w: no host instance", ErrInvalidConfig)
	}
	if e.program == nil {
		return nil, fmt.Errorf("%w: no program", ErrInvalidConfig)
	}
	if e.params.WorkgroupSize == 0 {
		return nil, fmt.Errorf("%w: workgroup size must be positive", ErrInvalidConfig)
	}
	if e.present.Blit != nil && e.surface == nil {
		e.log.Info("no surface configured, blit disabled")
	}

	managerOptions := append([]resource.ManagerBuilderOption{
		resource.WithLogger(e.log.Named("resource")),
		resource.WithMetrics(e.metrics),
	}, e.managerOptions...)
	e.manager = resource.NewManager(e.instance, managerOptions...)
	if e.orchestrator == nil {
		e.orchestrator = simulation.NewOrchestrator(
			simulation.WithLogger(e.log.Named("simulation")),
			simulation.WithMetrics(e.metrics),
		)
	}
	if e.profilingEnabled {
		e.profiler = profiler.NewProfiler(e.log.Named("profiler"), e.profileInterval)
	}

	if e.display != nil {
		if w, h := e.display.Width(), e.display.Height(); w > 0 && h > 0 {
			e.width, e.height = uint32(w), uint32(h)
		}
		e.display.SetResizeCallback(e.Resize)
	}
	return e, nil
}

func (e *engine) Manager() resource.Manager {
	return e.manager
}

func (e *engine) Setup(ctx context.Context) error {
	var target *resource.SurfaceTarget
	if e.surface != nil {
		target = &resource.SurfaceTarget{Surface: e.surface, Width: e.width, Height: e.height}
	}
	gpu, err := e.manager.Acquire(ctx, target, e.caps)
	if err != nil {
		return fmt.Errorf("failed to acquire gpu context: %w", err)
	}

	layout, err := e.manager.BuildBindGroupLayout(e.program)
	if err != nil {
		return fmt.Errorf("failed to build layout: %w", err)
	}
	if err := e.ensureBuffers(layout); err != nil {
		return err
	}
	if len(e.particles) > 0 {
		if err := e.SetParticles(e.particles); err != nil {
			return fmt.Errorf("failed to upload particles: %w", err)
		}
	}
	for module, data := range e.arrays {
		if err := e.SetArray(module, data); err != nil {
			return fmt.Errorf("failed to upload %s arrays: %w", module, err)
		}
	}
	if _, err := e.manager.EnsureSceneTextures(e.width, e.height); err != nil {
		return fmt.Errorf("failed to allocate scene textures: %w", err)
	}

	set, err := e.manager.BuildPipelines(e.program.Source)
	if err != nil {
		return fmt.Errorf("failed to build pipelines: %w", err)
	}

	e.ready = true
	e.start = time.Now()
	e.lastFrame = e.start
	e.lastReadback = e.start
	e.log.Info("engine ready",
		zap.Stringer("format", gpu.Format),
		zap.Bool("headless", gpu.Headless()),
		zap.Uint32("width", e.width),
		zap.Uint32("height", e.height),
		zap.Bool("specialized", set.Found(resource.SpecializedPasses...)),
		zap.Bool("fallback", set.Found(resource.PassFallback)),
		zap.Uint32("particles", e.params.ParticleCount),
	)
	return nil
}

// ensureBuffers allocates every buffer the layout binds plus the render modules' uniforms.
func (e *engine) ensureBuffers(layout *resource.Layout) error {
	for _, entry := range layout.Entries {
		if entry.Scene {
			continue
		}
		if _, err := e.manager.EnsureBuffer(entry.Buffer, e.bufferSize(entry.Buffer)); err != nil {
			return fmt.Errorf("failed to allocate %s: %w", entry.Buffer, err)
		}
	}
	for _, m := range e.program.Modules {
		if m.Role.Computes() {
			continue
		}
		if _, err := e.manager.EnsureBuffer(resource.RenderUniformKey(m.Name), m.ByteSize); err != nil {
			return fmt.Errorf("failed to allocate %s uniforms: %w", m.Name, err)
		}
	}
	return nil
}

func (e *engine) bufferSize(key resource.BufferKey) uint64 {
	count := uint64(e.params.ParticleCount)
	switch key.Class {
	case resource.ClassParticles:
		return max(count*e.params.ParticleStride, uint64(len(e.particles)))
	case resource.ClassUniform:
		if m, ok := e.program.Module(key.Module); ok {
			return m.ByteSize
		}
	case resource.ClassArrayStorage:
		return uint64(len(e.arrays[key.Module]))
	case resource.ClassGridCounts:
		return uint64(e.params.GridCellCount) * 4
	case resource.ClassGridIndices:
		return count * 4
	case resource.ClassAuxState:
		return count * e.params.AuxStride
	}
	return 0
}

func (e *engine) SetParticles(data []byte) error {
	h, err := e.manager.EnsureBuffer(resource.ParticlesKey, uint64(len(data)))
	if err != nil {
		return err
	}
	return e.manager.Write(h, 0, data)
}

func (e *engine) SetArray(module string, data []byte) error {
	h, err := e.manager.EnsureBuffer(resource.ArrayStorageKey(module), uint64(len(data)))
	if err != nil {
		return err
	}
	return e.manager.Write(h, 0, data)
}

func (e *engine) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width, e.height = uint32(width), uint32(height)
	e.pendingResize = true
}

func (e *engine) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

func (e *engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *engine) SetConstrainIterations(n uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.ConstrainIterations = max(n, 1)
}

func (e *engine) Frame(ctx context.Context) (*FrameResult, error) {
	if !e.ready {
		return nil, fmt.Errorf("%w: engine not set up", resource.ErrNotReady)
	}
	frameStart := time.Now()

	e.mu.Lock()
	resize, width, height := e.pendingResize, e.width, e.height
	e.pendingResize = false
	paused := e.paused
	params := e.params
	e.mu.Unlock()

	if resize {
		if err := e.applyResize(width, height); err != nil {
			return nil, err
		}
	}

	info := FrameInfo{
		Index:      e.frameIndex,
		Elapsed:    frameStart.Sub(e.start),
		Delta:      frameStart.Sub(e.lastFrame),
		Width:      width,
		Height:     height,
		Iterations: params.ConstrainIterations,
		Paused:     paused,
	}
	e.lastFrame = frameStart
	if err := e.writeUniforms(info); err != nil {
		return nil, err
	}

	gpu, ok := e.manager.Context()
	if !ok {
		return nil, fmt.Errorf("%w: no gpu context", resource.ErrNotReady)
	}
	encoder, err := gpu.Device.CreateCommandEncoder("frame")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame encoder: %w", err)
	}
	defer encoder.Release()

	result := &FrameResult{Index: e.frameIndex}
	var stepTime time.Duration
	if !paused {
		stepStart := time.Now()
		step, err := e.runStep(encoder, params)
		if err != nil {
			return nil, fmt.Errorf("failed to record step: %w", err)
		}
		defer step.Release()
		stepTime = time.Since(stepStart)
		result.Path = step.Path
		result.Dispatches = step.Dispatches
	}

	scene := e.manager.Scene()
	var groups frameGroups
	defer func() { groups.release() }()

	result.Stages, err = e.recordStages(encoder, scene, &groups)
	if err != nil {
		return nil, err
	}
	if e.present.Blit != nil && !gpu.Headless() {
		result.Presented, err = e.recordBlit(encoder, gpu.Surface, scene, &groups)
		if err != nil {
			return nil, err
		}
	}

	commands, err := encoder.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish frame: %w", err)
	}
	gpu.Queue.Submit(commands)
	commands.Release()
	if result.Presented {
		gpu.Surface.Present()
	}
	result.Scene = e.manager.SwapScene().Selector
	e.frameIndex++

	e.readback(ctx, frameStart, params)

	frameTime := time.Since(frameStart)
	e.metrics.FrameDone("ok", frameTime.Seconds())
	if e.profiler != nil {
		e.profiler.Tick(profiler.Sample{
			Step:       stepTime,
			Frame:      frameTime,
			Dispatches: len(result.Dispatches) + result.Stages,
			Path:       result.Path.String(),
		})
	}
	if e.onFrame != nil {
		e.onFrame(result)
	}
	return result, nil
}

// runStep records the simulation step, rebuilding pipelines once if the layout moved under them.
func (e *engine) runStep(encoder host.CommandEncoder, params SimulationParams) (*simulation.StepResult, error) {
	stepParams := simulation.StepParams{
		ParticleCount:       params.ParticleCount,
		GridCellCount:       params.GridCellCount,
		WorkgroupSize:       params.WorkgroupSize,
		ConstrainIterations: simulation.Iterations(params.ConstrainIterations),
	}
	step, err := e.orchestrator.RunStep(encoder, e.manager, stepParams)
	if errors.Is(err, resource.ErrStalePipelines) {
		e.log.Info("rebuilding stale pipelines")
		if _, err := e.manager.BuildPipelines(e.program.Source); err != nil {
			return nil, err
		}
		step, err = e.orchestrator.RunStep(encoder, e.manager, stepParams)
	}
	return step, err
}

func (e *engine) applyResize(width, height uint32) error {
	if err := e.manager.ResizeSurface(width, height); err != nil {
		return fmt.Errorf("failed to resize surface: %w", err)
	}
	if _, err := e.manager.EnsureSceneTextures(width, height); err != nil {
		return fmt.Errorf("failed to resize scene: %w", err)
	}
	e.log.Debug("resized", zap.Uint32("width", width), zap.Uint32("height", height))
	return nil
}

// writeUniforms writes the callback's fields in module name order.
func (e *engine) writeUniforms(info FrameInfo) error {
	if e.uniforms == nil {
		return nil
	}
	values := e.uniforms(info)
	modules := make([]string, 0, len(values))
	for name := range values {
		modules = append(modules, name)
	}
	sort.Strings(modules)
	for _, name := range modules {
		if err := e.manager.WriteUniforms(name, values[name]); err != nil {
			return fmt.Errorf("failed to write %s uniforms: %w", name, err)
		}
	}
	return nil
}

// readback copies particle state back to the CPU when the diagnostics interval has elapsed.
// Failures are logged; they never fail the frame.
func (e *engine) readback(ctx context.Context, now time.Time, params SimulationParams) {
	if e.readbackInterval <= 0 || e.onReadback == nil || now.Sub(e.lastReadback) < e.readbackInterval {
		return
	}
	e.lastReadback = now
	size := uint64(params.ParticleCount) * params.ParticleStride
	if size == 0 {
		return
	}
	data, err := e.manager.ReadBuffer(ctx, resource.ParticlesKey, size)
	if err != nil {
		e.log.Warn("particle read-back failed", zap.Error(err))
		return
	}
	e.onReadback(data)
}

func (e *engine) Run(ctx context.Context) error {
	defer e.dispose()
	if err := e.Setup(ctx); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			e.Quit()
		case <-e.quitChannel:
		}
	}()

	var runErr error
	frame := func() {
		start := time.Now()
		if _, err := e.Frame(ctx); err != nil {
			e.log.Error("frame failed", zap.Uint64("frame", e.frameIndex), zap.Error(err))
			e.metrics.FrameDone("error", time.Since(start).Seconds())
			runErr = err
			e.Quit()
			return
		}
		if e.maxFrames > 0 && e.frameIndex >= e.maxFrames {
			e.Quit()
			return
		}
		if e.frameLimit > 0 {
			if remaining := e.frameLimit - time.Since(start); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}

	if e.display != nil {
		e.display.SetUpdateCallback(frame)
		e.display.ProcessMessages(e.quitChannel)
		e.display.SetUpdateCallback(nil)
	} else {
	loop:
		for {
			select {
			case <-e.quitChannel:
				break loop
			default:
				frame()
			}
		}
	}
	e.Quit()
	return runErr
}

// dispose tears down the GPU resources and waits for the teardown to finish.
func (e *engine) dispose() {
	e.ready = false
	td := e.manager.Dispose()
	if err := td.Wait(context.Background()); err != nil {
		e.log.Warn("teardown wait failed", zap.Error(err))
	}
	if err := td.Suppressed(); err != nil {
		e.log.Debug("teardown suppressed errors", zap.Error(err))
	}
}

// Quit signals the frame loop to stop.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}
