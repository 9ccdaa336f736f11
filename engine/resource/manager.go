// Package resource owns every GPU object the particle simulation uses: the device context,
// pooled buffers, the compute bind group layout, pipeline caches and the scene texture pair.
package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/uniform"
	"go.uber.org/zap"
)

const (
	defaultAcquireTimeout = 5 * time.Second
	defaultTeardownWait   = 150 * time.Millisecond
)

// Manager is the single owner of GPU resources for one simulation.
// All methods are safe for concurrent use; steps are expected to be driven from one goroutine.
type Manager interface {
	// Acquire obtains an adapter and device and configures the surface.
	// If a teardown is in flight it waits for it first; if a context is already live it is returned unchanged.
	//
	// Parameters:
	//   - ctx: bounds the wait for an in-flight teardown and the acquisition races
	//   - target: the surface to present to, or nil for a headless context
	//   - caps: required capabilities
	//
	// Returns:
	//   - *Context: the live context
	//   - error: ErrAdapterUnavailable, ErrDeviceTimeout or ErrContextUnavailable
	Acquire(ctx context.Context, target *SurfaceTarget, caps Capabilities) (*Context, error)

	// Context returns the live context.
	//
	// Returns:
	//   - *Context: the live context
	//   - bool: false if no context is live
	Context() (*Context, bool)

	// ResizeSurface reconfigures the surface for a new size. It is a no-op for headless contexts.
	//
	// Parameters:
	//   - width: new width in pixels
	//   - height: new height in pixels
	//
	// Returns:
	//   - error: ErrNotReady without a live context, or the configuration error
	ResizeSurface(width, height uint32) error

	// EnsureBuffer returns a buffer for key with at least requiredBytes of capacity.
	// Growing replaces the buffer with one of max(requiredBytes, 2x previous) bytes; contents are not preserved.
	//
	// Parameters:
	//   - key: the buffer identity
	//   - requiredBytes: the minimum capacity
	//
	// Returns:
	//   - BufferHandle: the current handle for key
	//   - error: ErrNotReady without a live context, or the allocation error
	EnsureBuffer(key BufferKey, requiredBytes uint64) (BufferHandle, error)

	// Buffer returns the current handle for key without allocating.
	//
	// Parameters:
	//   - key: the buffer identity
	//
	// Returns:
	//   - BufferHandle: the current handle
	//   - bool: false if no buffer is allocated for key
	Buffer(key BufferKey) (BufferHandle, bool)

	// Write queues a CPU to GPU copy into the handle's buffer. It never grows the buffer.
	//
	// Parameters:
	//   - handle: a handle returned by EnsureBuffer
	//   - offset: byte offset into the buffer
	//   - data: bytes to copy
	//
	// Returns:
	//   - error: ErrStaleHandle if the handle was replaced, ErrOutOfRange past capacity
	Write(handle BufferHandle, offset uint64, data []byte) error

	// WriteUniforms merges fields into the module's uniform array and uploads the full array.
	//
	// Parameters:
	//   - module: the module name
	//   - fields: field values to overwrite
	//
	// Returns:
	//   - error: ErrNotReady before a layout is built, or an unknown module or field
	WriteUniforms(module string, fields map[string]float32) error

	// BuildBindGroupLayout builds the compute bind group layout of a program.
	// An identical layout key returns the cached layout.
	//
	// Parameters:
	//   - p: the compiled program
	//
	// Returns:
	//   - *Layout: the layout
	//   - error: program.ErrInvalidProgram for inconsistent bindings, ErrNotReady without a live context
	BuildBindGroupLayout(p *program.Program) (*Layout, error)

	// Layout returns the current layout.
	//
	// Returns:
	//   - *Layout: the layout
	//   - bool: false if no layout was built
	Layout() (*Layout, bool)

	// BuildPipelines compiles the combined source and attempts a pipeline for every simulation pass.
	// Each pass is attempted independently; identical source against the same layout returns the cached set.
	//
	// Parameters:
	//   - source: combined WGSL source
	//
	// Returns:
	//   - *PipelineSet: per-pass results
	//   - error: ErrNotReady without a layout, a shader module error, or ErrPipelineCompile in strict mode
	BuildPipelines(source string) (*PipelineSet, error)

	// Pipelines returns the pipeline set matching the current layout.
	//
	// Returns:
	//   - *PipelineSet: the set
	//   - error: ErrNotReady if none was built, ErrStalePipelines if the layout changed since
	Pipelines() (*PipelineSet, error)

	// CopyToSurfacePipeline returns the cached copy-to-surface render pipeline for spec, compiling it on a miss.
	//
	// Parameters:
	//   - spec: shader source, entry points and binding shape
	//
	// Returns:
	//   - host.RenderPipeline: the pipeline
	//   - error: ErrNotReady without a live context, or the compile error
	CopyToSurfacePipeline(spec RenderPassSpec) (host.RenderPipeline, error)

	// FullscreenPipeline returns the cached fullscreen render pipeline for spec, compiling it on a miss.
	//
	// Parameters:
	//   - spec: shader source, entry points and binding shape
	//
	// Returns:
	//   - host.RenderPipeline: the pipeline
	//   - error: ErrNotReady without a live context, or the compile error
	FullscreenPipeline(spec RenderPassSpec) (host.RenderPipeline, error)

	// ImageComputePipeline returns the cached image compute pipeline for spec, compiling it on a miss.
	//
	// Parameters:
	//   - spec: shader source, entry point and binding shape
	//
	// Returns:
	//   - host.ComputePipeline: the pipeline
	//   - error: ErrNotReady without a live context, or the compile error
	ImageComputePipeline(spec ImageComputeSpec) (host.ComputePipeline, error)

	// EnsureSceneTextures allocates the scene texture pair at the given size.
	// The pair is recreated when the size changes and the current selector resets to A.
	//
	// Parameters:
	//   - width: texture width in pixels
	//   - height: texture height in pixels
	//
	// Returns:
	//   - SceneView: the current view
	//   - error: ErrNotReady without a live context, or the allocation error
	EnsureSceneTextures(width, height uint32) (SceneView, error)

	// SwapScene flips which scene texture is current.
	//
	// Returns:
	//   - SceneView: the view after the swap, zero if no pair exists
	SwapScene() SceneView

	// Scene returns the current scene view, zero if no pair exists.
	Scene() SceneView

	// StepBindings builds a fresh bind group from the current layout and buffers.
	//
	// Returns:
	//   - *BindGroup: the bind group and the generations it captured
	//   - error: ErrNotReady naming the first missing prerequisite
	StepBindings() (*BindGroup, error)

	// IsStale reports whether any buffer bound in bg was replaced or the layout changed since it was built.
	//
	// Parameters:
	//   - bg: a bind group from StepBindings
	//
	// Returns:
	//   - bool: true if bg no longer matches the current resources
	IsStale(bg *BindGroup) bool

	// StageUniformSeries stages count copies of the module's uniform array with field set to 0..count-1.
	// The caller records one copy per iteration so each dispatch observes its own value.
	//
	// Parameters:
	//   - module: the module owning the field
	//   - field: the field to vary
	//   - count: number of iterations
	//
	// Returns:
	//   - *UniformSeries: the staging and target buffers and the copy stride
	//   - error: uniform.ErrUnknownModule or uniform.ErrUnknownField if not declared, ErrNotReady otherwise
	StageUniformSeries(module, field string, count int) (*UniformSeries, error)

	// CreateBindGroup creates a bind group for a present pass.
	//
	// Parameters:
	//   - label: debug label
	//   - layout: the layout, usually from a pipeline's auto layout
	//   - entries: the bindings
	//
	// Returns:
	//   - host.BindGroup: the bind group, owned by the caller
	//   - error: ErrNotReady without a live context, or the creation error
	CreateBindGroup(label string, layout host.BindGroupLayout, entries []host.BindGroupEntry) (host.BindGroup, error)

	// Sampler returns the shared linear sampler.
	//
	// Returns:
	//   - host.Sampler: the sampler
	//   - error: ErrNotReady without a live context, or the creation error
	Sampler() (host.Sampler, error)

	// ReadBuffer copies the first size bytes of key's buffer back to the CPU.
	//
	// Parameters:
	//   - ctx: bounds the wait for the mapping
	//   - key: the buffer to read
	//   - size: bytes to read
	//
	// Returns:
	//   - []byte: the contents
	//   - error: ErrNotReady if the buffer does not exist, ErrOutOfRange past capacity
	ReadBuffer(ctx context.Context, key BufferKey, size uint64) ([]byte, error)

	// Dispose releases every resource and destroys the device in the background.
	// Concurrent calls while a teardown is in flight share the same Teardown.
	//
	// Returns:
	//   - *Teardown: the in-flight teardown
	Dispose() *Teardown
}

type manager struct {
	mu        *sync.Mutex
	acquireMu *sync.Mutex

	instance host.Instance
	log      *zap.Logger
	metrics  *metrics.Collectors

	acquireTimeout time.Duration
	teardownWait   time.Duration
	strict         bool
	sceneFormat    host.TextureFormat

	gpu      *Context
	teardown *Teardown
	epoch    uint64

	generation uint64
	buffers    map[BufferKey]BufferHandle

	program   *program.Program
	layout    *Layout
	shader    host.ShaderModule
	pipelines *PipelineSet

	present        map[PresentKey]presentEntry
	presentModules map[uint64]host.ShaderModule
	sampler        host.Sampler
	scene          *scenePair

	packer uniform.Packer
}

var _ Manager = &manager{}

// NewManager creates a Manager over a host instance.
//
// Parameters:
//   - instance: the host API entry point
//   - options: functional options
//
// Returns:
//   - Manager: the manager, holding no GPU resources until Acquire
func NewManager(instance host.Instance, options ...ManagerBuilderOption) Manager {
	m := &manager{
		mu:             &sync.Mutex{},
		acquireMu:      &sync.Mutex{},
		instance:       instance,
		log:            zap.NewNop(),
		acquireTimeout: defaultAcquireTimeout,
		teardownWait:   defaultTeardownWait,
		sceneFormat:    host.TextureFormatRGBA16Float,
		buffers:        map[BufferKey]BufferHandle{},
		present:        map[PresentKey]presentEntry{},
		presentModules: map[uint64]host.ShaderModule{},
		packer:         uniform.NewPacker(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *manager) Context() (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gpu == nil || m.teardown != nil {
		return nil, false
	}
	return m.gpu, true
}

// liveLocked returns the live context. m.mu must be held.
func (m *manager) liveLocked() (*Context, error) {
	if m.teardown != nil {
		return nil, fmt.Errorf("%w: teardown in progress", ErrNotReady)
	}
	if m.gpu == nil {
		return nil, fmt.Errorf("%w: no gpu context", ErrNotReady)
	}
	return m.gpu, nil
}

func (m *manager) Layout() (*Layout, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layout, m.layout != nil
}

func (m *manager) Pipelines() (*PipelineSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelinesLocked()
}

func (m *manager) pipelinesLocked() (*PipelineSet, error) {
	if m.layout == nil {
		return nil, fmt.Errorf("%w: no bind group layout", ErrNotReady)
	}
	if m.pipelines == nil {
		return nil, fmt.Errorf("%w: no pipelines", ErrNotReady)
	}
	if m.pipelines.LayoutKey != m.layout.Key {
		return nil, ErrStalePipelines
	}
	return m.pipelines, nil
}

func (m *manager) CreateBindGroup(label string, layout host.BindGroupLayout, entries []host.BindGroupEntry) (host.BindGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}
	bg, err := gpu.Device.CreateBindGroup(host.BindGroupDescriptor{Label: label, Layout: layout, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group %q: %w", label, err)
	}
	return bg, nil
}

func (m *manager) Sampler() (host.Sampler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}
	if m.sampler != nil {
		return m.sampler, nil
	}
	s, err := gpu.Device.CreateSampler(host.SamplerDescriptor{Label: "scene sampler", Linear: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}
	m.sampler = s
	return s, nil
}
