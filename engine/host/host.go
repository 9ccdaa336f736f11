// Package host defines the graphics/compute API surface the resource layer is written against.
// A WebGPU implementation lives in host/wgpu_host and an in-memory recording fake in host/hosttest.
package host

import "context"

// Instance is the entry point of a host graphics API.
type Instance interface {
	// RequestAdapter selects a hardware adapter. The call may block.
	//
	// Parameters:
	//   - options: adapter selection hints
	//
	// Returns:
	//   - Adapter: the selected adapter
	//   - error: error if no suitable adapter exists
	RequestAdapter(options AdapterOptions) (Adapter, error)

	// Release frees the instance.
	Release()
}

// Adapter represents a physical GPU.
type Adapter interface {
	// Limits returns the maximum limits the adapter supports.
	//
	// Returns:
	//   - Limits: the supported limits
	Limits() Limits

	// RequestDevice opens a logical device on the adapter. The call may block.
	//
	// Parameters:
	//   - descriptor: label and required limits of the device
	//
	// Returns:
	//   - Device: the opened device
	//   - error: error if the device could not be created
	RequestDevice(descriptor DeviceDescriptor) (Device, error)

	// Release frees the adapter handle.
	Release()
}

// Device creates GPU objects and owns the submission queue.
type Device interface {
	// Queue returns the device's submission queue.
	//
	// Returns:
	//   - Queue: the queue
	Queue() Queue

	// CreateBuffer allocates a buffer.
	//
	// Parameters:
	//   - descriptor: size, usage and label of the buffer
	//
	// Returns:
	//   - Buffer: the allocated buffer
	//   - error: error if allocation failed
	CreateBuffer(descriptor BufferDescriptor) (Buffer, error)

	// CreateTexture allocates a 2D texture.
	//
	// Parameters:
	//   - descriptor: dimensions, format and usage of the texture
	//
	// Returns:
	//   - Texture: the allocated texture
	//   - error: error if allocation failed
	CreateTexture(descriptor TextureDescriptor) (Texture, error)

	// CreateSampler creates a sampler.
	//
	// Parameters:
	//   - descriptor: sampler filtering and label
	//
	// Returns:
	//   - Sampler: the sampler
	//   - error: error if creation failed
	CreateSampler(descriptor SamplerDescriptor) (Sampler, error)

	// CreateShaderModule compiles WGSL source into a shader module.
	//
	// Parameters:
	//   - label: debug label
	//   - code: WGSL source
	//
	// Returns:
	//   - ShaderModule: the compiled module
	//   - error: error if the source failed to compile
	CreateShaderModule(label, code string) (ShaderModule, error)

	// CreateBindGroupLayout creates a bind group layout.
	//
	// Parameters:
	//   - descriptor: the layout entries
	//
	// Returns:
	//   - BindGroupLayout: the layout
	//   - error: error if creation failed
	CreateBindGroupLayout(descriptor BindGroupLayoutDescriptor) (BindGroupLayout, error)

	// CreateBindGroup creates a bind group against a layout.
	//
	// Parameters:
	//   - descriptor: layout and entries
	//
	// Returns:
	//   - BindGroup: the bind group
	//   - error: error if creation failed
	CreateBindGroup(descriptor BindGroupDescriptor) (BindGroup, error)

	// CreateComputePipeline creates a compute pipeline for one entry point.
	//
	// Parameters:
	//   - descriptor: module, entry point and layout
	//
	// Returns:
	//   - ComputePipeline: the pipeline
	//   - error: error if the entry point failed to compile or link
	CreateComputePipeline(descriptor ComputePipelineDescriptor) (ComputePipeline, error)

	// CreateRenderPipeline creates a render pipeline.
	//
	// Parameters:
	//   - descriptor: module, entry points, layout and target format
	//
	// Returns:
	//   - RenderPipeline: the pipeline
	//   - error: error if creation failed
	CreateRenderPipeline(descriptor RenderPipelineDescriptor) (RenderPipeline, error)

	// CreateCommandEncoder creates an encoder for recording GPU commands.
	//
	// Parameters:
	//   - label: debug label
	//
	// Returns:
	//   - CommandEncoder: the encoder
	//   - error: error if creation failed
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Destroy destroys the device. Every object created from it becomes invalid.
	Destroy()
}

// Queue accepts writes and command buffers in program order.
type Queue interface {
	// WriteBuffer schedules a CPU to GPU copy into buffer at offset.
	//
	// Parameters:
	//   - buffer: destination buffer
	//   - offset: byte offset into the buffer
	//   - data: bytes to copy
	//
	// Returns:
	//   - error: error if the write was rejected
	WriteBuffer(buffer Buffer, offset uint64, data []byte) error

	// Submit submits command buffers for execution.
	//
	// Parameters:
	//   - commands: command buffers in submission order
	Submit(commands ...CommandBuffer)

	// WaitIdle blocks until all previously submitted work has completed or ctx is done.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: ctx.Err() on expiry, or a host error
	WaitIdle(ctx context.Context) error
}

// Surface is a presentation target.
type Surface interface {
	// Capabilities reports the formats and alpha modes the surface supports on an adapter.
	//
	// Parameters:
	//   - adapter: the adapter the surface would be used with
	//
	// Returns:
	//   - SurfaceCapabilities: supported formats and alpha modes
	Capabilities(adapter Adapter) SurfaceCapabilities

	// Configure (re)configures the surface for a device.
	//
	// Parameters:
	//   - adapter: the adapter owning the device
	//   - device: the device that renders to the surface
	//   - config: format, size and compositing mode
	//
	// Returns:
	//   - error: error if configuration failed
	Configure(adapter Adapter, device Device, config SurfaceConfiguration) error

	// Unconfigure detaches the surface from its device.
	//
	// Returns:
	//   - error: error if the surface could not be unconfigured
	Unconfigure() error

	// CurrentTexture acquires the next frame's texture view.
	//
	// Returns:
	//   - TextureView: view of the acquired frame
	//   - error: error if no frame could be acquired
	CurrentTexture() (TextureView, error)

	// Present displays the acquired frame and releases it.
	Present()
}

// Buffer is a GPU buffer.
type Buffer interface {
	// Size returns the buffer size in bytes.
	Size() uint64

	// Usage returns the buffer usage flags.
	Usage() BufferUsage

	// MapRead maps a range of a BufferUsageMapRead buffer, copies it out and unmaps.
	//
	// Parameters:
	//   - ctx: bounds the wait for the mapping
	//   - offset: byte offset of the range
	//   - size: byte length of the range
	//
	// Returns:
	//   - []byte: a copy of the range
	//   - error: error if mapping failed or ctx expired
	MapRead(ctx context.Context, offset, size uint64) ([]byte, error)

	// Release frees the buffer.
	Release()
}

// Texture is a 2D GPU texture.
type Texture interface {
	Width() uint32
	Height() uint32
	Format() TextureFormat

	// CreateView creates a default view of the texture.
	//
	// Returns:
	//   - TextureView: the view
	//   - error: error if creation failed
	CreateView() (TextureView, error)

	// Release frees the texture.
	Release()
}

// TextureView is a view of a texture usable in bind groups and render passes.
type TextureView interface {
	Release()
}

// Sampler is a texture sampler.
type Sampler interface {
	Release()
}

// ShaderModule is a compiled shader module.
type ShaderModule interface {
	Release()
}

// BindGroupLayout is a bind group layout.
type BindGroupLayout interface {
	Release()
}

// BindGroup is a concrete set of resource bindings.
type BindGroup interface {
	Release()
}

// ComputePipeline is a compiled compute pipeline.
type ComputePipeline interface {
	// BindGroupLayout returns the layout of a bind group index of the pipeline.
	//
	// Parameters:
	//   - index: bind group index
	//
	// Returns:
	//   - BindGroupLayout: the layout
	//   - error: error if the index is out of range
	BindGroupLayout(index uint32) (BindGroupLayout, error)

	Release()
}

// RenderPipeline is a compiled render pipeline.
type RenderPipeline interface {
	// BindGroupLayout returns the layout of a bind group index of the pipeline.
	//
	// Parameters:
	//   - index: bind group index
	//
	// Returns:
	//   - BindGroupLayout: the layout
	//   - error: error if the index is out of range
	BindGroupLayout(index uint32) (BindGroupLayout, error)

	Release()
}

// CommandEncoder records GPU commands in order.
type CommandEncoder interface {
	// BeginComputePass starts a compute pass. End must be called before recording anything else.
	//
	// Parameters:
	//   - label: debug label
	//
	// Returns:
	//   - ComputePass: the pass
	BeginComputePass(label string) ComputePass

	// BeginRenderPass starts a render pass. End must be called before recording anything else.
	//
	// Parameters:
	//   - descriptor: target and load behavior
	//
	// Returns:
	//   - RenderPass: the pass
	BeginRenderPass(descriptor RenderPassDescriptor) RenderPass

	// CopyBufferToBuffer records a GPU-side copy, ordered with the surrounding passes.
	//
	// Parameters:
	//   - source: source buffer
	//   - sourceOffset: byte offset into source
	//   - destination: destination buffer
	//   - destinationOffset: byte offset into destination
	//   - size: bytes to copy
	//
	// Returns:
	//   - error: error if the copy was rejected
	CopyBufferToBuffer(source Buffer, sourceOffset uint64, destination Buffer, destinationOffset uint64, size uint64) error

	// Finish ends recording.
	//
	// Returns:
	//   - CommandBuffer: the recorded commands
	//   - error: error if recording was invalid
	Finish() (CommandBuffer, error)

	Release()
}

// ComputePass records compute dispatches.
type ComputePass interface {
	SetPipeline(pipeline ComputePipeline)
	SetBindGroup(index uint32, group BindGroup)
	DispatchWorkgroups(x, y, z uint32)
	End()
}

// RenderPass records draws.
type RenderPass interface {
	SetPipeline(pipeline RenderPipeline)
	SetBindGroup(index uint32, group BindGroup)
	Draw(vertexCount, instanceCount uint32)
	End()
}

// CommandBuffer is a finished command recording.
type CommandBuffer interface {
	Release()
}
