package host

import "fmt"

// WholeSize binds a buffer from its offset to the end of the buffer.
const WholeSize = ^uint64(0)

// BufferUsage is a bit set of buffer usage flags.
// Values match the WebGPU specification so adapters can convert by value.
type BufferUsage uint32

const (
	BufferUsageMapRead  BufferUsage = 0x0001
	BufferUsageMapWrite BufferUsage = 0x0002
	BufferUsageCopySrc  BufferUsage = 0x0004
	BufferUsageCopyDst  BufferUsage = 0x0008
	BufferUsageIndex    BufferUsage = 0x0010
	BufferUsageVertex   BufferUsage = 0x0020
	BufferUsageUniform  BufferUsage = 0x0040
	BufferUsageStorage  BufferUsage = 0x0080
	BufferUsageIndirect BufferUsage = 0x0100
)

// Has reports whether every flag in other is set on u.
func (u BufferUsage) Has(other BufferUsage) bool {
	return u&other == other
}

// TextureUsage is a bit set of texture usage flags, matching the WebGPU specification.
type TextureUsage uint32

const (
	TextureUsageCopySrc          TextureUsage = 0x01
	TextureUsageCopyDst          TextureUsage = 0x02
	TextureUsageTextureBinding   TextureUsage = 0x04
	TextureUsageStorageBinding   TextureUsage = 0x08
	TextureUsageRenderAttachment TextureUsage = 0x10
)

// ShaderStage is a bit set of shader stages a binding is visible to.
type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x1
	ShaderStageFragment ShaderStage = 0x2
	ShaderStageCompute  ShaderStage = 0x4
)

// TextureFormat enumerates the texture formats this module creates or presents to.
type TextureFormat uint8

const (
	TextureFormatUndefined TextureFormat = iota
	TextureFormatRGBA8Unorm
	TextureFormatRGBA8UnormSrgb
	TextureFormatBGRA8Unorm
	TextureFormatBGRA8UnormSrgb
	TextureFormatRGBA16Float
	TextureFormatRGBA32Float
)

var textureFormatNames = map[TextureFormat]string{
	TextureFormatUndefined:      "undefined",
	TextureFormatRGBA8Unorm:     "rgba8unorm",
	TextureFormatRGBA8UnormSrgb: "rgba8unorm-srgb",
	TextureFormatBGRA8Unorm:     "bgra8unorm",
	TextureFormatBGRA8UnormSrgb: "bgra8unorm-srgb",
	TextureFormatRGBA16Float:    "rgba16float",
	TextureFormatRGBA32Float:    "rgba32float",
}

func (f TextureFormat) String() string {
	if name, ok := textureFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("TextureFormat(%d)", uint8(f))
}

// BindingType classifies a bind group layout entry.
type BindingType uint8

const (
	BindingUniform BindingType = iota
	BindingStorage
	BindingReadOnlyStorage
	BindingTexture
	BindingStorageTexture
	BindingSampler
)

var bindingTypeNames = [...]string{
	BindingUniform:         "uniform",
	BindingStorage:         "storage",
	BindingReadOnlyStorage: "read-only-storage",
	BindingTexture:         "texture",
	BindingStorageTexture:  "storage-texture",
	BindingSampler:         "sampler",
}

func (t BindingType) String() string {
	if int(t) < len(bindingTypeNames) {
		return bindingTypeNames[t]
	}
	return fmt.Sprintf("BindingType(%d)", uint8(t))
}

// AlphaMode is the compositing mode of a presentation surface.
type AlphaMode uint8

const (
	AlphaModeAuto AlphaMode = iota
	AlphaModeOpaque
	AlphaModePremultiplied
	AlphaModeUnpremultiplied
	AlphaModeInherit
)

// PresentMode controls how frames are delivered to the display.
type PresentMode uint8

const (
	PresentModeFifo PresentMode = iota
	PresentModeImmediate
	PresentModeMailbox
)

// PowerPreference is a hint for adapter selection.
type PowerPreference uint8

const (
	PowerPreferenceUndefined PowerPreference = iota
	PowerPreferenceLowPower
	PowerPreferenceHighPerformance
)

// Limits holds the subset of device limits the resource layer negotiates.
type Limits struct {
	MaxBufferSize                     uint64
	MaxStorageBufferBindingSize       uint64
	MaxUniformBufferBindingSize       uint64
	MaxStorageBuffersPerShaderStage   uint32
	MaxComputeWorkgroupsPerDimension  uint32
	MaxComputeInvocationsPerWorkgroup uint32
}

// AdapterOptions selects an adapter.
type AdapterOptions struct {
	PowerPreference      PowerPreference
	ForceFallbackAdapter bool
	CompatibleSurface    Surface
}

// DeviceDescriptor describes a device request.
type DeviceDescriptor struct {
	Label  string
	Limits Limits
}

// SurfaceCapabilities lists what a surface supports on a given adapter.
type SurfaceCapabilities struct {
	Formats    []TextureFormat
	AlphaModes []AlphaMode
}

// SurfaceConfiguration configures a presentation surface.
type SurfaceConfiguration struct {
	Format      TextureFormat
	Width       uint32
	Height      uint32
	AlphaMode   AlphaMode
	PresentMode PresentMode
}

// BufferDescriptor describes a buffer allocation.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDescriptor describes a 2D texture allocation with a single mip level.
type TextureDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format TextureFormat
	Usage  TextureUsage
}

// SamplerDescriptor describes a clamp-to-edge sampler.
type SamplerDescriptor struct {
	Label  string
	Linear bool
}

// BindGroupLayoutEntry describes one binding slot of a layout.
// StorageFormat is only read for BindingStorageTexture entries.
type BindGroupLayoutEntry struct {
	Binding       uint32
	Visibility    ShaderStage
	Type          BindingType
	StorageFormat TextureFormat
}

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry binds exactly one of Buffer, TextureView or Sampler to a slot.
type BindGroupEntry struct {
	Binding     uint32
	Buffer      Buffer
	Offset      uint64
	Size        uint64
	TextureView TextureView
	Sampler     Sampler
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	Label   string
	Layout  BindGroupLayout
	Entries []BindGroupEntry
}

// ComputePipelineDescriptor describes a compute pipeline.
// A nil Layout requests an automatically derived layout.
type ComputePipelineDescriptor struct {
	Label      string
	Layout     BindGroupLayout
	Module     ShaderModule
	EntryPoint string
}

// RenderPipelineDescriptor describes a triangle-list render pipeline with one color target
// and no vertex buffers. A nil Layout requests an automatically derived layout.
type RenderPipelineDescriptor struct {
	Label         string
	Layout        BindGroupLayout
	Module        ShaderModule
	VertexEntry   string
	FragmentEntry string
	TargetFormat  TextureFormat
}

// Color is an RGBA clear color.
type Color struct {
	R, G, B, A float64
}

// RenderPassDescriptor describes a render pass with a single color attachment.
type RenderPassDescriptor struct {
	Label      string
	Target     TextureView
	Clear      bool
	ClearColor Color
}
