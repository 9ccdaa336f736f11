// Package wgpu_host implements the host interfaces on top of cogentcore/webgpu.
package wgpu_host

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuInstance struct {
	instance *wgpu.Instance
}

var _ host.Instance = &wgpuInstance{}

// NewInstance creates a WebGPU instance. The calling goroutine is locked to its OS thread,
// since surface and device calls must stay on the thread that created the window.
//
// Returns:
//   - host.Instance: the instance
func NewInstance() host.Instance {
	runtime.LockOSThread()
	return &wgpuInstance{instance: wgpu.CreateInstance(nil)}
}

// NewSurface creates a presentation surface from a platform surface descriptor,
// typically obtained from window.Window.SurfaceDescriptor.
//
// Parameters:
//   - instance: an instance returned by NewInstance
//   - descriptor: the platform surface descriptor
//
// Returns:
//   - host.Surface: the surface
//   - error: error if the instance is foreign or the descriptor is nil
func NewSurface(instance host.Instance, descriptor *wgpu.SurfaceDescriptor) (host.Surface, error) {
	wi, ok := instance.(*wgpuInstance)
	if !ok {
		return nil, errors.New("surface requires a wgpu instance")
	}
	if descriptor == nil {
		return nil, errors.New("surface descriptor is nil")
	}
	return &wgpuSurface{surface: wi.instance.CreateSurface(descriptor)}, nil
}

func (i *wgpuInstance) RequestAdapter(options host.AdapterOptions) (host.Adapter, error) {
	opts := &wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: options.ForceFallbackAdapter,
		PowerPreference:      toWGPUPower[options.PowerPreference],
	}
	if s, ok := options.CompatibleSurface.(*wgpuSurface); ok && s != nil {
		opts.CompatibleSurface = s.surface
	}
	a, err := i.instance.RequestAdapter(opts)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	return &wgpuAdapter{adapter: a}, nil
}

func (i *wgpuInstance) Release() {
	i.instance.Release()
}

type wgpuAdapter struct {
	adapter *wgpu.Adapter
}

var _ host.Adapter = &wgpuAdapter{}

func (a *wgpuAdapter) Limits() host.Limits {
	return limitsFromWGPU(a.adapter.GetLimits().Limits)
}

func (a *wgpuAdapter) RequestDevice(descriptor host.DeviceDescriptor) (host.Device, error) {
	// Start from the WebGPU default limits and raise the buffer and storage limits to what was negotiated.
	limits := wgpu.DefaultLimits()
	if descriptor.Limits.MaxBufferSize > 0 {
		limits.MaxBufferSize = descriptor.Limits.MaxBufferSize
	}
	if descriptor.Limits.MaxStorageBufferBindingSize > 0 {
		limits.MaxStorageBufferBindingSize = descriptor.Limits.MaxStorageBufferBindingSize
	}
	if descriptor.Limits.MaxStorageBuffersPerShaderStage > 0 {
		limits.MaxStorageBuffersPerShaderStage = descriptor.Limits.MaxStorageBuffersPerShaderStage
	}

	d, err := a.adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: descriptor.Label,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	dev := &wgpuDevice{device: d}
	dev.queue = &wgpuQueue{queue: d.GetQueue(), device: d}
	return dev, nil
}

func (a *wgpuAdapter) Release() {
	a.adapter.Release()
}

type wgpuDevice struct {
	device *wgpu.Device
	queue  *wgpuQueue
}

var _ host.Device = &wgpuDevice{}

func (d *wgpuDevice) Queue() host.Queue {
	return d.queue
}

func (d *wgpuDevice) CreateBuffer(descriptor host.BufferDescriptor) (host.Buffer, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: descriptor.Label,
		Size:  descriptor.Size,
		Usage: wgpu.BufferUsage(descriptor.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", descriptor.Label, err)
	}
	return &wgpuBuffer{buffer: buf, device: d.device, size: descriptor.Size, usage: descriptor.Usage}, nil
}

func (d *wgpuDevice) CreateTexture(descriptor host.TextureDescriptor) (host.Texture, error) {
	format, ok := toWGPUFormat[descriptor.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported texture format %s", descriptor.Format)
	}
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     descriptor.Label,
		Usage:     wgpu.TextureUsage(descriptor.Usage),
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              descriptor.Width,
			Height:             descriptor.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create texture %q: %w", descriptor.Label, err)
	}
	return &wgpuTexture{texture: tex, width: descriptor.Width, height: descriptor.Height, format: descriptor.Format}, nil
}

func (d *wgpuDevice) CreateSampler(descriptor host.SamplerDescriptor) (host.Sampler, error) {
	filter := wgpu.FilterModeNearest
	if descriptor.Linear {
		filter = wgpu.FilterModeLinear
	}
	samp, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         descriptor.Label,
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}
	return &wgpuSampler{sampler: samp}, nil
}

func (d *wgpuDevice) CreateShaderModule(label, code string) (host.ShaderModule, error) {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: code,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shader module %q: %w", label, err)
	}
	return &wgpuShaderModule{module: module}, nil
}

func (d *wgpuDevice) CreateBindGroupLayout(descriptor host.BindGroupLayoutDescriptor) (host.BindGroupLayout, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(descriptor.Entries))
	for _, e := range descriptor.Entries {
		entries = append(entries, layoutEntry(e))
	}
	layout, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   descriptor.Label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group layout %q: %w", descriptor.Label, err)
	}
	return &wgpuBindGroupLayout{layout: layout}, nil
}

func (d *wgpuDevice) CreateBindGroup(descriptor host.BindGroupDescriptor) (host.BindGroup, error) {
	layout, ok := descriptor.Layout.(*wgpuBindGroupLayout)
	if !ok {
		return nil, errors.New("bind group requires a wgpu bind group layout")
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(descriptor.Entries))
	for _, e := range descriptor.Entries {
		entry := wgpu.BindGroupEntry{Binding: e.Binding}
		switch {
		case e.Buffer != nil:
			entry.Buffer = e.Buffer.(*wgpuBuffer).buffer
			entry.Offset = e.Offset
			entry.Size = e.Size
			if e.Size == host.WholeSize {
				entry.Size = wgpu.WholeSize
			}
		case e.TextureView != nil:
			entry.TextureView = e.TextureView.(*wgpuTextureView).view
		case e.Sampler != nil:
			entry.Sampler = e.Sampler.(*wgpuSampler).sampler
		default:
			return nil, fmt.Errorf("bind group %q entry %d binds nothing", descriptor.Label, e.Binding)
		}
		entries = append(entries, entry)
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   descriptor.Label,
		Layout:  layout.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group %q: %w", descriptor.Label, err)
	}
	return &wgpuBindGroup{group: bg}, nil
}

func (d *wgpuDevice) pipelineLayout(label string, layout host.BindGroupLayout) (*wgpu.PipelineLayout, error) {
	if layout == nil {
		return nil, nil
	}
	l, ok := layout.(*wgpuBindGroupLayout)
	if !ok {
		return nil, errors.New("pipeline requires a wgpu bind group layout")
	}
	return d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{l.layout},
	})
}

func (d *wgpuDevice) CreateComputePipeline(descriptor host.ComputePipelineDescriptor) (host.ComputePipeline, error) {
	module, ok := descriptor.Module.(*wgpuShaderModule)
	if !ok {
		return nil, errors.New("compute pipeline requires a wgpu shader module")
	}
	pl, err := d.pipelineLayout(descriptor.Label, descriptor.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline layout for %q: %w", descriptor.Label, err)
	}
	if pl != nil {
		defer pl.Release()
	}
	p, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  descriptor.Label,
		Layout: pl,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module.module,
			EntryPoint: descriptor.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute pipeline %q: %w", descriptor.EntryPoint, err)
	}
	return &wgpuComputePipeline{pipeline: p}, nil
}

func (d *wgpuDevice) CreateRenderPipeline(descriptor host.RenderPipelineDescriptor) (host.RenderPipeline, error) {
	module, ok := descriptor.Module.(*wgpuShaderModule)
	if !ok {
		return nil, errors.New("render pipeline requires a wgpu shader module")
	}
	format, ok := toWGPUFormat[descriptor.TargetFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported target format %s", descriptor.TargetFormat)
	}
	pl, err := d.pipelineLayout(descriptor.Label, descriptor.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline layout for %q: %w", descriptor.Label, err)
	}
	if pl != nil {
		defer pl.Release()
	}
	p, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  descriptor.Label,
		Layout: pl,
		Vertex: wgpu.VertexState{
			Module:     module.module,
			EntryPoint: descriptor.VertexEntry,
		},
		Fragment: &wgpu.FragmentState{
			Module:     module.module,
			EntryPoint: descriptor.FragmentEntry,
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render pipeline %q: %w", descriptor.Label, err)
	}
	return &wgpuRenderPipeline{pipeline: p}, nil
}

func (d *wgpuDevice) CreateCommandEncoder(label string) (host.CommandEncoder, error) {
	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	return &wgpuCommandEncoder{encoder: encoder}, nil
}

func (d *wgpuDevice) Destroy() {
	d.device.Release()
}
