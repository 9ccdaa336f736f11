package wgpu_host

import (
	"context"
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// pollInterval is how often blocking waits poll the device for callbacks.
	pollInterval = time.Millisecond
	// abortWait bounds the wait for the callback of a map aborted by Unmap.
	abortWait = time.Second
)

type wgpuBuffer struct {
	buffer *wgpu.Buffer
	device *wgpu.Device
	size   uint64
	usage  host.BufferUsage
}

var _ host.Buffer = &wgpuBuffer{}

func (b *wgpuBuffer) Size() uint64 {
	return b.size
}

func (b *wgpuBuffer) Usage() host.BufferUsage {
	return b.usage
}

func (b *wgpuBuffer) MapRead(ctx context.Context, offset, size uint64) ([]byte, error) {
	status := make(chan wgpu.BufferMapAsyncStatus, 1)
	err := b.buffer.MapAsync(wgpu.MapModeRead, offset, size, func(s wgpu.BufferMapAsyncStatus) {
		status <- s
	})
	if err != nil {
		return nil, fmt.Errorf("failed to map buffer: %w", err)
	}

	for {
		b.device.Poll(false, nil)
		select {
		case s := <-status:
			if s != wgpu.BufferMapAsyncStatusSuccess {
				return nil, fmt.Errorf("buffer map failed with status %v", s)
			}
			mapped := b.buffer.GetMappedRange(uint(offset), uint(size))
			out := make([]byte, len(mapped))
			copy(out, mapped)
			_ = b.buffer.Unmap()
			return out, nil
		case <-ctx.Done():
			b.abortMap(status)
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// abortMap cancels a pending MapAsync and waits for its callback so the buffer can be used again.
func (b *wgpuBuffer) abortMap(status <-chan wgpu.BufferMapAsyncStatus) {
	_ = b.buffer.Unmap()
	deadline := time.After(abortWait)
	for {
		b.device.Poll(false, nil)
		select {
		case s := <-status:
			if s == wgpu.BufferMapAsyncStatusSuccess {
				_ = b.buffer.Unmap()
			}
			return
		case <-deadline:
			return
		case <-time.After(pollInterval):
		}
	}
}

func (b *wgpuBuffer) Release() {
	b.buffer.Release()
}

type wgpuTexture struct {
	texture *wgpu.Texture
	width   uint32
	height  uint32
	format  host.TextureFormat
}

var _ host.Texture = &wgpuTexture{}

func (t *wgpuTexture) Width() uint32              { return t.width }
func (t *wgpuTexture) Height() uint32             { return t.height }
func (t *wgpuTexture) Format() host.TextureFormat { return t.format }

func (t *wgpuTexture) CreateView() (host.TextureView, error) {
	view, err := t.texture.CreateView(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture view: %w", err)
	}
	return &wgpuTextureView{view: view}, nil
}

func (t *wgpuTexture) Release() {
	t.texture.Release()
}

type wgpuTextureView struct {
	view *wgpu.TextureView
}

func (v *wgpuTextureView) Release() { v.view.Release() }

type wgpuSampler struct {
	sampler *wgpu.Sampler
}

func (s *wgpuSampler) Release() { s.sampler.Release() }

type wgpuShaderModule struct {
	module *wgpu.ShaderModule
}

func (m *wgpuShaderModule) Release() { m.module.Release() }

type wgpuBindGroupLayout struct {
	layout *wgpu.BindGroupLayout
}

func (l *wgpuBindGroupLayout) Release() { l.layout.Release() }

type wgpuBindGroup struct {
	group *wgpu.BindGroup
}

func (g *wgpuBindGroup) Release() { g.group.Release() }

type wgpuComputePipeline struct {
	pipeline *wgpu.ComputePipeline
}

func (p *wgpuComputePipeline) BindGroupLayout(index uint32) (host.BindGroupLayout, error) {
	layout := p.pipeline.GetBindGroupLayout(index)
	if layout == nil {
		return nil, fmt.Errorf("compute pipeline has no bind group %d", index)
	}
	return &wgpuBindGroupLayout{layout: layout}, nil
}

func (p *wgpuComputePipeline) Release() { p.pipeline.Release() }

type wgpuRenderPipeline struct {
	pipeline *wgpu.RenderPipeline
}

func (p *wgpuRenderPipeline) BindGroupLayout(index uint32) (host.BindGroupLayout, error) {
	layout := p.pipeline.GetBindGroupLayout(index)
	if layout == nil {
		return nil, fmt.Errorf("render pipeline has no bind group %d", index)
	}
	return &wgpuBindGroupLayout{layout: layout}, nil
}

func (p *wgpuRenderPipeline) Release() { p.pipeline.Release() }

type wgpuQueue struct {
	queue  *wgpu.Queue
	device *wgpu.Device
}

var _ host.Queue = &wgpuQueue{}

func (q *wgpuQueue) WriteBuffer(buffer host.Buffer, offset uint64, data []byte) error {
	b, ok := buffer.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("write requires a wgpu buffer")
	}
	q.queue.WriteBuffer(b.buffer, offset, data)
	return nil
}

func (q *wgpuQueue) Submit(commands ...host.CommandBuffer) {
	buffers := make([]*wgpu.CommandBuffer, 0, len(commands))
	for _, c := range commands {
		buffers = append(buffers, c.(*wgpuCommandBuffer).buffer)
	}
	q.queue.Submit(buffers...)
}

func (q *wgpuQueue) WaitIdle(ctx context.Context) error {
	done := make(chan wgpu.QueueWorkDoneStatus, 1)
	q.queue.OnSubmittedWorkDone(func(status wgpu.QueueWorkDoneStatus) {
		done <- status
	})
	for {
		q.device.Poll(false, nil)
		select {
		case status := <-done:
			if status != wgpu.QueueWorkDoneStatusSuccess {
				return fmt.Errorf("queue work done with status %v", status)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

type wgpuSurface struct {
	surface *wgpu.Surface

	configured   bool
	frameTexture *wgpu.Texture
	frameView    *wgpuTextureView
}

var _ host.Surface = &wgpuSurface{}

func (s *wgpuSurface) Capabilities(adapter host.Adapter) host.SurfaceCapabilities {
	a, ok := adapter.(*wgpuAdapter)
	if !ok {
		return host.SurfaceCapabilities{}
	}
	caps := s.surface.GetCapabilities(a.adapter)
	out := host.SurfaceCapabilities{}
	for _, f := range caps.Formats {
		if hf, ok := fromWGPUFormat[f]; ok {
			out.Formats = append(out.Formats, hf)
		}
	}
	for _, m := range caps.AlphaModes {
		if hm, ok := fromWGPUAlpha[m]; ok {
			out.AlphaModes = append(out.AlphaModes, hm)
		}
	}
	return out
}

func (s *wgpuSurface) Configure(adapter host.Adapter, device host.Device, config host.SurfaceConfiguration) error {
	a, ok := adapter.(*wgpuAdapter)
	if !ok {
		return fmt.Errorf("configure requires a wgpu adapter")
	}
	d, ok := device.(*wgpuDevice)
	if !ok {
		return fmt.Errorf("configure requires a wgpu device")
	}
	format, ok := toWGPUFormat[config.Format]
	if !ok {
		return fmt.Errorf("unsupported surface format %s", config.Format)
	}
	if config.Width == 0 || config.Height == 0 {
		return fmt.Errorf("surface size %dx%d is empty", config.Width, config.Height)
	}
	s.surface.Configure(a.adapter, d.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       config.Width,
		Height:      config.Height,
		PresentMode: toWGPUPresent[config.PresentMode],
		AlphaMode:   toWGPUAlpha[config.AlphaMode],
	})
	s.configured = true
	return nil
}

// Unconfigure drops any held frame and marks the surface unconfigured. The binding exposes no
// explicit unconfigure call; the next Configure replaces the swapchain.
func (s *wgpuSurface) Unconfigure() error {
	if !s.configured {
		return fmt.Errorf("surface is not configured")
	}
	s.releaseFrame()
	s.configured = false
	return nil
}

func (s *wgpuSurface) CurrentTexture() (host.TextureView, error) {
	// Avoid acquiring a second image while one is still held.
	if s.frameTexture != nil {
		return nil, fmt.Errorf("previous frame surface not yet presented")
	}
	tex, err := s.surface.GetCurrentTexture()
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	s.frameTexture = tex
	s.frameView = &wgpuTextureView{view: view}
	return s.frameView, nil
}

func (s *wgpuSurface) Present() {
	if s.frameTexture == nil {
		return
	}
	s.surface.Present()
	s.releaseFrame()
}

func (s *wgpuSurface) releaseFrame() {
	if s.frameView != nil {
		s.frameView.Release()
		s.frameView = nil
	}
	if s.frameTexture != nil {
		s.frameTexture.Release()
		s.frameTexture = nil
	}
}
