package wgpu_host

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuCommandEncoder struct {
	encoder *wgpu.CommandEncoder
}

var _ host.CommandEncoder = &wgpuCommandEncoder{}

func (e *wgpuCommandEncoder) BeginComputePass(label string) host.ComputePass {
	return &wgpuComputePass{pass: e.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})}
}

func (e *wgpuCommandEncoder) BeginRenderPass(descriptor host.RenderPassDescriptor) host.RenderPass {
	loadOp := wgpu.LoadOpLoad
	if descriptor.Clear {
		loadOp = wgpu.LoadOpClear
	}
	pass := e.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: descriptor.Label,
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    descriptor.Target.(*wgpuTextureView).view,
				LoadOp:  loadOp,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: descriptor.ClearColor.R,
					G: descriptor.ClearColor.G,
					B: descriptor.ClearColor.B,
					A: descriptor.ClearColor.A,
				},
			},
		},
	})
	return &wgpuRenderPass{pass: pass}
}

func (e *wgpuCommandEncoder) CopyBufferToBuffer(source host.Buffer, sourceOffset uint64, destination host.Buffer, destinationOffset uint64, size uint64) error {
	src, ok := source.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("copy source is not a wgpu buffer")
	}
	dst, ok := destination.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("copy destination is not a wgpu buffer")
	}
	e.encoder.CopyBufferToBuffer(src.buffer, sourceOffset, dst.buffer, destinationOffset, size)
	return nil
}

func (e *wgpuCommandEncoder) Finish() (host.CommandBuffer, error) {
	cb, err := e.encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	return &wgpuCommandBuffer{buffer: cb}, nil
}

func (e *wgpuCommandEncoder) Release() {
	e.encoder.Release()
}

type wgpuComputePass struct {
	pass *wgpu.ComputePassEncoder
}

func (p *wgpuComputePass) SetPipeline(pipeline host.ComputePipeline) {
	p.pass.SetPipeline(pipeline.(*wgpuComputePipeline).pipeline)
}

func (p *wgpuComputePass) SetBindGroup(index uint32, group host.BindGroup) {
	p.pass.SetBindGroup(index, group.(*wgpuBindGroup).group, nil)
}

func (p *wgpuComputePass) DispatchWorkgroups(x, y, z uint32) {
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *wgpuComputePass) End() {
	p.pass.End()
}

type wgpuRenderPass struct {
	pass *wgpu.RenderPassEncoder
}

func (p *wgpuRenderPass) SetPipeline(pipeline host.RenderPipeline) {
	p.pass.SetPipeline(pipeline.(*wgpuRenderPipeline).pipeline)
}

func (p *wgpuRenderPass) SetBindGroup(index uint32, group host.BindGroup) {
	p.pass.SetBindGroup(index, group.(*wgpuBindGroup).group, nil)
}

func (p *wgpuRenderPass) Draw(vertexCount, instanceCount uint32) {
	p.pass.Draw(vertexCount, instanceCount, 0, 0)
}

func (p *wgpuRenderPass) End() {
	p.pass.End()
}

type wgpuCommandBuffer struct {
	buffer *wgpu.CommandBuffer
}

func (c *wgpuCommandBuffer) Release() {
	c.buffer.Release()
}
