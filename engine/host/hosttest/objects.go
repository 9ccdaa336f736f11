package hosttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
)

// Buffer is a fake host.Buffer backed by a byte slice.
type Buffer struct {
	ID    int
	Label string

	usage    host.BufferUsage
	journal  *Journal
	released atomic.Bool

	mu   sync.Mutex
	data []byte
}

var _ host.Buffer = &Buffer{}

func (b *Buffer) Size() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.data))
}

func (b *Buffer) Usage() host.BufferUsage {
	return b.usage
}

func (b *Buffer) MapRead(ctx context.Context, offset, size uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.usage.Has(host.BufferUsageMapRead) {
		return nil, fmt.Errorf("buffer %q is not mappable", b.Label)
	}
	if offset+size > b.Size() {
		return nil, fmt.Errorf("map range %d+%d exceeds buffer %q", offset, size, b.Label)
	}
	b.journal.Record("buffer.map %s", b.Label)
	return b.read(offset, size), nil
}

func (b *Buffer) Release() {
	b.released.Store(true)
	b.journal.Record("buffer.release %s", b.Label)
}

// Released reports whether Release was called.
func (b *Buffer) Released() bool {
	return b.released.Load()
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	return b.read(0, b.Size())
}

func (b *Buffer) read(offset, size uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out
}

func (b *Buffer) write(offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write %d+%d exceeds buffer %q of %d bytes", offset, len(data), b.Label, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

// Texture is a fake host.Texture.
type Texture struct {
	ID    int
	Label string
	Usage host.TextureUsage

	width, height uint32
	format        host.TextureFormat
	journal       *Journal
	released      atomic.Bool
}

var _ host.Texture = &Texture{}

func (t *Texture) Width() uint32              { return t.width }
func (t *Texture) Height() uint32             { return t.height }
func (t *Texture) Format() host.TextureFormat { return t.format }

func (t *Texture) CreateView() (host.TextureView, error) {
	return &TextureView{Texture: t}, nil
}

func (t *Texture) Release() {
	t.released.Store(true)
	if t.journal != nil {
		t.journal.Record("texture.release %s", t.Label)
	}
}

// Released reports whether Release was called.
func (t *Texture) Released() bool {
	return t.released.Load()
}

// TextureView is a fake host.TextureView.
type TextureView struct {
	Texture  *Texture
	released atomic.Bool
}

func (v *TextureView) Release() { v.released.Store(true) }

// Sampler is a fake host.Sampler.
type Sampler struct{ Label string }

func (s *Sampler) Release() {}

// ShaderModule is a fake host.ShaderModule holding its source.
type ShaderModule struct {
	Label string
	Code  string
}

func (m *ShaderModule) Release() {}

// BindGroupLayout is a fake host.BindGroupLayout.
type BindGroupLayout struct {
	Label    string
	Entries  []host.BindGroupLayoutEntry
	released atomic.Bool
}

func (l *BindGroupLayout) Release() { l.released.Store(true) }

// Released reports whether Release was called.
func (l *BindGroupLayout) Released() bool { return l.released.Load() }

// BindGroup is a fake host.BindGroup.
type BindGroup struct {
	Label    string
	Layout   host.BindGroupLayout
	Entries  []host.BindGroupEntry
	released atomic.Bool
}

func (g *BindGroup) Release() { g.released.Store(true) }

// Released reports whether Release was called.
func (g *BindGroup) Released() bool { return g.released.Load() }

// Entry returns the entry bound at binding.
func (g *BindGroup) Entry(binding uint32) (host.BindGroupEntry, bool) {
	for _, e := range g.Entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return host.BindGroupEntry{}, false
}

// ComputePipeline is a fake host.ComputePipeline.
type ComputePipeline struct {
	Label    string
	Entry    string
	Layout   host.BindGroupLayout
	released atomic.Bool
}

func (p *ComputePipeline) BindGroupLayout(index uint32) (host.BindGroupLayout, error) {
	if index != 0 {
		return nil, fmt.Errorf("pipeline %q has no bind group %d", p.Label, index)
	}
	if p.Layout != nil {
		return p.Layout, nil
	}
	return &BindGroupLayout{Label: p.Label + " auto"}, nil
}

func (p *ComputePipeline) Release() { p.released.Store(true) }

// Released reports whether Release was called.
func (p *ComputePipeline) Released() bool { return p.released.Load() }

// RenderPipeline is a fake host.RenderPipeline.
type RenderPipeline struct {
	Label    string
	Format   host.TextureFormat
	released atomic.Bool
}

func (p *RenderPipeline) BindGroupLayout(index uint32) (host.BindGroupLayout, error) {
	if index != 0 {
		return nil, fmt.Errorf("pipeline %q has no bind group %d", p.Label, index)
	}
	return &BindGroupLayout{Label: p.Label + " auto"}, nil
}

func (p *RenderPipeline) Release() { p.released.Store(true) }

// CommandKind classifies a recorded command.
type CommandKind uint8

const (
	CommandDispatch CommandKind = iota
	CommandCopy
	CommandDraw
)

// Command is one recorded encoder command.
type Command struct {
	Kind  CommandKind
	Label string

	Pipeline  *ComputePipeline
	BindGroup host.BindGroup
	Groups    [3]uint32

	Source            *Buffer
	SourceOffset      uint64
	Destination       *Buffer
	DestinationOffset uint64
	Size              uint64

	RenderPipeline *RenderPipeline
	Target         host.TextureView
	VertexCount    uint32
	InstanceCount  uint32
}

// CommandEncoder is a fake host.CommandEncoder recording commands in order.
type CommandEncoder struct {
	Label    string
	Commands []Command
	Passes   int
	open     bool
	finished bool
	released bool
}

var _ host.CommandEncoder = &CommandEncoder{}

func (e *CommandEncoder) BeginComputePass(label string) host.ComputePass {
	e.assertIdle()
	e.open = true
	e.Passes++
	return &ComputePass{encoder: e, label: label}
}

func (e *CommandEncoder) BeginRenderPass(descriptor host.RenderPassDescriptor) host.RenderPass {
	e.assertIdle()
	e.open = true
	e.Passes++
	return &RenderPass{encoder: e, label: descriptor.Label, target: descriptor.Target}
}

func (e *CommandEncoder) CopyBufferToBuffer(source host.Buffer, sourceOffset uint64, destination host.Buffer, destinationOffset uint64, size uint64) error {
	e.assertIdle()
	src, ok1 := source.(*Buffer)
	dst, ok2 := destination.(*Buffer)
	if !ok1 || !ok2 {
		return fmt.Errorf("foreign buffer in copy")
	}
	if sourceOffset+size > src.Size() || destinationOffset+size > dst.Size() {
		return fmt.Errorf("copy of %d bytes out of range", size)
	}
	e.Commands = append(e.Commands, Command{
		Kind:              CommandCopy,
		Source:            src,
		SourceOffset:      sourceOffset,
		Destination:       dst,
		DestinationOffset: destinationOffset,
		Size:              size,
	})
	return nil
}

func (e *CommandEncoder) Finish() (host.CommandBuffer, error) {
	if e.open {
		return nil, fmt.Errorf("encoder %q finished with an open pass", e.Label)
	}
	e.finished = true
	return &CommandBuffer{Commands: append([]Command(nil), e.Commands...)}, nil
}

func (e *CommandEncoder) Release() { e.released = true }

// Dispatches returns only the dispatch commands, in order.
func (e *CommandEncoder) Dispatches() []Command {
	var out []Command
	for _, c := range e.Commands {
		if c.Kind == CommandDispatch {
			out = append(out, c)
		}
	}
	return out
}

func (e *CommandEncoder) assertIdle() {
	if e.open {
		panic(fmt.Sprintf("encoder %q: command recorded while a pass is open", e.Label))
	}
	if e.finished {
		panic(fmt.Sprintf("encoder %q: command recorded after Finish", e.Label))
	}
}

// ComputePass is a fake host.ComputePass.
type ComputePass struct {
	encoder   *CommandEncoder
	label     string
	pipeline  *ComputePipeline
	bindGroup host.BindGroup
}

func (p *ComputePass) SetPipeline(pipeline host.ComputePipeline) {
	p.pipeline, _ = pipeline.(*ComputePipeline)
}

func (p *ComputePass) SetBindGroup(index uint32, group host.BindGroup) {
	if index == 0 {
		p.bindGroup = group
	}
}

func (p *ComputePass) DispatchWorkgroups(x, y, z uint32) {
	p.encoder.Commands = append(p.encoder.Commands, Command{
		Kind:      CommandDispatch,
		Label:     p.label,
		Pipeline:  p.pipeline,
		BindGroup: p.bindGroup,
		Groups:    [3]uint32{x, y, z},
	})
}

func (p *ComputePass) End() { p.encoder.open = false }

// RenderPass is a fake host.RenderPass.
type RenderPass struct {
	encoder   *CommandEncoder
	label     string
	target    host.TextureView
	pipeline  *RenderPipeline
	bindGroup host.BindGroup
}

func (p *RenderPass) SetPipeline(pipeline host.RenderPipeline) {
	p.pipeline, _ = pipeline.(*RenderPipeline)
}

func (p *RenderPass) SetBindGroup(index uint32, group host.BindGroup) {
	if index == 0 {
		p.bindGroup = group
	}
}

func (p *RenderPass) Draw(vertexCount, instanceCount uint32) {
	p.encoder.Commands = append(p.encoder.Commands, Command{
		Kind:           CommandDraw,
		Label:          p.label,
		RenderPipeline: p.pipeline,
		BindGroup:      p.bindGroup,
		Target:         p.target,
		VertexCount:    vertexCount,
		InstanceCount:  instanceCount,
	})
}

func (p *RenderPass) End() { p.encoder.open = false }

// CommandBuffer is a fake host.CommandBuffer.
type CommandBuffer struct {
	Commands []Command
}

func (c *CommandBuffer) Release() {}
