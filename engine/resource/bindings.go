package resource

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/uniform"
)

// BindGroup is a step bind group and the resource versions it was built against.
type BindGroup struct {
	Group       host.BindGroup
	LayoutKey   LayoutKey
	Generations map[BufferKey]uint64
}

// Release frees the underlying bind group.
func (b *BindGroup) Release() {
	if b != nil && b.Group != nil {
		b.Group.Release()
	}
}

// UniformSeries is a set of staged uniform arrays, one per iteration, laid out at a fixed stride.
// Copy Offset(i) from Staging into Target before the iteration's dispatch.
type UniformSeries struct {
	Staging BufferHandle
	Target  BufferHandle
	Stride  uint64
	Size    uint64
	Count   int
}

// Offset returns the staging offset of iteration i.
func (s *UniformSeries) Offset(i int) uint64 {
	return uint64(i) * s.Stride
}

func (m *manager) StepBindings() (*BindGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}
	if m.layout == nil {
		return nil, fmt.Errorf("%w: no bind group layout", ErrNotReady)
	}

	generations := make(map[BufferKey]uint64, len(m.layout.Entries))
	entries := make([]host.BindGroupEntry, 0, len(m.layout.Entries))
	for _, e := range m.layout.Entries {
		if e.Scene {
			if m.scene == nil {
				return nil, fmt.Errorf("%w: scene textures not allocated", ErrNotReady)
			}
			entries = append(entries, host.BindGroupEntry{Binding: e.Binding, TextureView: m.scene.view().Current})
			continue
		}
		h, ok := m.buffers[e.Buffer]
		if !ok {
			return nil, fmt.Errorf("%w: %s buffer not allocated", ErrNotReady, e.Buffer)
		}
		entries = append(entries, host.BindGroupEntry{Binding: e.Binding, Buffer: h.Buffer, Size: host.WholeSize})
		generations[e.Buffer] = h.Generation
	}

	group, err := gpu.Device.CreateBindGroup(host.BindGroupDescriptor{
		Label:   "simulation step",
		Layout:  m.layout.Handle,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create step bind group: %w", err)
	}
	return &BindGroup{Group: group, LayoutKey: m.layout.Key, Generations: generations}, nil
}

func (m *manager) IsStale(bg *BindGroup) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bg == nil || m.layout == nil || bg.LayoutKey != m.layout.Key {
		return true
	}
	for key, gen := range bg.Generations {
		if h, ok := m.buffers[key]; !ok || h.Generation != gen {
			return true
		}
	}
	return false
}

func (m *manager) StageUniformSeries(module, field string, count int) (*UniformSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}
	if m.program == nil {
		return nil, fmt.Errorf("%w: no program layout", ErrNotReady)
	}
	layout, ok := m.program.Module(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", uniform.ErrUnknownModule, module)
	}
	if _, ok := layout.Fields[field]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", uniform.ErrUnknownField, module, field)
	}
	count = max(count, 1)

	size := uint64(layout.Floats()) * 4
	stride := common.AlignUp(size, 16)
	if limit := gpu.Limits.MaxBufferSize; limit > 0 && stride > 0 && uint64(count) > limit/stride {
		return nil, fmt.Errorf("%w: %d iterations of %d bytes exceed the %d byte buffer limit", ErrOutOfRange, count, stride, limit)
	}
	data := make([]byte, stride*uint64(count))
	for i := range count {
		values, err := m.packer.Write(module, map[string]float32{field: float32(i)})
		if err != nil {
			return nil, err
		}
		copy(data[uint64(i)*stride:], uniform.Bytes(values))
	}

	staging, err := m.ensureBufferLocked(IterationStagingKey, uint64(len(data)))
	if err != nil {
		return nil, err
	}
	target, err := m.ensureBufferLocked(uniformKeyFor(layout), max(layout.ByteSize, size))
	if err != nil {
		return nil, err
	}
	if err := m.writeLocked(staging, 0, data); err != nil {
		return nil, err
	}
	return &UniformSeries{Staging: staging, Target: target, Stride: stride, Size: size, Count: count}, nil
}
