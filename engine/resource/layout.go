package resource

import (
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// LayoutKey is a content hash of a layout's entries.
type LayoutKey uint64

// LayoutEntry is one slot of the compute layout and the resource bound to it.
type LayoutEntry struct {
	Binding uint32
	Type    host.BindingType

	// Buffer is the pooled buffer bound to the slot. Unused when Scene is set.
	Buffer BufferKey
	// Scene binds the current scene texture view instead of a buffer.
	Scene bool
}

// Layout is a compute bind group layout and the entries it was built from.
type Layout struct {
	Key     LayoutKey
	Handle  host.BindGroupLayout
	Entries []LayoutEntry
}

// Entry returns the entry at binding.
func (l *Layout) Entry(binding uint32) (LayoutEntry, bool) {
	for _, e := range l.Entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return LayoutEntry{}, false
}

// layoutEntries lists the compute layout slots of a program in a fixed order:
// particles, module uniforms, module arrays, grid, aux state, scene texture.
func layoutEntries(p *program.Program) []LayoutEntry {
	entries := []LayoutEntry{{Binding: program.ParticleBinding, Type: host.BindingStorage, Buffer: ParticlesKey}}

	for _, m := range p.ComputeModules() {
		entries = append(entries, LayoutEntry{Binding: m.Binding, Type: host.BindingUniform, Buffer: UniformKey(m.Name)})
	}
	for _, m := range p.Modules {
		if !m.HasArrays() {
			continue
		}
		entries = append(entries, LayoutEntry{
			Binding: p.Extra.ArrayStorage[m.Name],
			Type:    host.BindingReadOnlyStorage,
			Buffer:  ArrayStorageKey(m.Name),
		})
	}
	if g := p.Extra.Grid; g.Declared {
		entries = append(entries,
			LayoutEntry{Binding: g.Counts, Type: host.BindingStorage, Buffer: GridCountsKey},
			LayoutEntry{Binding: g.Indices, Type: host.BindingStorage, Buffer: GridIndicesKey},
		)
	}
	if a := p.Extra.AuxState; a.Declared {
		entries = append(entries, LayoutEntry{Binding: a.Binding, Type: host.BindingStorage, Buffer: AuxStateKey})
	}
	if s := p.Extra.SceneTexture; s.Declared && p.ReadsScene() {
		entries = append(entries, LayoutEntry{Binding: s.Binding, Type: host.BindingTexture, Scene: true})
	}
	return entries
}

func layoutKey(entries []LayoutEntry) LayoutKey {
	d := xxhash.New()
	var buf [7]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[:4], e.Binding)
		buf[4] = byte(e.Type)
		buf[5] = byte(e.Buffer.Class)
		buf[6] = 0
		if e.Scene {
			buf[6] = 1
		}
		_, _ = d.Write(buf[:])
		writeName(d, e.Buffer.Module)
	}
	return LayoutKey(d.Sum64())
}

// writeName hashes name behind a full uint32 length so adjacent names cannot run together.
func writeName(d *xxhash.Digest, name string) {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(name)))
	_, _ = d.Write(size[:])
	_, _ = d.WriteString(name)
}

func (m *manager) BuildBindGroupLayout(p *program.Program) (*Layout, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	entries := layoutEntries(p)
	key := layoutKey(entries)

	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}

	if m.layout != nil && m.layout.Key == key {
		m.program = p
		m.packer.SetLayouts(p.Modules)
		return m.layout, nil
	}

	descriptor := host.BindGroupLayoutDescriptor{Label: "simulation layout"}
	for _, e := range entries {
		descriptor.Entries = append(descriptor.Entries, host.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: host.ShaderStageCompute,
			Type:       e.Type,
		})
	}
	handle, err := gpu.Device.CreateBindGroupLayout(descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group layout: %w", err)
	}
	if m.layout != nil {
		m.layout.Handle.Release()
	}
	m.layout = &Layout{Key: key, Handle: handle, Entries: entries}
	m.program = p
	m.packer.SetLayouts(p.Modules)

	m.log.Debug("bind group layout built", zap.Int("entries", len(entries)), zap.Uint64("key", uint64(key)))
	return m.layout, nil
}
