package resource

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/uniform"
	"go.uber.org/zap"
)

const minBufferSize = 16

// BufferClass identifies what a pooled buffer holds. The class decides the buffer's usage flags.
type BufferClass uint8

const (
	ClassParticles BufferClass = iota
	ClassUniform
	ClassArrayStorage
	ClassGridCounts
	ClassGridIndices
	ClassAuxState
	ClassRenderUniform
	ClassIterationStaging
	ClassReadback
)

var bufferClassNames = [...]string{
	ClassParticles:        "particles",
	ClassUniform:          "uniform",
	ClassArrayStorage:     "array-storage",
	ClassGridCounts:       "grid-counts",
	ClassGridIndices:      "grid-indices",
	ClassAuxState:         "aux-state",
	ClassRenderUniform:    "render-uniform",
	ClassIterationStaging: "iteration-staging",
	ClassReadback:         "readback",
}

func (c BufferClass) String() string {
	if int(c) < len(bufferClassNames) {
		return bufferClassNames[c]
	}
	return fmt.Sprintf("BufferClass(%d)", uint8(c))
}

// Usage returns the usage flags buffers of this class are allocated with.
func (c BufferClass) Usage() host.BufferUsage {
	switch c {
	case ClassParticles:
		return host.BufferUsageStorage | host.BufferUsageCopyDst | host.BufferUsageCopySrc | host.BufferUsageVertex
	case ClassUniform, ClassRenderUniform:
		return host.BufferUsageUniform | host.BufferUsageCopyDst
	case ClassAuxState:
		return host.BufferUsageStorage | host.BufferUsageCopyDst | host.BufferUsageCopySrc
	case ClassIterationStaging:
		return host.BufferUsageCopySrc | host.BufferUsageCopyDst
	case ClassReadback:
		return host.BufferUsageMapRead | host.BufferUsageCopyDst
	default:
		return host.BufferUsageStorage | host.BufferUsageCopyDst
	}
}

// BufferKey identifies a pooled buffer. Module is empty for classes that are not per-module.
type BufferKey struct {
	Class  BufferClass
	Module string
}

func (k BufferKey) String() string {
	if k.Module == "" {
		return k.Class.String()
	}
	return k.Class.String() + ":" + k.Module
}

var (
	ParticlesKey        = BufferKey{Class: ClassParticles}
	GridCountsKey       = BufferKey{Class: ClassGridCounts}
	GridIndicesKey      = BufferKey{Class: ClassGridIndices}
	AuxStateKey         = BufferKey{Class: ClassAuxState}
	IterationStagingKey = BufferKey{Class: ClassIterationStaging}
	ReadbackKey         = BufferKey{Class: ClassReadback}
)

// UniformKey returns the key of a compute module's uniform buffer.
func UniformKey(module string) BufferKey {
	return BufferKey{Class: ClassUniform, Module: module}
}

// RenderUniformKey returns the key of a render module's uniform buffer.
func RenderUniformKey(module string) BufferKey {
	return BufferKey{Class: ClassRenderUniform, Module: module}
}

// ArrayStorageKey returns the key of a module's combined array buffer.
func ArrayStorageKey(module string) BufferKey {
	return BufferKey{Class: ClassArrayStorage, Module: module}
}

// uniformKeyFor returns the uniform buffer key a module's role selects.
func uniformKeyFor(m program.ModuleLayout) BufferKey {
	if m.Role.Computes() {
		return UniformKey(m.Name)
	}
	return RenderUniformKey(m.Name)
}

// BufferHandle is a reference to the current buffer of a key.
// Generation changes whenever the buffer is replaced; a handle with an old generation is stale.
type BufferHandle struct {
	Key        BufferKey
	Buffer     host.Buffer
	Capacity   uint64
	Generation uint64
}

// Valid reports whether the handle refers to a buffer.
func (h BufferHandle) Valid() bool {
	return h.Buffer != nil
}

func (m *manager) EnsureBuffer(key BufferKey, requiredBytes uint64) (BufferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureBufferLocked(key, requiredBytes)
}

func (m *manager) ensureBufferLocked(key BufferKey, requiredBytes uint64) (BufferHandle, error) {
	gpu, err := m.liveLocked()
	if err != nil {
		return BufferHandle{}, err
	}

	current, ok := m.buffers[key]
	if ok && current.Capacity >= requiredBytes {
		return current, nil
	}

	size := requiredBytes
	if ok {
		size = max(size, 2*current.Capacity)
	}
	size = max(common.AlignUp(size, 4), minBufferSize)

	buf, err := gpu.Device.CreateBuffer(host.BufferDescriptor{
		Label: key.String(),
		Size:  size,
		Usage: key.Class.Usage(),
	})
	if err != nil {
		return BufferHandle{}, fmt.Errorf("failed to allocate %s buffer of %d bytes: %w", key, size, err)
	}
	if ok {
		current.Buffer.Release()
	}

	m.generation++
	handle := BufferHandle{Key: key, Buffer: buf, Capacity: size, Generation: m.generation}
	m.buffers[key] = handle

	m.metrics.BufferGrown(key.Class.String(), size)
	m.log.Debug("buffer allocated",
		zap.Stringer("key", key),
		zap.Uint64("capacity", size),
		zap.Uint64("generation", handle.Generation),
	)
	return handle, nil
}

func (m *manager) Buffer(key BufferKey) (BufferHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.buffers[key]
	return h, ok
}

func (m *manager) Write(handle BufferHandle, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(handle, offset, data)
}

func (m *manager) writeLocked(handle BufferHandle, offset uint64, data []byte) error {
	gpu, err := m.liveLocked()
	if err != nil {
		return err
	}
	current, ok := m.buffers[handle.Key]
	if !ok || current.Generation != handle.Generation {
		return fmt.Errorf("%w: %s generation %d", ErrStaleHandle, handle.Key, handle.Generation)
	}
	if offset+uint64(len(data)) > current.Capacity {
		return fmt.Errorf("%w: write of %d bytes at %d into %s of %d bytes",
			ErrOutOfRange, len(data), offset, handle.Key, current.Capacity)
	}
	if len(data) == 0 {
		return nil
	}
	if err := gpu.Queue.WriteBuffer(current.Buffer, offset, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", handle.Key, err)
	}
	return nil
}

func (m *manager) WriteUniforms(module string, fields map[string]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.program == nil {
		return fmt.Errorf("%w: no program layout", ErrNotReady)
	}
	layout, ok := m.program.Module(module)
	if !ok {
		return fmt.Errorf("%w: %s", uniform.ErrUnknownModule, module)
	}
	values, err := m.packer.Write(module, fields)
	if err != nil {
		return err
	}
	data := uniform.Bytes(values)
	handle, err := m.ensureBufferLocked(uniformKeyFor(layout), max(layout.ByteSize, uint64(len(data))))
	if err != nil {
		return err
	}
	return m.writeLocked(handle, 0, data)
}
