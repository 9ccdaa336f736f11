package resource

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"go.uber.org/zap"
)

func (m *manager) ReadBuffer(ctx context.Context, key BufferKey, size uint64) ([]byte, error) {
	m.mu.Lock()
	gpu, err := m.liveLocked()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	src, ok := m.buffers[key]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s buffer not allocated", ErrNotReady, key)
	}
	if size > src.Capacity {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: read of %d bytes from %s of %d bytes", ErrOutOfRange, size, key, src.Capacity)
	}
	aligned := common.AlignUp(size, 4)
	dst, err := m.ensureBufferLocked(ReadbackKey, aligned)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	encoder, err := gpu.Device.CreateCommandEncoder("readback")
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create readback encoder: %w", err)
	}
	defer encoder.Release()
	if err := encoder.CopyBufferToBuffer(src.Buffer, 0, dst.Buffer, 0, aligned); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to record readback copy: %w", err)
	}
	commands, err := encoder.Finish()
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to finish readback encoder: %w", err)
	}
	gpu.Queue.Submit(commands)
	commands.Release()
	m.mu.Unlock()

	data, err := dst.Buffer.MapRead(ctx, 0, aligned)
	if err != nil {
		m.dropReadback(dst)
		return nil, fmt.Errorf("failed to map readback buffer: %w", err)
	}
	return data[:size], nil
}

// dropReadback releases a readback buffer whose mapping did not complete, so the next read allocates a fresh one.
func (m *manager) dropReadback(dst BufferHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.buffers[ReadbackKey]
	if !ok || current.Generation != dst.Generation {
		return
	}
	delete(m.buffers, ReadbackKey)
	current.Buffer.Release()
	m.log.Warn("readback buffer dropped after failed map", zap.Uint64("generation", current.Generation))
}
