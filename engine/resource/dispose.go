package resource

import (
	"context"
	"runtime"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Teardown tracks one in-flight disposal.
type Teardown struct {
	done       chan struct{}
	suppressed error
}

// Done is closed when the teardown has completed.
func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the teardown completes or ctx is done.
//
// Parameters:
//   - ctx: bounds the wait
//
// Returns:
//   - error: ctx.Err() if ctx finished first
func (t *Teardown) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suppressed returns the errors swallowed during teardown, combined. It is nil until Done is closed.
func (t *Teardown) Suppressed() error {
	select {
	case <-t.done:
		return t.suppressed
	default:
		return nil
	}
}

func (m *manager) Dispose() *Teardown {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.teardown != nil {
		return m.teardown
	}
	t := &Teardown{done: make(chan struct{})}
	m.teardown = t
	m.epoch++
	go m.runTeardown(t)
	return t
}

func (m *manager) runTeardown(t *Teardown) {
	m.mu.Lock()
	gpu := m.gpu
	buffers := m.buffers
	scene := m.scene
	pipelines, shader, layout := m.pipelines, m.shader, m.layout
	present, presentModules, sampler := m.present, m.presentModules, m.sampler

	m.buffers = map[BufferKey]BufferHandle{}
	m.scene = nil
	m.pipelines, m.shader, m.layout, m.program = nil, nil, nil, nil
	m.present = map[PresentKey]presentEntry{}
	m.presentModules = map[uint64]host.ShaderModule{}
	m.sampler = nil
	m.packer.Reset()
	m.mu.Unlock()

	for _, h := range buffers {
		h.Buffer.Release()
	}
	if scene != nil {
		scene.release()
	}

	if pipelines != nil {
		pipelines.release()
	}
	if shader != nil {
		shader.Release()
	}
	for _, e := range present {
		e.release()
	}
	for _, module := range presentModules {
		module.Release()
	}
	if sampler != nil {
		sampler.Release()
	}
	if layout != nil {
		layout.Handle.Release()
	}

	if gpu != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.teardownWait)
		if err := gpu.Queue.WaitIdle(ctx); err != nil {
			m.log.Debug("queued work did not finish before teardown", zap.Error(err))
			t.suppressed = multierr.Append(t.suppressed, err)
		}
		cancel()

		if gpu.Surface != nil {
			if err := gpu.Surface.Unconfigure(); err != nil {
				m.log.Debug("surface unconfigure failed", zap.Error(err))
				t.suppressed = multierr.Append(t.suppressed, err)
			}
		}
		runtime.Gosched()
		gpu.Device.Destroy()
		gpu.Adapter.Release()
	}

	m.mu.Lock()
	m.gpu = nil
	m.teardown = nil
	m.mu.Unlock()

	m.metrics.TornDown()
	m.log.Info("gpu resources disposed", zap.Int("buffers", len(buffers)), zap.Bool("device", gpu != nil))
	close(t.done)
}
