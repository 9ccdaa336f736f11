package resource

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"go.uber.org/zap"
)

// Capabilities are the requirements an adapter must meet.
type Capabilities struct {
	PowerPreference      host.PowerPreference
	ForceFallbackAdapter bool

	// MinStorageBuffersPerStage is the number of storage buffers the compute layout may bind.
	MinStorageBuffersPerStage uint32
	// MinStorageBufferBindingSize is the largest storage binding the simulation needs.
	MinStorageBufferBindingSize uint64

	PresentMode host.PresentMode
}

// SurfaceTarget is a presentation surface and its initial size.
type SurfaceTarget struct {
	Surface host.Surface
	Width   uint32
	Height  uint32
}

// Context is a live adapter, device and optionally configured surface.
type Context struct {
	Adapter host.Adapter
	Device  host.Device
	Queue   host.Queue

	// Surface is nil for headless contexts.
	Surface     host.Surface
	Format      host.TextureFormat
	AlphaMode   host.AlphaMode
	PresentMode host.PresentMode
	Width       uint32
	Height      uint32

	Limits host.Limits
}

// Headless reports whether the context has no presentation surface.
func (c *Context) Headless() bool {
	return c.Surface == nil
}

var errRaceLost = errors.New("race lost to timeout")

// race runs acquire in its own goroutine and waits for it, the timeout or ctx, whichever comes first.
// When acquire loses, its eventual successful result is handed to cleanup.
func race[T any](ctx context.Context, timeout time.Duration, acquire func() (T, error), cleanup func(T)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := acquire()
		done <- result{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
	case <-ctx.Done():
	}

	go func() {
		if r := <-done; r.err == nil {
			cleanup(r.value)
		}
	}()
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, errRaceLost
}

func (m *manager) Acquire(ctx context.Context, target *SurfaceTarget, caps Capabilities) (*Context, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	var epoch uint64
	for {
		m.mu.Lock()
		td := m.teardown
		if td == nil {
			if m.gpu != nil {
				gpu := m.gpu
				m.mu.Unlock()
				return gpu, nil
			}
			epoch = m.epoch
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		m.log.Debug("waiting for teardown before acquire")
		if err := td.Wait(ctx); err != nil {
			return nil, fmt.Errorf("acquire: %w", err)
		}
	}

	start := time.Now()
	gpu, err := m.acquire(ctx, target, caps)
	if err != nil {
		m.metrics.Acquired("failed", time.Since(start).Seconds())
		m.log.Error("gpu acquisition failed", zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		releaseContext(gpu)
		return nil, fmt.Errorf("%w: disposed during acquisition", ErrContextUnavailable)
	}
	m.gpu = gpu
	m.mu.Unlock()

	m.metrics.Acquired("ok", time.Since(start).Seconds())
	m.log.Info("gpu context acquired",
		zap.Stringer("format", gpu.Format),
		zap.Bool("headless", gpu.Headless()),
		zap.Uint32("width", gpu.Width),
		zap.Uint32("height", gpu.Height),
	)
	return gpu, nil
}

func (m *manager) acquire(ctx context.Context, target *SurfaceTarget, caps Capabilities) (*Context, error) {
	options := host.AdapterOptions{
		PowerPreference:      caps.PowerPreference,
		ForceFallbackAdapter: caps.ForceFallbackAdapter,
	}
	if target != nil {
		options.CompatibleSurface = target.Surface
	}

	adapter, err := race(ctx, m.acquireTimeout,
		func() (host.Adapter, error) { return m.instance.RequestAdapter(options) },
		func(a host.Adapter) {
			if a != nil {
				m.log.Debug("releasing late adapter")
				a.Release()
			}
		},
	)
	switch {
	case errors.Is(err, errRaceLost):
		return nil, fmt.Errorf("%w: adapter request exceeded %s", ErrDeviceTimeout, m.acquireTimeout)
	case err != nil && errors.Is(err, ctx.Err()):
		return nil, fmt.Errorf("acquire adapter: %w", err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	case adapter == nil:
		return nil, fmt.Errorf("%w: no adapter returned", ErrAdapterUnavailable)
	}

	limits := adapter.Limits()
	if limits.MaxStorageBuffersPerShaderStage < caps.MinStorageBuffersPerStage {
		adapter.Release()
		return nil, fmt.Errorf("%w: %d storage buffers per stage, need %d",
			ErrAdapterUnavailable, limits.MaxStorageBuffersPerShaderStage, caps.MinStorageBuffersPerStage)
	}
	if limits.MaxStorageBufferBindingSize < caps.MinStorageBufferBindingSize {
		adapter.Release()
		return nil, fmt.Errorf("%w: storage binding size %d, need %d",
			ErrAdapterUnavailable, limits.MaxStorageBufferBindingSize, caps.MinStorageBufferBindingSize)
	}

	descriptor := host.DeviceDescriptor{
		Label: "particles device",
		Limits: host.Limits{
			MaxBufferSize:                   limits.MaxBufferSize,
			MaxStorageBufferBindingSize:     limits.MaxStorageBufferBindingSize,
			MaxStorageBuffersPerShaderStage: limits.MaxStorageBuffersPerShaderStage,
		},
	}
	device, err := race(ctx, m.acquireTimeout,
		func() (host.Device, error) { return adapter.RequestDevice(descriptor) },
		func(d host.Device) {
			if d != nil {
				m.log.Debug("destroying late device")
				d.Destroy()
			}
		},
	)
	if err != nil || device == nil {
		adapter.Release()
		switch {
		case errors.Is(err, errRaceLost):
			return nil, fmt.Errorf("%w: device request exceeded %s", ErrDeviceTimeout, m.acquireTimeout)
		case err != nil && errors.Is(err, ctx.Err()):
			return nil, fmt.Errorf("acquire device: %w", err)
		case err != nil:
			return nil, fmt.Errorf("%w: %w", ErrContextUnavailable, err)
		default:
			return nil, fmt.Errorf("%w: no device returned", ErrContextUnavailable)
		}
	}

	gpu := &Context{
		Adapter:     adapter,
		Device:      device,
		Queue:       device.Queue(),
		Format:      host.TextureFormatRGBA8Unorm,
		PresentMode: caps.PresentMode,
		Limits:      descriptor.Limits,
	}
	if target == nil || target.Surface == nil {
		return gpu, nil
	}

	supported := target.Surface.Capabilities(adapter)
	if len(supported.Formats) == 0 {
		releaseContext(gpu)
		return nil, fmt.Errorf("%w: surface reports no formats", ErrContextUnavailable)
	}
	gpu.Surface = target.Surface
	gpu.Format = supported.Formats[0]
	gpu.AlphaMode = host.AlphaModeAuto
	if slices.Contains(supported.AlphaModes, host.AlphaModePremultiplied) {
		gpu.AlphaMode = host.AlphaModePremultiplied
	} else if len(supported.AlphaModes) > 0 {
		gpu.AlphaMode = supported.AlphaModes[0]
	}
	gpu.Width, gpu.Height = target.Width, target.Height

	if err := gpu.Surface.Configure(adapter, device, gpu.surfaceConfig()); err != nil {
		gpu.Surface = nil
		releaseContext(gpu)
		return nil, fmt.Errorf("%w: configure surface: %w", ErrContextUnavailable, err)
	}
	return gpu, nil
}

func (c *Context) surfaceConfig() host.SurfaceConfiguration {
	return host.SurfaceConfiguration{
		Format:      c.Format,
		Width:       c.Width,
		Height:      c.Height,
		AlphaMode:   c.AlphaMode,
		PresentMode: c.PresentMode,
	}
}

// releaseContext destroys the device and releases the adapter of a context that never went live.
func releaseContext(c *Context) {
	if c.Surface != nil {
		_ = c.Surface.Unconfigure()
	}
	c.Device.Destroy()
	c.Adapter.Release()
}

func (m *manager) ResizeSurface(width, height uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return err
	}
	if gpu.Headless() || width == 0 || height == 0 {
		return nil
	}
	gpu.Width, gpu.Height = width, height
	if err := gpu.Surface.Configure(gpu.Adapter, gpu.Device, gpu.surfaceConfig()); err != nil {
		return fmt.Errorf("failed to reconfigure surface: %w", err)
	}
	return nil
}
