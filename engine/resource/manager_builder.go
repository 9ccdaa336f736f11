package resource

import (
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"go.uber.org/zap"
)

// ManagerBuilderOption is a functional option for configuring a manager.
// Use the With* functions to create options.
type ManagerBuilderOption func(m *manager)

// WithLogger sets the logger. Defaults to a no-op logger.
//
// Parameters:
//   - log: the logger
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithLogger(log *zap.Logger) ManagerBuilderOption {
	return func(m *manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics sets the metrics collectors. Defaults to none.
//
// Parameters:
//   - c: the collectors
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithMetrics(c *metrics.Collectors) ManagerBuilderOption {
	return func(m *manager) {
		m.metrics = c
	}
}

// WithAcquireTimeout bounds each of the adapter and device requests. Defaults to 5s.
//
// Parameters:
//   - d: the timeout
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithAcquireTimeout(d time.Duration) ManagerBuilderOption {
	return func(m *manager) {
		if d > 0 {
			m.acquireTimeout = d
		}
	}
}

// WithTeardownWait bounds the wait for queued GPU work during teardown. Defaults to 150ms.
//
// Parameters:
//   - d: the wait bound
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithTeardownWait(d time.Duration) ManagerBuilderOption {
	return func(m *manager) {
		if d > 0 {
			m.teardownWait = d
		}
	}
}

// WithStrictPipelines makes BuildPipelines return an error when any entry point fails to compile.
// Absent entry points are never an error.
//
// Parameters:
//   - strict: whether compile errors are fatal
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithStrictPipelines(strict bool) ManagerBuilderOption {
	return func(m *manager) {
		m.strict = strict
	}
}

// WithSceneFormat sets the format of the scene texture pair. Defaults to rgba16float.
//
// Parameters:
//   - format: the texture format
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithSceneFormat(format host.TextureFormat) ManagerBuilderOption {
	return func(m *manager) {
		if format != host.TextureFormatUndefined {
			m.sceneFormat = format
		}
	}
}
