package simulation

import (
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"go.uber.org/zap"
)

// OrchestratorBuilderOption is a functional option for configuring an Orchestrator.
// Use the With* functions to create options.
type OrchestratorBuilderOption func(o *orchestrator)

// WithLogger sets the logger. Defaults to a no-op logger.
//
// Parameters:
//   - log: the logger
//
// Returns:
//   - OrchestratorBuilderOption: option function to apply
func WithLogger(log *zap.Logger) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics collectors.
//
// Parameters:
//   - c: the collectors
//
// Returns:
//   - OrchestratorBuilderOption: option function to apply
func WithMetrics(c *metrics.Collectors) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.metrics = c
	}
}

// WithIterationField sets the uniform field that receives the constrain iteration index.
// Defaults to simulation.iteration. Programs that do not declare the field get no per-iteration copies.
//
// Parameters:
//   - module: the module owning the field
//   - field: the field name
//
// Returns:
//   - OrchestratorBuilderOption: option function to apply
func WithIterationField(module, field string) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.iterationModule = module
		o.iterationField = field
	}
}
