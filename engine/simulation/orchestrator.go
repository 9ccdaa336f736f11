// Package simulation records the per-step sequence of particle compute dispatches.
package simulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
	"github.com/Carmen-Shannon/oxy-particles/engine/uniform"
	"go.uber.org/zap"
)

// Resources is the part of the resource manager a step reads.
type Resources interface {
	Pipelines() (*resource.PipelineSet, error)
	StepBindings() (*resource.BindGroup, error)
	StageUniformSeries(module, field string, count int) (*resource.UniformSeries, error)
	Scene() resource.SceneView
}

var _ Resources = resource.Manager(nil)

// Orchestrator records one simulation step at a time.
// Steps must not be recorded concurrently; the orchestrator does not serialize them itself.
type Orchestrator interface {
	// RunStep records the dispatches of one step into encoder, in dependency order:
	// grid clear, grid build, then either the specialized passes or the fallback main pass.
	// Every dispatch shares one freshly built bind group.
	//
	// Parameters:
	//   - encoder: the command encoder to record into; the caller finishes and submits it
	//   - resources: the resource manager holding the layout, pipelines and buffers
	//   - params: particle and grid counts, workgroup size and constrain iterations
	//
	// Returns:
	//   - *StepResult: the path taken and the dispatches recorded; Release it after submission
	//   - error: ErrInvalidParams for a zero workgroup size or more constrain iterations than one staging buffer holds,
	//     resource.ErrNotReady if resources are missing
	RunStep(encoder host.CommandEncoder, resources Resources, params StepParams) (*StepResult, error)
}

type orchestrator struct {
	log     *zap.Logger
	metrics *metrics.Collectors

	iterationModule string
	iterationField  string
}

var _ Orchestrator = &orchestrator{}

// NewOrchestrator creates an Orchestrator.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - Orchestrator: the orchestrator
func NewOrchestrator(options ...OrchestratorBuilderOption) Orchestrator {
	o := &orchestrator{
		log:             zap.NewNop(),
		iterationModule: "simulation",
		iterationField:  "iteration",
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

func (o *orchestrator) RunStep(encoder host.CommandEncoder, resources Resources, params StepParams) (*StepResult, error) {
	if params.WorkgroupSize == 0 {
		return nil, fmt.Errorf("%w: workgroup size must be positive", ErrInvalidParams)
	}
	start := time.Now()

	set, err := resources.Pipelines()
	if err != nil {
		return nil, err
	}
	iterations := params.Iterations()
	specialized := set.Found(resource.SpecializedPasses...)

	var series *resource.UniformSeries
	if specialized {
		series, err = resources.StageUniformSeries(o.iterationModule, o.iterationField, iterations)
		if errors.Is(err, uniform.ErrUnknownModule) || errors.Is(err, uniform.ErrUnknownField) {
			series, err = nil, nil
		}
		if errors.Is(err, resource.ErrOutOfRange) {
			return nil, fmt.Errorf("%w: constrain iterations: %w", ErrInvalidParams, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stage constrain iterations: %w", err)
		}
	}

	bindings, err := resources.StepBindings()
	if err != nil {
		return nil, err
	}
	result := &StepResult{Path: PathNone, Scene: resources.Scene(), Bindings: bindings}
	rec := recorder{encoder: encoder, set: set, bindings: bindings, result: result, metrics: o.metrics}

	particleGroups := common.CeilDiv(params.ParticleCount, params.WorkgroupSize)
	if set.Found(resource.PassGridClear) && params.GridCellCount > 0 {
		rec.dispatch(resource.PassGridClear, common.CeilDiv(params.GridCellCount, params.WorkgroupSize), 0)
	}
	if set.Found(resource.PassGridBuild) && params.ParticleCount > 0 {
		rec.dispatch(resource.PassGridBuild, particleGroups, 0)
	}

	switch {
	case specialized:
		result.Path = PathSpecialized
		rec.dispatch(resource.PassState, particleGroups, 0)
		rec.dispatch(resource.PassApply, particleGroups, 0)
		rec.dispatch(resource.PassIntegrate, particleGroups, 0)
		for i := range iterations {
			if series != nil && particleGroups > 0 {
				if err := encoder.CopyBufferToBuffer(series.Staging.Buffer, series.Offset(i), series.Target.Buffer, 0, series.Size); err != nil {
					bindings.Release()
					return nil, fmt.Errorf("failed to record constrain iteration %d: %w", i, err)
				}
			}
			rec.dispatch(resource.PassConstrain, particleGroups, i)
		}
		rec.dispatch(resource.PassCorrect, particleGroups, 0)
	case set.Found(resource.PassFallback):
		result.Path = PathFallback
		rec.dispatch(resource.PassFallback, particleGroups, 0)
	}

	o.metrics.StepRecorded(time.Since(start).Seconds())
	o.log.Debug("simulation step recorded",
		zap.Stringer("path", result.Path),
		zap.Int("dispatches", len(result.Dispatches)),
		zap.Uint32("particles", params.ParticleCount),
	)
	return result, nil
}

type recorder struct {
	encoder  host.CommandEncoder
	set      *resource.PipelineSet
	bindings *resource.BindGroup
	result   *StepResult
	metrics  *metrics.Collectors
}

// dispatch records one pass as its own compute pass. Zero groups records nothing.
func (r *recorder) dispatch(pass resource.Pass, groups uint32, iteration int) {
	if groups == 0 {
		return
	}
	pipeline, ok := r.set.Pipeline(pass)
	if !ok {
		return
	}
	cp := r.encoder.BeginComputePass(string(pass))
	cp.SetPipeline(pipeline)
	cp.SetBindGroup(0, r.bindings.Group)
	cp.DispatchWorkgroups(groups, 1, 1)
	cp.End()

	r.result.Dispatches = append(r.result.Dispatches, Dispatch{Pass: pass, Groups: groups, Iteration: iteration})
	r.metrics.Dispatch(string(pass))
}
