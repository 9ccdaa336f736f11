package resource

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pass names one simulation compute pass.
type Pass string

const (
	PassGridClear Pass = "grid_clear"
	PassGridBuild Pass = "grid_build"
	PassState     Pass = "state"
	PassApply     Pass = "apply"
	PassIntegrate Pass = "integrate"
	PassConstrain Pass = "constrain"
	PassCorrect   Pass = "correct"
	PassFallback  Pass = "main"
)

// Passes lists every simulation pass in dispatch order.
var Passes = []Pass{
	PassGridClear, PassGridBuild,
	PassState, PassApply, PassIntegrate, PassConstrain, PassCorrect,
	PassFallback,
}

// SpecializedPasses are the passes that must all be present for the specialized path.
var SpecializedPasses = []Pass{PassState, PassApply, PassIntegrate, PassConstrain, PassCorrect}

// EntryPoint returns the shader entry point implementing the pass.
func (p Pass) EntryPoint() string {
	return string(p)
}

// PassStatus is the outcome of building one pass.
type PassStatus uint8

const (
	// PassAbsent means the source does not define the entry point.
	PassAbsent PassStatus = iota
	// PassFound means the pipeline compiled.
	PassFound
	// PassCompileError means the entry point exists but pipeline creation failed.
	PassCompileError
)

func (s PassStatus) String() string {
	switch s {
	case PassFound:
		return "found"
	case PassCompileError:
		return "compile-error"
	default:
		return "absent"
	}
}

// PassResult is the tagged outcome of one pass. Pipeline is set only for PassFound, Err only for PassCompileError.
type PassResult struct {
	Status   PassStatus
	Pipeline host.ComputePipeline
	Err      error
}

// PipelineSet holds one result per pass, built from one source against one layout.
type PipelineSet struct {
	LayoutKey  LayoutKey
	SourceHash uint64

	results map[Pass]PassResult
}

// Result returns the result of a pass. Unknown passes are absent.
func (s *PipelineSet) Result(p Pass) PassResult {
	return s.results[p]
}

// Pipeline returns the compiled pipeline of a pass.
func (s *PipelineSet) Pipeline(p Pass) (host.ComputePipeline, bool) {
	r := s.results[p]
	return r.Pipeline, r.Status == PassFound
}

// Found reports whether every listed pass compiled.
func (s *PipelineSet) Found(passes ...Pass) bool {
	for _, p := range passes {
		if s.results[p].Status != PassFound {
			return false
		}
	}
	return true
}

// CompileErrors combines the errors of every pass that failed to compile.
func (s *PipelineSet) CompileErrors() error {
	var err error
	for _, p := range Passes {
		if r := s.results[p]; r.Status == PassCompileError {
			err = multierr.Append(err, fmt.Errorf("%s: %w", p, r.Err))
		}
	}
	return err
}

func (s *PipelineSet) release() {
	for _, r := range s.results {
		if r.Pipeline != nil {
			r.Pipeline.Release()
		}
	}
}

func (m *manager) BuildPipelines(source string) (*PipelineSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}
	if m.layout == nil {
		return nil, fmt.Errorf("%w: no bind group layout", ErrNotReady)
	}

	hash := xxhash.Sum64String(source)
	if s := m.pipelines; s != nil && s.SourceHash == hash && s.LayoutKey == m.layout.Key {
		return s, m.strictErr(s)
	}

	module, err := gpu.Device.CreateShaderModule("simulation", source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile simulation source: %w", err)
	}

	entries := program.ComputeEntryPoints(source)
	set := &PipelineSet{LayoutKey: m.layout.Key, SourceHash: hash, results: make(map[Pass]PassResult, len(Passes))}
	for _, pass := range Passes {
		r := m.buildPass(gpu.Device, module, pass, entries)
		set.results[pass] = r
		m.metrics.PipelineResult(string(pass), r.Status.String())
		if r.Status == PassCompileError {
			m.log.Warn("pipeline failed to compile", zap.String("pass", string(pass)), zap.Error(r.Err))
		}
	}

	if m.pipelines != nil {
		m.pipelines.release()
	}
	if m.shader != nil {
		m.shader.Release()
	}
	m.pipelines = set
	m.shader = module

	m.log.Debug("pipelines built",
		zap.Bool("specialized", set.Found(SpecializedPasses...)),
		zap.Bool("fallback", set.Found(PassFallback)),
	)
	return set, m.strictErr(set)
}

func (m *manager) strictErr(set *PipelineSet) error {
	if !m.strict {
		return nil
	}
	if err := set.CompileErrors(); err != nil {
		return fmt.Errorf("%w: %w", ErrPipelineCompile, err)
	}
	return nil
}

// buildPass attempts one pass. A panic from the host binding is reported as a compile error of that pass alone.
func (m *manager) buildPass(device host.Device, module host.ShaderModule, pass Pass, entries map[string]program.EntryPoint) (result PassResult) {
	if _, ok := entries[pass.EntryPoint()]; !ok {
		return PassResult{Status: PassAbsent}
	}
	defer func() {
		if r := recover(); r != nil {
			result = PassResult{Status: PassCompileError, Err: fmt.Errorf("pipeline creation panicked: %v", r)}
		}
	}()

	pipeline, err := device.CreateComputePipeline(host.ComputePipelineDescriptor{
		Label:      "simulation " + string(pass),
		Layout:     m.layout.Handle,
		Module:     module,
		EntryPoint: pass.EntryPoint(),
	})
	if err != nil {
		return PassResult{Status: PassCompileError, Err: err}
	}
	return PassResult{Status: PassFound, Pipeline: pipeline}
}
