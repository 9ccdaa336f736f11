package resource

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/host/hosttest"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPipelinesSpecialized(t *testing.T) {
	_, m := readyManager(t)

	set, err := m.BuildPipelines(specializedSource)
	require.NoError(t, err)
	assert.True(t, set.Found(SpecializedPasses...))
	assert.True(t, set.Found(PassGridClear, PassGridBuild))
	assert.Equal(t, PassAbsent, set.Result(PassFallback).Status)

	p, ok := set.Pipeline(PassConstrain)
	require.True(t, ok)
	assert.Equal(t, "constrain", p.(*hosttest.ComputePipeline).Entry)
	assert.NoError(t, set.CompileErrors())
}

func TestBuildPipelinesTaggedResults(t *testing.T) {
	inst, m := readyManager(t)
	inst.EntryErrs["apply"] = errors.New("binding 7 not in layout")

	source := fallbackSource + `
@compute @workgroup_size(64)
fn state(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn apply(@builtin(global_invocation_id) id: vec3<u32>) {}
`
	set, err := m.BuildPipelines(source)
	require.NoError(t, err)

	assert.Equal(t, PassFound, set.Result(PassFallback).Status)
	assert.Equal(t, PassFound, set.Result(PassState).Status)
	assert.Equal(t, PassCompileError, set.Result(PassApply).Status)
	assert.ErrorContains(t, set.Result(PassApply).Err, "binding 7")
	assert.Nil(t, set.Result(PassApply).Pipeline)
	for _, p := range []Pass{PassGridClear, PassGridBuild, PassIntegrate, PassConstrain, PassCorrect} {
		assert.Equal(t, PassAbsent, set.Result(p).Status, string(p))
	}
	assert.False(t, set.Found(SpecializedPasses...))
	assert.Zero(t, inst.Journal.Count("compute.create integrate"), "absent entry points are never compiled")
}

func TestBuildPipelinesStrict(t *testing.T) {
	inst, m := readyManager(t, WithStrictPipelines(true))
	inst.EntryErrs["correct"] = errors.New("type mismatch")

	set, err := m.BuildPipelines(specializedSource)
	assert.ErrorIs(t, err, ErrPipelineCompile)
	assert.ErrorContains(t, err, "correct")
	require.NotNil(t, set)
	assert.Equal(t, PassFound, set.Result(PassState).Status)

	_, err = m.BuildPipelines(specializedSource)
	assert.ErrorIs(t, err, ErrPipelineCompile)
}

func TestBuildPipelinesStrictIgnoresAbsent(t *testing.T) {
	_, m := readyManager(t, WithStrictPipelines(true))

	_, err := m.BuildPipelines(fallbackSource)
	assert.NoError(t, err)
}

func TestBuildPipelinesIsCached(t *testing.T) {
	inst, m := readyManager(t)

	first, err := m.BuildPipelines(specializedSource)
	require.NoError(t, err)
	second, err := m.BuildPipelines(specializedSource)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, inst.Journal.Count("shader.create"))

	third, err := m.BuildPipelines(fallbackSource)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	p, _ := first.Pipeline(PassState)
	assert.True(t, p.(*hosttest.ComputePipeline).Released())
}

func TestBuildPipelinesShaderFailure(t *testing.T) {
	inst, m := readyManager(t)
	inst.ShaderErr = errors.New("parse error at 3:1")

	_, err := m.BuildPipelines(specializedSource)
	require.Error(t, err)
	assert.ErrorContains(t, err, "parse error")
	_, err = m.Pipelines()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestBuildPipelinesRequiresLayout(t *testing.T) {
	_, m := acquiredManager(t)
	_, err := m.BuildPipelines(specializedSource)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestPipelinesStaleAfterLayoutChange(t *testing.T) {
	_, m := readyManager(t)

	_, err := m.BuildPipelines(specializedSource)
	require.NoError(t, err)
	_, err = m.Pipelines()
	require.NoError(t, err)

	changed := testProgram()
	changed.Extra.AuxState = program.Slot{}
	_, err = m.BuildBindGroupLayout(changed)
	require.NoError(t, err)

	_, err = m.Pipelines()
	assert.ErrorIs(t, err, ErrStalePipelines)
	assert.ErrorIs(t, err, ErrNotReady)

	set, err := m.BuildPipelines(specializedSource)
	require.NoError(t, err)
	layout, _ := m.Layout()
	assert.Equal(t, layout.Key, set.LayoutKey)
}

func TestPassStatusString(t *testing.T) {
	assert.Equal(t, "found", PassFound.String())
	assert.Equal(t, "absent", PassAbsent.String())
	assert.Equal(t, "compile-error", PassCompileError.String())
	assert.Equal(t, "main", PassFallback.EntryPoint())
}
