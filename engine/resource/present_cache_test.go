package resource

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/host/hosttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const presentSource = `
@vertex fn vs(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> { return vec4<f32>(0.0); }
@fragment fn blit() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }
@fragment fn tint() -> @location(0) vec4<f32> { return vec4<f32>(0.5); }
@compute @workgroup_size(8, 8) fn fade(@builtin(global_invocation_id) id: vec3<u32>) {}
@compute @workgroup_size(8, 8) fn splat(@builtin(global_invocation_id) id: vec3<u32>) {}
`

func TestRenderPipelineCacheIdentity(t *testing.T) {
	inst, m := acquiredManager(t)

	spec := RenderPassSpec{Label: "blit", Source: presentSource, VertexEntry: "vs", FragmentEntry: "blit", ArrayInputs: []string{"b", "a"}}
	first, err := m.CopyToSurfacePipeline(spec)
	require.NoError(t, err)

	spec.ArrayInputs = []string{"a", "b", "a"}
	second, err := m.CopyToSurfacePipeline(spec)
	require.NoError(t, err)
	assert.Same(t, first, second, "array inputs are compared in canonical form")

	spec.FragmentEntry = "tint"
	third, err := m.CopyToSurfacePipeline(spec)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	spec.FragmentStorage = true
	fourth, err := m.CopyToSurfacePipeline(spec)
	require.NoError(t, err)
	assert.NotSame(t, third, fourth)

	assert.Equal(t, 3, inst.Journal.Count("render.create"))
	assert.Equal(t, 1, inst.Journal.Count("shader.create"), "one module per source")
}

func TestRenderPipelineArrayInputsKeepNamesApart(t *testing.T) {
	inst, m := acquiredManager(t)

	spec := RenderPassSpec{Label: "blit", Source: presentSource, VertexEntry: "vs", FragmentEntry: "blit", ArrayInputs: []string{"a,b"}}
	joined, err := m.FullscreenPipeline(spec)
	require.NoError(t, err)

	spec.ArrayInputs = []string{"a", "b"}
	split, err := m.FullscreenPipeline(spec)
	require.NoError(t, err)
	assert.NotSame(t, joined, split)

	spec.ArrayInputs = []string{"ab"}
	merged, err := m.FullscreenPipeline(spec)
	require.NoError(t, err)
	assert.NotSame(t, split, merged)
	assert.Equal(t, 3, inst.Journal.Count("render.create"))
}

func TestBindingsKeyCanonicalForm(t *testing.T) {
	assert.Equal(t, bindingsKey([]string{"b", "a", "a"}, false), bindingsKey([]string{"a", "b"}, false))
	assert.Equal(t, 2, bindingsKey([]string{"b", "a", "a"}, false).ArrayCount)
	assert.NotEqual(t, bindingsKey([]string{"a,b"}, false), bindingsKey([]string{"a", "b"}, false))
	assert.NotEqual(t, bindingsKey(nil, false), bindingsKey([]string{""}, false))
}

func TestRenderPipelineKindsAreSeparate(t *testing.T) {
	_, m := acquiredManager(t)

	spec := RenderPassSpec{Label: "quad", Source: presentSource, VertexEntry: "vs", FragmentEntry: "blit"}
	copyPipeline, err := m.CopyToSurfacePipeline(spec)
	require.NoError(t, err)
	fullscreen, err := m.FullscreenPipeline(spec)
	require.NoError(t, err)
	assert.NotSame(t, copyPipeline, fullscreen)

	again, err := m.FullscreenPipeline(spec)
	require.NoError(t, err)
	assert.Same(t, fullscreen, again)
}

func TestRenderPipelineTargetsContextFormat(t *testing.T) {
	_, m := acquiredManager(t)

	p, err := m.FullscreenPipeline(RenderPassSpec{Source: presentSource, VertexEntry: "vs", FragmentEntry: "blit"})
	require.NoError(t, err)
	assert.Equal(t, host.TextureFormatRGBA8Unorm, p.(*hosttest.RenderPipeline).Format)

	q, err := m.FullscreenPipeline(RenderPassSpec{Source: presentSource, VertexEntry: "vs", FragmentEntry: "blit", TargetFormat: host.TextureFormatRGBA16Float})
	require.NoError(t, err)
	assert.NotSame(t, p, q)
}

func TestImageComputePipelineCache(t *testing.T) {
	inst, m := acquiredManager(t)

	fade, err := m.ImageComputePipeline(ImageComputeSpec{Label: "fade", Source: presentSource, Entry: "fade"})
	require.NoError(t, err)
	again, err := m.ImageComputePipeline(ImageComputeSpec{Label: "fade", Source: presentSource, Entry: "fade"})
	require.NoError(t, err)
	assert.Same(t, fade, again)

	splat, err := m.ImageComputePipeline(ImageComputeSpec{Label: "splat", Source: presentSource, Entry: "splat"})
	require.NoError(t, err)
	assert.NotSame(t, fade, splat)
	assert.Nil(t, splat.(*hosttest.ComputePipeline).Layout, "image compute pipelines use auto layouts")
	assert.Equal(t, 2, inst.Journal.Count("compute.create"))
}

func TestPresentPipelineErrors(t *testing.T) {
	_, m := newTestManager(t)
	_, err := m.CopyToSurfacePipeline(RenderPassSpec{Source: presentSource, VertexEntry: "vs", FragmentEntry: "blit"})
	assert.ErrorIs(t, err, ErrNotReady)

	_, m = acquiredManager(t)
	_, err = m.ImageComputePipeline(ImageComputeSpec{Source: presentSource, Entry: "missing"})
	assert.ErrorIs(t, err, hosttest.ErrEntryPointNotFound)
}
