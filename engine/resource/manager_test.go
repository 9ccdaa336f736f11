package resource

import (
	"context"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host/hosttest"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specializedSource = `
struct Particle { pos: vec2<f32>, vel: vec2<f32>, prev: vec2<f32>, life: f32, mass: f32 }

@group(0) @binding(0) var<storage, read_write> particles: array<Particle>;

@compute @workgroup_size(64)
fn grid_clear(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn grid_build(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn state(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn apply(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn integrate(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn constrain(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(64)
fn correct(@builtin(global_invocation_id) id: vec3<u32>) {}
`

const fallbackSource = `
@group(0) @binding(0) var<storage, read_write> particles: array<vec4<f32>>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {}
`

func testProgram() *program.Program {
	return &program.Program{
		Source: specializedSource,
		Modules: []program.ModuleLayout{
			{
				Name: "simulation", Role: program.RoleSystem, Binding: 1, ByteSize: 32, VecBlocks: 2,
				Fields: map[string]uint32{"dt": 0, "iteration": 1, "particle_count": 2, "damping": 4},
			},
			{
				Name: "attractor", Role: program.RoleForce, Binding: 2, ByteSize: 16, VecBlocks: 1,
				Fields:      map[string]uint32{"strength": 0},
				ArrayInputs: []string{"wells"},
			},
			{
				Name: "points", Role: program.RoleRender, Binding: 9, ByteSize: 16, VecBlocks: 1,
				Fields: map[string]uint32{"size": 0},
			},
		},
		Extra: program.ExtraBindings{
			ArrayStorage: map[string]uint32{"attractor": 3},
			Grid:         program.Grid(4, 5),
			AuxState:     program.At(6),
		},
	}
}

func newTestManager(t *testing.T, options ...ManagerBuilderOption) (*hosttest.Instance, Manager) {
	t.Helper()
	inst := hosttest.NewInstance()
	m := NewManager(inst, options...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Dispose().Wait(ctx)
	})
	return inst, m
}

func acquiredManager(t *testing.T, options ...ManagerBuilderOption) (*hosttest.Instance, Manager) {
	t.Helper()
	inst, m := newTestManager(t, options...)
	_, err := m.Acquire(context.Background(), nil, Capabilities{})
	require.NoError(t, err)
	return inst, m
}

// readyManager returns a manager with a layout built from testProgram and every layout buffer allocated.
func readyManager(t *testing.T, options ...ManagerBuilderOption) (*hosttest.Instance, Manager) {
	t.Helper()
	inst, m := acquiredManager(t, options...)
	layout, err := m.BuildBindGroupLayout(testProgram())
	require.NoError(t, err)
	for _, e := range layout.Entries {
		if e.Scene {
			continue
		}
		_, err := m.EnsureBuffer(e.Buffer, 64)
		require.NoError(t, err)
	}
	return inst, m
}

func TestNewManagerHoldsNothing(t *testing.T) {
	inst, m := newTestManager(t)

	_, ok := m.Context()
	assert.False(t, ok)
	_, ok = m.Layout()
	assert.False(t, ok)
	assert.False(t, m.Scene().Ready())
	assert.Empty(t, inst.Journal.Events())

	_, err := m.EnsureBuffer(ParticlesKey, 16)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = m.Sampler()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSamplerIsShared(t *testing.T) {
	inst, m := acquiredManager(t)

	a, err := m.Sampler()
	require.NoError(t, err)
	b, err := m.Sampler()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, inst.Journal.Count("sampler.create"))
}
