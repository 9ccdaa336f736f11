package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProgram() *Program {
	return &Program{
		Modules: []ModuleLayout{
			{Name: "simulation", Role: RoleSystem, Binding: 1, VecBlocks: 2, ByteSize: 32, Fields: map[string]uint32{"dt": 0, "iteration": 1}},
			{Name: "wind", Role: RoleForce, Binding: 2, VecBlocks: 1, ByteSize: 16, ArrayInputs: []string{"gusts"}},
			{Name: "points", Role: RoleRender, Binding: 2, VecBlocks: 1, ByteSize: 16},
		},
		Extra: ExtraBindings{
			ArrayStorage: map[string]uint32{"wind": 3},
			Grid:         Grid(4, 5),
			AuxState:     At(6),
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid program with render module sharing an index", func(t *testing.T) {
		require.NoError(t, validProgram().Validate())
	})

	t.Run("duplicate binding", func(t *testing.T) {
		p := validProgram()
		p.Extra.AuxState = At(2)
		assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
	})

	t.Run("particle binding is reserved", func(t *testing.T) {
		p := validProgram()
		p.Modules[0].Binding = ParticleBinding
		assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
	})

	t.Run("arrays without binding", func(t *testing.T) {
		p := validProgram()
		delete(p.Extra.ArrayStorage, "wind")
		assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
	})

	t.Run("scene read without texture slot", func(t *testing.T) {
		p := validProgram()
		p.Modules[1].SceneRead = true
		assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
		p.Extra.SceneTexture = At(7)
		assert.NoError(t, p.Validate())
	})

	t.Run("field beyond block", func(t *testing.T) {
		p := validProgram()
		p.Modules[0].Fields["late"] = 8
		assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
	})
}

func TestComputeModules(t *testing.T) {
	p := validProgram()
	mods := p.ComputeModules()
	require.Len(t, mods, 2)
	assert.Equal(t, "simulation", mods[0].Name)
	assert.Equal(t, "wind", mods[1].Name)
	assert.False(t, p.ReadsScene())
}

func TestCanonicalArrayKey(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, CanonicalArrayKey([]string{"c", "a", "b", "a"}))
	assert.Empty(t, CanonicalArrayKey(nil))
}

func TestComputeEntryPoints(t *testing.T) {
	src := `
struct P { pos: vec2f }
@compute @workgroup_size(64)
fn state(@builtin(global_invocation_id) id: vec3u) {}

// @compute @workgroup_size(8) fn commented() {}
/* @compute fn blocked() { /* nested */ } */

@compute
@workgroup_size(8, 8)
fn grid_clear(@builtin(global_invocation_id) id: vec3u) {}

fn helper() {}

@compute @workgroup_size(WG) fn main() {}
`
	eps := ComputeEntryPoints(src)
	require.Len(t, eps, 3)
	assert.Equal(t, [3]uint32{64, 1, 1}, eps["state"].WorkgroupSize)
	assert.Equal(t, [3]uint32{8, 8, 1}, eps["grid_clear"].WorkgroupSize)
	assert.Equal(t, [3]uint32{1, 1, 1}, eps["main"].WorkgroupSize)
	assert.NotContains(t, eps, "commented")
	assert.NotContains(t, eps, "blocked")
	assert.NotContains(t, eps, "helper")
}
