package resource

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/host/hosttest"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/uniform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepBindingsRequiresBuffers(t *testing.T) {
	_, m := acquiredManager(t)

	_, err := m.StepBindings()
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = m.BuildBindGroupLayout(testProgram())
	require.NoError(t, err)
	_, err = m.StepBindings()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorContains(t, err, "particles")
}

func TestStepBindingsBindsCurrentBuffers(t *testing.T) {
	_, m := readyManager(t)

	bg, err := m.StepBindings()
	require.NoError(t, err)
	defer bg.Release()

	fake := bg.Group.(*hosttest.BindGroup)
	layout, _ := m.Layout()
	assert.Same(t, layout.Handle, fake.Layout)
	require.Len(t, fake.Entries, len(layout.Entries))

	particles, _ := m.Buffer(ParticlesKey)
	entry, ok := fake.Entry(program.ParticleBinding)
	require.True(t, ok)
	assert.Same(t, particles.Buffer, entry.Buffer)
	assert.Equal(t, host.WholeSize, entry.Size)
	assert.Equal(t, particles.Generation, bg.Generations[ParticlesKey])
	assert.False(t, m.IsStale(bg))
}

func TestStepBindingsAreFreshEachCall(t *testing.T) {
	inst, m := readyManager(t)

	a, err := m.StepBindings()
	require.NoError(t, err)
	b, err := m.StepBindings()
	require.NoError(t, err)
	assert.NotSame(t, a.Group, b.Group)
	assert.Equal(t, 2, inst.Journal.Count("bindgroup.create"))

	a.Release()
	assert.True(t, a.Group.(*hosttest.BindGroup).Released())
}

func TestIsStaleAfterResize(t *testing.T) {
	_, m := readyManager(t)

	bg, err := m.StepBindings()
	require.NoError(t, err)

	_, err = m.EnsureBuffer(ParticlesKey, 64)
	require.NoError(t, err)
	assert.False(t, m.IsStale(bg), "reuse keeps the generation")

	_, err = m.EnsureBuffer(ParticlesKey, 4096)
	require.NoError(t, err)
	assert.True(t, m.IsStale(bg))
	assert.True(t, m.IsStale(nil))
}

func TestStepBindingsSceneTexture(t *testing.T) {
	_, m := acquiredManager(t)

	p := testProgram()
	p.Modules[0].SceneRead = true
	p.Extra.SceneTexture = program.At(7)
	layout, err := m.BuildBindGroupLayout(p)
	require.NoError(t, err)
	for _, e := range layout.Entries {
		if !e.Scene {
			_, err := m.EnsureBuffer(e.Buffer, 64)
			require.NoError(t, err)
		}
	}

	_, err = m.StepBindings()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorContains(t, err, "scene")

	view, err := m.EnsureSceneTextures(16, 16)
	require.NoError(t, err)
	bg, err := m.StepBindings()
	require.NoError(t, err)
	entry, ok := bg.Group.(*hosttest.BindGroup).Entry(7)
	require.True(t, ok)
	assert.Same(t, view.Current, entry.TextureView)
}

func TestStageUniformSeries(t *testing.T) {
	_, m := readyManager(t)
	require.NoError(t, m.WriteUniforms("simulation", map[string]float32{"dt": 0.016, "particle_count": 1000}))

	series, err := m.StageUniformSeries("simulation", "iteration", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, series.Count)
	assert.Equal(t, uint64(32), series.Size)
	assert.Equal(t, uint64(32), series.Stride)
	assert.Equal(t, UniformKey("simulation"), series.Target.Key)
	assert.Equal(t, uint64(64), series.Offset(2))

	staged := series.Staging.Buffer.(*hosttest.Buffer).Bytes()
	for i := range 3 {
		values := uniform.Floats(staged[series.Offset(i) : series.Offset(i)+series.Size])
		assert.Equal(t, float32(0.016), values[0])
		assert.Equal(t, float32(i), values[1])
		assert.Equal(t, float32(1000), values[2])
	}
}

func TestStageUniformSeriesUnknownField(t *testing.T) {
	_, m := readyManager(t)

	_, err := m.StageUniformSeries("simulation", "missing", 2)
	assert.ErrorIs(t, err, uniform.ErrUnknownField)
	_, err = m.StageUniformSeries("missing", "iteration", 2)
	assert.ErrorIs(t, err, uniform.ErrUnknownModule)
}

func TestStageUniformSeriesRespectsBufferLimit(t *testing.T) {
	inst, m := readyManager(t)
	staged := inst.Journal.Count("queue.write")

	_, err := m.StageUniformSeries("simulation", "iteration", 1<<30)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, staged, inst.Journal.Count("queue.write"))
	_, ok := m.Buffer(IterationStagingKey)
	assert.False(t, ok)
}

func TestStageUniformSeriesAtLeastOnce(t *testing.T) {
	_, m := readyManager(t)

	series, err := m.StageUniformSeries("simulation", "iteration", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, series.Count)
}
