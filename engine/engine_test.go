package engine

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/host/hosttest"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
	"github.com/Carmen-Shannon/oxy-particles/engine/simulation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simSource = `
@group(0) @binding(0) var<storage, read_write> particles: array<vec4<f32>>;

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

const presentSource = `
@compute @workgroup_size(8, 8)
fn fade(@builtin(global_invocation_id) id: vec3<u32>) {}

@compute @workgroup_size(8, 8)
fn splat(@builtin(global_invocation_id) id: vec3<u32>) {}

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> { return vec4<f32>(0.0); }

@fragment
fn fs_main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }
`

func testProgram() *program.Program {
	return &program.Program{
		Source: simSource,
		Modules: []program.ModuleLayout{
			{
				Name: "simulation", Role: program.RoleSystem, Binding: 1, ByteSize: 32, VecBlocks: 2,
				Fields: map[string]uint32{"dt": 0, "iteration": 1, "particle_count": 2},
			},
			{
				Name: "attractor", Role: program.RoleForce, Binding: 2, ByteSize: 16, VecBlocks: 1,
				Fields:      map[string]uint32{"strength": 0, "x": 1, "y": 2},
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

func testPresent() PresentConfig {
	return PresentConfig{
		Source: presentSource,
		Stages: []ImageStage{
			{
				Label: "fade", Entry: "fade",
				Bindings: []PresentBinding{SceneBinding(0, SourceSceneCurrent), SceneBinding(1, SourceSceneOther)},
			},
			{
				Label: "splat", Entry: "splat",
				Bindings: []PresentBinding{
					BufferBinding(0, resource.ParticlesKey),
					SceneBinding(1, SourceSceneOther),
					BufferBinding(2, resource.RenderUniformKey("points")),
				},
			},
		},
		Blit: &BlitStage{
			VertexEntry:   "vs_main",
			FragmentEntry: "fs_main",
			Bindings:      []PresentBinding{SceneBinding(0, SourceSceneOther), SamplerBinding(1)},
		},
	}
}

func testParams() SimulationParams {
	return SimulationParams{
		ParticleCount:       1000,
		ParticleStride:      16,
		AuxStride:           8,
		GridCellCount:       100,
		WorkgroupSize:       64,
		ConstrainIterations: 3,
	}
}

func newTestEngine(t *testing.T, options ...EngineBuilderOption) (*hosttest.Instance, *engine) {
	t.Helper()
	inst := hosttest.NewInstance()
	base := []EngineBuilderOption{
		WithInstance(inst),
		WithProgram(testProgram()),
		WithSize(64, 32),
		WithSimulation(testParams()),
		WithPresent(testPresent()),
	}
	e, err := NewEngine(append(base, options...)...)
	require.NoError(t, err)
	eng := e.(*engine)
	t.Cleanup(eng.dispose)
	return inst, eng
}

func setupEngine(t *testing.T, options ...EngineBuilderOption) (*hosttest.Instance, *engine) {
	t.Helper()
	inst, e := newTestEngine(t, options...)
	require.NoError(t, e.Setup(context.Background()))
	return inst, e
}

func lastSubmitted(t *testing.T, inst *hosttest.Instance) *hosttest.CommandBuffer {
	t.Helper()
	devices := inst.Devices()
	require.NotEmpty(t, devices)
	submitted := devices[len(devices)-1].Queue().(*hosttest.Queue).Submitted()
	require.NotEmpty(t, submitted)
	return submitted[len(submitted)-1]
}

func labels(commands []hosttest.Command, kind hosttest.CommandKind) []string {
	var out []string
	for _, c := range commands {
		if c.Kind == kind {
			out = append(out, c.Label)
		}
	}
	return out
}

func float32At(data []byte, index int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[index*4:]))
}

func TestNewEngineRequiresInstanceAndProgram(t *testing.T) {
	_, err := NewEngine(WithProgram(testProgram()))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(WithInstance(hosttest.NewInstance()))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWithSimulationKeepsDefaults(t *testing.T) {
	_, e := newTestEngine(t, WithSimulation(SimulationParams{ParticleCount: 10}))
	assert.Equal(t, uint64(16), e.params.ParticleStride)
	assert.Equal(t, uint32(64), e.params.WorkgroupSize)
	assert.Equal(t, uint32(1), e.params.ConstrainIterations)
}

func TestSetupAllocatesLayoutBuffers(t *testing.T) {
	wells := make([]byte, 48)
	_, e := setupEngine(t, WithArray("attractor", wells))
	m := e.Manager()

	capacity := func(key resource.BufferKey) uint64 {
		h, ok := m.Buffer(key)
		require.True(t, ok, "missing %s", key)
		return h.Capacity
	}
	assert.Equal(t, uint64(16000), capacity(resource.ParticlesKey))
	assert.Equal(t, uint64(400), capacity(resource.GridCountsKey))
	assert.Equal(t, uint64(4000), capacity(resource.GridIndicesKey))
	assert.Equal(t, uint64(8000), capacity(resource.AuxStateKey))
	assert.Equal(t, uint64(32), capacity(resource.UniformKey("simulation")))
	assert.Equal(t, uint64(48), capacity(resource.ArrayStorageKey("attractor")))
	assert.Equal(t, uint64(16), capacity(resource.RenderUniformKey("points")))

	scene := m.Scene()
	assert.True(t, scene.Ready())
	assert.Equal(t, uint32(64), scene.Width)
	assert.Equal(t, uint32(32), scene.Height)

	set, err := m.Pipelines()
	require.NoError(t, err)
	assert.True(t, set.Found(resource.SpecializedPasses...))
}

func TestSetupUploadsParticles(t *testing.T) {
	seed := make([]byte, 16000)
	for i := range seed {
		seed[i] = byte(i)
	}
	inst, e := setupEngine(t, WithParticles(seed))

	h, ok := e.Manager().Buffer(resource.ParticlesKey)
	require.True(t, ok)
	assert.Equal(t, seed, h.Buffer.(*hosttest.Buffer).Bytes())
	assert.Positive(t, inst.Journal.Count("queue.write"))
}

func TestFrameBeforeSetupIsNotReady(t *testing.T) {
	_, e := newTestEngine(t)
	_, err := e.Frame(context.Background())
	assert.ErrorIs(t, err, resource.ErrNotReady)
}

func TestFrameRecordsStepThenStages(t *testing.T) {
	inst, e := setupEngine(t)

	result, err := e.Frame(context.Background())
	require.NoError(t, err)

	assert.Equal(t, simulation.PathSpecialized, result.Path)
	assert.Len(t, result.Dispatches, 9)
	assert.Equal(t, 2, result.Stages)
	assert.False(t, result.Presented, "headless frames never present")

	cb := lastSubmitted(t, inst)
	assert.Equal(t, []string{
		"grid_clear", "grid_build", "state", "apply", "integrate",
		"constrain", "constrain", "constrain", "correct",
		"fade", "splat",
	}, labels(cb.Commands, hosttest.CommandDispatch))
	assert.Len(t, labels(cb.Commands, hosttest.CommandCopy), 3)
	assert.Empty(t, labels(cb.Commands, hosttest.CommandDraw))

	var groups [][3]uint32
	for _, c := range cb.Commands {
		if c.Kind == hosttest.CommandDispatch {
			groups = append(groups, c.Groups)
		}
	}
	assert.Equal(t, [3]uint32{2, 1, 1}, groups[0], "grid clear covers 100 cells")
	assert.Equal(t, [3]uint32{16, 1, 1}, groups[1])
	assert.Equal(t, [3]uint32{8, 4, 1}, groups[9], "image stages cover 64x32 in 8x8 tiles")
	assert.Equal(t, [3]uint32{8, 4, 1}, groups[10])
}

func TestFrameReleasesBindGroupsAfterSubmit(t *testing.T) {
	inst, e := setupEngine(t)

	_, err := e.Frame(context.Background())
	require.NoError(t, err)

	for _, c := range lastSubmitted(t, inst).Commands {
		if c.Kind != hosttest.CommandDispatch {
			continue
		}
		bg, ok := c.BindGroup.(*hosttest.BindGroup)
		require.True(t, ok)
		assert.True(t, bg.Released(), "%s bind group", c.Label)
	}
}

func TestFrameSwapsScene(t *testing.T) {
	_, e := setupEngine(t)
	before := e.Manager().Scene()
	require.Equal(t, resource.SceneA, before.Selector)

	r1, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resource.SceneB, r1.Scene)
	assert.Same(t, before.Other, e.Manager().Scene().Current)

	r2, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resource.SceneA, r2.Scene)
	assert.Equal(t, uint64(1), r2.Index)
}

func TestFrameBindsScenePerStage(t *testing.T) {
	inst, e := setupEngine(t)
	scene := e.Manager().Scene()

	_, err := e.Frame(context.Background())
	require.NoError(t, err)

	var fade, splat *hosttest.BindGroup
	for _, c := range lastSubmitted(t, inst).Commands {
		switch c.Label {
		case "fade":
			fade = c.BindGroup.(*hosttest.BindGroup)
		case "splat":
			splat = c.BindGroup.(*hosttest.BindGroup)
		}
	}
	require.NotNil(t, fade)
	require.NotNil(t, splat)

	in, ok := fade.Entry(0)
	require.True(t, ok)
	assert.Same(t, scene.Current, in.TextureView)
	out, ok := fade.Entry(1)
	require.True(t, ok)
	assert.Same(t, scene.Other, out.TextureView)

	particles, ok := splat.Entry(0)
	require.True(t, ok)
	h, _ := e.Manager().Buffer(resource.ParticlesKey)
	assert.Same(t, h.Buffer, particles.Buffer)
	assert.Equal(t, host.WholeSize, particles.Size)
}

func TestFrameWithSurfacePresents(t *testing.T) {
	inst := hosttest.NewInstance()
	surface := hosttest.NewSurface(inst.Journal)
	e, err := NewEngine(
		WithInstance(inst),
		WithSurface(surface),
		WithProgram(testProgram()),
		WithSize(64, 32),
		WithSimulation(testParams()),
		WithPresent(testPresent()),
	)
	require.NoError(t, err)
	t.Cleanup(e.(*engine).dispose)
	require.NoError(t, e.Setup(context.Background()))
	scene := e.Manager().Scene()

	result, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Presented)

	cb := lastSubmitted(t, inst)
	last := cb.Commands[len(cb.Commands)-1]
	require.Equal(t, hosttest.CommandDraw, last.Kind)
	assert.Equal(t, uint32(3), last.VertexCount)
	assert.Equal(t, host.TextureFormatBGRA8Unorm, last.RenderPipeline.Format)
	src, ok := last.BindGroup.(*hosttest.BindGroup).Entry(0)
	require.True(t, ok)
	assert.Same(t, scene.Other, src.TextureView, "the blit shows the scene the stages wrote")

	j := inst.Journal
	assert.Equal(t, 1, j.Count("surface.present"))
	assert.Less(t, j.Last("queue.submit"), j.First("surface.present"))
}

func TestFrameWritesUniforms(t *testing.T) {
	var infos []FrameInfo
	_, e := setupEngine(t, WithUniforms(func(info FrameInfo) map[string]map[string]float32 {
		infos = append(infos, info)
		return map[string]map[string]float32{
			"simulation": {"dt": 0.5, "particle_count": 1000},
			"attractor":  {"strength": 2, "x": 10},
			"points":     {"size": 3},
		}
	}))

	_, err := e.Frame(context.Background())
	require.NoError(t, err)
	_, err = e.Frame(context.Background())
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, uint64(0), infos[0].Index)
	assert.Equal(t, uint64(1), infos[1].Index)
	assert.Equal(t, uint32(64), infos[0].Width)
	assert.Equal(t, uint32(3), infos[0].Iterations)

	bytesOf := func(key resource.BufferKey) []byte {
		h, ok := e.Manager().Buffer(key)
		require.True(t, ok)
		return h.Buffer.(*hosttest.Buffer).Bytes()
	}
	sim := bytesOf(resource.UniformKey("simulation"))
	assert.Equal(t, float32(0.5), float32At(sim, 0))
	assert.Equal(t, float32(2), float32At(sim, 1), "the last constrain copy leaves the final iteration")
	assert.Equal(t, float32(1000), float32At(sim, 2))

	attractor := bytesOf(resource.UniformKey("attractor"))
	assert.Equal(t, float32(2), float32At(attractor, 0))
	assert.Equal(t, float32(10), float32At(attractor, 1))

	assert.Equal(t, float32(3), float32At(bytesOf(resource.RenderUniformKey("points")), 0))
}

func TestFrameUnknownUniformFails(t *testing.T) {
	_, e := setupEngine(t, WithUniforms(func(FrameInfo) map[string]map[string]float32 {
		return map[string]map[string]float32{"simulation": {"nope": 1}}
	}))
	_, err := e.Frame(context.Background())
	assert.Error(t, err)
}

func TestFramePausedSkipsStep(t *testing.T) {
	inst, e := setupEngine(t)
	e.SetPaused(true)
	assert.True(t, e.Paused())

	result, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simulation.PathNone, result.Path)
	assert.Empty(t, result.Dispatches)
	assert.Equal(t, []string{"fade", "splat"}, labels(lastSubmitted(t, inst).Commands, hosttest.CommandDispatch))

	e.SetPaused(false)
	result, err = e.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simulation.PathSpecialized, result.Path)
}

func TestSetConstrainIterations(t *testing.T) {
	_, e := setupEngine(t)

	e.SetConstrainIterations(0)
	result, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.Len(t, constrains(result), 1)

	e.SetConstrainIterations(5)
	result, err = e.Frame(context.Background())
	require.NoError(t, err)
	assert.Len(t, constrains(result), 5)
}

func constrains(result *FrameResult) []simulation.Dispatch {
	var out []simulation.Dispatch
	for _, d := range result.Dispatches {
		if d.Pass == resource.PassConstrain {
			out = append(out, d)
		}
	}
	return out
}

func TestWithOrchestratorReplacesDefault(t *testing.T) {
	orch := simulation.NewOrchestrator(simulation.WithIterationField("simulation", "pass_index"))
	inst, e := setupEngine(t, WithOrchestrator(orch))

	result, err := e.Frame(context.Background())
	require.NoError(t, err)

	assert.Len(t, constrains(result), 3)
	assert.Empty(t, labels(lastSubmitted(t, inst).Commands, hosttest.CommandCopy), "an undeclared iteration field stages no copies")
}

func TestResizeAppliesOnNextFrame(t *testing.T) {
	inst := hosttest.NewInstance()
	surface := hosttest.NewSurface(inst.Journal)
	e, err := NewEngine(
		WithInstance(inst),
		WithSurface(surface),
		WithProgram(testProgram()),
		WithSize(64, 32),
		WithSimulation(testParams()),
		WithPresent(testPresent()),
	)
	require.NoError(t, err)
	t.Cleanup(e.(*engine).dispose)
	require.NoError(t, e.Setup(context.Background()))

	e.Resize(0, 10)
	e.Resize(128, 64)
	assert.Equal(t, uint32(64), e.Manager().Scene().Width, "resizes wait for the next frame")

	result, err := e.Frame(context.Background())
	require.NoError(t, err)
	scene := e.Manager().Scene()
	assert.Equal(t, uint32(128), scene.Width)
	assert.Equal(t, uint32(64), scene.Height)
	assert.Equal(t, 1, inst.Journal.Count("surface.configure 128x64"))
	assert.Equal(t, resource.SceneB, result.Scene)

	cb := lastSubmitted(t, inst)
	for _, c := range cb.Commands {
		if c.Label == "fade" {
			assert.Equal(t, [3]uint32{16, 8, 1}, c.Groups)
		}
	}
}

func TestSetParticlesGrowsBuffer(t *testing.T) {
	_, e := setupEngine(t)
	before, _ := e.Manager().Buffer(resource.ParticlesKey)

	require.NoError(t, e.SetParticles(make([]byte, 40000)))
	after, _ := e.Manager().Buffer(resource.ParticlesKey)
	assert.GreaterOrEqual(t, after.Capacity, uint64(40000))
	assert.NotEqual(t, before.Generation, after.Generation)

	_, err := e.Frame(context.Background())
	assert.NoError(t, err, "steps rebind the replaced buffer")
}

func TestFrameRebuildsStalePipelines(t *testing.T) {
	inst, e := setupEngine(t)

	moved := testProgram()
	moved.Extra.AuxState = program.Slot{}
	_, err := e.Manager().BuildBindGroupLayout(moved)
	require.NoError(t, err)
	_, err = e.Manager().Pipelines()
	require.ErrorIs(t, err, resource.ErrStalePipelines)

	result, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simulation.PathSpecialized, result.Path)
	assert.Equal(t, 2, inst.Journal.Count("shader.create simulation"))
}

func TestFrameBindsSceneForSceneReaders(t *testing.T) {
	p := testProgram()
	p.Modules[1].SceneRead = true
	p.Extra.SceneTexture = program.At(7)
	inst, e := setupEngine(t, WithProgram(p))
	scene := e.Manager().Scene()

	_, err := e.Frame(context.Background())
	require.NoError(t, err)

	step := lastSubmitted(t, inst).Commands[0]
	require.Equal(t, "grid_clear", step.Label)
	entry, ok := step.BindGroup.(*hosttest.BindGroup).Entry(7)
	require.True(t, ok)
	assert.Same(t, scene.Current, entry.TextureView)
}

func TestReadback(t *testing.T) {
	seed := make([]byte, 16000)
	for i := range seed {
		seed[i] = byte(i * 7)
	}
	var got [][]byte
	_, e := setupEngine(t,
		WithParticles(seed),
		WithReadback(time.Nanosecond, func(data []byte) { got = append(got, data) }),
	)

	_, err := e.Frame(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, seed, got[0])
}

func TestReadbackDisabledByDefault(t *testing.T) {
	inst, e := setupEngine(t)
	_, err := e.Frame(context.Background())
	require.NoError(t, err)
	assert.Zero(t, inst.Journal.Count("buffer.map"))
}

func TestRunHeadlessStopsAfterMaxFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	require.NoError(t, err)

	var frames []uint64
	inst, e := newTestEngine(t,
		WithMaxFrames(3),
		WithMetrics(collectors),
		WithProfiling(true, time.Hour),
		WithFrameCallback(func(r *FrameResult) { frames = append(frames, r.Index) }),
	)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []uint64{0, 1, 2}, frames)
	assert.Equal(t, 3.0, testutil.ToFloat64(collectors.Frames.WithLabelValues("ok")))
	assert.True(t, inst.Devices()[0].Destroyed(), "run disposes on exit")
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Teardowns))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := 0
	inst, e := newTestEngine(t, WithFrameCallback(func(*FrameResult) {
		frames++
		if frames == 2 {
			cancel()
		}
	}))

	require.NoError(t, e.Run(ctx))
	assert.GreaterOrEqual(t, frames, 2)
	assert.True(t, inst.Devices()[0].Destroyed())
}

func TestRunReturnsFrameError(t *testing.T) {
	present := testPresent()
	present.Stages[0].Entry = "missing"
	inst, e := newTestEngine(t, WithPresent(present))

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, hosttest.ErrEntryPointNotFound)
	assert.True(t, inst.Devices()[0].Destroyed())
}

func TestRunReturnsSetupError(t *testing.T) {
	inst, e := newTestEngine(t)
	inst.NoAdapter = true

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, resource.ErrAdapterUnavailable)
}

type fakeDisplay struct {
	width, height int
	update        func()
	resize        func(width, height int)
	iterations    int
}

func (d *fakeDisplay) SetUpdateCallback(callback func())                   { d.update = callback }
func (d *fakeDisplay) SetResizeCallback(callback func(width, height int)) { d.resize = callback }
func (d *fakeDisplay) Width() int                                          { return d.width }
func (d *fakeDisplay) Height() int                                         { return d.height }

func (d *fakeDisplay) ProcessMessages(stop <-chan struct{}) {
	for range 100 {
		select {
		case <-stop:
			return
		default:
		}
		if d.iterations == 1 && d.resize != nil {
			d.resize(96, 48)
		}
		if d.update != nil {
			d.update()
		}
		d.iterations++
	}
}

func TestRunWithDisplay(t *testing.T) {
	d := &fakeDisplay{width: 80, height: 40}
	var sizes [][2]uint32
	_, e := newTestEngine(t,
		WithDisplay(d),
		WithMaxFrames(3),
		WithUniforms(func(info FrameInfo) map[string]map[string]float32 {
			sizes = append(sizes, [2]uint32{info.Width, info.Height})
			return nil
		}),
	)
	assert.Equal(t, uint32(80), e.width, "the display size replaces the configured size")

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, d.iterations)
	assert.Equal(t, [][2]uint32{{80, 40}, {96, 48}, {96, 48}}, sizes)
	assert.Nil(t, d.update, "the update callback is cleared on exit")
}
