package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/config"
	"github.com/Carmen-Shannon/oxy-particles/engine"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
)

//go:embed shaders/particles.wgsl
var simulationSource string

//go:embed shaders/present.wgsl
var presentSource string

const (
	// particleStride is one Particle record: pos and vel as vec2<f32>.
	particleStride = 16
	// auxStride is one previous-position record.
	auxStride = 8
	// wellStride is one Well record: x, y, strength, radius.
	wellStride = int(unsafe.Sizeof(well{}))

	// pixelsPerUnit scales configured gravity from world units to pixels.
	pixelsPerUnit = 40.0

	attractorStrength = 6.0e5
	attractorFalloff  = 24.0
	speedScale        = 0.004
)

// Module names of the built-in simulation program.
const (
	moduleSimulation = "simulation"
	moduleAttractor  = "attractor"
	modulePoints     = "points"
)

// newProgram describes the compute layout of source. source must declare the bindings of shaders/particles.wgsl.
func newProgram(source string) *program.Program {
	return &program.Program{
		Source: source,
		Modules: []program.ModuleLayout{
			{
				Name: moduleSimulation, Role: program.RoleSystem, Binding: 1, ByteSize: 48, VecBlocks: 3,
				Fields: map[string]uint32{
					"dt": 0, "iteration": 1, "particle_count": 2, "damping": 3,
					"gravity_x": 4, "gravity_y": 5, "bounds_w": 6, "bounds_h": 7,
					"cell_size": 8, "grid_w": 9, "grid_h": 10, "radius": 11,
				},
			},
			{
				Name: moduleAttractor, Role: program.RoleForce, Binding: 2, ByteSize: 32, VecBlocks: 2,
				Fields: map[string]uint32{
					"x": 0, "y": 1, "strength": 2, "active": 3,
					"well_count": 4, "falloff": 5,
				},
				ArrayInputs: []string{"wells"},
			},
			{
				Name: modulePoints, Role: program.RoleRender, Binding: 2, ByteSize: 32, VecBlocks: 2,
				Fields: map[string]uint32{
					"size": 0, "fade": 1, "count": 2, "speed_scale": 3,
					"color_r": 4, "color_g": 5, "color_b": 6, "color_a": 7,
				},
			},
		},
		Extra: program.ExtraBindings{
			ArrayStorage: map[string]uint32{moduleAttractor: 3},
			Grid:         program.Grid(4, 5),
			AuxState:     program.At(6),
		},
	}
}

// loadProgram returns the built-in program, or one compiled from the WGSL file at path.
func loadProgram(path string) (*program.Program, error) {
	source := simulationSource
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading shader file: %w", err)
		}
		source = string(data)
	}
	p := newProgram(source)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// newPresent fades the previous scene into the other texture, splats the particles on top, then blits it.
func newPresent() engine.PresentConfig {
	points := resource.RenderUniformKey(modulePoints)
	return engine.PresentConfig{
		Source: presentSource,
		Stages: []engine.ImageStage{
			{
				Label: "fade",
				Entry: "fade",
				Bindings: []engine.PresentBinding{
					engine.SceneBinding(0, engine.SourceSceneCurrent),
					engine.SceneBinding(1, engine.SourceSceneOther),
					engine.BufferBinding(2, points),
				},
			},
			{
				Label: "splat",
				Entry: "splat",
				Bindings: []engine.PresentBinding{
					engine.SceneBinding(1, engine.SourceSceneOther),
					engine.BufferBinding(2, points),
					engine.BufferBinding(3, resource.ParticlesKey),
				},
			},
		},
		Blit: &engine.BlitStage{
			VertexEntry:   "vs_main",
			FragmentEntry: "fs_main",
			Bindings: []engine.PresentBinding{
				engine.SceneBinding(4, engine.SourceSceneOther),
				engine.SamplerBinding(5),
			},
		},
	}
}

// well is a fixed gravity well.
type well struct {
	X, Y     float32
	Strength float32
	Radius   float32
}

// defaultWells places two wells on the horizontal midline.
func defaultWells(boundsW, boundsH float32) []well {
	return []well{
		{X: boundsW / 3, Y: boundsH / 2, Strength: 2.0e5, Radius: 40},
		{X: 2 * boundsW / 3, Y: boundsH / 2, Strength: 2.0e5, Radius: 40},
	}
}

// packWells encodes wells as the array storage of the attractor module.
// well matches the WGSL Well layout, so the slice memory is uploaded as is.
func packWells(wells []well) []byte {
	return bytes.Clone(common.SliceToBytes(wells))
}

// controls is the pointer state shared between the window callbacks and the uniforms callback.
type controls struct {
	mu      sync.Mutex
	x, y    float32
	pressed bool
}

func (c *controls) setCursor(x, y float32, pressed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x, c.y, c.pressed = x, y, pressed
}

func (c *controls) cursor() (x, y float32, pressed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y, c.pressed
}

// newUniforms maps the configuration and pointer state onto the program's uniform fields every frame.
func newUniforms(cfg *config.Config, ctl *controls, wellCount int) engine.UniformsFunc {
	sim := cfg.Simulation
	d := cfg.Derived
	return func(info engine.FrameInfo) map[string]map[string]float32 {
		x, y, pressed := ctl.cursor()
		active := float32(0)
		if pressed && info.Width > 0 && info.Height > 0 {
			active = 1
			// Cursor is top-left origin in framebuffer pixels; the simulation is bottom-left in bounds units.
			x = x * d.BoundsW / float32(info.Width)
			y = (float32(info.Height) - y) * d.BoundsH / float32(info.Height)
		}

		return map[string]map[string]float32{
			moduleSimulation: {
				"dt":             d.DT32,
				"particle_count": float32(sim.ParticleCount),
				"damping":        float32(sim.Damping),
				"gravity_x":      float32(sim.Gravity[0] * pixelsPerUnit),
				"gravity_y":      float32(sim.Gravity[1] * pixelsPerUnit),
				"bounds_w":       d.BoundsW,
				"bounds_h":       d.BoundsH,
				"cell_size":      float32(sim.GridCellSize),
				"grid_w":         float32(d.GridW),
				"grid_h":         float32(d.GridH),
				"radius":         float32(sim.ParticleRadius),
			},
			moduleAttractor: {
				"x":          x,
				"y":          y,
				"strength":   attractorStrength,
				"active":     active,
				"well_count": float32(wellCount),
				"falloff":    attractorFalloff,
			},
			modulePoints: {
				"size":        float32(sim.ParticleRadius),
				"fade":        float32(sim.Fade),
				"count":       float32(sim.ParticleCount),
				"speed_scale": speedScale,
				"color_r":     0.25,
				"color_g":     0.55,
				"color_b":     1.0,
				"color_a":     1.0,
			},
		}
	}
}
