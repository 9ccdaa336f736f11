// Package program describes the compiled simulation Program consumed by the resource layer:
// combined kernel source plus per-module uniform layouts and pre-assigned extra bindings.
package program

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidProgram is returned when binding metadata is inconsistent.
var ErrInvalidProgram = errors.New("invalid program")

// ParticleBinding is the fixed binding index of the particle storage buffer.
const ParticleBinding uint32 = 0

// Role tags how a module participates in the simulation.
type Role string

const (
	// RoleSystem marks internal system modules (integration, constraints, bounds).
	RoleSystem Role = "internal-system"
	// RoleForce marks modules that contribute forces.
	RoleForce Role = "force"
	// RoleRender marks render-only modules; they never appear in the compute layout.
	RoleRender Role = "render"
)

// Computes reports whether modules of this role own a uniform slot in the compute layout.
func (r Role) Computes() bool {
	return r == RoleSystem || r == RoleForce
}

// ModuleLayout is the uniform layout and binding metadata of one module.
type ModuleLayout struct {
	// Name identifies the module; it keys uniform and array buffers.
	Name string
	Role Role

	// Binding is the module's uniform binding index.
	Binding uint32

	// ByteSize is the size of the module's uniform block in bytes.
	ByteSize uint64

	// Fields maps a field name to its flat float32 offset within the block.
	Fields map[string]uint32

	// VecBlocks is the number of vec4 blocks in the uniform block.
	VecBlocks uint32

	// ArrayInputs names the arrays packed into the module's combined storage buffer.
	ArrayInputs []string

	// SceneRead is set when the module samples the current scene texture.
	SceneRead bool

	// FragmentStorage is set when the module's render pass reads storage buffers in the fragment stage.
	FragmentStorage bool
}

// Floats returns the length of the module's flat uniform array.
func (m ModuleLayout) Floats() int {
	return int(m.VecBlocks) * 4
}

// HasArrays reports whether the module declares array inputs.
func (m ModuleLayout) HasArrays() bool {
	return len(m.ArrayInputs) > 0
}

// Slot is an optional pre-assigned binding index.
type Slot struct {
	Binding  uint32
	Declared bool
}

// At declares a slot at binding.
func At(binding uint32) Slot {
	return Slot{Binding: binding, Declared: true}
}

// GridBindings holds the grid counts and indices slots. Both are declared together.
type GridBindings struct {
	Counts   uint32
	Indices  uint32
	Declared bool
}

// Grid declares grid support with the given counts and indices bindings.
func Grid(counts, indices uint32) GridBindings {
	return GridBindings{Counts: counts, Indices: indices, Declared: true}
}

// ExtraBindings enumerates the optional bindings beyond particles and uniforms.
type ExtraBindings struct {
	// ArrayStorage maps a module name to the binding of its combined array buffer.
	ArrayStorage map[string]uint32
	Grid         GridBindings
	AuxState     Slot
	SceneTexture Slot
}

// Program is a compiled simulation program.
type Program struct {
	// Source is the combined WGSL source of every module.
	Source  string
	Modules []ModuleLayout
	Extra   ExtraBindings
}

// Module returns the layout of the named module.
func (p *Program) Module(name string) (ModuleLayout, bool) {
	for _, m := range p.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleLayout{}, false
}

// ComputeModules returns the modules that own a compute uniform slot, in declaration order.
func (p *Program) ComputeModules() []ModuleLayout {
	var out []ModuleLayout
	for _, m := range p.Modules {
		if m.Role.Computes() {
			out = append(out, m)
		}
	}
	return out
}

// ReadsScene reports whether any module declares scene-read access.
func (p *Program) ReadsScene() bool {
	for _, m := range p.Modules {
		if m.SceneRead {
			return true
		}
	}
	return false
}

// Validate checks that every binding the compute layout would use is declared exactly once.
// It never renumbers anything.
//
// Returns:
//   - error: ErrInvalidProgram wrapped with the first inconsistency found
func (p *Program) Validate() error {
	seen := map[uint32]string{ParticleBinding: "particles"}
	claim := func(binding uint32, owner string) error {
		if prev, ok := seen[binding]; ok {
			return fmt.Errorf("%w: binding %d used by both %s and %s", ErrInvalidProgram, binding, prev, owner)
		}
		seen[binding] = owner
		return nil
	}

	names := map[string]bool{}
	for _, m := range p.Modules {
		if m.Name == "" {
			return fmt.Errorf("%w: module without a name", ErrInvalidProgram)
		}
		if names[m.Name] {
			return fmt.Errorf("%w: duplicate module %q", ErrInvalidProgram, m.Name)
		}
		names[m.Name] = true

		for field, offset := range m.Fields {
			if int(offset) >= m.Floats() {
				return fmt.Errorf("%w: field %s.%s at offset %d exceeds %d vec4 blocks", ErrInvalidProgram, m.Name, field, offset, m.VecBlocks)
			}
		}
		if m.Role.Computes() {
			if err := claim(m.Binding, m.Name+" uniforms"); err != nil {
				return err
			}
		}
		if m.HasArrays() {
			binding, ok := p.Extra.ArrayStorage[m.Name]
			if !ok {
				return fmt.Errorf("%w: module %q declares arrays without an array binding", ErrInvalidProgram, m.Name)
			}
			if err := claim(binding, m.Name+" arrays"); err != nil {
				return err
			}
		}
	}

	if p.Extra.Grid.Declared {
		if err := claim(p.Extra.Grid.Counts, "grid counts"); err != nil {
			return err
		}
		if err := claim(p.Extra.Grid.Indices, "grid indices"); err != nil {
			return err
		}
	}
	if p.Extra.AuxState.Declared {
		if err := claim(p.Extra.AuxState.Binding, "aux state"); err != nil {
			return err
		}
	}
	if p.ReadsScene() {
		if !p.Extra.SceneTexture.Declared {
			return fmt.Errorf("%w: a module reads the scene but no scene texture binding is declared", ErrInvalidProgram)
		}
		if err := claim(p.Extra.SceneTexture.Binding, "scene texture"); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalArrayKey returns the sorted, deduplicated array input names of a module.
func CanonicalArrayKey(inputs []string) []string {
	set := make(map[string]struct{}, len(inputs))
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := set[in]; ok {
			continue
		}
		set[in] = struct{}{}
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}
