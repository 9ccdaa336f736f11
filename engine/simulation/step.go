package simulation

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
)

// ErrInvalidParams is returned for step parameters that cannot be dispatched.
var ErrInvalidParams = errors.New("invalid step parameters")

// Path is the pass strategy a step took.
type Path uint8

const (
	// PathNone means no simulation pipeline was available and no compute work was recorded.
	PathNone Path = iota
	// PathSpecialized runs state, apply, integrate, the constrain iterations and correct.
	PathSpecialized
	// PathFallback runs the single main pass.
	PathFallback
)

func (p Path) String() string {
	switch p {
	case PathSpecialized:
		return "specialized"
	case PathFallback:
		return "fallback"
	default:
		return "none"
	}
}

// StepParams are the per-step inputs supplied by the frame driver.
type StepParams struct {
	ParticleCount uint32
	GridCellCount uint32
	WorkgroupSize uint32

	// ConstrainIterations defaults to 1 when nil; values below 1 are raised to 1.
	ConstrainIterations *uint32
}

// Iterations returns the number of constrain dispatches the params request.
func (p StepParams) Iterations() int {
	if p.ConstrainIterations == nil {
		return 1
	}
	return max(1, int(*p.ConstrainIterations))
}

// Iterations returns a pointer to n, for StepParams.ConstrainIterations.
func Iterations(n uint32) *uint32 {
	return &n
}

// Dispatch is one recorded compute dispatch.
type Dispatch struct {
	Pass   resource.Pass
	Groups uint32
	// Iteration is the 0-based constrain iteration. It is zero for every other pass.
	Iteration int
}

// StepResult describes what a step recorded.
type StepResult struct {
	Path       Path
	Dispatches []Dispatch

	// Scene is the scene view current while the step was recorded.
	Scene resource.SceneView
	// Bindings is the bind group shared by every dispatch of the step.
	Bindings *resource.BindGroup
}

// Count returns how many dispatches of pass were recorded.
func (r *StepResult) Count(pass resource.Pass) int {
	n := 0
	for _, d := range r.Dispatches {
		if d.Pass == pass {
			n++
		}
	}
	return n
}

// Release frees the step's bind group. Call it after the recorded commands are submitted.
func (r *StepResult) Release() {
	if r != nil {
		r.Bindings.Release()
	}
}
