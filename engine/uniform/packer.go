// Package uniform packs per-module uniform blocks as flat vec4-aligned float32 arrays,
// merging partial writes onto the last fully written array.
package uniform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-particles/engine/program"
)

var (
	// ErrUnknownModule is returned when writing to a module without a registered layout.
	ErrUnknownModule = errors.New("unknown uniform module")
	// ErrUnknownField is returned when a write names a field the module does not declare.
	ErrUnknownField = errors.New("unknown uniform field")
)

// Packer holds the uniform layouts of a Program and the last array written for each module.
type Packer interface {
	// SetLayouts replaces the registered layouts. Cached arrays are kept; an array whose length
	// no longer matches its module's layout is treated as absent on the next write.
	//
	// Parameters:
	//   - modules: the module layouts to register
	SetLayouts(modules []program.ModuleLayout)

	// Write merges fields onto the module's last array and stores the result as the new last array.
	// The merge starts from a zero-filled array when no last array exists or its size mismatches.
	//
	// Parameters:
	//   - module: the module name
	//   - fields: field name to value
	//
	// Returns:
	//   - []float32: a copy of the merged array
	//   - error: ErrUnknownModule or ErrUnknownField; nothing is stored on error
	Write(module string, fields map[string]float32) ([]float32, error)

	// Last returns a copy of the module's last written array.
	//
	// Parameters:
	//   - module: the module name
	//
	// Returns:
	//   - []float32: the array, or nil if nothing was written
	Last(module string) []float32

	// Offset returns the flat offset of a field.
	//
	// Parameters:
	//   - module: the module name
	//   - field: the field name
	//
	// Returns:
	//   - uint32: the flat float32 offset
	//   - bool: false if the module or field is unknown
	Offset(module, field string) (uint32, bool)

	// Reset forgets every layout and cached array.
	Reset()
}

type packer struct {
	mu      *sync.Mutex
	layouts map[string]program.ModuleLayout
	last    map[string][]float32
}

var _ Packer = &packer{}

// NewPacker creates an empty Packer.
//
// Returns:
//   - Packer: the packer
func NewPacker() Packer {
	return &packer{
		mu:      &sync.Mutex{},
		layouts: map[string]program.ModuleLayout{},
		last:    map[string][]float32{},
	}
}

func (p *packer) SetLayouts(modules []program.ModuleLayout) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.layouts = make(map[string]program.ModuleLayout, len(modules))
	for _, m := range modules {
		p.layouts[m.Name] = m
	}
}

func (p *packer) Write(module string, fields map[string]float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	layout, ok := p.layouts[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	for name := range fields {
		if _, ok := layout.Fields[name]; !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, module, name)
		}
	}

	next := make([]float32, layout.Floats())
	if prev := p.last[module]; len(prev) == len(next) {
		copy(next, prev)
	}
	for name, v := range fields {
		next[layout.Fields[name]] = v
	}
	p.last[module] = next

	out := make([]float32, len(next))
	copy(out, next)
	return out, nil
}

func (p *packer) Last(module string) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.last[module]
	if !ok {
		return nil
	}
	out := make([]float32, len(prev))
	copy(out, prev)
	return out
}

func (p *packer) Offset(module, field string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	layout, ok := p.layouts[module]
	if !ok {
		return 0, false
	}
	off, ok := layout.Fields[field]
	return off, ok
}

func (p *packer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.layouts = map[string]program.ModuleLayout{}
	p.last = map[string][]float32{}
}

// Bytes encodes a float32 array as little-endian bytes.
func Bytes(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Floats decodes little-endian bytes into a float32 array. Trailing bytes are ignored.
func Floats(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
