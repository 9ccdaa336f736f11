package resource

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/program"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// PresentKind identifies one of the presentation and post-process pipeline caches.
type PresentKind uint8

const (
	PresentCopyToSurface PresentKind = iota
	PresentFullscreen
	PresentImageCompute
)

func (k PresentKind) String() string {
	switch k {
	case PresentCopyToSurface:
		return "copy-to-surface"
	case PresentFullscreen:
		return "fullscreen"
	case PresentImageCompute:
		return "image-compute"
	default:
		return fmt.Sprintf("PresentKind(%d)", uint8(k))
	}
}

// BindingsKey is the canonical binding shape of a present pass.
type BindingsKey struct {
	// ArrayCount is the number of distinct array inputs.
	ArrayCount int
	// ArrayHash hashes the sorted, deduplicated array input names, each prefixed with its length.
	ArrayHash       uint64
	FragmentStorage bool
}

// PresentKey identifies a cached present pipeline.
// Two specs with equal keys share one pipeline; any differing component compiles a new one.
type PresentKey struct {
	Kind        PresentKind
	ShaderHash  uint64
	Entry       string
	VertexEntry string
	Format      host.TextureFormat
	Bindings    BindingsKey
}

// RenderPassSpec describes a copy-to-surface or fullscreen render pipeline.
type RenderPassSpec struct {
	Label           string
	Source          string
	VertexEntry     string
	FragmentEntry   string
	ArrayInputs     []string
	FragmentStorage bool

	// TargetFormat defaults to the context's surface format.
	TargetFormat host.TextureFormat
}

// ImageComputeSpec describes an image compute pipeline.
type ImageComputeSpec struct {
	Label       string
	Source      string
	Entry       string
	ArrayInputs []string
}

func bindingsKey(arrays []string, fragmentStorage bool) BindingsKey {
	names := program.CanonicalArrayKey(arrays)
	d := xxhash.New()
	for _, name := range names {
		writeName(d, name)
	}
	return BindingsKey{
		ArrayCount:      len(names),
		ArrayHash:       d.Sum64(),
		FragmentStorage: fragmentStorage,
	}
}

type presentEntry struct {
	render  host.RenderPipeline
	compute host.ComputePipeline
}

func (e presentEntry) release() {
	if e.render != nil {
		e.render.Release()
	}
	if e.compute != nil {
		e.compute.Release()
	}
}

func (m *manager) CopyToSurfacePipeline(spec RenderPassSpec) (host.RenderPipeline, error) {
	return m.renderPipeline(PresentCopyToSurface, spec)
}

func (m *manager) FullscreenPipeline(spec RenderPassSpec) (host.RenderPipeline, error) {
	return m.renderPipeline(PresentFullscreen, spec)
}

func (m *manager) renderPipeline(kind PresentKind, spec RenderPassSpec) (host.RenderPipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}

	hash := xxhash.Sum64String(spec.Source)
	format := spec.TargetFormat
	if format == host.TextureFormatUndefined {
		format = gpu.Format
	}
	key := PresentKey{
		Kind:        kind,
		ShaderHash:  hash,
		Entry:       spec.FragmentEntry,
		VertexEntry: spec.VertexEntry,
		Format:      format,
		Bindings:    bindingsKey(spec.ArrayInputs, spec.FragmentStorage),
	}
	if e, ok := m.present[key]; ok {
		m.metrics.PresentLookup(kind.String(), true)
		return e.render, nil
	}
	m.metrics.PresentLookup(kind.String(), false)

	module, err := m.presentModuleLocked(gpu.Device, spec.Label, spec.Source, hash)
	if err != nil {
		return nil, err
	}
	pipeline, err := gpu.Device.CreateRenderPipeline(host.RenderPipelineDescriptor{
		Label:         spec.Label,
		Module:        module,
		VertexEntry:   spec.VertexEntry,
		FragmentEntry: spec.FragmentEntry,
		TargetFormat:  format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pipeline %q: %w", kind, spec.Label, err)
	}
	m.present[key] = presentEntry{render: pipeline}
	m.log.Debug("present pipeline compiled", zap.Stringer("kind", kind), zap.String("label", spec.Label))
	return pipeline, nil
}

func (m *manager) ImageComputePipeline(spec ImageComputeSpec) (host.ComputePipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return nil, err
	}

	hash := xxhash.Sum64String(spec.Source)
	key := PresentKey{
		Kind:       PresentImageCompute,
		ShaderHash: hash,
		Entry:      spec.Entry,
		Bindings:   bindingsKey(spec.ArrayInputs, false),
	}
	if e, ok := m.present[key]; ok {
		m.metrics.PresentLookup(PresentImageCompute.String(), true)
		return e.compute, nil
	}
	m.metrics.PresentLookup(PresentImageCompute.String(), false)

	module, err := m.presentModuleLocked(gpu.Device, spec.Label, spec.Source, hash)
	if err != nil {
		return nil, err
	}
	pipeline, err := gpu.Device.CreateComputePipeline(host.ComputePipelineDescriptor{
		Label:      spec.Label,
		Module:     module,
		EntryPoint: spec.Entry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create image compute pipeline %q: %w", spec.Label, err)
	}
	m.present[key] = presentEntry{compute: pipeline}
	m.log.Debug("image compute pipeline compiled", zap.String("label", spec.Label), zap.String("entry", spec.Entry))
	return pipeline, nil
}

// presentModuleLocked returns the shader module compiled from source, compiling it once per source hash.
func (m *manager) presentModuleLocked(device host.Device, label, source string, hash uint64) (host.ShaderModule, error) {
	if module, ok := m.presentModules[hash]; ok {
		return module, nil
	}
	module, err := device.CreateShaderModule(label, source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", label, err)
	}
	m.presentModules[hash] = module
	return module, nil
}
