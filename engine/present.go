package engine

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
	"go.uber.org/zap"
)

// BindingSource names what a present-pass binding is filled with.
type BindingSource uint8

const (
	// SourceSceneCurrent binds a view of the current scene texture.
	SourceSceneCurrent BindingSource = iota
	// SourceSceneOther binds a view of the other scene texture.
	SourceSceneOther
	// SourceSampler binds the shared linear sampler.
	SourceSampler
	// SourceBuffer binds a pooled buffer.
	SourceBuffer
)

// PresentBinding is one entry of a present pass bind group.
type PresentBinding struct {
	Binding uint32
	Source  BindingSource

	// Buffer is the pooled buffer bound when Source is SourceBuffer.
	Buffer resource.BufferKey
}

// SceneBinding binds a scene texture view.
func SceneBinding(binding uint32, source BindingSource) PresentBinding {
	return PresentBinding{Binding: binding, Source: source}
}

// SamplerBinding binds the shared sampler.
func SamplerBinding(binding uint32) PresentBinding {
	return PresentBinding{Binding: binding, Source: SourceSampler}
}

// BufferBinding binds a pooled buffer.
func BufferBinding(binding uint32, key resource.BufferKey) PresentBinding {
	return PresentBinding{Binding: binding, Source: SourceBuffer, Buffer: key}
}

// ImageStage is an image compute pass run over the scene textures after the simulation step.
type ImageStage struct {
	Label    string
	Entry    string
	Bindings []PresentBinding

	// ArrayInputs is the binding shape key of the stage; stages with equal shapes share a pipeline.
	ArrayInputs []string

	// Workgroup is the kernel's 2D workgroup size. Zero defaults to 8x8.
	Workgroup [2]uint32
}

// BlitStage draws the scene to the surface with a fullscreen triangle.
type BlitStage struct {
	VertexEntry   string
	FragmentEntry string
	Bindings      []PresentBinding
}

// PresentConfig describes the post-step passes of a frame.
// Image stages read the current scene and write the other; the blit shows the other and the frame ends with a swap.
type PresentConfig struct {
	Source string
	Stages []ImageStage
	Blit   *BlitStage
}

// frameGroups collects present bind groups to release once the frame is submitted.
type frameGroups []host.BindGroup

func (g frameGroups) release() {
	for _, bg := range g {
		bg.Release()
	}
}

// presentEntries resolves bindings against the current scene and buffer pool.
func (e *engine) presentEntries(bindings []PresentBinding, scene resource.SceneView) ([]host.BindGroupEntry, error) {
	entries := make([]host.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		entry := host.BindGroupEntry{Binding: b.Binding}
		switch b.Source {
		case SourceSceneCurrent:
			entry.TextureView = scene.Current
		case SourceSceneOther:
			entry.TextureView = scene.Other
		case SourceSampler:
			sampler, err := e.manager.Sampler()
			if err != nil {
				return nil, err
			}
			entry.Sampler = sampler
		case SourceBuffer:
			h, ok := e.manager.Buffer(b.Buffer)
			if !ok {
				return nil, fmt.Errorf("%w: present binding %d needs buffer %s", resource.ErrNotReady, b.Binding, b.Buffer)
			}
			entry.Buffer = h.Buffer
			entry.Size = host.WholeSize
		default:
			return nil, fmt.Errorf("unknown binding source %d", b.Source)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// autoLayout is satisfied by both compute and render pipelines.
type autoLayout interface {
	BindGroupLayout(index uint32) (host.BindGroupLayout, error)
}

// bindPresent creates a bind group for a present pipeline's auto layout.
func (e *engine) bindPresent(label string, pipeline autoLayout, bindings []PresentBinding, scene resource.SceneView) (host.BindGroup, error) {
	entries, err := e.presentEntries(bindings, scene)
	if err != nil {
		return nil, err
	}
	layout, err := pipeline.BindGroupLayout(0)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s layout: %w", label, err)
	}
	defer layout.Release()
	return e.manager.CreateBindGroup(label, layout, entries)
}

// recordStages records every image stage over the scene's size.
func (e *engine) recordStages(encoder host.CommandEncoder, scene resource.SceneView, groups *frameGroups) (int, error) {
	dispatched := 0
	for _, stage := range e.present.Stages {
		pipeline, err := e.manager.ImageComputePipeline(resource.ImageComputeSpec{
			Label:       stage.Label,
			Source:      e.present.Source,
			Entry:       stage.Entry,
			ArrayInputs: stage.ArrayInputs,
		})
		if err != nil {
			return dispatched, fmt.Errorf("failed to build stage %s: %w", stage.Label, err)
		}
		bg, err := e.bindPresent(stage.Label, pipeline, stage.Bindings, scene)
		if err != nil {
			return dispatched, fmt.Errorf("failed to bind stage %s: %w", stage.Label, err)
		}
		*groups = append(*groups, bg)

		wgX, wgY := stage.Workgroup[0], stage.Workgroup[1]
		if wgX == 0 || wgY == 0 {
			wgX, wgY = 8, 8
		}
		x, y := common.CeilDiv(scene.Width, wgX), common.CeilDiv(scene.Height, wgY)
		if x == 0 || y == 0 {
			continue
		}
		cp := encoder.BeginComputePass(stage.Label)
		cp.SetPipeline(pipeline)
		cp.SetBindGroup(0, bg)
		cp.DispatchWorkgroups(x, y, 1)
		cp.End()
		dispatched++
	}
	return dispatched, nil
}

// recordBlit draws the scene into the surface's current frame.
func (e *engine) recordBlit(encoder host.CommandEncoder, surface host.Surface, scene resource.SceneView, groups *frameGroups) (bool, error) {
	blit := e.present.Blit
	pipeline, err := e.manager.CopyToSurfacePipeline(resource.RenderPassSpec{
		Label:         "blit",
		Source:        e.present.Source,
		VertexEntry:   blit.VertexEntry,
		FragmentEntry: blit.FragmentEntry,
	})
	if err != nil {
		return false, fmt.Errorf("failed to build blit: %w", err)
	}
	bg, err := e.bindPresent("blit", pipeline, blit.Bindings, scene)
	if err != nil {
		return false, fmt.Errorf("failed to bind blit: %w", err)
	}
	*groups = append(*groups, bg)

	target, err := surface.CurrentTexture()
	if err != nil {
		// Outdated or lost surfaces recover on the next resize; the compute work still runs.
		e.log.Warn("skipping present", zap.Error(err))
		return false, nil
	}
	rp := encoder.BeginRenderPass(host.RenderPassDescriptor{Label: "blit", Target: target, Clear: true})
	rp.SetPipeline(pipeline)
	rp.SetBindGroup(0, bg)
	rp.Draw(3, 1)
	rp.End()
	return true, nil
}
