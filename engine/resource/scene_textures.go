package resource

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"go.uber.org/zap"
)

// SceneSelector names one texture of the scene pair.
type SceneSelector uint8

const (
	SceneA SceneSelector = iota
	SceneB
)

func (s SceneSelector) String() string {
	if s == SceneB {
		return "B"
	}
	return "A"
}

// Other returns the opposite selector.
func (s SceneSelector) Other() SceneSelector {
	return 1 - s
}

const sceneUsage = host.TextureUsageTextureBinding | host.TextureUsageStorageBinding |
	host.TextureUsageCopySrc | host.TextureUsageCopyDst | host.TextureUsageRenderAttachment

// SceneView exposes the current and other scene textures. Post-process passes read Current and write Other.
type SceneView struct {
	Selector SceneSelector

	Current        host.TextureView
	Other          host.TextureView
	CurrentTexture host.Texture
	OtherTexture   host.Texture

	Width  uint32
	Height uint32
}

// Ready reports whether the view refers to an allocated pair.
func (v SceneView) Ready() bool {
	return v.Current != nil && v.Other != nil
}

type scenePair struct {
	textures [2]host.Texture
	views    [2]host.TextureView
	current  SceneSelector
	width    uint32
	height   uint32
}

func (p *scenePair) view() SceneView {
	if p == nil {
		return SceneView{}
	}
	other := p.current.Other()
	return SceneView{
		Selector:       p.current,
		Current:        p.views[p.current],
		Other:          p.views[other],
		CurrentTexture: p.textures[p.current],
		OtherTexture:   p.textures[other],
		Width:          p.width,
		Height:         p.height,
	}
}

func (p *scenePair) release() {
	for i := range p.textures {
		if p.views[i] != nil {
			p.views[i].Release()
		}
		if p.textures[i] != nil {
			p.textures[i].Release()
		}
	}
}

func (m *manager) EnsureSceneTextures(width, height uint32) (SceneView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gpu, err := m.liveLocked()
	if err != nil {
		return SceneView{}, err
	}
	if width == 0 || height == 0 {
		return SceneView{}, fmt.Errorf("%w: scene size %dx%d", ErrOutOfRange, width, height)
	}
	if p := m.scene; p != nil && p.width == width && p.height == height {
		return p.view(), nil
	}

	pair := &scenePair{width: width, height: height}
	for i, label := range []string{"scene a", "scene b"} {
		tex, err := gpu.Device.CreateTexture(host.TextureDescriptor{
			Label:  label,
			Width:  width,
			Height: height,
			Format: m.sceneFormat,
			Usage:  sceneUsage,
		})
		if err != nil {
			pair.release()
			return SceneView{}, fmt.Errorf("failed to create %s texture: %w", label, err)
		}
		pair.textures[i] = tex
		view, err := tex.CreateView()
		if err != nil {
			pair.release()
			return SceneView{}, fmt.Errorf("failed to create %s view: %w", label, err)
		}
		pair.views[i] = view
	}

	if m.scene != nil {
		m.scene.release()
	}
	m.scene = pair
	m.log.Debug("scene textures allocated", zap.Uint32("width", width), zap.Uint32("height", height))
	return pair.view(), nil
}

func (m *manager) SwapScene() SceneView {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scene == nil {
		return SceneView{}
	}
	m.scene.current = m.scene.current.Other()
	return m.scene.view()
}

func (m *manager) Scene() SceneView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scene.view()
}
