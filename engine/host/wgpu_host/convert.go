package wgpu_host

import (
	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/cogentcore/webgpu/wgpu"
)

var toWGPUFormat = map[host.TextureFormat]wgpu.TextureFormat{
	host.TextureFormatRGBA8Unorm:     wgpu.TextureFormatRGBA8Unorm,
	host.TextureFormatRGBA8UnormSrgb: wgpu.TextureFormatRGBA8UnormSrgb,
	host.TextureFormatBGRA8Unorm:     wgpu.TextureFormatBGRA8Unorm,
	host.TextureFormatBGRA8UnormSrgb: wgpu.TextureFormatBGRA8UnormSrgb,
	host.TextureFormatRGBA16Float:    wgpu.TextureFormatRGBA16Float,
	host.TextureFormatRGBA32Float:    wgpu.TextureFormatRGBA32Float,
}

var fromWGPUFormat = func() map[wgpu.TextureFormat]host.TextureFormat {
	m := make(map[wgpu.TextureFormat]host.TextureFormat, len(toWGPUFormat))
	for k, v := range toWGPUFormat {
		m[v] = k
	}
	return m
}()

var toWGPUAlpha = map[host.AlphaMode]wgpu.CompositeAlphaMode{
	host.AlphaModeAuto:            wgpu.CompositeAlphaModeAuto,
	host.AlphaModeOpaque:          wgpu.CompositeAlphaModeOpaque,
	host.AlphaModePremultiplied:   wgpu.CompositeAlphaModePremultiplied,
	host.AlphaModeUnpremultiplied: wgpu.CompositeAlphaModeUnpremultiplied,
	host.AlphaModeInherit:         wgpu.CompositeAlphaModeInherit,
}

var fromWGPUAlpha = func() map[wgpu.CompositeAlphaMode]host.AlphaMode {
	m := make(map[wgpu.CompositeAlphaMode]host.AlphaMode, len(toWGPUAlpha))
	for k, v := range toWGPUAlpha {
		m[v] = k
	}
	return m
}()

var toWGPUPresent = map[host.PresentMode]wgpu.PresentMode{
	host.PresentModeFifo:      wgpu.PresentModeFifo,
	host.PresentModeImmediate: wgpu.PresentModeImmediate,
	host.PresentModeMailbox:   wgpu.PresentModeMailbox,
}

var toWGPUPower = map[host.PowerPreference]wgpu.PowerPreference{
	host.PowerPreferenceUndefined:       wgpu.PowerPreferenceUndefined,
	host.PowerPreferenceLowPower:        wgpu.PowerPreferenceLowPower,
	host.PowerPreferenceHighPerformance: wgpu.PowerPreferenceHighPerformance,
}

// layoutEntry converts a host layout entry into its wgpu form, following the same
// per-type field population the WGSL parser applied when classifying bindings.
func layoutEntry(e host.BindGroupLayoutEntry) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    e.Binding,
		Visibility: wgpu.ShaderStage(e.Visibility),
	}
	switch e.Type {
	case host.BindingUniform:
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
	case host.BindingStorage:
		entry.Buffer.Type = wgpu.BufferBindingTypeStorage
	case host.BindingReadOnlyStorage:
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
	case host.BindingTexture:
		entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
		entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
	case host.BindingStorageTexture:
		entry.StorageTexture.Access = wgpu.StorageTextureAccessWriteOnly
		entry.StorageTexture.Format = toWGPUFormat[e.StorageFormat]
		entry.StorageTexture.ViewDimension = wgpu.TextureViewDimension2D
	case host.BindingSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	}
	return entry
}

func limitsFromWGPU(l wgpu.Limits) host.Limits {
	return host.Limits{
		MaxBufferSize:                     l.MaxBufferSize,
		MaxStorageBufferBindingSize:       l.MaxStorageBufferBindingSize,
		MaxUniformBufferBindingSize:       l.MaxUniformBufferBindingSize,
		MaxStorageBuffersPerShaderStage:   l.MaxStorageBuffersPerShaderStage,
		MaxComputeWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
		MaxComputeInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
	}
}
