package resource

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/host/hosttest"
	"github.com/Carmen-Shannon/oxy-particles/engine/uniform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBufferGrowth(t *testing.T) {
	_, m := acquiredManager(t)

	first, err := m.EnsureBuffer(ParticlesKey, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), first.Capacity)

	reused, err := m.EnsureBuffer(ParticlesKey, 64)
	require.NoError(t, err)
	assert.Equal(t, first, reused)

	grown, err := m.EnsureBuffer(ParticlesKey, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), grown.Capacity)
	assert.Greater(t, grown.Generation, first.Generation)
	assert.True(t, first.Buffer.(*hosttest.Buffer).Released())
	assert.False(t, grown.Buffer.(*hosttest.Buffer).Released())

	jumped, err := m.EnsureBuffer(ParticlesKey, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), jumped.Capacity)
}

func TestEnsureBufferMinimumAndAlignment(t *testing.T) {
	_, m := acquiredManager(t)

	small, err := m.EnsureBuffer(UniformKey("simulation"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(minBufferSize), small.Capacity)

	odd, err := m.EnsureBuffer(AuxStateKey, 17)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), odd.Capacity)
}

func TestEnsureBufferCapacityLaw(t *testing.T) {
	_, m := acquiredManager(t)

	var prev BufferHandle
	for _, req := range []uint64{40, 10, 41, 300, 300, 301, 5000, 1} {
		h, err := m.EnsureBuffer(GridIndicesKey, req)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, h.Capacity, req)
		if prev.Valid() && prev.Capacity < req {
			assert.GreaterOrEqual(t, h.Capacity, max(req, 2*prev.Capacity))
			assert.Greater(t, h.Generation, prev.Generation)
		} else if prev.Valid() {
			assert.Equal(t, prev.Generation, h.Generation)
		}
		prev = h
	}
}

func TestGenerationsAreUniqueAcrossKeys(t *testing.T) {
	_, m := acquiredManager(t)

	a, err := m.EnsureBuffer(ParticlesKey, 16)
	require.NoError(t, err)
	b, err := m.EnsureBuffer(AuxStateKey, 16)
	require.NoError(t, err)
	assert.NotEqual(t, a.Generation, b.Generation)
}

func TestBufferUsageByClass(t *testing.T) {
	_, m := acquiredManager(t)

	cases := map[BufferKey]host.BufferUsage{
		ParticlesKey:               host.BufferUsageStorage | host.BufferUsageCopyDst | host.BufferUsageCopySrc | host.BufferUsageVertex,
		UniformKey("simulation"):   host.BufferUsageUniform | host.BufferUsageCopyDst,
		ArrayStorageKey("wells"):   host.BufferUsageStorage | host.BufferUsageCopyDst,
		GridCountsKey:              host.BufferUsageStorage | host.BufferUsageCopyDst,
		AuxStateKey:                host.BufferUsageStorage | host.BufferUsageCopyDst | host.BufferUsageCopySrc,
		RenderUniformKey("points"): host.BufferUsageUniform | host.BufferUsageCopyDst,
		IterationStagingKey:        host.BufferUsageCopySrc | host.BufferUsageCopyDst,
		ReadbackKey:                host.BufferUsageMapRead | host.BufferUsageCopyDst,
	}
	for key, want := range cases {
		h, err := m.EnsureBuffer(key, 16)
		require.NoError(t, err, key.String())
		assert.Equal(t, want, h.Buffer.Usage(), key.String())
	}
}

func TestBufferKeyString(t *testing.T) {
	assert.Equal(t, "particles", ParticlesKey.String())
	assert.Equal(t, "uniform:simulation", UniformKey("simulation").String())
	assert.Equal(t, "BufferClass(200)", BufferClass(200).String())
}

func TestWrite(t *testing.T) {
	_, m := acquiredManager(t)

	h, err := m.EnsureBuffer(ParticlesKey, 16)
	require.NoError(t, err)
	require.NoError(t, m.Write(h, 4, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, h.Buffer.(*hosttest.Buffer).Bytes()[:8])

	err = m.Write(h, 12, []byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = m.EnsureBuffer(ParticlesKey, 64)
	require.NoError(t, err)
	err = m.Write(h, 0, []byte{1})
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestWriteUniformsMerges(t *testing.T) {
	_, m := acquiredManager(t)
	_, err := m.BuildBindGroupLayout(testProgram())
	require.NoError(t, err)

	require.NoError(t, m.WriteUniforms("simulation", map[string]float32{"dt": 0.5}))
	require.NoError(t, m.WriteUniforms("simulation", map[string]float32{"damping": 0.25}))

	h, ok := m.Buffer(UniformKey("simulation"))
	require.True(t, ok)
	values := uniform.Floats(h.Buffer.(*hosttest.Buffer).Bytes())
	assert.Equal(t, []float32{0.5, 0, 0, 0, 0.25, 0, 0, 0}, values)

	require.NoError(t, m.WriteUniforms("points", map[string]float32{"size": 2}))
	_, ok = m.Buffer(RenderUniformKey("points"))
	assert.True(t, ok)

	assert.ErrorIs(t, m.WriteUniforms("missing", nil), uniform.ErrUnknownModule)
	assert.ErrorIs(t, m.WriteUniforms("simulation", map[string]float32{"nope": 1}), uniform.ErrUnknownField)
}

func TestWriteUniformsRequiresLayout(t *testing.T) {
	_, m := acquiredManager(t)
	assert.ErrorIs(t, m.WriteUniforms("simulation", map[string]float32{"dt": 1}), ErrNotReady)
}

func TestReadBuffer(t *testing.T) {
	_, m := acquiredManager(t)

	h, err := m.EnsureBuffer(ParticlesKey, 32)
	require.NoError(t, err)
	require.NoError(t, m.Write(h, 0, []byte{9, 8, 7, 6, 5}))

	data, err := m.ReadBuffer(context.Background(), ParticlesKey, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6, 5}, data)

	_, err = m.ReadBuffer(context.Background(), ParticlesKey, 64)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = m.ReadBuffer(context.Background(), AuxStateKey, 4)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestReadBufferDropsReadbackAfterFailedMap(t *testing.T) {
	_, m := acquiredManager(t)

	h, err := m.EnsureBuffer(ParticlesKey, 32)
	require.NoError(t, err)
	require.NoError(t, m.Write(h, 0, []byte{1, 2, 3, 4}))
	_, err = m.ReadBuffer(context.Background(), ParticlesKey, 4)
	require.NoError(t, err)
	first, ok := m.Buffer(ReadbackKey)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.ReadBuffer(ctx, ParticlesKey, 4)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, first.Buffer.(*hosttest.Buffer).Released())
	_, ok = m.Buffer(ReadbackKey)
	assert.False(t, ok)

	data, err := m.ReadBuffer(context.Background(), ParticlesKey, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	second, ok := m.Buffer(ReadbackKey)
	require.True(t, ok)
	assert.Greater(t, second.Generation, first.Generation)
}
