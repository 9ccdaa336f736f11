package main

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func particleAt(data []byte, i int) (x, y, vx, vy float32) {
	rec := data[i*particleStride:]
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(rec[off:])) }
	return f(0), f(4), f(8), f(12)
}

func TestSeedParticlesIndependentOfWorkers(t *testing.T) {
	opts := seedOptions{Count: 10000, BoundsW: 640, BoundsH: 360, Margin: 2, Seed: 7, Workers: 1}
	single := seedParticles(opts, zap.NewNop())

	opts.Workers = 4
	parallel := seedParticles(opts, zap.NewNop())

	require.Len(t, single, 10000*particleStride)
	assert.Equal(t, single, parallel)
}

func TestSeedParticlesStayInBounds(t *testing.T) {
	opts := seedOptions{Count: 5000, BoundsW: 200, BoundsH: 100, Margin: 5, Seed: 3, Workers: 3}
	data := seedParticles(opts, zap.NewNop())

	for i := range int(opts.Count) {
		x, y, vx, vy := particleAt(data, i)
		require.GreaterOrEqual(t, x, float32(5))
		require.LessOrEqual(t, x, float32(195))
		require.GreaterOrEqual(t, y, float32(5))
		require.LessOrEqual(t, y, float32(95))
		require.LessOrEqual(t, math.Hypot(float64(vx), float64(vy)), 20.001)
	}
}

func TestSeedParticlesDependsOnSeed(t *testing.T) {
	opts := seedOptions{Count: 64, BoundsW: 100, BoundsH: 100, Seed: 1, Workers: 2}
	a := seedParticles(opts, zap.NewNop())
	opts.Seed = 2
	b := seedParticles(opts, zap.NewNop())
	assert.NotEqual(t, a, b)
}

func TestSeedParticlesEmpty(t *testing.T) {
	assert.Empty(t, seedParticles(seedOptions{Workers: 2}, zap.NewNop()))
}

func TestSpeedStats(t *testing.T) {
	data := make([]byte, 2*particleStride)
	putFloats(data, 0, 0, 3, 4)
	putFloats(data[particleStride:], 0, 0, 0, 1)

	mean, peak := speedStats(data)
	assert.InDelta(t, 3.0, mean, 1e-9)
	assert.InDelta(t, 5.0, peak, 1e-9)

	mean, peak = speedStats(nil)
	assert.Zero(t, mean)
	assert.Zero(t, peak)
}
