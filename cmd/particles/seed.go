package main

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-particles/common"
	"go.uber.org/zap"
)

// seedChunk is the number of particles one seeding task fills.
const seedChunk = 4096

// seedOptions describe the initial particle distribution.
type seedOptions struct {
	Count   uint32
	BoundsW float32
	BoundsH float32
	Margin  float32
	Seed    int64
	Workers int
}

// seedParticles fills count particle records uniformly inside the bounds with a small random velocity.
// Each chunk draws from its own generator keyed by (seed, chunk), so the result does not depend on the worker count.
func seedParticles(opts seedOptions, log *zap.Logger) []byte {
	data := make([]byte, uint64(opts.Count)*particleStride)
	chunks := common.CeilDiv(opts.Count, seedChunk)
	if chunks == 0 {
		return data
	}
	start := time.Now()

	pool := worker.NewDynamicWorkerPool(max(opts.Workers, 1), 256, time.Second)
	defer pool.Stop()

	// pool.Wait only returns once workers idle out, so a WaitGroup is the barrier.
	var wg sync.WaitGroup
	for c := range chunks {
		wg.Add(1)
		pool.SubmitTask(worker.Task{
			ID: int(c),
			Do: func() (any, error) {
				defer wg.Done()
				first := c * seedChunk
				last := min(first+seedChunk, opts.Count)
				seedChunkInto(data[uint64(first)*particleStride:uint64(last)*particleStride], opts, uint64(c))
				return nil, nil
			},
		})
	}
	wg.Wait()

	log.Debug("particles seeded",
		zap.Uint32("count", opts.Count),
		zap.Uint32("chunks", chunks),
		zap.Duration("took", time.Since(start)),
	)
	return data
}

func seedChunkInto(dst []byte, opts seedOptions, chunk uint64) {
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), chunk))
	lo := opts.Margin
	w := max(opts.BoundsW-2*opts.Margin, 0)
	h := max(opts.BoundsH-2*opts.Margin, 0)
	for off := 0; off+particleStride <= len(dst); off += particleStride {
		angle := rng.Float64() * 2 * math.Pi
		speed := rng.Float64() * 20
		putFloats(dst[off:],
			lo+rng.Float32()*w,
			lo+rng.Float32()*h,
			float32(math.Cos(angle)*speed),
			float32(math.Sin(angle)*speed),
		)
	}
}

func putFloats(dst []byte, values ...float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// speedStats returns the mean and maximum particle speed of packed particle records.
func speedStats(data []byte) (mean, peak float64) {
	n := len(data) / particleStride
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := range n {
		rec := data[i*particleStride:]
		vx := math.Float32frombits(binary.LittleEndian.Uint32(rec[8:]))
		vy := math.Float32frombits(binary.LittleEndian.Uint32(rec[12:]))
		s := math.Hypot(float64(vx), float64(vy))
		sum += s
		peak = max(peak, s)
	}
	return sum / float64(n), peak
}
