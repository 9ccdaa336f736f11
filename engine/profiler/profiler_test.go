package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestProfiler(interval time.Duration) (*Profiler, *fakeClock, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewProfiler(zap.New(core), interval)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p.now = clock.now
	p.lastTime = clock.t
	return p, clock, logs
}

func TestTickAggregatesOverInterval(t *testing.T) {
	p, clock, logs := newTestProfiler(time.Second)

	clock.t = clock.t.Add(300 * time.Millisecond)
	assert.Nil(t, p.Tick(Sample{Step: 2 * time.Millisecond, Frame: 10 * time.Millisecond, Dispatches: 7, Path: "specialized"}))
	clock.t = clock.t.Add(300 * time.Millisecond)
	assert.Nil(t, p.Tick(Sample{Step: 4 * time.Millisecond, Frame: 20 * time.Millisecond, Dispatches: 7}))
	assert.Zero(t, logs.Len())

	clock.t = clock.t.Add(400 * time.Millisecond)
	sum := p.Tick(Sample{Step: 6 * time.Millisecond, Frame: 30 * time.Millisecond, Dispatches: 1, Path: "fallback"})
	require.NotNil(t, sum)

	assert.Equal(t, 3, sum.Frames)
	assert.InDelta(t, 3.0, sum.FPS, 1e-9)
	assert.Equal(t, 4*time.Millisecond, sum.AvgStep)
	assert.Equal(t, 6*time.Millisecond, sum.MaxStep)
	assert.Equal(t, 20*time.Millisecond, sum.AvgFrame)
	assert.Equal(t, 30*time.Millisecond, sum.MaxFrame)
	assert.Equal(t, 15, sum.Dispatches)
	assert.Equal(t, "fallback", sum.LastPath)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "profiler", entry.Message)
	assert.Equal(t, int64(15), entry.ContextMap()["dispatches"])
}

func TestTickResetsAfterSummary(t *testing.T) {
	p, clock, _ := newTestProfiler(time.Second)

	clock.t = clock.t.Add(time.Second)
	require.NotNil(t, p.Tick(Sample{Step: 9 * time.Millisecond, Dispatches: 3}))

	clock.t = clock.t.Add(2 * time.Second)
	sum := p.Tick(Sample{Step: time.Millisecond, Dispatches: 1})
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Frames)
	assert.Equal(t, time.Millisecond, sum.MaxStep)
	assert.Equal(t, 1, sum.Dispatches)
	assert.InDelta(t, 0.5, sum.FPS, 1e-9)
}

func TestNewProfilerDefaults(t *testing.T) {
	p := NewProfiler(nil, 0)
	assert.Equal(t, time.Second, p.updateInterval)
	assert.NotNil(t, p.log)
	assert.Nil(t, p.Tick(Sample{}))
}
