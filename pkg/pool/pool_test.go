package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrepp/prism-plumber/pkg/metrics"
	"github.com/jrepp/prism-plumber/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	source *struct{ name string }
}

// TestDrain_ExactIterations tests request is called exactly n times
func TestDrain_ExactIterations(t *testing.T) {
	for _, n := range []int{1, 3, 50} {
		calls := 0
		Drain(func() int { calls++; return calls }, n)
		assert.Equal(t, n, calls)
	}
}

// TestDrain_NonPositive tests zero and negative iteration counts do nothing
func TestDrain_NonPositive(t *testing.T) {
	calls := 0
	Drain(func() int { calls++; return 0 }, 0)
	Drain(func() int { calls++; return 0 }, -5)
	assert.Zero(t, calls)
}

// TestDrain_EmptiesPool tests a full pool holds no stale references after a drain
func TestDrain_EmptiesPool(t *testing.T) {
	p := New(50, func() *node { return &node{} })

	for i := 0; i < 50; i++ {
		p.Recycle(&node{source: &struct{ name string }{name: "activity"}})
	}
	require.Equal(t, 50, p.Len())

	Drain(p.Obtain, 50)
	assert.Equal(t, 0, p.Len())
}

// TestDrain_PartialWhenPoolLarger tests pools larger than the drain bound
func TestDrain_PartialWhenPoolLarger(t *testing.T) {
	p := New(10, func() int { return 0 })
	for i := 0; i < 10; i++ {
		p.Recycle(i)
	}

	Drain(p.Obtain, 4)
	assert.Equal(t, 6, p.Len())
}

// TestPool_Bounded tests recycle beyond capacity drops the instance
func TestPool_Bounded(t *testing.T) {
	p := New(2, func() int { return -1 })

	assert.True(t, p.Recycle(1))
	assert.True(t, p.Recycle(2))
	assert.False(t, p.Recycle(3))
	assert.Equal(t, 2, p.Len())

	assert.Equal(t, 2, p.Obtain())
	assert.Equal(t, 1, p.Obtain())
	assert.Equal(t, -1, p.Obtain(), "empty pool creates a new instance")

	p.Recycle(5)
	p.Clear()
	assert.Equal(t, 0, p.Len())
}

// TestScrubber_Scrub tests one scrub drains and records metrics
func TestScrubber_Scrub(t *testing.T) {
	mc := metrics.NewPrometheusCollector("test")
	var calls atomic.Int32
	s := NewScrubber("nodes", func() int { return int(calls.Add(1)) }, 50, nil, mc)

	require.NoError(t, s.Scrub(context.Background()))
	require.NoError(t, s.Scrub(context.Background()))

	assert.Equal(t, int32(100), calls.Load())
	count, err := testutil.GatherAndCount(mc.Registry(), "test_pool_drains_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestScrubber_Schedule tests the scrub recurs on the scheduler
func TestScrubber_Schedule(t *testing.T) {
	sched := scheduler.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, sched.Shutdown(ctx))
	})

	var calls atomic.Int32
	s := NewScrubber("nodes", func() int { return int(calls.Add(1)) }, 5, nil, nil)
	require.NoError(t, s.Schedule(sched, 5*time.Millisecond, 10*time.Millisecond))

	require.Eventually(t, func() bool { return calls.Load() >= 15 }, time.Second, time.Millisecond)
}
