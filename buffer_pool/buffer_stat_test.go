package buffer_pool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatUpdateWindow(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)

	// The window only rolls once eviction has started.
	atomic.StoreUint64(&env.pool.stat.curIO, 5)
	env.pool.StatUpdate()
	assert.Equal(t, uint64(0), env.pool.stat.sum.io)

	env.pool.mu.Lock()
	env.pool.freedPageClock = 1
	env.pool.mu.Unlock()

	t.Run("samples accumulate into the sum", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			atomic.StoreUint64(&env.pool.stat.curIO, 7)
			atomic.StoreUint64(&env.pool.stat.curUnzip, 3)
			env.pool.StatUpdate()
		}
		assert.Equal(t, uint64(70), env.pool.stat.sum.io)
		assert.Equal(t, uint64(30), env.pool.stat.sum.unzip)
	})

	t.Run("the live pair is zeroed by the tick", func(t *testing.T) {
		assert.Equal(t, uint64(0), atomic.LoadUint64(&env.pool.stat.curIO))
		assert.Equal(t, uint64(0), atomic.LoadUint64(&env.pool.stat.curUnzip))
	})

	t.Run("overwritten slots leave the sum", func(t *testing.T) {
		// Fill the remaining slots, then one more lap with zeros: the sum
		// must drain back down as the old samples rotate out.
		for i := 0; i < BUF_LRU_STAT_N_INTERVAL-10; i++ {
			atomic.StoreUint64(&env.pool.stat.curIO, 7)
			env.pool.StatUpdate()
		}
		require.Equal(t, uint64(7*BUF_LRU_STAT_N_INTERVAL), env.pool.stat.sum.io)

		for i := 0; i < BUF_LRU_STAT_N_INTERVAL; i++ {
			env.pool.StatUpdate()
		}
		assert.Equal(t, uint64(0), env.pool.stat.sum.io)
	})
}

func TestStatAverages(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)

	env.pool.mu.Lock()
	env.pool.stat.sum.io = 500
	env.pool.stat.sum.unzip = 100
	env.pool.mu.Unlock()
	atomic.StoreUint64(&env.pool.stat.curIO, 2)
	atomic.StoreUint64(&env.pool.stat.curUnzip, 1)

	env.pool.mu.Lock()
	ioAvg, unzipAvg := env.pool.statAverages()
	env.pool.mu.Unlock()

	// sum/N plus the live interval.
	assert.InDelta(t, 500.0/BUF_LRU_STAT_N_INTERVAL+2, ioAvg, 0.001)
	assert.InDelta(t, 100.0/BUF_LRU_STAT_N_INTERVAL+1, unzipAvg, 0.001)
}

func TestUnzipCounterFromDecompression(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)

	frame := make([]byte, config.PageSize)
	for i := range frame {
		frame[i] = byte(i % 7)
	}

	compressed, ok := CompressFrame(frame)
	require.True(t, ok, "a repetitive frame must compress")

	dst := make([]byte, config.PageSize)
	require.NoError(t, env.pool.DecompressFrame(compressed, dst))
	assert.Equal(t, frame, dst)

	assert.Equal(t, uint64(1), atomic.LoadUint64(&env.pool.stat.curUnzip))
}
