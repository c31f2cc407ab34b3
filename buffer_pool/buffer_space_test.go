package buffer_pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscardTablespace(t *testing.T) {
	config := defaultTestConfig(t)
	config.PoolSize = 1000
	config.PageSize = 256
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 10000)
	env.files.AddSpace(2, 0, 10000)

	// 200 pages of the doomed space, 50 of them dirty, 10 I/O-fixed;
	// 800 pages of another space.
	fixed := make([]*BufferPage, 0, 10)
	for i := uint32(0); i < 200; i++ {
		block := env.fault(t, 1, i, false)
		if i < 50 {
			env.pool.MarkDirty(block, uint64(i+1))
		}
		if i >= 50 && i < 60 {
			env.pool.SetIOFix(block.BufferPage, BUF_IO_READ)
			fixed = append(fixed, block.BufferPage)
		}
	}
	for i := uint32(0); i < 800; i++ {
		env.fault(t, 2, i, false)
	}

	// The discard has to wait for the fixed pages; complete their reads
	// while it runs.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.pool.FlushOrRemovePages(1, BUF_REMOVE_ALL_NO_WRITE)
	}()

	time.Sleep(50 * time.Millisecond)
	for _, page := range fixed {
		env.pool.SetIOFix(page, BUF_IO_NONE)
	}
	wg.Wait()

	for i := uint32(0); i < 200; i++ {
		assert.False(t, env.resident(1, i), "page %d of the discarded space survived", i)
	}
	for i := uint32(0); i < 800; i++ {
		assert.True(t, env.resident(2, i), "page %d of the other space was lost", i)
	}

	// No dirty page of the space is left behind.
	assert.Equal(t, 0, env.flusher.Len())

	require.NoError(t, env.pool.Validate())
}

func TestDropTablespaceFlushNoWrite(t *testing.T) {
	config := defaultTestConfig(t)
	config.PoolSize = 500
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 10000)
	env.files.AddSpace(2, 0, 10000)

	for i := uint32(0); i < 100; i++ {
		block := env.fault(t, 1, i, false)
		env.pool.MarkDirty(block, uint64(i+1))
	}
	for i := uint32(0); i < 100; i++ {
		block := env.fault(t, 2, i, false)
		env.pool.MarkDirty(block, uint64(i+1))
	}
	require.Equal(t, 200, env.flusher.Len())

	env.pool.FlushOrRemovePages(1, BUF_REMOVE_FLUSH_NO_WRITE)

	// The dirty pages of the space were dropped from the flush set but
	// stay resident; the other space's stay dirty.
	assert.Equal(t, 100, env.flusher.Len())
	for i := uint32(0); i < 100; i++ {
		assert.True(t, env.resident(1, i))
		page := env.lookup(1, i)
		require.NotNil(t, page)
		assert.False(t, page.IsDirty())
	}
	for i := uint32(0); i < 100; i++ {
		page := env.lookup(2, i)
		require.NotNil(t, page)
		assert.True(t, page.IsDirty())
	}

	require.NoError(t, env.pool.Validate())
}

func TestDropFlushSkipsPinnedUntilReleased(t *testing.T) {
	config := defaultTestConfig(t)
	config.PoolSize = 100
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 1000)

	block := env.fault(t, 1, 0, false)
	env.pool.MarkDirty(block, 7)
	block.BufferPage.Fix()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.pool.FlushOrRemovePages(1, BUF_REMOVE_FLUSH_NO_WRITE)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, block.BufferPage.IsDirty(), "a pinned dirty page must not be dropped")

	block.BufferPage.Unfix()
	wg.Wait()

	assert.False(t, block.BufferPage.IsDirty())
	require.NoError(t, env.pool.Validate())
}

func TestDiscardRemovesCompressedOnlyPages(t *testing.T) {
	config := defaultTestConfig(t)
	config.PoolSize = 300
	env := newTestEnv(t, config)
	env.files.AddSpace(5, 64, 1000)

	// Build compressed-only residents by shedding the uncompressed frame.
	for i := uint32(0); i < 200; i++ {
		block := env.fault(t, 5, i, false)
		env.pool.AttachZip(block, env.buddy.Alloc(64))
	}

	env.pool.mu.Lock()
	for i := 0; i < 50; i++ {
		e := env.pool.unzipLRU.Back()
		require.NotNil(t, e)
		page := e.Value.(*BufferBlock).BufferPage
		page.mu.Lock()
		freed, _ := env.pool.freeBlock(page, false)
		page.mu.Unlock()
		require.True(t, freed)
	}
	env.pool.mu.Unlock()

	require.Equal(t, uint32(200), env.pool.LRULen())

	env.pool.FlushOrRemovePages(5, BUF_REMOVE_ALL_NO_WRITE)

	assert.Equal(t, uint32(0), env.pool.LRULen())
	assert.Equal(t, 0, env.buddy.Outstanding(), "compressed storage must return to the buddy allocator")
	require.NoError(t, env.pool.Validate())
}
