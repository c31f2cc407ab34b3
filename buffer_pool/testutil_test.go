package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv wires a pool to the in-process collaborators.
type testEnv struct {
	pool    *Pool
	hash    *MapPageHash
	flusher *ListFlusher
	buddy   *HeapBuddy
	files   *MemFileLayer
}

func defaultTestConfig(t *testing.T) *Config {
	return &Config{
		PoolSize:        100,
		PageSize:        512,
		OldBlocksPct:    37,
		OldThresholdMS:  1000,
		UnzipLRUPct:     10,
		IOToUnzipFactor: 50,
		FastFreeList:    true,
		IOCapacity:      10000,
		DataDir:         t.TempDir(),
		DebugChecks:     true,
	}
}

func newTestEnv(t *testing.T, config *Config) *testEnv {
	t.Helper()

	if config == nil {
		config = defaultTestConfig(t)
	}

	env := &testEnv{
		hash:    NewMapPageHash(),
		flusher: NewListFlusher(),
		buddy:   NewHeapBuddy(),
		files:   NewMemFileLayer(),
	}

	pool, err := NewPool(config, Collaborators{
		PageHash: env.hash,
		Flusher:  env.flusher,
		Buddy:    env.buddy,
		AHI:      NoAdaptiveHash{},
		Files:    env.files,
	})
	require.NoError(t, err)

	// Tests drive the sample window by hand.
	pool.statTicker.Stop()

	env.pool = pool
	t.Cleanup(pool.Close)

	return env
}

// fault brings a page in and drops the caller pin.
func (env *testEnv) fault(t *testing.T, spaceId uint32, pageNo uint32, young bool) *BufferBlock {
	t.Helper()

	block, err := env.pool.FaultPage(spaceId, pageNo, young)
	require.NoError(t, err)
	block.BufferPage.Unfix()
	return block
}

// resident reports whether the page is in the pool.
func (env *testEnv) resident(spaceId uint32, pageNo uint32) bool {
	env.pool.mu.Lock()
	defer env.pool.mu.Unlock()
	return env.hash.Lookup(spaceId, pageNo) != nil
}

// lookup returns the resident descriptor, nil when absent.
func (env *testEnv) lookup(spaceId uint32, pageNo uint32) *BufferPage {
	env.pool.mu.Lock()
	defer env.pool.mu.Unlock()
	return env.hash.Lookup(spaceId, pageNo)
}
