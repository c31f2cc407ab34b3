package buffer_pool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xbufpool/util"
)

func readDumpPairs(t *testing.T, path string) []dumpRecord {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Zero(t, len(data)%8, "dump file must be a multiple of 8 bytes")

	var pairs []dumpRecord
	for cursor := 0; cursor+8 <= len(data); {
		var spaceId, pageNo uint32
		cursor, spaceId = util.ReadBE4(data, cursor)
		cursor, pageNo = util.ReadBE4(data, cursor)
		if spaceId == lruDumpTerminator || pageNo == lruDumpTerminator {
			return pairs
		}
		pairs = append(pairs, dumpRecord{spaceId: spaceId, pageNo: pageNo})
	}
	t.Fatalf("no terminator found in %s", path)
	return nil
}

func TestDumpWritesLRUOrder(t *testing.T) {
	config := defaultTestConfig(t)
	config.PoolSize = 300
	config.LRUDumpOldPages = true
	env := newTestEnv(t, config)

	for i := uint32(0); i < 250; i++ {
		env.fault(t, 1, i, false)
	}

	require.NoError(t, env.pool.DumpFile())

	pairs := readDumpPairs(t, filepath.Join(config.DataDir, LRUDumpFile))
	require.Len(t, pairs, 250)

	// Head first: the most recent resident leads.
	env.pool.mu.Lock()
	head := env.pool.lru.Front().Value.(*BufferPage)
	env.pool.mu.Unlock()
	assert.Equal(t, head.GetPageNo(), pairs[0].pageNo)

	// The temp file is gone after the rename.
	_, err := os.Stat(filepath.Join(config.DataDir, LRUDumpTempFile))
	assert.True(t, os.IsNotExist(err))
}

func TestDumpExcludesOldPages(t *testing.T) {
	config := defaultTestConfig(t)
	config.PoolSize = 300
	config.LRUDumpOldPages = false
	env := newTestEnv(t, config)

	for i := uint32(0); i < 250; i++ {
		env.fault(t, 1, i, false)
	}

	require.NoError(t, env.pool.DumpFile())

	pairs := readDumpPairs(t, filepath.Join(config.DataDir, LRUDumpFile))
	lruLen := env.pool.LRULen()
	oldLen := env.pool.OldLen()
	require.Less(t, uint32(len(pairs)), lruLen)
	assert.Equal(t, lruLen-oldLen, uint32(len(pairs)))

	for _, pair := range pairs {
		page := env.lookup(pair.spaceId, pair.pageNo)
		require.NotNil(t, page)
		assert.False(t, page.IsOld())
	}
}

func TestDumpRefusesDataFileNameCollision(t *testing.T) {
	config := defaultTestConfig(t)
	config.DataFiles = []string{filepath.Join(config.DataDir, LRUDumpFile)}
	env := newTestEnv(t, config)

	err := env.pool.DumpFile()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDumpNameCollision)
}

func TestRestoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()

	config := defaultTestConfig(t)
	config.PoolSize = 300
	config.LRUDumpOldPages = true
	config.DataDir = dataDir
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 1000)
	env.files.AddSpace(2, 0, 1000)

	for i := uint32(0); i < 100; i++ {
		env.fault(t, 1, i, false)
	}
	for i := uint32(0); i < 100; i++ {
		env.fault(t, 2, i, false)
	}

	require.NoError(t, env.pool.DumpFile())

	// A fresh pool after "restart".
	restoreConfig := defaultTestConfig(t)
	restoreConfig.PoolSize = 300
	restoreConfig.DataDir = dataDir
	restored := newTestEnv(t, restoreConfig)
	restored.files.AddSpace(1, 0, 1000)
	restored.files.AddSpace(2, 0, 1000)

	require.NoError(t, restored.pool.RestoreFile())

	reads := restored.files.Reads()
	require.Len(t, reads, 200, "every dumped page is backed and must be requested")

	// No page is requested twice.
	seen := make(map[dumpRecord]bool, len(reads))
	for i, read := range reads {
		require.False(t, seen[dumpRecord{read.spaceId, read.pageNo}], "page read twice")
		seen[dumpRecord{read.spaceId, read.pageNo}] = true
		if i > 0 && reads[i-1].spaceId == read.spaceId {
			if reads[i-1].pageNo+1 != read.pageNo {
				// A new run started; the order of reads is not asserted.
				continue
			}
		}
	}
}

func TestRestoreRejectsBrokenFile(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)

	path := filepath.Join(config.DataDir, LRUDumpFile)

	t.Run("odd sized file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, make([]byte, 13), 0644))
		err := env.pool.RestoreFile()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBrokenDumpFile)
	})

	t.Run("empty file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, nil, 0644))
		err := env.pool.RestoreFile()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBrokenDumpFile)
	})

	t.Run("missing file", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		require.Error(t, env.pool.RestoreFile())
	})
}

func TestRestoreToleratesMissingTerminator(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 1000)

	// Three records, no terminator: the prefix is processed.
	buffer := make([]byte, 24)
	cursor := 0
	for i := uint32(0); i < 3; i++ {
		cursor = util.WriteBE4(buffer, cursor, 1)
		cursor = util.WriteBE4(buffer, cursor, 10+i)
	}
	path := filepath.Join(config.DataDir, LRUDumpFile)
	require.NoError(t, os.WriteFile(path, buffer, 0644))

	require.NoError(t, env.pool.RestoreFile())
	assert.Len(t, env.files.Reads(), 3)
}

func TestRestoreSkipsUnknownSpacesAndMissingExtents(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)
	// Space 1 exists with 5 pages; space 9 does not exist at all.
	env.files.AddSpace(1, 0, 5)

	buffer := make([]byte, config.PageSize)
	cursor := 0
	writeRec := func(spaceId, pageNo uint32) {
		cursor = util.WriteBE4(buffer, cursor, spaceId)
		cursor = util.WriteBE4(buffer, cursor, pageNo)
	}
	writeRec(9, 1)
	writeRec(1, 3)
	writeRec(1, 100) // beyond the extent
	writeRec(lruDumpTerminator, lruDumpTerminator)

	path := filepath.Join(config.DataDir, LRUDumpFile)
	require.NoError(t, os.WriteFile(path, buffer, 0644))

	require.NoError(t, env.pool.RestoreFile())

	reads := env.files.Reads()
	require.Len(t, reads, 1)
	assert.Equal(t, uint32(3), reads[0].pageNo)
}

func TestRestoreHonorsLoadCap(t *testing.T) {
	config := defaultTestConfig(t)
	config.LRULoadMaxEntries = 2
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 1000)

	buffer := make([]byte, config.PageSize)
	cursor := 0
	// Non-contiguous pages so no run batching kicks in.
	for _, pageNo := range []uint32{10, 20, 30, 40} {
		cursor = util.WriteBE4(buffer, cursor, 1)
		cursor = util.WriteBE4(buffer, cursor, pageNo)
	}
	cursor = util.WriteBE4(buffer, cursor, lruDumpTerminator)
	util.WriteBE4(buffer, cursor, lruDumpTerminator)

	path := filepath.Join(config.DataDir, LRUDumpFile)
	require.NoError(t, os.WriteFile(path, buffer, 0644))

	require.NoError(t, env.pool.RestoreFile())
	assert.Len(t, env.files.Reads(), 2)
}

func TestRestoreThrottle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping throttle test in short mode")
	}

	config := defaultTestConfig(t)
	config.IOCapacity = 5
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 1000)

	buffer := make([]byte, config.PageSize)
	cursor := 0
	for i := uint32(0); i < 12; i++ {
		cursor = util.WriteBE4(buffer, cursor, 1)
		cursor = util.WriteBE4(buffer, cursor, i*10)
	}
	cursor = util.WriteBE4(buffer, cursor, lruDumpTerminator)
	util.WriteBE4(buffer, cursor, lruDumpTerminator)

	path := filepath.Join(config.DataDir, LRUDumpFile)
	require.NoError(t, os.WriteFile(path, buffer, 0644))

	start := time.Now()
	require.NoError(t, env.pool.RestoreFile())
	elapsed := time.Since(start)

	// Two full windows of 5 requests are slept out; the trailing 2 are not.
	assert.GreaterOrEqual(t, elapsed, 1900*time.Millisecond)
	assert.Len(t, env.files.Reads(), 12)
}

func TestRestoreObservesShutdown(t *testing.T) {
	config := defaultTestConfig(t)
	env := newTestEnv(t, config)
	env.files.AddSpace(1, 0, 1000)

	buffer := make([]byte, config.PageSize)
	cursor := 0
	for i := uint32(0); i < 10; i++ {
		cursor = util.WriteBE4(buffer, cursor, 1)
		cursor = util.WriteBE4(buffer, cursor, i*5)
	}
	cursor = util.WriteBE4(buffer, cursor, lruDumpTerminator)
	util.WriteBE4(buffer, cursor, lruDumpTerminator)

	path := filepath.Join(config.DataDir, LRUDumpFile)
	require.NoError(t, os.WriteFile(path, buffer, 0644))

	env.pool.BeginShutdown()
	require.NoError(t, env.pool.RestoreFile())
	assert.Empty(t, env.files.Reads())
}
