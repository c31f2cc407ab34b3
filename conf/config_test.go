package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "my.cnf")

	content := `[buffer_pool]
pool_size = 2048
old_ratio = 25
fast_free_list = false
io_capacity = 400
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewCfg().Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(2048), cfg.PoolSize)
	assert.Equal(t, uint32(25), cfg.OldBlocksPct)
	assert.False(t, cfg.FastFreeList)
	assert.Equal(t, uint32(400), cfg.IOCapacity)

	// Untouched keys keep their defaults.
	assert.Equal(t, uint32(16384), cfg.PageSize)
	assert.Equal(t, uint32(1000), cfg.OldThresholdMS)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewCfg().Load(filepath.Join(t.TempDir(), "absent.cnf"))
	assert.Error(t, err)
}
