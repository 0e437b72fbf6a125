package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.DBPath, opts.DBPath)
	assert.Equal(t, def.StatisticsMaxSize, opts.StatisticsMaxSize)
	assert.Equal(t, def.BloomBitsPerKey, opts.BloomBitsPerKey)
	assert.Equal(t, def.BatchDeleteLimit, opts.BatchDeleteLimit)
	assert.Equal(t, def.MaxHyperLogLogKeys, opts.MaxHyperLogLogKeys)
	assert.False(t, opts.SyncWrites)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"db_path: /tmp/pebbledis\n"+
			"bloom_bits_per_key: 14\n"+
			"share_block_cache: true\n"+
			"spop_compact_threshold_duration: 250ms\n",
	), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pebbledis", opts.DBPath)
	assert.Equal(t, 14, opts.BloomBitsPerKey)
	assert.True(t, opts.ShareBlockCache)
	assert.Equal(t, 250*time.Millisecond, opts.SpopCompactThresholdDuration)

	// Unspecified keys keep defaults.
	assert.Equal(t, Default().BatchDeleteLimit, opts.BatchDeleteLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
