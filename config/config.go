// Package config loads engine settings from config files and the
// environment via viper.
package config

import (
	"fmt"
	"time"

	"github.com/beyondbrewing/pebbledis/utils"
	"github.com/spf13/viper"
)

// injected configurations
var (
	APP_NAME    string = "pebbledis"
	APP_VERSION string = "0.0.1"
)

// Options holds every tunable the storage engine exposes.
type Options struct {
	// DBPath is the root directory; each data type gets a subdirectory
	// (strings/, hashes/, sets/, lists/, zsets/).
	DBPath string `mapstructure:"db_path"`

	// StatisticsMaxSize caps the per-engine key-statistics cache.
	StatisticsMaxSize int64 `mapstructure:"statistics_max_size"`

	// SmallCompactionThreshold is the per-key modification count that
	// schedules a targeted CompactKey task.
	SmallCompactionThreshold uint64 `mapstructure:"small_compaction_threshold"`

	// ShareBlockCache makes all five per-type databases share one block
	// cache of BlockCacheSize bytes instead of one each.
	ShareBlockCache bool  `mapstructure:"share_block_cache"`
	BlockCacheSize  int64 `mapstructure:"block_cache_size"`

	// BloomBitsPerKey configures the substrate bloom filter policy.
	BloomBitsPerKey int `mapstructure:"bloom_bits_per_key"`

	// SpopCompactThresholdCount / Duration drive the SPOP compaction
	// heuristic: exceeding either flags the key for targeted compaction.
	SpopCompactThresholdCount    uint64        `mapstructure:"spop_compact_threshold_count"`
	SpopCompactThresholdDuration time.Duration `mapstructure:"spop_compact_threshold_duration"`

	// BatchDeleteLimit caps the in-memory batch size of pattern deletes.
	BatchDeleteLimit int `mapstructure:"batch_delete_limit"`

	// MaxHyperLogLogKeys bounds the key count accepted by PfAdd/PfCount/
	// PfMerge.
	MaxHyperLogLogKeys int `mapstructure:"max_hyperloglog_keys"`

	// SyncWrites forces an fsync per write batch.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// Default returns production-ready defaults.
func Default() *Options {
	return &Options{
		DBPath:                       "./data",
		StatisticsMaxSize:            10000,
		SmallCompactionThreshold:     5000,
		ShareBlockCache:              false,
		BlockCacheSize:               256 << 20,
		BloomBitsPerKey:              10,
		SpopCompactThresholdCount:    500,
		SpopCompactThresholdDuration: 100 * time.Millisecond,
		BatchDeleteLimit:             1000,
		MaxHyperLogLogKeys:           255,
	}
}

// Load reads options from the named config file (optional) merged over
// [Default], with environment variables taking precedence.
func Load(path string) (*Options, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("statistics_max_size", def.StatisticsMaxSize)
	v.SetDefault("small_compaction_threshold", def.SmallCompactionThreshold)
	v.SetDefault("share_block_cache", def.ShareBlockCache)
	v.SetDefault("block_cache_size", def.BlockCacheSize)
	v.SetDefault("bloom_bits_per_key", def.BloomBitsPerKey)
	v.SetDefault("spop_compact_threshold_count", def.SpopCompactThresholdCount)
	v.SetDefault("spop_compact_threshold_duration", def.SpopCompactThresholdDuration)
	v.SetDefault("batch_delete_limit", def.BatchDeleteLimit)
	v.SetDefault("max_hyperloglog_keys", def.MaxHyperLogLogKeys)
	v.SetDefault("sync_writes", def.SyncWrites)

	v.SetEnvPrefix(APP_NAME)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// A ".env" file in the working directory overrides file settings;
	// process environment variables override both.
	if err := utils.MergeEnvFile(v); err != nil {
		return nil, err
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &opts, nil
}
