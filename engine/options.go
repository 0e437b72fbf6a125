package engine

import (
	"time"

	"github.com/beyondbrewing/pebbledis/config"
)

// EngineOptions carries the tunables each type engine consumes. The
// zero value disables the compaction heuristics, which is what tests
// usually want.
type EngineOptions struct {
	// StatisticsMaxSize caps the per-key modification statistics cache.
	StatisticsMaxSize int64

	// SmallCompactionThreshold is the per-key modification count that
	// triggers a targeted CompactKey through NotifyCompact. 0 disables.
	SmallCompactionThreshold uint64

	// NotifyCompact enqueues a targeted compaction task; wired to the
	// dispatcher's background queue.
	NotifyCompact func(typ DataType, key string)

	// SpopCompactThresholdCount / Duration drive the SPOP heuristic.
	SpopCompactThresholdCount    uint64
	SpopCompactThresholdDuration time.Duration
}

// engineOptionsFrom maps the loaded configuration onto per-engine options.
func engineOptionsFrom(cfg *config.Options, notify func(DataType, string)) EngineOptions {
	return EngineOptions{
		StatisticsMaxSize:            cfg.StatisticsMaxSize,
		SmallCompactionThreshold:     cfg.SmallCompactionThreshold,
		NotifyCompact:                notify,
		SpopCompactThresholdCount:    cfg.SpopCompactThresholdCount,
		SpopCompactThresholdDuration: cfg.SpopCompactThresholdDuration,
	}
}
