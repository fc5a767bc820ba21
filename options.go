package vela

import (
	"time"

	"github.com/vela-db/vela/codec"
	"go.uber.org/zap"
)

// Default tuning values, used whenever the corresponding Options field
// is left zero-valued.
const (
	DefaultFlushThreshold = 1000 // mem-table entries
	DefaultCompactRuns    = 4
	DefaultTickInterval   = 1 * time.Second
)

// Options configures Open. There is no config-file parser beyond the
// schema's own metadata.json (spec.md §6) — Options is the whole of
// vela's configuration surface, set directly by the caller (the bench
// command sets only Schema and Logger).
type Options struct {
	// Schema is required the first time a table directory is opened.
	// Ignored on subsequent opens, where metadata.json already exists.
	Schema *codec.Schema

	// Logger receives structured logs from the coordinator and its
	// background loop. Defaults to a no-op logger.
	Logger *zap.Logger

	// FlushThreshold is the mem-table entry count (memtable.Tree.Size)
	// at which the default TriggerPolicy requests a flush.
	FlushThreshold int

	// CompactRuns is the run count at which the default TriggerPolicy
	// requests a compaction.
	CompactRuns int

	// TickInterval is how often the background loop re-evaluates the
	// trigger policy.
	TickInterval time.Duration

	// Policy overrides the default size/run-count TriggerPolicy
	// (spec.md §9's open question on trigger policy).
	Policy TriggerPolicy
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = DefaultFlushThreshold
	}
	if o.CompactRuns <= 0 {
		o.CompactRuns = DefaultCompactRuns
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.Policy == nil {
		o.Policy = SizeAndRunCountPolicy{FlushThreshold: o.FlushThreshold, CompactRuns: o.CompactRuns}
	}
}

// TriggerPolicy decides when the background loop escalates to a flush
// or a compaction (spec.md §9: trigger policy is an open question,
// resolved here as a pluggable interface rather than a hardcoded rule).
type TriggerPolicy interface {
	ShouldFlush(memtableSize int) bool
	ShouldCompact(numRuns int) bool
}

// SizeAndRunCountPolicy is the default TriggerPolicy: flush once the
// mem-table crosses FlushThreshold entries, compact once the run count
// reaches CompactRuns.
type SizeAndRunCountPolicy struct {
	FlushThreshold int
	CompactRuns    int
}

func (p SizeAndRunCountPolicy) ShouldFlush(memtableSize int) bool {
	return memtableSize >= p.FlushThreshold
}

func (p SizeAndRunCountPolicy) ShouldCompact(numRuns int) bool {
	return numRuns >= p.CompactRuns
}
