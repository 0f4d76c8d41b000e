package trie

import (
	"github.com/erigontech/monadstate/chunkpool"
	"github.com/erigontech/monadstate/internal/observability"
)

// NoOffset is the sentinel meaning "this subtree has no node on the given
// ring", the min-offset equivalent of a positive infinity.
const NoOffset = ^uint64(0)

// Persister is the narrow interface the update engine needs from C1/C2: a
// way to durably append a serialized node to a ring and get back its
// physical offset. ChunkPersister (persist.go) is the production
// implementation over chunkpool+asyncio; tests may leave Context.Persister
// nil to run the engine purely in memory.
type Persister interface {
	Persist(ring chunkpool.Family, data []byte) (chunkpool.Offset, error)
}

// CompactionStats records the nodes-rewritten/bytes-read/subtrees-pruned
// counters §4.5 requires both compact_ and expire_ to maintain.
type CompactionStats struct {
	NodesRewritten  int
	BytesRead       int
	SubtreesPruned  int
}

// Context carries the per-upsert configuration and bookkeeping the
// recursion needs: the optional durable persister, the compaction/
// expiration thresholds from §4.5, and the virtual-offset clocks for the
// fast/slow rings.
type Context struct {
	Persister Persister

	// CompactOffsetFast/Slow: children whose min_offset_* falls below
	// these thresholds are due for compaction (§4.5).
	CompactOffsetFast uint64
	CompactOffsetSlow uint64

	// AutoExpireVersion: children whose subtrie_min_version falls below
	// this are due for expiration (§4.5).
	AutoExpireVersion uint64

	Stats *CompactionStats

	// NextMachine constructs the StateMachine used when recursing into a
	// Next (nested storage) update list. Defaults to a fresh
	// StorageStateMachine; account tries override nothing else, per
	// §4.4.4's note that account and storage machines differ only in
	// GetCompute and Cache.
	NextMachine func() StateMachine

	fastClock uint64
	slowClock uint64

	log *observability.Logger
}

// NewContext returns a Context suitable for in-memory or disk-backed use.
func NewContext() *Context {
	return &Context{Stats: &CompactionStats{}, log: observability.New("component", "trie")}
}

func (c *Context) nextMachine() StateMachine {
	if c.NextMachine != nil {
		return c.NextMachine()
	}
	return NewStorageStateMachine()
}

// assignOffset hands out the next virtual offset on ring, monotonically
// increasing per §3.1's "monotonically growing logical write cursor".
func (c *Context) assignOffset(ring chunkpool.Family) uint64 {
	if ring == chunkpool.FamilySeqSlow {
		c.slowClock++
		return c.slowClock
	}
	c.fastClock++
	return c.fastClock
}

func minOffset(a, b uint64) uint64 {
	if a == NoOffset {
		return b
	}
	if b == NoOffset {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func minVersion(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
