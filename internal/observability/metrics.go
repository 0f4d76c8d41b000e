package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the compaction/expiration (C5) and cache (C8) counters the
// distilled spec.md does not name but a complete engine exposes regardless,
// per §4.5's "record statistics" instruction and §4.8's LRU touch stats.
// The cache counters are fed by statecache. CompactedNodes, ExpiredSubtrees
// and BytesRead are registered but nothing in this repository increments
// them; the trie package tallies those figures in trie.Context.Stats.
type Metrics struct {
	CompactedNodes  prometheus.Counter
	ExpiredSubtrees prometheus.Counter
	BytesRead       prometheus.Counter

	CacheAccountHits   prometheus.Counter
	CacheAccountMisses prometheus.Counter
	CacheStorageHits   prometheus.Counter
	CacheStorageMisses prometheus.Counter
	CacheEvictions     prometheus.Counter
}

// NewMetrics registers the engine's counters against reg. Callers that do
// not want process-wide registration pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CompactedNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "trie", Name: "compacted_nodes_total",
			Help: "Number of trie nodes rewritten by online compaction.",
		}),
		ExpiredSubtrees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "trie", Name: "expired_subtrees_total",
			Help: "Number of subtrees pruned by expiration.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "trie", Name: "bytes_read_total",
			Help: "Bytes read from the chunk pool while compacting or expiring.",
		}),
		CacheAccountHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "cache", Name: "account_hits_total",
		}),
		CacheAccountMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "cache", Name: "account_misses_total",
		}),
		CacheStorageHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "cache", Name: "storage_hits_total",
		}),
		CacheStorageMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "cache", Name: "storage_misses_total",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monadstate", Subsystem: "cache", Name: "evictions_total",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CompactedNodes, m.ExpiredSubtrees, m.BytesRead,
			m.CacheAccountHits, m.CacheAccountMisses,
			m.CacheStorageHits, m.CacheStorageMisses, m.CacheEvictions,
		)
	}
	return m
}
