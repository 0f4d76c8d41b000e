// Package statecache implements the concurrent, two-level (account,
// per-account-storage) LRU cache fronting the MPT (spec component C8):
// lookups never take the LRU lock, only refreshing the LRU link when a
// node's last-touch timestamp is older than ~1s. Eviction is not decoupled
// from insertion: the account level's hashicorp LRU evicts its oldest entry
// inside the Add call that exceeds capacity, and the atomic count is
// bookkeeping only. The storage level has no LRU; its entries leave a map
// only through EvictStorage.
//
// Grounded on spec.md §4.8 and on
// include/monad/cache/account_storage_cache.hpp (original_source) for the
// lru_update_period = 1s touch-refresh threshold. The cyclic-ownership risk called out in §9 (account
// entry holds a storage-map reference, storage entry holds a back-edge to
// the same map) is broken with a sync/atomic refcount on the storage map
// wrapper: outstanding storage entries keep the wrapper alive past an
// account reset until their own eviction drops the refcount to zero, the
// idiomatic Go substitute for the original's explicit epoch reclaimer,
// since the GC reclaims the wrapper once the refcount-holding pointers are
// all dropped.
package statecache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/monadstate/internal/observability"
)

// TouchPeriod is the minimum time between LRU-link refreshes for a single
// entry, per account_storage_cache.hpp's lru_update_period.
const TouchPeriod = time.Second

// Address and Slot are the key types the two cache levels are keyed on.
type Address [20]byte
type Slot [32]byte

// Hash32 is a 32-byte trie value, used here for storage-slot values.
type Hash32 [32]byte

// StorageMap is the per-account inner cache, co-owned by the AccountEntry
// and by every StorageEntry it holds (the wrapper the cyclic-ownership note
// refers to). refcount tracks outstanding holders; it is released (for GC
// purposes, by dropping the last pointer) when it reaches zero.
type StorageMap struct {
	refcount atomic.Int32

	mu      sync.Mutex
	entries map[Slot]*StorageEntry
}

func newStorageMap() *StorageMap {
	m := &StorageMap{entries: make(map[Slot]*StorageEntry)}
	m.refcount.Store(1) // the AccountEntry's own reference
	return m
}

func (m *StorageMap) acquire() *StorageMap {
	m.refcount.Add(1)
	return m
}

func (m *StorageMap) release() {
	m.refcount.Add(-1)
}

// StorageEntry is one cached storage slot, per §3.1's "Cache entry" shape.
type StorageEntry struct {
	Value     Hash32
	lastTouch atomic.Int64 // unix nanos

	// owner is this entry's back-edge to the account's storage map. It
	// holds one reference of its own: PutStorage sets it via
	// owner.acquire(), and EvictStorage or a replacing PutStorage releases
	// it. Outstanding entries thus keep the map wrapper alive past an account
	// reset (a None-valued account insert) until every entry referencing
	// it has itself been evicted, per §9's design note.
	owner *StorageMap
}

// AccountEntry is one cached account, per §3.1. Value is nil if the
// account is known not to exist.
type AccountEntry struct {
	Value     *Account
	Storage   *StorageMap
	lastTouch atomic.Int64
}

// Account mirrors the fields the state package's Account type carries;
// duplicated here (rather than importing state) to keep statecache
// independent of the staging layer it fronts — the cache is a read-through
// accelerator the state/trie packages populate, not vice versa.
type Account struct {
	Nonce       uint64
	Balance     [32]byte
	CodeHash    [32]byte
	Incarnation uint64
}

// Stats counts cache hits/misses/evictions for the Prometheus counters
// wired in internal/observability (§8 of SPEC_FULL.md's supplemented
// AccountStorageCache per-operation stats).
type Stats struct {
	AccountHits    atomic.Int64
	AccountMisses  atomic.Int64
	StorageHits    atomic.Int64
	StorageMisses  atomic.Int64
	Evictions      atomic.Int64
	AccountResets  atomic.Int64
}

// Cache is the two-level concurrent account/storage cache.
type Cache struct {
	accounts *lru.Cache[Address, *AccountEntry]
	cap      int
	count    atomic.Int64

	Stats   *Stats
	metrics *observability.Metrics
	log     *observability.Logger
}

// New returns a Cache holding up to accountCapacity accounts. Per-account
// storage maps are unbounded in entry count here (bounded instead by the
// outer eviction of the account itself, which drops the storage map's
// account-held reference); the package offers no per-account slot cap.
func New(accountCapacity int, metrics *observability.Metrics) (*Cache, error) {
	c := &Cache{cap: accountCapacity, Stats: &Stats{}, metrics: metrics, log: observability.New("component", "statecache")}
	inner, err := lru.NewWithEvict[Address, *AccountEntry](accountCapacity, c.onAccountEvict)
	if err != nil {
		return nil, err
	}
	c.accounts = inner
	return c, nil
}

func (c *Cache) onAccountEvict(_ Address, entry *AccountEntry) {
	c.count.Add(-1)
	c.Stats.Evictions.Add(1)
	if c.metrics != nil {
		c.metrics.CacheEvictions.Inc()
	}
	if entry.Storage != nil {
		entry.Storage.release()
	}
}

// GetAccount looks up addr without ever taking the LRU's eviction lock for
// the fast path; the LRU link is refreshed only if the entry's last touch
// is older than TouchPeriod (§4.8's "lookups never take the LRU lock").
func (c *Cache) GetAccount(addr Address) (*AccountEntry, bool) {
	entry, ok := c.accounts.Peek(addr)
	if !ok {
		c.Stats.AccountMisses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheAccountMisses.Inc()
		}
		return nil, false
	}
	c.Stats.AccountHits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheAccountHits.Inc()
	}
	c.maybeTouch(&entry.lastTouch, func() { c.accounts.Get(addr) })
	return entry, true
}

// PutAccount inserts or replaces addr's cached account. A nil value
// (matching spec.md's "an account reset is observed through a None value
// on insert") drops the account's storage-map reference so outstanding
// storage entries become the map's sole owners, per §9's cyclic-ownership
// design note.
func (c *Cache) PutAccount(addr Address, value *Account) *AccountEntry {
	if existing, ok := c.accounts.Peek(addr); ok && value == nil && existing.Storage != nil {
		existing.Storage.release()
		existing.Storage = nil
		c.Stats.AccountResets.Add(1)
	}
	entry := &AccountEntry{Value: value}
	if existing, ok := c.accounts.Peek(addr); ok && value != nil {
		entry.Storage = existing.Storage
	}
	if entry.Storage == nil && value != nil {
		entry.Storage = newStorageMap()
	}
	evicted := c.accounts.Add(addr, entry)
	if !evicted {
		c.count.Add(1)
	}
	return entry
}

// GetStorage looks up (addr, slot), folding the account's storage map
// lookup under the same touch-threshold discipline as GetAccount.
func (c *Cache) GetStorage(addr Address, slot Slot) (Hash32, bool) {
	acctEntry, ok := c.accounts.Peek(addr)
	if !ok || acctEntry.Storage == nil {
		c.Stats.StorageMisses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheStorageMisses.Inc()
		}
		return Hash32{}, false
	}
	m := acctEntry.Storage
	m.mu.Lock()
	se, ok := m.entries[slot]
	m.mu.Unlock()
	if !ok {
		c.Stats.StorageMisses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheStorageMisses.Inc()
		}
		return Hash32{}, false
	}
	c.Stats.StorageHits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheStorageHits.Inc()
	}
	c.maybeTouch(&se.lastTouch, func() {})
	return se.Value, true
}

// PutStorage inserts or replaces (addr, slot)'s cached value, creating the
// account's storage map and account entry if either is absent.
func (c *Cache) PutStorage(addr Address, slot Slot, value Hash32) {
	acctEntry, ok := c.accounts.Peek(addr)
	if !ok {
		acctEntry = c.PutAccount(addr, nil)
	}
	if acctEntry.Storage == nil {
		acctEntry.Storage = newStorageMap()
	}
	m := acctEntry.Storage
	se := &StorageEntry{Value: value, owner: m.acquire()}
	se.lastTouch.Store(nowNanos())

	m.mu.Lock()
	if old, existed := m.entries[slot]; existed {
		old.owner.release()
	}
	m.entries[slot] = se
	m.mu.Unlock()
}

// EvictStorage drops (addr, slot) from its account's storage map, releasing
// the entry's back-reference to the owning map (the eviction half of the
// cyclic-ownership scheme: once every entry referencing a reset account's
// map has been evicted, the wrapper's refcount reaches zero and the GC
// reclaims it).
func (c *Cache) EvictStorage(addr Address, slot Slot) {
	acctEntry, ok := c.accounts.Peek(addr)
	if !ok || acctEntry.Storage == nil {
		return
	}
	m := acctEntry.Storage
	m.mu.Lock()
	se, ok := m.entries[slot]
	if ok {
		delete(m.entries, slot)
	}
	m.mu.Unlock()
	if ok {
		se.owner.release()
		c.Stats.Evictions.Add(1)
	}
}

func nowNanos() int64 { return time.Now().UnixNano() }

// maybeTouch refreshes last, running bump only if the entry has not been
// touched within TouchPeriod — the decoupled "insertions never block on
// LRU, a single evictor does the bookkeeping" policy translated to a
// per-entry cooldown instead of a separate evictor goroutine, since Go's
// hashicorp/golang-lru already serializes its own internal list updates.
func (c *Cache) maybeTouch(last *atomic.Int64, bump func()) {
	now := nowNanos()
	prev := last.Load()
	if now-prev < int64(TouchPeriod) {
		return
	}
	if last.CompareAndSwap(prev, now) {
		bump()
	}
}

// Len returns the number of accounts currently resident.
func (c *Cache) Len() int { return c.accounts.Len() }
