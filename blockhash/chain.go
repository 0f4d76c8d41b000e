// Package blockhash maintains the tree of proposed-but-not-finalized block
// hashes rooted at the last finalized block (spec component C7), and
// materializes the 256-entry most-recent-block-hash buffer the EVM
// BLOCKHASH opcode and the history precompile consume.
//
// Grounded on category/execution/ethereum/block_hash_history_test.cpp
// (original_source) for the pre/post-MONAD_SIX fork-gated buffer-vs-
// history-contract-storage behavior (spec.md §8 scenario 5), and on
// erigon's GetHashFn callback shape (tests/state_test_util.go's
// core.NewEVMBlockContext(header, core.GetHashFn(header, nil), ...)) for
// how the engine hands a block-hash resolver to the EVM.
package blockhash

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// BufferLen is the size of the most-recent-block-hash ring the EVM
// BLOCKHASH opcode and history precompile read from (§4.7).
const BufferLen = 256

// Hash is a 32-byte block hash.
type Hash [32]byte

// ErrUnknownRound is returned when a round is not present in the tree.
var ErrUnknownRound = errors.New("blockhash: unknown round")

// node is one entry in the proposal tree: (round, block_id, parent_round,
// block_hash) per §3.1.
type node struct {
	round       uint64
	blockNumber uint64
	parentRound uint64
	hash        Hash
	children    []uint64
}

// Chain tracks the proposal tree of proposed block hashes rooted at the
// last finalized block (§4.7, I7). At most one finalized path exists at
// any time; Finalize prunes every non-ancestor sibling.
type Chain struct {
	mu sync.RWMutex

	nodes     map[uint64]*node
	finalized uint64
	// ancestors is the compact bitmap of rounds on the path from the
	// current finalized round back through every prior finalized round,
	// used by IsFinalizedAncestor to answer "is r an ancestor of the
	// finalized tip" in O(1); Finalize's pruning walk uses its own
	// local set instead (erigon's AccountsHistory/StorageHistory
	// shard-bitmap idiom in erigon-lib/kv/tables.go, repurposed here for
	// round-ancestry membership instead of block-number-shard membership).
	ancestors *roaring.Bitmap
}

// NewChain returns a Chain rooted at genesisRound with the given hash,
// already finalized.
func NewChain(genesisRound uint64, blockNumber uint64, hash Hash) *Chain {
	c := &Chain{
		nodes:     make(map[uint64]*node),
		finalized: genesisRound,
		ancestors: roaring.New(),
	}
	c.nodes[genesisRound] = &node{round: genesisRound, blockNumber: blockNumber, hash: hash}
	c.ancestors.Add(uint32(genesisRound))
	return c
}

// Propose adds a child of parentRound under round, recording blockNumber
// and hash (§4.7's propose).
func (c *Chain) Propose(blockNumber, round, parentRound uint64, hash Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.nodes[parentRound]
	if !ok {
		return errors.Wrapf(ErrUnknownRound, "parent round %d", parentRound)
	}
	if _, exists := c.nodes[round]; exists {
		return errors.Errorf("blockhash: round %d already proposed", round)
	}
	n := &node{round: round, blockNumber: blockNumber, parentRound: parentRound, hash: hash}
	c.nodes[round] = n
	parent.children = append(parent.children, round)
	return nil
}

// BlockHashBuffer is the mutable 256-entry buffer the EVM populates and
// reads from during a single block's speculative execution.
type BlockHashBuffer struct {
	entries [BufferLen]Hash
	set     [BufferLen]bool
}

// Set stores hash at ring slot i (§6.3's BlockHashBuffer.set).
func (b *BlockHashBuffer) Set(i int, hash Hash) {
	slot := i % BufferLen
	b.entries[slot] = hash
	b.set[slot] = true
}

// Get returns the hash at ring slot i and whether it was ever set (§6.3's
// BlockHashBuffer.get).
func (b *BlockHashBuffer) Get(i int) (Hash, bool) {
	slot := i % BufferLen
	return b.entries[slot], b.set[slot]
}

// BlockHashBufferFinalized is an immutable snapshot of a BlockHashBuffer,
// obtained through FindChain at the start of block execution so EVM reads
// never observe a buffer mutated concurrently by another proposal's
// execution (§4.7, §5's "readers consume an immutable snapshot").
type BlockHashBufferFinalized struct {
	buf BlockHashBuffer
}

// Get reads slot i of the frozen snapshot.
func (f *BlockHashBufferFinalized) Get(i int) (Hash, bool) { return f.buf.Get(i) }

// FindChain materializes the BufferLen-entry most-recent-block-hash buffer
// by walking up from parentRound to the last finalized node and then along
// the finalized tail (§4.7's find_chain).
func (c *Chain) FindChain(parentRound uint64) (*BlockHashBufferFinalized, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var path []*node
	cur, ok := c.nodes[parentRound]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRound, "round %d", parentRound)
	}
	for {
		path = append(path, cur)
		if cur.round == c.finalized {
			break
		}
		parent, ok := c.nodes[cur.parentRound]
		if !ok {
			return nil, errors.Errorf("blockhash: round %d has no path to finalized root", parentRound)
		}
		cur = parent
	}
	// Continue along the finalized tail: earlier finalized nodes stay in
	// the map after Finalize, linked through parentRound.
	for len(path) < BufferLen {
		parent, ok := c.nodes[cur.parentRound]
		if !ok || parent.blockNumber >= cur.blockNumber {
			break
		}
		path = append(path, parent)
		cur = parent
	}

	snap := &BlockHashBufferFinalized{}
	// path is ordered from parentRound back to the finalized root; the
	// most recent BufferLen blocks occupy the buffer with block i at slot
	// i % BufferLen, so walk it in chronological order (oldest first).
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		snap.buf.Set(int(n.blockNumber), n.hash)
	}
	return snap, nil
}

// Finalize designates round as finalized, detaching every non-ancestor
// sibling subtree (I7: the set of nodes reachable from any proposed round
// forms a path back to the finalized root; finalization prunes all
// non-ancestor siblings).
func (c *Chain) Finalize(round uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.nodes[round]
	if !ok {
		return errors.Wrapf(ErrUnknownRound, "round %d", round)
	}

	// Walk from target back to the current finalized root, marking the
	// ancestor path.
	keep := make(map[uint64]bool)
	cur := target
	for {
		keep[cur.round] = true
		if cur.round == c.finalized {
			break
		}
		parent, ok := c.nodes[cur.parentRound]
		if !ok {
			return errors.Errorf("blockhash: round %d has no path to finalized root", round)
		}
		cur = parent
	}

	// Prune every node reachable from the old finalized root that is not
	// on the kept ancestor path.
	var prune func(r uint64)
	prune = func(r uint64) {
		n, ok := c.nodes[r]
		if !ok {
			return
		}
		for _, child := range n.children {
			if keep[child] {
				prune(child)
				continue
			}
			pruneSubtree(c.nodes, child)
		}
	}
	prune(c.finalized)

	c.finalized = round
	for r := range keep {
		c.ancestors.Add(uint32(r))
	}
	return nil
}

func pruneSubtree(nodes map[uint64]*node, root uint64) {
	n, ok := nodes[root]
	if !ok {
		return
	}
	for _, child := range n.children {
		pruneSubtree(nodes, child)
	}
	delete(nodes, root)
}

// IsFinalizedAncestor reports whether round lies on the chain of
// historically finalized rounds (the compact bitmap this Chain maintains
// for O(1) ancestry checks by external auditors).
func (c *Chain) IsFinalizedAncestor(round uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ancestors.Contains(uint32(round))
}

// FinalizedRound returns the currently finalized round.
func (c *Chain) FinalizedRound() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalized
}
