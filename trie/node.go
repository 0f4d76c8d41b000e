package trie

import (
	"math/bits"
	"sync/atomic"

	"github.com/erigontech/monadstate/chunkpool"
)

// Node is either a leaf (path + value) or a branch holding a 16-bit child
// mask plus per-child metadata (§3.1's TrieNode).
type Node interface {
	// NodeVersion is the block number at which the node was written.
	NodeVersion() uint64
	isNode()
}

// LeafNode is a terminal node: a path suffix and its value.
type LeafNode struct {
	Path    Path
	Value   []byte
	Version uint64

	// Next attaches a nested trie (storage under an account), mirroring
	// UpdateList.next — a committed leaf for an account whose storage trie
	// is non-empty carries the storage root's child entry here.
	Next *ChildEntry
}

func (l *LeafNode) NodeVersion() uint64 { return l.Version }
func (*LeafNode) isNode()               {}

// ChildEntry is a branch's per-child metadata: the offset of its
// serialized form, the compaction bookkeeping fields (I4), the expiration
// bookkeeping field (I5), and a lazily-populated in-memory pointer.
//
// cached uses atomic.Pointer for release/acquire publication: the writer
// stores a fully constructed Node with Store (a release), and readers use
// Load (an acquire) so they never observe a partially constructed node —
// the Go idiom for §5's "child-pointer publication ... must use release
// semantics" requirement.
type ChildEntry struct {
	Fnext             chunkpool.Offset
	MinOffsetFast     uint64
	MinOffsetSlow     uint64
	SubtrieMinVersion uint64
	ChildData         []byte

	cached atomic.Pointer[Node]
}

// Cached returns the lazily-populated in-memory child, or nil if not yet
// loaded.
func (c *ChildEntry) Cached() Node {
	p := c.cached.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Publish stores n as the resident in-memory child with release semantics.
func (c *ChildEntry) Publish(n Node) {
	c.cached.Store(&n)
}

// BranchNode holds up to 16 children selected by nibble, a compressed mask
// of which are present, and this branch's own optional value (a branch
// with both a value and children represents the key that terminates here,
// matching the original's "value at a branch" cases).
type BranchNode struct {
	Mask     uint16
	Path     Path // prefix nibbles consumed before branching
	Value    []byte
	Version  uint64
	Children [16]*ChildEntry
}

func (b *BranchNode) NodeVersion() uint64 { return b.Version }
func (*BranchNode) isNode()               {}

// HasChild reports whether nibble i is present in the mask.
func (b *BranchNode) HasChild(i int) bool {
	return b.Mask&(1<<uint(i)) != 0
}

// SetChild marks nibble i present and stores its entry.
func (b *BranchNode) SetChild(i int, e *ChildEntry) {
	b.Mask |= 1 << uint(i)
	b.Children[i] = e
}

// RemoveChild clears nibble i from the mask.
func (b *BranchNode) RemoveChild(i int) {
	b.Mask &^= 1 << uint(i)
	b.Children[i] = nil
}

// ChildCount returns the population count of the mask — must always equal
// the number of non-nil Children entries (§8's quantified invariant).
func (b *BranchNode) ChildCount() int {
	return bits.OnesCount16(b.Mask)
}

// SoleChildIndex returns the nibble of the only set child and true, or
// (0, false) if the branch has zero or more than one child.
func (b *BranchNode) SoleChildIndex() (int, bool) {
	if bits.OnesCount16(b.Mask) != 1 {
		return 0, false
	}
	return bits.TrailingZeros16(b.Mask), true
}
