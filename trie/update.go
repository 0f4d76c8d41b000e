// Package trie implements the node codec, MPT update engine, and
// compaction/expiration passes (spec components C3, C4, C5): a persistent,
// versioned radix trie with branch-mask-compressed layout.
//
// Grounded primarily on category/mpt/trie.cpp's create_new_trie_/upsert_/
// update_value_and_subtrie_ recursion shape (original_source) and
// secondarily on the turbotrie reference package's put/remove recursion
// (Matthalp-go-ethereum/turbotrie/turbotrie.go) for the "mismatch splits a
// branch" / "single-child coalesce" idioms translated into this engine's
// versioned, chunk-addressed node shape.
package trie

import (
	"fmt"
	"sort"

	"github.com/erigontech/monadstate/chunkpool"
	"github.com/pkg/errors"
)

// Update is one entry of a batch driving a single upsert pass (§3.1's
// UpdateList element). A nil Value deletes; a non-empty Next attaches a
// nested trie (used to attach storage under an account); Incarnation wipes
// any prior subtree under Key before Next is applied (I3).
type Update struct {
	Key         Path
	Value       []byte
	Next        UpdateList
	Version     uint64
	Incarnation bool
}

// UpdateList is the unit of input to Upsert.
type UpdateList []*Update

// Upsert is C4's public contract (§4.4.1): a recursive upsert/delete over
// the persistent radix trie rooted at oldRoot, producing a new root for
// version. If writeRoot is set, the caller is expected to additionally
// append a root pointer to the cnv ring (§6.2's write_new_root_node) — that
// step lives in the state package, which owns the per-block commit
// sequencing.
func Upsert(ctx *Context, version uint64, sm StateMachine, oldRoot Node, updates UpdateList, writeRoot bool) (Node, error) {
	sorted, err := sortAndDedup(updates)
	if err != nil {
		return nil, err
	}
	if len(sorted) == 0 {
		return oldRoot, nil
	}
	if oldRoot == nil {
		return createNewTrie(ctx, version, sm, 0, sorted)
	}
	return upsertNode(ctx, version, sm, 0, oldRoot, sorted)
}

func sortAndDedup(updates UpdateList) ([]*Update, error) {
	sorted := make([]*Update, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return comparePaths(sorted[i].Key, sorted[j].Key) < 0 })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Key.Equal(sorted[i].Key) {
			return nil, errors.Errorf("trie: duplicate key in update batch: %x", NibblesToKeybytesPadded(sorted[i].Key))
		}
	}
	return sorted, nil
}

func comparePaths(a, b Path) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func remaining(u *Update, depth int) Path { return u.Key[depth:] }

// ringFor returns which ring a freshly created node's write should land in:
// compaction-produced nodes go to slow, ordinary upsert output goes to
// fast (§4.4.3).
func ringFor(duringCompaction bool) chunkpool.Family {
	if duringCompaction {
		return chunkpool.FamilySeqSlow
	}
	return chunkpool.FamilySeqFast
}

// buildChildEntry assigns a virtual offset to n on ring, persists it if a
// Persister is configured, aggregates I4/I5's min-offset/min-version
// bookkeeping from n's own children, and computes n's ChildData via sm's
// HashingStrategy (§4.4.4's get_compute, I1's determinism requirement).
func (ctx *Context) buildChildEntry(sm StateMachine, n Node, ring chunkpool.Family) (*ChildEntry, error) {
	offset := ctx.assignOffset(ring)

	minFast, minSlow := NoOffset, NoOffset
	if ring == chunkpool.FamilySeqFast {
		minFast = offset
	} else {
		minSlow = offset
	}
	minVer := n.NodeVersion()

	switch t := n.(type) {
	case *BranchNode:
		for i := 0; i < 16; i++ {
			if !t.HasChild(i) {
				continue
			}
			ce := t.Children[i]
			minFast = minOffset(minFast, ce.MinOffsetFast)
			minSlow = minOffset(minSlow, ce.MinOffsetSlow)
			minVer = minVersion(minVer, ce.SubtrieMinVersion)
		}
	case *LeafNode:
		if t.Next != nil {
			minFast = minOffset(minFast, t.Next.MinOffsetFast)
			minSlow = minOffset(minSlow, t.Next.MinOffsetSlow)
			minVer = minVersion(minVer, t.Next.SubtrieMinVersion)
		}
	}

	ce := &ChildEntry{
		MinOffsetFast:     minFast,
		MinOffsetSlow:     minSlow,
		SubtrieMinVersion: minVer,
		ChildData:         computeChildData(sm, n),
	}
	ce.Publish(n)

	if ctx.Persister != nil {
		data, _, err := EncodeNode(n)
		if err != nil {
			return nil, errors.Wrap(err, "trie: encode node")
		}
		off, err := ctx.Persister.Persist(ring, data)
		if err != nil {
			return nil, errors.Wrap(err, "trie: persist node")
		}
		ce.Fnext = off
	} else {
		ce.Fnext = chunkpool.Offset{ChunkID: uint32(ring), Offset: offset}
	}
	return ce, nil
}

// PersistRoot assigns root its own durable offset exactly as buildChildEntry
// would for a non-root child, and returns that offset. Upsert's own
// recursion only ever calls buildChildEntry on a node from its parent's
// perspective, so the top-level returned root is never itself assigned an
// offset; a caller that passed writeRoot=true to Upsert calls this
// afterward to obtain the pointer it appends to the cnv ring (§6.2's
// write_new_root_node).
func PersistRoot(ctx *Context, sm StateMachine, root Node) (chunkpool.Offset, error) {
	if root == nil {
		return chunkpool.InvalidOffset, nil
	}
	ce, err := ctx.buildChildEntry(sm, root, ringFor(false))
	if err != nil {
		return chunkpool.Offset{}, err
	}
	return ce.Fnext, nil
}

// computeChildData derives n's node-hash blob via sm's HashingStrategy: a
// leaf hashes its own path and value, a branch hashes its mask, own value,
// and the already-computed ChildData of its present children in nibble
// order (each child's ChildData was populated by its own buildChildEntry
// call, since the recursion builds children before their parent).
func computeChildData(sm StateMachine, n Node) []byte {
	compute := sm.GetCompute()
	switch t := n.(type) {
	case *LeafNode:
		return compute.HashLeaf(t.Path, t.Value)
	case *BranchNode:
		childData := make([][]byte, 0, t.ChildCount())
		for i := 0; i < 16; i++ {
			if !t.HasChild(i) {
				continue
			}
			childData = append(childData, t.Children[i].ChildData)
		}
		return compute.HashBranch(t.Mask, childData, t.Value)
	default:
		return nil
	}
}

// loadChild resolves ce's node, using the cached pointer if present.
func (ctx *Context) loadChild(ce *ChildEntry) (Node, error) {
	if n := ce.Cached(); n != nil {
		return n, nil
	}
	return nil, errors.New("trie: child not resident in memory (disk loader not wired for this pass)")
}

// createNewTrie handles the case where the update batch has no
// corresponding existing subtree (§4.4.2's create_new_trie_).
func createNewTrie(ctx *Context, version uint64, sm StateMachine, depth int, updates []*Update) (Node, error) {
	live := make([]*Update, 0, len(updates))
	for _, u := range updates {
		// An empty-value update with nothing to attach is a no-op in this
		// context: there is no existing subtree to delete from.
		if u.Value != nil || len(u.Next) > 0 {
			live = append(live, u)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	if len(live) == 1 {
		u := live[0]
		if u.Value == nil {
			return nil, nil
		}
		leaf := &LeafNode{Path: remaining(u, depth).Clone(), Value: u.Value, Version: version}
		if len(u.Next) > 0 {
			sub, err := Upsert(ctx, version, ctx.nextMachine(), nil, u.Next, false)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				ce, err := ctx.buildChildEntry(ctx.nextMachine(), sub, ringFor(false))
				if err != nil {
					return nil, err
				}
				leaf.Next = ce
			}
		}
		return leaf, nil
	}

	prefixLen := commonPrefixAcross(live, depth)
	branch := &BranchNode{Path: remaining(live[0], depth)[:prefixLen].Clone(), Version: version}

	groups := groupByNibble(live, depth+prefixLen)
	for nibble, group := range groups {
		sm.Down(1)
		child, err := createNewTrie(ctx, version, sm, depth+prefixLen+1, group)
		sm.Up(1)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		ce, err := ctx.buildChildEntry(sm, child, ringFor(false))
		if err != nil {
			return nil, err
		}
		branch.SetChild(nibble, ce)
	}

	return finishBranch(version, branch)
}

func commonPrefixAcross(updates []*Update, depth int) int {
	if len(updates) == 0 {
		return 0
	}
	prefix := remaining(updates[0], depth)
	n := len(prefix)
	for _, u := range updates[1:] {
		l := CommonPrefixLen(prefix, remaining(u, depth))
		if l < n {
			n = l
		}
	}
	return n
}

func groupByNibble(updates []*Update, pos int) map[int][]*Update {
	groups := make(map[int][]*Update)
	for _, u := range updates {
		rem := u.Key[pos:]
		nibble := int(rem[0])
		groups[nibble] = append(groups[nibble], u)
	}
	return groups
}

// finishBranch applies I2 coalescing to a freshly built branch: a branch
// with zero children and no value vanishes; one with exactly one child and
// no value merges into its child (extended leaf/branch pair).
func finishBranch(version uint64, b *BranchNode) (Node, error) {
	if b.ChildCount() == 0 && len(b.Value) == 0 {
		return nil, nil
	}
	if idx, ok := b.SoleChildIndex(); ok && len(b.Value) == 0 {
		return coalesce(version, b, idx)
	}
	return b, nil
}

// coalesce merges branch b's sole surviving child (at nibble idx) into a
// single node, combining b.Path + idx + child.Path (I2).
func coalesce(version uint64, b *BranchNode, idx int) (Node, error) {
	ce := b.Children[idx]
	child := ce.Cached()
	if child == nil {
		return nil, errors.New("trie: cannot coalesce a non-resident child (disk loader not wired for this pass)")
	}

	merged := make(Path, 0, len(b.Path)+1+len(childPath(child)))
	merged = append(merged, b.Path...)
	merged = append(merged, byte(idx))
	merged = append(merged, childPath(child)...)

	switch t := child.(type) {
	case *LeafNode:
		return &LeafNode{Path: merged, Value: t.Value, Version: version, Next: t.Next}, nil
	case *BranchNode:
		nb := &BranchNode{Path: merged, Value: t.Value, Version: version, Mask: t.Mask, Children: t.Children}
		return nb, nil
	default:
		return nil, fmt.Errorf("trie: unknown node type %T", child)
	}
}

func childPath(n Node) Path {
	switch t := n.(type) {
	case *LeafNode:
		return t.Path
	case *BranchNode:
		return t.Path
	default:
		return nil
	}
}

// upsertNode handles the case where both an existing subtree and a
// non-empty update batch exist (§4.4.2's upsert_).
func upsertNode(ctx *Context, version uint64, sm StateMachine, depth int, old Node, updates []*Update) (Node, error) {
	switch o := old.(type) {
	case *LeafNode:
		return upsertIntoLeaf(ctx, version, sm, depth, o, updates)
	case *BranchNode:
		return upsertIntoBranch(ctx, version, sm, depth, o, updates)
	default:
		return nil, fmt.Errorf("trie: unknown node type %T", old)
	}
}

func upsertIntoLeaf(ctx *Context, version uint64, sm StateMachine, depth int, leaf *LeafNode, updates []*Update) (Node, error) {
	oldPath := leaf.Path
	mismatch := len(oldPath)
	for _, u := range updates {
		if l := CommonPrefixLen(oldPath, remaining(u, depth)); l < mismatch {
			mismatch = l
		}
	}

	if mismatch == len(oldPath) {
		// The batch's shortest common divergence point is at the end of
		// oldPath: every update either terminates exactly here or
		// continues past it.
		var exact *Update
		var continuing []*Update
		for _, u := range updates {
			rem := remaining(u, depth)
			if len(rem) == len(oldPath) {
				exact = u
			} else {
				continuing = append(continuing, u)
			}
		}
		if len(continuing) == 0 {
			if exact == nil {
				return leaf, nil
			}
			return updateValueAndSubtrie(ctx, version, sm, leaf, exact)
		}

		branch := &BranchNode{Path: oldPath.Clone(), Version: version}
		if exact != nil {
			updated, err := updateValueAndSubtrie(ctx, version, sm, leaf, exact)
			if err != nil {
				return nil, err
			}
			if l, ok := updated.(*LeafNode); ok {
				branch.Value = l.Value
				leaf = l
			}
		} else {
			branch.Value = leaf.Value
		}

		groups := groupByNibble(continuing, depth+len(oldPath))
		for nibble, group := range groups {
			sm.Down(1)
			child, err := createNewTrie(ctx, version, sm, depth+len(oldPath)+1, group)
			sm.Up(1)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			ce, err := ctx.buildChildEntry(sm, child, ringFor(false))
			if err != nil {
				return nil, err
			}
			branch.SetChild(nibble, ce)
		}
		return finishBranch(version, branch)
	}

	// mismatch < len(oldPath): the old leaf and the batch diverge partway
	// through oldPath; split into a branch at the mismatch nibble.
	return splitAtMismatch(ctx, version, sm, depth, leaf, oldPath, mismatch, updates)
}

func upsertIntoBranch(ctx *Context, version uint64, sm StateMachine, depth int, old *BranchNode, updates []*Update) (Node, error) {
	oldPath := old.Path
	mismatch := len(oldPath)
	for _, u := range updates {
		if l := CommonPrefixLen(oldPath, remaining(u, depth)); l < mismatch {
			mismatch = l
		}
	}

	if mismatch < len(oldPath) {
		return splitAtMismatch(ctx, version, sm, depth, old, oldPath, mismatch, updates)
	}

	// The batch's updates all pass through old's own path; descend by
	// nibble (§4.4.2's branch-node-reached case).
	var exact *Update
	groups := make(map[int][]*Update)
	for _, u := range updates {
		rem := remaining(u, depth)
		if len(rem) == len(oldPath) {
			exact = u
			continue
		}
		nibble := int(rem[len(oldPath)])
		groups[int(nibble)] = append(groups[nibble], u)
	}

	newBranch := &BranchNode{Path: oldPath.Clone(), Version: version, Value: old.Value}
	if exact != nil {
		// A branch-terminating update only ever arises for variable-length
		// keys; fixed-length account/storage keys never produce one in
		// practice, so Next attachment at a branch is not supported here
		// (nested subtries only ever attach to leaves in this engine).
		newBranch.Value = exact.Value
	}

	for nibble := 0; nibble < 16; nibble++ {
		group, touched := groups[nibble]
		if !touched {
			if old.HasChild(nibble) {
				ce, err := ctx.passUntouchedChild(sm, old.Children[nibble])
				if err != nil {
					return nil, err
				}
				if ce != nil {
					newBranch.SetChild(nibble, ce)
				}
			}
			continue
		}

		sm.Down(1)
		var child Node
		var err error
		if old.HasChild(nibble) {
			var oldChild Node
			oldChild, err = ctx.loadChild(old.Children[nibble])
			if err == nil {
				child, err = upsertNode(ctx, version, sm, depth+len(oldPath)+1, oldChild, group)
			}
		} else {
			child, err = createNewTrie(ctx, version, sm, depth+len(oldPath)+1, group)
		}
		sm.Up(1)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		ce, err := ctx.buildChildEntry(sm, child, ringFor(false))
		if err != nil {
			return nil, err
		}
		newBranch.SetChild(nibble, ce)
	}

	return finishBranch(version, newBranch)
}

// splitAtMismatch handles both the leaf- and branch-old-node mismatch
// cases: oldNode's own path diverges from the update batch at nibble
// mismatch. The old node survives as a path-shortened child alongside new
// subtrees built from the diverging updates (§4.4.2).
func splitAtMismatch(ctx *Context, version uint64, sm StateMachine, depth int, oldNode Node, oldPath Path, mismatch int, updates []*Update) (Node, error) {
	oldNibble := int(oldPath[mismatch])
	shifted := shiftPath(oldNode, mismatch+1)

	branch := &BranchNode{Path: oldPath[:mismatch].Clone(), Version: version}

	groups := groupByNibble(updates, depth+mismatch)
	for nibble, group := range groups {
		sm.Down(1)
		var child Node
		var err error
		if nibble == oldNibble {
			child, err = upsertNode(ctx, version, sm, depth+mismatch+1, shifted, group)
		} else {
			child, err = createNewTrie(ctx, version, sm, depth+mismatch+1, group)
		}
		sm.Up(1)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		ce, err := ctx.buildChildEntry(sm, child, ringFor(false))
		if err != nil {
			return nil, err
		}
		branch.SetChild(nibble, ce)
	}
	if _, ok := groups[oldNibble]; !ok {
		// No update touched the old subtree's nibble; it survives as-is,
		// path-shortened, unrewritten other than the offset bookkeeping.
		ce, err := ctx.buildChildEntry(sm, shifted, ringFor(false))
		if err != nil {
			return nil, err
		}
		branch.SetChild(oldNibble, ce)
	}

	return finishBranch(version, branch)
}

// shiftPath returns a shallow copy of n with its leading trim nibbles of
// path removed, used when a node survives a mismatch split one level
// deeper than before.
func shiftPath(n Node, trim int) Node {
	switch t := n.(type) {
	case *LeafNode:
		cp := *t
		cp.Path = t.Path[trim:]
		return &cp
	case *BranchNode:
		cp := *t
		cp.Path = t.Path[trim:]
		return &cp
	default:
		return n
	}
}

// updateValueAndSubtrie implements §4.4.2's update_value_and_subtrie_: the
// batch exhausts to a single update whose key equals the old node's path.
func updateValueAndSubtrie(ctx *Context, version uint64, sm StateMachine, leaf *LeafNode, u *Update) (Node, error) {
	if sm.IsVariableLength() {
		return nil, errors.New("trie: variable-length table permits insert only, not update or delete")
	}

	if u.Value == nil && !u.Incarnation && len(u.Next) == 0 {
		// Deletion.
		return nil, nil
	}

	next := leaf.Next
	if u.Incarnation {
		// I3: discard any prior subtree before applying Next.
		next = nil
	}
	if len(u.Next) > 0 {
		var oldSub Node
		if next != nil {
			var err error
			oldSub, err = ctx.loadChild(next)
			if err != nil {
				return nil, err
			}
		}
		sub, err := Upsert(ctx, version, ctx.nextMachine(), oldSub, u.Next, false)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			next = nil
		} else {
			next, err = ctx.buildChildEntry(ctx.nextMachine(), sub, ringFor(false))
			if err != nil {
				return nil, err
			}
		}
	}

	value := leaf.Value
	if u.Value != nil {
		value = u.Value
	}
	if value == nil && next == nil {
		return nil, nil
	}
	return &LeafNode{Path: leaf.Path, Value: value, Version: version, Next: next}, nil
}
