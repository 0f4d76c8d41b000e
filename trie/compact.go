package trie

// Online compaction and expiration (spec component C5, §4.5): a fused pass
// over nodes the main upsert recursion did not otherwise touch, moving
// nodes whose min offset trails too far behind the write cursor onto a
// fresh offset, and pruning subtrees whose subtrie_min_version has fallen
// behind the retention horizon.
//
// Resolved Open Question (recorded in DESIGN.md): expiration is checked
// before compaction at each node — a node that is wholly expired is
// dropped outright rather than first being rewritten by compaction.

import "github.com/erigontech/monadstate/chunkpool"

// CompactAndExpire runs the fused pass over root as a standalone
// maintenance operation (as opposed to piggybacking on an upsert's
// untouched-child walk, see passUntouchedChild). Used by background
// maintenance callers that want to sweep a subtree without an accompanying
// update batch.
func CompactAndExpire(ctx *Context, sm StateMachine, root Node) (Node, error) {
	if root == nil {
		return nil, nil
	}
	newRoot, pruned, err := compactExpireNode(ctx, sm, root)
	if err != nil {
		return nil, err
	}
	ctx.Stats.SubtreesPruned += pruned
	return newRoot, nil
}

// passUntouchedChild is consulted by the upsert recursion (upsertIntoBranch)
// for every child nibble the current update batch did not itself touch. It
// is the hook that lets compaction and expiration "ride along" with
// ordinary writes instead of requiring a dedicated tree walk (§4.5).
func (ctx *Context) passUntouchedChild(sm StateMachine, ce *ChildEntry) (*ChildEntry, error) {
	expire := sm.AutoExpire() && ctx.AutoExpireVersion > 0 && ce.SubtrieMinVersion < ctx.AutoExpireVersion
	compact := sm.Compact() && (notExempt(ce.MinOffsetFast, ctx.CompactOffsetFast) || notExempt(ce.MinOffsetSlow, ctx.CompactOffsetSlow))
	if !expire && !compact {
		return ce, nil
	}

	child, err := ctx.loadChild(ce)
	if err != nil {
		// Not resident and no loader configured for this pass: leave the
		// entry untouched: it will be picked up on a future pass once it is
		// paged in.
		return ce, nil
	}

	newChild, pruned, err := compactExpireNode(ctx, sm, child)
	if err != nil {
		return nil, err
	}
	ctx.Stats.SubtreesPruned += pruned
	if newChild == nil {
		return nil, nil
	}

	rewritten, err := ctx.buildChildEntry(sm, newChild, chunkpool.FamilySeqSlow)
	if err != nil {
		return nil, err
	}
	ctx.Stats.NodesRewritten++
	return rewritten, nil
}

// notExempt reports whether an offset below threshold is due for
// compaction. NoOffset (no node on this ring) is never due.
func notExempt(offset, threshold uint64) bool {
	return offset != NoOffset && offset < threshold
}

// compactExpireNode recursively rewrites n, pruning expired subtrees and
// reports how many whole subtrees it removed. It does not itself assign n
// a new offset; the caller (passUntouchedChild or the top-level
// CompactAndExpire caller) does that once it knows which ring to use.
func compactExpireNode(ctx *Context, sm StateMachine, n Node) (Node, int, error) {
	switch t := n.(type) {
	case *LeafNode:
		if sm.AutoExpire() && ctx.AutoExpireVersion > 0 && t.Version < ctx.AutoExpireVersion {
			return nil, 1, nil
		}
		if t.Next != nil {
			newNext, err := ctx.passUntouchedChild(ctx.nextMachine(), t.Next)
			if err != nil {
				return nil, 0, err
			}
			if newNext != t.Next {
				cp := *t
				cp.Next = newNext
				return &cp, 0, nil
			}
		}
		return t, 0, nil

	case *BranchNode:
		// Mutate a copy, not t: t may still be the node a concurrent reader's
		// snapshot points at (I6), so RemoveChild/child replacement must land
		// on a new branch rather than the shared one.
		cp := *t
		pruned := 0
		for i := 0; i < 16; i++ {
			if !t.HasChild(i) {
				continue
			}
			newCe, err := ctx.passUntouchedChild(sm, t.Children[i])
			if err != nil {
				return nil, 0, err
			}
			if newCe == nil {
				cp.RemoveChild(i)
				pruned++
			} else if newCe != t.Children[i] {
				cp.Children[i] = newCe
			}
		}

		if cp.ChildCount() == 0 && len(cp.Value) == 0 {
			return nil, pruned + 1, nil
		}
		if idx, ok := cp.SoleChildIndex(); ok && len(cp.Value) == 0 {
			merged, err := coalesce(cp.Version, &cp, idx)
			return merged, pruned, err
		}
		return &cp, pruned, nil

	default:
		return n, 0, nil
	}
}
