package trie

import "fmt"

// GetLeaf performs a read-only point lookup of key in the subtree rooted
// at n, returning the terminal leaf if one exists. It mirrors the upsert
// recursion's path-matching logic (§4.4) without any mutation: a branch's
// own path must match before descending by nibble, and a branch carrying a
// value at an exact-length key synthesizes a leaf view of it (branches
// never attach a Next subtrie, see trie/update.go's upsertIntoBranch note).
func GetLeaf(n Node, key Path) (*LeafNode, bool, error) {
	switch t := n.(type) {
	case nil:
		return nil, false, nil
	case *LeafNode:
		if !t.Path.Equal(key) {
			return nil, false, nil
		}
		return t, true, nil
	case *BranchNode:
		if len(key) < len(t.Path) || !Path(key[:len(t.Path)]).Equal(t.Path) {
			return nil, false, nil
		}
		rest := key[len(t.Path):]
		if len(rest) == 0 {
			if t.Value == nil {
				return nil, false, nil
			}
			return &LeafNode{Path: key, Value: t.Value, Version: t.Version}, true, nil
		}
		nibble := int(rest[0])
		if !t.HasChild(nibble) {
			return nil, false, nil
		}
		child := t.Children[nibble].Cached()
		if child == nil {
			return nil, false, fmt.Errorf("trie: child not resident in memory (disk loader not wired for this pass)")
		}
		return GetLeaf(child, rest[1:])
	default:
		return nil, false, fmt.Errorf("trie: unknown node type %T", n)
	}
}

// Get is GetLeaf narrowed to just the value bytes.
func Get(n Node, key Path) ([]byte, bool, error) {
	leaf, found, err := GetLeaf(n, key)
	if err != nil || !found {
		return nil, found, err
	}
	return leaf.Value, true, nil
}
