package trie

import "golang.org/x/crypto/sha3"

// HashingStrategy chooses the child-data schema a StateMachine emits for
// each node (§4.3 field 6, §4.4.4's get_compute). Both StateMachines in this
// package return Keccak256Strategy; account tries and storage subtries
// differ in their Cache hook, not in this one.
type HashingStrategy interface {
	// HashLeaf computes the node-hash blob for a leaf given its path and value.
	HashLeaf(path Path, value []byte) []byte
	// HashBranch computes the node-hash blob for a branch given its mask
	// and the (already-hashed) child-data blobs in nibble order.
	HashBranch(mask uint16, childData [][]byte, ownValue []byte) []byte
}

// Keccak256Strategy is the canonical Ethereum MPT hashing strategy: RLP-ish
// encode then Keccak-256, the same primitive tests/state_test_util.go's
// rlpHash uses via golang.org/x/crypto/sha3.
type Keccak256Strategy struct{}

func keccak256(b ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, part := range b {
		h.Write(part)
	}
	return h.Sum(nil)
}

func (Keccak256Strategy) HashLeaf(path Path, value []byte) []byte {
	packed := NibblesToKeybytesPadded(path)
	enc := EncodeList([][]byte{EncodeString(packed), EncodeString(value)})
	return keccak256(enc)
}

func (Keccak256Strategy) HashBranch(mask uint16, childData [][]byte, ownValue []byte) []byte {
	items := make([][]byte, 0, 17)
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) != 0 && len(childData) > 0 {
			items = append(items, EncodeString(childData[0]))
			childData = childData[1:]
		} else {
			items = append(items, EncodeString(nil))
		}
	}
	items = append(items, EncodeString(ownValue))
	return keccak256(EncodeList(items))
}

// RootHash returns n's own node-hash blob under sm's HashingStrategy, or
// nil for an empty trie. It is the same computation buildChildEntry runs
// for every non-root node while building a trie (§4.4.4), exposed here for
// callers that need the hash of a standalone root (e.g. asserting a
// committed trie's root against an expected value in tests), since a root
// node is never itself wrapped in a ChildEntry.
func RootHash(n Node, sm StateMachine) []byte {
	if n == nil {
		return nil
	}
	return computeChildData(sm, n)
}

// NibblesToKeybytesPadded packs a (possibly odd-length) nibble path into
// bytes, padding the final nibble with a zero low nibble when the length is
// odd, the way a hex-prefix encoding would; used only for hashing input,
// not for on-disk storage (the codec stores nibble count explicitly).
func NibblesToKeybytesPadded(p Path) []byte {
	padded := p
	if len(p)%2 != 0 {
		padded = make(Path, len(p)+1)
		copy(padded, p)
	}
	return NibblesToKeybytes(padded)
}
