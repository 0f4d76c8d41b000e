package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/erigontech/monadstate/chunkpool"
	"github.com/erigontech/monadstate/internal/mathutil"
)

// nodeTag is a one-byte discriminator prefixed ahead of the §4.3 fields so
// a leaf that happens to attach a Next subtrie is never confused with a
// one-child branch — the 16-bit mask alone is ambiguous between those two
// shapes (a branch legitimately has mask==1 meaning "only nibble 0 set").
type nodeTag byte

const (
	tagLeaf         nodeTag = 0
	tagLeafWithNext nodeTag = 1
	tagBranch       nodeTag = 2
)

// EncodeNode serializes n into an integral number of device pages,
// following §4.3's field order:
//  1. child mask (16 bits; 0 identifies a leaf)
//  2. own version (8 bytes)
//  3. path nibble length + packed path bytes
//  4. optional value length + value bytes
//  5. per-child table (fnext, min_offset_fast, min_offset_slow,
//     subtrie_min_version, and its child-data bytes, tight per set bit)
//  6. (child-data is inlined per child rather than a separate indirected
//     region — same field content as §4.3, flattened for a single pass
//     encode/decode instead of a table-plus-blob split)
//  7. zero padding to the next page boundary, with the spare-pages count
//     returned alongside so the caller can stamp it into the offset via
//     chunkpool.Offset.Pack.
func EncodeNode(n Node) (data []byte, sparePages uint16, err error) {
	var tag nodeTag
	var mask uint16
	var path Path
	var value []byte
	var version uint64
	var children []*ChildEntry // ordered by nibble, only set bits

	switch t := n.(type) {
	case *LeafNode:
		tag = tagLeaf
		path = t.Path
		value = t.Value
		version = t.Version
		if t.Next != nil {
			children = []*ChildEntry{t.Next}
			tag = tagLeafWithNext
		}
	case *BranchNode:
		tag = tagBranch
		mask = t.Mask
		path = t.Path
		value = t.Value
		version = t.Version
		for i := 0; i < 16; i++ {
			if t.HasChild(i) {
				children = append(children, t.Children[i])
			}
		}
	default:
		return nil, 0, fmt.Errorf("trie: unknown node type %T", n)
	}

	buf := make([]byte, 1+2+8)
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint16(buf[1:3], mask)
	binary.LittleEndian.PutUint64(buf[3:11], version)

	pathLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(pathLen, uint16(len(path)))
	buf = append(buf, pathLen...)
	buf = append(buf, packNibbles(path)...)

	valLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(valLen, uint32(len(value)))
	buf = append(buf, valLen...)
	buf = append(buf, value...)

	for _, ce := range children {
		entry := make([]byte, 4+8+8+8+8+2)
		off := 0
		binary.LittleEndian.PutUint32(entry[off:], ce.Fnext.ChunkID)
		off += 4
		binary.LittleEndian.PutUint64(entry[off:], ce.Fnext.Offset)
		off += 8
		binary.LittleEndian.PutUint64(entry[off:], ce.MinOffsetFast)
		off += 8
		binary.LittleEndian.PutUint64(entry[off:], ce.MinOffsetSlow)
		off += 8
		binary.LittleEndian.PutUint64(entry[off:], ce.SubtrieMinVersion)
		off += 8
		binary.LittleEndian.PutUint16(entry[off:], uint16(len(ce.ChildData)))
		buf = append(buf, entry...)
		buf = append(buf, ce.ChildData...)
	}

	pageCount := mathutil.CeilDiv(len(buf), chunkpool.PageSize)
	if pageCount == 0 {
		pageCount = 1
	}
	padded := make([]byte, pageCount*chunkpool.PageSize)
	copy(padded, buf)

	spare := pageCount - 1
	if spare < 0 || spare >= (1<<chunkpool.SparePagesBits) {
		return nil, 0, chunkpool.ErrSparePagesOverflow
	}
	return padded, uint16(spare), nil
}

func packNibbles(p Path) []byte {
	out := make([]byte, (len(p)+1)/2)
	for i, nib := range p {
		if i%2 == 0 {
			out[i/2] = nib << 4
		} else {
			out[i/2] |= nib & 0x0f
		}
	}
	return out
}

func unpackNibbles(b []byte, n int) Path {
	out := make(Path, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out[i] = b[i/2] >> 4
		} else {
			out[i] = b[i/2] & 0x0f
		}
	}
	return out
}

// DecodeNode reverses EncodeNode, ignoring trailing page padding.
func DecodeNode(data []byte) (Node, error) {
	if len(data) < 11 {
		return nil, fmt.Errorf("trie: node page too short")
	}
	tag := nodeTag(data[0])
	mask := binary.LittleEndian.Uint16(data[1:3])
	version := binary.LittleEndian.Uint64(data[3:11])
	cur := 11

	pathLen := int(binary.LittleEndian.Uint16(data[cur : cur+2]))
	cur += 2
	pathBytes := (pathLen + 1) / 2
	path := unpackNibbles(data[cur:cur+pathBytes], pathLen)
	cur += pathBytes

	valLen := int(binary.LittleEndian.Uint32(data[cur : cur+4]))
	cur += 4
	value := append([]byte(nil), data[cur:cur+valLen]...)
	cur += valLen

	readChild := func() (*ChildEntry, error) {
		if cur+4+8+8+8+8+2 > len(data) {
			return nil, fmt.Errorf("trie: truncated child entry")
		}
		ce := &ChildEntry{}
		ce.Fnext.ChunkID = binary.LittleEndian.Uint32(data[cur:])
		cur += 4
		ce.Fnext.Offset = binary.LittleEndian.Uint64(data[cur:])
		cur += 8
		ce.MinOffsetFast = binary.LittleEndian.Uint64(data[cur:])
		cur += 8
		ce.MinOffsetSlow = binary.LittleEndian.Uint64(data[cur:])
		cur += 8
		ce.SubtrieMinVersion = binary.LittleEndian.Uint64(data[cur:])
		cur += 8
		cdLen := int(binary.LittleEndian.Uint16(data[cur:]))
		cur += 2
		ce.ChildData = append([]byte(nil), data[cur:cur+cdLen]...)
		cur += cdLen
		return ce, nil
	}

	switch tag {
	case tagLeaf:
		return &LeafNode{Path: path, Value: value, Version: version}, nil
	case tagLeafWithNext:
		next, err := readChild()
		if err != nil {
			return nil, err
		}
		return &LeafNode{Path: path, Value: value, Version: version, Next: next}, nil
	}

	b := &BranchNode{Mask: mask, Path: path, Value: value, Version: version}
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		ce, err := readChild()
		if err != nil {
			return nil, err
		}
		b.Children[i] = ce
	}
	return b, nil
}
