package trie

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/monadstate/chunkpool"
)

func TestCodecRoundTripLeaf(t *testing.T) {
	leaf := &LeafNode{Path: Path{1, 2, 3, 4}, Value: []byte("hello"), Version: 7}

	data, spare, err := EncodeNode(leaf)
	require.NoError(t, err)
	require.True(t, spare < 1<<15)

	got, err := DecodeNode(data)
	require.NoError(t, err)
	diff := cmp.Diff(leaf, got, cmpopts.IgnoreUnexported(ChildEntry{}))
	require.Empty(t, diff)
}

func TestCodecRoundTripLeafWithNext(t *testing.T) {
	leaf := &LeafNode{
		Path:    Path{5, 6},
		Value:   []byte("acct"),
		Version: 3,
		Next: &ChildEntry{
			Fnext:             chunkOffset(1, 4096),
			MinOffsetFast:     10,
			MinOffsetSlow:     NoOffset,
			SubtrieMinVersion: 3,
		},
	}

	data, _, err := EncodeNode(leaf)
	require.NoError(t, err)

	got, err := DecodeNode(data)
	require.NoError(t, err)
	gotLeaf := got.(*LeafNode)
	require.NotNil(t, gotLeaf.Next)
	require.Equal(t, leaf.Next.Fnext, gotLeaf.Next.Fnext)
	require.Equal(t, leaf.Next.MinOffsetFast, gotLeaf.Next.MinOffsetFast)
}

func TestCodecRoundTripBranch(t *testing.T) {
	b := &BranchNode{Path: Path{9}, Version: 42}
	b.SetChild(0, &ChildEntry{Fnext: chunkOffset(2, 0), MinOffsetFast: 1, MinOffsetSlow: NoOffset, SubtrieMinVersion: 42})
	b.SetChild(15, &ChildEntry{Fnext: chunkOffset(3, 4096), MinOffsetFast: NoOffset, MinOffsetSlow: 2, SubtrieMinVersion: 10})

	data, _, err := EncodeNode(b)
	require.NoError(t, err)

	got, err := DecodeNode(data)
	require.NoError(t, err)
	gotBranch := got.(*BranchNode)
	require.Equal(t, b.Mask, gotBranch.Mask)
	require.Equal(t, 2, gotBranch.ChildCount())
	require.Equal(t, b.Children[0].Fnext, gotBranch.Children[0].Fnext)
	require.Equal(t, b.Children[15].SubtrieMinVersion, gotBranch.Children[15].SubtrieMinVersion)
}

func chunkOffset(id uint32, off uint64) chunkpool.Offset {
	return chunkpool.Offset{ChunkID: id, Offset: off}
}
