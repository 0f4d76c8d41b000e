package blockhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestProposeAndFindChain(t *testing.T) {
	c := NewChain(0, 0, hashOf(0x00))
	require.NoError(t, c.Propose(1, 1, 0, hashOf(0x01)))
	require.NoError(t, c.Propose(2, 2, 1, hashOf(0x02)))

	snap, err := c.FindChain(2)
	require.NoError(t, err)
	h, ok := snap.Get(0)
	require.True(t, ok)
	require.Equal(t, hashOf(0x00), h)
	h, ok = snap.Get(2)
	require.True(t, ok)
	require.Equal(t, hashOf(0x02), h)
}

func TestFindChainUnknownParent(t *testing.T) {
	c := NewChain(0, 0, hashOf(0x00))
	_, err := c.FindChain(99)
	require.ErrorIs(t, err, ErrUnknownRound)
}

func TestFinalizePrunesNonAncestorSiblings(t *testing.T) {
	c := NewChain(0, 0, hashOf(0x00))
	require.NoError(t, c.Propose(1, 1, 0, hashOf(0x01))) // main branch
	require.NoError(t, c.Propose(1, 2, 0, hashOf(0x02))) // competing sibling at round 2
	require.NoError(t, c.Propose(2, 3, 1, hashOf(0x03))) // child of round 1

	require.NoError(t, c.Finalize(3))
	require.Equal(t, uint64(3), c.FinalizedRound())

	// round 2 (sibling of round 1) should have been pruned: it has no path
	// to the new finalized root.
	_, err := c.FindChain(2)
	require.ErrorIs(t, err, ErrUnknownRound)

	// round 3 (now finalized) and its ancestors remain reachable.
	snap, err := c.FindChain(3)
	require.NoError(t, err)
	h, ok := snap.Get(2)
	require.True(t, ok)
	require.Equal(t, hashOf(0x03), h)
}

func TestIsFinalizedAncestor(t *testing.T) {
	c := NewChain(0, 0, hashOf(0x00))
	require.NoError(t, c.Propose(1, 1, 0, hashOf(0x01)))
	require.NoError(t, c.Finalize(1))
	require.True(t, c.IsFinalizedAncestor(0))
	require.True(t, c.IsFinalizedAncestor(1))
	require.False(t, c.IsFinalizedAncestor(2))
}
