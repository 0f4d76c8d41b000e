package statetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/monadstate/state"
	"github.com/erigontech/monadstate/trie"
)

// TestSimpleCommitRead mirrors spec.md §8 scenario 1: two accounts
// committed at successive versions, asserting a version-1 view only shows
// the first account.
func TestSimpleCommitRead(t *testing.T) {
	ctx := trie.NewContext()

	a, err := parseAddress("0x5353535353535353535353535353535353535353")
	require.NoError(t, err)
	b, err := parseAddress("0xbebebebebebebebebebebebebebebebebebebebe")
	require.NoError(t, err)

	bs := state.NewBlockState(ctx, nil)
	accA := state.NewAccount()
	accA.Balance.SetUint64(30000)
	require.NoError(t, bs.WriteAccount(a, accA))
	root1, err := bs.Commit(1)
	require.NoError(t, err)
	require.NotNil(t, root1)

	bs2 := state.NewBlockState(ctx, root1)
	accB := state.NewAccount()
	accB.Balance.SetUint64(40000)
	require.NoError(t, bs2.WriteAccount(b, accB))
	key1, err := parseHash("0x01")
	require.NoError(t, err)
	v1, err := parseHash("0x01")
	require.NoError(t, err)
	require.NoError(t, bs2.WriteStorage(b, key1, v1))
	root2, err := bs2.Commit(2)
	require.NoError(t, err)

	// Read at version 2: both accounts visible.
	view2 := state.NewBlockState(ctx, root2)
	gotA, err := view2.ReadAccount(a)
	require.NoError(t, err)
	require.NotNil(t, gotA)
	require.True(t, gotA.Balance.Eq(accA.Balance))
	gotB, err := view2.ReadAccount(b)
	require.NoError(t, err)
	require.NotNil(t, gotB)
	require.True(t, gotB.Balance.Eq(accB.Balance))

	// Read at version 1 (root1): only the first account exists.
	view1 := state.NewBlockState(ctx, root1)
	gotA1, err := view1.ReadAccount(a)
	require.NoError(t, err)
	require.NotNil(t, gotA1)
	gotB1, err := view1.ReadAccount(b)
	require.NoError(t, err)
	require.Nil(t, gotB1)
}

// TestDeterministicRootHash exercises §8's quantified invariant: two
// identical update batches against identical starting state produce
// identical root hashes.
func TestDeterministicRootHash(t *testing.T) {
	run := func() []byte {
		ctx := trie.NewContext()
		bs := state.NewBlockState(ctx, nil)
		a, err := parseAddress("0xaa00000000000000000000000000000000000000")
		require.NoError(t, err)
		acc := state.NewAccount()
		acc.Nonce = 7
		require.NoError(t, bs.WriteAccount(a, acc))
		root, err := bs.Commit(1)
		require.NoError(t, err)
		return trie.RootHash(root, trie.NewAccountStateMachine())
	}

	h1 := run()
	h2 := run()
	require.NotEmpty(t, h1)
	require.Equal(t, h1, h2)
}

// TestSingleEntryBoundary matches §8's boundary law: a trie with exactly
// one (key, value) is a single leaf, and deleting it returns the root to
// nil.
func TestSingleEntryBoundary(t *testing.T) {
	ctx := trie.NewContext()
	bs := state.NewBlockState(ctx, nil)
	a, err := parseAddress("0x0100000000000000000000000000000000000000")
	require.NoError(t, err)
	acc := state.NewAccount()
	acc.Nonce = 1
	require.NoError(t, bs.WriteAccount(a, acc))
	root, err := bs.Commit(1)
	require.NoError(t, err)
	require.IsType(t, &trie.LeafNode{}, root)

	bs2 := state.NewBlockState(ctx, root)
	require.NoError(t, bs2.WriteAccount(a, nil))
	root2, err := bs2.Commit(2)
	require.NoError(t, err)
	require.Nil(t, root2)
}

// TestParseCaseAndRunEmptyPreState exercises the JSON-driven path: an
// empty pre-state committed at version 1 must leave the root nil,
// matching an empty expectedRootHash.
func TestParseCaseAndRunEmptyPreState(t *testing.T) {
	c, err := ParseCase([]byte(`{"pre":{},"version":1,"expectedRootHash":""}`))
	require.NoError(t, err)
	require.NoError(t, Run(c))
}

// TestParseCaseRunRejectsWrongHash confirms Run surfaces a mismatch
// instead of silently accepting the wrong root.
func TestParseCaseRunRejectsWrongHash(t *testing.T) {
	c, err := ParseCase([]byte(`{
		"pre": {"0x0100000000000000000000000000000000000000": {"balance": "0x1", "nonce": 1}},
		"version": 1,
		"expectedRootHash": "0x00"
	}`))
	require.NoError(t, err)
	require.Error(t, Run(c))
}
