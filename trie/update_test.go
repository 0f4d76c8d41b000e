package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func keyPath(b byte) Path {
	return KeybytesToNibbles([]byte{b, b, b, b})
}

func mustLeafValue(t *testing.T, n Node, want string) {
	t.Helper()
	leaf, ok := n.(*LeafNode)
	require.True(t, ok, "expected a leaf node, got %T", n)
	require.Equal(t, want, string(leaf.Value))
}

func TestUpsertSingleInsert(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
	}, false)
	require.NoError(t, err)
	mustLeafValue(t, root, "v1")
}

func TestUpsertTwoKeysBranch(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
		{Key: keyPath(0x22), Value: []byte("v2")},
	}, false)
	require.NoError(t, err)

	b, ok := root.(*BranchNode)
	require.True(t, ok, "expected a branch node, got %T", root)
	require.Equal(t, 2, b.ChildCount())
}

func TestUpsertUpdateExistingValue(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
	}, false)
	require.NoError(t, err)

	root, err = Upsert(ctx, 2, sm, root, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v2")},
	}, false)
	require.NoError(t, err)
	mustLeafValue(t, root, "v2")
	require.Equal(t, uint64(2), root.NodeVersion())
}

func TestUpsertDeleteCollapsesToNil(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
	}, false)
	require.NoError(t, err)

	root, err = Upsert(ctx, 2, sm, root, UpdateList{
		{Key: keyPath(0x11), Value: nil},
	}, false)
	require.NoError(t, err)
	require.Nil(t, root)
}

// TestUpsertDeleteOneOfTwoCoalesces exercises I2: removing one of two
// siblings under a branch must coalesce the surviving sibling back into a
// single node rather than leaving a one-child branch behind.
func TestUpsertDeleteOneOfTwoCoalesces(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
		{Key: keyPath(0x22), Value: []byte("v2")},
	}, false)
	require.NoError(t, err)

	root, err = Upsert(ctx, 2, sm, root, UpdateList{
		{Key: keyPath(0x11), Value: nil},
	}, false)
	require.NoError(t, err)
	mustLeafValue(t, root, "v2")
}

func TestUpsertThirdKeySplitsBranch(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
		{Key: keyPath(0x22), Value: []byte("v2")},
	}, false)
	require.NoError(t, err)

	root, err = Upsert(ctx, 2, sm, root, UpdateList{
		{Key: keyPath(0x33), Value: []byte("v3")},
	}, false)
	require.NoError(t, err)

	b, ok := root.(*BranchNode)
	require.True(t, ok, "expected a branch node, got %T", root)
	require.Equal(t, 3, b.ChildCount())
}

func TestUpsertRejectsDuplicateKeyInBatch(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	_, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("a")},
		{Key: keyPath(0x11), Value: []byte("b")},
	}, false)
	require.Error(t, err)
}

func TestUpsertAttachesNestedStorageTrie(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	storageUpdates := UpdateList{
		{Key: keyPath(0x01), Value: []byte("s1")},
	}
	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1"), Next: storageUpdates},
	}, false)
	require.NoError(t, err)

	leaf, ok := root.(*LeafNode)
	require.True(t, ok)
	require.NotNil(t, leaf.Next)
	require.Equal(t, leaf.Next.Cached().NodeVersion(), uint64(1))
}

// TestUpsertIncarnationWipesPriorSubtrie exercises I3: an incarnation bump
// discards a leaf's prior Next subtrie before the new one is attached.
func TestUpsertIncarnationWipesPriorSubtrie(t *testing.T) {
	ctx := NewContext()
	sm := NewAccountStateMachine()

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1"), Next: UpdateList{
			{Key: keyPath(0x01), Value: []byte("old")},
		}},
	}, false)
	require.NoError(t, err)

	root, err = Upsert(ctx, 2, sm, root, UpdateList{
		{
			Key:         keyPath(0x11),
			Value:       []byte("v1-incarnation-2"),
			Incarnation: true,
			Next: UpdateList{
				{Key: keyPath(0x02), Value: []byte("new")},
			},
		},
	}, false)
	require.NoError(t, err)

	leaf := root.(*LeafNode)
	sub := leaf.Next.Cached().(*LeafNode)
	require.Equal(t, "new", string(sub.Value))
}

func TestVariableLengthMachineRejectsUpdate(t *testing.T) {
	ctx := NewContext()
	sm := &fixedInsertOnlyMachine{AccountStateMachine: *NewAccountStateMachine()}

	root, err := Upsert(ctx, 1, sm, nil, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v1")},
	}, false)
	require.NoError(t, err)

	_, err = Upsert(ctx, 2, sm, root, UpdateList{
		{Key: keyPath(0x11), Value: []byte("v2")},
	}, false)
	require.Error(t, err)
}

type fixedInsertOnlyMachine struct {
	AccountStateMachine
}

func (*fixedInsertOnlyMachine) IsVariableLength() bool { return true }
