package state

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/monadstate/chunkpool"
	"github.com/erigontech/monadstate/trie"
)

// TestCommitWithRootSinkAppendsRootPointer exercises §6.2's
// write_new_root_node: a BlockState wired to a RootSink commits through the
// root-persistence path without error and returns a non-nil root.
func TestCommitWithRootSinkAppendsRootPointer(t *testing.T) {
	dir := t.TempDir()
	pool, err := chunkpool.Open(dir, 8*datasize.MB)
	require.NoError(t, err)
	defer pool.Close()

	fast, err := pool.NewChunk(chunkpool.FamilySeqFast)
	require.NoError(t, err)
	cnv, err := pool.NewChunk(chunkpool.FamilyCnv)
	require.NoError(t, err)

	ctx := trie.NewContext()
	ctx.Persister = syncPersister{pool: pool, chunkID: fast.ID}

	bs := NewBlockState(ctx, nil)
	bs.SetRootSink(pool, cnv.ID)

	var addr Address
	addr[0] = 0x42
	acc := NewAccount()
	acc.Nonce = 1
	require.NoError(t, bs.WriteAccount(addr, acc))

	root, err := bs.Commit(1)
	require.NoError(t, err)
	require.NotNil(t, root)
}

// syncPersister is a minimal trie.Persister that writes straight to the
// pool without going through the async executor, enough to exercise
// Commit's root-persistence path without standing up an Executor.
type syncPersister struct {
	pool    *chunkpool.Pool
	chunkID uint32
}

func (p syncPersister) Persist(_ chunkpool.Family, data []byte) (chunkpool.Offset, error) {
	return p.pool.Append(p.chunkID, data)
}
