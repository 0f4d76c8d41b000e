package chunkpool

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	pool, err := Open(dir, 8*datasize.MB)
	require.NoError(t, err)
	defer pool.Close()

	c, err := pool.NewChunk(FamilySeqFast)
	require.NoError(t, err)

	off, err := pool.Append(c.ID, []byte("hello, trie node"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off.Offset)

	got, err := pool.Read(c.ID, off, len("hello, trie node"))
	require.NoError(t, err)
	require.Equal(t, "hello, trie node", string(got))
}

func TestAppendRejectsOverflow(t *testing.T) {
	dir := t.TempDir()
	pool, err := Open(dir, MinChunkCapacity)
	require.NoError(t, err)
	defer pool.Close()

	c, err := pool.NewChunk(FamilySeqSlow)
	require.NoError(t, err)

	big := make([]byte, uint64(MinChunkCapacity.Bytes())+1)
	_, err = pool.Append(c.ID, big)
	require.ErrorIs(t, err, ErrChunkFull)
}

func TestReadPastCursorFails(t *testing.T) {
	dir := t.TempDir()
	pool, err := Open(dir, 8*datasize.MB)
	require.NoError(t, err)
	defer pool.Close()

	c, err := pool.NewChunk(FamilySeqFast)
	require.NoError(t, err)

	_, err = pool.Read(c.ID, Offset{ChunkID: c.ID, Offset: 0}, 16)
	require.ErrorIs(t, err, ErrReadPastCursor)
}

func TestRootRing(t *testing.T) {
	dir := t.TempDir()
	pool, err := Open(dir, 8*datasize.MB)
	require.NoError(t, err)
	defer pool.Close()

	cnv, err := pool.NewChunk(FamilyCnv)
	require.NoError(t, err)

	require.NoError(t, pool.AppendRoot(cnv.ID, RootEntry{
		BlockNumber: 7,
		RootOffset:  Offset{ChunkID: 1, Offset: 128},
		Version:     7,
	}))
}

func TestOffsetPackRoundTrip(t *testing.T) {
	o := Offset{ChunkID: 42, Offset: 3 * PageSize}
	packed, err := o.Pack(5)
	require.NoError(t, err)

	got, spare := Unpack(packed)
	require.Equal(t, o, got)
	require.Equal(t, uint16(5), spare)
}

func TestOffsetPackRejectsOverBudgetSparePages(t *testing.T) {
	o := Offset{ChunkID: 1, Offset: 0}
	_, err := o.Pack(1 << 15)
	require.ErrorIs(t, err, ErrSparePagesOverflow)
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	pool, err := Open(dir, 8*datasize.MB)
	require.NoError(t, err)
	defer pool.Close()

	_, err = Open(dir, 8*datasize.MB)
	require.ErrorIs(t, err, ErrPoolLocked)
}
