package statecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func addr(b byte) Address {
	var a Address
	a[0] = b
	return a
}

func slot(b byte) Slot {
	var s Slot
	s[0] = b
	return s
}

func TestAccountPutGet(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)

	_, ok := c.GetAccount(addr(1))
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats.AccountMisses.Load())

	c.PutAccount(addr(1), &Account{Nonce: 7})
	entry, ok := c.GetAccount(addr(1))
	require.True(t, ok)
	require.Equal(t, uint64(7), entry.Value.Nonce)
	require.Equal(t, int64(1), c.Stats.AccountHits.Load())
}

func TestStorageRoundTrip(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)

	c.PutAccount(addr(1), &Account{Nonce: 1})
	c.PutStorage(addr(1), slot(1), Hash32{0xAB})

	v, ok := c.GetStorage(addr(1), slot(1))
	require.True(t, ok)
	require.Equal(t, Hash32{0xAB}, v)

	_, ok = c.GetStorage(addr(1), slot(2))
	require.False(t, ok)
}

func TestAccountResetDropsStorageMapReference(t *testing.T) {
	c, err := New(16, nil)
	require.NoError(t, err)

	c.PutAccount(addr(1), &Account{Nonce: 1})
	c.PutStorage(addr(1), slot(1), Hash32{0x01})

	entryBefore, ok := c.GetAccount(addr(1))
	require.True(t, ok)
	m := entryBefore.Storage
	require.Equal(t, int32(2), m.refcount.Load()) // account + one storage entry

	// A None-valued insert resets the account: the account's own reference
	// to the map is released, but the outstanding storage entry still
	// holds the map alive.
	c.PutAccount(addr(1), nil)
	require.Equal(t, int32(1), m.refcount.Load())

	entryAfter, ok := c.GetAccount(addr(1))
	require.True(t, ok)
	require.Nil(t, entryAfter.Value)
	require.Nil(t, entryAfter.Storage)
}

func TestEvictionCallbackReleasesStorageMap(t *testing.T) {
	c, err := New(1, nil)
	require.NoError(t, err)

	c.PutAccount(addr(1), &Account{Nonce: 1})
	entry, _ := c.GetAccount(addr(1))
	m := entry.Storage

	// Evict addr(1) by inserting a second account past capacity 1.
	c.PutAccount(addr(2), &Account{Nonce: 2})

	require.Equal(t, int32(0), m.refcount.Load())
	require.Equal(t, int64(1), c.Stats.Evictions.Load())
}
