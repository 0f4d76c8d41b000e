package eventring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingWriteReadRoundTrip(t *testing.T) {
	r, err := New("test", 8, 4096)
	require.NoError(t, err)
	defer r.Close()

	r.Write(Record{Kind: EventBlockStart, Block: 1, Payload: []byte("hello")})
	r.Write(Record{Kind: EventTxStart, Block: 1, TxIndex: 0, Payload: []byte("tx0")})

	require.Equal(t, uint64(2), r.Pending())

	rec, ok := r.Read()
	require.True(t, ok)
	require.Equal(t, EventBlockStart, rec.Kind)
	require.Equal(t, []byte("hello"), rec.Payload)

	rec, ok = r.Read()
	require.True(t, ok)
	require.Equal(t, EventTxStart, rec.Kind)
	require.Equal(t, []byte("tx0"), rec.Payload)

	_, ok = r.Read()
	require.False(t, ok)
}

func TestRingRejectsNonPowerOfTwo(t *testing.T) {
	_, err := New("test", 3, 4096)
	require.Error(t, err)
	_, err = New("test", 8, 100)
	require.Error(t, err)
}

func TestRingPayloadWraparound(t *testing.T) {
	r, err := New("test-wrap", 4, 64)
	require.NoError(t, err)
	defer r.Close()

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	r.Write(Record{Kind: EventStateChange, Block: 1, Payload: payload})
	rec, _ := r.Read()
	require.Equal(t, payload, rec.Payload)

	// A second write starting near the end of the 64-byte payload region
	// wraps past the boundary; the double-mapped region must still
	// deliver it as one contiguous slice.
	r.Write(Record{Kind: EventStateChange, Block: 2, Payload: payload})
	rec, ok := r.Read()
	require.True(t, ok)
	require.Equal(t, payload, rec.Payload)
}
