package asyncio

import (
	"context"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/monadstate/chunkpool"
)

func TestInvokeRunsOnOwningGoroutine(t *testing.T) {
	e := NewExecutor(2, 2)
	defer e.Close()

	done := make(chan struct{})
	e.Invoke(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("invoke never ran")
	}
}

func TestInvokeTimedDelays(t *testing.T) {
	e := NewExecutor(2, 2)
	defer e.Close()

	start := time.Now()
	done := make(chan struct{})
	e.InvokeTimed(30*time.Millisecond, func() { close(done) })

	<-done
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSubmitReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pool, err := chunkpool.Open(dir, 8*datasize.MB)
	require.NoError(t, err)
	defer pool.Close()

	c, err := pool.NewChunk(chunkpool.FamilySeqFast)
	require.NoError(t, err)

	e := NewExecutor(2, 2)
	defer e.Close()

	ctx := context.Background()
	wr := <-e.SubmitWrite(ctx, pool, c.ID, []byte("node-bytes"))
	require.NoError(t, wr.Err)

	rr := <-e.SubmitRead(ctx, pool, c.ID, wr.Offset, len("node-bytes"))
	require.NoError(t, rr.Err)
	require.Equal(t, "node-bytes", string(rr.Data))

	stats := e.Stats()
	require.Equal(t, int64(1), stats.ReadsIssued)
}
