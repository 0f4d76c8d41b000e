package trie

import (
	"context"

	"github.com/erigontech/monadstate/asyncio"
	"github.com/erigontech/monadstate/chunkpool"
)

// ChunkPersister writes encoded node pages through the async executor into
// the chunk pool, giving every newly created node either a durable offset
// or a queued write, matching §4.4.1's postcondition. It keeps one
// currently-active chunk per ring and rolls to a fresh chunk when the
// active one would overflow (§4.1's "caller must advance to a new chunk").
type ChunkPersister struct {
	pool *chunkpool.Pool
	exec *asyncio.Executor

	fast *chunkpool.Chunk
	slow *chunkpool.Chunk
}

// NewChunkPersister returns a Persister backed by pool and exec.
func NewChunkPersister(pool *chunkpool.Pool, exec *asyncio.Executor) (*ChunkPersister, error) {
	fast, err := pool.NewChunk(chunkpool.FamilySeqFast)
	if err != nil {
		return nil, err
	}
	slow, err := pool.NewChunk(chunkpool.FamilySeqSlow)
	if err != nil {
		return nil, err
	}
	return &ChunkPersister{pool: pool, exec: exec, fast: fast, slow: slow}, nil
}

// Persist appends data to the active chunk for ring, rolling to a new
// chunk on overflow.
func (p *ChunkPersister) Persist(ring chunkpool.Family, data []byte) (chunkpool.Offset, error) {
	active := p.activeChunk(ring)

	result := <-p.exec.SubmitWrite(context.Background(), p.pool, active.ID, data)
	if result.Err == chunkpool.ErrChunkFull {
		fresh, err := p.pool.NewChunk(ring)
		if err != nil {
			return chunkpool.Offset{}, err
		}
		p.setActiveChunk(ring, fresh)
		result = <-p.exec.SubmitWrite(context.Background(), p.pool, fresh.ID, data)
	}
	return result.Offset, result.Err
}

func (p *ChunkPersister) activeChunk(ring chunkpool.Family) *chunkpool.Chunk {
	if ring == chunkpool.FamilySeqSlow {
		return p.slow
	}
	return p.fast
}

func (p *ChunkPersister) setActiveChunk(ring chunkpool.Family, c *chunkpool.Chunk) {
	if ring == chunkpool.FamilySeqSlow {
		p.slow = c
		return
	}
	p.fast = c
}
