package chunkpool

import "github.com/pkg/errors"

// Errors surfaced by the pool. Write/definite-read failures are fatal per
// §4.1/§7 — callers are expected to wrap these with pkg/errors.Wrap at the
// call site that owns the current upsert so a post-mortem stack trace is
// available (see the engine's fatal-path doc in DESIGN.md).
var (
	ErrChunkFull            = errors.New("chunkpool: append exceeds chunk capacity")
	ErrUnknownChunk         = errors.New("chunkpool: unknown chunk id")
	ErrSparePagesOverflow   = errors.New("chunkpool: spare pages count exceeds 15-bit budget")
	ErrChunkAddressOverflow = errors.New("chunkpool: in-chunk page offset exceeds packed offset budget")
	ErrPoolLocked           = errors.New("chunkpool: pool directory already locked by another process")
	ErrReadPastCursor       = errors.New("chunkpool: read range past chunk's write cursor")
)
