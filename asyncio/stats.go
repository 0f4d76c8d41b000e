package asyncio

import "sync/atomic"

// Stats mirrors the IORecord counters from the original async executor
// (libs/async/src/monad/async/io.hpp): inflight read/write/timer counts and
// ReadsRetried, which counts reads that completed with an error (SubmitRead
// does not itself retry them). Not named in the distilled spec.md but carried
// here as a supplemented feature (§8 of SPEC_FULL.md).
type Stats struct {
	InflightReads  atomic.Int64
	InflightWrites atomic.Int64
	InflightTimers atomic.Int64
	ReadsIssued    atomic.Int64
	ReadsRetried   atomic.Int64
}

// Snapshot is an immutable point-in-time copy of Stats, safe to hand to a
// caller without exposing the live atomics.
type Snapshot struct {
	InflightReads, InflightWrites, InflightTimers int64
	ReadsIssued, ReadsRetried                     int64
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{
		InflightReads:  s.InflightReads.Load(),
		InflightWrites: s.InflightWrites.Load(),
		InflightTimers: s.InflightTimers.Load(),
		ReadsIssued:    s.ReadsIssued.Load(),
		ReadsRetried:   s.ReadsRetried.Load(),
	}
}
