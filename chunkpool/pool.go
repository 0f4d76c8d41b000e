// Package chunkpool implements the durable, append-only extent allocator
// (spec component C1): chunks with fixed capacity and monotonically growing
// write offsets, organized into a fast/slow seq-chunk ring for trie node
// pages and a small cnv-chunk ring for root pointers.
//
// Adapted from the append-only, small-integer-addressed segment-file idiom
// in erigon's turbo/snapshotsync package (content-addressed immutable
// segments enumerated via OpenFolder) — here retargeted at raw, mutable-
// capacity extents instead of immutable content-addressed files.
package chunkpool

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/c2h5oh/datasize"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/erigontech/monadstate/internal/mathutil"
	"github.com/erigontech/monadstate/internal/observability"
)

// PageSize is the device page granularity nodes are serialized against (§4.3).
const PageSize = 4096

// MinChunkCapacity is the smallest chunk capacity the pool will create,
// per §3.1 ("at least 8 MiB, multiple of a device page").
const MinChunkCapacity = 8 * datasize.MB

// Family distinguishes the two logical chunk families from §4.1.
type Family uint8

const (
	// FamilySeqFast holds recent, hot node-page writes.
	FamilySeqFast Family = iota
	// FamilySeqSlow holds compacted, older node-page writes.
	FamilySeqSlow
	// FamilyCnv holds the small fixed-size root-pointer ring.
	FamilyCnv
)

func (f Family) String() string {
	switch f {
	case FamilySeqFast:
		return "seq-fast"
	case FamilySeqSlow:
		return "seq-slow"
	case FamilyCnv:
		return "cnv"
	default:
		return "unknown"
	}
}

// Chunk is a physically contiguous extent with a monotonically growing
// logical write cursor, per §3.1.
type Chunk struct {
	ID       uint32
	Family   Family
	Capacity uint64

	file   *os.File
	cursor atomic.Uint64 // current append offset
}

// Cursor returns the chunk's current append offset.
func (c *Chunk) Cursor() uint64 { return c.cursor.Load() }

// RootEntry is one entry in the cnv chunk's root-pointer ring, keyed by
// block number: `(block_number, root_offset, version)` per §6.1.
type RootEntry struct {
	BlockNumber uint64
	RootOffset  Offset
	Version     uint64
}

// Pool manages seq chunks (fast/slow ring) and cnv chunks (root-pointer
// ring), backed by one os.File per chunk under dir.
type Pool struct {
	dir      string
	capacity uint64
	lock     *flock.Flock
	log      *observability.Logger

	mu     sync.RWMutex
	chunks map[uint32]*Chunk
	nextID atomic.Uint32

	fastRing []uint32
	slowRing []uint32
	cnvRing  []uint32
}

// Open creates or reopens a pool rooted at dir, guarding the directory
// against concurrent opens with a gofrs/flock lock file, the way erigon
// guards its chaindata directory.
func Open(dir string, capacity datasize.ByteSize) (*Pool, error) {
	if capacity < MinChunkCapacity {
		capacity = MinChunkCapacity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, "LOCK"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolLocked
	}
	return &Pool{
		dir:      dir,
		capacity: uint64(capacity.Bytes()),
		lock:     lock,
		log:      observability.New("component", "chunkpool"),
		chunks:   make(map[uint32]*Chunk),
	}, nil
}

// Close releases the directory lock and closes every open chunk file.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, c := range p.chunks {
		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *Pool) chunkPath(id uint32) string {
	return filepath.Join(p.dir, familyDirName(id), chunkFileName(id))
}

func familyDirName(id uint32) string { return "chunks" }
func chunkFileName(id uint32) string { return "chunk-" + itoa(id) }

func itoa(id uint32) string {
	if id == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

// ActivateChunk returns read+write handles and the current append cursor
// for a chunk in family, creating the backing file if it does not exist
// (§4.1's `activate_chunk`).
func (p *Pool) ActivateChunk(family Family, id uint32) (*Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.chunks[id]; ok {
		return c, nil
	}

	if err := os.MkdirAll(filepath.Join(p.dir, "chunks"), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p.chunkPath(id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	capacity := p.capacity
	if family == FamilyCnv {
		capacity = uint64(PageSize * 64) // small fixed-size ring region
	}
	if err := unix.Fallocate(int(f.Fd()), 0, 0, int64(capacity)); err != nil {
		// Not all filesystems support fallocate; the file still grows on
		// write, so this is not itself fatal.
		p.log.Warn("fallocate unsupported, falling back to lazy growth", "err", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	c := &Chunk{ID: id, Family: family, Capacity: capacity, file: f}
	// The cursor resumes from the file's current logical write position,
	// which for a reopened chunk is tracked by a preceding append() call
	// having flushed the data; a fresh chunk starts at 0 regardless of the
	// fallocate'd size.
	if info.Size() > 0 && info.Size() != int64(capacity) {
		c.cursor.Store(uint64(info.Size()))
	}
	p.chunks[id] = c

	switch family {
	case FamilySeqFast:
		p.fastRing = append(p.fastRing, id)
	case FamilySeqSlow:
		p.slowRing = append(p.slowRing, id)
	case FamilyCnv:
		p.cnvRing = append(p.cnvRing, id)
	}
	if id >= p.nextID.Load() {
		p.nextID.Store(id + 1)
	}
	return c, nil
}

// NewChunk allocates and activates a fresh chunk in family, returning its id.
func (p *Pool) NewChunk(family Family) (*Chunk, error) {
	id := p.nextID.Add(1) - 1
	return p.ActivateChunk(family, id)
}

// Append writes bytes to chunk id at its current cursor, advancing the
// cursor and returning the offset the write began at. It rejects appends
// that would exceed the chunk's capacity — the caller must advance to a
// new chunk (§4.1).
func (p *Pool) Append(chunkID uint32, data []byte) (Offset, error) {
	p.mu.RLock()
	c, ok := p.chunks[chunkID]
	p.mu.RUnlock()
	if !ok {
		return Offset{}, ErrUnknownChunk
	}

	start := c.cursor.Load()
	end, overflow := mathutil.SafeAdd(start, uint64(len(data)))
	if overflow || end > c.Capacity {
		return Offset{}, ErrChunkFull
	}

	if _, err := unix.Pwrite(int(c.file.Fd()), data, int64(start)); err != nil {
		return Offset{}, err
	}
	c.cursor.Store(end)
	return Offset{ChunkID: chunkID, Offset: start}, nil
}

// Read returns the len bytes at (chunkID, offset). In the real engine this
// call is issued through asyncio (C2) as an asynchronous completion; this
// method performs the synchronous pread and is the function the executor's
// read task wraps (§4.2, §6.2).
func (p *Pool) Read(chunkID uint32, offset Offset, length int) ([]byte, error) {
	p.mu.RLock()
	c, ok := p.chunks[chunkID]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownChunk
	}
	end, overflow := mathutil.SafeAdd(offset.Offset, uint64(length))
	if overflow || end > c.cursor.Load() {
		return nil, ErrReadPastCursor
	}
	buf := make([]byte, length)
	n, err := unix.Pread(int(c.file.Fd()), buf, int64(offset.Offset))
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ChunkInfo is a point-in-time snapshot of one chunk's identity and fill
// level, for admin/inspect tooling (cmd/monadstate's inspect subcommand).
type ChunkInfo struct {
	ID       uint32
	Family   Family
	Capacity uint64
	Cursor   uint64
}

// Chunks returns a snapshot of every chunk currently open in the pool,
// ordered by ID.
func (p *Pool) Chunks() []ChunkInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ChunkInfo, 0, len(p.chunks))
	for _, c := range p.chunks {
		out = append(out, ChunkInfo{ID: c.ID, Family: c.Family, Capacity: c.Capacity, Cursor: c.Cursor()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendRoot appends a root-pointer entry to the cnv ring, keyed by block
// number (§6.1, §6.2's write_new_root_node).
func (p *Pool) AppendRoot(cnvChunkID uint32, entry RootEntry) error {
	buf := make([]byte, 8+4+8+8)
	putUint64(buf[0:8], entry.BlockNumber)
	putUint32(buf[8:12], entry.RootOffset.ChunkID)
	putUint64(buf[12:20], entry.RootOffset.Offset)
	putUint64(buf[20:28], entry.Version)
	_, err := p.Append(cnvChunkID, buf)
	return err
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
