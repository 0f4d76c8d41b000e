package chunkpool

import "github.com/erigontech/monadstate/internal/mathutil"

// SparePagesBits is the width of the "spare pages" counter stamped into the
// top of a packed chunk offset (§4.3, §9's open question). 15 bits gives a
// page count of up to 32767, and the remaining 49 bits address the chunk id
// and in-chunk byte offset.
const SparePagesBits = 15

// Offset identifies a byte position in the storage pool: a chunk id plus an
// in-chunk byte offset. It plays the role of spec.md's ChunkOffset.
type Offset struct {
	ChunkID uint32
	Offset  uint64
}

// InvalidOffset is the sentinel used for not-yet-written children, mirroring
// the monad original's INVALID_OFFSET.
var InvalidOffset = Offset{ChunkID: ^uint32(0), Offset: ^uint64(0)}

// IsValid reports whether o is a real, written offset.
func (o Offset) IsValid() bool { return o != InvalidOffset }

// Pack encodes o together with a spare-pages count into a single uint64,
// following §4.3's "stamp a 15-bit spare-pages counter into the offset" and
// §9's open question about confirming the address space fits the budget.
// The chunk id occupies the low 32 bits, the in-chunk page index (the
// in-chunk byte offset divided by PageSize) occupies the next 17 bits (enough for a device-page-granular offset within
// an 8 MiB-capacity chunk: 8Mi/4Ki = 2048 pages, well under 2^17), and the
// top 15 bits carry the spare-pages stamp.
func (o Offset) Pack(sparePages uint16) (uint64, error) {
	if !mathutil.FitsBits(uint64(sparePages), SparePagesBits) {
		return 0, ErrSparePagesOverflow
	}
	const inChunkBits = 17
	pageOffset := o.Offset / PageSize
	if !mathutil.FitsBits(pageOffset, inChunkBits) {
		return 0, ErrChunkAddressOverflow
	}
	packed := uint64(o.ChunkID) |
		(pageOffset << 32) |
		(uint64(sparePages) << (32 + inChunkBits))
	return packed, nil
}

// Unpack reverses Pack, returning the offset and the spare-pages stamp.
func Unpack(packed uint64) (Offset, uint16) {
	const inChunkBits = 17
	chunkID := uint32(packed & 0xFFFFFFFF)
	pageOffset := (packed >> 32) & (1<<inChunkBits - 1)
	sparePages := uint16(packed >> (32 + inChunkBits))
	return Offset{ChunkID: chunkID, Offset: pageOffset * PageSize}, sparePages
}
