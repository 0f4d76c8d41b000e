// Package eventring implements the shared-memory SPSC event ring and its
// UNIX-domain-socket fd-handoff protocol (spec component C10): block-start/
// end, transaction-start/end, and state-change events recorded for
// external, out-of-process consumers.
//
// Grounded on libs/core/src/monad/event/event_server.c and
// libs/event/src/monad/event/event_client.c (original_source) for the
// double-mapped payload region and the control-page sequence-number
// protocol, and on spec.md §4.10/§6.4.
package eventring

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// EventKind enumerates the event types the ring records (§4.10).
type EventKind uint8

const (
	EventBlockStart EventKind = iota
	EventBlockEnd
	EventTxStart
	EventTxEnd
	EventStateChange
)

// Record is one ring entry: a kind tag, the block/tx identifiers the
// consumer needs to correlate events, and an opaque payload (e.g. an
// encoded StateDelta for EventStateChange).
type Record struct {
	Kind    EventKind
	Block   uint64
	TxIndex uint32
	Payload []byte
}

// descriptor is the fixed-size entry the descriptor table stores per
// record: offset and length into the payload ring, plus the record's fixed
// fields, letting a consumer read metadata without touching the payload
// region for anything but the variable-length part.
type descriptor struct {
	kind    EventKind
	block   uint64
	txIndex uint32
	offset  uint64
	length  uint32
}

const descriptorSize = 1 + 8 + 4 + 8 + 4 // kind + block + txIndex + offset + length

func encodeDescriptor(d descriptor) []byte {
	buf := make([]byte, descriptorSize)
	buf[0] = byte(d.kind)
	binary.LittleEndian.PutUint64(buf[1:9], d.block)
	binary.LittleEndian.PutUint32(buf[9:13], d.txIndex)
	binary.LittleEndian.PutUint64(buf[13:21], d.offset)
	binary.LittleEndian.PutUint32(buf[21:25], d.length)
	return buf
}

func decodeDescriptor(buf []byte) descriptor {
	return descriptor{
		kind:    EventKind(buf[0]),
		block:   binary.LittleEndian.Uint64(buf[1:9]),
		txIndex: binary.LittleEndian.Uint32(buf[9:13]),
		offset:  binary.LittleEndian.Uint64(buf[13:21]),
		length:  binary.LittleEndian.Uint32(buf[21:25]),
	}
}

// Ring is a single-producer/single-consumer shared-memory ring: a fixed-
// capacity descriptor table plus a payload region double-mapped so a
// writer can memcpy a wrap-around record in one call (two adjacent mmap
// views of the same memfd, per §4.10's "payload region is mapped twice").
//
// DescriptorCapacity and PayloadSize are both required to be powers of two
// per §6.4.
type Ring struct {
	descriptorCapacity uint32
	payloadSize        uint64

	memfdControl    int
	memfdDescriptor int
	memfdPayload    int

	control   []byte // mmap'd control page: producer/consumer sequence numbers
	descTable []byte // mmap'd descriptor table
	payloadLo []byte // first mapping of the payload memfd (for Close)
	payloadHi []byte // second, adjacent mapping of the same memfd (for Close)
	// payloadView spans both halves contiguously (length 2*payloadSize),
	// so a write starting at any byte offset in [0, payloadSize) can copy
	// up to payloadSize bytes without a second, wraparound memcpy — the
	// "payload region mapped twice" trick from §4.10.
	payloadView []byte

	producerSeq   *uint64 // pointer into control, written by the producer
	consumerSeq   *uint64 // pointer into control, written by the consumer
	payloadCursor *uint64 // pointer into control: cumulative bytes written
}

// controlPageSize is one device page, enough for the producer/consumer
// sequence numbers and the payload byte cursor, plus room for future
// fields.
const controlPageSize = 4096

// New creates an in-process ring backed by three memfds (control,
// descriptor table, payload), double-mapping the payload region. name
// tags the memfds for /proc/<pid>/maps diagnostics.
func New(name string, descriptorCapacity uint32, payloadSize uint64) (*Ring, error) {
	if descriptorCapacity == 0 || descriptorCapacity&(descriptorCapacity-1) != 0 {
		return nil, errPowerOfTwo("descriptor capacity")
	}
	if payloadSize == 0 || payloadSize&(payloadSize-1) != 0 {
		return nil, errPowerOfTwo("payload size")
	}

	control, err := memfdCreateSized(name+"-control", controlPageSize)
	if err != nil {
		return nil, err
	}
	descFd, err := memfdCreateSized(name+"-descriptors", uint64(descriptorCapacity)*descriptorSize)
	if err != nil {
		unix.Close(control)
		return nil, err
	}
	payloadFd, err := memfdCreateSized(name+"-payload", payloadSize)
	if err != nil {
		unix.Close(control)
		unix.Close(descFd)
		return nil, err
	}

	controlMap, err := unix.Mmap(control, 0, controlPageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	descMap, err := unix.Mmap(descFd, 0, int(descriptorCapacity)*descriptorSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	lo, hi, err := doubleMap(payloadFd, payloadSize)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		descriptorCapacity: descriptorCapacity,
		payloadSize:        payloadSize,
		memfdControl:       control,
		memfdDescriptor:    descFd,
		memfdPayload:       payloadFd,
		control:            controlMap,
		descTable:          descMap,
		payloadLo:          lo,
		payloadHi:          hi,
		payloadView:        viewAcross(lo, hi),
		producerSeq:        (*uint64)(ptrAt(controlMap, 0)),
		consumerSeq:        (*uint64)(ptrAt(controlMap, 8)),
		payloadCursor:      (*uint64)(ptrAt(controlMap, 16)),
	}
	return r, nil
}

// Close unmaps and closes every segment.
func (r *Ring) Close() error {
	var firstErr error
	for _, m := range [][]byte{r.control, r.descTable, r.payloadLo, r.payloadHi} {
		if err := unix.Munmap(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, fd := range []int{r.memfdControl, r.memfdDescriptor, r.memfdPayload} {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Write appends rec to the ring (producer side, called on the engine's
// owning thread between transactions/blocks per §2's data-flow note that
// C10 "observes boundaries between transactions and blocks"). The payload
// is written through the low mapping; because the payload region is
// double-mapped, a record that wraps past the end of payloadSize is still
// a single contiguous memcpy.
func (r *Ring) Write(rec Record) {
	if uint64(len(rec.Payload)) > r.payloadSize {
		panic("eventring: record payload exceeds ring capacity")
	}
	prod := atomic.LoadUint64(r.producerSeq)

	cursor := atomic.LoadUint64(r.payloadCursor)
	payloadOff := cursor % r.payloadSize
	copy(r.payloadView[payloadOff:payloadOff+uint64(len(rec.Payload))], rec.Payload)
	atomic.StoreUint64(r.payloadCursor, cursor+uint64(len(rec.Payload)))

	slot := prod % uint64(r.descriptorCapacity)
	d := descriptor{kind: rec.Kind, block: rec.Block, txIndex: rec.TxIndex, offset: payloadOff, length: uint32(len(rec.Payload))}
	copy(r.descTable[slot*descriptorSize:], encodeDescriptor(d))

	// Release-store: the consumer must not observe the advanced sequence
	// number before the descriptor and payload writes above are visible.
	atomic.StoreUint64(r.producerSeq, prod+1)
}

// Read returns the next unread record, or (Record{}, false) if the
// consumer has caught up to the producer (the caller then spins or epolls
// per §4.10's "consumer reads by fetch-acquire on the producer sequence").
func (r *Ring) Read() (Record, bool) {
	cons := atomic.LoadUint64(r.consumerSeq)
	prod := atomic.LoadUint64(r.producerSeq) // acquire
	if cons >= prod {
		return Record{}, false
	}

	slot := cons % uint64(r.descriptorCapacity)
	d := decodeDescriptor(r.descTable[slot*descriptorSize : slot*descriptorSize+descriptorSize])

	payload := make([]byte, d.length)
	copy(payload, r.payloadView[d.offset:d.offset+uint64(d.length)])

	atomic.StoreUint64(r.consumerSeq, cons+1)
	return Record{Kind: d.kind, Block: d.block, TxIndex: d.txIndex, Payload: payload}, true
}

// Pending returns the number of unread records.
func (r *Ring) Pending() uint64 {
	return atomic.LoadUint64(r.producerSeq) - atomic.LoadUint64(r.consumerSeq)
}
