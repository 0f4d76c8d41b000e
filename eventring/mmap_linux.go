package eventring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func errPowerOfTwo(what string) error {
	return fmt.Errorf("eventring: %s must be a power of two", what)
}

// memfdCreateSized creates an anonymous memfd and truncates it to size,
// the segment-handoff primitive §6.4's EXPORT_RING protocol hands off via
// MAP_RING_CONTROL/MAP_DESCRIPTOR_TABLE/MAP_PAYLOAD_PAGE control messages.
func memfdCreateSized(name string, size uint64) (int, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// doubleMap maps fd twice, adjacently, so that a write starting near the
// end of the payload region and wrapping past size lands contiguously in
// virtual memory — the "payload region is mapped twice" requirement of
// §4.10, letting the producer memcpy a wrap-around record in one call.
func doubleMap(fd int, size uint64) (lo, hi []byte, err error) {
	// Reserve a 2*size region, then map fd into both halves at fixed
	// addresses within it so the two views are contiguous.
	full, err := unix.Mmap(-1, 0, int(2*size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	base := uintptr(unsafe.Pointer(&full[0]))

	lo, err = mmapFixed(fd, base, size)
	if err != nil {
		unix.Munmap(full)
		return nil, nil, err
	}
	hi, err = mmapFixed(fd, base+uintptr(size), size)
	if err != nil {
		unix.Munmap(lo)
		return nil, nil, err
	}
	return lo, hi, nil
}

// mmapFixed maps fd at the fixed virtual address addr via the raw mmap(2)
// syscall: golang.org/x/sys/unix's Mmap helper does not expose a
// caller-chosen address, which the double-mapped payload ring needs to
// place its two views back to back.
func mmapFixed(fd int, addr uintptr, size uint64) ([]byte, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd), 0)
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ret)), size), nil
}

func ptrAt(b []byte, offset int) unsafe.Pointer {
	return unsafe.Pointer(&b[offset])
}

// viewAcross returns a single slice spanning lo immediately followed by
// hi, relying on doubleMap having placed them at adjacent virtual
// addresses. Any write of at most len(lo) bytes starting anywhere within
// lo's range therefore lands contiguously in this view even if it
// "wraps" past the logical end of the payload region.
func viewAcross(lo, hi []byte) []byte {
	return unsafe.Slice(&lo[0], len(lo)+len(hi))
}
