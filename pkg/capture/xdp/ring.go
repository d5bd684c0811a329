//go:build linux

package xdp

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/pkg/core"
)

// desc mirrors struct xdp_desc from linux/if_xdp.h.
type desc struct {
	Addr uint64
	Len  uint32
	Opts uint32
}

// ringOffsets mirrors struct xdp_ring_offset from linux/if_xdp.h.
type ringOffsets struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

// mmapOffsets mirrors struct xdp_mmap_offsets from linux/if_xdp.h.
type mmapOffsets struct {
	Rx ringOffsets
	Tx ringOffsets
	Fr ringOffsets
	Cr ringOffsets
}

// umemReg mirrors struct xdp_umem_reg from linux/if_xdp.h.
type umemReg struct {
	Addr      uint64
	Len       uint64
	ChunkSize uint32
	Headroom  uint32
	Flags     uint32
}

// descRing is a single-producer/single-consumer descriptor ring shared
// with the kernel (RX and TX). The kernel produces on RX, userspace
// consumes; the roles reverse on TX. Producer publishes the descriptor
// before advancing its index (release store) and the consumer reads the
// index before the descriptor (acquire load).
type descRing struct {
	prod  *uint32
	cons  *uint32
	descs []desc
	mask  uint32
	size  uint32

	cachedProd uint32
	cachedCons uint32

	region []byte
}

// addrRing carries bare UMEM addresses (Fill and Completion rings).
type addrRing struct {
	prod  *uint32
	cons  *uint32
	addrs []uint64
	mask  uint32
	size  uint32

	cachedProd uint32
	cachedCons uint32

	region []byte
}

// newDescRing builds a ring over process-local memory. Backends map the
// kernel-shared variant with descRingFromRegion.
func newDescRing(size uint32) (*descRing, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "ring size %d is not a power of two", size)
	}
	return &descRing{
		prod:  new(uint32),
		cons:  new(uint32),
		descs: make([]desc, size),
		mask:  size - 1,
		size:  size,
	}, nil
}

func newAddrRing(size uint32) (*addrRing, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "ring size %d is not a power of two", size)
	}
	return &addrRing{
		prod:  new(uint32),
		cons:  new(uint32),
		addrs: make([]uint64, size),
		mask:  size - 1,
		size:  size,
	}, nil
}

// descRingFromRegion overlays ring bookkeeping onto a kernel-mapped
// region using the offsets published by XDP_MMAP_OFFSETS.
func descRingFromRegion(region []byte, off ringOffsets, size uint32) *descRing {
	base := unsafe.Pointer(&region[0])
	return &descRing{
		prod:   (*uint32)(unsafe.Add(base, off.Producer)),
		cons:   (*uint32)(unsafe.Add(base, off.Consumer)),
		descs:  unsafe.Slice((*desc)(unsafe.Add(base, off.Desc)), size),
		mask:   size - 1,
		size:   size,
		region: region,
	}
}

func addrRingFromRegion(region []byte, off ringOffsets, size uint32) *addrRing {
	base := unsafe.Pointer(&region[0])
	return &addrRing{
		prod:   (*uint32)(unsafe.Add(base, off.Producer)),
		cons:   (*uint32)(unsafe.Add(base, off.Consumer)),
		addrs:  unsafe.Slice((*uint64)(unsafe.Add(base, off.Desc)), size),
		mask:   size - 1,
		size:   size,
		region: region,
	}
}

// available returns how many descriptors the producer has published and
// the consumer has not yet taken.
func (r *descRing) available() uint32 {
	if avail := r.cachedProd - r.cachedCons; avail > 0 {
		return avail
	}
	r.cachedProd = atomic.LoadUint32(r.prod)
	return r.cachedProd - r.cachedCons
}

// read consumes one descriptor. The caller must have checked available.
func (r *descRing) read() desc {
	d := r.descs[r.cachedCons&r.mask]
	r.cachedCons++
	return d
}

// commitConsumed publishes the consumer index to the producer side.
func (r *descRing) commitConsumed() {
	atomic.StoreUint32(r.cons, r.cachedCons)
}

// write produces one descriptor. Returns false when the ring is full.
func (r *descRing) write(d desc) bool {
	free := r.cachedCons + r.size - r.cachedProd
	if free == 0 {
		r.cachedCons = atomic.LoadUint32(r.cons)
		if r.cachedCons+r.size-r.cachedProd == 0 {
			return false
		}
	}
	r.descs[r.cachedProd&r.mask] = d
	r.cachedProd++
	return true
}

// commitProduced publishes pending descriptors with a release store.
func (r *descRing) commitProduced() {
	atomic.StoreUint32(r.prod, r.cachedProd)
}

// produce appends one UMEM address. Returns false when the ring is full.
func (r *addrRing) produce(addr uint64) bool {
	free := r.cachedCons + r.size - r.cachedProd
	if free == 0 {
		r.cachedCons = atomic.LoadUint32(r.cons)
		if r.cachedCons+r.size-r.cachedProd == 0 {
			return false
		}
	}
	r.addrs[r.cachedProd&r.mask] = addr
	r.cachedProd++
	return true
}

func (r *addrRing) commitProduced() {
	atomic.StoreUint32(r.prod, r.cachedProd)
}

// consume copies published addresses into dst and advances the consumer.
func (r *addrRing) consume(dst []uint64) uint32 {
	avail := r.cachedProd - r.cachedCons
	if avail == 0 {
		r.cachedProd = atomic.LoadUint32(r.prod)
		avail = r.cachedProd - r.cachedCons
	}
	n := uint32(len(dst))
	if avail < n {
		n = avail
	}
	for i := uint32(0); i < n; i++ {
		dst[i] = r.addrs[r.cachedCons&r.mask]
		r.cachedCons++
	}
	if n > 0 {
		atomic.StoreUint32(r.cons, r.cachedCons)
	}
	return n
}

// unmap releases the kernel mapping, if any.
func (r *descRing) unmap() error {
	if r.region == nil {
		return nil
	}
	err := unix.Munmap(r.region)
	r.region = nil
	return err
}

func (r *addrRing) unmap() error {
	if r.region == nil {
		return nil
	}
	err := unix.Munmap(r.region)
	r.region = nil
	return err
}

// mapRing maps one kernel ring at its fixed page offset. length covers
// the descriptor array plus the bookkeeping header described by off.
func mapRing(fd int, off ringOffsets, entrySize uintptr, size uint32, pgoff int64) ([]byte, error) {
	length := int(uintptr(off.Desc) + uintptr(size)*entrySize)
	region, err := unix.Mmap(fd, pgoff, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return nil, err
	}
	return region, nil
}

func setsockoptRaw(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), vallen, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func getsockoptRaw(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	l := uint32(vallen)
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), uintptr(unsafe.Pointer(&l)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
