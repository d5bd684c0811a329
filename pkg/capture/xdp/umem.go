//go:build linux

package xdp

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/pkg/core"
)

// umem is the shared packet memory region registered with the kernel.
// It is partitioned into numFrames fixed-size chunks; ring descriptors
// address frames by their byte offset into the region.
type umem struct {
	region    []byte
	frameSize uint32
	numFrames uint32
}

// newUMEM maps a private anonymous pre-populated region of
// numFrames x frameSize bytes, rounded up to a whole page.
func newUMEM(numFrames, frameSize uint32) (*umem, error) {
	if numFrames == 0 || frameSize == 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "umem needs frames and frame size, got %dx%d", numFrames, frameSize)
	}
	total := int(numFrames) * int(frameSize)
	page := unix.Getpagesize()
	if rem := total % page; rem != 0 {
		total += page - rem
	}
	region, err := unix.Mmap(-1, 0, total,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, core.Wrap(core.CodeInitializationFailed, err, "mmap umem region")
	}
	return &umem{region: region, frameSize: frameSize, numFrames: numFrames}, nil
}

// register describes the region to the kernel on the given socket.
func (u *umem) register(fd int) error {
	reg := umemReg{
		Addr:      uint64(uintptr(unsafe.Pointer(&u.region[0]))),
		Len:       uint64(len(u.region)),
		ChunkSize: u.frameSize,
		Headroom:  0,
	}
	if err := setsockoptRaw(fd, unix.SOL_XDP, unix.XDP_UMEM_REG,
		unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "register umem")
	}
	return nil
}

// frame returns the n valid bytes of the chunk at addr.
func (u *umem) frame(addr uint64, n uint32) []byte {
	start := int(addr)
	end := start + int(n)
	if start < 0 || end > len(u.region) {
		return nil
	}
	return u.region[start:end]
}

// frameAddr returns the base address of chunk i.
func (u *umem) frameAddr(i uint32) uint64 {
	return uint64(i) * uint64(u.frameSize)
}

func (u *umem) free() error {
	if u.region == nil {
		return nil
	}
	err := unix.Munmap(u.region)
	u.region = nil
	if err != nil {
		return core.Wrap(core.CodeCleanupFailed, err, "unmap umem region")
	}
	return nil
}
