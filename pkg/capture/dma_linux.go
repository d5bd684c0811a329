package capture

import (
	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
)

// DMASet manages the pinned buffer region a backend shares with
// hardware or the kernel. Either the set is absent (base nil, count 0,
// fd closed) or every field is coherent.
type DMASet struct {
	enabled    bool
	device     string
	bufferSize int
	count      int
	base       []byte
	fd         int
}

func (d *DMASet) enable(device string) {
	d.enabled = true
	d.device = device
	if d.bufferSize == 0 {
		d.bufferSize = 2048
	}
	d.fd = -1
}

// Enabled reports whether DMA access has been requested.
func (d *DMASet) Enabled() bool { return d.enabled }

// Base returns the mapped region, nil when absent.
func (d *DMASet) Base() []byte { return d.base }

// Count returns the allocated buffer count.
func (d *DMASet) Count() int { return d.count }

// BufferSize returns the per-buffer size.
func (d *DMASet) BufferSize() int { return d.bufferSize }

func (d *DMASet) setBufferSize(n int) error {
	if n <= 0 {
		return core.Errorf(core.CodeInvalidArgument, "dma buffer size must be positive")
	}
	if d.base != nil {
		return core.Errorf(core.CodeBackendError, "dma buffers already allocated")
	}
	d.bufferSize = n
	return nil
}

// allocate opens the device (when one is configured) and maps
// count x bufferSize shared and locked.
func (d *DMASet) allocate(count int) error {
	if !d.enabled {
		return core.Errorf(core.CodeBackendError, "dma access not enabled")
	}
	if count <= 0 {
		return core.Errorf(core.CodeInvalidArgument, "dma buffer count must be positive")
	}
	if d.base != nil {
		return core.Errorf(core.CodeBackendError, "dma buffers already allocated")
	}

	fd := -1
	flags := unix.MAP_SHARED | unix.MAP_ANONYMOUS
	if d.device != "" {
		f, err := unix.Open(d.device, unix.O_RDWR, 0)
		if err != nil {
			return core.Wrap(core.CodeResourceUnavailable, err, "open dma device "+d.device)
		}
		fd = f
		flags = unix.MAP_SHARED
	}

	size := count * d.bufferSize
	base, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		if fd >= 0 {
			unix.Close(fd)
		}
		return core.Wrap(core.CodeInitializationFailed, err, "map dma region")
	}
	if err := unix.Mlock(base); err != nil {
		unix.Munmap(base)
		if fd >= 0 {
			unix.Close(fd)
		}
		return core.Wrap(core.CodeInitializationFailed, err, "lock dma region")
	}

	d.base = base
	d.count = count
	d.fd = fd
	return nil
}

// free is the strict inverse of allocate. Failures are logged and the
// set always ends absent so release can proceed.
func (d *DMASet) free(logger log.Logger) error {
	var failed error
	if d.base != nil {
		if err := unix.Munmap(d.base); err != nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "unmap dma region")
			logger.WithError(err).Warn("dma unmap failed")
		}
		if d.fd >= 0 {
			if err := unix.Close(d.fd); err != nil && failed == nil {
				failed = core.Wrap(core.CodeCleanupFailed, err, "close dma device")
				logger.WithError(err).Warn("dma device close failed")
			}
		}
	}
	d.base = nil
	d.count = 0
	d.fd = -1
	return failed
}

// disable frees any allocated buffers and turns DMA access off.
func (d *DMASet) disable(logger log.Logger) error {
	err := d.free(logger)
	d.enabled = false
	d.device = ""
	return err
}
