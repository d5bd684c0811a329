//go:build linux

package pmd

import (
	"sync"

	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
)

// Mbuf is one fixed-size packet buffer carved out of a pool region.
// Backends hand mbufs to consumers inside Packets whose release hook
// returns the mbuf to its pool.
type Mbuf struct {
	buf    []byte
	length int
	pool   *MbufPool
}

// Bytes returns the valid frame bytes.
func (m *Mbuf) Bytes() []byte { return m.buf[:m.length] }

// Capacity returns the full buffer the driver may write into.
func (m *Mbuf) Capacity() []byte { return m.buf }

// SetLength records how many bytes the driver wrote.
func (m *Mbuf) SetLength(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(m.buf) {
		n = len(m.buf)
	}
	m.length = n
}

// Free returns the mbuf to its pool.
func (m *Mbuf) Free() {
	if m.pool != nil {
		m.pool.put(m)
	}
}

// MbufPool is a fixed-population buffer pool over one contiguous
// region, hugepage-backed when the kernel grants it.
type MbufPool struct {
	mu       sync.Mutex
	region   []byte
	free     []*Mbuf
	total    int
	bufSize  int
	hugepage bool
}

// NewMbufPool maps count x bufSize bytes and carves it into mbufs.
// MAP_HUGETLB is attempted first unless noHuge is set; when the kernel
// refuses (no hugepages reserved), the pool falls back to normal pages
// with a warning.
func NewMbufPool(count, bufSize int, noHuge bool, logger log.Logger) (*MbufPool, error) {
	if count <= 0 || bufSize <= 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "mbuf pool needs count and size, got %dx%d", count, bufSize)
	}
	if logger == nil {
		logger = log.GetLogger()
	}

	total := count * bufSize
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	hugepage := false

	var region []byte
	var err error
	if !noHuge {
		region, err = unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, flags|unix.MAP_HUGETLB)
		if err == nil {
			hugepage = true
		} else {
			logger.WithError(err).Warn("hugepage mbuf pool unavailable, falling back to 4k pages")
		}
	}
	if region == nil {
		region, err = unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, flags)
		if err != nil {
			return nil, core.Wrap(core.CodeInitializationFailed, err, "map mbuf pool")
		}
	}

	p := &MbufPool{
		region:   region,
		total:    count,
		bufSize:  bufSize,
		hugepage: hugepage,
	}
	p.free = make([]*Mbuf, 0, count)
	for i := 0; i < count; i++ {
		p.free = append(p.free, &Mbuf{
			buf:  region[i*bufSize : (i+1)*bufSize],
			pool: p,
		})
	}
	return p, nil
}

// Alloc takes one mbuf from the pool, nil when exhausted.
func (p *MbufPool) Alloc() *Mbuf {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	m := p.free[n-1]
	p.free = p.free[:n-1]
	m.length = 0
	return m
}

func (p *MbufPool) put(m *Mbuf) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.total {
		p.free = append(p.free, m)
	}
}

// Available returns the free mbuf count.
func (p *MbufPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Hugepage reports whether the pool region is hugepage-backed.
func (p *MbufPool) Hugepage() bool { return p.hugepage }

// BufSize returns the per-mbuf capacity.
func (p *MbufPool) BufSize() int { return p.bufSize }

// Close unmaps the pool region. Outstanding mbufs must be freed first.
func (p *MbufPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	p.free = nil
	if err != nil {
		return core.Wrap(core.CodeCleanupFailed, err, "unmap mbuf pool")
	}
	return nil
}
