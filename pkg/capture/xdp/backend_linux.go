//go:build linux

// Package xdp implements kernel-bypass capture over an AF_XDP socket
// fed by an in-kernel redirect program. Frames land in a shared UMEM
// region and are handed to consumers zero-copy when the binding allows.
package xdp

import (
	"sync"
	"time"
	"unsafe"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/internal/decoder"
	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

func init() {
	capture.RegisterBackend(capture.KindMmapRing, func() capture.Backend {
		return New()
	})
}

// idleSleep bounds the poll loop when the RX ring is empty.
const idleSleep = 10 * time.Microsecond

// bindRetryQueues is how many queue ids the bind step walks before
// giving up on a ring fast path.
const bindRetryQueues = 4

const defaultProgramName = "harpoon_xsk"

// Backend is the mmap-ring capture engine.
type Backend struct {
	capture.BaseBackend

	loader  *ProgramLoader
	fd      int
	ifindex int
	queueID uint32

	// mode is the attach mode actually in effect after degradation.
	mode string
	// fastPath is false when no queue accepted the ring bind and the
	// redirect program runs in generic mode without an AF_XDP ring.
	fastPath      bool
	zeroCopyBound bool

	umem *umem
	rx   *descRing
	tx   *descRing
	fill *addrRing
	comp *addrRing

	fillMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a fresh, uninitialized mmap-ring backend.
func New() *Backend {
	return &Backend{BaseBackend: capture.NewBaseBackend(capture.KindMmapRing), fd: -1}
}

// Mode reports the redirect program's attach mode in effect. Callers
// use it to detect generic-mode degradation after Initialize.
func (b *Backend) Mode() string { return b.mode }

// Loader exposes the program loader for inspection.
func (b *Backend) Loader() *ProgramLoader { return b.loader }

// Initialize loads and attaches the redirect program, then brings the
// socket, UMEM and rings up in their required order.
func (b *Backend) Initialize(cfg capture.Config) error {
	if b.State() != capture.StateFresh {
		return core.Errorf(core.CodeBackendError, "mmap-ring backend already initialized")
	}
	if err := b.StoreConfig(cfg); err != nil {
		return err
	}
	cfg = b.Config()

	lnk, err := netlink.LinkByName(cfg.Interface)
	if err != nil {
		return core.Wrap(core.CodeInvalidArgument, err, "resolve interface "+cfg.Interface)
	}
	b.ifindex = lnk.Attrs().Index

	name := cfg.ProgramName
	if name == "" {
		name = defaultProgramName
	}
	b.loader = NewProgramLoader(b.Logger())
	if err := b.loader.Load(cfg.ProgramPath, name, bindRetryQueues); err != nil {
		return err
	}

	mode := cfg.AttachMode
	if err := b.loader.Attach(b.ifindex, mode); err != nil {
		if mode == "driver" || mode == "offload" {
			b.Logger().WithError(err).Warnf("%s attach failed, retrying in generic mode", mode)
			mode = "generic"
			err = b.loader.Attach(b.ifindex, mode)
		}
		if err != nil {
			b.loader.Close()
			return err
		}
	}
	b.mode = mode

	if err := b.setupSocket(cfg); err != nil {
		b.teardown()
		return err
	}

	b.SetHealthy(true)
	if err := b.Transition([]capture.State{capture.StateFresh}, capture.StateInitialized); err != nil {
		b.teardown()
		return err
	}
	b.Logger().WithFields(map[string]interface{}{
		"interface": cfg.Interface,
		"mode":      b.mode,
		"queue":     b.queueID,
		"zero_copy": b.zeroCopyBound,
	}).Info("mmap-ring backend ready")
	return nil
}

// setupSocket runs the fixed initialization order: socket, UMEM, ring
// sizes, bind, ring maps, fill seed, redirect-map registration.
func (b *Backend) setupSocket(cfg capture.Config) error {
	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return core.Wrap(core.CodePermissionDenied, err, "open af_xdp socket")
	}
	b.fd = fd

	b.umem, err = newUMEM(uint32(cfg.NumBuffers), uint32(cfg.BufferSize))
	if err != nil {
		return err
	}
	if err := b.umem.register(fd); err != nil {
		return err
	}

	ringSize := nextPow2(uint32(cfg.NumBuffers))
	for _, opt := range []struct {
		name int
		what string
	}{
		{unix.XDP_UMEM_FILL_RING, "fill ring"},
		{unix.XDP_UMEM_COMPLETION_RING, "completion ring"},
		{unix.XDP_RX_RING, "rx ring"},
		{unix.XDP_TX_RING, "tx ring"},
	} {
		if err := unix.SetsockoptInt(fd, unix.SOL_XDP, opt.name, int(ringSize)); err != nil {
			return core.Wrap(core.CodeInitializationFailed, err, "size "+opt.what)
		}
	}

	if b.loader.State() != ProgAttached {
		return core.Errorf(core.CodeBackendError, "ring bind requires an attached redirect program, loader is %s", b.loader.State())
	}
	if err := b.bindSocket(cfg); err != nil {
		return err
	}
	if !b.fastPath {
		return nil
	}

	var offs mmapOffsets
	if err := getsockoptRaw(fd, unix.SOL_XDP, unix.XDP_MMAP_OFFSETS,
		unsafe.Pointer(&offs), unsafe.Sizeof(offs)); err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "query ring offsets")
	}

	descSize := unsafe.Sizeof(desc{})
	addrSize := unsafe.Sizeof(uint64(0))

	rxRegion, err := mapRing(fd, offs.Rx, descSize, ringSize, unix.XDP_PGOFF_RX_RING)
	if err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "map rx ring")
	}
	b.rx = descRingFromRegion(rxRegion, offs.Rx, ringSize)

	txRegion, err := mapRing(fd, offs.Tx, descSize, ringSize, unix.XDP_PGOFF_TX_RING)
	if err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "map tx ring")
	}
	b.tx = descRingFromRegion(txRegion, offs.Tx, ringSize)

	fillRegion, err := mapRing(fd, offs.Fr, addrSize, ringSize, unix.XDP_UMEM_PGOFF_FILL_RING)
	if err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "map fill ring")
	}
	b.fill = addrRingFromRegion(fillRegion, offs.Fr, ringSize)

	compRegion, err := mapRing(fd, offs.Cr, addrSize, ringSize, unix.XDP_UMEM_PGOFF_COMPLETION_RING)
	if err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "map completion ring")
	}
	b.comp = addrRingFromRegion(compRegion, offs.Cr, ringSize)

	seed := b.umem.numFrames
	if seed > ringSize {
		seed = ringSize
	}
	for i := uint32(0); i < seed; i++ {
		b.fill.produce(b.umem.frameAddr(i))
	}
	b.fill.commitProduced()

	return b.loader.RegisterSocket(b.queueID, fd)
}

// bindSocket binds the socket to (interface, queue). Queue ids are
// retried on the errnos a missing or refusing queue produces. With no
// bindable queue, a program attached in generic mode keeps running
// without a ring fast path; in any other mode the bind error is returned.
func (b *Backend) bindSocket(cfg capture.Config) error {
	queues := []uint32{uint32(cfg.QueueID)}
	for q := uint32(0); q < bindRetryQueues; q++ {
		if q != uint32(cfg.QueueID) {
			queues = append(queues, q)
		}
	}

	var lastErr error
	for _, q := range queues {
		wantZC := cfg.ZeroCopy
		err := b.bindQueue(q, wantZC)
		if err != nil && wantZC && (err == unix.EOPNOTSUPP || err == unix.EPROTONOSUPPORT) {
			wantZC = false
			err = b.bindQueue(q, false)
		}
		if err == nil {
			b.queueID = q
			b.fastPath = true
			b.zeroCopyBound = wantZC
			if cfg.ZeroCopy && !wantZC {
				b.Logger().WithField("queue", q).Warn("zero-copy bind unsupported, ring runs in copy mode")
			}
			return nil
		}
		lastErr = err
		switch err {
		case unix.EINVAL, unix.ENOENT, unix.EPERM, unix.ENODEV:
			continue
		default:
			return core.Wrap(core.CodeInitializationFailed, err, "bind af_xdp socket")
		}
	}

	if b.mode == "generic" {
		b.Logger().WithError(lastErr).Warn("no queue accepted the ring bind, redirect program stays in generic mode without a fast path")
		b.fastPath = false
		return nil
	}
	return core.Wrap(core.CodeInitializationFailed, lastErr, "bind af_xdp socket on any queue")
}

func (b *Backend) bindQueue(q uint32, zeroCopy bool) error {
	sa := &unix.SockaddrXDP{
		Flags:   unix.XDP_USE_NEED_WAKEUP,
		Ifindex: uint32(b.ifindex),
		QueueID: q,
	}
	if zeroCopy {
		sa.Flags |= unix.XDP_ZEROCOPY
	} else {
		sa.Flags |= unix.XDP_COPY
	}
	return unix.Bind(b.fd, sa)
}

// Start launches the ring drain goroutine.
func (b *Backend) Start() error {
	if err := b.Transition([]capture.State{capture.StateInitialized, capture.StateStopped}, capture.StateRunning); err != nil {
		return err
	}
	b.SetupQueue()
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.rxLoop()
	return nil
}

// Stop signals the drain goroutine and joins it.
func (b *Backend) Stop() error {
	if b.State() != capture.StateRunning {
		return core.ErrNotRunning
	}
	close(b.stopCh)
	b.wg.Wait()
	b.CloseQueue()
	b.ForceState(capture.StateStopped)
	return nil
}

// Release tears everything down: detach-then-unload the program, close
// the socket, unmap rings and UMEM. Cleanup failures are logged and the
// backend still reaches Released.
func (b *Backend) Release() error {
	if b.State() == capture.StateRunning {
		b.Stop()
	}
	var failed error
	keep := func(err error) {
		if err != nil {
			b.Logger().WithError(err).Warn("mmap-ring cleanup failure")
			if failed == nil {
				failed = err
			}
		}
	}

	if b.loader != nil {
		keep(b.loader.UnregisterSocket(b.queueID))
		keep(b.loader.Close())
	}
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil {
			keep(core.Wrap(core.CodeCleanupFailed, err, "close af_xdp socket"))
		}
		b.fd = -1
	}
	for _, r := range []*descRing{b.rx, b.tx} {
		if r != nil {
			keep(r.unmap())
		}
	}
	for _, r := range []*addrRing{b.fill, b.comp} {
		if r != nil {
			keep(r.unmap())
		}
	}
	b.rx, b.tx, b.fill, b.comp = nil, nil, nil, nil
	if b.umem != nil {
		keep(b.umem.free())
		b.umem = nil
	}
	keep(b.FreeDMABuffers())
	b.ForceState(capture.StateReleased)
	return failed
}

// teardown reverses a partial Initialize.
func (b *Backend) teardown() {
	if b.loader != nil {
		b.loader.Close()
	}
	if b.fd >= 0 {
		unix.Close(b.fd)
		b.fd = -1
	}
	if b.umem != nil {
		b.umem.free()
		b.umem = nil
	}
}

func (b *Backend) rxLoop() {
	defer b.wg.Done()

	cfg := b.Config()
	compBuf := make([]uint64, 64)
	batch := uint32(cfg.BatchSize)

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		if !b.fastPath {
			time.Sleep(time.Millisecond)
			continue
		}

		n := b.rx.available()
		if n == 0 {
			b.recycleCompletions(compBuf)
			time.Sleep(idleSleep)
			continue
		}
		if n > batch {
			n = batch
		}
		for i := uint32(0); i < n; i++ {
			b.deliverFrame(b.rx.read(), cfg)
		}
		b.rx.commitConsumed()
		b.recycleCompletions(compBuf)
	}
}

// deliverFrame builds a Packet from one RX descriptor. In zero-copy
// operation the packet borrows the UMEM chunk and its release hook
// returns the address to the fill ring; otherwise the bytes are copied
// and the chunk is recycled immediately.
func (b *Backend) deliverFrame(d desc, cfg capture.Config) {
	ts := time.Now()
	frame := b.umem.frame(d.Addr, d.Len)
	if frame == nil {
		b.recycle(d.Addr)
		return
	}

	var p *packet.Packet
	if cfg.ZeroCopy && b.zeroCopyBound {
		addr := d.Addr
		p = packet.New(packet.NewBuffer(frame, func() { b.recycle(addr) }), len(frame), ts)
	} else {
		p = packet.FromBytes(frame, ts)
		b.recycle(d.Addr)
	}

	if md, err := decoder.Decode(p.Data(), cfg.Interface); err == nil {
		p.SetMetadata(md)
	}
	b.Deliver(p)
}

// recycle returns one UMEM address to the fill ring. Releases arrive
// from consumer goroutines, so production is serialized here.
func (b *Backend) recycle(addr uint64) {
	b.fillMu.Lock()
	if b.fill != nil {
		b.fill.produce(addr)
		b.fill.commitProduced()
	}
	b.fillMu.Unlock()
}

func (b *Backend) recycleCompletions(buf []uint64) {
	if b.comp == nil {
		return
	}
	n := b.comp.consume(buf)
	for i := uint32(0); i < n; i++ {
		b.recycle(buf[i])
	}
}

func nextPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}
