//go:build linux

// Package rawsock implements kernel-copy capture over an AF_PACKET
// SOCK_RAW socket bound to one interface.
package rawsock

import (
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/internal/decoder"
	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

func init() {
	capture.RegisterBackend(capture.KindRawSocket, func() capture.Backend {
		return New()
	})
}

// idleSleep bounds the busy loop when the socket would block.
const idleSleep = 100 * time.Microsecond

// Backend is the raw-socket capture engine.
type Backend struct {
	capture.BaseBackend

	fd      int
	ifindex int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a fresh, uninitialized raw-socket backend.
func New() *Backend {
	return &Backend{BaseBackend: capture.NewBaseBackend(capture.KindRawSocket), fd: -1}
}

// htons converts a short to network byte order for the socket call.
func htons(v uint16) uint16 { return v<<8 | v>>8 }

// Initialize opens and binds the socket per config.
func (b *Backend) Initialize(cfg capture.Config) error {
	if b.State() != capture.StateFresh {
		return core.Errorf(core.CodeBackendError, "raw-socket backend already initialized")
	}
	if err := b.StoreConfig(cfg); err != nil {
		return err
	}
	cfg = b.Config()

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return core.Wrap(core.CodeInvalidArgument, err, "resolve interface "+cfg.Interface)
	}
	b.ifindex = iface.Index

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return core.Wrap(core.CodePermissionDenied, err, "open packet socket")
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  b.ifindex,
	}); err != nil {
		unix.Close(fd)
		return core.Wrap(core.CodeInitializationFailed, err, "bind packet socket")
	}

	if cfg.Promiscuous {
		mreq := &unix.PacketMreq{Ifindex: int32(b.ifindex), Type: unix.PACKET_MR_PROMISC}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
			unix.Close(fd)
			return core.Wrap(core.CodeInitializationFailed, err, "enable promiscuous mode")
		}
	}
	if cfg.BufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.BufferSize*cfg.NumBuffers); err != nil {
			b.Logger().WithError(err).Warn("set receive buffer failed")
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return core.Wrap(core.CodeInitializationFailed, err, "set nonblocking")
	}

	b.fd = fd
	b.SetHealthy(true)
	if err := b.Transition([]capture.State{capture.StateFresh}, capture.StateInitialized); err != nil {
		unix.Close(fd)
		b.fd = -1
		return err
	}
	b.Logger().WithField("interface", cfg.Interface).Info("raw socket ready")
	return nil
}

// Start launches the capture thread.
func (b *Backend) Start() error {
	if err := b.Transition([]capture.State{capture.StateInitialized, capture.StateStopped}, capture.StateRunning); err != nil {
		return err
	}
	b.SetupQueue()
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.captureLoop()
	return nil
}

// Stop signals the capture thread and joins it.
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

// Release closes the socket from any state.
func (b *Backend) Release() error {
	if b.State() == capture.StateRunning {
		b.Stop()
	}
	var failed error
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "close packet socket")
		}
		b.fd = -1
	}
	if err := b.FreeDMABuffers(); err != nil && failed == nil {
		failed = err
	}
	b.ForceState(capture.StateReleased)
	return failed
}

func (b *Backend) captureLoop() {
	defer b.wg.Done()

	cfg := b.Config()
	// DMA here is a staging pool only; the socket always copies.
	if b.DMA().Enabled() {
		b.Logger().Info("dma region serves as staging memory, capture remains kernel-copy")
	}
	buf := make([]byte, cfg.MaxPacketSize)

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		n, _, err := unix.Recvfrom(b.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				time.Sleep(idleSleep)
				continue
			}
			b.Fail(core.Wrap(core.CodeNetworkError, err, "recv on packet socket"))
			return
		}
		if n == 0 {
			continue
		}

		ts := time.Now()
		p := packet.FromBytes(buf[:n], ts)
		if md, derr := decoder.Decode(p.Data(), cfg.Interface); derr == nil {
			p.SetMetadata(md)
		}
		b.Deliver(p)
	}
}
