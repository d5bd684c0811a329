//go:build linux

package pmd

import (
	"sync"
	"time"

	"firestige.xyz/harpoon/internal/decoder"
	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

func init() {
	capture.RegisterBackend(capture.KindPollMode, func() capture.Backend {
		return NewBackend()
	})
}

// burstSize caps how many mbufs one RX iteration pulls from the port.
const burstSize = 32

// idleSleep bounds the poll loop when a burst comes back empty.
const idleSleep = 50 * time.Microsecond

const portMTU = 1500

// Backend drives the first framework port in poll mode.
type Backend struct {
	capture.BaseBackend

	port Port
	pool *MbufPool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBackend returns a fresh, uninitialized poll-mode backend.
func NewBackend() *Backend {
	return &Backend{BaseBackend: capture.NewBaseBackend(capture.KindPollMode)}
}

// NewBackendOfKind lets sibling packages reuse the poll-mode machinery
// under their own registry kind.
func NewBackendOfKind(kind capture.Kind) *Backend {
	return &Backend{BaseBackend: capture.NewBaseBackend(kind)}
}

// Port returns the port selected at Initialize, nil before then.
func (b *Backend) Port() Port { return b.port }

// Pool returns the backend's mbuf pool, nil before Initialize.
func (b *Backend) Pool() *MbufPool { return b.pool }

// Initialize brings the framework up (once per process), selects the
// first probed port, configures it for one RX and one TX queue and
// arms the mbuf pool.
func (b *Backend) Initialize(cfg capture.Config) error {
	if b.State() != capture.StateFresh {
		return core.Errorf(core.CodeBackendError, "poll-mode backend already initialized")
	}
	if err := b.StoreConfig(cfg); err != nil {
		return err
	}
	cfg = b.Config()

	if err := EAL().Init(cfg.EALArgs, b.Logger()); err != nil {
		return err
	}

	ports := EAL().Ports()
	if len(ports) == 0 {
		return core.Errorf(core.CodeResourceUnavailable, "framework probed no ports")
	}
	b.port = ports[0]

	pool, err := NewMbufPool(cfg.NumBuffers, cfg.MaxPacketSize, EAL().NoHuge(), b.Logger())
	if err != nil {
		return err
	}
	b.pool = pool

	if err := b.port.Configure(PortConfig{RxQueues: 1, TxQueues: 1, MTU: portMTU, Pool: pool}); err != nil {
		pool.Close()
		b.pool = nil
		return err
	}
	if err := b.port.Start(); err != nil {
		pool.Close()
		b.pool = nil
		return err
	}
	if err := b.port.SetPromiscuous(cfg.Promiscuous); err != nil {
		b.Logger().WithError(err).Warn("promiscuous toggle failed on port " + b.port.Name())
	}

	b.SetHealthy(true)
	if err := b.Transition([]capture.State{capture.StateFresh}, capture.StateInitialized); err != nil {
		b.port.Stop()
		pool.Close()
		b.pool = nil
		return err
	}
	b.Logger().WithFields(map[string]interface{}{
		"port":     b.port.Name(),
		"driver":   b.port.Driver(),
		"hugepage": pool.Hugepage(),
	}).Info("poll-mode backend ready")
	return nil
}

// Start launches the burst loop.
func (b *Backend) Start() error {
	if err := b.Transition([]capture.State{capture.StateInitialized, capture.StateStopped}, capture.StateRunning); err != nil {
		return err
	}
	b.SetupQueue()
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.burstLoop()
	return nil
}

// Stop signals the burst loop and joins it.
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

// Release stops the port and tears the pool down from any state.
func (b *Backend) Release() error {
	if b.State() == capture.StateRunning {
		b.Stop()
	}
	var failed error
	if b.port != nil {
		b.port.Stop()
		if err := b.port.Close(); err != nil {
			failed = err
		}
	}
	if b.pool != nil {
		if err := b.pool.Close(); err != nil && failed == nil {
			failed = err
		}
		b.pool = nil
	}
	if err := b.FreeDMABuffers(); err != nil && failed == nil {
		failed = err
	}
	b.ForceState(capture.StateReleased)
	return failed
}

func (b *Backend) burstLoop() {
	defer b.wg.Done()

	cfg := b.Config()
	bufs := make([]*Mbuf, burstSize)

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		// Pull up to a burst of mbufs from the pool. Exhaustion is
		// back-pressure: outstanding packets hold the missing mbufs.
		n := 0
		for ; n < burstSize; n++ {
			m := b.pool.Alloc()
			if m == nil {
				break
			}
			bufs[n] = m
		}
		if n == 0 {
			b.CountDrop(1, 0)
			time.Sleep(idleSleep)
			continue
		}

		got, err := b.port.RxBurst(bufs[:n])
		for i := got; i < n; i++ {
			bufs[i].Free()
		}
		if err != nil {
			b.Fail(core.Wrap(core.CodeNetworkError, err, "rx burst on port "+b.port.Name()))
			for i := 0; i < got; i++ {
				bufs[i].Free()
			}
			return
		}
		if got == 0 {
			time.Sleep(idleSleep)
			continue
		}

		ts := time.Now()
		for i := 0; i < got; i++ {
			b.deliverMbuf(bufs[i], ts, cfg)
		}
	}
}

// deliverMbuf wraps one filled mbuf in a Packet whose release hook
// returns the mbuf to the pool after the last consumer drops it.
func (b *Backend) deliverMbuf(m *Mbuf, ts time.Time, cfg capture.Config) {
	data := m.Bytes()
	p := packet.New(packet.NewBuffer(data, m.Free), len(data), ts)
	if md, err := decoder.Decode(p.Data(), cfg.Interface); err == nil {
		p.SetMetadata(md)
	}
	b.Deliver(p)
}
