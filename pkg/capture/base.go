package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

// BaseBackend carries the machinery every engine shares: the state
// machine, the delivery queue, the push callback slot, statistics, the
// DMA buffer set and the last terminal error. Engines embed it and
// implement the capture loop.
type BaseBackend struct {
	kind  Kind
	state atomic.Int32

	cfgMu sync.RWMutex
	cfg   Config

	queue *packetQueue

	cbMu     sync.RWMutex
	callback PacketCallback

	stats *statsCollector

	dma DMASet

	errMu     sync.Mutex
	lastError error
	healthy   atomic.Bool

	logger log.Logger
}

// NewBaseBackend initializes the shared machinery for an engine.
func NewBaseBackend(kind Kind) BaseBackend {
	return BaseBackend{
		kind:   kind,
		stats:  newStatsCollector(),
		logger: log.GetLogger().WithField("backend", string(kind)),
	}
}

func (b *BaseBackend) Kind() Kind   { return b.kind }
func (b *BaseBackend) State() State { return State(b.state.Load()) }

// Logger returns the backend-scoped logger.
func (b *BaseBackend) Logger() log.Logger { return b.logger }

// Transition moves the state machine, enforcing legal edges.
func (b *BaseBackend) Transition(from []State, to State) error {
	cur := b.State()
	for _, f := range from {
		if cur == f {
			b.state.Store(int32(to))
			return nil
		}
	}
	return core.Errorf(core.CodeBackendError, "%s backend: illegal transition %s -> %s", b.kind, cur, to)
}

// ForceState sets the state unconditionally. Release paths use it.
func (b *BaseBackend) ForceState(s State) { b.state.Store(int32(s)) }

// SetupQueue builds the delivery queue from the active config.
func (b *BaseBackend) SetupQueue() {
	b.queue = newPacketQueue(b.Config().NumBuffers)
}

// CloseQueue drains and closes the delivery queue.
func (b *BaseBackend) CloseQueue() {
	if b.queue != nil {
		b.queue.close()
		b.queue = nil
	}
}

// Config returns a copy of the active config.
func (b *BaseBackend) Config() Config {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg
}

// StoreConfig validates and installs a config without a state check.
// Initialize uses it.
func (b *BaseBackend) StoreConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.cfgMu.Lock()
	b.cfg = cfg
	b.cfgMu.Unlock()
	return nil
}

// UpdateConfig replaces the config. Refused while Running.
func (b *BaseBackend) UpdateConfig(cfg Config) error {
	if b.State() == StateRunning {
		return core.ErrAlreadyRunning
	}
	return b.StoreConfig(cfg)
}

// Deliver hands a packet to the consumer side: push callback when set,
// the bounded queue otherwise. A full queue drops the packet.
func (b *BaseBackend) Deliver(p *packet.Packet) {
	n := uint64(p.Length())
	b.cbMu.RLock()
	cb := b.callback
	b.cbMu.RUnlock()
	if cb != nil {
		cb(p)
		b.stats.addCaptured(1, n)
		return
	}
	if b.queue != nil && b.queue.push(p) {
		b.stats.addCaptured(1, n)
		return
	}
	p.Release()
	b.stats.addDropped(1, n)
}

// CountDrop records packets lost before a Packet was built.
func (b *BaseBackend) CountDrop(packets, bytes uint64) {
	b.stats.addDropped(packets, bytes)
}

func (b *BaseBackend) NextPacket(timeout time.Duration) (*packet.Packet, bool) {
	if b.State() != StateRunning || b.queue == nil {
		return nil, false
	}
	return b.queue.pop(timeout)
}

func (b *BaseBackend) GetPackets(max int, timeout time.Duration) []*packet.Packet {
	if b.State() != StateRunning || b.queue == nil || max <= 0 {
		return nil
	}
	return b.queue.popN(max, timeout)
}

func (b *BaseBackend) SetPacketCallback(cb PacketCallback) {
	b.cbMu.Lock()
	b.callback = cb
	b.cbMu.Unlock()
}

func (b *BaseBackend) RemovePacketCallback() {
	b.cbMu.Lock()
	b.callback = nil
	b.cbMu.Unlock()
}

func (b *BaseBackend) Statistics() Statistics { return b.stats.snapshot() }
func (b *BaseBackend) ResetStatistics()       { b.stats.reset() }

// SetHealthy flips the health flag; a terminal capture error clears it.
func (b *BaseBackend) SetHealthy(ok bool) { b.healthy.Store(ok) }

// Fail records a terminal error and marks the backend unhealthy.
func (b *BaseBackend) Fail(err error) {
	b.errMu.Lock()
	b.lastError = err
	b.errMu.Unlock()
	b.healthy.Store(false)
	b.logger.WithError(err).Error("capture loop terminated")
}

// LastError returns the most recent terminal error.
func (b *BaseBackend) LastError() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastError
}

// HealthCheck is nil iff the backend is past Fresh, not Released, and
// no terminal error is pending.
func (b *BaseBackend) HealthCheck() error {
	switch b.State() {
	case StateFresh:
		return core.Errorf(core.CodeBackendError, "%s backend not initialized", b.kind)
	case StateReleased:
		return core.Errorf(core.CodeBackendError, "%s backend released", b.kind)
	}
	if !b.healthy.Load() {
		if err := b.LastError(); err != nil {
			return err
		}
		return core.Errorf(core.CodeBackendError, "%s backend unhealthy", b.kind)
	}
	return nil
}

// ── Zero-copy / DMA toggles ────────────────────────────────────────────────

func (b *BaseBackend) refuseWhileRunning(op string) error {
	if b.State() == StateRunning {
		return core.Errorf(core.CodeBackendError, "%s refused while capture is running", op)
	}
	return nil
}

func (b *BaseBackend) EnableZeroCopy(on bool) error {
	if err := b.refuseWhileRunning("zero-copy toggle"); err != nil {
		return err
	}
	b.cfgMu.Lock()
	b.cfg.ZeroCopy = on
	b.cfgMu.Unlock()
	return nil
}

func (b *BaseBackend) EnableDMAAccess(on bool, device string) error {
	if err := b.refuseWhileRunning("dma toggle"); err != nil {
		return err
	}
	if !on {
		return b.dma.disable(b.logger)
	}
	b.dma.enable(device)
	return nil
}

func (b *BaseBackend) SetDMABufferSize(n int) error {
	if err := b.refuseWhileRunning("dma buffer sizing"); err != nil {
		return err
	}
	return b.dma.setBufferSize(n)
}

func (b *BaseBackend) AllocateDMABuffers(count int) error {
	if err := b.refuseWhileRunning("dma allocation"); err != nil {
		return err
	}
	return b.dma.allocate(count)
}

func (b *BaseBackend) FreeDMABuffers() error {
	if err := b.refuseWhileRunning("dma free"); err != nil {
		return err
	}
	return b.dma.free(b.logger)
}

// DMA exposes the buffer set to the embedding engine.
func (b *BaseBackend) DMA() *DMASet { return &b.dma }
