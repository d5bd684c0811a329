//go:build linux

package vdev

import (
	"sync"

	"firestige.xyz/harpoon/pkg/capture/pmd"
	"firestige.xyz/harpoon/pkg/core"
)

func init() {
	pmd.RegisterDriver(ringDriver{})
}

const defaultRingSize = 256

// ringDriver probes in-memory loopback ports: frames transmitted on the
// port come back on its receive side.
type ringDriver struct{}

func (ringDriver) Name() string { return "net_ring" }

type ringParams struct {
	Size int `mapstructure:"size"`
}

func (ringDriver) Probe(device string, params map[string]string) (pmd.Port, error) {
	p := ringParams{Size: defaultRingSize}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Size <= 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "ring device %s needs a positive size, got %d", device, p.Size)
	}
	return &RingPort{
		name:   device,
		frames: make(chan []byte, p.Size),
	}, nil
}

// RingPort loops transmitted frames back to its receive queue. Tests
// and benchmarks use Inject to feed frames without a transmitter.
type RingPort struct {
	name string

	mu      sync.Mutex
	frames  chan []byte
	started bool
	dropped uint64
}

func (p *RingPort) Name() string   { return p.name }
func (p *RingPort) Driver() string { return "net_ring" }

func (p *RingPort) Configure(pmd.PortConfig) error { return nil }

func (p *RingPort) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

func (p *RingPort) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}

func (p *RingPort) Close() error          { return nil }
func (p *RingPort) SetPromiscuous(bool) error { return nil }

// Inject queues one frame on the receive side. The frame is copied, so
// callers may reuse the slice. Returns false when the ring is full.
func (p *RingPort) Inject(frame []byte) bool {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case p.frames <- buf:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return false
	}
}

// Dropped returns how many frames the ring refused because it was full.
func (p *RingPort) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *RingPort) RxBurst(bufs []*pmd.Mbuf) (int, error) {
	n := 0
	for ; n < len(bufs); n++ {
		select {
		case frame := <-p.frames:
			dst := bufs[n].Capacity()
			c := copy(dst, frame)
			bufs[n].SetLength(c)
		default:
			return n, nil
		}
	}
	return n, nil
}

func (p *RingPort) TxBurst(bufs []*pmd.Mbuf) (int, error) {
	for _, m := range bufs {
		// A full ring drops the frame; the port still accepts it.
		p.Inject(m.Bytes())
		m.Free()
	}
	return len(bufs), nil
}
