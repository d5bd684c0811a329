// Package engine runs a capture context: one backend, an optional
// filter chain and an ordered processor set served by one or more
// worker threads.
package engine

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/internal/metrics"
	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/filter"
	"firestige.xyz/harpoon/pkg/packet"
)

// Processor consumes one packet. Processors run in registration order
// on whichever worker pulled the packet; they must not retain it past
// the call.
type Processor func(*packet.Packet)

// Options tune the worker pool.
type Options struct {
	// Workers is the number of pulling threads. One worker preserves
	// wire order end to end; more trade ordering for throughput.
	Workers int
	// PinThreads pins each worker to one CPU from WorkerAffinity.
	PinThreads     bool
	WorkerAffinity []int
	// BatchSize caps one pull. Zero means the backend's batch size.
	BatchSize int
	// Metrics enables the per-second rate histogram and the Prometheus
	// counters.
	Metrics bool
}

// pullTimeout bounds one GetPackets call so workers observe stop and
// pause promptly.
const pullTimeout = 100 * time.Millisecond

const pausedSleep = 10 * time.Millisecond

// Context binds a backend to its consumers and owns the capture loop.
type Context struct {
	backend capture.Backend
	opts    Options
	logger  log.Logger

	mu         sync.Mutex
	processors []Processor
	filters    *filter.Chain

	running atomic.Bool
	paused  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	processed atomic.Uint64
	filtered  atomic.Uint64
	rates     *rateHistogram
}

// New builds a context around a fresh backend of the requested kind.
func New(kind capture.Kind, opts Options) (*Context, error) {
	b, err := capture.NewBackend(kind)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(b, opts), nil
}

// NewWithBackend wraps an existing backend, typically one the caller
// pre-configured (virtual devices, test fakes).
func NewWithBackend(b capture.Backend, opts Options) *Context {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Context{
		backend: b,
		opts:    opts,
		logger:  log.GetLogger().WithField("component", "engine"),
		rates:   newRateHistogram(60),
	}
}

// Backend exposes the wrapped backend for direct control.
func (c *Context) Backend() capture.Backend { return c.backend }

// AddProcessor appends one processor. Only legal while stopped.
func (c *Context) AddProcessor(p Processor) error {
	if c.running.Load() {
		return core.Errorf(core.CodeBackendError, "processors must be added before start")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = append(c.processors, p)
	return nil
}

// SetFilters installs the filter chain run before the processors.
func (c *Context) SetFilters(chain *filter.Chain) error {
	if c.running.Load() {
		return core.Errorf(core.CodeBackendError, "filters must be set before start")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = chain
	return nil
}

// Initialize brings the backend up with the given config.
func (c *Context) Initialize(cfg capture.Config) error {
	return c.backend.Initialize(cfg)
}

// Start launches the backend and the worker pool.
func (c *Context) Start() error {
	if c.running.Load() {
		return core.ErrAlreadyRunning
	}
	if err := c.backend.Start(); err != nil {
		return err
	}
	c.stopCh = make(chan struct{})
	c.running.Store(true)
	c.paused.Store(false)

	batch := c.opts.BatchSize
	if batch <= 0 {
		batch = 32
		if cb, ok := c.backend.(interface{ Config() capture.Config }); ok && cb.Config().BatchSize > 0 {
			batch = cb.Config().BatchSize
		}
	}
	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i, batch)
	}
	c.logger.WithFields(map[string]interface{}{
		"workers": c.opts.Workers,
		"backend": string(c.backend.Kind()),
	}).Info("capture context running")
	return nil
}

// Stop joins the workers and stops the backend.
func (c *Context) Stop() error {
	if !c.running.Load() {
		return core.ErrNotRunning
	}
	c.running.Store(false)
	close(c.stopCh)
	c.wg.Wait()
	return c.backend.Stop()
}

// Release stops if needed and frees backend resources.
func (c *Context) Release() error {
	if c.running.Load() {
		c.Stop()
	}
	return c.backend.Release()
}

// Pause masks dispatch without draining the backend. Packets keep
// accumulating in the backend queue until it overflows.
func (c *Context) Pause() { c.paused.Store(true) }

// Resume unmasks dispatch.
func (c *Context) Resume() { c.paused.Store(false) }

// Paused reports whether dispatch is masked.
func (c *Context) Paused() bool { return c.paused.Load() }

// Run starts the context and blocks until SIGINT or SIGTERM, then
// stops it.
func (c *Context) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		c.logger.WithField("signal", s.String()).Info("shutting down")
	case <-c.stopCh:
	}
	if c.running.Load() {
		return c.Stop()
	}
	return nil
}

// Processed returns how many packets reached the processors.
func (c *Context) Processed() uint64 { return c.processed.Load() }

// Filtered returns how many packets the chain rejected.
func (c *Context) Filtered() uint64 { return c.filtered.Load() }

// Statistics proxies the backend counters.
func (c *Context) Statistics() capture.Statistics { return c.backend.Statistics() }

// Rates returns per-second processed counts, most recent last. Empty
// when metrics are disabled.
func (c *Context) Rates() []uint64 {
	if !c.opts.Metrics {
		return nil
	}
	return c.rates.snapshot()
}

func (c *Context) worker(id int, batch int) {
	defer c.wg.Done()

	if c.opts.PinThreads {
		if err := pinWorker(id, c.opts.WorkerAffinity); err != nil {
			c.logger.WithError(err).Warnf("worker %d not pinned", id)
		}
	}

	c.mu.Lock()
	procs := c.processors
	chain := c.filters
	c.mu.Unlock()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if c.paused.Load() {
			time.Sleep(pausedSleep)
			continue
		}

		pkts := c.backend.GetPackets(batch, pullTimeout)
		for _, p := range pkts {
			c.dispatch(p, chain, procs)
		}
	}
}

func (c *Context) dispatch(p *packet.Packet, chain *filter.Chain, procs []Processor) {
	defer p.Release()

	if chain != nil {
		if v := chain.Apply(p); !v.Passed {
			c.filtered.Add(1)
			if c.opts.Metrics {
				metrics.FilteredPacketsTotal.
					WithLabelValues(string(c.backend.Kind()), v.Filter).Inc()
			}
			return
		}
	}
	for _, proc := range procs {
		proc(p)
	}
	c.processed.Add(1)
	if c.opts.Metrics {
		c.rates.tick(time.Now())
		metrics.ProcessedPacketsTotal.WithLabelValues(string(c.backend.Kind())).Inc()
	}
}

// rateHistogram counts processed packets per wall-clock second over a
// bounded window.
type rateHistogram struct {
	mu      sync.Mutex
	seconds []uint64
	stamps  []int64
	next    int
	size    int
}

func newRateHistogram(size int) *rateHistogram {
	return &rateHistogram{
		seconds: make([]uint64, size),
		stamps:  make([]int64, size),
		size:    size,
	}
}

func (h *rateHistogram) tick(now time.Time) {
	sec := now.Unix()
	h.mu.Lock()
	defer h.mu.Unlock()
	last := (h.next - 1 + h.size) % h.size
	if h.stamps[last] == sec {
		h.seconds[last]++
		return
	}
	h.stamps[h.next] = sec
	h.seconds[h.next] = 1
	h.next = (h.next + 1) % h.size
}

func (h *rateHistogram) snapshot() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, 0, h.size)
	for i := 0; i < h.size; i++ {
		idx := (h.next + i) % h.size
		if h.stamps[idx] == 0 {
			continue
		}
		out = append(out, h.seconds[idx])
	}
	return out
}
