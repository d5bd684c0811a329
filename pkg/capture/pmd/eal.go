// Package pmd implements poll-mode capture over a userspace driver
// framework. The framework is initialized once per process from an
// EAL-style argument list, probes its virtual-device expressions into
// ports, and serves burst RX against hugepage-backed mbuf pools.
package pmd

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
)

// EALConfig is the parsed form of the framework argument list.
type EALConfig struct {
	Cores          []int
	MemoryChannels int
	FilePrefix     string
	VDevs          []string
	NoHuge         bool
}

// parseEALArgs understands the subset of EAL syntax the backends emit:
// -l <corelist>, -n <channels>, --file-prefix <p>, --vdev <expr>,
// --no-huge. Unknown flags are rejected rather than ignored.
func parseEALArgs(args []string) (EALConfig, error) {
	var cfg EALConfig
	cfg.MemoryChannels = 1

	take := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", core.Errorf(core.CodeInvalidArgument, "eal flag %s needs a value", flag)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-l":
			v, err := take(i, arg)
			if err != nil {
				return cfg, err
			}
			cores, err := parseCoreList(v)
			if err != nil {
				return cfg, err
			}
			cfg.Cores = cores
			i++
		case arg == "-n":
			v, err := take(i, arg)
			if err != nil {
				return cfg, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return cfg, core.Errorf(core.CodeInvalidArgument, "bad memory channel count %q", v)
			}
			cfg.MemoryChannels = n
			i++
		case arg == "--file-prefix":
			v, err := take(i, arg)
			if err != nil {
				return cfg, err
			}
			cfg.FilePrefix = v
			i++
		case strings.HasPrefix(arg, "--file-prefix="):
			cfg.FilePrefix = strings.TrimPrefix(arg, "--file-prefix=")
		case arg == "--vdev":
			v, err := take(i, arg)
			if err != nil {
				return cfg, err
			}
			cfg.VDevs = append(cfg.VDevs, v)
			i++
		case strings.HasPrefix(arg, "--vdev="):
			cfg.VDevs = append(cfg.VDevs, strings.TrimPrefix(arg, "--vdev="))
		case arg == "--no-huge":
			cfg.NoHuge = true
		default:
			return cfg, core.Errorf(core.CodeInvalidArgument, "unknown eal argument %q", arg)
		}
	}
	return cfg, nil
}

// parseCoreList expands "0-2,4" into [0 1 2 4].
func parseCoreList(s string) ([]int, error) {
	var cores []int
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || a > b || a < 0 {
				return nil, core.Errorf(core.CodeInvalidArgument, "bad core range %q", part)
			}
			for c := a; c <= b; c++ {
				cores = append(cores, c)
			}
			continue
		}
		c, err := strconv.Atoi(part)
		if err != nil || c < 0 {
			return nil, core.Errorf(core.CodeInvalidArgument, "bad core id %q", part)
		}
		cores = append(cores, c)
	}
	return cores, nil
}

// Driver probes a virtual-device expression into a Port.
type Driver interface {
	Name() string
	Probe(device string, params map[string]string) (Port, error)
}

// Framework is the process-wide driver runtime. Exactly one instance
// exists; Init runs its probe phase at most once.
type Framework struct {
	mu          sync.Mutex
	initialized bool
	cfg         EALConfig
	drivers     map[string]Driver
	pending     []string
	ports       []Port
	logger      log.Logger
}

var eal = &Framework{drivers: map[string]Driver{}}

// EAL returns the process framework instance.
func EAL() *Framework { return eal }

// RegisterDriver makes a driver available for device probing. Drivers
// register from their package init functions.
func RegisterDriver(d Driver) {
	eal.mu.Lock()
	defer eal.mu.Unlock()
	eal.drivers[d.Name()] = d
}

// Initialized reports whether the probe phase has run.
func (f *Framework) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

// AddDevice queues a virtual-device expression for the probe phase.
// Devices can only be added before Init.
func (f *Framework) AddDevice(expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return core.Errorf(core.CodeBackendError, "device add after framework init")
	}
	name, _, _ := strings.Cut(expr, ",")
	for _, p := range f.pending {
		existing, _, _ := strings.Cut(p, ",")
		if existing == name {
			return core.Errorf(core.CodeInvalidArgument, "device %s already queued", name)
		}
	}
	f.pending = append(f.pending, expr)
	return nil
}

// RemoveDevice drops a queued device expression by instance name.
func (f *Framework) RemoveDevice(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return core.Errorf(core.CodeBackendError, "device remove after framework init")
	}
	for i, p := range f.pending {
		existing, _, _ := strings.Cut(p, ",")
		if existing == name {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return nil
		}
	}
	return core.Errorf(core.CodeInvalidArgument, "device %s is not queued", name)
}

// Init parses the argument list and probes every queued and listed
// device into a port. It runs once per process; later calls with the
// framework already up succeed without re-probing.
func (f *Framework) Init(args []string, logger log.Logger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	f.logger = logger

	cfg, err := parseEALArgs(args)
	if err != nil {
		return err
	}
	cfg.VDevs = append(append([]string{}, f.pending...), cfg.VDevs...)
	f.cfg = cfg

	for _, expr := range cfg.VDevs {
		port, err := f.probeLocked(expr)
		if err != nil {
			f.closePortsLocked()
			return err
		}
		f.ports = append(f.ports, port)
	}

	f.initialized = true
	f.logger.WithFields(map[string]interface{}{
		"ports":   len(f.ports),
		"drivers": len(f.drivers),
	}).Info("poll-mode framework up")
	return nil
}

// probeLocked matches "net_tap0,iface=cap0" to the longest registered
// driver name prefix and hands it the instance name plus parameter map.
func (f *Framework) probeLocked(expr string) (Port, error) {
	device, rest, _ := strings.Cut(expr, ",")

	var driver Driver
	match := ""
	for name, d := range f.drivers {
		if strings.HasPrefix(device, name) && len(name) > len(match) {
			driver, match = d, name
		}
	}
	if driver == nil {
		return nil, core.Errorf(core.CodeInvalidArgument, "no driver for device %q", device)
	}

	params := map[string]string{}
	if rest != "" {
		for _, kv := range strings.Split(rest, ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, core.Errorf(core.CodeInvalidArgument, "bad device parameter %q in %q", kv, expr)
			}
			params[k] = v
		}
	}
	return driver.Probe(device, params)
}

// Drivers lists the registered driver names, sorted.
func (f *Framework) Drivers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.drivers))
	for n := range f.drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ports returns the probed ports in probe order.
func (f *Framework) Ports() []Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Port, len(f.ports))
	copy(out, f.ports)
	return out
}

// NoHuge reports whether hugepage allocation was disabled by args.
func (f *Framework) NoHuge() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.NoHuge
}

func (f *Framework) closePortsLocked() {
	for _, p := range f.ports {
		p.Close()
	}
	f.ports = nil
}

// reset tears the framework back to its pre-init state. Backends never
// call this; the test harness does, between cases.
func (f *Framework) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closePortsLocked()
	f.pending = nil
	f.cfg = EALConfig{}
	f.initialized = false
}
