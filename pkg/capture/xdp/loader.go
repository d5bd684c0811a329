//go:build linux

package xdp

import (
	"path/filepath"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
)

// ProgState tracks the in-kernel redirect program through its lifecycle.
type ProgState int32

const (
	ProgNone ProgState = iota
	ProgLoaded
	ProgAttached
	ProgDetached
	ProgUnloaded
)

var progStateNames = map[ProgState]string{
	ProgNone:     "none",
	ProgLoaded:   "loaded",
	ProgAttached: "attached",
	ProgDetached: "detached",
	ProgUnloaded: "unloaded",
}

func (s ProgState) String() string {
	if n, ok := progStateNames[s]; ok {
		return n
	}
	return "invalid"
}

const bpfFSRoot = "/sys/fs/bpf"

// redirectMapName is the map the redirect program looks sockets up in,
// keyed by RX queue id.
const redirectMapName = "xsks_map"

// ProgramLoader loads, attaches and tears down the redirect program
// that steers frames from the driver into the backend socket.
type ProgramLoader struct {
	mu    sync.Mutex
	state ProgState

	prog *ebpf.Program
	xsks *ebpf.Map
	lnk  link.Link

	progPin string
	mapPin  string

	logger log.Logger
}

// NewProgramLoader returns a loader in the None state.
func NewProgramLoader(logger log.Logger) *ProgramLoader {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &ProgramLoader{logger: logger}
}

// State reports the loader's current lifecycle state.
func (l *ProgramLoader) State() ProgState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// requireBPFFS verifies the BPF filesystem is mounted. The redirect
// machinery cannot operate without it.
func requireBPFFS() error {
	var fs unix.Statfs_t
	if err := unix.Statfs(bpfFSRoot, &fs); err != nil {
		return core.Wrap(core.CodeResourceUnavailable, err, "stat "+bpfFSRoot)
	}
	if fs.Type != unix.BPF_FS_MAGIC {
		return core.Errorf(core.CodeResourceUnavailable, "%s is not a bpf filesystem", bpfFSRoot)
	}
	return nil
}

// Load brings the redirect program into the kernel. With an empty path a
// minimal redirect program is synthesized in place of an object file.
// queues sizes the redirect map. Pinning under the BPF filesystem is
// attempted for both objects; pin failures are logged and ignored since
// the objects stay live through their descriptors.
func (l *ProgramLoader) Load(path, name string, queues uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != ProgNone && l.state != ProgUnloaded {
		return core.Errorf(core.CodeBackendError, "program load in state %s", l.state)
	}
	if err := requireBPFFS(); err != nil {
		return err
	}
	if queues == 0 {
		queues = 1
	}

	xsks, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       redirectMapName,
		Type:       ebpf.XSKMap,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: queues,
	})
	if err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "create redirect map")
	}

	var prog *ebpf.Program
	if path == "" {
		prog, err = synthesizeRedirectProgram(name, xsks)
	} else {
		prog, err = loadProgramObject(path, name, xsks)
	}
	if err != nil {
		xsks.Close()
		return err
	}

	l.prog = prog
	l.xsks = xsks
	l.pin(name)
	l.state = ProgLoaded
	l.logger.WithField("program", name).Info("redirect program loaded")
	return nil
}

// pin best-effort pins program and map under the BPF filesystem.
func (l *ProgramLoader) pin(name string) {
	progPin := filepath.Join(bpfFSRoot, name)
	if err := l.prog.Pin(progPin); err != nil {
		l.logger.WithError(err).Warn("pin redirect program failed, continuing unpinned")
	} else {
		l.progPin = progPin
	}
	mapPin := filepath.Join(bpfFSRoot, name+"_map")
	if err := l.xsks.Pin(mapPin); err != nil {
		l.logger.WithError(err).Warn("pin redirect map failed, continuing unpinned")
	} else {
		l.mapPin = mapPin
	}
}

// synthesizeRedirectProgram emits the canonical xsks redirect: look the
// RX queue index up in the map and pass the frame through on a miss.
func synthesizeRedirectProgram(name string, xsks *ebpf.Map) (*ebpf.Program, error) {
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:    name,
		Type:    ebpf.XDP,
		License: "GPL",
		Instructions: asm.Instructions{
			asm.LoadMem(asm.R2, asm.R1, 4, asm.Word),
			asm.LoadMapPtr(asm.R1, xsks.FD()),
			asm.LoadImm(asm.R3, 2, asm.DWord),
			asm.FnRedirectMap.Call(),
			asm.Return(),
		},
	})
	if err != nil {
		return nil, core.Wrap(core.CodeInitializationFailed, err, "synthesize redirect program")
	}
	return prog, nil
}

// loadProgramObject loads an ELF object and rewrites its redirect map
// to the loader's own, so RegisterSocket updates reach the program.
func loadProgramObject(path, name string, xsks *ebpf.Map) (*ebpf.Program, error) {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, core.Wrap(core.CodeInitializationFailed, err, "open program object "+path)
	}
	_, ok := spec.Programs[name]
	if !ok {
		for n, p := range spec.Programs {
			if p.Type == ebpf.XDP {
				ok = true
				name = n
				break
			}
		}
	}
	if !ok {
		return nil, core.Errorf(core.CodeInvalidArgument, "no xdp program %q in %s", name, path)
	}
	if _, present := spec.Maps[redirectMapName]; present {
		if err := spec.RewriteMaps(map[string]*ebpf.Map{redirectMapName: xsks}); err != nil {
			return nil, core.Wrap(core.CodeInitializationFailed, err, "rewrite redirect map")
		}
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, core.Wrap(core.CodeInitializationFailed, err, "load program object")
	}
	prog := coll.Programs[name]
	delete(coll.Programs, name)
	coll.Close()
	if prog == nil {
		return nil, core.Errorf(core.CodeInitializationFailed, "program %q vanished during load", name)
	}
	return prog, nil
}

// Attach hooks the loaded program onto the interface. mode is one of
// driver, generic, offload; driver and offload need NIC support.
func (l *ProgramLoader) Attach(ifindex int, mode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != ProgLoaded && l.state != ProgDetached {
		return core.Errorf(core.CodeBackendError, "program attach in state %s", l.state)
	}

	var flags link.XDPAttachFlags
	switch mode {
	case "driver":
		flags = link.XDPDriverMode
	case "offload":
		flags = link.XDPOffloadMode
	case "generic", "":
		flags = link.XDPGenericMode
	default:
		return core.Errorf(core.CodeInvalidArgument, "unknown attach mode %q", mode)
	}

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   l.prog,
		Interface: ifindex,
		Flags:     flags,
	})
	if err != nil {
		return core.Wrap(core.CodeInitializationFailed, err, "attach redirect program in "+mode+" mode")
	}
	l.lnk = lnk
	l.state = ProgAttached
	return nil
}

// Detach removes the program from the interface; it stays loaded.
func (l *ProgramLoader) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detachLocked()
}

func (l *ProgramLoader) detachLocked() error {
	if l.state != ProgAttached {
		return core.Errorf(core.CodeBackendError, "program detach in state %s", l.state)
	}
	var failed error
	if l.lnk != nil {
		if err := l.lnk.Close(); err != nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "detach redirect program")
		}
		l.lnk = nil
	}
	l.state = ProgDetached
	return failed
}

// Unload drops the program and map from the kernel.
func (l *ProgramLoader) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloadLocked()
}

func (l *ProgramLoader) unloadLocked() error {
	if l.state != ProgLoaded && l.state != ProgDetached {
		return core.Errorf(core.CodeBackendError, "program unload in state %s", l.state)
	}
	var failed error
	if l.progPin != "" {
		if err := l.prog.Unpin(); err != nil && failed == nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "unpin redirect program")
		}
		l.progPin = ""
	}
	if l.mapPin != "" {
		if err := l.xsks.Unpin(); err != nil && failed == nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "unpin redirect map")
		}
		l.mapPin = ""
	}
	if l.prog != nil {
		if err := l.prog.Close(); err != nil && failed == nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "close redirect program")
		}
		l.prog = nil
	}
	if l.xsks != nil {
		if err := l.xsks.Close(); err != nil && failed == nil {
			failed = core.Wrap(core.CodeCleanupFailed, err, "close redirect map")
		}
		l.xsks = nil
	}
	l.state = ProgUnloaded
	return failed
}

// RegisterSocket binds an AF_XDP socket descriptor into the redirect
// map slot for the given queue.
func (l *ProgramLoader) RegisterSocket(queueID uint32, fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.xsks == nil {
		return core.Errorf(core.CodeBackendError, "socket registration with no loaded map")
	}
	if err := l.xsks.Update(queueID, uint32(fd), ebpf.UpdateAny); err != nil {
		return core.Wrap(core.CodeBackendError, err, "register socket in redirect map")
	}
	return nil
}

// UnregisterSocket clears the redirect map slot for the given queue.
func (l *ProgramLoader) UnregisterSocket(queueID uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.xsks == nil {
		return nil
	}
	if err := l.xsks.Delete(queueID); err != nil {
		return core.Wrap(core.CodeBackendError, err, "clear redirect map slot")
	}
	return nil
}

// Close tears the loader down from any state, always attempting
// detach-then-unload and closing every descriptor it still holds.
func (l *ProgramLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var failed error
	if l.state == ProgAttached {
		if err := l.detachLocked(); err != nil {
			failed = err
		}
	}
	if l.state == ProgLoaded || l.state == ProgDetached {
		if err := l.unloadLocked(); err != nil && failed == nil {
			failed = err
		}
	}
	return failed
}
