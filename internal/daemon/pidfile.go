package daemon

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"firestige.xyz/harpoon/pkg/core"
)

// pidFile is an exclusive claim on a path holding our pid.
type pidFile struct {
	path string
}

// acquirePIDFile writes the current pid to path. An existing file only
// blocks the claim while its pid names a live process; stale files are
// replaced.
func acquirePIDFile(path string) (*pidFile, error) {
	if pid, ok := readPID(path); ok && processAlive(pid) {
		return nil, core.Errorf(core.CodeResourceUnavailable,
			"pid file %s held by running process %d", path, pid)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, core.Wrap(core.CodePermissionDenied, err, "create pid file")
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		os.Remove(path)
		return nil, core.Wrap(core.CodeInternalError, err, "write pid file")
	}
	return &pidFile{path: path}, nil
}

func (p *pidFile) release() {
	os.Remove(p.path)
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes the pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
