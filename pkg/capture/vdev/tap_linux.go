//go:build linux

package vdev

import (
	"golang.org/x/sys/unix"

	"firestige.xyz/harpoon/pkg/capture/pmd"
	"firestige.xyz/harpoon/pkg/core"
)

func init() {
	pmd.RegisterDriver(tapDriver{})
}

const tunDevice = "/dev/net/tun"

// tapDriver probes kernel TAP interfaces. Frames written to the tap by
// the host stack show up in RxBurst; TxBurst injects frames back.
type tapDriver struct{}

func (tapDriver) Name() string { return "net_tap" }

type tapParams struct {
	Iface string `mapstructure:"iface"`
}

func (tapDriver) Probe(device string, params map[string]string) (pmd.Port, error) {
	p := tapParams{Iface: device}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return &tapPort{name: device, iface: p.Iface, fd: -1}, nil
}

type tapPort struct {
	name  string
	iface string
	fd    int
}

func (p *tapPort) Name() string   { return p.name }
func (p *tapPort) Driver() string { return "net_tap" }

func (p *tapPort) Configure(pmd.PortConfig) error { return nil }

func (p *tapPort) Start() error {
	if p.fd >= 0 {
		return nil
	}
	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return core.Wrap(core.CodeResourceUnavailable, err, "open "+tunDevice)
	}
	ifr, err := unix.NewIfreq(p.iface)
	if err != nil {
		unix.Close(fd)
		return core.Wrap(core.CodeInvalidArgument, err, "tap interface name "+p.iface)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return core.Wrap(core.CodeInitializationFailed, err, "attach tap "+p.iface)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return core.Wrap(core.CodeInitializationFailed, err, "set tap nonblocking")
	}
	p.fd = fd
	return nil
}

func (p *tapPort) Stop() error { return nil }

func (p *tapPort) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	if err != nil {
		return core.Wrap(core.CodeCleanupFailed, err, "close tap "+p.iface)
	}
	return nil
}

// SetPromiscuous is meaningless for a tap; every frame the host stack
// routes to the interface is already delivered.
func (p *tapPort) SetPromiscuous(bool) error { return nil }

func (p *tapPort) RxBurst(bufs []*pmd.Mbuf) (int, error) {
	if p.fd < 0 {
		return 0, core.Errorf(core.CodeBackendError, "tap port %s not started", p.name)
	}
	n := 0
	for ; n < len(bufs); n++ {
		got, err := unix.Read(p.fd, bufs[n].Capacity())
		if err == unix.EAGAIN {
			return n, nil
		}
		if err != nil {
			return n, core.Wrap(core.CodeNetworkError, err, "read tap "+p.iface)
		}
		bufs[n].SetLength(got)
	}
	return n, nil
}

func (p *tapPort) TxBurst(bufs []*pmd.Mbuf) (int, error) {
	if p.fd < 0 {
		return 0, core.Errorf(core.CodeBackendError, "tap port %s not started", p.name)
	}
	sent := 0
	for _, m := range bufs {
		if _, err := unix.Write(p.fd, m.Bytes()); err != nil {
			if err == unix.EAGAIN {
				return sent, nil
			}
			return sent, core.Wrap(core.CodeNetworkError, err, "write tap "+p.iface)
		}
		m.Free()
		sent++
	}
	return sent, nil
}
