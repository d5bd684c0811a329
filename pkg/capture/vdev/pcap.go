//go:build linux

package vdev

import (
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/harpoon/pkg/capture/pmd"
	"firestige.xyz/harpoon/pkg/core"
)

func init() {
	pmd.RegisterDriver(pcapDriver{})
}

// pcapDriver probes ports that replay frames from a capture file.
type pcapDriver struct{}

func (pcapDriver) Name() string { return "net_pcap" }

type pcapParams struct {
	File string `mapstructure:"file"`
	Loop bool   `mapstructure:"loop"`
}

func (pcapDriver) Probe(device string, params map[string]string) (pmd.Port, error) {
	var p pcapParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.File == "" {
		return nil, core.Errorf(core.CodeInvalidArgument, "pcap device %s needs a file parameter", device)
	}
	return &pcapPort{name: device, file: p.File, loop: p.Loop}, nil
}

// pcapPort reads frames from a pcap file, one RxBurst slot per record.
// Once the file is drained it returns empty bursts forever, unless the
// loop parameter rewinds it.
type pcapPort struct {
	name string
	file string
	loop bool

	f       *os.File
	r       *pcapgo.Reader
	drained bool
}

func (p *pcapPort) Name() string   { return p.name }
func (p *pcapPort) Driver() string { return "net_pcap" }

func (p *pcapPort) Configure(pmd.PortConfig) error { return nil }

func (p *pcapPort) Start() error {
	if p.f != nil {
		return nil
	}
	return p.open()
}

func (p *pcapPort) open() error {
	f, err := os.Open(p.file)
	if err != nil {
		return core.Wrap(core.CodeResourceUnavailable, err, "open capture file "+p.file)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return core.Wrap(core.CodeInvalidArgument, err, "parse capture file "+p.file)
	}
	p.f = f
	p.r = r
	return nil
}

func (p *pcapPort) Stop() error { return nil }

func (p *pcapPort) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	p.r = nil
	if err != nil {
		return core.Wrap(core.CodeCleanupFailed, err, "close capture file "+p.file)
	}
	return nil
}

func (p *pcapPort) SetPromiscuous(bool) error { return nil }

func (p *pcapPort) RxBurst(bufs []*pmd.Mbuf) (int, error) {
	if p.r == nil || p.drained {
		return 0, nil
	}
	n := 0
	for n < len(bufs) {
		data, _, err := p.r.ReadPacketData()
		if err == io.EOF {
			if !p.loop {
				p.drained = true
				return n, nil
			}
			if err := p.rewind(); err != nil {
				return n, err
			}
			continue
		}
		if err != nil {
			return n, core.Wrap(core.CodeInternalError, err, "read capture file "+p.file)
		}
		c := copy(bufs[n].Capacity(), data)
		bufs[n].SetLength(c)
		n++
	}
	return n, nil
}

func (p *pcapPort) rewind() error {
	p.f.Close()
	p.f = nil
	p.r = nil
	return p.open()
}

// TxBurst discards transmitted frames; a replay port has no wire.
func (p *pcapPort) TxBurst(bufs []*pmd.Mbuf) (int, error) {
	for _, m := range bufs {
		m.Free()
	}
	return len(bufs), nil
}
