//go:build linux

package vdev

import (
	"firestige.xyz/harpoon/pkg/capture/pmd"
)

func init() {
	pmd.RegisterDriver(nullDriver{})
}

// nullDriver probes ports that receive nothing and accept everything.
type nullDriver struct{}

func (nullDriver) Name() string { return "net_null" }

func (nullDriver) Probe(device string, params map[string]string) (pmd.Port, error) {
	return &nullPort{name: device}, nil
}

type nullPort struct {
	name    string
	started bool
}

func (p *nullPort) Name() string   { return p.name }
func (p *nullPort) Driver() string { return "net_null" }

func (p *nullPort) Configure(pmd.PortConfig) error { return nil }
func (p *nullPort) Start() error                   { p.started = true; return nil }
func (p *nullPort) Stop() error                    { p.started = false; return nil }
func (p *nullPort) Close() error                   { return nil }
func (p *nullPort) SetPromiscuous(bool) error      { return nil }

func (p *nullPort) RxBurst(bufs []*pmd.Mbuf) (int, error) { return 0, nil }

func (p *nullPort) TxBurst(bufs []*pmd.Mbuf) (int, error) {
	for _, m := range bufs {
		m.Free()
	}
	return len(bufs), nil
}
