//go:build linux

package vdev

import (
	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/capture/pmd"
	"firestige.xyz/harpoon/pkg/core"
)

func init() {
	capture.RegisterBackend(capture.KindVirtualDevice, func() capture.Backend {
		return New()
	})
}

// Backend captures from synthetic devices through the poll-mode
// machinery. Devices are declared either with --vdev framework
// arguments or through AddDevice before Initialize.
type Backend struct {
	*pmd.Backend
}

// New returns a fresh virtual-device backend.
func New() *Backend {
	return &Backend{Backend: pmd.NewBackendOfKind(capture.KindVirtualDevice)}
}

// AddDevice registers one device expression, e.g.
// "net_ring0,size=512". Only valid before Initialize.
func (b *Backend) AddDevice(expr string) error {
	if b.State() != capture.StateFresh {
		return core.Errorf(core.CodeBackendError, "devices must be added before initialization")
	}
	return pmd.EAL().AddDevice(expr)
}

// RemoveDevice drops a pending device by instance name.
func (b *Backend) RemoveDevice(name string) error {
	if b.State() != capture.StateFresh {
		return core.Errorf(core.CodeBackendError, "devices must be removed before initialization")
	}
	return pmd.EAL().RemoveDevice(name)
}

// SupportedDevices lists the registered driver names.
func (b *Backend) SupportedDevices() []string {
	return pmd.EAL().Drivers()
}

// Ports lists the probed ports, empty before Initialize.
func (b *Backend) Ports() []pmd.Port {
	return pmd.EAL().Ports()
}
