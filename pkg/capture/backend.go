// Package capture defines the backend contract shared by every capture
// engine: lifecycle state machine, bounded delivery queue, push
// callbacks, statistics and the DMA buffer set.
package capture

import (
	"time"

	"firestige.xyz/harpoon/pkg/packet"
)

// State is the backend lifecycle position.
type State int32

const (
	StateFresh State = iota
	StateInitialized
	StateRunning
	StateStopped
	StateReleased
)

var stateNames = map[State]string{
	StateFresh:       "fresh",
	StateInitialized: "initialized",
	StateRunning:     "running",
	StateStopped:     "stopped",
	StateReleased:    "released",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Kind names a backend implementation.
type Kind string

const (
	KindRawSocket     Kind = "raw-socket"
	KindMmapRing      Kind = "mmap-ring"
	KindPollMode      Kind = "poll-mode"
	KindVirtualDevice Kind = "virtual-device"
)

// PacketCallback is a push-mode sink. It runs on the capture thread, so
// it must be fast and must not call back into the backend.
type PacketCallback func(*packet.Packet)

// Backend is the lifecycle and delivery contract every capture engine
// implements.
type Backend interface {
	// Initialize validates the config and acquires resources. Only legal
	// from Fresh.
	Initialize(cfg Config) error
	// Start launches the capture thread. Legal from Initialized or
	// Stopped.
	Start() error
	// Stop signals the capture thread and joins it.
	Stop() error
	// Release tears down all resources. Legal from any state.
	Release() error

	// NextPacket blocks up to timeout for one packet. ok=false on
	// expiry or shutdown.
	NextPacket(timeout time.Duration) (p *packet.Packet, ok bool)
	// GetPackets drains up to max packets within timeout.
	GetPackets(max int, timeout time.Duration) []*packet.Packet
	SetPacketCallback(cb PacketCallback)
	RemovePacketCallback()

	Statistics() Statistics
	ResetStatistics()

	// UpdateConfig replaces the config. Refused while Running.
	UpdateConfig(cfg Config) error
	// HealthCheck is nil iff the backend is initialized and its
	// resources are live.
	HealthCheck() error

	// Zero-copy / DMA toggles, all refused while Running.
	EnableZeroCopy(on bool) error
	EnableDMAAccess(on bool, device string) error
	SetDMABufferSize(n int) error
	AllocateDMABuffers(count int) error
	FreeDMABuffers() error

	State() State
	Kind() Kind
}
