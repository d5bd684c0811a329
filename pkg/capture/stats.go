package capture

import (
	"sync"
	"time"
)

// Statistics is a point-in-time snapshot of a backend's counters.
type Statistics struct {
	PacketsCaptured uint64
	PacketsDropped  uint64
	BytesCaptured   uint64
	BytesDropped    uint64

	// CaptureRate is packets per second over the sampling window.
	CaptureRate float64
	// DropRate is the drop percentage over all seen packets.
	DropRate float64

	LastUpdate time.Time
}

// rateWindowMin bounds the sampling window so a burst of snapshot calls
// does not produce rates from a near-zero interval.
const rateWindowMin = 100 * time.Millisecond

// statsCollector accumulates counters on the capture thread and serves
// snapshots to consumers.
type statsCollector struct {
	mu sync.Mutex

	packetsCaptured uint64
	packetsDropped  uint64
	bytesCaptured   uint64
	bytesDropped    uint64
	lastUpdate      time.Time

	windowStart   time.Time
	windowPackets uint64
	lastRate      float64
}

func newStatsCollector() *statsCollector {
	now := time.Now()
	return &statsCollector{lastUpdate: now, windowStart: now}
}

func (s *statsCollector) addCaptured(packets, bytes uint64) {
	s.mu.Lock()
	s.packetsCaptured += packets
	s.bytesCaptured += bytes
	s.windowPackets += packets
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

func (s *statsCollector) addDropped(packets, bytes uint64) {
	s.mu.Lock()
	s.packetsDropped += packets
	s.bytesDropped += bytes
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

func (s *statsCollector) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(s.windowStart); elapsed >= rateWindowMin {
		s.lastRate = float64(s.windowPackets) / elapsed.Seconds()
		s.windowStart = now
		s.windowPackets = 0
	}

	st := Statistics{
		PacketsCaptured: s.packetsCaptured,
		PacketsDropped:  s.packetsDropped,
		BytesCaptured:   s.bytesCaptured,
		BytesDropped:    s.bytesDropped,
		CaptureRate:     s.lastRate,
		LastUpdate:      s.lastUpdate,
	}
	if total := s.packetsCaptured + s.packetsDropped; total > 0 {
		st.DropRate = float64(s.packetsDropped) / float64(total) * 100
	}
	return st
}

func (s *statsCollector) reset() {
	s.mu.Lock()
	now := time.Now()
	s.packetsCaptured, s.packetsDropped = 0, 0
	s.bytesCaptured, s.bytesDropped = 0, 0
	s.windowStart, s.windowPackets, s.lastRate = now, 0, 0
	s.lastUpdate = now
	s.mu.Unlock()
}
