// Package packet defines the immutable captured-frame object shared
// between capture backends and consumers.
package packet

import (
	"encoding/hex"
	"time"
)

// Packet is one captured frame plus its decode metadata. It is created
// inside a backend's capture goroutine and is immutable after publication;
// clones are independent observers of the same bytes.
type Packet struct {
	buf    *Buffer
	length int
	ts     time.Time
	meta   Metadata
}

// New wraps a buffer handle. length is the count of valid bytes, ts the
// capture instant from the monotonic clock.
func New(buf *Buffer, length int, ts time.Time) *Packet {
	if length > len(buf.Bytes()) {
		length = len(buf.Bytes())
	}
	return &Packet{buf: buf, length: length, ts: ts}
}

// FromBytes copies data into a fresh heap-owned buffer. Used by
// kernel-copy backends and tests.
func FromBytes(data []byte, ts time.Time) *Packet {
	owned := make([]byte, len(data))
	copy(owned, data)
	return New(NewBuffer(owned, nil), len(owned), ts)
}

// Data returns the valid bytes of the frame. Read-only.
func (p *Packet) Data() []byte { return p.buf.Bytes()[:p.length] }

// Length returns the number of valid bytes.
func (p *Packet) Length() int { return p.length }

// Timestamp returns the capture instant.
func (p *Packet) Timestamp() time.Time { return p.ts }

// Meta returns a copy of the decode metadata.
func (p *Packet) Meta() Metadata { return p.meta }

// SetMetadata installs decode metadata. Backend RX decode only; the
// packet is treated as immutable once delivered.
func (p *Packet) SetMetadata(md Metadata) { p.meta = md }

// Clone adds a shared owner over the same bytes.
func (p *Packet) Clone() *Packet {
	p.buf.retain()
	c := *p
	return &c
}

// Release drops this owner's reference. The last release triggers the
// buffer's reclamation hook (heap free or ring-slot return).
func (p *Packet) Release() { p.buf.drop() }

// ── Protocol predicates ──

func (p *Packet) IsIPv4() bool { return p.meta.EtherType == 0x0800 }
func (p *Packet) IsIPv6() bool { return p.meta.EtherType == 0x86DD }
func (p *Packet) IsTCP() bool  { return p.meta.Protocol == ProtoTCP }
func (p *Packet) IsUDP() bool  { return p.meta.Protocol == ProtoUDP }
func (p *Packet) IsICMP() bool {
	return p.meta.Protocol == ProtoICMP || p.meta.Protocol == ProtoICMPv6
}

// Slice returns frame bytes [offset, offset+n), nil when out of range.
func (p *Packet) Slice(offset, n int) []byte {
	if offset < 0 || n < 0 || offset+n > p.length {
		return nil
	}
	return p.buf.Bytes()[offset : offset+n]
}

// Payload returns the L4 payload, nil when the decode did not reach L4.
func (p *Packet) Payload() []byte {
	off := p.meta.PayloadOffset
	if off <= 0 || off > p.length {
		return nil
	}
	return p.buf.Bytes()[off:p.length]
}

// HexDump renders the frame in the canonical offset/hex/ASCII layout.
func (p *Packet) HexDump() string { return hex.Dump(p.Data()) }
