package packet

import "net/netip"

// IP protocol numbers observed in metadata.
const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// Metadata is populated by the backend's RX decode step and frozen before
// the packet is published. Absent fields stay zero.
type Metadata struct {
	Interface string

	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16
	VLANID    uint16

	SrcIP     netip.Addr
	DstIP     netip.Addr
	Protocol  uint8
	TTL       uint8
	TOS       uint8
	FlowLabel uint32 // IPv6 only

	// Fragmentation: MF flag or non-zero offset observed.
	Fragment bool

	SrcPort uint16
	DstPort uint16

	// PayloadOffset is the byte offset of the L4 payload inside the frame,
	// zero when the decode did not reach L4.
	PayloadOffset int
}
