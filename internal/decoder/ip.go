package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// decodeIP fills L3 fields starting at offset and returns the L4 offset.
func decodeIP(data []byte, offset int, md *packet.Metadata) (int, error) {
	rest := data[offset:]
	if len(rest) < 1 {
		return 0, core.ErrPacketTooShort
	}

	switch rest[0] >> 4 {
	case 4:
		return decodeIPv4(data, offset, md)
	case 6:
		return decodeIPv6(data, offset, md)
	default:
		return 0, core.ErrUnsupportedProto
	}
}

func decodeIPv4(data []byte, offset int, md *packet.Metadata) (int, error) {
	rest := data[offset:]
	if len(rest) < ipv4HeaderMinLen {
		return 0, core.ErrPacketTooShort
	}

	// IHL is in 32-bit words
	headerLen := int(rest[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(rest) < headerLen {
		return 0, core.ErrPacketTooShort
	}

	md.TOS = rest[1]
	md.TTL = rest[8]
	md.Protocol = rest[9]

	// Flags and Fragment Offset (2 bytes at offset 6): MF flag or a
	// non-zero offset marks a fragment.
	flagsOffset := binary.BigEndian.Uint16(rest[6:8])
	md.Fragment = (flagsOffset&0x2000) != 0 || (flagsOffset&0x1FFF) != 0

	if addr, ok := netip.AddrFromSlice(rest[12:16]); ok {
		md.SrcIP = addr
	}
	if addr, ok := netip.AddrFromSlice(rest[16:20]); ok {
		md.DstIP = addr
	}

	return offset + headerLen, nil
}

func decodeIPv6(data []byte, offset int, md *packet.Metadata) (int, error) {
	rest := data[offset:]
	if len(rest) < ipv6HeaderLen {
		return 0, core.ErrPacketTooShort
	}

	// Version (4 bits) | Traffic Class (8 bits) | Flow Label (20 bits)
	vtf := binary.BigEndian.Uint32(rest[0:4])
	md.TOS = uint8((vtf >> 20) & 0xFF)
	md.FlowLabel = vtf & 0xFFFFF

	md.Protocol = rest[6] // Next Header
	md.TTL = rest[7]      // Hop Limit

	if addr, ok := netip.AddrFromSlice(rest[8:24]); ok {
		md.SrcIP = addr
	}
	if addr, ok := netip.AddrFromSlice(rest[24:40]); ok {
		md.DstIP = addr
	}

	// Extension headers are not walked; a fragment header would appear as
	// Next Header 44.
	md.Fragment = md.Protocol == 44

	return offset + ipv6HeaderLen, nil
}
