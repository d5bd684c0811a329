package decoder

import (
	"encoding/binary"

	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

// decodeTransport fills L4 ports starting at offset and returns the
// payload offset. Protocols without ports (ICMP and friends) leave the
// ports zero and treat the whole rest as payload.
func decodeTransport(data []byte, offset int, md *packet.Metadata) (int, error) {
	switch md.Protocol {
	case packet.ProtoTCP:
		return decodeTCP(data, offset, md)
	case packet.ProtoUDP:
		return decodeUDP(data, offset, md)
	default:
		return offset, nil
	}
}

func decodeUDP(data []byte, offset int, md *packet.Metadata) (int, error) {
	rest := data[offset:]
	if len(rest) < udpHeaderLen {
		return 0, core.ErrPacketTooShort
	}
	md.SrcPort = binary.BigEndian.Uint16(rest[0:2])
	md.DstPort = binary.BigEndian.Uint16(rest[2:4])
	return offset + udpHeaderLen, nil
}

func decodeTCP(data []byte, offset int, md *packet.Metadata) (int, error) {
	rest := data[offset:]
	if len(rest) < tcpHeaderMinLen {
		return 0, core.ErrPacketTooShort
	}
	md.SrcPort = binary.BigEndian.Uint16(rest[0:2])
	md.DstPort = binary.BigEndian.Uint16(rest[2:4])

	// Data Offset is in 32-bit words
	headerLen := int(rest[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(rest) < headerLen {
		return 0, core.ErrPacketTooShort
	}
	return offset + headerLen, nil
}
