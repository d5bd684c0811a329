// Package decoder implements the L2-L4 header decode that capture
// backends run on the RX path to populate packet metadata.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet fills L2 fields and returns the payload offset.
// VLAN tags (including QinQ nesting) are skipped; the outermost VLAN id
// is recorded.
func decodeEthernet(data []byte, md *packet.Metadata) (int, error) {
	if len(data) < ethernetHeaderLen {
		return 0, core.ErrPacketTooShort
	}

	copy(md.DstMAC[:], data[0:6])
	copy(md.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return 0, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		if md.VLANID == 0 {
			md.VLANID = tci & 0x0FFF
		}
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	md.EtherType = etherType
	return offset, nil
}
