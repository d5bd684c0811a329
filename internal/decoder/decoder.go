package decoder

import (
	"errors"

	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

// Decode runs the L2-L4 decode over a raw frame and returns the populated
// metadata. A frame that stops short of L4 (ARP, truncated header,
// fragment) still yields the layers that did decode; only an unreadable
// Ethernet header is an error.
func Decode(data []byte, iface string) (packet.Metadata, error) {
	md := packet.Metadata{Interface: iface}

	l3, err := decodeEthernet(data, &md)
	if err != nil {
		return md, err
	}

	l4, err := decodeIP(data, l3, &md)
	if err != nil {
		// Non-IP traffic is not an error; the caller keeps L2 metadata.
		if errors.Is(err, core.ErrUnsupportedProto) || errors.Is(err, core.ErrPacketTooShort) {
			return md, nil
		}
		return md, err
	}

	// Fragments are not decoded past L3: later fragments carry no L4
	// header, and ports stay zero for the first fragment too.
	if md.Fragment {
		md.PayloadOffset = l4
		return md, nil
	}

	payload, err := decodeTransport(data, l4, &md)
	if err != nil {
		return md, nil
	}
	md.PayloadOffset = payload
	return md, nil
}
