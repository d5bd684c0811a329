package parser

import "encoding/binary"

// onesComplementSum folds the 16-bit ones-complement sum of b, continuing
// from an initial partial sum.
func onesComplementSum(sum uint32, b []byte) uint32 {
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// ValidateIPv4Checksum verifies the header checksum of an IPv4 header at
// the start of buf. The IHL field bounds the checksummed region.
func ValidateIPv4Checksum(buf []byte) bool {
	if len(buf) < 20 {
		return false
	}
	ihl := int(buf[0]&0x0f) * 4
	if ihl < 20 || ihl > len(buf) {
		return false
	}
	return foldChecksum(onesComplementSum(0, buf[:ihl])) == 0
}

// IPv4HeaderChecksum computes the checksum for a header whose checksum
// field is zeroed.
func IPv4HeaderChecksum(hdr []byte) uint16 {
	return foldChecksum(onesComplementSum(0, hdr))
}

// pseudoHeaderSum is the partial sum over the IPv4 pseudo-header used by
// TCP and UDP.
func pseudoHeaderSum(src, dst []byte, proto uint8, length int) uint32 {
	var sum uint32
	sum = onesComplementSum(sum, src)
	sum = onesComplementSum(sum, dst)
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}

// ValidateTransportChecksum verifies a TCP or UDP checksum over an IPv4
// pseudo-header. segment covers the transport header plus payload. A UDP
// checksum of zero means unset and passes.
func ValidateTransportChecksum(src, dst []byte, proto uint8, segment []byte) bool {
	if len(src) != 4 || len(dst) != 4 {
		return false
	}
	if proto == 17 && len(segment) >= 8 && binary.BigEndian.Uint16(segment[6:]) == 0 {
		return true
	}
	sum := pseudoHeaderSum(src, dst, proto, len(segment))
	return foldChecksum(onesComplementSum(sum, segment)) == 0
}
