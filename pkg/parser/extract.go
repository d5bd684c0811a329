package parser

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
	"unsafe"
)

// hostLittleEndian is resolved once at startup.
var hostLittleEndian = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// byteOrder resolves an Endian to a binary.ByteOrder.
func byteOrder(e Endian) binary.ByteOrder {
	switch e {
	case EndianLittle:
		return binary.LittleEndian
	case EndianHost:
		if hostLittleEndian {
			return binary.LittleEndian
		}
		return binary.BigEndian
	default:
		// network and big are the same order
		return binary.BigEndian
	}
}

// Extract reads one typed value out of buf. Fixed-width kinds demand the
// exact native width; bytes/string/custom take any length. An out-of-range
// access yields Valid=false, never a read past the buffer.
func Extract(buf []byte, offset, length int, kind Kind, endian Endian) FieldValue {
	v := FieldValue{Kind: kind}

	if offset < 0 || length < 0 || offset+length > len(buf) {
		return v
	}
	if w := kind.width(); w != 0 && length != w {
		return v
	}

	src := buf[offset : offset+length]
	v.RawHex = hex.EncodeToString(src)
	order := byteOrder(endian)

	switch kind {
	case KindU8:
		v.Uint = uint64(src[0])
	case KindU16:
		v.Uint = uint64(order.Uint16(src))
	case KindU32:
		v.Uint = uint64(order.Uint32(src))
	case KindU64:
		v.Uint = order.Uint64(src)
	case KindI8:
		v.Int = int64(int8(src[0]))
	case KindI16:
		v.Int = int64(int16(order.Uint16(src)))
	case KindI32:
		v.Int = int64(int32(order.Uint32(src)))
	case KindI64:
		v.Int = int64(order.Uint64(src))
	case KindF32:
		v.Float = float64(math.Float32frombits(order.Uint32(src)))
	case KindF64:
		v.Float = math.Float64frombits(order.Uint64(src))
	case KindBytes, KindCustom:
		v.Bytes = append([]byte(nil), src...)
	case KindString:
		v.Str = string(src)
	case KindBool:
		v.Bool = src[0] != 0
	case KindMAC:
		v.Display = FormatMAC(src)
	case KindIPv4:
		v.Display = FormatIPv4(src)
	case KindIPv6:
		v.Display = FormatIPv6(src)
	case KindTimestamp:
		// Seconds since epoch in the requested order.
		v.Uint = order.Uint64(src)
		v.Time = time.Unix(int64(v.Uint), 0).UTC()
	default:
		return v
	}

	v.Valid = true
	return v
}

// FormatMAC renders six bytes as colon-separated hex.
func FormatMAC(b []byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// FormatIPv4 renders four bytes as a dotted quad.
func FormatIPv4(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// FormatIPv6 renders sixteen bytes as eight colon-separated 16-bit groups.
// No zero-run collapse.
func FormatIPv6(b []byte) string {
	return fmt.Sprintf("%x:%x:%x:%x:%x:%x:%x:%x",
		uint16(b[0])<<8|uint16(b[1]), uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]), uint16(b[6])<<8|uint16(b[7]),
		uint16(b[8])<<8|uint16(b[9]), uint16(b[10])<<8|uint16(b[11]),
		uint16(b[12])<<8|uint16(b[13]), uint16(b[14])<<8|uint16(b[15]))
}
