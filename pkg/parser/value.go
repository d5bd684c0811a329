// Package parser implements the table-driven protocol parser: typed field
// extraction, a protocol registry with built-in definitions, validation,
// caching and result formatting.
package parser

import (
	"fmt"
	"time"
)

// Kind enumerates the typed value kinds a field definition can produce.
type Kind int

const (
	KindU8 Kind = iota
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindBytes
	KindString
	KindBool
	KindMAC
	KindIPv4
	KindIPv6
	KindTimestamp
	KindCustom
)

var kindNames = map[Kind]string{
	KindU8: "u8", KindU16: "u16", KindU32: "u32", KindU64: "u64",
	KindI8: "i8", KindI16: "i16", KindI32: "i32", KindI64: "i64",
	KindF32: "f32", KindF64: "f64",
	KindBytes: "bytes", KindString: "string", KindBool: "bool",
	KindMAC: "mac", KindIPv4: "ipv4", KindIPv6: "ipv6",
	KindTimestamp: "timestamp", KindCustom: "custom",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "custom"
}

// width returns the required byte length for fixed-width kinds, 0 for
// variable-length kinds.
func (k Kind) width() int {
	switch k {
	case KindU8, KindI8, KindBool:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32, KindIPv4:
		return 4
	case KindU64, KindI64, KindF64, KindTimestamp:
		return 8
	case KindMAC:
		return 6
	case KindIPv6:
		return 16
	default:
		return 0
	}
}

// Endian selects the byte order of a field.
type Endian int

const (
	// EndianNetwork is big-endian, the wire default.
	EndianNetwork Endian = iota
	EndianBig
	EndianLittle
	// EndianHost is the runtime platform order.
	EndianHost
)

// FieldValue is the tagged result of extracting one field.
type FieldValue struct {
	Kind  Kind
	Valid bool

	Uint  uint64
	Int   int64
	Float float64
	Bytes []byte
	Str   string
	Bool  bool
	Time  time.Time

	// RawHex is the hex view of the source bytes.
	RawHex string
	// Display is the formatted string for address kinds or fields with a
	// formatter attached.
	Display string
	// ExtractMicros is the time spent extracting this field.
	ExtractMicros int64
}

// Value returns the dynamically-typed payload matching the kind.
func (v FieldValue) Value() interface{} {
	switch v.Kind {
	case KindU8, KindU16, KindU32, KindU64:
		return v.Uint
	case KindI8, KindI16, KindI32, KindI64:
		return v.Int
	case KindF32, KindF64:
		return v.Float
	case KindBytes, KindCustom:
		return v.Bytes
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindMAC, KindIPv4, KindIPv6:
		return v.Display
	case KindTimestamp:
		return v.Time
	default:
		return nil
	}
}

// String renders the value for human output.
func (v FieldValue) String() string {
	if !v.Valid {
		return "<invalid>"
	}
	if v.Display != "" {
		return v.Display
	}
	switch v.Kind {
	case KindU8, KindU16, KindU32, KindU64:
		return fmt.Sprintf("%d", v.Uint)
	case KindI8, KindI16, KindI32, KindI64:
		return fmt.Sprintf("%d", v.Int)
	case KindF32, KindF64:
		return fmt.Sprintf("%g", v.Float)
	case KindBytes, KindCustom:
		return fmt.Sprintf("0x%x", v.Bytes)
	case KindString:
		return v.Str
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return v.RawHex
	}
}
