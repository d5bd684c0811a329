package parser

import (
	"fmt"
	"regexp"
)

var (
	httpMethodRe  = regexp.MustCompile(`^(GET |POST|PUT |HEAD|DELE|OPTI|PATC|TRAC|CONN)`)
	httpVersionRe = regexp.MustCompile(`^HTTP/1\.[01]$`)
	httpStatusRe  = regexp.MustCompile(`^[1-5][0-9]{2}$`)
)

// builtinProtocols returns the standard definition set. Field offsets are
// relative to the start of the protocol header, not the frame.
func builtinProtocols() []*ProtocolDef {
	return []*ProtocolDef{
		builtinEthernet(),
		builtinIPv4(),
		builtinIPv6(),
		builtinTCP(),
		builtinUDP(),
		builtinICMP(),
		builtinARP(),
		builtinVLAN(),
		builtinMPLS(),
		builtinDNS(),
		builtinHTTPRequest(),
		builtinHTTPResponse(),
	}
}

func builtinEthernet() *ProtocolDef {
	p := NewProtocol("ethernet", "1.0", []FieldDef{
		{Name: "destination_mac", Offset: 0, Length: 6, Kind: KindMAC, Required: true},
		{Name: "source_mac", Offset: 6, Length: 6, Kind: KindMAC, Required: true},
		{Name: "ether_type", Offset: 12, Length: 2, Kind: KindU16, Required: true},
	})
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("Ethernet %s > %s type=0x%04x",
			r.Field("source_mac").String(), r.Field("destination_mac").String(),
			r.Field("ether_type").Uint)
	}
	return p
}

func builtinIPv4() *ProtocolDef {
	p := NewProtocol("ipv4", "1.0", []FieldDef{
		{Name: "version_ihl", Offset: 0, Length: 1, Kind: KindU8, Required: true,
			Constraint: &Constraint{Predicate: func(v FieldValue) bool { return v.Uint>>4 == 4 }}},
		{Name: "tos", Offset: 1, Length: 1, Kind: KindU8},
		{Name: "total_length", Offset: 2, Length: 2, Kind: KindU16, Required: true,
			Constraint: &Constraint{HasRange: true, Min: 20, Max: 65535}},
		{Name: "identification", Offset: 4, Length: 2, Kind: KindU16},
		{Name: "flags_fragment", Offset: 6, Length: 2, Kind: KindU16},
		{Name: "ttl", Offset: 8, Length: 1, Kind: KindU8, Required: true,
			Constraint: &Constraint{HasRange: true, Min: 1, Max: 255}},
		{Name: "protocol", Offset: 9, Length: 1, Kind: KindU8, Required: true},
		{Name: "header_checksum", Offset: 10, Length: 2, Kind: KindU16, Required: true},
		{Name: "source_ip", Offset: 12, Length: 4, Kind: KindIPv4, Required: true},
		{Name: "destination_ip", Offset: 16, Length: 4, Kind: KindIPv4, Required: true},
	})
	p.Checksum = ValidateIPv4Checksum
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("IPv4 %s > %s proto=%d ttl=%d",
			r.Field("source_ip").String(), r.Field("destination_ip").String(),
			r.Field("protocol").Uint, r.Field("ttl").Uint)
	}
	return p
}

func builtinIPv6() *ProtocolDef {
	p := NewProtocol("ipv6", "1.0", []FieldDef{
		{Name: "version_class_flow", Offset: 0, Length: 4, Kind: KindU32, Required: true,
			Constraint: &Constraint{Predicate: func(v FieldValue) bool { return v.Uint>>28 == 6 }}},
		{Name: "payload_length", Offset: 4, Length: 2, Kind: KindU16, Required: true},
		{Name: "next_header", Offset: 6, Length: 1, Kind: KindU8, Required: true},
		{Name: "hop_limit", Offset: 7, Length: 1, Kind: KindU8, Required: true},
		{Name: "source_ip", Offset: 8, Length: 16, Kind: KindIPv6, Required: true},
		{Name: "destination_ip", Offset: 24, Length: 16, Kind: KindIPv6, Required: true},
	})
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("IPv6 %s > %s next=%d",
			r.Field("source_ip").String(), r.Field("destination_ip").String(),
			r.Field("next_header").Uint)
	}
	return p
}

func builtinTCP() *ProtocolDef {
	p := NewProtocol("tcp", "1.0", []FieldDef{
		{Name: "source_port", Offset: 0, Length: 2, Kind: KindU16, Required: true},
		{Name: "destination_port", Offset: 2, Length: 2, Kind: KindU16, Required: true},
		{Name: "sequence", Offset: 4, Length: 4, Kind: KindU32, Required: true},
		{Name: "acknowledgment", Offset: 8, Length: 4, Kind: KindU32},
		{Name: "offset_flags", Offset: 12, Length: 2, Kind: KindU16, Required: true,
			Constraint: &Constraint{Predicate: func(v FieldValue) bool { return v.Uint>>12 >= 5 }}},
		{Name: "window", Offset: 14, Length: 2, Kind: KindU16},
		{Name: "checksum", Offset: 16, Length: 2, Kind: KindU16},
		{Name: "urgent_pointer", Offset: 18, Length: 2, Kind: KindU16},
	})
	p.Formatter = func(r *ParseResult) string {
		flags := r.Field("offset_flags").Uint & 0x1ff
		return fmt.Sprintf("TCP %d > %d seq=%d flags=0x%03x",
			r.Field("source_port").Uint, r.Field("destination_port").Uint,
			r.Field("sequence").Uint, flags)
	}
	return p
}

func builtinUDP() *ProtocolDef {
	p := NewProtocol("udp", "1.0", []FieldDef{
		{Name: "source_port", Offset: 0, Length: 2, Kind: KindU16, Required: true},
		{Name: "destination_port", Offset: 2, Length: 2, Kind: KindU16, Required: true},
		{Name: "length", Offset: 4, Length: 2, Kind: KindU16, Required: true,
			Constraint: &Constraint{HasRange: true, Min: 8, Max: 65535}},
		{Name: "checksum", Offset: 6, Length: 2, Kind: KindU16},
	})
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("UDP %d > %d len=%d",
			r.Field("source_port").Uint, r.Field("destination_port").Uint,
			r.Field("length").Uint)
	}
	return p
}

func builtinICMP() *ProtocolDef {
	p := NewProtocol("icmp", "1.0", []FieldDef{
		{Name: "type", Offset: 0, Length: 1, Kind: KindU8, Required: true},
		{Name: "code", Offset: 1, Length: 1, Kind: KindU8, Required: true},
		{Name: "checksum", Offset: 2, Length: 2, Kind: KindU16, Required: true},
		{Name: "rest_of_header", Offset: 4, Length: 4, Kind: KindU32},
	})
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("ICMP type=%d code=%d",
			r.Field("type").Uint, r.Field("code").Uint)
	}
	return p
}

func builtinARP() *ProtocolDef {
	p := NewProtocol("arp", "1.0", []FieldDef{
		{Name: "hardware_type", Offset: 0, Length: 2, Kind: KindU16, Required: true},
		{Name: "protocol_type", Offset: 2, Length: 2, Kind: KindU16, Required: true},
		{Name: "hardware_size", Offset: 4, Length: 1, Kind: KindU8, Required: true},
		{Name: "protocol_size", Offset: 5, Length: 1, Kind: KindU8, Required: true},
		{Name: "operation", Offset: 6, Length: 2, Kind: KindU16, Required: true,
			Constraint: &Constraint{Enum: []uint64{1, 2, 3, 4}}},
		{Name: "sender_mac", Offset: 8, Length: 6, Kind: KindMAC, Required: true},
		{Name: "sender_ip", Offset: 14, Length: 4, Kind: KindIPv4, Required: true},
		{Name: "target_mac", Offset: 18, Length: 6, Kind: KindMAC, Required: true},
		{Name: "target_ip", Offset: 24, Length: 4, Kind: KindIPv4, Required: true},
	})
	p.Formatter = func(r *ParseResult) string {
		op := "request"
		if r.Field("operation").Uint == 2 {
			op = "reply"
		}
		return fmt.Sprintf("ARP %s %s > %s", op,
			r.Field("sender_ip").String(), r.Field("target_ip").String())
	}
	return p
}

func builtinVLAN() *ProtocolDef {
	p := NewProtocol("vlan", "1.0", []FieldDef{
		{Name: "tci", Offset: 0, Length: 2, Kind: KindU16, Required: true},
		{Name: "ether_type", Offset: 2, Length: 2, Kind: KindU16, Required: true},
	})
	p.Formatter = func(r *ParseResult) string {
		tci := r.Field("tci").Uint
		return fmt.Sprintf("VLAN id=%d pcp=%d type=0x%04x",
			tci&0x0fff, tci>>13, r.Field("ether_type").Uint)
	}
	return p
}

func builtinMPLS() *ProtocolDef {
	p := NewProtocol("mpls", "1.0", []FieldDef{
		{Name: "label_stack_entry", Offset: 0, Length: 4, Kind: KindU32, Required: true},
	})
	p.Formatter = func(r *ParseResult) string {
		e := r.Field("label_stack_entry").Uint
		return fmt.Sprintf("MPLS label=%d tc=%d s=%d ttl=%d",
			e>>12, (e>>9)&0x7, (e>>8)&0x1, e&0xff)
	}
	return p
}

func builtinDNS() *ProtocolDef {
	p := NewProtocol("dns", "1.0", []FieldDef{
		{Name: "transaction_id", Offset: 0, Length: 2, Kind: KindU16, Required: true},
		{Name: "flags", Offset: 2, Length: 2, Kind: KindU16, Required: true},
		{Name: "questions", Offset: 4, Length: 2, Kind: KindU16, Required: true},
		{Name: "answer_rrs", Offset: 6, Length: 2, Kind: KindU16},
		{Name: "authority_rrs", Offset: 8, Length: 2, Kind: KindU16},
		{Name: "additional_rrs", Offset: 10, Length: 2, Kind: KindU16},
	})
	p.Formatter = func(r *ParseResult) string {
		flags := r.Field("flags").Uint
		qr := "query"
		if flags&0x8000 != 0 {
			qr = "response"
		}
		return fmt.Sprintf("DNS %s id=0x%04x questions=%d",
			qr, r.Field("transaction_id").Uint, r.Field("questions").Uint)
	}
	return p
}

// builtinHTTPRequest reads the first payload bytes as text fields: a
// 4-byte method checked against httpMethodRe and a 16-byte preview.
func builtinHTTPRequest() *ProtocolDef {
	p := NewProtocol("http-request", "1.0", []FieldDef{
		{Name: "method", Offset: 0, Length: 4, Kind: KindString, Required: true,
			Constraint: &Constraint{Regex: httpMethodRe}},
		{Name: "preview", Offset: 0, Length: 16, Kind: KindString},
	})
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("HTTP request %s", r.Field("preview").String())
	}
	return p
}

func builtinHTTPResponse() *ProtocolDef {
	p := NewProtocol("http-response", "1.0", []FieldDef{
		{Name: "version", Offset: 0, Length: 8, Kind: KindString, Required: true,
			Constraint: &Constraint{Regex: httpVersionRe}},
		{Name: "status_code", Offset: 9, Length: 3, Kind: KindString, Required: true,
			Constraint: &Constraint{Regex: httpStatusRe}},
	})
	p.Formatter = func(r *ParseResult) string {
		return fmt.Sprintf("HTTP response %s %s",
			r.Field("version").String(), r.Field("status_code").String())
	}
	return p
}
