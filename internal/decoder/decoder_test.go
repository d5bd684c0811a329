package decoder

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"firestige.xyz/harpoon/pkg/packet"
)

// ---------------------------------------------------------------------------
// frame builders
// ---------------------------------------------------------------------------

var (
	srcMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func ethHeader(etherType uint16) []byte {
	b := make([]byte, 0, 64)
	b = append(b, dstMAC[:]...)
	b = append(b, srcMAC[:]...)
	b = binary.BigEndian.AppendUint16(b, etherType)
	return b
}

func vlanTag(b []byte, vid uint16, inner uint16) []byte {
	b = binary.BigEndian.AppendUint16(b, vid)
	b = binary.BigEndian.AppendUint16(b, inner)
	return b
}

func ipv4Header(proto uint8, flagsFrag uint16) []byte {
	h := make([]byte, 20)
	h[0] = 0x45 // version 4, IHL 5
	h[1] = 0x10 // TOS
	binary.BigEndian.PutUint16(h[2:4], 40)
	binary.BigEndian.PutUint16(h[6:8], flagsFrag)
	h[8] = 64 // TTL
	h[9] = proto
	copy(h[12:16], []byte{192, 168, 1, 10})
	copy(h[16:20], []byte{10, 0, 0, 1})
	return h
}

func ipv6Header(next uint8, flowLabel uint32) []byte {
	h := make([]byte, 40)
	binary.BigEndian.PutUint32(h[0:4], 6<<28|0x20<<20|flowLabel&0xFFFFF)
	h[6] = next
	h[7] = 128 // hop limit
	src := netip.MustParseAddr("2001:db8::1").As16()
	dst := netip.MustParseAddr("2001:db8::2").As16()
	copy(h[8:24], src[:])
	copy(h[24:40], dst[:])
	return h
}

func tcpHeader(src, dst uint16, dataOffWords int) []byte {
	h := make([]byte, dataOffWords*4)
	binary.BigEndian.PutUint16(h[0:2], src)
	binary.BigEndian.PutUint16(h[2:4], dst)
	h[12] = byte(dataOffWords) << 4
	return h
}

func udpHeader(src, dst uint16) []byte {
	h := make([]byte, 8)
	binary.BigEndian.PutUint16(h[0:2], src)
	binary.BigEndian.PutUint16(h[2:4], dst)
	binary.BigEndian.PutUint16(h[4:6], 12)
	return h
}

func tcp4Frame() []byte {
	f := ethHeader(etherTypeIPv4)
	f = append(f, ipv4Header(packet.ProtoTCP, 0x4000)...) // DF
	f = append(f, tcpHeader(443, 51000, 5)...)
	return append(f, []byte("payload")...)
}

// ---------------------------------------------------------------------------
// ethernet
// ---------------------------------------------------------------------------

func TestDecodeEthernet(t *testing.T) {
	md, err := Decode(tcp4Frame(), "eth0")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.Interface != "eth0" {
		t.Errorf("interface = %q, want eth0", md.Interface)
	}
	if md.SrcMAC != srcMAC || md.DstMAC != dstMAC {
		t.Errorf("MACs = %x/%x", md.SrcMAC, md.DstMAC)
	}
	if md.EtherType != etherTypeIPv4 {
		t.Errorf("etherType = %#x, want %#x", md.EtherType, etherTypeIPv4)
	}
}

func TestDecodeVLANTag(t *testing.T) {
	f := ethHeader(etherTypeVLAN)
	f = vlanTag(f, 100, etherTypeIPv4)
	f = append(f, ipv4Header(packet.ProtoUDP, 0)...)
	f = append(f, udpHeader(5060, 5060)...)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.VLANID != 100 {
		t.Errorf("vlan = %d, want 100", md.VLANID)
	}
	if md.EtherType != etherTypeIPv4 {
		t.Errorf("etherType = %#x after tag strip", md.EtherType)
	}
	if md.SrcPort != 5060 {
		t.Errorf("srcPort = %d, layers after the tag did not decode", md.SrcPort)
	}
}

func TestDecodeQinQKeepsOuterVLAN(t *testing.T) {
	f := ethHeader(etherTypeQinQ)
	f = vlanTag(f, 200, etherTypeVLAN)
	f = vlanTag(f, 300, etherTypeIPv4)
	f = append(f, ipv4Header(packet.ProtoTCP, 0)...)
	f = append(f, tcpHeader(80, 40000, 5)...)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.VLANID != 200 {
		t.Errorf("vlan = %d, want outer tag 200", md.VLANID)
	}
	if md.DstPort != 40000 {
		t.Errorf("dstPort = %d, want 40000", md.DstPort)
	}
}

func TestDecodeRuntFrame(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}, ""); err == nil {
		t.Fatal("expected error for a runt frame")
	}
}

func TestDecodeNonIPKeepsL2(t *testing.T) {
	f := ethHeader(0x0806) // ARP
	f = append(f, make([]byte, 28)...)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("non-IP traffic must not error: %v", err)
	}
	if md.EtherType != 0x0806 {
		t.Errorf("etherType = %#x", md.EtherType)
	}
	if md.SrcIP.IsValid() {
		t.Error("ARP frame must not yield an IP")
	}
}

// ---------------------------------------------------------------------------
// ipv4
// ---------------------------------------------------------------------------

func TestDecodeIPv4TCP(t *testing.T) {
	md, err := Decode(tcp4Frame(), "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := md.SrcIP.String(); got != "192.168.1.10" {
		t.Errorf("srcIP = %s", got)
	}
	if got := md.DstIP.String(); got != "10.0.0.1" {
		t.Errorf("dstIP = %s", got)
	}
	if md.Protocol != packet.ProtoTCP {
		t.Errorf("protocol = %d", md.Protocol)
	}
	if md.TTL != 64 || md.TOS != 0x10 {
		t.Errorf("ttl/tos = %d/%#x", md.TTL, md.TOS)
	}
	if md.SrcPort != 443 || md.DstPort != 51000 {
		t.Errorf("ports = %d/%d", md.SrcPort, md.DstPort)
	}
	if md.Fragment {
		t.Error("DF-only frame flagged as fragment")
	}
	want := ethernetHeaderLen + ipv4HeaderMinLen + tcpHeaderMinLen
	if md.PayloadOffset != want {
		t.Errorf("payloadOffset = %d, want %d", md.PayloadOffset, want)
	}
}

func TestDecodeIPv4Options(t *testing.T) {
	ip := ipv4Header(packet.ProtoUDP, 0)
	ip[0] = 0x46 // IHL 6, one option word
	ip = append(ip, make([]byte, 4)...)

	f := ethHeader(etherTypeIPv4)
	f = append(f, ip...)
	f = append(f, udpHeader(53, 33000)...)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.SrcPort != 53 {
		t.Errorf("srcPort = %d, option words not skipped", md.SrcPort)
	}
}

func TestDecodeIPv4Fragment(t *testing.T) {
	// More Fragments set with offset zero (the first fragment) and a
	// non-zero offset (a later fragment) are both flagged; neither one
	// has its ports decoded.
	for _, tc := range []struct {
		name      string
		flagsFrag uint16
	}{
		{"more-fragments", 0x2000},
		{"nonzero-offset", 0x00B9},
	} {
		f := ethHeader(etherTypeIPv4)
		f = append(f, ipv4Header(packet.ProtoUDP, tc.flagsFrag)...)
		f = append(f, udpHeader(4789, 4789)...)

		md, err := Decode(f, "")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !md.Fragment {
			t.Errorf("%s: fragment not flagged", tc.name)
		}
		if md.SrcPort != 0 {
			t.Errorf("%s: ports decoded from fragment body", tc.name)
		}
	}
}

func TestDecodeTruncatedIPv4KeepsL2(t *testing.T) {
	f := ethHeader(etherTypeIPv4)
	f = append(f, 0x45, 0x00) // header cut short

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("truncated L3 must not error: %v", err)
	}
	if md.EtherType != etherTypeIPv4 {
		t.Errorf("etherType = %#x", md.EtherType)
	}
	if md.SrcIP.IsValid() {
		t.Error("truncated header must not yield an IP")
	}
}

// ---------------------------------------------------------------------------
// ipv6
// ---------------------------------------------------------------------------

func TestDecodeIPv6UDP(t *testing.T) {
	f := ethHeader(etherTypeIPv6)
	f = append(f, ipv6Header(packet.ProtoUDP, 0x12345)...)
	f = append(f, udpHeader(546, 547)...)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := md.SrcIP.String(); got != "2001:db8::1" {
		t.Errorf("srcIP = %s", got)
	}
	if md.FlowLabel != 0x12345 {
		t.Errorf("flowLabel = %#x", md.FlowLabel)
	}
	if md.TOS != 0x20 {
		t.Errorf("trafficClass = %#x", md.TOS)
	}
	if md.TTL != 128 {
		t.Errorf("hopLimit = %d", md.TTL)
	}
	if md.SrcPort != 546 || md.DstPort != 547 {
		t.Errorf("ports = %d/%d", md.SrcPort, md.DstPort)
	}
}

func TestDecodeIPv6FragmentHeader(t *testing.T) {
	f := ethHeader(etherTypeIPv6)
	f = append(f, ipv6Header(44, 0)...)
	f = append(f, make([]byte, 16)...)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !md.Fragment {
		t.Error("next header 44 not flagged as fragment")
	}
}

// ---------------------------------------------------------------------------
// transport
// ---------------------------------------------------------------------------

func TestDecodeTCPOptions(t *testing.T) {
	f := ethHeader(etherTypeIPv4)
	f = append(f, ipv4Header(packet.ProtoTCP, 0)...)
	f = append(f, tcpHeader(22, 50022, 8)...) // 12 option bytes
	f = append(f, 0xAA)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := ethernetHeaderLen + ipv4HeaderMinLen + 8*4
	if md.PayloadOffset != want {
		t.Errorf("payloadOffset = %d, want %d", md.PayloadOffset, want)
	}
}

func TestDecodeTruncatedTCPKeepsL3(t *testing.T) {
	f := ethHeader(etherTypeIPv4)
	f = append(f, ipv4Header(packet.ProtoTCP, 0)...)
	f = append(f, 0x01, 0xBB) // two bytes of TCP header

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("truncated L4 must not error: %v", err)
	}
	if !md.SrcIP.IsValid() {
		t.Error("L3 metadata lost")
	}
	if md.SrcPort != 0 {
		t.Errorf("srcPort = %d from a truncated header", md.SrcPort)
	}
}

func TestDecodeICMPHasNoPorts(t *testing.T) {
	f := ethHeader(etherTypeIPv4)
	f = append(f, ipv4Header(1, 0)...) // ICMP
	f = append(f, 8, 0, 0, 0, 0, 0, 0, 0)

	md, err := Decode(f, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.SrcPort != 0 || md.DstPort != 0 {
		t.Errorf("ports = %d/%d for ICMP", md.SrcPort, md.DstPort)
	}
	want := ethernetHeaderLen + ipv4HeaderMinLen
	if md.PayloadOffset != want {
		t.Errorf("payloadOffset = %d, want %d", md.PayloadOffset, want)
	}
}
