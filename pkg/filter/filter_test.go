package filter

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"firestige.xyz/harpoon/pkg/packet"
)

// ---------------------------------------------------------------------------
// Packet builders
// ---------------------------------------------------------------------------

func makeTCPPacket(src, dst string, srcPort, dstPort uint16, payload string) *packet.Packet {
	// 20-byte placeholder header so PayloadOffset points past it.
	data := append(make([]byte, 20), []byte(payload)...)
	p := packet.FromBytes(data, time.Now())
	p.SetMetadata(packet.Metadata{
		EtherType:     0x0800,
		SrcIP:         netip.MustParseAddr(src),
		DstIP:         netip.MustParseAddr(dst),
		Protocol:      packet.ProtoTCP,
		SrcPort:       srcPort,
		DstPort:       dstPort,
		PayloadOffset: 20,
	})
	return p
}

func makeUDPPacket(src, dst string, srcPort, dstPort uint16) *packet.Packet {
	p := packet.FromBytes(make([]byte, 28), time.Now())
	p.SetMetadata(packet.Metadata{
		EtherType:     0x0800,
		SrcIP:         netip.MustParseAddr(src),
		DstIP:         netip.MustParseAddr(dst),
		Protocol:      packet.ProtoUDP,
		SrcPort:       srcPort,
		DstPort:       dstPort,
		PayloadOffset: 28,
	})
	return p
}

// ---------------------------------------------------------------------------
// Entry compilation
// ---------------------------------------------------------------------------

func TestAddRejectsInvalidEntries(t *testing.T) {
	c := NewChain()

	cases := []*Entry{
		{Name: "", Type: TypeProtocol, Expression: "tcp"},
		{Name: "bad-proto", Type: TypeProtocol, Expression: "quic"},
		{Name: "bad-cidr", Type: TypeIPRange, Expression: "10.0.0.0/99"},
		{Name: "bad-port", Type: TypePortRange, Expression: "9000-80"},
		{Name: "bad-regex", Type: TypePayload, Expression: "("},
		{Name: "no-pred", Type: TypeCustom},
	}
	for _, e := range cases {
		if err := c.Add(e); err == nil {
			t.Errorf("Add(%q) succeeded; want error", e.Name)
		}
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "tcp", Type: TypeProtocol, Expression: "tcp", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(&Entry{Name: "tcp", Type: TypeProtocol, Expression: "udp", Enabled: true}); err == nil {
		t.Error("duplicate Add succeeded")
	}
}

// ---------------------------------------------------------------------------
// Matcher semantics
// ---------------------------------------------------------------------------

func TestProtocolFilter(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "only-tcp", Type: TypeProtocol, Expression: "tcp", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	if v := c.Apply(makeTCPPacket("10.0.0.1", "10.0.0.2", 1234, 80, "")); !v.Passed {
		t.Errorf("tcp packet dropped: %+v", v)
	}
	v := c.Apply(makeUDPPacket("10.0.0.1", "10.0.0.2", 1234, 53))
	if v.Passed {
		t.Error("udp packet passed tcp filter")
	}
	if v.Filter != "only-tcp" || v.Reason == "" {
		t.Errorf("verdict = %+v; want filter name and reason", v)
	}
}

func TestIPRangeFilterCIDR(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "lan", Type: TypeIPRange, Expression: "192.168.0.0/16", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	if v := c.Apply(makeTCPPacket("192.168.1.5", "8.8.8.8", 1, 2, "")); !v.Passed {
		t.Error("source inside CIDR dropped")
	}
	if v := c.Apply(makeTCPPacket("8.8.8.8", "192.168.200.1", 1, 2, "")); !v.Passed {
		t.Error("destination inside CIDR dropped")
	}
	if v := c.Apply(makeTCPPacket("8.8.8.8", "1.1.1.1", 1, 2, "")); v.Passed {
		t.Error("packet outside CIDR passed")
	}
}

func TestIPRangeFilterSingleAddress(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "host", Type: TypeIPRange, Expression: "10.1.2.3", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if v := c.Apply(makeTCPPacket("10.1.2.3", "4.4.4.4", 1, 2, "")); !v.Passed {
		t.Error("exact source match dropped")
	}
	if v := c.Apply(makeTCPPacket("10.1.2.4", "4.4.4.4", 1, 2, "")); v.Passed {
		t.Error("non-matching address passed")
	}
}

func TestPortRangeFilter(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "web", Type: TypePortRange, Expression: "80-443", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 50000, 443, "")); !v.Passed {
		t.Error("dst port at range edge dropped")
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 80, 50000, "")); !v.Passed {
		t.Error("src port at range edge dropped")
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 50000, 8080, "")); v.Passed {
		t.Error("out-of-range port passed")
	}
}

func TestPortRangeFilterSinglePort(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "dns", Type: TypePortRange, Expression: "53", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if v := c.Apply(makeUDPPacket("1.1.1.1", "2.2.2.2", 40000, 53)); !v.Passed {
		t.Error("port 53 dropped")
	}
	if v := c.Apply(makeUDPPacket("1.1.1.1", "2.2.2.2", 40000, 54)); v.Passed {
		t.Error("port 54 passed")
	}
}

func TestPayloadFilter(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "http-get", Type: TypePayload, Expression: `^GET /`, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 80, "GET /index.html HTTP/1.1\r\n")); !v.Passed {
		t.Error("matching payload dropped")
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 80, "POST /form HTTP/1.1\r\n")); v.Passed {
		t.Error("non-matching payload passed")
	}
}

func TestPayloadFilterWindow(t *testing.T) {
	c := NewChain()
	if err := c.Add(&Entry{Name: "needle", Type: TypePayload, Expression: "NEEDLE", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	// The needle sits past the 100-byte scan window.
	payload := strings.Repeat("x", 150) + "NEEDLE"
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, payload)); v.Passed {
		t.Error("match beyond scan window passed")
	}
}

func TestCustomFilter(t *testing.T) {
	c := NewChain()
	err := c.Add(&Entry{
		Name: "big", Type: TypeCustom, Enabled: true,
		Predicate: func(p *packet.Packet) bool { return p.Length() > 100 },
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, strings.Repeat("a", 200))); !v.Passed {
		t.Error("large packet dropped")
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, "")); v.Passed {
		t.Error("small packet passed")
	}
}

func TestBPFKeywordFallback(t *testing.T) {
	// Keyword compilation path, independent of libpcap availability.
	m, err := keywordMatch("tcp or udp")
	if err != nil {
		t.Fatalf("keywordMatch error: %v", err)
	}
	if !m(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, "")) {
		t.Error("tcp packet did not match 'tcp or udp'")
	}
	if !m(makeUDPPacket("1.1.1.1", "2.2.2.2", 1, 2)) {
		t.Error("udp packet did not match 'tcp or udp'")
	}

	if _, err := keywordMatch("or and"); err == nil {
		t.Error("connective-only expression accepted")
	}
	if _, err := keywordMatch("frobnicate"); err == nil {
		t.Error("unknown keyword accepted")
	}
}

// ---------------------------------------------------------------------------
// Chain ordering and short-circuit
// ---------------------------------------------------------------------------

func TestChainPriorityOrder(t *testing.T) {
	c := NewChain()
	c.Add(&Entry{Name: "low", Type: TypeProtocol, Expression: "tcp", Enabled: true, Priority: 1})
	c.Add(&Entry{Name: "high", Type: TypeProtocol, Expression: "udp", Enabled: true, Priority: 10})

	// UDP filter has the higher priority, so a TCP packet is rejected by
	// "high" before "low" ever runs.
	v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, ""))
	if v.Passed || v.Filter != "high" {
		t.Errorf("verdict = %+v; want drop by high", v)
	}
	if s, _ := c.Entry("low"); s.Stats().Processed != 0 {
		t.Error("low-priority filter ran after short-circuit")
	}
}

func TestChainDisabledSkipped(t *testing.T) {
	c := NewChain()
	c.Add(&Entry{Name: "udp-only", Type: TypeProtocol, Expression: "udp", Enabled: true})
	if err := c.SetEnabled("udp-only", false); err != nil {
		t.Fatal(err)
	}
	if v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, "")); !v.Passed {
		t.Error("disabled filter still dropped the packet")
	}
}

func TestChainPassCarriesLastFilter(t *testing.T) {
	c := NewChain()
	c.Add(&Entry{Name: "first", Type: TypeProtocol, Expression: "tcp", Enabled: true, Priority: 5})
	c.Add(&Entry{Name: "second", Type: TypePortRange, Expression: "1-65535", Enabled: true, Priority: 1})

	v := c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 10, 20, ""))
	if !v.Passed || v.Filter != "second" {
		t.Errorf("verdict = %+v; want pass via second", v)
	}
}

func TestChainEmptyPasses(t *testing.T) {
	c := NewChain()
	if v := c.Apply(makeUDPPacket("1.1.1.1", "2.2.2.2", 1, 2)); !v.Passed {
		t.Error("empty chain dropped packet")
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestChainStats(t *testing.T) {
	c := NewChain()
	c.Add(&Entry{Name: "only-tcp", Type: TypeProtocol, Expression: "tcp", Enabled: true})

	c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, ""))
	c.Apply(makeTCPPacket("1.1.1.1", "2.2.2.2", 1, 2, ""))
	c.Apply(makeUDPPacket("1.1.1.1", "2.2.2.2", 1, 2))

	agg := c.Stats()
	if agg.Applied != 3 || agg.Passed != 2 || agg.Dropped != 1 {
		t.Errorf("aggregate = %+v; want 3/2/1", agg)
	}
	e, _ := c.Entry("only-tcp")
	es := e.Stats()
	if es.Processed != 3 || es.Passed != 2 || es.Dropped != 1 {
		t.Errorf("entry stats = %+v; want 3/2/1", es)
	}

	c.ResetStats()
	if agg := c.Stats(); agg.Applied != 0 {
		t.Errorf("stats not reset: %+v", agg)
	}
	if es := e.Stats(); es.Processed != 0 {
		t.Errorf("entry stats not reset: %+v", es)
	}
}

func TestRemoveAndSetPriority(t *testing.T) {
	c := NewChain()
	c.Add(&Entry{Name: "a", Type: TypeProtocol, Expression: "tcp", Enabled: true, Priority: 1})
	c.Add(&Entry{Name: "b", Type: TypeProtocol, Expression: "udp", Enabled: true, Priority: 2})

	if err := c.SetPriority("a", 10); err != nil {
		t.Fatal(err)
	}
	if got := c.Entries()[0].Name; got != "a" {
		t.Errorf("head after reprioritize = %q; want a", got)
	}

	if err := c.Remove("b"); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove("b"); err == nil {
		t.Error("second Remove succeeded")
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d; want 1", len(c.Entries()))
	}
}
