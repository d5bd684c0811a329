package parser

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"firestige.xyz/harpoon/pkg/core"
)

// ---------------------------------------------------------------------------
// Frame builders
// ---------------------------------------------------------------------------

func makeIPv4Packet(src, dst [4]byte, proto uint8) []byte {
	h := make([]byte, 20)
	h[0] = 0x45
	binary.BigEndian.PutUint16(h[2:], 20)
	h[8] = 64
	h[9] = proto
	copy(h[12:16], src[:])
	copy(h[16:20], dst[:])
	binary.BigEndian.PutUint16(h[10:], IPv4HeaderChecksum(h))
	return h
}

func makeTCPHeader(srcPort, dstPort uint16, seq uint32) []byte {
	h := make([]byte, 20)
	binary.BigEndian.PutUint16(h[0:], srcPort)
	binary.BigEndian.PutUint16(h[2:], dstPort)
	binary.BigEndian.PutUint32(h[4:], seq)
	h[12] = 0x50 // data offset 5 words
	h[13] = 0x18 // PSH|ACK
	binary.BigEndian.PutUint16(h[14:], 65535)
	return h
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	p := NewProtocol("custom", "1.0", []FieldDef{{Name: "a", Length: 1, Kind: KindU8}})

	if err := r.Register(p); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Register(p); !errors.Is(err, core.ErrProtoExists) {
		t.Errorf("duplicate Register() = %v; want ErrProtoExists", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	p := NewProtocol("custom", "1.0", nil)
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("custom"); err != nil {
		t.Fatalf("Unregister() error: %v", err)
	}
	if err := r.Unregister("custom"); !errors.Is(err, core.ErrProtoNotFound) {
		t.Errorf("second Unregister() = %v; want ErrProtoNotFound", err)
	}
	if _, err := r.Get("custom"); !errors.Is(err, core.ErrProtoNotFound) {
		t.Errorf("Get after Unregister = %v; want ErrProtoNotFound", err)
	}
}

func TestRegistryUsageCount(t *testing.T) {
	r := NewRegistry()
	r.Register(NewProtocol("custom", "1.0", nil))
	for i := 0; i < 3; i++ {
		if _, err := r.Get("custom"); err != nil {
			t.Fatal(err)
		}
	}
	if n := r.UsageCount("custom"); n != 3 {
		t.Errorf("UsageCount = %d; want 3", n)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	r.LoadBuiltins()
	want := []string{"arp", "dns", "ethernet", "http-request", "http-response",
		"icmp", "ipv4", "ipv6", "mpls", "tcp", "udp", "vlan"}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v; want %v", got, want)
	}

	// A second load must not clobber a user override.
	r.Unregister("tcp")
	custom := NewProtocol("tcp", "2.0", nil)
	r.Register(custom)
	r.LoadBuiltins()
	p, _ := r.Get("tcp")
	if p.Version != "2.0" {
		t.Errorf("LoadBuiltins overwrote registered protocol, version = %s", p.Version)
	}
}

// ---------------------------------------------------------------------------
// Parse: success paths
// ---------------------------------------------------------------------------

func TestParseIPv4(t *testing.T) {
	p := New(nil, DefaultOptions())
	buf := makeIPv4Packet([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 6)

	r, err := p.Parse("ipv4", buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if r.Status != StatusSuccess {
		t.Fatalf("status = %v; errors = %v", r.Status, r.Errors)
	}
	if got := r.Field("source_ip").String(); got != "192.168.1.10" {
		t.Errorf("source_ip = %q", got)
	}
	if got := r.Field("destination_ip").String(); got != "10.0.0.1" {
		t.Errorf("destination_ip = %q", got)
	}
	if got := r.Field("protocol").Uint; got != 6 {
		t.Errorf("protocol = %d; want 6", got)
	}
}

func TestParseTCP(t *testing.T) {
	p := New(nil, DefaultOptions())
	r, err := p.Parse("tcp", makeTCPHeader(443, 50123, 1000))
	if err != nil {
		t.Fatal(err)
	}
	if !r.OK() {
		t.Fatalf("status = %v; errors = %v", r.Status, r.Errors)
	}
	if r.Field("source_port").Uint != 443 || r.Field("destination_port").Uint != 50123 {
		t.Errorf("ports = %d > %d", r.Field("source_port").Uint, r.Field("destination_port").Uint)
	}
	if r.Field("sequence").Uint != 1000 {
		t.Errorf("sequence = %d", r.Field("sequence").Uint)
	}
}

func TestParseAll(t *testing.T) {
	p := New(nil, DefaultOptions())
	buf := makeIPv4Packet([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 17)
	out, err := p.ParseAll(buf, []string{"ipv4", "icmp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("ParseAll returned %d results", len(out))
	}
	if !out["ipv4"].OK() {
		t.Errorf("ipv4 status = %v", out["ipv4"].Status)
	}
}

func TestParseUnknownProtocol(t *testing.T) {
	p := New(nil, DefaultOptions())
	if _, err := p.Parse("nonexistent", []byte{1}); !errors.Is(err, core.ErrProtoNotFound) {
		t.Errorf("Parse unknown = %v; want ErrProtoNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Parse: failure classification
// ---------------------------------------------------------------------------

func TestParseTooShort(t *testing.T) {
	p := New(nil, DefaultOptions())
	r, err := p.Parse("ipv4", make([]byte, 10))
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusPacketTooShort {
		t.Errorf("status = %v; want packet_too_short", r.Status)
	}
	// Fields within the 10 bytes still extract.
	if !r.Field("tos").Valid {
		t.Error("in-range field missing from short parse")
	}
	if r.Field("source_ip").Valid {
		t.Error("out-of-range field marked valid")
	}
}

func TestParseChecksumError(t *testing.T) {
	p := New(nil, DefaultOptions())
	buf := makeIPv4Packet([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 6)
	buf[10] ^= 0xff

	r, _ := p.Parse("ipv4", buf)
	if r.Status != StatusChecksumError {
		t.Errorf("status = %v; want checksum_error", r.Status)
	}

	// With checksum validation off the same buffer parses clean.
	lenient := New(nil, Options{EnforceConstraints: true})
	r, _ = lenient.Parse("ipv4", buf)
	if r.Status != StatusSuccess {
		t.Errorf("lenient status = %v; want success", r.Status)
	}
}

func TestParseConstraintViolation(t *testing.T) {
	p := New(nil, DefaultOptions())
	buf := makeIPv4Packet([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 6)
	buf[8] = 0 // TTL below range
	binary.BigEndian.PutUint16(buf[10:], 0)
	binary.BigEndian.PutUint16(buf[10:], IPv4HeaderChecksum(buf))

	r, _ := p.Parse("ipv4", buf)
	if r.Status != StatusConstraintViolation {
		t.Fatalf("status = %v; want constraint_violation", r.Status)
	}
	found := false
	for _, fe := range r.Errors {
		if fe.Field == "ttl" {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v; want ttl entry", r.Errors)
	}
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestParseCacheHit(t *testing.T) {
	p := New(nil, Options{ValidateChecksum: true, EnforceConstraints: true, CacheSize: 16})
	buf := makeIPv4Packet([4]byte{9, 9, 9, 9}, [4]byte{8, 8, 8, 8}, 17)

	first, _ := p.Parse("ipv4", buf)
	if first.FromCache {
		t.Fatal("first parse served from cache")
	}
	second, _ := p.Parse("ipv4", buf)
	if !second.FromCache {
		t.Fatal("second parse not served from cache")
	}
	if _, _, _, hits := p.Stats().Totals(); hits != 1 {
		t.Errorf("cache hits = %d; want 1", hits)
	}
}

func TestCacheEviction(t *testing.T) {
	c := newResultCache(4)
	for i := 0; i < 8; i++ {
		c.put("p", []byte{byte(i)}, &ParseResult{Protocol: "p"})
	}
	if _, _, size := c.counters(); size > 4 {
		t.Errorf("cache size = %d; want <= 4", size)
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStatsCounts(t *testing.T) {
	p := New(nil, DefaultOptions())
	good := makeIPv4Packet([4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 6)
	p.Parse("ipv4", good)
	p.Parse("ipv4", good)
	p.Parse("ipv4", make([]byte, 4))

	total, success, failed, _ := p.Stats().Totals()
	if total != 3 || success != 2 || failed != 1 {
		t.Errorf("totals = %d/%d/%d; want 3/2/1", total, success, failed)
	}
	if rate := p.Stats().SuccessRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("success rate = %g", rate)
	}
	if n := p.Stats().StatusCount("ipv4", StatusPacketTooShort); n != 1 {
		t.Errorf("short count = %d; want 1", n)
	}
}

func TestStatsFieldTiming(t *testing.T) {
	p := New(nil, Options{CollectMetrics: true, EnforceConstraints: true})
	buf := makeTCPHeader(80, 9000, 7)
	for i := 0; i < 5; i++ {
		p.Parse("tcp", buf)
	}
	// Timings are only recorded when the clock advanced during the
	// extraction, so absence is not a failure; presence must be sane.
	if min, max, avg, ok := p.Stats().FieldTiming("tcp", "source_port"); ok {
		if min > max || avg < float64(min) || avg > float64(max) {
			t.Errorf("timing min=%d max=%d avg=%g", min, max, avg)
		}
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func TestFormatJSONRoundTrip(t *testing.T) {
	p := New(nil, DefaultOptions())
	r, _ := p.Parse("ipv4", makeIPv4Packet([4]byte{192, 168, 0, 1}, [4]byte{192, 168, 0, 2}, 6))

	out, err := Format(r, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeJSON([]byte(out))
	if err != nil {
		t.Fatalf("DecodeJSON error: %v", err)
	}
	want := Record(r)
	decoded.XMLName = want.XMLName
	if !reflect.DeepEqual(decoded, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, want)
	}
}

func TestFormatHumanAndCSV(t *testing.T) {
	p := New(nil, DefaultOptions())
	r, _ := p.Parse("udp", func() []byte {
		h := make([]byte, 8)
		binary.BigEndian.PutUint16(h[0:], 53)
		binary.BigEndian.PutUint16(h[2:], 33000)
		binary.BigEndian.PutUint16(h[4:], 8)
		return h
	}())

	human, err := Format(r, FormatHuman)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(human, "source_port") || !strings.Contains(human, "53") {
		t.Errorf("human output missing fields:\n%s", human)
	}

	csvOut, err := Format(r, FormatCSV)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(csvOut), "\n")
	if len(lines) != 5 { // header + 4 fields
		t.Errorf("csv lines = %d; want 5\n%s", len(lines), csvOut)
	}
}

func TestFormatterSummary(t *testing.T) {
	reg := NewRegistry()
	reg.LoadBuiltins()
	def, _ := reg.Get("tcp")
	p := New(reg, DefaultOptions())
	r := p.ParseWith(def, makeTCPHeader(22, 40000, 1))
	s := r.Summary(def)
	if !strings.Contains(s, "22 > 40000") {
		t.Errorf("summary = %q", s)
	}
}

// ---------------------------------------------------------------------------
// Custom definitions
// ---------------------------------------------------------------------------

func TestCustomProtocolWithFormatter(t *testing.T) {
	def := NewProtocol("sensor", "0.1", []FieldDef{
		{Name: "id", Offset: 0, Length: 2, Kind: KindU16, Required: true},
		{Name: "reading", Offset: 2, Length: 4, Kind: KindF32, Required: true,
			Format: func(v FieldValue) string { return v.String() + " C" }},
	})

	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:], 7)
	binary.BigEndian.PutUint32(buf[2:], math.Float32bits(21.5))

	p := New(NewRegistry(), DefaultOptions())
	r := p.ParseWith(def, buf)
	if !r.OK() {
		t.Fatalf("status = %v", r.Status)
	}
	if got := r.Field("reading").String(); got != "21.5 C" {
		t.Errorf("reading = %q", got)
	}
}
