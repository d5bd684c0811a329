// Package filter implements the priority-ordered packet classification
// chain: BPF, protocol, address, port, payload and custom predicate
// filters over decoded packets.
package filter

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

// Type enumerates the filter entry kinds.
type Type int

const (
	TypeBPF Type = iota
	TypeProtocol
	TypeIPRange
	TypePortRange
	TypePayload
	TypeCustom
)

var typeNames = map[Type]string{
	TypeBPF:       "bpf",
	TypeProtocol:  "protocol",
	TypeIPRange:   "ip_range",
	TypePortRange: "port_range",
	TypePayload:   "payload",
	TypeCustom:    "custom",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Predicate is a user-supplied match function for custom filters.
type Predicate func(*packet.Packet) bool

// payloadWindow bounds the region a payload regex scans.
const payloadWindow = 100

// Entry is one named filter in a chain.
type Entry struct {
	Name        string
	Type        Type
	Expression  string
	Enabled     bool
	Priority    int
	Description string
	Params      map[string]string
	Predicate   Predicate

	match matchFunc
	stats entryStats
}

type matchFunc func(*packet.Packet) bool

// entryStats are updated atomically on the capture path.
type entryStats struct {
	processed atomic.Uint64
	passed    atomic.Uint64
	dropped   atomic.Uint64
	nanos     atomic.Int64
}

// EntryStats is a point-in-time snapshot of one filter's counters.
type EntryStats struct {
	Processed uint64
	Passed    uint64
	Dropped   uint64
	TotalNanos int64
}

// Stats snapshots the entry's counters.
func (e *Entry) Stats() EntryStats {
	return EntryStats{
		Processed:  e.stats.processed.Load(),
		Passed:     e.stats.passed.Load(),
		Dropped:    e.stats.dropped.Load(),
		TotalNanos: e.stats.nanos.Load(),
	}
}

// compile resolves the entry's matcher from its type and expression.
func (e *Entry) compile() error {
	switch e.Type {
	case TypeBPF:
		m, err := compileBPFMatch(e.Expression)
		if err != nil {
			return err
		}
		e.match = m
	case TypeProtocol:
		m, err := compileProtocolMatch(e.Expression)
		if err != nil {
			return err
		}
		e.match = m
	case TypeIPRange:
		m, err := compileIPRangeMatch(e.Expression)
		if err != nil {
			return err
		}
		e.match = m
	case TypePortRange:
		m, err := compilePortRangeMatch(e.Expression)
		if err != nil {
			return err
		}
		e.match = m
	case TypePayload:
		re, err := regexp.Compile(e.Expression)
		if err != nil {
			return core.Errorf(core.CodeInvalidArgument, "payload filter %q: %v", e.Expression, err)
		}
		e.match = func(p *packet.Packet) bool {
			payload := p.Payload()
			if len(payload) > payloadWindow {
				payload = payload[:payloadWindow]
			}
			return re.Match(payload)
		}
	case TypeCustom:
		if e.Predicate == nil {
			return core.Errorf(core.CodeInvalidArgument, "custom filter %q requires a predicate", e.Name)
		}
		pred := e.Predicate
		e.match = func(p *packet.Packet) bool { return pred(p) }
	default:
		return core.Errorf(core.CodeInvalidArgument, "unknown filter type %d", e.Type)
	}
	return nil
}

// ── Matcher compilers ──────────────────────────────────────────────────────

func compileProtocolMatch(expr string) (matchFunc, error) {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "tcp":
		return func(p *packet.Packet) bool { return p.IsTCP() }, nil
	case "udp":
		return func(p *packet.Packet) bool { return p.IsUDP() }, nil
	case "icmp":
		return func(p *packet.Packet) bool { return p.IsICMP() }, nil
	case "ip":
		return func(p *packet.Packet) bool { return p.IsIPv4() }, nil
	case "ip6", "ipv6":
		return func(p *packet.Packet) bool { return p.IsIPv6() }, nil
	default:
		if n, err := strconv.ParseUint(expr, 10, 8); err == nil {
			proto := uint8(n)
			return func(p *packet.Packet) bool { return p.Meta().Protocol == proto }, nil
		}
		return nil, core.Errorf(core.CodeInvalidArgument, "unknown protocol %q", expr)
	}
}

func compileIPRangeMatch(expr string) (matchFunc, error) {
	expr = strings.TrimSpace(expr)
	if strings.Contains(expr, "/") {
		prefix, err := netip.ParsePrefix(expr)
		if err != nil {
			return nil, core.Errorf(core.CodeInvalidArgument, "ip range %q: %v", expr, err)
		}
		return func(p *packet.Packet) bool {
			md := p.Meta()
			return (md.SrcIP.IsValid() && prefix.Contains(md.SrcIP)) ||
				(md.DstIP.IsValid() && prefix.Contains(md.DstIP))
		}, nil
	}
	addr, err := netip.ParseAddr(expr)
	if err != nil {
		return nil, core.Errorf(core.CodeInvalidArgument, "ip address %q: %v", expr, err)
	}
	return func(p *packet.Packet) bool {
		md := p.Meta()
		return md.SrcIP == addr || md.DstIP == addr
	}, nil
}

func compilePortRangeMatch(expr string) (matchFunc, error) {
	lo, hi, err := parsePortRange(expr)
	if err != nil {
		return nil, err
	}
	return func(p *packet.Packet) bool {
		md := p.Meta()
		return (md.SrcPort >= lo && md.SrcPort <= hi) ||
			(md.DstPort >= lo && md.DstPort <= hi)
	}, nil
}

func parsePortRange(expr string) (lo, hi uint16, err error) {
	expr = strings.TrimSpace(expr)
	if left, right, found := strings.Cut(expr, "-"); found {
		l, err1 := strconv.ParseUint(strings.TrimSpace(left), 10, 16)
		h, err2 := strconv.ParseUint(strings.TrimSpace(right), 10, 16)
		if err1 != nil || err2 != nil || l > h {
			return 0, 0, core.Errorf(core.CodeInvalidArgument, "port range %q", expr)
		}
		return uint16(l), uint16(h), nil
	}
	n, perr := strconv.ParseUint(expr, 10, 16)
	if perr != nil {
		return 0, 0, core.Errorf(core.CodeInvalidArgument, "port %q: %v", expr, perr)
	}
	return uint16(n), uint16(n), nil
}

// String renders the entry for logs.
func (e *Entry) String() string {
	return fmt.Sprintf("%s[%s prio=%d enabled=%t %q]", e.Name, e.Type, e.Priority, e.Enabled, e.Expression)
}
