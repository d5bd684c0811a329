package filter

import (
	"strings"
	"sync"

	"golang.org/x/net/bpf"

	"firestige.xyz/harpoon/internal/utils"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/packet"
)

const bpfSnapLen = 65535

// compileBPFMatch builds a matcher from a pcap-syntax expression. When
// the pcap compiler is unavailable the expression degrades to the
// keyword subset (tcp/udp/icmp/ip) over decoded metadata.
func compileBPFMatch(expr string) (matchFunc, error) {
	raw, err := utils.CompileBpf(expr, bpfSnapLen)
	if err == nil {
		vm, vmErr := utils.NewBpfVM(raw)
		if vmErr == nil {
			return vmMatch(vm), nil
		}
	}
	return keywordMatch(expr)
}

// vmMatch runs the classic BPF program over raw frame bytes. The VM
// keeps internal scratch state, so runs are serialized.
func vmMatch(vm *bpf.VM) matchFunc {
	var mu sync.Mutex
	return func(p *packet.Packet) bool {
		mu.Lock()
		n, err := vm.Run(p.Data())
		mu.Unlock()
		return err == nil && n > 0
	}
}

// keywordMatch handles the simplified expression subset: whitespace
// separated protocol keywords, any of which may match.
func keywordMatch(expr string) (matchFunc, error) {
	words := strings.Fields(strings.ToLower(expr))
	if len(words) == 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "empty bpf expression")
	}
	preds := make([]matchFunc, 0, len(words))
	for _, w := range words {
		switch w {
		case "tcp":
			preds = append(preds, func(p *packet.Packet) bool { return p.IsTCP() })
		case "udp":
			preds = append(preds, func(p *packet.Packet) bool { return p.IsUDP() })
		case "icmp":
			preds = append(preds, func(p *packet.Packet) bool { return p.IsICMP() })
		case "ip":
			preds = append(preds, func(p *packet.Packet) bool { return p.IsIPv4() })
		case "ip6", "ipv6":
			preds = append(preds, func(p *packet.Packet) bool { return p.IsIPv6() })
		case "or", "and", "not":
			// Connectives beyond the keyword subset are ignored.
		default:
			return nil, core.Errorf(core.CodeInvalidArgument, "unsupported bpf keyword %q", w)
		}
	}
	if len(preds) == 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "bpf expression %q has no protocol keywords", expr)
	}
	return func(p *packet.Packet) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}, nil
}
