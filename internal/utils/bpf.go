package utils

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBpf compiles a pcap-syntax filter expression into classic BPF
// raw instructions suitable for SO_ATTACH_FILTER or a userspace VM.
func CompileBpf(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	pcapBpf, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter: %w", err)
	}

	rawBpf := make([]bpf.RawInstruction, len(pcapBpf))
	for i, ins := range pcapBpf {
		rawBpf[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return rawBpf, nil
}

// NewBpfVM assembles compiled raw instructions into a userspace BPF VM.
func NewBpfVM(raw []bpf.RawInstruction) (*bpf.VM, error) {
	prog, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("BPF program contains unrecognised instructions")
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to build BPF VM: %w", err)
	}
	return vm, nil
}
