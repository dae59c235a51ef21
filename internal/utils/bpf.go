package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBpf compiles a tcpdump-style filter for an Ethernet link.
// "ether proto N" is assembled in-process; anything else is compiled by libpcap.
func CompileBpf(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	if proto, ok := parseEtherProto(filter); ok {
		return EtherProtoFilter(proto, snapLen)
	}

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

// EtherProtoFilter accepts frames whose type/length field equals proto, truncated to snapLen.
func EtherProtoFilter(proto uint16, snapLen int) ([]bpf.RawInstruction, error) {
	if snapLen <= 0 {
		return nil, fmt.Errorf("invalid snap length %d", snapLen)
	}
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(proto), SkipFalse: 1},
		bpf.RetConstant{Val: uint32(snapLen)},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble BPF filter: %w", err)
	}
	return raw, nil
}

func parseEtherProto(filter string) (uint16, bool) {
	fields := strings.Fields(strings.ToLower(filter))
	if len(fields) != 3 || fields[0] != "ether" || fields[1] != "proto" {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[2], 0, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
