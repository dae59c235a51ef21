package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func frameWithType(hi, lo byte) []byte {
	frame := make([]byte, 60)
	frame[12], frame[13] = hi, lo
	return frame
}

func disassemble(t *testing.T, raw []bpf.RawInstruction) *bpf.VM {
	t.Helper()
	insts, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	vm, err := bpf.NewVM(insts)
	require.NoError(t, err)
	return vm
}

func TestEtherProtoFilter(t *testing.T) {
	raw, err := CompileBpf("ether proto 0x0806", 1600)
	require.NoError(t, err)
	vm := disassemble(t, raw)

	n, err := vm.Run(frameWithType(0x08, 0x06))
	require.NoError(t, err)
	assert.Positive(t, n)

	n, err = vm.Run(frameWithType(0x08, 0x00))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEtherProtoFilterDecimal(t *testing.T) {
	raw, err := CompileBpf("ETHER PROTO 2048", 64)
	require.NoError(t, err)
	vm := disassemble(t, raw)

	n, err := vm.Run(frameWithType(0x08, 0x00))
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestEtherProtoFilterInvalidSnapLen(t *testing.T) {
	_, err := EtherProtoFilter(0x0800, 0)
	assert.Error(t, err)
}

func TestParseEtherProto(t *testing.T) {
	tests := []struct {
		filter string
		proto  uint16
		ok     bool
	}{
		{"ether proto 0x86dd", 0x86DD, true},
		{"  ether   proto   34525 ", 0x86DD, true},
		{"ether proto \\arp", 0, false},
		{"ether proto 0x10000", 0, false},
		{"udp port 53", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			proto, ok := parseEtherProto(tt.filter)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.proto, proto)
		})
	}
}
