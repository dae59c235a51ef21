//go:build !linux

package cmd

import (
	"fmt"
	"runtime"

	"firestige.xyz/rlink/pkg/transport"
)

const afpacketName = "afpacket"

func newAFPacket() (transport.Transport, error) {
	return nil, fmt.Errorf("afpacket on %s: %w", runtime.GOOS, transport.ErrUnsupported)
}
