//go:build linux

package cmd

import (
	"firestige.xyz/rlink/pkg/transport"
	"firestige.xyz/rlink/pkg/transport/afpacket"
)

const afpacketName = afpacket.Name

func newAFPacket() (transport.Transport, error) {
	return afpacket.New(), nil
}
