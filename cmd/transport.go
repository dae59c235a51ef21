package cmd

import (
	"fmt"

	"firestige.xyz/rlink/internal/config"
	"firestige.xyz/rlink/pkg/transport"
	"firestige.xyz/rlink/pkg/transport/pcap"
	"firestige.xyz/rlink/pkg/transport/pcapfile"
)

// newTransport returns the backend selected by the capture section.
func newTransport(c config.CaptureConfig) (transport.Transport, error) {
	switch c.Transport {
	case pcap.Name:
		return pcap.New(), nil
	case afpacketName:
		return newAFPacket()
	case pcapfile.Name:
		return pcapfile.New(c.ReplayDir), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}
