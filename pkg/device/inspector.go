package device

import (
	"bytes"
	"net"

	"firestige.xyz/rlink/pkg/packet"
)

// Inspector examines every received frame before Receive returns it.
// Returning nil drops the frame. Inspect runs on the receiving goroutine and must not block.
type Inspector interface {
	Inspect(p *packet.RawPacket, local net.HardwareAddr) *packet.RawPacket
}

// InspectorFunc adapts an ordinary function to the Inspector interface.
type InspectorFunc func(p *packet.RawPacket, local net.HardwareAddr) *packet.RawPacket

func (f InspectorFunc) Inspect(p *packet.RawPacket, local net.HardwareAddr) *packet.RawPacket {
	return f(p, local)
}

// DropLocal discards frames sourced from the receiving interface itself.
var DropLocal Inspector = InspectorFunc(func(p *packet.RawPacket, local net.HardwareAddr) *packet.RawPacket {
	data := p.Data()
	if len(data) >= 12 && bytes.Equal(data[6:12], local) {
		return nil
	}
	return p
})
