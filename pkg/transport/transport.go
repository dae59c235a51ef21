// Package transport defines the contract between the device layer and the native
// capture/injection backends.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrTimeout is returned by Channel.ReadPacketData when the read timeout expired without data.
	ErrTimeout = errors.New("rlink: read timeout expired")
	// ErrUnsupported is returned for operations a backend cannot perform.
	ErrUnsupported = errors.New("rlink: operation not supported by transport")
)

// Direction selects which traffic a channel captures.
type Direction int

const (
	DirectionInOut Direction = iota
	DirectionIn
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "inout"
	}
}

// ParseDirection accepts in, out, inout or both.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return DirectionIn, nil
	case "out":
		return DirectionOut, nil
	case "inout", "both", "":
		return DirectionInOut, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (must be in/out/inout)", s)
	}
}

// Device describes an interface as enumerated by a transport.
type Device struct {
	Name        string
	Description string
	Addresses   []net.IP
}

// Config carries the parameters used to open a channel.
type Config struct {
	// Timeout bounds each read; zero or negative blocks until a frame arrives.
	Timeout     time.Duration
	SnapLen     int
	Promiscuous bool
}

// Stats are counters reported by the capture backend since the channel was opened.
type Stats struct {
	PacketsReceived  int
	PacketsDropped   int
	PacketsIfDropped int
}

// Channel is one open capture+inject endpoint. Implementations are not safe for
// concurrent use.
type Channel interface {
	// ReadPacketData returns the next frame in a buffer owned by the caller, or ErrTimeout.
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(data []byte) error
	SetDirection(dir Direction) error
	SetBPFFilter(expr string) error
	Stats() (Stats, error)
	LinkType() layers.LinkType
	// DataLinks lists the link types the device can capture with.
	DataLinks() ([]layers.LinkType, error)
	SetLinkType(lt layers.LinkType) error
	Close()
}

// Transport enumerates devices and opens channels on them.
type Transport interface {
	Devices() ([]Device, error)
	Open(dev Device, cfg Config) (Channel, error)
	HardwareAddr(name string) (net.HardwareAddr, error)
}

// InterfaceHardwareAddr resolves the 6-byte hardware address of a named interface.
func InterfaceHardwareAddr(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", name, err)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s has no ethernet hardware address", name)
	}
	return iface.HardwareAddr, nil
}
