// Package pcap implements the transport on top of libpcap.
package pcap

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/pkg/transport"
)

const Name = "pcap"

// Transport opens libpcap live handles.
type Transport struct{}

// New returns a libpcap transport.
func New() *Transport {
	return &Transport{}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Devices() ([]transport.Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list pcap devices: %w", err)
	}
	devs := make([]transport.Device, 0, len(ifs))
	for _, i := range ifs {
		d := transport.Device{Name: i.Name, Description: i.Description}
		for _, a := range i.Addresses {
			d.Addresses = append(d.Addresses, a.IP)
		}
		devs = append(devs, d)
	}
	return devs, nil
}

func (t *Transport) Open(dev transport.Device, cfg transport.Config) (transport.Channel, error) {
	inactive, err := pcap.NewInactiveHandle(dev.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap handle on %s: %w", dev.Name, err)
	}
	defer inactive.CleanUp()

	if cfg.SnapLen > 0 {
		if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
			return nil, fmt.Errorf("failed to set snap length: %w", err)
		}
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = pcap.BlockForever
	}
	if err := inactive.SetTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate pcap handle on %s: %w", dev.Name, err)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"interface": dev.Name,
		"snap_len":  cfg.SnapLen,
		"timeout":   timeout,
		"link_type": h.LinkType().String(),
	}).Debug("pcap handle activated")

	return &channel{handle: h}, nil
}

func (t *Transport) HardwareAddr(name string) (net.HardwareAddr, error) {
	return transport.InterfaceHardwareAddr(name)
}

type channel struct {
	handle *pcap.Handle
}

func (c *channel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := c.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, transport.ErrTimeout
	}
	return data, ci, err
}

func (c *channel) WritePacketData(data []byte) error {
	return c.handle.WritePacketData(data)
}

func (c *channel) SetDirection(dir transport.Direction) error {
	var d pcap.Direction
	switch dir {
	case transport.DirectionIn:
		d = pcap.DirectionIn
	case transport.DirectionOut:
		d = pcap.DirectionOut
	default:
		d = pcap.DirectionInOut
	}
	return c.handle.SetDirection(d)
}

func (c *channel) SetBPFFilter(expr string) error {
	return c.handle.SetBPFFilter(expr)
}

func (c *channel) Stats() (transport.Stats, error) {
	s, err := c.handle.Stats()
	if err != nil {
		return transport.Stats{}, err
	}
	return transport.Stats{
		PacketsReceived:  s.PacketsReceived,
		PacketsDropped:   s.PacketsDropped,
		PacketsIfDropped: s.PacketsIfDropped,
	}, nil
}

func (c *channel) LinkType() layers.LinkType {
	return c.handle.LinkType()
}

func (c *channel) DataLinks() ([]layers.LinkType, error) {
	dls, err := c.handle.ListDataLinks()
	if err != nil {
		return nil, err
	}
	lts := make([]layers.LinkType, 0, len(dls))
	for _, dl := range dls {
		if v := pcap.DatalinkNameToVal(dl.Name); v >= 0 {
			lts = append(lts, layers.LinkType(v))
		}
	}
	return lts, nil
}

func (c *channel) SetLinkType(lt layers.LinkType) error {
	return c.handle.SetLinkType(lt)
}

func (c *channel) Close() {
	c.handle.Close()
}
