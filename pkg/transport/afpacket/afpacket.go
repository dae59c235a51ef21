//go:build linux

// Package afpacket implements the transport on Linux AF_PACKET TPACKET_V3 rings.
package afpacket

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/internal/utils"
	"firestige.xyz/rlink/pkg/transport"
)

const (
	Name = "afpacket"

	defaultSnapLen    = 65535
	defaultRingSizeMB = 8
)

// Transport opens AF_PACKET sockets.
type Transport struct{}

// New returns an AF_PACKET transport.
func New() *Transport {
	return &Transport{}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Devices() ([]transport.Device, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	devs := make([]transport.Device, 0, len(ifs))
	for _, i := range ifs {
		d := transport.Device{Name: i.Name, Description: i.Flags.String()}
		addrs, err := i.Addrs()
		if err == nil {
			for _, a := range addrs {
				if ipNet, ok := a.(*net.IPNet); ok {
					d.Addresses = append(d.Addresses, ipNet.IP)
				}
			}
		}
		devs = append(devs, d)
	}
	return devs, nil
}

func (t *Transport) Open(dev transport.Device, cfg transport.Config) (transport.Channel, error) {
	hwAddr, err := transport.InterfaceHardwareAddr(dev.Name)
	if err != nil {
		return nil, err
	}

	snapLen := cfg.SnapLen
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	frameSize, blockSize, numBlocks, err := ringLayout(defaultRingSizeMB, snapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("failed to compute ring layout: %w", err)
	}

	opts := []interface{}{
		afpacket.OptInterface(dev.Name),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	}
	if cfg.Timeout > 0 {
		opts = append(opts, afpacket.OptPollTimeout(cfg.Timeout))
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket on %s: %w", dev.Name, err)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"interface":  dev.Name,
		"frame_size": frameSize,
		"block_size": blockSize,
		"num_blocks": numBlocks,
		"timeout":    cfg.Timeout,
	}).Debug("tpacket configuration")

	return &channel{tpacket: tp, hwAddr: hwAddr, snapLen: snapLen, dir: transport.DirectionInOut}, nil
}

func (t *Transport) HardwareAddr(name string) (net.HardwareAddr, error) {
	return transport.InterfaceHardwareAddr(name)
}

// channel emulates capture direction by comparing the frame source with the local address,
// since TPACKET sockets see both directions.
type channel struct {
	tpacket *afpacket.TPacket
	hwAddr  net.HardwareAddr
	snapLen int
	dir     transport.Direction
}

func (c *channel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	for {
		data, ci, err := c.tpacket.ReadPacketData()
		if errors.Is(err, afpacket.ErrTimeout) {
			return nil, ci, transport.ErrTimeout
		}
		if err != nil {
			return nil, ci, err
		}
		if c.accept(data) {
			return data, ci, nil
		}
	}
}

func (c *channel) accept(data []byte) bool {
	if c.dir == transport.DirectionInOut || len(data) < 12 {
		return true
	}
	local := bytes.Equal(data[6:12], c.hwAddr)
	if c.dir == transport.DirectionIn {
		return !local
	}
	return local
}

func (c *channel) WritePacketData(data []byte) error {
	return c.tpacket.WritePacketData(data)
}

func (c *channel) SetDirection(dir transport.Direction) error {
	c.dir = dir
	return nil
}

func (c *channel) SetBPFFilter(expr string) error {
	raw, err := utils.CompileBpf(expr, c.snapLen)
	if err != nil {
		return err
	}
	return c.tpacket.SetBPF(raw)
}

func (c *channel) Stats() (transport.Stats, error) {
	_, v3, err := c.tpacket.SocketStats()
	if err != nil {
		return transport.Stats{}, err
	}
	return transport.Stats{
		PacketsReceived: int(v3.Packets()),
		PacketsDropped:  int(v3.Drops()),
	}, nil
}

func (c *channel) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

// DataLinks is unsupported: TPACKET rings always deliver Ethernet frames.
func (c *channel) DataLinks() ([]layers.LinkType, error) {
	return nil, transport.ErrUnsupported
}

func (c *channel) SetLinkType(layers.LinkType) error {
	return transport.ErrUnsupported
}

func (c *channel) Close() {
	c.tpacket.Close()
}
