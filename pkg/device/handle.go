// Package device owns a single live capture/inject channel on one named interface.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/rlink/internal/log"
	"firestige.xyz/rlink/internal/metrics"
	"firestige.xyz/rlink/pkg/ethtype"
	"firestige.xyz/rlink/pkg/packet"
	"firestige.xyz/rlink/pkg/transport"
)

// Handle is an open interface. It is not safe for concurrent use.
type Handle struct {
	dev       transport.Device
	hwAddr    net.HardwareAddr
	ch        transport.Channel
	inspector Inspector
	closed    bool
}

// Open finds name among tr's devices and opens a channel on it. nil opts means DefaultOptions.
func Open(tr transport.Transport, name string, opts *Options) (*Handle, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	devs, err := tr.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	var (
		dev   transport.Device
		found bool
	)
	for _, d := range devs {
		if d.Name == name {
			dev, found = d, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	hwAddr, err := tr.HardwareAddr(name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hardware address of %s: %w", name, err)
	}

	ch, err := tr.Open(dev, opts.transportConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	h := &Handle{dev: dev, hwAddr: hwAddr, ch: ch}
	if opts.Direction != transport.DirectionInOut {
		if err := h.SetDirection(opts.Direction); err != nil {
			ch.Close()
			return nil, err
		}
	}
	if opts.Filter != "" {
		if err := h.SetFilter(opts.Filter); err != nil {
			ch.Close()
			return nil, err
		}
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"device":    name,
		"hw_addr":   packet.FormatAddr(hwAddr),
		"timeout":   opts.Timeout,
		"direction": opts.Direction.String(),
	}).Debug("device opened")

	return h, nil
}

// Send frames payload as Ethernet II from this interface to dst and writes it out.
// With checksum set a CRC-32/CKSUM trailer is appended. Length-typed frames are accepted
// but not transmitted.
func (h *Handle) Send(payload []byte, et ethtype.EtherType, dst net.HardwareAddr, checksum bool) error {
	if h.closed {
		return ErrClosed
	}
	if len(dst) != 6 {
		return fmt.Errorf("%w: %v", ErrInvalidHardwareAddr, dst)
	}
	if n, ok := et.Length(); ok && n != len(payload) {
		return fmt.Errorf("%w: field says %d, payload has %d bytes", ErrPayloadLengthMismatch, n, len(payload))
	}
	if len(payload) >= ethtype.MaxLength {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if et.IsLength() {
		log.GetLogger().WithFields(map[string]interface{}{
			"device": h.dev.Name,
			"length": len(payload),
		}).Debug("802.3 framing not supported, frame not sent")
		return nil
	}

	frame, err := buildFrame(h.hwAddr, dst, et, payload, checksum)
	if err != nil {
		return err
	}
	if err := h.ch.WritePacketData(frame); err != nil {
		metrics.SendErrorsTotal.WithLabelValues(h.dev.Name).Inc()
		return fmt.Errorf("failed to send frame on %s: %w", h.dev.Name, err)
	}
	metrics.FramesSentTotal.WithLabelValues(h.dev.Name).Inc()
	return nil
}

// buildFrame serializes dst, src, type and payload, zero-padded to the 60-byte minimum.
func buildFrame(src, dst net.HardwareAddr, et ethtype.EtherType, payload []byte, checksum bool) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: et.LayerType(),
	}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	frame := buf.Bytes()
	if checksum {
		frame = binary.BigEndian.AppendUint32(frame, packet.Checksum(frame))
	}
	return frame, nil
}

// Receive returns the next frame, or (nil, nil) when the read timed out or the inspector
// dropped the frame.
func (h *Handle) Receive() (*packet.RawPacket, error) {
	if h.closed {
		return nil, ErrClosed
	}
	data, ci, err := h.ch.ReadPacketData()
	if errors.Is(err, transport.ErrTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", h.dev.Name, err)
	}
	metrics.FramesReceivedTotal.WithLabelValues(h.dev.Name).Inc()

	p := packet.NewRaw(ci, data, h.hwAddr)
	if h.inspector != nil {
		if p = h.inspector.Inspect(p, h.hwAddr); p == nil {
			metrics.FramesDroppedTotal.WithLabelValues(h.dev.Name, metrics.DropReasonInspector).Inc()
			return nil, nil
		}
	}
	return p, nil
}

// SetInspector replaces the receive hook. nil removes it.
func (h *Handle) SetInspector(i Inspector) {
	h.inspector = i
}

func (h *Handle) SetDirection(dir transport.Direction) error {
	if h.closed {
		return ErrClosed
	}
	if err := h.ch.SetDirection(dir); err != nil {
		return fmt.Errorf("failed to set direction %s on %s: %w", dir, h.dev.Name, err)
	}
	return nil
}

// SetFilter installs a BPF filter expression on the channel.
func (h *Handle) SetFilter(expr string) error {
	if h.closed {
		return ErrClosed
	}
	if err := h.ch.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("failed to set filter %q on %s: %w", expr, h.dev.Name, err)
	}
	return nil
}

func (h *Handle) Stats() (transport.Stats, error) {
	if h.closed {
		return transport.Stats{}, ErrClosed
	}
	return h.ch.Stats()
}

func (h *Handle) LinkType() layers.LinkType {
	if h.closed {
		return layers.LinkTypeNull
	}
	return h.ch.LinkType()
}

// DataLinks lists the link types the channel can capture with. Backends that cannot
// switch link type return transport.ErrUnsupported.
func (h *Handle) DataLinks() ([]layers.LinkType, error) {
	if h.closed {
		return nil, ErrClosed
	}
	lts, err := h.ch.DataLinks()
	if err != nil {
		return nil, fmt.Errorf("failed to list link types on %s: %w", h.dev.Name, err)
	}
	return lts, nil
}

func (h *Handle) SetLinkType(lt layers.LinkType) error {
	if h.closed {
		return ErrClosed
	}
	if err := h.ch.SetLinkType(lt); err != nil {
		return fmt.Errorf("failed to set link type %s on %s: %w", lt, h.dev.Name, err)
	}
	return nil
}

func (h *Handle) Device() transport.Device { return h.dev }

func (h *Handle) HardwareAddr() net.HardwareAddr { return h.hwAddr }

func (h *Handle) Name() string { return h.dev.Name }

func (h *Handle) String() string {
	return fmt.Sprintf("%s (%s)", h.dev.Name, packet.FormatAddr(h.hwAddr))
}

// Close releases the channel. Later calls return ErrClosed.
func (h *Handle) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.ch.Close()
	return nil
}
